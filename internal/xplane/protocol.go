package xplane

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"net"
)

// X-Plane UDP wire formats. Everything is little-endian.
const (
	beaconHeader       = "BECN\x00"
	rrefRequestHeader  = "RREF\x00"
	rrefResponseHeader = "RREF,"
	cmndHeader         = "CMND0"
	drefHeader         = "DREF\x00"

	rrefRequestLen = 413
	rrefPathLen    = 400
	drefLen        = 509
	drefPathLen    = 500

	// maximum bytes of an RREF answer X-Plane will send
	// (Ethernet MTU - IP hdr - UDP hdr)
	maxDatagram = 1472
)

// BeaconData describes the simulator instance found on the network.
type BeaconData struct {
	IP            net.IP
	Port          int
	Hostname      string
	XPlaneVersion int
	Role          int
}

func (b BeaconData) String() string {
	return fmt.Sprintf("%s:%d (%s, version %d, role %d)", b.IP, b.Port, b.Hostname, b.XPlaneVersion, b.Role)
}

// beaconPayload is the decoded BECN datagram, before version validation.
type beaconPayload struct {
	Major    uint8
	Minor    uint8
	HostID   int32
	Version  int32
	Role     uint32
	Port     uint16
	Hostname string
}

// decodeBeacon parses a BECN datagram:
// "BECN\0" ‖ u8 major ‖ u8 minor ‖ i32 appHostId ‖ i32 version ‖ u32 role ‖
// u16 port ‖ NUL-terminated hostname.
func decodeBeacon(pkt []byte) (beaconPayload, error) {
	var p beaconPayload
	if len(pkt) < 21 || string(pkt[0:5]) != beaconHeader {
		return p, fmt.Errorf("unknown beacon packet (%d bytes)", len(pkt))
	}
	data := pkt[5:21]
	p.Major = data[0]
	p.Minor = data[1]
	p.HostID = int32(binary.LittleEndian.Uint32(data[2:6]))
	p.Version = int32(binary.LittleEndian.Uint32(data[6:10]))
	p.Role = binary.LittleEndian.Uint32(data[10:14])
	p.Port = binary.LittleEndian.Uint16(data[14:16])
	host := pkt[21:]
	if i := bytes.IndexByte(host, 0); i >= 0 {
		host = host[:i]
	}
	p.Hostname = string(host)
	return p, nil
}

// encodeBeacon builds a BECN datagram. Used by the protocol tests.
func encodeBeacon(p beaconPayload) []byte {
	buf := make([]byte, 0, 21+len(p.Hostname)+1)
	buf = append(buf, beaconHeader...)
	buf = append(buf, p.Major, p.Minor)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(p.HostID))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(p.Version))
	buf = binary.LittleEndian.AppendUint32(buf, p.Role)
	buf = binary.LittleEndian.AppendUint16(buf, p.Port)
	buf = append(buf, p.Hostname...)
	buf = append(buf, 0)
	return buf
}

// encodeRREFRequest builds the fixed 413-byte subscription record:
// "RREF\0" ‖ i32 freq ‖ i32 index ‖ 400B zero-padded path.
// Frequency 0 unsubscribes.
func encodeRREFRequest(freq, index int32, path string) ([]byte, error) {
	if len(path) > rrefPathLen {
		return nil, fmt.Errorf("dataref path too long (%d bytes): %s", len(path), path)
	}
	msg := make([]byte, rrefRequestLen)
	copy(msg, rrefRequestHeader)
	binary.LittleEndian.PutUint32(msg[5:9], uint32(freq))
	binary.LittleEndian.PutUint32(msg[9:13], uint32(index))
	copy(msg[13:], path)
	return msg, nil
}

// decodeRREFRequest is the inverse of encodeRREFRequest. Used by the
// round-trip tests.
func decodeRREFRequest(pkt []byte) (freq, index int32, path string, err error) {
	if len(pkt) != rrefRequestLen || string(pkt[0:5]) != rrefRequestHeader {
		return 0, 0, "", fmt.Errorf("not an RREF request (%d bytes)", len(pkt))
	}
	freq = int32(binary.LittleEndian.Uint32(pkt[5:9]))
	index = int32(binary.LittleEndian.Uint32(pkt[9:13]))
	raw := pkt[13:]
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	return freq, index, string(raw), nil
}

// rrefValue is one (index, value) record of an RREF response.
type rrefValue struct {
	Index int32
	Value float32
}

// decodeRREFResponse parses "RREF," ‖ N×(i32 index ‖ f32 value). A trailing
// partial record is ignored.
func decodeRREFResponse(pkt []byte) ([]rrefValue, error) {
	if len(pkt) < 5 || string(pkt[0:5]) != rrefResponseHeader {
		return nil, fmt.Errorf("unknown packet header % x", pkt[:min(len(pkt), 5)])
	}
	body := pkt[5:]
	n := len(body) / 8
	values := make([]rrefValue, 0, n)
	for i := 0; i < n; i++ {
		rec := body[i*8 : i*8+8]
		values = append(values, rrefValue{
			Index: int32(binary.LittleEndian.Uint32(rec[0:4])),
			Value: math.Float32frombits(binary.LittleEndian.Uint32(rec[4:8])),
		})
	}
	return values, nil
}

// encodeRREFResponse builds a response datagram. Used by the tests.
func encodeRREFResponse(values []rrefValue) []byte {
	buf := make([]byte, 0, 5+8*len(values))
	buf = append(buf, rrefResponseHeader...)
	for _, v := range values {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(v.Index))
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v.Value))
	}
	return buf
}

// encodeCMND builds "CMND0" ‖ raw command path, no padding, no terminator.
func encodeCMND(path string) []byte {
	return []byte(cmndHeader + path)
}

// drefType selects the 4-byte value encoding of a DREF write.
type drefType int

const (
	drefFloat drefType = iota
	drefInt
	drefUint
)

// encodeDREF builds the fixed 509-byte write record:
// "DREF\0" ‖ 4B typed value ‖ path ‖ NUL ‖ spaces to fill 500 bytes.
func encodeDREF(t drefType, value float64, path string) ([]byte, error) {
	if len(path)+1 > drefPathLen {
		return nil, fmt.Errorf("dataref path too long (%d bytes): %s", len(path), path)
	}
	msg := make([]byte, drefLen)
	copy(msg, drefHeader)
	switch t {
	case drefFloat:
		binary.LittleEndian.PutUint32(msg[5:9], math.Float32bits(float32(value)))
	case drefInt:
		binary.LittleEndian.PutUint32(msg[5:9], uint32(int32(value)))
	case drefUint:
		binary.LittleEndian.PutUint32(msg[5:9], uint32(value))
	}
	n := copy(msg[9:], path)
	msg[9+n] = 0
	for i := 9 + n + 1; i < drefLen; i++ {
		msg[i] = ' '
	}
	return msg, nil
}
