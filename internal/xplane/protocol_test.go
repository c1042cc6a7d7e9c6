package xplane

import (
	"bytes"
	"testing"
)

func TestBeaconRoundTrip(t *testing.T) {
	in := beaconPayload{
		Major:    1,
		Minor:    1,
		HostID:   1,
		Version:  120000,
		Role:     1,
		Port:     49000,
		Hostname: "rig",
	}
	out, err := decodeBeacon(encodeBeacon(in))
	if err != nil {
		t.Fatalf("decodeBeacon returned error: %v", err)
	}
	if out != in {
		t.Errorf("round trip mismatch: %+v vs %+v", out, in)
	}
}

func TestDecodeBeaconRejectsGarbage(t *testing.T) {
	if _, err := decodeBeacon([]byte("HELLO, WORLD, THIS IS NOT A BEACON")); err == nil {
		t.Error("expected error for unknown header")
	}
	if _, err := decodeBeacon([]byte("BECN\x00")); err == nil {
		t.Error("expected error for truncated packet")
	}
}

func TestRREFRequestRoundTrip(t *testing.T) {
	msg, err := encodeRREFRequest(4, 27, "sim/cockpit/autopilot/altitude")
	if err != nil {
		t.Fatal(err)
	}
	if len(msg) != 413 {
		t.Fatalf("frame length = %d, expected 413", len(msg))
	}
	freq, idx, path, err := decodeRREFRequest(msg)
	if err != nil {
		t.Fatal(err)
	}
	if freq != 4 || idx != 27 || path != "sim/cockpit/autopilot/altitude" {
		t.Errorf("round trip = (%d, %d, %q)", freq, idx, path)
	}
}

func TestRREFRequestPathTooLong(t *testing.T) {
	if _, err := encodeRREFRequest(1, 0, string(bytes.Repeat([]byte{'a'}, 401))); err == nil {
		t.Error("expected error for oversized path")
	}
}

func TestRREFResponseRoundTrip(t *testing.T) {
	in := []rrefValue{{Index: 0, Value: 12345.0}, {Index: 3, Value: -0.5}}
	out, err := decodeRREFResponse(encodeRREFResponse(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[0] != in[0] || out[1] != in[1] {
		t.Errorf("round trip = %v, expected %v", out, in)
	}
}

func TestRREFResponseUnknownHeader(t *testing.T) {
	if _, err := decodeRREFResponse([]byte("DATA,whatever")); err == nil {
		t.Error("expected error for unknown header")
	}
}

func TestRREFResponseIgnoresPartialRecord(t *testing.T) {
	pkt := append(encodeRREFResponse([]rrefValue{{Index: 1, Value: 2}}), 0xde, 0xad)
	out, err := decodeRREFResponse(pkt)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Errorf("got %d records, expected 1", len(out))
	}
}

func TestEncodeCMND(t *testing.T) {
	msg := encodeCMND("sim/operation/pause_toggle")
	if string(msg) != "CMND0sim/operation/pause_toggle" {
		t.Errorf("frame = %q", msg)
	}
}

func TestEncodeDREF(t *testing.T) {
	msg, err := encodeDREF(drefFloat, 1.0, "sim/cockpit/switches/anti_ice")
	if err != nil {
		t.Fatal(err)
	}
	if len(msg) != 509 {
		t.Fatalf("frame length = %d, expected 509", len(msg))
	}
	if string(msg[0:5]) != "DREF\x00" {
		t.Errorf("header = %q", msg[0:5])
	}
	path := "sim/cockpit/switches/anti_ice"
	if string(msg[9:9+len(path)]) != path {
		t.Errorf("path not at offset 9")
	}
	if msg[9+len(path)] != 0 {
		t.Error("path not NUL-terminated")
	}
	if msg[drefLen-1] != ' ' {
		t.Error("tail not space-padded")
	}
}
