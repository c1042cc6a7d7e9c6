// Package mockserver implements an in-process mock of the X-Plane UDP data
// plane: it accepts RREF subscription requests, pushes values to the
// subscriber, and records CMND and DREF traffic. Used by tests and for local
// development without a simulator.
package mockserver

import (
	"encoding/binary"
	"math"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("logger", "MockServer")

type subscription struct {
	path   string
	freq   int32
	client *net.UDPAddr
}

// Server is a mock simulator endpoint.
type Server struct {
	conn *net.UDPConn
	done chan struct{}

	mu       sync.Mutex
	subs     map[int32]subscription
	values   map[string]float32
	commands []string
	writes   map[string]float32
}

// Start listens on an ephemeral localhost port and serves until Stop.
func Start() (*Server, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return nil, err
	}
	s := &Server{
		conn:   conn,
		done:   make(chan struct{}),
		subs:   make(map[int32]subscription),
		values: make(map[string]float32),
		writes: make(map[string]float32),
	}
	go s.serve()
	log.Debugf("mock simulator listening on %s", conn.LocalAddr())
	return s, nil
}

// Addr returns the mock simulator's data-plane address.
func (s *Server) Addr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Stop closes the socket and waits for the serve loop to exit.
func (s *Server) Stop() {
	s.conn.Close()
	<-s.done
}

func (s *Server) serve() {
	defer close(s.done)
	buf := make([]byte, 2048)
	for {
		n, sender, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		s.handle(buf[:n], sender)
	}
}

func (s *Server) handle(pkt []byte, sender *net.UDPAddr) {
	if len(pkt) < 5 {
		return
	}
	switch string(pkt[0:5]) {
	case "RREF\x00":
		if len(pkt) != 413 {
			return
		}
		freq := int32(binary.LittleEndian.Uint32(pkt[5:9]))
		index := int32(binary.LittleEndian.Uint32(pkt[9:13]))
		path := cstring(pkt[13:])
		s.mu.Lock()
		if freq == 0 {
			delete(s.subs, index)
		} else {
			s.subs[index] = subscription{path: path, freq: freq, client: sender}
		}
		s.mu.Unlock()
		log.Debugf("RREF idx=%d freq=%d path=%s", index, freq, path)
	case "CMND0":
		cmd := string(pkt[5:])
		s.mu.Lock()
		s.commands = append(s.commands, cmd)
		s.mu.Unlock()
		log.Debugf("CMND %s", cmd)
	case "DREF\x00":
		if len(pkt) != 509 {
			return
		}
		value := math.Float32frombits(binary.LittleEndian.Uint32(pkt[5:9]))
		path := cstring(pkt[9:])
		s.mu.Lock()
		s.writes[path] = value
		s.mu.Unlock()
		log.Debugf("DREF %s=%v", path, value)
	default:
		log.Debugf("unknown packet header % x", pkt[0:5])
	}
}

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// SetValue stores a dataref value and immediately pushes it to every
// subscriber of that path, one RREF response per subscription.
func (s *Server) SetValue(path string, value float32) {
	s.mu.Lock()
	s.values[path] = value
	type target struct {
		index  int32
		client *net.UDPAddr
	}
	var targets []target
	for idx, sub := range s.subs {
		if sub.path == path {
			targets = append(targets, target{index: idx, client: sub.client})
		}
	}
	s.mu.Unlock()

	for _, t := range targets {
		pkt := make([]byte, 0, 13)
		pkt = append(pkt, "RREF,"...)
		pkt = binary.LittleEndian.AppendUint32(pkt, uint32(t.index))
		pkt = binary.LittleEndian.AppendUint32(pkt, math.Float32bits(value))
		if _, err := s.conn.WriteToUDP(pkt, t.client); err != nil {
			log.Warnf("push %s to %s: %v", path, t.client, err)
		}
	}
}

// SendRaw pushes an arbitrary datagram to client. Tests use it for unknown
// headers and stale indices.
func (s *Server) SendRaw(pkt []byte, client *net.UDPAddr) error {
	_, err := s.conn.WriteToUDP(pkt, client)
	return err
}

// Subscriptions returns the live path -> frequency table.
func (s *Server) Subscriptions() map[string]int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int32, len(s.subs))
	for _, sub := range s.subs {
		out[sub.path] = sub.freq
	}
	return out
}

// SubscriberOf returns the client address subscribed to path, if any.
func (s *Server) SubscriberOf(path string) (*net.UDPAddr, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.path == path {
			return sub.client, true
		}
	}
	return nil, false
}

// Commands returns the CMND paths received so far.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Writes returns the DREF writes received so far.
func (s *Server) Writes() map[string]float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float32, len(s.writes))
	for k, v := range s.writes {
		out[k] = v
	}
	return out
}
