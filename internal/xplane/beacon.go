package xplane

import (
	"errors"
	"fmt"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/curbz/tpxplane/internal/metrics"
	"github.com/curbz/tpxplane/internal/tpsink"
	"github.com/curbz/tpxplane/pkg/util"
)

var logBeacon = logrus.WithField("logger", "Beacon")

// Multicast group the simulator announces itself on.
const (
	DefaultBeaconGroup = "239.255.1.1"
	DefaultBeaconPort  = 49707

	beaconTimeout    = 3 * time.Second
	reconnectTimeout = 10 * time.Second
)

var (
	// ErrXPlaneNotFound means no running simulator instance announced
	// itself within the beacon timeout.
	ErrXPlaneNotFound = errors.New("could not find any running X-Plane instance in network")
	// ErrVersionNotSupported means a beacon was received but its version is
	// not one this client speaks.
	ErrVersionNotSupported = errors.New("X-Plane version not supported")
)

// Transport is the data-plane hook contract the supervisor drives around the
// connection: Start after a beacon is accepted, Cleanup just before
// disconnecting, Stop to shut the data plane down.
type Transport interface {
	Start()
	Stop()
	Cleanup()
}

// Supervisor discovers the simulator on multicast, validates its version,
// and keeps retrying while disconnected. It owns no data-plane state; it
// drives the Transport hooks instead.
type Supervisor struct {
	transport Transport
	sink      tpsink.StateSink
	group     string
	port      int

	mu        sync.Mutex
	beacon    BeaconData
	connected bool
	running   bool
	stop      chan struct{}
	done      chan struct{}
}

func NewSupervisor(transport Transport, sink tpsink.StateSink, group string, port int) *Supervisor {
	if group == "" {
		group = DefaultBeaconGroup
	}
	if port == 0 {
		port = DefaultBeaconPort
	}
	return &Supervisor{transport: transport, sink: sink, group: group, port: port}
}

// Connected reports whether a beacon is currently held.
func (s *Supervisor) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Beacon returns the current beacon data, false when disconnected.
func (s *Supervisor) Beacon() (BeaconData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.beacon, s.connected
}

// Running reports whether the connect loop is active.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Supervisor) setBeacon(b BeaconData) {
	s.mu.Lock()
	s.beacon = b
	s.connected = true
	s.mu.Unlock()
}

// ClearBeacon drops the held beacon without touching the connect loop.
func (s *Supervisor) ClearBeacon() {
	s.mu.Lock()
	s.beacon = BeaconData{}
	s.connected = false
	s.mu.Unlock()
}

// MarkDisconnected is called by the reader when the simulator stopped
// answering: the beacon is dropped and the connection state flips, leaving
// the connect loop to find the simulator again.
func (s *Supervisor) MarkDisconnected() {
	s.ClearBeacon()
	s.updateState(tpsink.StateXPlaneConnected, tpsink.IntFalse)
}

// Connect starts the connect loop.
func (s *Supervisor) Connect() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		logBeacon.Debug("connect loop already running")
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.connectLoop()
	s.updateState(tpsink.StateConnMonitorRunning, tpsink.IntTrue)
	logBeacon.Debug("connect loop started")
}

// Disconnect ends the connect loop and drops the connection.
func (s *Supervisor) Disconnect() {
	logBeacon.Debug("disconnecting..")
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	if !running {
		if s.Connected() {
			s.ClearBeacon()
			s.updateState(tpsink.StateXPlaneConnected, tpsink.IntFalse)
			logBeacon.Debug("..connect loop not running, disconnected")
		} else {
			logBeacon.Debug("..not connected")
		}
		return
	}

	s.transport.Cleanup()
	s.ClearBeacon()
	s.updateState(tpsink.StateXPlaneConnected, tpsink.IntFalse)

	s.mu.Lock()
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
	case <-time.After(reconnectTimeout):
		logBeacon.Warn("..connect loop may hang..")
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.updateState(tpsink.StateConnMonitorRunning, tpsink.IntFalse)
	logBeacon.Debug("..disconnected")
}

// connectLoop tries to connect to X-Plane until stopped. If the connection
// drops, it periodically tries to restore it.
func (s *Supervisor) connectLoop() {
	defer close(s.done)
	logBeacon.Debug("starting..")
	const warnFreq = 10
	cnt := 0
	for {
		select {
		case <-s.stop:
			logBeacon.Debug("..ended")
			return
		default:
		}

		if !s.Connected() {
			data, err := s.findBeacon()
			switch {
			case err == nil:
				s.setBeacon(data)
				s.updateState(tpsink.StateXPlaneConnected, tpsink.IntTrue)
				logBeacon.Infof("X-Plane beacon: %s", data)
				logBeacon.Debug("..connected, starting dataref listener..")
				s.transport.Start()
				logBeacon.Debug("..dataref listener started..")
			case errors.Is(err, ErrVersionNotSupported):
				s.ClearBeacon()
				s.updateState(tpsink.StateXPlaneConnected, tpsink.IntFalse)
				logBeacon.Errorf("..%v..", err)
			case errors.Is(err, ErrXPlaneNotFound):
				s.ClearBeacon()
				metrics.ReconnectAttempts.Inc()
				if cnt%warnFreq == 0 {
					logBeacon.Error("..X-Plane instance not found on local network..")
				}
				cnt++
			default:
				logBeacon.Warnf("beacon receive failed: %v", err)
			}
			if !s.Connected() {
				if !s.wait(reconnectTimeout) {
					logBeacon.Debug("..ended")
					return
				}
			}
		} else {
			if !s.wait(reconnectTimeout) {
				logBeacon.Debug("..ended")
				return
			}
			logBeacon.Debug("..monitoring connection..")
		}
	}
}

// wait sleeps for d or until the loop is cancelled. Returns false on cancel.
func (s *Supervisor) wait(d time.Duration) bool {
	select {
	case <-s.stop:
		return false
	case <-time.After(d):
		return true
	}
}

// findBeacon opens the multicast socket, receives one datagram and decodes
// it. It takes the first simulator it can find.
func (s *Supervisor) findBeacon() (BeaconData, error) {
	// Windows cannot bind the group address directly
	bind := fmt.Sprintf("%s:%d", s.group, s.port)
	if runtime.GOOS == "windows" {
		bind = fmt.Sprintf(":%d", s.port)
	}

	conn, err := util.ListenMulticastUDP(bind, s.group)
	if err != nil {
		return BeaconData{}, err
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(beaconTimeout))
	buf := make([]byte, maxDatagram)
	n, sender, err := conn.ReadFromUDP(buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return BeaconData{}, ErrXPlaneNotFound
		}
		return BeaconData{}, err
	}

	payload, err := decodeBeacon(buf[:n])
	if err != nil {
		logBeacon.Warnf("unknown packet from %s, %d bytes", sender.IP, n)
		return BeaconData{}, err
	}
	if payload.Major != 1 || payload.Minor > 2 || payload.HostID != 1 {
		return BeaconData{}, fmt.Errorf("%w: %d.%d.%d", ErrVersionNotSupported,
			payload.Major, payload.Minor, payload.HostID)
	}
	logBeacon.Infof("X-Plane beacon version: %d.%d.%d", payload.Major, payload.Minor, payload.HostID)
	return BeaconData{
		IP:            sender.IP,
		Port:          int(payload.Port),
		Hostname:      payload.Hostname,
		XPlaneVersion: int(payload.Version),
		Role:          int(payload.Role),
	}, nil
}

func (s *Supervisor) updateState(id, value string) {
	if !s.sink.IsConnected() {
		logBeacon.Warn("state sink not connected")
		return
	}
	logBeacon.Debugf("updating %s to %s", id, value)
	s.sink.StateUpdate(id, value)
}
