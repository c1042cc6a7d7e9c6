// Package tpsink defines the narrow capability the bridge needs from the
// Touch Portal client, plus the plugin identity used to derive state ids.
// The actual Touch Portal transport lives outside this module; anything
// implementing StateSink can receive state traffic.
package tpsink

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// PluginID is the unique plugin identifier. It forms the base of every
// state id this plugin creates.
const PluginID = "tp.plugin.xplaneudp"

// ReloadStatesFileCommand is a pseudo-command: when it arrives as an
// "execute command" action, the dynamic states file is reloaded instead of
// sending anything to the simulator.
const ReloadStatesFileCommand = "RELOAD_STATES_FILE"

// State values are always strings in Touch Portal. "1" is quite different
// from "1.0" there, so the canonical values live here.
const (
	IntTrue   = "1"
	IntFalse  = "0"
	BoolTrue  = "TRUE"
	BoolFalse = "FALSE"
)

// Key joins parts onto the plugin id with dots.
func Key(parts ...string) string {
	return strings.Join(append([]string{PluginID}, parts...), ".")
}

// Static states, declared in the plugin manifest. Dynamic states are created
// at runtime per configured TP state.
var (
	StateXPlaneConnected    = Key("state", "XPlaneConnected")
	StateConnMonitorRunning = Key("state", "ConnectionMonitoringRunning")
	StateDrefMonitorRunning = Key("state", "MonitoringRunning")
)

// StateSink is the capability interface injected into the state engine and
// the connection supervisor.
type StateSink interface {
	CreateState(id string, description string, value string)
	StateUpdate(id string, value string)
	RemoveState(id string)
	IsConnected() bool
}

// LogSink logs all state traffic. Used when no Touch Portal client is
// attached (standalone runs, development).
type LogSink struct {
	log *logrus.Entry
}

func NewLogSink() *LogSink {
	return &LogSink{log: logrus.WithField("logger", "Sink")}
}

func (s *LogSink) CreateState(id, description, value string) {
	s.log.Debugf("createState %s (%s) = %s", id, description, value)
}

func (s *LogSink) StateUpdate(id, value string) {
	s.log.Debugf("stateUpdate %s = %s", id, value)
}

func (s *LogSink) RemoveState(id string) {
	s.log.Debugf("removeState %s", id)
}

func (s *LogSink) IsConnected() bool { return true }

// Fanout replicates state traffic to several sinks. IsConnected reports true
// if any underlying sink is connected.
type Fanout []StateSink

func (f Fanout) CreateState(id, description, value string) {
	for _, s := range f {
		s.CreateState(id, description, value)
	}
}

func (f Fanout) StateUpdate(id, value string) {
	for _, s := range f {
		s.StateUpdate(id, value)
	}
}

func (f Fanout) RemoveState(id string) {
	for _, s := range f {
		s.RemoveState(id)
	}
}

func (f Fanout) IsConnected() bool {
	for _, s := range f {
		if s.IsConnected() {
			return true
		}
	}
	return false
}
