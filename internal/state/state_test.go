package state

import (
	"testing"

	"github.com/curbz/tpxplane/internal/dataref"
	"github.com/curbz/tpxplane/internal/statesfile"
	"github.com/curbz/tpxplane/internal/tpsink"
)

type recordingSink struct {
	created   map[string]string
	updates   []string
	values    map[string]string
	removed   []string
	connected bool
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		created:   make(map[string]string),
		values:    make(map[string]string),
		connected: true,
	}
}

func (r *recordingSink) CreateState(id, description, value string) {
	r.created[id] = value
	r.values[id] = value
}

func (r *recordingSink) StateUpdate(id, value string) {
	r.updates = append(r.updates, id+"="+value)
	r.values[id] = value
}

func (r *recordingSink) RemoveState(id string) { r.removed = append(r.removed, id) }
func (r *recordingSink) IsConnected() bool     { return r.connected }

func intp(i int) *int { return &i }

func TestInternalName(t *testing.T) {
	cases := map[string]string{
		"Altitude":      tpsink.PluginID + ".ALTITUDE",
		"Ground Speed!": tpsink.PluginID + ".GROUNDSPEED",
		"A-1 b":         tpsink.PluginID + ".A1B",
	}
	for in, want := range cases {
		if got := InternalName(in); got != want {
			t.Errorf("InternalName(%q) = %q, expected %q", in, got, want)
		}
	}
}

func TestExtractDatarefs(t *testing.T) {
	got := ExtractDatarefs("{$sim/a$} {$sim/b$} eq {$sim/a$} +")
	want := []string{"sim/a", "sim/b", "sim/a"}
	if len(got) != len(want) {
		t.Fatalf("paths = %v, expected %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("paths = %v, expected %v", got, want)
		}
	}
}

func TestNewRegistersStateAndDatarefs(t *testing.T) {
	reg := dataref.NewRegistry()
	sink := newRecordingSink()
	s := New(statesfile.State{
		Name:            "Altitude",
		Formula:         "{$sim/cockpit/alt$} 1000 /",
		Type:            "float.1",
		DatarefRounding: intp(2),
	}, reg, sink)

	if v, ok := sink.created[s.ID()]; !ok || v != "None" {
		t.Errorf("state not created with default None: %v (%v)", v, ok)
	}
	d, ok := reg.Lookup("sim/cockpit/alt")
	if !ok {
		t.Fatal("dataref not registered")
	}
	if r, has := d.Rounding(); !has || r != 2 {
		t.Errorf("rounding = %d (%v), expected 2", r, has)
	}
}

func TestIntStateFromDatarefUpdate(t *testing.T) {
	reg := dataref.NewRegistry()
	sink := newRecordingSink()
	s := New(statesfile.State{
		Name:    "Alt",
		Formula: "{$sim/cockpit/alt$} 100 /",
		Type:    "int",
	}, reg, sink)

	reg.UpdateValue("sim/cockpit/alt", 12345.0, true)
	if got := sink.values[s.ID()]; got != "123" {
		t.Errorf("state value = %q, expected \"123\"", got)
	}

	// identical formatted value: no second push
	n := len(sink.updates)
	reg.UpdateValue("sim/cockpit/alt", 12399.0, true) // still 123 after int truncation
	if len(sink.updates) != n {
		t.Errorf("unchanged formatted value pushed again: %v", sink.updates)
	}
}

func TestBooleanState(t *testing.T) {
	reg := dataref.NewRegistry()
	sink := newRecordingSink()
	s := New(statesfile.State{
		Name:    "Match",
		Formula: "{$sim/a$} {$sim/b$} eq",
		Type:    "boolean",
	}, reg, sink)

	reg.UpdateValue("sim/a", 1.0, true)
	reg.UpdateValue("sim/b", 1.0, true)
	if got := sink.values[s.ID()]; got != "TRUE" {
		t.Errorf("state = %q, expected TRUE", got)
	}
	reg.UpdateValue("sim/b", 2.0, true)
	if got := sink.values[s.ID()]; got != "FALSE" {
		t.Errorf("state = %q, expected FALSE", got)
	}
}

func TestMissingDatarefValueSubstitutesZero(t *testing.T) {
	reg := dataref.NewRegistry()
	sink := newRecordingSink()
	s := New(statesfile.State{Name: "S", Formula: "{$sim/a$} 1 +", Type: "float"}, reg, sink)
	if got := s.Value(); got != "1" {
		t.Errorf("value = %q, expected \"1\"", got)
	}
}

func TestEvaluationErrorYieldsEmpty(t *testing.T) {
	reg := dataref.NewRegistry()
	sink := newRecordingSink()
	s := New(statesfile.State{Name: "Bad", Formula: "{$sim/a$} 0 /", Type: "float"}, reg, sink)
	if got := s.Value(); got != "" {
		t.Errorf("value = %q, expected empty on evaluation error", got)
	}
}

func TestFormatVariants(t *testing.T) {
	cases := []struct {
		dataType string
		value    float64
		want     string
	}{
		{"int", 123.9, "123"},
		{"int04", 42, "0042"},
		{"float.1", 12.345, "12.3"},
		{"float", 12.5, "12.5"},
		{"number", 3, "3"},
		{"decimal", 2.25, "2.25"},
		{"bool", 1, "TRUE"},
		{"yesno", 0, "FALSE"},
		{"mystery", 1, ""},
	}
	for _, c := range cases {
		if got := formatValue(c.value, c.dataType, "test"); got != c.want {
			t.Errorf("formatValue(%v, %q) = %q, expected %q", c.value, c.dataType, got, c.want)
		}
	}
}

func TestSinkDisconnectedSkipsUpdate(t *testing.T) {
	reg := dataref.NewRegistry()
	sink := newRecordingSink()
	s := New(statesfile.State{Name: "S", Formula: "{$sim/a$}", Type: "int"}, reg, sink)
	sink.connected = false
	reg.UpdateValue("sim/a", 5, true)
	if len(sink.updates) != 0 {
		t.Errorf("update pushed while sink disconnected: %v", sink.updates)
	}
	// reconnect: the next change goes through
	sink.connected = true
	reg.UpdateValue("sim/a", 6, true)
	if got := sink.values[s.ID()]; got != "6" {
		t.Errorf("state = %q, expected 6 after reconnect", got)
	}
}

func TestInternalNameOverride(t *testing.T) {
	reg := dataref.NewRegistry()
	sink := newRecordingSink()
	s := New(statesfile.State{Name: "X", InternalName: "custom.id", Formula: "1", Type: "int"}, reg, sink)
	if s.ID() != "custom.id" {
		t.Errorf("ID = %q, expected custom.id", s.ID())
	}
}

func TestRemove(t *testing.T) {
	reg := dataref.NewRegistry()
	sink := newRecordingSink()
	s := New(statesfile.State{Name: "S", Formula: "1", Type: "int"}, reg, sink)
	s.Remove()
	if len(sink.removed) != 1 || sink.removed[0] != s.ID() {
		t.Errorf("removed = %v, expected [%s]", sink.removed, s.ID())
	}
}
