package dataref

import (
	"fmt"
	"testing"
)

type recordingListener struct {
	name  string
	calls []string
}

func (l *recordingListener) Name() string { return l.name }

func (l *recordingListener) DatarefChanged(d *Dataref) {
	v, _ := d.Value()
	l.calls = append(l.calls, fmt.Sprintf("%s=%v", d.Path, v))
}

func TestGetCreatesOnce(t *testing.T) {
	r := NewRegistry()
	a := r.Get("sim/cockpit/alt")
	b := r.Get("sim/cockpit/alt")
	if a != b {
		t.Error("Get returned two instances for the same path")
	}
	if r.Len() != 1 {
		t.Errorf("registry size = %d, expected 1", r.Len())
	}
}

func TestSetRoundingFinerWins(t *testing.T) {
	r := NewRegistry()
	d := r.Get("sim/test")
	d.SetRounding(3)
	d.SetRounding(6)
	d.SetRounding(2)
	got, ok := d.Rounding()
	if !ok || got != 6 {
		t.Errorf("rounding = %d (%v), expected 6", got, ok)
	}
}

func TestUpdateValueRoundingAndChange(t *testing.T) {
	r := NewRegistry()
	d := r.Get("sim/test")
	d.SetRounding(1)

	if !r.UpdateValue("sim/test", 1.04, false) {
		t.Error("first update should report a change")
	}
	// 1.04 and 1.01 both round to 1.0: no change on the rounded view
	if r.UpdateValue("sim/test", 1.01, false) {
		t.Error("update within rounding should not report a change")
	}
	if r.UpdateValue("sim/test", 1.06, false) != true {
		t.Error("1.06 rounds to 1.1, expected a change")
	}
	v, ok := d.Value()
	if !ok || v != 1.1 {
		t.Errorf("value = %v (%v), expected 1.1", v, ok)
	}
}

func TestStatsCounters(t *testing.T) {
	r := NewRegistry()
	d := r.Get("sim/test")
	d.SetRounding(0)
	r.UpdateValue("sim/test", 1.0, false)
	r.UpdateValue("sim/test", 1.2, false) // rounds to 1, no change
	r.UpdateValue("sim/test", 2.0, false)
	updated, changed := d.Stats()
	if updated != 3 || changed != 2 {
		t.Errorf("stats = (%d, %d), expected (3, 2)", updated, changed)
	}
}

func TestTinyNegativeNormalization(t *testing.T) {
	r := NewRegistry()
	d := r.Get("sim/test")
	r.UpdateValue("sim/test", -0.0005, false)
	v, ok := d.Value()
	if !ok || v != 0.0 {
		t.Errorf("value = %v, expected 0.0", v)
	}
}

func TestListenersNotifiedInOrderExactlyOnce(t *testing.T) {
	r := NewRegistry()
	d := r.Get("sim/test")

	var order []string
	l1 := &orderListener{name: "first", order: &order}
	l2 := &orderListener{name: "second", order: &order}
	d.AddListener(l1)
	d.AddListener(l2)
	d.AddListener(l1) // identity-deduplicated

	r.UpdateValue("sim/test", 1.0, true)
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("notification order = %v, expected [first second]", order)
	}

	// same value again: no change, no notification
	order = order[:0]
	r.UpdateValue("sim/test", 1.0, true)
	if len(order) != 0 {
		t.Errorf("unchanged value notified listeners: %v", order)
	}

	// changed but cascade disabled: no notification
	r.UpdateValue("sim/test", 2.0, false)
	if len(order) != 0 {
		t.Errorf("cascade=false notified listeners: %v", order)
	}
}

type orderListener struct {
	name  string
	order *[]string
}

func (l *orderListener) Name() string              { return l.name }
func (l *orderListener) DatarefChanged(d *Dataref) { *l.order = append(*l.order, l.name) }

func TestValueDefaultAndAbsent(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Value("sim/unknown", 9); ok {
		t.Error("expected ok=false for unknown dataref")
	}
	r.Get("sim/known")
	v, ok := r.Value("sim/known", 9)
	if !ok || v != 9 {
		t.Errorf("value = %v (%v), expected default 9", v, ok)
	}
	r.UpdateValue("sim/known", 3, false)
	v, _ = r.Value("sim/known", 9)
	if v != 3 {
		t.Errorf("value = %v, expected 3", v)
	}
}

func TestListenerReadsRegistryDuringNotify(t *testing.T) {
	// a listener that reads values back through the registry must not deadlock
	r := NewRegistry()
	r.Get("sim/a")
	r.Get("sim/b")
	done := make(chan struct{})
	r.AddListener("sim/a", &readbackListener{reg: r, done: done})
	go r.UpdateValue("sim/a", 1, true)
	<-done
}

type readbackListener struct {
	reg  *Registry
	done chan struct{}
}

func (l *readbackListener) Name() string { return "readback" }
func (l *readbackListener) DatarefChanged(d *Dataref) {
	l.reg.Value("sim/b", 0)
	close(l.done)
}
