package monitor

import "testing"

func TestSinkBookkeeping(t *testing.T) {
	s := New(":0")

	s.CreateState("a", "state a", "0")
	s.StateUpdate("a", "1")
	s.CreateState("b", "state b", "x")

	s.mu.Lock()
	if s.states["a"] != "1" || s.states["b"] != "x" {
		t.Errorf("states = %v", s.states)
	}
	s.mu.Unlock()

	s.RemoveState("a")
	s.mu.Lock()
	if _, ok := s.states["a"]; ok {
		t.Error("state a survived RemoveState")
	}
	s.mu.Unlock()

	if !s.IsConnected() {
		t.Error("monitor sink must report connected")
	}
}
