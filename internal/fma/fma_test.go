package fma

import (
	"strings"
	"sync"
	"testing"

	"github.com/curbz/tpxplane/internal/tpsink"
)

type nullSink struct {
	mu      sync.Mutex
	values  map[string]string
	updates int
}

func newNullSink() *nullSink { return &nullSink{values: make(map[string]string)} }

func (s *nullSink) CreateState(id, description, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[id] = value
}

func (s *nullSink) StateUpdate(id, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[id] = value
	s.updates++
}

func (s *nullSink) RemoveState(id string) {}
func (s *nullSink) IsConnected() bool     { return true }

func TestStateID(t *testing.T) {
	if got := stateID(0); got != tpsink.PluginID+".FMA1" {
		t.Errorf("stateID(0) = %q", got)
	}
	if got := stateID(4); got != tpsink.PluginID+".FMA5" {
		t.Errorf("stateID(4) = %q", got)
	}
}

func TestRebuildLinesMergesColors(t *testing.T) {
	f := &FMA{text: map[string]string{
		// line 1: white carries SPEED in column 1, green carries ALT in column 3
		"1w": "SPEED  ",
		"1g": strings.Repeat(" ", 15) + "ALT   ",
		"2b": strings.Repeat(" ", 7) + "NAV     ",
	}}
	f.rebuildLines()

	col0 := strings.Split(f.lines[0], "\n")
	if len(col0) != lineCount {
		t.Fatalf("column 0 has %d lines, expected %d", len(col0), lineCount)
	}
	if strings.TrimSpace(col0[0]) != "SPEED" {
		t.Errorf("column 0 line 1 = %q, expected SPEED", col0[0])
	}
	col2 := strings.Split(f.lines[2], "\n")
	if strings.TrimSpace(col2[0]) != "ALT" {
		t.Errorf("column 2 line 1 = %q, expected ALT", col2[0])
	}
	col1 := strings.Split(f.lines[1], "\n")
	if strings.TrimSpace(col1[1]) != "NAV" {
		t.Errorf("column 1 line 2 = %q, expected NAV", col1[1])
	}
}

func TestRebuildLinesFirstNonSpaceWins(t *testing.T) {
	f := &FMA{text: map[string]string{
		"1w": "A  ",
		"1b": "BB ",
	}}
	f.rebuildLines()
	col0 := strings.Split(f.lines[0], "\n")
	// column 0: 'A' (or 'B', map order) at position 0, second fragment's 'B' at position 1
	if col0[0][1] != 'B' {
		t.Errorf("merged line = %q, expected B at position 1", col0[0])
	}
}

func TestSameText(t *testing.T) {
	a := map[string]string{"1w": "x"}
	b := map[string]string{"1w": "x"}
	if !sameText(a, b) {
		t.Error("equal maps reported different")
	}
	b["1w"] = "y"
	if sameText(a, b) {
		t.Error("different maps reported equal")
	}
}

func TestStartStop(t *testing.T) {
	sink := newNullSink()
	f, err := New(sink)
	if err != nil {
		t.Skipf("multicast socket unavailable: %v", err)
	}
	defer f.Close()

	if len(sink.values) != Count {
		t.Errorf("%d states created, expected %d", len(sink.values), Count)
	}

	f.Check(true)
	if !f.Running() {
		t.Fatal("not running after Check(true)")
	}
	f.Check(true) // idempotent
	f.Check(false)
	if f.Running() {
		t.Error("still running after Check(false)")
	}
	f.Stop() // second stop is a no-op
}
