package statesfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const sample = `{
  "version": 4,
  "long-press-commands": ["sim/autopilot/heading_up"],
  "pages": [
    { "name": "Home",
      "states": [
        { "name": "Altitude",
          "formula": "{$sim/cockpit/alt$} 1000 /",
          "type": "float.1",
          "dataref-rounding": 0 }
      ] }
  ]
}`

func write(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "states.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	f, err := Load(write(t, sample))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(f.Pages) != 1 || f.Pages[0].Name != "Home" {
		t.Fatalf("unexpected pages: %+v", f.Pages)
	}
	st := f.Pages[0].States[0]
	if st.Name != "Altitude" || st.Type != "float.1" {
		t.Errorf("unexpected state: %+v", st)
	}
	if st.DatarefRounding == nil || *st.DatarefRounding != 0 {
		t.Errorf("dataref-rounding not parsed: %v", st.DatarefRounding)
	}
	if len(f.LongPressCommands) != 1 {
		t.Errorf("long-press-commands not parsed: %v", f.LongPressCommands)
	}
}

func TestLoadWrongVersion(t *testing.T) {
	_, err := Load(write(t, `{"version": 3, "pages": []}`))
	if !errors.Is(err, ErrVersion) {
		t.Errorf("expected ErrVersion, got %v", err)
	}
}

func TestLoadMalformed(t *testing.T) {
	if _, err := Load(write(t, `{not json`)); err == nil {
		t.Error("expected error for malformed file")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestCopyIsDeep(t *testing.T) {
	f, err := Load(write(t, sample))
	if err != nil {
		t.Fatal(err)
	}
	c := f.Copy()
	c.Pages[0].States[0].Formula = "mutated"
	if f.Pages[0].States[0].Formula == "mutated" {
		t.Error("Copy shares state slices with the original")
	}
}
