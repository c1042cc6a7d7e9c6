// Package state implements dynamic Touch Portal states: named derived
// values computed from dataref formulas and pushed to the state sink.
package state

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/curbz/tpxplane/internal/dataref"
	"github.com/curbz/tpxplane/internal/rpn"
	"github.com/curbz/tpxplane/internal/statesfile"
	"github.com/curbz/tpxplane/internal/tpsink"
)

var log = logrus.WithField("logger", "TPState")

// placeholderPattern matches {$some/dataref/path$} in formulas.
var placeholderPattern = regexp.MustCompile(`\{\$([^\}]+?)\$\}`)

var upper = cases.Upper(language.Und)

// TPState is a dynamic state: a formula over dataref values, recomputed on
// every dataref change and pushed to the sink only when the formatted result
// differs from the previously pushed one.
type TPState struct {
	name         string
	internalName string
	formula      string
	dataType     string

	registry *dataref.Registry
	sink     tpsink.StateSink

	datarefPaths []string

	mu          sync.Mutex
	previous    string
	hasPrevious bool
}

// InternalName derives the state id from a display name: alphanumerics only,
// uppercased, prefixed by the plugin id.
func InternalName(display string) string {
	var b strings.Builder
	for _, r := range display {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return tpsink.PluginID + "." + upper.String(b.String())
}

// New builds a TPState from its file entry, registers the state with the
// sink (default value "None"), and attaches it as listener to every dataref
// the formula references. Rounding requests from the entry are applied to
// each dataref; the finest request wins.
func New(cfg statesfile.State, reg *dataref.Registry, sink tpsink.StateSink) *TPState {
	internal := cfg.InternalName
	if internal == "" {
		internal = InternalName(cfg.Name)
	}
	dataType := cfg.Type
	if dataType == "" {
		dataType = "int"
	}
	s := &TPState{
		name:         cfg.Name,
		internalName: internal,
		formula:      cfg.Formula,
		dataType:     dataType,
		registry:     reg,
		sink:         sink,
		datarefPaths: ExtractDatarefs(cfg.Formula),
	}

	s.sink.CreateState(s.internalName, s.name, "None")
	log.Debugf("state %s: created %s", s.name, s.internalName)

	for _, path := range s.datarefPaths {
		if cfg.DatarefRounding != nil {
			reg.SetRounding(path, *cfg.DatarefRounding)
		}
		reg.AddListener(path, s)
	}
	log.Debugf("state %s: uses datarefs %s", s.name, strings.Join(s.datarefPaths, ", "))
	return s
}

// ExtractDatarefs returns the dataref paths referenced by a formula, in
// order of appearance.
func ExtractDatarefs(formula string) []string {
	var paths []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(formula, -1) {
		paths = append(paths, m[1])
	}
	return paths
}

// Name returns the display name (Listener interface).
func (s *TPState) Name() string { return s.name }

// ID returns the internal state id.
func (s *TPState) ID() string { return s.internalName }

// DatarefPaths returns the paths this state depends on.
func (s *TPState) DatarefPaths() []string { return s.datarefPaths }

// DatarefChanged recomputes the state and pushes it when the formatted value
// differs from the previously pushed one.
func (s *TPState) DatarefChanged(d *dataref.Dataref) {
	valstr := s.Value()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasPrevious && s.previous == valstr {
		return
	}
	if !s.sink.IsConnected() {
		log.Warnf("state %s: sink not connected, update skipped", s.name)
		return
	}
	s.sink.StateUpdate(s.internalName, valstr)
	log.Debugf("state %s: updated %q -> %q", s.name, s.previous, valstr)
	s.previous = valstr
	s.hasPrevious = true
}

// Remove deletes the state from the sink.
func (s *TPState) Remove() {
	if s.sink.IsConnected() {
		s.sink.RemoveState(s.internalName)
	}
}

// Value computes the state value: substitute dataref placeholders, evaluate
// the formula, format per the declared type. Returns the empty string when
// the value cannot be produced.
func (s *TPState) Value() string {
	// 1. Substitute dataref variables by their value
	expr := s.formula
	for _, path := range s.datarefPaths {
		str := "0.0"
		if v, ok := s.registry.PeekValue(path); ok {
			str = strconv.FormatFloat(v, 'g', -1, 64)
		}
		expr = strings.ReplaceAll(expr, "{$"+path+"$}", str)
	}
	log.Debugf("state %s: formula %s => %s", s.name, s.formula, expr)

	// 2. Execute the formula
	value, err := rpn.Evaluate(expr)
	if err != nil {
		log.Warnf("state %s: error evaluating expression %s: %v", s.name, s.formula, err)
		return ""
	}

	// 3. Format. In Touch Portal "0" is quite different from "1.0", so the
	// declared type decides the presentation.
	return formatValue(value, s.dataType, s.name)
}

func formatValue(value float64, dataType, name string) string {
	switch {
	case strings.HasPrefix(dataType, "int"):
		n := int(value) // truncation, as in a plain conversion
		if len(dataType) > len("int") {
			return fmt.Sprintf("%"+dataType[len("int"):]+"d", n)
		}
		return strconv.Itoa(n)
	case dataType == "number" || dataType == "decimal":
		return strconv.FormatFloat(value, 'g', -1, 64)
	case strings.HasPrefix(dataType, "float"):
		if len(dataType) > len("float") {
			return fmt.Sprintf("%"+dataType[len("float"):]+"f", value)
		}
		return strconv.FormatFloat(value, 'g', -1, 64)
	case dataType == "boolean" || dataType == "bool" || dataType == "yesno":
		if value != 0 {
			return tpsink.BoolTrue
		}
		return tpsink.BoolFalse
	default:
		log.Warnf("state %s: invalid datatype %s", name, dataType)
		return ""
	}
}
