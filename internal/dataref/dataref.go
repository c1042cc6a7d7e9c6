// Package dataref holds the canonical store of simulator datarefs and their
// change-notification machinery.
package dataref

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/curbz/tpxplane/pkg/util"
)

var log = logrus.WithField("logger", "Dataref")

// DefaultFrequency is used when a subscription does not specify one.
const DefaultFrequency = 1

// Listener gets notified when a dataref's rounded value has changed.
type Listener interface {
	Name() string
	DatarefChanged(d *Dataref)
}

// Dataref is a named scalar the simulator exposes. Values, counters and the
// listener list are guarded by the owning Registry's mutex; a Dataref is
// never shared outside its registry.
type Dataref struct {
	Path            string
	UpdateFrequency int

	rounding    int
	hasRounding bool

	rawCurrent   float64
	rawPrevious  float64
	rawValid     bool
	rawPrevValid bool

	current       float64
	previous      float64
	currentValid  bool
	previousValid bool

	updated     int
	changed     int
	lastUpdated time.Time
	lastChanged time.Time

	listeners []Listener
}

func newDataref(path string) *Dataref {
	return &Dataref{Path: path, UpdateFrequency: DefaultFrequency}
}

// SetRounding requests a number of decimal places. The finest (largest)
// requested rounding wins so the most demanding consumer is served.
func (d *Dataref) SetRounding(places int) {
	if d.hasRounding {
		if places > d.rounding {
			d.rounding = places
		}
		return
	}
	d.rounding = places
	d.hasRounding = true
}

// Rounding reports the effective decimal places, false if none was set.
func (d *Dataref) Rounding() (int, bool) {
	return d.rounding, d.hasRounding
}

// AddListener appends obj to the notification list. Listeners are
// deduplicated by identity and notified in insertion order.
func (d *Dataref) AddListener(obj Listener) {
	for _, l := range d.listeners {
		if l == obj {
			return
		}
	}
	d.listeners = append(d.listeners, obj)
	log.Debugf("%s added listener %s (%d listening)", d.Path, obj.Name(), len(d.listeners))
}

// Value returns the current rounded value; ok is false when no value was
// ever received.
func (d *Dataref) Value() (float64, bool) {
	return d.current, d.currentValid
}

// Stats reports how many times the value was updated and how many of those
// updates changed the rounded value.
func (d *Dataref) Stats() (updated, changed int) {
	return d.updated, d.changed
}

// HasChanged reports whether the rounded value differs from the previous one.
func (d *Dataref) HasChanged() bool {
	if d.currentValid != d.previousValid {
		return true
	}
	return d.current != d.previous
}

func (d *Dataref) round(v float64) float64 {
	if d.hasRounding {
		return util.Round(v, d.rounding)
	}
	return v
}

// applyValue stores a new raw value and recomputes the rounded view.
// Returns true when the rounded value changed. Caller holds the registry
// lock; notification happens outside it.
func (d *Dataref) applyValue(raw float64) bool {
	// flapping around zero: treat tiny negatives as zero
	if raw < 0 && raw > -0.001 {
		raw = 0
	}

	d.rawPrevious, d.rawPrevValid = d.rawCurrent, d.rawValid
	d.rawCurrent, d.rawValid = raw, true
	d.updated++
	d.lastUpdated = time.Now()

	d.previous, d.previousValid = d.current, d.currentValid
	d.current, d.currentValid = d.round(raw), true

	if !d.HasChanged() {
		return false
	}
	d.changed++
	d.lastChanged = time.Now()
	return true
}

// Registry is the canonical dataref store, keyed by path. One coarse mutex
// protects the map and every dataref it holds.
type Registry struct {
	mu   sync.Mutex
	refs map[string]*Dataref
}

func NewRegistry() *Registry {
	return &Registry{refs: make(map[string]*Dataref)}
}

// Get returns the canonical dataref for path, creating it if absent.
func (r *Registry) Get(path string) *Dataref {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.refs[path]; ok {
		return d
	}
	d := newDataref(path)
	r.refs[path] = d
	return d
}

// Lookup returns the dataref for path without creating it.
func (r *Registry) Lookup(path string) (*Dataref, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.refs[path]
	return d, ok
}

// Value returns the current rounded value of path, or def when the dataref
// exists but has no value yet. ok is false when the dataref does not exist.
func (r *Registry) Value(path string, def float64) (value float64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, exists := r.refs[path]
	if !exists {
		log.Warnf("%s not found", path)
		return 0, false
	}
	if !d.currentValid {
		return def, true
	}
	return d.current, true
}

// PeekValue returns the current rounded value of path, false when the
// dataref does not exist or has no value yet.
func (r *Registry) PeekValue(path string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.refs[path]
	if !ok || !d.currentValid {
		return 0, false
	}
	return d.current, true
}

// UpdateValue stores a new raw value on path and, iff cascade is true and
// the rounded value changed, notifies the dataref's listeners in insertion
// order. Returns true when the rounded value changed.
func (r *Registry) UpdateValue(path string, raw float64, cascade bool) bool {
	r.mu.Lock()
	d, ok := r.refs[path]
	if !ok {
		r.mu.Unlock()
		log.Warnf("%s not found", path)
		return false
	}
	changed := d.applyValue(raw)
	prev, cur := d.previous, d.current
	var notify []Listener
	if changed && cascade {
		notify = append([]Listener(nil), d.listeners...)
	}
	r.mu.Unlock()

	if changed && !cascade {
		log.Debugf("dataref %s updated %v -> %v (no cascade)", path, prev, cur)
	} else if changed {
		log.Debugf("dataref %s updated %v -> %v", path, prev, cur)
	}
	// listeners read other dataref values back through the registry, so the
	// lock must be released first
	for _, l := range notify {
		l.DatarefChanged(d)
		log.Debugf("%s: notified %s", d.Path, l.Name())
	}
	return changed
}

// SetRounding applies a rounding request to path, creating the dataref if
// needed.
func (r *Registry) SetRounding(path string, places int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.refs[path]
	if !ok {
		d = newDataref(path)
		r.refs[path] = d
	}
	d.SetRounding(places)
}

// AddListener attaches obj to path under the registry lock.
func (r *Registry) AddListener(path string, obj Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.refs[path]
	if !ok {
		d = newDataref(path)
		r.refs[path] = d
	}
	d.AddListener(obj)
}

// Len reports the number of registered datarefs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.refs)
}

// Clear drops every dataref. Used on reload.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs = make(map[string]*Dataref)
}
