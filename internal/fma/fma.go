// Package fma collects the Toliss Airbus flight mode annunciator display
// broadcast by a companion plugin inside the simulator, and maintains one
// Touch Portal state per FMA column.
package fma

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/curbz/tpxplane/internal/tpsink"
	"github.com/curbz/tpxplane/pkg/util"
)

var log = logrus.WithField("logger", "FMA")

const (
	mcastGroup    = "239.255.1.1"
	mcastPort     = 49505
	updatePeriod  = 500 * time.Millisecond // states refresh at 2 Hz at most
	socketTimeout = 10 * time.Second

	// Count is the number of FMA columns, each backed by one state.
	Count      = 5
	lineCount  = 3
	lineLength = 37
)

// columns holds the [start, end) rune ranges of the five FMA columns.
var columns = [Count][2]int{{0, 7}, {7, 15}, {15, 21}, {21, 28}, {28, 37}}

// GuardDataref must appear on a page for the collector to run; the page
// scope controller checks for it on every page transition.
const GuardDataref = "AirbusFBW/FMAAPFDboxing"

// BoxDatarefs are the FMA boxing/warning datarefs the display uses.
var BoxDatarefs = []string{
	"AirbusFBW/FMAAPFDboxing",
	"AirbusFBW/FMAAPLeftArmedBox",
	"AirbusFBW/FMAAPLeftModeBox",
	"AirbusFBW/FMAAPRightArmedBox",
	"AirbusFBW/FMAAPRightModeBox",
	"AirbusFBW/FMAATHRModeBox",
	"AirbusFBW/FMAATHRboxing",
	"AirbusFBW/FMATHRWarning",
}

// FMA owns the multicast collector goroutine and the 2 Hz updater goroutine.
type FMA struct {
	sink tpsink.StateSink

	mu           sync.Mutex // guards text and the run state below
	text         map[string]string
	previousText map[string]string
	lines        [Count]string
	previousLine [Count]string

	conn        *net.UDPConn
	collectStop chan struct{}
	collectDone chan struct{}
	updateStop  chan struct{}
	updateDone  chan struct{}
	running     bool
}

// New opens the multicast socket and registers the FMA states with the sink.
// The goroutines are not started until a page needs them.
func New(sink tpsink.StateSink) (*FMA, error) {
	conn, err := util.ListenMulticastUDP(fmt.Sprintf(":%d", mcastPort), mcastGroup)
	if err != nil {
		return nil, err
	}
	f := &FMA{
		sink: sink,
		conn: conn,
		text: make(map[string]string),
	}
	for i := 0; i < Count; i++ {
		sink.CreateState(stateID(i), fmt.Sprintf("FMA column %d", i+1), "")
	}
	return f, nil
}

func stateID(idx int) string {
	return tpsink.Key(fmt.Sprintf("FMA%d", idx+1))
}

// Running reports whether the collector is active.
func (f *FMA) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// Check starts or stops the collector to match mustRun.
func (f *FMA) Check(mustRun bool) {
	if mustRun && !f.Running() {
		f.Start()
		return
	}
	if !mustRun && f.Running() {
		f.Stop()
	}
}

// Start launches the collector and updater goroutines.
func (f *FMA) Start() {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		log.Info("FMA collector already running")
		return
	}
	f.running = true
	f.collectStop = make(chan struct{})
	f.collectDone = make(chan struct{})
	f.updateStop = make(chan struct{})
	f.updateDone = make(chan struct{})
	f.mu.Unlock()

	go f.reader()
	go f.writer()
	log.Info("FMA collector and updater started")
}

// Stop halts both goroutines, waiting at most one update period plus a second
// for the updater and at most one socket timeout for the collector.
func (f *FMA) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		log.Debug("FMA collector not running")
		return
	}
	f.running = false
	close(f.updateStop)
	close(f.collectStop)
	collectDone, updateDone := f.collectDone, f.updateDone
	f.mu.Unlock()

	f.conn.SetReadDeadline(time.Now())

	select {
	case <-updateDone:
	case <-time.After(updatePeriod + time.Second):
		log.Warn("..FMA updater may hang..")
	}
	select {
	case <-collectDone:
	case <-time.After(socketTimeout):
		log.Warn("..FMA collector may hang in recvfrom..")
	}
	log.Debug("..FMA stopped")
}

// Close releases the multicast socket.
func (f *FMA) Close() error {
	f.Stop()
	return f.conn.Close()
}

// reader receives the JSON display broadcast and stores the latest text.
func (f *FMA) reader() {
	f.mu.Lock()
	stop, done := f.collectStop, f.collectDone
	f.mu.Unlock()
	defer close(done)
	log.Debug("starting FMA collector..")
	buf := make([]byte, 1472)
	timeouts := 0
	for {
		select {
		case <-stop:
			log.Debug("..FMA collector terminated")
			return
		default:
		}
		f.conn.SetReadDeadline(time.Now().Add(socketTimeout))
		n, _, err := f.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-stop:
				log.Debug("..FMA collector terminated")
				return
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				timeouts++
				// the display only broadcasts with a Toliss loaded; stay quiet
				if timeouts < 6 || timeouts%12 == 0 {
					log.Infof("FMA collector: socket timeout received (%d)", timeouts)
				}
				continue
			}
			log.Warnf("FMA collector: read error: %v", err)
			continue
		}
		timeouts = 0

		var payload map[string]any
		if err := json.Unmarshal(buf[:n], &payload); err != nil {
			log.Warnf("FMA collector: bad payload: %v", err)
			continue
		}
		delete(payload, "ts")
		text := make(map[string]string, len(payload))
		for k, v := range payload {
			if s, ok := v.(string); ok {
				text[k] = s
			}
		}
		f.mu.Lock()
		f.text = text
		f.mu.Unlock()
	}
}

// writer refreshes the per-column states at 2 Hz, pushing only changes.
func (f *FMA) writer() {
	f.mu.Lock()
	stop, done := f.updateStop, f.updateDone
	f.mu.Unlock()
	defer close(done)
	log.Debug("starting FMA updater..")
	ticker := time.NewTicker(updatePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			log.Debug("..FMA updater terminated")
			return
		case <-ticker.C:
		}

		f.mu.Lock()
		changed := !sameText(f.text, f.previousText)
		if changed {
			f.rebuildLines()
			f.previousText = f.text
		}
		lines := f.lines
		previous := f.previousLine
		f.mu.Unlock()

		if !changed {
			continue
		}
		for i := 0; i < Count; i++ {
			if lines[i] == previous[i] {
				continue
			}
			f.sink.StateUpdate(stateID(i), lines[i])
			log.Debugf("state FMA%d updated", i+1)
			f.mu.Lock()
			f.previousLine[i] = lines[i]
			f.mu.Unlock()
		}
	}
}

func sameText(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// rebuildLines merges the colored line fragments into three plain lines and
// slices them into the five column states. Caller holds f.mu.
//
// The broadcast carries one entry per line and color, keyed like "1w", "2b":
// the digit is the line number. Color is lost here; for each column the
// first non-space character of any fragment wins.
func (f *FMA) rebuildLines() {
	var raw [lineCount]string
	for li := 1; li <= lineCount; li++ {
		var merged [lineLength]byte
		for i := range merged {
			merged[i] = ' '
		}
		for key, line := range f.text {
			if len(key) < 2 || int(key[len(key)-2]-'0') != li {
				continue
			}
			for c := 0; c < lineLength && c < len(line); c++ {
				if merged[c] == ' ' && line[c] != ' ' {
					merged[c] = line[c]
				}
			}
		}
		raw[li-1] = string(merged[:])
	}

	for idx := 0; idx < Count; idx++ {
		s, e := columns[idx][0], columns[idx][1]
		parts := make([]string, lineCount)
		for li := 0; li < lineCount; li++ {
			parts[li] = raw[li][s:e]
		}
		f.lines[idx] = strings.Join(parts, "\n")
	}
}
