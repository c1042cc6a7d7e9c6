// Package xplane implements the simulator UDP client: beacon discovery,
// dataref subscription and monitoring, command execution and dataref writes,
// and the page-scoped lifecycle of dynamic Touch Portal states.
package xplane

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/curbz/tpxplane/internal/dataref"
	"github.com/curbz/tpxplane/internal/fma"
	"github.com/curbz/tpxplane/internal/metrics"
	"github.com/curbz/tpxplane/internal/state"
	"github.com/curbz/tpxplane/internal/statesfile"
	"github.com/curbz/tpxplane/internal/tpsink"
)

var log = logrus.WithField("logger", "XPlane")

const (
	// maxDatarefCount is the absolute maximum number of datarefs that can be
	// requested from X-Plane; the simulator crashes around ~100.
	maxDatarefCount = 80

	socketTimeout   = 5 * time.Second
	maxTimeoutCount = 5

	// report loop activity every loopAlive dispatched values on debug
	loopAlive = 1000
)

// ErrCapacityExceeded is returned when the subscription table is full.
var ErrCapacityExceeded = errors.New("subscription limit reached")

// ErrNotConnected is returned by operations that need a live simulator.
var ErrNotConnected = errors.New("no connection to X-Plane")

// commands that are placeholders and must not be sent
var notACommand = map[string]bool{
	"none": true, "noop": true, "no-operation": true, "no-command": true, "do-nothing": true,
}

// Options configures a Client.
type Options struct {
	BeaconGroup string
	BeaconPort  int
	StatesFile  string
	EnableFMA   bool
}

// Client is the X-Plane UDP client. It owns the data-plane socket, the
// subscription table, the dataref registry and the dynamic state tables, and
// it implements the Transport hooks its beacon supervisor drives.
type Client struct {
	sink       tpsink.StateSink
	registry   *dataref.Registry
	supervisor *Supervisor
	queue      *updateQueue
	fma        *fma.FMA

	statesPath string

	mu          sync.Mutex
	conn        *net.UDPConn
	nextIndex   int32
	indexToPath map[int32]string
	monitored   map[string]int // path -> number of active pages needing it

	states     map[string]*state.TPState
	pages      map[string]map[string]*dataref.Dataref
	pageUsages map[string]int
	longPress  []string
	statesFile *statesfile.File

	readerRunning     bool
	readStopRequested bool
	stopRead          chan struct{}
	readerDone        chan struct{}
	dispatcherRunning bool
	dispatcherDone    chan struct{}

	maxMonitored int
}

// New builds a client. The states file is not read until Init.
func New(sink tpsink.StateSink, opts Options) *Client {
	if opts.StatesFile == "" {
		opts.StatesFile = statesfile.DefaultFileName
	}
	x := &Client{
		sink:        sink,
		registry:    dataref.NewRegistry(),
		queue:       newUpdateQueue(),
		statesPath:  opts.StatesFile,
		indexToPath: make(map[int32]string),
		monitored:   make(map[string]int),
		states:      make(map[string]*state.TPState),
		pages:       make(map[string]map[string]*dataref.Dataref),
		pageUsages:  make(map[string]int),
	}
	x.supervisor = NewSupervisor(x, sink, opts.BeaconGroup, opts.BeaconPort)
	if opts.EnableFMA {
		f, err := fma.New(sink)
		if err != nil {
			log.Warnf("no Toliss Airbus FMA reader: %v", err)
		} else {
			x.fma = f
		}
	}
	return x
}

// Registry exposes the dataref registry.
func (x *Client) Registry() *dataref.Registry { return x.registry }

// Connected reports whether a beacon is currently held.
func (x *Client) Connected() bool { return x.supervisor.Connected() }

// LongPressCommands returns the command paths declared for hold gestures.
func (x *Client) LongPressCommands() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]string(nil), x.longPress...)
}

// CurrentStates returns a copy of the loaded states file, nil when none is
// loaded.
func (x *Client) CurrentStates() *statesfile.File {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.statesFile == nil {
		return nil
	}
	return x.statesFile.Copy()
}

func (x *Client) updateState(id, value string) {
	if !x.sink.IsConnected() {
		log.Warn("state sink not connected")
		return
	}
	x.sink.StateUpdate(id, value)
}

// dataAddr returns the simulator data-plane address from the beacon.
func (x *Client) dataAddr() (*net.UDPAddr, bool) {
	b, ok := x.supervisor.Beacon()
	if !ok {
		return nil, false
	}
	return &net.UDPAddr{IP: b.IP, Port: b.Port}, true
}

// --- Subscription multiplexer ---

// monitorDataref asks X-Plane to send path with a certain frequency.
// Frequency 0 unsubscribes. Caller holds x.mu.
func (x *Client) monitorDataref(path string, freq int) error {
	if x.conn == nil || !x.supervisor.Connected() {
		return fmt.Errorf("%w (%s, %d)", ErrNotConnected, path, freq)
	}
	addr, _ := x.dataAddr()

	idx := int32(-1)
	for i, p := range x.indexToPath {
		if p == path {
			idx = i
			break
		}
	}
	if idx >= 0 {
		if freq == 0 {
			// values carrying this index may still be in flight;
			// the dispatcher discards them
			delete(x.indexToPath, idx)
		}
	} else {
		if freq == 0 {
			return nil
		}
		if len(x.indexToPath) >= maxDatarefCount {
			log.Warnf("requesting too many datarefs (%d)", len(x.indexToPath))
			return ErrCapacityExceeded
		}
		// indices are never reused while the session lives
		idx = x.nextIndex
		x.nextIndex++
		x.indexToPath[idx] = path
	}
	if len(x.indexToPath) > x.maxMonitored {
		x.maxMonitored = len(x.indexToPath)
	}

	msg, err := encodeRREFRequest(int32(freq), idx, path)
	if err != nil {
		return err
	}
	if _, err := x.conn.WriteToUDP(msg, addr); err != nil {
		return fmt.Errorf("send RREF: %w", err)
	}
	metrics.Subscriptions.Set(float64(len(x.indexToPath)))
	return nil
}

func (x *Client) unmonitorDataref(path string) error {
	return x.monitorDataref(path, 0)
}

// addToMonitorLocked bumps refcounts and subscribes paths crossing 0 -> 1.
func (x *Client) addToMonitorLocked(drefs map[string]*dataref.Dataref) {
	connected := x.supervisor.Connected()
	if !connected {
		log.Warn("no connection")
	}
	var added []string
	for path, d := range drefs {
		if n, ok := x.monitored[path]; ok {
			// already monitoring, just one more page interested
			x.monitored[path] = n + 1
			continue
		}
		x.monitored[path] = 1
		if !connected {
			added = append(added, path)
			continue
		}
		if err := x.monitorDataref(path, d.UpdateFrequency); err != nil {
			log.Warnf("monitor %s: %v", path, err)
		} else {
			added = append(added, path)
		}
	}
	log.Debugf("added %v, monitoring %d/%d", added, len(x.indexToPath), x.maxMonitored)
}

// removeFromMonitorLocked decrements refcounts and unsubscribes paths
// crossing 1 -> 0. Without a connection no datagram is sent; the refcounts
// are still released.
func (x *Client) removeFromMonitorLocked(drefs map[string]*dataref.Dataref) {
	connected := x.supervisor.Connected()
	if !connected && len(x.monitored) > 0 {
		log.Warn("no connection")
	}
	var removed []string
	for path := range drefs {
		n, ok := x.monitored[path]
		if !ok {
			log.Debugf("no need to remove %s", path)
			continue
		}
		if n == 1 {
			if !connected {
				removed = append(removed, path)
			} else if err := x.unmonitorDataref(path); err != nil {
				log.Warnf("unmonitor %s: %v", path, err)
			} else {
				removed = append(removed, path)
			}
			delete(x.monitored, path)
		} else {
			x.monitored[path] = n - 1
			log.Debugf("%s monitored %d times", path, n-1)
		}
	}
	log.Debugf("removed %v", removed)
}

// AddToMonitor registers interest of one more consumer in each dataref.
func (x *Client) AddToMonitor(drefs map[string]*dataref.Dataref) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.addToMonitorLocked(drefs)
}

// RemoveFromMonitor releases interest of one consumer in each dataref.
func (x *Client) RemoveFromMonitor(drefs map[string]*dataref.Dataref) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.removeFromMonitorLocked(drefs)
}

// suppressAllMonitoringLocked cancels every live subscription at the
// simulator. Refcounts are kept so the subscriptions can be re-emitted.
func (x *Client) suppressAllMonitoringLocked() {
	if !x.supervisor.Connected() {
		log.Warn("no connection")
		return
	}
	paths := make([]string, 0, len(x.indexToPath))
	for _, p := range x.indexToPath {
		paths = append(paths, p)
	}
	for _, p := range paths {
		if err := x.unmonitorDataref(p); err != nil {
			log.Warnf("unmonitor %s: %v", p, err)
		}
	}
	log.Debugf("monitoring suppressed (%d/%d datarefs)", len(x.indexToPath), x.registry.Len())
}

// startMonitoringLocked subscribes every refcounted dataref. Used on
// (re)connect, when the simulator's view of our subscriptions is unknown.
func (x *Client) startMonitoringLocked() {
	if !x.supervisor.Connected() {
		log.Warn("no connection")
		return
	}
	if len(x.monitored) == 0 {
		log.Debug("no dataref to monitor")
		return
	}
	var subscribed []string
	for path := range x.monitored {
		d := x.registry.Get(path)
		if err := x.monitorDataref(path, d.UpdateFrequency); err != nil {
			log.Warnf("monitor %s: %v", path, err)
		} else {
			subscribed = append(subscribed, path)
		}
	}
	log.Infof("monitoring datarefs %v", subscribed)
}

// --- Simulator requests ---

// ExecuteCommand sends a command to the simulator. The reserved literal
// RELOAD_STATES_FILE reloads the dynamic states file instead.
func (x *Client) ExecuteCommand(cmd string) {
	if cmd == tpsink.ReloadStatesFileCommand {
		log.Info("reloading states file")
		if err := x.Reinit(""); err != nil {
			log.Warnf("states file not reloaded: %v", err)
		}
		return
	}
	x.executeCommand(cmd)
}

func (x *Client) executeCommand(cmd string) {
	if cmd == "" || notACommand[strings.ToLower(cmd)] {
		log.Warnf("command %q not sent (command placeholder, no command, do nothing)", cmd)
		return
	}
	x.mu.Lock()
	conn := x.conn
	x.mu.Unlock()
	addr, ok := x.dataAddr()
	if !ok || conn == nil {
		log.Warnf("no connection (%s)", cmd)
		return
	}
	if _, err := conn.WriteToUDP(encodeCMND(cmd), addr); err != nil {
		log.Warnf("command %s: %v", cmd, err)
		return
	}
	log.Debugf("executed %s", cmd)
}

// CommandBegin starts a held command.
func (x *Client) CommandBegin(cmd string) { x.executeCommand(cmd + "/begin") }

// CommandEnd releases a held command.
func (x *Client) CommandEnd(cmd string) { x.executeCommand(cmd + "/end") }

// ExecuteLongPressCommand maps a hold gesture onto the begin/end pair.
func (x *Client) ExecuteLongPressCommand(cmd string, pressed bool) {
	if pressed {
		x.CommandBegin(cmd)
	} else {
		x.CommandEnd(cmd)
	}
}

// SetDataref coerces value to a float and writes it. Non-numeric values are
// rejected with a warning.
func (x *Client) SetDataref(path, value string) {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		log.Warnf("dataref %s value %q failed to convert to float, ignoring", path, value)
		return
	}
	x.WriteDataref(path, v)
}

// WriteDataref sends a DREF write with a float payload.
func (x *Client) WriteDataref(path string, value float64) {
	x.mu.Lock()
	conn := x.conn
	x.mu.Unlock()
	addr, ok := x.dataAddr()
	if !ok || conn == nil {
		log.Warnf("no connection (%s=%v)", path, value)
		return
	}
	msg, err := encodeDREF(drefFloat, value, path)
	if err != nil {
		log.Warnf("write dataref %s: %v", path, err)
		return
	}
	if _, err := conn.WriteToUDP(msg, addr); err != nil {
		log.Warnf("write dataref %s: %v", path, err)
		return
	}
	log.Debugf("writing dataref %s=%v", path, value)
}

// --- Reader and dispatcher ---

// readLoop reads RREF responses from the data socket and enqueues the
// decoded values. After maxTimeoutCount consecutive timeouts the simulator
// is declared lost and the supervisor takes over.
func (x *Client) readLoop(conn *net.UDPConn, stop <-chan struct{}, done chan struct{}) {
	defer func() {
		x.mu.Lock()
		x.readerRunning = false
		x.mu.Unlock()
		close(done)
	}()
	log.Debug("reader starting..")
	buf := make([]byte, maxDatagram)
	timeouts := 0
	for {
		select {
		case <-stop:
			log.Debug("..reader terminated")
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(socketTimeout))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-stop:
				log.Debug("..reader terminated")
				return
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				timeouts++
				metrics.SocketTimeouts.Inc()
				log.Infof("socket timeout received (%d/%d)", timeouts, maxTimeoutCount)
				if timeouts >= maxTimeoutCount {
					log.Warn("too many timeouts, disconnecting, reader terminated")
					x.connectionLost()
					return
				}
				continue
			}
			log.Warnf("read error: %v", err)
			continue
		}

		timeouts = 0
		metrics.PacketsRead.Inc()
		values, err := decodeRREFResponse(buf[:n])
		if err != nil {
			log.Warnf("%v", err)
			continue
		}
		for _, v := range values {
			x.queue.push(queueItem{index: v.Index, value: v.Value})
		}
		metrics.ValuesEnqueued.Add(float64(len(values)))
	}
}

// connectionLost clears the beacon and stops the auxiliary collector; the
// supervisor's connect loop will search for the simulator again.
func (x *Client) connectionLost() {
	x.supervisor.MarkDisconnected()
	if x.fma != nil && x.fma.Running() {
		log.Info("stopping FMA..")
		x.fma.Stop()
	}
}

// dispatchLoop drains the queue, updates dataref values and fires change
// notifications. It exits only on the terminate sentinel.
func (x *Client) dispatchLoop(done chan struct{}) {
	defer func() {
		x.mu.Lock()
		x.dispatcherRunning = false
		x.mu.Unlock()
		close(done)
	}()
	log.Debug("dispatcher starting..")
	var totalValues, totalUpdates int
	var totalUpdateDuration time.Duration
	for {
		item := x.queue.pop()
		if item.terminate {
			log.Debug("..dispatcher terminated")
			return
		}
		totalValues++

		x.mu.Lock()
		path, known := x.indexToPath[item.index]
		cascade := known && x.monitored[path] > 0
		x.mu.Unlock()
		if !known {
			metrics.StaleValues.Inc()
			log.Debugf("no dataref for index %d, probably no longer monitored", item.index)
			continue
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Warnf("dispatcher: recovered: %v", r)
				}
			}()
			before := time.Now()
			metrics.DatarefUpdates.Inc()
			if x.registry.UpdateValue(path, float64(item.value), cascade) {
				metrics.DatarefChanges.Inc()
				totalUpdates++
				totalUpdateDuration += time.Since(before)
			}
		}()

		if totalValues%loopAlive == 0 && totalUpdates > 0 {
			log.Debugf("average update time %v (%d updates, %d values), backlog %d",
				totalUpdateDuration/time.Duration(totalUpdates), totalUpdates, totalValues, x.queue.len())
		}
	}
}

// --- Transport hooks (driven by the supervisor) ---

// Start opens a fresh data socket, launches reader and dispatcher, then
// cancels any stale simulator-side subscriptions and re-subscribes the
// datarefs the active pages need.
func (x *Client) Start() {
	if !x.supervisor.Connected() {
		log.Warn("no IP address, could not start")
		return
	}

	x.mu.Lock()
	if x.conn != nil {
		x.conn.Close()
	}
	conn, err := net.ListenUDP("udp4", nil) // replies come back to the source port
	if err != nil {
		x.mu.Unlock()
		log.Errorf("open data socket: %v", err)
		return
	}
	x.conn = conn

	startReader := !x.readerRunning
	if startReader {
		x.readerRunning = true
		x.readStopRequested = false
		x.stopRead = make(chan struct{})
		x.readerDone = make(chan struct{})
	}
	stopRead, readerDone := x.stopRead, x.readerDone

	startDispatcher := !x.dispatcherRunning
	if startDispatcher {
		x.dispatcherRunning = true
		x.dispatcherDone = make(chan struct{})
	}
	dispatcherDone := x.dispatcherDone
	x.mu.Unlock()

	if startReader {
		go x.readLoop(conn, stopRead, readerDone)
		log.Info("UDP reader started")
	} else {
		log.Info("UDP reader already running")
	}
	if startDispatcher {
		go x.dispatchLoop(dispatcherDone)
		x.updateState(tpsink.StateDrefMonitorRunning, tpsink.IntTrue)
		log.Info("dataref dispatcher started")
	} else {
		log.Info("dataref dispatcher already running")
	}

	x.checkFMA()

	// when restarted after a network failure, the simulator's view of our
	// subscriptions is stale: cancel everything, then subscribe the datarefs
	// of the currently active pages
	x.mu.Lock()
	log.Debug("cancel previous subscriptions")
	x.suppressAllMonitoringLocked()
	log.Debug("add current subscriptions")
	x.startMonitoringLocked()
	x.mu.Unlock()
}

// Stop halts the dispatcher (via sentinel) and the reader (via stop flag),
// joining each with a bounded wait.
func (x *Client) Stop() {
	x.mu.Lock()
	x.suppressAllMonitoringLocked()
	dispatcherRunning := x.dispatcherRunning
	dispatcherDone := x.dispatcherDone
	x.mu.Unlock()

	if dispatcherRunning {
		log.Debug("stopping dataref dispatcher..")
		x.queue.push(queueItem{terminate: true})
		select {
		case <-dispatcherDone:
		case <-time.After(socketTimeout):
			log.Warn("..dispatcher may hang..")
		}
		x.updateState(tpsink.StateDrefMonitorRunning, tpsink.IntFalse)
		log.Debug("..dataref dispatcher stopped")
	}

	x.mu.Lock()
	var readerDone chan struct{}
	if x.readerRunning && !x.readStopRequested {
		x.readStopRequested = true
		close(x.stopRead)
		if x.conn != nil {
			x.conn.SetReadDeadline(time.Now())
		}
		readerDone = x.readerDone
	}
	x.mu.Unlock()

	if readerDone != nil {
		log.Debugf("stopping UDP reader (may last %s for the socket to time out)..", socketTimeout)
		select {
		case <-readerDone:
		case <-time.After(socketTimeout + time.Second):
			log.Warn("..reader may hang in recvfrom..")
		}
		log.Debug("..UDP reader stopped")
	}
}

// Cleanup cancels dataref reporting in the simulator just before
// disconnecting, and stops the auxiliary collector.
func (x *Client) Cleanup() {
	if x.fma != nil && x.fma.Running() {
		log.Info("stopping FMA..")
		x.fma.Stop()
	}
	x.mu.Lock()
	x.suppressAllMonitoringLocked()
	x.mu.Unlock()
}

// --- Page manipulations ---

// EnteringPage subscribes the page's datarefs when its usage goes 0 -> 1.
func (x *Client) EnteringPage(name string) {
	x.mu.Lock()
	drefs, ok := x.pages[name]
	if !ok {
		x.mu.Unlock()
		log.Warnf("page %s not found in %s file", name, x.statesPath)
		return
	}
	usage := x.pageUsages[name]
	if usage == 0 {
		x.addToMonitorLocked(drefs)
	}
	x.pageUsages[name] = usage + 1
	log.Debugf("page usage: %v", x.pageUsages)
	x.mu.Unlock()
	log.Debugf("entered page %s", name)
	x.checkFMA()
}

// LeavingPage unsubscribes the page's datarefs when its usage goes 1 -> 0.
func (x *Client) LeavingPage(name string) {
	x.mu.Lock()
	drefs, ok := x.pages[name]
	if !ok {
		x.mu.Unlock()
		log.Warnf("page %s not found", name)
		return
	}
	if usage := x.pageUsages[name]; usage > 0 {
		x.pageUsages[name] = usage - 1
		if usage == 1 {
			x.removeFromMonitorLocked(drefs)
		}
	}
	log.Debugf("page usage: %v", x.pageUsages)
	x.mu.Unlock()
	log.Debugf("left page %s", name)
	x.checkFMA()
}

// checkFMA runs the FMA collector iff an active page contains its guard
// dataref.
func (x *Client) checkFMA() {
	if x.fma == nil {
		return
	}
	run := false
	x.mu.Lock()
	for name, usage := range x.pageUsages {
		if usage > 0 {
			if _, ok := x.pages[name][fma.GuardDataref]; ok {
				run = true
				break
			}
		}
	}
	x.mu.Unlock()
	log.Debugf("check FMA %v", run)
	x.fma.Check(run)
}

// --- Lifecycle ---

// Init loads the dynamic states file, creates the Touch Portal states,
// collects datarefs per page, and starts the connection supervisor.
func (x *Client) Init() error {
	if err := x.loadStates(); err != nil {
		return err
	}
	x.supervisor.Connect()
	return nil
}

// loadStates reads the states file and builds the state and page tables.
// A missing file is not an error; the plugin runs with no dynamic states.
func (x *Client) loadStates() error {
	if _, err := os.Stat(x.statesPath); err != nil {
		log.Debugf("no file %s", x.statesPath)
		return nil
	}
	f, err := statesfile.Load(x.statesPath)
	if err != nil {
		log.Warnf("%v", err)
		return err
	}

	x.mu.Lock()
	x.statesFile = f.Copy()
	x.longPress = append([]string(nil), f.LongPressCommands...)
	totalDrefs := 0
	for _, page := range f.Pages {
		pageDrefs := make(map[string]*dataref.Dataref)
		x.pages[page.Name] = pageDrefs
		x.pageUsages[page.Name] = 0
		for _, st := range page.States {
			internal := st.InternalName
			if internal == "" {
				internal = state.InternalName(st.Name)
			}
			tps, ok := x.states[internal]
			if !ok {
				tps = state.New(st, x.registry, x.sink)
				x.states[internal] = tps
			}
			// state may already exist from another page; either way the
			// page needs its datarefs
			for _, p := range tps.DatarefPaths() {
				pageDrefs[p] = x.registry.Get(p)
			}
		}
		totalDrefs += len(pageDrefs)
		log.Infof("page %s loaded %d states, %d datarefs", page.Name, len(page.States), len(pageDrefs))
	}
	stateCount := len(x.states)
	x.mu.Unlock()

	log.Infof("declared %d states, %d datarefs", stateCount, totalDrefs)
	return nil
}

// Reinit validates the (possibly new) states file, and only then unloads
// every page, drops the state and dataref tables, and reloads. A bad file
// leaves the running configuration untouched.
func (x *Client) Reinit(path string) error {
	if path == "" {
		path = x.statesPath
	}
	if err := statesfile.Validate(path); err != nil {
		log.Warnf("states file %s is invalid, states not reloaded: %v", path, err)
		return err
	}

	// force-unload every loaded page to release its subscriptions
	x.mu.Lock()
	var loaded []string
	for name, usage := range x.pageUsages {
		if usage > 0 {
			x.pageUsages[name] = 1
			loaded = append(loaded, name)
		}
	}
	x.mu.Unlock()
	for _, name := range loaded {
		x.LeavingPage(name)
	}

	// drop states, pages and datarefs
	x.mu.Lock()
	states := x.states
	x.states = make(map[string]*state.TPState)
	x.pages = make(map[string]map[string]*dataref.Dataref)
	x.pageUsages = make(map[string]int)
	x.monitored = make(map[string]int)
	x.longPress = nil
	x.mu.Unlock()
	for _, s := range states {
		s.Remove()
	}
	x.registry.Clear()

	x.statesPath = path
	return x.Init()
}

// Terminate cleanly shuts everything down: stop monitoring, stop the tasks,
// drop the tables, stop the supervisor. Safe to call twice.
func (x *Client) Terminate() {
	if !x.supervisor.Connected() {
		log.Debug("currently not running")
		// the dispatcher outlives a lost connection
		x.Stop()
		if x.supervisor.Running() {
			log.Debug("stopping connection monitor..")
			x.supervisor.Disconnect()
			log.Debug("..stopped")
		}
		return
	}
	log.Info("..stopping..")
	x.Stop()
	log.Info("..stop dataref monitoring..")
	x.Cleanup()
	x.deleteAllDatarefs()
	log.Info("..disconnecting..")
	x.supervisor.Disconnect()
	log.Info("..terminated")
}

// deleteAllDatarefs unsubscribes everything and resets the registry.
func (x *Client) deleteAllDatarefs() {
	x.mu.Lock()
	drefs := make(map[string]*dataref.Dataref, len(x.monitored))
	for path := range x.monitored {
		x.monitored[path] = 1 // force the 1 -> 0 transition
		drefs[path] = x.registry.Get(path)
	}
	x.removeFromMonitorLocked(drefs)
	x.monitored = make(map[string]int)
	x.mu.Unlock()
	x.registry.Clear()
	log.Debug("datarefs removed")
}
