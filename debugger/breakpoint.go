// Copyright © 2024 The zs-debug-adapter authors

package debugger

import (
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/warmthdawn/zs-debug-adapter/jdi"
)

// ScriptSourcePattern selects the classes compiled from scripts.
const ScriptSourcePattern = "*.zs"

// Breakpoint is a line breakpoint requested by the client.
type Breakpoint struct {
	ID int
	// Source is the absolute path of the script file.
	Source string
	Line   int
	Column int
	// Verified is set once a wire-level breakpoint is active for the record.
	Verified bool
}

// SourceBreakpoint is a requested breakpoint position.
type SourceBreakpoint struct {
	Line   int
	Column int
}

type resolvedBreakpoint struct {
	bp  *Breakpoint
	req jdi.EventRequest
}

// BreakpointManager tracks the breakpoints of every source file. A record is
// pending until a loaded class compiled from its file has code on its line,
// and resolved with an active wire request from then on.
//
// All methods are safe for concurrent use. The class prepare handler runs on
// the bus poller while SetBreakpoints runs on a request goroutine.
type BreakpointManager struct {
	log logrus.FieldLogger
	ids *atomic.Int64

	mu          sync.Mutex
	session     *Session
	requested   map[string][]*Breakpoint
	resolved    map[string][]resolvedBreakpoint
	pending     map[string][]*Breakpoint
	prepareReq  jdi.EventRequest
	unsubscribe func()
}

// BreakpointOption configures a BreakpointManager.
type BreakpointOption func(*BreakpointManager)

// WithBreakpointLogger sets the logger of the manager.
func WithBreakpointLogger(log logrus.FieldLogger) BreakpointOption {
	return func(m *BreakpointManager) {
		m.log = log
	}
}

// NewBreakpointManager returns a manager with no session. Breakpoints set
// before Attach stay pending.
func NewBreakpointManager(opts ...BreakpointOption) *BreakpointManager {
	m := &BreakpointManager{
		ids:       atomic.NewInt64(0),
		requested: make(map[string][]*Breakpoint),
		resolved:  make(map[string][]resolvedBreakpoint),
		pending:   make(map[string][]*Breakpoint),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logrus.StandardLogger()
	}
	m.log = m.log.WithField("component", "breakpoints")
	return m
}

// SetBreakpoints replaces every breakpoint of source with bps. Wire requests
// of the previous set are deleted before the new set is resolved against
// the classes already loaded. The returned snapshots carry the verified
// state reached during the call.
func (m *BreakpointManager) SetBreakpoints(source string, bps []SourceBreakpoint) []Breakpoint {
	source = filepath.Clean(source)
	m.log.Infof("Adding %d breakpoints in %s", len(bps), filepath.Base(source))

	m.mu.Lock()
	defer m.mu.Unlock()

	m.teardown(source)
	delete(m.pending, source)

	records := make([]*Breakpoint, len(bps))
	for i, sb := range bps {
		records[i] = &Breakpoint{
			ID:     int(m.ids.Inc()),
			Source: source,
			Line:   sb.Line,
			Column: sb.Column,
		}
	}
	if len(records) == 0 {
		delete(m.requested, source)
	} else {
		m.requested[source] = records
		m.pending[source] = append([]*Breakpoint(nil), records...)
		m.resolveFile(source)
	}
	return snapshot(records)
}

// Breakpoints returns snapshots of the current records of source.
func (m *BreakpointManager) Breakpoints(source string) []Breakpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return snapshot(m.requested[filepath.Clean(source)])
}

// Sources returns the sorted paths of every file with breakpoints.
func (m *BreakpointManager) Sources() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	sources := make([]string, 0, len(m.requested))
	for source := range m.requested {
		sources = append(sources, source)
	}
	sort.Strings(sources)
	return sources
}

// Attach binds the manager to a session. It requests class prepare events
// for script classes, subscribes to them and resolves every breakpoint set
// so far, publishing EventBreakpointChanged for each one that resolves.
// Attach must be called before the session's bus is started.
func (m *BreakpointManager) Attach(s *Session) error {
	req, err := s.VM().EventRequestManager().CreateClassPrepareRequest(ScriptSourcePattern)
	if err != nil {
		return err
	}
	req.SetSuspendPolicy(jdi.SuspendEventThread)
	if err := req.Enable(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	m.session = s
	m.prepareReq = req
	m.unsubscribe = s.Bus().On(EventClassPrepare, m.onClassPrepare)
	m.mu.Unlock()

	m.Refresh()
	return nil
}

// Refresh deletes every wire request and resolves every requested
// breakpoint again.
func (m *BreakpointManager) Refresh() {
	m.mu.Lock()
	s := m.session
	if s == nil {
		m.mu.Unlock()
		return
	}
	var changed []Breakpoint
	loaded, pending := 0, 0
	for source, records := range m.requested {
		m.teardown(source)
		for _, bp := range records {
			bp.Verified = false
		}
		m.pending[source] = append([]*Breakpoint(nil), records...)
		resolved := m.resolveFile(source)
		changed = append(changed, resolved...)
		loaded += len(resolved)
		pending += len(m.pending[source])
	}
	m.mu.Unlock()

	m.log.Infof("Breakpoints refreshed, loaded %d breakpoints, pending %d breakpoints", loaded, pending)
	m.publish(s, changed)
}

// Reset forgets the session and every breakpoint. Wire requests are not
// deleted since the session is being torn down.
func (m *BreakpointManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
	m.session = nil
	m.prepareReq = nil
	m.requested = make(map[string][]*Breakpoint)
	m.resolved = make(map[string][]resolvedBreakpoint)
	m.pending = make(map[string][]*Breakpoint)
	m.log.Info("Reset breakpoint manager")
}

func (m *BreakpointManager) onClassPrepare(ev *Event) {
	if ev.Type == nil {
		return
	}
	name := ev.Type.Name()
	sourceName, err := ev.Type.SourceName()
	if err != nil {
		m.log.WithError(err).Debugf("No source name for class %s", name)
		return
	}
	sourceName = normalizeSourceName(sourceName)

	m.mu.Lock()
	s := m.session
	if s == nil {
		m.mu.Unlock()
		return
	}
	var changed []Breakpoint
	for source, records := range m.pending {
		rel, ok := s.relativePath(source)
		if !ok || rel != sourceName {
			continue
		}
		var remaining []*Breakpoint
		for _, bp := range records {
			if m.resolve(source, bp, []jdi.ReferenceType{ev.Type}) {
				changed = append(changed, *bp)
			} else {
				remaining = append(remaining, bp)
			}
		}
		m.setPending(source, remaining)
	}
	m.mu.Unlock()

	if len(changed) == 0 {
		m.log.Infof("Loading class %s without breakpoints", name)
	} else {
		m.log.Infof("Loading class %s with %d breakpoints", name, len(changed))
	}
	m.publish(s, changed)
}

func (m *BreakpointManager) publish(s *Session, changed []Breakpoint) {
	for i := range changed {
		bp := changed[i]
		s.Bus().Emit(&Event{Kind: EventBreakpointChanged, Breakpoint: &bp})
	}
}

// teardown deletes the wire requests of the resolved records of source.
// The caller holds m.mu.
func (m *BreakpointManager) teardown(source string) {
	resolved := m.resolved[source]
	delete(m.resolved, source)
	if m.session == nil {
		return
	}
	erm := m.session.VM().EventRequestManager()
	for _, r := range resolved {
		if err := erm.DeleteEventRequest(r.req); err != nil {
			m.log.WithError(err).Warnf("Failed to delete breakpoint request at %s:%d", filepath.Base(source), r.bp.Line)
		}
	}
}

// resolveFile tries to resolve the pending records of source against the
// loaded classes and returns snapshots of the records that resolved. The
// caller holds m.mu.
func (m *BreakpointManager) resolveFile(source string) []Breakpoint {
	if m.session == nil || len(m.pending[source]) == 0 {
		return nil
	}
	classes := m.session.classesOf(source)
	if len(classes) == 0 {
		return nil
	}
	var changed []Breakpoint
	var remaining []*Breakpoint
	for _, bp := range m.pending[source] {
		if m.resolve(source, bp, classes) {
			changed = append(changed, *bp)
		} else {
			remaining = append(remaining, bp)
		}
	}
	m.setPending(source, remaining)
	return changed
}

// resolve places a wire request at the first code location of the line of
// bp in the first class that has one. The caller holds m.mu.
func (m *BreakpointManager) resolve(source string, bp *Breakpoint, classes []jdi.ReferenceType) bool {
	erm := m.session.VM().EventRequestManager()
	for _, class := range classes {
		locs, err := class.LocationsOfLine(bp.Line)
		if err != nil {
			if !errors.Is(err, jdi.ErrAbsentInformation) {
				m.log.WithError(err).Warnf("Failed to get locations of line %d in %s", bp.Line, class.Name())
			}
			continue
		}
		if len(locs) == 0 {
			continue
		}
		req, err := erm.CreateBreakpointRequest(locs[0])
		if err != nil {
			m.log.WithError(err).Warnf("Failed to create breakpoint request in %s", class.Name())
			continue
		}
		req.SetSuspendPolicy(jdi.SuspendEventThread)
		if err := req.Enable(); err != nil {
			m.log.WithError(err).Warnf("Failed to enable breakpoint request in %s", class.Name())
			_ = erm.DeleteEventRequest(req)
			continue
		}
		bp.Verified = true
		m.resolved[source] = append(m.resolved[source], resolvedBreakpoint{bp: bp, req: req})
		return true
	}
	return false
}

func (m *BreakpointManager) setPending(source string, records []*Breakpoint) {
	if len(records) == 0 {
		delete(m.pending, source)
		return
	}
	m.pending[source] = records
}

func snapshot(records []*Breakpoint) []Breakpoint {
	out := make([]Breakpoint, len(records))
	for i, bp := range records {
		out[i] = *bp
	}
	return out
}
