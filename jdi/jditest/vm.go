// Copyright © 2024 The zs-debug-adapter authors

// Package jditest provides an in-memory virtual machine implementing the jdi
// interfaces. Tests drive it by loading classes, posting events and
// inspecting the event requests the adapter created.
package jditest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/warmthdawn/zs-debug-adapter/jdi"
)

// ErrNotSuspended is returned when frames are read from a running thread.
var ErrNotSuspended = errors.New("jditest: thread not suspended")

// VM is an in-memory jdi.VirtualMachine. All methods are safe for
// concurrent use.
type VM struct {
	mu       sync.Mutex
	threads  []*Thread
	classes  []*Class
	nextID   int64
	erm      *RequestManager
	queue    *Queue
	process  *Process
	exitCode int
	exited   bool
	disposed bool
	exitErr  error
	resumes  int
}

var _ jdi.VirtualMachine = (*VM)(nil)

// NewVM returns an empty virtual machine.
func NewVM() *VM {
	vm := &VM{nextID: 1000}
	vm.erm = &RequestManager{vm: vm}
	vm.queue = newQueue()
	return vm
}

// Connector returns a connector that always attaches to vm and records the
// configuration it was given in cfg, when cfg is non-nil.
func Connector(vm *VM, cfg *jdi.AttachConfig) jdi.Connector {
	return jdi.ConnectorFunc(func(ctx context.Context, c jdi.AttachConfig) (jdi.VirtualMachine, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if cfg != nil {
			*cfg = c
		}
		return vm, nil
	})
}

func (vm *VM) newObjectID() int64 {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.nextID++
	return vm.nextID
}

// AddThread registers a live thread without posting an event.
func (vm *VM) AddThread(id int64, name string) *Thread {
	t := &Thread{vm: vm, id: id, name: name}
	vm.mu.Lock()
	vm.threads = append(vm.threads, t)
	vm.mu.Unlock()
	return t
}

// RemoveThread drops a thread from the live set without posting an event.
func (vm *VM) RemoveThread(t *Thread) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	for i, x := range vm.threads {
		if x == t {
			vm.threads = append(vm.threads[:i], vm.threads[i+1:]...)
			return
		}
	}
}

// AddClass loads a class silently, as if it was loaded before attach.
func (vm *VM) AddClass(c *Class) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.classes = append(vm.classes, c)
}

// LoadClass loads a class and posts a class prepare event when an enabled
// class prepare request matches its source name. It reports whether an
// event was posted.
func (vm *VM) LoadClass(c *Class) bool {
	vm.AddClass(c)
	req := vm.erm.matchClassPrepare(c.source)
	if req == nil {
		return false
	}
	vm.Post(req.suspendPolicy(), jdi.Event{Kind: jdi.EventClassPrepare, Type: c, Request: req})
	return true
}

// StartThread adds a thread and posts a thread start event.
func (vm *VM) StartThread(id int64, name string) *Thread {
	t := vm.AddThread(id, name)
	vm.Post(jdi.SuspendNone, jdi.Event{Kind: jdi.EventThreadStart, Thread: t})
	return t
}

// KillThread removes a thread and posts a thread death event.
func (vm *VM) KillThread(t *Thread) {
	vm.RemoveThread(t)
	vm.Post(jdi.SuspendNone, jdi.Event{Kind: jdi.EventThreadDeath, Thread: t})
}

// HitBreakpoint posts a breakpoint event if an enabled breakpoint request
// covers loc. The thread is suspended following the request's policy.
func (vm *VM) HitBreakpoint(t *Thread, loc *Location) bool {
	req := vm.erm.matchBreakpoint(loc)
	if req == nil {
		return false
	}
	vm.Post(req.suspendPolicy(), jdi.Event{Kind: jdi.EventBreakpoint, Thread: t, Location: loc, Request: req})
	return true
}

// CompleteStep posts a step event if an enabled step request exists for t.
// Count filtered requests expire once they fire.
func (vm *VM) CompleteStep(t *Thread, loc *Location) bool {
	req := vm.erm.matchStep(t)
	if req == nil {
		return false
	}
	vm.Post(req.suspendPolicy(), jdi.Event{Kind: jdi.EventStep, Thread: t, Location: loc, Request: req})
	return true
}

// Die posts a VM death event.
func (vm *VM) Die() {
	vm.Post(jdi.SuspendNone, jdi.Event{Kind: jdi.EventVMDeath})
}

// Disconnect makes the event queue and subsequent calls fail with
// jdi.ErrDisconnected.
func (vm *VM) Disconnect() {
	vm.queue.close()
}

// Post queues an event set. Threads are suspended according to policy
// before the set becomes visible, and resumed again by EventSet.Resume.
func (vm *VM) Post(policy jdi.SuspendPolicy, events ...jdi.Event) *EventSet {
	set := &EventSet{vm: vm, policy: policy, events: events}
	switch policy {
	case jdi.SuspendEventThread:
		for _, ev := range events {
			if t, ok := ev.Thread.(*Thread); ok {
				_ = t.Suspend()
				set.suspended = append(set.suspended, t)
			}
		}
	case jdi.SuspendAll:
		vm.mu.Lock()
		all := append([]*Thread(nil), vm.threads...)
		vm.mu.Unlock()
		for _, t := range all {
			_ = t.Suspend()
			set.suspended = append(set.suspended, t)
		}
	}
	vm.queue.push(set)
	return set
}

// SetProcess attaches stdio readers to the VM.
func (vm *VM) SetProcess(stdout, stderr io.Reader) *Process {
	p := &Process{stdout: stdout, stderr: stderr, alive: true}
	vm.mu.Lock()
	vm.process = p
	vm.mu.Unlock()
	return p
}

// FailExit makes Exit return err.
func (vm *VM) FailExit(err error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.exitErr = err
}

// Exited reports whether Exit was called and with which code.
func (vm *VM) Exited() (bool, int) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.exited, vm.exitCode
}

// Disposed reports whether Dispose was called.
func (vm *VM) Disposed() bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.disposed
}

// ResumeCount returns how many times the whole VM was resumed.
func (vm *VM) ResumeCount() int {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.resumes
}

// Requests returns the request manager for assertions.
func (vm *VM) Requests() *RequestManager {
	return vm.erm
}

func (vm *VM) AllThreads() ([]jdi.ThreadReference, error) {
	if vm.queue.isClosed() {
		return nil, jdi.ErrDisconnected
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()
	threads := make([]jdi.ThreadReference, len(vm.threads))
	for i, t := range vm.threads {
		threads[i] = t
	}
	return threads, nil
}

func (vm *VM) AllClasses() ([]jdi.ReferenceType, error) {
	if vm.queue.isClosed() {
		return nil, jdi.ErrDisconnected
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()
	classes := make([]jdi.ReferenceType, len(vm.classes))
	for i, c := range vm.classes {
		classes[i] = c
	}
	return classes, nil
}

func (vm *VM) EventRequestManager() jdi.EventRequestManager { return vm.erm }

func (vm *VM) EventQueue() jdi.EventQueue { return vm.queue }

func (vm *VM) MirrorOf(v any) (jdi.Value, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case string:
		return String(v), nil
	case int:
		return Int(v), nil
	case int64:
		return Long(v), nil
	case bool:
		return Bool(v), nil
	}
	return nil, fmt.Errorf("jditest: cannot mirror %T", v)
}

func (vm *VM) Process() jdi.Process {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.process == nil {
		return nil
	}
	return vm.process
}

func (vm *VM) Resume() error {
	if vm.queue.isClosed() {
		return jdi.ErrDisconnected
	}
	vm.mu.Lock()
	vm.resumes++
	all := append([]*Thread(nil), vm.threads...)
	vm.mu.Unlock()
	for _, t := range all {
		_ = t.Resume()
	}
	return nil
}

func (vm *VM) Exit(code int) error {
	vm.mu.Lock()
	if vm.exitErr != nil {
		err := vm.exitErr
		vm.mu.Unlock()
		return err
	}
	vm.exited = true
	vm.exitCode = code
	if vm.process != nil {
		vm.process.alive = false
	}
	vm.mu.Unlock()
	return nil
}

func (vm *VM) Dispose() error {
	vm.mu.Lock()
	vm.disposed = true
	vm.mu.Unlock()
	vm.queue.close()
	return nil
}

// Process is an in-memory target process.
type Process struct {
	stdout, stderr io.Reader
	alive          bool
}

func (p *Process) Stdout() io.Reader { return p.stdout }
func (p *Process) Stderr() io.Reader { return p.stderr }
func (p *Process) Alive() bool       { return p.alive }

// EventSet is a posted batch of events.
type EventSet struct {
	vm        *VM
	policy    jdi.SuspendPolicy
	events    []jdi.Event
	suspended []*Thread

	mu      sync.Mutex
	resumed bool
}

func (s *EventSet) Events() []jdi.Event               { return s.events }
func (s *EventSet) SuspendPolicy() jdi.SuspendPolicy { return s.policy }

func (s *EventSet) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resumed {
		return nil
	}
	s.resumed = true
	for _, t := range s.suspended {
		_ = t.Resume()
	}
	return nil
}

// Resumed reports whether Resume was called on the set.
func (s *EventSet) Resumed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumed
}

// Queue is an unbounded FIFO of event sets.
type Queue struct {
	mu     sync.Mutex
	sets   []*EventSet
	ready  chan struct{}
	closed chan struct{}
	once   sync.Once
}

func newQueue() *Queue {
	return &Queue{
		ready:  make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (q *Queue) push(s *EventSet) {
	q.mu.Lock()
	q.sets = append(q.sets, s)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *Queue) close() {
	q.once.Do(func() { close(q.closed) })
}

func (q *Queue) isClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}

func (q *Queue) Remove(ctx context.Context) (jdi.EventSet, error) {
	for {
		q.mu.Lock()
		if len(q.sets) > 0 {
			s := q.sets[0]
			q.sets = q.sets[1:]
			q.mu.Unlock()
			return s, nil
		}
		q.mu.Unlock()
		select {
		case <-q.ready:
		case <-q.closed:
			return nil, jdi.ErrDisconnected
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Thread is an in-memory thread with a suspend count.
type Thread struct {
	vm   *VM
	id   int64
	name string

	mu       sync.Mutex
	suspends int
	frames   []*Frame
}

var _ jdi.ThreadReference = (*Thread)(nil)

func (t *Thread) UniqueID() int64         { return t.id }
func (t *Thread) Name() (string, error)   { return t.name, nil }
func (t *Thread) IsSuspended() (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.suspends > 0, nil
}

func (t *Thread) SuspendCount() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.suspends, nil
}

func (t *Thread) Suspend() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.suspends++
	return nil
}

func (t *Thread) Resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.suspends > 0 {
		t.suspends--
	}
	return nil
}

// SetFrames replaces the call stack, innermost frame first.
func (t *Thread) SetFrames(frames ...*Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, f := range frames {
		f.thread = t
	}
	t.frames = frames
}

func (t *Thread) Frames() ([]jdi.StackFrame, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.suspends == 0 {
		return nil, ErrNotSuspended
	}
	frames := make([]jdi.StackFrame, len(t.frames))
	for i, f := range t.frames {
		frames[i] = f
	}
	return frames, nil
}

// RequestManager records event requests.
type RequestManager struct {
	vm *VM

	mu       sync.Mutex
	requests []*Request
}

type requestKind int

const (
	requestClassPrepare requestKind = iota
	requestBreakpoint
	requestStep
)

// Request is an in-memory event request.
type Request struct {
	kind    requestKind
	pattern string
	loc     *Location
	thread  *Thread
	size    jdi.StepSize
	depth   jdi.StepDepth

	mu      sync.Mutex
	enabled bool
	policy  jdi.SuspendPolicy
	count   int
}

func (r *Request) Enable() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = true
	return nil
}

func (r *Request) Disable() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = false
	return nil
}

func (r *Request) IsEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

func (r *Request) SetSuspendPolicy(p jdi.SuspendPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = p
}

func (r *Request) AddCountFilter(count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count = count
}

func (r *Request) suspendPolicy() jdi.SuspendPolicy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.policy
}

// Location returns the breakpoint location, nil for other requests.
func (r *Request) Location() *Location { return r.loc }

// Depth returns the step depth of a step request.
func (r *Request) Depth() jdi.StepDepth { return r.depth }

func (m *RequestManager) add(r *Request) *Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, r)
	return r
}

func (m *RequestManager) CreateClassPrepareRequest(pattern string) (jdi.EventRequest, error) {
	return m.add(&Request{kind: requestClassPrepare, pattern: pattern}), nil
}

func (m *RequestManager) CreateBreakpointRequest(loc jdi.Location) (jdi.EventRequest, error) {
	l, ok := loc.(*Location)
	if !ok {
		return nil, fmt.Errorf("jditest: foreign location %T", loc)
	}
	return m.add(&Request{kind: requestBreakpoint, loc: l}), nil
}

func (m *RequestManager) CreateStepRequest(thread jdi.ThreadReference, size jdi.StepSize, depth jdi.StepDepth) (jdi.EventRequest, error) {
	t, ok := thread.(*Thread)
	if !ok {
		return nil, fmt.Errorf("jditest: foreign thread %T", thread)
	}
	return m.add(&Request{kind: requestStep, thread: t, size: size, depth: depth}), nil
}

func (m *RequestManager) DeleteEventRequest(req jdi.EventRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.requests {
		if r == req {
			m.requests = append(m.requests[:i], m.requests[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *RequestManager) DeleteAllBreakpoints() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.requests[:0]
	for _, r := range m.requests {
		if r.kind != requestBreakpoint {
			kept = append(kept, r)
		}
	}
	m.requests = kept
	return nil
}

func (m *RequestManager) enabled(kind requestKind) []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Request
	for _, r := range m.requests {
		if r.kind == kind && r.IsEnabled() {
			out = append(out, r)
		}
	}
	return out
}

// Breakpoints returns the enabled breakpoint requests.
func (m *RequestManager) Breakpoints() []*Request {
	return m.enabled(requestBreakpoint)
}

// BreakpointLines returns the sorted lines of the enabled breakpoint
// requests in the class with the given source name.
func (m *RequestManager) BreakpointLines(source string) []int {
	var lines []int
	for _, r := range m.Breakpoints() {
		if r.loc.class.source == source {
			lines = append(lines, r.loc.line)
		}
	}
	sort.Ints(lines)
	return lines
}

// Steps returns every step request still registered, enabled or not.
func (m *RequestManager) Steps() []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Request
	for _, r := range m.requests {
		if r.kind == requestStep {
			out = append(out, r)
		}
	}
	return out
}

func (m *RequestManager) matchClassPrepare(source string) *Request {
	for _, r := range m.enabled(requestClassPrepare) {
		if matchPattern(r.pattern, source) {
			return r
		}
	}
	return nil
}

func (m *RequestManager) matchBreakpoint(loc *Location) *Request {
	for _, r := range m.enabled(requestBreakpoint) {
		if r.loc.class == loc.class && r.loc.line == loc.line {
			return r
		}
	}
	return nil
}

func (m *RequestManager) matchStep(t *Thread) *Request {
	for _, r := range m.enabled(requestStep) {
		if r.thread != t {
			continue
		}
		r.mu.Lock()
		if r.count > 0 {
			r.count--
			if r.count == 0 {
				r.enabled = false
			}
		}
		r.mu.Unlock()
		return r
	}
	return nil
}

func matchPattern(pattern, s string) bool {
	switch {
	case pattern == "*":
		return true
	case len(pattern) > 0 && pattern[0] == '*':
		suffix := pattern[1:]
		return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
	case len(pattern) > 0 && pattern[len(pattern)-1] == '*':
		prefix := pattern[:len(pattern)-1]
		return len(s) >= len(prefix) && s[:len(prefix)] == prefix
	}
	return pattern == s
}
