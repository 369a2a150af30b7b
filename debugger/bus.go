// Copyright © 2024 The zs-debug-adapter authors

package debugger

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/warmthdawn/zs-debug-adapter/jdi"
)

// EventKind identifies an event published on a Bus. The set is closed:
// runtime events are mapped onto it by the poller and the remaining kinds
// are emitted by the session itself.
type EventKind int

const (
	// EventThreadStart is published when a target thread starts.
	EventThreadStart EventKind = iota
	// EventThreadDeath is published when a target thread exits.
	EventThreadDeath
	// EventClassPrepare is published when a class matching a class prepare
	// request is loaded.
	EventClassPrepare
	// EventBreakpoint is published when a thread hits a breakpoint request.
	EventBreakpoint
	// EventStep is published when a step request completes.
	EventStep
	// EventExit is published once, when the poller stops.
	EventExit
	// EventBreakpointChanged is published when a pending breakpoint is
	// resolved. Event.Breakpoint holds a snapshot of the record.
	EventBreakpointChanged

	numEventKinds
)

var eventKindNames = []string{
	EventThreadStart:       "thread-start",
	EventThreadDeath:       "thread-death",
	EventClassPrepare:      "class-prepare",
	EventBreakpoint:        "breakpoint",
	EventStep:              "step",
	EventExit:              "exit",
	EventBreakpointChanged: "breakpoint-changed",
}

func (k EventKind) String() string {
	if k < 0 || k >= numEventKinds {
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
	return eventKindNames[k]
}

// busKind maps a runtime event onto the bus. VM lifecycle events have no
// bus kind; the poller handles them itself.
func busKind(k jdi.EventKind) (EventKind, bool) {
	switch k {
	case jdi.EventThreadStart:
		return EventThreadStart, true
	case jdi.EventThreadDeath:
		return EventThreadDeath, true
	case jdi.EventClassPrepare:
		return EventClassPrepare, true
	case jdi.EventBreakpoint:
		return EventBreakpoint, true
	case jdi.EventStep:
		return EventStep, true
	}
	return 0, false
}

// Event is the payload handed to bus handlers.
type Event struct {
	Kind     EventKind
	Thread   jdi.ThreadReference
	Type     jdi.ReferenceType
	Location jdi.Location
	Request  jdi.EventRequest
	// Breakpoint is set for EventBreakpointChanged.
	Breakpoint *Breakpoint

	keep bool
}

// KeepSuspended asks the poller to leave the threads of the current event
// set suspended. The set then stays suspended until a client request
// resumes the thread.
func (e *Event) KeepSuspended() {
	e.keep = true
}

// ThreadID returns the unique id of the event thread, or 0.
func (e *Event) ThreadID() int64 {
	if e.Thread == nil {
		return 0
	}
	return e.Thread.UniqueID()
}

// Handler receives bus events. Handlers run synchronously on the goroutine
// that emits the event, which for runtime events is the poller.
type Handler func(*Event)

type subscription struct {
	fn   Handler
	once bool
	dead *atomic.Bool
}

// Bus dispatches runtime events to subscribed handlers. A poller goroutine,
// started by Start, drains the event queue of the virtual machine.
type Bus struct {
	vm  jdi.VirtualMachine
	log logrus.FieldLogger

	mu       sync.Mutex
	handlers [numEventKinds][]*subscription

	started  atomic.Bool
	exitOnce sync.Once
	done     chan struct{}
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBusLogger sets the logger of the bus.
func WithBusLogger(log logrus.FieldLogger) BusOption {
	return func(b *Bus) {
		b.log = log
	}
}

// NewBus returns a bus for vm. It does not poll until Start is called, so
// handlers registered before Start see every event.
func NewBus(vm jdi.VirtualMachine, opts ...BusOption) *Bus {
	b := &Bus{
		vm:   vm,
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = logrus.StandardLogger()
	}
	b.log = b.log.WithField("component", "bus")
	return b
}

// On registers a persistent handler. Handlers of one kind run in
// registration order. The returned function removes the handler.
func (b *Bus) On(kind EventKind, h Handler) (cancel func()) {
	return b.subscribe(kind, h, false)
}

// Once registers a handler that is removed after its first invocation.
func (b *Bus) Once(kind EventKind, h Handler) (cancel func()) {
	return b.subscribe(kind, h, true)
}

func (b *Bus) subscribe(kind EventKind, h Handler, once bool) func() {
	if kind < 0 || kind >= numEventKinds {
		panic(fmt.Sprintf("debugger: invalid event kind %d", kind))
	}
	sub := &subscription{fn: h, once: once, dead: atomic.NewBool(false)}
	b.mu.Lock()
	b.handlers[kind] = append(b.handlers[kind], sub)
	b.mu.Unlock()
	return func() {
		sub.dead.Store(true)
		b.remove(kind, sub)
	}
}

func (b *Bus) remove(kind EventKind, sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.handlers[kind]
	for i, s := range subs {
		if s == sub {
			b.handlers[kind] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Emit runs every handler registered for ev.Kind and reports whether the
// threads of the event may be resumed, which is the case unless a handler
// called KeepSuspended.
func (b *Bus) Emit(ev *Event) bool {
	ev.keep = false
	b.mu.Lock()
	subs := append([]*subscription(nil), b.handlers[ev.Kind]...)
	b.mu.Unlock()
	for _, sub := range subs {
		if sub.once {
			if !sub.dead.CompareAndSwap(false, true) {
				continue
			}
			b.remove(ev.Kind, sub)
		} else if sub.dead.Load() {
			continue
		}
		sub.fn(ev)
	}
	return !ev.keep
}

// Start launches the poller. It may be called once; later calls do
// nothing. Cancelling ctx stops the poller.
func (b *Bus) Start(ctx context.Context) {
	if !b.started.CompareAndSwap(false, true) {
		return
	}
	go b.poll(ctx)
}

// Done is closed after the poller has stopped and EventExit was emitted.
func (b *Bus) Done() <-chan struct{} {
	return b.done
}

func (b *Bus) poll(ctx context.Context) {
	defer b.exit()
	queue := b.vm.EventQueue()
	for {
		set, err := queue.Remove(ctx)
		if err != nil {
			switch {
			case errors.Is(err, jdi.ErrDisconnected):
				b.log.WithError(err).Warn("Event poller terminated by disconnect")
			case ctx.Err() != nil:
				b.log.Debug("Event poller stopped")
			default:
				b.log.WithError(err).Error("Event poller failed")
			}
			return
		}
		if !b.dispatch(set) {
			return
		}
	}
}

// dispatch publishes every event of set and resumes it when no handler
// kept it suspended. It returns false when the target is gone.
func (b *Bus) dispatch(set jdi.EventSet) bool {
	resume := true
	alive := true
	for _, jev := range set.Events() {
		b.log.Debugf("Received VM event: %v", jev)
		switch jev.Kind {
		case jdi.EventVMDeath, jdi.EventVMDisconnect:
			alive = false
			resume = false
			continue
		}
		kind, ok := busKind(jev.Kind)
		if !ok {
			continue
		}
		ev := &Event{
			Kind:     kind,
			Thread:   jev.Thread,
			Type:     jev.Type,
			Location: jev.Location,
			Request:  jev.Request,
		}
		if !b.Emit(ev) {
			resume = false
		}
	}
	if resume {
		if err := set.Resume(); err != nil {
			b.log.WithError(err).Warn("Failed to resume event set")
		}
	}
	return alive
}

func (b *Bus) exit() {
	b.exitOnce.Do(func() {
		b.Emit(&Event{Kind: EventExit})
		close(b.done)
	})
}
