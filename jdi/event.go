// Copyright © 2024 The zs-debug-adapter authors

package jdi

import (
	"context"
	"fmt"
)

// EventKind identifies a runtime event. The set is closed.
type EventKind int

const (
	EventVMStart EventKind = iota
	EventThreadStart
	EventThreadDeath
	EventClassPrepare
	EventBreakpoint
	EventStep
	EventVMDeath
	EventVMDisconnect
)

var eventKindNames = []string{
	EventVMStart:      "VMStart",
	EventThreadStart:  "ThreadStart",
	EventThreadDeath:  "ThreadDeath",
	EventClassPrepare: "ClassPrepare",
	EventBreakpoint:   "Breakpoint",
	EventStep:         "Step",
	EventVMDeath:      "VMDeath",
	EventVMDisconnect: "VMDisconnect",
}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventKindNames) {
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
	return eventKindNames[k]
}

// Event is a single occurrence reported by the target.
type Event struct {
	Kind EventKind
	// Thread is set for thread, breakpoint and step events.
	Thread ThreadReference
	// Type is set for class prepare events.
	Type ReferenceType
	// Location is set for breakpoint and step events.
	Location Location
	// Request is the request that produced the event, if any.
	Request EventRequest
}

func (e Event) String() string {
	switch {
	case e.Thread != nil:
		return fmt.Sprintf("%s(thread=%d)", e.Kind, e.Thread.UniqueID())
	case e.Type != nil:
		return fmt.Sprintf("%s(type=%s)", e.Kind, e.Type.Name())
	default:
		return e.Kind.String()
	}
}

// EventSet is a batch of events delivered together. The threads it
// suspended stay suspended until Resume is called.
type EventSet interface {
	Events() []Event
	SuspendPolicy() SuspendPolicy
	Resume() error
}

// EventQueue delivers event sets in the order the target emits them.
type EventQueue interface {
	// Remove blocks until an event set is available. It returns
	// ErrDisconnected once the target connection is gone.
	Remove(ctx context.Context) (EventSet, error)
}
