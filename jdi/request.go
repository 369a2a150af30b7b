// Copyright © 2024 The zs-debug-adapter authors

package jdi

// SuspendPolicy controls which threads an event suspends.
type SuspendPolicy int

const (
	SuspendNone SuspendPolicy = iota
	SuspendEventThread
	SuspendAll
)

// StepSize is the granularity of a step request.
type StepSize int

const (
	StepMin StepSize = iota
	StepLine
)

// StepDepth selects over, into or out of calls.
type StepDepth int

const (
	StepInto StepDepth = iota
	StepOver
	StepOut
)

func (d StepDepth) String() string {
	switch d {
	case StepInto:
		return "into"
	case StepOver:
		return "over"
	case StepOut:
		return "out"
	}
	return "unknown"
}

// EventRequest is a wire-level request for events. Requests are created
// disabled.
type EventRequest interface {
	Enable() error
	Disable() error
	IsEnabled() bool
	SetSuspendPolicy(p SuspendPolicy)
	// AddCountFilter makes the request fire only on the count-th hit and
	// then expire.
	AddCountFilter(count int)
}

// EventRequestManager creates and deletes event requests.
type EventRequestManager interface {
	// CreateClassPrepareRequest reports classes whose source name matches
	// the pattern, which may start or end with '*'.
	CreateClassPrepareRequest(sourceNamePattern string) (EventRequest, error)
	CreateBreakpointRequest(loc Location) (EventRequest, error)
	CreateStepRequest(thread ThreadReference, size StepSize, depth StepDepth) (EventRequest, error)
	DeleteEventRequest(req EventRequest) error
	DeleteAllBreakpoints() error
}
