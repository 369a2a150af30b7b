// Copyright © 2024 The zs-debug-adapter authors

// Package jdi describes the runtime debug layer the adapter talks to: a
// mirror of a live virtual machine with its threads, loaded classes, stack
// frames and values, an event request manager and an event queue.
//
// The wire encoding is owned by a Connector. Connectors register themselves
// under a transport name, the same way database/sql drivers do, and the
// adapter attaches through Attach.
package jdi

import (
	"io"
)

// VirtualMachine is a mirror of an attached target runtime.
type VirtualMachine interface {
	// AllThreads returns every live thread of the target.
	AllThreads() ([]ThreadReference, error)
	// AllClasses returns every loaded reference type.
	AllClasses() ([]ReferenceType, error)
	EventRequestManager() EventRequestManager
	EventQueue() EventQueue
	// MirrorOf creates a target value from a Go string, int, int64, bool or
	// nil.
	MirrorOf(v any) (Value, error)
	// Process returns the target process when the connector launched it, or
	// nil for attached targets whose stdio is not reachable.
	Process() Process
	// Resume resumes every thread once.
	Resume() error
	Exit(code int) error
	Dispose() error
}

// Process exposes the stdio of a target process.
type Process interface {
	Stdout() io.Reader
	Stderr() io.Reader
	Alive() bool
}

// ThreadReference is a thread of the target. The unique id is stable for
// the lifetime of the thread.
type ThreadReference interface {
	UniqueID() int64
	Name() (string, error)
	IsSuspended() (bool, error)
	SuspendCount() (int, error)
	Suspend() error
	Resume() error
	// Frames returns the call stack, innermost frame first. Only valid while
	// the thread is suspended.
	Frames() ([]StackFrame, error)
}

// StackFrame is a frame of a suspended thread. Frames are invalidated as
// soon as their thread resumes.
type StackFrame interface {
	Thread() ThreadReference
	Location() Location
	// ThisObject returns nil for static methods.
	ThisObject() (ObjectReference, error)
	VisibleVariables() ([]LocalVariable, error)
	GetValue(v LocalVariable) (Value, error)
}

// Location is an executable code position.
type Location interface {
	DeclaringType() ReferenceType
	Method() Method
	LineNumber() int
	SourceName() (string, error)
	SourcePath() (string, error)
}

type Method interface {
	Name() string
	// Arguments returns the formal parameters. ErrAbsentInformation is
	// returned when the class was compiled without local variable tables.
	Arguments() ([]LocalVariable, error)
	ArgumentTypeNames() []string
	IsVarArgs() bool
}

type LocalVariable interface {
	Name() string
	TypeName() string
	IsArgument() bool
}

type Field interface {
	Name() string
	TypeName() string
	IsStatic() bool
}

// ReferenceType is a loaded class.
type ReferenceType interface {
	Name() string
	// SourceName is the source file name recorded at compile time, relative
	// to the scripts root for compiled scripts.
	SourceName() (string, error)
	// LocationsOfLine returns ErrAbsentInformation when there is no line table.
	LocationsOfLine(line int) ([]Location, error)
	AllFields() ([]Field, error)
	FieldByName(name string) (Field, error)
	AllMethods() ([]Method, error)
	// GetValue reads a static field.
	GetValue(f Field) (Value, error)
}

// Value is a value in the target. Primitive values implement only Value;
// objects implement ObjectReference and arrays ArrayReference.
type Value interface {
	TypeName() string
	String() string
}

type ObjectReference interface {
	Value
	UniqueID() int64
	ReferenceType() ReferenceType
	GetValue(f Field) (Value, error)
	// InvokeMethod runs m on thread with every other thread kept suspended.
	InvokeMethod(thread ThreadReference, m Method, args []Value) (Value, error)
}

type ArrayReference interface {
	Value
	UniqueID() int64
	Length() int
	Values() ([]Value, error)
}

// IsPrimitive reports whether v has no children in the target heap.
func IsPrimitive(v Value) bool {
	switch v.(type) {
	case ObjectReference, ArrayReference:
		return false
	}
	return true
}
