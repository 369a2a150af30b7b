// Copyright © 2024 The zs-debug-adapter authors

package jditest

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/warmthdawn/zs-debug-adapter/jdi"
)

// Class is an in-memory reference type. Its source is the path recorded at
// compile time, relative to the scripts root.
type Class struct {
	name   string
	source string

	mu      sync.Mutex
	lines   map[int]*Location
	noLines bool
	fields  []*Field
	statics map[string]jdi.Value
	methods []*Method
}

var _ jdi.ReferenceType = (*Class)(nil)

// NewClass returns a class with the given lines executable in a method named
// "run".
func NewClass(name, source string, lines ...int) *Class {
	c := &Class{
		name:    name,
		source:  source,
		lines:   make(map[int]*Location),
		statics: make(map[string]jdi.Value),
	}
	run := c.AddMethod(&Method{MethodName: "run"})
	for _, line := range lines {
		c.lines[line] = &Location{class: c, method: run, line: line}
	}
	return c
}

// WithoutLineInfo makes LocationsOfLine fail with jdi.ErrAbsentInformation.
func (c *Class) WithoutLineInfo() *Class {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noLines = true
	return c
}

// Line returns the location of an executable line, or a location outside the
// line table when line is not executable.
func (c *Class) Line(line int) *Location {
	c.mu.Lock()
	defer c.mu.Unlock()
	if loc, ok := c.lines[line]; ok {
		return loc
	}
	return &Location{class: c, line: line}
}

// LineIn returns a location on line attributed to method m.
func (c *Class) LineIn(m *Method, line int) *Location {
	return &Location{class: c, method: m, line: line}
}

// AddStatic declares a static field with a value.
func (c *Class) AddStatic(name, typeName string, v jdi.Value) *Field {
	f := &Field{name: name, typeName: typeName, static: true}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fields = append(c.fields, f)
	c.statics[name] = v
	return f
}

// AddField declares an instance field.
func (c *Class) AddField(name, typeName string) *Field {
	f := &Field{name: name, typeName: typeName}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fields = append(c.fields, f)
	return f
}

// AddMethod declares a method.
func (c *Class) AddMethod(m *Method) *Method {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.methods = append(c.methods, m)
	return m
}

func (c *Class) Name() string                { return c.name }
func (c *Class) SourceName() (string, error) { return c.source, nil }

func (c *Class) LocationsOfLine(line int) ([]jdi.Location, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.noLines {
		return nil, jdi.ErrAbsentInformation
	}
	loc, ok := c.lines[line]
	if !ok {
		return nil, nil
	}
	return []jdi.Location{loc}, nil
}

func (c *Class) AllFields() ([]jdi.Field, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fields := make([]jdi.Field, len(c.fields))
	for i, f := range c.fields {
		fields[i] = f
	}
	return fields, nil
}

func (c *Class) FieldByName(name string) (jdi.Field, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.fields {
		if f.name == name {
			return f, nil
		}
	}
	return nil, nil
}

func (c *Class) AllMethods() ([]jdi.Method, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	methods := make([]jdi.Method, len(c.methods))
	for i, m := range c.methods {
		methods[i] = m
	}
	return methods, nil
}

func (c *Class) GetValue(f jdi.Field) (jdi.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statics[f.Name()], nil
}

// Location is a line inside a class.
type Location struct {
	class  *Class
	method *Method
	line   int
}

func (l *Location) DeclaringType() jdi.ReferenceType { return l.class }
func (l *Location) LineNumber() int                  { return l.line }

func (l *Location) Method() jdi.Method {
	if l.method == nil {
		return nil
	}
	return l.method
}

func (l *Location) SourceName() (string, error) { return path.Base(l.class.source), nil }
func (l *Location) SourcePath() (string, error) { return l.class.source, nil }

// Method is an in-memory method. Impl, when set, runs on InvokeMethod.
type Method struct {
	MethodName string
	Args       []*LocalVar
	ArgTypes   []string
	VarArgs    bool
	NoArgInfo  bool
	Impl       func(this *Object, args []jdi.Value) (jdi.Value, error)
}

func (m *Method) Name() string { return m.MethodName }

func (m *Method) Arguments() ([]jdi.LocalVariable, error) {
	if m.NoArgInfo {
		return nil, jdi.ErrAbsentInformation
	}
	args := make([]jdi.LocalVariable, len(m.Args))
	for i, a := range m.Args {
		args[i] = a
	}
	return args, nil
}

func (m *Method) ArgumentTypeNames() []string {
	if m.ArgTypes != nil {
		return m.ArgTypes
	}
	names := make([]string, len(m.Args))
	for i, a := range m.Args {
		names[i] = a.VarType
	}
	return names
}

func (m *Method) IsVarArgs() bool { return m.VarArgs }

// LocalVar is a local variable or argument.
type LocalVar struct {
	VarName string
	VarType string
	Arg     bool
}

func (v *LocalVar) Name() string     { return v.VarName }
func (v *LocalVar) TypeName() string { return v.VarType }
func (v *LocalVar) IsArgument() bool { return v.Arg }

// Field is a declared field.
type Field struct {
	name     string
	typeName string
	static   bool
}

func (f *Field) Name() string     { return f.name }
func (f *Field) TypeName() string { return f.typeName }
func (f *Field) IsStatic() bool   { return f.static }

// Frame is a stack frame of a Thread.
type Frame struct {
	thread *Thread
	loc    *Location
	this   *Object
	vars   []*LocalVar
	values map[string]jdi.Value
}

var _ jdi.StackFrame = (*Frame)(nil)

// NewFrame returns a frame at loc.
func NewFrame(loc *Location) *Frame {
	return &Frame{loc: loc, values: make(map[string]jdi.Value)}
}

// WithThis sets the receiver of the frame.
func (f *Frame) WithThis(o *Object) *Frame {
	f.this = o
	return f
}

// WithVar adds a visible variable.
func (f *Frame) WithVar(name, typeName string, v jdi.Value) *Frame {
	f.vars = append(f.vars, &LocalVar{VarName: name, VarType: typeName})
	f.values[name] = v
	return f
}

func (f *Frame) Thread() jdi.ThreadReference { return f.thread }
func (f *Frame) Location() jdi.Location      { return f.loc }

func (f *Frame) ThisObject() (jdi.ObjectReference, error) {
	if f.this == nil {
		return nil, nil
	}
	return f.this, nil
}

func (f *Frame) VisibleVariables() ([]jdi.LocalVariable, error) {
	vars := make([]jdi.LocalVariable, len(f.vars))
	for i, v := range f.vars {
		vars[i] = v
	}
	return vars, nil
}

func (f *Frame) GetValue(v jdi.LocalVariable) (jdi.Value, error) {
	val, ok := f.values[v.Name()]
	if !ok {
		return nil, fmt.Errorf("jditest: no variable %q", v.Name())
	}
	return val, nil
}

// Primitive is a value without children.
type Primitive struct {
	Type string
	Text string
}

func (p Primitive) TypeName() string { return p.Type }
func (p Primitive) String() string   { return p.Text }

func Int(n int) Primitive     { return Primitive{Type: "int", Text: strconv.Itoa(n)} }
func Long(n int64) Primitive  { return Primitive{Type: "long", Text: strconv.FormatInt(n, 10)} }
func Bool(b bool) Primitive   { return Primitive{Type: "boolean", Text: strconv.FormatBool(b)} }
func String(s string) Primitive {
	return Primitive{Type: "java.lang.String", Text: strconv.Quote(s)}
}

// Object is an instance of a Class.
type Object struct {
	id    int64
	class *Class

	mu     sync.Mutex
	values map[string]jdi.Value
	text   string
}

var _ jdi.ObjectReference = (*Object)(nil)

// NewObject allocates an instance of c.
func (vm *VM) NewObject(c *Class) *Object {
	return &Object{id: vm.newObjectID(), class: c, values: make(map[string]jdi.Value)}
}

// Set assigns an instance field value.
func (o *Object) Set(name string, v jdi.Value) *Object {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.values[name] = v
	return o
}

// WithText overrides the display string of the object.
func (o *Object) WithText(s string) *Object {
	o.text = s
	return o
}

func (o *Object) TypeName() string                   { return o.class.name }
func (o *Object) UniqueID() int64                    { return o.id }
func (o *Object) ReferenceType() jdi.ReferenceType   { return o.class }

func (o *Object) String() string {
	if o.text != "" {
		return o.text
	}
	short := o.class.name
	if i := strings.LastIndexByte(short, '.'); i >= 0 {
		short = short[i+1:]
	}
	return fmt.Sprintf("instance of %s(id=%d)", short, o.id)
}

func (o *Object) GetValue(f jdi.Field) (jdi.Value, error) {
	if f.IsStatic() {
		return o.class.GetValue(f)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.values[f.Name()], nil
}

func (o *Object) InvokeMethod(thread jdi.ThreadReference, m jdi.Method, args []jdi.Value) (jdi.Value, error) {
	t, ok := thread.(*Thread)
	if !ok {
		return nil, fmt.Errorf("jditest: foreign thread %T", thread)
	}
	if s, _ := t.IsSuspended(); !s {
		return nil, ErrNotSuspended
	}
	impl, ok := m.(*Method)
	if !ok || impl.Impl == nil {
		return nil, fmt.Errorf("jditest: method %s is not invokable", m.Name())
	}
	return impl.Impl(o, args)
}

// Array is an in-memory array.
type Array struct {
	id       int64
	elemType string
	elems    []jdi.Value
}

var _ jdi.ArrayReference = (*Array)(nil)

// NewArray allocates an array of the given element type.
func (vm *VM) NewArray(elemType string, elems ...jdi.Value) *Array {
	return &Array{id: vm.newObjectID(), elemType: elemType, elems: elems}
}

func (a *Array) TypeName() string { return a.elemType + "[]" }
func (a *Array) UniqueID() int64  { return a.id }
func (a *Array) Length() int      { return len(a.elems) }

func (a *Array) String() string {
	return fmt.Sprintf("%s[%d] (id=%d)", a.elemType, len(a.elems), a.id)
}

func (a *Array) Values() ([]jdi.Value, error) {
	return append([]jdi.Value(nil), a.elems...), nil
}
