// Copyright © 2024 The zs-debug-adapter authors

package debugger

import (
	"strconv"

	"github.com/warmthdawn/zs-debug-adapter/jdi"
)

// VariableKind distinguishes the nodes of a variable tree.
type VariableKind int

const (
	// VariableValue is a named value read from the target.
	VariableValue VariableKind = iota
	// VariableComputed is the result of an evaluated expression.
	VariableComputed
	// VariableScope groups the variables of a frame, such as its locals.
	VariableScope
)

// Variable is a node of a variable tree. Children are read from the target
// only when Children is called; HasChildren is a cheap probe. A Variable is
// not safe for concurrent use.
type Variable struct {
	Kind VariableKind
	Name string
	Type string

	val      jdi.Value
	children []*Variable
	loaded   bool
}

// NewVariable returns a value node. typeName overrides the runtime type of
// v, typically with the declared type of a variable or field.
func NewVariable(name string, v jdi.Value, typeName string) *Variable {
	if typeName == "" && v != nil {
		typeName = v.TypeName()
	}
	if typeName == "" {
		typeName = "Unknown type"
	}
	return &Variable{Kind: VariableValue, Name: name, Type: typeName, val: v}
}

// ThisVariable returns the "this" node of a frame, or nil for static frames.
func ThisVariable(this jdi.ObjectReference) *Variable {
	if this == nil {
		return nil
	}
	return NewVariable("this", this, "")
}

// ComputedVariable returns the root node of an evaluated expression.
func ComputedVariable(v jdi.Value) *Variable {
	node := NewVariable("computed", v, "")
	node.Kind = VariableComputed
	return node
}

// NewScope returns a scope node holding vars.
func NewScope(name string, vars []*Variable) *Variable {
	return &Variable{Kind: VariableScope, Name: name, children: vars, loaded: true}
}

// Value returns the display string of the node.
func (v *Variable) Value() string {
	if v.Kind == VariableScope {
		return ""
	}
	if v.val == nil {
		return "null"
	}
	return v.val.String()
}

// Raw returns the target value of the node, nil for scopes and null.
func (v *Variable) Raw() jdi.Value {
	return v.val
}

// HasChildren reports whether Children would return anything. Only arrays
// and objects with fields have children.
func (v *Variable) HasChildren() bool {
	if v.loaded {
		return len(v.children) > 0
	}
	switch val := v.val.(type) {
	case jdi.ArrayReference:
		return val.Length() > 0
	case jdi.ObjectReference:
		fields, err := val.ReferenceType().AllFields()
		return err == nil && len(fields) > 0
	}
	return false
}

// Children materializes the children of the node: the elements of an array
// or the fields of an object. Fields that cannot be read are omitted. The
// result is cached.
func (v *Variable) Children() ([]*Variable, error) {
	if v.loaded {
		return v.children, nil
	}
	var children []*Variable
	switch val := v.val.(type) {
	case jdi.ArrayReference:
		elems, err := val.Values()
		if err != nil {
			return nil, err
		}
		for i, e := range elems {
			children = append(children, NewVariable(strconv.Itoa(i), e, ""))
		}
	case jdi.ObjectReference:
		fields, err := val.ReferenceType().AllFields()
		if err != nil {
			return nil, err
		}
		for _, f := range fields {
			fv, err := val.GetValue(f)
			if err != nil {
				continue
			}
			children = append(children, NewVariable(f.Name(), fv, f.TypeName()))
		}
	}
	v.children = children
	v.loaded = true
	return children, nil
}
