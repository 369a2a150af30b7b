// Copyright © 2024 The zs-debug-adapter authors

package debugger

import (
	"github.com/sirupsen/logrus"

	"github.com/warmthdawn/zs-debug-adapter/jdi"
)

// Scope names.
const (
	ScopeLocals    = "Locals"
	ScopeArguments = "Arguments"
	ScopeFields    = "Fields"
)

// FrameScopes holds the variables visible from a stack frame.
type FrameScopes struct {
	// Locals holds "this", when there is one, and the visible variables that
	// are not formal parameters.
	Locals []*Variable
	// Arguments holds the formal parameters of the frame's method.
	Arguments []*Variable
	// Fields holds the fields of the frame's declaring type. Static fields
	// are read from the type, instance fields from "this".
	Fields []*Variable
}

// ReadScopes reads the scopes of frame. Reading is best effort: every item
// that cannot be read is logged and left out.
func ReadScopes(frame jdi.StackFrame, log logrus.FieldLogger) FrameScopes {
	var scopes FrameScopes
	loc := frame.Location()

	params := make(map[string]bool)
	if m := loc.Method(); m != nil {
		args, err := m.Arguments()
		if err != nil {
			log.WithError(err).Debugf("Failed to get arguments of %s", m.Name())
		}
		for _, arg := range args {
			params[arg.Name()] = true
			v, err := frame.GetValue(arg)
			if err != nil {
				log.WithError(err).Debugf("Failed to get value of argument %s", arg.Name())
				continue
			}
			scopes.Arguments = append(scopes.Arguments, NewVariable(arg.Name(), v, arg.TypeName()))
		}
	}

	this, err := frame.ThisObject()
	if err != nil {
		log.WithError(err).Debug("Failed to get this object")
	}
	if node := ThisVariable(this); node != nil {
		scopes.Locals = append(scopes.Locals, node)
	}

	vars, err := frame.VisibleVariables()
	if err != nil {
		log.WithError(err).Debug("Failed to get local variables")
	}
	for _, lv := range vars {
		if lv.IsArgument() || params[lv.Name()] {
			continue
		}
		v, err := frame.GetValue(lv)
		if err != nil {
			log.WithError(err).Debugf("Failed to get value of %s", lv.Name())
			continue
		}
		scopes.Locals = append(scopes.Locals, NewVariable(lv.Name(), v, lv.TypeName()))
	}

	if typ := loc.DeclaringType(); typ != nil {
		fields, err := typ.AllFields()
		if err != nil {
			log.WithError(err).Debugf("Failed to get fields of %s", typ.Name())
		}
		for _, f := range fields {
			var v jdi.Value
			switch {
			case f.IsStatic():
				v, err = typ.GetValue(f)
			case this != nil:
				v, err = this.GetValue(f)
			default:
				continue
			}
			if err != nil {
				log.WithError(err).Debugf("Failed to get value of field %s", f.Name())
				continue
			}
			scopes.Fields = append(scopes.Fields, NewVariable(f.Name(), v, f.TypeName()))
		}
	}
	return scopes
}
