// Copyright © 2024 The zs-debug-adapter authors

package dapserver

import (
	"sync"

	"github.com/google/go-dap"
	"github.com/muesli/reflow/ansi"
	"github.com/muesli/reflow/truncate"
	"github.com/sirupsen/logrus"

	"github.com/warmthdawn/zs-debug-adapter/debugger"
	"github.com/warmthdawn/zs-debug-adapter/internal/refpool"
	"github.com/warmthdawn/zs-debug-adapter/jdi"
)

const truncateTail = "..."

// converter maps session entities to DAP records and owns the handles the
// client refers back to them with. Frame handles belong to the thread they
// were read from; variable handles live until the next continue.
type converter struct {
	log            logrus.FieldLogger
	maxValueLength int

	mu     sync.Mutex
	frames *refpool.ThreadPool[jdi.StackFrame]
	vars   *refpool.Pool[*debugger.Variable]
}

func newConverter(maxValueLength int, log logrus.FieldLogger) *converter {
	return &converter{
		log:            log,
		maxValueLength: maxValueLength,
		frames:         refpool.NewThreadPool[jdi.StackFrame](),
		vars:           refpool.New[*debugger.Variable](),
	}
}

func (c *converter) threads(threads []*debugger.Thread) []dap.Thread {
	out := make([]dap.Thread, len(threads))
	for i, t := range threads {
		out[i] = dap.Thread{Id: int(t.ID()), Name: t.Name()}
	}
	return out
}

// stackFrames converts frames of thread, allocating a handle per frame.
func (c *converter) stackFrames(s *debugger.Session, thread int64, frames []jdi.StackFrame) []dap.StackFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]dap.StackFrame, 0, len(frames))
	for _, f := range frames {
		loc := f.Location()
		if loc == nil {
			c.log.Debug("Dropping frame without location")
			continue
		}
		sf := dap.StackFrame{
			Id:   c.frames.Put(thread, f),
			Name: frameName(loc),
			Line: loc.LineNumber(),
		}
		if src, ok := s.SourceOf(loc); ok {
			sf.Source = &dap.Source{Name: src.Name, Path: src.Path}
		} else {
			sf.PresentationHint = "subtle"
		}
		out = append(out, sf)
	}
	return out
}

func frameName(loc jdi.Location) string {
	var name string
	if t := loc.DeclaringType(); t != nil {
		name = t.Name()
	}
	if m := loc.Method(); m != nil {
		if name != "" {
			name += "."
		}
		name += m.Name()
	}
	if name == "" {
		return "<unknown>"
	}
	return name
}

func (c *converter) frame(id int) (jdi.StackFrame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames.Get(id)
}

// scopes reads the scopes of frame. Empty scopes are left out.
func (c *converter) scopes(frame jdi.StackFrame) []dap.Scope {
	read := debugger.ReadScopes(frame, c.log)
	groups := []struct {
		name string
		hint string
		vars []*debugger.Variable
	}{
		{debugger.ScopeLocals, "locals", read.Locals},
		{debugger.ScopeArguments, "arguments", read.Arguments},
		{debugger.ScopeFields, "", read.Fields},
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var out []dap.Scope
	for _, g := range groups {
		if len(g.vars) == 0 {
			continue
		}
		out = append(out, dap.Scope{
			Name:               g.name,
			PresentationHint:   g.hint,
			VariablesReference: c.vars.Put(debugger.NewScope(g.name, g.vars)),
			NamedVariables:     len(g.vars),
		})
	}
	return out
}

// variables returns the children of the node behind ref.
func (c *converter) variables(ref int) ([]dap.Variable, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	node, ok := c.vars.Get(ref)
	if !ok {
		return nil, requestErrorf("Unknown variables reference %d", ref)
	}
	children, err := node.Children()
	if err != nil {
		c.log.WithError(err).Warnf("Failed to read children of %s", node.Name)
		return []dap.Variable{}, nil
	}
	out := make([]dap.Variable, 0, len(children))
	for _, child := range children {
		out = append(out, dap.Variable{
			Name:               child.Name,
			Value:              c.truncate(child.Value()),
			Type:               child.Type,
			VariablesReference: c.handle(child),
		})
	}
	return out, nil
}

// evaluated converts the result of an expression. Composite results get a
// handle under a computed root.
func (c *converter) evaluated(v jdi.Value) (result, typeName string, ref int) {
	node := debugger.ComputedVariable(v)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.truncate(node.Value()), node.Type, c.handle(node)
}

// handle registers node when it has children. c.mu must be held.
func (c *converter) handle(node *debugger.Variable) int {
	if !node.HasChildren() {
		return 0
	}
	return c.vars.Put(node)
}

func (c *converter) breakpoint(bp debugger.Breakpoint) dap.Breakpoint {
	out := dap.Breakpoint{
		Id:       bp.ID,
		Verified: bp.Verified,
		Line:     bp.Line,
		Column:   bp.Column,
		Source:   &dap.Source{Path: bp.Source},
	}
	if !bp.Verified {
		out.Message = "Pending until the script is loaded"
	}
	return out
}

func (c *converter) truncate(s string) string {
	if c.maxValueLength <= 0 || ansi.PrintableRuneWidth(s) <= c.maxValueLength {
		return s
	}
	return truncate.StringWithTail(s, uint(c.maxValueLength), truncateTail)
}

// resumed invalidates the frame handles of a thread.
func (c *converter) resumed(thread int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames.RemoveAllForThread(thread)
}

// continued invalidates the frames of thread and every variable handle.
func (c *converter) continued(thread int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames.RemoveAllForThread(thread)
	c.vars.Clear()
}

func (c *converter) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames.Clear()
	c.vars.Clear()
}
