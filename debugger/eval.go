// Copyright © 2024 The zs-debug-adapter authors

package debugger

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	parsec "github.com/prataprc/goparsec"

	"github.com/warmthdawn/zs-debug-adapter/jdi"
)

/*
Expressions accepted by Evaluator:

	expr    := primary suffix*
	primary := literal | ident '(' args ')' | ident
	suffix  := '.' ident '(' args ')' | '.' ident | '[' expr ']'
	args    := (expr (',' expr)*)?
	literal := string | int | 'true' | 'false' | 'null'

A bare call invokes a method of "this". Identifiers resolve to a visible
variable, "this", a field of "this", then a static field of the frame's
declaring type.
*/

type exprNode interface {
	fmt.Stringer
}

type identExpr struct{ name string }

type literalExpr struct{ val any }

type memberExpr struct {
	target exprNode
	name   string
}

type indexExpr struct {
	target exprNode
	index  exprNode
}

// callExpr invokes name on target, or on "this" when target is nil.
type callExpr struct {
	target exprNode
	name   string
	args   []exprNode
}

func (e identExpr) String() string   { return e.name }
func (e literalExpr) String() string { return fmt.Sprint(e.val) }
func (e memberExpr) String() string  { return e.target.String() + "." + e.name }
func (e indexExpr) String() string   { return e.target.String() + "[" + e.index.String() + "]" }

func (e callExpr) String() string {
	if e.target == nil {
		return e.name + "(...)"
	}
	return e.target.String() + "." + e.name + "(...)"
}

type suffixKind int

const (
	suffixMember suffixKind = iota
	suffixCall
	suffixIndex
)

type suffix struct {
	kind  suffixKind
	name  string
	args  []exprNode
	index exprNode
}

func newExprParser() parsec.Parser {
	dot := parsec.Atom(".", "DOT")
	comma := parsec.Atom(",", "COMMA")
	openP := parsec.Atom("(", "OPENP")
	closeP := parsec.Atom(")", "CLOSEP")
	openB := parsec.Atom("[", "OPENB")
	closeB := parsec.Atom("]", "CLOSEB")
	ident := parsec.Token(`[A-Za-z_$][A-Za-z0-9_$]*`, "IDENT")
	keyword := parsec.Token(`(?:true|false|null)\b`, "KEYWORD")
	integer := parsec.Token(`-?[0-9]+`, "INT")

	var expr parsec.Parser // forward declaration allows for recursive parsing
	args := parsec.Kleene(nil, &expr, comma)
	literal := parsec.OrdChoice(literalNode, parsec.String(), integer, keyword)
	thisCall := parsec.And(thisCallNode, ident, openP, args, closeP)
	variable := parsec.And(identNode, ident)
	primary := parsec.OrdChoice(nil, literal, thisCall, variable)

	memberCall := parsec.And(memberCallNode, dot, ident, openP, args, closeP)
	member := parsec.And(memberNode, dot, ident)
	index := parsec.And(indexNode, openB, &expr, closeB)
	suffixes := parsec.Kleene(nil, parsec.OrdChoice(nil, memberCall, member, index))

	expr = parsec.And(foldSuffixes, primary, suffixes)
	return expr
}

// parseExpression parses a complete expression.
func parseExpression(text string) (exprNode, error) {
	s := parsec.NewScanner([]byte(text))
	root, s := newExprParser()(s)
	_, s = s.SkipWS()
	if root == nil || !s.Endof() {
		return nil, errors.Errorf("invalid expression at offset %d: %q", s.GetCursor(), text)
	}
	node, ok := unwrap(root).(exprNode)
	if !ok {
		return nil, errors.Errorf("invalid expression: %q", text)
	}
	return node, nil
}

// unwrap strips the single element lists combinators without a callback
// produce.
func unwrap(n parsec.ParsecNode) parsec.ParsecNode {
	for {
		list, ok := n.([]parsec.ParsecNode)
		if !ok || len(list) != 1 {
			return n
		}
		n = list[0]
	}
}

// collect flattens nested lists, keeping the nodes of type T.
func collect[T any](n parsec.ParsecNode) []T {
	var out []T
	switch n := n.(type) {
	case []parsec.ParsecNode:
		for _, c := range n {
			out = append(out, collect[T](c)...)
		}
	case T:
		out = append(out, n)
	}
	return out
}

func terminalValue(n parsec.ParsecNode) string {
	if t, ok := unwrap(n).(*parsec.Terminal); ok {
		return t.GetValue()
	}
	return ""
}

func literalNode(nodes []parsec.ParsecNode) parsec.ParsecNode {
	switch n := unwrap(nodes).(type) {
	case string:
		// goparsec.String() yields the unescaped text wrapped in quotes.
		if len(n) >= 2 && n[0] == '"' && n[len(n)-1] == '"' {
			n = n[1 : len(n)-1]
		}
		return literalExpr{val: n}
	case *parsec.Terminal:
		switch n.GetName() {
		case "INT":
			if x, err := strconv.Atoi(n.GetValue()); err == nil {
				return literalExpr{val: x}
			}
			x, _ := strconv.ParseInt(n.GetValue(), 10, 64)
			return literalExpr{val: x}
		case "KEYWORD":
			switch n.GetValue() {
			case "true":
				return literalExpr{val: true}
			case "false":
				return literalExpr{val: false}
			}
			return literalExpr{val: nil}
		}
	}
	return nil
}

func identNode(nodes []parsec.ParsecNode) parsec.ParsecNode {
	return identExpr{name: terminalValue(nodes[0])}
}

func thisCallNode(nodes []parsec.ParsecNode) parsec.ParsecNode {
	return callExpr{name: terminalValue(nodes[0]), args: collect[exprNode](nodes[2])}
}

func memberCallNode(nodes []parsec.ParsecNode) parsec.ParsecNode {
	return suffix{kind: suffixCall, name: terminalValue(nodes[1]), args: collect[exprNode](nodes[3])}
}

func memberNode(nodes []parsec.ParsecNode) parsec.ParsecNode {
	return suffix{kind: suffixMember, name: terminalValue(nodes[1])}
}

func indexNode(nodes []parsec.ParsecNode) parsec.ParsecNode {
	index, _ := unwrap(nodes[1]).(exprNode)
	return suffix{kind: suffixIndex, index: index}
}

func foldSuffixes(nodes []parsec.ParsecNode) parsec.ParsecNode {
	target, ok := unwrap(nodes[0]).(exprNode)
	if !ok {
		return nil
	}
	for _, s := range collect[suffix](nodes[1]) {
		switch s.kind {
		case suffixMember:
			target = memberExpr{target: target, name: s.name}
		case suffixCall:
			target = callExpr{target: target, name: s.name, args: s.args}
		case suffixIndex:
			target = indexExpr{target: target, index: s.index}
		}
	}
	return target
}

// Evaluator evaluates expressions in the context of a stack frame. The
// frame's thread must be suspended.
type Evaluator struct {
	vm    jdi.VirtualMachine
	frame jdi.StackFrame
}

func NewEvaluator(vm jdi.VirtualMachine, frame jdi.StackFrame) *Evaluator {
	return &Evaluator{vm: vm, frame: frame}
}

// Evaluate parses and evaluates expression. A nil value with a nil error is
// the null reference.
func (e *Evaluator) Evaluate(expression string) (jdi.Value, error) {
	node, err := parseExpression(expression)
	if err != nil {
		return nil, err
	}
	return e.eval(node)
}

func (e *Evaluator) eval(node exprNode) (jdi.Value, error) {
	switch n := node.(type) {
	case literalExpr:
		return e.vm.MirrorOf(n.val)
	case identExpr:
		return e.lookup(n.name)
	case memberExpr:
		target, err := e.eval(n.target)
		if err != nil {
			return nil, err
		}
		return member(target, n.name, e.vm)
	case indexExpr:
		target, err := e.eval(n.target)
		if err != nil {
			return nil, err
		}
		idx, err := e.eval(n.index)
		if err != nil {
			return nil, err
		}
		return element(target, idx)
	case callExpr:
		var target jdi.Value
		var err error
		if n.target == nil {
			target, err = e.this()
		} else {
			target, err = e.eval(n.target)
		}
		if err != nil {
			return nil, err
		}
		args := make([]jdi.Value, len(n.args))
		for i, a := range n.args {
			if args[i], err = e.eval(a); err != nil {
				return nil, err
			}
		}
		return e.invoke(target, n.name, args)
	}
	return nil, errors.Errorf("cannot evaluate %v", node)
}

func (e *Evaluator) this() (jdi.Value, error) {
	this, err := e.frame.ThisObject()
	if err != nil {
		return nil, err
	}
	if this == nil {
		return nil, errors.New("no this object in a static frame")
	}
	return this, nil
}

func (e *Evaluator) lookup(name string) (jdi.Value, error) {
	vars, err := e.frame.VisibleVariables()
	if err != nil && !errors.Is(err, jdi.ErrAbsentInformation) {
		return nil, err
	}
	for _, v := range vars {
		if v.Name() == name {
			return e.frame.GetValue(v)
		}
	}
	this, err := e.frame.ThisObject()
	if err != nil {
		return nil, err
	}
	if name == "this" {
		if this == nil {
			return nil, errors.New("no this object in a static frame")
		}
		return this, nil
	}
	if this != nil {
		if f, err := this.ReferenceType().FieldByName(name); err == nil && f != nil {
			return this.GetValue(f)
		}
	}
	if typ := e.frame.Location().DeclaringType(); typ != nil {
		if f, err := typ.FieldByName(name); err == nil && f != nil && f.IsStatic() {
			return typ.GetValue(f)
		}
	}
	return nil, errors.Errorf("unknown identifier %q", name)
}

func member(target jdi.Value, name string, vm jdi.VirtualMachine) (jdi.Value, error) {
	switch t := target.(type) {
	case jdi.ObjectReference:
		f, err := t.ReferenceType().FieldByName(name)
		if err != nil {
			return nil, err
		}
		if f == nil {
			return nil, errors.Errorf("%s has no field %q", t.TypeName(), name)
		}
		return t.GetValue(f)
	case jdi.ArrayReference:
		if name == "length" {
			return vm.MirrorOf(t.Length())
		}
	case nil:
		return nil, errors.Errorf("cannot read %q of null", name)
	}
	return nil, errors.Errorf("%s has no member %q", target.TypeName(), name)
}

func element(target, idx jdi.Value) (jdi.Value, error) {
	arr, ok := target.(jdi.ArrayReference)
	if !ok {
		return nil, errors.New("indexed value is not an array")
	}
	if idx == nil || !jdi.IsPrimitive(idx) {
		return nil, errors.New("array index is not an integer")
	}
	i, err := strconv.Atoi(idx.String())
	if err != nil {
		return nil, errors.Errorf("array index %s is not an integer", idx)
	}
	if i < 0 || i >= arr.Length() {
		return nil, errors.Errorf("array index %d out of bounds for length %d", i, arr.Length())
	}
	vals, err := arr.Values()
	if err != nil {
		return nil, err
	}
	return vals[i], nil
}

// invoke calls the first method of target named name whose arity accepts
// args.
func (e *Evaluator) invoke(target jdi.Value, name string, args []jdi.Value) (jdi.Value, error) {
	obj, ok := target.(jdi.ObjectReference)
	if !ok {
		return nil, errors.Errorf("cannot invoke %q on a non-object value", name)
	}
	methods, err := obj.ReferenceType().AllMethods()
	if err != nil {
		return nil, err
	}
	var lastErr error
	for _, m := range methods {
		if m.Name() != name {
			continue
		}
		params := len(m.ArgumentTypeNames())
		if params != len(args) && !(m.IsVarArgs() && params < len(args)) {
			continue
		}
		v, err := obj.InvokeMethod(e.frame.Thread(), m, args)
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.Errorf("%s has no method %q taking %d arguments", obj.TypeName(), name, len(args))
}
