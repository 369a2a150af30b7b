package debugger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warmthdawn/zs-debug-adapter/jdi/jditest"
)

func TestVariable_Value(t *testing.T) {
	t.Parallel()
	vm := jditest.NewVM()
	obj := vm.NewObject(jditest.NewClass("scripts.Foo", "foo.zs")).WithText("foo")

	tests := []struct {
		name     string
		node     *Variable
		wantVal  string
		wantType string
	}{
		{"int", NewVariable("n", jditest.Int(3), ""), "3", "int"},
		{"declared type", NewVariable("n", jditest.Int(3), "java.lang.Object"), "3", "java.lang.Object"},
		{"null", NewVariable("x", nil, ""), "null", "Unknown type"},
		{"string", NewVariable("s", jditest.String("hi"), ""), `"hi"`, "java.lang.String"},
		{"this", ThisVariable(obj), "foo", "scripts.Foo"},
		{"computed", ComputedVariable(jditest.Bool(true)), "true", "boolean"},
		{"scope", NewScope(ScopeLocals, nil), "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantVal, tt.node.Value())
			assert.Equal(t, tt.wantType, tt.node.Type)
		})
	}
	assert.Nil(t, ThisVariable(nil))
	assert.Equal(t, VariableComputed, ComputedVariable(nil).Kind)
	assert.Equal(t, "computed", ComputedVariable(nil).Name)
}

func TestVariable_ArrayChildren(t *testing.T) {
	t.Parallel()
	vm := jditest.NewVM()

	empty := NewVariable("a", vm.NewArray("int"), "")
	assert.False(t, empty.HasChildren())

	arr := NewVariable("a", vm.NewArray("int", jditest.Int(1), jditest.Int(2)), "")
	assert.True(t, arr.HasChildren())
	children, err := arr.Children()
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "0", children[0].Name)
	assert.Equal(t, "1", children[0].Value())
	assert.Equal(t, "1", children[1].Name)
	assert.Equal(t, "2", children[1].Value())

	again, err := arr.Children()
	require.NoError(t, err)
	assert.Same(t, children[0], again[0], "children are cached")
}

func TestVariable_ObjectChildren(t *testing.T) {
	t.Parallel()
	vm := jditest.NewVM()
	class := jditest.NewClass("scripts.Point", "point.zs")
	class.AddField("x", "int")
	class.AddField("y", "int")
	class.AddStatic("ORIGIN", "scripts.Point", nil)
	p := vm.NewObject(class).Set("x", jditest.Int(1)).Set("y", jditest.Int(2))

	node := NewVariable("p", p, "")
	assert.True(t, node.HasChildren())
	children, err := node.Children()
	require.NoError(t, err)
	require.Len(t, children, 3)
	assert.Equal(t, "x", children[0].Name)
	assert.Equal(t, "1", children[0].Value())
	assert.Equal(t, "int", children[0].Type)
	assert.Equal(t, "ORIGIN", children[2].Name)
	assert.Equal(t, "null", children[2].Value())
	assert.Equal(t, "scripts.Point", children[2].Type)

	bare := NewVariable("o", vm.NewObject(jditest.NewClass("java.lang.Object", "")), "")
	assert.False(t, bare.HasChildren())
}

func TestVariable_PrimitiveHasNoChildren(t *testing.T) {
	t.Parallel()
	node := NewVariable("n", jditest.Int(1), "")
	assert.False(t, node.HasChildren())
	children, err := node.Children()
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestVariable_Scope(t *testing.T) {
	t.Parallel()
	vars := []*Variable{NewVariable("a", jditest.Int(1), "")}
	scope := NewScope(ScopeArguments, vars)
	assert.Equal(t, VariableScope, scope.Kind)
	assert.True(t, scope.HasChildren())
	children, err := scope.Children()
	require.NoError(t, err)
	assert.Equal(t, vars, children)
	assert.False(t, NewScope(ScopeFields, nil).HasChildren())
}
