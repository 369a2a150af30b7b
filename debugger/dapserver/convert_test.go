package dapserver

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warmthdawn/zs-debug-adapter/debugger"
	"github.com/warmthdawn/zs-debug-adapter/jdi/jditest"
)

func TestConverter_Truncate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		max  int
		in   string
		want string
	}{
		{"short", 10, "hello", "hello"},
		{"exact", 5, "hello", "hello"},
		{"long", 8, "hello world", "hello..."},
		{"disabled", 0, strings.Repeat("x", 2000), strings.Repeat("x", 2000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newConverter(tt.max, testLogger())
			assert.Equal(t, tt.want, c.truncate(tt.in))
		})
	}
}

func TestConverter_EmptyScopesOmitted(t *testing.T) {
	t.Parallel()
	c := newConverter(DefaultMaxValueLength, testLogger())
	class := jditest.NewClass("scripts.Foo", "foo.zs", 1)
	frame := jditest.NewFrame(class.Line(1))
	assert.Empty(t, c.scopes(frame))

	frame = frame.WithVar("x", "int", jditest.Int(1))
	scopes := c.scopes(frame)
	require.Len(t, scopes, 1)
	assert.Equal(t, debugger.ScopeLocals, scopes[0].Name)
	assert.Equal(t, 1, scopes[0].NamedVariables)
	assert.NotZero(t, scopes[0].VariablesReference)
}

func TestConverter_HandlesInvalidated(t *testing.T) {
	t.Parallel()
	vm := jditest.NewVM()
	c := newConverter(DefaultMaxValueLength, testLogger())
	arr := vm.NewArray("int", jditest.Int(1))

	_, _, ref := c.evaluated(arr)
	require.NotZero(t, ref)
	vars, err := c.variables(ref)
	require.NoError(t, err)
	require.Len(t, vars, 1)
	assert.Equal(t, "0", vars[0].Name)

	c.continued(1)
	_, err = c.variables(ref)
	assert.EqualError(t, err, "Unknown variables reference 1")
}

func TestConverter_Breakpoint(t *testing.T) {
	t.Parallel()
	c := newConverter(DefaultMaxValueLength, testLogger())

	pending := c.breakpoint(debugger.Breakpoint{ID: 3, Source: "/p/scripts/a.zs", Line: 4})
	assert.False(t, pending.Verified)
	assert.NotEmpty(t, pending.Message)
	assert.Equal(t, "/p/scripts/a.zs", pending.Source.Path)

	verified := c.breakpoint(debugger.Breakpoint{ID: 3, Source: "/p/scripts/a.zs", Line: 4, Verified: true})
	assert.True(t, verified.Verified)
	assert.Empty(t, verified.Message)
}
