package debugger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warmthdawn/zs-debug-adapter/jdi/jditest"
)

func names(vars []*Variable) []string {
	out := make([]string, len(vars))
	for i, v := range vars {
		out[i] = v.Name
	}
	return out
}

func TestReadScopes_InstanceFrame(t *testing.T) {
	t.Parallel()
	vm := jditest.NewVM()
	class := jditest.NewClass("scripts.Foo", "foo.zs")
	class.AddStatic("count", "int", jditest.Int(7))
	class.AddField("name", "java.lang.String")
	greet := class.AddMethod(&jditest.Method{
		MethodName: "greet",
		Args:       []*jditest.LocalVar{{VarName: "who", VarType: "java.lang.String", Arg: true}},
	})
	this := vm.NewObject(class).Set("name", jditest.String("foo"))

	frame := jditest.NewFrame(class.LineIn(greet, 3)).
		WithThis(this).
		WithVar("who", "java.lang.String", jditest.String("bob")).
		WithVar("i", "int", jditest.Int(1))

	scopes := ReadScopes(frame, testLogger())
	assert.Equal(t, []string{"this", "i"}, names(scopes.Locals))
	assert.Equal(t, []string{"who"}, names(scopes.Arguments))
	assert.Equal(t, `"bob"`, scopes.Arguments[0].Value())
	assert.Equal(t, []string{"count", "name"}, names(scopes.Fields))
	assert.Equal(t, "7", scopes.Fields[0].Value())
	assert.Equal(t, `"foo"`, scopes.Fields[1].Value())
}

func TestReadScopes_StaticFrame(t *testing.T) {
	t.Parallel()
	class := jditest.NewClass("scripts.Foo", "foo.zs", 1)
	class.AddStatic("count", "int", jditest.Int(7))
	class.AddField("name", "java.lang.String")

	frame := jditest.NewFrame(class.Line(1)).WithVar("x", "int", jditest.Int(2))

	scopes := ReadScopes(frame, testLogger())
	assert.Equal(t, []string{"x"}, names(scopes.Locals), "no this in a static frame")
	assert.Empty(t, scopes.Arguments)
	assert.Equal(t, []string{"count"}, names(scopes.Fields), "instance fields need this")
}

func TestReadScopes_MissingArgumentInfo(t *testing.T) {
	t.Parallel()
	class := jditest.NewClass("scripts.Foo", "foo.zs")
	m := class.AddMethod(&jditest.Method{MethodName: "f", NoArgInfo: true})
	frame := jditest.NewFrame(class.LineIn(m, 1)).WithVar("y", "int", jditest.Int(5))

	scopes := ReadScopes(frame, testLogger())
	assert.Empty(t, scopes.Arguments)
	require.Len(t, scopes.Locals, 1)
	assert.Equal(t, "5", scopes.Locals[0].Value())
}
