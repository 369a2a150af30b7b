package debugger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warmthdawn/zs-debug-adapter/jdi/jditest"
)

func lines(bps ...int) []SourceBreakpoint {
	out := make([]SourceBreakpoint, len(bps))
	for i, l := range bps {
		out[i] = SourceBreakpoint{Line: l}
	}
	return out
}

// checkDisjoint asserts that every requested record is in exactly one of
// the resolved and pending tables, and that only resolved records are
// verified.
func checkDisjoint(t *testing.T, m *BreakpointManager) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for source, records := range m.requested {
		for _, bp := range records {
			inResolved := 0
			for _, r := range m.resolved[source] {
				if r.bp == bp {
					inResolved++
				}
			}
			inPending := 0
			for _, p := range m.pending[source] {
				if p == bp {
					inPending++
				}
			}
			assert.Equal(t, 1, inResolved+inPending, "breakpoint %d at line %d", bp.ID, bp.Line)
			assert.Equal(t, inResolved == 1, bp.Verified, "breakpoint %d verified flag", bp.ID)
		}
	}
}

func changedEvents(s *Session) (<-chan Breakpoint, func()) {
	ch := make(chan Breakpoint, 16)
	cancel := s.Bus().On(EventBreakpointChanged, func(ev *Event) {
		ch <- *ev.Breakpoint
	})
	return ch, cancel
}

func TestBreakpointManager_PendingUntilClassLoads(t *testing.T) {
	t.Parallel()
	s, vm := testSession(t)
	foo := writeScript(t, s, "foo.zs")
	m := NewBreakpointManager(WithBreakpointLogger(testLogger()))
	changed, _ := changedEvents(s)

	require.NoError(t, m.Attach(s))
	startSession(t, s)

	bps := m.SetBreakpoints(foo, lines(10))
	require.Len(t, bps, 1)
	assert.False(t, bps[0].Verified)
	checkDisjoint(t, m)

	class := jditest.NewClass("scripts.Foo", "foo.zs", 10, 11)
	require.True(t, vm.LoadClass(class))

	select {
	case bp := <-changed:
		assert.True(t, bp.Verified)
		assert.Equal(t, bps[0].ID, bp.ID)
		assert.Equal(t, 10, bp.Line)
	case <-timeout():
		t.Fatal("no breakpoint changed event")
	}
	assert.Equal(t, []int{10}, vm.Requests().BreakpointLines("foo.zs"))
	assert.True(t, m.Breakpoints(foo)[0].Verified)
	checkDisjoint(t, m)
}

func TestBreakpointManager_LoadedClassResolvesImmediately(t *testing.T) {
	t.Parallel()
	s, vm := testSession(t)
	foo := writeScript(t, s, "sub/foo.zs")
	vm.AddClass(jditest.NewClass("scripts.sub.Foo", "sub/foo.zs", 3, 4))
	m := NewBreakpointManager(WithBreakpointLogger(testLogger()))
	changed, _ := changedEvents(s)
	require.NoError(t, m.Attach(s))

	bps := m.SetBreakpoints(foo, lines(3, 5))
	require.Len(t, bps, 2)
	assert.True(t, bps[0].Verified)
	assert.False(t, bps[1].Verified, "line 5 has no code")
	assert.Empty(t, changed, "the response carries the verified state")
	assert.Equal(t, []int{3}, vm.Requests().BreakpointLines("sub/foo.zs"))
	checkDisjoint(t, m)
}

func TestBreakpointManager_AttachResolvesEarlierBreakpoints(t *testing.T) {
	t.Parallel()
	s, vm := testSession(t)
	foo := writeScript(t, s, "foo.zs")
	vm.AddClass(jditest.NewClass("scripts.Foo", "foo.zs", 7))
	m := NewBreakpointManager(WithBreakpointLogger(testLogger()))

	bps := m.SetBreakpoints(foo, lines(7))
	assert.False(t, bps[0].Verified, "no session yet")

	changed, _ := changedEvents(s)
	require.NoError(t, m.Attach(s))

	require.Len(t, changed, 1)
	bp := <-changed
	assert.True(t, bp.Verified)
	assert.Equal(t, []int{7}, vm.Requests().BreakpointLines("foo.zs"))
	checkDisjoint(t, m)
}

func TestBreakpointManager_Supersede(t *testing.T) {
	t.Parallel()
	s, vm := testSession(t)
	foo := writeScript(t, s, "foo.zs")
	bar := writeScript(t, s, "bar.zs")
	vm.AddClass(jditest.NewClass("scripts.Foo", "foo.zs", 1, 2, 3))
	vm.AddClass(jditest.NewClass("scripts.Bar", "bar.zs", 1))
	m := NewBreakpointManager(WithBreakpointLogger(testLogger()))
	require.NoError(t, m.Attach(s))

	m.SetBreakpoints(bar, lines(1))

	tests := []struct {
		name string
		set  []int
		want []int
	}{
		{"initial", []int{1, 2}, []int{1, 2}},
		{"replace", []int{3}, []int{3}},
		{"overlap", []int{2, 3}, []int{2, 3}},
		{"clear", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m.SetBreakpoints(foo, lines(tt.set...))
			assert.Equal(t, tt.want, vm.Requests().BreakpointLines("foo.zs"))
			assert.Equal(t, []int{1}, vm.Requests().BreakpointLines("bar.zs"), "other files untouched")
			assert.Len(t, m.Breakpoints(foo), len(tt.set))
			checkDisjoint(t, m)
		})
	}
	assert.Equal(t, []string{bar}, m.Sources())
}

func TestBreakpointManager_IDsIncrease(t *testing.T) {
	t.Parallel()
	m := NewBreakpointManager(WithBreakpointLogger(testLogger()))
	first := m.SetBreakpoints("/tmp/a.zs", lines(1, 2))
	second := m.SetBreakpoints("/tmp/a.zs", lines(1))
	assert.Less(t, first[0].ID, first[1].ID)
	assert.Greater(t, second[0].ID, first[1].ID, "superseded ids are not reused")
}

func TestBreakpointManager_StaysPending(t *testing.T) {
	t.Parallel()
	s, vm := testSession(t)
	foo := writeScript(t, s, "foo.zs")
	m := NewBreakpointManager(WithBreakpointLogger(testLogger()))
	changed, _ := changedEvents(s)
	require.NoError(t, m.Attach(s))
	startSession(t, s)

	m.SetBreakpoints(foo, lines(20))

	// No code on line 20, and a class without a line table.
	require.True(t, vm.LoadClass(jditest.NewClass("scripts.Foo", "foo.zs", 10)))
	require.True(t, vm.LoadClass(jditest.NewClass("scripts.Foo$1", "foo.zs", 20).WithoutLineInfo()))
	// A class from another file never resolves it.
	require.True(t, vm.LoadClass(jditest.NewClass("scripts.Other", "other.zs", 20)))

	assert.Never(t, func() bool { return len(changed) > 0 }, 100*tick, tick)
	assert.False(t, m.Breakpoints(foo)[0].Verified)
	assert.Empty(t, vm.Requests().Breakpoints())
	checkDisjoint(t, m)

	// A later class of the same file with code on the line resolves it.
	require.True(t, vm.LoadClass(jditest.NewClass("scripts.Foo$2", "foo.zs", 20)))
	select {
	case bp := <-changed:
		assert.True(t, bp.Verified)
	case <-timeout():
		t.Fatal("no breakpoint changed event")
	}
	checkDisjoint(t, m)
}

func TestBreakpointManager_RefreshAndReset(t *testing.T) {
	t.Parallel()
	s, vm := testSession(t)
	foo := writeScript(t, s, "foo.zs")
	vm.AddClass(jditest.NewClass("scripts.Foo", "foo.zs", 1))
	m := NewBreakpointManager(WithBreakpointLogger(testLogger()))
	require.NoError(t, m.Attach(s))
	m.SetBreakpoints(foo, lines(1))

	changed, _ := changedEvents(s)
	m.Refresh()
	assert.Len(t, changed, 1)
	assert.Equal(t, []int{1}, vm.Requests().BreakpointLines("foo.zs"), "refresh does not duplicate requests")
	checkDisjoint(t, m)

	m.Reset()
	assert.Empty(t, m.Breakpoints(foo))
	assert.Empty(t, m.Sources())

	// A class prepare after reset is ignored.
	s.Bus().Emit(&Event{Kind: EventClassPrepare, Type: jditest.NewClass("scripts.Foo", "foo.zs", 1)})
	assert.Len(t, changed, 1)
}

func TestBreakpointManager_OutsideScriptsRoot(t *testing.T) {
	t.Parallel()
	s, vm := testSession(t)
	vm.AddClass(jditest.NewClass("scripts.Foo", "foo.zs", 1))
	m := NewBreakpointManager(WithBreakpointLogger(testLogger()))
	require.NoError(t, m.Attach(s))

	bps := m.SetBreakpoints("/somewhere/else/foo.zs", lines(1))
	assert.False(t, bps[0].Verified)
	checkDisjoint(t, m)
}
