package debugger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warmthdawn/zs-debug-adapter/jdi"
	"github.com/warmthdawn/zs-debug-adapter/jdi/jditest"
)

func TestThread_PauseResumeBalance(t *testing.T) {
	t.Parallel()
	s, vm := testSession(t)
	ref := vm.AddThread(1, "main")
	require.NoError(t, s.UpdateThreads())
	th, ok := s.Thread(1)
	require.True(t, ok)
	assert.Equal(t, "main", th.Name())

	before := suspendCount(t, ref)

	paused, err := th.Pause()
	require.NoError(t, err)
	assert.True(t, paused)
	paused, err = th.Pause()
	require.NoError(t, err)
	assert.False(t, paused, "pausing a suspended thread is a no-op")
	assert.Equal(t, before+1, suspendCount(t, ref))

	resumed, err := th.Resume()
	require.NoError(t, err)
	assert.True(t, resumed)
	assert.Equal(t, before, suspendCount(t, ref))

	resumed, err = th.Resume()
	require.NoError(t, err)
	assert.False(t, resumed, "nothing to resume")
}

func TestThread_ResumeBalancesNestedSuspends(t *testing.T) {
	t.Parallel()
	s, vm := testSession(t)
	ref := vm.AddThread(1, "main")
	require.NoError(t, s.UpdateThreads())
	th, _ := s.Thread(1)

	for i := 0; i < 3; i++ {
		require.NoError(t, ref.Suspend())
	}
	resumed, err := th.Resume()
	require.NoError(t, err)
	assert.True(t, resumed)
	assert.Equal(t, 0, suspendCount(t, ref))
}

func TestThread_StepIsNotDuplicated(t *testing.T) {
	t.Parallel()
	s, vm := testSession(t)
	ref := vm.AddThread(1, "main")
	require.NoError(t, s.UpdateThreads())
	startSession(t, s)
	th, _ := s.Thread(1)

	require.NoError(t, ref.Suspend())
	require.NoError(t, th.StepOver())
	require.NoError(t, th.StepInto())
	require.NoError(t, th.StepOut())

	steps := vm.Requests().Steps()
	require.Len(t, steps, 1)
	assert.Equal(t, jdi.StepOver, steps[0].Depth())
	assert.True(t, steps[0].IsEnabled())
	assert.True(t, s.Stepping(1))
	assert.Equal(t, 0, suspendCount(t, ref), "step resumes the thread")

	class := jditest.NewClass("scripts.Foo", "foo.zs", 2)
	require.True(t, vm.CompleteStep(ref, class.Line(2)))

	assert.Eventually(t, func() bool { return !s.Stepping(1) }, waitFor, tick)
	assert.Empty(t, vm.Requests().Steps(), "step request deleted")

	// The thread may step again.
	require.NoError(t, ref.Suspend())
	require.NoError(t, th.StepInto())
	steps = vm.Requests().Steps()
	require.Len(t, steps, 1)
	assert.Equal(t, jdi.StepInto, steps[0].Depth())
}

func TestThread_BreakpointCancelsStep(t *testing.T) {
	t.Parallel()
	s, vm := testSession(t)
	foo := writeScript(t, s, "foo.zs")
	class := jditest.NewClass("scripts.Foo", "foo.zs", 5)
	vm.AddClass(class)
	main := vm.AddThread(1, "main")
	other := vm.AddThread(2, "worker")
	require.NoError(t, s.UpdateThreads())

	m := NewBreakpointManager(WithBreakpointLogger(testLogger()))
	require.NoError(t, m.Attach(s))
	m.SetBreakpoints(foo, lines(5))
	startSession(t, s)

	th, _ := s.Thread(1)
	require.NoError(t, main.Suspend())
	require.NoError(t, th.StepOver())
	require.True(t, s.Stepping(1))

	// A breakpoint on another thread leaves the step alone.
	require.True(t, vm.HitBreakpoint(other, class.Line(5)))
	assert.Never(t, func() bool { return !s.Stepping(1) }, 50*tick, tick)
	assert.Len(t, vm.Requests().Steps(), 1)

	// A breakpoint on the stepping thread cancels it.
	require.True(t, vm.HitBreakpoint(main, class.Line(5)))
	assert.Eventually(t, func() bool { return !s.Stepping(1) }, waitFor, tick)
	assert.Empty(t, vm.Requests().Steps())
}

func TestThread_FramesRequireSuspension(t *testing.T) {
	t.Parallel()
	s, vm := testSession(t)
	ref := vm.AddThread(1, "main")
	class := jditest.NewClass("scripts.Foo", "foo.zs", 1)
	ref.SetFrames(jditest.NewFrame(class.Line(1)))
	require.NoError(t, s.UpdateThreads())
	th, _ := s.Thread(1)

	_, err := th.Frames()
	assert.ErrorIs(t, err, jditest.ErrNotSuspended)

	require.NoError(t, ref.Suspend())
	frames, err := th.Frames()
	require.NoError(t, err)
	assert.Len(t, frames, 1)
	assert.True(t, IsStackInScript(ref))
}
