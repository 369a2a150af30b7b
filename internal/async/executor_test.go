package async

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestExecutor_FIFO(t *testing.T) {
	t.Parallel()
	e := NewExecutor("test")
	defer e.Shutdown()

	var mu sync.Mutex
	var order []int
	var last *Future[struct{}]
	for i := 0; i < 50; i++ {
		i := i
		last = e.Run(func() error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})
	}
	_, err := last.Wait(waitCtx(t))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 50)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestExecutor_OneAtATime(t *testing.T) {
	t.Parallel()
	e := NewExecutor("test")
	defer e.Shutdown()

	var mu sync.Mutex
	running, peak := 0, 0
	var futs []*Future[struct{}]
	for i := 0; i < 10; i++ {
		futs = append(futs, e.Run(func() error {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
			return nil
		}))
	}
	for _, f := range futs {
		_, err := f.Wait(waitCtx(t))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, peak)
}

func TestSupply(t *testing.T) {
	t.Parallel()
	e := NewExecutor("test")
	defer e.Shutdown()

	v, err := Supply(e, func() (int, error) { return 42, nil }).Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	boom := errors.New("boom")
	_, err = Supply(e, func() (int, error) { return 0, boom }).Wait(waitCtx(t))
	assert.ErrorIs(t, err, boom)
}

func TestSupply_Panic(t *testing.T) {
	t.Parallel()
	e := NewExecutor("test")
	defer e.Shutdown()

	_, err := Supply(e, func() (int, error) { panic("kaboom") }).Wait(waitCtx(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	// The worker survives a panicking task.
	v, err := Supply(e, func() (string, error) { return "ok", nil }).Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestSupplyOr(t *testing.T) {
	t.Parallel()
	e := NewExecutor("test")
	defer e.Shutdown()

	tests := []struct {
		name string
		task func() (string, error)
		want string
	}{
		{"success", func() (string, error) { return "value", nil }, "value"},
		{"error", func() (string, error) { return "", errors.New("fail") }, "default"},
		{"panic", func() (string, error) { panic("fail") }, "default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := SupplyOr(e, "default", tt.task).Wait(waitCtx(t))
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestExecutor_ShutdownAbandonsQueued(t *testing.T) {
	t.Parallel()
	e := NewExecutor("test")

	release := make(chan struct{})
	started := make(chan struct{})
	running := e.Run(func() error {
		close(started)
		<-release
		return nil
	})
	<-started

	queued := Supply(e, func() (int, error) { return 1, nil })
	e.Shutdown()

	_, err := queued.Wait(waitCtx(t))
	assert.ErrorIs(t, err, ErrShutdown)

	late := e.Run(func() error { return nil })
	_, err = late.Wait(waitCtx(t))
	assert.ErrorIs(t, err, ErrShutdown)

	close(release)
	_, err = running.Wait(waitCtx(t))
	assert.NoError(t, err, "running task finishes normally")

	select {
	case <-e.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not exit")
	}

	// Shutdown twice is harmless.
	e.Shutdown()
}

func TestFuture_OnComplete(t *testing.T) {
	t.Parallel()
	e := NewExecutor("test")
	defer e.Shutdown()

	release := make(chan struct{})
	f := Supply(e, func() (int, error) {
		<-release
		return 7, nil
	})

	got := make(chan int, 2)
	f.OnComplete(func(v int, err error) {
		assert.NoError(t, err)
		got <- v
	})
	close(release)
	assert.Equal(t, 7, <-got)

	// Registering after completion runs immediately.
	f.OnComplete(func(v int, err error) { got <- v })
	assert.Equal(t, 7, <-got)
}

func TestFuture_OnCompleteBeforeNextTask(t *testing.T) {
	t.Parallel()
	e := NewExecutor("test")
	defer e.Shutdown()

	var mu sync.Mutex
	var log []string
	record := func(s string) {
		mu.Lock()
		log = append(log, s)
		mu.Unlock()
	}

	gate := make(chan struct{})
	first := e.Run(func() error {
		<-gate
		record("task1")
		return nil
	})
	first.OnComplete(func(struct{}, error) { record("callback1") })
	second := e.Run(func() error {
		record("task2")
		return nil
	})
	close(gate)
	_, err := second.Wait(waitCtx(t))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"task1", "callback1", "task2"}, log)
}

func TestFuture_WaitContext(t *testing.T) {
	t.Parallel()
	f := newFuture[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	v, err := Resolved(3, nil).Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}
