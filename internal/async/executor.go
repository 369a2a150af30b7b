// Copyright © 2024 The zs-debug-adapter authors

// Package async runs tasks one at a time, in submission order, on a
// dedicated worker goroutine. A debug session keeps one Executor per concern
// so a blocked task of one concern never delays another.
package async

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrShutdown completes every task that had not started when its executor
// was shut down, and every task submitted afterwards.
var ErrShutdown = errors.New("async: executor shut down")

type job struct {
	run   func()
	abort func(error)
}

// Executor is a single worker FIFO task queue.
type Executor struct {
	name string
	log  logrus.FieldLogger

	mu     sync.Mutex
	jobs   []job
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger used to report swallowed task failures.
func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Executor) {
		e.log = log
	}
}

// NewExecutor starts an executor. The name appears in log entries.
func NewExecutor(name string, opts ...Option) *Executor {
	e := &Executor{
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logrus.StandardLogger()
	}
	e.log = e.log.WithField("executor", name)
	go e.loop()
	return e
}

func (e *Executor) loop() {
	defer close(e.done)
	for {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return
		}
		if len(e.jobs) == 0 {
			e.mu.Unlock()
			<-e.wake
			continue
		}
		j := e.jobs[0]
		e.jobs[0] = job{}
		e.jobs = e.jobs[1:]
		e.mu.Unlock()
		j.run()
	}
}

func (e *Executor) submit(j job) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		j.abort(ErrShutdown)
		return
	}
	e.jobs = append(e.jobs, j)
	e.mu.Unlock()
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Shutdown stops the worker after the running task, if any, returns. Tasks
// that have not started complete with ErrShutdown. Shutdown does not wait
// for the running task; use Done for that.
func (e *Executor) Shutdown() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	pending := e.jobs
	e.jobs = nil
	e.mu.Unlock()
	select {
	case e.wake <- struct{}{}:
	default:
	}
	for _, j := range pending {
		j.abort(ErrShutdown)
	}
}

// Done is closed when the worker goroutine has exited.
func (e *Executor) Done() <-chan struct{} {
	return e.done
}

// Run submits a task that produces no value.
func (e *Executor) Run(task func() error) *Future[struct{}] {
	return Supply(e, func() (struct{}, error) {
		return struct{}{}, task()
	})
}

// Supply submits a task producing a value. A panic inside task completes
// the future with an error carrying the stack of the panic.
func Supply[T any](e *Executor, task func() (T, error)) *Future[T] {
	f := newFuture[T]()
	e.submit(job{
		run: func() {
			v, err := call(task)
			f.complete(v, err)
		},
		abort: func(err error) {
			var zero T
			f.complete(zero, err)
		},
	})
	return f
}

// SupplyOr submits a task whose failure is logged and replaced by def.
// Shutdown still completes the future with ErrShutdown.
func SupplyOr[T any](e *Executor, def T, task func() (T, error)) *Future[T] {
	return Supply(e, func() (T, error) {
		v, err := call(task)
		if err != nil {
			e.log.WithError(err).Debug("task failed, using default")
			return def, nil
		}
		return v, nil
	})
}

func call[T any](task func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			if rerr, ok := r.(error); ok {
				err = errors.Wrap(rerr, "panic")
			} else {
				err = errors.Errorf("panic: %v", r)
			}
		}
	}()
	return task()
}
