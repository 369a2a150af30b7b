// Copyright © 2024 The zs-debug-adapter authors

package debugger

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/warmthdawn/zs-debug-adapter/jdi"
)

// Thread controls one target thread.
type Thread struct {
	ref     jdi.ThreadReference
	session *Session
	id      int64
	name    string
	log     logrus.FieldLogger
}

func newThread(ref jdi.ThreadReference, s *Session) *Thread {
	name, err := ref.Name()
	if err != nil || name == "" {
		name = "Unnamed Thread"
	}
	id := ref.UniqueID()
	return &Thread{
		ref:     ref,
		session: s,
		id:      id,
		name:    name,
		log:     s.log.WithField("thread", id),
	}
}

func (t *Thread) ID() int64 { return t.id }

func (t *Thread) Name() string { return t.name }

func (t *Thread) Ref() jdi.ThreadReference { return t.ref }

// Pause suspends the thread unless it is already suspended. It reports
// whether a new suspension happened.
func (t *Thread) Pause() (bool, error) {
	suspended, err := t.ref.IsSuspended()
	if err != nil {
		return false, err
	}
	if suspended {
		return false, nil
	}
	if err := t.ref.Suspend(); err != nil {
		return false, err
	}
	return true, nil
}

// Resume resumes the thread as many times as it is suspended, so that it
// actually runs. It reports whether the thread was suspended at all.
func (t *Thread) Resume() (bool, error) {
	count, err := t.ref.SuspendCount()
	if err != nil {
		return false, err
	}
	for i := 0; i < count; i++ {
		if err := t.ref.Resume(); err != nil {
			return i > 0, err
		}
	}
	return count > 0, nil
}

// Frames returns the call stack of the suspended thread.
func (t *Thread) Frames() ([]jdi.StackFrame, error) {
	return t.ref.Frames()
}

func (t *Thread) StepOver() error { return t.step(jdi.StepOver) }

func (t *Thread) StepInto() error { return t.step(jdi.StepInto) }

func (t *Thread) StepOut() error { return t.step(jdi.StepOut) }

// step issues a line step and resumes the thread. A thread with a step
// already outstanding is left alone. The step request is deleted by the
// first breakpoint or step event of the thread, whichever comes first.
func (t *Thread) step(depth jdi.StepDepth) error {
	s := t.session
	if !s.beginStep(t.id) {
		t.log.Debugf("Ignoring step %s, a step is outstanding", depth)
		return nil
	}
	t.log.Infof("Stepping %s", depth)

	erm := s.vm.EventRequestManager()
	req, err := erm.CreateStepRequest(t.ref, jdi.StepLine, depth)
	if err != nil {
		s.endStep(t.id)
		return errors.Wrap(err, "create step request")
	}
	req.SetSuspendPolicy(jdi.SuspendEventThread)
	req.AddCountFilter(1)

	c := &stepCleanup{}
	c.abort = func() {
		if err := erm.DeleteEventRequest(req); err != nil {
			t.log.WithError(err).Debug("Failed to delete step request")
		}
		s.endStep(t.id)
	}
	handler := func(ev *Event) {
		if ev.ThreadID() == t.id {
			c.run()
		}
	}
	c.add(s.bus.On(EventBreakpoint, handler))
	c.add(s.bus.On(EventStep, handler))

	if err := req.Enable(); err != nil {
		c.run()
		return errors.Wrap(err, "enable step request")
	}
	if _, err := t.Resume(); err != nil {
		c.run()
		return errors.Wrap(err, "resume")
	}
	return nil
}

// stepCleanup runs abort once and removes the handlers that trigger it.
type stepCleanup struct {
	abort func()

	mu      sync.Mutex
	done    bool
	cancels []func()
}

func (c *stepCleanup) add(cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		cancel()
		return
	}
	c.cancels = append(c.cancels, cancel)
}

func (c *stepCleanup) run() {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return
	}
	c.done = true
	cancels := c.cancels
	c.cancels = nil
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	c.abort()
}
