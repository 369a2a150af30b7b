// Copyright © 2024 The zs-debug-adapter authors

package dapserver

import (
	"sync"

	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

// OutputHook is a logrus hook that forwards log entries to the connected
// client as console output events. It is meant for stdio mode, where the
// adapter has no terminal of its own. Entries logged while no client is
// connected are dropped.
type OutputHook struct {
	levels    []logrus.Level
	formatter logrus.Formatter

	mu   sync.Mutex
	conn *connection
}

var _ logrus.Hook = (*OutputHook)(nil)

// NewOutputHook returns a hook firing for the given levels, or for every
// level when none are given.
func NewOutputHook(levels ...logrus.Level) *OutputHook {
	if len(levels) == 0 {
		levels = logrus.AllLevels
	}
	return &OutputHook{
		levels: levels,
		formatter: &logrus.TextFormatter{
			DisableColors:    true,
			DisableTimestamp: true,
		},
	}
}

func (h *OutputHook) Levels() []logrus.Level {
	return h.levels
}

// Fire sends e to the client. Write errors are dropped: reporting them
// through the logger would fire the hook again.
func (h *OutputHook) Fire(e *logrus.Entry) error {
	h.mu.Lock()
	c := h.conn
	h.mu.Unlock()
	if c == nil {
		return nil
	}
	line, err := h.formatter.Format(e)
	if err != nil {
		return err
	}
	evt := &dap.OutputEvent{Event: c.newEvent("output")}
	evt.Body.Category = "console"
	evt.Body.Output = string(line)
	_ = c.send(evt)
	return nil
}

func (h *OutputHook) bind(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conn = c
}

func (h *OutputHook) unbind(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == c {
		h.conn = nil
	}
}
