// Copyright © 2024 The zs-debug-adapter authors

// Package debugger implements the debug session engine of the adapter. A
// Session wraps an attached virtual machine: its Bus publishes runtime
// events, its threads are paused, resumed and stepped, and a
// BreakpointManager keeps client breakpoints resolved against the classes
// the target loads.
//
// The package knows nothing about the client protocol. The dapserver
// package translates between the two.
package debugger

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/warmthdawn/zs-debug-adapter/jdi"
)

// Source is a script file on disk.
type Source struct {
	Name string
	Path string
}

// Session is one attached target.
type Session struct {
	vm          jdi.VirtualMachine
	scriptsRoot string
	bus         *Bus
	log         logrus.FieldLogger

	mu       sync.Mutex
	threads  map[int64]*Thread
	stepping map[int64]struct{}
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the logger of the session and its bus.
func WithLogger(log logrus.FieldLogger) SessionOption {
	return func(s *Session) {
		s.log = log
	}
}

// NewSession wraps vm. scriptsRoot is the directory script source names are
// relative to. The bus is created but not started.
func NewSession(vm jdi.VirtualMachine, scriptsRoot string, opts ...SessionOption) *Session {
	s := &Session{
		vm:          vm,
		scriptsRoot: filepath.Clean(scriptsRoot),
		threads:     make(map[int64]*Thread),
		stepping:    make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	s.bus = NewBus(vm, WithBusLogger(s.log))
	s.log = s.log.WithField("component", "session")
	return s
}

func (s *Session) VM() jdi.VirtualMachine { return s.vm }

func (s *Session) Bus() *Bus { return s.bus }

func (s *Session) ScriptsRoot() string { return s.scriptsRoot }

// Start starts the event poller.
func (s *Session) Start(ctx context.Context) {
	s.bus.Start(ctx)
}

// UpdateThreads replaces the thread registry with the live threads of the
// target.
func (s *Session) UpdateThreads() error {
	s.log.Debug("Updating thread info")
	refs, err := s.vm.AllThreads()
	if err != nil {
		return err
	}
	threads := make(map[int64]*Thread, len(refs))
	for _, ref := range refs {
		threads[ref.UniqueID()] = newThread(ref, s)
	}
	s.mu.Lock()
	s.threads = threads
	s.mu.Unlock()
	return nil
}

// Threads returns the registered threads ordered by id.
func (s *Session) Threads() []*Thread {
	s.mu.Lock()
	threads := make([]*Thread, 0, len(s.threads))
	for _, t := range s.threads {
		threads = append(threads, t)
	}
	s.mu.Unlock()
	sort.Slice(threads, func(i, j int) bool { return threads[i].id < threads[j].id })
	return threads
}

// Thread looks up a thread. Threads that started after the last update are
// found by refreshing the registry once.
func (s *Session) Thread(id int64) (*Thread, bool) {
	if t, ok := s.lookup(id); ok {
		return t, true
	}
	if err := s.UpdateThreads(); err != nil {
		s.log.WithError(err).Debug("Failed to update threads")
		return nil, false
	}
	return s.lookup(id)
}

func (s *Session) lookup(id int64) (*Thread, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	return t, ok
}

// ResumeAll resumes every thread of the target once.
func (s *Session) ResumeAll() error {
	s.log.Info("Resuming session")
	return s.vm.Resume()
}

// Exit terminates the target when its process is still alive and disposes
// the connection. A target that is already gone is not an error.
func (s *Session) Exit() error {
	s.log.Info("Exiting session")
	var result *multierror.Error
	if p := s.vm.Process(); p != nil && p.Alive() {
		if err := s.vm.Exit(0); err != nil && !errors.Is(err, jdi.ErrDisconnected) {
			result = multierror.Append(result, errors.Wrap(err, "exit"))
		}
	}
	if err := s.vm.Dispose(); err != nil && !errors.Is(err, jdi.ErrDisconnected) {
		result = multierror.Append(result, errors.Wrap(err, "dispose"))
	}
	return result.ErrorOrNil()
}

// Stdout returns the standard output of the target, or nil when the target
// was attached without access to its process.
func (s *Session) Stdout() io.Reader {
	if p := s.vm.Process(); p != nil {
		return p.Stdout()
	}
	return nil
}

// Stderr returns the standard error of the target, or nil.
func (s *Session) Stderr() io.Reader {
	if p := s.vm.Process(); p != nil {
		return p.Stderr()
	}
	return nil
}

// SourceOf maps a code location to the script file it was compiled from.
// It reports false when the location has no source information or the file
// does not exist under the scripts root.
func (s *Session) SourceOf(loc jdi.Location) (Source, bool) {
	sourcePath, err := loc.SourcePath()
	if err != nil {
		return Source{}, false
	}
	sourceName, err := loc.SourceName()
	if err != nil {
		return Source{}, false
	}
	file := filepath.Join(s.scriptsRoot, filepath.FromSlash(normalizeSourceName(sourcePath)))
	file = filepath.Join(filepath.Dir(file), sourceName)
	if _, err := os.Stat(file); err != nil {
		return Source{}, false
	}
	if abs, err := filepath.Abs(file); err == nil {
		file = abs
	}
	return Source{Name: sourceName, Path: file}, true
}

// relativePath returns path relative to the scripts root with forward
// slashes, or false when path is outside the root.
func (s *Session) relativePath(path string) (string, bool) {
	rel, err := filepath.Rel(s.scriptsRoot, path)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

// classesOf returns the loaded classes compiled from the script at path.
func (s *Session) classesOf(path string) []jdi.ReferenceType {
	rel, ok := s.relativePath(path)
	if !ok {
		return nil
	}
	all, err := s.vm.AllClasses()
	if err != nil {
		s.log.WithError(err).Warn("Failed to list classes")
		return nil
	}
	var classes []jdi.ReferenceType
	for _, c := range all {
		name, err := c.SourceName()
		if err != nil {
			continue
		}
		if normalizeSourceName(name) == rel {
			classes = append(classes, c)
		}
	}
	return classes
}

func (s *Session) beginStep(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stepping[id]; ok {
		return false
	}
	s.stepping[id] = struct{}{}
	return true
}

func (s *Session) endStep(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stepping, id)
}

// Stepping reports whether thread id has an outstanding step request.
func (s *Session) Stepping(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.stepping[id]
	return ok
}

// IsStackInScript reports whether the top frame of a suspended thread is in
// a script.
func IsStackInScript(t jdi.ThreadReference) bool {
	frames, err := t.Frames()
	if err != nil || len(frames) == 0 {
		return false
	}
	name, err := frames[0].Location().SourceName()
	if err != nil {
		return false
	}
	return strings.HasSuffix(name, ".zs")
}

func normalizeSourceName(name string) string {
	return strings.TrimPrefix(strings.ReplaceAll(name, `\`, "/"), "/")
}
