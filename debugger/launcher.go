// Copyright © 2024 The zs-debug-adapter authors

package debugger

import (
	"context"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/warmthdawn/zs-debug-adapter/jdi"
)

// AttachConfig holds the arguments of an attach request.
type AttachConfig struct {
	ProjectRoot string
	HostName    string
	Port        int
	Timeout     time.Duration
	// ScriptsPath is the scripts directory relative to ProjectRoot. When
	// empty, "scripts" is used.
	ScriptsPath string
	// Transport names a registered jdi connector. When empty,
	// jdi.DefaultTransport is used.
	Transport string
}

// Attach connects to a running target and returns a session whose thread
// registry is populated. The session's bus is not started.
func Attach(ctx context.Context, cfg AttachConfig, opts ...SessionOption) (*Session, error) {
	vm, err := jdi.Attach(ctx, cfg.Transport, jdi.AttachConfig{
		Host:    cfg.HostName,
		Port:    cfg.Port,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to attach to VM")
	}
	s := NewSession(vm, ScriptsPathOf(cfg.ProjectRoot, cfg.ScriptsPath), opts...)
	if err := s.UpdateThreads(); err != nil {
		_ = vm.Dispose()
		return nil, errors.Wrap(err, "failed to list threads")
	}
	return s, nil
}

// ScriptsPathOf returns the scripts root of a project. A project root that
// is itself named "scripts" is the scripts root.
func ScriptsPathOf(projectRoot, scriptsPath string) string {
	var root string
	switch {
	case filepath.Base(filepath.Clean(projectRoot)) == "scripts":
		root = projectRoot
	case scriptsPath != "" && filepath.IsAbs(scriptsPath):
		root = scriptsPath
	case scriptsPath != "":
		root = filepath.Join(projectRoot, scriptsPath)
	default:
		root = filepath.Join(projectRoot, "scripts")
	}
	if abs, err := filepath.Abs(root); err == nil {
		return abs
	}
	return filepath.Clean(root)
}
