// Copyright © 2024 The zs-debug-adapter authors

package jdi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultTransport is the socket transport used by attach requests that do
// not name one.
const DefaultTransport = "dt_socket"

var (
	// ErrDisconnected is returned by any call once the target is gone.
	ErrDisconnected = errors.New("jdi: virtual machine disconnected")
	// ErrAbsentInformation is returned when debug information (line or
	// local variable tables) was not compiled in.
	ErrAbsentInformation = errors.New("jdi: absent debug information")
	// ErrUnknownTransport is returned by Attach for unregistered transports.
	ErrUnknownTransport = errors.New("jdi: unknown transport")
)

// AttachConfig holds the arguments of a socket attach.
type AttachConfig struct {
	Host    string
	Port    int
	Timeout time.Duration
}

func (c AttachConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Connector attaches to a running target.
type Connector interface {
	Attach(ctx context.Context, cfg AttachConfig) (VirtualMachine, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, cfg AttachConfig) (VirtualMachine, error)

func (f ConnectorFunc) Attach(ctx context.Context, cfg AttachConfig) (VirtualMachine, error) {
	return f(ctx, cfg)
}

var (
	connectorsMu sync.RWMutex
	connectors   = make(map[string]Connector)
)

// Register makes a connector available under the transport name. Calling
// Register twice with the same name replaces the earlier connector.
func Register(transport string, c Connector) {
	if c == nil {
		panic("jdi: Register connector is nil")
	}
	connectorsMu.Lock()
	defer connectorsMu.Unlock()
	connectors[transport] = c
}

// Unregister removes a transport. It is mostly useful in tests.
func Unregister(transport string) {
	connectorsMu.Lock()
	defer connectorsMu.Unlock()
	delete(connectors, transport)
}

// Transports returns the sorted names of the registered transports.
func Transports() []string {
	connectorsMu.RLock()
	defer connectorsMu.RUnlock()
	names := make([]string, 0, len(connectors))
	for name := range connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Attach connects through the named transport. A positive cfg.Timeout bounds
// the handshake.
func Attach(ctx context.Context, transport string, cfg AttachConfig) (VirtualMachine, error) {
	if transport == "" {
		transport = DefaultTransport
	}
	connectorsMu.RLock()
	c, ok := connectors[transport]
	connectorsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownTransport, transport)
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	return c.Attach(ctx, cfg)
}
