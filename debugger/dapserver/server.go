// Copyright © 2024 The zs-debug-adapter authors

// Package dapserver implements a DAP (Debug Adapter Protocol) server for
// the ZenScript debugger engine. It translates between the DAP wire
// protocol and debugger.Session.
//
// The server supports two transport modes:
//   - TCP: the server listens on a port and serves every accepted client in
//     its own goroutine, each with an independent debug session.
//   - Stdio: the server reads from stdin and writes to stdout, as expected
//     by editors launching the adapter as a child process.
package dapserver

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
)

// DefaultMaxValueLength bounds the variable values sent to the client.
const DefaultMaxValueLength = 1000

// Server serves DAP clients. A Server holds configuration only; the state
// of a debug session lives with its connection.
type Server struct {
	log            logrus.FieldLogger
	tracerProvider trace.TracerProvider
	transport      string
	maxValueLength int
	hook           *OutputHook
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger of the server and its sessions.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// WithTracerProvider sets the provider of request spans. The global
// provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) {
		s.tracerProvider = tp
	}
}

// WithTransport sets the jdi transport used by attach requests that do not
// name one.
func WithTransport(name string) Option {
	return func(s *Server) {
		s.transport = name
	}
}

// WithMaxValueLength truncates variable values longer than n runes. A
// non-positive n disables truncation.
func WithMaxValueLength(n int) Option {
	return func(s *Server) {
		s.maxValueLength = n
	}
}

// WithOutputHook binds hook to every served connection, so that log entries
// reach the client as console output.
func WithOutputHook(hook *OutputHook) Option {
	return func(s *Server) {
		s.hook = hook
	}
}

// New creates a server.
func New(opts ...Option) *Server {
	s := &Server{maxValueLength: DefaultMaxValueLength}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	if s.tracerProvider == nil {
		s.tracerProvider = otel.GetTracerProvider()
	}
	return s
}

// ServeConn serves DAP messages on a single connection. It blocks until
// the connection is closed or a disconnect request is received.
func (s *Server) ServeConn(conn io.ReadWriteCloser) error {
	defer conn.Close() //nolint:errcheck // best-effort cleanup
	return s.serve(bufio.NewReader(conn), conn)
}

// ServeTCP listens on the given address and serves every client that
// connects. It blocks until the listener fails.
func (s *Server) ServeTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close() //nolint:errcheck // best-effort cleanup
	s.log.Infof("Listening on %s", ln.Addr())
	return s.ServeListener(ln)
}

// ServeListener accepts connections from ln and serves each in its own
// goroutine. It returns the first Accept error.
func (s *Server) ServeListener(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		s.log.Infof("Accepted connection from %s", conn.RemoteAddr())
		go func() {
			if err := s.ServeConn(conn); err != nil {
				s.log.WithError(err).Warn("Connection ended with error")
			}
		}()
	}
}

// ServeStdio serves DAP messages on the given reader and writer,
// typically os.Stdin and os.Stdout.
func (s *Server) ServeStdio(r io.Reader, w io.Writer) error {
	return s.serve(bufio.NewReader(r), w)
}

func (s *Server) serve(r *bufio.Reader, w io.Writer) error {
	c := newConnection(w, s.log)
	if s.hook != nil {
		s.hook.bind(c)
		defer s.hook.unbind(c)
	}
	h := newHandler(s, c)
	defer h.shutdown()

	for {
		select {
		case <-c.done:
			return nil
		default:
		}

		msg, err := dap.ReadProtocolMessage(r)
		if err != nil {
			var fieldErr *dap.DecodeProtocolMessageFieldError
			if errors.As(err, &fieldErr) {
				h.unsupported(fieldErr)
				continue
			}
			select {
			case <-c.done:
				return nil
			default:
				if errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}
		}

		h.handle(msg)
	}
}

// connection is the writing half of one client connection.
type connection struct {
	log logrus.FieldLogger

	mu sync.Mutex
	w  io.Writer

	seq *atomic.Int64

	// done is closed when the server should stop processing messages.
	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(w io.Writer, log logrus.FieldLogger) *connection {
	return &connection{
		log:  log,
		w:    w,
		seq:  atomic.NewInt64(0),
		done: make(chan struct{}),
	}
}

// send writes a DAP protocol message to the client.
// The caller is responsible for setting the Seq field before calling send
// (via the newResponse/newEvent helpers which call nextSeq).
func (c *connection) send(msg dap.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return dap.WriteProtocolMessage(c.w, msg)
}

// nextSeq returns the next sequence number for outgoing messages.
func (c *connection) nextSeq() int {
	return int(c.seq.Inc())
}

func (c *connection) newEvent(event string) dap.Event {
	return dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Seq: c.nextSeq(), Type: "event"},
		Event:           event,
	}
}

// close signals the server to stop processing messages.
func (c *connection) close() {
	c.closeOnce.Do(func() { close(c.done) })
}
