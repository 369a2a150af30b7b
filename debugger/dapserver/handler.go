// Copyright © 2024 The zs-debug-adapter authors

package dapserver

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/go-dap"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"

	"github.com/warmthdawn/zs-debug-adapter/debugger"
	"github.com/warmthdawn/zs-debug-adapter/internal/async"
)

const tracerName = "github.com/warmthdawn/zs-debug-adapter/debugger/dapserver"

// attachArguments are the launch.json fields of an attach request.
type attachArguments struct {
	ProjectRoot string `json:"projectRoot"`
	HostName    string `json:"hostName"`
	Port        int    `json:"port"`
	// Timeout is in milliseconds.
	Timeout     int    `json:"timeout"`
	ScriptsPath string `json:"scriptsPath"`
	Transport   string `json:"transport"`
}

// handler dispatches incoming DAP messages to the appropriate method.
// Requests run in arrival order on the request executor, except attach,
// which waits for configurationDone on an executor of its own.
type handler struct {
	server *Server
	conn   *connection
	log    logrus.FieldLogger
	tracer trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc

	requests *async.Executor
	attacher *async.Executor
	stdout   *async.Executor
	stderr   *async.Executor

	breakpoints *debugger.BreakpointManager
	conv        *converter

	configured    chan struct{}
	configureOnce sync.Once
	attaching     atomic.Bool
	attached      chan struct{}
	attachOnce    sync.Once
	terminateOnce sync.Once

	mu      sync.Mutex
	session *debugger.Session
}

func newHandler(s *Server, c *connection) *handler {
	log := s.log.WithField("component", "dap")
	ctx, cancel := context.WithCancel(context.Background())
	return &handler{
		server:      s,
		conn:        c,
		log:         log,
		tracer:      s.tracerProvider.Tracer(tracerName),
		ctx:         ctx,
		cancel:      cancel,
		requests:    async.NewExecutor("requests", async.WithLogger(log)),
		attacher:    async.NewExecutor("attach", async.WithLogger(log)),
		stdout:      async.NewExecutor("stdout", async.WithLogger(log)),
		stderr:      async.NewExecutor("stderr", async.WithLogger(log)),
		breakpoints: debugger.NewBreakpointManager(debugger.WithBreakpointLogger(s.log)),
		conv:        newConverter(s.maxValueLength, log),
		configured:  make(chan struct{}),
		attached:    make(chan struct{}),
	}
}

// send sends a DAP message and logs any write error.
func (h *handler) send(msg dap.Message) {
	if err := h.conn.send(msg); err != nil {
		h.log.WithError(err).Debug("Failed to send message")
	}
}

func (h *handler) handle(msg dap.Message) {
	rm, ok := msg.(dap.RequestMessage)
	if !ok {
		h.log.Warnf("Unhandled message type: %T", msg)
		return
	}
	req := rm.GetRequest()
	_, span := h.tracer.Start(h.ctx, "dap."+req.Command, trace.WithAttributes(
		attribute.String("dap.command", req.Command),
		attribute.Int("dap.seq", req.Seq),
	))

	finish := func(_ struct{}, err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			h.sendError(req, err)
		}
		span.End()
	}

	exec := h.requests
	switch msg.(type) {
	case *dap.ConfigurationDoneRequest:
		// Answered on the read loop so that it never queues behind a
		// request waiting for the attach.
		finish(struct{}{}, h.dispatch(msg))
		return
	case *dap.AttachRequest:
		h.attaching.Store(true)
		exec = h.attacher
	}
	exec.Run(func() error {
		return h.dispatch(msg)
	}).OnComplete(finish)
}

func (h *handler) dispatch(msg dap.Message) error {
	switch req := msg.(type) {
	case *dap.InitializeRequest:
		return h.onInitialize(req)
	case *dap.LaunchRequest:
		return requestErrorf("Can only attach")
	case *dap.AttachRequest:
		return h.onAttach(req)
	case *dap.SetBreakpointsRequest:
		return h.onSetBreakpoints(req)
	case *dap.SetExceptionBreakpointsRequest:
		return h.onSetExceptionBreakpoints(req)
	case *dap.ConfigurationDoneRequest:
		return h.onConfigurationDone(req)
	case *dap.ThreadsRequest:
		return h.onThreads(req)
	case *dap.StackTraceRequest:
		return h.onStackTrace(req)
	case *dap.ScopesRequest:
		return h.onScopes(req)
	case *dap.VariablesRequest:
		return h.onVariables(req)
	case *dap.EvaluateRequest:
		return h.onEvaluate(req)
	case *dap.ContinueRequest:
		return h.onContinue(req)
	case *dap.NextRequest:
		return h.onNext(req)
	case *dap.StepInRequest:
		return h.onStepIn(req)
	case *dap.StepOutRequest:
		return h.onStepOut(req)
	case *dap.PauseRequest:
		return h.onPause(req)
	case *dap.DisconnectRequest:
		return h.onDisconnect(req)
	}
	return requestErrorf("Unsupported request %q", msg.(dap.RequestMessage).GetRequest().Command)
}

// unsupported answers a request go-dap could not decode.
func (h *handler) unsupported(err *dap.DecodeProtocolMessageFieldError) {
	h.log.WithError(err).Warn("Failed to decode message")
	if !strings.EqualFold(err.SubType, "request") {
		return
	}
	req := &dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Seq: err.Seq, Type: "request"},
		Command:         err.FieldValue,
	}
	h.requests.Run(func() error {
		return requestErrorf("Unsupported request %q", err.FieldValue)
	}).OnComplete(func(_ struct{}, err error) {
		h.sendError(req, err)
	})
}

func (h *handler) onInitialize(req *dap.InitializeRequest) error {
	resp := &dap.InitializeResponse{}
	resp.Response = h.newResponse(req.Seq, req.Command)
	resp.Body = dap.Capabilities{
		SupportsConfigurationDoneRequest: true,
		SupportTerminateDebuggee:         true,
		SupportSuspendDebuggee:           true,
	}
	h.send(resp)

	// Send initialized event to tell the client it can send configuration.
	h.send(&dap.InitializedEvent{
		Event: h.newEvent("initialized"),
	})
	return nil
}

func (h *handler) onAttach(req *dap.AttachRequest) error {
	defer h.attachOnce.Do(func() { close(h.attached) })

	var args attachArguments
	if err := json.Unmarshal(req.Arguments, &args); err != nil {
		return requestErrorf("Invalid attach arguments: %v", err)
	}
	if args.ProjectRoot == "" {
		return requestErrorf("Missing projectRoot")
	}
	root, err := homedir.Expand(args.ProjectRoot)
	if err != nil {
		return requestErrorf("Invalid projectRoot: %v", err)
	}
	if args.Port <= 0 {
		return requestErrorf("Missing port")
	}
	if args.HostName == "" {
		args.HostName = "localhost"
	}
	if args.Transport == "" {
		args.Transport = h.server.transport
	}

	// Breakpoints sent during configuration must be known before the target
	// runs on.
	select {
	case <-h.configured:
	case <-h.ctx.Done():
		return async.ErrShutdown
	}

	cfg := debugger.AttachConfig{
		ProjectRoot: root,
		HostName:    args.HostName,
		Port:        args.Port,
		Timeout:     time.Duration(args.Timeout) * time.Millisecond,
		ScriptsPath: args.ScriptsPath,
		Transport:   args.Transport,
	}
	h.log.Infof("Attaching to %s:%d", cfg.HostName, cfg.Port)
	s, err := debugger.Attach(h.ctx, cfg, debugger.WithLogger(h.server.log))
	if err != nil {
		h.output("console", "Failed to attach: "+err.Error()+"\n")
		return requestErrorf("Failed to attach to %s:%d: %v", cfg.HostName, cfg.Port, err)
	}

	h.mu.Lock()
	h.session = s
	h.mu.Unlock()
	h.subscribe(s)

	resp := &dap.AttachResponse{}
	resp.Response = h.newResponse(req.Seq, req.Command)
	h.send(resp)

	for _, t := range s.Threads() {
		h.sendThreadEvent("started", t.ID())
	}
	if err := h.breakpoints.Attach(s); err != nil {
		h.log.WithError(err).Error("Failed to watch script classes")
	}
	h.pump(h.stdout, s.Stdout(), "stdout")
	h.pump(h.stderr, s.Stderr(), "stderr")
	s.Start(h.ctx)
	h.log.Info("Attached")
	return nil
}

// subscribe forwards session events to the client.
func (h *handler) subscribe(s *debugger.Session) {
	bus := s.Bus()
	bus.On(debugger.EventThreadStart, func(ev *debugger.Event) {
		h.sendThreadEvent("started", ev.ThreadID())
	})
	bus.On(debugger.EventThreadDeath, func(ev *debugger.Event) {
		h.conv.resumed(ev.ThreadID())
		h.sendThreadEvent("exited", ev.ThreadID())
	})
	bus.On(debugger.EventBreakpoint, func(ev *debugger.Event) {
		ev.KeepSuspended()
		h.conv.resumed(ev.ThreadID())
		h.sendStoppedEvent("breakpoint", ev.ThreadID())
	})
	bus.On(debugger.EventStep, func(ev *debugger.Event) {
		ev.KeepSuspended()
		h.conv.resumed(ev.ThreadID())
		h.sendStoppedEvent("step", ev.ThreadID())
	})
	bus.On(debugger.EventBreakpointChanged, func(ev *debugger.Event) {
		evt := &dap.BreakpointEvent{Event: h.newEvent("breakpoint")}
		evt.Body.Reason = "changed"
		evt.Body.Breakpoint = h.conv.breakpoint(*ev.Breakpoint)
		h.send(evt)
	})
	bus.On(debugger.EventExit, func(*debugger.Event) {
		h.log.Info("Target exited")
		h.terminate()
	})
}

// pump forwards lines read from r as output events of category.
func (h *handler) pump(exec *async.Executor, r io.Reader, category string) {
	if r == nil {
		return
	}
	exec.Run(func() error {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			h.output(category, scanner.Text()+"\n")
		}
		return scanner.Err()
	}).OnComplete(func(_ struct{}, err error) {
		if err != nil && !errors.Is(err, async.ErrShutdown) {
			h.log.WithError(err).Warnf("Stopped reading %s", category)
		}
	})
}

func (h *handler) onSetBreakpoints(req *dap.SetBreakpointsRequest) error {
	path := req.Arguments.Source.Path
	if path == "" {
		return requestErrorf("Missing source path")
	}
	sbps := make([]debugger.SourceBreakpoint, len(req.Arguments.Breakpoints))
	for i, bp := range req.Arguments.Breakpoints {
		sbps[i] = debugger.SourceBreakpoint{Line: bp.Line, Column: bp.Column}
	}
	bps := h.breakpoints.SetBreakpoints(path, sbps)

	resp := &dap.SetBreakpointsResponse{}
	resp.Response = h.newResponse(req.Seq, req.Command)
	resp.Body.Breakpoints = make([]dap.Breakpoint, len(bps))
	for i, bp := range bps {
		resp.Body.Breakpoints[i] = h.conv.breakpoint(bp)
	}
	h.send(resp)
	return nil
}

func (h *handler) onSetExceptionBreakpoints(req *dap.SetExceptionBreakpointsRequest) error {
	resp := &dap.SetExceptionBreakpointsResponse{}
	resp.Response = h.newResponse(req.Seq, req.Command)
	h.send(resp)
	return nil
}

func (h *handler) onConfigurationDone(req *dap.ConfigurationDoneRequest) error {
	resp := &dap.ConfigurationDoneResponse{}
	resp.Response = h.newResponse(req.Seq, req.Command)
	h.send(resp)
	// Requests queued before this one, breakpoints in particular, are
	// applied before the attach goes on.
	h.requests.Run(func() error {
		h.configureOnce.Do(func() { close(h.configured) })
		return nil
	})
	return nil
}

// onThreads lists the live threads. While an attach is connecting it waits
// for the outcome; before configuration is done there is nothing to list.
func (h *handler) onThreads(req *dap.ThreadsRequest) error {
	if h.attaching.Load() {
		select {
		case <-h.configured:
			select {
			case <-h.attached:
			case <-h.ctx.Done():
				return async.ErrShutdown
			}
		default:
		}
	}
	resp := &dap.ThreadsResponse{}
	resp.Response = h.newResponse(req.Seq, req.Command)
	resp.Body.Threads = []dap.Thread{}
	if s := h.currentSession(); s != nil {
		if err := s.UpdateThreads(); err != nil {
			h.log.WithError(err).Warn("Failed to update threads")
		}
		resp.Body.Threads = h.conv.threads(s.Threads())
	}
	h.send(resp)
	return nil
}

func (h *handler) onStackTrace(req *dap.StackTraceRequest) error {
	s, t, err := h.thread(req.Arguments.ThreadId)
	if err != nil {
		return err
	}
	frames, err := t.Frames()
	if err != nil {
		return requestErrorf("Thread %d is not suspended", t.ID())
	}

	resp := &dap.StackTraceResponse{}
	resp.Response = h.newResponse(req.Seq, req.Command)
	resp.Body.TotalFrames = len(frames)

	// Apply paging.
	start := req.Arguments.StartFrame
	if start < 0 {
		start = 0
	}
	if start > len(frames) {
		start = len(frames)
	}
	end := len(frames)
	if req.Arguments.Levels > 0 && start+req.Arguments.Levels < end {
		end = start + req.Arguments.Levels
	}
	resp.Body.StackFrames = h.conv.stackFrames(s, t.ID(), frames[start:end])
	h.send(resp)
	return nil
}

func (h *handler) onScopes(req *dap.ScopesRequest) error {
	frame, ok := h.conv.frame(req.Arguments.FrameId)
	if !ok {
		return requestErrorf("Unknown frame %d", req.Arguments.FrameId)
	}
	resp := &dap.ScopesResponse{}
	resp.Response = h.newResponse(req.Seq, req.Command)
	resp.Body.Scopes = h.conv.scopes(frame)
	if resp.Body.Scopes == nil {
		resp.Body.Scopes = []dap.Scope{}
	}
	h.send(resp)
	return nil
}

func (h *handler) onVariables(req *dap.VariablesRequest) error {
	vars, err := h.conv.variables(req.Arguments.VariablesReference)
	if err != nil {
		return err
	}
	resp := &dap.VariablesResponse{}
	resp.Response = h.newResponse(req.Seq, req.Command)
	resp.Body.Variables = vars
	h.send(resp)
	return nil
}

func (h *handler) onEvaluate(req *dap.EvaluateRequest) error {
	s := h.currentSession()
	if s == nil {
		return errNotAttached
	}
	if req.Arguments.FrameId == 0 {
		return requestErrorf("Evaluation requires a stopped frame")
	}
	frame, ok := h.conv.frame(req.Arguments.FrameId)
	if !ok {
		return requestErrorf("Unknown frame %d", req.Arguments.FrameId)
	}
	v, err := debugger.NewEvaluator(s.VM(), frame).Evaluate(req.Arguments.Expression)
	if err != nil {
		return requestErrorf("%v", err)
	}

	resp := &dap.EvaluateResponse{}
	resp.Response = h.newResponse(req.Seq, req.Command)
	resp.Body.Result, resp.Body.Type, resp.Body.VariablesReference = h.conv.evaluated(v)
	h.send(resp)
	return nil
}

func (h *handler) onContinue(req *dap.ContinueRequest) error {
	s, t, err := h.thread(req.Arguments.ThreadId)
	if err != nil {
		return err
	}
	resumed, err := t.Resume()
	if err != nil {
		return errors.Wrapf(err, "resume thread %d", t.ID())
	}
	all := false
	if !resumed {
		if err := s.ResumeAll(); err != nil {
			return errors.Wrap(err, "resume all threads")
		}
		all = true
	}
	h.conv.continued(t.ID())

	resp := &dap.ContinueResponse{}
	resp.Response = h.newResponse(req.Seq, req.Command)
	resp.Body.AllThreadsContinued = all
	h.send(resp)
	return nil
}

func (h *handler) onNext(req *dap.NextRequest) error {
	return h.step(req.Arguments.ThreadId, (*debugger.Thread).StepOver, func() dap.Message {
		resp := &dap.NextResponse{}
		resp.Response = h.newResponse(req.Seq, req.Command)
		return resp
	})
}

func (h *handler) onStepIn(req *dap.StepInRequest) error {
	return h.step(req.Arguments.ThreadId, (*debugger.Thread).StepInto, func() dap.Message {
		resp := &dap.StepInResponse{}
		resp.Response = h.newResponse(req.Seq, req.Command)
		return resp
	})
}

func (h *handler) onStepOut(req *dap.StepOutRequest) error {
	return h.step(req.Arguments.ThreadId, (*debugger.Thread).StepOut, func() dap.Message {
		resp := &dap.StepOutResponse{}
		resp.Response = h.newResponse(req.Seq, req.Command)
		return resp
	})
}

func (h *handler) step(threadID int, step func(*debugger.Thread) error, response func() dap.Message) error {
	_, t, err := h.thread(threadID)
	if err != nil {
		return err
	}
	h.conv.resumed(t.ID())
	if err := step(t); err != nil {
		return errors.Wrapf(err, "step thread %d", t.ID())
	}
	h.send(response())
	return nil
}

func (h *handler) onPause(req *dap.PauseRequest) error {
	_, t, err := h.thread(req.Arguments.ThreadId)
	if err != nil {
		return err
	}
	paused, err := t.Pause()
	if err != nil {
		return errors.Wrapf(err, "pause thread %d", t.ID())
	}
	resp := &dap.PauseResponse{}
	resp.Response = h.newResponse(req.Seq, req.Command)
	h.send(resp)
	if paused {
		h.sendStoppedEvent("pause", t.ID())
	}
	return nil
}

func (h *handler) onDisconnect(req *dap.DisconnectRequest) error {
	resp := &dap.DisconnectResponse{}
	resp.Response = h.newResponse(req.Seq, req.Command)
	h.send(resp)

	if s := h.currentSession(); s != nil {
		if err := s.Exit(); err != nil {
			h.log.WithError(err).Warn("Failed to exit target")
		}
	}
	h.terminate()
	h.conn.close()
	return nil
}

// terminate ends the debug session once: it tells the client the target
// exited and forgets every handle and breakpoint.
func (h *handler) terminate() {
	h.terminateOnce.Do(func() {
		if h.currentSession() != nil {
			evt := &dap.ExitedEvent{Event: h.newEvent("exited")}
			evt.Body.ExitCode = 0
			h.send(evt)
		}
		h.send(&dap.TerminatedEvent{
			Event: h.newEvent("terminated"),
		})
		h.conv.reset()
		h.breakpoints.Reset()
	})
}

// shutdown releases the connection's resources after the read loop ends.
func (h *handler) shutdown() {
	h.cancel()
	for _, e := range []*async.Executor{h.requests, h.attacher, h.stdout, h.stderr} {
		e.Shutdown()
	}
	if s := h.currentSession(); s != nil {
		if err := s.VM().Dispose(); err != nil {
			h.log.WithError(err).Debug("Failed to dispose target")
		}
	}
}

func (h *handler) currentSession() *debugger.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session
}

// thread looks up a thread of the current session.
func (h *handler) thread(id int) (*debugger.Session, *debugger.Thread, error) {
	s := h.currentSession()
	if s == nil {
		return nil, nil, errNotAttached
	}
	t, ok := s.Thread(int64(id))
	if !ok {
		return nil, nil, requestErrorf("Unknown thread %d", id)
	}
	return s, t, nil
}

func (h *handler) sendThreadEvent(reason string, id int64) {
	evt := &dap.ThreadEvent{Event: h.newEvent("thread")}
	evt.Body.Reason = reason
	evt.Body.ThreadId = int(id)
	h.send(evt)
}

// sendStoppedEvent sends a DAP stopped event to the client.
func (h *handler) sendStoppedEvent(reason string, id int64) {
	evt := &dap.StoppedEvent{Event: h.newEvent("stopped")}
	evt.Body.Reason = reason
	evt.Body.ThreadId = int(id)
	h.send(evt)
}

func (h *handler) output(category, text string) {
	evt := &dap.OutputEvent{Event: h.newEvent("output")}
	evt.Body.Category = category
	evt.Body.Output = text
	h.send(evt)
}

// --- helpers ---

func (h *handler) newResponse(reqSeq int, command string) dap.Response {
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Seq: h.conn.nextSeq(), Type: "response"},
		RequestSeq:      reqSeq,
		Success:         true,
		Command:         command,
	}
}

func (h *handler) newEvent(event string) dap.Event {
	return h.conn.newEvent(event)
}
