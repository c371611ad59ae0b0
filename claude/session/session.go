package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/randalmurphal/claudeagent/claudecontract"
)

// defaultQuerySessionID is the session_id stamped on prompts that carry none.
const defaultQuerySessionID = "default"

// Session manages a long-running Claude CLI process with stream-json I/O
// and the control protocol layered on it.
type Session interface {
	// ID returns the session identifier.
	// Note: May be empty until the CLI reports its init message.
	ID() string

	// Connect starts the CLI, performs the initialize handshake and sends
	// any prompts. It may be called once.
	Connect(ctx context.Context, prompts ...string) error

	// Query sends a text prompt and returns immediately.
	Query(ctx context.Context, prompt string) error

	// QueryMessage sends a user message and returns immediately.
	QueryMessage(ctx context.Context, msg *UserMessage) error

	// ReceiveMessages yields domain messages in arrival order until a
	// Result message (inclusive) or end of stream. A non-nil error is
	// yielded for unparseable lines (iteration continues) and once for
	// a session failure (iteration ends). Breaking out early leaves the
	// session usable.
	ReceiveMessages(ctx context.Context) iter.Seq2[Message, error]

	// Interrupt asks the CLI to stop the current turn.
	Interrupt(ctx context.Context) error

	// SetPermissionMode changes the permission mode for later tool calls.
	SetPermissionMode(ctx context.Context, mode claudecontract.PermissionMode) error

	// SetModel switches the model. An empty model restores the default.
	SetModel(ctx context.Context, model string) error

	// ServerInfo returns the initialize response, or nil before Connect.
	ServerInfo() map[string]any

	// Status returns the current session state.
	Status() SessionStatus

	// Info returns session metadata.
	// Note: Some fields may be empty until the first message exchange.
	Info() SessionInfo

	// Err returns the failure cause once the session is Failed.
	Err() error

	// Done is closed when the session reaches Closed or Failed.
	Done() <-chan struct{}

	// Wait blocks until the session ends and returns Err.
	Wait() error

	// TranscriptPath returns the path to Claude Code's session JSONL file.
	// Returns empty string if the session ID or working directory is unknown.
	// Path format: ~/.claude/projects/{normalized-workdir}/{sessionId}.jsonl
	TranscriptPath() string

	// Close terminates the session and releases resources. Pending control
	// requests fail with ErrSessionClosed. Close is idempotent.
	Close() error
}

// session implements Session.
type session struct {
	cfg       sessionConfig
	logger    *slog.Logger
	reg       *registry
	queue     *messageQueue
	transport Transport

	// base is the parent of every callback context. It is cancelled when
	// the session closes or fails.
	base       context.Context
	cancelBase context.CancelCauseFunc

	mu             sync.Mutex
	status         SessionStatus
	failErr        error
	writer         *lineWriter
	corr           *correlator
	disp           *dispatcher
	serverInfo     map[string]any
	id             string
	model          string
	cwd            string
	permissionMode string
	createdAt      time.Time
	lastActivity   time.Time
	turnCount      int
	totalCost      float64

	doneOnce  sync.Once
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// New creates an unconnected session. Options are validated here; the CLI
// is not started until Connect.
func New(opts ...SessionOption) (Session, error) {
	return newSession(opts...)
}

func newSession(opts ...SessionOption) (*session, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "claude-session")

	transport := cfg.transport
	if transport == nil {
		transport = newSubprocessTransport(&cfg, logger)
	}

	base, cancel := context.WithCancelCause(context.Background())
	now := time.Now()
	s := &session{
		cfg:            cfg,
		logger:         logger,
		reg:            newRegistry(&cfg),
		queue:          newMessageQueue(),
		transport:      transport,
		base:           base,
		cancelBase:     cancel,
		status:         StatusIdle,
		id:             cfg.sessionID,
		model:          cfg.model,
		cwd:            cfg.workdir,
		permissionMode: cfg.permissionMode,
		createdAt:      now,
		lastActivity:   now,
		done:           make(chan struct{}),
	}
	return s, nil
}

// Connect implements Session.
func (s *session) Connect(ctx context.Context, prompts ...string) error {
	s.mu.Lock()
	if s.status != StatusIdle {
		err := &StateError{Op: "connect", Status: s.status}
		s.mu.Unlock()
		return err
	}
	s.status = StatusConnecting
	s.mu.Unlock()

	if err := s.transport.Start(ctx); err != nil {
		_ = s.transport.Close()
		s.fail(err)
		return err
	}

	w := newLineWriter(s.transport.Stdin())
	corr := newCorrelator(w, s.logger)
	disp := newDispatcher(s.base, s.reg, w, s.logger, s.cfg.callbackTimeout)
	disp.onSetPermissionMode = s.recordPermissionMode

	s.mu.Lock()
	if s.status != StatusConnecting {
		// Closed while the process was starting.
		s.mu.Unlock()
		_ = s.transport.Close()
		return fmt.Errorf("connect: %w", ErrSessionClosed)
	}
	s.writer, s.corr, s.disp = w, corr, disp
	s.mu.Unlock()

	go s.readLoop(newLineReader(s.transport.Stdout(), s.cfg.maxLineSize))

	resp, err := corr.request(ctx, claudecontract.ControlSubtypeInitialize, s.reg.initializeRequest(), s.cfg.initializeTimeout)
	if err != nil {
		err = fmt.Errorf("initialize: %w", err)
		s.fail(err)
		return s.connectErr(err)
	}

	var info map[string]any
	if !isAbsent(resp) {
		if err := unmarshalExact(resp, &info); err != nil {
			s.logger.Warn("ignoring malformed initialize response", "error", err)
		}
	}

	s.mu.Lock()
	if s.status != StatusConnecting {
		s.mu.Unlock()
		return s.connectErr(fmt.Errorf("connect: %w", ErrSessionClosed))
	}
	s.status = StatusConnected
	s.serverInfo = info
	s.mu.Unlock()

	s.logger.Info("session connected",
		"session_id", s.ID(),
		"model", s.cfg.model,
		"workdir", s.cfg.workdir,
		"hooks", len(s.reg.callbacks),
		"mcp_servers", len(s.reg.mcpServers),
	)

	for _, p := range prompts {
		if err := s.Query(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// connectErr prefers the session's failure cause (e.g. a ProcessError
// from the reader) over the error observed by Connect.
func (s *session) connectErr(err error) error {
	if ferr := s.Err(); ferr != nil && !errors.Is(err, ferr) {
		return fmt.Errorf("%w: %w", err, ferr)
	}
	return err
}

// readLoop decodes stdout until end of stream and routes every frame.
func (s *session) readLoop(r *lineReader) {
	for {
		line, err := r.next()
		if err != nil {
			var perr *ParseError
			if errors.As(err, &perr) {
				s.logger.Warn("skipping oversized line", "error", err)
				s.queue.push(queueItem{err: perr})
				continue
			}
			s.endOfStream(err)
			return
		}

		frame, err := Decode(line)
		if err != nil {
			s.logger.Warn("skipping malformed line", "error", err)
			s.queue.push(queueItem{err: err})
			continue
		}
		s.route(frame)
	}
}

func (s *session) route(frame Frame) {
	s.mu.Lock()
	s.lastActivity = time.Now()
	corr, disp := s.corr, s.disp
	s.mu.Unlock()

	switch f := frame.(type) {
	case *ControlRequest:
		s.logger.Debug("control request from CLI", "subtype", f.Subtype, "request_id", f.RequestID)
		disp.dispatch(f)
	case *ControlResponse:
		corr.resolve(f)
	case *ControlCancelRequest:
		disp.cancel(f.RequestID)
	case Message:
		s.observe(f)
		if sys, ok := f.(*SystemMessage); ok &&
			sys.Subtype == claudecontract.SubtypeHookResponse && !s.cfg.includeHookOutput {
			return
		}
		s.queue.push(queueItem{msg: f})
	}
}

// endOfStream handles stdout closing. Outside of Close this is always a
// failure: the CLI is not supposed to exit while the session is open.
func (s *session) endOfStream(readErr error) {
	s.mu.Lock()
	status := s.status
	s.mu.Unlock()
	if status == StatusClosing || status.Terminal() {
		return
	}

	waitErr := s.transport.Wait()
	var perr *ProcessError
	switch {
	case errors.As(waitErr, &perr):
	case waitErr != nil:
		perr = &ProcessError{ExitCode: -1, Err: waitErr}
	case !errors.Is(readErr, io.EOF):
		perr = &ProcessError{ExitCode: -1, Err: readErr}
	default:
		perr = &ProcessError{ExitCode: 0, Err: errors.New("unexpected exit")}
	}
	s.fail(perr)
}

// observe updates session metadata from domain messages.
func (s *session) observe(msg Message) {
	switch m := msg.(type) {
	case *SystemMessage:
		if !m.IsInit() {
			return
		}
		init, err := m.Init()
		if err != nil {
			s.logger.Warn("malformed init message", "error", err)
			return
		}
		s.mu.Lock()
		if init.SessionID != "" {
			s.id = init.SessionID
		}
		if init.Model != "" {
			s.model = init.Model
		}
		if init.CWD != "" {
			s.cwd = init.CWD
		}
		if init.PermissionMode != "" {
			s.permissionMode = init.PermissionMode
		}
		s.mu.Unlock()
		s.logger.Debug("session initialized",
			"session_id", init.SessionID,
			"model", init.Model,
			"tools", len(init.Tools),
			"cli_version", init.ClaudeCodeVersion,
		)
	case *ResultMessage:
		s.mu.Lock()
		s.turnCount++
		if m.TotalCostUSD != nil {
			s.totalCost += *m.TotalCostUSD
		}
		if m.SessionID != "" && s.id == "" {
			s.id = m.SessionID
		}
		s.mu.Unlock()
	}
}

// fail moves the session to Failed. Pending requests and the message
// stream end with err; the process is torn down in the background.
func (s *session) fail(err error) {
	s.mu.Lock()
	if s.status == StatusClosing || s.status.Terminal() {
		s.mu.Unlock()
		return
	}
	s.status = StatusFailed
	s.failErr = err
	corr, w := s.corr, s.writer
	s.mu.Unlock()

	s.logger.Error("session failed", "session_id", s.ID(), "error", err)

	if corr != nil {
		corr.failAll(err)
	}
	s.cancelBase(err)
	if w != nil {
		_ = w.close()
	}
	s.queue.finish(err)
	go func() {
		if cerr := s.transport.Close(); cerr != nil {
			s.logger.Warn("close transport after failure", "error", cerr)
		}
	}()
	s.markDone()
}

func (s *session) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// recordPermissionMode tracks mode changes from either side.
func (s *session) recordPermissionMode(mode string) {
	s.mu.Lock()
	s.permissionMode = mode
	s.mu.Unlock()
}

// connected returns the control plumbing, or the reason it is unusable.
func (s *session) connected(op string) (*lineWriter, *correlator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.status {
	case StatusConnected:
		return s.writer, s.corr, nil
	case StatusFailed:
		return nil, nil, fmt.Errorf("%s: %w", op, s.failErr)
	default:
		return nil, nil, &StateError{Op: op, Status: s.status}
	}
}

// Query implements Session.
func (s *session) Query(ctx context.Context, prompt string) error {
	return s.QueryMessage(ctx, NewUserMessage(prompt))
}

// QueryMessage implements Session.
func (s *session) QueryMessage(ctx context.Context, msg *UserMessage) error {
	if msg == nil {
		return errors.New("query: nil message")
	}
	w, _, err := s.connected("query")
	if err != nil {
		return err
	}

	out := *msg
	if out.SessionID == "" {
		out.SessionID = defaultQuerySessionID
	}
	if err := writeContext(ctx, w, &out); err != nil {
		return fmt.Errorf("query: %w", err)
	}

	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
	return nil
}

// writeContext writes v unless ctx ends first.
func writeContext(ctx context.Context, w frameWriter, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- w.writeJSON(v) }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// ReceiveMessages implements Session.
func (s *session) ReceiveMessages(ctx context.Context) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		s.mu.Lock()
		status := s.status
		s.mu.Unlock()
		if status == StatusIdle {
			yield(nil, &StateError{Op: "receive messages", Status: status})
			return
		}

		for {
			item, ok := s.queue.next(ctx)
			if !ok {
				return
			}
			if item.err != nil {
				if !yield(nil, item.err) {
					return
				}
				var perr *ParseError
				if !errors.As(item.err, &perr) {
					// Session failure or ctx cancellation ends the stream.
					return
				}
				continue
			}
			if !yield(item.msg, nil) {
				return
			}
			if _, ok := item.msg.(*ResultMessage); ok {
				return
			}
		}
	}
}

// Interrupt implements Session.
func (s *session) Interrupt(ctx context.Context) error {
	_, corr, err := s.connected("interrupt")
	if err != nil {
		return err
	}
	if _, err := corr.request(ctx, claudecontract.ControlSubtypeInterrupt, nil, s.cfg.controlTimeout); err != nil {
		return fmt.Errorf("interrupt: %w", err)
	}
	return nil
}

// SetPermissionMode implements Session.
func (s *session) SetPermissionMode(ctx context.Context, mode claudecontract.PermissionMode) error {
	if !mode.IsValid() {
		return fmt.Errorf("%w: unknown permission mode %q", ErrInvalidOption, mode)
	}
	_, corr, err := s.connected("set permission mode")
	if err != nil {
		return err
	}
	payload := map[string]any{"mode": string(mode)}
	if _, err := corr.request(ctx, claudecontract.ControlSubtypeSetPermissionMode, payload, s.cfg.controlTimeout); err != nil {
		return fmt.Errorf("set permission mode: %w", err)
	}
	s.recordPermissionMode(string(mode))
	return nil
}

// SetModel implements Session.
func (s *session) SetModel(ctx context.Context, model string) error {
	_, corr, err := s.connected("set model")
	if err != nil {
		return err
	}
	var value *string
	if model != "" {
		value = &model
	}
	payload := map[string]any{"model": value}
	if _, err := corr.request(ctx, claudecontract.ControlSubtypeSetModel, payload, s.cfg.controlTimeout); err != nil {
		return fmt.Errorf("set model: %w", err)
	}

	s.mu.Lock()
	if model != "" {
		s.model = model
	} else {
		s.model = s.cfg.model
	}
	s.mu.Unlock()
	return nil
}

// ServerInfo implements Session.
func (s *session) ServerInfo() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverInfo
}

// ID implements Session.
func (s *session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Status implements Session.
func (s *session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err implements Session.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failErr
}

// Done implements Session.
func (s *session) Done() <-chan struct{} {
	return s.done
}

// Wait implements Session.
func (s *session) Wait() error {
	<-s.done
	return s.Err()
}

// Info implements Session.
func (s *session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:             s.id,
		Status:         s.status,
		Model:          s.model,
		PermissionMode: s.permissionMode,
		CWD:            s.cwd,
		CreatedAt:      s.createdAt,
		LastActivity:   s.lastActivity,
		TurnCount:      s.turnCount,
		TotalCostUSD:   s.totalCost,
	}
}

// TranscriptPath implements Session.
func (s *session) TranscriptPath() string {
	s.mu.Lock()
	id, cwd := s.id, s.cwd
	s.mu.Unlock()
	if id == "" || cwd == "" {
		return ""
	}

	configDir := s.cfg.configDir
	if configDir == "" {
		home := s.cfg.homeDir
		if home == "" {
			var err error
			home, err = os.UserHomeDir()
			if err != nil {
				return ""
			}
		}
		configDir = filepath.Join(home, claudecontract.DirClaude)
	}
	return claudecontract.TranscriptPath(configDir, cwd, id)
}

// Close implements Session.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.close()
	})
	return s.closeErr
}

func (s *session) close() error {
	s.mu.Lock()
	prev := s.status
	if !prev.Terminal() {
		s.status = StatusClosing
	}
	corr, w := s.corr, s.writer
	s.mu.Unlock()

	if corr != nil {
		corr.failAll(ErrSessionClosed)
	}
	s.cancelBase(ErrSessionClosed)
	if w != nil {
		_ = w.close()
	}

	var err error
	// A Connect still inside transport.Start closes the transport itself.
	if prev != StatusConnecting || w != nil {
		err = s.transport.Close()
	}
	s.queue.finish(nil)

	s.mu.Lock()
	if s.status != StatusFailed {
		s.status = StatusClosed
	}
	s.mu.Unlock()
	s.markDone()

	s.logger.Debug("session closed", "session_id", s.ID(), "previous_status", prev)
	return err
}

var _ Session = (*session)(nil)
