package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/randalmurphal/claudeagent/claudecontract"
)

var (
	errCallbackTimeout = errors.New("callback timed out")
	errCancelledByCLI  = errors.New("cancelled by CLI")
)

// dispatcher answers control requests issued by the CLI. Every request
// gets exactly one response, whatever the callback does.
type dispatcher struct {
	reg     *registry
	w       frameWriter
	logger  *slog.Logger
	base    context.Context
	timeout time.Duration

	// onSetPermissionMode records a mode change requested by the CLI.
	onSetPermissionMode func(mode string)

	mu       sync.Mutex
	inflight map[string]context.CancelCauseFunc
	wg       sync.WaitGroup
}

func newDispatcher(base context.Context, reg *registry, w frameWriter, logger *slog.Logger, timeout time.Duration) *dispatcher {
	return &dispatcher{
		reg:      reg,
		w:        w,
		logger:   logger,
		base:     base,
		timeout:  timeout,
		inflight: make(map[string]context.CancelCauseFunc),
	}
}

// dispatch handles req on its own goroutine and returns immediately.
func (d *dispatcher) dispatch(req *ControlRequest) {
	ctx, cancel := context.WithCancelCause(d.base)
	d.mu.Lock()
	d.inflight[req.RequestID] = cancel
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			d.mu.Lock()
			delete(d.inflight, req.RequestID)
			d.mu.Unlock()
			cancel(nil)
		}()

		payload, err := d.run(ctx, req)
		d.respond(req, payload, err)
	}()
}

// cancel aborts an in-flight request after a control_cancel_request.
// The request still gets its (error) response.
func (d *dispatcher) cancel(requestID string) {
	d.mu.Lock()
	cancel, ok := d.inflight[requestID]
	d.mu.Unlock()
	if !ok {
		d.logger.Debug("cancel for unknown control request", "request_id", requestID)
		return
	}
	cancel(errCancelledByCLI)
}

// wait blocks until all dispatched requests have responded. Used by tests.
func (d *dispatcher) wait() {
	d.wg.Wait()
}

// run invokes the handler on a separate goroutine so that a callback that
// ignores its context cannot keep the request unanswered.
func (d *dispatcher) run(ctx context.Context, req *ControlRequest) (any, error) {
	if d.timeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeoutCause(ctx, d.timeout, errCallbackTimeout)
		defer stop()
	}

	type result struct {
		payload any
		err     error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("control request handler panicked",
					"subtype", req.Subtype,
					"request_id", req.RequestID,
					"panic", r,
					"stack", string(debug.Stack()),
				)
				done <- result{err: fmt.Errorf("%s handler panicked: %v", req.Subtype, r)}
			}
		}()
		payload, err := d.handle(ctx, req)
		done <- result{payload: payload, err: err}
	}()

	select {
	case r := <-done:
		return r.payload, r.err
	case <-ctx.Done():
		cause := context.Cause(ctx)
		if errors.Is(cause, errCallbackTimeout) {
			return nil, fmt.Errorf("%s %w after %v", req.Subtype, cause, d.timeout)
		}
		return nil, fmt.Errorf("%s: %w", req.Subtype, cause)
	}
}

func (d *dispatcher) respond(req *ControlRequest, payload any, err error) {
	var resp *ControlResponse
	if err == nil {
		resp, err = successResponse(req.RequestID, payload)
	}
	if err != nil {
		d.logger.Warn("control request failed",
			"subtype", req.Subtype,
			"request_id", req.RequestID,
			"error", err,
		)
		resp = errorResponse(req.RequestID, err.Error())
	}
	if werr := d.w.writeJSON(resp); werr != nil {
		d.logger.Debug("could not write control response",
			"subtype", req.Subtype,
			"request_id", req.RequestID,
			"error", werr,
		)
	}
}

func (d *dispatcher) handle(ctx context.Context, req *ControlRequest) (any, error) {
	switch req.Subtype {
	case claudecontract.ControlSubtypeCanUseTool:
		return d.handleCanUseTool(ctx, req)
	case claudecontract.ControlSubtypeHookCallback:
		return d.handleHookCallback(ctx, req)
	case claudecontract.ControlSubtypeMCPMessage:
		return d.handleMCPMessage(ctx, req)
	case claudecontract.ControlSubtypeInitialize, claudecontract.ControlSubtypeInterrupt:
		return nil, nil
	case claudecontract.ControlSubtypeSetPermissionMode:
		var body struct {
			Mode string `json:"mode"`
		}
		if err := req.DecodeRequest(&body); err != nil {
			return nil, err
		}
		if d.onSetPermissionMode != nil {
			d.onSetPermissionMode(body.Mode)
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedRequest, req.Subtype)
	}
}

func (d *dispatcher) handleCanUseTool(ctx context.Context, req *ControlRequest) (any, error) {
	if d.reg.canUseTool == nil {
		return nil, fmt.Errorf("can_use_tool: %w", ErrNoHandler)
	}

	var body struct {
		ToolName    string             `json:"tool_name"`
		Input       map[string]any     `json:"input"`
		Suggestions []PermissionUpdate `json:"permission_suggestions"`
		BlockedPath *string            `json:"blocked_path"`
		ToolUseID   string             `json:"tool_use_id"`
	}
	if err := req.DecodeRequest(&body); err != nil {
		return nil, err
	}
	if body.Input == nil {
		body.Input = map[string]any{}
	}

	result, err := d.reg.canUseTool(ctx, body.ToolName, body.Input, ToolPermissionContext{
		Suggestions: body.Suggestions,
		BlockedPath: body.BlockedPath,
		ToolUseID:   body.ToolUseID,
	})
	if err != nil {
		return nil, fmt.Errorf("can_use_tool %s: %w", body.ToolName, err)
	}

	switch r := result.(type) {
	case *PermissionAllow:
		input := r.UpdatedInput
		if input == nil {
			input = body.Input
		}
		return permissionResponse{
			Behavior:           claudecontract.PermissionBehaviorAllow,
			UpdatedInput:       input,
			UpdatedPermissions: r.UpdatedPermissions,
		}, nil
	case *PermissionDeny:
		return permissionResponse{
			Behavior:  claudecontract.PermissionBehaviorDeny,
			Message:   r.Message,
			Interrupt: r.Interrupt,
		}, nil
	default:
		return nil, fmt.Errorf("can_use_tool %s: unexpected permission result %T", body.ToolName, result)
	}
}

func (d *dispatcher) handleHookCallback(ctx context.Context, req *ControlRequest) (any, error) {
	var body struct {
		CallbackID string          `json:"callback_id"`
		Input      json.RawMessage `json:"input"`
		ToolUseID  *string         `json:"tool_use_id"`
	}
	if err := req.DecodeRequest(&body); err != nil {
		return nil, err
	}
	entry, ok := d.reg.callbacks[body.CallbackID]
	if !ok {
		return nil, fmt.Errorf("hook callback %q: %w", body.CallbackID, ErrNoHandler)
	}

	var input HookInput
	if !isAbsent(body.Input) {
		if err := unmarshalExact(body.Input, &input); err != nil {
			return nil, fmt.Errorf("decode hook input: %w", err)
		}
		if err := unmarshalExact(body.Input, &input.Raw); err != nil {
			return nil, fmt.Errorf("decode hook input: %w", err)
		}
	}
	toolUseID := ""
	if body.ToolUseID != nil {
		toolUseID = *body.ToolUseID
	}

	out, err := entry.callback(ctx, input, toolUseID, entry.ctx)
	if err != nil {
		return nil, fmt.Errorf("hook %s (%s): %w", entry.ctx.Event, body.CallbackID, err)
	}
	if out == nil {
		return map[string]any{}, nil
	}
	return out, nil
}

func (d *dispatcher) handleMCPMessage(ctx context.Context, req *ControlRequest) (any, error) {
	var body struct {
		ServerName string          `json:"server_name"`
		Message    json.RawMessage `json:"message"`
	}
	if err := req.DecodeRequest(&body); err != nil {
		return nil, err
	}
	if body.ServerName == "" || isAbsent(body.Message) {
		return nil, errors.New("mcp_message: missing server_name or message")
	}

	srv, ok := d.reg.mcpServers[body.ServerName]
	if !ok {
		var msg struct {
			ID any `json:"id"`
		}
		_ = unmarshalExact(body.Message, &msg)
		return mcpResponse{Response: map[string]any{
			"jsonrpc": claudecontract.JSONRPCVersion,
			"id":      msg.ID,
			"error": map[string]any{
				"code":    claudecontract.JSONRPCMethodNotFound,
				"message": fmt.Sprintf("Server '%s' not found", body.ServerName),
			},
		}}, nil
	}

	resp, err := srv.HandleMessage(ctx, body.Message)
	if err != nil {
		return nil, fmt.Errorf("mcp server %s: %w", body.ServerName, err)
	}
	if resp == nil {
		return mcpResponse{Response: map[string]any{
			"jsonrpc": claudecontract.JSONRPCVersion,
			"result":  map[string]any{},
		}}, nil
	}
	return mcpResponse{Response: resp}, nil
}

type mcpResponse struct {
	Response any `json:"mcp_response"`
}
