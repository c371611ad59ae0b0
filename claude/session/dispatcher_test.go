package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/claudeagent/claudecontract"
)

// recordingWriter captures frames instead of writing them.
type recordingWriter struct {
	frames chan map[string]any
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{frames: make(chan map[string]any, 16)}
}

func (w *recordingWriter) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}
	w.frames <- frame
	return nil
}

func (w *recordingWriter) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case f := <-w.frames:
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("no frame written")
		return nil
	}
}

func newTestDispatcher(t *testing.T, timeout time.Duration, opts ...SessionOption) (*dispatcher, *recordingWriter) {
	t.Helper()
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	w := newRecordingWriter()
	return newDispatcher(context.Background(), newRegistry(&cfg), w, discardLogger(), timeout), w
}

func controlRequest(t *testing.T, id string, request map[string]any) *ControlRequest {
	t.Helper()
	raw, err := json.Marshal(request)
	require.NoError(t, err)
	return &ControlRequest{RequestID: id, Subtype: request["subtype"].(string), Request: raw}
}

// dispatchOne dispatches req and returns the response body.
func dispatchOne(t *testing.T, d *dispatcher, w *recordingWriter, req *ControlRequest) map[string]any {
	t.Helper()
	d.dispatch(req)
	frame := w.next(t)
	assert.Equal(t, "control_response", frame["type"])
	body := responseBody(frame)
	assert.Equal(t, req.RequestID, body["request_id"])
	d.wait()
	return body
}

func TestDispatcher_CanUseTool(t *testing.T) {
	var gotCtx ToolPermissionContext
	d, w := newTestDispatcher(t, time.Second, WithCanUseTool(func(_ context.Context, tool string, input map[string]any, permCtx ToolPermissionContext) (PermissionResult, error) {
		gotCtx = permCtx
		switch tool {
		case "Bash":
			return &PermissionDeny{Message: "no shell", Interrupt: true}, nil
		case "Write":
			return &PermissionAllow{
				UpdatedInput: map[string]any{"file_path": "/tmp/safe.txt"},
				UpdatedPermissions: []PermissionUpdate{{
					Type:        claudecontract.PermissionUpdateAddRules,
					Rules:       []PermissionRuleValue{{ToolName: "Write"}},
					Behavior:    claudecontract.PermissionBehaviorAllow,
					Destination: claudecontract.PermissionDestinationSession,
				}},
			}, nil
		}
		return &PermissionAllow{}, nil
	}))

	t.Run("deny", func(t *testing.T) {
		body := dispatchOne(t, d, w, controlRequest(t, "r1", map[string]any{
			"subtype": "can_use_tool", "tool_name": "Bash", "input": map[string]any{"command": "rm -rf /"},
		}))
		assert.Equal(t, "success", body["subtype"])
		assert.Equal(t, map[string]any{"behavior": "deny", "message": "no shell", "interrupt": true}, body["response"])
	})

	t.Run("allow with updates", func(t *testing.T) {
		body := dispatchOne(t, d, w, controlRequest(t, "r2", map[string]any{
			"subtype":                "can_use_tool",
			"tool_name":              "Write",
			"input":                  map[string]any{"file_path": "/etc/passwd"},
			"tool_use_id":            "toolu_1",
			"blocked_path":           "/etc/passwd",
			"permission_suggestions": []any{map[string]any{"type": "setMode", "mode": "acceptEdits", "destination": "session"}},
		}))
		assert.Equal(t, map[string]any{
			"behavior":     "allow",
			"updatedInput": map[string]any{"file_path": "/tmp/safe.txt"},
			"updatedPermissions": []any{map[string]any{
				"type":        "addRules",
				"rules":       []any{map[string]any{"toolName": "Write"}},
				"behavior":    "allow",
				"destination": "session",
			}},
		}, body["response"])

		assert.Equal(t, "toolu_1", gotCtx.ToolUseID)
		require.NotNil(t, gotCtx.BlockedPath)
		assert.Equal(t, "/etc/passwd", *gotCtx.BlockedPath)
		require.Len(t, gotCtx.Suggestions, 1)
		assert.Equal(t, claudecontract.PermissionAcceptEdits, gotCtx.Suggestions[0].Mode)
	})

	t.Run("allow keeps original input", func(t *testing.T) {
		body := dispatchOne(t, d, w, controlRequest(t, "r3", map[string]any{
			"subtype": "can_use_tool", "tool_name": "Read", "input": map[string]any{"file_path": "a.go"},
		}))
		assert.Equal(t, map[string]any{"behavior": "allow", "updatedInput": map[string]any{"file_path": "a.go"}}, body["response"])
	})
}

func TestDispatcher_NoPermissionHandler(t *testing.T) {
	d, w := newTestDispatcher(t, time.Second)

	body := dispatchOne(t, d, w, controlRequest(t, "r1", map[string]any{
		"subtype": "can_use_tool", "tool_name": "Bash", "input": map[string]any{},
	}))
	assert.Equal(t, "error", body["subtype"])
	assert.Contains(t, body["error"], ErrNoHandler.Error())
}

func TestDispatcher_CallbackErrorAndPanic(t *testing.T) {
	d, w := newTestDispatcher(t, time.Second, WithCanUseTool(func(_ context.Context, tool string, _ map[string]any, _ ToolPermissionContext) (PermissionResult, error) {
		if tool == "Panic" {
			panic("kaboom")
		}
		return nil, errors.New("policy store offline")
	}))

	body := dispatchOne(t, d, w, controlRequest(t, "r1", map[string]any{"subtype": "can_use_tool", "tool_name": "Bash"}))
	assert.Equal(t, "error", body["subtype"])
	assert.Contains(t, body["error"], "policy store offline")

	body = dispatchOne(t, d, w, controlRequest(t, "r2", map[string]any{"subtype": "can_use_tool", "tool_name": "Panic"}))
	assert.Equal(t, "error", body["subtype"])
	assert.Contains(t, body["error"], "kaboom")
}

func TestDispatcher_CallbackTimeout(t *testing.T) {
	cancelled := make(chan error, 1)
	d, w := newTestDispatcher(t, 50*time.Millisecond, WithCanUseTool(func(ctx context.Context, _ string, _ map[string]any, _ ToolPermissionContext) (PermissionResult, error) {
		<-ctx.Done()
		cancelled <- context.Cause(ctx)
		return &PermissionAllow{}, nil
	}))

	body := dispatchOne(t, d, w, controlRequest(t, "r1", map[string]any{"subtype": "can_use_tool", "tool_name": "Bash"}))
	assert.Equal(t, "error", body["subtype"])
	assert.Contains(t, body["error"], "timed out")
	assert.ErrorIs(t, <-cancelled, errCallbackTimeout)
}

func TestDispatcher_CallbackIgnoringContextStillAnswered(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	d, w := newTestDispatcher(t, 50*time.Millisecond, WithCanUseTool(func(context.Context, string, map[string]any, ToolPermissionContext) (PermissionResult, error) {
		<-release
		return &PermissionAllow{}, nil
	}))

	d.dispatch(controlRequest(t, "r1", map[string]any{"subtype": "can_use_tool", "tool_name": "Bash"}))
	body := responseBody(w.next(t))
	assert.Equal(t, "error", body["subtype"])
}

func TestDispatcher_CancelRequest(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	d, w := newTestDispatcher(t, 0, WithCanUseTool(func(ctx context.Context, _ string, _ map[string]any, _ ToolPermissionContext) (PermissionResult, error) {
		close(entered)
		<-ctx.Done()
		<-release
		return nil, ctx.Err()
	}))

	d.dispatch(controlRequest(t, "r1", map[string]any{"subtype": "can_use_tool", "tool_name": "Bash"}))
	<-entered
	d.cancel("r1")

	body := responseBody(w.next(t))
	assert.Equal(t, "error", body["subtype"])
	assert.Equal(t, "r1", body["request_id"])
	assert.Contains(t, body["error"], errCancelledByCLI.Error())
	d.wait()

	// Exactly one response.
	select {
	case f := <-w.frames:
		t.Fatalf("second response written: %v", f)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatcher_HookCallback(t *testing.T) {
	var gotInput HookInput
	var gotToolUseID string
	var gotHookCtx HookContext
	hook := func(_ context.Context, input HookInput, toolUseID string, hookCtx HookContext) (*HookOutput, error) {
		gotInput, gotToolUseID, gotHookCtx = input, toolUseID, hookCtx
		return &HookOutput{
			Continue: Bool(true),
			HookSpecificOutput: &HookSpecificOutput{
				HookEventName:      claudecontract.HookPreToolUse,
				PermissionDecision: claudecontract.PermissionBehaviorDeny,
			},
		}, nil
	}
	silent := func(context.Context, HookInput, string, HookContext) (*HookOutput, error) { return nil, nil }
	d, w := newTestDispatcher(t, time.Second,
		WithHook(claudecontract.HookPreToolUse, "Bash", hook),
		WithHook(claudecontract.HookStop, "", silent),
	)

	body := dispatchOne(t, d, w, controlRequest(t, "r1", map[string]any{
		"subtype":     "hook_callback",
		"callback_id": "hook_0",
		"tool_use_id": "toolu_9",
		"input": map[string]any{
			"session_id":      "s1",
			"hook_event_name": "PreToolUse",
			"tool_name":       "Bash",
			"tool_input":      map[string]any{"command": "ls"},
			"extra_field":     "kept",
		},
	}))
	assert.Equal(t, "success", body["subtype"])
	assert.Equal(t, map[string]any{
		"continue":           true,
		"hookSpecificOutput": map[string]any{"hookEventName": "PreToolUse", "permissionDecision": "deny"},
	}, body["response"])
	assert.Equal(t, "Bash", gotInput.ToolName)
	assert.Equal(t, "kept", gotInput.Raw["extra_field"])
	assert.Equal(t, "toolu_9", gotToolUseID)
	assert.Equal(t, HookContext{Event: claudecontract.HookPreToolUse, Matcher: "Bash", CallbackID: "hook_0"}, gotHookCtx)

	body = dispatchOne(t, d, w, controlRequest(t, "r2", map[string]any{
		"subtype": "hook_callback", "callback_id": "hook_1", "input": map[string]any{"hook_event_name": "Stop"},
	}))
	assert.Equal(t, "success", body["subtype"])
	assert.Equal(t, map[string]any{}, body["response"])

	body = dispatchOne(t, d, w, controlRequest(t, "r3", map[string]any{
		"subtype": "hook_callback", "callback_id": "hook_99", "input": map[string]any{},
	}))
	assert.Equal(t, "error", body["subtype"])
	assert.Contains(t, body["error"], "hook_99")
}

type echoServer struct{ name string }

func (s *echoServer) Name() string { return s.name }

func (s *echoServer) HandleMessage(_ context.Context, msg json.RawMessage) (json.RawMessage, error) {
	var req struct {
		ID     any    `json:"id"`
		Method string `json:"method"`
	}
	if err := json.Unmarshal(msg, &req); err != nil {
		return nil, err
	}
	if req.ID == nil {
		return nil, nil
	}
	return json.Marshal(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": map[string]any{"method": req.Method}})
}

func TestDispatcher_MCPMessage(t *testing.T) {
	d, w := newTestDispatcher(t, time.Second, WithMCPServer(&echoServer{name: "calc"}))

	body := dispatchOne(t, d, w, controlRequest(t, "r1", map[string]any{
		"subtype":     "mcp_message",
		"server_name": "calc",
		"message":     map[string]any{"jsonrpc": "2.0", "id": 1, "method": "tools/list"},
	}))
	assert.Equal(t, "success", body["subtype"])
	assert.Equal(t, map[string]any{"mcp_response": map[string]any{
		"jsonrpc": "2.0", "id": float64(1), "result": map[string]any{"method": "tools/list"},
	}}, body["response"])

	// Notifications get an empty result.
	body = dispatchOne(t, d, w, controlRequest(t, "r2", map[string]any{
		"subtype":     "mcp_message",
		"server_name": "calc",
		"message":     map[string]any{"jsonrpc": "2.0", "method": "notifications/initialized"},
	}))
	assert.Equal(t, map[string]any{"mcp_response": map[string]any{"jsonrpc": "2.0", "result": map[string]any{}}}, body["response"])

	body = dispatchOne(t, d, w, controlRequest(t, "r3", map[string]any{
		"subtype":     "mcp_message",
		"server_name": "missing",
		"message":     map[string]any{"jsonrpc": "2.0", "id": 7, "method": "tools/list"},
	}))
	assert.Equal(t, "success", body["subtype"])
	assert.Equal(t, map[string]any{"mcp_response": map[string]any{
		"jsonrpc": "2.0",
		"id":      float64(7),
		"error":   map[string]any{"code": float64(-32601), "message": "Server 'missing' not found"},
	}}, body["response"])

	body = dispatchOne(t, d, w, controlRequest(t, "r4", map[string]any{"subtype": "mcp_message", "server_name": "calc"}))
	assert.Equal(t, "error", body["subtype"])
}

func TestDispatcher_LifecycleRequests(t *testing.T) {
	var mode string
	d, w := newTestDispatcher(t, time.Second)
	d.onSetPermissionMode = func(m string) { mode = m }

	for _, subtype := range []string{"initialize", "interrupt"} {
		body := dispatchOne(t, d, w, controlRequest(t, "r-"+subtype, map[string]any{"subtype": subtype}))
		assert.Equal(t, "success", body["subtype"], subtype)
	}

	body := dispatchOne(t, d, w, controlRequest(t, "r-mode", map[string]any{"subtype": "set_permission_mode", "mode": "plan"}))
	assert.Equal(t, "success", body["subtype"])
	assert.Equal(t, "plan", mode)

	body = dispatchOne(t, d, w, controlRequest(t, "r-x", map[string]any{"subtype": "rewind_files"}))
	assert.Equal(t, "error", body["subtype"])
	assert.Contains(t, body["error"], "rewind_files")
}
