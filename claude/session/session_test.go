package session

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/claudeagent/claudecontract"
)

func TestSession_Interrupt(t *testing.T) {
	s, fake := connectFake(t)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Interrupt(context.Background()) }()

	frame := fake.expect()
	assert.Equal(t, "control_request", frame["type"])
	assert.Equal(t, map[string]any{"subtype": "interrupt"}, frame["request"])
	id, ok := frame["request_id"].(string)
	require.True(t, ok)
	assert.Regexp(t, `^req_\d+_[0-9a-f]{8}$`, id)

	fake.respond(id, nil)
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Interrupt did not return")
	}
}

func TestSession_InterruptErrorResponse(t *testing.T) {
	s, fake := connectFake(t)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Interrupt(context.Background()) }()

	frame := fake.expect()
	fake.respondError(frame["request_id"].(string), "nothing to interrupt")

	err := <-errCh
	var cerr *ControlError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "interrupt", cerr.Subtype)
	assert.Equal(t, "nothing to interrupt", cerr.Message)
	assert.Equal(t, StatusConnected, s.Status())
}

func TestSession_ConnectSendsHooksAndPrompt(t *testing.T) {
	fake := newFakeCLI(t)
	fake.autoInit = false

	noop := func(context.Context, HookInput, string, HookContext) (*HookOutput, error) { return nil, nil }
	s, err := newSession(
		WithTransport(fake),
		WithLogger(discardLogger()),
		WithHook(claudecontract.HookPreToolUse, "Bash", noop),
		WithHook(claudecontract.HookStop, "", noop),
	)
	require.NoError(t, err)
	defer s.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- s.Connect(context.Background(), "hello") }()

	init := fake.expect()
	require.True(t, isControlRequest(init, "initialize"))
	assert.Equal(t, StatusConnecting, s.Status())
	hooks := init["request"].(map[string]any)["hooks"].(map[string]any)
	assert.Equal(t, []any{map[string]any{"matcher": "Bash", "hookCallbackIds": []any{"hook_0"}}}, hooks["PreToolUse"])
	assert.Equal(t, []any{map[string]any{"matcher": nil, "hookCallbackIds": []any{"hook_1"}}}, hooks["Stop"])

	fake.respond(init["request_id"].(string), map[string]any{"commands": []any{"compact"}})

	prompt := fake.expect()
	assert.Equal(t, map[string]any{
		"type":               "user",
		"message":            map[string]any{"role": "user", "content": "hello"},
		"parent_tool_use_id": nil,
		"session_id":         "default",
	}, prompt)

	require.NoError(t, <-errCh)
	assert.Equal(t, StatusConnected, s.Status())
	assert.Equal(t, map[string]any{"commands": []any{"compact"}}, s.ServerInfo())
}

func TestSession_MessagesKeepOrderAcrossControlTraffic(t *testing.T) {
	var calls int
	var mu sync.Mutex
	s, fake := connectFake(t, WithCanUseTool(func(_ context.Context, tool string, _ map[string]any, _ ToolPermissionContext) (PermissionResult, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return &PermissionAllow{}, nil
	}))

	fake.send(assistantLine("first"))
	fake.request("cli-1", map[string]any{"subtype": "can_use_tool", "tool_name": "Bash", "input": map[string]any{"command": "ls"}})
	fake.send(assistantLine("second"))
	fake.send(`{"type":"control_cancel_request","request_id":"unknown"}`)
	fake.send(`{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"ok"}]},"parent_tool_use_id":null,"session_id":"sess-1"}`)
	fake.send(resultLine)

	msgs, errs := collect(t, s)
	require.Empty(t, errs)
	require.Len(t, msgs, 4)
	assert.Equal(t, "first", msgs[0].(*AssistantMessage).Text())
	assert.Equal(t, "second", msgs[1].(*AssistantMessage).Text())
	assert.IsType(t, &UserMessage{}, msgs[2])
	assert.IsType(t, &ResultMessage{}, msgs[3])

	resp := fake.expect()
	assert.Equal(t, "control_response", resp["type"])
	body := responseBody(resp)
	assert.Equal(t, "success", body["subtype"])
	assert.Equal(t, "cli-1", body["request_id"])
	assert.Equal(t, map[string]any{"behavior": "allow", "updatedInput": map[string]any{"command": "ls"}}, body["response"])

	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
}

func TestSession_ReceiveMessagesStopsAtEachResult(t *testing.T) {
	s, fake := connectFake(t)

	fake.send(assistantLine("one"))
	fake.send(resultLine)
	fake.send(assistantLine("two"))
	fake.send(resultLine)

	first, errs := collect(t, s)
	require.Empty(t, errs)
	require.Len(t, first, 2)
	assert.Equal(t, "one", first[0].(*AssistantMessage).Text())

	second, errs := collect(t, s)
	require.Empty(t, errs)
	require.Len(t, second, 2)
	assert.Equal(t, "two", second[0].(*AssistantMessage).Text())
}

func TestSession_StructuredResultEndsTurn(t *testing.T) {
	s, fake := connectFake(t)

	fake.send(assistantLine("one"))
	fake.send(`{"type":"result","subtype":"success","is_error":false,"result":{"answer":4}}`)
	fake.send(`{"type":"result","subtype":"success","is_error":false,"result":["a","b"]}`)

	first, errs := collect(t, s)
	require.Empty(t, errs)
	require.Len(t, first, 2)
	res := first[1].(*ResultMessage)
	assert.Equal(t, map[string]any{"answer": json.Number("4")}, res.Result)

	second, errs := collect(t, s)
	require.Empty(t, errs)
	require.Len(t, second, 1)
	assert.Equal(t, []any{"a", "b"}, second[0].(*ResultMessage).Result)
}

func TestSession_AbandonedReceiveKeepsSessionUsable(t *testing.T) {
	s, fake := connectFake(t)

	fake.send(assistantLine("one"))
	fake.send(assistantLine("two"))
	fake.send(resultLine)

	for msg, err := range s.ReceiveMessages(context.Background()) {
		require.NoError(t, err)
		assert.Equal(t, "one", msg.(*AssistantMessage).Text())
		break
	}

	rest, errs := collect(t, s)
	require.Empty(t, errs)
	require.Len(t, rest, 2)
	assert.Equal(t, "two", rest[0].(*AssistantMessage).Text())
	assert.Equal(t, StatusConnected, s.Status())
}

func TestSession_MalformedLineIsNotFatal(t *testing.T) {
	s, fake := connectFake(t)

	fake.send(assistantLine("before"))
	fake.send(`{not json`)
	fake.send(`{"type":"mystery"}`)
	fake.send(assistantLine("after"))
	fake.send(resultLine)

	ctx := context.Background()
	var got []string
	for msg, err := range s.ReceiveMessages(ctx) {
		if err != nil {
			var perr *ParseError
			require.ErrorAs(t, err, &perr)
			got = append(got, "parse error")
			continue
		}
		switch m := msg.(type) {
		case *AssistantMessage:
			got = append(got, m.Text())
		case *ResultMessage:
			got = append(got, "result")
		}
	}
	assert.Equal(t, []string{"before", "parse error", "parse error", "after", "result"}, got)
	assert.Equal(t, StatusConnected, s.Status())
}

func TestSession_OversizedLineIsNotFatal(t *testing.T) {
	s, fake := connectFake(t, WithMaxLineSize(256))

	fake.send(`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"` + strings.Repeat("x", 400) + `"}]}}`)
	fake.send(`{"type":"result","subtype":"success","is_error":false}`)

	msgs, errs := collect(t, s)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], errLineTooLong)
	require.Len(t, msgs, 1)
	assert.IsType(t, &ResultMessage{}, msgs[0])
}

func TestSession_ProcessExitFailsPendingRequests(t *testing.T) {
	s, fake := connectFake(t)

	fake.send(assistantLine("queued"))

	const pending = 3
	errCh := make(chan error, pending)
	ctx := context.Background()
	go func() { errCh <- s.Interrupt(ctx) }()
	go func() { errCh <- s.SetModel(ctx, "opus") }()
	go func() { errCh <- s.SetPermissionMode(ctx, claudecontract.PermissionPlan) }()
	for range pending {
		fake.expect()
	}

	fake.exit(&ProcessError{ExitCode: 2, Stderr: "fatal: boom"})

	for range pending {
		select {
		case err := <-errCh:
			var perr *ProcessError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, 2, perr.ExitCode)
		case <-time.After(5 * time.Second):
			t.Fatal("pending request was not failed")
		}
	}

	<-s.Done()
	assert.Equal(t, StatusFailed, s.Status())

	msgs, errs := collect(t, s)
	require.Len(t, msgs, 1, "queued messages are still delivered")
	require.Len(t, errs, 1)
	var perr *ProcessError
	require.ErrorAs(t, errs[0], &perr)
	assert.Contains(t, perr.Error(), "fatal: boom")

	// The failure is reported once; later reads see end of stream.
	msgs, errs = collect(t, s)
	assert.Empty(t, msgs)
	assert.Empty(t, errs)

	err := s.Query(ctx, "hi")
	require.ErrorAs(t, err, &perr)
	assert.ErrorAs(t, s.Wait(), &perr)
}

func TestSession_CleanExitIsUnexpected(t *testing.T) {
	s, fake := connectFake(t)

	fake.exit(nil)
	<-s.Done()

	var perr *ProcessError
	require.ErrorAs(t, s.Err(), &perr)
	assert.Equal(t, 0, perr.ExitCode)
	assert.Equal(t, StatusFailed, s.Status())
}

func TestSession_StateErrors(t *testing.T) {
	fake := newFakeCLI(t)
	s, err := newSession(WithTransport(fake), WithLogger(discardLogger()))
	require.NoError(t, err)
	ctx := context.Background()

	err = s.Query(ctx, "too early")
	require.ErrorIs(t, err, ErrInvalidState)
	var serr *StateError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, StatusIdle, serr.Status)
	assert.ErrorIs(t, s.Interrupt(ctx), ErrInvalidState)

	for _, err := range s.ReceiveMessages(ctx) {
		assert.ErrorIs(t, err, ErrInvalidState)
	}

	require.NoError(t, s.Connect(ctx))
	assert.ErrorIs(t, s.Connect(ctx), ErrInvalidState)

	require.NoError(t, s.Close())
	err = s.Query(ctx, "too late")
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, StatusClosed, serr.Status)
	assert.ErrorIs(t, s.Connect(ctx), ErrInvalidState)
}

func TestSession_CloseFailsPendingAndIsIdempotent(t *testing.T) {
	s, fake := connectFake(t)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Interrupt(context.Background()) }()
	fake.expect()

	require.NoError(t, s.Close())
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrSessionClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("pending interrupt was not failed by Close")
	}

	assert.Equal(t, StatusClosed, s.Status())
	assert.True(t, fake.isClosed())
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Wait())

	msgs, errs := collect(t, s)
	assert.Empty(t, msgs)
	assert.Empty(t, errs)
}

func TestSession_CloseDoesNotWaitForCallbacks(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	s, fake := connectFake(t, WithCallbackTimeout(0), WithCanUseTool(func(context.Context, string, map[string]any, ToolPermissionContext) (PermissionResult, error) {
		close(started)
		<-release // ignores cancellation
		return &PermissionAllow{}, nil
	}))

	fake.request("cli-1", map[string]any{"subtype": "can_use_tool", "tool_name": "Bash", "input": map[string]any{}})
	<-started

	done := make(chan error, 1)
	go func() { done <- s.Close() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Close blocked on an outstanding callback")
	}
}

func TestSession_ControlTimeout(t *testing.T) {
	s, fake := connectFake(t, WithControlTimeout(50*time.Millisecond))

	err := s.Interrupt(context.Background())
	require.ErrorIs(t, err, ErrControlTimeout)
	var terr *ControlTimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "interrupt", terr.Subtype)

	// A late response is discarded without disturbing the session.
	frame := fake.expect()
	fake.respond(frame["request_id"].(string), nil)
	fake.send(resultLine)
	msgs, errs := collect(t, s)
	assert.Empty(t, errs)
	assert.Len(t, msgs, 1)
	assert.Equal(t, StatusConnected, s.Status())
}

func TestSession_InitializeTimeout(t *testing.T) {
	fake := newFakeCLI(t)
	fake.autoInit = false
	s, err := newSession(WithTransport(fake), WithLogger(discardLogger()), WithInitializeTimeout(50*time.Millisecond))
	require.NoError(t, err)

	err = s.Connect(context.Background())
	require.ErrorIs(t, err, ErrControlTimeout)
	assert.Equal(t, StatusFailed, s.Status())
	<-s.Done()
	assert.Eventually(t, fake.isClosed, time.Second, 10*time.Millisecond)
}

func TestSession_StartFailure(t *testing.T) {
	fake := newFakeCLI(t)
	fake.startErr = &ProcessError{ExitCode: -1, Err: ErrCLINotFound}
	s, err := newSession(WithTransport(fake), WithLogger(discardLogger()))
	require.NoError(t, err)

	err = s.Connect(context.Background())
	require.ErrorIs(t, err, ErrCLINotFound)
	assert.Equal(t, StatusFailed, s.Status())
	assert.ErrorIs(t, s.Err(), ErrCLINotFound)
}

func TestSession_HookResponseFiltering(t *testing.T) {
	hookLine := `{"type":"system","subtype":"hook_response","hook_name":"SessionStart","stdout":"","exit_code":0}`

	t.Run("filtered by default", func(t *testing.T) {
		s, fake := connectFake(t)
		fake.send(hookLine)
		fake.send(resultLine)
		msgs, _ := collect(t, s)
		require.Len(t, msgs, 1)
		assert.IsType(t, &ResultMessage{}, msgs[0])
	})

	t.Run("included on request", func(t *testing.T) {
		s, fake := connectFake(t, WithIncludeHookOutput(true))
		fake.send(hookLine)
		fake.send(resultLine)
		msgs, _ := collect(t, s)
		require.Len(t, msgs, 2)
		assert.Equal(t, "hook_response", msgs[0].(*SystemMessage).Subtype)
	})
}

func TestSession_InitAndResultUpdateInfo(t *testing.T) {
	configDir := t.TempDir()
	s, fake := connectFake(t, WithModel("sonnet"), WithConfigDir(configDir))

	assert.Empty(t, s.ID())
	assert.Empty(t, s.TranscriptPath())

	fake.send(`{"type":"system","subtype":"init","session_id":"abc-123","model":"claude-sonnet-4-5","cwd":"/home/user/project","permissionMode":"default","tools":["Bash","Read"]}`)
	fake.send(resultLine)
	fake.send(resultLine)
	collect(t, s)
	collect(t, s)

	info := s.Info()
	assert.Equal(t, "abc-123", info.ID)
	assert.Equal(t, "claude-sonnet-4-5", info.Model)
	assert.Equal(t, "/home/user/project", info.CWD)
	assert.Equal(t, 2, info.TurnCount)
	assert.InDelta(t, 0.025, info.TotalCostUSD, 1e-9)
	assert.Equal(t, StatusConnected, info.Status)

	assert.Equal(t,
		filepath.Join(configDir, "projects", "-home-user-project", "abc-123.jsonl"),
		s.TranscriptPath())
}

func TestSession_SetPermissionModeAndModel(t *testing.T) {
	s, fake := connectFake(t, WithModel("sonnet"))
	ctx := context.Background()

	go func() {
		frame := fake.expect()
		assert.Equal(t, map[string]any{"subtype": "set_permission_mode", "mode": "acceptEdits"}, frame["request"])
		fake.respond(frame["request_id"].(string), nil)

		frame = fake.expect()
		assert.Equal(t, map[string]any{"subtype": "set_model", "model": "opus"}, frame["request"])
		fake.respond(frame["request_id"].(string), nil)

		frame = fake.expect()
		assert.Equal(t, map[string]any{"subtype": "set_model", "model": nil}, frame["request"])
		fake.respond(frame["request_id"].(string), nil)
	}()

	require.NoError(t, s.SetPermissionMode(ctx, claudecontract.PermissionAcceptEdits))
	assert.Equal(t, "acceptEdits", s.Info().PermissionMode)

	require.NoError(t, s.SetModel(ctx, "opus"))
	assert.Equal(t, "opus", s.Info().Model)

	require.NoError(t, s.SetModel(ctx, ""))
	assert.Equal(t, "sonnet", s.Info().Model)

	err := s.SetPermissionMode(ctx, "yolo")
	assert.ErrorIs(t, err, ErrInvalidOption)
}

func TestSession_CLISetPermissionModeIsRecorded(t *testing.T) {
	s, fake := connectFake(t)

	fake.request("cli-7", map[string]any{"subtype": "set_permission_mode", "mode": "plan"})
	resp := fake.expect()
	assert.Equal(t, "success", responseBody(resp)["subtype"])
	assert.Equal(t, "plan", s.Info().PermissionMode)
}

func TestSession_QueryRespectsContext(t *testing.T) {
	s, _ := connectFake(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Query(ctx, "hi")
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSession_ReceiveMessagesHonorsContext(t *testing.T) {
	s, _ := connectFake(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	var errs []error
	for _, err := range s.ReceiveMessages(ctx) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], context.DeadlineExceeded)
	assert.Equal(t, StatusConnected, s.Status())
}

func TestNew_ValidatesOptions(t *testing.T) {
	_, err := New(WithContinue(), WithResume("abc"))
	require.ErrorIs(t, err, ErrInvalidOption)

	_, err = New(WithCanUseTool(func(context.Context, string, map[string]any, ToolPermissionContext) (PermissionResult, error) {
		return &PermissionAllow{}, nil
	}), WithPermissionPromptTool("mcp__auth__prompt"))
	require.ErrorIs(t, err, ErrInvalidOption)

	s, err := New()
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, s.Status())
}
