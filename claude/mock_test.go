package claude_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/claudeagent/claude"
	"github.com/randalmurphal/claudeagent/claude/session"
)

func quiet() session.SessionOption {
	return session.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestMockTransport_FixedResponse(t *testing.T) {
	mock := claude.NewMockTransport("Hello, world!")

	res, err := claude.Query(context.Background(), "Hi", session.WithTransport(mock), quiet())

	require.NoError(t, err)
	assert.Equal(t, "Hello, world!", res.Text())
	assert.Equal(t, "mock-session", res.SessionID())
	assert.True(t, res.Result.IsSuccess())
}

func TestMockTransport_SequentialResponses(t *testing.T) {
	mock := claude.NewMockTransport("").WithResponses("first", "second")
	sess, err := session.New(session.WithTransport(mock), quiet())
	require.NoError(t, err)
	defer sess.Close()

	ctx := context.Background()
	require.NoError(t, sess.Connect(ctx, "one"))

	texts := func() []string {
		var out []string
		for msg, err := range sess.ReceiveMessages(ctx) {
			require.NoError(t, err)
			if am, ok := msg.(*session.AssistantMessage); ok {
				out = append(out, am.Text())
			}
		}
		return out
	}
	assert.Equal(t, []string{"first"}, texts())

	require.NoError(t, sess.Query(ctx, "two"))
	assert.Equal(t, []string{"second"}, texts())

	require.NoError(t, sess.Query(ctx, "three"))
	assert.Equal(t, []string{"first"}, texts(), "responses cycle")

	assert.Equal(t, []string{"one", "two", "three"}, mock.Prompts())
	assert.Equal(t, "mock-session", sess.ID())
	assert.Equal(t, "mock-model", sess.Info().Model)
}

func TestMockTransport_StartError(t *testing.T) {
	mock := claude.NewMockTransport("").WithStartError(errors.New("exec: no such file"))

	_, err := claude.Query(context.Background(), "Hi", session.WithTransport(mock), quiet())

	var perr *session.ProcessError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, -1, perr.ExitCode)
	assert.Empty(t, mock.Prompts())
}

func TestMockTransport_Handler(t *testing.T) {
	mock := claude.NewMockTransport("").WithHandler(func(prompt string) []any {
		return []any{
			map[string]any{
				"type": "assistant",
				"message": map[string]any{
					"model": "custom",
					"content": []any{
						map[string]any{"type": "tool_use", "id": "t1", "name": "Read", "input": map[string]any{"file_path": prompt}},
					},
				},
			},
			map[string]any{"type": "result", "subtype": "success", "num_turns": 2, "result": "read " + prompt},
		}
	})

	res, err := claude.Query(context.Background(), "/etc/hosts", session.WithTransport(mock), quiet())
	require.NoError(t, err)
	assert.Equal(t, "read /etc/hosts", res.Text())
	require.NotNil(t, res.Result.NumTurns)
	assert.Equal(t, 2, *res.Result.NumTurns)

	var uses []*session.ToolUseBlock
	for _, msg := range res.Messages {
		if am, ok := msg.(*session.AssistantMessage); ok {
			uses = append(uses, am.ToolUses()...)
		}
	}
	require.Len(t, uses, 1)
	assert.Equal(t, "Read", uses[0].Name)
}

func TestMockTransport_Reusable(t *testing.T) {
	mock := claude.NewMockTransport("").WithResponses("a", "b", "c")
	ctx := context.Background()

	for _, want := range []string{"a", "b", "c"} {
		res, err := claude.Query(ctx, "q", session.WithTransport(mock), quiet())
		require.NoError(t, err)
		assert.Equal(t, want, res.Text())
	}
	assert.Len(t, mock.Prompts(), 3)
}

func TestSessionAliases(t *testing.T) {
	mock := claude.NewMockTransport("aliased")
	sess, err := claude.NewSession(session.WithTransport(mock), quiet())
	require.NoError(t, err)
	defer sess.Close()

	assert.Equal(t, claude.SessionStatusIdle, sess.Status())
	require.NoError(t, sess.Connect(context.Background(), "hi"))
	assert.Equal(t, claude.SessionStatusConnected, sess.Status())

	var result *claude.ResultMessage
	for msg, err := range sess.ReceiveMessages(context.Background()) {
		require.NoError(t, err)
		if rm, ok := msg.(*claude.ResultMessage); ok {
			result = rm
		}
	}
	require.NotNil(t, result)
	assert.Equal(t, "aliased", result.Text())
}
