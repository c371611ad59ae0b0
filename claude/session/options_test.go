package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/claudeagent/claudecontract"
)

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	assert.Equal(t, "claude", cfg.claudePath)
	assert.Equal(t, 60*time.Second, cfg.initializeTimeout)
	assert.Equal(t, 60*time.Second, cfg.controlTimeout)
	assert.Equal(t, 60*time.Second, cfg.callbackTimeout)
	assert.Equal(t, 5*time.Second, cfg.closeTimeout)
	assert.Equal(t, defaultMaxLineSize, cfg.maxLineSize)
	assert.False(t, cfg.dangerouslySkipPermissions)
	assert.False(t, cfg.includeHookOutput)
	require.NoError(t, cfg.validate())
}

func TestConfig_Validate(t *testing.T) {
	allow := func(context.Context, string, map[string]any, ToolPermissionContext) (PermissionResult, error) {
		return &PermissionAllow{}, nil
	}

	tests := []struct {
		name    string
		opts    []SessionOption
		wantErr string
	}{
		{"callback and prompt tool", []SessionOption{WithCanUseTool(allow), WithPermissionPromptTool("mcp__x__y")}, "permission prompt tool"},
		{"continue and resume", []SessionOption{WithContinue(), WithResume("s")}, "mutually exclusive"},
		{"fork alone", []SessionOption{WithForkSession()}, "requires resume or continue"},
		{"bad permission mode", []SessionOption{WithPermissionMode("yolo")}, `unknown permission mode "yolo"`},
		{"bad hook event", []SessionOption{WithHook("OnLunch", "")}, `unknown hook event "OnLunch"`},
		{"duplicate sdk server", []SessionOption{WithMCPServer(&echoServer{name: "a"}), WithMCPServer(&echoServer{name: "a"})}, `duplicate MCP server "a"`},
		{"sdk and external clash", []SessionOption{WithMCPServer(&echoServer{name: "a"}), WithExternalMCPServers(map[string]MCPServerConfig{"a": {Type: "stdio"}})}, `duplicate MCP server "a"`},
		{"empty server name", []SessionOption{WithMCPServer(&echoServer{})}, "name is empty"},
		{"negative turns", []SessionOption{WithMaxTurns(-1)}, "max turns"},
		{"negative budget", []SessionOption{WithMaxBudgetUSD(-0.5)}, "max budget"},
		{"zero line size", []SessionOption{WithMaxLineSize(0)}, "max line size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			for _, opt := range tt.opts {
				opt(&cfg)
			}
			err := cfg.validate()
			require.ErrorIs(t, err, ErrInvalidOption)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ValidateJoinsErrors(t *testing.T) {
	cfg := defaultConfig()
	WithMaxTurns(-1)(&cfg)
	WithMaxBudgetUSD(-1)(&cfg)

	err := cfg.validate()
	require.ErrorIs(t, err, ErrInvalidOption)
	assert.Contains(t, err.Error(), "max turns")
	assert.Contains(t, err.Error(), "max budget")
}

func TestWithHooks_Accumulates(t *testing.T) {
	noop := func(context.Context, HookInput, string, HookContext) (*HookOutput, error) { return &HookOutput{}, nil }

	cfg := defaultConfig()
	WithHook(claudecontract.HookPreToolUse, "Bash", noop)(&cfg)
	WithHook(claudecontract.HookPreToolUse, "Write", noop, noop)(&cfg)
	WithHooks(map[claudecontract.HookEvent][]HookMatcher{
		claudecontract.HookStop: {{Hooks: []HookCallback{noop}}},
	})(&cfg)

	require.Len(t, cfg.hooks[claudecontract.HookPreToolUse], 2)
	assert.Equal(t, "Bash", cfg.hooks[claudecontract.HookPreToolUse][0].Matcher)
	assert.Len(t, cfg.hooks[claudecontract.HookPreToolUse][1].Hooks, 2)
	assert.Len(t, cfg.hooks[claudecontract.HookStop], 1)
	require.NoError(t, cfg.validate())
}

func TestMapOptions_Merge(t *testing.T) {
	cfg := defaultConfig()
	WithEnv(map[string]string{"A": "1"})(&cfg)
	WithEnv(map[string]string{"B": "2", "A": "3"})(&cfg)
	assert.Equal(t, map[string]string{"A": "3", "B": "2"}, cfg.extraEnv)

	WithAgents(map[string]AgentDefinition{"x": {Description: "x"}})(&cfg)
	WithAgents(map[string]AgentDefinition{"y": {Description: "y"}})(&cfg)
	assert.Len(t, cfg.agents, 2)
}
