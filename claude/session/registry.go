package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/randalmurphal/claudeagent/claudecontract"
)

// MCPServer is an in-process MCP server reached through mcp_message
// control requests. HandleMessage receives one JSON-RPC message and
// returns the JSON-RPC response (nil for notifications).
type MCPServer interface {
	Name() string
	HandleMessage(ctx context.Context, message json.RawMessage) (json.RawMessage, error)
}

// AgentDefinition describes a custom subagent passed through --agents.
type AgentDefinition struct {
	Description string   `json:"description"`
	Prompt      string   `json:"prompt"`
	Tools       []string `json:"tools,omitempty"`
	Model       string   `json:"model,omitempty"`
}

type hookEntry struct {
	callback HookCallback
	ctx      HookContext
}

// registry holds every callback a session can dispatch to. It is built
// once in New and never mutated afterwards.
type registry struct {
	canUseTool CanUseToolFunc
	callbacks  map[string]hookEntry
	hookConfig map[claudecontract.HookEvent][]hookMatcherConfig
	mcpServers map[string]MCPServer
}

func newRegistry(cfg *sessionConfig) *registry {
	r := &registry{
		canUseTool: cfg.canUseTool,
		callbacks:  make(map[string]hookEntry),
		hookConfig: make(map[claudecontract.HookEvent][]hookMatcherConfig),
		mcpServers: make(map[string]MCPServer, len(cfg.mcpServers)),
	}
	for _, srv := range cfg.mcpServers {
		r.mcpServers[srv.Name()] = srv
	}

	// Ids are assigned in event declaration order so they are stable
	// across runs.
	next := 0
	for _, event := range claudecontract.ValidHookEvents() {
		for _, m := range cfg.hooks[event] {
			mc := hookMatcherConfig{HookCallbackIDs: make([]string, 0, len(m.Hooks))}
			if m.Matcher != "" {
				matcher := m.Matcher
				mc.Matcher = &matcher
			}
			if m.Timeout > 0 {
				secs := m.Timeout.Seconds()
				mc.Timeout = &secs
			}
			for _, cb := range m.Hooks {
				id := fmt.Sprintf("hook_%d", next)
				next++
				r.callbacks[id] = hookEntry{
					callback: cb,
					ctx:      HookContext{Event: event, Matcher: m.Matcher, CallbackID: id},
				}
				mc.HookCallbackIDs = append(mc.HookCallbackIDs, id)
			}
			r.hookConfig[event] = append(r.hookConfig[event], mc)
		}
	}
	return r
}

// initializeRequest is the body of the outbound initialize request.
// Agents travel on the command line (--agents), not here.
type initializeRequest struct {
	Hooks map[claudecontract.HookEvent][]hookMatcherConfig `json:"hooks,omitempty"`
}

func (r *registry) initializeRequest() initializeRequest {
	var req initializeRequest
	if len(r.hookConfig) > 0 {
		req.Hooks = r.hookConfig
	}
	return req
}
