// Package mcp implements in-process MCP tool servers.
//
// A Server runs inside the caller's process. The CLI reaches it through
// mcp_message control requests, so no subprocess or socket is involved:
//
//	type addInput struct {
//		A float64 `json:"a" jsonschema:"description=First operand"`
//		B float64 `json:"b" jsonschema:"description=Second operand"`
//	}
//
//	calc := mcp.NewServer("calc", "1.0.0",
//		mcp.NewTool("add", "Add two numbers", func(ctx context.Context, in addInput) (*mcp.Result, error) {
//			return mcp.TextResult(strconv.FormatFloat(in.A+in.B, 'f', -1, 64)), nil
//		}),
//	)
//	s, err := session.New(session.WithMCPServer(calc), session.WithAllowedTools([]string{"mcp__calc__add"}))
//
// Tools are exposed to the model as mcp__{server}__{tool}.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/claudeagent/claude/session"
	"github.com/randalmurphal/claudeagent/claudecontract"
)

// JSON-RPC methods handled by Server.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
)

// Server is an in-process MCP server. It is safe for concurrent use once
// constructed.
type Server struct {
	name    string
	version string
	tools   []*Tool
	byName  map[string]*Tool
	logger  *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates a server. An empty version defaults to 1.0.0. A later
// tool with the same name replaces an earlier one.
func NewServer(name, version string, tools ...*Tool) *Server {
	return NewServerWithOptions(name, version, tools)
}

// NewServerWithOptions is NewServer with options.
func NewServerWithOptions(name, version string, tools []*Tool, opts ...ServerOption) *Server {
	if version == "" {
		version = "1.0.0"
	}
	s := &Server{
		name:    name,
		version: version,
		byName:  make(map[string]*Tool, len(tools)),
	}
	for _, t := range tools {
		if _, dup := s.byName[t.Name]; dup {
			for i, old := range s.tools {
				if old.Name == t.Name {
					s.tools[i] = t
				}
			}
		} else {
			s.tools = append(s.tools, t)
		}
		s.byName[t.Name] = t
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "mcp-server", "server", name)
	return s
}

// Name implements session.MCPServer.
func (s *Server) Name() string { return s.name }

// Version returns the advertised server version.
func (s *Server) Version() string { return s.version }

// Tools returns the tools in registration order.
func (s *Server) Tools() []*Tool {
	out := make([]*Tool, len(s.tools))
	copy(out, s.tools)
	return out
}

// ToolNames returns the names the model uses for this server's tools,
// suitable for session.WithAllowedTools.
func (s *Server) ToolNames() []string {
	names := make([]string, len(s.tools))
	for i, t := range s.tools {
		names[i] = claudecontract.MCPToolName(s.name, t.Name)
	}
	return names
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// HandleMessage implements session.MCPServer. Protocol failures become
// JSON-RPC error responses; notifications return nil.
func (s *Server) HandleMessage(ctx context.Context, message json.RawMessage) (json.RawMessage, error) {
	var req rpcRequest
	if err := json.Unmarshal(message, &req); err != nil {
		return s.reply(nil, nil, &rpcError{Code: claudecontract.JSONRPCParseError, Message: "parse error: " + err.Error()})
	}
	notification := len(req.ID) == 0 || string(req.ID) == "null"

	if req.Method == "" {
		if notification {
			return nil, nil
		}
		return s.reply(req.ID, nil, &rpcError{Code: claudecontract.JSONRPCInvalidRequest, Message: "missing method"})
	}

	result, rerr := s.dispatch(ctx, req)
	if notification {
		if rerr != nil {
			s.logger.Debug("notification failed", "method", req.Method, "error", rerr.Message)
		}
		return nil, nil
	}
	return s.reply(req.ID, result, rerr)
}

func (s *Server) dispatch(ctx context.Context, req rpcRequest) (any, *rpcError) {
	switch req.Method {
	case MethodInitialize:
		return map[string]any{
			"protocolVersion": claudecontract.MCPProtocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": s.name, "version": s.version},
		}, nil

	case MethodInitialized:
		return map[string]any{}, nil

	case MethodToolsList:
		return map[string]any{"tools": s.listTools()}, nil

	case MethodToolsCall:
		return s.callTool(ctx, req.Params)

	default:
		return nil, &rpcError{
			Code:    claudecontract.JSONRPCMethodNotFound,
			Message: fmt.Sprintf("Method '%s' not found", req.Method),
		}
	}
}

type toolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
	Annotations *Annotations    `json:"annotations,omitempty"`
}

func (s *Server) listTools() []toolDescriptor {
	out := make([]toolDescriptor, 0, len(s.tools))
	for _, t := range s.tools {
		schema := t.InputSchema
		if len(schema) == 0 {
			schema = emptyObjectSchema
		}
		out = append(out, toolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
			Annotations: t.Annotations,
		})
	}
	return out
}

func (s *Server) callTool(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	var p struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &rpcError{Code: claudecontract.JSONRPCInvalidParams, Message: "invalid params: " + err.Error()}
		}
	}
	if p.Name == "" {
		return nil, &rpcError{Code: claudecontract.JSONRPCInvalidParams, Message: "missing tool name"}
	}
	tool, ok := s.byName[p.Name]
	if !ok {
		return nil, &rpcError{
			Code:    claudecontract.JSONRPCMethodNotFound,
			Message: fmt.Sprintf("Tool '%s' not found", p.Name),
		}
	}
	if string(p.Arguments) == "null" {
		p.Arguments = nil
	}

	res, err := tool.invoke(ctx, p.Arguments)
	if err != nil {
		var argErr *invalidArgsError
		if errors.As(err, &argErr) {
			return nil, &rpcError{Code: claudecontract.JSONRPCInvalidParams, Message: argErr.Error()}
		}
		s.logger.Warn("tool failed", "tool", p.Name, "error", err)
		return nil, &rpcError{Code: claudecontract.JSONRPCInternalError, Message: err.Error()}
	}
	if res == nil {
		res = &Result{}
	}
	if res.Content == nil {
		res.Content = []Content{}
	}
	return res, nil
}

func (s *Server) reply(id json.RawMessage, result any, rerr *rpcError) (json.RawMessage, error) {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	resp := rpcResponse{JSONRPC: claudecontract.JSONRPCVersion, ID: id, Error: rerr}
	if rerr == nil {
		resp.Result = result
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("marshal %s response: %w", s.name, err)
	}
	return data, nil
}

var _ session.MCPServer = (*Server)(nil)
