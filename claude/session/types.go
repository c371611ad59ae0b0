package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/randalmurphal/claudeagent/claudecontract"
)

// SessionStatus represents the current state of a session.
type SessionStatus string

// Session status constants.
const (
	StatusIdle       SessionStatus = "idle"
	StatusConnecting SessionStatus = "connecting"
	StatusConnected  SessionStatus = "connected"
	StatusClosing    SessionStatus = "closing"
	StatusClosed     SessionStatus = "closed"
	StatusFailed     SessionStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s SessionStatus) Terminal() bool {
	return s == StatusClosed || s == StatusFailed
}

// Frame is one decoded line of CLI output: a Message, *ControlRequest,
// *ControlResponse or *ControlCancelRequest.
type Frame interface {
	// Type returns the wire discriminator.
	Type() string
	isFrame()
}

// Message is a domain message from the CLI. The concrete type is one of
// *UserMessage, *AssistantMessage, *SystemMessage, *ResultMessage or
// *StreamEvent. Use a type switch to handle them.
type Message interface {
	Frame
	isMessage()
}

// ContentBlock is one entry of a user or assistant message's content.
// The concrete type is one of *TextBlock, *ThinkingBlock, *ToolUseBlock,
// *ToolResultBlock or *RawBlock.
type ContentBlock interface {
	BlockType() string
	isContentBlock()
}

// =============================================================================
// Content blocks
// =============================================================================

// TextBlock is plain text content.
type TextBlock struct {
	Text string `json:"text"`
}

// ThinkingBlock is extended thinking content.
type ThinkingBlock struct {
	Thinking  string `json:"thinking"`
	Signature string `json:"signature"`
}

// ToolUseBlock is a tool invocation issued by the model.
type ToolUseBlock struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolResultBlock is the result of a tool invocation. ToolUseID references
// a ToolUseBlock issued earlier in the same session.
type ToolResultBlock struct {
	ToolUseID string `json:"tool_use_id"`
	Content   any    `json:"content,omitempty"` // string, []any or nil
	IsError   *bool  `json:"is_error,omitempty"`
}

// RawBlock holds a content block of a type this package does not know.
// Data is the complete block object, including "type".
type RawBlock struct {
	Kind string
	Data map[string]any
}

func (*TextBlock) BlockType() string       { return claudecontract.ContentTypeText }
func (*ThinkingBlock) BlockType() string   { return claudecontract.ContentTypeThinking }
func (*ToolUseBlock) BlockType() string    { return claudecontract.ContentTypeToolUse }
func (*ToolResultBlock) BlockType() string { return claudecontract.ContentTypeToolResult }
func (b *RawBlock) BlockType() string      { return b.Kind }

func (*TextBlock) isContentBlock()       {}
func (*ThinkingBlock) isContentBlock()   {}
func (*ToolUseBlock) isContentBlock()    {}
func (*ToolResultBlock) isContentBlock() {}
func (*RawBlock) isContentBlock()        {}

// =============================================================================
// Messages
// =============================================================================

// UserMessage is a user turn. It is both decoded from CLI output (echoed
// prompts and tool results) and sent to the CLI as input.
type UserMessage struct {
	// Content holds the blocks when the content was an array.
	Content []ContentBlock
	// Text holds the content when it was a plain string.
	Text *string

	UUID            string
	SessionID       string
	ParentToolUseID *string
	ToolUseResult   any
}

// NewUserMessage creates a user message carrying a plain text prompt.
func NewUserMessage(content string) *UserMessage {
	return &UserMessage{Text: &content}
}

// AssistantMessage is a model turn.
type AssistantMessage struct {
	ID              string
	Model           *string
	Content         []ContentBlock
	StopReason      *string
	Usage           map[string]any
	ParentToolUseID *string
	SessionID       string
	UUID            string
	// Error is set by the CLI when the turn failed (e.g. "rate_limit").
	Error *string
}

// Text concatenates all text blocks.
func (m *AssistantMessage) Text() string {
	var sb strings.Builder
	for _, block := range m.Content {
		if tb, ok := block.(*TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	return sb.String()
}

// ToolUses returns the tool_use blocks in order.
func (m *AssistantMessage) ToolUses() []*ToolUseBlock {
	var uses []*ToolUseBlock
	for _, block := range m.Content {
		if tu, ok := block.(*ToolUseBlock); ok {
			uses = append(uses, tu)
		}
	}
	return uses
}

// SystemMessage is a CLI notice. Data is the complete message object.
type SystemMessage struct {
	Subtype string
	Data    map[string]any
}

// IsInit returns true for the system/init message.
func (m *SystemMessage) IsInit() bool {
	return m.Subtype == claudecontract.SubtypeInit
}

// Init decodes the init metadata. It fails for other subtypes.
func (m *SystemMessage) Init() (*InitData, error) {
	if !m.IsInit() {
		return nil, fmt.Errorf("system message subtype %q is not init", m.Subtype)
	}
	data, err := json.Marshal(m.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal init data: %w", err)
	}
	var init InitData
	if err := json.Unmarshal(data, &init); err != nil {
		return nil, fmt.Errorf("decode init data: %w", err)
	}
	return &init, nil
}

// InitData contains session initialization data from system/init.
type InitData struct {
	CWD               string            `json:"cwd"`
	SessionID         string            `json:"session_id"`
	Model             string            `json:"model"`
	PermissionMode    string            `json:"permissionMode"`
	Tools             []string          `json:"tools"`
	MCPServers        []MCPServerStatus `json:"mcp_servers,omitempty"`
	SlashCommands     []string          `json:"slash_commands,omitempty"`
	Agents            []string          `json:"agents,omitempty"`
	Skills            []string          `json:"skills,omitempty"`
	ClaudeCodeVersion string            `json:"claude_code_version"`
	APIKeySource      string            `json:"apiKeySource"`
}

// MCPServerStatus represents an MCP server connection status.
type MCPServerStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// ResultMessage is the terminal message of one query. Optional counters
// are nil when the CLI omits them. Result is the free-form payload: usually
// a string, but any JSON value is accepted.
type ResultMessage struct {
	Subtype           string         `json:"subtype"`
	DurationMS        *int64         `json:"duration_ms,omitempty"`
	DurationAPIMS     *int64         `json:"duration_api_ms,omitempty"`
	IsError           bool           `json:"is_error"`
	NumTurns          *int           `json:"num_turns,omitempty"`
	SessionID         string         `json:"session_id,omitempty"`
	UUID              string         `json:"uuid,omitempty"`
	TotalCostUSD      *float64       `json:"total_cost_usd,omitempty"`
	Usage             map[string]any `json:"usage"`
	ModelUsage        map[string]any `json:"modelUsage"`
	PermissionDenials []any          `json:"permission_denials"`
	Result            any            `json:"result,omitempty"`
	StructuredOutput  any            `json:"structured_output,omitempty"`

	// Extra holds fields this type does not model, such as errors or
	// stop_reason, so they survive re-encoding.
	Extra map[string]any `json:"-"`
}

// IsSuccess returns true for the success subtype without the error flag.
func (m *ResultMessage) IsSuccess() bool {
	return m.Subtype == claudecontract.ResultSubtypeSuccess && !m.IsError
}

// Text returns the result when it is a string, or "" otherwise.
func (m *ResultMessage) Text() string {
	s, _ := m.Result.(string)
	return s
}

// StreamEvent is a partial message update, emitted when partial messages
// are enabled.
type StreamEvent struct {
	UUID            string
	SessionID       string
	Event           map[string]any
	ParentToolUseID *string
}

func (*UserMessage) Type() string      { return claudecontract.EventTypeUser }
func (*AssistantMessage) Type() string { return claudecontract.EventTypeAssistant }
func (*SystemMessage) Type() string    { return claudecontract.EventTypeSystem }
func (*ResultMessage) Type() string    { return claudecontract.EventTypeResult }
func (*StreamEvent) Type() string      { return claudecontract.EventTypeStreamEvent }

func (*UserMessage) isFrame()      {}
func (*AssistantMessage) isFrame() {}
func (*SystemMessage) isFrame()    {}
func (*ResultMessage) isFrame()    {}
func (*StreamEvent) isFrame()      {}

func (*UserMessage) isMessage()      {}
func (*AssistantMessage) isMessage() {}
func (*SystemMessage) isMessage()    {}
func (*ResultMessage) isMessage()    {}
func (*StreamEvent) isMessage()      {}

// SessionInfo contains metadata about a session.
type SessionInfo struct {
	ID             string        `json:"id"`
	Status         SessionStatus `json:"status"`
	Model          string        `json:"model"`
	PermissionMode string        `json:"permission_mode,omitempty"`
	CWD            string        `json:"cwd"`
	CreatedAt      time.Time     `json:"created_at"`
	LastActivity   time.Time     `json:"last_activity"`
	TurnCount      int           `json:"turn_count"`
	TotalCostUSD   float64       `json:"total_cost_usd"`
}
