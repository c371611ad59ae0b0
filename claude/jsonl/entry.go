package jsonl

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/randalmurphal/claudeagent/claude/session"
	"github.com/randalmurphal/claudeagent/claudecontract"
)

// Entry is one line of a session transcript. Besides user and assistant
// turns, transcripts carry bookkeeping entries (summary, queue-operation,
// file-history-snapshot) that have no message body.
type Entry struct {
	Type        string  `json:"type"`
	Timestamp   string  `json:"timestamp,omitempty"`
	SessionID   string  `json:"sessionId,omitempty"`
	UUID        string  `json:"uuid,omitempty"`
	ParentUUID  *string `json:"parentUuid,omitempty"`
	CWD         string  `json:"cwd,omitempty"`
	Version     string  `json:"version,omitempty"`
	IsSidechain bool    `json:"isSidechain,omitempty"`
	Message     *Body   `json:"message,omitempty"`

	// ToolUseResult is tool-specific metadata recorded next to a
	// tool_result. Its shape depends on the tool; some tools record a
	// plain string.
	ToolUseResult json.RawMessage `json:"toolUseResult,omitempty"`

	// Raw is the original line.
	Raw json.RawMessage `json:"-"`
}

// Body is the API message stored in a user or assistant entry.
type Body struct {
	ID      string          `json:"id,omitempty"`
	Role    string          `json:"role"`
	Model   string          `json:"model,omitempty"`
	Content json.RawMessage `json:"content"`
	Usage   *Usage          `json:"usage,omitempty"`
}

// Usage is per-message token usage of an assistant entry.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// TodoItem is one item of a TodoWrite snapshot.
type TodoItem struct {
	Content    string `json:"content"`
	Status     string `json:"status"`
	ActiveForm string `json:"activeForm"`
}

// ParseEntry parses a single transcript line.
func ParseEntry(line []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(line, &e); err != nil {
		return nil, fmt.Errorf("parse transcript entry: %w", err)
	}
	if e.Type == "" {
		return nil, fmt.Errorf("parse transcript entry: missing type")
	}
	e.Raw = append(json.RawMessage(nil), line...)
	return &e, nil
}

// IsUser reports whether the entry is a user turn. False for nil.
func (e *Entry) IsUser() bool {
	return e != nil && e.Type == claudecontract.EventTypeUser
}

// IsAssistant reports whether the entry is an assistant turn. False for nil.
func (e *Entry) IsAssistant() bool {
	return e != nil && e.Type == claudecontract.EventTypeAssistant
}

// Time parses the entry timestamp.
func (e *Entry) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, e.Timestamp)
}

// Model returns the model of an assistant entry.
func (e *Entry) Model() string {
	if e == nil || e.Message == nil {
		return ""
	}
	return e.Message.Model
}

// Usage returns token usage of an assistant entry, or nil.
func (e *Entry) Usage() *Usage {
	if e == nil || e.Message == nil {
		return nil
	}
	return e.Message.Usage
}

// Turn decodes a user or assistant entry into the same message types a live
// session yields. Other entry types return (nil, nil).
func (e *Entry) Turn() (session.Message, error) {
	if !e.IsUser() && !e.IsAssistant() {
		return nil, nil
	}
	frame, err := session.Decode(e.Raw)
	if err != nil {
		return nil, err
	}
	msg, ok := frame.(session.Message)
	if !ok {
		return nil, fmt.Errorf("transcript entry %s decoded to %T", e.UUID, frame)
	}
	return msg, nil
}

// Blocks returns the content blocks of a user or assistant entry. Entries
// with string content or that fail to decode yield nil.
func (e *Entry) Blocks() []session.ContentBlock {
	msg, err := e.Turn()
	if err != nil || msg == nil {
		return nil
	}
	switch m := msg.(type) {
	case *session.AssistantMessage:
		return m.Content
	case *session.UserMessage:
		return m.Content
	}
	return nil
}

// Text concatenates the text blocks of the entry. A user entry with plain
// string content returns that string.
func (e *Entry) Text() string {
	msg, err := e.Turn()
	if err != nil || msg == nil {
		return ""
	}
	if u, ok := msg.(*session.UserMessage); ok && u.Text != nil {
		return *u.Text
	}
	var sb strings.Builder
	for _, b := range e.Blocks() {
		if t, ok := b.(*session.TextBlock); ok {
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}

// ToolCalls returns the tool_use blocks of an assistant entry.
func (e *Entry) ToolCalls() []*session.ToolUseBlock {
	var calls []*session.ToolUseBlock
	for _, b := range e.Blocks() {
		if tu, ok := b.(*session.ToolUseBlock); ok {
			calls = append(calls, tu)
		}
	}
	return calls
}

// Todos returns the TodoWrite snapshot recorded with the entry: the new
// list when present, otherwise the old one.
func (e *Entry) Todos() []TodoItem {
	if e == nil || len(e.ToolUseResult) == 0 || e.ToolUseResult[0] != '{' {
		return nil
	}
	var r struct {
		OldTodos []TodoItem `json:"oldTodos"`
		NewTodos []TodoItem `json:"newTodos"`
	}
	if err := json.Unmarshal(e.ToolUseResult, &r); err != nil {
		return nil
	}
	if len(r.NewTodos) > 0 {
		return r.NewTodos
	}
	return r.OldTodos
}
