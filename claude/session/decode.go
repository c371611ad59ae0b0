package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/randalmurphal/claudeagent/claudecontract"
)

var (
	errNotObject   = errors.New("line is not a JSON object")
	errMissingType = errors.New("missing type field")
)

// Decode parses one line of CLI output into a Frame. Failures are returned
// as *ParseError carrying the offending line.
func Decode(line []byte) (Frame, error) {
	line = bytes.TrimSpace(line)
	frame, err := decodeFrame(line)
	if err != nil {
		return nil, &ParseError{Line: append([]byte(nil), line...), Err: err}
	}
	return frame, nil
}

func decodeFrame(line []byte) (Frame, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(line, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errNotObject
	}

	rawType, ok := obj["type"]
	if !ok {
		return nil, errMissingType
	}
	var typ string
	if err := json.Unmarshal(rawType, &typ); err != nil {
		return nil, fmt.Errorf("type field: %w", err)
	}

	switch typ {
	case claudecontract.EventTypeControlRequest:
		return decodeControlRequest(line)
	case claudecontract.EventTypeControlResponse:
		return decodeControlResponse(line)
	case claudecontract.EventTypeControlCancelRequest:
		return decodeControlCancel(line)
	case claudecontract.EventTypeUser:
		return decodeUser(line)
	case claudecontract.EventTypeAssistant:
		return decodeAssistant(line)
	case claudecontract.EventTypeSystem:
		return decodeSystem(line)
	case claudecontract.EventTypeResult:
		return decodeResult(line)
	case claudecontract.EventTypeStreamEvent:
		return decodeStreamEvent(line)
	case "":
		return nil, errMissingType
	default:
		return nil, fmt.Errorf("unknown message type %q", typ)
	}
}

// unmarshalExact decodes keeping numbers in free-form values as json.Number
// so nothing is rounded through float64.
func unmarshalExact(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// wireTurn covers both the CLI's nested form ({"message":{"content":...}})
// and the flat form ({"content":...}) of user and assistant messages.
type wireTurn struct {
	Message *struct {
		ID         string          `json:"id"`
		Model      *string         `json:"model"`
		Content    json.RawMessage `json:"content"`
		StopReason *string         `json:"stop_reason"`
		Usage      map[string]any  `json:"usage"`
	} `json:"message"`

	ID         string          `json:"id"`
	Model      *string         `json:"model"`
	Content    json.RawMessage `json:"content"`
	StopReason *string         `json:"stop_reason"`
	Usage      map[string]any  `json:"usage"`

	ParentToolUseID *string `json:"parent_tool_use_id"`
	SessionID       string  `json:"session_id"`
	UUID            string  `json:"uuid"`
	Error           *string `json:"error"`
	ToolUseResult   any     `json:"tool_use_result"`
}

// flatten lifts the nested message fields to the top level.
func (w *wireTurn) flatten() {
	if w.Message == nil {
		return
	}
	w.ID = w.Message.ID
	w.Model = w.Message.Model
	w.Content = w.Message.Content
	w.StopReason = w.Message.StopReason
	w.Usage = w.Message.Usage
}

func decodeUser(line []byte) (*UserMessage, error) {
	var w wireTurn
	if err := unmarshalExact(line, &w); err != nil {
		return nil, err
	}
	w.flatten()
	if isAbsent(w.Content) {
		return nil, errors.New("user message missing content")
	}

	m := &UserMessage{
		UUID:            w.UUID,
		SessionID:       w.SessionID,
		ParentToolUseID: w.ParentToolUseID,
		ToolUseResult:   w.ToolUseResult,
	}
	if w.Content[0] == '"' {
		var text string
		if err := json.Unmarshal(w.Content, &text); err != nil {
			return nil, fmt.Errorf("user content: %w", err)
		}
		m.Text = &text
		return m, nil
	}
	blocks, err := decodeBlocks(w.Content)
	if err != nil {
		return nil, err
	}
	m.Content = blocks
	return m, nil
}

func decodeAssistant(line []byte) (*AssistantMessage, error) {
	var w wireTurn
	if err := unmarshalExact(line, &w); err != nil {
		return nil, err
	}
	w.flatten()
	if isAbsent(w.Content) {
		return nil, errors.New("assistant message missing content")
	}
	blocks, err := decodeBlocks(w.Content)
	if err != nil {
		return nil, err
	}
	return &AssistantMessage{
		ID:              w.ID,
		Model:           w.Model,
		Content:         blocks,
		StopReason:      w.StopReason,
		Usage:           w.Usage,
		ParentToolUseID: w.ParentToolUseID,
		SessionID:       w.SessionID,
		UUID:            w.UUID,
		Error:           w.Error,
	}, nil
}

func decodeBlocks(raw json.RawMessage) ([]ContentBlock, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("content: %w", err)
	}
	blocks := make([]ContentBlock, 0, len(items))
	for i, item := range items {
		block, err := decodeBlock(item)
		if err != nil {
			return nil, fmt.Errorf("content[%d]: %w", i, err)
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

func decodeBlock(raw json.RawMessage) (ContentBlock, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}

	var block ContentBlock
	switch head.Type {
	case claudecontract.ContentTypeText:
		block = &TextBlock{}
	case claudecontract.ContentTypeThinking:
		block = &ThinkingBlock{}
	case claudecontract.ContentTypeToolUse:
		block = &ToolUseBlock{}
	case claudecontract.ContentTypeToolResult:
		block = &ToolResultBlock{}
	default:
		var data map[string]any
		if err := unmarshalExact(raw, &data); err != nil {
			return nil, err
		}
		return &RawBlock{Kind: head.Type, Data: data}, nil
	}
	if err := unmarshalExact(raw, block); err != nil {
		return nil, err
	}
	return block, nil
}

func decodeSystem(line []byte) (*SystemMessage, error) {
	var data map[string]any
	if err := unmarshalExact(line, &data); err != nil {
		return nil, err
	}
	subtype, _ := data["subtype"].(string)
	if subtype == "" {
		return nil, errors.New("system message missing subtype")
	}
	return &SystemMessage{Subtype: subtype, Data: data}, nil
}

// resultFields are the keys ResultMessage models; anything else lands in
// Extra.
var resultFields = []string{
	"type", "subtype", "duration_ms", "duration_api_ms", "is_error", "num_turns",
	"session_id", "uuid", "total_cost_usd", "usage", "modelUsage",
	"permission_denials", "result", "structured_output",
}

func decodeResult(line []byte) (*ResultMessage, error) {
	var m ResultMessage
	if err := unmarshalExact(line, &m); err != nil {
		return nil, err
	}
	if m.Subtype == "" {
		return nil, errors.New("result message missing subtype")
	}
	var all map[string]any
	if err := unmarshalExact(line, &all); err != nil {
		return nil, err
	}
	for _, k := range resultFields {
		delete(all, k)
	}
	if len(all) > 0 {
		m.Extra = all
	}
	return &m, nil
}

func decodeStreamEvent(line []byte) (*StreamEvent, error) {
	var w struct {
		UUID            string         `json:"uuid"`
		SessionID       string         `json:"session_id"`
		Event           map[string]any `json:"event"`
		ParentToolUseID *string        `json:"parent_tool_use_id"`
	}
	if err := unmarshalExact(line, &w); err != nil {
		return nil, err
	}
	if w.Event == nil {
		return nil, errors.New("stream_event missing event")
	}
	return &StreamEvent{
		UUID:            w.UUID,
		SessionID:       w.SessionID,
		Event:           w.Event,
		ParentToolUseID: w.ParentToolUseID,
	}, nil
}
