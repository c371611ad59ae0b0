package session

import (
	"encoding/json"

	"github.com/randalmurphal/claudeagent/claudecontract"
)

// Messages and blocks encode back to the CLI's wire form, so that
// Decode(json.Marshal(msg)) yields an equal value.

func (b *TextBlock) MarshalJSON() ([]byte, error) {
	type alias TextBlock
	return json.Marshal(struct {
		Type string `json:"type"`
		*alias
	}{claudecontract.ContentTypeText, (*alias)(b)})
}

func (b *ThinkingBlock) MarshalJSON() ([]byte, error) {
	type alias ThinkingBlock
	return json.Marshal(struct {
		Type string `json:"type"`
		*alias
	}{claudecontract.ContentTypeThinking, (*alias)(b)})
}

func (b *ToolUseBlock) MarshalJSON() ([]byte, error) {
	type alias ToolUseBlock
	return json.Marshal(struct {
		Type string `json:"type"`
		*alias
	}{claudecontract.ContentTypeToolUse, (*alias)(b)})
}

func (b *ToolResultBlock) MarshalJSON() ([]byte, error) {
	type alias ToolResultBlock
	return json.Marshal(struct {
		Type string `json:"type"`
		*alias
	}{claudecontract.ContentTypeToolResult, (*alias)(b)})
}

func (b *RawBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Data)
}

// contentOrEmpty keeps an empty array on the wire instead of null.
func contentOrEmpty(blocks []ContentBlock) []ContentBlock {
	if blocks == nil {
		return []ContentBlock{}
	}
	return blocks
}

func (m *UserMessage) MarshalJSON() ([]byte, error) {
	inner := struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	}{Role: claudecontract.RoleUser}
	if m.Text != nil {
		inner.Content = *m.Text
	} else {
		inner.Content = contentOrEmpty(m.Content)
	}
	return json.Marshal(struct {
		Type            string  `json:"type"`
		Message         any     `json:"message"`
		ParentToolUseID *string `json:"parent_tool_use_id"`
		SessionID       string  `json:"session_id,omitempty"`
		UUID            string  `json:"uuid,omitempty"`
		ToolUseResult   any     `json:"tool_use_result,omitempty"`
	}{
		Type:            claudecontract.EventTypeUser,
		Message:         inner,
		ParentToolUseID: m.ParentToolUseID,
		SessionID:       m.SessionID,
		UUID:            m.UUID,
		ToolUseResult:   m.ToolUseResult,
	})
}

func (m *AssistantMessage) MarshalJSON() ([]byte, error) {
	inner := struct {
		ID         string         `json:"id,omitempty"`
		Role       string         `json:"role"`
		Model      *string        `json:"model,omitempty"`
		Content    []ContentBlock `json:"content"`
		StopReason *string        `json:"stop_reason,omitempty"`
		Usage      map[string]any `json:"usage"`
	}{
		ID:         m.ID,
		Role:       claudecontract.RoleAssistant,
		Model:      m.Model,
		Content:    contentOrEmpty(m.Content),
		StopReason: m.StopReason,
		Usage:      m.Usage,
	}
	return json.Marshal(struct {
		Type            string  `json:"type"`
		Message         any     `json:"message"`
		ParentToolUseID *string `json:"parent_tool_use_id"`
		SessionID       string  `json:"session_id,omitempty"`
		UUID            string  `json:"uuid,omitempty"`
		Error           *string `json:"error,omitempty"`
	}{
		Type:            claudecontract.EventTypeAssistant,
		Message:         inner,
		ParentToolUseID: m.ParentToolUseID,
		SessionID:       m.SessionID,
		UUID:            m.UUID,
		Error:           m.Error,
	})
}

func (m *SystemMessage) MarshalJSON() ([]byte, error) {
	data := make(map[string]any, len(m.Data)+2)
	for k, v := range m.Data {
		data[k] = v
	}
	data["type"] = claudecontract.EventTypeSystem
	data["subtype"] = m.Subtype
	return json.Marshal(data)
}

// MarshalJSON omits nil collections, keeping empty ones, and writes Extra
// back alongside the modelled fields.
func (m *ResultMessage) MarshalJSON() ([]byte, error) {
	type alias ResultMessage
	data, err := json.Marshal(struct {
		Type string `json:"type"`
		*alias
	}{claudecontract.EventTypeResult, (*alias)(m)})
	if err != nil {
		return nil, err
	}

	var merged map[string]any
	if err := unmarshalExact(data, &merged); err != nil {
		return nil, err
	}
	if m.Usage == nil {
		delete(merged, "usage")
	}
	if m.ModelUsage == nil {
		delete(merged, "modelUsage")
	}
	if m.PermissionDenials == nil {
		delete(merged, "permission_denials")
	}
	for k, v := range m.Extra {
		if _, modelled := merged[k]; !modelled {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

func (m *StreamEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type            string         `json:"type"`
		UUID            string         `json:"uuid,omitempty"`
		SessionID       string         `json:"session_id,omitempty"`
		Event           map[string]any `json:"event"`
		ParentToolUseID *string        `json:"parent_tool_use_id"`
	}{
		Type:            claudecontract.EventTypeStreamEvent,
		UUID:            m.UUID,
		SessionID:       m.SessionID,
		Event:           m.Event,
		ParentToolUseID: m.ParentToolUseID,
	})
}
