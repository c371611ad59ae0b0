package session

import (
	"context"
	"time"

	"github.com/randalmurphal/claudeagent/claudecontract"
)

// HookCallback handles one hook invocation. toolUseID is empty for events
// not tied to a tool call.
type HookCallback func(ctx context.Context, input HookInput, toolUseID string, hookCtx HookContext) (*HookOutput, error)

// HookMatcher binds callbacks to the tool names matched by Matcher
// (e.g. "Bash", "Write|Edit"; empty matches everything).
type HookMatcher struct {
	Matcher string
	Hooks   []HookCallback
	Timeout time.Duration // Zero uses the CLI default
}

// HookContext identifies which registration a callback was invoked through.
type HookContext struct {
	Event      claudecontract.HookEvent
	Matcher    string
	CallbackID string
}

// HookInput is the payload the CLI sends with a hook_callback request.
// Fields are populated according to HookEventName; Raw holds the complete
// input for fields not modelled here.
type HookInput struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	CWD            string `json:"cwd"`
	PermissionMode string `json:"permission_mode,omitempty"`
	HookEventName  string `json:"hook_event_name"`

	// PreToolUse, PostToolUse, PostToolUseFailure, PermissionRequest
	ToolName  string         `json:"tool_name,omitempty"`
	ToolInput map[string]any `json:"tool_input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`

	// PostToolUse
	ToolResponse any `json:"tool_response,omitempty"`

	// PostToolUseFailure
	Error       string `json:"error,omitempty"`
	IsInterrupt *bool  `json:"is_interrupt,omitempty"`

	// UserPromptSubmit
	Prompt string `json:"prompt,omitempty"`

	// Stop, SubagentStop
	StopHookActive bool `json:"stop_hook_active,omitempty"`

	// SubagentStart, SubagentStop
	AgentID             string `json:"agent_id,omitempty"`
	AgentTranscriptPath string `json:"agent_transcript_path,omitempty"`
	AgentType           string `json:"agent_type,omitempty"`

	// PreCompact
	Trigger            claudecontract.CompactTrigger `json:"trigger,omitempty"`
	CustomInstructions string                        `json:"custom_instructions,omitempty"`

	// Notification
	Message          string `json:"message,omitempty"`
	Title            string `json:"title,omitempty"`
	NotificationType string `json:"notification_type,omitempty"`

	// SessionStart, SessionEnd
	Source string `json:"source,omitempty"`
	Reason string `json:"reason,omitempty"`

	Raw map[string]any `json:"-"`
}

// HookOutput is a hook callback's answer. Nil pointer fields are omitted
// so the CLI applies its defaults.
type HookOutput struct {
	Async        *bool `json:"async,omitempty"`
	AsyncTimeout *int  `json:"asyncTimeout,omitempty"`

	Continue       *bool  `json:"continue,omitempty"`
	SuppressOutput *bool  `json:"suppressOutput,omitempty"`
	StopReason     string `json:"stopReason,omitempty"`

	Decision      string `json:"decision,omitempty"` // "block"
	SystemMessage string `json:"systemMessage,omitempty"`
	Reason        string `json:"reason,omitempty"`

	HookSpecificOutput *HookSpecificOutput `json:"hookSpecificOutput,omitempty"`
}

// HookSpecificOutput carries event-specific hook results.
type HookSpecificOutput struct {
	HookEventName claudecontract.HookEvent `json:"hookEventName"`

	// PreToolUse
	PermissionDecision       claudecontract.PermissionBehavior `json:"permissionDecision,omitempty"`
	PermissionDecisionReason string                            `json:"permissionDecisionReason,omitempty"`
	UpdatedInput             map[string]any                    `json:"updatedInput,omitempty"`

	// PostToolUse
	UpdatedMCPToolOutput any `json:"updatedMCPToolOutput,omitempty"`

	// UserPromptSubmit, SessionStart, PostToolUse
	AdditionalContext string `json:"additionalContext,omitempty"`

	// PermissionRequest
	Decision map[string]any `json:"decision,omitempty"`
}

// Bool returns a pointer to b, for HookOutput fields.
func Bool(b bool) *bool { return &b }

// hookMatcherConfig is one matcher entry of the initialize request.
type hookMatcherConfig struct {
	Matcher         *string  `json:"matcher"`
	HookCallbackIDs []string `json:"hookCallbackIds"`
	Timeout         *float64 `json:"timeout,omitempty"`
}
