package claudecontract

// Message types carried on the CLI's stream-json stdout and stdin.
// Every line is a JSON object whose "type" field is one of these values.
const (
	// EventTypeSystem is used for init, hook_response, and compact_boundary events.
	EventTypeSystem = "system"

	// EventTypeAssistant is for assistant messages (model responses).
	EventTypeAssistant = "assistant"

	// EventTypeUser is for user messages (prompts and tool results).
	EventTypeUser = "user"

	// EventTypeResult is the terminal message of one query, with stats.
	EventTypeResult = "result"

	// EventTypeStreamEvent is for partial message streaming (--include-partial-messages).
	EventTypeStreamEvent = "stream_event"

	// EventTypeControlRequest is a control request in either direction.
	EventTypeControlRequest = "control_request"

	// EventTypeControlResponse answers a control request.
	EventTypeControlResponse = "control_response"

	// EventTypeControlCancelRequest asks the receiver to abandon an in-flight control request.
	EventTypeControlCancelRequest = "control_cancel_request"
)

// System event subtypes.
const (
	// SubtypeInit is the initialization event at session start.
	SubtypeInit = "init"

	// SubtypeHookResponse is for hook execution results.
	SubtypeHookResponse = "hook_response"

	// SubtypeCompactBoundary indicates a conversation compaction boundary.
	SubtypeCompactBoundary = "compact_boundary"
)

// Result subtypes indicating how a query ended.
const (
	// ResultSubtypeSuccess indicates successful completion.
	ResultSubtypeSuccess = "success"

	// ResultSubtypeErrorMaxTurns indicates max turns limit reached.
	ResultSubtypeErrorMaxTurns = "error_max_turns"

	// ResultSubtypeErrorDuringExecution indicates an error occurred during execution.
	ResultSubtypeErrorDuringExecution = "error_during_execution"

	// ResultSubtypeErrorMaxBudgetUSD indicates budget limit reached.
	ResultSubtypeErrorMaxBudgetUSD = "error_max_budget_usd"

	// ResultSubtypeErrorMaxStructuredOutputRetries indicates structured output retries exceeded.
	ResultSubtypeErrorMaxStructuredOutputRetries = "error_max_structured_output_retries"
)

// Content block types within messages.
const (
	// ContentTypeText is a text content block.
	ContentTypeText = "text"

	// ContentTypeToolUse is a tool invocation request.
	ContentTypeToolUse = "tool_use"

	// ContentTypeToolResult is the result of a tool invocation.
	ContentTypeToolResult = "tool_result"

	// ContentTypeThinking is a thinking block (for models with thinking capability).
	ContentTypeThinking = "thinking"
)

// Message roles.
const (
	// RoleUser is the user role in messages.
	RoleUser = "user"

	// RoleAssistant is the assistant role in messages.
	RoleAssistant = "assistant"
)

// MCP server status values reported in the init event.
const (
	// MCPStatusConnected indicates the MCP server is connected.
	MCPStatusConnected = "connected"

	// MCPStatusFailed indicates the MCP server connection failed.
	MCPStatusFailed = "failed"

	// MCPStatusNeedsAuth indicates the MCP server needs authentication.
	MCPStatusNeedsAuth = "needs-auth"

	// MCPStatusPending indicates the MCP server connection is pending.
	MCPStatusPending = "pending"
)

// Stop reasons for assistant messages.
const (
	// StopReasonEndTurn indicates the assistant ended its turn naturally.
	StopReasonEndTurn = "end_turn"

	// StopReasonMaxTokens indicates the max tokens limit was reached.
	StopReasonMaxTokens = "max_tokens"

	// StopReasonStopSequence indicates a stop sequence was encountered.
	StopReasonStopSequence = "stop_sequence"

	// StopReasonToolUse indicates the assistant is waiting for tool results.
	StopReasonToolUse = "tool_use"
)

// IsDomainMessageType reports whether t is one of the one-way conversation
// message types (as opposed to a control envelope).
func IsDomainMessageType(t string) bool {
	switch t {
	case EventTypeSystem, EventTypeAssistant, EventTypeUser, EventTypeResult, EventTypeStreamEvent:
		return true
	default:
		return false
	}
}
