package session

import (
	"context"

	"github.com/randalmurphal/claudeagent/claudecontract"
)

// CanUseToolFunc decides whether the CLI may run a tool. It is called for
// every can_use_tool control request and must return *PermissionAllow or
// *PermissionDeny.
type CanUseToolFunc func(ctx context.Context, toolName string, input map[string]any, permCtx ToolPermissionContext) (PermissionResult, error)

// ToolPermissionContext carries what the CLI knows about a permission check.
type ToolPermissionContext struct {
	Suggestions []PermissionUpdate
	BlockedPath *string
	ToolUseID   string
}

// PermissionResult is *PermissionAllow or *PermissionDeny.
type PermissionResult interface {
	isPermissionResult()
}

// PermissionAllow lets the tool run. A nil UpdatedInput keeps the original input.
type PermissionAllow struct {
	UpdatedInput       map[string]any
	UpdatedPermissions []PermissionUpdate
}

// PermissionDeny blocks the tool. Interrupt also stops the current turn.
type PermissionDeny struct {
	Message   string
	Interrupt bool
}

func (*PermissionAllow) isPermissionResult() {}
func (*PermissionDeny) isPermissionResult()  {}

// PermissionRuleValue is one tool permission rule.
type PermissionRuleValue struct {
	ToolName    string  `json:"toolName"`
	RuleContent *string `json:"ruleContent,omitempty"`
}

// PermissionUpdate is a permission change directive, either suggested by
// the CLI or returned with an allow decision.
type PermissionUpdate struct {
	Type        claudecontract.PermissionUpdateType  `json:"type"`
	Rules       []PermissionRuleValue                `json:"rules,omitempty"`
	Behavior    claudecontract.PermissionBehavior    `json:"behavior,omitempty"`
	Mode        claudecontract.PermissionMode        `json:"mode,omitempty"`
	Directories []string                             `json:"directories,omitempty"`
	Destination claudecontract.PermissionDestination `json:"destination,omitempty"`
}

// permissionResponse is the can_use_tool response body.
type permissionResponse struct {
	Behavior           claudecontract.PermissionBehavior `json:"behavior"`
	UpdatedInput       map[string]any                    `json:"updatedInput,omitempty"`
	UpdatedPermissions []PermissionUpdate                `json:"updatedPermissions,omitempty"`
	Message            string                            `json:"message,omitempty"`
	Interrupt          bool                              `json:"interrupt,omitempty"`
}
