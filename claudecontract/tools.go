package claudecontract

import (
	"slices"
	"strings"
)

// Built-in tool names as accepted by --tools, --allowedTools and --disallowedTools.
const (
	ToolRead         = "Read"
	ToolWrite        = "Write"
	ToolEdit         = "Edit"
	ToolGlob         = "Glob"
	ToolGrep         = "Grep"
	ToolNotebookEdit = "NotebookEdit"
	ToolBash         = "Bash"
	ToolTask         = "Task"
	ToolTaskOutput   = "TaskOutput"
	ToolTaskStop     = "TaskStop"
	ToolKillBash     = "KillBash"
	ToolTodoWrite    = "TodoWrite"
	ToolWebFetch     = "WebFetch"
	ToolWebSearch    = "WebSearch"
	ToolSkill        = "Skill"
	ToolLSP          = "LSP"

	ToolAskUserQuestion = "AskUserQuestion"
	ToolEnterPlanMode   = "EnterPlanMode"
	ToolExitPlanMode    = "ExitPlanMode"

	ToolListMcpResources = "ListMcpResources"
	ToolReadMcpResource  = "ReadMcpResource"
)

// ToolsDefault selects the CLI's default built-in tool set for --tools.
const ToolsDefault = "default"

// MCPToolPrefix starts every tool name served by an MCP server.
const MCPToolPrefix = "mcp__"

// BuiltinTools returns the built-in tool names.
func BuiltinTools() []string {
	return []string{
		ToolRead, ToolWrite, ToolEdit, ToolGlob, ToolGrep, ToolNotebookEdit,
		ToolBash, ToolTask, ToolTaskOutput, ToolTaskStop, ToolKillBash,
		ToolTodoWrite, ToolWebFetch, ToolWebSearch, ToolSkill, ToolLSP,
		ToolAskUserQuestion, ToolEnterPlanMode, ToolExitPlanMode,
		ToolListMcpResources, ToolReadMcpResource,
	}
}

// IsBuiltinTool reports whether name is a built-in tool.
func IsBuiltinTool(name string) bool {
	return slices.Contains(BuiltinTools(), name)
}

// MCPToolName returns the name the model sees for tool on server.
func MCPToolName(server, tool string) string {
	return MCPToolPrefix + server + "__" + tool
}

// SplitMCPToolName splits an mcp__server__tool name. ok is false for
// anything else.
func SplitMCPToolName(name string) (server, tool string, ok bool) {
	rest, found := strings.CutPrefix(name, MCPToolPrefix)
	if !found {
		return "", "", false
	}
	server, tool, ok = strings.Cut(rest, "__")
	if !ok || server == "" || tool == "" {
		return "", "", false
	}
	return server, tool, true
}

// ToolRuleName returns the tool a permission rule applies to, so
// "Bash(git diff:*)" yields "Bash".
func ToolRuleName(rule string) string {
	if i := strings.IndexByte(rule, '('); i > 0 && strings.HasSuffix(rule, ")") {
		return rule[:i]
	}
	return rule
}
