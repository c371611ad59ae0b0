package claudecontract

// CLI flag names used to start a stream-json session.
// These are the exact flag names as used by the claude CLI binary.
//
// Source: https://code.claude.com/docs/en/cli-reference
const (
	// Stream-json transport flags
	FlagPrint        = "--print"         // -p, Run in non-interactive mode
	FlagOutputFormat = "--output-format" // Always stream-json for sessions
	FlagInputFormat  = "--input-format"  // Input format for streaming
	FlagVerbose      = "--verbose"       // Required by stream-json output

	// Model flags
	FlagModel         = "--model"          // Claude model to use
	FlagFallbackModel = "--fallback-model" // Fallback model if primary fails

	// Session flags
	FlagSessionID   = "--session-id"   // UUID for session
	FlagContinue    = "--continue"     // -c, Continue most recent conversation
	FlagResume      = "--resume"       // -r, Resume specific session by ID
	FlagForkSession = "--fork-session" // Fork session instead of reusing

	// Agent flags
	FlagAgents = "--agents" // Define custom agents (JSON or @file)

	// Tool flags (note: CLI accepts both camelCase and kebab-case)
	FlagAllowedTools    = "--allowedTools"    // Tools to allow
	FlagDisallowedTools = "--disallowedTools" // Tools to disallow
	FlagTools           = "--tools"           // Restrict available tools

	// Prompt flags
	FlagSystemPrompt       = "--system-prompt"        // Set system prompt
	FlagAppendSystemPrompt = "--append-system-prompt" // Append to system prompt

	// Permission flags
	FlagDangerouslySkipPermissions = "--dangerously-skip-permissions" // Skip all permission prompts
	FlagPermissionMode             = "--permission-mode"              // Permission mode
	FlagPermissionPromptTool       = "--permission-prompt-tool"       // MCP tool (or "stdio") for permission prompts

	// Settings flags
	FlagSettings       = "--settings"        // Load settings file/JSON
	FlagSettingSources = "--setting-sources" // Comma-separated: user, project, local
	FlagPluginDir      = "--plugin-dir"      // Plugin directories (repeatable)

	// MCP flags
	FlagMCPConfig       = "--mcp-config"        // MCP configuration (file path or JSON)
	FlagStrictMCPConfig = "--strict-mcp-config" // Only use the given MCP configuration

	// Directory flags
	FlagAddDir = "--add-dir" // Additional directories Claude can access (repeatable)

	// Budget and limits flags
	FlagMaxBudgetUSD      = "--max-budget-usd"      // Maximum budget in USD
	FlagMaxTurns          = "--max-turns"           // Maximum conversation turns
	FlagMaxThinkingTokens = "--max-thinking-tokens" // Thinking token budget

	// Streaming flags
	FlagIncludePartialMessages = "--include-partial-messages" // Emit stream_event partials

	// Version flag
	FlagVersion = "--version" // -v, Show version
)

// PermissionPromptToolStdio routes permission prompts through the control
// protocol (can_use_tool requests) instead of an MCP tool.
const PermissionPromptToolStdio = "stdio"

// StreamingSessionFlags returns the fixed flags that select line-delimited
// JSON input and output. Every SDK session starts with these.
func StreamingSessionFlags() []string {
	return []string{
		FlagOutputFormat, FormatStreamJSON,
		FlagVerbose,
		FlagInputFormat, FormatStreamJSON,
	}
}
