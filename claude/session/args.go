package session

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/randalmurphal/claudeagent/claudecontract"
)

// commandLengthLimit is the command line length above which the --agents
// JSON is moved to a temp file and passed as @path.
const commandLengthLimit = 100000

// CommandLine returns the CLI arguments, without the executable, that a
// session built from opts would start with. The --agents value is never
// spilled to a file here.
func CommandLine(opts ...SessionOption) ([]string, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return buildArgs(&cfg)
}

// buildArgs constructs CLI arguments for stream-json mode.
func buildArgs(cfg *sessionConfig) ([]string, error) {
	args := claudecontract.StreamingSessionFlags()

	// Session management
	if cfg.continueConversation {
		args = append(args, claudecontract.FlagContinue)
	}
	if cfg.sessionID != "" {
		if cfg.resume {
			args = append(args, claudecontract.FlagResume, cfg.sessionID)
		} else {
			args = append(args, claudecontract.FlagSessionID, cfg.sessionID)
		}
	}
	if cfg.forkSession {
		args = append(args, claudecontract.FlagForkSession)
	}

	// Model
	if cfg.model != "" {
		args = append(args, claudecontract.FlagModel, cfg.model)
	}
	if cfg.fallbackModel != "" {
		args = append(args, claudecontract.FlagFallbackModel, cfg.fallbackModel)
	}
	if cfg.maxThinkingTokens > 0 {
		args = append(args, claudecontract.FlagMaxThinkingTokens, strconv.Itoa(cfg.maxThinkingTokens))
	}

	// System prompt
	if cfg.systemPrompt != "" {
		args = append(args, claudecontract.FlagSystemPrompt, cfg.systemPrompt)
	}
	if cfg.appendSystemPrompt != "" {
		args = append(args, claudecontract.FlagAppendSystemPrompt, cfg.appendSystemPrompt)
	}

	// Tools
	for _, tool := range cfg.allowedTools {
		args = append(args, claudecontract.FlagAllowedTools, tool)
	}
	for _, tool := range cfg.disallowedTools {
		args = append(args, claudecontract.FlagDisallowedTools, tool)
	}
	if len(cfg.tools) > 0 {
		args = append(args, claudecontract.FlagTools, strings.Join(cfg.tools, ","))
	}

	// Permissions
	if cfg.dangerouslySkipPermissions {
		args = append(args, claudecontract.FlagDangerouslySkipPermissions)
	}
	if cfg.permissionMode != "" {
		args = append(args, claudecontract.FlagPermissionMode, cfg.permissionMode)
	}
	switch {
	case cfg.canUseTool != nil:
		args = append(args, claudecontract.FlagPermissionPromptTool, claudecontract.PermissionPromptToolStdio)
	case cfg.permissionPromptTool != "":
		args = append(args, claudecontract.FlagPermissionPromptTool, cfg.permissionPromptTool)
	}
	if len(cfg.settingSources) > 0 {
		args = append(args, claudecontract.FlagSettingSources, strings.Join(cfg.settingSources, ","))
	}
	if cfg.settings != "" {
		args = append(args, claudecontract.FlagSettings, cfg.settings)
	}

	// Directories
	for _, dir := range cfg.addDirs {
		args = append(args, claudecontract.FlagAddDir, dir)
	}
	for _, dir := range cfg.pluginDirs {
		args = append(args, claudecontract.FlagPluginDir, dir)
	}

	// MCP
	if cfg.mcpConfigPath != "" {
		args = append(args, claudecontract.FlagMCPConfig, cfg.mcpConfigPath)
	}
	mcpJSON, err := mcpConfigJSON(cfg)
	if err != nil {
		return nil, err
	}
	if mcpJSON != "" {
		args = append(args, claudecontract.FlagMCPConfig, mcpJSON)
	}
	if cfg.strictMCPConfig {
		args = append(args, claudecontract.FlagStrictMCPConfig)
	}

	// Limits
	if cfg.maxBudgetUSD > 0 {
		args = append(args, claudecontract.FlagMaxBudgetUSD, fmt.Sprintf("%.6f", cfg.maxBudgetUSD))
	}
	if cfg.maxTurns > 0 {
		args = append(args, claudecontract.FlagMaxTurns, strconv.Itoa(cfg.maxTurns))
	}

	if cfg.includePartialMessages {
		args = append(args, claudecontract.FlagIncludePartialMessages)
	}

	if len(cfg.agents) > 0 {
		data, err := json.Marshal(cfg.agents)
		if err != nil {
			return nil, fmt.Errorf("marshal agents: %w", err)
		}
		args = append(args, claudecontract.FlagAgents, string(data))
	}

	// Extra args last, in a stable order
	keys := make([]string, 0, len(cfg.extraArgs))
	for k := range cfg.extraArgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--"+strings.TrimLeft(k, "-"))
		if v := cfg.extraArgs[k]; v != nil {
			args = append(args, *v)
		}
	}

	return args, nil
}

// mcpConfigJSON renders SDK and external servers as one --mcp-config value.
// SDK servers are announced by name only; their traffic flows through
// mcp_message control requests.
func mcpConfigJSON(cfg *sessionConfig) (string, error) {
	if len(cfg.mcpServers) == 0 && len(cfg.externalMCP) == 0 {
		return "", nil
	}
	servers := make(map[string]any, len(cfg.mcpServers)+len(cfg.externalMCP))
	for name, ext := range cfg.externalMCP {
		servers[name] = ext
	}
	for _, srv := range cfg.mcpServers {
		servers[srv.Name()] = map[string]string{
			"type": claudecontract.TransportSDK,
			"name": srv.Name(),
		}
	}
	data, err := json.Marshal(map[string]any{"mcpServers": servers})
	if err != nil {
		return "", fmt.Errorf("marshal MCP config: %w", err)
	}
	return string(data), nil
}

// spillAgents moves an oversized --agents value into a temp file. It
// returns the rewritten args and the temp file to remove on close ("" if
// none was needed).
func spillAgents(args []string) ([]string, string, error) {
	if commandLength(args) <= commandLengthLimit {
		return args, "", nil
	}
	idx := slices.Index(args, claudecontract.FlagAgents)
	if idx < 0 || idx+1 >= len(args) {
		return args, "", nil
	}

	f, err := os.CreateTemp("", "claude-agents-*.json")
	if err != nil {
		return nil, "", fmt.Errorf("create agents file: %w", err)
	}
	if _, err := f.WriteString(args[idx+1]); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, "", fmt.Errorf("write agents file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return nil, "", fmt.Errorf("close agents file: %w", err)
	}

	out := slices.Clone(args)
	out[idx+1] = "@" + f.Name()
	return out, f.Name(), nil
}

func commandLength(args []string) int {
	n := 0
	for _, a := range args {
		n += len(a) + 1
	}
	return n
}
