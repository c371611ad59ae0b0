package claude

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/claudeagent/claude/session"
	"github.com/randalmurphal/claudeagent/claudecontract"
)

// ErrInvalidConfig indicates a Config failed validation.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds the declarative configuration of a Claude session.
// Zero values leave the CLI's own defaults in place.
type Config struct {
	// --- Model Selection ---

	// Model is the primary model. Empty uses the CLI default.
	Model string `json:"model,omitempty" yaml:"model,omitempty" toml:"model,omitempty"`

	// FallbackModel is used when the primary model is overloaded.
	FallbackModel string `json:"fallback_model,omitempty" yaml:"fallback_model,omitempty" toml:"fallback_model,omitempty"`

	// MaxThinkingTokens caps extended thinking. 0 leaves it unset.
	MaxThinkingTokens int `json:"max_thinking_tokens,omitempty" yaml:"max_thinking_tokens,omitempty" toml:"max_thinking_tokens,omitempty"`

	// --- Prompts ---

	// SystemPrompt replaces the default system prompt.
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty" toml:"system_prompt,omitempty"`

	// AppendSystemPrompt is appended to the default system prompt.
	AppendSystemPrompt string `json:"append_system_prompt,omitempty" yaml:"append_system_prompt,omitempty" toml:"append_system_prompt,omitempty"`

	// --- Execution Limits ---

	// MaxTurns limits agentic turns per query. 0 means no limit.
	MaxTurns int `json:"max_turns,omitempty" yaml:"max_turns,omitempty" toml:"max_turns,omitempty"`

	// MaxBudgetUSD limits spending. 0 means no limit.
	MaxBudgetUSD float64 `json:"max_budget_usd,omitempty" yaml:"max_budget_usd,omitempty" toml:"max_budget_usd,omitempty"`

	// Timeout bounds one Client.Query. 0 means no deadline beyond the
	// caller's context. Default: 5 minutes.
	// YAML and TOML accept duration strings ("90s"); JSON takes nanoseconds.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" toml:"timeout,omitempty"`

	// --- Working Directory ---

	// WorkDir is the CLI working directory. Default: current directory.
	WorkDir string `json:"work_dir,omitempty" yaml:"work_dir,omitempty" toml:"work_dir,omitempty"`

	// AddDirs adds directories to Claude's file access scope.
	AddDirs []string `json:"add_dirs,omitempty" yaml:"add_dirs,omitempty" toml:"add_dirs,omitempty"`

	// --- Tool Control ---

	// AllowedTools are tools usable without a permission prompt.
	AllowedTools []string `json:"allowed_tools,omitempty" yaml:"allowed_tools,omitempty" toml:"allowed_tools,omitempty"`

	// DisallowedTools are removed from the model's context.
	DisallowedTools []string `json:"disallowed_tools,omitempty" yaml:"disallowed_tools,omitempty" toml:"disallowed_tools,omitempty"`

	// Tools restricts the built-in tool set.
	Tools []string `json:"tools,omitempty" yaml:"tools,omitempty" toml:"tools,omitempty"`

	// --- Permissions ---

	// DangerouslySkipPermissions bypasses every permission check.
	// Use only in sandboxed environments.
	DangerouslySkipPermissions bool `json:"dangerously_skip_permissions,omitempty" yaml:"dangerously_skip_permissions,omitempty" toml:"dangerously_skip_permissions,omitempty"`

	// PermissionMode is one of default, acceptEdits, bypassPermissions, plan.
	PermissionMode string `json:"permission_mode,omitempty" yaml:"permission_mode,omitempty" toml:"permission_mode,omitempty"`

	// PermissionPromptTool names an MCP tool that answers permission prompts.
	PermissionPromptTool string `json:"permission_prompt_tool,omitempty" yaml:"permission_prompt_tool,omitempty" toml:"permission_prompt_tool,omitempty"`

	// SettingSources selects which settings files the CLI loads
	// (user, project, local).
	SettingSources []string `json:"setting_sources,omitempty" yaml:"setting_sources,omitempty" toml:"setting_sources,omitempty"`

	// Settings is a settings file path or inline JSON.
	Settings string `json:"settings,omitempty" yaml:"settings,omitempty" toml:"settings,omitempty"`

	// --- Session Management ---

	// SessionID starts a new session with this id.
	SessionID string `json:"session_id,omitempty" yaml:"session_id,omitempty" toml:"session_id,omitempty"`

	// Continue resumes the most recent session in WorkDir.
	Continue bool `json:"continue,omitempty" yaml:"continue,omitempty" toml:"continue,omitempty"`

	// Resume resumes a specific session by id.
	Resume string `json:"resume,omitempty" yaml:"resume,omitempty" toml:"resume,omitempty"`

	// ForkSession branches a resumed or continued session under a new id.
	ForkSession bool `json:"fork_session,omitempty" yaml:"fork_session,omitempty" toml:"fork_session,omitempty"`

	// IncludePartialMessages emits stream events while a turn is generated.
	IncludePartialMessages bool `json:"include_partial_messages,omitempty" yaml:"include_partial_messages,omitempty" toml:"include_partial_messages,omitempty"`

	// --- Agents and Plugins ---

	// Agents defines subagents inline. They override agents of the same
	// name loaded from AgentsDir.
	Agents map[string]AgentConfig `json:"agents,omitempty" yaml:"agents,omitempty" toml:"agents,omitempty"`

	// AgentsDir is a directory of agent .md files with YAML frontmatter.
	AgentsDir string `json:"agents_dir,omitempty" yaml:"agents_dir,omitempty" toml:"agents_dir,omitempty"`

	// PluginDirs are loaded as plugin directories.
	PluginDirs []string `json:"plugin_dirs,omitempty" yaml:"plugin_dirs,omitempty" toml:"plugin_dirs,omitempty"`

	// --- MCP Configuration ---

	// MCPConfigPath is an MCP configuration file passed to --mcp-config.
	MCPConfigPath string `json:"mcp_config_path,omitempty" yaml:"mcp_config_path,omitempty" toml:"mcp_config_path,omitempty"`

	// MCPServers defines external MCP servers inline.
	MCPServers map[string]MCPServerConfig `json:"mcp_servers,omitempty" yaml:"mcp_servers,omitempty" toml:"mcp_servers,omitempty"`

	// StrictMCPConfig ignores MCP servers not configured here.
	StrictMCPConfig bool `json:"strict_mcp_config,omitempty" yaml:"strict_mcp_config,omitempty" toml:"strict_mcp_config,omitempty"`

	// --- Container Environment ---

	// HomeDir overrides HOME for the CLI process.
	HomeDir string `json:"home_dir,omitempty" yaml:"home_dir,omitempty" toml:"home_dir,omitempty"`

	// ConfigDir overrides the .claude config directory.
	ConfigDir string `json:"config_dir,omitempty" yaml:"config_dir,omitempty" toml:"config_dir,omitempty"`

	// Env provides additional environment variables.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`

	// --- Advanced ---

	// ClaudePath is the CLI binary. Empty uses FindCLI.
	ClaudePath string `json:"claude_path,omitempty" yaml:"claude_path,omitempty" toml:"claude_path,omitempty"`

	// SkipVersionCheck disables the minimum CLI version check.
	SkipVersionCheck bool `json:"skip_version_check,omitempty" yaml:"skip_version_check,omitempty" toml:"skip_version_check,omitempty"`

	// ControlTimeout bounds outbound control requests. 0 uses the session default.
	ControlTimeout time.Duration `json:"control_timeout,omitempty" yaml:"control_timeout,omitempty" toml:"control_timeout,omitempty"`

	// CallbackTimeout bounds permission, hook and MCP callbacks. 0 uses
	// the session default.
	CallbackTimeout time.Duration `json:"callback_timeout,omitempty" yaml:"callback_timeout,omitempty" toml:"callback_timeout,omitempty"`
}

// AgentConfig defines a subagent.
type AgentConfig struct {
	Description string   `json:"description" yaml:"description" toml:"description"`
	Prompt      string   `json:"prompt" yaml:"prompt" toml:"prompt"`
	Tools       []string `json:"tools,omitempty" yaml:"tools,omitempty" toml:"tools,omitempty"`
	Model       string   `json:"model,omitempty" yaml:"model,omitempty" toml:"model,omitempty"`
}

// MCPServerConfig defines an external MCP server.
// Supports stdio, http, and sse transport types.
type MCPServerConfig struct {
	// Type is "stdio", "http", or "sse". Empty means stdio.
	Type string `json:"type,omitempty" yaml:"type,omitempty" toml:"type,omitempty"`

	// Command runs the server (stdio).
	Command string `json:"command,omitempty" yaml:"command,omitempty" toml:"command,omitempty"`

	// Args are the command arguments (stdio).
	Args []string `json:"args,omitempty" yaml:"args,omitempty" toml:"args,omitempty"`

	// Env provides environment variables for the server process (stdio).
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`

	// URL is the server endpoint (http, sse).
	URL string `json:"url,omitempty" yaml:"url,omitempty" toml:"url,omitempty"`

	// Headers are sent with every request (http, sse).
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty" toml:"headers,omitempty"`
}

func (s MCPServerConfig) validate(name string) error {
	switch s.Type {
	case "", claudecontract.TransportStdio:
		if s.Command == "" {
			return fmt.Errorf("mcp server %q: stdio transport requires command", name)
		}
	case claudecontract.TransportHTTP, claudecontract.TransportSSE:
		if s.URL == "" {
			return fmt.Errorf("mcp server %q: %s transport requires url", name, s.Type)
		}
	default:
		return fmt.Errorf("mcp server %q: unsupported transport type %q", name, s.Type)
	}
	return nil
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout: 5 * time.Minute,
	}
}

// LoadConfigFile reads a config file over DefaultConfig. The format
// follows the extension: .yaml/.yml, .toml or .json. Unknown keys are
// errors.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("parse yaml config %s: %w", path, err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return cfg, fmt.Errorf("parse toml config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return cfg, fmt.Errorf("parse toml config %s: unknown keys %s", path, strings.Join(keys, ", "))
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("parse json config %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config format %q", ext)
	}
	return cfg, nil
}

// LoadFromEnv populates config fields from environment variables.
// Environment variables use CLAUDE_ prefix and take precedence over existing values.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("CLAUDE_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("CLAUDE_FALLBACK_MODEL"); v != "" {
		c.FallbackModel = v
	}
	if v := os.Getenv("CLAUDE_SYSTEM_PROMPT"); v != "" {
		c.SystemPrompt = v
	}
	if v := os.Getenv("CLAUDE_APPEND_SYSTEM_PROMPT"); v != "" {
		c.AppendSystemPrompt = v
	}
	if v := os.Getenv("CLAUDE_MAX_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxTurns = n
		}
	}
	if v := os.Getenv("CLAUDE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Timeout = d
		}
	}
	if v := os.Getenv("CLAUDE_MAX_BUDGET_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.MaxBudgetUSD = f
		}
	}
	if v := os.Getenv("CLAUDE_WORK_DIR"); v != "" {
		c.WorkDir = v
	}
	if v := os.Getenv("CLAUDE_ALLOWED_TOOLS"); v != "" {
		c.AllowedTools = splitList(v)
	}
	if v := os.Getenv("CLAUDE_DISALLOWED_TOOLS"); v != "" {
		c.DisallowedTools = splitList(v)
	}
	if v := os.Getenv("CLAUDE_PATH"); v != "" {
		c.ClaudePath = v
	}
	if v := os.Getenv("CLAUDE_HOME_DIR"); v != "" {
		c.HomeDir = v
	}
	if v := os.Getenv(claudecontract.EnvConfigDir); v != "" {
		c.ConfigDir = v
	}
	if isTrue(os.Getenv("CLAUDE_SKIP_PERMISSIONS")) {
		c.DangerouslySkipPermissions = true
	}
	if v := os.Getenv("CLAUDE_PERMISSION_MODE"); v != "" {
		c.PermissionMode = v
	}
	if v := os.Getenv("CLAUDE_SESSION_ID"); v != "" {
		c.SessionID = v
	}
	if v := os.Getenv("CLAUDE_RESUME"); v != "" {
		c.Resume = v
	}
	if v := os.Getenv("CLAUDE_AGENTS_DIR"); v != "" {
		c.AgentsDir = v
	}
	if v := os.Getenv("CLAUDE_MCP_CONFIG"); v != "" {
		c.MCPConfigPath = v
	}
	if isTrue(os.Getenv("CLAUDE_STRICT_MCP_CONFIG")) {
		c.StrictMCPConfig = true
	}
	if isTrue(os.Getenv(claudecontract.EnvSkipVersionCheck)) {
		c.SkipVersionCheck = true
	}
}

// FromEnv creates a Config from environment variables with defaults.
func FromEnv() Config {
	cfg := DefaultConfig()
	cfg.LoadFromEnv()
	return cfg
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Continue && c.Resume != "" {
		errs = append(errs, errors.New("continue and resume are mutually exclusive"))
	}
	if c.SessionID != "" && c.Resume != "" {
		errs = append(errs, errors.New("session_id and resume are mutually exclusive"))
	}
	if c.ForkSession && !c.Continue && c.Resume == "" {
		errs = append(errs, errors.New("fork_session requires continue or resume"))
	}
	if c.PermissionMode != "" && !claudecontract.PermissionMode(c.PermissionMode).IsValid() {
		errs = append(errs, fmt.Errorf("unknown permission_mode %q", c.PermissionMode))
	}
	for _, src := range c.SettingSources {
		if !claudecontract.SettingSource(src).IsValid() {
			errs = append(errs, fmt.Errorf("unknown setting source %q", src))
		}
	}
	for _, tool := range c.Tools {
		if tool != claudecontract.ToolsDefault && !claudecontract.IsBuiltinTool(tool) {
			errs = append(errs, fmt.Errorf("tools: %q is not a built-in tool", tool))
		}
	}
	if c.MaxTurns < 0 {
		errs = append(errs, fmt.Errorf("max_turns must be >= 0, got %d", c.MaxTurns))
	}
	if c.MaxBudgetUSD < 0 {
		errs = append(errs, fmt.Errorf("max_budget_usd must be >= 0, got %f", c.MaxBudgetUSD))
	}
	if c.MaxThinkingTokens < 0 {
		errs = append(errs, fmt.Errorf("max_thinking_tokens must be >= 0, got %d", c.MaxThinkingTokens))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must be >= 0, got %v", c.Timeout))
	}
	if c.ControlTimeout < 0 || c.CallbackTimeout < 0 {
		errs = append(errs, errors.New("control and callback timeouts must be >= 0"))
	}
	for _, name := range sortedKeys(c.MCPServers) {
		if err := c.MCPServers[name].validate(name); err != nil {
			errs = append(errs, err)
		}
	}
	for _, name := range sortedKeys(c.Agents) {
		if c.Agents[name].Description == "" {
			errs = append(errs, fmt.Errorf("agent %q: description is required", name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// ToOptions converts the config to session options. It reads AgentsDir,
// so it can fail on malformed agent files. Callers append their own
// options (callbacks, in-process MCP servers) after these.
func (c *Config) ToOptions() ([]session.SessionOption, error) {
	opts := make([]session.SessionOption, 0, 32)

	if c.ClaudePath != "" {
		opts = append(opts, session.WithClaudePath(c.ClaudePath))
	}
	if c.SkipVersionCheck {
		opts = append(opts, session.WithSkipVersionCheck())
	}
	if c.Model != "" {
		opts = append(opts, session.WithModel(c.Model))
	}
	if c.FallbackModel != "" {
		opts = append(opts, session.WithFallbackModel(c.FallbackModel))
	}
	if c.MaxThinkingTokens > 0 {
		opts = append(opts, session.WithMaxThinkingTokens(c.MaxThinkingTokens))
	}
	if c.SystemPrompt != "" {
		opts = append(opts, session.WithSystemPrompt(c.SystemPrompt))
	}
	if c.AppendSystemPrompt != "" {
		opts = append(opts, session.WithAppendSystemPrompt(c.AppendSystemPrompt))
	}
	if c.MaxTurns > 0 {
		opts = append(opts, session.WithMaxTurns(c.MaxTurns))
	}
	if c.MaxBudgetUSD > 0 {
		opts = append(opts, session.WithMaxBudgetUSD(c.MaxBudgetUSD))
	}
	if c.WorkDir != "" {
		opts = append(opts, session.WithWorkdir(c.WorkDir))
	}
	if len(c.AddDirs) > 0 {
		opts = append(opts, session.WithAddDirs(c.AddDirs))
	}
	if len(c.AllowedTools) > 0 {
		opts = append(opts, session.WithAllowedTools(c.AllowedTools))
	}
	if len(c.DisallowedTools) > 0 {
		opts = append(opts, session.WithDisallowedTools(c.DisallowedTools))
	}
	if len(c.Tools) > 0 {
		opts = append(opts, session.WithTools(c.Tools))
	}
	if c.DangerouslySkipPermissions {
		opts = append(opts, session.WithPermissions(true))
	}
	if c.PermissionMode != "" {
		opts = append(opts, session.WithPermissionMode(c.PermissionMode))
	}
	if c.PermissionPromptTool != "" {
		opts = append(opts, session.WithPermissionPromptTool(c.PermissionPromptTool))
	}
	if len(c.SettingSources) > 0 {
		opts = append(opts, session.WithSettingSources(c.SettingSources))
	}
	if c.Settings != "" {
		opts = append(opts, session.WithSettings(c.Settings))
	}
	if c.SessionID != "" {
		opts = append(opts, session.WithSessionID(c.SessionID))
	}
	if c.Continue {
		opts = append(opts, session.WithContinue())
	}
	if c.Resume != "" {
		opts = append(opts, session.WithResume(c.Resume))
	}
	if c.ForkSession {
		opts = append(opts, session.WithForkSession())
	}
	if c.IncludePartialMessages {
		opts = append(opts, session.WithIncludePartialMessages())
	}
	if len(c.PluginDirs) > 0 {
		opts = append(opts, session.WithPluginDirs(c.PluginDirs))
	}

	agents, err := c.agentDefinitions()
	if err != nil {
		return nil, err
	}
	if len(agents) > 0 {
		opts = append(opts, session.WithAgents(agents))
	}

	if c.MCPConfigPath != "" {
		opts = append(opts, session.WithMCPConfigPath(c.MCPConfigPath))
	}
	if len(c.MCPServers) > 0 {
		servers := make(map[string]session.MCPServerConfig, len(c.MCPServers))
		for name, s := range c.MCPServers {
			servers[name] = session.MCPServerConfig{
				Type:    s.Type,
				Command: s.Command,
				Args:    s.Args,
				Env:     s.Env,
				URL:     s.URL,
				Headers: s.Headers,
			}
		}
		opts = append(opts, session.WithExternalMCPServers(servers))
	}
	if c.StrictMCPConfig {
		opts = append(opts, session.WithStrictMCPConfig())
	}

	if c.HomeDir != "" {
		opts = append(opts, session.WithHomeDir(c.HomeDir))
	}
	if c.ConfigDir != "" {
		opts = append(opts, session.WithConfigDir(c.ConfigDir))
	}
	if len(c.Env) > 0 {
		opts = append(opts, session.WithEnv(c.Env))
	}
	if c.ControlTimeout > 0 {
		opts = append(opts, session.WithControlTimeout(c.ControlTimeout))
	}
	if c.CallbackTimeout > 0 {
		opts = append(opts, session.WithCallbackTimeout(c.CallbackTimeout))
	}

	return opts, nil
}

// agentDefinitions merges AgentsDir with inline Agents.
func (c *Config) agentDefinitions() (map[string]session.AgentDefinition, error) {
	var agents map[string]session.AgentDefinition
	if c.AgentsDir != "" {
		loaded, err := LoadAgents(c.AgentsDir)
		if err != nil {
			return nil, err
		}
		agents = loaded
	}
	if len(c.Agents) == 0 {
		return agents, nil
	}
	merged := make(map[string]session.AgentDefinition, len(agents)+len(c.Agents))
	maps.Copy(merged, agents)
	for name, a := range c.Agents {
		merged[name] = session.AgentDefinition{
			Description: a.Description,
			Prompt:      a.Prompt,
			Tools:       a.Tools,
			Model:       a.Model,
		}
	}
	return merged, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isTrue(v string) bool {
	return v == "true" || v == "1"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
