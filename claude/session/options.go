package session

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/claudeagent/claudecontract"
)

// ErrInvalidOption indicates a session was configured inconsistently.
var ErrInvalidOption = errors.New("invalid session option")

// SessionOption configures a Session.
type SessionOption func(*sessionConfig)

// MCPServerConfig configures an external MCP server that the CLI launches
// (stdio) or connects to (sse, http).
type MCPServerConfig struct {
	Type    string            `json:"type,omitempty"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// sessionConfig holds session configuration.
type sessionConfig struct {
	// CLI path
	claudePath       string
	skipVersionCheck bool

	// Model configuration
	model             string
	fallbackModel     string
	maxThinkingTokens int

	// Working directory
	workdir string

	// Session behavior
	sessionID              string
	resume                 bool
	continueConversation   bool
	forkSession            bool
	includePartialMessages bool

	// Tool control
	allowedTools    []string
	disallowedTools []string
	tools           []string

	// Permissions
	dangerouslySkipPermissions bool
	permissionMode             string
	permissionPromptTool       string
	settingSources             []string
	settings                   string

	// Context
	addDirs            []string
	systemPrompt       string
	appendSystemPrompt string
	pluginDirs         []string
	agents             map[string]AgentDefinition

	// MCP
	mcpServers      []MCPServer
	externalMCP     map[string]MCPServerConfig
	mcpConfigPath   string
	strictMCPConfig bool

	// Budget and limits
	maxBudgetUSD float64
	maxTurns     int

	// Callbacks
	canUseTool CanUseToolFunc
	hooks      map[claudecontract.HookEvent][]HookMatcher

	// Timeouts
	initializeTimeout time.Duration
	controlTimeout    time.Duration
	callbackTimeout   time.Duration
	closeTimeout      time.Duration

	// Environment
	homeDir   string
	configDir string
	extraEnv  map[string]string
	extraArgs map[string]*string

	// I/O
	transport   Transport
	logger      *slog.Logger
	maxLineSize int
	stderrLines int
	onStderr    func(line string)

	// Output filtering
	includeHookOutput bool
}

// defaultConfig returns the default session configuration.
func defaultConfig() sessionConfig {
	return sessionConfig{
		claudePath:        "claude",
		initializeTimeout: 60 * time.Second,
		controlTimeout:    60 * time.Second,
		callbackTimeout:   60 * time.Second,
		closeTimeout:      5 * time.Second,
		maxLineSize:       defaultMaxLineSize,
		stderrLines:       100,
		includeHookOutput: false,
	}
}

// validate checks option combinations once, before anything is started.
func (c *sessionConfig) validate() error {
	var errs []error
	if c.canUseTool != nil && c.permissionPromptTool != "" {
		errs = append(errs, errors.New("can-use-tool callback cannot be combined with a permission prompt tool"))
	}
	if c.continueConversation && c.resume {
		errs = append(errs, errors.New("continue and resume are mutually exclusive"))
	}
	if c.forkSession && !c.resume && !c.continueConversation {
		errs = append(errs, errors.New("fork session requires resume or continue"))
	}
	if c.permissionMode != "" && !claudecontract.PermissionMode(c.permissionMode).IsValid() {
		errs = append(errs, fmt.Errorf("unknown permission mode %q", c.permissionMode))
	}
	for event := range c.hooks {
		if !event.IsValid() {
			errs = append(errs, fmt.Errorf("unknown hook event %q", event))
		}
	}
	seen := make(map[string]bool)
	for _, srv := range c.mcpServers {
		name := srv.Name()
		if name == "" {
			errs = append(errs, errors.New("MCP server name is empty"))
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("duplicate MCP server %q", name))
		}
		seen[name] = true
	}
	for name := range c.externalMCP {
		if seen[name] {
			errs = append(errs, fmt.Errorf("duplicate MCP server %q", name))
		}
	}
	if c.maxTurns < 0 {
		errs = append(errs, fmt.Errorf("max turns must be non-negative, got %d", c.maxTurns))
	}
	if c.maxBudgetUSD < 0 {
		errs = append(errs, fmt.Errorf("max budget must be non-negative, got %v", c.maxBudgetUSD))
	}
	if c.maxLineSize <= 0 {
		errs = append(errs, fmt.Errorf("max line size must be positive, got %d", c.maxLineSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidOption, errors.Join(errs...))
	}
	return nil
}

// WithClaudePath sets the path to the claude binary.
func WithClaudePath(path string) SessionOption {
	return func(c *sessionConfig) { c.claudePath = path }
}

// WithSkipVersionCheck disables the CLI version check at connect.
func WithSkipVersionCheck() SessionOption {
	return func(c *sessionConfig) { c.skipVersionCheck = true }
}

// WithModel sets the model to use.
func WithModel(model string) SessionOption {
	return func(c *sessionConfig) { c.model = model }
}

// WithFallbackModel sets a fallback model if primary is overloaded.
func WithFallbackModel(model string) SessionOption {
	return func(c *sessionConfig) { c.fallbackModel = model }
}

// WithMaxThinkingTokens limits extended thinking.
func WithMaxThinkingTokens(n int) SessionOption {
	return func(c *sessionConfig) { c.maxThinkingTokens = n }
}

// WithWorkdir sets the working directory for the session.
func WithWorkdir(dir string) SessionOption {
	return func(c *sessionConfig) { c.workdir = dir }
}

// WithSessionID sets a specific session ID.
// If not set, Claude CLI generates one automatically.
func WithSessionID(id string) SessionOption {
	return func(c *sessionConfig) { c.sessionID = id }
}

// WithResume enables resuming the specified session ID.
// The session must have been previously persisted.
func WithResume(sessionID string) SessionOption {
	return func(c *sessionConfig) {
		c.sessionID = sessionID
		c.resume = true
	}
}

// WithContinue continues the most recent conversation in the workdir.
func WithContinue() SessionOption {
	return func(c *sessionConfig) { c.continueConversation = true }
}

// WithForkSession starts a new session ID when resuming or continuing.
func WithForkSession() SessionOption {
	return func(c *sessionConfig) { c.forkSession = true }
}

// WithIncludePartialMessages enables stream_event messages.
func WithIncludePartialMessages() SessionOption {
	return func(c *sessionConfig) { c.includePartialMessages = true }
}

// WithAllowedTools sets the allowed tools (whitelist).
func WithAllowedTools(tools []string) SessionOption {
	return func(c *sessionConfig) { c.allowedTools = tools }
}

// WithDisallowedTools sets the disallowed tools (blacklist).
func WithDisallowedTools(tools []string) SessionOption {
	return func(c *sessionConfig) { c.disallowedTools = tools }
}

// WithTools sets the exact list of available tools.
func WithTools(tools []string) SessionOption {
	return func(c *sessionConfig) { c.tools = tools }
}

// WithPermissions configures permission handling.
// If skip is true, all permission prompts are bypassed.
func WithPermissions(skip bool) SessionOption {
	return func(c *sessionConfig) { c.dangerouslySkipPermissions = skip }
}

// WithPermissionMode sets the initial permission mode.
// Valid values: "default", "acceptEdits", "bypassPermissions", "plan"
func WithPermissionMode(mode string) SessionOption {
	return func(c *sessionConfig) { c.permissionMode = mode }
}

// WithPermissionPromptTool routes permission prompts to an MCP tool.
// Mutually exclusive with WithCanUseTool.
func WithPermissionPromptTool(tool string) SessionOption {
	return func(c *sessionConfig) { c.permissionPromptTool = tool }
}

// WithSettingSources specifies which setting sources to use.
// Valid values: "project", "local", "user"
func WithSettingSources(sources []string) SessionOption {
	return func(c *sessionConfig) { c.settingSources = sources }
}

// WithSettings passes a settings file path or JSON string.
func WithSettings(settings string) SessionOption {
	return func(c *sessionConfig) { c.settings = settings }
}

// WithAddDirs adds directories to Claude's file access scope.
func WithAddDirs(dirs []string) SessionOption {
	return func(c *sessionConfig) { c.addDirs = dirs }
}

// WithSystemPrompt sets a custom system prompt.
func WithSystemPrompt(prompt string) SessionOption {
	return func(c *sessionConfig) { c.systemPrompt = prompt }
}

// WithAppendSystemPrompt appends to the system prompt.
func WithAppendSystemPrompt(prompt string) SessionOption {
	return func(c *sessionConfig) { c.appendSystemPrompt = prompt }
}

// WithPluginDirs loads local plugins from the given directories.
func WithPluginDirs(dirs []string) SessionOption {
	return func(c *sessionConfig) { c.pluginDirs = dirs }
}

// WithAgents defines custom subagents.
func WithAgents(agents map[string]AgentDefinition) SessionOption {
	return func(c *sessionConfig) {
		if c.agents == nil {
			c.agents = make(map[string]AgentDefinition)
		}
		for name, a := range agents {
			c.agents[name] = a
		}
	}
}

// WithMCPServer registers an in-process MCP server. Its tools are
// reachable by the model as mcp__<name>__<tool>.
func WithMCPServer(srv MCPServer) SessionOption {
	return func(c *sessionConfig) { c.mcpServers = append(c.mcpServers, srv) }
}

// WithExternalMCPServers adds MCP servers the CLI manages itself.
func WithExternalMCPServers(servers map[string]MCPServerConfig) SessionOption {
	return func(c *sessionConfig) {
		if c.externalMCP == nil {
			c.externalMCP = make(map[string]MCPServerConfig)
		}
		for name, cfg := range servers {
			c.externalMCP[name] = cfg
		}
	}
}

// WithMCPConfigPath passes an MCP config file to the CLI.
func WithMCPConfigPath(path string) SessionOption {
	return func(c *sessionConfig) { c.mcpConfigPath = path }
}

// WithStrictMCPConfig ignores MCP servers not given to this session.
func WithStrictMCPConfig() SessionOption {
	return func(c *sessionConfig) { c.strictMCPConfig = true }
}

// WithMaxBudgetUSD sets a maximum spending limit.
func WithMaxBudgetUSD(amount float64) SessionOption {
	return func(c *sessionConfig) { c.maxBudgetUSD = amount }
}

// WithMaxTurns limits the number of agentic turns.
func WithMaxTurns(n int) SessionOption {
	return func(c *sessionConfig) { c.maxTurns = n }
}

// WithCanUseTool registers the permission callback. Permission prompts are
// then routed to it through can_use_tool control requests.
func WithCanUseTool(fn CanUseToolFunc) SessionOption {
	return func(c *sessionConfig) { c.canUseTool = fn }
}

// WithHooks registers hook matchers per event. Calls accumulate.
func WithHooks(hooks map[claudecontract.HookEvent][]HookMatcher) SessionOption {
	return func(c *sessionConfig) {
		if c.hooks == nil {
			c.hooks = make(map[claudecontract.HookEvent][]HookMatcher)
		}
		for event, matchers := range hooks {
			c.hooks[event] = append(c.hooks[event], matchers...)
		}
	}
}

// WithHook registers callbacks for one event and tool matcher.
func WithHook(event claudecontract.HookEvent, matcher string, callbacks ...HookCallback) SessionOption {
	return WithHooks(map[claudecontract.HookEvent][]HookMatcher{
		event: {{Matcher: matcher, Hooks: callbacks}},
	})
}

// WithInitializeTimeout bounds the initialize handshake in Connect.
func WithInitializeTimeout(d time.Duration) SessionOption {
	return func(c *sessionConfig) { c.initializeTimeout = d }
}

// WithControlTimeout bounds outbound control requests such as Interrupt.
// Zero waits until the context ends.
func WithControlTimeout(d time.Duration) SessionOption {
	return func(c *sessionConfig) { c.controlTimeout = d }
}

// WithCallbackTimeout bounds each permission, hook and MCP callback. When
// it elapses the CLI receives an error response. Zero disables the bound.
func WithCallbackTimeout(d time.Duration) SessionOption {
	return func(c *sessionConfig) { c.callbackTimeout = d }
}

// WithCloseTimeout sets how long Close waits for a graceful exit before
// signalling the process group.
func WithCloseTimeout(d time.Duration) SessionOption {
	return func(c *sessionConfig) { c.closeTimeout = d }
}

// WithHomeDir sets the HOME environment variable for credential discovery.
func WithHomeDir(dir string) SessionOption {
	return func(c *sessionConfig) { c.homeDir = dir }
}

// WithConfigDir sets the Claude config directory path.
func WithConfigDir(dir string) SessionOption {
	return func(c *sessionConfig) { c.configDir = dir }
}

// WithEnv adds environment variables to the CLI process.
func WithEnv(env map[string]string) SessionOption {
	return func(c *sessionConfig) {
		if c.extraEnv == nil {
			c.extraEnv = make(map[string]string)
		}
		for k, v := range env {
			c.extraEnv[k] = v
		}
	}
}

// WithExtraArgs passes arbitrary flags. Keys are flag names without the
// leading dashes; a nil value produces a boolean flag.
func WithExtraArgs(args map[string]*string) SessionOption {
	return func(c *sessionConfig) {
		if c.extraArgs == nil {
			c.extraArgs = make(map[string]*string)
		}
		for k, v := range args {
			c.extraArgs[k] = v
		}
	}
}

// WithTransport replaces the subprocess transport, e.g. for tests or a
// remote CLI.
func WithTransport(t Transport) SessionOption {
	return func(c *sessionConfig) { c.transport = t }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) SessionOption {
	return func(c *sessionConfig) { c.logger = logger }
}

// WithMaxLineSize bounds a single line of CLI output.
func WithMaxLineSize(n int) SessionOption {
	return func(c *sessionConfig) { c.maxLineSize = n }
}

// WithStderr receives each stderr line of the CLI process.
func WithStderr(fn func(line string)) SessionOption {
	return func(c *sessionConfig) { c.onStderr = fn }
}

// WithIncludeHookOutput includes system/hook_response messages in
// ReceiveMessages. By default, hook output is filtered out.
func WithIncludeHookOutput(include bool) SessionOption {
	return func(c *sessionConfig) { c.includeHookOutput = include }
}

// ManagerOption configures a SessionManager.
type ManagerOption func(*managerConfig)

// managerConfig holds manager configuration.
type managerConfig struct {
	// Maximum concurrent sessions
	maxSessions int

	// Default session options applied to all sessions
	defaultOpts []SessionOption

	// TTL for idle sessions (0 = no auto-cleanup)
	sessionTTL time.Duration

	// Cleanup interval for expired sessions
	cleanupInterval time.Duration

	logger *slog.Logger
}

// defaultManagerConfig returns the default manager configuration.
func defaultManagerConfig() managerConfig {
	return managerConfig{
		maxSessions:     100,
		sessionTTL:      30 * time.Minute,
		cleanupInterval: 5 * time.Minute,
	}
}

// WithMaxSessions sets the maximum number of concurrent sessions.
func WithMaxSessions(n int) ManagerOption {
	return func(c *managerConfig) { c.maxSessions = n }
}

// WithDefaultSessionOptions sets options applied to all new sessions.
func WithDefaultSessionOptions(opts ...SessionOption) ManagerOption {
	return func(c *managerConfig) { c.defaultOpts = opts }
}

// WithSessionTTL sets the TTL for idle sessions.
// Sessions idle longer than this are automatically closed.
func WithSessionTTL(d time.Duration) ManagerOption {
	return func(c *managerConfig) { c.sessionTTL = d }
}

// WithCleanupInterval sets how often to check for expired sessions.
func WithCleanupInterval(d time.Duration) ManagerOption {
	return func(c *managerConfig) { c.cleanupInterval = d }
}

// WithManagerLogger sets the manager's logger. Defaults to slog.Default().
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(c *managerConfig) { c.logger = logger }
}
