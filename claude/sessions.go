package claude

import "github.com/randalmurphal/claudeagent/claude/session"

// Type aliases so callers of the facade rarely need to import session directly.
type (
	// Session is a long-running conversation with one CLI process.
	Session = session.Session

	// SessionOption configures a session.
	SessionOption = session.SessionOption

	// SessionManager tracks concurrent sessions and evicts idle ones.
	SessionManager = session.SessionManager

	// ManagerOption configures a session manager.
	ManagerOption = session.ManagerOption

	// SessionStatus is the lifecycle state of a session.
	SessionStatus = session.SessionStatus

	Message          = session.Message
	AssistantMessage = session.AssistantMessage
	ResultMessage    = session.ResultMessage
	SystemMessage    = session.SystemMessage
	UserMessage      = session.UserMessage
	StreamEvent      = session.StreamEvent

	AgentDefinition = session.AgentDefinition
)

// Session status constants.
const (
	SessionStatusIdle       = session.StatusIdle
	SessionStatusConnecting = session.StatusConnecting
	SessionStatusConnected  = session.StatusConnected
	SessionStatusClosing    = session.StatusClosing
	SessionStatusClosed     = session.StatusClosed
	SessionStatusFailed     = session.StatusFailed
)

// NewSession creates an unconnected session.
var NewSession = session.New

// NewSessionManager creates a session manager.
//
// Example:
//
//	mgr := claude.NewSessionManager(
//	    claude.WithMaxSessions(10),
//	    claude.WithSessionTTL(30*time.Minute),
//	)
//	defer mgr.CloseAll()
var NewSessionManager = session.NewManager

// Manager options re-exported for convenience.
var (
	WithMaxSessions           = session.WithMaxSessions
	WithSessionTTL            = session.WithSessionTTL
	WithCleanupInterval       = session.WithCleanupInterval
	WithDefaultSessionOptions = session.WithDefaultSessionOptions
)
