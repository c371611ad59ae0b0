// Package claudecontract provides a single source of truth for all Claude CLI
// interface details: flag names, stream-json message types, control protocol
// subtypes, hook events, permission modes, environment variables, and other
// volatile strings that may change between CLI versions.
//
// # Purpose
//
// This package centralizes the "contract" between the Go SDK and the Claude
// CLI binary. When the CLI changes its interface (flag names, JSON field
// names, event types, control subtypes), only this package needs to change.
//
// # Package Contents
//
//   - version.go: CLI version detection and compatibility checking
//   - flags.go: CLI flag name constants (--output-format, --model, etc.)
//   - events.go: Stream message types (system, assistant, user, result, control_*)
//   - control.go: Control request subtypes and JSON-RPC constants
//   - permissions.go: Permission modes, behaviors, and update types
//   - formats.go: Output formats, MCP transport types, hook events
//   - paths.go: Transcript locations under ~/.claude/projects
//   - env.go: Environment variables exchanged with the CLI process
//
// # Version Compatibility
//
// TestedCLIVersion is the newest CLI this code was verified against and
// MinimumCLIVersion the oldest one that speaks the control protocol:
//
//	v := claudecontract.CheckVersion(ctx, "claude", slog.Default())
//	// Logs a warning if the CLI is older than MinimumCLIVersion or newer than TestedCLIVersion
package claudecontract
