// Package session drives a long-running Claude CLI process over
// stream-json stdin/stdout, including the control protocol the CLI uses
// to call back into the host (permission checks, hooks, in-process MCP
// servers) and that the host uses to steer the CLI (interrupt, permission
// mode, model).
//
// # Basic Usage
//
//	sess, err := session.New(
//	    session.WithModel("sonnet"),
//	    session.WithWorkdir("/path/to/project"),
//	)
//	if err != nil {
//	    return err
//	}
//	defer sess.Close()
//
//	if err := sess.Connect(ctx, "Hello, Claude!"); err != nil {
//	    return err
//	}
//
//	for msg, err := range sess.ReceiveMessages(ctx) {
//	    if err != nil {
//	        return err
//	    }
//	    switch m := msg.(type) {
//	    case *session.AssistantMessage:
//	        fmt.Println(m.Text())
//	    case *session.ResultMessage:
//	        fmt.Println("done:", m.Text())
//	    }
//	}
//
// ReceiveMessages ends after each Result message, so a follow-up Query
// is read with a fresh call.
//
// # Callbacks
//
// Permission callbacks, hooks and MCP servers are registered before
// Connect and are immutable afterwards:
//
//	sess, err := session.New(
//	    session.WithCanUseTool(func(ctx context.Context, tool string, input map[string]any, _ session.ToolPermissionContext) (session.PermissionResult, error) {
//	        if tool == "Bash" {
//	            return &session.PermissionDeny{Message: "no shell"}, nil
//	        }
//	        return &session.PermissionAllow{}, nil
//	    }),
//	    session.WithHook(claudecontract.HookPreToolUse, "Write", auditWrite),
//	)
//
// Each callback runs on its own goroutine with a context that is cancelled
// when the callback timeout elapses, the CLI cancels the request, or the
// session closes. The CLI always receives exactly one response per request.
//
// # Session Lifecycle
//
// Sessions go through the following states:
//   - StatusIdle: created, not yet connected
//   - StatusConnecting: process starting, initialize in flight
//   - StatusConnected: ready for queries
//   - StatusClosing: Close in progress
//   - StatusClosed: Close finished
//   - StatusFailed: the process died or the stream broke; see Err
//
// # Thread Safety
//
// Session and SessionManager are safe for concurrent use from multiple
// goroutines. Only one goroutine should consume ReceiveMessages at a time.
package session
