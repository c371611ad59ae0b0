// Package claude is the entry point for driving the Claude Code CLI from Go.
//
// The engine lives in the session subpackage: it runs the CLI as a
// subprocess, speaks stream-json over stdin/stdout and answers the
// control requests the CLI sends back (permission checks, hooks,
// in-process MCP tools). This package adds declarative configuration,
// CLI discovery and one-shot helpers on top.
//
// # One-shot Query
//
//	res, err := claude.Query(ctx, "Summarize README.md",
//	    session.WithModel("sonnet"),
//	    session.WithAllowedTools([]string{"Read"}),
//	)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(res.Text())
//
// # Configuration Files
//
// Config loads from YAML, TOML or JSON, picked by file extension, and
// environment variables with the CLAUDE_ prefix override file values:
//
//	cfg, err := claude.LoadConfigFile("claude.yaml")
//	if err != nil {
//	    return err
//	}
//	cfg.LoadFromEnv()
//
//	client, err := claude.NewClient(cfg, session.WithCanUseTool(approve))
//	if err != nil {
//	    return err
//	}
//	res, err := client.Query(ctx, "Fix the failing test")
//
// # Long-running Sessions
//
// Client.Connect returns a connected session.Session for multi-turn use;
// Client.NewManager tracks many of them.
//
// # Testing
//
// MockTransport plays a scripted CLI so code built on sessions can be
// tested without the claude binary:
//
//	mock := claude.NewMockTransport("hello")
//	res, err := claude.Query(ctx, "hi", session.WithTransport(mock))
//
// Subagent definitions can be kept as markdown files with YAML
// frontmatter and loaded with LoadAgents or Config.AgentsDir.
package claude
