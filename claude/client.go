package claude

import (
	"context"
	"iter"
	"slices"

	"github.com/randalmurphal/claudeagent/claude/session"
)

// Client creates sessions from a Config. It holds no process of its own
// and is safe for concurrent use.
type Client struct {
	cfg  Config
	opts []session.SessionOption
}

// NewClient validates cfg and resolves it to session options. When
// ClaudePath is empty the CLI is located with FindCLI; if that fails the
// session falls back to a PATH lookup at connect time. Extra options are
// applied after the config, so they win on conflict.
func NewClient(cfg Config, extra ...session.SessionOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := cfg.ToOptions()
	if err != nil {
		return nil, err
	}
	if cfg.ClaudePath == "" {
		if path, err := FindCLI(); err == nil {
			opts = append([]session.SessionOption{session.WithClaudePath(path)}, opts...)
		}
	}
	opts = append(opts, extra...)

	// Surface option conflicts now rather than at the first query.
	if _, err := session.CommandLine(opts...); err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, opts: opts}, nil
}

// Config returns the configuration the client was built from.
func (c *Client) Config() Config {
	return c.cfg
}

// Options returns the resolved session options.
func (c *Client) Options() []session.SessionOption {
	return slices.Clone(c.opts)
}

// Query runs prompt on a fresh session bounded by Config.Timeout.
func (c *Client) Query(ctx context.Context, prompt string, opts ...session.SessionOption) (*QueryResult, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return Query(ctx, prompt, c.with(opts)...)
}

// Stream runs prompt on a fresh session bounded by Config.Timeout and
// yields messages as they arrive.
func (c *Client) Stream(ctx context.Context, prompt string, opts ...session.SessionOption) iter.Seq2[session.Message, error] {
	return func(yield func(session.Message, error) bool) {
		ctx, cancel := c.withTimeout(ctx)
		defer cancel()
		for msg, err := range QueryStream(ctx, prompt, c.with(opts)...) {
			if !yield(msg, err) {
				return
			}
		}
	}
}

// Connect starts a long-running session and sends prompts. The caller
// owns the session and must Close it. Config.Timeout does not apply.
func (c *Client) Connect(ctx context.Context, opts []session.SessionOption, prompts ...string) (session.Session, error) {
	sess, err := session.New(c.with(opts)...)
	if err != nil {
		return nil, err
	}
	if err := sess.Connect(ctx, prompts...); err != nil {
		_ = sess.Close()
		return nil, err
	}
	return sess, nil
}

// NewManager returns a session manager whose sessions start from this
// client's options.
func (c *Client) NewManager(opts ...session.ManagerOption) session.SessionManager {
	all := append([]session.ManagerOption{session.WithDefaultSessionOptions(c.opts...)}, opts...)
	return session.NewManager(all...)
}

func (c *Client) with(opts []session.SessionOption) []session.SessionOption {
	if len(opts) == 0 {
		return c.opts
	}
	return append(slices.Clone(c.opts), opts...)
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, c.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}
