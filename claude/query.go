package claude

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/randalmurphal/claudeagent/claude/session"
)

// Errors returned by one-shot queries.
var (
	// ErrNoResult indicates the CLI output ended before a result message.
	ErrNoResult = errors.New("stream ended without a result")

	// ErrQueryFailed indicates the result message reported an error.
	ErrQueryFailed = errors.New("query failed")
)

// QueryResult collects the messages of one query.
type QueryResult struct {
	// Messages holds every message in arrival order, Result included.
	Messages []session.Message

	// Result is the terminal message, or nil when none arrived.
	Result *session.ResultMessage
}

// Text returns the result text, falling back to the concatenated text of
// the assistant messages when the result carries none.
func (r *QueryResult) Text() string {
	if r.Result != nil {
		if text, ok := r.Result.Result.(string); ok {
			return text
		}
	}
	var b strings.Builder
	for _, msg := range r.Messages {
		if am, ok := msg.(*session.AssistantMessage); ok {
			b.WriteString(am.Text())
		}
	}
	return b.String()
}

// SessionID returns the session id reported by the result, or "".
func (r *QueryResult) SessionID() string {
	if r.Result == nil {
		return ""
	}
	return r.Result.SessionID
}

// Query runs one prompt on a fresh session, waits for its result and
// closes the session. A result flagged as an error is returned together
// with an error wrapping ErrQueryFailed.
func Query(ctx context.Context, prompt string, opts ...session.SessionOption) (*QueryResult, error) {
	sess, err := session.New(opts...)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	if err := sess.Connect(ctx, prompt); err != nil {
		return nil, err
	}
	return collect(ctx, sess)
}

// QueryStream runs one prompt on a fresh session and yields its messages
// as they arrive. The session is closed when iteration ends. Unparseable
// lines are yielded as errors without ending the stream.
func QueryStream(ctx context.Context, prompt string, opts ...session.SessionOption) iter.Seq2[session.Message, error] {
	return func(yield func(session.Message, error) bool) {
		sess, err := session.New(opts...)
		if err != nil {
			yield(nil, err)
			return
		}
		defer sess.Close()

		if err := sess.Connect(ctx, prompt); err != nil {
			yield(nil, err)
			return
		}
		for msg, err := range sess.ReceiveMessages(ctx) {
			if !yield(msg, err) {
				return
			}
		}
	}
}

// collect drains one query's messages from a connected session.
func collect(ctx context.Context, sess session.Session) (*QueryResult, error) {
	res := &QueryResult{}
	for msg, err := range sess.ReceiveMessages(ctx) {
		if err != nil {
			var perr *session.ParseError
			if errors.As(err, &perr) {
				continue
			}
			return res, err
		}
		res.Messages = append(res.Messages, msg)
		if rm, ok := msg.(*session.ResultMessage); ok {
			res.Result = rm
		}
	}

	if res.Result == nil {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := sess.Err(); err != nil {
			return res, err
		}
		return res, ErrNoResult
	}
	if res.Result.IsError {
		return res, fmt.Errorf("%w: %s: %s", ErrQueryFailed, res.Result.Subtype, res.Text())
	}
	return res, nil
}
