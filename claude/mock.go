package claude

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/randalmurphal/claudeagent/claude/session"
	"github.com/randalmurphal/claudeagent/claudecontract"
)

// MockTransport is a session.Transport that plays a scripted CLI, for
// testing code built on sessions without the claude binary. It answers
// the initialize handshake and replies to every prompt with an assistant
// message and a result. It can be reused by sessions started one after
// another, but not by concurrent ones.
type MockTransport struct {
	mu          sync.Mutex
	responses   []string
	responseIdx int
	startErr    error
	resultErr   string
	handler     func(prompt string) []any
	sessionID   string
	model       string
	prompts     []string
	run         *mockRun
}

// mockRun is the state of one Start.
type mockRun struct {
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	exited  chan struct{}
	once    sync.Once
}

func (r *mockRun) exit() {
	r.once.Do(func() {
		_ = r.stdoutW.Close()
		_ = r.stdinR.Close()
		close(r.exited)
	})
}

// NewMockTransport creates a mock that answers every prompt with response.
func NewMockTransport(response string) *MockTransport {
	return &MockTransport{
		responses: []string{response},
		sessionID: "mock-session",
		model:     "mock-model",
	}
}

// WithResponses configures sequential responses.
// Each prompt gets the next response in the list, cycling at the end.
func (m *MockTransport) WithResponses(responses ...string) *MockTransport {
	m.responses = responses
	return m
}

// WithStartError makes Start fail with err.
func (m *MockTransport) WithStartError(err error) *MockTransport {
	m.startErr = err
	return m
}

// WithResultError makes every result an error_during_execution result
// carrying msg.
func (m *MockTransport) WithResultError(msg string) *MockTransport {
	m.resultErr = msg
	return m
}

// WithHandler replaces the scripted reply. fn returns the frames to emit
// for a prompt; each is marshaled to one output line.
func (m *MockTransport) WithHandler(fn func(prompt string) []any) *MockTransport {
	m.handler = fn
	return m
}

// WithSessionID sets the session id reported in init and result messages.
func (m *MockTransport) WithSessionID(id string) *MockTransport {
	m.sessionID = id
	return m
}

// Prompts returns every prompt received so far.
func (m *MockTransport) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}

// Start implements session.Transport.
func (m *MockTransport) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.startErr != nil {
		return &session.ProcessError{ExitCode: -1, Err: m.startErr}
	}

	run := &mockRun{exited: make(chan struct{})}
	run.stdinR, run.stdinW = io.Pipe()
	run.stdoutR, run.stdoutW = io.Pipe()
	m.mu.Lock()
	m.run = run
	m.mu.Unlock()

	go m.serve(run)
	return nil
}

func (m *MockTransport) current() *mockRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.run
}

// Stdin implements session.Transport.
func (m *MockTransport) Stdin() io.WriteCloser {
	if run := m.current(); run != nil {
		return run.stdinW
	}
	return nil
}

// Stdout implements session.Transport.
func (m *MockTransport) Stdout() io.Reader {
	if run := m.current(); run != nil {
		return run.stdoutR
	}
	return nil
}

// Wait implements session.Transport.
func (m *MockTransport) Wait() error {
	if run := m.current(); run != nil {
		<-run.exited
	}
	return nil
}

// Close implements session.Transport.
func (m *MockTransport) Close() error {
	if run := m.current(); run != nil {
		run.exit()
	}
	return nil
}

// serve reads the session's frames until stdin closes.
func (m *MockTransport) serve(run *mockRun) {
	defer run.exit()
	enc := json.NewEncoder(run.stdoutW)
	sc := bufio.NewScanner(run.stdinR)
	sc.Buffer(make([]byte, 64*1024), 10*1024*1024)
	initSent := false

	for sc.Scan() {
		var frame struct {
			Type      string `json:"type"`
			RequestID string `json:"request_id"`
			Message struct {
				Content json.RawMessage `json:"content"`
			} `json:"message"`
		}
		if err := json.Unmarshal(sc.Bytes(), &frame); err != nil {
			continue
		}

		var out []any
		switch frame.Type {
		case claudecontract.EventTypeControlRequest:
			out = []any{map[string]any{
				"type": claudecontract.EventTypeControlResponse,
				"response": map[string]any{
					"subtype":    "success",
					"request_id": frame.RequestID,
					"response":   map[string]any{},
				},
			}}
		case claudecontract.EventTypeUser:
			prompt := promptText(frame.Message.Content)
			if !initSent {
				out = append(out, m.initFrame())
				initSent = true
			}
			out = append(out, m.reply(prompt)...)
		default:
			continue
		}
		for _, v := range out {
			if err := enc.Encode(v); err != nil {
				return
			}
		}
	}
}

func (m *MockTransport) initFrame() map[string]any {
	return map[string]any{
		"type":                claudecontract.EventTypeSystem,
		"subtype":             "init",
		"session_id":          m.sessionID,
		"model":               m.model,
		"cwd":                 "/mock",
		"tools":               []string{},
		"permissionMode":      "default",
		"apiKeySource":        "none",
		"mcp_servers":         []any{},
		"slash_commands":      []string{},
		"output_style":        "default",
		"claude_code_version": claudecontract.TestedCLIVersion,
	}
}

func (m *MockTransport) reply(prompt string) []any {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	handler := m.handler
	var text string
	if len(m.responses) > 0 {
		text = m.responses[m.responseIdx%len(m.responses)]
		m.responseIdx++
	}
	turn := len(m.prompts)
	m.mu.Unlock()

	if handler != nil {
		return handler(prompt)
	}

	result := map[string]any{
		"type":            claudecontract.EventTypeResult,
		"subtype":         claudecontract.ResultSubtypeSuccess,
		"is_error":        false,
		"duration_ms":     1,
		"duration_api_ms": 1,
		"num_turns":       1,
		"session_id":      m.sessionID,
		"total_cost_usd":  0.0001,
		"usage":           map[string]any{"input_tokens": 1, "output_tokens": 1},
		"result":          text,
	}
	if m.resultErr != "" {
		result["subtype"] = claudecontract.ResultSubtypeErrorDuringExecution
		result["is_error"] = true
		result["result"] = m.resultErr
	}
	return []any{
		map[string]any{
			"type": claudecontract.EventTypeAssistant,
			"message": map[string]any{
				"id":      fmt.Sprintf("msg_%d", turn),
				"model":   m.model,
				"content": []any{map[string]any{"type": "text", "text": text}},
			},
			"session_id": m.sessionID,
		},
		result,
	}
}

// promptText returns the text of a user message, joining text blocks.
func promptText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var text string
	for _, b := range blocks {
		if b.Type == "text" {
			text += b.Text
		}
	}
	return text
}

var _ session.Transport = (*MockTransport)(nil)
