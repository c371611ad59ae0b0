package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeCLI is an in-memory Transport standing in for the claude process.
// Frames the session writes are decoded and delivered on frames; the test
// plays the CLI by writing lines with send.
type fakeCLI struct {
	t *testing.T

	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter

	startErr error
	// autoInit answers the initialize request with initResponse.
	autoInit     bool
	initResponse map[string]any

	frames chan map[string]any

	mu       sync.Mutex
	exitErr  error
	exited   chan struct{}
	exitOnce sync.Once
	closed   bool
}

func newFakeCLI(t *testing.T) *fakeCLI {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	return &fakeCLI{
		t:            t,
		stdinR:       stdinR,
		stdinW:       stdinW,
		stdoutR:      stdoutR,
		stdoutW:      stdoutW,
		autoInit:     true,
		initResponse: map[string]any{"commands": []any{}, "output_style": "default"},
		frames:       make(chan map[string]any, 100),
		exited:       make(chan struct{}),
	}
}

func (f *fakeCLI) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	go f.readStdin()
	return nil
}

func (f *fakeCLI) readStdin() {
	sc := bufio.NewScanner(f.stdinR)
	sc.Buffer(make([]byte, 64*1024), 10*1024*1024)
	for sc.Scan() {
		var frame map[string]any
		if err := json.Unmarshal(sc.Bytes(), &frame); err != nil {
			f.t.Errorf("session wrote invalid JSON %q: %v", sc.Text(), err)
			continue
		}
		if f.autoInit && isControlRequest(frame, "initialize") {
			f.respond(frame["request_id"].(string), f.initResponse)
			continue
		}
		f.frames <- frame
	}
}

func (f *fakeCLI) Stdin() io.WriteCloser { return f.stdinW }
func (f *fakeCLI) Stdout() io.Reader     { return f.stdoutR }

func (f *fakeCLI) Wait() error {
	<-f.exited
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exitErr
}

func (f *fakeCLI) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.exit(nil)
	return nil
}

func (f *fakeCLI) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// exit simulates the process ending with err as its Wait result.
func (f *fakeCLI) exit(err error) {
	f.exitOnce.Do(func() {
		f.mu.Lock()
		f.exitErr = err
		f.mu.Unlock()
		close(f.exited)
		_ = f.stdoutW.Close()
		_ = f.stdinR.Close()
	})
}

// send writes one raw line to the session's stdout.
func (f *fakeCLI) send(line string) {
	_, err := io.WriteString(f.stdoutW, line+"\n")
	require.NoError(f.t, err)
}

func (f *fakeCLI) sendJSON(v any) {
	data, err := json.Marshal(v)
	require.NoError(f.t, err)
	f.send(string(data))
}

func (f *fakeCLI) respond(requestID string, payload any) {
	resp := map[string]any{"subtype": "success", "request_id": requestID}
	if payload != nil {
		resp["response"] = payload
	}
	f.sendJSON(map[string]any{"type": "control_response", "response": resp})
}

func (f *fakeCLI) respondError(requestID, msg string) {
	f.sendJSON(map[string]any{
		"type":     "control_response",
		"response": map[string]any{"subtype": "error", "request_id": requestID, "error": msg},
	})
}

func (f *fakeCLI) request(requestID string, request map[string]any) {
	f.sendJSON(map[string]any{"type": "control_request", "request_id": requestID, "request": request})
}

// expect returns the next frame the session wrote.
func (f *fakeCLI) expect() map[string]any {
	f.t.Helper()
	select {
	case frame := <-f.frames:
		return frame
	case <-time.After(5 * time.Second):
		f.t.Fatal("timed out waiting for a frame from the session")
		return nil
	}
}

// expectNone asserts the session writes nothing for d.
func (f *fakeCLI) expectNone(d time.Duration) {
	f.t.Helper()
	select {
	case frame := <-f.frames:
		f.t.Fatalf("unexpected frame: %v", frame)
	case <-time.After(d):
	}
}

func isControlRequest(frame map[string]any, subtype string) bool {
	if frame["type"] != "control_request" {
		return false
	}
	req, _ := frame["request"].(map[string]any)
	return req["subtype"] == subtype
}

func requestSubtype(frame map[string]any) string {
	req, _ := frame["request"].(map[string]any)
	s, _ := req["subtype"].(string)
	return s
}

func responseBody(frame map[string]any) map[string]any {
	resp, _ := frame["response"].(map[string]any)
	return resp
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// connectFake returns a connected session backed by a fakeCLI.
func connectFake(t *testing.T, opts ...SessionOption) (*session, *fakeCLI) {
	t.Helper()
	fake := newFakeCLI(t)
	all := append([]SessionOption{WithTransport(fake), WithLogger(discardLogger())}, opts...)
	s, err := newSession(all...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Connect(ctx))
	require.Equal(t, StatusConnected, s.Status())
	return s, fake
}

func assistantLine(text string) string {
	return fmt.Sprintf(`{"type":"assistant","message":{"role":"assistant","model":"claude-sonnet-4-5","content":[{"type":"text","text":%q}]},"parent_tool_use_id":null,"session_id":"sess-1"}`, text)
}

const resultLine = `{"type":"result","subtype":"success","duration_ms":1200,"duration_api_ms":900,"is_error":false,"num_turns":1,"session_id":"sess-1","total_cost_usd":0.0125,"usage":{},"modelUsage":{},"permission_denials":[],"result":"done"}`

// collect drains one ReceiveMessages pass.
func collect(t *testing.T, s Session) ([]Message, []error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var msgs []Message
	var errs []error
	for msg, err := range s.ReceiveMessages(ctx) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, errs
}
