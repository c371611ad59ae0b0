package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sentID(t *testing.T, w *recordingWriter) string {
	t.Helper()
	frame := w.next(t)
	id, ok := frame["request_id"].(string)
	require.True(t, ok)
	return id
}

func TestCorrelator_ResolvesMatchingResponse(t *testing.T) {
	w := newRecordingWriter()
	c := newCorrelator(w, discardLogger())

	type result struct {
		resp json.RawMessage
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := c.request(context.Background(), "mcp_status", nil, time.Second)
		done <- result{resp, err}
	}()

	id := sentID(t, w)
	assert.Equal(t, 1, c.pendingCount())
	assert.True(t, c.resolve(&ControlResponse{Subtype: "success", RequestID: id, Response: json.RawMessage(`{"servers":[]}`)}))

	r := <-done
	require.NoError(t, r.err)
	assert.JSONEq(t, `{"servers":[]}`, string(r.resp))
	assert.Equal(t, 0, c.pendingCount())
}

func TestCorrelator_DuplicateAndUnknownResponses(t *testing.T) {
	w := newRecordingWriter()
	c := newCorrelator(w, discardLogger())

	p, err := c.send(context.Background(), "interrupt", nil)
	require.NoError(t, err)
	id := sentID(t, w)
	assert.Equal(t, p.id, id)

	assert.True(t, c.resolve(&ControlResponse{Subtype: "success", RequestID: id}))
	assert.False(t, c.resolve(&ControlResponse{Subtype: "error", RequestID: id, Error: "late"}))
	assert.False(t, c.resolve(&ControlResponse{Subtype: "success", RequestID: "never-sent"}))

	_, err = c.await(context.Background(), p, time.Second)
	assert.NoError(t, err, "the first response wins")
}

func TestCorrelator_ErrorResponse(t *testing.T) {
	w := newRecordingWriter()
	c := newCorrelator(w, discardLogger())

	p, err := c.send(context.Background(), "set_model", map[string]any{"model": "x"})
	require.NoError(t, err)
	c.resolve(&ControlResponse{Subtype: "error", RequestID: sentID(t, w), Error: "unknown model"})

	_, err = c.await(context.Background(), p, time.Second)
	var cerr *ControlError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "set_model", cerr.Subtype)
	assert.Equal(t, "unknown model", cerr.Message)
}

func TestCorrelator_Timeout(t *testing.T) {
	w := newRecordingWriter()
	c := newCorrelator(w, discardLogger())

	_, err := c.request(context.Background(), "interrupt", nil, 20*time.Millisecond)
	require.ErrorIs(t, err, ErrControlTimeout)
	var terr *ControlTimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 20*time.Millisecond, terr.Timeout)
	assert.Equal(t, 0, c.pendingCount())

	// The late response is dropped.
	assert.False(t, c.resolve(&ControlResponse{Subtype: "success", RequestID: terr.RequestID}))
}

func TestCorrelator_ContextCancel(t *testing.T) {
	w := newRecordingWriter()
	c := newCorrelator(w, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-w.frames
		cancel()
	}()
	_, err := c.request(ctx, "interrupt", nil, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, c.pendingCount())
}

func TestCorrelator_FailAll(t *testing.T) {
	w := newRecordingWriter()
	c := newCorrelator(w, discardLogger())
	boom := errors.New("process died")

	const n = 5
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		p, err := c.send(context.Background(), "interrupt", nil)
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.await(context.Background(), p, 0)
			errs <- err
		}()
	}

	c.failAll(boom)
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, 0, c.pendingCount())

	_, err := c.send(context.Background(), "interrupt", nil)
	assert.ErrorIs(t, err, boom, "sends after failAll fail immediately")
}

func TestCorrelator_UniqueIDs(t *testing.T) {
	c := newCorrelator(newRecordingWriter(), discardLogger())
	seen := make(map[string]bool)
	for range 1000 {
		id := c.nextID()
		require.False(t, seen[id], id)
		seen[id] = true
	}
}

type failingWriter struct{}

func (failingWriter) writeJSON(any) error { return ErrSessionClosed }

func TestCorrelator_WriteFailureRemovesPending(t *testing.T) {
	c := newCorrelator(failingWriter{}, discardLogger())
	_, err := c.send(context.Background(), "interrupt", nil)
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Equal(t, 0, c.pendingCount())
}
