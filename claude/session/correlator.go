package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// frameWriter is the write side shared by prompts, outbound control
// requests and control responses.
type frameWriter interface {
	writeJSON(v any) error
}

// pendingRequest is the single-resolution slot of one outbound control request.
type pendingRequest struct {
	id      string
	subtype string
	created time.Time

	once     sync.Once
	done     chan struct{}
	response json.RawMessage
	err      error
}

func newPendingRequest(id, subtype string) *pendingRequest {
	return &pendingRequest{
		id:      id,
		subtype: subtype,
		created: time.Now(),
		done:    make(chan struct{}),
	}
}

// fulfill resolves the slot. Only the first call has any effect.
func (p *pendingRequest) fulfill(response json.RawMessage, err error) bool {
	first := false
	p.once.Do(func() {
		p.response = response
		p.err = err
		close(p.done)
		first = true
	})
	return first
}

// correlator matches control responses to the outbound requests that
// caused them.
type correlator struct {
	w      frameWriter
	logger *slog.Logger

	counter atomic.Uint64

	mu      sync.Mutex
	pending map[string]*pendingRequest
	failed  error
}

func newCorrelator(w frameWriter, logger *slog.Logger) *correlator {
	return &correlator{
		w:       w,
		logger:  logger,
		pending: make(map[string]*pendingRequest),
	}
}

// nextID returns req_<counter>_<random>, unique per session.
func (c *correlator) nextID() string {
	n := c.counter.Add(1)
	return fmt.Sprintf("req_%d_%s", n, uuid.NewString()[:8])
}

// send writes a control request and returns its pending slot without
// waiting for the response.
func (c *correlator) send(ctx context.Context, subtype string, payload any) (*pendingRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := c.nextID()
	req, err := newControlRequest(id, subtype, payload)
	if err != nil {
		return nil, err
	}
	p := newPendingRequest(id, subtype)

	c.mu.Lock()
	if c.failed != nil {
		err := c.failed
		c.mu.Unlock()
		return nil, err
	}
	c.pending[id] = p
	c.mu.Unlock()

	if err := c.w.writeJSON(req); err != nil {
		c.remove(id)
		return nil, fmt.Errorf("send %s control request: %w", subtype, err)
	}
	return p, nil
}

// await blocks until p resolves, ctx ends, or timeout (if > 0) elapses.
// Timing out removes the entry so a late response is discarded.
func (c *correlator) await(ctx context.Context, p *pendingRequest, timeout time.Duration) (json.RawMessage, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-p.done:
	case <-ctx.Done():
		c.remove(p.id)
		p.fulfill(nil, ctx.Err())
	case <-timer:
		c.remove(p.id)
		p.fulfill(nil, &ControlTimeoutError{RequestID: p.id, Subtype: p.subtype, Timeout: timeout})
	}
	<-p.done
	return p.response, p.err
}

// request is send followed by await.
func (c *correlator) request(ctx context.Context, subtype string, payload any, timeout time.Duration) (json.RawMessage, error) {
	p, err := c.send(ctx, subtype, payload)
	if err != nil {
		return nil, err
	}
	return c.await(ctx, p, timeout)
}

// resolve routes a control response to its pending request. Responses for
// unknown ids (late or duplicate) are discarded and reported as false.
func (c *correlator) resolve(resp *ControlResponse) bool {
	c.mu.Lock()
	p, ok := c.pending[resp.RequestID]
	if ok {
		delete(c.pending, resp.RequestID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("discarding control response for unknown request",
			"request_id", resp.RequestID,
			"subtype", resp.Subtype,
		)
		return false
	}

	if resp.IsError() {
		return p.fulfill(nil, &ControlError{RequestID: p.id, Subtype: p.subtype, Message: resp.Error})
	}
	return p.fulfill(resp.Response, nil)
}

// failAll fails every pending request with err. Later sends fail with err
// as well.
func (c *correlator) failAll(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*pendingRequest)
	if c.failed == nil {
		c.failed = err
	}
	c.mu.Unlock()

	for _, p := range pending {
		p.fulfill(nil, err)
	}
}

func (c *correlator) remove(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *correlator) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
