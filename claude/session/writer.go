package session

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// lineWriter is the single writer of the CLI's stdin. Each value is written
// as one complete JSON line under the mutex.
type lineWriter struct {
	mu     sync.Mutex
	w      io.WriteCloser
	closed bool
}

func newLineWriter(w io.WriteCloser) *lineWriter {
	return &lineWriter{w: w}
}

// writeJSON marshals v and writes it followed by a newline.
func (lw *lineWriter) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	data = append(data, '\n')

	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.closed {
		return ErrSessionClosed
	}
	if _, err := lw.w.Write(data); err != nil {
		return fmt.Errorf("write stdin: %w", err)
	}
	return nil
}

// close closes stdin, signalling EOF to the CLI. Later writes fail with
// ErrSessionClosed.
func (lw *lineWriter) close() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.closed {
		return nil
	}
	lw.closed = true
	return lw.w.Close()
}
