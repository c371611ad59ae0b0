// Package jsonl reads and tails Claude Code session transcripts.
//
// Claude Code writes session history to JSONL files at:
//
//	~/.claude/projects/{normalized-path}/{sessionId}.jsonl
//
// Each line is a JSON object: user and assistant turns plus bookkeeping
// entries. Session.TranscriptPath returns the file of a live session; Tail
// follows it while the session runs.
package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/randalmurphal/claudeagent/claude/session"
	"github.com/randalmurphal/claudeagent/claudecontract"
)

const (
	maxLineSize         = 10 * 1024 * 1024
	defaultPollInterval = 100 * time.Millisecond
)

// Option configures a Reader.
type Option func(*Reader)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reader) { r.logger = logger }
}

// WithPollInterval sets the polling interval used when file notifications
// are unavailable.
func WithPollInterval(d time.Duration) Option {
	return func(r *Reader) { r.pollInterval = d }
}

// Reader reads a transcript file.
type Reader struct {
	path         string
	file         *os.File
	logger       *slog.Logger
	pollInterval time.Duration
}

// NewReader opens the transcript at path.
func NewReader(path string, opts ...Option) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open jsonl file: %w", err)
	}
	r := &Reader{path: path, file: file, pollInterval: defaultPollInterval}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.pollInterval <= 0 {
		r.pollInterval = defaultPollInterval
	}
	return r, nil
}

// Path returns the file path being read.
func (r *Reader) Path() string {
	return r.path
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// ReadAll reads every entry in the file. Malformed lines are skipped.
func (r *Reader) ReadAll() ([]Entry, error) {
	entries, _, err := r.ReadFrom(0)
	return entries, err
}

// ReadFrom reads entries starting at a byte offset and returns the offset
// after the last complete line. A trailing line without a newline is parsed
// when it is valid JSON; otherwise it is left for the next read.
func (r *Reader) ReadFrom(offset int64) ([]Entry, int64, error) {
	if _, err := r.file.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("seek to offset: %w", err)
	}

	var entries []Entry
	br := bufio.NewReaderSize(r.file, 64*1024)
	for {
		line, err := readLine(br)
		if len(line) > 0 {
			complete := line[len(line)-1] == '\n'
			if e, ok := r.parse(line, !complete); ok {
				entries = append(entries, *e)
				offset += int64(len(line))
			} else if complete {
				offset += int64(len(line))
			}
		}
		if errors.Is(err, io.EOF) {
			return entries, offset, nil
		}
		if err != nil {
			return entries, offset, fmt.Errorf("read jsonl: %w", err)
		}
	}
}

// Tail follows the file from its current end and sends each new entry on
// the returned channel. The channel is closed when ctx is done. File
// notifications are used when available, polling otherwise.
func (r *Reader) Tail(ctx context.Context) <-chan Entry {
	ch := make(chan Entry, 100)

	go func() {
		defer close(ch)

		offset, err := r.file.Seek(0, io.SeekEnd)
		if err != nil {
			r.logger.Warn("tail: seek to end failed", "path", r.path, "error", err)
			return
		}
		t := &tailer{r: r, ch: ch, offset: offset, br: bufio.NewReaderSize(r.file, 64*1024)}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			r.logger.Debug("tail: falling back to polling", "path", r.path, "error", err)
			t.poll(ctx)
			return
		}
		defer watcher.Close()

		// Watch the directory; editors and log rotation replace files.
		if err := watcher.Add(filepath.Dir(r.path)); err != nil {
			r.logger.Debug("tail: falling back to polling", "path", r.path, "error", err)
			t.poll(ctx)
			return
		}
		t.watch(ctx, watcher)
	}()

	return ch
}

type tailer struct {
	r       *Reader
	ch      chan<- Entry
	offset  int64
	br      *bufio.Reader
	partial []byte
}

func (t *tailer) watch(ctx context.Context, watcher *fsnotify.Watcher) {
	base := filepath.Base(t.r.path)
	// A safety tick catches writes that raced the watcher setup.
	ticker := time.NewTicker(t.r.pollInterval * 10)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base || !event.Has(fsnotify.Write) {
				continue
			}
			if !t.drain(ctx) {
				return
			}
		case <-ticker.C:
			if !t.drain(ctx) {
				return
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			t.r.logger.Warn("tail: watcher error", "path", t.r.path, "error", err)
		}
	}
}

func (t *tailer) poll(ctx context.Context) {
	ticker := time.NewTicker(t.r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !t.drain(ctx) {
				return
			}
		}
	}
}

// drain sends every complete line written since the last call. It returns
// false when ctx ended while sending.
func (t *tailer) drain(ctx context.Context) bool {
	info, err := t.r.file.Stat()
	if err != nil {
		return true
	}
	if info.Size() < t.offset {
		t.r.logger.Debug("tail: file truncated, restarting", "path", t.r.path)
		if _, err := t.r.file.Seek(0, io.SeekStart); err != nil {
			return true
		}
		t.offset = 0
		t.partial = nil
		t.br.Reset(t.r.file)
	}

	for {
		line, err := readLine(t.br)
		t.offset += int64(len(line))
		t.partial = append(t.partial, line...)
		if len(t.partial) > 0 && t.partial[len(t.partial)-1] == '\n' {
			e, ok := t.r.parse(t.partial, false)
			t.partial = nil
			if ok {
				select {
				case t.ch <- *e:
				case <-ctx.Done():
					return false
				}
			}
		}
		if err != nil {
			return true
		}
	}
}

// readLine reads up to and including the next newline, capped at
// maxLineSize.
func readLine(br *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, err := br.ReadSlice('\n')
		line = append(line, chunk...)
		if errors.Is(err, bufio.ErrBufferFull) {
			if len(line) > maxLineSize {
				return line, fmt.Errorf("line exceeds %d bytes", maxLineSize)
			}
			continue
		}
		return line, err
	}
}

// parse decodes one line. quiet suppresses the log for a trailing line
// that may still be being written.
func (r *Reader) parse(line []byte, quiet bool) (*Entry, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, false
	}
	e, err := ParseEntry(line)
	if err != nil {
		if !quiet {
			r.logger.Debug("skipping malformed transcript line", "path", r.path, "error", err)
		}
		return nil, false
	}
	return e, true
}

// ReadFile opens, reads and closes a transcript.
func ReadFile(path string) ([]Entry, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.ReadAll()
}

// FindSessionFiles returns all transcripts under a projects directory
// (usually ~/.claude/projects).
func FindSessionFiles(projectsDir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(projectsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == projectsDir {
				return err
			}
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(path, claudecontract.TranscriptExt) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk projects dir: %w", err)
	}
	return files, nil
}

// Summary aggregates a transcript.
type Summary struct {
	SessionID                string
	MessageCount             int
	UserMessages             int
	AssistantMessages        int
	TotalInputTokens         int
	TotalOutputTokens        int
	TotalCacheCreationTokens int
	TotalCacheReadTokens     int
	Models                   map[string]int // model -> assistant message count
	ToolCalls                int
	FirstTimestamp           string
	LastTimestamp            string
}

// Summarize reads a transcript and aggregates its turns and token usage.
func Summarize(path string) (*Summary, error) {
	entries, err := ReadFile(path)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Models: make(map[string]int)}
	for i := range entries {
		e := &entries[i]
		summary.MessageCount++

		if e.Timestamp != "" {
			if summary.FirstTimestamp == "" {
				summary.FirstTimestamp = e.Timestamp
			}
			summary.LastTimestamp = e.Timestamp
		}
		if summary.SessionID == "" && e.SessionID != "" {
			summary.SessionID = e.SessionID
		}

		if e.IsUser() {
			summary.UserMessages++
		}
		if e.IsAssistant() {
			summary.AssistantMessages++
			if model := e.Model(); model != "" {
				summary.Models[model]++
			}
			if usage := e.Usage(); usage != nil {
				summary.TotalInputTokens += usage.InputTokens
				summary.TotalOutputTokens += usage.OutputTokens
				summary.TotalCacheCreationTokens += usage.CacheCreationInputTokens
				summary.TotalCacheReadTokens += usage.CacheReadInputTokens
			}
			summary.ToolCalls += len(e.ToolCalls())
		}
	}
	return summary, nil
}

// ExtractTodos returns every TodoWrite snapshot in chronological order.
func ExtractTodos(path string) ([][]TodoItem, error) {
	entries, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snapshots [][]TodoItem
	for i := range entries {
		if todos := entries[i].Todos(); len(todos) > 0 {
			snapshots = append(snapshots, todos)
		}
	}
	return snapshots, nil
}

// ExtractToolCalls returns every tool_use block in the transcript.
func ExtractToolCalls(path string) ([]*session.ToolUseBlock, error) {
	entries, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	var calls []*session.ToolUseBlock
	for i := range entries {
		calls = append(calls, entries[i].ToolCalls()...)
	}
	return calls, nil
}

// FilterByModel returns the entries produced by model.
func FilterByModel(entries []Entry, model string) []Entry {
	var filtered []Entry
	for _, e := range entries {
		if e.Model() == model {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// ToJSON renders entries as an indented JSON array.
func ToJSON(entries []Entry) ([]byte, error) {
	return json.MarshalIndent(entries, "", "  ")
}
