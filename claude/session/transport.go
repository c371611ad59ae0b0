package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/randalmurphal/claudeagent/claudecontract"
)

// Transport connects a session to a running CLI.
type Transport interface {
	// Start launches the CLI. It is called once, from Connect.
	Start(ctx context.Context) error

	// Stdin is the CLI's input stream.
	Stdin() io.WriteCloser

	// Stdout is the CLI's output stream.
	Stdout() io.Reader

	// Wait blocks until the CLI exits. It returns nil for a zero exit
	// status and a *ProcessError otherwise.
	Wait() error

	// Close terminates the CLI and releases its resources. It is
	// idempotent and safe to call when Start failed or never ran.
	Close() error
}

const (
	killGrace   = 2 * time.Second
	stdoutDrain = time.Second
)

// subprocessTransport runs the claude binary in its own process group.
type subprocessTransport struct {
	cfg    *sessionConfig
	logger *slog.Logger

	cmd      *exec.Cmd
	cancel   context.CancelFunc
	stdin    io.WriteCloser
	stdout   *stdoutReader
	stderr   *stderrBuffer
	tempFile string

	exited  chan struct{}
	waitErr error

	closeOnce sync.Once
	closeErr  error
}

func newSubprocessTransport(cfg *sessionConfig, logger *slog.Logger) *subprocessTransport {
	return &subprocessTransport{
		cfg:    cfg,
		logger: logger,
		stderr: newStderrBuffer(cfg.stderrLines, cfg.onStderr, logger),
		exited: make(chan struct{}),
	}
}

// resolveCLIPath looks a bare command name up in PATH and checks that an
// explicit path exists.
func resolveCLIPath(path string) (string, error) {
	if path == "" {
		path = "claude"
	}
	if !strings.ContainsRune(path, filepath.Separator) {
		found, err := exec.LookPath(path)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrCLINotFound, path)
		}
		return found, nil
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrCLINotFound, path)
	}
	return path, nil
}

// Start implements Transport.
func (t *subprocessTransport) Start(ctx context.Context) error {
	path, err := resolveCLIPath(t.cfg.claudePath)
	if err != nil {
		return &ProcessError{ExitCode: -1, Err: err}
	}

	if !t.cfg.skipVersionCheck {
		claudecontract.CheckVersion(ctx, path, t.logger)
	}

	args, err := buildArgs(t.cfg)
	if err != nil {
		return err
	}
	args, t.tempFile, err = spillAgents(args)
	if err != nil {
		return err
	}
	if t.tempFile != "" {
		t.logger.Info("command line too long, passing agents through temp file",
			"path", t.tempFile,
			"limit", commandLengthLimit,
		)
	}

	// The process outlives the Connect context; Close owns its lifetime.
	procCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	cmd := exec.CommandContext(procCtx, path, args...)
	// Own process group so MCP servers and other children die with the CLI.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = killGrace
	cmd.Env = buildEnv(t.cfg)
	if t.cfg.workdir != "" {
		cmd.Dir = t.cfg.workdir
	}

	t.stdin, err = cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	// os.Pipe instead of StdoutPipe: Wait must not close our read end
	// before the reader has drained it.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		cancel()
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = t.stderr
	t.stdout = newStdoutReader(stdoutR)

	t.logger.Debug("starting claude", "path", path, "args", args, "workdir", t.cfg.workdir)
	if err := cmd.Start(); err != nil {
		cancel()
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return &ProcessError{ExitCode: -1, Err: fmt.Errorf("start claude: %w", err)}
	}
	_ = stdoutW.Close()
	t.cmd = cmd

	go t.wait()
	return nil
}

func (t *subprocessTransport) wait() {
	err := t.cmd.Wait()
	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		t.waitErr = &ProcessError{ExitCode: exitCode, Stderr: t.stderr.String(), Err: err}
	}
	close(t.exited)

	// A grandchild holding stdout open must not keep the reader blocked
	// forever once the CLI itself is gone.
	select {
	case <-t.stdout.done:
	case <-time.After(stdoutDrain):
		t.logger.Debug("stdout still open after exit, closing it")
		t.stdout.cutOff()
	}
}

// Stdin implements Transport.
func (t *subprocessTransport) Stdin() io.WriteCloser { return t.stdin }

// Stdout implements Transport.
func (t *subprocessTransport) Stdout() io.Reader { return t.stdout }

// Wait implements Transport.
func (t *subprocessTransport) Wait() error {
	if t.cmd == nil {
		return nil
	}
	<-t.exited
	return t.waitErr
}

// Close implements Transport.
func (t *subprocessTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.shutdown()
		if t.tempFile != "" {
			if err := os.Remove(t.tempFile); err != nil && !errors.Is(err, os.ErrNotExist) {
				t.logger.Warn("failed to remove temp file", "path", t.tempFile, "error", err)
			}
		}
	})
	return t.closeErr
}

// shutdown closes stdin and waits for a graceful exit, then escalates to
// SIGTERM and finally SIGKILL of the whole process group.
func (t *subprocessTransport) shutdown() error {
	if t.cmd == nil || t.cmd.Process == nil {
		return nil
	}
	defer t.cancel()

	_ = t.stdin.Close()

	select {
	case <-t.exited:
	case <-time.After(t.cfg.closeTimeout):
		t.cancel() // SIGTERM to the group via cmd.Cancel
		select {
		case <-t.exited:
		case <-time.After(killGrace):
			_ = syscall.Kill(-t.cmd.Process.Pid, syscall.SIGKILL)
			select {
			case <-t.exited:
			case <-time.After(1 * time.Second):
				return fmt.Errorf("process did not exit after kill")
			}
		}
	}

	// Reap anything left in the group (MCP servers, browsers).
	_ = syscall.Kill(-t.cmd.Process.Pid, syscall.SIGKILL)
	t.stdout.cutOff()
	return nil
}

// stdoutReader reports when the reader has hit the end of the CLI's
// stdout. Closing it from our side reads as a clean EOF, so the session
// classifies the exit by the process status rather than a closed-file
// error.
type stdoutReader struct {
	f    *os.File
	cut  atomic.Bool
	done chan struct{}
	once sync.Once
}

func newStdoutReader(f *os.File) *stdoutReader {
	return &stdoutReader{f: f, done: make(chan struct{})}
}

func (r *stdoutReader) Read(p []byte) (int, error) {
	n, err := r.f.Read(p)
	if err != nil {
		r.once.Do(func() { close(r.done) })
		if r.cut.Load() && !errors.Is(err, io.EOF) {
			err = io.EOF
		}
	}
	return n, err
}

// cutOff closes the read end, unblocking a pending Read.
func (r *stdoutReader) cutOff() {
	r.cut.Store(true)
	_ = r.f.Close()
}

// buildEnv returns the process environment: the caller's environment, the
// SDK identification variables, then caller overrides.
func buildEnv(cfg *sessionConfig) []string {
	env := os.Environ()
	env = setEnvVar(env, claudecontract.EnvEntrypoint, claudecontract.EntrypointGo)
	env = setEnvVar(env, claudecontract.EnvSDKVersion, claudecontract.SDKVersion)
	if cfg.homeDir != "" {
		env = setEnvVar(env, claudecontract.EnvHome, cfg.homeDir)
	}
	if cfg.configDir != "" {
		env = setEnvVar(env, claudecontract.EnvConfigDir, cfg.configDir)
	}
	keys := make([]string, 0, len(cfg.extraEnv))
	for k := range cfg.extraEnv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = setEnvVar(env, k, cfg.extraEnv[k])
	}
	return env
}

// setEnvVar updates or adds an environment variable.
func setEnvVar(env []string, key, value string) []string {
	prefix := key + "="
	for i, e := range env {
		if strings.HasPrefix(e, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}

// stderrBuffer keeps the last few stderr lines for ProcessError and
// forwards each line to the logger and an optional callback.
type stderrBuffer struct {
	mu       sync.Mutex
	lines    []string
	partial  []byte
	maxLines int
	onLine   func(string)
	logger   *slog.Logger
}

const maxStderrPartial = 64 * 1024

func newStderrBuffer(maxLines int, onLine func(string), logger *slog.Logger) *stderrBuffer {
	if maxLines <= 0 {
		maxLines = 100
	}
	return &stderrBuffer{maxLines: maxLines, onLine: onLine, logger: logger}
}

func (b *stderrBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.partial = append(b.partial, p...)
	for {
		i := bytes.IndexByte(b.partial, '\n')
		if i < 0 {
			break
		}
		b.add(strings.TrimRight(string(b.partial[:i]), "\r"))
		b.partial = b.partial[i+1:]
	}
	if len(b.partial) > maxStderrPartial {
		b.add(string(b.partial))
		b.partial = nil
	}
	return len(p), nil
}

func (b *stderrBuffer) add(line string) {
	if line == "" {
		return
	}
	b.logger.Debug("claude stderr", "line", line)
	if b.onLine != nil {
		b.onLine(line)
	}
	b.lines = append(b.lines, line)
	if len(b.lines) > b.maxLines {
		b.lines = b.lines[len(b.lines)-b.maxLines:]
	}
}

// String returns the retained stderr tail.
func (b *stderrBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := strings.Join(b.lines, "\n")
	if len(b.partial) > 0 {
		if out != "" {
			out += "\n"
		}
		out += string(b.partial)
	}
	return out
}
