package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

var ErrPathViolation = errors.New("path escapes the script directory")

const truncationMarker = "...(truncated)"

type Options struct {
	DefaultTimeout time.Duration
	CaptureCap     int
}

// Executor runs tool invocations scoped to a single root directory. All
// paths the reasoning backend supplies resolve against this root; anything
// that escapes it is refused before touching the filesystem.
type Executor struct {
	root    string
	timeout time.Duration
	cap     int
}

type Result struct {
	ExitCode        int    `json:"exit_code"`
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	StdoutTruncated bool   `json:"stdout_truncated,omitempty"`
	StderrTruncated bool   `json:"stderr_truncated,omitempty"`
	DurationMs      int64  `json:"duration_ms"`
	TimedOut        bool   `json:"timed_out,omitempty"`
	PathViolation   bool   `json:"path_violation,omitempty"`
	Failure         string `json:"failure,omitempty"`
}

func (r Result) OK() bool {
	return r.ExitCode == 0 && !r.TimedOut && !r.PathViolation && r.Failure == ""
}

func NewExecutor(rootDir string, opts Options) (*Executor, error) {
	root := strings.TrimSpace(rootDir)
	if root == "" {
		return nil, errors.New("script root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, err
	}
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	captureCap := opts.CaptureCap
	if captureCap <= 0 {
		captureCap = 64 * 1024
	}
	return &Executor{root: resolved, timeout: timeout, cap: captureCap}, nil
}

func (e *Executor) Root() string { return e.root }

// RunCommand executes an argument vector inside the root. There is no shell
// in the path: pipes, globs and substitutions the backend asks for must go
// through an explicit script instead.
func (e *Executor) RunCommand(ctx context.Context, command string, args []string) (Result, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return Result{ExitCode: -1, Failure: "command is required"}, nil
	}
	return e.runProcess(ctx, command, args)
}

// RunScript executes a previously written script with a whitelisted
// interpreter. The script path goes through the same containment check as
// the file tools.
func (e *Executor) RunScript(ctx context.Context, path, interpreter string) (Result, error) {
	resolved, err := e.resolvePath(path)
	if err != nil {
		return pathViolationResult(path, err), nil
	}
	interpreterBin, err := resolveInterpreter(interpreter)
	if err != nil {
		return Result{ExitCode: -1, Failure: err.Error()}, nil
	}
	return e.runProcess(ctx, interpreterBin, []string{resolved})
}

func resolveInterpreter(interpreter string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(interpreter)) {
	case "", "bash", "sh":
		return "bash", nil
	case "python", "python3":
		return "python3", nil
	default:
		return "", fmt.Errorf("interpreter %q is not allowed (bash or python3)", strings.TrimSpace(interpreter))
	}
}

func (e *Executor) runProcess(parent context.Context, bin string, args []string) (Result, error) {
	ctx, cancel := context.WithTimeout(parent, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = e.root
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// Kill the whole process group so children do not outlive the tool.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 2 * time.Second

	stdout := newCappedBuffer(e.cap)
	stderr := newCappedBuffer(e.cap)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	started := time.Now()
	runErr := cmd.Run()
	duration := time.Since(started).Milliseconds()

	res := Result{
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		StdoutTruncated: stdout.Truncated(),
		StderrTruncated: stderr.Truncated(),
		DurationMs:      duration,
	}

	if parent.Err() != nil && ctx.Err() != context.DeadlineExceeded {
		// Caller-driven cancellation: the child is already reclaimed, let
		// the engine decide what the task becomes.
		return res, parent.Err()
	}
	if ctx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.ExitCode = -1
		return res, nil
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		res.ExitCode = -1
		res.Failure = runErr.Error()
		return res, nil
	}
	res.ExitCode = 0
	return res, nil
}

func pathViolationResult(path string, err error) Result {
	failure := err.Error()
	if errors.Is(err, ErrPathViolation) {
		failure = fmt.Sprintf("path %q escapes the script directory", strings.TrimSpace(path))
	}
	return Result{ExitCode: -1, PathViolation: errors.Is(err, ErrPathViolation), Failure: failure}
}

// TimestampedScriptName names a generated script the way the auto-execute
// flow stores them, one file per run.
func TimestampedScriptName(interpreter string) string {
	ext := "sh"
	if bin, err := resolveInterpreter(interpreter); err == nil && bin == "python3" {
		ext = "py"
	}
	return fmt.Sprintf("task_%s.%s", time.Now().Format("20060102_150405"), ext)
}

type cappedBuffer struct {
	mu        sync.Mutex
	limit     int
	data      []byte
	truncated bool
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.limit - len(b.data)
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		b.data = append(b.data, p[:remaining]...)
		b.truncated = true
		return len(p), nil
	}
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return string(b.data) + truncationMarker
	}
	return string(b.data)
}

func (b *cappedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
