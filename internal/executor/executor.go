// Package executor runs manager subprocesses with optional privilege
// elevation.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"stevedore/pkg/manager"
)

// waitDelay bounds how long Run waits for output pipes after the process is
// killed.
const waitDelay = 2 * time.Second

// Command describes one subprocess invocation.
type Command struct {
	Program string
	Args    []string
	// Env holds extra KEY=VALUE pairs appended to the current environment.
	Env []string
	Dir string
	// Sudo runs the command elevated unless already root.
	Sudo bool
	// Mutates marks commands that change installed software. Dry-run skips
	// them along with elevated commands.
	Mutates bool
	// Timeout bounds the run; zero means only ctx bounds it.
	Timeout time.Duration
}

// String renders the command line for logs and dry-run output.
func (c Command) String() string {
	parts := append([]string{c.Program}, c.Args...)
	s := strings.Join(parts, " ")
	if c.Sudo {
		s = "sudo " + s
	}
	return s
}

// Result is the captured output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// ExitError describes a command that ran and exited non-zero.
type ExitError struct {
	Program string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Program, e.Code)
	if tail := lastLine(e.Stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}

// Runner runs commands. Adapters depend on this rather than on Executor so
// tests can substitute canned output.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
	LookPath(program string) (string, error)
}

// Executor is the OS-backed Runner.
type Executor struct {
	dryRun bool
	logger *slog.Logger
}

var _ Runner = (*Executor)(nil)

// Option configures an Executor.
type Option func(*Executor)

// WithDryRun makes the executor log mutating commands instead of running them.
func WithDryRun(dryRun bool) Option {
	return func(e *Executor) {
		e.dryRun = dryRun
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = l
	}
}

// New creates an Executor.
func New(opts ...Option) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// DryRun reports whether the executor is in dry-run mode.
func (e *Executor) DryRun() bool {
	return e.dryRun
}

// LookPath finds program in PATH.
func (e *Executor) LookPath(program string) (string, error) {
	return exec.LookPath(program)
}

// Run executes c and captures its output. Elevated and mutating commands are
// skipped in dry-run mode. A non-zero exit yields a process_failure error wrapping an
// *ExitError; the Result is still returned.
func (e *Executor) Run(ctx context.Context, c Command) (Result, error) {
	if c.Program == "" {
		return Result{}, manager.Errorf(manager.KindInvalidInput, "empty command")
	}
	if e.dryRun && (c.Sudo || c.Mutates) {
		e.logger.Info("dry-run, not executing", "command", c.String())
		return Result{}, nil
	}

	name, args := c.Program, c.Args
	if c.Sudo && !isRoot() {
		elevate, ok := elevator()
		if !ok {
			return Result{}, manager.Wrap(manager.KindProcessFailure, ErrNoPrivileges, c.Program)
		}
		// Never prompt: tasks run without a terminal. Callers authenticate
		// up front with Authenticate.
		name = elevate
		args = append([]string{"-n", c.Program}, c.Args...)
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug("executing", "command", c.String())
	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
		Duration: time.Since(start),
	}
	if err == nil {
		return res, nil
	}
	return res, classify(ctx, c, res, err)
}

func classify(ctx context.Context, c Command, res Result, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return manager.Wrap(manager.KindTimeout, ctx.Err(), fmt.Sprintf("%s timed out", c.Program))
	case errors.Is(ctx.Err(), context.Canceled):
		return manager.Wrap(manager.KindCancelled, ctx.Err(), fmt.Sprintf("%s was cancelled", c.Program))
	case errors.Is(err, exec.ErrNotFound):
		return manager.Wrap(manager.KindProcessFailure, err, fmt.Sprintf("%s not found", c.Program))
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return manager.Wrap(manager.KindProcessFailure, &ExitError{
			Program: c.Program,
			Code:    res.ExitCode,
			Stderr:  res.Stderr,
		}, "")
	}
	return manager.Wrap(manager.KindProcessFailure, err, fmt.Sprintf("failed to run %s", c.Program))
}

// Authenticate refreshes the elevation credential cache interactively so that
// later non-interactive elevated commands succeed.
func (e *Executor) Authenticate(ctx context.Context) error {
	if isRoot() || e.dryRun {
		return nil
	}
	elevate, ok := elevator()
	if !ok {
		return ErrNoPrivileges
	}
	cmd := exec.CommandContext(ctx, elevate, "-v")
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	return nil
}
