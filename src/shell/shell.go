// Package shell runs one-off subprocesses with a hard deadline. Executor
// scripts, tmux probes, mutt, git and systemctl all go through a Runner so
// callers can be tested without spawning anything.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// ErrTimeout is returned when a command outlives its timeout
var ErrTimeout = errors.New("command timed out")

// Command describes one subprocess invocation
type Command struct {
	Name  string
	Args  []string
	Dir   string
	Stdin string

	// Timeout kills the process once exceeded. Zero means the caller's
	// context is the only deadline.
	Timeout time.Duration
}

// CommandLine renders the command for logs
func (c Command) CommandLine() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// ShellResult is the outcome of a command that ran to completion. A
// non-zero exit status is reported here, not as an error.
type ShellResult struct {
	Output   string
	Error    string
	ExitCode int
}

// OK reports whether the command exited with status zero
func (r *ShellResult) OK() bool {
	return r.ExitCode == 0
}

// Runner runs commands
type Runner interface {
	Run(ctx context.Context, cmd Command) (*ShellResult, error)
}

// Func adapts a function to Runner
type Func func(ctx context.Context, cmd Command) (*ShellResult, error)

func (f Func) Run(ctx context.Context, cmd Command) (*ShellResult, error) {
	return f(ctx, cmd)
}

// Exec runs commands with os/exec
type Exec struct {
	Logger *slog.Logger
}

var _ Runner = Exec{}

// Run starts cmd and waits for it. The error is non-nil only when the
// process could not be started or was killed by its deadline.
func (e Exec) Run(ctx context.Context, cmd Command) (*ShellResult, error) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.WaitDelay = time.Second
	if cmd.Stdin != "" {
		c.Stdin = strings.NewReader(cmd.Stdin)
	}
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()
	logger.Debug("command finished", "command", cmd.CommandLine(), "duration", time.Since(start), "error", err)

	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", cmd.Name, ErrTimeout)
		}
		return nil, ctx.Err()
	}

	result := &ShellResult{
		Output: stdout.String(),
		Error:  stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to run %s: %w", cmd.Name, err)
		}
		result.ExitCode = exitErr.ExitCode()
	}
	return result, nil
}
