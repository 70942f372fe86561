// Package command runs external CLI tools (docker, gcloud) and reports their
// exit status.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// =============================================================================
// Types
// =============================================================================

// ErrEmptyExecutable is returned when a Command names no executable.
var ErrEmptyExecutable = errors.New("command executable can not be empty")

// NoExitStatus marks a command that never produced an exit status
// (it could not be started or was killed).
const NoExitStatus = -1

// Command is one invocation of an external tool.
type Command struct {
	WorkDir    string
	Executable string
	Args       []string
	// Env entries are appended to the inherited environment.
	Env []string
	// Secrets are masked wherever they appear in String.
	Secrets []string
}

// String renders the command line for logs, with secrets masked.
func (c Command) String() string {
	line := c.Executable
	if len(c.Args) > 0 {
		line += " " + strings.Join(c.Args, " ")
	}
	for _, secret := range c.Secrets {
		if secret != "" {
			line = strings.ReplaceAll(line, secret, "****")
		}
	}
	return line
}

// Result is the captured output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// Error reports a command that failed to start or exited non-zero.
type Error struct {
	Command  Command
	ExitCode int
	Stderr   string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: exit status %d", e.Command.String(), e.ExitCode)
	if e.ExitCode == NoExitStatus {
		msg = fmt.Sprintf("%s: %v", e.Command.String(), e.Err)
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ExitCode returns the exit status carried by err, or NoExitStatus.
func ExitCode(err error) int {
	var cmdErr *Error
	if errors.As(err, &cmdErr) {
		return cmdErr.ExitCode
	}
	return NoExitStatus
}

// Stderr returns the captured stderr carried by err, or "".
func Stderr(err error) string {
	var cmdErr *Error
	if errors.As(err, &cmdErr) {
		return cmdErr.Stderr
	}
	return ""
}

// =============================================================================
// Exec Runner
// =============================================================================

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	logger *slog.Logger
}

// NewExecRunner creates a runner that logs each command line at debug level.
func NewExecRunner(logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{logger: logger.With("component", "command")}
}

// Run executes cmd and waits for it. Output is never logged since it may hold
// credentials.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	if cmd.Executable == "" {
		return Result{ExitCode: NoExitStatus}, ErrEmptyExecutable
	}

	// nolint:gosec
	c := exec.CommandContext(ctx, cmd.Executable, cmd.Args...)
	c.Dir = cmd.WorkDir
	if len(cmd.Env) > 0 {
		c.Env = append(c.Environ(), cmd.Env...)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	r.logger.Debug("running command", "cmd", cmd.String(), "dir", cmd.WorkDir)
	err := c.Run()

	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: c.ProcessState.ExitCode(),
	}
	if err == nil {
		return result, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		result.ExitCode = NoExitStatus
	}
	r.logger.Debug("command failed", "cmd", cmd.Executable, "exit_code", result.ExitCode)
	return result, &Error{
		Command:  cmd,
		ExitCode: result.ExitCode,
		Stderr:   result.Stderr,
		Err:      err,
	}
}
