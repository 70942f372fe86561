// Package gcloud drives the gcloud CLI: registry authentication, image
// listing and deletion, and provisioning of the managed resources.
package gcloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/artpar/stackship/internal/shell/command"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrAlreadyExists = errors.New("resource already exists")
	ErrNotFound      = errors.New("resource not found")
	ErrEmptyOutput   = errors.New("command produced no output")
)

// GcloudError wraps gcloud failures with the operation and resource involved.
type GcloudError struct {
	Op      string // Operation that failed
	Entity  string // Resource kind (service_account, registry, image, ...)
	ID      string // Resource name if applicable
	Message string
	Err     error
}

func (e *GcloudError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *GcloudError) Unwrap() error {
	return e.Err
}

// NewGcloudError creates a new GcloudError.
func NewGcloudError(op, entity, id, message string, err error) *GcloudError {
	return &GcloudError{Op: op, Entity: entity, ID: id, Message: message, Err: err}
}

// =============================================================================
// CLI
// =============================================================================

// CLI runs gcloud subcommands against one project.
type CLI struct {
	runner     command.Runner
	executable string
	project    string
	logger     *slog.Logger
}

// NewCLI creates a gcloud CLI bound to project.
func NewCLI(runner command.Runner, project string, logger *slog.Logger) *CLI {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLI{
		runner:     runner,
		executable: "gcloud",
		project:    project,
		logger:     logger.With("component", "gcloud"),
	}
}

// Project returns the project the CLI is bound to.
func (c *CLI) Project() string {
	return c.project
}

// command builds a gcloud invocation that is not scoped to a project.
func (c *CLI) command(args ...string) command.Command {
	return command.Command{Executable: c.executable, Args: args}
}

// run executes gcloud with args followed by --project.
func (c *CLI) run(ctx context.Context, secrets []string, args ...string) (command.Result, error) {
	if c.project != "" {
		args = append(args, "--project", c.project)
	}
	return c.runner.Run(ctx, command.Command{
		Executable: c.executable,
		Args:       args,
		Secrets:    secrets,
	})
}

// alreadyExists reports whether err is gcloud refusing to create an existing resource.
func alreadyExists(err error) bool {
	stderr := strings.ToLower(command.Stderr(err))
	return strings.Contains(stderr, "already_exists") || strings.Contains(stderr, "already exists")
}

// notFound reports whether err is gcloud reporting a missing resource.
func notFound(err error) bool {
	stderr := strings.ToLower(command.Stderr(err))
	return strings.Contains(stderr, "not_found") || strings.Contains(stderr, "not found")
}
