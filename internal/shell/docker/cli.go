package docker

import (
	"context"
	"strings"

	"github.com/artpar/stackship/internal/shell/command"
)

// =============================================================================
// CLI Tool
// =============================================================================

// CLITool looks up, tags and pushes images with the docker CLI. Registry
// credentials come from the docker credential helpers configured on the host.
type CLITool struct {
	runner     command.Runner
	executable string
}

// NewCLITool creates a tool that runs the docker binary found on PATH.
func NewCLITool(runner command.Runner) *CLITool {
	return &CLITool{runner: runner, executable: "docker"}
}

// LocalImageID returns the id of the local image ref, or "" when it does not exist.
func (t *CLITool) LocalImageID(ctx context.Context, ref string) (string, error) {
	res, err := t.run(ctx, "images", "-q", ref)
	if err != nil {
		return "", NewDockerError("LocalImageID", "image", ref, "docker images failed", err)
	}
	id, _, _ := strings.Cut(strings.TrimSpace(res.Stdout), "\n")
	return strings.TrimSpace(id), nil
}

// Tag adds target as a name of the local image source.
func (t *CLITool) Tag(ctx context.Context, source, target string) error {
	if _, err := t.run(ctx, "tag", source, target); err != nil {
		return NewDockerError("Tag", "image", source, "docker tag failed", err)
	}
	return nil
}

// Push uploads ref to its registry.
func (t *CLITool) Push(ctx context.Context, ref string) error {
	if _, err := t.run(ctx, "push", ref); err != nil {
		return NewDockerError("Push", "image", ref, "docker push failed", err)
	}
	return nil
}

func (t *CLITool) run(ctx context.Context, args ...string) (command.Result, error) {
	return t.runner.Run(ctx, command.Command{Executable: t.executable, Args: args})
}
