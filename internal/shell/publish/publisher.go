// Package publish moves a locally built image into the remote registry.
//
// A publish is three blocking steps run in order, stopping at the first
// failure:
//
//	tag -> authenticate -> upload
//
// Nothing is uploaded unless the local image exists.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/artpar/stackship/internal/core/domain"
	"github.com/artpar/stackship/internal/shell/command"
)

// Step names reported in PublishFailed errors.
const (
	StepInspect      = "inspect"
	StepTag          = "tag"
	StepAuthenticate = "authenticate"
	StepUpload       = "upload"
)

// DefaultBuildCommand is suggested when the local image is missing.
const DefaultBuildCommand = "make docker-build"

// =============================================================================
// Collaborators
// =============================================================================

// ArtifactTool looks up, tags and uploads local images.
type ArtifactTool interface {
	// LocalImageID returns "" when ref does not exist locally.
	LocalImageID(ctx context.Context, ref string) (string, error)
	Tag(ctx context.Context, source, target string) error
	Push(ctx context.Context, ref string) error
}

// Authenticator prepares registry credentials for uploads to registryHost.
type Authenticator interface {
	Authenticate(ctx context.Context, registryHost string) error
}

// =============================================================================
// Publisher
// =============================================================================

// Config wires a Publisher.
type Config struct {
	Tool          ArtifactTool
	Authenticator Authenticator
	// BuildCommand is named in MissingArtifact errors.
	BuildCommand string
	Clock        func() time.Time
	Logger       *slog.Logger
}

// Request describes one publish.
type Request struct {
	LocalRef string
	Remote   domain.RemoteBase
	Tag      string
	// ArtifactID is the id returned by an earlier Verify of LocalRef. When set
	// the existence check is not repeated.
	ArtifactID string
}

// Publisher runs the publish steps.
type Publisher struct {
	tool         ArtifactTool
	auth         Authenticator
	buildCommand string
	clock        func() time.Time
	logger       *slog.Logger
}

// NewPublisher creates a publisher.
func NewPublisher(cfg Config) *Publisher {
	if cfg.BuildCommand == "" {
		cfg.BuildCommand = DefaultBuildCommand
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Publisher{
		tool:         cfg.Tool,
		auth:         cfg.Authenticator,
		buildCommand: cfg.BuildCommand,
		clock:        cfg.Clock,
		logger:       cfg.Logger.With("component", "publisher"),
	}
}

// Verify checks the local image exists and returns its id.
// A missing image is ErrMissingArtifact naming the build command.
func (p *Publisher) Verify(ctx context.Context, localRef string) (string, error) {
	id, err := p.tool.LocalImageID(ctx, localRef)
	if err != nil {
		return "", stepError(StepInspect, fmt.Sprintf("cannot inspect local image %s", localRef), err)
	}
	if id == "" {
		return "", domain.NewPipelineError(domain.ErrMissingArtifact, StepInspect,
			fmt.Sprintf("local image %s not found; build it first with %q", localRef, p.buildCommand), nil)
	}
	p.logger.Debug("local image found", "image", localRef, "id", id)
	return id, nil
}

// Publish tags the local image with req.Tag under req.Remote and uploads it.
// The returned reference names exactly what was uploaded.
func (p *Publisher) Publish(ctx context.Context, req Request) (domain.ImageReference, error) {
	if err := req.Remote.Validate(); err != nil {
		return domain.ImageReference{}, err
	}
	if req.Tag == "" {
		return domain.ImageReference{}, domain.ConfigError("image tag", "is required")
	}

	if req.ArtifactID == "" {
		if _, err := p.Verify(ctx, req.LocalRef); err != nil {
			return domain.ImageReference{}, err
		}
	}

	ref := domain.NewImageReference(req.Remote, req.Tag, p.clock())
	remote := ref.String()
	log := p.logger.With("image", remote)

	log.Info("tagging image", "local", req.LocalRef)
	if err := p.tool.Tag(ctx, req.LocalRef, remote); err != nil {
		return domain.ImageReference{}, stepError(StepTag, "tag "+req.LocalRef+" as "+remote, err)
	}

	log.Info("authenticating to registry", "registry", req.Remote.RegistryHost)
	if err := p.auth.Authenticate(ctx, req.Remote.RegistryHost); err != nil {
		return domain.ImageReference{}, stepError(StepAuthenticate, "authenticate to "+req.Remote.RegistryHost, err)
	}

	log.Info("uploading image")
	if err := p.tool.Push(ctx, remote); err != nil {
		return domain.ImageReference{}, stepError(StepUpload, "upload "+remote, err)
	}

	log.Info("image published")
	return ref, nil
}

func stepError(step, message string, err error) *domain.PipelineError {
	return domain.NewPipelineError(domain.ErrPublishFailed, step, message, err).
		WithExitStatus(command.ExitCode(err))
}
