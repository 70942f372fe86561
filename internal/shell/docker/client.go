package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/distribution/reference"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
)

// =============================================================================
// SDK Tool
// =============================================================================

// SDKTool looks up, tags and pushes images through the Docker engine API.
// Pushes authenticate with an OAuth access token obtained in Authenticate.
type SDKTool struct {
	api    ImageAPI
	tokens TokenSource
	logger *slog.Logger

	mu   sync.Mutex
	auth map[string]string // registry host -> encoded auth config
}

// NewSDKTool connects to the Docker daemon.
// If host is empty, it uses the default Docker host from environment.
// On macOS with Docker Desktop, it automatically detects the correct socket.
func NewSDKTool(ctx context.Context, host string, tokens TokenSource, logger *slog.Logger) (*SDKTool, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewDockerError("NewSDKTool", "", "", err.Error(), ErrConnectionFailed)
	}

	if _, pingErr := cli.Ping(ctx); pingErr != nil {
		homeDir, _ := os.UserHomeDir()
		desktopSocket := "unix://" + homeDir + "/.docker/run/docker.sock"

		cli2, err2 := client.NewClientWithOpts(
			client.WithHost(desktopSocket),
			client.WithAPIVersionNegotiation(),
		)
		if err2 == nil {
			if _, pingErr2 := cli2.Ping(ctx); pingErr2 == nil {
				cli.Close()
				return NewSDKToolWithAPI(cli2, tokens, logger), nil
			}
			cli2.Close()
		}
		cli.Close()
		return nil, NewDockerError("NewSDKTool", "", "", fmt.Sprintf("failed to ping docker: %v", pingErr), ErrConnectionFailed)
	}

	return NewSDKToolWithAPI(cli, tokens, logger), nil
}

// NewSDKToolWithAPI wraps an existing engine client.
func NewSDKToolWithAPI(api ImageAPI, tokens TokenSource, logger *slog.Logger) *SDKTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &SDKTool{
		api:    api,
		tokens: tokens,
		logger: logger.With("component", "docker-sdk"),
		auth:   make(map[string]string),
	}
}

// Close closes the engine connection.
func (t *SDKTool) Close() error {
	return t.api.Close()
}

// LocalImageID returns the id of the local image ref, or "" when it does not exist.
func (t *SDKTool) LocalImageID(ctx context.Context, ref string) (string, error) {
	images, err := t.api.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", ref)),
	})
	if err != nil {
		return "", NewDockerError("LocalImageID", "image", ref, err.Error(), ErrConnectionFailed)
	}
	if len(images) == 0 {
		return "", nil
	}
	return images[0].ID, nil
}

// Tag adds target as a name of the local image source.
func (t *SDKTool) Tag(ctx context.Context, source, target string) error {
	if err := t.api.ImageTag(ctx, source, target); err != nil {
		if client.IsErrNotFound(err) {
			return NewDockerError("Tag", "image", source, "image not found", ErrImageNotFound)
		}
		return NewDockerError("Tag", "image", source, err.Error(), ErrTagFailed)
	}
	return nil
}

// Authenticate fetches an access token for registryHost and keeps it for Push.
func (t *SDKTool) Authenticate(ctx context.Context, registryHost string) error {
	if t.tokens == nil {
		return NewDockerError("Authenticate", "registry", registryHost, "no token source configured", ErrAuthRequired)
	}
	token, err := t.tokens.AccessToken(ctx)
	if err != nil {
		return NewDockerError("Authenticate", "registry", registryHost, err.Error(), err)
	}

	encoded, err := registry.EncodeAuthConfig(registry.AuthConfig{
		Username:      TokenUser,
		Password:      token,
		ServerAddress: registryHost,
	})
	if err != nil {
		return NewDockerError("Authenticate", "registry", registryHost, err.Error(), ErrAuthRequired)
	}

	t.mu.Lock()
	t.auth[registryHost] = encoded
	t.mu.Unlock()
	t.logger.Debug("registry credentials ready", "registry", registryHost)
	return nil
}

// Push uploads ref to its registry. Authenticate must have run for the
// registry host of ref.
func (t *SDKTool) Push(ctx context.Context, ref string) error {
	host, err := registryHost(ref)
	if err != nil {
		return NewDockerError("Push", "image", ref, err.Error(), ErrPushFailed)
	}

	t.mu.Lock()
	auth, ok := t.auth[host]
	t.mu.Unlock()
	if !ok {
		return NewDockerError("Push", "image", ref, "no credentials for "+host, ErrAuthRequired)
	}

	reader, err := t.api.ImagePush(ctx, ref, image.PushOptions{RegistryAuth: auth})
	if err != nil {
		if client.IsErrNotFound(err) {
			return NewDockerError("Push", "image", ref, "image not found", ErrImageNotFound)
		}
		return NewDockerError("Push", "image", ref, err.Error(), ErrPushFailed)
	}
	defer reader.Close()

	// The push only completes once the progress stream is drained; errors
	// reported by the registry arrive inside the stream.
	if err := jsonmessage.DisplayJSONMessagesStream(reader, io.Discard, 0, false, nil); err != nil {
		return NewDockerError("Push", "image", ref, err.Error(), ErrPushFailed)
	}
	return nil
}

func registryHost(ref string) (string, error) {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return "", err
	}
	return reference.Domain(named), nil
}
