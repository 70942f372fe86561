// Package docker provides the local image tools used to publish workload
// images: lookup, tag and push, either through the docker CLI or the Docker
// engine API.
package docker

import (
	"context"
	"io"

	"github.com/docker/docker/api/types/image"
)

// =============================================================================
// Engine API
// =============================================================================

// ImageAPI is the subset of the Docker engine client the SDK tool uses.
// *client.Client satisfies it.
type ImageAPI interface {
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	ImageTag(ctx context.Context, source, target string) error
	ImagePush(ctx context.Context, ref string, options image.PushOptions) (io.ReadCloser, error)
	Close() error
}

// TokenSource supplies short-lived registry access tokens.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// TokenUser is the registry username paired with an OAuth access token.
const TokenUser = "oauth2accesstoken"
