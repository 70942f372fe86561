package gcloud

import (
	"context"
	"strings"
)

// DockerAuth configures the docker CLI credential helper for a registry host.
type DockerAuth struct {
	cli *CLI
}

// NewDockerAuth creates a docker authenticator.
func NewDockerAuth(cli *CLI) *DockerAuth {
	return &DockerAuth{cli: cli}
}

// Authenticate runs gcloud auth configure-docker for registryHost.
func (a *DockerAuth) Authenticate(ctx context.Context, registryHost string) error {
	if _, err := a.cli.runner.Run(ctx, a.cli.command("auth", "configure-docker", registryHost, "--quiet")); err != nil {
		return NewGcloudError("Authenticate", "registry", registryHost, "configure-docker failed", err)
	}
	return nil
}

// TokenSource mints OAuth access tokens for the active gcloud account.
type TokenSource struct {
	cli *CLI
}

// NewTokenSource creates a token source.
func NewTokenSource(cli *CLI) *TokenSource {
	return &TokenSource{cli: cli}
}

// AccessToken returns a fresh access token.
func (s *TokenSource) AccessToken(ctx context.Context) (string, error) {
	res, err := s.cli.runner.Run(ctx, s.cli.command("auth", "print-access-token"))
	if err != nil {
		return "", NewGcloudError("AccessToken", "", "", "print-access-token failed", err)
	}
	token := strings.TrimSpace(res.Stdout)
	if token == "" {
		return "", NewGcloudError("AccessToken", "", "", "no active account", ErrEmptyOutput)
	}
	return token, nil
}
