package gcloud

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/artpar/stackship/internal/core/deferred"
	"github.com/artpar/stackship/internal/core/domain"
	"github.com/artpar/stackship/internal/core/resources"
)

// Provisioner creates managed resources with gcloud. Declarations are
// idempotent: a resource that already exists resolves like a fresh one.
type Provisioner struct {
	cli *CLI
}

// NewProvisioner creates a provisioner.
func NewProvisioner(cli *CLI) *Provisioner {
	return &Provisioner{cli: cli}
}

// Declare starts provisioning spec and returns its attributes once they exist.
func (p *Provisioner) Declare(ctx context.Context, spec resources.Spec) *deferred.Value[resources.Attributes] {
	return deferred.Go(func() (resources.Attributes, error) {
		p.cli.logger.Info("declaring resource", "kind", spec.Kind(), "name", spec.Name())
		attrs, err := p.provision(ctx, spec)
		if err != nil {
			p.cli.logger.Error("resource declaration failed", "kind", spec.Kind(), "name", spec.Name(), "error", err)
			return nil, err
		}
		p.cli.logger.Info("resource ready", "kind", spec.Kind(), "name", spec.Name())
		return attrs, nil
	})
}

func (p *Provisioner) provision(ctx context.Context, spec resources.Spec) (resources.Attributes, error) {
	switch s := spec.(type) {
	case resources.ServiceAccount:
		return p.serviceAccount(ctx, s)
	case resources.IAMMember:
		return p.iamMember(ctx, s)
	case resources.Registry:
		return p.registry(ctx, s)
	case resources.Service:
		return p.service(ctx, s)
	case resources.ServiceInvoker:
		return p.invoker(ctx, s)
	default:
		return nil, NewGcloudError("Declare", string(spec.Kind()), spec.Name(), "unsupported resource kind", nil)
	}
}

// =============================================================================
// Identity
// =============================================================================

func (p *Provisioner) serviceAccount(ctx context.Context, sa resources.ServiceAccount) (resources.Attributes, error) {
	_, err := p.cli.run(ctx, nil,
		"iam", "service-accounts", "create", sa.AccountID,
		"--display-name="+sa.DisplayName,
		"--description="+sa.Description,
	)
	if err != nil && !alreadyExists(err) {
		return nil, NewGcloudError("Declare", string(sa.Kind()), sa.Name(), "create failed", err)
	}
	return resources.Attributes{
		resources.AttrName:  sa.AccountID,
		resources.AttrEmail: sa.Email(),
	}, nil
}

func (p *Provisioner) iamMember(ctx context.Context, m resources.IAMMember) (resources.Attributes, error) {
	// add-iam-policy-binding is a no-op for an existing binding.
	_, err := p.runUnscoped(ctx,
		"projects", "add-iam-policy-binding", m.Project,
		"--member="+m.Member,
		"--role="+m.Role,
		"--condition=None",
		"--quiet",
	)
	if err != nil {
		return nil, NewGcloudError("Declare", string(m.Kind()), m.Name(), "binding failed", err)
	}
	return resources.Attributes{resources.AttrName: m.Name()}, nil
}

// =============================================================================
// Registry
// =============================================================================

func (p *Provisioner) registry(ctx context.Context, r resources.Registry) (resources.Attributes, error) {
	_, err := p.cli.run(ctx, nil,
		"artifacts", "repositories", "create", r.RepoName,
		"--repository-format=docker",
		"--location="+r.Location,
		"--description="+r.Description,
	)
	if err != nil && !alreadyExists(err) {
		return nil, NewGcloudError("Declare", string(r.Kind()), r.Name(), "create failed", err)
	}
	return resources.Attributes{
		resources.AttrName: r.RepoName,
		resources.AttrHost: r.Location + "-docker.pkg.dev",
	}, nil
}

// =============================================================================
// Service
// =============================================================================

func (p *Provisioner) service(ctx context.Context, s resources.Service) (resources.Attributes, error) {
	args := []string{
		"run", "deploy", s.ServiceName,
		"--image=" + s.Image.String(),
		"--region=" + s.Region,
		"--platform=managed",
		"--service-account=" + s.ServiceAccount,
	}
	if len(s.Env) > 0 {
		args = append(args, "--set-env-vars="+envVarsFlag(s.Env))
	}
	if s.Memory != "" {
		args = append(args, "--memory="+s.Memory)
	}
	if s.MinInstances > 0 {
		args = append(args, "--min-instances="+strconv.Itoa(s.MinInstances))
	}
	if s.MaxInstances > 0 {
		args = append(args, "--max-instances="+strconv.Itoa(s.MaxInstances))
	}
	if s.TimeoutSeconds > 0 {
		args = append(args, "--timeout="+strconv.Itoa(s.TimeoutSeconds))
	}
	args = append(args, "--quiet")

	if _, err := p.cli.run(ctx, s.Secrets, args...); err != nil {
		return nil, NewGcloudError("Declare", string(s.Kind()), s.Name(), "deploy failed", err)
	}

	res, err := p.cli.run(ctx, nil,
		"run", "services", "describe", s.ServiceName,
		"--region="+s.Region,
		"--format=value(status.url)",
	)
	if err != nil {
		return nil, NewGcloudError("Declare", string(s.Kind()), s.Name(), "describe failed", err)
	}
	return resources.Attributes{
		resources.AttrName: s.ServiceName,
		resources.AttrURL:  strings.TrimSpace(res.Stdout),
	}, nil
}

func (p *Provisioner) invoker(ctx context.Context, i resources.ServiceInvoker) (resources.Attributes, error) {
	_, err := p.cli.run(ctx, nil,
		"run", "services", "add-iam-policy-binding", i.ServiceName,
		"--region="+i.Region,
		"--member="+i.Member,
		"--role="+i.Role,
		"--quiet",
	)
	if err != nil {
		return nil, NewGcloudError("Declare", string(i.Kind()), i.Name(), "binding failed", err)
	}
	return resources.Attributes{resources.AttrName: i.Name()}, nil
}

// runUnscoped runs a command that names its project positionally.
func (p *Provisioner) runUnscoped(ctx context.Context, args ...string) (string, error) {
	res, err := p.cli.runner.Run(ctx, p.cli.command(args...))
	return res.Stdout, err
}

// envDelimiters are tried in order; the first one absent from every key and
// value separates the pairs (gcloud "^DELIM^" escaping).
var envDelimiters = []string{",", "@", "|", "~", "#", ";"}

// envVarsFlag renders env as a --set-env-vars value in key order.
func envVarsFlag(env map[string]string) string {
	keys := domain.SortedEnvKeys(env)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%s", k, env[k]))
	}

	for _, delim := range envDelimiters {
		if !containsAny(pairs, delim) {
			joined := strings.Join(pairs, delim)
			if delim == "," {
				return joined
			}
			return "^" + delim + "^" + joined
		}
	}
	// Every candidate collides; fall back to a control character.
	return "^\x1f^" + strings.Join(pairs, "\x1f")
}

func containsAny(pairs []string, delim string) bool {
	for _, p := range pairs {
		if strings.Contains(p, delim) {
			return true
		}
	}
	return false
}
