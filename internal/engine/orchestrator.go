// Package engine runs a deployment: it declares the managed resources,
// publishes the workload image, deploys it and prunes stale image versions,
// moving a run through its stages as each dependency resolves.
//
// Stages only move forward:
//
//	init -> registry_ready -> image_published -> service_deployed -> cleanup_complete
//
// Any fatal error moves the run to failed instead.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/stackship/internal/core/deferred"
	"github.com/artpar/stackship/internal/core/domain"
	"github.com/artpar/stackship/internal/core/resources"
	"github.com/artpar/stackship/internal/core/retention"
	"github.com/artpar/stackship/internal/core/version"
	"github.com/artpar/stackship/internal/shell/command"
	"github.com/artpar/stackship/internal/shell/publish"
)

// Step names recorded on provisioning and deployment failures.
const (
	StepServiceAccount = "declare service account"
	StepIAMBinding     = "declare iam binding"
	StepRegistry       = "declare registry"
	StepService        = "declare service"
	StepEndpoint       = "resolve endpoint"
	StepInvoker        = "declare invoker"
)

// =============================================================================
// Collaborators
// =============================================================================

// Provisioner declares a resource and returns its attributes once it exists.
type Provisioner interface {
	Declare(ctx context.Context, spec resources.Spec) *deferred.Value[resources.Attributes]
}

// Publisher checks and publishes the local image.
type Publisher interface {
	Verify(ctx context.Context, localRef string) (string, error)
	Publish(ctx context.Context, req publish.Request) (domain.ImageReference, error)
}

// Cleaner prunes stale versions of a published image.
type Cleaner interface {
	Cleanup(ctx context.Context, image domain.ImageReference, policy retention.Policy) domain.CleanupResult
}

// =============================================================================
// Orchestrator
// =============================================================================

// Config wires an Orchestrator.
type Config struct {
	Run         domain.RunConfig
	Provisioner Provisioner
	Publisher   Publisher
	Cleaner     Cleaner
	// Recorder receives every stage change. Optional.
	Recorder Recorder
	// Strategy overrides the strategy selected by Run.TagMode. Optional.
	Strategy version.TagStrategy
	Clock    func() time.Time
	Logger   *slog.Logger
}

// Outputs are the results of a successful run.
type Outputs struct {
	RunID               string `json:"run_id" yaml:"run_id"`
	Endpoint            string `json:"endpoint" yaml:"endpoint"`
	ServiceName         string `json:"service_name" yaml:"service_name"`
	ServiceAccountEmail string `json:"service_account_email" yaml:"service_account_email"`
	RegistryName        string `json:"registry_name" yaml:"registry_name"`
	Region              string `json:"region" yaml:"region"`
	Image               string `json:"image" yaml:"image"`
	Tag                 string `json:"tag" yaml:"tag"`
	CleanupSummary      string `json:"cleanup_summary" yaml:"cleanup_summary"`

	Cleanup domain.CleanupResult `json:"-" yaml:"-"`
}

// Orchestrator runs the deployment pipeline for one RunConfig.
type Orchestrator struct {
	cfg         domain.RunConfig
	provisioner Provisioner
	publisher   Publisher
	cleaner     Cleaner
	recorder    Recorder
	strategy    version.TagStrategy
	clock       func() time.Time
	logger      *slog.Logger

	mu  sync.Mutex
	run *domain.Run
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		cfg:         cfg.Run,
		provisioner: cfg.Provisioner,
		publisher:   cfg.Publisher,
		cleaner:     cfg.Cleaner,
		recorder:    cfg.Recorder,
		strategy:    cfg.Strategy,
		clock:       cfg.Clock,
		logger:      cfg.Logger.With("component", "orchestrator"),
	}
}

// progress accumulates what each resolved step produced.
type progress struct {
	serviceAccount string
	registry       string
	image          domain.ImageReference
	endpoint       string
	cleanup        domain.CleanupResult
}

// Run executes one deployment. Configuration and preflight errors are
// returned before any resource is declared. Every later step starts only
// after the one it depends on resolved; the first fatal error fails the run.
func (o *Orchestrator) Run(ctx context.Context) (Outputs, error) {
	cfg := o.cfg
	if err := cfg.Validate(); err != nil {
		return Outputs{}, err
	}
	strategy := o.strategy
	if strategy == nil {
		s, err := version.StrategyFor(cfg.TagMode)
		if err != nil {
			return Outputs{}, err
		}
		strategy = s
	}

	run := domain.NewRun(cfg.ServiceName, o.clock())
	o.mu.Lock()
	o.run = run
	o.mu.Unlock()

	log := o.logger.With("run_id", run.ID, "service", cfg.ServiceName)
	if err := o.recorder.RunStarted(ctx, run); err != nil {
		log.Warn("failed to record run start", "error", err)
	}
	log.Info("run started", "tag_mode", strategy.Mode(), "keep", cfg.KeepCount)

	if err := ctx.Err(); err != nil {
		return Outputs{}, o.fail(ctx, err)
	}
	artifactID, err := o.publisher.Verify(ctx, cfg.LocalImage)
	if err != nil {
		return Outputs{}, o.fail(ctx, err)
	}

	final := o.pipeline(ctx, strategy, artifactID)
	result, err := final.Await(ctx)
	if err != nil {
		return Outputs{}, o.fail(ctx, err)
	}

	log.Info("run complete",
		"endpoint", result.endpoint,
		"image", result.image.String(),
		"cleanup", result.cleanup.Summary(),
	)
	return Outputs{
		RunID:               run.ID,
		Endpoint:            result.endpoint,
		ServiceName:         cfg.ServiceName,
		ServiceAccountEmail: result.serviceAccount,
		RegistryName:        result.registry,
		Region:              cfg.Region,
		Image:               result.image.String(),
		Tag:                 result.image.Tag,
		CleanupSummary:      result.cleanup.Summary(),
		Cleanup:             result.cleanup,
	}, nil
}

// pipeline chains every step of the run. Nothing blocks here; the returned
// value settles once cleanup finished or a step failed.
func (o *Orchestrator) pipeline(ctx context.Context, strategy version.TagStrategy, artifactID string) *deferred.Value[progress] {
	cfg := o.cfg

	// Service account, then its IAM bindings, then the registry.
	p := deferred.Chain(
		o.declare(ctx, resources.ServiceAccountFor(cfg), domain.ErrProvisionFailed, StepServiceAccount),
		func(attrs resources.Attributes) (progress, error) {
			return progress{serviceAccount: attrs.Get(resources.AttrEmail)}, nil
		},
	)
	p = deferred.Then(p, func(cur progress) *deferred.Value[progress] {
		next := deferred.Resolved(cur)
		for _, member := range resources.IAMMembersFor(cfg, cur.serviceAccount) {
			next = deferred.Then(next, func(cur progress) *deferred.Value[progress] {
				return keep(cur, o.declare(ctx, member, domain.ErrProvisionFailed, StepIAMBinding))
			})
		}
		return next
	})
	p = deferred.Then(p, func(cur progress) *deferred.Value[progress] {
		return deferred.Chain(
			o.declare(ctx, resources.RegistryFor(cfg), domain.ErrProvisionFailed, StepRegistry),
			func(attrs resources.Attributes) (progress, error) {
				cur.registry = attrs.Get(resources.AttrName)
				return cur, o.advance(ctx, domain.StageRegistryReady, nil)
			},
		)
	})

	// Publish only once the registry exists.
	p = deferred.Chain(p, func(cur progress) (progress, error) {
		ref, err := o.publisher.Publish(ctx, publish.Request{
			LocalRef:   cfg.LocalImage,
			Remote:     cfg.RemoteBase(),
			Tag:        strategy.Tag(o.clock()),
			ArtifactID: artifactID,
		})
		if err != nil {
			return cur, err
		}
		cur.image = ref
		return cur, o.advance(ctx, domain.StageImagePublished, func(r *domain.Run) {
			r.Tag = ref.Tag
			r.Image = ref.String()
		})
	})

	// Deploy the published reference; the service is up once it has a URL.
	p = deferred.Then(p, func(cur progress) *deferred.Value[progress] {
		spec := resources.ServiceFor(cfg, cur.image, cur.serviceAccount)
		return deferred.Chain(
			o.declare(ctx, spec, domain.ErrDeploymentFailed, StepService),
			func(attrs resources.Attributes) (progress, error) {
				cur.endpoint = attrs.Get(resources.AttrURL)
				if cur.endpoint == "" {
					return cur, domain.NewPipelineError(domain.ErrDeploymentFailed, StepEndpoint,
						fmt.Sprintf("service %s resolved without a url", spec.Name()), nil)
				}
				return cur, nil
			},
		)
	})
	if cfg.Public {
		p = deferred.Then(p, func(cur progress) *deferred.Value[progress] {
			return keep(cur, o.declare(ctx, resources.InvokerFor(cfg), domain.ErrDeploymentFailed, StepInvoker))
		})
	}
	p = deferred.Chain(p, func(cur progress) (progress, error) {
		return cur, o.advance(ctx, domain.StageServiceDeployed, func(r *domain.Run) {
			r.Endpoint = cur.endpoint
		})
	})

	// Prune only after the endpoint resolved. Cleanup never fails the run.
	return deferred.Chain(p, func(cur progress) (progress, error) {
		if cfg.CleanupEnabled {
			cur.cleanup = o.cleaner.Cleanup(ctx, cur.image, retention.Policy{KeepCount: cfg.KeepCount})
		} else {
			cur.cleanup = domain.DisabledCleanup()
		}
		return cur, o.advance(ctx, domain.StageCleanupComplete, func(r *domain.Run) {
			r.CleanupSummary = cur.cleanup.Summary()
		})
	})
}

// declare wraps a provisioner declaration so its failure carries kind and step.
func (o *Orchestrator) declare(ctx context.Context, spec resources.Spec, kind error, step string) *deferred.Value[resources.Attributes] {
	return deferred.MapErr(o.provisioner.Declare(ctx, spec), func(err error) error {
		var pErr *domain.PipelineError
		if errors.As(err, &pErr) {
			return err
		}
		return domain.NewPipelineError(kind, step, fmt.Sprintf("%s %s", spec.Kind(), spec.Name()), err).
			WithExitStatus(command.ExitCode(err))
	})
}

// keep resolves to cur once v resolved, discarding v's attributes.
func keep(cur progress, v *deferred.Value[resources.Attributes]) *deferred.Value[progress] {
	return deferred.Chain(v, func(resources.Attributes) (progress, error) {
		return cur, nil
	})
}

// =============================================================================
// Stage Bookkeeping
// =============================================================================

// advance applies update to the run and moves it to the next stage.
func (o *Orchestrator) advance(ctx context.Context, to domain.Stage, update func(*domain.Run)) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if update != nil {
		update(o.run)
	}
	t, err := o.run.Advance(to, o.clock())
	if err != nil {
		return err
	}
	o.logger.Info("stage reached", "run_id", o.run.ID, "stage", to)
	if err := o.recorder.StageChanged(ctx, o.run, t); err != nil {
		o.logger.Warn("failed to record stage change", "run_id", o.run.ID, "stage", to, "error", err)
	}
	return nil
}

// fail moves the run to failed and returns err annotated with the stage it
// failed in.
func (o *Orchestrator) fail(ctx context.Context, err error) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var pErr *domain.PipelineError
	if errors.As(err, &pErr) && pErr.Stage == "" {
		pErr.Stage = o.run.Stage
	}

	t, tErr := o.run.Fail(err, o.clock())
	if tErr != nil {
		o.logger.Error("failed to mark run failed", "run_id", o.run.ID, "error", tErr)
		return err
	}
	o.logger.Error("run failed",
		"run_id", o.run.ID,
		"stage", t.From,
		"step", o.run.FailedStep,
		"error", err,
	)
	if rErr := o.recorder.StageChanged(ctx, o.run, t); rErr != nil {
		o.logger.Warn("failed to record failure", "run_id", o.run.ID, "error", rErr)
	}
	return err
}

// Snapshot returns a copy of the current run, or false before Run started.
func (o *Orchestrator) Snapshot() (domain.Run, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run == nil {
		return domain.Run{}, false
	}
	return *o.run, true
}
