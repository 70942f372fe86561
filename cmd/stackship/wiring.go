package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/artpar/stackship/internal/core/domain"
	"github.com/artpar/stackship/internal/engine"
	"github.com/artpar/stackship/internal/shell/cleanup"
	"github.com/artpar/stackship/internal/shell/command"
	"github.com/artpar/stackship/internal/shell/docker"
	"github.com/artpar/stackship/internal/shell/gcloud"
	"github.com/artpar/stackship/internal/shell/publish"
	"github.com/artpar/stackship/internal/shell/store"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitMissingArtifact = 2
	ExitPublishError    = 3
	ExitDeployError     = 4
	ExitLedgerError     = 5
)

// LedgerError is returned when the run ledger cannot be opened or read.
type LedgerError struct {
	Op  string
	Err error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	var ledgerErr *LedgerError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, domain.ErrConfiguration):
		return ExitConfigError
	case errors.Is(err, domain.ErrMissingArtifact):
		return ExitMissingArtifact
	case errors.Is(err, domain.ErrPublishFailed):
		return ExitPublishError
	case errors.Is(err, domain.ErrProvisionFailed),
		errors.Is(err, domain.ErrDeploymentFailed),
		errors.Is(err, context.Canceled):
		return ExitDeployError
	case errors.As(err, &ledgerErr):
		return ExitLedgerError
	default:
		return ExitConfigError
	}
}

// =============================================================================
// Environment
// =============================================================================

// environment holds what every command needs after flags were parsed.
type environment struct {
	cfg    *Config
	logger *slog.Logger
	stderr io.Writer
}

func (e *environment) load(configPath, logLevel string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return domain.NewPipelineError(domain.ErrConfiguration, "", "load config", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	e.cfg = cfg
	e.logger = SetupLogger(cfg, e.stderr)
	e.logger.Debug("configuration loaded", "config", configPath, "project", cfg.GCP.ProjectID)
	return nil
}

func (e *environment) openStore() (store.Store, error) {
	dsn := e.cfg.Database.DSN
	if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, &LedgerError{Op: "open", Err: err}
		}
	}
	s, err := store.NewSQLiteStore(dsn)
	if err != nil {
		return nil, &LedgerError{Op: "open", Err: err}
	}
	return s, nil
}

// dependencies are the shell components of one command invocation.
type dependencies struct {
	env         *environment
	provisioner *gcloud.Provisioner
	publisher   *publish.Publisher
	cleaner     *cleanup.Cleaner
	closers     []io.Closer
}

// wire builds the shell components for runCfg. The artifact engine is picked
// by docker.engine.
func (e *environment) wire(ctx context.Context, runCfg domain.RunConfig) (*dependencies, error) {
	runner := command.NewExecRunner(e.logger)
	gcli := gcloud.NewCLI(runner, runCfg.ProjectID, e.logger)

	deps := &dependencies{
		env:         e,
		provisioner: gcloud.NewProvisioner(gcli),
		cleaner:     cleanup.NewCleaner(gcloud.NewArtifacts(gcli), e.logger),
	}

	var (
		tool publish.ArtifactTool
		auth publish.Authenticator
	)
	switch strings.ToLower(e.cfg.Docker.Engine) {
	case "", EngineCLI:
		tool = docker.NewCLITool(runner)
		auth = gcloud.NewDockerAuth(gcli)
	case EngineSDK:
		sdk, err := docker.NewSDKTool(ctx, e.cfg.Docker.Host, gcloud.NewTokenSource(gcli), e.logger)
		if err != nil {
			return nil, domain.NewPipelineError(domain.ErrPublishFailed, publish.StepInspect, "connect to docker engine", err)
		}
		tool, auth = sdk, sdk
		deps.closers = append(deps.closers, sdk)
	default:
		return nil, domain.ConfigError("docker engine", fmt.Sprintf("%q is not one of cli, sdk", e.cfg.Docker.Engine))
	}

	deps.publisher = publish.NewPublisher(publish.Config{
		Tool:          tool,
		Authenticator: auth,
		BuildCommand:  runCfg.BuildCommand,
		Logger:        e.logger,
	})

	return deps, nil
}

func (d *dependencies) orchestrator(runCfg domain.RunConfig, ledger store.Store) *engine.Orchestrator {
	return engine.New(engine.Config{
		Run:         runCfg,
		Provisioner: d.provisioner,
		Publisher:   d.publisher,
		Cleaner:     d.cleaner,
		Recorder:    engine.NewLedgerRecorder(ledger, d.env.logger),
		Logger:      d.env.logger,
	})
}

// Close releases the docker client.
func (d *dependencies) Close() error {
	var errs []error
	for _, c := range d.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
