package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/artpar/stackship/internal/core/domain"
	"github.com/artpar/stackship/internal/core/retention"
	"github.com/artpar/stackship/internal/core/version"
	"github.com/artpar/stackship/internal/shell/store"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := newApp(stdout, stderr).RunContext(ctx, args)
	if err != nil {
		fmt.Fprintf(stderr, "stackship: %v\n", err)
	}
	return exitCode(err)
}

func newApp(stdout, stderr io.Writer) *cli.App {
	env := &environment{stderr: stderr}

	return &cli.App{
		Name:      "stackship",
		Usage:     "publish a container image and deploy it as a managed service",
		Version:   fmt.Sprintf("%s (built %s)", Version, BuildTime),
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a yaml or .env config file",
				EnvVars: []string{"STACKSHIP_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override log.level",
			},
		},
		Before: func(c *cli.Context) error {
			return env.load(c.String("config"), c.String("log-level"))
		},
		Commands: cli.Commands{
			&cli.Command{
				Name:  "up",
				Usage: "provision, publish, deploy and prune",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tag-mode", Usage: "fixed or timestamped"},
					&cli.IntFlag{Name: "keep", Usage: "image versions to retain"},
					&cli.BoolFlag{Name: "no-cleanup", Usage: "skip pruning old image versions"},
				},
				Action: func(c *cli.Context) error {
					applyRunFlags(c, env.cfg)
					return up(c.Context, env, c.App.Writer)
				},
			},
			&cli.Command{
				Name:  "cleanup",
				Usage: "prune old image versions without deploying",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "keep", Usage: "image versions to retain"},
				},
				Action: func(c *cli.Context) error {
					applyRunFlags(c, env.cfg)
					return cleanupOnly(c.Context, env, c.App.Writer)
				},
			},
			&cli.Command{
				Name:  "tag",
				Usage: "print the tag the next publish would use",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tag-mode", Usage: "fixed or timestamped"},
				},
				Action: func(c *cli.Context) error {
					applyRunFlags(c, env.cfg)
					return printTag(c.App.Writer, env.cfg, time.Now())
				},
			},
			&cli.Command{
				Name:  "history",
				Usage: "list recent runs from the ledger",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 20},
					&cli.StringFlag{Name: "service", Usage: "only runs of this service"},
				},
				Action: func(c *cli.Context) error {
					return history(c.Context, env, c.App.Writer, store.ListOptions{
						Limit:       c.Int("limit"),
						ServiceName: c.String("service"),
					})
				},
			},
			&cli.Command{
				Name:  "serve",
				Usage: "serve the run ledger over HTTP",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Usage: "listen address, host:port"},
				},
				Action: func(c *cli.Context) error {
					return serve(c.Context, env, c.String("addr"))
				},
			},
		},
	}
}

// applyRunFlags lets command flags override loaded configuration.
func applyRunFlags(c *cli.Context, cfg *Config) {
	if c.IsSet("tag-mode") {
		cfg.Image.TagMode = c.String("tag-mode")
	}
	if c.IsSet("keep") {
		cfg.Cleanup.Keep = c.Int("keep")
	}
	if c.IsSet("no-cleanup") {
		cfg.Cleanup.Enabled = !c.Bool("no-cleanup")
	}
}

// =============================================================================
// Commands
// =============================================================================

func up(ctx context.Context, env *environment, w io.Writer) error {
	runCfg, err := env.cfg.ToRunConfig()
	if err != nil {
		return err
	}
	if err := runCfg.Validate(); err != nil {
		return err
	}

	ledger, err := env.openStore()
	if err != nil {
		return err
	}
	defer ledger.Close()

	deps, err := env.wire(ctx, runCfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	out, err := deps.orchestrator(runCfg, ledger).Run(ctx)
	if err != nil {
		return err
	}
	return writeYAML(w, out)
}

// cleanupReport is printed by the cleanup command.
type cleanupReport struct {
	Image   string   `yaml:"image"`
	Summary string   `yaml:"cleanup_summary"`
	Kept    []string `yaml:"kept,omitempty"`
	Deleted []string `yaml:"deleted,omitempty"`
	Failed  []string `yaml:"failed,omitempty"`
	Reason  string   `yaml:"skip_reason,omitempty"`
}

func cleanupOnly(ctx context.Context, env *environment, w io.Writer) error {
	runCfg, err := env.cfg.ToRunConfig()
	if err != nil {
		return err
	}
	base := runCfg.RemoteBase()
	if err := base.Validate(); err != nil {
		return err
	}
	policy := retention.Policy{KeepCount: runCfg.KeepCount}
	if err := policy.Validate(); err != nil {
		return err
	}

	deps, err := env.wire(ctx, runCfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	// No deployed tag to protect outside a run.
	result := deps.cleaner.Cleanup(ctx, domain.NewImageReference(base, "", time.Time{}), policy)

	report := cleanupReport{
		Image:   base.Path(),
		Summary: result.Summary(),
		Kept:    result.Kept,
		Deleted: result.Deleted,
	}
	for _, f := range result.Failures {
		report.Failed = append(report.Failed, f.Tag)
	}
	if result.SkipReason != nil {
		report.Reason = result.SkipReason.Error()
	}
	return writeYAML(w, report)
}

func printTag(w io.Writer, cfg *Config, now time.Time) error {
	strategy, err := version.StrategyFor(domain.TagMode(strings.ToLower(cfg.Image.TagMode)))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, strategy.Tag(now))
	return err
}

func history(ctx context.Context, env *environment, w io.Writer, opts store.ListOptions) error {
	s, err := env.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	runs, err := s.ListRuns(ctx, opts)
	if err != nil {
		return &LedgerError{Op: "list runs", Err: err}
	}
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "no runs recorded")
		return err
	}
	return writeYAML(w, runs)
}

func serve(ctx context.Context, env *environment, addr string) error {
	s, err := env.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	server := NewServer(env.cfg, s, env.logger)
	if addr != "" {
		server.httpServer.Addr = addr
	}
	return server.Start(ctx)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to render output: %w", err)
	}
	return enc.Close()
}
