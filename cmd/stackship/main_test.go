package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/artpar/stackship/internal/core/domain"
	"github.com/artpar/stackship/internal/shell/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(append([]string{"stackship"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// =============================================================================
// Exit Code Tests
// =============================================================================

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, ExitSuccess},
		{"configuration", domain.ConfigError("project id", "is required"), ExitConfigError},
		{"missing artifact", domain.NewPipelineError(domain.ErrMissingArtifact, "inspect", "", nil), ExitMissingArtifact},
		{"publish", domain.NewPipelineError(domain.ErrPublishFailed, "upload", "", nil), ExitPublishError},
		{"provision", domain.NewPipelineError(domain.ErrProvisionFailed, "declare registry", "", nil), ExitDeployError},
		{"deployment", domain.NewPipelineError(domain.ErrDeploymentFailed, "declare service", "", nil), ExitDeployError},
		{"cancelled", fmt.Errorf("run: %w", context.Canceled), ExitDeployError},
		{"ledger", &LedgerError{Op: "open", Err: errors.New("disk full")}, ExitLedgerError},
		{"unknown", errors.New("boom"), ExitConfigError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

// =============================================================================
// Command Tests
// =============================================================================

func TestTagCommand_Fixed(t *testing.T) {
	clearEnv(t)

	code, out, _ := runCLI(t, "tag", "--tag-mode", "fixed")
	assert.Equal(t, ExitSuccess, code)
	assert.Equal(t, "latest\n", out)
}

func TestTagCommand_Timestamped(t *testing.T) {
	clearEnv(t)

	code, out, _ := runCLI(t, "tag")
	assert.Equal(t, ExitSuccess, code)
	assert.Regexp(t, `^\d{8}t\d{9}\n$`, out)
}

func TestTagCommand_InvalidMode(t *testing.T) {
	clearEnv(t)

	code, _, stderr := runCLI(t, "tag", "--tag-mode", "nightly")
	assert.Equal(t, ExitConfigError, code)
	assert.Contains(t, stderr, "tag mode")
}

func TestUpCommand_MissingProject(t *testing.T) {
	clearEnv(t)
	dsn := filepath.Join(t.TempDir(), "ledger", "stackship.db")
	t.Setenv("STACKSHIP_DATABASE_DSN", dsn)

	code, out, stderr := runCLI(t, "up")
	assert.Equal(t, ExitConfigError, code)
	assert.Empty(t, out)
	assert.Contains(t, stderr, "project id is required")
	assert.NoDirExists(t, filepath.Dir(dsn))
}

func TestUpCommand_UnknownEngine(t *testing.T) {
	clearEnv(t)
	t.Setenv("STACKSHIP_DATABASE_DSN", filepath.Join(t.TempDir(), "stackship.db"))
	t.Setenv("STACKSHIP_GCP_PROJECT_ID", "acme")
	t.Setenv("STACKSHIP_WORKLOAD_CREDENTIAL", "tok")
	t.Setenv("STACKSHIP_DOCKER_ENGINE", "podman")

	code, _, stderr := runCLI(t, "up")
	assert.Equal(t, ExitConfigError, code)
	assert.Contains(t, stderr, "docker engine")
}

func TestCleanupCommand_InvalidKeep(t *testing.T) {
	clearEnv(t)
	t.Setenv("STACKSHIP_GCP_PROJECT_ID", "acme")

	code, _, stderr := runCLI(t, "cleanup", "--keep", "0")
	assert.Equal(t, ExitConfigError, code)
	assert.Contains(t, stderr, "keep count")
}

func TestHistoryCommand_Empty(t *testing.T) {
	clearEnv(t)
	t.Setenv("STACKSHIP_DATABASE_DSN", filepath.Join(t.TempDir(), "stackship.db"))

	code, out, _ := runCLI(t, "history")
	assert.Equal(t, ExitSuccess, code)
	assert.Equal(t, "no runs recorded\n", out)
}

func TestHistoryCommand_ListsRuns(t *testing.T) {
	clearEnv(t)
	dsn := filepath.Join(t.TempDir(), "stackship.db")
	t.Setenv("STACKSHIP_DATABASE_DSN", dsn)

	s, err := store.NewSQLiteStore(dsn)
	require.NoError(t, err)
	started := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	older := domain.NewRun("svc-a", started)
	newer := domain.NewRun("svc-b", started.Add(time.Minute))
	require.NoError(t, s.CreateRun(context.Background(), older))
	require.NoError(t, s.CreateRun(context.Background(), newer))
	require.NoError(t, s.Close())

	code, out, _ := runCLI(t, "history", "--service", "svc-a")
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, older.ID)
	assert.NotContains(t, out, newer.ID)
	assert.Contains(t, out, "stage: init")
}
