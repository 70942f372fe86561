package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/artpar/stackship/internal/core/domain"
	"github.com/artpar/stackship/internal/shell/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

var testStart = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

func setupTestHandler(t *testing.T) (*Handler, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewHandler(s, nil), s
}

func seedRun(t *testing.T, s store.Store, service string, started time.Time, deployed bool) *domain.Run {
	t.Helper()
	ctx := context.Background()
	run := domain.NewRun(service, started)
	require.NoError(t, s.CreateRun(ctx, run))
	if deployed {
		tr, err := run.Advance(domain.StageRegistryReady, started.Add(time.Second))
		require.NoError(t, err)
		require.NoError(t, s.RecordTransition(ctx, tr))
		run.Endpoint = "https://" + service + ".a.run.app"
		require.NoError(t, s.UpdateRun(ctx, run))
	}
	return run
}

func get(t *testing.T, h *Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

// =============================================================================
// Health Tests
// =============================================================================

func TestHealth(t *testing.T) {
	h, _ := setupTestHandler(t)

	rec := get(t, h, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReady(t *testing.T) {
	h, _ := setupTestHandler(t)

	rec := get(t, h, "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp ReadyResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ready", resp.Status)
	assert.Equal(t, "ok", resp.Checks["database"])
}

func TestReady_StoreClosed(t *testing.T) {
	h, s := setupTestHandler(t)
	require.NoError(t, s.Close())

	rec := get(t, h, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// =============================================================================
// Run Tests
// =============================================================================

func TestListRuns(t *testing.T) {
	h, s := setupTestHandler(t)
	older := seedRun(t, s, "svc-a", testStart, false)
	newer := seedRun(t, s, "svc-b", testStart.Add(time.Minute), true)

	rec := get(t, h, "/api/v1/runs/")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ListRunsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Runs, 2)
	assert.Equal(t, newer.ID, resp.Runs[0].ID)
	assert.Equal(t, older.ID, resp.Runs[1].ID)
	assert.Equal(t, 20, resp.Limit)
}

func TestListRuns_FilterAndLimit(t *testing.T) {
	h, s := setupTestHandler(t)
	seedRun(t, s, "svc-a", testStart, false)
	latest := seedRun(t, s, "svc-a", testStart.Add(time.Minute), false)
	seedRun(t, s, "svc-b", testStart.Add(2*time.Minute), false)

	rec := get(t, h, "/api/v1/runs/?service=svc-a&limit=1")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ListRunsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Runs, 1)
	assert.Equal(t, latest.ID, resp.Runs[0].ID)
	assert.Equal(t, 1, resp.Limit)
}

func TestGetRun(t *testing.T) {
	h, s := setupTestHandler(t)
	run := seedRun(t, s, "svc", testStart, true)

	rec := get(t, h, "/api/v1/runs/"+run.ID)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RunResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, run.ID, resp.ID)
	assert.Equal(t, "registry_ready", resp.Stage)
	assert.Equal(t, "https://svc.a.run.app", resp.Endpoint)
}

func TestGetRun_NotFound(t *testing.T) {
	h, _ := setupTestHandler(t)

	rec := get(t, h, "/api/v1/runs/run_missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "run_not_found", resp.Code)
}

func TestListTransitions(t *testing.T) {
	h, s := setupTestHandler(t)
	run := seedRun(t, s, "svc", testStart, true)

	rec := get(t, h, "/api/v1/runs/"+run.ID+"/transitions")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ListTransitionsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Transitions, 1)
	assert.Equal(t, "init", resp.Transitions[0].From)
	assert.Equal(t, "registry_ready", resp.Transitions[0].To)
}

func TestListTransitions_UnknownRun(t *testing.T) {
	h, _ := setupTestHandler(t)

	rec := get(t, h, "/api/v1/runs/run_missing/transitions")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
