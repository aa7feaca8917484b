package adminapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptchallenge/engine/internal/config"
	"github.com/promptchallenge/engine/internal/domain"
	"github.com/promptchallenge/engine/internal/queue"
	"github.com/promptchallenge/engine/internal/storage/memstore"
)

func testRegistry(t *testing.T) *config.Registry {
	t.Helper()
	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	write("activity.yaml", "activity_id: demo\nenabled: true\n")
	write("levels.yaml", `levels:
  - level_id: 1
    name: Intro
    enabled: true
    grading:
      keyword:
        target_phrase: hello
        match_policy: exact_substring
    reward_pool_id: pool-1
`)
	write("rewards.yaml", `reward_pools:
  - pool_id: pool-1
    enabled: true
    items:
      - item_id: item-1
        kind: JD_ECARD
        max_claims_per_item: "1"
`)
	reg, err := config.NewRegistry(dir)
	require.NoError(t, err)
	return reg
}

type noopExecutor struct{}

func (noopExecutor) ProcessTask(context.Context, domain.PendingTask) error { return nil }

func testRouter(t *testing.T, store *memstore.Store, token string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	pool := queue.NewWorkerPool(queue.New(store, 10), noopExecutor{}, 2)
	srv := New(store, testRegistry(t), pool, prometheus.NewRegistry(), token)
	r := gin.New()
	srv.Register(r)
	return r
}

func do(r *gin.Engine, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAdminAuthRequired(t *testing.T) {
	r := testRouter(t, memstore.New(), "secret")

	w := do(r, http.MethodGet, "/admin/stats", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodGet, "/admin/stats", "wrong", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodGet, "/admin/stats", "secret", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthzIsUnauthenticated(t *testing.T) {
	r := testRouter(t, memstore.New(), "secret")
	w := do(r, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
}

func TestStatsReportsQueueDepth(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	_, err := store.GetOrCreateUser(ctx, "user-1", "user-1")
	require.NoError(t, err)
	require.NoError(t, store.EnqueueTask(ctx,
		domain.PendingTask{TaskID: "task-1", UserID: "user-1", LevelID: 1},
		domain.Session{UserID: "user-1", LevelID: 1, State: domain.SessionInflight, InflightTaskID: "task-1"}, 0))

	r := testRouter(t, store, "secret")
	w := do(r, http.MethodGet, "/admin/stats", "secret", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"queue_depth":1`)
}

func TestBanAndUnban(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	_, err := store.GetOrCreateUser(ctx, "user-1", "user-1")
	require.NoError(t, err)

	r := testRouter(t, store, "")

	w := do(r, http.MethodPost, "/admin/ban", "", `{"user_id":"user-1","reason":"abuse"}`)
	require.Equal(t, http.StatusOK, w.Code)
	u, err := store.GetOrCreateUser(ctx, "user-1", "user-1")
	require.NoError(t, err)
	assert.True(t, u.Banned)

	w = do(r, http.MethodPost, "/admin/unban", "", `{"user_id":"user-1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	u, err = store.GetOrCreateUser(ctx, "user-1", "user-1")
	require.NoError(t, err)
	assert.False(t, u.Banned)

	w = do(r, http.MethodPost, "/admin/ban", "", `{"reason":"missing user_id"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResetSession(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	require.NoError(t, store.UpsertSession(ctx, domain.Session{
		UserID: "user-1", LevelID: 2, State: domain.SessionFailedOut, TurnIndex: 3,
	}))

	r := testRouter(t, store, "")
	w := do(r, http.MethodPost, "/admin/users/user-1/levels/2/reset", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	_, err := store.GetSession(ctx, "user-1", 2)
	assert.Error(t, err)

	w = do(r, http.MethodPost, "/admin/users/user-1/levels/notanumber/reset", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClearQueue(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	_, err := store.GetOrCreateUser(ctx, "user-1", "user-1")
	require.NoError(t, err)
	require.NoError(t, store.EnqueueTask(ctx,
		domain.PendingTask{TaskID: "task-1", UserID: "user-1", LevelID: 1},
		domain.Session{UserID: "user-1", LevelID: 1, State: domain.SessionInflight, InflightTaskID: "task-1"}, 0))

	r := testRouter(t, store, "")
	w := do(r, http.MethodPost, "/admin/queue/clear", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cleared":1`)

	sess, err := store.GetSession(ctx, "user-1", 1)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionReady, sess.State)
}

func TestExportLogsRejectsBadDate(t *testing.T) {
	r := testRouter(t, memstore.New(), "")
	w := do(r, http.MethodGet, "/admin/logs/export?date=02-01-2026", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReloadReseedsRewardInventory(t *testing.T) {
	store := memstore.New()
	r := testRouter(t, store, "")

	w := do(r, http.MethodPost, "/admin/reload", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"reloaded"`)

	// The reload re-seeded reward inventory into storage: item-1 from
	// rewards.yaml is claimable without a restart.
	result, err := store.ClaimReward(context.Background(), "pool-1", "user-1", 1)
	require.NoError(t, err)
	assert.Equal(t, "item-1", result.ItemID)
}
