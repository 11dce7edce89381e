package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asteroid-belt/trophysync/internal/config"
	"github.com/asteroid-belt/trophysync/internal/jobs"
	"github.com/asteroid-belt/trophysync/internal/provider"
	"github.com/asteroid-belt/trophysync/internal/stats"
	"github.com/asteroid-belt/trophysync/internal/syncer"
	"github.com/asteroid-belt/trophysync/internal/telemetry"
	"github.com/asteroid-belt/trophysync/internal/testutil"
)

const account = "76561197960287930"

type recordingTelemetry struct {
	telemetry.Client

	mu        sync.Mutex
	finished  []string
	platinums int
}

func (r *recordingTelemetry) TrackSyncJobFinished(kind, state string, _, _, _ int, _ int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, kind+":"+state)
}

func (r *recordingTelemetry) TrackPlatinumEarned(int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.platinums++
}

func (r *recordingTelemetry) snapshot() ([]string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.finished...), r.platinums
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.BaseDir = t.TempDir()
	cfg.Sync.FullDelay = 0
	cfg.Sync.QuickDelay = 0
	cfg.Sync.SpecificDelay = 0
	cfg.Jobs.Workers = 2
	return cfg
}

func newEngine(t *testing.T) (*Engine, *provider.Memory, *recordingTelemetry) {
	t.Helper()
	mem := provider.NewMemory()
	tc := &recordingTelemetry{Client: telemetry.Noop()}
	e, err := New(testConfig(t), WithDB(testutil.NewTestDB(t)), WithProvider(mem), WithTelemetry(tc))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, mem, tc
}

func TestNew_RequiresAPIKeyWithoutProvider(t *testing.T) {
	_, err := New(testConfig(t), WithDB(testutil.NewTestDB(t)))
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestNew_OpensConfiguredDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.Steam.APIKey = "key"
	e, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, config.DatabaseURL(cfg), e.DB().URL())
	require.NoError(t, e.Close())
}

func TestNew_RejectsBadRedisURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.Redis.URL = "not a url"
	_, err := New(cfg, WithDB(testutil.NewTestDB(t)), WithProvider(provider.NewMemory()))
	assert.Error(t, err)
}

func TestStartSync_ValidatesUser(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	unlinked := testutil.CreateUser(t, e.DB(), "unlinked", "")

	_, err := e.StartSync(ctx, syncer.KindFull, 999, syncer.FullParams{})
	assert.ErrorIs(t, err, syncer.ErrInvalidUser)

	_, err = e.StartSync(ctx, syncer.KindFull, unlinked.ID, syncer.FullParams{})
	assert.ErrorIs(t, err, syncer.ErrNoAccount)

	_, err = e.StartSync(ctx, stats.Kind, unlinked.ID, nil)
	assert.ErrorIs(t, err, jobs.ErrUnknownKind)

	_, err = e.StartStats(ctx, 999)
	assert.ErrorIs(t, err, stats.ErrUserNotFound)
}

func TestFullSync_EndToEnd(t *testing.T) {
	e, mem, tc := newEngine(t)
	user := testutil.CreateUser(t, e.DB(), "chell", account)
	mem.AddGame(account, provider.GameSummary{AppID: 620, Name: "Portal 2", PlaytimeForever: 300},
		[]provider.AchievementDef{{APIName: "A"}, {APIName: "B"}},
		[]provider.AchievementState{{APIName: "A", Achieved: true}, {APIName: "B", Achieved: true}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh, err := e.Start(ctx)
	require.NoError(t, err)

	id, err := e.StartSync(ctx, syncer.KindFull, user.ID, syncer.FullParams{})
	require.NoError(t, err)

	waitCtx, waitCancel := context.WithTimeout(ctx, 10*time.Second)
	defer waitCancel()
	rec, err := e.Queue().Wait(waitCtx, id, 10*time.Millisecond, nil)
	require.NoError(t, err)
	require.Equal(t, jobs.StateSuccess, rec.State, rec.Error)
	assert.Equal(t, 1, rec.Result.GamesSynced)

	view, err := e.Status().Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, view.Successful)

	// the statistics job follows the full sync
	require.Eventually(t, func() bool {
		finished, _ := tc.snapshot()
		return len(finished) == 2
	}, 10*time.Second, 10*time.Millisecond)
	finished, platinums := tc.snapshot()
	assert.Contains(t, finished, syncer.KindFull+":SUCCESS")
	assert.Contains(t, finished, stats.Kind+":SUCCESS")
	assert.Equal(t, 1, platinums)

	cancel()
	select {
	case <-errCh:
	case <-time.After(10 * time.Second):
		t.Fatal("engine did not stop")
	}
}

func TestHandler_ServesHealth(t *testing.T) {
	e, _, _ := newEngine(t)
	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"workers":2`)
}

func TestTree_RejectsBadSchedule(t *testing.T) {
	e, _, _ := newEngine(t)
	e.cfg.Scheduler.Enabled = true
	e.cfg.Scheduler.Spec = "sometimes"
	_, err := e.Tree(true)
	assert.Error(t, err)

	_, err = e.Tree(false)
	assert.NoError(t, err, "the scheduler only runs in server mode")
}
