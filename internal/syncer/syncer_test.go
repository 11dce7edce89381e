package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asteroid-belt/trophysync/internal/db"
	"github.com/asteroid-belt/trophysync/internal/jobs"
	"github.com/asteroid-belt/trophysync/internal/lock"
	"github.com/asteroid-belt/trophysync/internal/models"
	"github.com/asteroid-belt/trophysync/internal/progress"
	"github.com/asteroid-belt/trophysync/internal/provider"
	"github.com/asteroid-belt/trophysync/internal/stats"
	"github.com/asteroid-belt/trophysync/internal/testutil"
	"github.com/asteroid-belt/trophysync/internal/trophy"
)

const account = "76561197960287930"

type recordingEnqueuer struct {
	mu    sync.Mutex
	kinds []string
	err   error
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, kind string, _ int64, _ any) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return "", e.err
	}
	e.kinds = append(e.kinds, kind)
	return fmt.Sprintf("job-%d", len(e.kinds)), nil
}

func (e *recordingEnqueuer) Kinds() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.kinds...)
}

type fixture struct {
	db       *db.DB
	mem      *provider.Memory
	locker   *lock.Memory
	enqueuer *recordingEnqueuer
	syncer   *Syncer
	user     *models.User
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	database := testutil.NewTestDB(t)
	mem := provider.NewMemory()
	locker := lock.NewMemory()
	enq := &recordingEnqueuer{}
	reconciler := trophy.NewReconciler(database, mem, trophy.NewDetector(database))
	return &fixture{
		db:       database,
		mem:      mem,
		locker:   locker,
		enqueuer: enq,
		syncer:   New(database, mem, reconciler, locker, enq, cfg),
		user:     testutil.CreateUser(t, database, "chell", account),
	}
}

// addGame registers a game with n achievements of which unlocked are earned.
func (f *fixture) addGame(appID int64, name string, playtime, recent, n, unlocked int) {
	defs := make([]provider.AchievementDef, n)
	states := make([]provider.AchievementState, n)
	for i := range n {
		api := fmt.Sprintf("ACH_%d_%d", appID, i)
		defs[i] = provider.AchievementDef{APIName: api, DisplayName: api}
		states[i] = provider.AchievementState{APIName: api, Achieved: i < unlocked, UnlockTime: 1700000000}
	}
	f.mem.AddGame(account, provider.GameSummary{
		AppID:           appID,
		Name:            name,
		PlaytimeForever: playtime,
		Playtime2Weeks:  recent,
	}, defs, states)
}

type phaseRecorder struct {
	mu     sync.Mutex
	phases []progress.Phase
	last   progress.Progress
}

func (r *phaseRecorder) Publish(p progress.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, p.Phase)
	r.last = p
}

func (r *phaseRecorder) count(phase progress.Phase) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.phases {
		if p == phase {
			n++
		}
	}
	return n
}

func TestFull_SyncsLibraryAndAwardsPlatinum(t *testing.T) {
	f := newFixture(t, Config{})
	f.addGame(620, "Portal 2", 300, 0, 2, 2)
	f.addGame(220, "Half-Life 2", 100, 0, 2, 1)

	rec := &phaseRecorder{}
	res, err := f.syncer.Full(context.Background(), f.user.ID, FullParams{}, rec)
	require.NoError(t, err)

	assert.Equal(t, progress.StatusSuccess, res.Status)
	assert.Equal(t, "Full Steam sync completed successfully", res.Message)
	assert.Equal(t, progress.ModeFull, res.Mode)
	assert.Equal(t, 2, res.GamesSynced)
	assert.Equal(t, 0, res.GamesSkipped)
	assert.Equal(t, 2, res.TotalGames)
	assert.Empty(t, res.FailedGames)
	assert.Contains(t, res.Stats, "duration_seconds")

	portal, err := f.db.GetGame(f.user.ID, 620)
	require.NoError(t, err)
	assert.True(t, portal.IsCompleted())
	n, err := f.db.CountGameNotifications(f.user.ID, models.NotificationPlatinum, portal.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	plat, err := f.db.GetAchievement(f.user.ID, portal.ID, models.PlatinumAPIName(620))
	require.NoError(t, err)
	require.NotNil(t, plat)
	assert.Equal(t, "Portal 2 - Master", plat.Name)

	hl2, err := f.db.GetGame(f.user.ID, 220)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, hl2.CompletionPercentage, 0.001)
	n, err = f.db.CountGameNotifications(f.user.ID, models.NotificationPlatinum, hl2.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	user, err := f.db.GetUser(f.user.ID)
	require.NoError(t, err)
	assert.NotNil(t, user.LastSync)

	assert.Equal(t, []string{stats.Kind}, f.enqueuer.Kinds())
	assert.Equal(t, progress.PhaseCompleted, rec.last.Phase)
	assert.Equal(t, 100.0, rec.last.Percentage)
	assert.False(t, f.locker.Held(lock.UserKey(f.user.ID)), "lock released")
}

func TestFull_ResyncDoesNotDuplicatePlatinum(t *testing.T) {
	f := newFixture(t, Config{})
	f.addGame(620, "Portal 2", 300, 0, 2, 2)
	ctx := context.Background()

	_, err := f.syncer.Full(ctx, f.user.ID, FullParams{}, nil)
	require.NoError(t, err)
	_, err = f.syncer.Full(ctx, f.user.ID, FullParams{ForceRefresh: true}, nil)
	require.NoError(t, err)

	portal, err := f.db.GetGame(f.user.ID, 620)
	require.NoError(t, err)
	n, err := f.db.CountGameNotifications(f.user.ID, models.NotificationPlatinum, portal.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestFull_EmptyLibrary(t *testing.T) {
	f := newFixture(t, Config{})

	res, err := f.syncer.Full(context.Background(), f.user.ID, FullParams{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "No games found in Steam library", res.Message)
	assert.Equal(t, 0, res.GamesSynced)
	assert.Equal(t, 0, res.TotalGames)
	assert.Empty(t, f.enqueuer.Kinds())
}

func TestFull_FreshGamesAreSkippedUnlessForced(t *testing.T) {
	f := newFixture(t, Config{})
	f.addGame(620, "Portal 2", 300, 0, 1, 1)
	f.addGame(440, "Team Fortress 2", 900, 30, 1, 0)
	ctx := context.Background()

	_, err := f.syncer.Full(ctx, f.user.ID, FullParams{}, nil)
	require.NoError(t, err)
	schemaCalls := f.mem.Calls("GetSchema")

	res, err := f.syncer.Full(ctx, f.user.ID, FullParams{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.GamesSynced, "recently played game is refreshed")
	assert.Equal(t, 1, res.GamesSkipped)
	assert.Equal(t, schemaCalls+1, f.mem.Calls("GetSchema"))

	res, err = f.syncer.Full(ctx, f.user.ID, FullParams{ForceRefresh: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.GamesSynced)
}

func TestFull_PerGameFailureDoesNotStopSync(t *testing.T) {
	f := newFixture(t, Config{})
	f.addGame(620, "Portal 2", 300, 0, 2, 1)
	f.addGame(220, "Half-Life 2", 100, 0, 2, 1)
	f.mem.FailStates(620, &provider.TransportError{Op: "player_achievements", Err: errors.New("timeout")})

	res, err := f.syncer.Full(context.Background(), f.user.ID, FullParams{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.GamesSynced)
	assert.Equal(t, []int64{620}, res.FailedGames)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "Portal 2")

	hl2, err := f.db.GetGame(f.user.ID, 220)
	require.NoError(t, err)
	assert.Equal(t, 1, hl2.UnlockedAchievements)

	portal, err := f.db.GetGame(f.user.ID, 620)
	require.NoError(t, err)
	require.NotNil(t, portal, "summary is stored before reconciliation")
	assert.Zero(t, portal.TotalAchievements)
	assert.Nil(t, portal.LastSynced)
}

func TestFull_ProviderListingFailureIsRetryable(t *testing.T) {
	f := newFixture(t, Config{})
	f.mem.FailOwned(&provider.TransportError{Op: "owned_games", Err: errors.New("503")})

	_, err := f.syncer.Full(context.Background(), f.user.ID, FullParams{}, nil)
	require.Error(t, err)
	assert.True(t, Retryable(err))
	assert.False(t, f.locker.Held(lock.UserKey(f.user.ID)))
}

func TestFull_Checkpoints(t *testing.T) {
	f := newFixture(t, Config{CheckpointEvery: 5})
	for i := range 12 {
		f.addGame(int64(1000+i), fmt.Sprintf("Game #%d", i), 100-i, 0, 1, 0)
	}

	rec := &phaseRecorder{}
	res, err := f.syncer.Full(context.Background(), f.user.ID, FullParams{}, rec)
	require.NoError(t, err)
	assert.Equal(t, 12, res.GamesSynced)
	assert.Equal(t, 2, rec.count(progress.PhaseCheckpoint))
}

func TestFull_HardCancelStopsBetweenGames(t *testing.T) {
	f := newFixture(t, Config{})
	f.addGame(620, "Portal 2", 300, 0, 1, 1)
	f.addGame(220, "Half-Life 2", 100, 0, 1, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.syncer.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return sleepCtx(ctx, d)
	}

	_, err := f.syncer.Full(ctx, f.user.ID, FullParams{}, nil)
	assert.ErrorIs(t, err, context.Canceled)

	portal, err := f.db.GetGame(f.user.ID, 620)
	require.NoError(t, err)
	require.NotNil(t, portal, "in-flight game committed")
	assert.Equal(t, 1, portal.UnlockedAchievements)

	hl2, err := f.db.GetGame(f.user.ID, 220)
	require.NoError(t, err)
	assert.Nil(t, hl2)
	assert.Empty(t, f.enqueuer.Kinds())
	assert.False(t, f.locker.Held(lock.UserKey(f.user.ID)))
}

func TestFull_StatsEnqueueFailureIsIgnored(t *testing.T) {
	f := newFixture(t, Config{})
	f.addGame(620, "Portal 2", 300, 0, 1, 1)
	f.enqueuer.err = jobs.ErrQueueClosed

	res, err := f.syncer.Full(context.Background(), f.user.ID, FullParams{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.GamesSynced)
}

func TestQuick_SelectsTopGames(t *testing.T) {
	f := newFixture(t, Config{})
	f.addGame(1, "Old Favourite", 5000, 0, 1, 0)
	f.addGame(2, "Current Obsession", 100, 600, 1, 0)
	f.addGame(3, "Forgotten", 10, 0, 1, 0)

	res, err := f.syncer.Quick(context.Background(), f.user.ID, QuickParams{MaxGames: 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Quick sync completed - 2 games updated", res.Message)
	assert.Equal(t, 2, res.TotalGames)

	for appID, want := range map[int64]bool{1: true, 2: true, 3: false} {
		g, err := f.db.GetGame(f.user.ID, appID)
		require.NoError(t, err)
		assert.Equal(t, want, g != nil, "app %d", appID)
	}
	assert.Empty(t, f.enqueuer.Kinds(), "only full sync triggers statistics")
}

func TestQuick_EmptyLibrary(t *testing.T) {
	f := newFixture(t, Config{})
	res, err := f.syncer.Quick(context.Background(), f.user.ID, QuickParams{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "No games found", res.Message)
}

func TestSpecific_PlaceholderAndFailures(t *testing.T) {
	f := newFixture(t, Config{})
	f.addGame(620, "Portal 2", 300, 0, 2, 1)
	f.addGame(220, "Half-Life 2", 100, 0, 2, 2)

	res, err := f.syncer.Specific(context.Background(), f.user.ID, SpecificParams{AppIDs: []int64{620, 999}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Specific games sync completed", res.Message)
	assert.Equal(t, 1, res.GamesSynced)
	assert.Equal(t, 1, res.GamesSkipped)
	assert.Equal(t, []int64{999}, res.FailedGames)
	assert.Equal(t, []int64{620}, res.Stats["successful_app_ids"])

	missing, err := f.db.GetGame(f.user.ID, 999)
	require.NoError(t, err)
	assert.Nil(t, missing, "placeholder without playtime or schema is not stored")

	hl2, err := f.db.GetGame(f.user.ID, 220)
	require.NoError(t, err)
	assert.Nil(t, hl2, "unselected game untouched")
}

func TestSpecific_PlaceholderWithSchemaIsStored(t *testing.T) {
	f := newFixture(t, Config{})
	f.mem.Schemas[999] = []provider.AchievementDef{{APIName: "ACH_ONE"}}

	res, err := f.syncer.Specific(context.Background(), f.user.ID, SpecificParams{AppIDs: []int64{999}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.GamesSynced)

	g, err := f.db.GetGame(f.user.ID, 999)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, "Game 999", g.Name)
}

func TestSpecific_IgnoresFreshness(t *testing.T) {
	f := newFixture(t, Config{})
	f.addGame(620, "Portal 2", 300, 0, 1, 1)
	ctx := context.Background()

	_, err := f.syncer.Full(ctx, f.user.ID, FullParams{}, nil)
	require.NoError(t, err)

	res, err := f.syncer.Specific(ctx, f.user.ID, SpecificParams{AppIDs: []int64{620}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.GamesSynced)
}

func TestRun_RejectsInvalidUsers(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.syncer.Full(ctx, 4242, FullParams{}, nil)
	assert.ErrorIs(t, err, ErrInvalidUser)
	assert.False(t, Retryable(err))

	unlinked := testutil.CreateUser(t, f.db, "wheatley", "")
	_, err = f.syncer.Quick(ctx, unlinked.ID, QuickParams{}, nil)
	assert.ErrorIs(t, err, ErrNoAccount)
	assert.False(t, Retryable(err))
}

func TestRun_ConcurrentSyncOfSameUserIsRejected(t *testing.T) {
	f := newFixture(t, Config{})
	f.addGame(620, "Portal 2", 300, 0, 1, 1)
	ctx := context.Background()

	lease, err := f.locker.Acquire(ctx, lock.UserKey(f.user.ID), time.Minute)
	require.NoError(t, err)

	_, err = f.syncer.Full(ctx, f.user.ID, FullParams{}, nil)
	assert.ErrorIs(t, err, ErrSyncInProgress)
	assert.False(t, Retryable(err), "contention is terminal")
	assert.Zero(t, f.mem.Calls("ListOwnedGames"))

	require.NoError(t, lease.Release(ctx))
	_, err = f.syncer.Full(ctx, f.user.ID, FullParams{}, nil)
	assert.NoError(t, err)
}

func TestRun_LockOutlivesItsTTL(t *testing.T) {
	f := newFixture(t, Config{LockTTL: 50 * time.Millisecond, FullDelay: 100 * time.Millisecond})
	f.addGame(620, "Portal 2", 300, 0, 1, 1)
	f.addGame(400, "Portal", 200, 0, 1, 1)
	f.addGame(220, "Half-Life 2", 100, 0, 1, 1)

	var (
		mu        sync.Mutex
		heldAtEnd bool
	)
	pub := progress.PublisherFunc(func(p progress.Progress) {
		if p.CurrentGame == "Half-Life 2" {
			mu.Lock()
			heldAtEnd = f.locker.Held(lock.UserKey(f.user.ID))
			mu.Unlock()
		}
	})

	res, err := f.syncer.Full(context.Background(), f.user.ID, FullParams{}, pub)
	require.NoError(t, err)
	assert.Equal(t, 3, res.GamesSynced)

	mu.Lock()
	assert.True(t, heldAtEnd, "lease is kept alive past its TTL while syncing")
	mu.Unlock()
	assert.False(t, f.locker.Held(lock.UserKey(f.user.ID)), "released when the sync ends")
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(fmt.Errorf("wrapped: %w", &provider.TransportError{Op: "schema", Err: errors.New("reset")})))
	assert.True(t, Retryable(&db.StoreError{Op: "checkpoint", Err: errors.New("gone")}))
	assert.False(t, Retryable(&provider.APIError{Op: "schema", StatusCode: 403}))
	assert.False(t, Retryable(ErrSyncInProgress))
	assert.False(t, Retryable(context.Canceled))
}

func TestRegister_RunsThroughQueue(t *testing.T) {
	database := testutil.NewTestDB(t)
	mem := provider.NewMemory()
	user := testutil.CreateUser(t, database, "glados", account)
	mem.AddGame(account, provider.GameSummary{AppID: 620, Name: "Portal 2", PlaytimeForever: 10},
		[]provider.AchievementDef{{APIName: "ACH"}}, []provider.AchievementState{{APIName: "ACH", Achieved: true}})

	q := jobs.NewQueue(jobs.NewMemoryStore(time.Hour), jobs.Options{Workers: 2})
	reconciler := trophy.NewReconciler(database, mem, trophy.NewDetector(database))
	New(database, mem, reconciler, lock.NewMemory(), q, Config{}).Register(q)
	stats.NewCalculator(database).Register(q, jobs.RetryPolicy{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Serve(ctx)
	}()
	t.Cleanup(func() {
		q.Close()
		cancel()
		<-done
	})

	id, err := q.Enqueue(ctx, KindFull, user.ID, FullParams{})
	require.NoError(t, err)

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	rec, err := q.Wait(waitCtx, id, 5*time.Millisecond, nil)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateSuccess, rec.State)
	require.NotNil(t, rec.Result)
	assert.Equal(t, 1, rec.Result.GamesSynced)
}
