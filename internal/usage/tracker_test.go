package usage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/braintrap/internal/clock"
	"github.com/goodtune/braintrap/internal/storage"
	"github.com/goodtune/braintrap/internal/storage/bolt"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var noon = time.Date(2024, 2, 5, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu      sync.Mutex
	minutes map[string]int64
	failing map[string]bool
	calls   int
	starts  []time.Time
}

func (f *fakeSource) QueryForegroundMinutes(_ context.Context, appID string, start, _ time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.starts = append(f.starts, start)
	if f.failing[appID] {
		return 0, errors.New("usage access revoked")
	}
	return f.minutes[appID], nil
}

func (f *fakeSource) set(appID string, minutes int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.minutes[appID] = minutes
}

func newService(t *testing.T) (*Service, *bolt.Store, *fakeSource) {
	t.Helper()
	store, err := bolt.Open(filepath.Join(t.TempDir(), "usage.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	require.NoError(t, store.Limits().Upsert(ctx, storage.TimeLimit{AppID: "com.video", DailyLimitMinutes: 30, Enabled: true}))
	require.NoError(t, store.Limits().Upsert(ctx, storage.TimeLimit{AppID: "com.chat", DailyLimitMinutes: 60, Enabled: true}))

	source := &fakeSource{minutes: map[string]int64{}, failing: map[string]bool{}}
	svc := NewService(store.Usage(), store.Limits(), source, Config{PollInterval: 10 * time.Millisecond}, zerolog.Nop())
	svc.SetClock(clock.NewTestClock(noon))
	return svc, store, source
}

func TestTrackNowOverwritesUsedMinutes(t *testing.T) {
	svc, store, source := newService(t)
	ctx := context.Background()

	require.NoError(t, store.Usage().IncrementUnlocks(ctx, "2024-02-05", "com.video"))

	source.set("com.video", 12)
	source.set("com.chat", 3)
	updated, err := svc.TrackNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, updated)

	source.set("com.video", 14)
	_, err = svc.TrackNow(ctx)
	require.NoError(t, err)

	record, err := store.Usage().GetDailyUsage(ctx, "2024-02-05", "com.video")
	require.NoError(t, err)
	assert.Equal(t, int64(14), record.UsedMinutes)
	assert.Equal(t, 1, record.UnlockCount, "counters survive the overwrite")

	for _, start := range source.starts {
		assert.Equal(t, time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC), start)
	}
}

func TestTrackNowSkipsFailingApps(t *testing.T) {
	svc, store, source := newService(t)
	ctx := context.Background()

	source.set("com.video", 20)
	source.set("com.chat", 5)
	source.failing["com.chat"] = true

	updated, err := svc.TrackNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	_, err = store.Usage().GetDailyUsage(ctx, "2024-02-05", "com.chat")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGetUsageForTodayFallsBackToStore(t *testing.T) {
	svc, store, source := newService(t)
	ctx := context.Background()

	source.set("com.video", 25)
	used, err := svc.GetUsageForToday(ctx, "com.video")
	require.NoError(t, err)
	assert.Equal(t, int64(25), used)

	require.NoError(t, store.Usage().SetUsedMinutes(ctx, "2024-02-05", "com.video", 18))
	source.failing["com.video"] = true
	used, err = svc.GetUsageForToday(ctx, "com.video")
	require.NoError(t, err)
	assert.Equal(t, int64(18), used)

	source.failing["com.chat"] = true
	_, err = svc.GetUsageForToday(ctx, "com.chat")
	assert.Error(t, err)
}

func TestStartStopIdempotent(t *testing.T) {
	svc, store, source := newService(t)
	source.set("com.video", 7)

	svc.Start(context.Background())
	svc.Start(context.Background())
	assert.True(t, svc.IsTracking())

	require.Eventually(t, func() bool {
		record, err := store.Usage().GetDailyUsage(context.Background(), "2024-02-05", "com.video")
		return err == nil && record.UsedMinutes == 7
	}, time.Second, 5*time.Millisecond)

	svc.Stop()
	svc.Stop()
	assert.False(t, svc.IsTracking())

	source.mu.Lock()
	calls := source.calls
	source.mu.Unlock()
	time.Sleep(50 * time.Millisecond)

	source.mu.Lock()
	defer source.mu.Unlock()
	assert.Equal(t, calls, source.calls, "no ticks after Stop")
}

// gatedSource blocks every query until release is closed.
type gatedSource struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedSource) QueryForegroundMinutes(ctx context.Context, _ string, _, _ time.Time) (int64, error) {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
		return 12, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func TestStopWaitsForInFlightTick(t *testing.T) {
	_, store, _ := newService(t)
	source := &gatedSource{entered: make(chan struct{}), release: make(chan struct{})}
	svc := NewService(store.Usage(), store.Limits(), source, Config{PollInterval: time.Hour}, zerolog.Nop())
	svc.SetClock(clock.NewTestClock(noon))

	svc.Start(context.Background())
	select {
	case <-source.entered:
	case <-time.After(time.Second):
		t.Fatal("tick never queried the source")
	}

	stopped := make(chan struct{})
	go func() {
		svc.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a tick was in flight")
	case <-time.After(30 * time.Millisecond):
	}

	close(source.release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the tick finished")
	}

	for _, appID := range []string{"com.video", "com.chat"} {
		record, err := store.Usage().GetDailyUsage(context.Background(), "2024-02-05", appID)
		require.NoError(t, err, appID)
		assert.Equal(t, int64(12), record.UsedMinutes, appID)
	}
}

func TestConcurrentStartStop(t *testing.T) {
	svc, _, source := newService(t)
	source.set("com.video", 3)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			svc.Start(context.Background())
		}()
		go func() {
			defer wg.Done()
			svc.Stop()
		}()
	}
	wg.Wait()

	svc.Stop()
	assert.False(t, svc.IsTracking())
}

func TestRetentionCleanup(t *testing.T) {
	_, store, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, store.Usage().SetUsedMinutes(ctx, "2023-11-01", "com.video", 10))
	require.NoError(t, store.Usage().SetUsedMinutes(ctx, "2024-02-01", "com.video", 10))
	require.NoError(t, store.Attempts().Add(ctx, storage.ChallengeAttempt{ID: "a", AppID: "com.video", Timestamp: time.Date(2023, 10, 1, 9, 0, 0, 0, time.UTC), AttemptsCount: 3}))
	require.NoError(t, store.Attempts().Add(ctx, storage.ChallengeAttempt{ID: "b", AppID: "com.video", Timestamp: time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC), AttemptsCount: 3}))

	r, err := NewRetention(store.Usage(), store.Attempts(), "03:00", 90, zerolog.Nop())
	require.NoError(t, err)

	usageDeleted, attemptsDeleted, err := r.Cleanup(ctx, noon)
	require.NoError(t, err)
	assert.Equal(t, 1, usageDeleted)
	assert.Equal(t, 1, attemptsDeleted)

	remaining, err := store.Usage().ListUsageRange(ctx, "", "2000-01-01", "2100-01-01")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "2024-02-01", remaining[0].Date)
}

func TestRetentionNextRun(t *testing.T) {
	r, err := NewRetention(nil, nil, "03:00", 0, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, DefaultRetentionDays, r.retentionDays)

	before := time.Date(2024, 2, 5, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 2, 5, 3, 0, 0, 0, time.UTC), r.nextRun(before))

	after := time.Date(2024, 2, 5, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 2, 6, 3, 0, 0, 0, time.UTC), r.nextRun(after))

	_, err = NewRetention(nil, nil, "3am", 30, zerolog.Nop())
	assert.Error(t, err)
}
