package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/braintrap/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "braintrap.bolt"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func TestLimitStoreCRUD(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	limits := store.Limits()

	if err := limits.Upsert(ctx, storage.TimeLimit{AppID: "com.video", DailyLimitMinutes: 30, Enabled: true}); err != nil {
		t.Fatalf("upsert limit: %v", err)
	}
	if err := limits.Upsert(ctx, storage.TimeLimit{AppID: "com.chat", DailyLimitMinutes: 15}); err != nil {
		t.Fatalf("upsert limit: %v", err)
	}
	if err := limits.Upsert(ctx, storage.TimeLimit{AppID: "com.bad", DailyLimitMinutes: -1}); !errors.Is(err, storage.ErrInvalidLimit) {
		t.Fatalf("expected ErrInvalidLimit, got %v", err)
	}

	got, err := limits.Get(ctx, "com.video")
	if err != nil {
		t.Fatalf("get limit: %v", err)
	}
	if got.DailyLimitMinutes != 30 || !got.Enabled {
		t.Fatalf("unexpected limit: %+v", got)
	}

	all, err := limits.List(ctx)
	if err != nil {
		t.Fatalf("list limits: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 limits, got %d", len(all))
	}

	if err := limits.Delete(ctx, "com.chat"); err != nil {
		t.Fatalf("delete limit: %v", err)
	}
	if _, err := limits.Get(ctx, "com.chat"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := limits.Delete(ctx, "com.chat"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestUsageStoreOverwriteKeepsCounters(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	usage := store.Usage()
	date := "2024-01-02"

	if err := usage.IncrementUnlocks(ctx, date, "com.video"); err != nil {
		t.Fatalf("increment unlocks: %v", err)
	}
	if err := usage.IncrementChallengesCompleted(ctx, date, "com.video"); err != nil {
		t.Fatalf("increment challenges: %v", err)
	}
	if err := usage.SetUsedMinutes(ctx, date, "com.video", 12); err != nil {
		t.Fatalf("set used minutes: %v", err)
	}
	// Idempotent overwrite.
	if err := usage.SetUsedMinutes(ctx, date, "com.video", 12); err != nil {
		t.Fatalf("set used minutes: %v", err)
	}

	record, err := usage.GetDailyUsage(ctx, date, "com.video")
	if err != nil {
		t.Fatalf("get daily usage: %v", err)
	}
	if record.UsedMinutes != 12 || record.UnlockCount != 1 || record.ChallengesCompleted != 1 {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestUsageStoreRangeAndCleanup(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	usage := store.Usage()

	seed := []struct {
		date string
		app  string
		mins int64
	}{
		{"2024-01-01", "com.video", 10},
		{"2024-01-02", "com.video", 20},
		{"2024-01-02", "com.chat", 5},
		{"2024-01-03", "com.video", 30},
	}
	for _, s := range seed {
		if err := usage.SetUsedMinutes(ctx, s.date, s.app, s.mins); err != nil {
			t.Fatalf("seed usage: %v", err)
		}
	}

	day, err := usage.ListDailyUsage(ctx, "2024-01-02")
	if err != nil {
		t.Fatalf("list daily usage: %v", err)
	}
	if len(day) != 2 {
		t.Fatalf("expected 2 records on 2024-01-02, got %d", len(day))
	}

	video, err := usage.ListUsageRange(ctx, "com.video", "2024-01-02", "2024-01-03")
	if err != nil {
		t.Fatalf("list range: %v", err)
	}
	if len(video) != 2 || video[0].UsedMinutes != 20 || video[1].UsedMinutes != 30 {
		t.Fatalf("unexpected range result: %+v", video)
	}

	deleted, err := usage.DeleteDailyUsageBefore(ctx, "2024-01-03")
	if err != nil {
		t.Fatalf("delete daily usage before: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("expected 3 deleted, got %d", deleted)
	}
	if _, err := usage.GetDailyUsage(ctx, "2024-01-03", "com.video"); err != nil {
		t.Fatalf("expected 2024-01-03 to survive: %v", err)
	}
}

func TestAttemptStoreRecentForApp(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	attempts := store.Attempts()
	base := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 7; i++ {
		app := "com.video"
		if i%3 == 0 {
			app = "com.chat"
		}
		err := attempts.Add(ctx, storage.ChallengeAttempt{
			ID:                    "attempt-" + string(rune('a'+i)),
			AppID:                 app,
			Timestamp:             base.Add(time.Duration(i) * time.Minute),
			AttemptsCount:         i + 1,
			CompletionTimeSeconds: 10 + i,
			Difficulty:            storage.DifficultyEasy,
		})
		if err != nil {
			t.Fatalf("add attempt: %v", err)
		}
	}

	recent, err := attempts.RecentForApp(ctx, "com.video", 3)
	if err != nil {
		t.Fatalf("recent for app: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(recent))
	}
	// i=5, i=4, i=2 are the newest video attempts.
	if recent[0].AttemptsCount != 6 || recent[1].AttemptsCount != 5 || recent[2].AttemptsCount != 3 {
		t.Fatalf("unexpected order: %+v", recent)
	}

	count, err := attempts.Count(ctx)
	if err != nil || count != 7 {
		t.Fatalf("expected count 7, got %d (%v)", count, err)
	}

	deleted, err := attempts.DeleteBefore(ctx, base.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("delete before: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("expected 3 deleted, got %d", deleted)
	}
}

func TestSettingsAndAchievements(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	settings := store.Settings()

	if _, err := settings.Get(ctx, storage.SettingRegisteredTag); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := settings.Put(ctx, storage.SettingRegisteredTag, "04:A1:B2"); err != nil {
		t.Fatalf("put setting: %v", err)
	}
	value, err := settings.Get(ctx, storage.SettingRegisteredTag)
	if err != nil || value != "04:A1:B2" {
		t.Fatalf("unexpected setting %q (%v)", value, err)
	}
	if err := settings.Delete(ctx, storage.SettingRegisteredTag); err != nil {
		t.Fatalf("delete setting: %v", err)
	}

	achievements := store.Achievements()
	first := storage.AchievementUnlock{ID: "FIRST_CHALLENGE", UnlockedAt: time.Now().UTC(), Progress: 1}
	created, err := achievements.Unlock(ctx, first)
	if err != nil || !created {
		t.Fatalf("expected new unlock, got %v (%v)", created, err)
	}
	created, err = achievements.Unlock(ctx, first)
	if err != nil || created {
		t.Fatalf("expected repeat unlock to be ignored, got %v (%v)", created, err)
	}
	list, err := achievements.List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected 1 achievement, got %d (%v)", len(list), err)
	}
}

func TestOpenLockedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "braintrap.bolt")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = store.Close() }()

	if _, err := OpenWithTimeout(path, 50*time.Millisecond); !errors.Is(err, storage.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}
