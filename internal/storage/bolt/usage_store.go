package bolt

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/goodtune/braintrap/internal/storage"
	"go.etcd.io/bbolt"
)

type usageStore struct {
	db *bbolt.DB
}

func (s *usageStore) GetDailyUsage(ctx context.Context, date string, appID string) (*storage.UsageRecord, error) {
	return getBucketValue[storage.UsageRecord](ctx, s.db, bucketDailyUsage, dailyUsageKey(date, appID))
}

func (s *usageStore) ListDailyUsage(ctx context.Context, date string) ([]storage.UsageRecord, error) {
	return s.ListUsageRange(ctx, "", date, date)
}

func (s *usageStore) ListUsageRange(ctx context.Context, appID string, from, to string) ([]storage.UsageRecord, error) {
	records := make([]storage.UsageRecord, 0)
	return records, s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketDailyUsage))
		if b == nil {
			return nil
		}
		// Keys are date/app so a seek to the first date walks the range in order.
		c := b.Cursor()
		start := []byte(from + "/")
		for k, v := c.Seek(start); k != nil; k, v = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			date, app, ok := strings.Cut(string(k), "/")
			if !ok {
				continue
			}
			if date > to {
				break
			}
			if appID != "" && app != appID {
				continue
			}
			var record storage.UsageRecord
			if err := unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
}

func (s *usageStore) SetUsedMinutes(ctx context.Context, date string, appID string, minutes int64) error {
	return s.update(ctx, date, appID, func(record *storage.UsageRecord) {
		record.UsedMinutes = minutes
	})
}

func (s *usageStore) IncrementUnlocks(ctx context.Context, date string, appID string) error {
	return s.update(ctx, date, appID, func(record *storage.UsageRecord) {
		record.UnlockCount++
	})
}

func (s *usageStore) IncrementChallengesCompleted(ctx context.Context, date string, appID string) error {
	return s.update(ctx, date, appID, func(record *storage.UsageRecord) {
		record.ChallengesCompleted++
	})
}

// update reads, mutates and writes a record inside one transaction.
func (s *usageStore) update(ctx context.Context, date, appID string, mutate func(*storage.UsageRecord)) error {
	key := []byte(dailyUsageKey(date, appID))
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketDailyUsage))
		if b == nil {
			return fmt.Errorf("daily usage bucket missing")
		}
		record := storage.UsageRecord{Date: date, AppID: appID}
		if existing := b.Get(key); existing != nil {
			if err := unmarshal(existing, &record); err != nil {
				return err
			}
		}
		mutate(&record)
		data, err := marshal(record)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *usageStore) DeleteDailyUsageBefore(ctx context.Context, cutoffDate string) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketDailyUsage))
		if b == nil {
			return nil
		}
		cutoff := []byte(cutoffDate + "/")
		var stale [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && bytes.Compare(k, cutoff) < 0; k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

func dailyUsageKey(date, appID string) string {
	return fmt.Sprintf("%s/%s", date, appID)
}
