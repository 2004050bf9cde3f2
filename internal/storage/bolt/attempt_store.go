package bolt

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/braintrap/internal/storage"
	"go.etcd.io/bbolt"
)

type attemptStore struct {
	db *bbolt.DB
}

func (s *attemptStore) Add(ctx context.Context, attempt storage.ChallengeAttempt) error {
	key, err := timeKey(attempt.Timestamp)
	if err != nil {
		return err
	}
	return putBucketValue(ctx, s.db, bucketAttempts, key, attempt)
}

func (s *attemptStore) RecentForApp(ctx context.Context, appID string, limit int) ([]storage.ChallengeAttempt, error) {
	attempts := make([]storage.ChallengeAttempt, 0, limit)
	if limit <= 0 {
		return attempts, nil
	}
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketAttempts))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(attempts) < limit; k, v = c.Prev() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var attempt storage.ChallengeAttempt
			if err := unmarshal(v, &attempt); err != nil {
				return err
			}
			if attempt.AppID == appID {
				attempts = append(attempts, attempt)
			}
		}
		return nil
	})
	return attempts, err
}

func (s *attemptStore) List(ctx context.Context) ([]storage.ChallengeAttempt, error) {
	return listBucket[storage.ChallengeAttempt](ctx, s.db, bucketAttempts)
}

func (s *attemptStore) Count(ctx context.Context) (int, error) {
	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketAttempts))
		if b == nil {
			return nil
		}
		count = b.Stats().KeyN
		return nil
	})
	return count, err
}

func (s *attemptStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketAttempts))
		if b == nil {
			return nil
		}
		bound := fmt.Sprintf("%020d", cutoff.UnixNano())
		var stale [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && string(k[:min(len(k), 20)]) < bound; k, _ = c.Next() {
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
