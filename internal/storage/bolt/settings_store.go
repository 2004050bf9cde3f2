package bolt

import (
	"context"
	"fmt"

	"github.com/goodtune/braintrap/internal/storage"
	"go.etcd.io/bbolt"
)

type settingsStore struct {
	db *bbolt.DB
}

func (s *settingsStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		raw := tx.Bucket([]byte(bucketSettings)).Get([]byte(key))
		if raw == nil {
			return storage.ErrNotFound
		}
		value = string(raw)
		return nil
	})
	return value, err
}

func (s *settingsStore) Put(ctx context.Context, key, value string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketSettings))
		if b == nil {
			return fmt.Errorf("bucket missing: %s", bucketSettings)
		}
		return b.Put([]byte(key), []byte(value))
	})
}

func (s *settingsStore) Delete(ctx context.Context, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return tx.Bucket([]byte(bucketSettings)).Delete([]byte(key))
	})
}

type achievementStore struct {
	db *bbolt.DB
}

func (s *achievementStore) Get(ctx context.Context, id string) (*storage.AchievementUnlock, error) {
	return getBucketValue[storage.AchievementUnlock](ctx, s.db, bucketAchievements, id)
}

func (s *achievementStore) List(ctx context.Context) ([]storage.AchievementUnlock, error) {
	return listBucket[storage.AchievementUnlock](ctx, s.db, bucketAchievements)
}

func (s *achievementStore) Unlock(ctx context.Context, unlock storage.AchievementUnlock) (bool, error) {
	data, err := marshal(unlock)
	if err != nil {
		return false, err
	}
	created := false
	err = s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketAchievements))
		if b.Get([]byte(unlock.ID)) != nil {
			return nil
		}
		created = true
		return b.Put([]byte(unlock.ID), data)
	})
	return created, err
}
