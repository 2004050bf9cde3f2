package bolt

import (
	"context"

	"github.com/goodtune/braintrap/internal/storage"
	"go.etcd.io/bbolt"
)

type limitStore struct {
	db *bbolt.DB
}

func (s *limitStore) Get(ctx context.Context, appID string) (*storage.TimeLimit, error) {
	return getBucketValue[storage.TimeLimit](ctx, s.db, bucketTimeLimits, appID)
}

func (s *limitStore) List(ctx context.Context) ([]storage.TimeLimit, error) {
	return listBucket[storage.TimeLimit](ctx, s.db, bucketTimeLimits)
}

func (s *limitStore) Upsert(ctx context.Context, limit storage.TimeLimit) error {
	if err := limit.Validate(); err != nil {
		return err
	}
	return putBucketValue(ctx, s.db, bucketTimeLimits, limit.AppID, limit)
}

func (s *limitStore) Delete(ctx context.Context, appID string) error {
	return deleteBucketValue(ctx, s.db, bucketTimeLimits, appID)
}
