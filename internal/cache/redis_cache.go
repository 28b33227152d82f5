package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/guardline/guardline/internal/model"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

type snapshotValue struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   float64   `json:"accuracy"`
	CapturedAt time.Time `json:"capturedAt"`
}

func (c *RedisCache) StoreSnapshot(ctx context.Context, userID string, loc model.Location) error {
	key := locationKey(userID)
	val := snapshotValue{
		Latitude:   loc.Latitude,
		Longitude:  loc.Longitude,
		Accuracy:   loc.Accuracy,
		CapturedAt: loc.CapturedAt.UTC(),
	}

	b, err := json.Marshal(val)
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, key, b, c.ttl).Err()
}

// LastSnapshot returns nil without error when no snapshot is cached;
// an expired or missing position is an expected state, not a failure.
func (c *RedisCache) LastSnapshot(ctx context.Context, userID string) (*model.Location, error) {
	raw, err := c.rdb.Get(ctx, locationKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var val snapshotValue
	if err := json.Unmarshal(raw, &val); err != nil {
		return nil, err
	}

	return &model.Location{
		Latitude:   val.Latitude,
		Longitude:  val.Longitude,
		Accuracy:   val.Accuracy,
		CapturedAt: val.CapturedAt,
	}, nil
}

func locationKey(userID string) string {
	return fmt.Sprintf("loc:%s", userID)
}
