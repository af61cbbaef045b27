// Package cache keeps projected loan status views in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/rentledger/pkg/schedule"
	"github.com/redis/go-redis/v9"
)

// RedisStatusCache stores one hash per loan with a field per civil day, so a
// single DEL drops every day's view of a loan.
type RedisStatusCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStatusCache(rdb *redis.Client, ttl time.Duration) *RedisStatusCache {
	return &RedisStatusCache{rdb: rdb, ttl: ttl}
}

func statusKey(loanID uuid.UUID) string { return fmt.Sprintf("loanstatus:%s", loanID) }

// GetStatus returns (nil, nil) on a miss.
func (c *RedisStatusCache) GetStatus(ctx context.Context, loanID uuid.UUID, day string) (*schedule.LoanStatus, error) {
	b, err := c.rdb.HGet(ctx, statusKey(loanID), day).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var st schedule.LoanStatus
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("decode cached status for loan %s: %w", loanID, err)
	}
	return &st, nil
}

func (c *RedisStatusCache) SetStatus(ctx context.Context, loanID uuid.UUID, day string, st *schedule.LoanStatus) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	key := statusKey(loanID)
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, day, b)
		if c.ttl > 0 {
			pipe.Expire(ctx, key, c.ttl)
		}
		return nil
	})
	return err
}

func (c *RedisStatusCache) Invalidate(ctx context.Context, loanID uuid.UUID) error {
	return c.rdb.Del(ctx, statusKey(loanID)).Err()
}
