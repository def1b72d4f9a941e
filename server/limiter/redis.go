/*
 * Copyright 2024 The Collabd Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package limiter

import (
	"context"
	"fmt"
	"strconv"
	gotime "time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"
)

// RedisStore is the counter store shared by multiple servers. Each key
// is a sorted set of admitted attempts scored by their timestamp, so
// every server observes the same window.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore dials the given redis address and returns a store
// backed by it.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}

	return &RedisStore{client: client}, nil
}

// CheckAndRecord reports whether one more attempt fits under the limit
// and records it if it does.
func (s *RedisStore) CheckAndRecord(
	ctx context.Context,
	key string,
	limit int,
	window gotime.Duration,
) (bool, int, error) {
	now := gotime.Now()
	cutoff := now.Add(-window).UnixMilli()

	pipe := s.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff, 10))
	cardCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("count attempts of %s: %w", key, err)
	}

	current := int(cardCmd.Val())
	if current >= limit {
		return false, current, nil
	}

	record := s.client.Pipeline()
	record.ZAdd(ctx, key, redis.Z{
		Score: float64(now.UnixMilli()),
		// The member must be unique per attempt; two attempts can share
		// a millisecond.
		Member: xid.New().String(),
	})
	record.Expire(ctx, key, window)
	if _, err := record.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("record attempt of %s: %w", key, err)
	}

	return true, current + 1, nil
}

// Close closes the store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
