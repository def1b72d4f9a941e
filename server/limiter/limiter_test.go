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
	"testing"
	gotime "time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabd-team/collabd/server/profiling/prometheus"
)

// fakeClock drives the memory store's clock in tests.
type fakeClock struct {
	now gotime.Time
}

func (c *fakeClock) advance(d gotime.Duration) {
	c.now = c.now.Add(d)
}

func setUpLimiter(t *testing.T, rules map[string]Rule) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: gotime.Date(2024, 3, 1, 12, 0, 0, 0, gotime.UTC)}
	store := NewMemoryStore()
	store.now = func() gotime.Time { return clock.now }

	metrics, err := prometheus.NewMetrics()
	require.NoError(t, err)

	return New(store, rules, metrics), clock
}

// brokenStore fails every call.
type brokenStore struct{}

func (brokenStore) CheckAndRecord(
	_ context.Context,
	_ string,
	_ int,
	_ gotime.Duration,
) (bool, int, error) {
	return false, 0, fmt.Errorf("counter store down")
}

func (brokenStore) Close() error {
	return nil
}

func TestLimiter(t *testing.T) {
	rules := map[string]Rule{
		ClassChat:    {Limit: 5, Window: gotime.Minute},
		ClassDefault: {Limit: 100, Window: gotime.Minute},
	}

	t.Run("attempts over the limit are rejected until the window slides", func(t *testing.T) {
		ctx := context.Background()
		l, clock := setUpLimiter(t, rules)

		for i := 0; i < 5; i++ {
			res := l.Allow(ctx, "user-a", ClassChat)
			assert.True(t, res.Allowed)
			assert.Equal(t, i+1, res.Current)
		}

		res := l.Allow(ctx, "user-a", ClassChat)
		assert.False(t, res.Allowed)
		assert.Equal(t, 5, res.Current)
		assert.Equal(t, 0, res.Remaining())

		clock.advance(61 * gotime.Second)
		res = l.Allow(ctx, "user-a", ClassChat)
		assert.True(t, res.Allowed)
		assert.Equal(t, 1, res.Current)
	})

	t.Run("rejected attempts do not consume budget", func(t *testing.T) {
		ctx := context.Background()
		l, clock := setUpLimiter(t, rules)

		for i := 0; i < 5; i++ {
			require.True(t, l.Allow(ctx, "user-a", ClassChat).Allowed)
		}

		// Hammering the limit must not push recovery further out.
		for i := 0; i < 50; i++ {
			clock.advance(gotime.Second)
			assert.False(t, l.Allow(ctx, "user-a", ClassChat).Allowed)
		}

		// 61 seconds after the admitted attempts they slide out, no
		// matter how many rejections happened since.
		clock.advance(11 * gotime.Second)
		assert.True(t, l.Allow(ctx, "user-a", ClassChat).Allowed)
	})

	t.Run("budgets are independent per user and class", func(t *testing.T) {
		ctx := context.Background()
		l, _ := setUpLimiter(t, rules)

		for i := 0; i < 5; i++ {
			require.True(t, l.Allow(ctx, "user-a", ClassChat).Allowed)
		}
		assert.False(t, l.Allow(ctx, "user-a", ClassChat).Allowed)

		// Another user and another class are unaffected.
		assert.True(t, l.Allow(ctx, "user-b", ClassChat).Allowed)
		assert.True(t, l.Allow(ctx, "user-a", ClassSignaling).Allowed)
	})

	t.Run("unknown class falls back to the default budget", func(t *testing.T) {
		ctx := context.Background()
		l, _ := setUpLimiter(t, rules)

		res := l.Allow(ctx, "user-a", "exotic")
		assert.True(t, res.Allowed)
		assert.Equal(t, 100, res.Limit)
	})

	t.Run("store failure admits the attempt", func(t *testing.T) {
		ctx := context.Background()
		metrics, err := prometheus.NewMetrics()
		require.NoError(t, err)
		l := New(brokenStore{}, rules, metrics)

		for i := 0; i < 10; i++ {
			assert.True(t, l.Allow(ctx, "user-a", ClassChat).Allowed)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	t.Run("idle keys are swept", func(t *testing.T) {
		ctx := context.Background()
		clock := &fakeClock{now: gotime.Date(2024, 3, 1, 12, 0, 0, 0, gotime.UTC)}
		store := NewMemoryStore()
		store.now = func() gotime.Time { return clock.now }

		for i := 0; i < 3; i++ {
			_, _, err := store.CheckAndRecord(ctx, fmt.Sprintf("key-%d", i), 5, gotime.Minute)
			require.NoError(t, err)
		}

		clock.advance(2 * gotime.Minute)
		_, _, err := store.CheckAndRecord(ctx, "key-live", 5, gotime.Minute)
		require.NoError(t, err)

		store.mu.Lock()
		defer store.mu.Unlock()
		assert.Len(t, store.attempts, 1)
	})
}
