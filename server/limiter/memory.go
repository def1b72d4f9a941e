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
	gosync "sync"
	gotime "time"
)

// MemoryStore is the in-process counter store, used for single server
// deployments. It keeps the timestamps of admitted attempts per key and
// drops keys whose attempts have all slid out of the window.
type MemoryStore struct {
	mu       gosync.Mutex
	attempts map[string][]gotime.Time

	// sweepEvery bounds how often the full map is swept for idle keys.
	sweepEvery gotime.Duration
	lastSweep  gotime.Time

	// now is replaceable for tests.
	now func() gotime.Time
}

// NewMemoryStore creates an instance of MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		attempts:   make(map[string][]gotime.Time),
		sweepEvery: gotime.Minute,
		now:        gotime.Now,
	}
}

// CheckAndRecord reports whether one more attempt fits under the limit
// and records it if it does.
func (s *MemoryStore) CheckAndRecord(
	_ context.Context,
	key string,
	limit int,
	window gotime.Duration,
) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-window)

	recent := prune(s.attempts[key], cutoff)
	if len(recent) >= limit {
		s.attempts[key] = recent
		s.maybeSweep(now, window)
		return false, len(recent), nil
	}

	s.attempts[key] = append(recent, now)
	s.maybeSweep(now, window)
	return true, len(recent) + 1, nil
}

// Close closes the store.
func (s *MemoryStore) Close() error {
	return nil
}

// maybeSweep drops idle keys. Called with the lock held.
func (s *MemoryStore) maybeSweep(now gotime.Time, window gotime.Duration) {
	if now.Sub(s.lastSweep) < s.sweepEvery {
		return
	}
	s.lastSweep = now

	cutoff := now.Add(-window)
	for key, stamps := range s.attempts {
		recent := prune(stamps, cutoff)
		if len(recent) == 0 {
			delete(s.attempts, key)
			continue
		}
		s.attempts[key] = recent
	}
}

// prune drops the timestamps at or before the cutoff. Timestamps are
// appended in order, so the first retained index splits the slice.
func prune(stamps []gotime.Time, cutoff gotime.Time) []gotime.Time {
	idx := 0
	for idx < len(stamps) && !stamps[idx].After(cutoff) {
		idx++
	}
	return stamps[idx:]
}
