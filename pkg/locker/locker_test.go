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

package locker

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockerLock(t *testing.T) {
	l := New()
	l.Lock("doc-a")

	acquired := make(chan struct{})
	go func() {
		l.Lock("doc-a")
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("lock acquired while held")
	default:
	}

	assert.NoError(t, l.Unlock("doc-a"))
	<-acquired
	assert.NoError(t, l.Unlock("doc-a"))
}

func TestLockerUnlockUnknown(t *testing.T) {
	l := New()
	assert.ErrorIs(t, l.Unlock("never-locked"), ErrNoSuchLock)
}

func TestLockerIndependentNames(t *testing.T) {
	l := New()
	l.Lock("doc-a")

	// A different name must not be blocked by doc-a's holder.
	done := make(chan struct{})
	go func() {
		l.Lock("doc-b")
		defer close(done)
		_ = l.Unlock("doc-b")
	}()
	<-done

	assert.NoError(t, l.Unlock("doc-a"))
}

func TestLockerCleanup(t *testing.T) {
	l := New()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Lock("doc-a")
			defer func() {
				_ = l.Unlock("doc-a")
			}()
		}()
	}
	wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.locks, "locks should be released and deleted")
}
