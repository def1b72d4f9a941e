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
 *
 * This file was written with reference to moby/locker.
 *   https://github.com/moby/locker
 */

// Package locker provides name-keyed locks so each document can run its
// critical section independently. A lock is created on first Lock of a
// name and removed again on Unlock when nothing else is waiting for it,
// so idle documents hold no memory.
package locker

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrNoSuchLock is returned when the requested lock does not exist.
var ErrNoSuchLock = errors.New("no such lock")

// Locker provides a locking mechanism based on the passed in reference name.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*lockCtr
}

// lockCtr is used by Locker to represent a lock with a given name.
type lockCtr struct {
	mu sync.Mutex
	// waiters is the number of callers waiting to acquire the lock.
	// This is int32 instead of uint32 so we can add `-1` in dec().
	waiters int32
}

func (l *lockCtr) inc() {
	atomic.AddInt32(&l.waiters, 1)
}

func (l *lockCtr) dec() {
	atomic.AddInt32(&l.waiters, -1)
}

func (l *lockCtr) count() int32 {
	return atomic.LoadInt32(&l.waiters)
}

// New creates a new Locker.
func New() *Locker {
	return &Locker{
		locks: make(map[string]*lockCtr),
	}
}

// Lock locks the mutex with the given name. If it doesn't exist, one is created.
func (l *Locker) Lock(name string) {
	l.mu.Lock()
	nameLock, exists := l.locks[name]
	if !exists {
		nameLock = &lockCtr{}
		l.locks[name] = nameLock
	}

	// Increment the waiters while inside the main mutex so the lock isn't
	// deleted if Lock and Unlock are called concurrently.
	nameLock.inc()
	l.mu.Unlock()

	// Lock the name lock outside the main mutex so we don't block other names.
	nameLock.mu.Lock()
	nameLock.dec()
}

// Unlock unlocks the mutex with the given name. If the given lock is not
// being waited on by any other callers, it is deleted.
func (l *Locker) Unlock(name string) error {
	l.mu.Lock()
	nameLock, exists := l.locks[name]
	if !exists {
		l.mu.Unlock()
		return ErrNoSuchLock
	}

	if nameLock.count() == 0 {
		delete(l.locks, name)
	}
	nameLock.mu.Unlock()

	l.mu.Unlock()
	return nil
}
