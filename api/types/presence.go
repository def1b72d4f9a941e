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

// Package types provides the types used in the Collabd API.
package types

import "time"

// PresenceStatus is a user's presence state within a group.
type PresenceStatus string

const (
	// PresenceOnline means the user has a live primary connection.
	PresenceOnline PresenceStatus = "online"

	// PresenceOffline means the user's primary connection is gone.
	PresenceOffline PresenceStatus = "offline"
)

// PresenceEntry is one user's presence within a group.
type PresenceEntry struct {
	UserID   string         `json:"user_id"`
	Status   PresenceStatus `json:"status"`
	LastSeen time.Time      `json:"last_seen"`
}
