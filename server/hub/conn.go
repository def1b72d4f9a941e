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

// Package hub provides the connection registry of the server. It tracks
// live connections per group, the primary connection of each user, and
// presence state, and fans out messages to group members.
package hub

import (
	"time"
)

// Conn is a live client connection attached to the hub. Implementations
// must make WriteMessage safe for concurrent use and must not block
// indefinitely on a slow peer.
type Conn interface {
	// WriteMessage sends the given encoded message to the peer.
	WriteMessage(data []byte) error

	// Close closes the underlying connection.
	Close() error
}

// connection is the hub-side state of a registered connection.
type connection struct {
	id      string
	conn    Conn
	groupID string

	// userID is empty until the connection authenticates.
	userID string

	joinedAt time.Time
}
