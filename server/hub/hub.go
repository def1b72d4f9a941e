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

package hub

import (
	"context"
	"sort"
	gosync "sync"
	gotime "time"

	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/collabd-team/collabd/api/types"
	"github.com/collabd-team/collabd/pkg/errors"
	"github.com/collabd-team/collabd/server/logging"
	"github.com/collabd-team/collabd/server/profiling/prometheus"
)

// group has the connections and presence state of a single group.
type group struct {
	groupID string

	connMapByID         map[string]*connection
	presenceMapByUserID map[string]*types.PresenceEntry
}

// newGroup returns a new group of the given group id.
func newGroup(groupID string) *group {
	return &group{
		groupID:             groupID,
		connMapByID:         make(map[string]*connection),
		presenceMapByUserID: make(map[string]*types.PresenceEntry),
	}
}

// Len returns the number of the connections in the group.
func (g *group) Len() int {
	return len(g.connMapByID)
}

// Hub is the in-memory connection registry of the server, used for a
// single server deployment. All state is guarded by a single lock;
// network writes happen outside of it on a snapshot of the membership.
type Hub struct {
	groupMapMu        *gosync.RWMutex
	connMapByID       map[string]*connection
	groupMapByGroupID map[string]*group

	// sessionMapByUserID keeps the primary connection of each
	// authenticated user. A new authentication for the same user
	// overwrites the previous binding.
	sessionMapByUserID map[string]*connection

	metrics *prometheus.Metrics
}

// New creates an instance of Hub.
func New(metrics *prometheus.Metrics) *Hub {
	return &Hub{
		groupMapMu:         &gosync.RWMutex{},
		connMapByID:        make(map[string]*connection),
		groupMapByGroupID:  make(map[string]*group),
		sessionMapByUserID: make(map[string]*connection),
		metrics:            metrics,
	}
}

// Register attaches the given connection to the given group and returns
// the connection id assigned by the hub. The connection is anonymous
// until Authenticate is called for it.
func (h *Hub) Register(conn Conn, groupID string) string {
	h.groupMapMu.Lock()
	defer h.groupMapMu.Unlock()

	c := &connection{
		id:       xid.New().String(),
		conn:     conn,
		groupID:  groupID,
		joinedAt: gotime.Now(),
	}

	if _, ok := h.groupMapByGroupID[groupID]; !ok {
		h.groupMapByGroupID[groupID] = newGroup(groupID)
	}
	h.groupMapByGroupID[groupID].connMapByID[c.id] = c
	h.connMapByID[c.id] = c

	h.metrics.AddConnection()
	return c.id
}

// Authenticate binds the given user to the given connection, marks the
// user online in the connection's group and announces the presence
// change to the group. If the user already had a primary connection, the
// new one overwrites the binding; the old connection stays registered
// until it is removed.
func (h *Hub) Authenticate(ctx context.Context, connID, userID string) error {
	h.groupMapMu.Lock()
	c, ok := h.connMapByID[connID]
	if !ok {
		h.groupMapMu.Unlock()
		return errors.NotFound("connection not registered: " + connID)
	}

	c.userID = userID
	h.sessionMapByUserID[userID] = c

	g := h.groupMapByGroupID[c.groupID]
	g.presenceMapByUserID[userID] = &types.PresenceEntry{
		UserID:   userID,
		Status:   types.PresenceOnline,
		LastSeen: gotime.Now(),
	}
	groupID := c.groupID
	h.groupMapMu.Unlock()

	if logging.Enabled(zap.DebugLevel) {
		logging.From(ctx).Debugf(`Authenticate(%s,%s)`, connID, userID)
	}

	h.Broadcast(ctx, groupID, presenceMessage(userID, types.PresenceOnline))
	return nil
}

// Remove detaches the given connection from the hub and closes it.
// Removing an unknown connection is a no-op, so eviction after a failed
// send and the transport's own close path can race safely. If the
// connection was the primary connection of its user, the user is marked
// offline and the change is announced after the cleanup is done.
func (h *Hub) Remove(ctx context.Context, connID string) {
	h.groupMapMu.Lock()
	c, ok := h.connMapByID[connID]
	if !ok {
		h.groupMapMu.Unlock()
		return
	}

	delete(h.connMapByID, connID)

	g := h.groupMapByGroupID[c.groupID]
	delete(g.connMapByID, connID)

	wasPrimary := c.userID != "" && h.sessionMapByUserID[c.userID] == c
	if wasPrimary {
		delete(h.sessionMapByUserID, c.userID)
		g.presenceMapByUserID[c.userID] = &types.PresenceEntry{
			UserID:   c.userID,
			Status:   types.PresenceOffline,
			LastSeen: gotime.Now(),
		}
	}

	if g.Len() == 0 {
		delete(h.groupMapByGroupID, c.groupID)
	}
	h.groupMapMu.Unlock()

	if err := c.conn.Close(); err != nil {
		logging.From(ctx).Debugf(`Remove(%s) close: %v`, connID, err)
	}
	h.metrics.RemoveConnection()

	// The announcement is best effort. The departed user must be gone
	// from the registry even if no group member can be reached.
	if wasPrimary {
		h.Broadcast(ctx, c.groupID, presenceMessage(c.userID, types.PresenceOffline))
	}
}

// Broadcast sends the given message to every connection of the given
// group. The message is encoded once; a connection that fails to accept
// the write is evicted without affecting the remaining members.
func (h *Hub) Broadcast(ctx context.Context, groupID string, msg *types.OutboundMessage) {
	data, err := msg.Encode()
	if err != nil {
		logging.From(ctx).Warnf(`Broadcast(%s) encode: %v`, groupID, err)
		return
	}

	h.groupMapMu.RLock()
	g, ok := h.groupMapByGroupID[groupID]
	if !ok {
		h.groupMapMu.RUnlock()
		return
	}
	conns := make([]*connection, 0, g.Len())
	for _, c := range g.connMapByID {
		conns = append(conns, c)
	}
	h.groupMapMu.RUnlock()

	h.metrics.AddBroadcastEvent(string(msg.Type))

	for _, c := range conns {
		if err := c.conn.WriteMessage(data); err != nil {
			if logging.Enabled(zap.DebugLevel) {
				logging.From(ctx).Debugf(
					`Broadcast(%s) to %s failed: %v`,
					groupID, c.id, err,
				)
			}
			h.metrics.AddSendFailure()
			h.Remove(ctx, c.id)
		}
	}
}

// SendToUser sends the given message to the primary connection of the
// given user. It returns false when the user has no live primary
// connection; a failed write evicts the connection and also returns
// false.
func (h *Hub) SendToUser(ctx context.Context, userID string, msg *types.OutboundMessage) bool {
	h.groupMapMu.RLock()
	c, ok := h.sessionMapByUserID[userID]
	h.groupMapMu.RUnlock()
	if !ok {
		return false
	}

	data, err := msg.Encode()
	if err != nil {
		logging.From(ctx).Warnf(`SendToUser(%s) encode: %v`, userID, err)
		return false
	}

	if err := c.conn.WriteMessage(data); err != nil {
		if logging.Enabled(zap.DebugLevel) {
			logging.From(ctx).Debugf(`SendToUser(%s) failed: %v`, userID, err)
		}
		h.metrics.AddSendFailure()
		h.Remove(ctx, c.id)
		return false
	}
	return true
}

// Presence returns a snapshot of the presence entries of the given
// group, ordered by user id.
func (h *Hub) Presence(groupID string) []types.PresenceEntry {
	h.groupMapMu.RLock()
	defer h.groupMapMu.RUnlock()

	g, ok := h.groupMapByGroupID[groupID]
	if !ok {
		return nil
	}

	entries := make([]types.PresenceEntry, 0, len(g.presenceMapByUserID))
	for _, entry := range g.presenceMapByUserID {
		entries = append(entries, *entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].UserID < entries[j].UserID
	})
	return entries
}

// ConnectedUserID returns the authenticated user of the given
// connection, or false when the connection is unknown or anonymous.
func (h *Hub) ConnectedUserID(connID string) (string, bool) {
	h.groupMapMu.RLock()
	defer h.groupMapMu.RUnlock()

	c, ok := h.connMapByID[connID]
	if !ok || c.userID == "" {
		return "", false
	}
	return c.userID, true
}

// Len returns the number of the connections registered in the hub.
func (h *Hub) Len() int {
	h.groupMapMu.RLock()
	defer h.groupMapMu.RUnlock()

	return len(h.connMapByID)
}

// Close removes every registered connection. It is called on server
// shutdown so peers observe a close instead of a dead socket.
func (h *Hub) Close(ctx context.Context) {
	h.groupMapMu.RLock()
	ids := make([]string, 0, len(h.connMapByID))
	for id := range h.connMapByID {
		ids = append(ids, id)
	}
	h.groupMapMu.RUnlock()

	for _, id := range ids {
		h.Remove(ctx, id)
	}
}

// presenceMessage builds the presence announcement for the given user.
func presenceMessage(userID string, status types.PresenceStatus) *types.OutboundMessage {
	return &types.OutboundMessage{
		Type:      types.MessagePresence,
		Timestamp: gotime.Now(),
		UserID:    userID,
		Status:    status,
	}
}
