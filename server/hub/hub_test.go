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

package hub_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabd-team/collabd/api/types"
	"github.com/collabd-team/collabd/server/hub"
	"github.com/collabd-team/collabd/server/profiling/prometheus"
)

// fakeConn records the frames written to it. When failing is set, every
// write returns an error.
type fakeConn struct {
	mu      sync.Mutex
	frames  [][]byte
	failing bool
	closed  bool
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failing {
		return fmt.Errorf("write on broken connection")
	}
	c.frames = append(c.frames, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	return nil
}

// received returns the decoded frames of the given type.
func (c *fakeConn) received(t *testing.T, msgType types.MessageType) []types.OutboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	var msgs []types.OutboundMessage
	for _, frame := range c.frames {
		var msg types.OutboundMessage
		require.NoError(t, json.Unmarshal(frame, &msg))
		if msg.Type == msgType {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

func newHub(t *testing.T) *hub.Hub {
	metrics, err := prometheus.NewMetrics()
	require.NoError(t, err)
	return hub.New(metrics)
}

func TestHub(t *testing.T) {
	t.Run("broadcast reaches every group member", func(t *testing.T) {
		ctx := context.Background()
		h := newHub(t)

		connA, connB := &fakeConn{}, &fakeConn{}
		h.Register(connA, "group-1")
		h.Register(connB, "group-1")
		connC := &fakeConn{}
		h.Register(connC, "group-2")

		h.Broadcast(ctx, "group-1", &types.OutboundMessage{
			Type:    types.MessageChat,
			Content: "hello",
		})

		assert.Len(t, connA.received(t, types.MessageChat), 1)
		assert.Len(t, connB.received(t, types.MessageChat), 1)
		assert.Len(t, connC.received(t, types.MessageChat), 0)
	})

	t.Run("failing connection does not break fan-out", func(t *testing.T) {
		ctx := context.Background()
		h := newHub(t)

		connA := &fakeConn{}
		broken := &fakeConn{failing: true}
		connB := &fakeConn{}
		h.Register(connA, "group-1")
		h.Register(broken, "group-1")
		h.Register(connB, "group-1")

		h.Broadcast(ctx, "group-1", &types.OutboundMessage{
			Type:    types.MessageChat,
			Content: "hello",
		})

		assert.Len(t, connA.received(t, types.MessageChat), 1)
		assert.Len(t, connB.received(t, types.MessageChat), 1)

		// The broken connection is evicted and closed.
		assert.Equal(t, 2, h.Len())
		assert.True(t, broken.closed)
	})

	t.Run("authenticate announces presence to the group", func(t *testing.T) {
		ctx := context.Background()
		h := newHub(t)

		connA, connB := &fakeConn{}, &fakeConn{}
		idA := h.Register(connA, "group-1")
		h.Register(connB, "group-1")

		require.NoError(t, h.Authenticate(ctx, idA, "user-a"))

		msgs := connB.received(t, types.MessagePresence)
		require.Len(t, msgs, 1)
		assert.Equal(t, "user-a", msgs[0].UserID)
		assert.Equal(t, types.PresenceOnline, msgs[0].Status)

		entries := h.Presence("group-1")
		require.Len(t, entries, 1)
		assert.Equal(t, types.PresenceOnline, entries[0].Status)
	})

	t.Run("authenticate unknown connection fails", func(t *testing.T) {
		ctx := context.Background()
		h := newHub(t)

		assert.Error(t, h.Authenticate(ctx, "no-such-conn", "user-a"))
	})

	t.Run("remove marks the user offline after cleanup", func(t *testing.T) {
		ctx := context.Background()
		h := newHub(t)

		connA, connB := &fakeConn{}, &fakeConn{}
		idA := h.Register(connA, "group-1")
		idB := h.Register(connB, "group-1")
		require.NoError(t, h.Authenticate(ctx, idA, "user-a"))
		require.NoError(t, h.Authenticate(ctx, idB, "user-b"))

		h.Remove(ctx, idA)

		// user-a is gone from the session table immediately.
		assert.False(t, h.SendToUser(ctx, "user-a", &types.OutboundMessage{
			Type: types.MessageSignal,
		}))

		msgs := connB.received(t, types.MessagePresence)
		require.NotEmpty(t, msgs)
		last := msgs[len(msgs)-1]
		assert.Equal(t, "user-a", last.UserID)
		assert.Equal(t, types.PresenceOffline, last.Status)

		entries := h.Presence("group-1")
		require.Len(t, entries, 2)
		assert.Equal(t, types.PresenceOffline, entries[0].Status)
		assert.Equal(t, types.PresenceOnline, entries[1].Status)
	})

	t.Run("remove is idempotent", func(t *testing.T) {
		ctx := context.Background()
		h := newHub(t)

		id := h.Register(&fakeConn{}, "group-1")
		h.Remove(ctx, id)
		h.Remove(ctx, id)
		assert.Equal(t, 0, h.Len())
	})

	t.Run("reauthentication overwrites the primary session", func(t *testing.T) {
		ctx := context.Background()
		h := newHub(t)

		oldConn, newConn := &fakeConn{}, &fakeConn{}
		oldID := h.Register(oldConn, "group-1")
		newID := h.Register(newConn, "group-1")
		require.NoError(t, h.Authenticate(ctx, oldID, "user-a"))
		require.NoError(t, h.Authenticate(ctx, newID, "user-a"))

		ok := h.SendToUser(ctx, "user-a", &types.OutboundMessage{
			Type:       types.MessageSignal,
			FromUserID: "user-b",
		})
		assert.True(t, ok)
		assert.Len(t, newConn.received(t, types.MessageSignal), 1)
		assert.Len(t, oldConn.received(t, types.MessageSignal), 0)

		// Removing the stale connection must not take the user offline.
		h.Remove(ctx, oldID)
		entries := h.Presence("group-1")
		require.Len(t, entries, 1)
		assert.Equal(t, types.PresenceOnline, entries[0].Status)
	})

	t.Run("send to user without a session returns false", func(t *testing.T) {
		ctx := context.Background()
		h := newHub(t)

		assert.False(t, h.SendToUser(ctx, "user-a", &types.OutboundMessage{
			Type: types.MessageSignal,
		}))
	})

	t.Run("failed direct send evicts the connection", func(t *testing.T) {
		ctx := context.Background()
		h := newHub(t)

		broken := &fakeConn{}
		id := h.Register(broken, "group-1")
		require.NoError(t, h.Authenticate(ctx, id, "user-a"))

		broken.mu.Lock()
		broken.failing = true
		broken.mu.Unlock()

		assert.False(t, h.SendToUser(ctx, "user-a", &types.OutboundMessage{
			Type: types.MessageSignal,
		}))
		assert.Equal(t, 0, h.Len())
	})

	t.Run("close disconnects everything", func(t *testing.T) {
		ctx := context.Background()
		h := newHub(t)

		connA, connB := &fakeConn{}, &fakeConn{}
		h.Register(connA, "group-1")
		h.Register(connB, "group-2")

		h.Close(ctx)
		assert.Equal(t, 0, h.Len())
		assert.True(t, connA.closed)
		assert.True(t, connB.closed)
	})
}
