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

package rpc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabd-team/collabd/api/types"
	"github.com/collabd-team/collabd/server/backend"
	"github.com/collabd-team/collabd/server/profiling/prometheus"
)

const testSecret = "test-secret"

func signToken(t *testing.T, subject string) string {
	claims := jwt.StandardClaims{
		Subject:   subject,
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func setUpServer(t *testing.T, conf *backend.Config) (*httptest.Server, *backend.Backend) {
	if conf == nil {
		conf = &backend.Config{SecretKey: testSecret}
	}

	metrics, err := prometheus.NewMetrics()
	require.NoError(t, err)

	be, err := backend.New(conf, nil, metrics)
	require.NoError(t, err)

	server, err := NewServer(&Config{Port: 8080}, be)
	require.NoError(t, err)

	ts := httptest.NewServer(server.httpServer.Handler)
	t.Cleanup(func() {
		ts.Close()
	})
	return ts, be
}

func dialWS(t *testing.T, ts *httptest.Server, groupID, userID string) *websocket.Conn {
	url := fmt.Sprintf(
		"%s/ws/%s?token=%s",
		strings.Replace(ts.URL, "http", "ws", 1),
		groupID,
		signToken(t, userID),
	)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame map[string]interface{}) {
	require.NoError(t, conn.WriteJSON(frame))
}

// waitMember reads frames until the given user's online presence
// arrives, proving their session is bound.
func waitMember(t *testing.T, conn *websocket.Conn, userID string) {
	for {
		msg := waitFrame(t, conn, types.MessagePresence)
		if msg.UserID == userID && msg.Status == types.PresenceOnline {
			return
		}
	}
}

// waitFrame reads frames until one of the wanted type arrives. Presence
// and other interleaved frames are skipped.
func waitFrame(t *testing.T, conn *websocket.Conn, want types.MessageType) types.OutboundMessage {
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s frame", want)

		var msg types.OutboundMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg.Type == want {
			return msg
		}
	}
}

func apiGet(t *testing.T, ts *httptest.Server, userID, path string) *http.Response {
	req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+signToken(t, userID))

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func TestServer(t *testing.T) {
	t.Run("health endpoint needs no token", func(t *testing.T) {
		ts, _ := setUpServer(t, nil)

		resp, err := ts.Client().Get(ts.URL + "/healthz")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("API without a token is unauthorized", func(t *testing.T) {
		ts, _ := setUpServer(t, nil)

		resp, err := ts.Client().Get(ts.URL + "/api/documents/doc-1")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("websocket with an invalid token is rejected", func(t *testing.T) {
		ts, _ := setUpServer(t, nil)

		url := strings.Replace(ts.URL, "http", "ws", 1) + "/ws/group-1?token=garbage"
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("chat frames reach every group member", func(t *testing.T) {
		ts, _ := setUpServer(t, nil)

		connA := dialWS(t, ts, "group-1", "user-a")
		connB := dialWS(t, ts, "group-1", "user-b")
		waitMember(t, connA, "user-b")

		sendFrame(t, connA, map[string]interface{}{
			"type":       "chat_message",
			"channel_id": "channel-1",
			"content":    "hello there",
		})

		for _, conn := range []*websocket.Conn{connA, connB} {
			msg := waitFrame(t, conn, types.MessageChat)
			assert.Equal(t, "user-a", msg.UserID)
			assert.Equal(t, "channel-1", msg.ChannelID)
			assert.Equal(t, "hello there", msg.Content)
			assert.NotEmpty(t, msg.ID)
		}
	})

	t.Run("document operations are sequenced and acknowledged", func(t *testing.T) {
		ts, _ := setUpServer(t, nil)

		connA := dialWS(t, ts, "group-1", "user-a")
		connB := dialWS(t, ts, "group-1", "user-b")
		waitMember(t, connA, "user-b")

		sendFrame(t, connA, map[string]interface{}{
			"type":        "document_operation",
			"document_id": "doc-1",
			"op_type":     "insert",
			"position":    0,
			"content":     "hello",
		})

		ack := waitFrame(t, connA, types.MessageAck)
		require.NotNil(t, ack.Operation)
		assert.Equal(t, int64(1), ack.Operation.SequenceIndex)

		broadcast := waitFrame(t, connB, types.MessageDocOp)
		require.NotNil(t, broadcast.Operation)
		assert.Equal(t, "user-a", broadcast.UserID)
		assert.Equal(t, "hello", broadcast.Operation.Content)
	})

	t.Run("operations are resyncable over HTTP", func(t *testing.T) {
		ts, _ := setUpServer(t, nil)

		connA := dialWS(t, ts, "group-1", "user-a")
		for i, content := range []string{"a", "b", "c"} {
			sendFrame(t, connA, map[string]interface{}{
				"type":         "document_operation",
				"document_id":  "doc-1",
				"op_type":      "insert",
				"position":     i,
				"content":      content,
				"base_version": i,
			})
			waitFrame(t, connA, types.MessageAck)
		}

		resp := apiGet(t, ts, "user-a", "/api/documents/doc-1/operations?since_version=1")
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var resync types.ResyncResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&resync))
		assert.Equal(t, int64(3), resync.Version)
		require.Len(t, resync.Operations, 1)
		assert.Equal(t, int64(3), resync.Operations[0].SequenceIndex)
	})

	t.Run("signals go to the target user only", func(t *testing.T) {
		ts, _ := setUpServer(t, nil)

		connA := dialWS(t, ts, "group-1", "user-a")
		connB := dialWS(t, ts, "group-1", "user-b")

		// Wait until user-b's presence reaches user-a so both sessions
		// are bound before signaling.
		waitMember(t, connA, "user-b")

		sendFrame(t, connA, map[string]interface{}{
			"type":           "signal",
			"target_user_id": "user-b",
			"signal_type":    "offer",
			"signal_data":    map[string]interface{}{"sdp": "v=0"},
			"call_id":        "call-1",
		})

		msg := waitFrame(t, connB, types.MessageSignal)
		assert.Equal(t, "user-a", msg.FromUserID)
		assert.Equal(t, "offer", msg.SignalType)
		assert.Equal(t, "call-1", msg.CallID)
	})

	t.Run("chat over the limit produces an error frame", func(t *testing.T) {
		conf := &backend.Config{
			SecretKey: testSecret,
			RateLimit: map[string]backend.RateLimitRule{
				"chat_message": {Limit: 2, WindowSeconds: 60},
			},
		}
		ts, _ := setUpServer(t, conf)

		connA := dialWS(t, ts, "group-1", "user-a")
		for i := 0; i < 3; i++ {
			sendFrame(t, connA, map[string]interface{}{
				"type":       "chat_message",
				"channel_id": "channel-1",
				"content":    fmt.Sprintf("message %d", i),
			})
		}

		msg := waitFrame(t, connA, types.MessageError)
		assert.Equal(t, "rate_limit_exceeded", msg.ErrorCode)
	})

	t.Run("presence snapshot is served over HTTP", func(t *testing.T) {
		ts, _ := setUpServer(t, nil)

		connA := dialWS(t, ts, "group-1", "user-a")
		// The first frame user-a gets about itself proves the session
		// is bound.
		waitFrame(t, connA, types.MessagePresence)

		resp := apiGet(t, ts, "user-a", "/api/groups/group-1/presence")
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Limit"))

		var snapshot presenceResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&snapshot))
		require.Len(t, snapshot.Presence, 1)
		assert.Equal(t, "user-a", snapshot.Presence[0].UserID)
		assert.Equal(t, types.PresenceOnline, snapshot.Presence[0].Status)
	})

	t.Run("chat history is served over HTTP", func(t *testing.T) {
		ts, _ := setUpServer(t, nil)

		connA := dialWS(t, ts, "group-1", "user-a")
		sendFrame(t, connA, map[string]interface{}{
			"type":       "chat_message",
			"channel_id": "channel-1",
			"content":    "for the record",
		})
		waitFrame(t, connA, types.MessageChat)

		resp := apiGet(t, ts, "user-a", "/api/channels/channel-1/messages")
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var history messagesResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
		require.Len(t, history.Messages, 1)
		assert.Equal(t, "for the record", history.Messages[0].Content)
	})

	t.Run("unknown frame types are ignored", func(t *testing.T) {
		ts, _ := setUpServer(t, nil)

		connA := dialWS(t, ts, "group-1", "user-a")
		sendFrame(t, connA, map[string]interface{}{
			"type": "future_feature",
		})

		// The connection stays usable after the unknown frame.
		sendFrame(t, connA, map[string]interface{}{
			"type":       "chat_message",
			"channel_id": "channel-1",
			"content":    "still here",
		})
		msg := waitFrame(t, connA, types.MessageChat)
		assert.Equal(t, "still here", msg.Content)
	})
}
