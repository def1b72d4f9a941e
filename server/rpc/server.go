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

// Package rpc provides the client-facing surface of the server: the
// websocket endpoint clients attach to and the HTTP API used for
// catch-up reads.
package rpc

import (
	"context"
	"fmt"
	"net/http"
	gotime "time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/collabd-team/collabd/api/types"
	"github.com/collabd-team/collabd/pkg/validation"
	"github.com/collabd-team/collabd/server/backend"
	"github.com/collabd-team/collabd/server/backend/database"
	"github.com/collabd-team/collabd/server/limiter"
	"github.com/collabd-team/collabd/server/logging"
)

// Server serves the websocket endpoint and the HTTP API.
type Server struct {
	conf       *Config
	backend    *backend.Backend
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// NewServer creates a new instance of Server.
func NewServer(conf *Config, be *backend.Backend) (*Server, error) {
	s := &Server{
		conf:    conf,
		backend: be,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect from the workspace frontend on
			// another origin; authorization happens via tokens.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/ws/{groupID}", s.handleWebSocket).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(s.authMiddleware, s.limitMiddleware)
	api.HandleFunc("/documents/{documentID}", s.handleDocument).Methods(http.MethodGet)
	api.HandleFunc("/documents/{documentID}/operations", s.handleOperations).Methods(http.MethodGet)
	api.HandleFunc("/groups/{groupID}/presence", s.handlePresence).Methods(http.MethodGet)
	api.HandleFunc("/channels/{channelID}/messages", s.handleMessages).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", conf.Port),
		Handler: router,
	}

	return s, nil
}

// Start starts this server by opening the listener.
func (s *Server) Start() error {
	return s.listenAndServe()
}

// Shutdown shuts down this server. When graceful is true, in-flight
// requests are drained first.
func (s *Server) Shutdown(graceful bool) {
	if graceful {
		ctx, cancel := context.WithTimeout(context.Background(), 10*gotime.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			logging.DefaultLogger().Warnf("HTTP server shutdown: %v", err)
		}
		return
	}

	if err := s.httpServer.Close(); err != nil {
		logging.DefaultLogger().Warnf("HTTP server close: %v", err)
	}
}

func (s *Server) listenAndServe() error {
	go func() {
		logging.DefaultLogger().Infof("serving RPC on %d", s.conf.Port)

		var err error
		if s.conf.CertFile != "" && s.conf.KeyFile != "" {
			err = s.httpServer.ListenAndServeTLS(s.conf.CertFile, s.conf.KeyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logging.DefaultLogger().Errorf("HTTP server: %v", err)
		}
	}()
	return nil
}

// handleWebSocket attaches a client connection. The client proves its
// identity with a token before any frame is accepted, joins its group,
// and is then served until the connection drops.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	groupID := mux.Vars(r)["groupID"]
	if err := validation.ValidateValue(groupID, "required,slug"); err != nil {
		http.Error(w, "invalid group id", http.StatusBadRequest)
		return
	}

	userID, err := s.backend.Verifier.Verify(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.From(r.Context()).Warnf("upgrade: %v", err)
		return
	}

	ctx := r.Context()
	conn := newWSConn(raw)
	connID := s.backend.Hub.Register(conn, groupID)
	defer s.backend.Hub.Remove(ctx, connID)

	if err := s.backend.Hub.Authenticate(ctx, connID, userID); err != nil {
		logging.From(ctx).Warnf("authenticate %s: %v", connID, err)
		return
	}

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if logging.Enabled(zap.DebugLevel) {
				logging.From(ctx).Debugf("read %s: %v", connID, err)
			}
			return
		}
		s.dispatch(ctx, userID, groupID, conn, data)
	}
}

// dispatch routes one inbound frame. Frames that fail admission or
// validation produce an error frame for the sender; they are never
// broadcast.
func (s *Server) dispatch(
	ctx context.Context,
	userID, groupID string,
	conn *wsConn,
	data []byte,
) {
	msg, err := types.DecodeMessage(data)
	if err != nil {
		s.sendError(ctx, conn, "invalid_message", err.Error())
		return
	}

	switch m := msg.(type) {
	case types.ChatMessage:
		s.handleChat(ctx, userID, groupID, conn, m)
	case types.TypingMessage:
		s.backend.Hub.Broadcast(ctx, groupID, &types.OutboundMessage{
			Type:      types.MessageTyping,
			Timestamp: gotime.Now(),
			UserID:    userID,
			ChannelID: m.ChannelID,
			IsTyping:  &m.IsTyping,
		})
	case types.CursorMessage:
		s.backend.Hub.Broadcast(ctx, groupID, &types.OutboundMessage{
			Type:       types.MessageCursor,
			Timestamp:  gotime.Now(),
			UserID:     userID,
			DocumentID: m.DocumentID,
			Position:   &m.Position,
			Selection:  m.Selection,
		})
	case types.DocOpMessage:
		s.handleDocOp(ctx, userID, groupID, conn, m)
	case types.SignalMessage:
		s.handleSignal(ctx, userID, conn, m)
	case types.UnknownMessage:
		s.backend.Metrics.AddUnknownMessage()
		if logging.Enabled(zap.DebugLevel) {
			logging.From(ctx).Debugf("ignoring unknown message type %q", m.Type)
		}
	}
}

func (s *Server) handleChat(
	ctx context.Context,
	userID, groupID string,
	conn *wsConn,
	msg types.ChatMessage,
) {
	if res := s.backend.Limiter.Allow(ctx, userID, limiter.ClassChat); !res.Allowed {
		s.sendError(ctx, conn, "rate_limit_exceeded", res.Info().Detail)
		return
	}
	if err := validation.ValidateStruct(msg); err != nil {
		s.sendError(ctx, conn, "invalid_message", err.Error())
		return
	}

	stored, err := s.backend.DB.AppendChatMessage(ctx, &database.MessageInfo{
		ID:          uuid.New().String(),
		ChannelID:   msg.ChannelID,
		GroupID:     groupID,
		UserID:      userID,
		Content:     msg.Content,
		ContentType: msg.ContentType,
		CreatedAt:   gotime.Now(),
	})
	if err != nil {
		logging.From(ctx).Errorf("store chat message: %v", err)
		s.sendError(ctx, conn, "storage_unavailable", "failed to store chat message")
		return
	}

	s.backend.Hub.Broadcast(ctx, groupID, &types.OutboundMessage{
		Type:        types.MessageChat,
		Timestamp:   stored.CreatedAt,
		ID:          stored.ID,
		ChannelID:   stored.ChannelID,
		Content:     stored.Content,
		ContentType: stored.ContentType,
		UserID:      userID,
	})
}

func (s *Server) handleDocOp(
	ctx context.Context,
	userID, groupID string,
	conn *wsConn,
	msg types.DocOpMessage,
) {
	if res := s.backend.Limiter.Allow(ctx, userID, limiter.ClassDocOp); !res.Allowed {
		s.sendError(ctx, conn, "rate_limit_exceeded", res.Info().Detail)
		return
	}
	if err := validation.ValidateStruct(msg); err != nil {
		s.sendError(ctx, conn, "invalid_message", err.Error())
		return
	}

	accepted, err := s.backend.Sequencer.Push(ctx, userID, groupID, msg)
	if err != nil {
		s.sendError(ctx, conn, "operation_rejected", err.Error())
		return
	}

	// The acknowledgement goes to the submitter only; the group already
	// receives the operation through the broadcast.
	s.send(ctx, conn, &types.OutboundMessage{
		Type:       types.MessageAck,
		Timestamp:  gotime.Now(),
		DocumentID: accepted.DocumentID,
		Operation:  accepted,
	})
}

func (s *Server) handleSignal(
	ctx context.Context,
	userID string,
	conn *wsConn,
	msg types.SignalMessage,
) {
	if res := s.backend.Limiter.Allow(ctx, userID, limiter.ClassSignaling); !res.Allowed {
		s.sendError(ctx, conn, "rate_limit_exceeded", res.Info().Detail)
		return
	}
	if err := validation.ValidateStruct(msg); err != nil {
		s.sendError(ctx, conn, "invalid_message", err.Error())
		return
	}

	s.backend.SignalRouter.Route(ctx, userID, msg)
}

// send writes the given frame to the submitter's own connection.
func (s *Server) send(ctx context.Context, conn *wsConn, msg *types.OutboundMessage) {
	data, err := msg.Encode()
	if err != nil {
		logging.From(ctx).Warnf("encode %s frame: %v", msg.Type, err)
		return
	}
	if err := conn.WriteMessage(data); err != nil && logging.Enabled(zap.DebugLevel) {
		logging.From(ctx).Debugf("send %s frame: %v", msg.Type, err)
	}
}

func (s *Server) sendError(ctx context.Context, conn *wsConn, code, message string) {
	s.send(ctx, conn, &types.OutboundMessage{
		Type:         types.MessageError,
		Timestamp:    gotime.Now(),
		ErrorCode:    code,
		ErrorMessage: message,
	})
}
