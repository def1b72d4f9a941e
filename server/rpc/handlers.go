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
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/collabd-team/collabd/api/types"
	"github.com/collabd-team/collabd/internal/version"
	"github.com/collabd-team/collabd/pkg/errors"
	"github.com/collabd-team/collabd/server/backend/database"
	"github.com/collabd-team/collabd/server/logging"
)

// presenceResponse is the HTTP shape of a group's presence snapshot.
type presenceResponse struct {
	GroupID  string                `json:"group_id"`
	Presence []types.PresenceEntry `json:"presence"`
}

// messagesResponse is the HTTP shape of a channel's recent history.
type messagesResponse struct {
	ChannelID string                  `json:"channel_id"`
	Messages  []*database.MessageInfo `json:"messages"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	docInfo, err := s.backend.Sequencer.Document(r.Context(), mux.Vars(r)["documentID"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, docInfo)
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	sinceVersion := int64(0)
	if raw := r.URL.Query().Get("since_version"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeError(w, r, errors.InvalidArgument("since_version must be a non-negative integer"))
			return
		}
		sinceVersion = parsed
	}

	resp, err := s.backend.Sequencer.OperationsSince(
		r.Context(),
		mux.Vars(r)["documentID"],
		sinceVersion,
	)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	groupID := mux.Vars(r)["groupID"]
	writeJSON(w, http.StatusOK, presenceResponse{
		GroupID:  groupID,
		Presence: s.backend.Hub.Presence(groupID),
	})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, r, errors.InvalidArgument("limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	if limit > database.ChatHistoryLimit {
		limit = database.ChatHistoryLimit
	}

	channelID := mux.Vars(r)["channelID"]
	infos, err := s.backend.DB.FindChatMessages(r.Context(), channelID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if infos == nil {
		infos = []*database.MessageInfo{}
	}

	writeJSON(w, http.StatusOK, messagesResponse{
		ChannelID: channelID,
		Messages:  infos,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.DefaultLogger().Warnf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	if code := errors.StatusOf(err); code != 0 {
		status = code.HTTPStatus()
	}
	if status >= http.StatusInternalServerError {
		logging.From(r.Context()).Errorf("%s %s: %v", r.Method, r.URL.Path, err)
	}

	writeJSON(w, status, map[string]string{"detail": err.Error()})
}
