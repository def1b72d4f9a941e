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
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/collabd-team/collabd/pkg/errors"
	"github.com/collabd-team/collabd/server/limiter"
)

type contextKey string

const userIDKey contextKey = "userID"

// userIDFrom returns the authenticated user of the request.
func userIDFrom(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}

// authMiddleware requires a bearer token on API requests and stores the
// authenticated user on the request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if header == "" || token == header {
			writeError(w, r, errors.Unauthenticated("missing bearer token"))
			return
		}

		userID, err := s.backend.Verifier.Verify(token)
		if err != nil {
			writeError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

// limitMiddleware checks the API budget of the authenticated user and
// reports the window state back through response headers.
func (s *Server) limitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := s.backend.Limiter.Allow(r.Context(), userIDFrom(r.Context()), limiter.ClassDefault)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining()))
		w.Header().Set("X-RateLimit-Window", strconv.Itoa(int(res.Window.Seconds())))

		if !res.Allowed {
			writeJSON(w, http.StatusTooManyRequests, res.Info())
			return
		}

		next.ServeHTTP(w, r)
	})
}
