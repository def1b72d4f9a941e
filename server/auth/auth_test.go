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

package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabd-team/collabd/pkg/errors"
	"github.com/collabd-team/collabd/server/auth"
)

func signToken(t *testing.T, secret, subject string, expiresAt time.Time) string {
	claims := jwt.StandardClaims{
		Subject:   subject,
		ExpiresAt: expiresAt.Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestVerifier(t *testing.T) {
	verifier := auth.NewVerifier("test-secret")

	t.Run("valid token yields its subject", func(t *testing.T) {
		token := signToken(t, "test-secret", "user-a", time.Now().Add(time.Hour))

		userID, err := verifier.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, "user-a", userID)
	})

	t.Run("token signed with another secret is rejected", func(t *testing.T) {
		token := signToken(t, "other-secret", "user-a", time.Now().Add(time.Hour))

		_, err := verifier.Verify(token)
		require.Error(t, err)
		assert.True(t, errors.IsStatus(err, errors.ErrCodeUnauthenticated))
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		token := signToken(t, "test-secret", "user-a", time.Now().Add(-time.Hour))

		_, err := verifier.Verify(token)
		require.Error(t, err)
	})

	t.Run("token without a subject is rejected", func(t *testing.T) {
		token := signToken(t, "test-secret", "", time.Now().Add(time.Hour))

		_, err := verifier.Verify(token)
		require.Error(t, err)
	})

	t.Run("garbage is rejected", func(t *testing.T) {
		_, err := verifier.Verify("not-a-token")
		require.Error(t, err)
	})
}
