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

// Package auth verifies the bearer tokens presented by clients when
// they attach a connection or call the HTTP API.
package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt"

	"github.com/collabd-team/collabd/pkg/errors"
)

// Verifier validates signed tokens and extracts the user identity.
type Verifier struct {
	secret []byte
}

// NewVerifier creates an instance of Verifier with the given signing
// secret.
func NewVerifier(secretKey string) *Verifier {
	return &Verifier{secret: []byte(secretKey)}
}

// Verify parses and validates the given token and returns the user id
// from its subject claim.
func (v *Verifier) Verify(token string) (string, error) {
	claims := &jwt.StandardClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", errors.Unauthenticated("invalid token: " + err.Error())
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", errors.Unauthenticated("invalid token: missing subject")
	}

	return claims.Subject, nil
}
