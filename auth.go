// Copyright 2025 Baraa Fadhloun
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// AuthenticatedUser identifies the caller extracted from a bearer token
type AuthenticatedUser struct {
	ID    string
	Email string
}

// Authenticator verifies HS256 bearer tokens
type Authenticator struct {
	secret []byte
}

// NewAuthenticator creates an authenticator with the shared secret
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Authenticate verifies the Authorization header value and returns the
// user it identifies. The token must carry a sub or user_id claim.
func (a *Authenticator) Authenticate(authorization string) (*AuthenticatedUser, error) {
	if authorization == "" {
		return nil, &AuthError{Code: "missing_token", Message: "Authentication required"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(authorization, "Bearer "))
	if token == "" || token == authorization {
		return nil, &AuthError{Code: "missing_token", Message: "Authentication required"}
	}
	if len(a.secret) == 0 {
		return nil, &ConfigError{Field: "jwt_secret", Message: "JWT secret is not configured"}
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, &AuthError{Code: "invalid_token", Message: "Invalid authentication token", Err: err}
	}

	userID := claimString(claims, "sub")
	if userID == "" {
		userID = claimString(claims, "user_id")
	}
	if userID == "" {
		return nil, &AuthError{Code: "invalid_token", Message: "Invalid authentication token"}
	}

	email := claimString(claims, "email")
	if email == "" {
		if metadata, ok := claims["user_metadata"].(map[string]any); ok {
			if value, ok := metadata["email"].(string); ok {
				email = value
			}
		}
	}

	return &AuthenticatedUser{ID: userID, Email: email}, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	if value, ok := claims[key].(string); ok {
		return value
	}
	return ""
}
