// Copyright 2025 AI Advisor
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// TenantContext identifies the tenant and user behind a request.
type TenantContext struct {
	TenantID string
	UserID   string
}

// TenantResolver extracts tenant context from bearer tokens. Tokens are
// optional: an absent or unverifiable token yields an empty context and the
// handler falls back to body-supplied tenant fields.
type TenantResolver struct {
	signingKey []byte
}

// NewTenantResolver creates a resolver. An empty signing key disables token
// verification entirely.
func NewTenantResolver(signingKey string) *TenantResolver {
	var key []byte
	if signingKey != "" {
		key = []byte(signingKey)
	}
	return &TenantResolver{signingKey: key}
}

// FromRequest parses the Authorization header if present. It never rejects
// a request; a bad token is treated the same as no token.
func (t *TenantResolver) FromRequest(r *http.Request) TenantContext {
	if t.signingKey == nil {
		return TenantContext{}
	}

	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return TenantContext{}
	}
	tokenString := strings.TrimPrefix(header, "Bearer ")

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return t.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return TenantContext{}
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return TenantContext{}
	}

	return TenantContext{
		TenantID: getClaimString(claims, "tenant_id"),
		UserID:   getClaimString(claims, "user_id"),
	}
}

func getClaimString(claims jwt.MapClaims, key string) string {
	if val, ok := claims[key].(string); ok {
		return val
	}
	return ""
}
