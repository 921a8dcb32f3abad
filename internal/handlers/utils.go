// internal/handlers/utils.go
package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ludoroyale/server/internal/auth"
)

// extractTokenFromCookie pulls the auth_token value out of a raw Cookie
// header.
func extractTokenFromCookie(cookieHeader string) string {
	for _, part := range strings.Split(cookieHeader, ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "auth_token=") {
			return strings.TrimPrefix(part, "auth_token=")
		}
	}
	return ""
}

// authUserID resolves the requesting user from either the Authorization
// bearer header or the auth_token cookie.
func authUserID(r *http.Request) (uuid.UUID, error) {
	token := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	if token == "" {
		token = extractTokenFromCookie(r.Header.Get("Cookie"))
	}
	if token == "" {
		return uuid.Nil, fmt.Errorf("missing auth token")
	}

	sub, err := auth.AuthenticateJWT(token)
	if err != nil {
		return uuid.Nil, err
	}
	userID, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid user id in token: %w", err)
	}
	return userID, nil
}
