package auth

import (
	"net/http"
	"strings"
)

// BearerToken extracts the credential from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// RequestCredential prefers the bearer header and falls back to the token
// query parameter, which browsers need for websocket upgrades.
func RequestCredential(r *http.Request) string {
	if token := BearerToken(r); token != "" {
		return token
	}
	return r.URL.Query().Get("token")
}
