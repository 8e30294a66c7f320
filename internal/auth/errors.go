package auth

import "errors"

var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrExpiredToken    = errors.New("token has expired")
	ErrInvalidClaims   = errors.New("token claims do not describe a valid identity")
	ErrSessionNotFound = errors.New("session token not found")
)
