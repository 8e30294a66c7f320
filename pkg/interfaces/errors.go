package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrMessageNotFound      = errors.New("message not found")
	ErrAlreadyAuthenticated = errors.New("connection already authenticated")
	ErrSendBufferFull       = errors.New("send buffer full")
	ErrConnectionClosed     = errors.New("connection closed")
	ErrInvalidCredential    = errors.New("invalid credential")
)
