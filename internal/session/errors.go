package session

import "errors"

var (
	ErrNotAuthenticated     = errors.New("connection is not authenticated")
	ErrAlreadyAuthenticated = errors.New("connection is already authenticated")
	ErrNotJoined            = errors.New("connection has not joined the room")
	ErrAccessDenied         = errors.New("not permitted to access this class")
	ErrRateLimited          = errors.New("too many operations")
)
