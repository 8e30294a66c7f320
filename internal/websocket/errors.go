package websocket

import "errors"

var (
	ErrAuthTimeout       = errors.New("authentication timeout")
	ErrExpectedAuth      = errors.New("first frame must be authenticate")
	ErrMissingCredential = errors.New("missing credential")
)
