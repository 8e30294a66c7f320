package authz

import "errors"

var ErrLookupTimeout = errors.New("authorization lookup timed out")
