package hub

import "errors"

var ErrHubStopped = errors.New("hub is stopped")
