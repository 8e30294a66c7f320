package interfaces

import "classchat/pkg/types"

// Connection represents one live client transport bound to at most one identity
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// keeps the session manager and dispatcher testable with in-memory fakes
type Connection interface {
	// ID returns the process-unique connection id
	ID() string

	// Identity returns the bound identity and whether authentication completed
	Identity() (types.Identity, bool)

	// SetIdentity binds the identity exactly once
	// FUNCTIONAL DISCOVERY: A second call fails so authentication cannot be replayed
	SetIdentity(identity types.Identity) error

	// IsAuthenticated returns true once SetIdentity succeeded
	IsAuthenticated() bool

	// Send enqueues an event without blocking
	// TECHNICAL DISCOVERY: Implementations must never block the caller; a full
	// outbound queue is reported as an error so the dispatcher can drop the peer
	Send(event *types.Envelope) error

	// Close closes the connection and releases its writer
	Close() error
}
