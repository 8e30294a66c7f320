package interfaces

import (
	"context"
	"time"

	"classchat/pkg/types"
)

// MessageBackend persists the message log
// ARCHITECTURAL DISCOVERY: The backend is storage only; lifecycle rules and
// per-room serialization live in the store that wraps it
type MessageBackend interface {
	// InsertMessage stores a new message and returns its id. Ids come from a
	// single store-wide authority and are strictly increasing.
	InsertMessage(ctx context.Context, msg *types.Message) (int64, error)

	// GetMessage returns the full message including reactions and readers
	// or ErrMessageNotFound
	GetMessage(ctx context.Context, id int64) (*types.Message, error)

	UpdateMessageBody(ctx context.Context, id int64, body string, editedAt time.Time) error
	MarkMessageDeleted(ctx context.Context, id int64, deletedAt time.Time) error

	// Set mutations report whether the row set changed
	AddReaction(ctx context.Context, id int64, emoji, userID string) (bool, error)
	RemoveReaction(ctx context.Context, id int64, emoji, userID string) (bool, error)
	AddRead(ctx context.Context, id int64, userID string, readAt time.Time) (bool, error)

	// ListMessages returns up to limit newest messages of a room with id < beforeID
	// (beforeID <= 0 means unbounded) in ascending id order
	ListMessages(ctx context.Context, roomID string, limit int, beforeID int64) ([]*types.Message, error)

	HealthCheck(ctx context.Context) error
	Close() error
}
