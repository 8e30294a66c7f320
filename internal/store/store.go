// Package store owns the message lifecycle: append, edit, soft delete,
// reactions, read state and history windows. Every mutation of a room runs
// under that room's lock so ids and reaction sets never race.
package store

import (
	"context"
	"errors"
	"time"

	"classchat/internal/keylock"
	"classchat/pkg/interfaces"
	"classchat/pkg/types"
)

// Config bounds message bodies and history windows.
type Config struct {
	MaxBodyLength  int
	DefaultHistory int
	MaxHistory     int
}

func DefaultConfig() Config {
	return Config{
		MaxBodyLength:  4000,
		DefaultHistory: 50,
		MaxHistory:     200,
	}
}

// Mutation reports the outcome of an idempotent state change.
type Mutation struct {
	Message *types.Message
	Changed bool
	At      time.Time
}

// Store is the single entry point for message state.
type Store struct {
	backend interfaces.MessageBackend
	locks   *keylock.KeyLock
	config  Config
	now     func() time.Time
}

func New(backend interfaces.MessageBackend, config Config) *Store {
	if config.MaxHistory <= 0 {
		config.MaxHistory = DefaultConfig().MaxHistory
	}
	if config.DefaultHistory <= 0 || config.DefaultHistory > config.MaxHistory {
		config.DefaultHistory = config.MaxHistory
	}
	return &Store{
		backend: backend,
		locks:   keylock.New(),
		config:  config,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Append adds a message to the end of a room's log.
// ARCHITECTURAL DISCOVERY: The reply target is only looked up, never owned;
// replying to a tombstone is allowed and deleting the target later leaves
// the reply untouched
func (s *Store) Append(ctx context.Context, roomID, senderID, body string, kind types.MessageKind, replyToID *int64) (*types.Message, error) {
	if err := types.ValidateBody(body, s.config.MaxBodyLength); err != nil {
		return nil, err
	}
	if kind == "" {
		kind = types.KindText
	}

	unlock := s.locks.Lock(roomID)
	defer unlock()

	if replyToID != nil {
		target, err := s.backend.GetMessage(ctx, *replyToID)
		if err != nil {
			return nil, translate(err, "reply target not found")
		}
		if target.RoomID != roomID {
			return nil, types.NewError(types.NotFound, "reply target not found")
		}
	}

	msg := &types.Message{
		RoomID:    roomID,
		SenderID:  senderID,
		Body:      body,
		Kind:      kind,
		ReplyToID: replyToID,
		Reactions: map[string][]string{},
		ReadBy:    []string{},
		CreatedAt: s.now(),
	}
	id, err := s.backend.InsertMessage(ctx, msg)
	if err != nil {
		return nil, translate(err, "failed to store message")
	}
	msg.ID = id
	return msg.Clone(), nil
}

// Get returns a message with tombstone bodies redacted.
func (s *Store) Get(ctx context.Context, id int64) (*types.Message, error) {
	msg, err := s.backend.GetMessage(ctx, id)
	if err != nil {
		return nil, translate(err, "message not found")
	}
	return msg.Redacted(), nil
}

// RoomOf resolves the room a message belongs to. A message never changes room.
func (s *Store) RoomOf(ctx context.Context, id int64) (string, error) {
	msg, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return msg.RoomID, nil
}

// Edit replaces the body in place. Only the sender or a moderator may edit.
func (s *Store) Edit(ctx context.Context, id int64, requester types.Identity, body string) (*types.Message, error) {
	if err := types.ValidateBody(body, s.config.MaxBodyLength); err != nil {
		return nil, err
	}
	msg, unlock, err := s.lockMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if msg.IsDeleted {
		return nil, types.NewError(types.Conflict, "message has been deleted")
	}
	if !canModify(msg, requester) {
		return nil, types.NewError(types.Forbidden, "only the sender or a teacher can edit this message")
	}

	editedAt := s.now()
	if err := s.backend.UpdateMessageBody(ctx, id, body, editedAt); err != nil {
		return nil, translate(err, "failed to edit message")
	}
	msg.Body = body
	msg.EditedAt = &editedAt
	return msg.Redacted(), nil
}

// SoftDelete turns a message into a tombstone. Deleting a tombstone again
// is a no-op reported with Changed=false.
func (s *Store) SoftDelete(ctx context.Context, id int64, requester types.Identity) (*Mutation, error) {
	msg, unlock, err := s.lockMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !canModify(msg, requester) {
		return nil, types.NewError(types.Forbidden, "only the sender or a teacher can delete this message")
	}
	if msg.IsDeleted {
		m := &Mutation{Message: msg.Redacted(), Changed: false}
		if msg.DeletedAt != nil {
			m.At = *msg.DeletedAt
		}
		return m, nil
	}

	deletedAt := s.now()
	if err := s.backend.MarkMessageDeleted(ctx, id, deletedAt); err != nil {
		return nil, translate(err, "failed to delete message")
	}
	msg.IsDeleted = true
	msg.DeletedAt = &deletedAt
	return &Mutation{Message: msg.Redacted(), Changed: true, At: deletedAt}, nil
}

// AddReaction records (userID, emoji) once. Tombstones reject reactions.
func (s *Store) AddReaction(ctx context.Context, id int64, userID, emoji string) (*Mutation, error) {
	return s.react(ctx, id, userID, emoji, s.backend.AddReaction)
}

// RemoveReaction drops (userID, emoji); removing an absent reaction is a no-op.
func (s *Store) RemoveReaction(ctx context.Context, id int64, userID, emoji string) (*Mutation, error) {
	return s.react(ctx, id, userID, emoji, s.backend.RemoveReaction)
}

type reactionFunc func(ctx context.Context, id int64, emoji, userID string) (bool, error)

func (s *Store) react(ctx context.Context, id int64, userID, emoji string, apply reactionFunc) (*Mutation, error) {
	if err := types.ValidateEmoji(emoji); err != nil {
		return nil, err
	}
	msg, unlock, err := s.lockMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if msg.IsDeleted {
		return nil, types.NewError(types.Conflict, "message has been deleted")
	}

	changed, err := apply(ctx, id, emoji, userID)
	if err != nil {
		return nil, translate(err, "failed to update reactions")
	}
	return s.reload(ctx, id, changed)
}

// MarkRead adds userID to the read set. The set only grows until the message
// is deleted; marking a tombstone is a no-op reported with Changed=false.
func (s *Store) MarkRead(ctx context.Context, id int64, userID string) (*Mutation, error) {
	msg, unlock, err := s.lockMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if msg.IsDeleted {
		m := &Mutation{Message: msg.Redacted(), Changed: false, At: s.now()}
		if msg.DeletedAt != nil {
			m.At = *msg.DeletedAt
		}
		return m, nil
	}

	readAt := s.now()
	changed, err := s.backend.AddRead(ctx, id, userID, readAt)
	if err != nil {
		return nil, translate(err, "failed to mark message read")
	}
	m, err := s.reload(ctx, id, changed)
	if err != nil {
		return nil, err
	}
	m.At = readAt
	return m, nil
}

// History returns the newest limit messages with id < beforeID (no bound when
// beforeID <= 0) in ascending id order. limit <= 0 selects the default window
// and larger values are capped at MaxHistory.
func (s *Store) History(ctx context.Context, roomID string, limit int, beforeID int64) ([]*types.Message, error) {
	limit = s.ClampLimit(limit)
	msgs, err := s.backend.ListMessages(ctx, roomID, limit, beforeID)
	if err != nil {
		return nil, translate(err, "failed to load history")
	}
	out := make([]*types.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Redacted()
	}
	return out, nil
}

// ClampLimit maps a requested window size into [1, MaxHistory].
func (s *Store) ClampLimit(limit int) int {
	if limit <= 0 {
		return s.config.DefaultHistory
	}
	if limit > s.config.MaxHistory {
		return s.config.MaxHistory
	}
	return limit
}

// HealthCheck probes the backend.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.backend.HealthCheck(ctx)
}

// lockMessage resolves the room of id, takes the room lock and re-reads the
// message under it. The returned unlock must be called.
func (s *Store) lockMessage(ctx context.Context, id int64) (*types.Message, func(), error) {
	roomID, err := s.RoomOf(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	unlock := s.locks.Lock(roomID)
	msg, err := s.backend.GetMessage(ctx, id)
	if err != nil {
		unlock()
		return nil, nil, translate(err, "message not found")
	}
	return msg, unlock, nil
}

func (s *Store) reload(ctx context.Context, id int64, changed bool) (*Mutation, error) {
	msg, err := s.backend.GetMessage(ctx, id)
	if err != nil {
		return nil, translate(err, "message not found")
	}
	return &Mutation{Message: msg.Redacted(), Changed: changed, At: s.now()}, nil
}

func canModify(msg *types.Message, requester types.Identity) bool {
	return msg.SenderID == requester.ID || requester.IsModerator()
}

// translate maps backend failures onto error kinds.
func translate(err error, notFound string) error {
	switch {
	case errors.Is(err, interfaces.ErrMessageNotFound):
		return types.WrapError(types.NotFound, notFound, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return types.WrapError(types.Transient, "storage unavailable", err)
	default:
		var e *types.Error
		if errors.As(err, &e) {
			return err
		}
		return types.WrapError(types.Internal, "storage failure", err)
	}
}
