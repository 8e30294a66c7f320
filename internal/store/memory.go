package store

import (
	"context"
	"sync"
	"time"

	"classchat/pkg/interfaces"
	"classchat/pkg/types"
)

// MemoryBackend is a process-local MessageBackend used by tests and by
// deployments that run without a database file.
type MemoryBackend struct {
	mu       sync.RWMutex
	nextID   int64
	messages map[int64]*types.Message
	rooms    map[string][]int64
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		messages: make(map[int64]*types.Message),
		rooms:    make(map[string][]int64),
	}
}

func (b *MemoryBackend) InsertMessage(ctx context.Context, msg *types.Message) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	stored := msg.Clone()
	stored.ID = b.nextID
	b.messages[stored.ID] = stored
	b.rooms[stored.RoomID] = append(b.rooms[stored.RoomID], stored.ID)
	return stored.ID, nil
}

func (b *MemoryBackend) GetMessage(ctx context.Context, id int64) (*types.Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	msg, ok := b.messages[id]
	if !ok {
		return nil, interfaces.ErrMessageNotFound
	}
	return b.snapshot(msg), nil
}

func (b *MemoryBackend) UpdateMessageBody(ctx context.Context, id int64, body string, editedAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	msg, ok := b.messages[id]
	if !ok {
		return interfaces.ErrMessageNotFound
	}
	msg.Body = body
	msg.EditedAt = &editedAt
	return nil
}

func (b *MemoryBackend) MarkMessageDeleted(ctx context.Context, id int64, deletedAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	msg, ok := b.messages[id]
	if !ok {
		return interfaces.ErrMessageNotFound
	}
	msg.IsDeleted = true
	msg.DeletedAt = &deletedAt
	return nil
}

func (b *MemoryBackend) AddReaction(ctx context.Context, id int64, emoji, userID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	msg, ok := b.messages[id]
	if !ok {
		return false, interfaces.ErrMessageNotFound
	}
	if msg.HasReaction(emoji, userID) {
		return false, nil
	}
	msg.Reactions[emoji] = append(msg.Reactions[emoji], userID)
	return true, nil
}

func (b *MemoryBackend) RemoveReaction(ctx context.Context, id int64, emoji, userID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	msg, ok := b.messages[id]
	if !ok {
		return false, interfaces.ErrMessageNotFound
	}
	users := msg.Reactions[emoji]
	for i, u := range users {
		if u == userID {
			msg.Reactions[emoji] = append(users[:i:i], users[i+1:]...)
			if len(msg.Reactions[emoji]) == 0 {
				delete(msg.Reactions, emoji)
			}
			return true, nil
		}
	}
	return false, nil
}

func (b *MemoryBackend) AddRead(ctx context.Context, id int64, userID string, readAt time.Time) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	msg, ok := b.messages[id]
	if !ok {
		return false, interfaces.ErrMessageNotFound
	}
	if msg.HasRead(userID) {
		return false, nil
	}
	msg.ReadBy = append(msg.ReadBy, userID)
	return true, nil
}

func (b *MemoryBackend) ListMessages(ctx context.Context, roomID string, limit int, beforeID int64) ([]*types.Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := b.rooms[roomID]
	out := make([]*types.Message, 0, limit)
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		if beforeID > 0 && ids[i] >= beforeID {
			continue
		}
		out = append(out, b.snapshot(b.messages[ids[i]]))
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (b *MemoryBackend) HealthCheck(ctx context.Context) error { return ctx.Err() }

func (b *MemoryBackend) Close() error { return nil }

func (b *MemoryBackend) snapshot(msg *types.Message) *types.Message {
	c := msg.Clone()
	c.SortSets()
	return c
}
