// Package hub fans events out to the connections of a room or a user.
package hub

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"classchat/internal/logging"
	"classchat/internal/metrics"
	"classchat/internal/registry"
	"classchat/pkg/interfaces"
	"classchat/pkg/types"
)

// Hub delivers events by enqueueing them on each recipient's outbound queue
// ARCHITECTURAL DISCOVERY: Delivery never blocks on a client; a full queue
// marks the peer as a slow consumer and closes it so one stalled browser
// cannot hold up a room
// TECHNICAL DISCOVERY: Callers enqueue under the per-room lock, which is what
// keeps every recipient's view of a room in id order
type Hub struct {
	registry *registry.Registry
	metrics  *metrics.Metrics
	log      zerolog.Logger

	mu      sync.RWMutex
	stopped bool
}

// New creates a hub over the registry. m may be nil.
func New(reg *registry.Registry, m *metrics.Metrics) *Hub {
	return &Hub{
		registry: reg,
		metrics:  m,
		log:      logging.L().With().Str(logging.FieldComponent, "hub").Logger(),
	}
}

// ToRoom enqueues event for every connection joined to roomID except the
// connection with id excludeConnID (empty excludes nobody). It returns the
// number of connections the event was enqueued for.
func (h *Hub) ToRoom(roomID string, event *types.Envelope, excludeConnID string) int {
	if h.isStopped() {
		return 0
	}
	delivered := 0
	for _, conn := range h.registry.Members(roomID) {
		if conn.ID() == excludeConnID {
			continue
		}
		if h.deliver(conn, event) == nil {
			delivered++
		}
	}
	h.metrics.Delivered(event.Type, delivered)
	return delivered
}

// ToUser enqueues event for every registered connection of userID.
func (h *Hub) ToUser(userID string, event *types.Envelope) int {
	return h.toUser(userID, event, "")
}

// ToUserOutside enqueues event for the connections of userID that are not
// joined to roomID. Used for personal notifications the room fan-out
// already covers for joined sessions.
func (h *Hub) ToUserOutside(userID, roomID string, event *types.Envelope) int {
	return h.toUser(userID, event, roomID)
}

func (h *Hub) toUser(userID string, event *types.Envelope, skipRoom string) int {
	if h.isStopped() {
		return 0
	}
	delivered := 0
	for _, conn := range h.registry.UserMembers(userID) {
		if skipRoom != "" && h.registry.IsMember(skipRoom, conn) {
			continue
		}
		if h.deliver(conn, event) == nil {
			delivered++
		}
	}
	h.metrics.Delivered(event.Type, delivered)
	return delivered
}

// Send enqueues event for a single connection, typically a reply to the
// originator of an operation.
func (h *Hub) Send(conn interfaces.Connection, event *types.Envelope) error {
	if h.isStopped() {
		return ErrHubStopped
	}
	if err := h.deliver(conn, event); err != nil {
		return err
	}
	h.metrics.Delivered(event.Type, 1)
	return nil
}

// Shutdown stops delivery and closes every known connection.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	h.mu.Unlock()

	conns := h.registry.Connections()
	for _, conn := range conns {
		_ = conn.Close()
	}
	h.log.Info().Int("connections", len(conns)).Msg("Hub stopped")
}

func (h *Hub) deliver(conn interfaces.Connection, event *types.Envelope) error {
	err := conn.Send(event)
	if err == nil {
		return nil
	}
	if errors.Is(err, interfaces.ErrSendBufferFull) {
		h.metrics.SlowConsumerDropped()
		h.log.Warn().
			Str(logging.FieldConnID, conn.ID()).
			Str(logging.FieldOp, event.Type).
			Msg("Dropping slow consumer")
		// FUNCTIONAL DISCOVERY: Close asynchronously so the caller's room lock
		// is never held across a network close
		go func() { _ = conn.Close() }()
	}
	return err
}

func (h *Hub) isStopped() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stopped
}
