// Package session runs the per-connection chat workflow: authentication,
// room membership and every room-scoped message operation.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"classchat/internal/hub"
	"classchat/internal/keylock"
	"classchat/internal/logging"
	"classchat/internal/metrics"
	"classchat/internal/registry"
	"classchat/internal/store"
	"classchat/pkg/interfaces"
	"classchat/pkg/types"
)

// Config tunes per-user throttling.
type Config struct {
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateBurst      int           `mapstructure:"rate_burst"`
	LimiterIdleTTL time.Duration `mapstructure:"limiter_idle_ttl"`
}

func DefaultConfig() Config {
	return Config{
		RateLimit:      5,
		RateBurst:      10,
		LimiterIdleTTL: 10 * time.Minute,
	}
}

// Manager owns the session workflow
// ARCHITECTURAL DISCOVERY: Every room-scoped operation runs "store mutation +
// fan-out enqueue" under the room's lock, so all recipients observe one
// per-room order; the store takes its own lock afterwards, never the reverse
type Manager struct {
	resolver interfaces.IdentityResolver
	gate     interfaces.AccessChecker
	store    *store.Store
	registry *registry.Registry
	hub      *hub.Hub
	metrics  *metrics.Metrics

	rooms    *keylock.KeyLock
	limiters *limiterPool
	config   Config
	log      zerolog.Logger
}

// NewManager wires the manager. m may be nil.
func NewManager(
	resolver interfaces.IdentityResolver,
	gate interfaces.AccessChecker,
	st *store.Store,
	reg *registry.Registry,
	h *hub.Hub,
	m *metrics.Metrics,
	config Config,
) *Manager {
	return &Manager{
		resolver: resolver,
		gate:     gate,
		store:    st,
		registry: reg,
		hub:      h,
		metrics:  m,
		rooms:    keylock.New(),
		limiters: newLimiterPool(config.RateLimit, config.RateBurst),
		config:   config,
		log:      logging.L().With().Str(logging.FieldComponent, "session").Logger(),
	}
}

// Authenticate binds the identity behind credential to conn. It must run
// exactly once per connection; a second attempt fails with Conflict.
func (m *Manager) Authenticate(ctx context.Context, conn interfaces.Connection, credential string) (types.Identity, error) {
	if conn.IsAuthenticated() {
		return types.Identity{}, types.WrapError(types.Conflict, "already authenticated", ErrAlreadyAuthenticated)
	}

	identity, err := m.resolver.Resolve(ctx, credential)
	if err != nil {
		var typed *types.Error
		if !errors.As(err, &typed) {
			err = types.WrapError(types.Unauthorized, "invalid credential", err)
		}
		return types.Identity{}, err
	}

	if err := conn.SetIdentity(identity); err != nil {
		return types.Identity{}, types.WrapError(types.Conflict, "already authenticated", err)
	}
	if err := m.registry.Register(conn); err != nil {
		return types.Identity{}, types.WrapError(types.Internal, "failed to register connection", err)
	}

	m.reply(ctx, conn, types.NewEnvelope(types.EventAuthenticated, identity))
	m.log.Info().
		Str(logging.FieldConnID, conn.ID()).
		Str(logging.FieldUserID, identity.ID).
		Str(logging.FieldRole, string(identity.Role)).
		Msg("Connection authenticated")
	return identity, nil
}

// JoinRoom admits conn to classID after the gate approves. Joining again is
// idempotent: the snapshot is re-sent and no second member-joined goes out.
// FUNCTIONAL DISCOVERY: member-joined is enqueued to existing occupants
// before the joiner's own joined-room snapshot
func (m *Manager) JoinRoom(ctx context.Context, conn interfaces.Connection, classID string) (*types.JoinedRoomData, error) {
	identity, err := m.requireIdentity(conn)
	if err != nil {
		return nil, err
	}
	if err := validClassID(classID); err != nil {
		return nil, err
	}
	if err := m.authorize(ctx, identity, classID); err != nil {
		return nil, err
	}

	unlock := m.rooms.Lock(classID)
	defer unlock()

	// History is read under the room lock so the snapshot and later
	// new-message events neither overlap nor leave a gap
	history, err := m.store.History(ctx, classID, 0, 0)
	if err != nil {
		return nil, err
	}

	present := m.registry.HasUser(classID, identity.ID)
	if added := m.registry.Join(classID, conn); added && !present {
		m.hub.ToRoom(classID, types.NewEnvelope(types.EventMemberJoined, types.MemberData{
			RoomID:   classID,
			Identity: identity,
		}), conn.ID())
	}

	data := &types.JoinedRoomData{
		RoomID:    classID,
		Occupants: m.registry.Occupants(classID),
		History:   history,
	}
	m.reply(ctx, conn, types.NewEnvelope(types.EventJoinedRoom, data))
	return data, nil
}

// LeaveRoom removes conn from classID. Leaving a room not joined is a no-op
// that is still acknowledged.
func (m *Manager) LeaveRoom(ctx context.Context, conn interfaces.Connection, classID string) error {
	identity, err := m.requireIdentity(conn)
	if err != nil {
		return err
	}
	if err := validClassID(classID); err != nil {
		return err
	}

	m.leave(conn, identity, classID)
	m.reply(ctx, conn, types.NewEnvelope(types.EventLeftRoom, types.RoomData{RoomID: classID}))
	return nil
}

// Disconnect leaves every joined room and forgets the connection. The
// caller closes the transport.
func (m *Manager) Disconnect(ctx context.Context, conn interfaces.Connection) {
	identity, ok := conn.Identity()
	if ok {
		for _, classID := range m.registry.Rooms(conn) {
			m.leave(conn, identity, classID)
		}
	}
	m.registry.Unregister(conn)

	if ok {
		m.log.Debug().
			Str(logging.FieldConnID, conn.ID()).
			Str(logging.FieldUserID, identity.ID).
			Msg("Connection released")
	}
}

func (m *Manager) leave(conn interfaces.Connection, identity types.Identity, classID string) {
	unlock := m.rooms.Lock(classID)
	defer unlock()

	if !m.registry.Leave(classID, conn) {
		return
	}
	// A user with another connection still in the room has not left it
	if m.registry.HasUser(classID, identity.ID) {
		return
	}
	m.hub.ToRoom(classID, types.NewEnvelope(types.EventMemberLeft, types.MemberData{
		RoomID:   classID,
		Identity: identity,
	}), "")
}

// SendMessage appends a text message and delivers new-message to every
// member of the room, the sender included.
func (m *Manager) SendMessage(ctx context.Context, conn interfaces.Connection, classID, body string, replyToID *int64) (*types.Message, error) {
	identity, err := m.requireIdentity(conn)
	if err != nil {
		return nil, err
	}
	if err := validClassID(classID); err != nil {
		return nil, err
	}
	if !m.limiters.Allow("message:" + identity.ID) {
		return nil, types.WrapError(types.RateLimited, "slow down", ErrRateLimited)
	}
	if err := m.authorizeMember(ctx, conn, identity, classID); err != nil {
		return nil, err
	}

	unlock := m.rooms.Lock(classID)
	defer unlock()

	msg, err := m.store.Append(ctx, classID, identity.ID, body, types.KindText, replyToID)
	if err != nil {
		return nil, err
	}
	m.metrics.MessageAppended()
	m.broadcast(ctx, conn, classID, types.NewEnvelope(types.EventNewMessage, msg))
	return msg, nil
}

// EditMessage replaces a message body and notifies the room and the
// original sender wherever they are connected.
func (m *Manager) EditMessage(ctx context.Context, conn interfaces.Connection, messageID int64, body string) (*types.Message, error) {
	identity, classID, err := m.messageScope(ctx, conn, messageID)
	if err != nil {
		return nil, err
	}

	unlock := m.rooms.Lock(classID)
	defer unlock()

	msg, err := m.store.Edit(ctx, messageID, identity, body)
	if err != nil {
		return nil, err
	}
	event := types.NewEnvelope(types.EventMessageEdited, types.MessageEditedData{
		RoomID:    classID,
		MessageID: msg.ID,
		Body:      msg.Body,
		EditedAt:  *msg.EditedAt,
	})
	m.broadcast(ctx, conn, classID, event)
	m.hub.ToUserOutside(msg.SenderID, classID, event)
	return msg, nil
}

// moderationNotice is the body of the system message posted when a
// moderator removes someone else's message.
const moderationNotice = "A message was removed by a moderator."

// DeleteMessage tombstones a message. Deleting a tombstone again is
// acknowledged to the requester only. When a moderator removes another
// user's message, a system notice follows the deletion in the room.
func (m *Manager) DeleteMessage(ctx context.Context, conn interfaces.Connection, messageID int64) (*store.Mutation, error) {
	identity, classID, err := m.messageScope(ctx, conn, messageID)
	if err != nil {
		return nil, err
	}

	unlock := m.rooms.Lock(classID)
	defer unlock()

	mut, err := m.store.SoftDelete(ctx, messageID, identity)
	if err != nil {
		return nil, err
	}
	event := types.NewEnvelope(types.EventMessageDeleted, types.MessageDeletedData{
		RoomID:    classID,
		MessageID: messageID,
		DeletedAt: mut.At,
	})
	if !mut.Changed {
		m.reply(ctx, conn, event)
		return mut, nil
	}
	m.broadcast(ctx, conn, classID, event)
	m.hub.ToUserOutside(mut.Message.SenderID, classID, event)

	if mut.Message.SenderID != identity.ID && mut.Message.Kind != types.KindSystem {
		m.postNotice(ctx, classID, identity, moderationNotice)
	}
	return mut, nil
}

// postNotice appends a system message and delivers it to the whole room.
// The caller holds the room lock. A failed notice does not undo the
// operation that triggered it.
func (m *Manager) postNotice(ctx context.Context, classID string, moderator types.Identity, body string) {
	notice, err := m.store.Append(ctx, classID, moderator.ID, body, types.KindSystem, nil)
	if err != nil {
		logger := logging.Ctx(ctx)
		logger.Warn().Err(err).
			Str(logging.FieldClassID, classID).
			Str(logging.FieldUserID, moderator.ID).
			Msg("Failed to post moderation notice")
		return
	}
	m.metrics.MessageAppended()
	m.hub.ToRoom(classID, types.NewEnvelope(types.EventNewMessage, notice), "")
}

// AddReaction records (user, emoji) on a message; a repeated reaction is
// acknowledged to the requester without a broadcast.
func (m *Manager) AddReaction(ctx context.Context, conn interfaces.Connection, messageID int64, emoji string) (*store.Mutation, error) {
	return m.react(ctx, conn, messageID, emoji, types.EventReactionAdded, m.store.AddReaction)
}

// RemoveReaction drops (user, emoji); removing an absent reaction is a no-op.
func (m *Manager) RemoveReaction(ctx context.Context, conn interfaces.Connection, messageID int64, emoji string) (*store.Mutation, error) {
	return m.react(ctx, conn, messageID, emoji, types.EventReactionRemoved, m.store.RemoveReaction)
}

type reactionOp func(ctx context.Context, id int64, userID, emoji string) (*store.Mutation, error)

func (m *Manager) react(ctx context.Context, conn interfaces.Connection, messageID int64, emoji, eventType string, apply reactionOp) (*store.Mutation, error) {
	identity, classID, err := m.messageScope(ctx, conn, messageID)
	if err != nil {
		return nil, err
	}

	unlock := m.rooms.Lock(classID)
	defer unlock()

	mut, err := apply(ctx, messageID, identity.ID, emoji)
	if err != nil {
		return nil, err
	}
	event := types.NewEnvelope(eventType, types.ReactionData{
		RoomID:    classID,
		MessageID: messageID,
		Emoji:     emoji,
		UserID:    identity.ID,
	})
	if mut.Changed {
		m.broadcast(ctx, conn, classID, event)
	} else {
		m.reply(ctx, conn, event)
	}
	return mut, nil
}

// MarkRead adds the user to a message's read set. Reads of a tombstone are
// acknowledged to the requester only.
func (m *Manager) MarkRead(ctx context.Context, conn interfaces.Connection, messageID int64) (*store.Mutation, error) {
	identity, classID, err := m.messageScope(ctx, conn, messageID)
	if err != nil {
		return nil, err
	}

	unlock := m.rooms.Lock(classID)
	defer unlock()

	mut, err := m.store.MarkRead(ctx, messageID, identity.ID)
	if err != nil {
		return nil, err
	}
	event := types.NewEnvelope(types.EventMessageRead, types.MessageReadData{
		RoomID:    classID,
		MessageID: messageID,
		UserID:    identity.ID,
		ReadAt:    mut.At,
	})
	if mut.Changed {
		m.broadcast(ctx, conn, classID, event)
	} else {
		m.reply(ctx, conn, event)
	}
	return mut, nil
}

// StartTyping tells the rest of the room that the user is typing.
func (m *Manager) StartTyping(ctx context.Context, conn interfaces.Connection, classID string) error {
	return m.typing(ctx, conn, classID, types.EventUserTyping)
}

// StopTyping tells the rest of the room that the user stopped typing.
func (m *Manager) StopTyping(ctx context.Context, conn interfaces.Connection, classID string) error {
	return m.typing(ctx, conn, classID, types.EventUserStopTyping)
}

func (m *Manager) typing(ctx context.Context, conn interfaces.Connection, classID, eventType string) error {
	identity, err := m.requireIdentity(conn)
	if err != nil {
		return err
	}
	if err := validClassID(classID); err != nil {
		return err
	}
	if !m.limiters.Allow("typing:" + identity.ID) {
		return types.WrapError(types.RateLimited, "slow down", ErrRateLimited)
	}
	if err := m.authorizeMember(ctx, conn, identity, classID); err != nil {
		return err
	}
	m.hub.ToRoom(classID, types.NewEnvelope(eventType, types.TypingData{
		UserID:  identity.ID,
		ClassID: classID,
	}), conn.ID())
	return nil
}

// Occupants lists the identities in classID for an identity the gate admits.
func (m *Manager) Occupants(ctx context.Context, identity types.Identity, classID string) ([]types.Identity, error) {
	if err := validClassID(classID); err != nil {
		return nil, err
	}
	if err := m.authorize(ctx, identity, classID); err != nil {
		return nil, err
	}
	return m.registry.Occupants(classID), nil
}

// History returns a history page of classID for an identity the gate admits.
func (m *Manager) History(ctx context.Context, identity types.Identity, classID string, limit int, beforeID int64) ([]*types.Message, error) {
	if err := validClassID(classID); err != nil {
		return nil, err
	}
	if err := m.authorize(ctx, identity, classID); err != nil {
		return nil, err
	}
	return m.store.History(ctx, classID, limit, beforeID)
}

// CleanupLimiters drops idle per-user limiters; run periodically.
func (m *Manager) CleanupLimiters() int {
	ttl := m.config.LimiterIdleTTL
	if ttl <= 0 {
		ttl = DefaultConfig().LimiterIdleTTL
	}
	return m.limiters.Cleanup(ttl)
}

// messageScope authenticates, resolves the message's room and re-checks
// the gate and membership for it.
func (m *Manager) messageScope(ctx context.Context, conn interfaces.Connection, messageID int64) (types.Identity, string, error) {
	identity, err := m.requireIdentity(conn)
	if err != nil {
		return types.Identity{}, "", err
	}
	if messageID <= 0 {
		return types.Identity{}, "", types.NewError(types.Validation, "message_id must be positive")
	}
	classID, err := m.store.RoomOf(ctx, messageID)
	if err != nil {
		return types.Identity{}, "", err
	}
	if err := m.authorizeMember(ctx, conn, identity, classID); err != nil {
		return types.Identity{}, "", err
	}
	return identity, classID, nil
}

func (m *Manager) requireIdentity(conn interfaces.Connection) (types.Identity, error) {
	identity, ok := conn.Identity()
	if !ok {
		return types.Identity{}, types.WrapError(types.Unauthorized, "authenticate first", ErrNotAuthenticated)
	}
	return identity, nil
}

// authorize re-evaluates the gate; nothing is cached between operations.
func (m *Manager) authorize(ctx context.Context, identity types.Identity, classID string) error {
	ok, err := m.gate.CanAccess(ctx, identity, classID)
	if err != nil {
		return err
	}
	if !ok {
		return types.WrapError(types.Forbidden, "not permitted to access this class", ErrAccessDenied)
	}
	return nil
}

func (m *Manager) authorizeMember(ctx context.Context, conn interfaces.Connection, identity types.Identity, classID string) error {
	if err := m.authorize(ctx, identity, classID); err != nil {
		return err
	}
	if !m.registry.IsMember(classID, conn) {
		return types.WrapError(types.Forbidden, "join the room first", ErrNotJoined)
	}
	return nil
}

// broadcast sends event to the room. The originator's copy carries its
// request id; everyone else gets the plain event.
func (m *Manager) broadcast(ctx context.Context, conn interfaces.Connection, classID string, event *types.Envelope) {
	m.hub.ToRoom(classID, event, conn.ID())
	m.reply(ctx, conn, event)
}

func (m *Manager) reply(ctx context.Context, conn interfaces.Connection, event *types.Envelope) {
	if id := requestIDFrom(ctx); id != "" {
		event = event.WithRequestID(id)
	}
	if err := m.hub.Send(conn, event); err != nil {
		m.log.Debug().Err(err).Str(logging.FieldConnID, conn.ID()).Msg("Reply not delivered")
	}
}

func validClassID(classID string) error {
	if !types.IsValidClassID(classID) {
		return types.WrapError(types.Validation, "invalid class_id", types.ErrInvalidClassID)
	}
	return nil
}
