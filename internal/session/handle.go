package session

import (
	"context"
	"time"

	"classchat/internal/logging"
	"classchat/pkg/interfaces"
	"classchat/pkg/types"
)

// Handle dispatches one inbound frame. Failures are reported to the
// originating connection only, as an error event; they never close it.
func (m *Manager) Handle(ctx context.Context, conn interfaces.Connection, frame *types.Frame) {
	ctx = WithRequestID(ctx, frame.RequestID)
	start := time.Now()

	err := m.dispatch(ctx, conn, frame)

	result := "ok"
	if err != nil {
		result = string(types.KindOf(err))
		m.sendError(ctx, conn, err)
	}
	m.metrics.Operation(frame.Type, result)

	event := m.log.Debug()
	if types.KindOf(err) == types.Internal {
		event = m.log.Error()
	}
	event.
		Str(logging.FieldConnID, conn.ID()).
		Str(logging.FieldOp, frame.Type).
		Str(logging.FieldRequestID, frame.RequestID).
		Dur(logging.FieldLatency, time.Since(start)).
		Err(err).
		Msg("Frame handled")
}

func (m *Manager) dispatch(ctx context.Context, conn interfaces.Connection, frame *types.Frame) error {
	// FUNCTIONAL DISCOVERY: Nothing but authenticate is decoded before the
	// connection is bound, so unauthenticated frames cannot touch state
	if frame.Type != types.OpAuthenticate && frame.Type != types.OpPing && !conn.IsAuthenticated() {
		return types.WrapError(types.Unauthorized, "authenticate first", ErrNotAuthenticated)
	}

	switch frame.Type {
	case types.OpAuthenticate:
		var p types.AuthenticatePayload
		if err := frame.Decode(&p); err != nil {
			return err
		}
		_, err := m.Authenticate(ctx, conn, p.Token)
		return err

	case types.OpJoinRoom:
		var p types.RoomPayload
		if err := frame.Decode(&p); err != nil {
			return err
		}
		_, err := m.JoinRoom(ctx, conn, p.ClassID)
		return err

	case types.OpLeaveRoom:
		var p types.RoomPayload
		if err := frame.Decode(&p); err != nil {
			return err
		}
		return m.LeaveRoom(ctx, conn, p.ClassID)

	case types.OpSendMessage:
		var p types.SendMessagePayload
		if err := frame.Decode(&p); err != nil {
			return err
		}
		_, err := m.SendMessage(ctx, conn, p.ClassID, p.Body, p.ReplyToID)
		return err

	case types.OpEditMessage:
		var p types.EditMessagePayload
		if err := frame.Decode(&p); err != nil {
			return err
		}
		_, err := m.EditMessage(ctx, conn, p.MessageID, p.Body)
		return err

	case types.OpDeleteMessage:
		var p types.MessageRefPayload
		if err := frame.Decode(&p); err != nil {
			return err
		}
		_, err := m.DeleteMessage(ctx, conn, p.MessageID)
		return err

	case types.OpAddReaction, types.OpRemoveReaction:
		var p types.ReactionPayload
		if err := frame.Decode(&p); err != nil {
			return err
		}
		var err error
		if frame.Type == types.OpAddReaction {
			_, err = m.AddReaction(ctx, conn, p.MessageID, p.Emoji)
		} else {
			_, err = m.RemoveReaction(ctx, conn, p.MessageID, p.Emoji)
		}
		return err

	case types.OpMarkRead:
		var p types.MessageRefPayload
		if err := frame.Decode(&p); err != nil {
			return err
		}
		_, err := m.MarkRead(ctx, conn, p.MessageID)
		return err

	case types.OpStartTyping, types.OpStopTyping:
		var p types.RoomPayload
		if err := frame.Decode(&p); err != nil {
			return err
		}
		if frame.Type == types.OpStartTyping {
			return m.StartTyping(ctx, conn, p.ClassID)
		}
		return m.StopTyping(ctx, conn, p.ClassID)

	case types.OpPing:
		m.reply(ctx, conn, types.NewEnvelope(types.EventPong, nil))
		return nil

	default:
		return types.WrapError(types.Validation, "unknown frame type "+frame.Type, types.ErrUnknownFrame)
	}
}

// SendError reports err to conn as an error event.
func (m *Manager) SendError(ctx context.Context, conn interfaces.Connection, err error) {
	m.sendError(ctx, conn, err)
}

func (m *Manager) sendError(ctx context.Context, conn interfaces.Connection, err error) {
	m.reply(ctx, conn, types.NewEnvelope(types.EventError, types.ErrorData{
		Code:    types.KindOf(err),
		Message: types.PublicMessage(err),
	}))
}
