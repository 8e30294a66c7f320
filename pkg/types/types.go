package types

import (
	"encoding/json"
	"sort"
	"time"
)

// Role is the platform role attached to an identity.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// MessageKind distinguishes user-authored messages from service notices.
type MessageKind string

const (
	KindText   MessageKind = "text"
	KindSystem MessageKind = "system"
)

// Client -> server operations.
const (
	OpAuthenticate   = "authenticate"
	OpJoinRoom       = "join-room"
	OpLeaveRoom      = "leave-room"
	OpSendMessage    = "send-message"
	OpAddReaction    = "add-reaction"
	OpRemoveReaction = "remove-reaction"
	OpMarkRead       = "mark-read"
	OpEditMessage    = "edit-message"
	OpDeleteMessage  = "delete-message"
	OpStartTyping    = "start-typing"
	OpStopTyping     = "stop-typing"
	OpPing           = "ping"
)

// Server -> client events.
const (
	EventAuthenticated   = "authenticated"
	EventJoinedRoom      = "joined-room"
	EventLeftRoom        = "left-room"
	EventMemberJoined    = "member-joined"
	EventMemberLeft      = "member-left"
	EventNewMessage      = "new-message"
	EventMessageEdited   = "message-edited"
	EventMessageDeleted  = "message-deleted"
	EventReactionAdded   = "reaction-added"
	EventReactionRemoved = "reaction-removed"
	EventMessageRead     = "message-read"
	EventUserTyping      = "user-typing"
	EventUserStopTyping  = "user-stop-typing"
	EventError           = "error"
	EventPong            = "pong"
)

// Identity is the resolved user behind a connection. It is immutable for
// the lifetime of the connection.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
}

// IsModerator reports whether the role may edit or delete other users' messages.
func (i Identity) IsModerator() bool {
	return i.Role == RoleAdmin || i.Role == RoleTeacher
}

// Message is one entry of a room's ordered log.
// ARCHITECTURAL DISCOVERY: ReplyToID is a lookup key into the same store, never
// an owning pointer; deleting the target leaves replies untouched.
type Message struct {
	ID        int64               `json:"id"`
	RoomID    string              `json:"room_id"`
	SenderID  string              `json:"sender_id"`
	Body      string              `json:"body"`
	Kind      MessageKind         `json:"kind"`
	ReplyToID *int64              `json:"reply_to_id,omitempty"`
	Reactions map[string][]string `json:"reactions"`
	ReadBy    []string            `json:"read_by"`
	CreatedAt time.Time           `json:"created_at"`
	EditedAt  *time.Time          `json:"edited_at,omitempty"`
	IsDeleted bool                `json:"is_deleted"`
	DeletedAt *time.Time          `json:"deleted_at,omitempty"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.ReplyToID != nil {
		id := *m.ReplyToID
		c.ReplyToID = &id
	}
	if m.EditedAt != nil {
		t := *m.EditedAt
		c.EditedAt = &t
	}
	if m.DeletedAt != nil {
		t := *m.DeletedAt
		c.DeletedAt = &t
	}
	c.Reactions = make(map[string][]string, len(m.Reactions))
	for emoji, users := range m.Reactions {
		c.Reactions[emoji] = append([]string(nil), users...)
	}
	c.ReadBy = append([]string{}, m.ReadBy...)
	return &c
}

// Redacted returns a copy whose body is blanked when the message is a tombstone.
func (m *Message) Redacted() *Message {
	c := m.Clone()
	if c != nil && c.IsDeleted {
		c.Body = ""
	}
	return c
}

// HasReaction reports whether userID reacted with emoji.
func (m *Message) HasReaction(emoji, userID string) bool {
	for _, u := range m.Reactions[emoji] {
		if u == userID {
			return true
		}
	}
	return false
}

// HasRead reports whether userID is in the read set.
func (m *Message) HasRead(userID string) bool {
	for _, u := range m.ReadBy {
		if u == userID {
			return true
		}
	}
	return false
}

// SortSets orders reaction users and readers so that equal sets compare equal.
func (m *Message) SortSets() {
	for emoji, users := range m.Reactions {
		if len(users) == 0 {
			delete(m.Reactions, emoji)
			continue
		}
		sort.Strings(users)
	}
	sort.Strings(m.ReadBy)
}

// Envelope is the outbound websocket frame.
type Envelope struct {
	Type      string      `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewEnvelope stamps an event with the current time.
func NewEnvelope(eventType string, data interface{}) *Envelope {
	return &Envelope{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// WithRequestID returns a copy of the envelope correlated to a client request.
func (e *Envelope) WithRequestID(requestID string) *Envelope {
	c := *e
	c.RequestID = requestID
	return &c
}

// Frame is the inbound websocket frame; payload fields are decoded per type.
type Frame struct {
	Type      string          `json:"type" validate:"required"`
	RequestID string          `json:"request_id,omitempty" validate:"omitempty,max=64"`
	Raw       json.RawMessage `json:"-"`
}

// Inbound payloads.

type AuthenticatePayload struct {
	Token string `json:"token" validate:"required"`
}

type RoomPayload struct {
	ClassID string `json:"class_id" validate:"required,classid"`
}

type SendMessagePayload struct {
	ClassID   string `json:"class_id" validate:"required,classid"`
	Body      string `json:"body"`
	ReplyToID *int64 `json:"reply_to_id,omitempty" validate:"omitempty,gt=0"`
}

type ReactionPayload struct {
	MessageID int64  `json:"message_id" validate:"required,gt=0"`
	Emoji     string `json:"emoji" validate:"required,max=32"`
}

type MessageRefPayload struct {
	MessageID int64 `json:"message_id" validate:"required,gt=0"`
}

type EditMessagePayload struct {
	MessageID int64  `json:"message_id" validate:"required,gt=0"`
	Body      string `json:"body"`
}

// Outbound payloads.

type JoinedRoomData struct {
	RoomID    string     `json:"room_id"`
	Occupants []Identity `json:"occupants"`
	History   []*Message `json:"history"`
}

type RoomData struct {
	RoomID string `json:"room_id"`
}

type MemberData struct {
	RoomID   string   `json:"room_id"`
	Identity Identity `json:"identity"`
}

type MessageEditedData struct {
	RoomID    string    `json:"room_id"`
	MessageID int64     `json:"message_id"`
	Body      string    `json:"body"`
	EditedAt  time.Time `json:"edited_at"`
}

type MessageDeletedData struct {
	RoomID    string    `json:"room_id"`
	MessageID int64     `json:"message_id"`
	DeletedAt time.Time `json:"deleted_at"`
}

type ReactionData struct {
	RoomID    string `json:"room_id"`
	MessageID int64  `json:"message_id"`
	Emoji     string `json:"emoji"`
	UserID    string `json:"user_id"`
}

type MessageReadData struct {
	RoomID    string    `json:"room_id"`
	MessageID int64     `json:"message_id"`
	UserID    string    `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

type TypingData struct {
	UserID  string `json:"user_id"`
	ClassID string `json:"class_id"`
}

type ErrorData struct {
	Code    ErrorKind `json:"code"`
	Message string    `json:"message"`
}
