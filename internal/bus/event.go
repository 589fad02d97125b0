package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. Subscribers filter by prefix, e.g. "message." or "session.".
const (
	KindStatusChanged    = "session.status_changed"
	KindSessionError     = "session.error"
	KindReconnecting     = "session.reconnecting"
	KindMessageReceived  = "message.received"
	KindMessageSent      = "message.sent"
	KindMessageRetracted = "message.retracted"
	KindMessageEdited    = "message.edited"
	KindMessageDeleted   = "message.deleted"
	KindTypingChanged    = "typing.changed"
	KindConversationRead = "conversation.read"
	KindStorageRelocated = "storage.relocated"
	KindConfigChanged    = "config.changed"
)

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
