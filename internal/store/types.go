package store

// Direction tells whether a message was written by the local account.
type Direction string

const (
	Sent     Direction = "sent"
	Received Direction = "received"
)

// Message is one row of conversation history.
type Message struct {
	ID            int64
	ContactID     string
	Body          string
	Direction     Direction
	CreatedAt     int64 // ms since epoch; ordering key within a conversation
	AttachmentURL *string
	ProtocolID    *string
	Read          bool
	EditedAt      *int64
}

// IsSent reports whether the local account authored the message.
func (m *Message) IsSent() bool {
	return m.Direction == Sent
}

// HasAttachment reports whether the message carries a file URL.
func (m *Message) HasAttachment() bool {
	return m.AttachmentURL != nil && *m.AttachmentURL != ""
}

// CanRetract reports whether the message can be referenced by a retraction.
func (m *Message) CanRetract() bool {
	return m.ProtocolID != nil && *m.ProtocolID != ""
}

// NewMessage holds the fields supplied on insert. Read is derived from
// Direction: sent messages start read, received ones unread.
type NewMessage struct {
	ContactID     string
	Body          string
	Direction     Direction
	CreatedAt     int64
	AttachmentURL string // empty = none
	ProtocolID    string // empty = none
}
