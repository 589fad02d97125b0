package api

import (
	"encoding/json"

	"github.com/matheus3301/berry/internal/store"
)

// Message is the wire form of a stored message.
type Message struct {
	ID            int64  `json:"id"`
	Contact       string `json:"contact"`
	Body          string `json:"body"`
	Direction     string `json:"direction"`
	CreatedAtMs   int64  `json:"created_at_ms"`
	AttachmentURL string `json:"attachment_url,omitempty"`
	ProtocolID    string `json:"protocol_id,omitempty"`
	Read          bool   `json:"read"`
	EditedAtMs    int64  `json:"edited_at_ms,omitempty"`
}

func messageToWire(m *store.Message) Message {
	out := Message{
		ID:          m.ID,
		Contact:     m.ContactID,
		Body:        m.Body,
		Direction:   string(m.Direction),
		CreatedAtMs: m.CreatedAt,
		Read:        m.Read,
	}
	if m.AttachmentURL != nil {
		out.AttachmentURL = *m.AttachmentURL
	}
	if m.ProtocolID != nil {
		out.ProtocolID = *m.ProtocolID
	}
	if m.EditedAt != nil {
		out.EditedAtMs = *m.EditedAt
	}
	return out
}

func messagesToWire(ms []store.Message) []Message {
	out := make([]Message, 0, len(ms))
	for i := range ms {
		out = append(out, messageToWire(&ms[i]))
	}
	return out
}

type Empty struct{}

type StatusRequest struct{}

type StatusResponse struct {
	State                string `json:"state"`
	JID                  string `json:"jid,omitempty"`
	UptimeMs             int64  `json:"uptime_ms"`
	Messages             int64  `json:"messages"`
	Contacts             int64  `json:"contacts"`
	Unread               int64  `json:"unread"`
	StorageLocation      string `json:"storage_location"`
	StoragePath          string `json:"storage_path"`
	NotificationsEnabled bool   `json:"notifications_enabled"`
	ActiveContact        string `json:"active_contact,omitempty"`
}

// ConnectRequest opens the session. Empty fields fall back to the config
// file. Register creates the account before logging in.
type ConnectRequest struct {
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Domain   string `json:"domain,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
	Register bool   `json:"register,omitempty"`
	Save     bool   `json:"save,omitempty"`
}

type ConnectResponse struct {
	State string `json:"state"`
	JID   string `json:"jid"`
}

type SendRequest struct {
	Contact string `json:"contact"`
	Text    string `json:"text"`
}

type SendFileRequest struct {
	Contact string `json:"contact"`
	Path    string `json:"path"`
}

type SendResponse struct {
	Message Message `json:"message"`
}

type TypingRequest struct {
	Contact   string `json:"contact"`
	Composing bool   `json:"composing"`
}

// RetractRequest retracts a sent message. DeleteLocal also removes the
// local copy after the retraction went out.
type RetractRequest struct {
	Contact     string `json:"contact"`
	ProtocolID  string `json:"protocol_id"`
	DeleteLocal bool   `json:"delete_local,omitempty"`
}

type EditRequest struct {
	ID   int64  `json:"id"`
	Body string `json:"body"`
}

type DeleteRequest struct {
	ID int64 `json:"id"`
}

type ChangedResponse struct {
	Changed bool `json:"changed"`
}

type ContactRequest struct {
	Contact string `json:"contact"`
}

type CountResponse struct {
	Count int64 `json:"count"`
}

type HistoryRequest struct {
	Contact string `json:"contact"`
	Limit   int    `json:"limit,omitempty"`
}

type SearchRequest struct {
	Query   string `json:"query"`
	Contact string `json:"contact,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

type MessagesResponse struct {
	Messages []Message `json:"messages"`
}

type Conversation struct {
	Contact string  `json:"contact"`
	Name    string  `json:"name"`
	Last    Message `json:"last"`
	Unread  int     `json:"unread"`
}

type ConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
}

type RelocateRequest struct {
	Location   string `json:"location"`
	CustomPath string `json:"custom_path,omitempty"`
}

type RelocateResponse struct {
	OldPath string `json:"old_path"`
	NewPath string `json:"new_path"`
	Copied  bool   `json:"copied"`
}

type StorageLocation struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Current bool   `json:"current"`
}

type StorageLocationsResponse struct {
	Locations []StorageLocation `json:"locations"`
}

type NotificationsRequest struct {
	Enabled bool `json:"enabled"`
}

type GatewayCommand struct {
	Node string `json:"node"`
	Name string `json:"name"`
}

type GatewayCommandsResponse struct {
	Gateway  string           `json:"gateway"`
	Commands []GatewayCommand `json:"commands"`
}

type GatewayPairResponse struct {
	QR string `json:"qr"`
}

type GatewayRegisterResponse struct {
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
}

// WatchRequest selects bus events by kind prefix; empty means all.
type WatchRequest struct {
	Prefix string `json:"prefix,omitempty"`
}

// Event is one bus event delivered on the Watch stream.
type Event struct {
	ID           string          `json:"id"`
	Kind         string          `json:"kind"`
	OccurredAtMs int64           `json:"occurred_at_ms"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}
