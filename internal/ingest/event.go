// Package ingest classifies inbound stanzas and applies them to the store.
package ingest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/matheus3301/berry/internal/jid"
	"github.com/matheus3301/berry/internal/store"
	"github.com/matheus3301/berry/internal/xmpp"
)

// ErrIgnored is returned by Classify for stanzas that carry nothing to ingest.
var ErrIgnored = errors.New("ingest: stanza ignored")

// ProtocolDecodeError reports a stanza that could not be classified.
type ProtocolDecodeError struct {
	From   string
	Reason string
}

func (e *ProtocolDecodeError) Error() string {
	return fmt.Sprintf("decode stanza from %q: %s", e.From, e.Reason)
}

// Event is one classified inbound event.
type Event interface {
	isEvent()
}

// PlainMessage is a message from a contact.
type PlainMessage struct {
	From          string
	Body          string
	ProtocolID    string
	AttachmentURL string
	At            int64 // ingestion time, ms
}

// CarbonSent is a copy of a message another device of this account sent.
type CarbonSent struct {
	To            string
	Body          string
	ProtocolID    string
	AttachmentURL string
	At            int64
}

// TypingChange is a chat state notification.
type TypingChange struct {
	From      string
	Composing bool
}

// Retraction asks to remove a previously delivered message.
type Retraction struct {
	From       string
	ProtocolID string
}

func (PlainMessage) isEvent() {}
func (CarbonSent) isEvent()   {}
func (TypingChange) isEvent() {}
func (Retraction) isEvent()   {}

// Classify maps a decoded stanza to an Event. self is the bound JID of the
// local account and is used to reject carbons from foreign entities; empty
// skips the check. now is the ingestion time in ms.
func Classify(msg *xmpp.Message, self string, now int64) (Event, error) {
	if msg == nil || msg.Type == "error" {
		return nil, ErrIgnored
	}

	if isCarbon(msg) {
		if self != "" && !jid.Same(msg.From, self) {
			return nil, &ProtocolDecodeError{From: msg.From, Reason: "carbon from foreign entity"}
		}
		if msg.CarbonSent != nil {
			return classifyCarbonSent(msg, now)
		}
		inner := msg.CarbonReceived.Forwarded.Message
		if inner == nil {
			return nil, &ProtocolDecodeError{From: msg.From, Reason: "received carbon without forwarded message"}
		}
		// The inner message comes from a contact; only our server may carbon.
		if isCarbon(inner) {
			return nil, &ProtocolDecodeError{From: inner.From, Reason: "nested carbon"}
		}
		return Classify(inner, "", now)
	}

	if msg.Retract != nil {
		if msg.Retract.ID == "" {
			return nil, &ProtocolDecodeError{From: msg.From, Reason: "retraction without id"}
		}
		return Retraction{From: jid.Normalize(msg.From), ProtocolID: msg.Retract.ID}, nil
	}

	if body, url := content(msg); body != "" {
		if jid.Normalize(msg.From) == "" {
			return nil, &ProtocolDecodeError{From: msg.From, Reason: "message without sender"}
		}
		return PlainMessage{
			From:          jid.Normalize(msg.From),
			Body:          body,
			ProtocolID:    msg.ID,
			AttachmentURL: url,
			At:            now,
		}, nil
	}

	switch msg.ChatState() {
	case xmpp.StateComposing:
		return TypingChange{From: jid.Normalize(msg.From), Composing: true}, nil
	case xmpp.StatePaused, xmpp.StateActive, xmpp.StateInactive, xmpp.StateGone:
		return TypingChange{From: jid.Normalize(msg.From), Composing: false}, nil
	}
	return nil, ErrIgnored
}

func classifyCarbonSent(msg *xmpp.Message, now int64) (Event, error) {
	inner := msg.CarbonSent.Forwarded.Message
	if inner == nil {
		return nil, &ProtocolDecodeError{From: msg.From, Reason: "sent carbon without forwarded message"}
	}
	if isCarbon(inner) {
		return nil, &ProtocolDecodeError{From: inner.From, Reason: "nested carbon"}
	}
	body, url := content(inner)
	if body == "" {
		// Chat states and receipts from other devices.
		return nil, ErrIgnored
	}
	to := jid.Normalize(inner.To)
	if to == "" {
		return nil, &ProtocolDecodeError{From: msg.From, Reason: "sent carbon without recipient"}
	}
	return CarbonSent{
		To:            to,
		Body:          body,
		ProtocolID:    inner.ID,
		AttachmentURL: url,
		At:            now,
	}, nil
}

func isCarbon(msg *xmpp.Message) bool {
	return msg.CarbonSent != nil || msg.CarbonReceived != nil
}

// content returns the displayable body and attachment URL of msg. For
// attachments the description wins over the fallback URL body.
func content(msg *xmpp.Message) (body, url string) {
	if strings.TrimSpace(msg.Body) != "" {
		body = msg.Body
	}
	if msg.OOB != nil && msg.OOB.URL != "" {
		url = msg.OOB.URL
		if d := strings.TrimSpace(msg.OOB.Desc); d != "" {
			body = d
		}
		if body == "" {
			body = url
		}
	}
	return body, url
}

// MessageEvent is the payload of message.received and message.sent events.
// Sent is true for messages authored by this account on any device.
type MessageEvent struct {
	Message store.Message
	Sent    bool
}

// TypingEvent is the payload of typing.changed events.
type TypingEvent struct {
	Contact   string
	Composing bool
}

// RetractedEvent is the payload of message.retracted events.
type RetractedEvent struct {
	Contact    string
	Sender     string
	ProtocolID string
}
