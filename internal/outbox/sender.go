// Package outbox transmits outbound messages and records them once the
// transport accepted them.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/berry/internal/bus"
	"github.com/matheus3301/berry/internal/ingest"
	"github.com/matheus3301/berry/internal/jid"
	"github.com/matheus3301/berry/internal/store"
	"github.com/matheus3301/berry/internal/upload"
	"github.com/matheus3301/berry/internal/xmpp"
	"go.uber.org/zap"
)

// RetractFallback is the body shown by clients that do not understand
// retractions.
const RetractFallback = "This message was deleted"

var (
	ErrEmptyContact = errors.New("outbox: contact is empty")
	ErrEmptyBody    = errors.New("outbox: message body is empty")
	ErrNoUploader   = errors.New("outbox: file uploads are not configured")
)

// Conn sends stanzas on the authenticated session.
type Conn interface {
	Send(ctx context.Context, msg *xmpp.Message) error
}

// Store records sent messages.
type Store interface {
	Insert(ctx context.Context, m store.NewMessage) (int64, error)
}

// Sender transmits text, attachments and retractions.
type Sender struct {
	conn     Conn
	db       Store
	bus      *bus.Bus
	uploader upload.Uploader
	logger   *zap.Logger
	now      func() time.Time
}

// NewSender creates a sender. uploader may be nil, which disables SendFile.
func NewSender(conn Conn, db Store, b *bus.Bus, uploader upload.Uploader, logger *zap.Logger) *Sender {
	return &Sender{
		conn:     conn,
		db:       db,
		bus:      b,
		uploader: uploader,
		logger:   logger,
		now:      time.Now,
	}
}

// SendMessage sends text to contact and stores it as sent.
func (s *Sender) SendMessage(ctx context.Context, contact, text string) (*store.Message, error) {
	to := jid.Normalize(contact)
	if to == "" {
		return nil, ErrEmptyContact
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyBody
	}
	msg := &xmpp.Message{ID: uuid.NewString(), To: to, Type: "chat", Body: text}
	return s.deliver(ctx, msg, store.NewMessage{ContactID: to, Body: text})
}

// SendAttachment shares an uploaded file. The body carries the URL for
// clients without OOB support; the stored row shows displayName.
func (s *Sender) SendAttachment(ctx context.Context, contact, url, displayName, mime string) (*store.Message, error) {
	to := jid.Normalize(contact)
	if to == "" {
		return nil, ErrEmptyContact
	}
	if url == "" {
		return nil, ErrEmptyBody
	}
	if displayName == "" {
		displayName = url
	}
	msg := &xmpp.Message{
		ID:   uuid.NewString(),
		To:   to,
		Type: "chat",
		Body: url,
		OOB:  &xmpp.OOB{URL: url, Desc: displayName},
	}
	if upload.IsMedia(mime) {
		msg.Subject = mime
	}
	return s.deliver(ctx, msg, store.NewMessage{ContactID: to, Body: displayName, AttachmentURL: url})
}

// SendFile uploads the file at path and shares it with contact.
func (s *Sender) SendFile(ctx context.Context, contact, path string) (*store.Message, error) {
	if s.uploader == nil {
		return nil, ErrNoUploader
	}
	if jid.Normalize(contact) == "" {
		return nil, ErrEmptyContact
	}
	mime, err := upload.DetectMIME(path)
	if err != nil {
		return nil, err
	}
	url, err := s.uploader.Upload(ctx, path)
	if err != nil {
		s.logger.Error("upload failed", zap.String("path", path), zap.Error(err))
		return nil, err
	}
	s.logger.Info("file uploaded", zap.String("path", path), zap.String("url", url))
	return s.SendAttachment(ctx, contact, url, filepath.Base(path), mime)
}

// Retract asks contact's clients to remove the message with protocolID.
// The local row is left alone; callers delete it separately if wanted.
func (s *Sender) Retract(ctx context.Context, contact, protocolID string) error {
	to := jid.Normalize(contact)
	if to == "" {
		return ErrEmptyContact
	}
	if protocolID == "" {
		return errors.New("outbox: protocol id is empty")
	}
	msg := &xmpp.Message{
		ID:       uuid.NewString(),
		To:       to,
		Type:     "chat",
		Body:     RetractFallback,
		Retract:  &xmpp.Retract{ID: protocolID},
		Fallback: &xmpp.Fallback{For: xmpp.NSRetract},
		Store:    &xmpp.Marker{},
	}
	if err := s.conn.Send(ctx, msg); err != nil {
		s.logger.Error("failed to send retraction", zap.String("contact", to), zap.String("protocol_id", protocolID), zap.Error(err))
		return err
	}
	s.logger.Info("retraction sent", zap.String("contact", to), zap.String("protocol_id", protocolID))
	return nil
}

// deliver transmits msg, then persists row with the same protocol id.
// Nothing is stored when the transport rejects the message.
func (s *Sender) deliver(ctx context.Context, msg *xmpp.Message, row store.NewMessage) (*store.Message, error) {
	if err := s.conn.Send(ctx, msg); err != nil {
		s.logger.Error("failed to send message", zap.String("contact", row.ContactID), zap.Error(err))
		return nil, err
	}

	row.Direction = store.Sent
	row.CreatedAt = s.now().UnixMilli()
	row.ProtocolID = msg.ID
	id, err := s.db.Insert(ctx, row)
	if err != nil {
		s.logger.Error("message sent but not stored", zap.String("protocol_id", msg.ID), zap.Error(err))
		return nil, fmt.Errorf("record sent message: %w", err)
	}

	m := store.Message{
		ID:         id,
		ContactID:  row.ContactID,
		Body:       row.Body,
		Direction:  store.Sent,
		CreatedAt:  row.CreatedAt,
		ProtocolID: &msg.ID,
		Read:       true,
	}
	if row.AttachmentURL != "" {
		m.AttachmentURL = &row.AttachmentURL
	}
	s.logger.Info("message sent", zap.String("contact", row.ContactID), zap.String("protocol_id", msg.ID))
	s.bus.Publish(bus.NewEvent(bus.KindMessageSent, ingest.MessageEvent{Message: m, Sent: true}))
	return &m, nil
}
