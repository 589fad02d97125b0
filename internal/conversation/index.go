// Package conversation derives per-contact summaries from the message store.
package conversation

import (
	"context"
	"slices"

	"github.com/matheus3301/berry/internal/bus"
	"github.com/matheus3301/berry/internal/jid"
	"github.com/matheus3301/berry/internal/store"
	"go.uber.org/zap"
)

// Summary is the list-view row for one contact. It is computed on demand
// and never stored.
type Summary struct {
	ContactID string
	Last      store.Message
	Unread    int
}

// ReadEvent is the payload of conversation.read events.
type ReadEvent struct {
	Contact string
	Marked  int64
}

// Store is the read side the index queries.
type Store interface {
	LastPerContact(ctx context.Context) (map[string]store.Message, error)
	UnreadCounts(ctx context.Context) (map[string]int, error)
	UnreadCount(ctx context.Context, contactID string) (int, error)
	MarkRead(ctx context.Context, contactID string) (int64, error)
}

// Index answers conversation list queries.
type Index struct {
	db     Store
	bus    *bus.Bus
	logger *zap.Logger
}

// New creates an index.
func New(db Store, b *bus.Bus, logger *zap.Logger) *Index {
	return &Index{db: db, bus: b, logger: logger}
}

// Summaries returns one summary per contact with at least one message.
// It issues exactly two queries regardless of the number of contacts.
func (x *Index) Summaries(ctx context.Context) (map[string]Summary, error) {
	last, err := x.db.LastPerContact(ctx)
	if err != nil {
		return nil, err
	}
	unread, err := x.db.UnreadCounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Summary, len(last))
	for contact, m := range last {
		out[contact] = Summary{ContactID: contact, Last: m, Unread: unread[contact]}
	}
	return out, nil
}

// Sorted returns summaries newest first; ties fall back to contact id.
func (x *Index) Sorted(ctx context.Context) ([]Summary, error) {
	all, err := x.Summaries(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(all))
	for _, s := range all {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b Summary) int {
		switch {
		case a.Last.CreatedAt > b.Last.CreatedAt:
			return -1
		case a.Last.CreatedAt < b.Last.CreatedAt:
			return 1
		case a.ContactID < b.ContactID:
			return -1
		case a.ContactID > b.ContactID:
			return 1
		}
		return 0
	})
	return out, nil
}

// Unread returns the unread count for contact.
func (x *Index) Unread(ctx context.Context, contact string) (int, error) {
	return x.db.UnreadCount(ctx, jid.Normalize(contact))
}

// MarkAllRead marks every received message from contact as read in one
// update and publishes conversation.read.
func (x *Index) MarkAllRead(ctx context.Context, contact string) (int64, error) {
	c := jid.Normalize(contact)
	n, err := x.db.MarkRead(ctx, c)
	if err != nil {
		x.logger.Error("failed to mark conversation read", zap.String("contact", c), zap.Error(err))
		return 0, err
	}
	x.bus.Publish(bus.NewEvent(bus.KindConversationRead, ReadEvent{Contact: c, Marked: n}))
	return n, nil
}
