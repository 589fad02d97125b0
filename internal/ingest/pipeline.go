package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/berry/internal/bus"
	"github.com/matheus3301/berry/internal/dedup"
	"github.com/matheus3301/berry/internal/jid"
	"github.com/matheus3301/berry/internal/notify"
	"github.com/matheus3301/berry/internal/store"
	"github.com/matheus3301/berry/internal/xmpp"
	"go.uber.org/zap"
)

// Store is the part of the message store the pipeline writes to.
type Store interface {
	Insert(ctx context.Context, m store.NewMessage) (int64, error)
	DeleteByProtocolID(ctx context.Context, protocolID string) (*store.Message, error)
}

// Observer receives ingestion outcomes, e.g. for metrics.
type Observer interface {
	Ingested(kind string)
	Duplicate()
	Failed(kind string)
}

type nopObserver struct{}

func (nopObserver) Ingested(string) {}
func (nopObserver) Duplicate()      {}
func (nopObserver) Failed(string)   {}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSelf supplies the bound JID of the local account for carbon checks.
func WithSelf(f func() string) Option {
	return func(p *Pipeline) { p.self = f }
}

// WithObserver sets the outcome observer.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// WithClock overrides the ingestion clock.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline applies inbound events to the store, then publishes them.
// Persist-then-publish: subscribers never see a message that is not durable.
type Pipeline struct {
	db       Store
	window   *dedup.Window
	bus      *bus.Bus
	notifier notify.Notifier
	tracker  *notify.Tracker
	logger   *zap.Logger
	observer Observer
	self     func() string
	now      func() time.Time

	queue  chan Event
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPipeline creates a pipeline. notifier may be nil.
func NewPipeline(db Store, window *dedup.Window, b *bus.Bus, notifier notify.Notifier, tracker *notify.Tracker, logger *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		db:       db,
		window:   window,
		bus:      b,
		notifier: notifier,
		tracker:  tracker,
		logger:   logger,
		observer: nopObserver{},
		self:     func() string { return "" },
		now:      time.Now,
		queue:    make(chan Event, 256),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start launches the worker that drains queued events.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case ev := <-p.queue:
				_ = p.OnInboundEvent(ctx, ev)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the worker and waits for it to exit.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// HandleStanza classifies msg and queues the result. It is the session's
// inbound handler and never blocks on store I/O.
func (p *Pipeline) HandleStanza(msg *xmpp.Message) {
	ev, err := Classify(msg, p.self(), p.now().UnixMilli())
	if err != nil {
		var de *ProtocolDecodeError
		if errors.As(err, &de) {
			p.logger.Warn("dropping undecodable stanza", zap.String("from", de.From), zap.String("reason", de.Reason))
			p.observer.Failed("decode")
		}
		return
	}
	p.queue <- ev
}

// OnInboundEvent processes one event. Errors are logged and returned; they
// never stop the pipeline.
func (p *Pipeline) OnInboundEvent(ctx context.Context, ev Event) error {
	switch e := ev.(type) {
	case PlainMessage:
		return p.plain(ctx, e)
	case CarbonSent:
		return p.carbon(ctx, e)
	case TypingChange:
		p.bus.Publish(bus.NewEvent(bus.KindTypingChanged, TypingEvent{
			Contact:   jid.Normalize(e.From),
			Composing: e.Composing,
		}))
		p.observer.Ingested("typing")
		return nil
	case Retraction:
		return p.retract(ctx, e)
	default:
		return ErrIgnored
	}
}

func (p *Pipeline) plain(ctx context.Context, e PlainMessage) error {
	from := jid.Normalize(e.From)
	if from == "" || strings.TrimSpace(e.Body) == "" {
		return ErrIgnored
	}
	if !p.window.ShouldProcess(from, e.Body, e.At) {
		p.logger.Debug("duplicate message dropped", zap.String("contact", from))
		p.observer.Duplicate()
		return nil
	}

	nm := store.NewMessage{
		ContactID:     from,
		Body:          e.Body,
		Direction:     store.Received,
		CreatedAt:     e.At,
		AttachmentURL: e.AttachmentURL,
		ProtocolID:    e.ProtocolID,
	}
	id, err := p.db.Insert(ctx, nm)
	if err != nil {
		p.logger.Error("failed to store message", zap.String("contact", from), zap.Error(err))
		p.observer.Failed("message")
		return err
	}

	p.bus.Publish(bus.NewEvent(bus.KindMessageReceived, MessageEvent{Message: stored(id, nm)}))
	p.observer.Ingested("message")

	if p.notifier != nil && !p.tracker.IsActive(from) {
		p.notifier.Notify(from, jid.Local(from), e.Body)
	}
	return nil
}

func (p *Pipeline) carbon(ctx context.Context, e CarbonSent) error {
	to := jid.Normalize(e.To)
	if to == "" || strings.TrimSpace(e.Body) == "" {
		return ErrIgnored
	}
	var fresh bool
	if e.ProtocolID != "" {
		fresh = p.window.ShouldProcessID(to, e.ProtocolID)
	} else {
		fresh = p.window.ShouldProcess(to, e.Body, e.At)
	}
	if !fresh {
		p.logger.Debug("duplicate carbon dropped", zap.String("contact", to))
		p.observer.Duplicate()
		return nil
	}

	nm := store.NewMessage{
		ContactID:     to,
		Body:          e.Body,
		Direction:     store.Sent,
		CreatedAt:     e.At,
		AttachmentURL: e.AttachmentURL,
		ProtocolID:    e.ProtocolID,
	}
	id, err := p.db.Insert(ctx, nm)
	if err != nil {
		p.logger.Error("failed to store carbon", zap.String("contact", to), zap.Error(err))
		p.observer.Failed("carbon")
		return err
	}

	p.bus.Publish(bus.NewEvent(bus.KindMessageReceived, MessageEvent{Message: stored(id, nm), Sent: true}))
	p.observer.Ingested("carbon")
	return nil
}

func (p *Pipeline) retract(ctx context.Context, e Retraction) error {
	m, err := p.db.DeleteByProtocolID(ctx, e.ProtocolID)
	if errors.Is(err, store.ErrNotFound) {
		p.logger.Debug("retraction for unknown message",
			zap.String("from", e.From), zap.String("protocol_id", e.ProtocolID))
		return nil
	}
	if err != nil {
		p.logger.Error("failed to apply retraction", zap.String("protocol_id", e.ProtocolID), zap.Error(err))
		p.observer.Failed("retraction")
		return err
	}

	p.bus.Publish(bus.NewEvent(bus.KindMessageRetracted, RetractedEvent{
		Contact:    m.ContactID,
		Sender:     jid.Normalize(e.From),
		ProtocolID: e.ProtocolID,
	}))
	p.observer.Ingested("retraction")
	return nil
}

// stored builds the row Insert just wrote without reading it back.
func stored(id int64, nm store.NewMessage) store.Message {
	m := store.Message{
		ID:        id,
		ContactID: jid.Normalize(nm.ContactID),
		Body:      nm.Body,
		Direction: nm.Direction,
		CreatedAt: nm.CreatedAt,
		Read:      nm.Direction == store.Sent,
	}
	if nm.AttachmentURL != "" {
		url := nm.AttachmentURL
		m.AttachmentURL = &url
	}
	if nm.ProtocolID != "" {
		pid := nm.ProtocolID
		m.ProtocolID = &pid
	}
	return m
}
