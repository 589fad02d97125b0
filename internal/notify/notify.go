// Package notify decides whether an inbound message should reach the user's
// attention and hands it to a presentation collaborator.
package notify

import (
	"sync"
	"sync/atomic"

	"github.com/matheus3301/berry/internal/jid"
	"go.uber.org/zap"
)

// Notifier presents a new-message notification. Presentation is external.
type Notifier interface {
	Notify(contactID, displayName, body string)
}

// Tracker remembers which conversation the user has open. Notifications for
// it are suppressed.
type Tracker struct {
	mu     sync.RWMutex
	active string
}

// NewTracker returns a tracker with no active conversation.
func NewTracker() *Tracker {
	return &Tracker{}
}

// SetActive marks contact as the open conversation. Empty clears it.
func (t *Tracker) SetActive(contact string) {
	t.mu.Lock()
	t.active = jid.Normalize(contact)
	t.mu.Unlock()
}

// Active returns the open conversation, or "".
func (t *Tracker) Active() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active
}

// IsActive reports whether contact is the open conversation. Addresses are
// compared in normalized form.
func (t *Tracker) IsActive(contact string) bool {
	return jid.Same(t.Active(), contact)
}

// Log writes notifications to the daemon log.
type Log struct {
	logger *zap.Logger
}

// NewLog returns a Notifier backed by logger.
func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Notify(contactID, displayName, body string) {
	l.logger.Info("new message",
		zap.String("contact", contactID),
		zap.String("name", displayName),
		zap.Int("length", len(body)))
}

// Switch forwards to another Notifier while enabled.
type Switch struct {
	next    Notifier
	enabled atomic.Bool
}

// NewSwitch wraps next, initially enabled or not.
func NewSwitch(next Notifier, enabled bool) *Switch {
	s := &Switch{next: next}
	s.enabled.Store(enabled)
	return s
}

// SetEnabled turns forwarding on or off.
func (s *Switch) SetEnabled(v bool) {
	s.enabled.Store(v)
}

// Enabled reports whether notifications are forwarded.
func (s *Switch) Enabled() bool {
	return s.enabled.Load()
}

func (s *Switch) Notify(contactID, displayName, body string) {
	if s.enabled.Load() {
		s.next.Notify(contactID, displayName, body)
	}
}
