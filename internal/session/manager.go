// Package session owns the connection lifecycle: connect, authenticate,
// keepalive and automatic reconnection after an authenticated session drops.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/matheus3301/berry/internal/bus"
	"github.com/matheus3301/berry/internal/jid"
	"github.com/matheus3301/berry/internal/status"
	"github.com/matheus3301/berry/internal/xmpp"
	"go.uber.org/zap"
)

// Config holds session timings.
type Config struct {
	ConnectTimeout   time.Duration
	KeepAlive        time.Duration
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	TypingInterval   time.Duration
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:   30 * time.Second,
		KeepAlive:        30 * time.Second,
		ReconnectInitial: 2 * time.Second,
		ReconnectMax:     30 * time.Second,
		TypingInterval:   5 * time.Second,
	}
}

// ErrorHandler receives a human-readable reason for every failed transition.
type ErrorHandler func(reason string)

// ErrorEvent is the payload of session.error events.
type ErrorEvent struct {
	Reason string
}

// Reconnecting is the payload of session.reconnecting events.
type Reconnecting struct {
	Attempt int
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfig overrides the timings.
func WithConfig(c Config) Option {
	return func(m *Manager) { m.cfg = c }
}

// WithErrorHandler sets the callback for failed transitions.
func WithErrorHandler(h ErrorHandler) Option {
	return func(m *Manager) { m.onError = h }
}

// Manager drives the transport through the session state machine.
type Manager struct {
	transport xmpp.Transport
	machine   *status.Machine
	bus       *bus.Bus
	logger    *zap.Logger
	cfg       Config
	onError   ErrorHandler
	typing    *typingLimiter

	live atomic.Bool

	mu           sync.Mutex
	handler      func(*xmpp.Message)
	host         string
	port         int
	domain       string
	user         string
	pass         string
	keepCancel   context.CancelFunc
	reconnCancel context.CancelFunc
	stopping     bool
	wg           sync.WaitGroup
}

// New creates a Manager and registers its transport callbacks.
func New(t xmpp.Transport, machine *status.Machine, b *bus.Bus, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		transport: t,
		machine:   machine,
		bus:       b,
		logger:    logger,
		cfg:       DefaultConfig(),
	}
	for _, o := range opts {
		o(m)
	}
	m.typing = newTypingLimiter(m.cfg.TypingInterval)
	t.OnStanza(m.dispatch)
	t.OnDisconnect(m.handleDrop)
	return m
}

// OnMessage sets the handler for inbound messages. Messages arriving before
// authentication completes are dropped.
func (m *Manager) OnMessage(h func(*xmpp.Message)) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

// State returns the current session state.
func (m *Manager) State() status.State {
	return m.machine.Current()
}

// Ready reports whether the session is authenticated.
func (m *Manager) Ready() bool {
	return m.machine.Current() == status.Authenticated
}

// JID returns the bound address of the local account.
func (m *Manager) JID() string {
	return m.transport.JID()
}

// Transport returns the underlying transport.
func (m *Manager) Transport() xmpp.Transport {
	return m.transport
}

// Connect opens a stream to the server.
func (m *Manager) Connect(ctx context.Context, host string, port int, domain string) error {
	if err := m.machine.Transition(status.Connecting); err != nil {
		return m.fail("connect", err)
	}
	m.mu.Lock()
	m.host, m.port, m.domain = host, port, domain
	m.stopping = false
	m.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()
	if err := m.transport.Connect(cctx, host, port, domain); err != nil {
		_ = m.machine.Transition(status.Disconnected)
		return m.fail("connect", err)
	}
	if err := m.machine.Transition(status.Connected); err != nil {
		_ = m.transport.Close()
		return m.fail("connect", err)
	}
	m.logger.Info("connected", zap.String("host", host), zap.Int("port", port), zap.String("domain", domain))
	return nil
}

// Login authenticates an existing account.
func (m *Manager) Login(ctx context.Context, user, pass string) error {
	return m.authenticate(ctx, "login", user, pass, false)
}

// Register creates the account in-band and logs in with it.
func (m *Manager) Register(ctx context.Context, user, pass string) error {
	local := user
	if l, _, _ := jid.Split(user); l != "" {
		local = l
	}
	if err := ValidateUsername(local); err != nil {
		return m.fail("register", err)
	}
	return m.authenticate(ctx, "register", user, pass, true)
}

func (m *Manager) authenticate(ctx context.Context, op, user, pass string, create bool) error {
	if s := m.machine.Current(); s != status.Connected {
		return m.fail(op, fmt.Errorf("cannot %s while %s", op, s))
	}

	cctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()
	if create {
		if err := m.transport.CreateAccount(cctx, user, pass); err != nil {
			return m.fail(op, err)
		}
	}
	if err := m.transport.Authenticate(cctx, user, pass); err != nil {
		return m.fail(op, err)
	}

	m.mu.Lock()
	m.user, m.pass = user, pass
	m.mu.Unlock()

	if err := m.machine.Transition(status.Authenticated); err != nil {
		return m.fail(op, err)
	}
	m.onAuthenticated()
	m.logger.Info("authenticated", zap.String("jid", m.transport.JID()))
	return nil
}

// onAuthenticated runs after every successful authentication, including
// resumption after a drop.
func (m *Manager) onAuthenticated() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
	defer cancel()
	if err := m.transport.EnableCarbons(ctx); err != nil {
		m.logger.Warn("enable carbons failed", zap.Error(err))
	}
	if err := m.transport.SendPresence(ctx); err != nil {
		m.logger.Warn("initial presence failed", zap.Error(err))
	}
	m.live.Store(true)
	m.startKeepAlive()
}

// Disconnect ends the session on user request. No reconnection follows.
func (m *Manager) Disconnect() error {
	m.live.Store(false)
	m.mu.Lock()
	m.stopping = true
	for _, c := range []context.CancelFunc{m.keepCancel, m.reconnCancel} {
		if c != nil {
			c()
		}
	}
	m.keepCancel, m.reconnCancel = nil, nil
	m.mu.Unlock()

	m.wg.Wait()
	err := m.transport.Close()
	if m.machine.Current() != status.Closed {
		if terr := m.machine.Transition(status.Closed); terr != nil {
			m.logger.Warn("disconnect transition failed", zap.Error(terr))
		}
	}
	m.logger.Info("disconnected")
	return err
}

// Send transmits msg on the authenticated stream.
func (m *Manager) Send(ctx context.Context, msg *xmpp.Message) error {
	if !m.Ready() {
		return ErrNotReady
	}
	if err := m.transport.Send(ctx, msg); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	return nil
}

// SendTyping broadcasts a chat state to contact. Composing notifications are
// rate limited per contact; paused always goes out.
func (m *Manager) SendTyping(ctx context.Context, contact string, composing bool) error {
	if !m.Ready() {
		return ErrNotReady
	}
	to := jid.Normalize(contact)
	if to == "" {
		return errors.New("typing: empty contact")
	}

	state := xmpp.StatePaused
	if composing {
		if !m.typing.Allow(to, time.Now()) {
			return nil
		}
		state = xmpp.StateComposing
	} else {
		m.typing.Reset(to)
	}

	msg := &xmpp.Message{To: to, Type: "chat"}
	msg.SetChatState(state)
	if err := m.transport.Send(ctx, msg); err != nil {
		return &TransportError{Op: "typing", Err: err}
	}
	return nil
}

func (m *Manager) dispatch(msg *xmpp.Message) {
	if !m.live.Load() {
		m.logger.Debug("inbound stanza before authentication dropped", zap.String("from", msg.From))
		return
	}
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h(msg)
	}
}

// handleDrop reacts to the transport losing its stream.
func (m *Manager) handleDrop(err error) {
	m.live.Store(false)
	m.stopKeepAlive()

	switch m.machine.Current() {
	case status.Authenticated:
		if terr := m.machine.Transition(status.Degraded); terr != nil {
			return
		}
		m.report("connection lost: " + err.Error())
		m.startReconnect()
	case status.Connecting, status.Connected:
		if terr := m.machine.Transition(status.Disconnected); terr == nil {
			m.report("connection lost: " + err.Error())
		}
	}
}

func (m *Manager) startKeepAlive() {
	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		cancel()
		return
	}
	if m.keepCancel != nil {
		m.keepCancel()
	}
	m.keepCancel = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		m.keepAlive(ctx)
	}()
}

func (m *Manager) stopKeepAlive() {
	m.mu.Lock()
	if m.keepCancel != nil {
		m.keepCancel()
		m.keepCancel = nil
	}
	m.mu.Unlock()
}

func (m *Manager) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pctx, cancel := context.WithTimeout(ctx, m.cfg.KeepAlive)
		err := m.transport.Ping(pctx)
		cancel()
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		m.logger.Warn("keepalive ping failed", zap.Error(err))
		_ = m.transport.Close()
		m.handleDrop(fmt.Errorf("keepalive: %w", err))
		return
	}
}

func (m *Manager) startReconnect() {
	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		cancel()
		return
	}
	if m.reconnCancel != nil {
		m.reconnCancel()
	}
	m.reconnCancel = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		m.reconnect(ctx)
	}()
}

// reconnect retries resume with exponential backoff until it succeeds, the
// server rejects the credentials, or Disconnect cancels ctx.
func (m *Manager) reconnect(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.ReconnectInitial
	b.MaxInterval = m.cfg.ReconnectMax
	b.MaxElapsedTime = 0
	b.Reset()

	attempt := 0
	op := func() error {
		attempt++
		if m.bus != nil {
			m.bus.Publish(bus.NewEvent(bus.KindReconnecting, Reconnecting{Attempt: attempt}))
		}
		err := m.resume(ctx)
		var ae *xmpp.AuthError
		if errors.As(err, &ae) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		m.logger.Warn("reconnect attempt failed",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", next),
			zap.Error(err))
	}

	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
	if err == nil || ctx.Err() != nil {
		return
	}
	_ = m.machine.Transition(status.Disconnected)
	m.report("reconnect abandoned: " + err.Error())
}

func (m *Manager) resume(ctx context.Context) error {
	m.mu.Lock()
	host, port, domain, user, pass := m.host, m.port, m.domain, m.user, m.pass
	m.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()
	if err := m.transport.Connect(cctx, host, port, domain); err != nil {
		return err
	}
	if err := m.transport.Authenticate(cctx, user, pass); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return backoff.Permanent(err)
	}
	if err := m.machine.Transition(status.Authenticated); err != nil {
		return backoff.Permanent(err)
	}
	m.onAuthenticated()
	m.logger.Info("session resumed", zap.String("jid", m.transport.JID()))
	return nil
}

func (m *Manager) fail(op string, err error) error {
	te := &TransportError{Op: op, Err: err}
	m.report(te.Error())
	return te
}

func (m *Manager) report(reason string) {
	m.logger.Warn("session error", zap.String("reason", reason))
	if m.bus != nil {
		m.bus.Publish(bus.NewEvent(bus.KindSessionError, ErrorEvent{Reason: reason}))
	}
	if m.onError != nil {
		m.onError(reason)
	}
}
