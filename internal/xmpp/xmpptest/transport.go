// Package xmpptest provides an in-memory xmpp.Transport for tests.
package xmpptest

import (
	"context"
	"errors"
	"sync"

	"github.com/matheus3301/berry/internal/xmpp"
)

// Transport records outbound traffic and lets tests inject inbound
// stanzas and drops. Error fields make the next matching call fail.
type Transport struct {
	mu sync.Mutex

	ConnectErr  error
	AuthErr     error
	RegisterErr error
	SendErr     error
	PingErr     error
	CarbonsErr  error

	Commands []xmpp.Command
	// Execute answers ExecuteCommand; nil returns a completed empty result.
	Execute func(to string, req xmpp.CommandRequest) (*xmpp.CommandResult, error)

	connected     bool
	authenticated bool
	jid           string
	sent          []*xmpp.Message
	executed      []xmpp.CommandRequest
	connects      int
	auths         int
	registered    []string
	pings         int
	presences     int
	carbons       int
	onStanza      func(*xmpp.Message)
	onDisconnect  func(error)
}

// New returns a disconnected fake.
func New() *Transport {
	return &Transport{}
}

func (t *Transport) Connect(ctx context.Context, host string, port int, domain string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	if t.ConnectErr != nil {
		return t.ConnectErr
	}
	t.connected = true
	t.authenticated = false
	return nil
}

func (t *Transport) Authenticate(ctx context.Context, user, pass string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.auths++
	if !t.connected {
		return xmpp.ErrNotConnected
	}
	if t.AuthErr != nil {
		return t.AuthErr
	}
	t.authenticated = true
	t.jid = user + "/berry"
	return nil
}

func (t *Transport) CreateAccount(ctx context.Context, user, pass string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return xmpp.ErrNotConnected
	}
	if t.RegisterErr != nil {
		return t.RegisterErr
	}
	t.registered = append(t.registered, user)
	return nil
}

func (t *Transport) Send(ctx context.Context, m *xmpp.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return xmpp.ErrNotConnected
	}
	if t.SendErr != nil {
		return t.SendErr
	}
	cp := *m
	t.sent = append(t.sent, &cp)
	return nil
}

func (t *Transport) SendPresence(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.presences++
	return nil
}

func (t *Transport) EnableCarbons(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.carbons++
	return t.CarbonsErr
}

func (t *Transport) Ping(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pings++
	if !t.connected {
		return xmpp.ErrNotConnected
	}
	return t.PingErr
}

func (t *Transport) DiscoverCommands(ctx context.Context, to string) ([]xmpp.Command, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.authenticated {
		return nil, xmpp.ErrNotConnected
	}
	return append([]xmpp.Command(nil), t.Commands...), nil
}

func (t *Transport) ExecuteCommand(ctx context.Context, to string, req xmpp.CommandRequest) (*xmpp.CommandResult, error) {
	t.mu.Lock()
	if !t.authenticated {
		t.mu.Unlock()
		return nil, xmpp.ErrNotConnected
	}
	t.executed = append(t.executed, req)
	exec := t.Execute
	t.mu.Unlock()
	if exec == nil {
		return &xmpp.CommandResult{Node: req.Node, Status: xmpp.CommandCompleted}, nil
	}
	return exec(to, req)
}

func (t *Transport) OnStanza(h func(*xmpp.Message)) {
	t.mu.Lock()
	t.onStanza = h
	t.mu.Unlock()
}

func (t *Transport) OnDisconnect(h func(error)) {
	t.mu.Lock()
	t.onDisconnect = h
	t.mu.Unlock()
}

func (t *Transport) JID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.jid
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	t.authenticated = false
	return nil
}

// Deliver injects an inbound message as if read from the stream.
func (t *Transport) Deliver(m *xmpp.Message) {
	t.mu.Lock()
	h := t.onStanza
	t.mu.Unlock()
	if h != nil {
		h(m)
	}
}

// Drop simulates the server closing the stream.
func (t *Transport) Drop() {
	t.mu.Lock()
	t.connected = false
	t.authenticated = false
	h := t.onDisconnect
	t.mu.Unlock()
	if h != nil {
		h(errors.New("connection reset by peer"))
	}
}

// SetErr changes an error field under the lock. field is one of
// "connect", "auth", "register", "send", "ping", "carbons".
func (t *Transport) SetErr(field string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch field {
	case "connect":
		t.ConnectErr = err
	case "auth":
		t.AuthErr = err
	case "register":
		t.RegisterErr = err
	case "send":
		t.SendErr = err
	case "ping":
		t.PingErr = err
	case "carbons":
		t.CarbonsErr = err
	}
}

// Sent returns a copy of every message sent so far.
func (t *Transport) Sent() []*xmpp.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*xmpp.Message(nil), t.sent...)
}

// Executed returns every command request executed so far.
func (t *Transport) Executed() []xmpp.CommandRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]xmpp.CommandRequest(nil), t.executed...)
}

// Registered returns the usernames passed to CreateAccount.
func (t *Transport) Registered() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.registered...)
}

// Counts reports how many times each lifecycle call ran.
func (t *Transport) Counts() (connects, auths, pings, presences, carbons int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects, t.auths, t.pings, t.presences, t.carbons
}

// Connected reports whether the fake stream is open.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

var _ xmpp.Transport = (*Transport)(nil)
