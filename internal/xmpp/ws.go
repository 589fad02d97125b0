package xmpp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/matheus3301/berry/internal/jid"
	"go.uber.org/zap"
)

const (
	subprotocol  = "xmpp"
	maxFrameSize = 1 << 20
)

// AuthError is returned when the server rejects credentials or registration.
type AuthError struct {
	Condition string
	Text      string
}

func (e *AuthError) Error() string {
	if e.Text != "" {
		return fmt.Sprintf("authentication failed: %s (%s)", e.Condition, e.Text)
	}
	return "authentication failed: " + e.Condition
}

// WSTransport speaks XMPP over WebSocket (RFC 7395).
type WSTransport struct {
	url      string
	resource string
	logger   *zap.Logger

	mu           sync.Mutex
	conn         *websocket.Conn
	domain       string
	bound        string
	features     *Features
	pending      map[string]chan *IQ
	ctrl         chan any
	stop         context.CancelFunc
	closing      bool
	onStanza     func(*Message)
	onDisconnect func(error)
}

// Option configures a WSTransport.
type Option func(*WSTransport)

// WithURL sets a fixed WebSocket endpoint instead of deriving it from host
// and port.
func WithURL(u string) Option {
	return func(t *WSTransport) { t.url = u }
}

// WithResource sets the resource requested at bind time.
func WithResource(r string) Option {
	return func(t *WSTransport) { t.resource = r }
}

// NewWSTransport creates an unconnected transport.
func NewWSTransport(logger *zap.Logger, opts ...Option) *WSTransport {
	t := &WSTransport{resource: "berry", logger: logger}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *WSTransport) endpoint(host string, port int) string {
	if t.url != "" {
		return t.url
	}
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/xmpp-websocket"
}

// Connect dials the server and opens an unauthenticated stream.
func (t *WSTransport) Connect(ctx context.Context, host string, port int, domain string) error {
	t.shutdown(false)

	url := t.endpoint(host, port)
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
	})
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	if conn.Subprotocol() != subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "xmpp subprotocol required")
		return fmt.Errorf("dial %s: server did not accept the xmpp subprotocol", url)
	}
	conn.SetReadLimit(maxFrameSize)

	loopCtx, cancel := context.WithCancel(context.Background())
	ctrl := make(chan any, 8)

	t.mu.Lock()
	t.conn = conn
	t.domain = domain
	t.bound = ""
	t.features = nil
	t.pending = make(map[string]chan *IQ)
	t.ctrl = ctrl
	t.stop = cancel
	t.closing = false
	t.mu.Unlock()

	go t.readLoop(loopCtx, conn, ctrl)

	if err := t.openStream(ctx); err != nil {
		t.shutdown(true)
		return err
	}
	t.logger.Debug("stream opened", zap.String("url", url), zap.String("domain", domain))
	return nil
}

// Authenticate performs SASL PLAIN and binds a resource.
func (t *WSTransport) Authenticate(ctx context.Context, user, pass string) error {
	t.mu.Lock()
	feats := t.features
	t.mu.Unlock()
	if feats == nil {
		return ErrNotConnected
	}
	if !feats.Mechanisms.Has("PLAIN") {
		return &AuthError{Condition: "invalid-mechanism", Text: "server does not offer PLAIN"}
	}

	local := user
	if l, _, _ := jid.Split(user); l != "" {
		local = l
	}
	payload := base64.StdEncoding.EncodeToString([]byte("\x00" + local + "\x00" + pass))
	if err := t.write(ctx, &SASLAuth{Mechanism: "PLAIN", Value: payload}); err != nil {
		return err
	}

	v, err := t.await(ctx)
	if err != nil {
		return err
	}
	switch r := v.(type) {
	case *SASLSuccess:
	case *SASLFailure:
		return &AuthError{Condition: r.Condition(), Text: r.Text}
	default:
		return fmt.Errorf("unexpected %T during authentication", v)
	}

	if err := t.openStream(ctx); err != nil {
		return err
	}

	resp, err := t.sendIQ(ctx, &IQ{Type: IQSet, Bind: &Bind{Resource: t.resource}})
	if err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	if resp.Bind == nil || resp.Bind.JID == "" {
		return errors.New("bind: empty result")
	}

	t.mu.Lock()
	t.bound = resp.Bind.JID
	t.mu.Unlock()
	t.logger.Info("authenticated", zap.String("jid", resp.Bind.JID))
	return nil
}

// CreateAccount registers user with in-band registration (XEP-0077).
func (t *WSTransport) CreateAccount(ctx context.Context, user, pass string) error {
	local := user
	if l, _, _ := jid.Split(user); l != "" {
		local = l
	}
	_, err := t.sendIQ(ctx, &IQ{
		Type:     IQSet,
		To:       t.serverDomain(),
		Register: &Register{Username: local, Password: pass},
	})
	if err != nil {
		var se *StanzaError
		if errors.As(err, &se) {
			return &AuthError{Condition: se.Condition(), Text: se.Text}
		}
		return fmt.Errorf("register: %w", err)
	}
	return nil
}

// Send writes a message stanza.
func (t *WSTransport) Send(ctx context.Context, m *Message) error {
	return t.write(ctx, m)
}

// SendPresence announces availability.
func (t *WSTransport) SendPresence(ctx context.Context) error {
	return t.write(ctx, &Presence{})
}

// EnableCarbons asks the server to copy traffic of other resources (XEP-0280).
func (t *WSTransport) EnableCarbons(ctx context.Context) error {
	_, err := t.sendIQ(ctx, &IQ{Type: IQSet, Carbons: &Marker{}})
	if err != nil {
		return fmt.Errorf("enable carbons: %w", err)
	}
	return nil
}

// Ping sends an XEP-0199 ping to the server and waits for the reply.
func (t *WSTransport) Ping(ctx context.Context) error {
	_, err := t.sendIQ(ctx, &IQ{Type: IQGet, To: t.serverDomain(), Ping: &Marker{}})
	if err != nil {
		var se *StanzaError
		// A server that does not implement ping still answered.
		if errors.As(err, &se) {
			return nil
		}
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// DiscoverCommands lists the ad-hoc commands of entity to.
func (t *WSTransport) DiscoverCommands(ctx context.Context, to string) ([]Command, error) {
	resp, err := t.sendIQ(ctx, &IQ{Type: IQGet, To: to, DiscoItems: &DiscoItems{Node: NSCommands}})
	if err != nil {
		return nil, fmt.Errorf("discover commands: %w", err)
	}
	if resp.DiscoItems == nil {
		return nil, nil
	}
	cmds := make([]Command, 0, len(resp.DiscoItems.Items))
	for _, it := range resp.DiscoItems.Items {
		cmds = append(cmds, Command{Node: it.Node, Name: it.Name})
	}
	return cmds, nil
}

// ExecuteCommand runs one step of an ad-hoc command (XEP-0050).
func (t *WSTransport) ExecuteCommand(ctx context.Context, to string, req CommandRequest) (*CommandResult, error) {
	action := req.Action
	if action == "" {
		action = ActionExecute
	}
	cmd := &AdHoc{Node: req.Node, SessionID: req.SessionID, Action: action}
	if req.Answers != nil {
		cmd.Form = SubmitForm(req.Answers)
	}
	resp, err := t.sendIQ(ctx, &IQ{Type: IQSet, To: to, Command: cmd})
	if err != nil {
		return nil, fmt.Errorf("execute %s: %w", req.Node, err)
	}
	if resp.Command == nil {
		return nil, fmt.Errorf("execute %s: empty result", req.Node)
	}
	res := &CommandResult{
		Node:      resp.Command.Node,
		SessionID: resp.Command.SessionID,
		Status:    resp.Command.Status,
		Form:      resp.Command.Form,
	}
	if resp.Command.Note != nil {
		res.Note = resp.Command.Note.Text
	}
	return res, nil
}

// OnStanza registers the inbound message handler.
func (t *WSTransport) OnStanza(h func(*Message)) {
	t.mu.Lock()
	t.onStanza = h
	t.mu.Unlock()
}

// OnDisconnect registers the handler for unexpected stream loss.
func (t *WSTransport) OnDisconnect(h func(error)) {
	t.mu.Lock()
	t.onDisconnect = h
	t.mu.Unlock()
}

// JID returns the bound full JID.
func (t *WSTransport) JID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bound
}

// Close ends the stream. The disconnect handler is not called.
func (t *WSTransport) Close() error {
	t.shutdown(true)
	return nil
}

func (t *WSTransport) serverDomain() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.domain
}

func (t *WSTransport) shutdown(graceful bool) {
	t.mu.Lock()
	conn, stop := t.conn, t.stop
	t.closing = true
	t.mu.Unlock()
	if conn == nil {
		return
	}
	if graceful {
		if b, err := Encode(&Close{}); err == nil {
			_ = conn.Write(context.Background(), websocket.MessageText, b)
		}
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
	if stop != nil {
		stop()
	}
}

func (t *WSTransport) openStream(ctx context.Context) error {
	if err := t.write(ctx, &Open{To: t.serverDomain(), Version: "1.0"}); err != nil {
		return err
	}
	v, err := t.await(ctx)
	if err != nil {
		return err
	}
	if _, ok := v.(*Open); !ok {
		return fmt.Errorf("open stream: unexpected %T", v)
	}
	v, err = t.await(ctx)
	if err != nil {
		return err
	}
	feats, ok := v.(*Features)
	if !ok {
		return fmt.Errorf("open stream: expected features, got %T", v)
	}
	t.mu.Lock()
	t.features = feats
	t.mu.Unlock()
	return nil
}

func (t *WSTransport) write(ctx context.Context, v any) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	b, err := Encode(v)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (t *WSTransport) await(ctx context.Context) (any, error) {
	t.mu.Lock()
	ctrl := t.ctrl
	t.mu.Unlock()
	if ctrl == nil {
		return nil, ErrNotConnected
	}
	select {
	case v, ok := <-ctrl:
		if !ok {
			return nil, ErrNotConnected
		}
		return v, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// sendIQ writes iq and waits for the matching result. An error reply is
// returned as *StanzaError.
func (t *WSTransport) sendIQ(ctx context.Context, iq *IQ) (*IQ, error) {
	iq.ID = uuid.NewString()
	ch := make(chan *IQ, 1)

	t.mu.Lock()
	if t.pending == nil {
		t.mu.Unlock()
		return nil, ErrNotConnected
	}
	t.pending[iq.ID] = ch
	t.mu.Unlock()

	forget := func() {
		t.mu.Lock()
		if t.pending != nil {
			delete(t.pending, iq.ID)
		}
		t.mu.Unlock()
	}

	if err := t.write(ctx, iq); err != nil {
		forget()
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrNotConnected
		}
		if resp.Type == IQError {
			if resp.Error != nil {
				return nil, resp.Error
			}
			return nil, &StanzaError{Type: "cancel"}
		}
		return resp, nil
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	}
}

func (t *WSTransport) readLoop(ctx context.Context, conn *websocket.Conn, ctrl chan any) {
	defer close(ctrl)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.dropped(conn, err)
			return
		}
		v, err := Decode(data)
		if err != nil {
			t.logger.Debug("dropping undecodable frame", zap.Error(err))
			continue
		}
		switch el := v.(type) {
		case *Message:
			t.mu.Lock()
			h := t.onStanza
			t.mu.Unlock()
			if h != nil {
				h(el)
			}
		case *IQ:
			t.handleIQ(ctx, el)
		case *Presence:
		case *Close:
			t.dropped(conn, errors.New("stream closed by server"))
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case *StreamError:
			t.dropped(conn, fmt.Errorf("stream error: %s", el.Condition()))
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		default:
			select {
			case ctrl <- v:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (t *WSTransport) handleIQ(ctx context.Context, iq *IQ) {
	switch iq.Type {
	case IQResult, IQError:
		t.mu.Lock()
		ch, ok := t.pending[iq.ID]
		if ok {
			delete(t.pending, iq.ID)
		}
		t.mu.Unlock()
		if ok {
			ch <- iq
		}
	case IQGet, IQSet:
		reply := &IQ{ID: iq.ID, To: iq.From, Type: IQResult}
		if iq.Ping == nil {
			reply.Type = IQError
			reply.Error = &StanzaError{
				Type:       "cancel",
				Conditions: []AnyElem{{XMLName: xmlName(NSStanzas, "service-unavailable")}},
			}
		}
		if err := t.write(ctx, reply); err != nil {
			t.logger.Debug("iq reply failed", zap.Error(err))
		}
	}
}

// dropped tears down state for conn. The disconnect handler runs only for
// the current connection and only when Close was not called.
func (t *WSTransport) dropped(conn *websocket.Conn, err error) {
	t.mu.Lock()
	if t.conn != conn {
		t.mu.Unlock()
		return
	}
	closing := t.closing
	pending := t.pending
	t.conn = nil
	t.pending = nil
	t.features = nil
	h := t.onDisconnect
	t.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	if !closing && h != nil {
		t.logger.Warn("stream dropped", zap.Error(err))
		h(err)
	}
}
