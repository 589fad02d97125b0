// Package gateway drives a legacy-network gateway (e.g. a slidge WhatsApp
// bridge) through its ad-hoc commands: registration, QR pairing, login and
// logout.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/matheus3301/berry/internal/xmpp"
	"go.uber.org/zap"
)

// DefaultJID is the gateway address used when none is configured.
const DefaultJID = "whatsapp.localhost"

// maxSteps bounds multi-form command exchanges.
const maxSteps = 4

var (
	ErrNotReady        = errors.New("gateway: session not authenticated")
	ErrCommandNotFound = errors.New("gateway: command not found")
	ErrNoQR            = errors.New("gateway: no QR code in response")
)

// Commander is the ad-hoc command subset of the transport.
type Commander interface {
	DiscoverCommands(ctx context.Context, to string) ([]xmpp.Command, error)
	ExecuteCommand(ctx context.Context, to string, req xmpp.CommandRequest) (*xmpp.CommandResult, error)
}

// Client runs gateway commands over an authenticated session.
type Client struct {
	cmd    Commander
	ready  func() bool
	jid    string
	logger *zap.Logger
}

// New creates a client for the gateway at addr.
func New(cmd Commander, ready func() bool, addr string, logger *zap.Logger) *Client {
	if addr == "" {
		addr = DefaultJID
	}
	return &Client{cmd: cmd, ready: ready, jid: addr, logger: logger}
}

// JID returns the gateway address.
func (c *Client) JID() string {
	return c.jid
}

// Commands lists the commands the gateway offers.
func (c *Client) Commands(ctx context.Context) ([]xmpp.Command, error) {
	if !c.ready() {
		return nil, ErrNotReady
	}
	cmds, err := c.cmd.DiscoverCommands(ctx, c.jid)
	if err != nil {
		return nil, fmt.Errorf("gateway: discover commands: %w", err)
	}
	return cmds, nil
}

// Register signs the account up with the gateway. Every form the gateway
// returns (registration, then preferences) is submitted with its defaults.
func (c *Client) Register(ctx context.Context) (*xmpp.CommandResult, error) {
	node, err := c.find(ctx, lookup{nodes: []string{xmpp.NSRegister, "register"}, word: "register", not: []string{"unregister"}})
	if err != nil {
		return nil, err
	}

	res, err := c.exec(ctx, xmpp.CommandRequest{Node: node, Action: xmpp.ActionExecute})
	if err != nil {
		return nil, err
	}
	for step := 1; step < maxSteps && res.Status == xmpp.CommandExecuting && res.Form != nil; step++ {
		c.logger.Debug("completing gateway form", zap.String("node", node), zap.String("title", res.Form.Title))
		res, err = c.exec(ctx, xmpp.CommandRequest{
			Node:      node,
			SessionID: res.SessionID,
			Action:    xmpp.ActionComplete,
			Answers:   defaults(res.Form),
		})
		if err != nil {
			return nil, err
		}
	}
	c.logger.Info("registered with gateway", zap.String("gateway", c.jid), zap.String("status", res.Status))
	return res, nil
}

// PairQR starts device pairing and returns the QR payload to scan.
func (c *Client) PairQR(ctx context.Context) (string, error) {
	node, err := c.find(ctx, lookup{nodes: []string{"wa_pair_phone", "pair"}, word: "pair", not: []string{"unpair"}})
	if err != nil {
		return "", err
	}
	res, err := c.exec(ctx, xmpp.CommandRequest{Node: node, Action: xmpp.ActionExecute})
	if err != nil {
		return "", err
	}
	if res.Form == nil {
		return "", ErrNoQR
	}
	if qr := qrValue(res.Form); qr != "" {
		return qr, nil
	}
	return "", ErrNoQR
}

// Login asks the gateway to connect to the legacy network.
func (c *Client) Login(ctx context.Context) error {
	node, err := c.find(ctx, lookup{nodes: []string{"login"}, word: "login"})
	if err != nil {
		return err
	}
	_, err = c.exec(ctx, xmpp.CommandRequest{Node: node, Action: xmpp.ActionExecute})
	return err
}

// Logout disconnects the gateway from the legacy network. A gateway
// without a logout command is treated as already logged out.
func (c *Client) Logout(ctx context.Context) error {
	node, err := c.find(ctx, lookup{nodes: []string{"logout"}, word: "logout"})
	if errors.Is(err, ErrCommandNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = c.exec(ctx, xmpp.CommandRequest{Node: node, Action: xmpp.ActionExecute})
	return err
}

// lookup selects a gateway command. An exact node wins over any fuzzy
// match regardless of the order the gateway lists its commands in.
type lookup struct {
	nodes []string // exact nodes, most preferred first
	word  string   // fallback: node or name containing word
	not   []string // words that disqualify a fallback match
}

func (l lookup) fuzzy(cmd xmpp.Command) bool {
	node, name := strings.ToLower(cmd.Node), strings.ToLower(cmd.Name)
	for _, w := range l.not {
		if strings.Contains(node, w) || strings.Contains(name, w) {
			return false
		}
	}
	return strings.Contains(node, l.word) || strings.Contains(name, l.word)
}

func (c *Client) find(ctx context.Context, l lookup) (string, error) {
	cmds, err := c.Commands(ctx)
	if err != nil {
		return "", err
	}
	for _, want := range l.nodes {
		for _, cmd := range cmds {
			if cmd.Node == want {
				return cmd.Node, nil
			}
		}
	}
	for _, cmd := range cmds {
		if l.fuzzy(cmd) {
			return cmd.Node, nil
		}
	}
	return "", ErrCommandNotFound
}

func (c *Client) exec(ctx context.Context, req xmpp.CommandRequest) (*xmpp.CommandResult, error) {
	res, err := c.cmd.ExecuteCommand(ctx, c.jid, req)
	if err != nil {
		c.logger.Error("gateway command failed", zap.String("node", req.Node), zap.Error(err))
		return nil, fmt.Errorf("gateway: %s: %w", req.Node, err)
	}
	return res, nil
}

// defaults answers a form with the values the gateway pre-filled.
func defaults(f *xmpp.Form) map[string][]string {
	answers := make(map[string][]string)
	for _, field := range f.Fields {
		if field.Var == "" || field.Type == "fixed" {
			continue
		}
		answers[field.Var] = append([]string(nil), field.Values...)
	}
	return answers
}

// qrValue prefers fields named like a QR code and falls back to the first
// filled single-line text field.
func qrValue(f *xmpp.Form) string {
	for _, field := range f.Fields {
		v := strings.ToLower(field.Var)
		if (strings.Contains(v, "qr") || strings.Contains(v, "code")) && field.Value() != "" {
			return field.Value()
		}
	}
	for _, field := range f.Fields {
		if field.Type == "text-single" && field.Value() != "" {
			return field.Value()
		}
	}
	return ""
}
