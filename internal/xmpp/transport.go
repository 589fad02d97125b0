package xmpp

import (
	"context"
	"errors"
	"maps"
	"slices"
)

// ErrNotConnected is returned when an operation needs an open stream.
var ErrNotConnected = errors.New("xmpp: not connected")

// Transport is the capability surface the session core needs from the
// wire protocol.
type Transport interface {
	// Connect opens a stream to domain. It does not authenticate.
	Connect(ctx context.Context, host string, port int, domain string) error
	// Authenticate logs in and binds a resource.
	Authenticate(ctx context.Context, user, pass string) error
	// CreateAccount registers user in-band on an unauthenticated stream.
	CreateAccount(ctx context.Context, user, pass string) error
	Send(ctx context.Context, m *Message) error
	SendPresence(ctx context.Context) error
	EnableCarbons(ctx context.Context) error
	Ping(ctx context.Context) error
	// DiscoverCommands lists ad-hoc commands offered by a remote entity.
	DiscoverCommands(ctx context.Context, to string) ([]Command, error)
	// ExecuteCommand runs one step of an ad-hoc command.
	ExecuteCommand(ctx context.Context, to string, req CommandRequest) (*CommandResult, error)
	// OnStanza registers the handler for inbound messages.
	OnStanza(h func(*Message))
	// OnDisconnect registers the handler called when the stream drops
	// without a local Close.
	OnDisconnect(h func(error))
	// JID returns the bound full JID, or "" before binding.
	JID() string
	Close() error
}

// Command is a discovered ad-hoc command.
type Command struct {
	Node string
	Name string
}

// CommandRequest is one step of an ad-hoc command exchange. Answers, when
// set, are submitted as a form.
type CommandRequest struct {
	Node      string
	SessionID string
	Action    string
	Answers   map[string][]string
}

// CommandResult is the response to a command step.
type CommandResult struct {
	Node      string
	SessionID string
	Status    string
	Note      string
	Form      *Form
}

// Completed reports whether the command finished.
func (r *CommandResult) Completed() bool {
	return r.Status == CommandCompleted
}

// SubmitForm builds a submit form from answers.
func SubmitForm(answers map[string][]string) *Form {
	f := &Form{Type: "submit"}
	for _, k := range slices.Sorted(maps.Keys(answers)) {
		f.Fields = append(f.Fields, Field{Var: k, Values: answers[k]})
	}
	return f
}
