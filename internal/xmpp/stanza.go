package xmpp

import "encoding/xml"

// Namespaces used by berry.
const (
	NSClient     = "jabber:client"
	NSFraming    = "urn:ietf:params:xml:ns:xmpp-framing"
	NSStreams    = "http://etherx.jabber.org/streams"
	NSSASL       = "urn:ietf:params:xml:ns:xmpp-sasl"
	NSBind       = "urn:ietf:params:xml:ns:xmpp-bind"
	NSStanzas    = "urn:ietf:params:xml:ns:xmpp-stanzas"
	NSCarbons    = "urn:xmpp:carbons:2"
	NSForward    = "urn:xmpp:forward:0"
	NSDelay      = "urn:xmpp:delay"
	NSChatStates = "http://jabber.org/protocol/chatstates"
	NSRetract    = "urn:xmpp:message-retract:1"
	NSFallback   = "urn:xmpp:fallback:0"
	NSHints      = "urn:xmpp:hints"
	NSOOB        = "jabber:x:oob"
	NSPing       = "urn:xmpp:ping"
	NSRegister   = "jabber:iq:register"
	NSRegFeature = "http://jabber.org/features/iq-register"
	NSDiscoItems = "http://jabber.org/protocol/disco#items"
	NSCommands   = "http://jabber.org/protocol/commands"
	NSData       = "jabber:x:data"
)

// Chat states (XEP-0085).
const (
	StateActive    = "active"
	StateComposing = "composing"
	StatePaused    = "paused"
	StateInactive  = "inactive"
	StateGone      = "gone"
)

// Marker is an element without content, such as <ping/> or <store/>.
type Marker struct{}

// Message is a <message/> stanza with the extensions berry understands.
type Message struct {
	XMLName xml.Name `xml:"message"`
	ID      string   `xml:"id,attr,omitempty"`
	From    string   `xml:"from,attr,omitempty"`
	To      string   `xml:"to,attr,omitempty"`
	Type    string   `xml:"type,attr,omitempty"`
	Subject string   `xml:"subject,omitempty"`
	Body    string   `xml:"body,omitempty"`

	Active    *Marker `xml:"http://jabber.org/protocol/chatstates active"`
	Composing *Marker `xml:"http://jabber.org/protocol/chatstates composing"`
	Paused    *Marker `xml:"http://jabber.org/protocol/chatstates paused"`
	Inactive  *Marker `xml:"http://jabber.org/protocol/chatstates inactive"`
	Gone      *Marker `xml:"http://jabber.org/protocol/chatstates gone"`

	Retract  *Retract  `xml:"urn:xmpp:message-retract:1 retract"`
	Fallback *Fallback `xml:"urn:xmpp:fallback:0 fallback"`
	Store    *Marker   `xml:"urn:xmpp:hints store"`
	OOB      *OOB      `xml:"jabber:x:oob x"`

	CarbonSent     *Carbon `xml:"urn:xmpp:carbons:2 sent"`
	CarbonReceived *Carbon `xml:"urn:xmpp:carbons:2 received"`

	Error *StanzaError `xml:"error"`
}

// ChatState returns the chat state carried by the message, or "".
func (m *Message) ChatState() string {
	switch {
	case m.Composing != nil:
		return StateComposing
	case m.Paused != nil:
		return StatePaused
	case m.Active != nil:
		return StateActive
	case m.Inactive != nil:
		return StateInactive
	case m.Gone != nil:
		return StateGone
	}
	return ""
}

// SetChatState replaces any chat state with s. An unknown s clears it.
func (m *Message) SetChatState(s string) {
	m.Active, m.Composing, m.Paused, m.Inactive, m.Gone = nil, nil, nil, nil, nil
	switch s {
	case StateActive:
		m.Active = &Marker{}
	case StateComposing:
		m.Composing = &Marker{}
	case StatePaused:
		m.Paused = &Marker{}
	case StateInactive:
		m.Inactive = &Marker{}
	case StateGone:
		m.Gone = &Marker{}
	}
}

// Retract references a previously sent message (XEP-0424).
type Retract struct {
	ID string `xml:"id,attr"`
}

// Fallback marks the body as a fallback for the named namespace (XEP-0428).
type Fallback struct {
	For string `xml:"for,attr,omitempty"`
}

// OOB carries an out-of-band URL (XEP-0066).
type OOB struct {
	URL  string `xml:"url"`
	Desc string `xml:"desc,omitempty"`
}

// Carbon wraps a forwarded copy from another resource of the same account.
type Carbon struct {
	Forwarded Forwarded `xml:"urn:xmpp:forward:0 forwarded"`
}

// Forwarded holds the original message (XEP-0297).
type Forwarded struct {
	Delay   *Delay   `xml:"urn:xmpp:delay delay"`
	Message *Message `xml:"message"`
}

// Delay records when the forwarded stanza was originally sent.
type Delay struct {
	Stamp string `xml:"stamp,attr"`
}

// Presence is a <presence/> stanza.
type Presence struct {
	XMLName xml.Name `xml:"presence"`
	ID      string   `xml:"id,attr,omitempty"`
	From    string   `xml:"from,attr,omitempty"`
	To      string   `xml:"to,attr,omitempty"`
	Type    string   `xml:"type,attr,omitempty"`
	Show    string   `xml:"show,omitempty"`
	Status  string   `xml:"status,omitempty"`
}

// IQ is an <iq/> stanza. Exactly one payload field is set.
type IQ struct {
	XMLName xml.Name `xml:"iq"`
	ID      string   `xml:"id,attr"`
	From    string   `xml:"from,attr,omitempty"`
	To      string   `xml:"to,attr,omitempty"`
	Type    string   `xml:"type,attr"`

	Bind       *Bind        `xml:"urn:ietf:params:xml:ns:xmpp-bind bind"`
	Ping       *Marker      `xml:"urn:xmpp:ping ping"`
	Carbons    *Marker      `xml:"urn:xmpp:carbons:2 enable"`
	Register   *Register    `xml:"jabber:iq:register query"`
	DiscoItems *DiscoItems  `xml:"http://jabber.org/protocol/disco#items query"`
	Command    *AdHoc       `xml:"http://jabber.org/protocol/commands command"`
	Error      *StanzaError `xml:"error"`
}

// IQ types.
const (
	IQGet    = "get"
	IQSet    = "set"
	IQResult = "result"
	IQError  = "error"
)

// Bind is the resource binding payload.
type Bind struct {
	Resource string `xml:"resource,omitempty"`
	JID      string `xml:"jid,omitempty"`
}

// Register is the in-band registration payload (XEP-0077).
type Register struct {
	Username   string  `xml:"username,omitempty"`
	Password   string  `xml:"password,omitempty"`
	Registered *Marker `xml:"registered"`
}

// DiscoItems lists items of an entity (XEP-0030).
type DiscoItems struct {
	Node  string      `xml:"node,attr,omitempty"`
	Items []DiscoItem `xml:"item"`
}

// DiscoItem is one discovered item.
type DiscoItem struct {
	JID  string `xml:"jid,attr"`
	Node string `xml:"node,attr,omitempty"`
	Name string `xml:"name,attr,omitempty"`
}

// AdHoc is an ad-hoc command payload (XEP-0050).
type AdHoc struct {
	Node      string `xml:"node,attr"`
	SessionID string `xml:"sessionid,attr,omitempty"`
	Action    string `xml:"action,attr,omitempty"`
	Status    string `xml:"status,attr,omitempty"`
	Note      *Note  `xml:"note"`
	Form      *Form  `xml:"jabber:x:data x"`
}

// Ad-hoc command statuses and actions.
const (
	CommandExecuting = "executing"
	CommandCompleted = "completed"
	CommandCanceled  = "canceled"

	ActionExecute  = "execute"
	ActionComplete = "complete"
	ActionCancel   = "cancel"
)

// Note is a human-readable command note.
type Note struct {
	Type string `xml:"type,attr,omitempty"`
	Text string `xml:",chardata"`
}

// Form is a data form (XEP-0004).
type Form struct {
	Type         string  `xml:"type,attr"`
	Title        string  `xml:"title,omitempty"`
	Instructions string  `xml:"instructions,omitempty"`
	Fields       []Field `xml:"field"`
}

// Field returns the field named v, or nil.
func (f *Form) Field(v string) *Field {
	if f == nil {
		return nil
	}
	for i := range f.Fields {
		if f.Fields[i].Var == v {
			return &f.Fields[i]
		}
	}
	return nil
}

// Field is one data form field.
type Field struct {
	Var      string        `xml:"var,attr,omitempty"`
	Type     string        `xml:"type,attr,omitempty"`
	Label    string        `xml:"label,attr,omitempty"`
	Required *Marker       `xml:"required"`
	Values   []string      `xml:"value"`
	Options  []FieldOption `xml:"option"`
}

// Value returns the first value, or "".
func (f *Field) Value() string {
	if len(f.Values) == 0 {
		return ""
	}
	return f.Values[0]
}

// FieldOption is a choice in a list field.
type FieldOption struct {
	Label string `xml:"label,attr,omitempty"`
	Value string `xml:"value"`
}

// StanzaError is an <error/> child of a stanza.
type StanzaError struct {
	Type       string    `xml:"type,attr,omitempty"`
	Text       string    `xml:"urn:ietf:params:xml:ns:xmpp-stanzas text,omitempty"`
	Conditions []AnyElem `xml:",any"`
}

// Condition returns the defined condition name, e.g. "item-not-found".
func (e *StanzaError) Condition() string {
	for _, c := range e.Conditions {
		if c.XMLName.Local != "text" {
			return c.XMLName.Local
		}
	}
	return "undefined-condition"
}

func (e *StanzaError) Error() string {
	if e.Text != "" {
		return e.Condition() + ": " + e.Text
	}
	return e.Condition()
}

// AnyElem captures an element by name only.
type AnyElem struct {
	XMLName xml.Name
}

// Open starts a stream over WebSocket (RFC 7395).
type Open struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:xmpp-framing open"`
	To      string   `xml:"to,attr,omitempty"`
	From    string   `xml:"from,attr,omitempty"`
	ID      string   `xml:"id,attr,omitempty"`
	Version string   `xml:"version,attr,omitempty"`
}

// Close ends a stream over WebSocket.
type Close struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:xmpp-framing close"`
}

// Features advertises stream features.
type Features struct {
	XMLName    xml.Name    `xml:"http://etherx.jabber.org/streams features"`
	Mechanisms *Mechanisms `xml:"urn:ietf:params:xml:ns:xmpp-sasl mechanisms"`
	Bind       *Marker     `xml:"urn:ietf:params:xml:ns:xmpp-bind bind"`
	Register   *Marker     `xml:"http://jabber.org/features/iq-register register"`
}

// Mechanisms lists offered SASL mechanisms.
type Mechanisms struct {
	List []string `xml:"mechanism"`
}

// Has reports whether mechanism name is offered.
func (m *Mechanisms) Has(name string) bool {
	if m == nil {
		return false
	}
	for _, s := range m.List {
		if s == name {
			return true
		}
	}
	return false
}

// SASLAuth starts SASL authentication.
type SASLAuth struct {
	XMLName   xml.Name `xml:"urn:ietf:params:xml:ns:xmpp-sasl auth"`
	Mechanism string   `xml:"mechanism,attr"`
	Value     string   `xml:",chardata"`
}

// SASLSuccess reports successful authentication.
type SASLSuccess struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:xmpp-sasl success"`
}

// SASLFailure reports failed authentication.
type SASLFailure struct {
	XMLName    xml.Name  `xml:"urn:ietf:params:xml:ns:xmpp-sasl failure"`
	Text       string    `xml:"text,omitempty"`
	Conditions []AnyElem `xml:",any"`
}

// Condition returns the failure condition, e.g. "not-authorized".
func (f *SASLFailure) Condition() string {
	for _, c := range f.Conditions {
		if c.XMLName.Local != "text" {
			return c.XMLName.Local
		}
	}
	return "failure"
}

// StreamError is a fatal stream-level error.
type StreamError struct {
	XMLName    xml.Name  `xml:"http://etherx.jabber.org/streams error"`
	Text       string    `xml:"urn:ietf:params:xml:ns:xmpp-streams text,omitempty"`
	Conditions []AnyElem `xml:",any"`
}

// Condition returns the stream error condition.
func (e *StreamError) Condition() string {
	for _, c := range e.Conditions {
		if c.XMLName.Local != "text" {
			return c.XMLName.Local
		}
	}
	return "undefined-condition"
}
