package xmpp

import (
	"errors"
	"strings"
	"testing"
)

func TestDecodeCarbonSent(t *testing.T) {
	frame := `<message xmlns="jabber:client" from="alice@example.org" to="alice@example.org/berry">
		<sent xmlns="urn:xmpp:carbons:2">
			<forwarded xmlns="urn:xmpp:forward:0">
				<message xmlns="jabber:client" id="p-42" from="alice@example.org/phone" to="bob@example.org/desk" type="chat">
					<body>sent from phone</body>
				</message>
			</forwarded>
		</sent>
	</message>`

	v, err := Decode([]byte(frame))
	if err != nil {
		t.Fatal(err)
	}
	m, ok := v.(*Message)
	if !ok {
		t.Fatalf("decoded %T, want *Message", v)
	}
	if m.CarbonSent == nil || m.CarbonSent.Forwarded.Message == nil {
		t.Fatal("carbon sent payload missing")
	}
	inner := m.CarbonSent.Forwarded.Message
	if inner.ID != "p-42" || inner.To != "bob@example.org/desk" || inner.Body != "sent from phone" {
		t.Errorf("inner = %+v", inner)
	}
	if m.CarbonReceived != nil {
		t.Error("CarbonReceived should be nil")
	}
}

func TestDecodeRetractAndChatState(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		check func(t *testing.T, m *Message)
	}{
		{
			name: "retract",
			frame: `<message xmlns="jabber:client" from="bob@example.org/x" type="chat">
				<retract xmlns="urn:xmpp:message-retract:1" id="orig-1"/>
				<fallback xmlns="urn:xmpp:fallback:0" for="urn:xmpp:message-retract:1"/>
				<body>This message was deleted</body>
				<store xmlns="urn:xmpp:hints"/>
			</message>`,
			check: func(t *testing.T, m *Message) {
				if m.Retract == nil || m.Retract.ID != "orig-1" {
					t.Errorf("retract = %+v", m.Retract)
				}
				if m.Fallback == nil || m.Fallback.For != NSRetract {
					t.Errorf("fallback = %+v", m.Fallback)
				}
				if m.Store == nil {
					t.Error("store hint missing")
				}
			},
		},
		{
			name:  "composing",
			frame: `<message xmlns="jabber:client" from="bob@example.org/x"><composing xmlns="http://jabber.org/protocol/chatstates"/></message>`,
			check: func(t *testing.T, m *Message) {
				if m.ChatState() != StateComposing {
					t.Errorf("chat state = %q", m.ChatState())
				}
			},
		},
		{
			name:  "paused",
			frame: `<message xmlns="jabber:client" from="bob@example.org/x"><paused xmlns="http://jabber.org/protocol/chatstates"/></message>`,
			check: func(t *testing.T, m *Message) {
				if m.ChatState() != StatePaused {
					t.Errorf("chat state = %q", m.ChatState())
				}
			},
		},
		{
			name: "oob",
			frame: `<message xmlns="jabber:client" from="bob@example.org/x"><body>https://u.example/f.jpg</body>
				<x xmlns="jabber:x:oob"><url>https://u.example/f.jpg</url><desc>f.jpg</desc></x></message>`,
			check: func(t *testing.T, m *Message) {
				if m.OOB == nil || m.OOB.URL != "https://u.example/f.jpg" || m.OOB.Desc != "f.jpg" {
					t.Errorf("oob = %+v", m.OOB)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Decode([]byte(tt.frame))
			if err != nil {
				t.Fatal(err)
			}
			tt.check(t, v.(*Message))
		})
	}
}

func TestDecodeStreamElements(t *testing.T) {
	features := `<stream:features xmlns:stream="http://etherx.jabber.org/streams">
		<mechanisms xmlns="urn:ietf:params:xml:ns:xmpp-sasl"><mechanism>SCRAM-SHA-1</mechanism><mechanism>PLAIN</mechanism></mechanisms>
		<register xmlns="http://jabber.org/features/iq-register"/>
	</stream:features>`
	v, err := Decode([]byte(features))
	if err != nil {
		t.Fatal(err)
	}
	f, ok := v.(*Features)
	if !ok {
		t.Fatalf("decoded %T, want *Features", v)
	}
	if !f.Mechanisms.Has("PLAIN") || f.Register == nil || f.Bind != nil {
		t.Errorf("features = %+v", f)
	}

	v, err = Decode([]byte(`<failure xmlns="urn:ietf:params:xml:ns:xmpp-sasl"><not-authorized/></failure>`))
	if err != nil {
		t.Fatal(err)
	}
	if got := v.(*SASLFailure).Condition(); got != "not-authorized" {
		t.Errorf("condition = %q", got)
	}

	if _, err := Decode([]byte(`<starttls xmlns="urn:ietf:params:xml:ns:xmpp-tls"/>`)); !errors.Is(err, ErrUnknownElement) {
		t.Errorf("unknown element err = %v", err)
	}
	if _, err := Decode([]byte(`<message><body>`)); err == nil {
		t.Error("truncated frame should fail")
	}
}

func TestEncodeMessage(t *testing.T) {
	m := &Message{
		ID:       "r-1",
		To:       "bob@example.org",
		Type:     "chat",
		Body:     "This message was deleted",
		Retract:  &Retract{ID: "orig-1"},
		Fallback: &Fallback{For: NSRetract},
		Store:    &Marker{},
	}
	b, err := Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	out := string(b)
	for _, want := range []string{
		`<message xmlns="jabber:client"`,
		`id="r-1"`,
		`xmlns="urn:xmpp:message-retract:1"`,
		`id="orig-1"`,
		`for="urn:xmpp:message-retract:1"`,
		`xmlns="urn:xmpp:hints"`,
		`<body>This message was deleted</body>`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("encoded message missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "oob") || strings.Contains(out, "chatstates") {
		t.Errorf("unset extensions were encoded:\n%s", out)
	}

	back, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if got := back.(*Message); got.Retract == nil || got.Retract.ID != "orig-1" {
		t.Errorf("round trip retract = %+v", got.Retract)
	}
}

func TestEncodeStanzaNamespace(t *testing.T) {
	for _, tc := range []struct {
		name string
		v    any
		want string
	}{
		{"message", &Message{To: "bob@example.org", Body: "hi"}, `<message xmlns="jabber:client"`},
		{"iq", &IQ{ID: "p1", Type: "get", Ping: &Marker{}}, `<iq xmlns="jabber:client"`},
		{"presence", &Presence{Show: "away"}, `<presence xmlns="jabber:client"`},
		{"open", &Open{To: "example.org"}, `<open xmlns="urn:ietf:params:xml:ns:xmpp-framing"`},
	} {
		b, err := Encode(tc.v)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if !strings.HasPrefix(string(b), tc.want) {
			t.Errorf("%s: encoded %s, want prefix %s", tc.name, b, tc.want)
		}
	}
}

func TestDecodeMessageWithoutNamespace(t *testing.T) {
	v, err := Decode([]byte(`<message from="bob@example.org" id="m1"><body>hi</body></message>`))
	if err != nil {
		t.Fatal(err)
	}
	m, ok := v.(*Message)
	if !ok || m.Body != "hi" || m.ID != "m1" {
		t.Errorf("Decode = %#v", v)
	}
}

func TestDecodeFormListOptions(t *testing.T) {
	frame := `<iq xmlns="jabber:client" type="result" id="c1" from="whatsapp.localhost">
<command xmlns="http://jabber.org/protocol/commands" node="settings" sessionid="s1" status="executing">
<x xmlns="jabber:x:data" type="form">
<field var="lang" type="list-single" label="Language"><required/><value>en</value>
<option label="English"><value>en</value></option>
<option label="Portuguese"><value>pt</value></option>
</field>
</x>
</command>
</iq>`
	v, err := Decode([]byte(frame))
	if err != nil {
		t.Fatal(err)
	}
	iq := v.(*IQ)
	if iq.Command == nil || iq.Command.Form == nil {
		t.Fatalf("command = %+v", iq.Command)
	}
	f := iq.Command.Form.Field("lang")
	if f == nil || f.Required == nil || f.Value() != "en" {
		t.Fatalf("field = %+v", f)
	}
	want := []FieldOption{{Label: "English", Value: "en"}, {Label: "Portuguese", Value: "pt"}}
	if len(f.Options) != len(want) {
		t.Fatalf("options = %+v", f.Options)
	}
	for i := range want {
		if f.Options[i] != want[i] {
			t.Errorf("option %d = %+v, want %+v", i, f.Options[i], want[i])
		}
	}
}

func TestSetChatState(t *testing.T) {
	m := &Message{}
	m.SetChatState(StateComposing)
	if m.ChatState() != StateComposing {
		t.Fatalf("state = %q", m.ChatState())
	}
	m.SetChatState(StatePaused)
	if m.Composing != nil || m.ChatState() != StatePaused {
		t.Errorf("state = %q, composing = %v", m.ChatState(), m.Composing)
	}
	m.SetChatState("")
	if m.ChatState() != "" {
		t.Errorf("state = %q after clear", m.ChatState())
	}
}

func TestSubmitFormSorted(t *testing.T) {
	f := SubmitForm(map[string][]string{"b": {"2"}, "a": {"1"}})
	if f.Type != "submit" || len(f.Fields) != 2 || f.Fields[0].Var != "a" || f.Fields[1].Value() != "2" {
		t.Errorf("form = %+v", f)
	}
	if f.Field("b") == nil || f.Field("missing") != nil {
		t.Error("Field lookup mismatch")
	}
}
