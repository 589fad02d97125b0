package xmpp

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
)

// ErrUnknownElement is returned by Decode for top-level elements berry
// does not handle.
var ErrUnknownElement = errors.New("xmpp: unknown top-level element")

// Decode parses one WebSocket frame into its typed element: *Message,
// *IQ, *Presence, *Open, *Close, *Features, *SASLSuccess, *SASLFailure or
// *StreamError.
func Decode(frame []byte) (any, error) {
	d := xml.NewDecoder(bytes.NewReader(frame))
	for {
		tok, err := d.Token()
		if err == io.EOF {
			return nil, fmt.Errorf("decode: empty frame")
		}
		if err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		var v any
		switch start.Name.Local {
		case "message":
			v = &Message{}
		case "iq":
			v = &IQ{}
		case "presence":
			v = &Presence{}
		case "open":
			v = &Open{}
		case "close":
			v = &Close{}
		case "features":
			v = &Features{}
		case "success":
			v = &SASLSuccess{}
		case "failure":
			v = &SASLFailure{}
		case "error":
			v = &StreamError{}
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownElement, start.Name.Local)
		}
		if err := d.DecodeElement(v, &start); err != nil {
			return nil, fmt.Errorf("decode %s: %w", start.Name.Local, err)
		}
		return v, nil
	}
}

// Encode marshals an element for one WebSocket frame. Stanzas are framed
// standalone, so each carries the jabber:client namespace itself.
func Encode(v any) ([]byte, error) {
	var local string
	switch v.(type) {
	case *Message:
		local = "message"
	case *IQ:
		local = "iq"
	case *Presence:
		local = "presence"
	}

	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	var err error
	if local != "" {
		// An explicit start element overrides the local-only XMLName tag.
		err = enc.EncodeElement(v, xml.StartElement{Name: xml.Name{Space: NSClient, Local: local}})
	} else {
		err = enc.Encode(v)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

func xmlName(space, local string) xml.Name {
	return xml.Name{Space: space, Local: local}
}
