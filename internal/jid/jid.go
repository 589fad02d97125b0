// Package jid canonicalizes XMPP addresses so traffic from every resource of
// a peer collapses into one conversation.
package jid

import "strings"

// Normalize returns the bare form of address: the resource suffix (everything
// from the first '/') and surrounding whitespace are removed.
func Normalize(address string) string {
	address = strings.TrimSpace(address)
	if i := strings.IndexByte(address, '/'); i >= 0 {
		address = address[:i]
	}
	return address
}

// Split breaks address into localpart, domain and resource. Missing parts
// are returned empty.
func Split(address string) (local, domain, resource string) {
	address = strings.TrimSpace(address)
	if i := strings.IndexByte(address, '/'); i >= 0 {
		resource = address[i+1:]
		address = address[:i]
	}
	if i := strings.IndexByte(address, '@'); i >= 0 {
		return address[:i], address[i+1:], resource
	}
	return "", address, resource
}

// Local returns the localpart of address, or the bare address when it has
// none (e.g. a gateway domain). Used as a display name fallback.
func Local(address string) string {
	local, domain, _ := Split(address)
	if local != "" {
		return local
	}
	return domain
}

// Same reports whether a and b name the same conversation partner.
func Same(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	return na != "" && na == nb
}
