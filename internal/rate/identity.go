package rate

import (
	"net"
	"slices"
	"strings"
)

// Identity describes the caller of one admission check. Key derivation uses
// the first non-empty of Override, Subject, DeviceID, SessionID and
// RemoteAddr.
type Identity struct {
	// Route scopes the budget, for example "refresh" or "admin.users".
	Route string
	// Override replaces identity derivation for routes keyed on something
	// else, such as an API key or a login name.
	Override   string
	Subject    string
	DeviceID   string
	SessionID  string
	RemoteAddr string
	Scopes     []string
	// Admin marks administrative routes, which never key on RemoteAddr.
	Admin bool
}

// Key returns the budget key for id.
func (id Identity) Key() (string, error) {
	var kind, value string
	switch {
	case id.Override != "":
		kind, value = "o", id.Override
	case id.Subject != "":
		kind, value = "u", id.Subject
	case id.DeviceID != "":
		kind, value = "d", id.DeviceID
	case id.SessionID != "":
		kind, value = "s", id.SessionID
	case id.RemoteAddr != "" && !id.Admin:
		kind, value = "ip", hostOnly(id.RemoteAddr)
	default:
		return "", ErrIdentityRequired
	}

	route := id.Route
	if route == "" {
		route = "default"
	}
	return "rl:" + route + ":" + kind + ":" + value, nil
}

// HasScope reports whether scope is carried by id.
func (id Identity) HasScope(scope string) bool {
	return scope != "" && slices.Contains(id.Scopes, scope)
}

func hostOnly(addr string) string {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
