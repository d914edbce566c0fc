package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/MrEthical07/tokenguard"
)

// Route is one entry of the route table.
type Route struct {
	// Name identifies the route when wiring handlers.
	Name string
	Mode Mode
	// RateRoute scopes the admission budget. Empty disables limiting.
	RateRoute string
	// Admin routes never key their budget on the caller's address.
	Admin bool
	// Identify overrides the default rate identity.
	Identify IdentityFunc
}

// Table resolves every route's middleware chain once, at construction.
type Table struct {
	engine *tokenguard.Engine
	chains map[string]func(http.Handler) http.Handler
	routes map[string]Route
}

// NewTable validates routes and builds their chains. A TokenAndCSRF route
// without a verifier, a duplicate name or an unknown mode is an error.
func NewTable(engine *tokenguard.Engine, csrf CSRFVerifier, routes ...Route) (*Table, error) {
	if engine == nil {
		return nil, errors.New("middleware: nil engine")
	}
	t := &Table{
		engine: engine,
		chains: make(map[string]func(http.Handler) http.Handler, len(routes)),
		routes: make(map[string]Route, len(routes)),
	}
	for _, rt := range routes {
		if rt.Name == "" {
			return nil, errors.New("middleware: route without name")
		}
		if _, dup := t.routes[rt.Name]; dup {
			return nil, fmt.Errorf("middleware: duplicate route %q", rt.Name)
		}
		switch rt.Mode {
		case Public, TokenOnly:
		case TokenAndCSRF:
			if csrf == nil {
				return nil, fmt.Errorf("middleware: route %q needs a CSRFVerifier", rt.Name)
			}
		default:
			return nil, fmt.Errorf("middleware: route %q has unknown mode %d", rt.Name, rt.Mode)
		}

		guard := Guard(engine, rt.Mode, csrf)
		var limit func(http.Handler) http.Handler
		if rt.RateRoute != "" {
			limit = RateLimit(engine, rt.RateRoute, rt.Admin, rt.Identify)
		}
		t.chains[rt.Name] = func(h http.Handler) http.Handler {
			if limit != nil {
				h = limit(h)
			}
			return guard(h)
		}
		t.routes[rt.Name] = rt
	}
	return t, nil
}

// Handler wraps next with the chain of the named route.
func (t *Table) Handler(name string, next http.Handler) (http.Handler, error) {
	chain, ok := t.chains[name]
	if !ok {
		return nil, fmt.Errorf("middleware: unknown route %q", name)
	}
	return chain(next), nil
}

// MustHandler is Handler for static wiring; it panics on an unknown name.
func (t *Table) MustHandler(name string, next http.Handler) http.Handler {
	h, err := t.Handler(name, next)
	if err != nil {
		panic(err)
	}
	return h
}

// Route returns the declared entry for name.
func (t *Table) Route(name string) (Route, bool) {
	rt, ok := t.routes[name]
	return rt, ok
}
