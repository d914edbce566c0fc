package jwt

import (
	"maps"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType distinguishes access from refresh tokens.
type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
)

func (t TokenType) valid() bool {
	return t == TypeAccess || t == TypeRefresh
}

// Claims is the decoded view of a token.
type Claims struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Type      TokenType
	TokenID   string
	// SessionID binds the token to a session and its refresh family.
	SessionID string
	Scope     []string
	Extra     map[string]any
	// KeyID is the ring key that signed (on Encode) or verified (on Decode)
	// the token.
	KeyID string
}

// HasScope reports whether scope is granted.
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scope, scope)
}

type wireClaims struct {
	Type  TokenType      `json:"type"`
	SID   string         `json:"sid,omitempty"`
	Scope []string       `json:"scope,omitempty"`
	Extra map[string]any `json:"ext,omitempty"`
	jwt.RegisteredClaims
}

func (w *wireClaims) toClaims(keyID string) *Claims {
	c := &Claims{
		Subject:   w.Subject,
		Type:      w.Type,
		TokenID:   w.ID,
		SessionID: w.SID,
		Scope:     w.Scope,
		Extra:     w.Extra,
		KeyID:     keyID,
	}
	if w.IssuedAt != nil {
		c.IssuedAt = w.IssuedAt.Time
	}
	if w.ExpiresAt != nil {
		c.ExpiresAt = w.ExpiresAt.Time
	}
	return c
}

func cloneExtra(extra map[string]any) map[string]any {
	if len(extra) == 0 {
		return nil
	}
	return maps.Clone(extra)
}
