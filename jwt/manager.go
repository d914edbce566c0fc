package jwt

import (
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Config configures a Manager.
type Config struct {
	Ring       *KeyRing
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	Audience   string
	// Leeway is the clock-skew tolerance applied to exp, nbf and iat.
	Leeway time.Duration
	// MaxFutureIAT rejects tokens issued further ahead than this. Zero selects
	// 10 minutes.
	MaxFutureIAT time.Duration
	// Resolver canonicalizes subjects. Nil selects CanonicalResolver with
	// DefaultSubjectNamespace.
	Resolver IdentityResolver
	Now      func() time.Time
}

// Manager encodes and decodes tokens over a rotating key ring. It is safe
// for concurrent use; Rotate swaps the ring without blocking readers.
type Manager struct {
	config   Config
	ring     atomic.Pointer[KeyRing]
	resolver IdentityResolver
	now      func() time.Time
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Ring == nil {
		return nil, ErrEmptyKeyRing
	}
	if cfg.AccessTTL < time.Second || cfg.RefreshTTL < time.Second {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}

	m := &Manager{
		config:   cfg,
		resolver: cfg.Resolver,
		now:      cfg.Now,
	}
	if m.resolver == nil {
		m.resolver = CanonicalResolver{Namespace: DefaultSubjectNamespace}
	}
	if m.now == nil {
		m.now = time.Now
	}
	m.ring.Store(cfg.Ring)
	return m, nil
}

// Rotate installs ring. Tokens signed by keys still present in ring keep
// verifying.
func (m *Manager) Rotate(ring *KeyRing) error {
	if ring == nil {
		return ErrEmptyKeyRing
	}
	m.ring.Store(ring)
	return nil
}

// Ring returns the active key ring.
func (m *Manager) Ring() *KeyRing {
	return m.ring.Load()
}

// ResolveSubject canonicalizes identifier with the configured resolver.
func (m *Manager) ResolveSubject(identifier string) (string, error) {
	sub, err := m.resolver.Resolve(identifier)
	if err != nil {
		return "", err
	}
	if sub == "" {
		return "", ErrEmptySubject
	}
	return sub, nil
}

// TTL resolves a token lifetime: an explicit positive ttl wins over the
// per-type default.
func (m *Manager) TTL(t TokenType, explicit time.Duration) time.Duration {
	if explicit > 0 {
		return explicit
	}
	if t == TypeRefresh {
		return m.config.RefreshTTL
	}
	return m.config.AccessTTL
}

// Encode signs c with the primary key. Subject is canonicalized, iat/exp are
// derived from the clock and ttl, and a fresh token id is assigned. The
// returned Claims is what the token carries.
func (m *Manager) Encode(c Claims, ttl time.Duration) (string, *Claims, error) {
	if !c.Type.valid() {
		return "", nil, fmt.Errorf("%w: %q", ErrInvalidTokenType, c.Type)
	}
	sub, err := m.ResolveSubject(c.Subject)
	if err != nil {
		return "", nil, err
	}
	ttl = m.TTL(c.Type, ttl)
	if ttl < time.Second {
		return "", nil, ErrInvalidTTL
	}

	ring := m.ring.Load()
	key := ring.primary()
	iat := m.now().Truncate(time.Second)

	wc := wireClaims{
		Type:  c.Type,
		SID:   c.SessionID,
		Scope: slices.Clone(c.Scope),
		Extra: cloneExtra(c.Extra),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(iat.Add(ttl)),
			Issuer:    m.config.Issuer,
		},
	}
	if m.config.Audience != "" {
		wc.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	token := jwt.NewWithClaims(key.method, wc)
	token.Header["kid"] = key.id
	signed, err := token.SignedString(key.sign)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, wc.toClaims(key.id), nil
}

// Decode verifies token and returns its claims. Failures are *TokenError.
//
// A kid found in the ring selects that key alone. A missing or unknown kid
// tries every ring key of the token's algorithm in ring order.
func (m *Manager) Decode(token string) (*Claims, error) {
	ring := m.ring.Load()
	parser := m.parser(ring)

	unverified, _, err := parser.ParseUnverified(token, &wireClaims{})
	if err != nil {
		return nil, tokenErr(Malformed, err)
	}
	alg := unverified.Method.Alg()
	kid, _ := unverified.Header["kid"].(string)
	if !slices.Contains(ring.methods(), alg) {
		return nil, tokenErr(UnknownKey, fmt.Errorf("no key for algorithm %s", alg))
	}

	candidates, kidKnown := ring.candidates(alg, kid)
	if len(candidates) == 0 {
		if kidKnown {
			return nil, tokenErr(SignatureInvalid, fmt.Errorf("key %q does not use %s", kid, alg))
		}
		return nil, tokenErr(UnknownKey, fmt.Errorf("no key for algorithm %s", alg))
	}

	var lastErr error
	for _, key := range candidates {
		wc := &wireClaims{}
		parsed, err := parser.ParseWithClaims(token, wc, func(*jwt.Token) (any, error) {
			return key.verify, nil
		})
		if err == nil && parsed.Valid {
			if err := m.checkClaims(wc); err != nil {
				return nil, err
			}
			return wc.toClaims(key.id), nil
		}
		if err == nil {
			err = jwt.ErrTokenInvalidClaims
		}
		if !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, classify(err)
		}
		lastErr = err
	}

	if kid != "" && !kidKnown {
		return nil, tokenErr(UnknownKey, fmt.Errorf("kid %q not in ring: %w", kid, lastErr))
	}
	return nil, tokenErr(SignatureInvalid, lastErr)
}

// parser leaves iat to checkClaims, where MaxFutureIAT bounds it instead of
// Leeway.
func (m *Manager) parser(ring *KeyRing) *jwt.Parser {
	options := []jwt.ParserOption{
		jwt.WithValidMethods(ring.methods()),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}
	if m.config.Audience != "" {
		options = append(options, jwt.WithAudience(m.config.Audience))
	}
	return jwt.NewParser(options...)
}

func (m *Manager) checkClaims(wc *wireClaims) error {
	if !wc.Type.valid() {
		return tokenErr(Malformed, fmt.Errorf("%w: %q", ErrInvalidTokenType, wc.Type))
	}
	if wc.Subject == "" {
		return tokenErr(Malformed, ErrEmptySubject)
	}
	if wc.Type == TypeRefresh && wc.ID == "" {
		return tokenErr(Malformed, errors.New("refresh token without jti"))
	}
	if wc.IssuedAt == nil || !wc.ExpiresAt.After(wc.IssuedAt.Time) {
		return tokenErr(Malformed, errors.New("exp not after iat"))
	}
	if wc.IssuedAt.After(m.now().Add(m.config.MaxFutureIAT)) {
		return tokenErr(Malformed, errors.New("token iat too far in the future"))
	}
	return nil
}

func classify(err error) *TokenError {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return tokenErr(Expired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return tokenErr(SignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return tokenErr(UnknownKey, err)
	default:
		return tokenErr(Malformed, err)
	}
}
