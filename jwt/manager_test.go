package jwt

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

var baseTime = time.Unix(1_800_000_000, 0)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func secret(b byte) []byte { return bytes.Repeat([]byte{b}, 32) }

func hsKey(id string, b byte) Key { return Key{ID: id, Algorithm: AlgHS256, Material: secret(b)} }

func edKey(id string, priv ed25519.PrivateKey) Key {
	return Key{ID: id, Algorithm: AlgEd25519, Material: priv}
}

func newRing(t *testing.T, keys ...Key) *KeyRing {
	t.Helper()
	ring, err := NewKeyRing(keys...)
	if err != nil {
		t.Fatalf("new key ring: %v", err)
	}
	return ring
}

func newTestManager(t *testing.T, ring *KeyRing, clock *testClock, mutate func(*Config)) *Manager {
	t.Helper()
	cfg := Config{
		Ring:       ring,
		AccessTTL:  5 * time.Minute,
		RefreshTTL: 24 * time.Hour,
		Now:        clock.Now,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func signRaw(t *testing.T, method gjwt.SigningMethod, key any, kid string, claims gjwt.MapClaims) string {
	t.Helper()
	tok := gjwt.NewWithClaims(method, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func requireKind(t *testing.T, err error, want FailureKind) {
	t.Helper()
	got, ok := KindOf(err)
	if !ok {
		t.Fatalf("expected *TokenError of kind %s, got %v", want, err)
	}
	if got != want {
		t.Fatalf("expected kind %s, got %s (%v)", want, got, err)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	clock := &testClock{now: baseTime}
	m := newTestManager(t, newRing(t, hsKey("k1", 'a')), clock, nil)

	token, issued, err := m.Encode(Claims{
		Subject:   "alice",
		Type:      TypeRefresh,
		SessionID: "s1",
		Scope:     []string{"read", "write"},
		Extra:     map[string]any{"device": "ios"},
	}, 0)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := m.Decode(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	wantSub, _ := CanonicalResolver{}.Resolve("alice")
	if got.Subject != wantSub || issued.Subject != wantSub {
		t.Fatalf("expected canonical subject %s, got %s / %s", wantSub, got.Subject, issued.Subject)
	}
	if got.Type != TypeRefresh || got.SessionID != "s1" {
		t.Fatalf("unexpected type/sid: %s %s", got.Type, got.SessionID)
	}
	if got.TokenID == "" || got.TokenID != issued.TokenID {
		t.Fatalf("expected jti %q, got %q", issued.TokenID, got.TokenID)
	}
	if !got.IssuedAt.Equal(baseTime) || !got.ExpiresAt.Equal(baseTime.Add(24*time.Hour)) {
		t.Fatalf("unexpected iat/exp: %v %v", got.IssuedAt, got.ExpiresAt)
	}
	if got.Extra["device"] != "ios" {
		t.Fatalf("expected extra to survive, got %v", got.Extra)
	}
	if !got.HasScope("write") || got.HasScope("admin") {
		t.Fatalf("unexpected scope %v", got.Scope)
	}
	if got.KeyID != "k1" {
		t.Fatalf("expected verifying key k1, got %q", got.KeyID)
	}
}

func TestEncodeAssignsFreshTokenIDs(t *testing.T) {
	m := newTestManager(t, newRing(t, hsKey("k1", 'a')), &testClock{now: baseTime}, nil)

	_, a, err := m.Encode(Claims{Subject: "u", Type: TypeAccess, TokenID: "caller-chosen"}, 0)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, b, err := m.Encode(Claims{Subject: "u", Type: TypeAccess}, 0)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if a.TokenID == "" || a.TokenID == "caller-chosen" || a.TokenID == b.TokenID {
		t.Fatalf("expected distinct generated ids, got %q and %q", a.TokenID, b.TokenID)
	}
}

func TestEncodeTTLPrecedence(t *testing.T) {
	m := newTestManager(t, newRing(t, hsKey("k1", 'a')), &testClock{now: baseTime}, nil)

	_, access, err := m.Encode(Claims{Subject: "u", Type: TypeAccess}, 0)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if d := access.ExpiresAt.Sub(access.IssuedAt); d != 5*time.Minute {
		t.Fatalf("expected access default ttl, got %v", d)
	}

	_, explicit, err := m.Encode(Claims{Subject: "u", Type: TypeAccess}, 90*time.Second)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if d := explicit.ExpiresAt.Sub(explicit.IssuedAt); d != 90*time.Second {
		t.Fatalf("expected explicit ttl, got %v", d)
	}

	if _, _, err := m.Encode(Claims{Subject: "u", Type: TypeAccess}, 500*time.Millisecond); !errors.Is(err, ErrInvalidTTL) {
		t.Fatalf("expected ErrInvalidTTL for sub-second ttl, got %v", err)
	}
}

func TestEncodeRejectsBadInput(t *testing.T) {
	m := newTestManager(t, newRing(t, hsKey("k1", 'a')), &testClock{now: baseTime}, nil)

	if _, _, err := m.Encode(Claims{Subject: "u", Type: "id"}, 0); !errors.Is(err, ErrInvalidTokenType) {
		t.Fatalf("expected ErrInvalidTokenType, got %v", err)
	}
	if _, _, err := m.Encode(Claims{Subject: "  ", Type: TypeAccess}, 0); !errors.Is(err, ErrEmptySubject) {
		t.Fatalf("expected ErrEmptySubject, got %v", err)
	}
}

func TestDecodeAfterKeyRotation(t *testing.T) {
	clock := &testClock{now: baseTime}
	m := newTestManager(t, newRing(t, hsKey("k1", 'a')), clock, nil)

	oldToken, _, err := m.Encode(Claims{Subject: "u", Type: TypeAccess}, 0)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if err := m.Rotate(newRing(t, hsKey("k2", 'b'), hsKey("k1", 'a'))); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	clock.Advance(time.Minute)

	got, err := m.Decode(oldToken)
	if err != nil {
		t.Fatalf("expected k1 token to verify after rotation: %v", err)
	}
	if got.KeyID != "k1" {
		t.Fatalf("expected k1 to verify, got %q", got.KeyID)
	}

	newToken, issued, err := m.Encode(Claims{Subject: "u", Type: TypeAccess}, 0)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if issued.KeyID != "k2" {
		t.Fatalf("expected new primary k2 to sign, got %q", issued.KeyID)
	}
	if _, err := m.Decode(newToken); err != nil {
		t.Fatalf("decode new token: %v", err)
	}

	if err := m.Rotate(newRing(t, hsKey("k2", 'b'))); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	_, err = m.Decode(oldToken)
	requireKind(t, err, UnknownKey)
}

func TestDecodeWithoutKidTriesEveryKey(t *testing.T) {
	clock := &testClock{now: baseTime}
	m := newTestManager(t, newRing(t, hsKey("k2", 'b'), hsKey("k1", 'a')), clock, nil)

	token := signRaw(t, gjwt.SigningMethodHS256, secret('a'), "", gjwt.MapClaims{
		"sub":  "u",
		"type": "access",
		"iat":  baseTime.Unix(),
		"exp":  baseTime.Add(time.Minute).Unix(),
	})
	got, err := m.Decode(token)
	if err != nil {
		t.Fatalf("expected kid-less token to verify: %v", err)
	}
	if got.KeyID != "k1" {
		t.Fatalf("expected k1 to verify, got %q", got.KeyID)
	}
}

func TestDecodeKnownKidWithWrongKey(t *testing.T) {
	m := newTestManager(t, newRing(t, hsKey("k1", 'a')), &testClock{now: baseTime}, nil)

	token := signRaw(t, gjwt.SigningMethodHS256, secret('z'), "k1", gjwt.MapClaims{
		"sub":  "u",
		"type": "access",
		"iat":  baseTime.Unix(),
		"exp":  baseTime.Add(time.Minute).Unix(),
	})
	_, err := m.Decode(token)
	requireKind(t, err, SignatureInvalid)
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected errors.Is(ErrSignatureInvalid), got %v", err)
	}
}

func TestDecodeRejectsForeignAlgorithm(t *testing.T) {
	m := newTestManager(t, newRing(t, hsKey("k1", 'a')), &testClock{now: baseTime}, nil)

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	token := signRaw(t, gjwt.SigningMethodEdDSA, priv, "k1", gjwt.MapClaims{
		"sub":  "u",
		"type": "access",
		"iat":  baseTime.Unix(),
		"exp":  baseTime.Add(time.Minute).Unix(),
	})
	_, err = m.Decode(token)
	requireKind(t, err, UnknownKey)
}

func TestDecodeLeewayAndExpiry(t *testing.T) {
	clock := &testClock{now: baseTime}
	m := newTestManager(t, newRing(t, hsKey("k1", 'a')), clock, func(c *Config) {
		c.Leeway = 30 * time.Second
	})

	token, _, err := m.Encode(Claims{Subject: "u", Type: TypeAccess}, time.Minute)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	clock.Advance(75 * time.Second)
	if _, err := m.Decode(token); err != nil {
		t.Fatalf("expected token within leeway to pass: %v", err)
	}

	clock.Advance(time.Minute)
	_, err = m.Decode(token)
	requireKind(t, err, Expired)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected errors.Is(ErrExpired), got %v", err)
	}
}

func TestDecodeFutureIssuedAt(t *testing.T) {
	m := newTestManager(t, newRing(t, hsKey("k1", 'a')), &testClock{now: baseTime}, func(c *Config) {
		c.Leeway = 30 * time.Second
	})
	sign := func(iat time.Time) string {
		return signRaw(t, gjwt.SigningMethodHS256, secret('a'), "k1", gjwt.MapClaims{
			"sub":  "u",
			"type": "access",
			"iat":  iat.Unix(),
			"exp":  iat.Add(time.Hour).Unix(),
		})
	}

	if _, err := m.Decode(sign(baseTime.Add(5 * time.Minute))); err != nil {
		t.Fatalf("expected iat 5m ahead to pass under a 10m bound: %v", err)
	}
	_, err := m.Decode(sign(baseTime.Add(11 * time.Minute)))
	requireKind(t, err, Malformed)

	strict := newTestManager(t, newRing(t, hsKey("k1", 'a')), &testClock{now: baseTime}, func(c *Config) {
		c.MaxFutureIAT = time.Minute
	})
	_, err = strict.Decode(sign(baseTime.Add(2 * time.Minute)))
	requireKind(t, err, Malformed)
}

func TestDecodeMalformed(t *testing.T) {
	m := newTestManager(t, newRing(t, hsKey("k1", 'a')), &testClock{now: baseTime}, nil)

	for _, token := range []string{"", "not.a.jwt", "a.b", "eyJhbGciOiJIUzI1NiJ9.!!!.sig"} {
		_, err := m.Decode(token)
		requireKind(t, err, Malformed)
	}

	noJTI := signRaw(t, gjwt.SigningMethodHS256, secret('a'), "k1", gjwt.MapClaims{
		"sub":  "u",
		"type": "refresh",
		"iat":  baseTime.Unix(),
		"exp":  baseTime.Add(time.Minute).Unix(),
	})
	_, err := m.Decode(noJTI)
	requireKind(t, err, Malformed)

	badType := signRaw(t, gjwt.SigningMethodHS256, secret('a'), "k1", gjwt.MapClaims{
		"sub":  "u",
		"type": "id",
		"iat":  baseTime.Unix(),
		"exp":  baseTime.Add(time.Minute).Unix(),
	})
	_, err = m.Decode(badType)
	requireKind(t, err, Malformed)

	noExp := signRaw(t, gjwt.SigningMethodHS256, secret('a'), "k1", gjwt.MapClaims{
		"sub":  "u",
		"type": "access",
		"iat":  baseTime.Unix(),
	})
	_, err = m.Decode(noExp)
	requireKind(t, err, Malformed)
}

func TestDecodeEd25519IssuerAudience(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	m := newTestManager(t, newRing(t, edKey("ed1", priv)), &testClock{now: baseTime}, func(c *Config) {
		c.Issuer = "tokenguard"
		c.Audience = "api"
	})

	token, _, err := m.Encode(Claims{Subject: "u", Type: TypeAccess}, 0)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := m.Decode(token); err != nil {
		t.Fatalf("decode: %v", err)
	}

	wrongIssuer := signRaw(t, gjwt.SigningMethodEdDSA, priv, "ed1", gjwt.MapClaims{
		"sub":  "u",
		"type": "access",
		"iss":  "other",
		"aud":  "api",
		"iat":  baseTime.Unix(),
		"exp":  baseTime.Add(time.Minute).Unix(),
	})
	_, err = m.Decode(wrongIssuer)
	requireKind(t, err, Malformed)

	wrongAudience := signRaw(t, gjwt.SigningMethodEdDSA, priv, "ed1", gjwt.MapClaims{
		"sub":  "u",
		"type": "access",
		"iss":  "tokenguard",
		"aud":  "other-api",
		"iat":  baseTime.Unix(),
		"exp":  baseTime.Add(time.Minute).Unix(),
	})
	_, err = m.Decode(wrongAudience)
	requireKind(t, err, Malformed)
}

func TestVerifyOnlyKeyVerifies(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	clock := &testClock{now: baseTime}
	signer := newTestManager(t, newRing(t, edKey("old", priv)), clock, nil)
	token, _, err := signer.Encode(Claims{Subject: "u", Type: TypeAccess}, 0)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	_, newPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	verifier := newTestManager(t, newRing(t,
		edKey("new", newPriv),
		Key{ID: "old", Algorithm: AlgEd25519, Material: pub},
	), clock, nil)
	got, err := verifier.Decode(token)
	if err != nil {
		t.Fatalf("decode with verify-only key: %v", err)
	}
	if got.KeyID != "old" {
		t.Fatalf("expected old key to verify, got %q", got.KeyID)
	}
}

func TestLegacySubjectScenario(t *testing.T) {
	clock := &testClock{now: baseTime}
	m := newTestManager(t, newRing(t, hsKey("k1", 'a')), clock, nil)

	token, _, err := m.Encode(Claims{Subject: "legacy-user-42", Type: TypeAccess}, 0)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := m.Decode(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want, err := m.ResolveSubject("legacy-user-42")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.Subject != want {
		t.Fatalf("expected sub %s, got %s", want, got.Subject)
	}

	clock.Advance(6 * time.Minute)
	_, err = m.Decode(token)
	requireKind(t, err, Expired)
}

func TestNewKeyRingValidation(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}

	cases := []struct {
		name string
		keys []Key
		want error
	}{
		{name: "empty", want: ErrEmptyKeyRing},
		{name: "duplicate", keys: []Key{hsKey("k1", 'a'), hsKey("k1", 'b')}, want: ErrDuplicateKeyID},
		{name: "verify only primary", keys: []Key{{ID: "p", Algorithm: AlgEd25519, Material: pub}}, want: ErrPrimaryCannotSign},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewKeyRing(tc.keys...); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if _, err := NewKeyRing(Key{ID: "short", Algorithm: AlgHS256, Material: []byte("short")}); err == nil {
		t.Fatal("expected short hs256 secret to be rejected")
	}
	if _, err := NewKeyRing(Key{ID: "x", Algorithm: "rs256", Material: secret('a')}); err == nil {
		t.Fatal("expected unsupported algorithm to be rejected")
	}
	if _, err := NewKeyRing(Key{ID: " ", Algorithm: AlgHS256, Material: secret('a')}); err == nil {
		t.Fatal("expected empty key id to be rejected")
	}
}

func TestNewManagerValidation(t *testing.T) {
	ring := newRing(t, hsKey("k1", 'a'))
	bad := []Config{
		{AccessTTL: time.Minute, RefreshTTL: time.Hour},
		{Ring: ring, AccessTTL: 0, RefreshTTL: time.Hour},
		{Ring: ring, AccessTTL: time.Minute, RefreshTTL: time.Hour, Leeway: 3 * time.Minute},
		{Ring: ring, AccessTTL: time.Minute, RefreshTTL: time.Hour, MaxFutureIAT: 48 * time.Hour},
	}
	for i, cfg := range bad {
		if _, err := NewManager(cfg); err == nil {
			t.Fatalf("case %d: expected config error", i)
		}
	}
}
