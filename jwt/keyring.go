package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Algorithm names a signing algorithm supported by the key ring.
type Algorithm string

const (
	// AlgEd25519 signs with an Ed25519 private key (EdDSA).
	AlgEd25519 Algorithm = "ed25519"
	// AlgHS256 signs with a shared HMAC-SHA256 secret.
	AlgHS256 Algorithm = "hs256"
)

const minHMACSecret = 32

var (
	// ErrEmptyKeyRing is returned when a ring has no keys.
	ErrEmptyKeyRing = errors.New("key ring has no keys")
	// ErrDuplicateKeyID is returned when two ring entries share an id.
	ErrDuplicateKeyID = errors.New("duplicate key id in key ring")
	// ErrPrimaryCannotSign is returned when the first ring entry is verify-only.
	ErrPrimaryCannotSign = errors.New("primary key cannot sign")
)

// Key is one key ring entry.
//
// Material is the shared secret for hs256. For ed25519 it is a private key
// (raw 64 bytes or PKCS#8 PEM) or, for verify-only entries, a public key
// (raw 32 bytes or PKIX PEM).
type Key struct {
	ID        string
	Algorithm Algorithm
	Material  []byte
}

// KeyRing is an ordered, immutable set of keys. Keys[0] signs; every entry
// verifies.
type KeyRing struct {
	keys []resolvedKey
	byID map[string]int
}

type resolvedKey struct {
	id     string
	alg    Algorithm
	method jwt.SigningMethod
	sign   any
	verify any
}

// NewKeyRing validates and parses keys. The slice order is kept; the first
// key becomes the primary.
func NewKeyRing(keys ...Key) (*KeyRing, error) {
	if len(keys) == 0 {
		return nil, ErrEmptyKeyRing
	}

	ring := &KeyRing{
		keys: make([]resolvedKey, 0, len(keys)),
		byID: make(map[string]int, len(keys)),
	}
	for i, k := range keys {
		id := strings.TrimSpace(k.ID)
		if id == "" {
			return nil, fmt.Errorf("key ring entry %d: empty key id", i)
		}
		if _, dup := ring.byID[id]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateKeyID, id)
		}
		rk, err := resolveKey(id, k)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", id, err)
		}
		if i == 0 && rk.sign == nil {
			return nil, fmt.Errorf("%w: %q", ErrPrimaryCannotSign, id)
		}
		ring.byID[id] = len(ring.keys)
		ring.keys = append(ring.keys, rk)
	}
	return ring, nil
}

// PrimaryID returns the id of the signing key.
func (r *KeyRing) PrimaryID() string {
	return r.keys[0].id
}

// IDs returns key ids in ring order.
func (r *KeyRing) IDs() []string {
	ids := make([]string, len(r.keys))
	for i, k := range r.keys {
		ids[i] = k.id
	}
	return ids
}

// Has reports whether id is in the ring.
func (r *KeyRing) Has(id string) bool {
	_, ok := r.byID[id]
	return ok
}

func (r *KeyRing) primary() resolvedKey {
	return r.keys[0]
}

func (r *KeyRing) methods() []string {
	seen := make(map[string]struct{}, 2)
	out := make([]string, 0, 2)
	for _, k := range r.keys {
		alg := k.method.Alg()
		if _, ok := seen[alg]; ok {
			continue
		}
		seen[alg] = struct{}{}
		out = append(out, alg)
	}
	return out
}

// candidates returns verification keys for a token. A known kid yields only
// that key; an absent or unknown kid yields every key using alg, in ring
// order.
func (r *KeyRing) candidates(alg, kid string) (keys []resolvedKey, kidKnown bool) {
	if kid != "" {
		if idx, ok := r.byID[kid]; ok {
			k := r.keys[idx]
			if k.method.Alg() != alg {
				return nil, true
			}
			return []resolvedKey{k}, true
		}
	}
	for _, k := range r.keys {
		if k.method.Alg() == alg {
			keys = append(keys, k)
		}
	}
	return keys, false
}

func resolveKey(id string, k Key) (resolvedKey, error) {
	switch k.Algorithm {
	case AlgHS256:
		if len(k.Material) < minHMACSecret {
			return resolvedKey{}, fmt.Errorf("hs256 secret must be at least %d bytes", minHMACSecret)
		}
		secret := append([]byte(nil), k.Material...)
		return resolvedKey{id: id, alg: AlgHS256, method: jwt.SigningMethodHS256, sign: secret, verify: secret}, nil
	case AlgEd25519:
		if priv, err := parseEdPrivateKey(k.Material); err == nil {
			return resolvedKey{
				id:     id,
				alg:    AlgEd25519,
				method: jwt.SigningMethodEdDSA,
				sign:   priv,
				verify: priv.Public().(ed25519.PublicKey),
			}, nil
		}
		pub, err := parseEdPublicKey(k.Material)
		if err != nil {
			return resolvedKey{}, errors.New("invalid ed25519 key material")
		}
		return resolvedKey{id: id, alg: AlgEd25519, method: jwt.SigningMethodEdDSA, verify: pub}, nil
	default:
		return resolvedKey{}, fmt.Errorf("unsupported algorithm %q", k.Algorithm)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(append([]byte(nil), key...)), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(append([]byte(nil), key...)), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
