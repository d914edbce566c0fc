package jwt

import (
	"strings"

	"github.com/google/uuid"
)

// IdentityResolver maps an external identifier to the canonical subject
// embedded as sub. Implementations must be deterministic and idempotent:
// Resolve(Resolve(x)) == Resolve(x).
type IdentityResolver interface {
	Resolve(identifier string) (string, error)
}

// ResolverFunc adapts a function to IdentityResolver.
type ResolverFunc func(identifier string) (string, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(identifier string) (string, error) { return f(identifier) }

// DefaultSubjectNamespace is the UUIDv5 namespace used by CanonicalResolver
// when none is configured.
var DefaultSubjectNamespace = uuid.MustParse("6b1d3f0e-58c2-4f7a-9d0e-2a4c8e71b935")

// CanonicalResolver derives a UUIDv5 from the identifier. An identifier that
// already is a canonical UUID string is returned in lower-case form, so
// resolved subjects map to themselves.
type CanonicalResolver struct {
	Namespace uuid.UUID
}

// Resolve implements IdentityResolver.
func (r CanonicalResolver) Resolve(identifier string) (string, error) {
	id := strings.TrimSpace(identifier)
	if id == "" {
		return "", ErrEmptySubject
	}
	if len(id) == 36 {
		if u, err := uuid.Parse(id); err == nil {
			return u.String(), nil
		}
	}
	ns := r.Namespace
	if ns == uuid.Nil {
		ns = DefaultSubjectNamespace
	}
	return uuid.NewSHA1(ns, []byte(id)).String(), nil
}
