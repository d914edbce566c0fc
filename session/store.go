package session

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

const (
	defaultTTL = 30 * 24 * time.Hour
	// MaxLabelLen bounds CreateOptions.Label in bytes.
	MaxLabelLen = 128
)

// FamilyRevoker invalidates the refresh family bound to a session.
// refresh.Manager satisfies it.
type FamilyRevoker interface {
	RevokeFamily(ctx context.Context, sessionID string, ttl time.Duration) error
}

// Config tunes a Store.
type Config struct {
	// TTL is the session lifetime and the family revocation lifetime. Zero
	// selects 30 days.
	TTL    time.Duration
	Logger *slog.Logger
	Now    func() time.Time
}

// Store is the session registry. Revocation always reaches the
// FamilyRevoker, even when the bookkeeping write fails.
type Store struct {
	repo    Repository
	revoker FamilyRevoker
	cfg     Config
	log     *slog.Logger
	now     func() time.Time
}

// NewStore creates a Store.
func NewStore(repo Repository, revoker FamilyRevoker, cfg Config) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		repo:    repo,
		revoker: revoker,
		cfg:     cfg,
		log:     logger.With("component", "session"),
		now:     now,
	}
}

// TTL returns the configured session lifetime.
func (s *Store) TTL() time.Duration {
	return s.cfg.TTL
}

// Create registers a new session for owner. A ULID session id is generated,
// and a random device id when opts.DeviceID is empty.
func (s *Store) Create(ctx context.Context, owner string, opts CreateOptions) (*Record, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, fmt.Errorf("%w: empty owner", ErrInvalidInput)
	}
	if len(opts.Label) > MaxLabelLen {
		return nil, fmt.Errorf("%w: label longer than %d bytes", ErrInvalidInput, MaxLabelLen)
	}

	deviceID := strings.TrimSpace(opts.DeviceID)
	if deviceID == "" {
		deviceID = uuid.NewString()
	}

	now := s.now().UTC()
	r := &Record{
		SessionID:   ulid.Make().String(),
		DeviceID:    deviceID,
		Owner:       owner,
		DeviceLabel: opts.Label,
		CreatedAt:   now,
		LastSeenAt:  now,
		ExpiresAt:   now.Add(s.cfg.TTL),
	}
	if err := s.repo.Insert(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Touch records activity on sessionID.
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	return s.repo.Touch(ctx, sessionID, s.now().UTC())
}

// Get returns one session, revoked or not.
func (s *Store) Get(ctx context.Context, sessionID string) (*Record, error) {
	return s.repo.Get(ctx, sessionID)
}

// List returns owner's active sessions, most recently seen first.
func (s *Store) List(ctx context.Context, owner string) ([]*Record, error) {
	records, err := s.repo.ListByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}

	now := s.now()
	active := records[:0]
	for _, r := range records {
		if r.Active(now) {
			active = append(active, r)
		}
	}
	slices.SortFunc(active, func(a, b *Record) int {
		if c := b.LastSeenAt.Compare(a.LastSeenAt); c != 0 {
			return c
		}
		return cmp.Compare(b.SessionID, a.SessionID)
	})
	return active, nil
}

// Revoke marks sessionID revoked and revokes its refresh family. The family
// is revoked even when the record is missing or the write fails; errors
// from both steps are joined.
func (s *Store) Revoke(ctx context.Context, sessionID string) error {
	bookErr := s.repo.MarkRevoked(ctx, sessionID, s.now().UTC())
	famErr := s.revokeFamily(ctx, sessionID)
	if bookErr != nil && !errors.Is(bookErr, ErrNotFound) {
		s.log.Warn("session revocation bookkeeping failed", "session_id", sessionID, "error", bookErr)
	}
	return errors.Join(bookErr, famErr)
}

// RevokeAll revokes every active session of owner and returns how many
// were revoked.
func (s *Store) RevokeAll(ctx context.Context, owner string) (int, error) {
	records, err := s.repo.ListByOwner(ctx, owner)
	if err != nil {
		return 0, err
	}

	now := s.now()
	var (
		revoked int
		errs    []error
	)
	for _, r := range records {
		if !r.Active(now) {
			continue
		}
		bookErr := s.repo.MarkRevoked(ctx, r.SessionID, now.UTC())
		if bookErr != nil && !errors.Is(bookErr, ErrNotFound) {
			s.log.Warn("session revocation bookkeeping failed", "session_id", r.SessionID, "error", bookErr)
			errs = append(errs, bookErr)
		}
		if err := s.revokeFamily(ctx, r.SessionID); err != nil {
			errs = append(errs, err)
			continue
		}
		revoked++
	}
	return revoked, errors.Join(errs...)
}

func (s *Store) revokeFamily(ctx context.Context, sessionID string) error {
	if s.revoker == nil {
		return nil
	}
	if err := s.revoker.RevokeFamily(ctx, sessionID, s.cfg.TTL); err != nil {
		s.log.Error("refresh family revocation failed", "session_id", sessionID, "error", err)
		return fmt.Errorf("%w: %s: %v", ErrFamilyRevocation, sessionID, err)
	}
	return nil
}
