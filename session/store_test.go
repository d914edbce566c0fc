package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingRevoker struct {
	mu    sync.Mutex
	calls []string
	ttls  []time.Duration
	err   error
}

func (r *recordingRevoker) RevokeFamily(_ context.Context, sessionID string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, sessionID)
	r.ttls = append(r.ttls, ttl)
	return r.err
}

func (r *recordingRevoker) revoked() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// failingRepo fails MarkRevoked while delegating everything else.
type failingRepo struct {
	Repository
	err error
}

func (f *failingRepo) MarkRevoked(context.Context, string, time.Time) error {
	return f.err
}

func newTestStore(t *testing.T) (*Store, *testClock, *recordingRevoker) {
	t.Helper()

	clock := newClock()
	revoker := &recordingRevoker{}
	store := NewStore(NewMemoryRepository(clock.Now), revoker, Config{TTL: 24 * time.Hour, Now: clock.Now})
	return store, clock, revoker
}

func TestStoreCreateDefaults(t *testing.T) {
	store, clock, _ := newTestStore(t)

	r, err := store.Create(context.Background(), "  alice ", CreateOptions{Label: "laptop"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(r.SessionID) != 26 {
		t.Fatalf("expected ULID session id, got %q", r.SessionID)
	}
	if len(r.DeviceID) != 36 {
		t.Fatalf("expected generated UUID device id, got %q", r.DeviceID)
	}
	if r.Owner != "alice" || r.DeviceLabel != "laptop" {
		t.Fatalf("unexpected record: %+v", r)
	}
	if !r.CreatedAt.Equal(clock.Now()) || !r.ExpiresAt.Equal(clock.Now().Add(24*time.Hour)) {
		t.Fatalf("unexpected timestamps: %+v", r)
	}

	other, err := store.Create(context.Background(), "alice", CreateOptions{DeviceID: "phone"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if other.DeviceID != "phone" || other.SessionID == r.SessionID {
		t.Fatalf("unexpected second record: %+v", other)
	}
}

func TestStoreCreateRejectsBadInput(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, " ", CreateOptions{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty owner, got %v", err)
	}
	long := make([]byte, MaxLabelLen+1)
	for i := range long {
		long[i] = 'x'
	}
	if _, err := store.Create(ctx, "alice", CreateOptions{Label: string(long)}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for long label, got %v", err)
	}
}

func TestStoreListOrdersAndFilters(t *testing.T) {
	store, clock, _ := newTestStore(t)
	ctx := context.Background()

	a, _ := store.Create(ctx, "alice", CreateOptions{})
	clock.Advance(time.Second)
	b, _ := store.Create(ctx, "alice", CreateOptions{})
	clock.Advance(time.Second)
	c, _ := store.Create(ctx, "alice", CreateOptions{})
	if _, err := store.Create(ctx, "bob", CreateOptions{}); err != nil {
		t.Fatalf("create bob: %v", err)
	}

	clock.Advance(time.Second)
	if err := store.Touch(ctx, a.SessionID); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := store.Revoke(ctx, b.SessionID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	list, err := store.List(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 active sessions, got %d", len(list))
	}
	if list[0].SessionID != a.SessionID || list[1].SessionID != c.SessionID {
		t.Fatalf("expected [a c] by last seen, got [%s %s]", list[0].SessionID, list[1].SessionID)
	}
}

func TestStoreRevokeAlwaysRevokesFamily(t *testing.T) {
	clock := newClock()
	revoker := &recordingRevoker{}
	repo := &failingRepo{Repository: NewMemoryRepository(clock.Now), err: ErrStoreUnavailable}
	store := NewStore(repo, revoker, Config{TTL: time.Hour, Now: clock.Now})
	ctx := context.Background()

	r, err := store.Create(ctx, "alice", CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	err = store.Revoke(ctx, r.SessionID)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected bookkeeping error surfaced, got %v", err)
	}
	if got := revoker.revoked(); len(got) != 1 || got[0] != r.SessionID {
		t.Fatalf("expected family revoked despite bookkeeping failure, got %v", got)
	}
	if revoker.ttls[0] != time.Hour {
		t.Fatalf("expected family revocation TTL to match session TTL, got %v", revoker.ttls[0])
	}
}

func TestStoreRevokeUnknownSessionStillRevokesFamily(t *testing.T) {
	store, _, revoker := newTestStore(t)

	err := store.Revoke(context.Background(), "01UNKNOWN")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if got := revoker.revoked(); len(got) != 1 || got[0] != "01UNKNOWN" {
		t.Fatalf("expected family revoked for unknown session, got %v", got)
	}
}

func TestStoreRevokeReportsRevokerFailure(t *testing.T) {
	store, _, revoker := newTestStore(t)
	revoker.err = errors.New("redis down")

	r, _ := store.Create(context.Background(), "alice", CreateOptions{})
	if err := store.Revoke(context.Background(), r.SessionID); !errors.Is(err, ErrFamilyRevocation) {
		t.Fatalf("expected ErrFamilyRevocation, got %v", err)
	}
}

func TestStoreRevokeAll(t *testing.T) {
	store, _, revoker := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		r, err := store.Create(ctx, "alice", CreateOptions{})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, r.SessionID)
	}
	if err := store.Revoke(ctx, ids[0]); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := store.Create(ctx, "bob", CreateOptions{}); err != nil {
		t.Fatalf("create bob: %v", err)
	}

	n, err := store.RevokeAll(ctx, "alice")
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 revoked, got %d", n)
	}
	if got := revoker.revoked(); len(got) != 3 {
		t.Fatalf("expected 3 family revocations in total, got %v", got)
	}

	list, _ := store.List(ctx, "alice")
	if len(list) != 0 {
		t.Fatalf("expected no active sessions, got %d", len(list))
	}
	bobs, _ := store.List(ctx, "bob")
	if len(bobs) != 1 {
		t.Fatalf("expected bob untouched, got %d", len(bobs))
	}
}

func TestStoreTouchExpiredSession(t *testing.T) {
	store, clock, _ := newTestStore(t)
	ctx := context.Background()

	r, _ := store.Create(ctx, "alice", CreateOptions{})
	clock.Advance(25 * time.Hour)
	if err := store.Touch(ctx, r.SessionID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for expired session, got %v", err)
	}
}
