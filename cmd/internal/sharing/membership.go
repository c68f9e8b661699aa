package sharing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/ids"
	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/metrics"
)

// Manager owns session creation, join and the shared expiry check.
//
// Concurrency guarantees:
//   - Create and join for a passkey are serialized (exclusive per-passkey lock).
//   - Readers (GetActiveSession, listing, uploads) share the lock, so they never
//     observe a half-applied membership change and never overlap a purge.
//   - Every session-scoped operation validates through activeLocked.
type Manager struct {
	store   SessionStore
	blobs   BlobStore
	clock   Clock
	ttl     time.Duration
	locks   *lockSet
	log     *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Manager.
type Option func(*Manager) error

// WithClock injects the time source used for every expiry decision.
func WithClock(c Clock) Option {
	return func(m *Manager) error {
		if c == nil {
			return ErrInvalidInput
		}
		m.clock = c
		return nil
	}
}

// WithTTL sets the session lifetime (default: DefaultSessionTTL).
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) error {
		if ttl <= 0 {
			return ErrInvalidInput
		}
		m.ttl = ttl
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) error {
		if log != nil {
			m.log = log
		}
		return nil
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) error {
		m.metrics = mt
		return nil
	}
}

// NewManager constructs a Manager. blobs is used to purge the files of an
// expired session whose passkey is being reused.
func NewManager(store SessionStore, blobs BlobStore, opts ...Option) (*Manager, error) {
	if store == nil || blobs == nil {
		return nil, ErrInvalidInput
	}
	m := &Manager{
		store: store,
		blobs: blobs,
		clock: SystemClock,
		ttl:   DefaultSessionTTL,
		locks: newLockSet(),
		log:   slog.Default(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// TTL returns the configured session lifetime.
func (m *Manager) TTL() time.Duration { return m.ttl }

// CreateSession starts a session owned by creator.
//
// An active session under the same passkey yields ErrConflict. An expired
// record that the reaper has not removed yet is superseded: its files and
// record are purged first, in the same order the reaper uses.
func (m *Manager) CreateSession(ctx context.Context, passkey, creator string) (Session, error) {
	const op = "sharing.CreateSession"

	pk, ok := NormalizePasskey(passkey)
	if !ok {
		return Session{}, opErr(op, ErrInvalidInput, "invalid passkey")
	}
	user, ok := NormalizeUsername(creator)
	if !ok {
		return Session{}, opErr(op, ErrInvalidInput, "invalid username")
	}
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	unlock := m.locks.Lock(pk)
	defer unlock()

	now := m.clock.Now()

	existing, err := m.store.GetByPasskey(ctx, pk)
	switch {
	case err == nil:
		if existing.ActiveAt(now) {
			return Session{}, opErr(op, ErrConflict, "passkey already in use")
		}
		files, err := m.purge(ctx, existing)
		if err != nil {
			return Session{}, fmt.Errorf("%s: supersede expired session: %w", op, err)
		}
		m.metrics.SessionSuperseded()
		m.log.Info("session.superseded", "session_id", existing.ID, "files_deleted", files)
	case !errors.Is(err, ErrNotFound):
		return Session{}, fmt.Errorf("%s: %w", op, err)
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Session{}, fmt.Errorf("%s: new id: %w", op, err)
	}

	sess := Session{
		ID:        id,
		Passkey:   pk,
		Members:   []string{user},
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.store.Create(ctx, sess); err != nil {
		if errors.Is(err, ErrConflict) {
			return Session{}, opErr(op, ErrConflict, "passkey already in use")
		}
		return Session{}, fmt.Errorf("%s: %w", op, err)
	}

	m.metrics.SessionCreated()
	m.log.Info("session.created", "session_id", sess.ID, "expires_at", sess.ExpiresAt)
	return sess.Clone(), nil
}

// JoinSession adds username to the session. Joining twice is a no-op.
func (m *Manager) JoinSession(ctx context.Context, passkey, username string) (Session, error) {
	const op = "sharing.JoinSession"

	pk, ok := NormalizePasskey(passkey)
	if !ok {
		return Session{}, opErr(op, ErrInvalidInput, "invalid passkey")
	}
	user, ok := NormalizeUsername(username)
	if !ok {
		return Session{}, opErr(op, ErrInvalidInput, "invalid username")
	}
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	unlock := m.locks.Lock(pk)
	defer unlock()

	now := m.clock.Now()
	sess, err := m.activeLocked(ctx, op, pk, now)
	if err != nil {
		return Session{}, err
	}
	if sess.HasMember(user) {
		m.metrics.SessionJoined(true)
		return sess, nil
	}

	updated, err := m.store.AddMember(ctx, AddMemberInput{SessionID: sess.ID, Username: user, Now: now})
	switch {
	case errors.Is(err, ErrNotFound):
		return Session{}, opErr(op, ErrNotFound, "session no longer exists")
	case errors.Is(err, ErrExpired):
		return Session{}, opErr(op, ErrExpired, "session expired")
	case err != nil:
		return Session{}, fmt.Errorf("%s: %w", op, err)
	}

	m.metrics.SessionJoined(false)
	m.log.Info("session.joined", "session_id", updated.ID, "members", len(updated.Members))
	return updated, nil
}

// GetActiveSession returns the session for passkey if it exists and has not expired.
func (m *Manager) GetActiveSession(ctx context.Context, passkey string) (Session, error) {
	const op = "sharing.GetActiveSession"

	var out Session
	err := m.withActiveSession(ctx, op, passkey, func(s Session) error {
		out = s
		return nil
	})
	return out, err
}

// withActiveSession validates passkey and runs fn under the session's shared
// lock, so the session cannot be purged until fn returns.
func (m *Manager) withActiveSession(ctx context.Context, op, passkey string, fn func(Session) error) error {
	pk, ok := NormalizePasskey(passkey)
	if !ok {
		return opErr(op, ErrInvalidInput, "invalid passkey")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := m.locks.RLock(pk)
	defer unlock()

	sess, err := m.activeLocked(ctx, op, pk, m.clock.Now())
	if err != nil {
		return err
	}
	return fn(sess)
}

// activeLocked is the single existence + expiry check. Callers hold the passkey lock.
func (m *Manager) activeLocked(ctx context.Context, op, passkey string, now time.Time) (Session, error) {
	sess, err := m.store.GetByPasskey(ctx, passkey)
	if errors.Is(err, ErrNotFound) {
		return Session{}, opErr(op, ErrNotFound, "no session for passkey")
	}
	if err != nil {
		return Session{}, fmt.Errorf("%s: %w", op, err)
	}
	if !sess.ActiveAt(now) {
		return Session{}, opErr(op, ErrExpired, "session expired")
	}
	return sess, nil
}

// purge deletes a session's files and then its record. A failure between the
// two steps leaves an expired, file-less record that the next attempt finishes.
func (m *Manager) purge(ctx context.Context, sess Session) (int, error) {
	n, err := m.blobs.DeleteBySession(ctx, sess.ID)
	if err != nil {
		return 0, fmt.Errorf("delete files: %w", err)
	}
	if err := m.store.Delete(ctx, sess.ID); err != nil {
		return n, fmt.Errorf("delete session: %w", err)
	}
	return n, nil
}
