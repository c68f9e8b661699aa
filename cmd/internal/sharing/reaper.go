package sharing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/metrics"
)

// DefaultReaperInterval is how often expired sessions are swept.
const DefaultReaperInterval = time.Minute

// Reaper deletes expired sessions and their files on a fixed cadence.
type Reaper struct {
	m        *Manager
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// ReaperOption configures a Reaper.
type ReaperOption func(*Reaper)

// WithInterval sets the sweep cadence. Non-positive values are ignored.
func WithInterval(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithSweepTimeout bounds one sweep (default: half the interval).
func WithSweepTimeout(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewReaper builds a Reaper sharing the Manager's stores, clock and locks.
func NewReaper(m *Manager, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		m:        m,
		interval: DefaultReaperInterval,
		log:      m.log,
		metrics:  m.metrics,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.timeout <= 0 {
		r.timeout = r.interval / 2
	}
	return r
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Scanned      int
	Reaped       int
	Skipped      int
	Failed       int
	FilesDeleted int
}

// Sweep removes every session with ExpiresAt <= now. It only returns an error
// when the session list cannot be read; per-session failures are logged,
// counted and retried on the next sweep.
func (r *Reaper) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	now := r.m.clock.Now()

	sessions, err := r.m.store.List(ctx)
	if err != nil {
		return SweepResult{}, err
	}

	res := SweepResult{Scanned: len(sessions)}
	for _, s := range sessions {
		if s.ActiveAt(now) {
			continue
		}
		if err := ctx.Err(); err != nil {
			break
		}

		// A held lock means an upload or join is in flight; it will fail the
		// expiry check on its own and the session is picked up next time.
		unlock, ok := r.m.locks.TryLock(s.Passkey)
		if !ok {
			res.Skipped++
			r.log.Debug("reaper.session.busy", "session_id", s.ID)
			continue
		}
		files, reaped, err := r.reapLocked(ctx, s, now)
		unlock()

		switch {
		case err != nil:
			res.Failed++
			r.log.Error("reaper.session.fail", "session_id", s.ID, "err", err)
		case reaped:
			res.Reaped++
			res.FilesDeleted += files
			r.log.Info("reaper.session.reaped", "session_id", s.ID, "files_deleted", files)
		}
	}

	r.metrics.SweepDone(res.Reaped, res.Failed, res.Skipped, time.Since(start))
	r.log.Debug("reaper.sweep.done",
		"scanned", res.Scanned,
		"reaped", res.Reaped,
		"skipped", res.Skipped,
		"failed", res.Failed,
	)
	return res, nil
}

// reapLocked re-reads the record under the exclusive lock: the listed
// snapshot may already have been superseded or removed.
func (r *Reaper) reapLocked(ctx context.Context, listed Session, now time.Time) (int, bool, error) {
	cur, err := r.m.store.GetByPasskey(ctx, listed.Passkey)
	if errors.Is(err, ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if cur.ID != listed.ID || cur.ActiveAt(now) {
		return 0, false, nil
	}

	n, err := r.m.purge(ctx, cur)
	if err != nil {
		return n, false, err
	}
	return n, true, nil
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (r *Reaper) Run(ctx context.Context) error {
	r.log.Info("reaper.start", "interval", r.interval)
	defer r.log.Info("reaper.stop")

	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		r.sweepOnce(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

func (r *Reaper) sweepOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if _, err := r.Sweep(sctx); err != nil && ctx.Err() == nil {
		r.log.Error("reaper.sweep.fail", "err", err)
	}
}
