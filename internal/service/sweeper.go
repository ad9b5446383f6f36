package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"

	"github.com/target/rolegate/internal/ports"
)

// DefaultSweepInterval is used when SweeperOptions.Interval is unset.
const DefaultSweepInterval = time.Minute

// SweeperOptions groups dependencies for SessionSweeper.
type SweeperOptions struct {
	Store    ports.SessionStore // Required
	Interval time.Duration
	Logger   *slog.Logger
}

// SessionSweeper periodically removes expired sessions from a store.
type SessionSweeper struct {
	store    ports.SessionStore
	interval time.Duration
	logger   *slog.Logger
}

// NewSessionSweeper constructs a new SessionSweeper.
func NewSessionSweeper(opts SweeperOptions) (*SessionSweeper, error) {
	if opts.Store == nil {
		return nil, errors.New("session store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionSweeper{
		store:    opts.Store,
		interval: durationOr(opts.Interval, DefaultSweepInterval),
		logger:   logger.With("component", "session_sweeper"),
	}, nil
}

// Run sweeps at the configured interval until ctx is cancelled.
// Returns nil once ctx is done, whether cancelled or past its deadline.
func (s *SessionSweeper) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting session sweeper", "interval", s.interval)

	// Add jitter so replicas sharing a store do not sweep in lockstep
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "session sweeper stopping", "reason", ctx.Err())
			return nil
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single sweep and returns the number of removed sessions.
// Failures are logged, not returned; the next tick retries.
func (s *SessionSweeper) SweepOnce(ctx context.Context) int {
	start := time.Now()
	n, err := s.store.Sweep(ctx)
	if err != nil {
		if isContextCancellation(err) {
			s.logger.DebugContext(ctx, "session sweep cancelled by context", "error", err)
			return n
		}
		s.logger.ErrorContext(ctx, "session sweep failed", "error", err)
		return n
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "swept expired sessions", "count", n, "duration", time.Since(start))
	}
	return n
}

// waitWithJitter adds a random delay up to 10% of the interval.
func (s *SessionSweeper) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}
