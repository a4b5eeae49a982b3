package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/KetaVip/license-bot/internal/clock"
	"github.com/KetaVip/license-bot/internal/observability"
)

const expiryWarningMessage = "Your VIP access expires within 3 days. Renew now to keep it active."

// Sweeper periodically evicts expired licenses and dispatches the warning
// and role-revocation side effects. Side effects run after the store call
// returns, so the store lock is never held across external I/O, and a failed
// dispatch is logged and dropped: the store-side transition already happened
// exactly once.
type Sweeper struct {
	store    *LicenseStore
	clock    clock.Clock
	interval time.Duration
	roles    RoleManager
	notifier Notifier
	logger   *slog.Logger
}

func NewSweeper(store *LicenseStore, clk clock.Clock, interval time.Duration, roles RoleManager, notifier Notifier, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		clock:    clk,
		interval: interval,
		roles:    roles,
		notifier: notifier,
		logger:   logger,
	}
}

// Run loops until ctx is cancelled. Cancellation is a clean stop, not an
// error; an in-flight pass completes before Run returns.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("expiry sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return nil
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single pass and dispatches side effects for every
// reported transition.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	events, err := s.store.SweepExpired(ctx, s.clock.Now())
	if err != nil {
		observability.RecordSweepEvent(ctx, "error")
		s.logger.Error("sweep pass failed", "error", err)
	}

	// Transitions committed before a mid-pass failure are durable and will
	// never be reported again, so their side effects dispatch even when the
	// pass itself errored.
	for _, ev := range events {
		switch {
		case ev.Expired:
			observability.RecordSweepEvent(ctx, "expired")
			s.logger.Info("license expired", "subject_id", ev.SubjectID)
			if err := s.roles.RevokeRole(ctx, ev.SubjectID); err != nil {
				s.logger.Warn("role revocation failed", "subject_id", ev.SubjectID, "error", err)
			}
		case ev.JustWarned:
			observability.RecordSweepEvent(ctx, "warned")
			if err := s.notifier.NotifySubject(ctx, ev.SubjectID, expiryWarningMessage); err != nil {
				s.logger.Warn("expiry warning delivery failed", "subject_id", ev.SubjectID, "error", err)
			}
		}
	}
}
