package oauth

import (
	"context"
	"log/slog"
	"time"
)

// RefreshSweep is a cron.Job that refreshes every token within its
// refresh-lead window of expires_at. Spec §4.B describes "a background
// scheduler [that] refreshes each token at expires_at - 5 minutes, with
// jitter to avoid synchronized storms" — rather than one OS timer per
// token (the spec's own scheduling-model language for the rest of the
// system, but overkill for a handful of accounts), this runs as a
// per-minute sweep adapted from the teacher's internal/cron.Scheduler
// (TryLock-guarded tick, so an overrunning sweep never overlaps itself),
// jittering each individual refresh call rather than the sweep's own
// cadence.
type RefreshSweep struct {
	Manager *Manager
	Logger  *slog.Logger
}

// Name implements cron.Job.
func (s *RefreshSweep) Name() string { return "oauth-refresh-sweep" }

// Schedule implements cron.Job: every minute.
func (s *RefreshSweep) Schedule() string { return "* * * * *" }

// Run implements cron.Job.
func (s *RefreshSweep) Run(ctx context.Context) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	due := s.Manager.dueForRefresh()
	for _, email := range due {
		delay := s.Manager.jitter(30 * time.Second)
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := s.Manager.Refresh(ctx, email); err != nil {
			logger.Warn("oauth: refresh failed, will retry on next sweep unless deferred",
				"account_email", email, "error", err)
			continue
		}
		logger.Info("oauth: token refreshed", "account_email", email)
	}
	return nil
}
