package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"timesheet_sync/internal/domain"
)

// Syncer runs the sync of one user.
type Syncer interface {
	RunWithStats(ctx context.Context, userID int64) (*domain.RunStats, error)
}

// UserLister finds the users that have drafts waiting.
type UserLister interface {
	ListUsersWithPending(ctx context.Context) ([]int64, error)
}

// Scheduler periodically syncs every user with pending drafts. Users are
// synced one after another so a single browser runs at a time.
type Scheduler struct {
	syncer     Syncer
	users      UserLister
	interval   time.Duration
	runTimeout time.Duration
	logger     *slog.Logger
}

func NewScheduler(syncer Syncer, users UserLister, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		syncer:     syncer,
		users:      users,
		interval:   interval,
		runTimeout: 10 * time.Minute,
		logger:     logger.With("component", "scheduler"),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)

	s.runPending(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runPending(ctx)
		}
	}
}

func (s *Scheduler) runPending(ctx context.Context) {
	users, err := s.users.ListUsersWithPending(ctx)
	if err != nil {
		s.logger.Error("failed to list users with drafts", "error", err)
		return
	}

	s.logger.Debug("users with drafts", "count", len(users))

	for _, userID := range users {
		if ctx.Err() != nil {
			return
		}
		s.runUser(ctx, userID)
	}
}

func (s *Scheduler) runUser(ctx context.Context, userID int64) {
	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	stats, err := s.syncer.RunWithStats(runCtx, userID)
	if errors.Is(err, domain.ErrRunInProgress) {
		s.logger.Debug("sync already running, skipping", "user_id", userID)
		return
	}
	if err != nil {
		s.logger.Error("sync failed", "user_id", userID, "error", err)
		return
	}
	if !stats.Succeeded {
		s.logger.Warn("sync did not complete", "user_id", userID, "run_id", stats.RunID)
	}
}
