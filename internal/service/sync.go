package service

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"timesheet_sync/internal/config"
	"timesheet_sync/internal/domain"
	"timesheet_sync/internal/progress"
)

// Launcher opens a fresh remote session for one run.
type Launcher interface {
	Launch(ctx context.Context) (RemoteSession, error)
}

type LauncherFunc func(ctx context.Context) (RemoteSession, error)

func (f LauncherFunc) Launch(ctx context.Context) (RemoteSession, error) {
	return f(ctx)
}

type SyncService struct {
	appointments AppointmentStore
	credentials  CredentialStore
	decrypter    Decrypter
	launcher     Launcher
	channel      progress.Channel
	runs         SyncRunStore
	txManager    TransactionManager
	publisher    Publisher
	metrics      Metrics
	reconciler   *Reconciler
	logger       *slog.Logger

	mu      sync.Mutex
	running map[int64]struct{}
	wg      sync.WaitGroup
}

func NewSyncService(
	appointments AppointmentStore,
	credentials CredentialStore,
	decrypter Decrypter,
	launcher Launcher,
	channel progress.Channel,
	runs SyncRunStore,
	txManager TransactionManager,
	publisher Publisher,
	metrics Metrics,
	logger *slog.Logger,
	cfg config.SyncConfig,
) *SyncService {
	logger = logger.With("component", "sync")
	return &SyncService{
		appointments: appointments,
		credentials:  credentials,
		decrypter:    decrypter,
		launcher:     launcher,
		channel:      channel,
		runs:         runs,
		txManager:    txManager,
		publisher:    publisher,
		metrics:      metrics,
		reconciler:   NewReconciler(appointments, cfg.DuplicateMessage, logger),
		logger:       logger,
		running:      make(map[int64]struct{}),
	}
}

// Run synchronizes the pending drafts of a user and reports whether the run
// completed. Nothing else escapes a run.
func (s *SyncService) Run(ctx context.Context, userID int64) bool {
	stats, err := s.RunWithStats(ctx, userID)
	if err != nil {
		s.logger.Warn("sync not started", "user_id", userID, "error", err)
		return false
	}
	return stats.Succeeded
}

// RunWithStats is Run returning the run counters. It fails with
// domain.ErrRunInProgress when the user already has a run going.
func (s *SyncService) RunWithStats(ctx context.Context, userID int64) (*domain.RunStats, error) {
	if !s.acquire(userID) {
		return nil, domain.ErrRunInProgress
	}
	defer s.release(userID)

	return s.run(ctx, uuid.NewString(), userID), nil
}

// Start runs the sync of a user in the background and returns the run id.
// The run lives as long as ctx.
func (s *SyncService) Start(ctx context.Context, userID int64) (string, error) {
	if !s.acquire(userID) {
		return "", domain.ErrRunInProgress
	}

	runID := uuid.NewString()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(userID)
		s.run(ctx, runID, userID)
	}()

	return runID, nil
}

// Wait blocks until every background run has returned.
func (s *SyncService) Wait() {
	s.wg.Wait()
}

// Running reports whether userID has a run going.
func (s *SyncService) Running(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[userID]
	return ok
}

func (s *SyncService) acquire(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[userID]; ok {
		return false
	}
	s.running[userID] = struct{}{}
	return true
}

func (s *SyncService) release(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, userID)
}

func (s *SyncService) run(ctx context.Context, runID string, userID int64) *domain.RunStats {
	stats := &domain.RunStats{
		RunID:     runID,
		UserID:    userID,
		StartedAt: time.Now(),
	}
	logger := s.logger.With("run_id", runID, "user_id", userID)
	tracker := progress.NewTracker(runID, userID, s.channel, logger)

	logger.Info("starting sync")

	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("sync run panicked", "panic", r)
				stats.Succeeded = false
			}
		}()
		stats.Succeeded = s.execute(ctx, tracker, stats, logger)
	}()

	// The final snapshot and bookkeeping go out even when ctx was cancelled.
	finishCtx := context.WithoutCancel(ctx)

	state := tracker.State()
	stats.Saved = state.Saved
	stats.Updated = state.Updated
	stats.Duration = time.Since(stats.StartedAt)

	tracker.Emit(finishCtx, progress.RunFinished{Succeeded: stats.Succeeded})
	s.finish(finishCtx, stats, logger)

	logger.Info("sync completed",
		"succeeded", stats.Succeeded,
		"pending", stats.Pending,
		"saved", stats.Saved,
		"updated", stats.Updated,
		"conflicts", stats.Conflicts,
		"failed", stats.Failed,
		"duration", stats.Duration,
	)

	return stats
}

func (s *SyncService) execute(ctx context.Context, tracker *progress.Tracker, stats *domain.RunStats, logger *slog.Logger) bool {
	tracker.Emit(ctx, progress.StageChanged{Section: progress.SectionPage, Stage: domain.StageLoad})
	session, err := s.launcher.Launch(ctx)
	if err != nil {
		logger.Error("failed to open remote session", "error", err)
		tracker.Emit(ctx, progress.StageChanged{Section: progress.SectionPage, Stage: domain.StageFail})
		return false
	}
	defer session.Close()
	tracker.Emit(ctx, progress.StageChanged{Section: progress.SectionPage, Stage: domain.StageOk})

	tracker.Emit(ctx, progress.StageChanged{Section: progress.SectionAppointments, Stage: domain.StageLoad})
	drafts, err := s.appointments.GetPending(ctx, stats.UserID)
	if err != nil {
		logger.Error("failed to load pending appointments", "error", err)
		tracker.Emit(ctx, progress.StageChanged{Section: progress.SectionAppointments, Stage: domain.StageFail})
		return false
	}
	tracker.Emit(ctx, progress.StageChanged{Section: progress.SectionAppointments, Stage: domain.StageOk})

	drafts = onlyDrafts(drafts, logger)
	stats.Pending = len(drafts)
	logger.Info("pending appointments loaded", "count", len(drafts))

	if len(drafts) == 0 {
		tracker.Emit(ctx, progress.StageChanged{Section: progress.SectionAuth, Stage: domain.StageOk})
		return true
	}

	tracker.Emit(ctx, progress.StageChanged{Section: progress.SectionAuth, Stage: domain.StageLoad})
	if err := s.authenticate(ctx, session, stats.UserID); err != nil {
		logger.Warn("authentication failed", "error", err)
		tracker.Emit(ctx, progress.StageChanged{Section: progress.SectionAuth, Stage: domain.StageFail})
		return false
	}
	tracker.Emit(ctx,
		progress.StageChanged{Section: progress.SectionAuth, Stage: domain.StageOk},
		progress.TotalSet{Total: len(drafts)},
	)

	slices.SortStableFunc(drafts, compareDrafts)

	for _, draft := range drafts {
		if err := ctx.Err(); err != nil {
			logger.Info("sync cancelled", "error", err)
			return false
		}

		outcome := s.reconciler.Reconcile(ctx, session, tracker, draft)
		switch outcome {
		case OutcomeConflict:
			stats.Conflicts++
		case OutcomeFailed, OutcomeNotFound:
			stats.Failed++
		}
		if s.metrics != nil {
			s.metrics.AppointmentProcessed(string(outcome))
		}
	}

	return true
}

func (s *SyncService) authenticate(ctx context.Context, session RemoteSession, userID int64) error {
	stored, err := s.credentials.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("get credential: %w", err)
	}

	password, err := s.decrypter.Decrypt(stored.Secret)
	if err != nil {
		return fmt.Errorf("decrypt credential: %w", err)
	}

	cookies := session.Authenticate(ctx, domain.Credential{Login: stored.Login, Password: password})
	if cookies.Empty() {
		return fmt.Errorf("login rejected for %s", stored.Login)
	}

	return nil
}

func (s *SyncService) finish(ctx context.Context, stats *domain.RunStats, logger *slog.Logger) {
	if s.runs != nil {
		if err := s.recordRun(ctx, stats); err != nil {
			logger.Error("failed to record sync run", "error", err)
		}
	}

	if s.publisher != nil {
		report := &domain.RunReport{
			RunID:     stats.RunID,
			UserID:    stats.UserID,
			Succeeded: stats.Succeeded,
			Pending:   stats.Pending,
			Saved:     stats.Saved,
			Updated:   stats.Updated,
			Conflicts: stats.Conflicts,
			Failed:    stats.Failed,
			Duration:  stats.Duration.String(),
			Timestamp: time.Now().UTC(),
		}
		if err := s.publisher.Publish(ctx, report); err != nil {
			logger.Error("failed to publish run report", "error", err)
		}
	}

	if s.metrics != nil {
		s.metrics.RunFinished(stats.Succeeded, stats.Duration)
	}
}

func (s *SyncService) recordRun(ctx context.Context, stats *domain.RunStats) error {
	record := func(ctx context.Context) error {
		run, err := s.runs.Get(ctx, stats.UserID)
		if err != nil {
			return fmt.Errorf("get sync run: %w", err)
		}

		run.UserID = stats.UserID
		run.LastRunID = stats.RunID
		run.LastSyncedAt = stats.StartedAt
		run.LastSucceeded = stats.Succeeded
		run.TotalSaved += int64(stats.Saved)
		run.TotalUpdated += int64(stats.Updated)

		if err := s.runs.Update(ctx, run); err != nil {
			return fmt.Errorf("update sync run: %w", err)
		}
		return nil
	}

	if s.txManager == nil {
		return record(ctx)
	}
	return s.txManager.WithTransaction(ctx, record)
}

// onlyDrafts drops the records that are not drafts, so they are neither
// counted nor sent.
func onlyDrafts(appointments []domain.Appointment, logger *slog.Logger) []domain.Appointment {
	return slices.DeleteFunc(appointments, func(a domain.Appointment) bool {
		if a.Status == domain.StatusDraft {
			return false
		}
		logger.Warn("skipping appointment that is not a draft",
			"appointment_id", a.ID,
			"status", a.Status,
		)
		return true
	})
}

// compareDrafts orders drafts by date, start time and end time.
func compareDrafts(a, b domain.Appointment) int {
	return cmp.Or(
		a.Date.Compare(b.Date),
		cmp.Compare(a.StartTime, b.StartTime),
		cmp.Compare(a.EndTime, b.EndTime),
	)
}
