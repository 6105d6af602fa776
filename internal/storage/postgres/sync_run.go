package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"timesheet_sync/internal/domain"
)

type SyncRunStore struct {
	db *sqlx.DB
}

func NewSyncRunStore(db *sqlx.DB) *SyncRunStore {
	return &SyncRunStore{db: db}
}

// Get returns the run summary of a user, locking the row inside a
// transaction. Users without runs get an empty summary.
func (s *SyncRunStore) Get(ctx context.Context, userID int64) (*domain.SyncRun, error) {
	var run domain.SyncRun
	query := `
		SELECT id, user_id, last_run_id, last_synced_at, last_succeeded, total_saved, total_updated
		FROM sync_runs
		WHERE user_id = $1
		FOR UPDATE`

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &run, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.SyncRun{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync run: %w", err)
	}
	return &run, nil
}

func (s *SyncRunStore) Update(ctx context.Context, run *domain.SyncRun) error {
	query := `
		INSERT INTO sync_runs (user_id, last_run_id, last_synced_at, last_succeeded, total_saved, total_updated)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			last_run_id = EXCLUDED.last_run_id,
			last_synced_at = EXCLUDED.last_synced_at,
			last_succeeded = EXCLUDED.last_succeeded,
			total_saved = EXCLUDED.total_saved,
			total_updated = EXCLUDED.total_updated`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		run.UserID,
		run.LastRunID,
		run.LastSyncedAt,
		run.LastSucceeded,
		run.TotalSaved,
		run.TotalUpdated,
	)
	if err != nil {
		return fmt.Errorf("upsert sync run: %w", err)
	}
	return nil
}
