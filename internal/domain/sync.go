package domain

import "time"

// RunStats holds statistics about a sync run.
type RunStats struct {
	RunID     string
	UserID    int64
	Pending   int
	Saved     int
	Updated   int
	Conflicts int
	Failed    int
	Succeeded bool
	StartedAt time.Time
	Duration  time.Duration
}

// SyncRun is the persisted summary of the runs of a user.
type SyncRun struct {
	ID            int64     `db:"id"`
	UserID        int64     `db:"user_id"`
	LastRunID     string    `db:"last_run_id"`
	LastSyncedAt  time.Time `db:"last_synced_at"`
	LastSucceeded bool      `db:"last_succeeded"`
	TotalSaved    int64     `db:"total_saved"`
	TotalUpdated  int64     `db:"total_updated"`
}

// RunReport is published when a run ends.
type RunReport struct {
	RunID     string    `json:"runId"`
	UserID    int64     `json:"userId"`
	Succeeded bool      `json:"succeeded"`
	Pending   int       `json:"pending"`
	Saved     int       `json:"saved"`
	Updated   int       `json:"updated"`
	Conflicts int       `json:"conflicts"`
	Failed    int       `json:"failed"`
	Duration  string    `json:"duration"`
	Timestamp time.Time `json:"timestamp"`
}
