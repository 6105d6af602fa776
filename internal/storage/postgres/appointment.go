package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"timesheet_sync/internal/domain"
)

type AppointmentStore struct {
	db *sqlx.DB
}

func NewAppointmentStore(db *sqlx.DB) *AppointmentStore {
	return &AppointmentStore{db: db}
}

// GetPending returns the drafts of a user ordered by date, start and end.
func (s *AppointmentStore) GetPending(ctx context.Context, userID int64) ([]domain.Appointment, error) {
	query := `
		SELECT
			a.id, a.user_id, a.code, a.date,
			to_char(a.start_time, 'HH24:MI') AS start_time,
			to_char(a.end_time, 'HH24:MI') AS end_time,
			a.not_monetize, a.description, a.commit_hash AS "commit", a.status,
			p.id AS "project.id", p.name AS "project.name", p.code AS "project.code",
			c.id AS "project.client.id", c.name AS "project.client.name", c.code AS "project.client.code",
			cat.id AS "category.id", cat.name AS "category.name", cat.code AS "category.code"
		FROM appointments a
		JOIN projects p ON p.id = a.project_id
		JOIN clients c ON c.id = p.client_id
		JOIN categories cat ON cat.id = a.category_id
		WHERE a.user_id = $1 AND a.status = 'DRAFT'
		ORDER BY a.date, a.start_time, a.end_time, a.id`

	var appointments []domain.Appointment
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &appointments, query, userID); err != nil {
		return nil, fmt.Errorf("select pending appointments: %w", err)
	}
	return appointments, nil
}

// UpdateSynced links a local appointment to its remote entry.
func (s *AppointmentStore) UpdateSynced(ctx context.Context, update domain.AppointmentUpdate) error {
	query := `
		UPDATE appointments SET
			code = $2,
			status = $3::appointment_status,
			commit_hash = $4,
			updated_at = NOW()
		WHERE id = $1`

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		update.ID,
		update.Code,
		string(update.Status),
		update.Commit,
	)
	if err != nil {
		return fmt.Errorf("update appointment %d: %w", update.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update appointment %d: %w", update.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("update appointment %d: not found", update.ID)
	}
	return nil
}

// ListUsersWithPending returns the users that have at least one draft.
func (s *AppointmentStore) ListUsersWithPending(ctx context.Context) ([]int64, error) {
	var users []int64
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &users,
		"SELECT DISTINCT user_id FROM appointments WHERE status = 'DRAFT' ORDER BY user_id",
	)
	if err != nil {
		return nil, fmt.Errorf("select users with drafts: %w", err)
	}
	return users, nil
}
