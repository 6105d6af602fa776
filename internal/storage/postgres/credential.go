package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"timesheet_sync/internal/domain"
)

type CredentialStore struct {
	db *sqlx.DB
}

func NewCredentialStore(db *sqlx.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

func (s *CredentialStore) Get(ctx context.Context, userID int64) (*domain.StoredCredential, error) {
	var cred domain.StoredCredential
	query := `SELECT user_id, login, secret FROM remote_credentials WHERE user_id = $1`

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &cred, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return &cred, nil
}

// Save stores the encrypted login of a user, replacing any previous one.
func (s *CredentialStore) Save(ctx context.Context, cred *domain.StoredCredential) error {
	query := `
		INSERT INTO remote_credentials (user_id, login, secret)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			login = EXCLUDED.login,
			secret = EXCLUDED.secret,
			updated_at = NOW()`

	if _, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, cred.UserID, cred.Login, cred.Secret); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}
