package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"timesheet_sync/internal/domain"
)

type AppointmentStore interface {
	GetPending(ctx context.Context, userID int64) ([]domain.Appointment, error)
	UpdateSynced(ctx context.Context, update domain.AppointmentUpdate) error
	ListUsersWithPending(ctx context.Context) ([]int64, error)
}

type CredentialStore interface {
	Get(ctx context.Context, userID int64) (*domain.StoredCredential, error)
}

type Decrypter interface {
	Decrypt(secret string) (string, error)
}

// RemoteSession is an authenticated conversation with the remote timesheet.
type RemoteSession interface {
	Authenticate(ctx context.Context, cred domain.Credential) domain.SessionCookies
	CreateAppointment(ctx context.Context, appt domain.RemoteAppointment, report domain.Reporter) error
	SearchAndFetchDetail(ctx context.Context, appt domain.RemoteAppointment, report domain.Reporter) (*domain.RemoteSearchResult, error)
	Close()
}

type SyncRunStore interface {
	Get(ctx context.Context, userID int64) (*domain.SyncRun, error)
	Update(ctx context.Context, run *domain.SyncRun) error
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	Publish(ctx context.Context, report *domain.RunReport) error
	Close() error
}

type Metrics interface {
	RunFinished(succeeded bool, duration time.Duration)
	AppointmentProcessed(outcome string)
}
