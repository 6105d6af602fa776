package domain

import (
	"errors"
	"strings"
	"time"
)

type Status string

const (
	StatusDraft      Status = "DRAFT"
	StatusReview     Status = "REVIEW"
	StatusUnapproved Status = "UNAPPROVED"
	StatusApproved   Status = "APPROVED"
)

var (
	ErrCredentialNotFound = errors.New("remote credential not found")
	ErrRunInProgress      = errors.New("sync already running for user")
)

type Client struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
	Code string `db:"code"`
}

type Project struct {
	ID     int64  `db:"id"`
	Name   string `db:"name"`
	Code   string `db:"code"`
	Client Client `db:"client"`
}

type Category struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
	Code string `db:"code"`
}

// Appointment is a locally recorded time entry. Only drafts are synchronized.
type Appointment struct {
	ID          int64     `db:"id"`
	UserID      int64     `db:"user_id"`
	Code        *string   `db:"code"`
	Date        time.Time `db:"date"`
	StartTime   string    `db:"start_time"` // HH:mm
	EndTime     string    `db:"end_time"`   // HH:mm
	NotMonetize bool      `db:"not_monetize"`
	Description string    `db:"description"`
	Commit      *string   `db:"commit"`
	Status      Status    `db:"status"`
	Project     Project   `db:"project"`
	Category    Category  `db:"category"`
}

// AppointmentUpdate is the partial update applied after a remote placement.
type AppointmentUpdate struct {
	ID     int64
	Code   string
	Status Status
	Commit *string
}

// RemoteAppointment is an appointment encoded the way the remote form and
// list expect it.
type RemoteAppointment struct {
	ID          int64   `json:"id"`
	Client      string  `json:"client"`
	Project     string  `json:"project"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	Date        string  `json:"date"`      // ddMMyyyy
	StartTime   string  `json:"startTime"` // HHmm
	EndTime     string  `json:"endTime"`   // HHmm
	NotMonetize bool    `json:"notMonetize"`
	Commit      *string `json:"commit,omitempty"`
}

// RemoteSearchResult combines the matched list row with its detail payload.
type RemoteSearchResult struct {
	Code        string
	Status      Status
	Date        string
	StartTime   string
	EndTime     string
	NotMonetize bool
	Description string
	Commit      *string
	Client      string
	Project     string
	Category    string
}

// Credential is the decrypted remote login. It must not outlive a run.
type Credential struct {
	Login    string
	Password string
}

type StoredCredential struct {
	UserID int64  `db:"user_id"`
	Login  string `db:"login"`
	Secret string `db:"secret"`
}

type Cookie struct {
	Name  string
	Value string
}

type SessionCookies []Cookie

func (c SessionCookies) Empty() bool {
	return len(c) == 0
}

// Header renders the cookies as a Cookie request header value.
func (c SessionCookies) Header() string {
	parts := make([]string, 0, len(c))
	for _, cookie := range c {
		parts = append(parts, cookie.Name+"="+cookie.Value)
	}
	return strings.Join(parts, "; ")
}

// RemoteFailure is a remote interaction failure carrying the reason shown by
// the remote system, when one could be read.
type RemoteFailure struct {
	Reason string
	Err    error
}

func (e *RemoteFailure) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "remote failure"
}

func (e *RemoteFailure) Unwrap() error {
	return e.Err
}
