package translator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"timesheet_sync/internal/domain"
)

const (
	// RemoteDateLayout is ddMMyyyy.
	RemoteDateLayout = "02012006"
	// DisplayDateLayout is the date format shown to users and by the remote list.
	DisplayDateLayout = "02/01/2006"

	CommitNotApplied = "Não aplicado"
)

var (
	lineBreaks = regexp.MustCompile(`[\r\n]+`)
	separators = strings.NewReplacer("/", "", ":", "", "-", "", ".", "", " ", "")
)

// ToRemoteShape encodes a draft the way the remote system stores it. The
// remote list search relies on exact string matches of date and times.
func ToRemoteShape(a domain.Appointment) domain.RemoteAppointment {
	remote := domain.RemoteAppointment{
		ID:          a.ID,
		Client:      a.Project.Client.Code,
		Project:     a.Project.Code,
		Category:    a.Category.Code,
		Description: a.Description,
		Date:        a.Date.Format(RemoteDateLayout),
		StartTime:   RemoteTime(a.StartTime),
		EndTime:     RemoteTime(a.EndTime),
		NotMonetize: a.NotMonetize,
	}

	if a.Commit != nil && strings.TrimSpace(*a.Commit) != "" {
		commit := *a.Commit
		remote.Commit = &commit
	}

	return remote
}

// Display returns the human readable values of a draft.
func Display(a domain.Appointment) domain.AppointmentDisplay {
	display := domain.AppointmentDisplay{
		ID:          a.ID,
		Client:      a.Project.Client.Name,
		Project:     a.Project.Name,
		Category:    a.Category.Name,
		Description: a.Description,
		Date:        a.Date.Format(DisplayDateLayout),
		StartTime:   a.StartTime,
		EndTime:     a.EndTime,
		NotMonetize: a.NotMonetize,
	}
	if a.Commit != nil {
		commit := *a.Commit
		display.Commit = &commit
	}
	return display
}

// RemoteTime converts HH:mm (or H:mm) into zero padded HHmm.
func RemoteTime(value string) string {
	hours, minutes, found := strings.Cut(strings.TrimSpace(value), ":")
	if !found {
		return StripSeparators(value)
	}

	h, errH := strconv.Atoi(hours)
	m, errM := strconv.Atoi(minutes)
	if errH != nil || errM != nil {
		return StripSeparators(value)
	}

	return fmt.Sprintf("%02d%02d", h, m)
}

// NormalizeDescription drops line breaks. Only used to compare descriptions.
func NormalizeDescription(text string) string {
	return strings.TrimSpace(lineBreaks.ReplaceAllString(text, ""))
}

// StripSeparators removes date and time separators.
func StripSeparators(value string) string {
	return separators.Replace(strings.TrimSpace(value))
}

// StatusFromLabel maps a remote status label to the local status.
func StatusFromLabel(label string) domain.Status {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "aprovado":
		return domain.StatusApproved
	case "reprovado", "não aprovado", "nao aprovado":
		return domain.StatusUnapproved
	case "rascunho":
		return domain.StatusDraft
	default:
		return domain.StatusReview
	}
}

// CommitFromRemote treats the remote placeholder for "no commit" as absent.
func CommitFromRemote(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" || strings.EqualFold(value, CommitNotApplied) {
		return nil
	}
	return &value
}

// Matches reports whether a remote row holds the same entry as the translated
// draft.
func Matches(result domain.RemoteSearchResult, remote domain.RemoteAppointment) bool {
	if StripSeparators(result.Date) != StripSeparators(remote.Date) {
		return false
	}
	if RemoteTime(result.StartTime) != remote.StartTime || RemoteTime(result.EndTime) != remote.EndTime {
		return false
	}
	if result.Client != remote.Client || result.Project != remote.Project || result.Category != remote.Category {
		return false
	}
	if result.NotMonetize != remote.NotMonetize {
		return false
	}
	if NormalizeDescription(result.Description) != NormalizeDescription(remote.Description) {
		return false
	}

	remoteCommit := result.Commit
	if remoteCommit != nil {
		remoteCommit = CommitFromRemote(*remoteCommit)
	}
	switch {
	case remoteCommit == nil && remote.Commit == nil:
		return true
	case remoteCommit == nil || remote.Commit == nil:
		return false
	default:
		return strings.TrimSpace(*remoteCommit) == strings.TrimSpace(*remote.Commit)
	}
}
