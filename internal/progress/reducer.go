package progress

import "timesheet_sync/internal/domain"

// Event is a single change to a run's progress.
type Event interface {
	apply(state *domain.ProgressState)
}

// Section identifies a run level stage.
type Section string

const (
	SectionPage         Section = "page"
	SectionAppointments Section = "appointments"
	SectionAuth         Section = "auth"
)

// NewState returns the initial snapshot of a run.
func NewState(runID string, userID int64) domain.ProgressState {
	return domain.ProgressState{
		RunID:        runID,
		UserID:       userID,
		Page:         domain.StageWait,
		Appointments: domain.StageWait,
		Auth:         domain.StageWait,
	}
}

// Reduce returns the state obtained by applying events to state. The input
// snapshot is left untouched.
func Reduce(state domain.ProgressState, events ...Event) domain.ProgressState {
	next := state.Clone()
	for _, e := range events {
		e.apply(&next)
	}
	return next
}

type StageChanged struct {
	Section Section
	Stage   domain.Stage
}

func (e StageChanged) apply(s *domain.ProgressState) {
	switch e.Section {
	case SectionPage:
		s.Page = e.Stage
	case SectionAppointments:
		s.Appointments = e.Stage
	case SectionAuth:
		s.Auth = e.Stage
	}
}

type TotalSet struct {
	Total int
}

func (e TotalSet) apply(s *domain.ProgressState) {
	s.Saving = e.Total
}

type SavedIncremented struct{}

func (SavedIncremented) apply(s *domain.ProgressState) {
	s.Saved++
}

type UpdatedIncremented struct{}

func (UpdatedIncremented) apply(s *domain.ProgressState) {
	s.Updated++
}

// AppointmentStarted resets every marker to Wait for a new draft.
type AppointmentStarted struct {
	Display domain.AppointmentDisplay
}

func (e AppointmentStarted) apply(s *domain.ProgressState) {
	markers := make(map[domain.Marker]domain.Stage, len(domain.FieldMarkers)+len(domain.StepMarkers))
	for _, m := range domain.FieldMarkers {
		markers[m] = domain.StageWait
	}
	for _, m := range domain.StepMarkers {
		markers[m] = domain.StageWait
	}
	s.Current = &domain.AppointmentProgress{
		Markers: markers,
		Display: e.Display,
	}
}

type MarkerChanged struct {
	Marker domain.Marker
	Stage  domain.Stage
}

func (e MarkerChanged) apply(s *domain.ProgressState) {
	if s.Current == nil {
		return
	}
	s.Current.Markers[e.Marker] = e.Stage
}

// AppointmentFailed marks every field and the save step as failed.
type AppointmentFailed struct {
	Message string
}

func (e AppointmentFailed) apply(s *domain.ProgressState) {
	if s.Current == nil {
		return
	}
	for _, m := range domain.FieldMarkers {
		s.Current.Markers[m] = domain.StageFail
	}
	s.Current.Markers[domain.MarkerSaveInAzure] = domain.StageFail
	s.Current.Message = e.Message
}

type RunFinished struct {
	Succeeded bool
}

func (e RunFinished) apply(s *domain.ProgressState) {
	s.Done = true
	s.Succeeded = e.Succeeded
}
