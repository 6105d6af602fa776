package domain

// Stage is the marker of one step of a run.
type Stage string

const (
	StageWait    Stage = "Wait"
	StageLoad    Stage = "Load"
	StageProcess Stage = "Process"
	StageOk      Stage = "Ok"
	StageFail    Stage = "Fail"
)

// Marker names a per-appointment field or step.
type Marker string

const (
	MarkerClient      Marker = "client"
	MarkerProject     Marker = "project"
	MarkerCategory    Marker = "category"
	MarkerDescription Marker = "description"
	MarkerDate        Marker = "date"
	MarkerCommit      Marker = "commit"
	MarkerNotMonetize Marker = "notMonetize"
	MarkerStartTime   Marker = "startTime"
	MarkerEndTime     Marker = "endTime"

	MarkerAdapt       Marker = "adapt"
	MarkerPage        Marker = "page"
	MarkerSaveInAzure Marker = "saveInAzure"
	MarkerSearch      Marker = "search"
	MarkerGetMoreData Marker = "getMoreData"
	MarkerUpdate      Marker = "update"
)

// Reporter receives marker changes from the remote adapter.
type Reporter func(marker Marker, stage Stage)

// FieldMarkers are the markers of the form fields written remotely.
var FieldMarkers = []Marker{
	MarkerClient,
	MarkerProject,
	MarkerCategory,
	MarkerDescription,
	MarkerDate,
	MarkerCommit,
	MarkerNotMonetize,
	MarkerStartTime,
	MarkerEndTime,
}

// StepMarkers are the markers of the reconciliation steps.
var StepMarkers = []Marker{
	MarkerAdapt,
	MarkerPage,
	MarkerSaveInAzure,
	MarkerSearch,
	MarkerGetMoreData,
	MarkerUpdate,
}

// AppointmentDisplay holds the human readable values of the draft being synced.
type AppointmentDisplay struct {
	ID          int64   `json:"id"`
	Client      string  `json:"client"`
	Project     string  `json:"project"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	Date        string  `json:"date"`
	StartTime   string  `json:"startTime"`
	EndTime     string  `json:"endTime"`
	NotMonetize bool    `json:"notMonetize"`
	Commit      *string `json:"commit,omitempty"`
}

type AppointmentProgress struct {
	Markers map[Marker]Stage   `json:"markers"`
	Display AppointmentDisplay `json:"display"`
	Message string             `json:"message,omitempty"`
}

// ProgressState is one snapshot of a run. Snapshots are values: use Clone
// before handing one to another goroutine.
type ProgressState struct {
	RunID        string               `json:"runId"`
	UserID       int64                `json:"userId"`
	Page         Stage                `json:"page"`
	Appointments Stage                `json:"appointments"`
	Auth         Stage                `json:"auth"`
	Saving       int                  `json:"saving"`
	Saved        int                  `json:"saved"`
	Updated      int                  `json:"updated"`
	Current      *AppointmentProgress `json:"current,omitempty"`
	Done         bool                 `json:"done"`
	Succeeded    bool                 `json:"succeeded"`
}

func (s ProgressState) Clone() ProgressState {
	if s.Current == nil {
		return s
	}
	current := *s.Current
	current.Markers = make(map[Marker]Stage, len(s.Current.Markers))
	for k, v := range s.Current.Markers {
		current.Markers[k] = v
	}
	if s.Current.Display.Commit != nil {
		commit := *s.Current.Display.Commit
		current.Display.Commit = &commit
	}
	s.Current = &current
	return s
}
