package progress

import (
	"context"
	"log/slog"

	"timesheet_sync/internal/domain"
)

// Channel broadcasts progress snapshots to the subscribers of a user.
type Channel interface {
	Publish(ctx context.Context, state domain.ProgressState) error
	Subscribe(ctx context.Context, userID int64) (<-chan domain.ProgressState, error)
}

// Tracker owns the progress of a single run. It is not safe for concurrent
// use: a run has exactly one mutator.
type Tracker struct {
	state   domain.ProgressState
	channel Channel
	logger  *slog.Logger
}

func NewTracker(runID string, userID int64, channel Channel, logger *slog.Logger) *Tracker {
	return &Tracker{
		state:   NewState(runID, userID),
		channel: channel,
		logger:  logger,
	}
}

// Emit applies events and publishes the resulting snapshot before returning.
func (t *Tracker) Emit(ctx context.Context, events ...Event) {
	t.state = Reduce(t.state, events...)

	if t.channel == nil {
		return
	}
	if err := t.channel.Publish(ctx, t.state.Clone()); err != nil {
		t.logger.Warn("failed to publish progress",
			"run_id", t.state.RunID,
			"error", err,
		)
	}
}

// Mark is shorthand for a single marker change.
func (t *Tracker) Mark(ctx context.Context, marker domain.Marker, stage domain.Stage) {
	t.Emit(ctx, MarkerChanged{Marker: marker, Stage: stage})
}

// State returns a copy of the current snapshot.
func (t *Tracker) State() domain.ProgressState {
	return t.state.Clone()
}
