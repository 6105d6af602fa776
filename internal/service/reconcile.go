package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"timesheet_sync/internal/domain"
	"timesheet_sync/internal/progress"
	"timesheet_sync/internal/translator"
)

// Outcome is the result of reconciling one draft.
type Outcome string

const (
	// OutcomeCreated: created remotely and the local record updated.
	OutcomeCreated Outcome = "created"
	// OutcomeReconciled: the interval was already taken by an identical
	// remote entry, which is now linked to the draft.
	OutcomeReconciled Outcome = "reconciled"
	// OutcomeConflict: the interval is taken by a different remote entry.
	// The draft is left untouched.
	OutcomeConflict Outcome = "conflict"
	OutcomeNotFound Outcome = "not_found"
	OutcomeFailed   Outcome = "failed"
)

// Reconciler places a single draft remotely and links the local record to
// the remote one.
type Reconciler struct {
	appointments     AppointmentStore
	duplicateMessage string
	logger           *slog.Logger
}

func NewReconciler(appointments AppointmentStore, duplicateMessage string, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		appointments:     appointments,
		duplicateMessage: strings.TrimSpace(duplicateMessage),
		logger:           logger,
	}
}

func (r *Reconciler) Reconcile(ctx context.Context, session RemoteSession, tracker *progress.Tracker, draft domain.Appointment) Outcome {
	logger := r.logger.With("appointment_id", draft.ID)
	report := func(marker domain.Marker, stage domain.Stage) {
		tracker.Mark(ctx, marker, stage)
	}

	tracker.Emit(ctx, progress.AppointmentStarted{Display: translator.Display(draft)})

	report(domain.MarkerAdapt, domain.StageLoad)
	remote := translator.ToRemoteShape(draft)
	report(domain.MarkerAdapt, domain.StageOk)

	report(domain.MarkerSaveInAzure, domain.StageLoad)
	conflict := false
	if err := session.CreateAppointment(ctx, remote, report); err != nil {
		tracker.Emit(ctx, progress.AppointmentFailed{Message: failureMessage(err)})

		if !r.isDuplicate(err) {
			logger.Error("failed to create remote appointment", "error", err)
			return OutcomeFailed
		}
		conflict = true
		logger.Info("remote interval already taken, searching existing entry",
			"date", remote.Date,
			"start_time", remote.StartTime,
			"end_time", remote.EndTime,
		)
	} else {
		tracker.Emit(ctx,
			progress.MarkerChanged{Marker: domain.MarkerSaveInAzure, Stage: domain.StageOk},
			progress.SavedIncremented{},
		)
	}

	result, err := session.SearchAndFetchDetail(ctx, remote, report)
	if err != nil {
		logger.Error("failed to search remote appointment", "error", err)
		return OutcomeFailed
	}
	if result == nil {
		logger.Warn("remote appointment not found in list")
		return OutcomeNotFound
	}

	if conflict && !translator.Matches(*result, remote) {
		logger.Info("remote entry in the same interval differs, leaving draft untouched", "code", result.Code)
		return OutcomeConflict
	}

	report(domain.MarkerUpdate, domain.StageLoad)
	err = r.appointments.UpdateSynced(ctx, domain.AppointmentUpdate{
		ID:     draft.ID,
		Code:   result.Code,
		Status: result.Status,
		Commit: result.Commit,
	})
	if err != nil {
		report(domain.MarkerUpdate, domain.StageFail)
		logger.Error("failed to update appointment", "code", result.Code, "error", err)
		return OutcomeFailed
	}
	tracker.Emit(ctx,
		progress.MarkerChanged{Marker: domain.MarkerUpdate, Stage: domain.StageOk},
		progress.UpdatedIncremented{},
	)

	logger.Debug("appointment synchronized", "code", result.Code, "status", result.Status)

	if conflict {
		return OutcomeReconciled
	}
	return OutcomeCreated
}

// isDuplicate reports whether err is the remote rejection of an already
// taken interval. Only the exact message qualifies.
func (r *Reconciler) isDuplicate(err error) bool {
	var failure *domain.RemoteFailure
	if !errors.As(err, &failure) {
		return false
	}
	return r.duplicateMessage != "" && strings.TrimSpace(failure.Reason) == r.duplicateMessage
}

func failureMessage(err error) string {
	var failure *domain.RemoteFailure
	if errors.As(err, &failure) && failure.Reason != "" {
		return failure.Reason
	}
	return err.Error()
}
