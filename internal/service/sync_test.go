package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"timesheet_sync/internal/config"
	"timesheet_sync/internal/domain"
	"timesheet_sync/internal/service/mocks"
	"timesheet_sync/internal/testutil"
	"timesheet_sync/internal/translator"
)

const testUserID int64 = 42

type recordingChannel struct {
	mu     sync.Mutex
	states []domain.ProgressState
}

func (c *recordingChannel) Publish(_ context.Context, state domain.ProgressState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states = append(c.states, state)
	return nil
}

func (c *recordingChannel) Subscribe(context.Context, int64) (<-chan domain.ProgressState, error) {
	return nil, errors.New("not supported")
}

func (c *recordingChannel) snapshots() []domain.ProgressState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.ProgressState(nil), c.states...)
}

func (c *recordingChannel) last() domain.ProgressState {
	states := c.snapshots()
	if len(states) == 0 {
		return domain.ProgressState{}
	}
	return states[len(states)-1]
}

type SyncServiceTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	appointments *mocks.MockAppointmentStore
	credentials  *mocks.MockCredentialStore
	decrypter    *mocks.MockDecrypter
	session      *mocks.MockRemoteSession
	runs         *mocks.MockSyncRunStore
	txManager    *mocks.MockTransactionManager
	publisher    *mocks.MockPublisher
	metrics      *mocks.MockMetrics
	channel      *recordingChannel
	launchErr    error

	service *SyncService
	cfg     config.SyncConfig
	logger  *slog.Logger
}

func (s *SyncServiceTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.appointments = mocks.NewMockAppointmentStore(s.ctrl)
	s.credentials = mocks.NewMockCredentialStore(s.ctrl)
	s.decrypter = mocks.NewMockDecrypter(s.ctrl)
	s.session = mocks.NewMockRemoteSession(s.ctrl)
	s.runs = mocks.NewMockSyncRunStore(s.ctrl)
	s.txManager = mocks.NewMockTransactionManager(s.ctrl)
	s.publisher = mocks.NewMockPublisher(s.ctrl)
	s.metrics = mocks.NewMockMetrics(s.ctrl)
	s.channel = &recordingChannel{}
	s.launchErr = nil

	s.cfg = config.SyncConfig{
		DuplicateMessage: config.DefaultDuplicateMessage,
	}

	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	launcher := LauncherFunc(func(context.Context) (RemoteSession, error) {
		if s.launchErr != nil {
			return nil, s.launchErr
		}
		return s.session, nil
	})

	s.service = NewSyncService(
		s.appointments,
		s.credentials,
		s.decrypter,
		launcher,
		s.channel,
		s.runs,
		s.txManager,
		s.publisher,
		s.metrics,
		s.logger,
		s.cfg,
	)
}

func (s *SyncServiceTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestSyncServiceTestSuite(t *testing.T) {
	suite.Run(t, new(SyncServiceTestSuite))
}

func draft(id int64, day int, start, end string) domain.Appointment {
	return domain.Appointment{
		ID:          id,
		UserID:      testUserID,
		Date:        time.Date(2024, time.March, day, 0, 0, 0, 0, time.UTC),
		StartTime:   start,
		EndTime:     end,
		Description: "Sprint planning",
		Status:      domain.StatusDraft,
		Project: domain.Project{
			ID: 10, Name: "Portal", Code: "P-100",
			Client: domain.Client{ID: 1, Name: "ACME", Code: "C-10"},
		},
		Category: domain.Category{ID: 3, Name: "Development", Code: "CAT-2"},
	}
}

// resultFor builds the remote row that holds the same entry as a.
func resultFor(a domain.Appointment, code string) *domain.RemoteSearchResult {
	return &domain.RemoteSearchResult{
		Code:        code,
		Status:      domain.StatusReview,
		Date:        a.Date.Format(translator.DisplayDateLayout),
		StartTime:   a.StartTime,
		EndTime:     a.EndTime,
		NotMonetize: a.NotMonetize,
		Description: a.Description,
		Client:      a.Project.Client.Code,
		Project:     a.Project.Code,
		Category:    a.Category.Code,
	}
}

func fillForm(_ context.Context, _ domain.RemoteAppointment, report domain.Reporter) error {
	report(domain.MarkerPage, domain.StageLoad)
	report(domain.MarkerPage, domain.StageOk)
	for _, m := range domain.FieldMarkers {
		report(m, domain.StageLoad)
		report(m, domain.StageOk)
	}
	return nil
}

func (s *SyncServiceTestSuite) allowBookkeeping() {
	s.txManager.EXPECT().WithTransaction(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		},
	).AnyTimes()
	s.runs.EXPECT().Get(gomock.Any(), testUserID).Return(&domain.SyncRun{UserID: testUserID}, nil).AnyTimes()
	s.runs.EXPECT().Update(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	s.metrics.EXPECT().RunFinished(gomock.Any(), gomock.Any()).AnyTimes()
	s.metrics.EXPECT().AppointmentProcessed(gomock.Any()).AnyTimes()
}

func (s *SyncServiceTestSuite) expectAuthenticated(ctx context.Context) {
	s.credentials.EXPECT().Get(ctx, testUserID).Return(&domain.StoredCredential{
		UserID: testUserID,
		Login:  "dev@example.com",
		Secret: "sealed",
	}, nil)
	s.decrypter.EXPECT().Decrypt("sealed").Return("hunter2", nil)
	s.session.EXPECT().Authenticate(ctx, domain.Credential{Login: "dev@example.com", Password: "hunter2"}).
		Return(domain.SessionCookies{{Name: ".AspNetCore.Session", Value: "abc"}})
}

func (s *SyncServiceTestSuite) TestRun_NoPendingDrafts() {
	ctx := context.Background()
	s.allowBookkeeping()

	s.appointments.EXPECT().GetPending(ctx, testUserID).Return(nil, nil)
	s.session.EXPECT().Close()

	ok := s.service.Run(ctx, testUserID)

	s.True(ok)
	final := s.channel.last()
	s.Equal(domain.StageOk, final.Page)
	s.Equal(domain.StageOk, final.Appointments)
	s.Equal(domain.StageOk, final.Auth)
	s.True(final.Done)
	s.True(final.Succeeded)
	s.Nil(final.Current)
}

func (s *SyncServiceTestSuite) TestRun_EmptyCookies() {
	ctx := context.Background()
	s.allowBookkeeping()

	s.appointments.EXPECT().GetPending(ctx, testUserID).Return([]domain.Appointment{draft(1, 7, "09:00", "10:30")}, nil)
	s.credentials.EXPECT().Get(ctx, testUserID).Return(&domain.StoredCredential{Login: "dev@example.com", Secret: "sealed"}, nil)
	s.decrypter.EXPECT().Decrypt("sealed").Return("wrong", nil)
	s.session.EXPECT().Authenticate(ctx, gomock.Any()).Return(domain.SessionCookies{})
	s.session.EXPECT().Close()

	ok := s.service.Run(ctx, testUserID)

	s.False(ok)
	final := s.channel.last()
	s.Equal(domain.StageFail, final.Auth)
	s.Zero(final.Saving)
	s.Nil(final.Current)
	s.True(final.Done)
	s.False(final.Succeeded)
}

func (s *SyncServiceTestSuite) TestRun_MissingCredential() {
	ctx := context.Background()
	s.allowBookkeeping()

	s.appointments.EXPECT().GetPending(ctx, testUserID).Return([]domain.Appointment{draft(1, 7, "09:00", "10:30")}, nil)
	s.credentials.EXPECT().Get(ctx, testUserID).Return(nil, domain.ErrCredentialNotFound)
	s.session.EXPECT().Close()

	s.False(s.service.Run(ctx, testUserID))
	s.Equal(domain.StageFail, s.channel.last().Auth)
}

func (s *SyncServiceTestSuite) TestRun_LaunchFails() {
	ctx := context.Background()
	s.allowBookkeeping()
	s.launchErr = errors.New("chrome not found")

	s.False(s.service.Run(ctx, testUserID))

	final := s.channel.last()
	s.Equal(domain.StageFail, final.Page)
	s.Equal(domain.StageWait, final.Appointments)
	s.Equal(domain.StageWait, final.Auth)
}

func (s *SyncServiceTestSuite) TestRun_LoadPendingFails() {
	ctx := context.Background()
	s.allowBookkeeping()

	s.appointments.EXPECT().GetPending(ctx, testUserID).Return(nil, errors.New("connection refused"))
	s.session.EXPECT().Close()

	s.False(s.service.Run(ctx, testUserID))
	s.Equal(domain.StageFail, s.channel.last().Appointments)
}

func (s *SyncServiceTestSuite) TestRun_ThreeDraftsSucceed() {
	ctx := context.Background()
	s.allowBookkeeping()

	// Returned out of order on purpose.
	drafts := []domain.Appointment{
		draft(3, 8, "08:00", "09:00"),
		draft(1, 7, "09:00", "10:30"),
		draft(2, 7, "10:30", "12:00"),
	}

	s.appointments.EXPECT().GetPending(ctx, testUserID).Return(drafts, nil)
	s.expectAuthenticated(ctx)

	gomock.InOrder(
		s.session.EXPECT().CreateAppointment(ctx, translator.ToRemoteShape(drafts[1]), gomock.Any()).DoAndReturn(fillForm),
		s.session.EXPECT().SearchAndFetchDetail(ctx, translator.ToRemoteShape(drafts[1]), gomock.Any()).Return(resultFor(drafts[1], "8001"), nil),
		s.appointments.EXPECT().UpdateSynced(ctx, domain.AppointmentUpdate{ID: 1, Code: "8001", Status: domain.StatusReview}).Return(nil),

		s.session.EXPECT().CreateAppointment(ctx, translator.ToRemoteShape(drafts[2]), gomock.Any()).DoAndReturn(fillForm),
		s.session.EXPECT().SearchAndFetchDetail(ctx, translator.ToRemoteShape(drafts[2]), gomock.Any()).Return(resultFor(drafts[2], "8002"), nil),
		s.appointments.EXPECT().UpdateSynced(ctx, domain.AppointmentUpdate{ID: 2, Code: "8002", Status: domain.StatusReview}).Return(nil),

		s.session.EXPECT().CreateAppointment(ctx, translator.ToRemoteShape(drafts[0]), gomock.Any()).DoAndReturn(fillForm),
		s.session.EXPECT().SearchAndFetchDetail(ctx, translator.ToRemoteShape(drafts[0]), gomock.Any()).Return(resultFor(drafts[0], "8003"), nil),
		s.appointments.EXPECT().UpdateSynced(ctx, domain.AppointmentUpdate{ID: 3, Code: "8003", Status: domain.StatusReview}).Return(nil),
	)
	s.session.EXPECT().Close()

	stats, err := s.service.RunWithStats(ctx, testUserID)

	s.Require().NoError(err)
	s.True(stats.Succeeded)
	s.Equal(3, stats.Pending)
	s.Equal(3, stats.Saved)
	s.Equal(3, stats.Updated)
	s.Zero(stats.Failed)

	final := s.channel.last()
	s.Equal(3, final.Saving)
	s.Equal(3, final.Saved)
	s.Equal(3, final.Updated)
	s.Equal(domain.StageOk, final.Page)
	s.Equal(domain.StageOk, final.Appointments)
	s.Equal(domain.StageOk, final.Auth)
	s.Require().NotNil(final.Current)
	s.Equal(int64(3), final.Current.Display.ID)
	for marker, stage := range final.Current.Markers {
		s.NotEqual(domain.StageFail, stage, "marker %s", marker)
	}

	s.assertNoOkToLoad(s.channel.snapshots())
}

func (s *SyncServiceTestSuite) TestRun_DuplicateMatchingEntryIsLinked() {
	ctx := context.Background()
	s.allowBookkeeping()

	d := draft(1, 7, "09:00", "10:30")
	d.Commit = testutil.Ptr("a1b2c3")
	remote := translator.ToRemoteShape(d)
	existing := resultFor(d, "7001")
	existing.Commit = testutil.Ptr("a1b2c3")
	existing.Status = domain.StatusApproved

	s.appointments.EXPECT().GetPending(ctx, testUserID).Return([]domain.Appointment{d}, nil)
	s.expectAuthenticated(ctx)

	gomock.InOrder(
		s.session.EXPECT().CreateAppointment(ctx, remote, gomock.Any()).
			Return(&domain.RemoteFailure{Reason: config.DefaultDuplicateMessage}),
		s.session.EXPECT().SearchAndFetchDetail(ctx, remote, gomock.Any()).Return(existing, nil),
		s.appointments.EXPECT().UpdateSynced(ctx, domain.AppointmentUpdate{
			ID:     1,
			Code:   "7001",
			Status: domain.StatusApproved,
			Commit: testutil.Ptr("a1b2c3"),
		}).Return(nil),
	)
	s.session.EXPECT().Close()

	stats, err := s.service.RunWithStats(ctx, testUserID)

	s.Require().NoError(err)
	s.True(stats.Succeeded)
	s.Zero(stats.Saved)
	s.Equal(1, stats.Updated)

	final := s.channel.last()
	s.Equal(domain.StageFail, final.Current.Markers[domain.MarkerSaveInAzure])
	s.Equal(domain.StageOk, final.Current.Markers[domain.MarkerUpdate])
	s.Equal(config.DefaultDuplicateMessage, final.Current.Message)
}

func (s *SyncServiceTestSuite) TestRun_DuplicateDifferentEntryIsLeftAlone() {
	ctx := context.Background()
	s.allowBookkeeping()

	d := draft(1, 7, "09:00", "10:30")
	remote := translator.ToRemoteShape(d)
	other := resultFor(d, "7001")
	other.Description = "Someone else's meeting"

	s.appointments.EXPECT().GetPending(ctx, testUserID).Return([]domain.Appointment{d}, nil)
	s.expectAuthenticated(ctx)
	gomock.InOrder(
		s.session.EXPECT().CreateAppointment(ctx, remote, gomock.Any()).
			Return(&domain.RemoteFailure{Reason: "  " + config.DefaultDuplicateMessage + "\n"}),
		s.session.EXPECT().SearchAndFetchDetail(ctx, remote, gomock.Any()).Return(other, nil),
	)
	s.session.EXPECT().Close()

	stats, err := s.service.RunWithStats(ctx, testUserID)

	s.Require().NoError(err)
	s.True(stats.Succeeded)
	s.Equal(1, stats.Conflicts)
	s.Zero(stats.Updated)

	final := s.channel.last()
	s.Equal(domain.StageWait, final.Current.Markers[domain.MarkerUpdate])
}

func (s *SyncServiceTestSuite) TestRun_OtherFailureSkipsDraft() {
	ctx := context.Background()
	s.allowBookkeeping()

	failing := draft(1, 7, "09:00", "10:30")
	next := draft(2, 7, "10:30", "12:00")

	s.appointments.EXPECT().GetPending(ctx, testUserID).Return([]domain.Appointment{failing, next}, nil)
	s.expectAuthenticated(ctx)

	gomock.InOrder(
		s.session.EXPECT().CreateAppointment(ctx, translator.ToRemoteShape(failing), gomock.Any()).
			Return(&domain.RemoteFailure{Reason: "Projeto encerrado."}),
		s.session.EXPECT().CreateAppointment(ctx, translator.ToRemoteShape(next), gomock.Any()).DoAndReturn(fillForm),
		s.session.EXPECT().SearchAndFetchDetail(ctx, translator.ToRemoteShape(next), gomock.Any()).Return(resultFor(next, "8002"), nil),
		s.appointments.EXPECT().UpdateSynced(ctx, gomock.Any()).Return(nil),
	)
	s.session.EXPECT().Close()

	stats, err := s.service.RunWithStats(ctx, testUserID)

	s.Require().NoError(err)
	s.True(stats.Succeeded)
	s.Equal(1, stats.Failed)
	s.Equal(1, stats.Saved)
	s.Equal(1, stats.Updated)

	var failed *domain.AppointmentProgress
	for _, state := range s.channel.snapshots() {
		if state.Current != nil && state.Current.Display.ID == failing.ID {
			failed = state.Current
		}
	}
	s.Require().NotNil(failed)
	s.Equal("Projeto encerrado.", failed.Message)
	for _, m := range domain.FieldMarkers {
		s.Equal(domain.StageFail, failed.Markers[m], "marker %s", m)
	}
	s.Equal(domain.StageFail, failed.Markers[domain.MarkerSaveInAzure])
	s.Equal(domain.StageWait, failed.Markers[domain.MarkerSearch])
}

func (s *SyncServiceTestSuite) TestRun_FailureWithoutMatchLeavesCounters() {
	ctx := context.Background()
	s.allowBookkeeping()

	d := draft(1, 7, "09:00", "10:30")

	s.appointments.EXPECT().GetPending(ctx, testUserID).Return([]domain.Appointment{d}, nil)
	s.expectAuthenticated(ctx)
	s.session.EXPECT().CreateAppointment(ctx, gomock.Any(), gomock.Any()).
		Return(&domain.RemoteFailure{Err: errors.New("fill client: context deadline exceeded")})
	s.session.EXPECT().Close()

	stats, err := s.service.RunWithStats(ctx, testUserID)

	s.Require().NoError(err)
	s.True(stats.Succeeded)
	s.Zero(stats.Saved)
	s.Zero(stats.Updated)
	s.Equal(1, stats.Failed)
	s.Equal(1, s.channel.last().Saving)
}

func (s *SyncServiceTestSuite) TestRun_CreatedButNotFound() {
	ctx := context.Background()
	s.allowBookkeeping()

	d := draft(1, 7, "09:00", "10:30")

	s.appointments.EXPECT().GetPending(ctx, testUserID).Return([]domain.Appointment{d}, nil)
	s.expectAuthenticated(ctx)
	s.session.EXPECT().CreateAppointment(ctx, gomock.Any(), gomock.Any()).Return(nil)
	s.session.EXPECT().SearchAndFetchDetail(ctx, gomock.Any(), gomock.Any()).Return(nil, nil)
	s.session.EXPECT().Close()

	stats, err := s.service.RunWithStats(ctx, testUserID)

	s.Require().NoError(err)
	s.Equal(1, stats.Saved)
	s.Zero(stats.Updated)
}

func (s *SyncServiceTestSuite) TestRun_UpdateFailureMarksUpdate() {
	ctx := context.Background()
	s.allowBookkeeping()

	d := draft(1, 7, "09:00", "10:30")

	s.appointments.EXPECT().GetPending(ctx, testUserID).Return([]domain.Appointment{d}, nil)
	s.expectAuthenticated(ctx)
	s.session.EXPECT().CreateAppointment(ctx, gomock.Any(), gomock.Any()).Return(nil)
	s.session.EXPECT().SearchAndFetchDetail(ctx, gomock.Any(), gomock.Any()).Return(resultFor(d, "8001"), nil)
	s.appointments.EXPECT().UpdateSynced(ctx, gomock.Any()).Return(errors.New("deadlock detected"))
	s.session.EXPECT().Close()

	stats, err := s.service.RunWithStats(ctx, testUserID)

	s.Require().NoError(err)
	s.True(stats.Succeeded)
	s.Equal(1, stats.Saved)
	s.Zero(stats.Updated)
	s.Equal(domain.StageFail, s.channel.last().Current.Markers[domain.MarkerUpdate])
}

func (s *SyncServiceTestSuite) TestRun_SkipsNonDrafts() {
	ctx := context.Background()
	s.allowBookkeeping()

	approved := draft(1, 7, "08:00", "09:00")
	approved.Status = domain.StatusApproved
	pending := draft(2, 7, "09:00", "10:30")

	s.appointments.EXPECT().GetPending(ctx, testUserID).Return([]domain.Appointment{approved, pending}, nil)
	s.expectAuthenticated(ctx)
	s.session.EXPECT().CreateAppointment(ctx, translator.ToRemoteShape(pending), gomock.Any()).Return(nil)
	s.session.EXPECT().SearchAndFetchDetail(ctx, gomock.Any(), gomock.Any()).Return(resultFor(pending, "8002"), nil)
	s.appointments.EXPECT().UpdateSynced(ctx, gomock.Any()).Return(nil)
	s.session.EXPECT().Close()

	stats, err := s.service.RunWithStats(ctx, testUserID)

	s.Require().NoError(err)
	s.Equal(1, stats.Pending)
	s.Equal(1, stats.Saved)
	for _, state := range s.channel.snapshots() {
		if state.Current != nil {
			s.NotEqual(approved.ID, state.Current.Display.ID)
		}
	}

	final := s.channel.last()
	s.Equal(1, final.Saving)
	s.Equal(1, final.Saved)
}

func (s *SyncServiceTestSuite) TestRun_OnlyNonDraftsSkipsAuthentication() {
	ctx := context.Background()
	s.allowBookkeeping()

	approved := draft(1, 7, "08:00", "09:00")
	approved.Status = domain.StatusApproved

	s.appointments.EXPECT().GetPending(ctx, testUserID).Return([]domain.Appointment{approved}, nil)
	s.session.EXPECT().Close()

	stats, err := s.service.RunWithStats(ctx, testUserID)

	s.Require().NoError(err)
	s.True(stats.Succeeded)
	s.Zero(stats.Pending)
	final := s.channel.last()
	s.Equal(domain.StageOk, final.Auth)
	s.Zero(final.Saving)
	s.Nil(final.Current)
}

func (s *SyncServiceTestSuite) TestRun_StopsBetweenDraftsWhenCancelled() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.allowBookkeeping()

	first := draft(1, 7, "09:00", "10:30")
	second := draft(2, 7, "10:30", "12:00")

	s.appointments.EXPECT().GetPending(ctx, testUserID).Return([]domain.Appointment{first, second}, nil)
	s.expectAuthenticated(ctx)
	s.session.EXPECT().CreateAppointment(ctx, translator.ToRemoteShape(first), gomock.Any()).DoAndReturn(
		func(context.Context, domain.RemoteAppointment, domain.Reporter) error {
			cancel()
			return nil
		},
	)
	s.session.EXPECT().SearchAndFetchDetail(ctx, gomock.Any(), gomock.Any()).Return(resultFor(first, "8001"), nil)
	s.appointments.EXPECT().UpdateSynced(ctx, gomock.Any()).Return(nil)
	s.session.EXPECT().Close()

	stats, err := s.service.RunWithStats(ctx, testUserID)

	s.Require().NoError(err)
	s.False(stats.Succeeded)
	s.Equal(1, stats.Saved)

	final := s.channel.last()
	s.True(final.Done)
	s.False(final.Succeeded)
}

func (s *SyncServiceTestSuite) TestRun_RecoversFromPanic() {
	ctx := context.Background()
	s.allowBookkeeping()

	s.appointments.EXPECT().GetPending(ctx, testUserID).Return([]domain.Appointment{draft(1, 7, "09:00", "10:30")}, nil)
	s.expectAuthenticated(ctx)
	s.session.EXPECT().CreateAppointment(ctx, gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, domain.RemoteAppointment, domain.Reporter) error {
			panic("target closed")
		},
	)
	s.session.EXPECT().Close()

	s.False(s.service.Run(ctx, testUserID))
	s.True(s.channel.last().Done)
	s.False(s.service.Running(testUserID))
}

func (s *SyncServiceTestSuite) TestRun_RecordsAndPublishesReport() {
	ctx := context.Background()

	d := draft(1, 7, "09:00", "10:30")

	s.appointments.EXPECT().GetPending(ctx, testUserID).Return([]domain.Appointment{d}, nil)
	s.expectAuthenticated(ctx)
	s.session.EXPECT().CreateAppointment(ctx, gomock.Any(), gomock.Any()).Return(nil)
	s.session.EXPECT().SearchAndFetchDetail(ctx, gomock.Any(), gomock.Any()).Return(resultFor(d, "8001"), nil)
	s.appointments.EXPECT().UpdateSynced(ctx, gomock.Any()).Return(nil)
	s.session.EXPECT().Close()

	s.txManager.EXPECT().WithTransaction(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		},
	)
	s.runs.EXPECT().Get(gomock.Any(), testUserID).Return(&domain.SyncRun{
		ID:           5,
		UserID:       testUserID,
		TotalSaved:   10,
		TotalUpdated: 9,
	}, nil)
	s.runs.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, run *domain.SyncRun) error {
			s.Equal(int64(5), run.ID)
			s.Equal(int64(11), run.TotalSaved)
			s.Equal(int64(10), run.TotalUpdated)
			s.True(run.LastSucceeded)
			s.NotEmpty(run.LastRunID)
			return nil
		},
	)
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, report *domain.RunReport) error {
			s.Equal(testUserID, report.UserID)
			s.True(report.Succeeded)
			s.Equal(1, report.Pending)
			s.Equal(1, report.Saved)
			s.Equal(1, report.Updated)
			return nil
		},
	)
	s.metrics.EXPECT().AppointmentProcessed(string(OutcomeCreated))
	s.metrics.EXPECT().RunFinished(true, gomock.Any())

	s.True(s.service.Run(ctx, testUserID))
}

func (s *SyncServiceTestSuite) TestRun_BookkeepingErrorsDoNotFailRun() {
	ctx := context.Background()

	s.appointments.EXPECT().GetPending(ctx, testUserID).Return(nil, nil)
	s.session.EXPECT().Close()
	s.txManager.EXPECT().WithTransaction(gomock.Any(), gomock.Any()).Return(errors.New("tx aborted"))
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(errors.New("channel closed"))
	s.metrics.EXPECT().RunFinished(true, gomock.Any())

	s.True(s.service.Run(ctx, testUserID))
}

func (s *SyncServiceTestSuite) TestStart_RejectsConcurrentRun() {
	ctx := context.Background()
	s.allowBookkeeping()

	entered := make(chan struct{})
	release := make(chan struct{})

	s.appointments.EXPECT().GetPending(gomock.Any(), testUserID).DoAndReturn(
		func(context.Context, int64) ([]domain.Appointment, error) {
			close(entered)
			<-release
			return nil, nil
		},
	)
	s.session.EXPECT().Close()

	runID, err := s.service.Start(ctx, testUserID)
	s.Require().NoError(err)
	s.NotEmpty(runID)

	<-entered
	s.True(s.service.Running(testUserID))

	_, err = s.service.RunWithStats(ctx, testUserID)
	s.ErrorIs(err, domain.ErrRunInProgress)

	_, err = s.service.Start(ctx, testUserID)
	s.ErrorIs(err, domain.ErrRunInProgress)

	s.False(s.service.Run(ctx, testUserID))

	close(release)
	s.service.Wait()

	s.False(s.service.Running(testUserID))
	s.Equal(runID, s.channel.last().RunID)
}

// assertNoOkToLoad checks that a field marker never goes from Ok straight
// back to Load without first being reset to Wait.
func (s *SyncServiceTestSuite) assertNoOkToLoad(states []domain.ProgressState) {
	previous := make(map[domain.Marker]domain.Stage)
	for _, state := range states {
		if state.Current == nil {
			continue
		}
		for _, m := range domain.FieldMarkers {
			stage := state.Current.Markers[m]
			if previous[m] == domain.StageOk {
				s.NotEqual(domain.StageLoad, stage, "marker %s went from Ok to Load", m)
			}
			previous[m] = stage
		}
	}
}
