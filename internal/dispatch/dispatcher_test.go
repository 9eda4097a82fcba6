package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/obialo/tutornotify/internal/adapters"
	"github.com/obialo/tutornotify/internal/directory"
	"github.com/obialo/tutornotify/internal/models"
	"github.com/obialo/tutornotify/internal/resolve"
	"github.com/obialo/tutornotify/internal/store"
	"github.com/obialo/tutornotify/internal/track"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Mock broker publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishEmail(ctx context.Context, message interface{}) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func (m *MockPublisher) PublishSms(ctx context.Context, message interface{}) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

// Stub scheduler recording what was deferred
type stubScheduler struct {
	scheduled []string
	at        []time.Time
}

func (s *stubScheduler) ScheduleDispatch(_ context.Context, notificationID string, at time.Time) error {
	s.scheduled = append(s.scheduled, notificationID)
	s.at = append(s.at, at)
	return nil
}

type fixture struct {
	dispatcher *Dispatcher
	store      *store.Store
	publisher  *MockPublisher
	scheduler  *stubScheduler
	inApp      *adapters.Memory
}

func newFixture(t *testing.T, dir directory.Directory) *fixture {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	st := store.NewStore(rdb, zap.NewNop())
	tracker := track.NewTracker(st, zap.NewNop())
	resolver := resolve.NewResolver(dir, zap.NewNop())
	publisher := new(MockPublisher)
	sched := &stubScheduler{}
	inApp := adapters.NewMemory(models.ChannelInApp)

	return &fixture{
		dispatcher: NewDispatcher(st, resolver, tracker, publisher, inApp, sched, zap.NewNop()),
		store:      st,
		publisher:  publisher,
		scheduler:  sched,
		inApp:      inApp,
	}
}

func threeTeachers() *directory.Memory {
	return directory.NewMemory(
		directory.User{ID: "t1", Role: "teacher", Active: true},
		directory.User{ID: "t2", Role: "teacher", Active: true},
		directory.User{ID: "t3", Role: "teacher", Active: true},
	)
}

func TestCreate_FanOutPerRecipientPerChannel(t *testing.T) {
	f := newFixture(t, threeTeachers())
	f.publisher.On("PublishEmail", mock.Anything, mock.Anything).Return(nil)

	n, res, err := f.dispatcher.Create(context.Background(), models.CreateNotificationRequest{
		Title:     "Staff meeting",
		Body:      "Tomorrow at noon",
		Targeting: models.TargetingSpec{Mode: models.TargetRoles, Roles: []string{"teacher"}},
		Channels:  []models.Channel{models.ChannelInApp, models.ChannelEmail},
	}, "admin1", "corr1")

	require.NoError(t, err)
	assert.Equal(t, models.StatusSending, n.Status)
	assert.Equal(t, 3, res.Recipients)
	assert.Equal(t, 6, res.Records)

	records, err := f.store.ListRecords(context.Background(), n.ID)
	require.NoError(t, err)
	require.Len(t, records, 6)
	for _, rec := range records {
		assert.Equal(t, models.RecordPending, rec.Status)
	}
	f.publisher.AssertNumberOfCalls(t, "PublishEmail", 3)
	assert.Len(t, f.inApp.Sent(), 3)
}

func TestCreate_ScheduleInPast_NoSideEffects(t *testing.T) {
	f := newFixture(t, threeTeachers())
	past := time.Now().Add(-time.Minute)

	_, _, err := f.dispatcher.Create(context.Background(), models.CreateNotificationRequest{
		Title:       "Too late",
		Body:        "x",
		Targeting:   models.TargetingSpec{Mode: models.TargetAll},
		Channels:    []models.Channel{models.ChannelInApp},
		ScheduledAt: &past,
	}, "admin1", "corr1")

	assert.True(t, errors.Is(err, ErrScheduleInPast))
	assert.Empty(t, f.scheduler.scheduled)
	assert.Empty(t, f.inApp.Sent())
	f.publisher.AssertNotCalled(t, "PublishEmail")
}

func TestCreate_FutureSchedule_DefersDispatch(t *testing.T) {
	f := newFixture(t, threeTeachers())
	future := time.Now().Add(time.Hour)

	n, res, err := f.dispatcher.Create(context.Background(), models.CreateNotificationRequest{
		Title:       "Reminder",
		Body:        "x",
		Targeting:   models.TargetingSpec{Mode: models.TargetAll},
		Channels:    []models.Channel{models.ChannelInApp},
		ScheduledAt: &future,
	}, "admin1", "corr1")

	require.NoError(t, err)
	assert.Equal(t, models.StatusScheduled, n.Status)
	assert.Zero(t, res.Records)
	require.Len(t, f.scheduler.scheduled, 1)
	assert.Equal(t, n.ID, f.scheduler.scheduled[0])

	records, err := f.store.ListRecords(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestExecute_RunsDueScheduledDispatch(t *testing.T) {
	f := newFixture(t, threeTeachers())
	future := time.Now().Add(time.Hour)

	n, _, err := f.dispatcher.Create(context.Background(), models.CreateNotificationRequest{
		Title:       "Reminder",
		Body:        "x",
		Targeting:   models.TargetingSpec{Mode: models.TargetAll},
		Channels:    []models.Channel{models.ChannelInApp},
		ScheduledAt: &future,
	}, "admin1", "corr1")
	require.NoError(t, err)

	// Trigger firing early is rejected for a retry.
	_, err = f.dispatcher.Execute(context.Background(), n.ID)
	assert.True(t, errors.Is(err, ErrNotDue))

	// At the due time the same execution path sends.
	f.dispatcher.now = func() time.Time { return future.Add(time.Second) }
	res, err := f.dispatcher.Execute(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Records)

	// A duplicate trigger is a no-op once the status moved on.
	res, err = f.dispatcher.Execute(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Zero(t, res.Records)
}

func TestCreate_RendersTemplateOnce(t *testing.T) {
	f := newFixture(t, threeTeachers())
	require.NoError(t, f.store.SaveTemplate(context.Background(), &models.Template{
		Name:         "balance",
		TitlePattern: "Hello [Name]",
		BodyPattern:  "Your balance is [Amount]",
		Active:       true,
	}))

	n, res, err := f.dispatcher.Create(context.Background(), models.CreateNotificationRequest{
		Template:  "balance",
		Values:    map[string]string{"Name": "Aisha"},
		Targeting: models.TargetingSpec{Mode: models.TargetUserIDs, UserIDs: []string{"t1"}},
		Channels:  []models.Channel{models.ChannelInApp},
	}, "admin1", "corr1")

	require.NoError(t, err)
	assert.Equal(t, "Hello Aisha", n.Title)
	assert.Equal(t, "Your balance is [Amount]", n.Body)
	assert.Equal(t, []string{"Amount"}, res.Unresolved)
}

func TestCreate_LiteralValuesReportUnresolvedMerged(t *testing.T) {
	f := newFixture(t, threeTeachers())

	_, res, err := f.dispatcher.Create(context.Background(), models.CreateNotificationRequest{
		Title:     "Hi [Name], invoice [Ref]",
		Body:      "[Amount] due from [Name]",
		Values:    map[string]string{"Ref": "INV-7"},
		Targeting: models.TargetingSpec{Mode: models.TargetUserIDs, UserIDs: []string{"t1"}},
		Channels:  []models.Channel{models.ChannelInApp},
	}, "admin1", "corr1")

	require.NoError(t, err)
	assert.Equal(t, []string{"Amount", "Name"}, res.Unresolved,
		"title and body sets merge sorted and deduplicated, same as the template path")
}

func TestCreate_InactiveTemplateRejected(t *testing.T) {
	f := newFixture(t, threeTeachers())
	require.NoError(t, f.store.SaveTemplate(context.Background(), &models.Template{
		Name:         "old",
		TitlePattern: "t",
		BodyPattern:  "b",
		Active:       false,
	}))

	_, _, err := f.dispatcher.Create(context.Background(), models.CreateNotificationRequest{
		Template:  "old",
		Targeting: models.TargetingSpec{Mode: models.TargetAll},
		Channels:  []models.Channel{models.ChannelInApp},
	}, "admin1", "corr1")

	assert.True(t, errors.Is(err, ErrTemplateInactive))
}

func TestDispatch_DirectoryDownCreatesNoRecords(t *testing.T) {
	f := newFixture(t, failingDirectory{})

	n, _, err := f.dispatcher.Create(context.Background(), models.CreateNotificationRequest{
		Title:     "x",
		Body:      "y",
		Targeting: models.TargetingSpec{Mode: models.TargetAll},
		Channels:  []models.Channel{models.ChannelInApp, models.ChannelEmail},
	}, "admin1", "corr1")

	assert.True(t, errors.Is(err, directory.ErrUnavailable))
	assert.Nil(t, n)
}

func TestDispatch_ChannelFailureIsolated(t *testing.T) {
	f := newFixture(t, threeTeachers())
	f.publisher.On("PublishEmail", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	n, res, err := f.dispatcher.Create(context.Background(), models.CreateNotificationRequest{
		Title:     "x",
		Body:      "y",
		Targeting: models.TargetingSpec{Mode: models.TargetRoles, Roles: []string{"teacher"}},
		Channels:  []models.Channel{models.ChannelInApp, models.ChannelEmail},
	}, "admin1", "corr1")

	require.NoError(t, err, "one channel failing must not fail the dispatch")
	assert.Equal(t, 6, res.Records)

	records, err := f.store.ListRecords(context.Background(), n.ID)
	require.NoError(t, err)
	var failed, pending int
	for _, rec := range records {
		switch rec.Status {
		case models.RecordFailed:
			failed++
			assert.Equal(t, models.ChannelEmail, rec.Channel)
		case models.RecordPending:
			pending++
			assert.Equal(t, models.ChannelInApp, rec.Channel)
		}
	}
	assert.Equal(t, 3, failed)
	assert.Equal(t, 3, pending)
	// In-app deliveries went through regardless.
	assert.Len(t, f.inApp.Sent(), 3)
}

func TestResend_TargetsOnlyUnreachedRecords(t *testing.T) {
	f := newFixture(t, threeTeachers())
	f.publisher.On("PublishEmail", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	n, _, err := f.dispatcher.Create(ctx, models.CreateNotificationRequest{
		Title:     "x",
		Body:      "y",
		Targeting: models.TargetingSpec{Mode: models.TargetRoles, Roles: []string{"teacher"}},
		Channels:  []models.Channel{models.ChannelEmail},
	}, "admin1", "corr1")
	require.NoError(t, err)

	// t1's email got delivered; t2 and t3 stayed pending.
	tracker := track.NewTracker(f.store, zap.NewNop())
	recID, err := f.store.FindRecordID(ctx, n.ID, "t1", models.ChannelEmail)
	require.NoError(t, err)
	_, err = tracker.MarkDelivered(ctx, recID)
	require.NoError(t, err)

	res, err := f.dispatcher.Resend(ctx, n.ID, "corr2")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Records, "delivered record must be skipped")
	f.publisher.AssertNumberOfCalls(t, "PublishEmail", 5) // 3 initial + 2 resent
}

func TestRun_AlreadySentRejectedWithoutResend(t *testing.T) {
	f := newFixture(t, threeTeachers())
	ctx := context.Background()

	n, _, err := f.dispatcher.Create(ctx, models.CreateNotificationRequest{
		Title:     "x",
		Body:      "y",
		Targeting: models.TargetingSpec{Mode: models.TargetUserIDs, UserIDs: []string{"t1"}},
		Channels:  []models.Channel{models.ChannelInApp},
	}, "admin1", "corr1")
	require.NoError(t, err)

	require.NoError(t, f.store.UpdateNotificationStatus(ctx, n.ID, models.StatusSent))
	n.Status = models.StatusSent

	_, err = f.dispatcher.run(ctx, n, "corr2", false)
	assert.True(t, errors.Is(err, ErrAlreadyDispatched))
}

type failingDirectory struct{}

func (failingDirectory) Lookup(context.Context, []string) ([]directory.User, error) {
	return nil, directory.ErrUnavailable
}
func (failingDirectory) ListByRole(context.Context, string) ([]directory.User, error) {
	return nil, directory.ErrUnavailable
}
func (failingDirectory) ListActive(context.Context) ([]directory.User, error) {
	return nil, directory.ErrUnavailable
}
