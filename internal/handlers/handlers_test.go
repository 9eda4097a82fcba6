package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/obialo/tutornotify/internal/adapters"
	"github.com/obialo/tutornotify/internal/directory"
	"github.com/obialo/tutornotify/internal/dispatch"
	"github.com/obialo/tutornotify/internal/models"
	"github.com/obialo/tutornotify/internal/push"
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

type stubScheduler struct{ scheduled int }

func (s *stubScheduler) ScheduleDispatch(context.Context, string, time.Time) error {
	s.scheduled++
	return nil
}

type testEnv struct {
	router    *gin.Engine
	store     *store.Store
	publisher *MockPublisher
	hub       *push.Hub
}

// newTestEnv wires the full handler stack against miniredis and an
// in-memory directory. In-app delivery runs the real adapter so feed
// endpoints see real inbox entries.
func newTestEnv(t *testing.T, users ...directory.User) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	logger := zap.NewNop()
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	st := store.NewStore(rdb, logger)
	tracker := track.NewTracker(st, logger)
	hub := push.NewHub(16, logger)
	t.Cleanup(hub.Close)
	resolver := resolve.NewResolver(directory.NewMemory(users...), logger)
	publisher := new(MockPublisher)
	inApp := adapters.NewInApp(st, hub, tracker, logger)
	dispatcher := dispatch.NewDispatcher(st, resolver, tracker, publisher, inApp, &stubScheduler{}, logger)

	admin := NewAdminHandler(dispatcher, st, tracker, logger)
	feed := NewFeedHandler(st, tracker, hub, logger)

	router := gin.New()
	// Stand-in for the auth middleware: the identity comes from headers.
	router.Use(func(c *gin.Context) {
		c.Set("user_id", c.GetHeader("X-Test-User"))
		c.Set("correlation_id", "test-corr")
		c.Next()
	})

	api := router.Group("/api")
	api.GET("/notifications", feed.List)
	api.POST("/notifications/read-all", feed.ReadAll)
	api.POST("/notifications/:id/read", feed.MarkRead)
	api.DELETE("/notifications/:id", feed.Delete)

	adm := api.Group("/admin")
	adm.POST("/notifications", admin.CreateNotification)
	adm.POST("/notifications/:id/resend", admin.ResendNotification)
	adm.GET("/notifications/:id/stats", admin.NotificationStats)
	adm.POST("/templates", admin.SaveTemplate)
	adm.GET("/templates", admin.ListTemplates)
	adm.POST("/templates/preview", admin.PreviewTemplate)
	adm.DELETE("/templates/:name", admin.DeleteTemplate)

	return &testEnv{router: router, store: st, publisher: publisher, hub: hub}
}

func (e *testEnv) request(t *testing.T, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", user)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func (e *testEnv) createForUser(t *testing.T, userID string) string {
	t.Helper()
	w := e.request(t, http.MethodPost, "/api/admin/notifications", "admin1", models.CreateNotificationRequest{
		Title:     "Hello",
		Body:      "World",
		Targeting: models.TargetingSpec{Mode: models.TargetUserIDs, UserIDs: []string{userID}},
		Channels:  []models.Channel{models.ChannelInApp},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeResponse(t, w)
	data := resp.Data.(map[string]interface{})
	return data["notification_id"].(string)
}

func TestCreateNotification_FanOut(t *testing.T) {
	env := newTestEnv(t,
		directory.User{ID: "t1", Role: "teacher", Active: true},
		directory.User{ID: "t2", Role: "teacher", Active: true},
	)
	env.publisher.On("PublishEmail", mock.Anything, mock.Anything).Return(nil)

	w := env.request(t, http.MethodPost, "/api/admin/notifications", "admin1", models.CreateNotificationRequest{
		Title:     "Staff meeting",
		Body:      "Noon",
		Targeting: models.TargetingSpec{Mode: models.TargetRoles, Roles: []string{"teacher"}},
		Channels:  []models.Channel{models.ChannelInApp, models.ChannelEmail},
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(2), data["recipients"])
	assert.Equal(t, float64(4), data["records"])
	assert.Equal(t, string(models.StatusSending), data["status"])
}

func TestCreateNotification_ValidationFailures(t *testing.T) {
	env := newTestEnv(t)

	// Neither template nor title/body.
	w := env.request(t, http.MethodPost, "/api/admin/notifications", "admin1", models.CreateNotificationRequest{
		Targeting: models.TargetingSpec{Mode: models.TargetAll},
		Channels:  []models.Channel{models.ChannelInApp},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Past schedule.
	past := time.Now().Add(-time.Hour)
	w = env.request(t, http.MethodPost, "/api/admin/notifications", "admin1", models.CreateNotificationRequest{
		Title:       "x",
		Body:        "y",
		Targeting:   models.TargetingSpec{Mode: models.TargetAll},
		Channels:    []models.Channel{models.ChannelInApp},
		ScheduledAt: &past,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	// Malformed JSON body.
	req := httptest.NewRequest(http.MethodPost, "/api/admin/notifications", bytes.NewBufferString("{"))
	req.Header.Set("X-Test-User", "admin1")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFeedList_ServesInboxNewestFirstWithCursor(t *testing.T) {
	env := newTestEnv(t, directory.User{ID: "u1", Role: "student", Active: true})
	first := env.createForUser(t, "u1")
	second := env.createForUser(t, "u1")

	w := env.request(t, http.MethodGet, "/api/notifications", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data []models.FeedItem `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, second, resp.Data[0].ID)
	assert.Equal(t, first, resp.Data[1].ID)

	// Cursor past the first notification's version returns only newer.
	cursor := resp.Data[1].Version
	w = env.request(t, http.MethodGet, fmt.Sprintf("/api/notifications?since=%d", cursor), "u1", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, second, resp.Data[0].ID)

	// Another user's feed stays empty.
	w = env.request(t, http.MethodGet, "/api/notifications", "u2", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Data)
}

func TestMarkRead_IdempotentAndScoped(t *testing.T) {
	env := newTestEnv(t, directory.User{ID: "u1", Role: "student", Active: true})
	id := env.createForUser(t, "u1")

	w := env.request(t, http.MethodPost, "/api/notifications/"+id+"/read", "u1", nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Re-reading is a no-op, not an error.
	w = env.request(t, http.MethodPost, "/api/notifications/"+id+"/read", "u1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// A user with no record for this notification gets 404.
	w = env.request(t, http.MethodPost, "/api/notifications/"+id+"/read", "u2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.request(t, http.MethodPost, "/api/notifications/unknown/read", "u1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReadAll_MarksOnlyUnread(t *testing.T) {
	env := newTestEnv(t, directory.User{ID: "u1", Role: "student", Active: true})
	first := env.createForUser(t, "u1")
	env.createForUser(t, "u1")

	w := env.request(t, http.MethodPost, "/api/notifications/"+first+"/read", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.request(t, http.MethodPost, "/api/notifications/read-all", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(1), data["marked"])
}

func TestDelete_HidesFromFeedKeepsRecords(t *testing.T) {
	env := newTestEnv(t, directory.User{ID: "u1", Role: "student", Active: true})
	id := env.createForUser(t, "u1")

	w := env.request(t, http.MethodDelete, "/api/notifications/"+id, "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.request(t, http.MethodGet, "/api/notifications", "u1", nil)
	var resp struct {
		Data []models.FeedItem `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Data)

	records, err := env.store.ListRecords(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, records, 1, "delivery records survive a feed delete")
}

func TestNotificationStats_Endpoint(t *testing.T) {
	env := newTestEnv(t, directory.User{ID: "u1", Role: "student", Active: true})
	id := env.createForUser(t, "u1")

	// In-app delivery settles synchronously; read it too.
	w := env.request(t, http.MethodPost, "/api/notifications/"+id+"/read", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.request(t, http.MethodGet, "/api/admin/notifications/"+id+"/stats", "admin1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	data := resp.Data.(map[string]interface{})
	stats := data["stats"].(map[string]interface{})
	assert.Equal(t, float64(1), stats["total"])
	assert.Equal(t, float64(1), stats["read"])
	assert.Equal(t, float64(1), data["open_rate"])
}

func TestResend_ConflictsAndSucceeds(t *testing.T) {
	env := newTestEnv(t, directory.User{ID: "u1", Role: "student", Active: true})
	env.publisher.On("PublishEmail", mock.Anything, mock.Anything).Return(nil)

	w := env.request(t, http.MethodPost, "/api/admin/notifications", "admin1", models.CreateNotificationRequest{
		Title:     "x",
		Body:      "y",
		Targeting: models.TargetingSpec{Mode: models.TargetUserIDs, UserIDs: []string{"u1"}},
		Channels:  []models.Channel{models.ChannelEmail},
	})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	id := resp.Data.(map[string]interface{})["notification_id"].(string)

	w = env.request(t, http.MethodPost, "/api/admin/notifications/"+id+"/resend", "admin1", nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	env.publisher.AssertNumberOfCalls(t, "PublishEmail", 2)
}

func TestTemplates_SavePreviewDelete(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/api/admin/templates", "admin1", models.Template{
		Name:         "balance",
		TitlePattern: "Hello [Name]",
		BodyPattern:  "Your balance is [Amount]",
		Active:       true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.request(t, http.MethodPost, "/api/admin/templates/preview", "admin1", models.PreviewRequest{
		Template: "balance",
		Values:   map[string]string{"Name": "Aisha"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var preview struct {
		Data models.PreviewResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &preview))
	assert.Equal(t, "Hello Aisha", preview.Data.Title)
	assert.Equal(t, "Your balance is [Amount]", preview.Data.Body)
	assert.Equal(t, []string{"Amount"}, preview.Data.Unresolved)

	w = env.request(t, http.MethodPost, "/api/admin/templates/preview", "admin1", models.PreviewRequest{
		Template: "missing",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.request(t, http.MethodDelete, "/api/admin/templates/balance", "admin1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.request(t, http.MethodGet, "/api/admin/templates", "admin1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Data []models.Template `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Empty(t, list.Data)
}

func TestCreateNotification_PushedToStreamSubscribers(t *testing.T) {
	env := newTestEnv(t, directory.User{ID: "u1", Role: "student", Active: true})

	sub := env.hub.Subscribe("u1")
	defer env.hub.Unsubscribe(sub)

	id := env.createForUser(t, "u1")
	select {
	case item := <-sub.C:
		assert.Equal(t, id, item.ID)
		assert.Equal(t, "Hello", item.Title)
	default:
		t.Fatal("in-app delivery did not reach the push hub")
	}
}
