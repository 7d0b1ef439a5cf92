package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ifuryst/cadence/internal/config"
	"github.com/ifuryst/cadence/internal/models"
	"github.com/ifuryst/cadence/internal/service"
)

type fakeStore struct {
	mu     sync.Mutex
	items  map[uint]models.ContentItem
	events []models.TransitionEvent
	nextID uint
}

func newFakeStore(items ...models.ContentItem) *fakeStore {
	s := &fakeStore{items: map[uint]models.ContentItem{}}
	for _, it := range items {
		s.items[it.ID] = it
		if it.ID > s.nextID {
			s.nextID = it.ID
		}
	}
	return s
}

func (s *fakeStore) Get(ctx context.Context, id uint) (*models.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", service.ErrItemNotFound, id)
	}
	return &it, nil
}

func (s *fakeStore) List(ctx context.Context, f service.ItemFilter) ([]models.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ContentItem
	for _, it := range s.items {
		if f.DueAt != nil && (it.Status != models.StatusScheduled || it.ScheduledFor.After(*f.DueAt)) {
			continue
		}
		if len(f.Statuses) > 0 {
			match := false
			for _, st := range f.Statuses {
				match = match || st == it.Status
			}
			if !match {
				continue
			}
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) Update(ctx context.Context, id uint, expected models.Status, patch service.ItemPatch) (*models.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return nil, service.ErrItemNotFound
	}
	if it.Status != expected {
		return nil, service.ErrStaleItemState
	}
	it.Status, it.ScheduledFor, it.PublishedAt = patch.Status, patch.ScheduledFor, patch.PublishedAt
	s.items[id] = it
	s.events = append(s.events, models.TransitionEvent{ItemID: id, FromStatus: expected, ToStatus: patch.Status, Source: patch.Source})
	return &it, nil
}

func (s *fakeStore) Create(ctx context.Context, item *models.ContentItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	item.ID = s.nextID
	s.items[item.ID] = *item
	return nil
}

func (s *fakeStore) History(ctx context.Context, id uint) ([]models.TransitionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TransitionEvent
	for _, e := range s.events {
		if e.ItemID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) set(it models.ContentItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[it.ID] = it
}

type fakeErrorLog struct {
	logs     []models.ErrorLog
	resolved []uint
}

func (f *fakeErrorLog) RecordError(level, source, title, message string, options ...service.ErrorLogOption) error {
	e := models.ErrorLog{ID: uint(len(f.logs) + 1), Level: level, Source: source, Title: title, Message: message}
	for _, opt := range options {
		opt(&e)
	}
	f.logs = append(f.logs, e)
	return nil
}

func (f *fakeErrorLog) CleanupOldData(int) error { return nil }

func (f *fakeErrorLog) GetRecentErrors(limit int, includeResolved bool) ([]models.ErrorLog, error) {
	return f.logs, nil
}

func (f *fakeErrorLog) ResolveError(id uint) error {
	if int(id) > len(f.logs) {
		return service.ErrErrorLogNotFound
	}
	f.resolved = append(f.resolved, id)
	return nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return cfg
}

func newTestServer(t *testing.T, store service.ContentStore, errLog ErrorLog) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv, err := New(testConfig(), zap.NewNop(), store, errLog)
	require.NoError(t, err)
	return srv
}

func do(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func futureDay(days int) time.Time {
	return time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, days)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, newFakeStore(), nil)
	w := do(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestCreateAndTransitionItem(t *testing.T) {
	store := newFakeStore()
	srv := newTestServer(t, store, nil)

	w := do(t, srv, http.MethodPost, "/api/v1/items", gin.H{"title": "First Post", "category": "notes"})
	require.Equal(t, http.StatusCreated, w.Code)
	var created models.ContentItem
	decode(t, w, &created)
	require.Equal(t, models.StatusDraft, created.Status)
	require.Equal(t, "first-post", created.Slug)

	at := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
	w = do(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/items/%d/transition", created.ID), gin.H{"to": "scheduled", "at": at})
	require.Equal(t, http.StatusOK, w.Code)
	var scheduled models.ContentItem
	decode(t, w, &scheduled)
	require.Equal(t, models.StatusScheduled, scheduled.Status)
	require.True(t, scheduled.ScheduledFor.Equal(at))

	w = do(t, srv, http.MethodGet, fmt.Sprintf("/api/v1/items/%d/history", created.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"to_status":"scheduled"`)

	w = do(t, srv, http.MethodGet, "/api/v1/items?status=scheduled", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Items []models.ContentItem `json:"items"`
	}
	decode(t, w, &list)
	require.Len(t, list.Items, 1)
}

func TestTransitionErrorsMapToStatusCodes(t *testing.T) {
	published := time.Now().Add(-time.Hour)
	store := newFakeStore(
		models.ContentItem{ID: 1, Status: models.StatusDraft},
		models.ContentItem{ID: 2, Status: models.StatusPublished, PublishedAt: &published},
	)
	srv := newTestServer(t, store, nil)

	cases := []struct {
		name   string
		path   string
		body   gin.H
		status int
		code   string
	}{
		{"past schedule", "/api/v1/items/1/transition", gin.H{"to": "scheduled", "at": time.Now().Add(-time.Hour)}, http.StatusUnprocessableEntity, "invalid_schedule_time"},
		{"missing at", "/api/v1/items/1/transition", gin.H{"to": "scheduled"}, http.StatusBadRequest, "bad_request"},
		{"unknown status", "/api/v1/items/1/transition", gin.H{"to": "archived"}, http.StatusBadRequest, "bad_request"},
		{"unpublish", "/api/v1/items/2/transition", gin.H{"to": "draft"}, http.StatusUnprocessableEntity, "unsupported_transition"},
		{"missing item", "/api/v1/items/9/transition", gin.H{"to": "published"}, http.StatusNotFound, "item_not_found"},
		{"bad id", "/api/v1/items/abc/transition", gin.H{"to": "published"}, http.StatusBadRequest, "bad_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, srv, http.MethodPost, tc.path, tc.body)
			require.Equal(t, tc.status, w.Code)
			var body errorBody
			decode(t, w, &body)
			require.Equal(t, tc.code, body.Error)
			require.NotEmpty(t, body.Message)
		})
	}
}

func TestRescheduleFlow(t *testing.T) {
	from := futureDay(5).Add(9 * time.Hour)
	store := newFakeStore(models.ContentItem{ID: 2, Title: "B", Status: models.StatusScheduled, ScheduledFor: &from})
	srv := newTestServer(t, store, nil)
	revision := srv.Calendar.Revision()

	target := futureDay(8)
	w := do(t, srv, http.MethodPost, "/api/v1/reschedule", gin.H{"item_id": 2, "target_date": target.Format("2006-01-02")})
	require.Equal(t, http.StatusCreated, w.Code)
	var proposed struct {
		Token   string          `json:"token"`
		Pending service.Pending `json:"pending"`
	}
	decode(t, w, &proposed)
	require.NotEmpty(t, proposed.Token)
	require.Equal(t, 1, srv.pending.Len())

	w = do(t, srv, http.MethodPost, "/api/v1/reschedule/"+proposed.Token+"/confirm", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var item models.ContentItem
	decode(t, w, &item)
	require.True(t, item.ScheduledFor.Equal(target.Add(9*time.Hour)))
	require.Zero(t, srv.pending.Len())
	require.Greater(t, srv.Calendar.Revision(), revision)

	// A token can only be used once.
	w = do(t, srv, http.MethodPost, "/api/v1/reschedule/"+proposed.Token+"/confirm", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRescheduleSameDayIsNoop(t *testing.T) {
	from := futureDay(5).Add(9 * time.Hour)
	srv := newTestServer(t, newFakeStore(models.ContentItem{ID: 2, Status: models.StatusScheduled, ScheduledFor: &from}), nil)

	w := do(t, srv, http.MethodPost, "/api/v1/reschedule", gin.H{"item_id": 2, "target_date": from.Format("2006-01-02")})
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"noop":true}`, w.Body.String())
	require.Zero(t, srv.pending.Len())
}

func TestRescheduleConfirmConflictsAfterExternalChange(t *testing.T) {
	from := futureDay(5).Add(9 * time.Hour)
	store := newFakeStore(models.ContentItem{ID: 5, Status: models.StatusScheduled, ScheduledFor: &from})
	srv := newTestServer(t, store, nil)

	w := do(t, srv, http.MethodPost, "/api/v1/reschedule", gin.H{"item_id": 5, "target_date": futureDay(9).Format("2006-01-02")})
	require.Equal(t, http.StatusCreated, w.Code)
	var proposed struct {
		Token string `json:"token"`
	}
	decode(t, w, &proposed)

	published := time.Now()
	store.set(models.ContentItem{ID: 5, Status: models.StatusPublished, PublishedAt: &published})

	w = do(t, srv, http.MethodPost, "/api/v1/reschedule/"+proposed.Token+"/confirm", nil)
	require.Equal(t, http.StatusConflict, w.Code)
	var body errorBody
	decode(t, w, &body)
	require.Equal(t, "stale_item_state", body.Error)
}

func TestRescheduleCancelIsIdempotent(t *testing.T) {
	srv := newTestServer(t, newFakeStore(models.ContentItem{ID: 1, Status: models.StatusDraft}), nil)

	w := do(t, srv, http.MethodPost, "/api/v1/reschedule", gin.H{"item_id": 1, "target_date": futureDay(3).Format("2006-01-02")})
	require.Equal(t, http.StatusCreated, w.Code)
	var proposed struct {
		Token string `json:"token"`
	}
	decode(t, w, &proposed)

	for i := 0; i < 2; i++ {
		w = do(t, srv, http.MethodDelete, "/api/v1/reschedule/"+proposed.Token, nil)
		require.Equal(t, http.StatusNoContent, w.Code)
	}
	require.Zero(t, srv.pending.Len())
}

func TestRescheduleRejectsBadInput(t *testing.T) {
	srv := newTestServer(t, newFakeStore(), nil)

	w := do(t, srv, http.MethodPost, "/api/v1/reschedule", gin.H{"item_id": 1, "target_date": "next tuesday"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, http.MethodPost, "/api/v1/reschedule", gin.H{"item_id": 1, "target_date": futureDay(1).Format("2006-01-02")})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestCalendarEndpoint(t *testing.T) {
	start := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	a := start.AddDate(0, 0, 2).Add(9 * time.Hour)
	store := newFakeStore(
		models.ContentItem{ID: 1, Status: models.StatusScheduled, ScheduledFor: &a},
		models.ContentItem{ID: 3, Status: models.StatusDraft},
	)
	srv := newTestServer(t, store, nil)

	w := do(t, srv, http.MethodGet, "/api/v1/calendar?start=2025-12-01&end=2025-12-07", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view struct {
		Weeks []struct {
			Theme     string `json:"theme"`
			PostCount int    `json:"post_count"`
		} `json:"weeks"`
		Unscheduled []models.ContentItem `json:"unscheduled"`
	}
	decode(t, w, &view)
	require.Len(t, view.Weeks, 1)
	require.Equal(t, "Foundations", view.Weeks[0].Theme)
	require.Equal(t, 1, view.Weeks[0].PostCount)
	require.Len(t, view.Unscheduled, 1)

	w = do(t, srv, http.MethodGet, "/api/v1/calendar?start=2025-12-07&end=2025-12-01", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	var body errorBody
	decode(t, w, &body)
	require.Equal(t, "invalid_range", body.Error)
}

func TestPublishDueEndpoint(t *testing.T) {
	due := time.Now().Add(-time.Minute)
	store := newFakeStore(models.ContentItem{ID: 3, Status: models.StatusScheduled, ScheduledFor: &due})
	srv := newTestServer(t, store, &fakeErrorLog{})

	w := do(t, srv, http.MethodPost, "/api/v1/publish/due", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var report service.PublishReport
	decode(t, w, &report)
	require.Equal(t, []uint{3}, report.Published)

	item, err := store.Get(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, models.StatusPublished, item.Status)
}

func TestErrorLogEndpoints(t *testing.T) {
	errLog := &fakeErrorLog{}
	require.NoError(t, errLog.RecordError("ERROR", "trigger", "Failed to publish item 1", "boom", service.WithItem(1)))
	srv := newTestServer(t, newFakeStore(), errLog)

	w := do(t, srv, http.MethodGet, "/api/v1/errors", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Failed to publish item 1")

	w = do(t, srv, http.MethodPost, "/api/v1/errors/1/resolve", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, []uint{1}, errLog.resolved)

	w = do(t, srv, http.MethodPost, "/api/v1/errors/5/resolve", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	noLog := newTestServer(t, newFakeStore(), nil)
	w = do(t, noLog, http.MethodGet, "/api/v1/errors", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, newFakeStore(models.ContentItem{ID: 1, Status: models.StatusDraft}), nil)
	do(t, srv, http.MethodPost, "/api/v1/items/1/transition", gin.H{"to": "published"})

	w := do(t, srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `cadence_transitions_total{from="draft",source="api",to="published"} 1`)
}

func TestAuthRequiredWhenSecretConfigured(t *testing.T) {
	secret, _, err := service.GenerateSecret("cadence", "admin")
	require.NoError(t, err)
	cfg := testConfig()
	cfg.Auth.TOTPSecret = secret
	gin.SetMode(gin.TestMode)
	srv, err := New(cfg, zap.NewNop(), newFakeStore(), nil)
	require.NoError(t, err)

	w := do(t, srv, http.MethodGet, "/api/v1/items", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, srv, http.MethodPost, "/api/v1/auth/login", gin.H{"code": "000000"})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	token := srv.Auth.CreateSession()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/items", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Health and metrics stay open.
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/health", nil).Code)
}
