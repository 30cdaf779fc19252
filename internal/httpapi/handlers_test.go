package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notexe/notekeeper/internal/lifecycle"
	"github.com/notexe/notekeeper/internal/metrics"
	"github.com/notexe/notekeeper/internal/notify"
	"github.com/notexe/notekeeper/internal/reminder"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type emailFake struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (e *emailFake) Channel() string { return notify.ChannelEmail }

func (e *emailFake) Send(_ context.Context, _ string, msg notify.Message) (notify.Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return notify.Receipt{}, e.err
	}
	e.sent = append(e.sent, msg)
	return notify.Receipt{Channel: notify.ChannelEmail, Ref: "msg-1", Status: "sent"}, nil
}

func (e *emailFake) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sent)
}

type testAPI struct {
	handler http.Handler
	email   *emailFake
	inbox   *notify.MemoryInbox
	now     time.Time
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	api := &testAPI{
		email: &emailFake{},
		inbox: notify.NewMemoryInbox(),
		now:   time.Now().UTC().Truncate(time.Second),
	}
	clock := func() time.Time { return api.now }
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := reminder.NewStore(filepath.Join(t.TempDir(), "reminders.db"), reminder.WithStoreClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	browser := notify.NewBrowserSender(api.inbox, notify.DefaultFormatter(), time.Second)

	engine := lifecycle.New(store, lifecycle.Channels{Email: api.email, Browser: browser}, lifecycle.DefaultConfig(),
		lifecycle.WithClock(clock),
		lifecycle.WithLogger(logger),
		lifecycle.WithMetrics(m),
	)
	api.handler = New(engine,
		WithLogger(logger),
		WithMetrics(m, reg),
		WithInbox(browser),
		WithClock(clock),
	).Handler()
	return api
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

func (a *testAPI) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

func (a *testAPI) create(t *testing.T, body map[string]any) ReminderView {
	t.Helper()
	payload := map[string]any{
		"ownerId": "owner-1",
		"title":   "Call the dentist",
		"body":    "Reschedule the cleaning",
		"dueAt":   a.now.Add(time.Hour).Format(time.RFC3339),
	}
	for k, v := range body {
		payload[k] = v
	}
	code, env := a.do(t, http.MethodPost, "/api/v1/reminders", payload)
	require.Equal(t, http.StatusCreated, code, env.Error)
	require.True(t, env.Success)

	var v ReminderView
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	w := httptest.NewRecorder()
	api.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestCreate(t *testing.T) {
	api := newTestAPI(t)

	v := api.create(t, map[string]any{"emailAddress": "pat@example.com"})
	assert.NotEmpty(t, v.ID)
	assert.Equal(t, reminder.StatusPending, v.Status)
	assert.Equal(t, reminder.ChannelEmail, v.Channel, "channel defaults from the contact given")
	assert.False(t, v.IsOverdue)
}

func TestCreate_PastDueStartsMissed(t *testing.T) {
	api := newTestAPI(t)

	v := api.create(t, map[string]any{"dueAt": api.now.Add(-time.Minute).Format(time.RFC3339)})
	assert.Equal(t, reminder.StatusMissed, v.Status)
	assert.False(t, v.IsOverdue, "only pending reminders are overdue")
}

func TestCreate_Rejected(t *testing.T) {
	api := newTestAPI(t)

	tests := []struct {
		name    string
		payload map[string]any
		wantErr string
	}{
		{
			name:    "missing title",
			payload: map[string]any{"ownerId": "owner-1", "body": "b", "dueAt": api.now.Format(time.RFC3339)},
			wantErr: "title",
		},
		{
			name: "sms without phone",
			payload: map[string]any{
				"ownerId": "owner-1", "title": "t", "body": "b",
				"dueAt": api.now.Add(time.Hour).Format(time.RFC3339), "channel": "sms",
			},
			wantErr: "phoneNumber",
		},
		{
			name:    "bad due date",
			payload: map[string]any{"ownerId": "owner-1", "title": "t", "body": "b", "dueAt": "tomorrow"},
			wantErr: "invalid request body",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := api.do(t, http.MethodPost, "/api/v1/reminders", tt.payload)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.False(t, env.Success)
			assert.Contains(t, env.Error, tt.wantErr)
		})
	}
}

func TestGet_NotFound(t *testing.T) {
	api := newTestAPI(t)

	code, env := api.do(t, http.MethodGet, "/api/v1/reminders/nope", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "not found")
}

func TestList_Filters(t *testing.T) {
	api := newTestAPI(t)
	api.create(t, map[string]any{"title": "Pay rent"})
	api.create(t, map[string]any{"title": "Water plants", "ownerId": "owner-2"})
	missed := api.create(t, map[string]any{"title": "Old task", "dueAt": api.now.Add(-time.Hour).Format(time.RFC3339)})

	code, env := api.do(t, http.MethodGet, "/api/v1/reminders?ownerId=owner-1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]ReminderView](t, env.Data), 2)

	_, env = api.do(t, http.MethodGet, "/api/v1/reminders?status=missed", nil)
	got := decode[[]ReminderView](t, env.Data)
	require.Len(t, got, 1)
	assert.Equal(t, missed.ID, got[0].ID)

	_, env = api.do(t, http.MethodGet, "/api/v1/reminders?search=plants", nil)
	assert.Len(t, decode[[]ReminderView](t, env.Data), 1)

	_, env = api.do(t, http.MethodGet, "/api/v1/reminders?automated=false", nil)
	assert.Len(t, decode[[]ReminderView](t, env.Data), 3)

	code, _ = api.do(t, http.MethodGet, "/api/v1/reminders?automated=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = api.do(t, http.MethodGet, "/api/v1/reminders?status=done", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestList_OverdueFlag(t *testing.T) {
	api := newTestAPI(t)
	r := api.create(t, map[string]any{"dueAt": api.now.Add(5 * time.Minute).Format(time.RFC3339)})

	api.now = api.now.Add(10 * time.Minute)
	code, env := api.do(t, http.MethodGet, "/api/v1/reminders/"+r.ID, nil)
	require.Equal(t, http.StatusOK, code)
	v := decode[ReminderView](t, env.Data)
	assert.Equal(t, reminder.StatusPending, v.Status)
	assert.True(t, v.IsOverdue)
}

func TestUpdate(t *testing.T) {
	api := newTestAPI(t)
	r := api.create(t, nil)

	code, env := api.do(t, http.MethodPut, "/api/v1/reminders/"+r.ID, map[string]any{"title": "Call the orthodontist"})
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Equal(t, "Call the orthodontist", decode[ReminderView](t, env.Data).Title)

	code, env = api.do(t, http.MethodPut, "/api/v1/reminders/"+r.ID, map[string]any{"title": ""})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Error, "title")
}

func TestSetStatus(t *testing.T) {
	api := newTestAPI(t)
	r := api.create(t, nil)

	code, env := api.do(t, http.MethodPut, "/api/v1/reminders/"+r.ID+"/status", map[string]any{"status": "completed"})
	require.Equal(t, http.StatusOK, code, env.Error)
	v := decode[ReminderView](t, env.Data)
	assert.Equal(t, reminder.StatusCompleted, v.Status)
	assert.False(t, v.StatusAutomated)
	assert.NotNil(t, v.CompletedAt)
	assert.Equal(t, "reminder marked as completed", env.Message)

	code, _ = api.do(t, http.MethodPut, "/api/v1/reminders/"+r.ID+"/status", map[string]any{"status": "done"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = api.do(t, http.MethodPut, "/api/v1/reminders/"+r.ID+"/status", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestDelete(t *testing.T) {
	api := newTestAPI(t)
	r := api.create(t, nil)

	code, _ := api.do(t, http.MethodDelete, "/api/v1/reminders/"+r.ID, nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = api.do(t, http.MethodGet, "/api/v1/reminders/"+r.ID, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = api.do(t, http.MethodDelete, "/api/v1/reminders/"+r.ID, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestNotify(t *testing.T) {
	api := newTestAPI(t)
	r := api.create(t, map[string]any{"emailAddress": "pat@example.com"})

	code, env := api.do(t, http.MethodPost, "/api/v1/reminders/"+r.ID+"/notify", nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	report := decode[lifecycle.DispatchReport](t, env.Data)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, notify.ChannelEmail, report.Outcomes[0].Channel)
	assert.Equal(t, 1, api.email.count())

	_, env = api.do(t, http.MethodGet, "/api/v1/reminders/"+r.ID, nil)
	assert.False(t, decode[ReminderView](t, env.Data).NotificationSent, "manual sends leave the dispatch flag alone")
}

func TestNotify_AllChannelsFailed(t *testing.T) {
	api := newTestAPI(t)
	api.email.err = errors.Join(notify.ErrDeliveryRejected, errors.New("550 mailbox unavailable"))
	r := api.create(t, map[string]any{"emailAddress": "pat@example.com"})

	code, env := api.do(t, http.MethodPost, "/api/v1/reminders/"+r.ID+"/notify", nil)
	assert.Equal(t, http.StatusBadGateway, code)
	assert.False(t, env.Success)
	report := decode[lifecycle.DispatchReport](t, env.Data)
	require.Len(t, report.Outcomes, 1)
	assert.Contains(t, report.Outcomes[0].Error, "550")
}

func TestNotify_NoChannel(t *testing.T) {
	api := newTestAPI(t)
	r := api.create(t, nil)

	code, env := api.do(t, http.MethodPost, "/api/v1/reminders/"+r.ID+"/notify", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Error, "channel")
}

func TestBrowserNotifications(t *testing.T) {
	api := newTestAPI(t)
	r := api.create(t, map[string]any{"channel": "browser"})
	require.NotEmpty(t, r.DispatchHandle, "browser reminders are queued at creation")

	code, env := api.do(t, http.MethodPost, "/api/v1/reminders/"+r.ID+"/notify", nil)
	require.Equal(t, http.StatusOK, code, env.Error)

	code, env = api.do(t, http.MethodGet, "/api/v1/notifications?ownerId=owner-1", nil)
	require.Equal(t, http.StatusOK, code)
	got := decode[[]notify.Notification](t, env.Data)
	require.Len(t, got, 1, "only the immediate notification is deliverable yet")
	assert.Equal(t, r.ID, got[0].ReminderID)

	_, env = api.do(t, http.MethodGet, "/api/v1/notifications?ownerId=owner-1", nil)
	assert.Empty(t, decode[[]notify.Notification](t, env.Data), "delivered notifications are removed")

	code, _ = api.do(t, http.MethodGet, "/api/v1/notifications", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestScheduleAndCancel(t *testing.T) {
	api := newTestAPI(t)
	r := api.create(t, map[string]any{"channel": "browser"})
	require.Equal(t, 1, api.inbox.Len("owner-1"))

	code, env := api.do(t, http.MethodDelete, "/api/v1/reminders/"+r.ID+"/schedule", nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Empty(t, decode[ReminderView](t, env.Data).DispatchHandle)
	assert.Zero(t, api.inbox.Len("owner-1"))

	code, env = api.do(t, http.MethodPost, "/api/v1/reminders/"+r.ID+"/schedule", nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.NotEmpty(t, decode[ReminderView](t, env.Data).DispatchHandle)
	assert.Equal(t, 1, api.inbox.Len("owner-1"))

	plain := api.create(t, nil)
	code, _ = api.do(t, http.MethodPost, "/api/v1/reminders/"+plain.ID+"/schedule", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestTriggers(t *testing.T) {
	api := newTestAPI(t)
	soon := api.create(t, map[string]any{"emailAddress": "pat@example.com", "dueAt": api.now.Add(5 * time.Minute).Format(time.RFC3339)})
	silent := api.create(t, map[string]any{"dueAt": api.now.Add(30 * time.Minute).Format(time.RFC3339)})

	code, env := api.do(t, http.MethodPost, "/api/v1/reminders/trigger/dispatch", nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	res := decode[lifecycle.SweepResult](t, env.Data)
	assert.Equal(t, lifecycle.SweepDispatch, res.Sweep)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, 1, api.email.count())

	api.now = api.now.Add(time.Hour)

	_, env = api.do(t, http.MethodPost, "/api/v1/reminders/trigger/missed", nil)
	assert.Equal(t, 1, decode[lifecycle.SweepResult](t, env.Data).Applied)

	_, env = api.do(t, http.MethodPost, "/api/v1/reminders/trigger/completed", nil)
	assert.Equal(t, 1, decode[lifecycle.SweepResult](t, env.Data).Applied)

	_, env = api.do(t, http.MethodGet, "/api/v1/reminders/"+soon.ID, nil)
	assert.Equal(t, reminder.StatusCompleted, decode[ReminderView](t, env.Data).Status)
	_, env = api.do(t, http.MethodGet, "/api/v1/reminders/"+silent.ID, nil)
	assert.Equal(t, reminder.StatusMissed, decode[ReminderView](t, env.Data).Status)
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	api.do(t, http.MethodGet, "/api/v1/reminders", nil)

	w := httptest.NewRecorder()
	api.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `notekeeper_http_requests_total{method="GET",route="/api/v1/reminders",status="200"} 1`)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(&reminder.ValidationError{Field: "title"}))
	assert.Equal(t, http.StatusNotFound, statusFor(reminder.ErrNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(errors.Join(errors.New("write"), reminder.ErrStatusConflict)))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("disk full")))
}
