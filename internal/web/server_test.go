package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noahxzhu/pillbox/internal/events"
	"github.com/noahxzhu/pillbox/internal/model"
	"github.com/noahxzhu/pillbox/internal/notify"
	"github.com/noahxzhu/pillbox/internal/scheduler"
	"github.com/noahxzhu/pillbox/internal/sms"
	"github.com/noahxzhu/pillbox/internal/storage"
)

type fakeSender struct {
	mu   sync.Mutex
	err  error
	sent []sms.Request
}

func (f *fakeSender) Send(_ context.Context, to, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, sms.Request{To: to, Message: message})
	return "SM1", nil
}

type testServer struct {
	srv    *Server
	store  *storage.ReminderStore
	popup  *Popup
	toasts *notify.Toasts
	sender *fakeSender
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	kv := storage.NewFileKV(filepath.Join(t.TempDir(), "pillbox.json"))
	store := storage.NewReminderStore(kv)
	store.Load(context.Background())

	toasts := notify.NewToasts(20)
	emitter := notify.NewEmitter(notify.PermissionDefault, nil, toasts, nil)
	sched := scheduler.New(store, emitter, events.NewBus())

	ts := &testServer{
		store:  store,
		popup:  NewPopup(time.Minute),
		toasts: toasts,
		sender: &fakeSender{},
	}
	ts.srv = NewServer(Deps{
		Store:       store,
		Actions:     sched,
		Popup:       ts.popup,
		Toasts:      toasts,
		Permission:  emitter.Permission(),
		SMS:         ts.sender,
		PingMessage: "pong",
		MCP: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}),
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.srv.ServeHTTP(w, req)
	return w
}

func (ts *testServer) create(t *testing.T, in model.NewReminder) model.Reminder {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/reminders", in)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var r model.Reminder
	require.NoError(t, json.NewDecoder(w.Body).Decode(&r))
	return r
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func TestPing(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/api/ping", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"pong"}`, w.Body.String())
}

func TestReminderCRUD(t *testing.T) {
	ts := newTestServer(t)

	r := ts.create(t, model.NewReminder{Name: "Aspirin", Dosage: "1 tablet", Times: []string{"21:00", "09:00"}})
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, []string{"09:00", "21:00"}, r.Times)
	assert.Equal(t, model.RepeatDaily, r.Repeat)
	require.NotNil(t, r.NextAt)

	w := ts.do(t, http.MethodGet, "/api/reminders", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]model.Reminder](t, w), 1)

	w = ts.do(t, http.MethodGet, "/api/reminders/"+r.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Aspirin", decodeBody[model.Reminder](t, w).Name)

	name := "Aspirin 81"
	w = ts.do(t, http.MethodPatch, "/api/reminders/"+r.ID, model.Patch{Name: &name})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, name, decodeBody[model.Reminder](t, w).Name)

	w = ts.do(t, http.MethodDelete, "/api/reminders/"+r.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, http.MethodGet, "/api/reminders/"+r.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = ts.do(t, http.MethodDelete, "/api/reminders/"+r.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/reminders", model.NewReminder{Name: "Aspirin"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/reminders", model.NewReminder{Name: "Aspirin", Times: []string{"25:00"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/reminders", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, ts.store.List())
}

func TestUpcomingEmptyIsArray(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/api/reminders/upcoming", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestReminderActions(t *testing.T) {
	ts := newTestServer(t)
	r := ts.create(t, model.NewReminder{Name: "Aspirin", Times: []string{"09:00"}})

	before := time.Now()
	w := ts.do(t, http.MethodPost, "/api/reminders/"+r.ID+"/snooze", map[string]int{"minutes": 15})
	require.Equal(t, http.StatusOK, w.Code)
	snoozed := decodeBody[model.Reminder](t, w)
	require.NotNil(t, snoozed.NextAt)
	assert.WithinDuration(t, before.Add(15*time.Minute), *snoozed.NextAt, 5*time.Second)

	w = ts.do(t, http.MethodPost, "/api/reminders/"+r.ID+"/snooze?minutes=0", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/reminders/"+r.ID+"/pause", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeBody[model.Reminder](t, w).Paused)

	w = ts.do(t, http.MethodPost, "/api/reminders/"+r.ID+"/notes", map[string]string{"note": "with food"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "with food", decodeBody[model.Reminder](t, w).Notes)

	w = ts.do(t, http.MethodPost, "/api/reminders/"+r.ID+"/missed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeBody[model.Reminder](t, w)
	assert.Equal(t, model.HistoryMissed, got.History[len(got.History)-1].Type)

	w = ts.do(t, http.MethodPost, "/api/reminders/missing/taken", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSnoozeStreamedBody(t *testing.T) {
	ts := newTestServer(t)
	r := ts.create(t, model.NewReminder{Name: "Aspirin", Times: []string{"09:00"}})

	// A reader of unknown length leaves ContentLength at -1, as with chunked uploads.
	snooze := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/reminders/"+r.ID+"/snooze",
			io.MultiReader(strings.NewReader(body)))
		require.EqualValues(t, -1, req.ContentLength)
		w := httptest.NewRecorder()
		ts.srv.ServeHTTP(w, req)
		return w
	}

	before := time.Now()
	w := snooze(`{"minutes":30}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	snoozed := decodeBody[model.Reminder](t, w)
	assert.WithinDuration(t, before.Add(30*time.Minute), *snoozed.NextAt, 5*time.Second)

	before = time.Now()
	w = snooze("")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	snoozed = decodeBody[model.Reminder](t, w)
	assert.WithinDuration(t, before.Add(PopupSnoozeMinutes*time.Minute), *snoozed.NextAt, 5*time.Second)

	w = snooze(`{"minutes":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSnoozeRejectsMoreThanADay(t *testing.T) {
	ts := newTestServer(t)
	r := ts.create(t, model.NewReminder{Name: "Aspirin", Times: []string{"09:00"}})

	w := ts.do(t, http.MethodPost, "/api/reminders/"+r.ID+"/snooze", map[string]int64{"minutes": 1 << 40})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	got, ok := ts.store.Get(r.ID)
	require.True(t, ok)
	assert.Equal(t, r.NextAt, got.NextAt)
}

func TestTakenRemovesOnceReminder(t *testing.T) {
	ts := newTestServer(t)
	r := ts.create(t, model.NewReminder{Name: "Antibiotic", Times: []string{"09:00"}, Repeat: model.RepeatOnce})

	w := ts.do(t, http.MethodPost, "/api/reminders/"+r.ID+"/taken", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[takenResponse](t, w)
	assert.True(t, resp.Removed)

	_, ok := ts.store.Get(r.ID)
	assert.False(t, ok)
}

func TestPopupEndpoints(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/popup", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decodeBody[PopupView](t, w).Visible)

	w = ts.do(t, http.MethodPost, "/api/popup/taken", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	r := ts.create(t, model.NewReminder{Name: "Aspirin", Dosage: "1 tablet", Times: []string{"09:00"}, Phone: "+15551234567"})
	ts.popup.Show(model.NewFiredEvent(r))

	w = ts.do(t, http.MethodGet, "/api/popup", nil)
	view := decodeBody[PopupView](t, w)
	assert.True(t, view.Visible)
	require.NotNil(t, view.Reminder)
	assert.Equal(t, r.ID, view.Reminder.ID)
	assert.NotEqual(t, "Now", view.Scheduled)

	w = ts.do(t, http.MethodPost, "/api/popup/sms", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []sms.Request{{To: "+15551234567", Message: "Reminder: Aspirin 1 tablet"}}, ts.sender.sent)

	w = ts.do(t, http.MethodPost, "/api/popup/notes", map[string]string{"note": "felt dizzy"})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodPost, "/api/popup/snooze", nil)
	require.Equal(t, http.StatusOK, w.Code)
	snoozed := decodeBody[model.Reminder](t, w)
	assert.Equal(t, 10, snoozed.History[len(snoozed.History)-1].Meta.Minutes)

	view = ts.popup.View()
	assert.False(t, view.Visible, "snooze hides the popup")
	assert.NotNil(t, view.Reminder)

	w = ts.do(t, http.MethodPost, "/api/popup/dismiss", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Nil(t, ts.popup.View().Reminder)
}

func TestPopupSMSWithoutPhone(t *testing.T) {
	ts := newTestServer(t)
	r := ts.create(t, model.NewReminder{Name: "Aspirin", Times: []string{"09:00"}})
	ts.popup.Show(model.NewFiredEvent(r))

	w := ts.do(t, http.MethodPost, "/api/popup/sms", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, ts.sender.sent)
}

func TestPopupDelete(t *testing.T) {
	ts := newTestServer(t)
	r := ts.create(t, model.NewReminder{Name: "Aspirin", Times: []string{"09:00"}})
	ts.popup.Show(model.NewFiredEvent(r))

	w := ts.do(t, http.MethodPost, "/api/popup/delete", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	_, ok := ts.store.Get(r.ID)
	assert.False(t, ok)
	assert.False(t, ts.popup.View().Visible)
}

func TestToastsAndPermission(t *testing.T) {
	ts := newTestServer(t)
	ts.create(t, model.NewReminder{Name: "Aspirin", Times: []string{"09:00"}})

	w := ts.do(t, http.MethodGet, "/api/toasts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	toasts := decodeBody[[]notify.Toast](t, w)
	require.NotEmpty(t, toasts)
	assert.Equal(t, "Reminder added for Aspirin", toasts[len(toasts)-1].Title)

	last := toasts[len(toasts)-1].Seq
	w = ts.do(t, http.MethodGet, "/api/toasts?since="+jsonNumber(last), nil)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = ts.do(t, http.MethodGet, "/api/toasts?since=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/notifications/permission", nil)
	assert.JSONEq(t, `{"permission":"default"}`, w.Body.String())
}

func TestSMSRelayAndMCPMounted(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/sms", sms.Request{To: "+1555", Message: "hi"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"id":"SM1"}`, w.Body.String())

	w = ts.do(t, http.MethodPost, "/mcp", nil)
	assert.Equal(t, http.StatusTeapot, w.Code)
}

func jsonNumber(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
