package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codetown/sm/internal/config"
	"github.com/codetown/sm/internal/database"
	"github.com/codetown/sm/internal/monitor"
	"github.com/codetown/sm/internal/notify"
	"github.com/codetown/sm/internal/queue"
	"github.com/codetown/sm/internal/session"
	"github.com/codetown/sm/internal/tmux"
)

type fixture struct {
	srv      *Server
	handler  http.Handler
	registry *session.Registry
	queue    *queue.Manager
	fake     *tmux.Fake
	state    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	statePath := filepath.Join(t.TempDir(), "sessions.json")
	fake := tmux.NewFake()
	registry := session.NewRegistry(session.NewStore(statePath), fake)

	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	qcfg := config.Queue{
		PollInterval: config.Duration(10 * time.Millisecond),
		RetryBase:    config.Duration(time.Millisecond),
		RetryCap:     config.Duration(5 * time.Millisecond),
		MaxAttempts:  3,
	}
	qm := queue.NewManager(db, registry, fake, qcfg, log)
	registry.SetEnqueue(func(target, text, parentID string) error {
		_, err := qm.QueueMessage(target, text, queue.ModeSequential, queue.QueueOptions{
			Sender: parentID,
			Parent: parentID,
		})
		return err
	})

	mcfg := config.Monitor{
		CaptureInterval:    config.Duration(time.Hour), // watchers stay quiet in tests
		StableWindow:       config.Duration(time.Millisecond),
		IdleCooldown:       config.Duration(time.Hour),
		PermissionDebounce: config.Duration(30 * time.Second),
	}
	sup := monitor.NewSupervisor(registry, fake, qm, notify.Nop{}, mcfg, log)
	t.Cleanup(sup.StopAll)

	srv := New(registry, qm, sup, fake, nil, statePath, log)
	return &fixture{
		srv:      srv,
		handler:  srv.Handler(),
		registry: registry,
		queue:    qm,
		fake:     fake,
		state:    statePath,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func (f *fixture) createSession(t *testing.T) *session.Session {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/sessions", map[string]string{
		"working_dir": "/tmp/work",
		"provider":    "claude",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sess session.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	return &sess
}

func TestCreateAndGetSession(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t)

	assert.Len(t, sess.ID, 8)
	assert.Equal(t, "claude-"+sess.ID, sess.PaneName)
	assert.True(t, f.srv.monitors.Running(sess.ID), "create starts a monitor")

	rec := f.do(t, http.MethodGet, "/sessions/"+sess.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/sessions/nonexist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateSessionRejectsUnknownProvider(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/sessions", map[string]string{"provider": "gemini"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListSessions(t *testing.T) {
	f := newFixture(t)
	f.createSession(t)
	f.createSession(t)

	rec := f.do(t, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string][]session.Session](t, rec)
	assert.Len(t, body["sessions"], 2)
}

func TestListSessionsExcludesStoppedByDefault(t *testing.T) {
	f := newFixture(t)
	alive := f.createSession(t)
	dead := f.createSession(t)
	rec := f.do(t, http.MethodDelete, "/sessions/"+dead.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string][]session.Session](t, rec)
	require.Len(t, body["sessions"], 1)
	assert.Equal(t, alive.ID, body["sessions"][0].ID)

	rec = f.do(t, http.MethodGet, "/sessions?include_stopped=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode[map[string][]session.Session](t, rec)
	assert.Len(t, body["sessions"], 2)
}

func TestPatchSession(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t)

	rec := f.do(t, http.MethodPatch, "/sessions/"+sess.ID, map[string]string{
		"friendly_name": "backend",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := f.registry.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "backend", got.FriendlyName)
}

func TestDeleteSessionKillsButRetains(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t)

	rec := f.do(t, http.MethodDelete, "/sessions/"+sess.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := f.registry.Get(sess.ID)
	require.NoError(t, err, "record retained after kill")
	assert.Equal(t, session.StatusStopped, got.Status)
	assert.Equal(t, []string{sess.PaneName}, f.fake.Killed())
}

func TestDeleteSessionPurge(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t)

	rec := f.do(t, http.MethodDelete, "/sessions/"+sess.ID+"?purge=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := f.registry.Get(sess.ID)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestPutTask(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t)

	rec := f.do(t, http.MethodPut, "/sessions/"+sess.ID+"/task", map[string]string{
		"task": "migrate the billing tables",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	got, _ := f.registry.Get(sess.ID)
	assert.Equal(t, "migrate the billing tables", got.CurrentTask)
}

func TestSummaryReturnsCapture(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t)
	f.fake.SetCapture(sess.PaneName, "pane contents here")

	rec := f.do(t, http.MethodGet, "/sessions/"+sess.ID+"/summary?lines=20", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "pane contents here", body["summary"])
	assert.Equal(t, float64(20), body["lines"])
}

func TestSendMessageQueuesSequential(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t)

	rec := f.do(t, http.MethodPost, "/sessions/"+sess.ID+"/messages", map[string]any{
		"text": "please run the tests",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	pending, err := f.queue.GetPendingMessages(sess.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, queue.ModeSequential, pending[0].Mode)
}

func TestSendMessageArmsStopNotify(t *testing.T) {
	f := newFixture(t)
	target := f.createSession(t)
	sender := f.createSession(t)

	rec := f.do(t, http.MethodPost, "/sessions/"+target.ID+"/messages", map[string]any{
		"text":              "urgent poke",
		"mode":              "urgent",
		"sender_session_id": sender.ID,
		"arm_stop_notify":   true,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, sender.ID, f.queue.Arbiter().ArmedSender(target.ID))
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t)

	rec := f.do(t, http.MethodPost, "/sessions/"+sess.ID+"/messages", map[string]any{"text": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/sessions/"+sess.ID+"/messages", map[string]any{
		"text": "x", "mode": "whenever",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/sessions/ghost999/messages", map[string]any{"text": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendInputDeliversAtPrompt(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t)
	require.NoError(t, f.registry.UpdateStatus(sess.ID, session.StatusWaitingInput))

	rec := f.do(t, http.MethodPost, "/sessions/"+sess.ID+"/input", map[string]any{
		"text": "run the linter",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "DELIVERED", body["outcome"])
	assert.Equal(t, []string{"run the linter"}, f.fake.SentText(sess.PaneName))
}

func TestSendInputQueuesWhenBusy(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t)
	require.NoError(t, f.registry.UpdateStatus(sess.ID, session.StatusRunning))

	rec := f.do(t, http.MethodPost, "/sessions/"+sess.ID+"/input", map[string]any{
		"text": "after this turn please",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "QUEUED", body["outcome"])
	assert.Empty(t, f.fake.SentText(sess.PaneName), "busy session must not be pasted into")

	pending, err := f.queue.GetPendingMessages(sess.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, queue.ModeSequential, pending[0].Mode)
}

func TestSendInputValidation(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t)

	rec := f.do(t, http.MethodPost, "/sessions/"+sess.ID+"/input", map[string]any{"text": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/sessions/ghost999/input", map[string]any{"text": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvalidateCacheArmsSkip(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t)

	// Outstanding context-monitor message from this session.
	_, err := f.queue.QueueMessage(sess.ID, "context warning", queue.ModeSequential,
		queue.QueueOptions{Sender: sess.ID, Category: queue.CategoryContextMonitor})
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/sessions/"+sess.ID+"/invalidate-cache?arm_skip=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, float64(1), body["messages_canceled"])
	assert.Equal(t, 1, f.queue.Arbiter().SkipCount(sess.ID))

	// The skip absorbs the idle the administrative action provokes.
	f.queue.MarkSessionIdle(sess.ID, false)
	assert.Equal(t, 0, f.queue.Arbiter().SkipCount(sess.ID))
}

func TestContextUsageReset(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t)
	_, err := f.queue.QueueMessage(sess.ID, "warning", queue.ModeSequential,
		queue.QueueOptions{Sender: sess.ID, Category: queue.CategoryContextMonitor})
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/hooks/context-usage", map[string]any{
		"session_id": sess.ID,
		"event":      "context_reset",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "flags_reset", body["status"])

	pending, err := f.queue.GetPendingMessages(sess.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestContextUsageResetForUnknownSession(t *testing.T) {
	f := newFixture(t)
	// Never-registered session still gets flags_reset.
	rec := f.do(t, http.MethodPost, "/hooks/context-usage", map[string]any{
		"session_id": "stranger1",
		"event":      "context_reset",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "flags_reset", body["status"])
}

func TestContextUsageHighQueuesWarning(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t)

	rec := f.do(t, http.MethodPost, "/hooks/context-usage", map[string]any{
		"session_id":      sess.ID,
		"used_percentage": 91.5,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "warned", body["status"])

	pending, err := f.queue.GetPendingMessages(sess.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, queue.CategoryContextMonitor, pending[0].Category)
}

func TestStopHookMarksIdle(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t)

	rec := f.do(t, http.MethodPost, "/hooks/stop", map[string]string{"session_id": sess.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.queue.Arbiter().IsIdle(sess.ID))
}

func TestHealthBasic(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "healthy", body["status"])
}

func TestHealthDetailedFreshStart(t *testing.T) {
	f := newFixture(t)
	// A fresh fixture may not have written the state file yet.
	if err := os.Remove(f.state); err != nil && !errors.Is(err, fs.ErrNotExist) {
		t.Fatal(err)
	}

	rec := f.do(t, http.MethodGet, "/health/detailed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[healthReport](t, rec)
	assert.Equal(t, "healthy", report.Status)
	assert.Equal(t, "ok", report.Checks["state_file"].Status)
	assert.Contains(t, report.Checks["state_file"].Message, "fresh start")
}

func TestHealthDetailedCorruptStateFile(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(f.state, []byte("{not json"), 0o644))

	rec := f.do(t, http.MethodGet, "/health/detailed", nil)
	report := decode[healthReport](t, rec)
	assert.Equal(t, "unhealthy", report.Status)
	assert.Equal(t, "error", report.Checks["state_file"].Status)
}

func TestHealthDetailedMissingPane(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t)
	f.fake.Kill(sess.PaneName)

	rec := f.do(t, http.MethodGet, "/health/detailed", nil)
	report := decode[healthReport](t, rec)
	assert.Equal(t, "unhealthy", report.Status)
	assert.Equal(t, "error", report.Checks["tmux_sessions"].Status)
	assert.Contains(t, report.Checks["tmux_sessions"].Message, sess.ID)
}

func TestHealthDetailedOrphanPane(t *testing.T) {
	f := newFixture(t)
	f.createSession(t)
	f.fake.AddPane("claude-orphan99")

	rec := f.do(t, http.MethodGet, "/health/detailed", nil)
	report := decode[healthReport](t, rec)
	assert.Equal(t, "degraded", report.Status)
	assert.Equal(t, "warning", report.Checks["tmux_sessions"].Status)
}

func TestHealthDetailedResources(t *testing.T) {
	f := newFixture(t)
	f.createSession(t)
	f.createSession(t)

	rec := f.do(t, http.MethodGet, "/health/detailed", nil)
	report := decode[healthReport](t, rec)
	assert.Equal(t, 2, report.Resources["total_sessions"])
	assert.Equal(t, 2, report.Resources["active_sessions"])
	assert.Equal(t, 2, report.Resources["monitor_tasks"])
	_, err := time.Parse(time.RFC3339, report.Timestamp)
	assert.NoError(t, err)
}

func TestActivityWithoutLog(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t)

	rec := f.do(t, http.MethodGet, "/sessions/"+sess.ID+"/activity", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Empty(t, body["events"])

	rec = f.do(t, http.MethodGet, "/sessions/ghost999/activity", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSpawnEndpoint(t *testing.T) {
	f := newFixture(t)
	parent := f.createSession(t)

	rec := f.do(t, http.MethodPost, "/sessions/"+parent.ID+"/spawn", map[string]string{
		"prompt": "triage the flaky test",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var child session.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &child))
	assert.Equal(t, parent.ID, child.ParentSessionID)
	assert.Equal(t, parent.WorkingDir, child.WorkingDir)
	assert.True(t, f.srv.monitors.Running(child.ID))
}
