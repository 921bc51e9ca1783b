package queue

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codetown/sm/internal/config"
	"github.com/codetown/sm/internal/database"
)

func testWakeConfig() config.ParentWake {
	return config.ParentWake{
		Period:          config.Duration(600 * time.Second),
		EscalatedPeriod: config.Duration(300 * time.Second),
		PollInterval:    config.Duration(10 * time.Millisecond),
		ActivityTail:    3,
	}
}

// newWakeFixture wires a scheduler with a controllable clock.
func newWakeFixture(t *testing.T, sessions fakeSessions, tail ActivityTailFunc) (*WakeScheduler, *Manager, *time.Time) {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := NewManager(db, sessions, newFakePanes(sessions), testQueueConfig(), log)
	ws := NewWakeScheduler(db, sessions, mgr, tail, testWakeConfig(), log)
	mgr.SetWakeScheduler(ws)

	now := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	ws.now = func() time.Time { return now }
	return ws, mgr, &now
}

func TestWakeEnqueuesDigestWhenDue(t *testing.T) {
	child := claudeSession("cccc1111")
	child.FriendlyName = "worker"
	child.AgentStatusText = "writing migrations"
	parent := claudeSession("pppp2222")
	sessions := fakeSessions{child.ID: child, parent.ID: parent}

	tail := func(id string, n int) []string {
		return []string{"Bash: go generate ./...", "Edit: internal/db/schema.sql"}
	}
	ws, mgr, now := newWakeFixture(t, sessions, tail)

	require.NoError(t, ws.Register(child.ID, parent.ID, 0))

	ws.Tick()
	pending, err := mgr.GetPendingMessages(parent.ID)
	require.NoError(t, err)
	assert.Empty(t, pending, "not yet due")

	*now = now.Add(601 * time.Second)
	ws.Tick()

	pending, err = mgr.GetPendingMessages(parent.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	digest := pending[0].Text
	assert.Contains(t, digest, "[sm dispatch] Child update: worker")
	assert.Contains(t, digest, "Running for 10m.")
	assert.Contains(t, digest, "Status: writing migrations")
	assert.Contains(t, digest, "- Bash: go generate ./...")
	assert.NotContains(t, digest, "NO PROGRESS")
	assert.Equal(t, ModeImportant, pending[0].Mode)
	assert.Equal(t, child.ID, pending[0].SenderSessionID)
}

func TestWakeEscalatesOnNoProgress(t *testing.T) {
	child := claudeSession("cccc1111")
	statusAt := time.Date(2026, 8, 20, 8, 55, 0, 0, time.UTC)
	child.AgentStatusAt = &statusAt
	parent := claudeSession("pppp2222")
	sessions := fakeSessions{child.ID: child, parent.ID: parent}

	ws, mgr, now := newWakeFixture(t, sessions, nil)
	require.NoError(t, ws.Register(child.ID, parent.ID, 0))

	// First wake: no comparison possible yet.
	*now = now.Add(601 * time.Second)
	ws.Tick()
	pending, err := mgr.GetPendingMessages(parent.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.NotContains(t, pending[0].Text, "NO PROGRESS")

	// Second wake with an unchanged agent_status_at: escalate to 5m.
	*now = now.Add(601 * time.Second)
	ws.Tick()
	pending, err = mgr.GetPendingMessages(parent.ID)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Contains(t, pending[1].Text, "NO PROGRESS DETECTED")

	ws.mu.Lock()
	reg := ws.regs[child.ID]
	assert.True(t, reg.Escalated)
	assert.Equal(t, 300*time.Second, reg.Period)
	ws.mu.Unlock()

	// The escalated period is honored: due again after 5m, not 10m.
	*now = now.Add(301 * time.Second)
	ws.Tick()
	pending, err = mgr.GetPendingMessages(parent.ID)
	require.NoError(t, err)
	require.Len(t, pending, 3)

	// Progress made: escalation reverts to the normal period.
	advanced := now.Add(-time.Minute)
	child.AgentStatusAt = &advanced
	*now = now.Add(301 * time.Second)
	ws.Tick()
	ws.mu.Lock()
	assert.False(t, ws.regs[child.ID].Escalated)
	assert.Equal(t, 600*time.Second, ws.regs[child.ID].Period)
	ws.mu.Unlock()
}

func TestWakeDropsGoneChild(t *testing.T) {
	parent := claudeSession("pppp2222")
	sessions := fakeSessions{parent.ID: parent}

	ws, mgr, now := newWakeFixture(t, sessions, nil)
	require.NoError(t, ws.Register("ghost111", parent.ID, 0))

	*now = now.Add(601 * time.Second)
	ws.Tick()

	assert.False(t, ws.Active("ghost111"))
	pending, err := mgr.GetPendingMessages(parent.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestWakeRegisterIsIdempotent(t *testing.T) {
	child := claudeSession("cccc1111")
	parent := claudeSession("pppp2222")
	ws, _, _ := newWakeFixture(t, fakeSessions{child.ID: child, parent.ID: parent}, nil)

	require.NoError(t, ws.Register(child.ID, parent.ID, 0))
	first := ws.regs[child.ID].RegisteredAt
	require.NoError(t, ws.Register(child.ID, parent.ID, 0))
	assert.Equal(t, first, ws.regs[child.ID].RegisteredAt, "re-register keeps the original anchor")
}

func TestWakeRecoverRestoresActiveRegistrations(t *testing.T) {
	child := claudeSession("cccc1111")
	parent := claudeSession("pppp2222")
	sessions := fakeSessions{child.ID: child, parent.ID: parent}

	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := NewManager(db, sessions, newFakePanes(sessions), testQueueConfig(), log)

	first := NewWakeScheduler(db, sessions, mgr, nil, testWakeConfig(), log)
	require.NoError(t, first.Register(child.ID, parent.ID, 0))
	require.NoError(t, first.Register("dead9999", parent.ID, 0))
	require.NoError(t, first.Cancel("dead9999"))

	// A fresh scheduler, as after a daemon restart.
	second := NewWakeScheduler(db, sessions, mgr, nil, testWakeConfig(), log)
	require.NoError(t, second.Recover())
	assert.True(t, second.Active(child.ID))
	assert.False(t, second.Active("dead9999"), "canceled registration stays inactive")
}
