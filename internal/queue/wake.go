package queue

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/codetown/sm/internal/config"
	"github.com/codetown/sm/internal/session"
)

// ActivityTailFunc returns the last n tool-event summaries for a session.
type ActivityTailFunc func(sessionID string, n int) []string

// Registration tracks one child whose parent wants periodic digests.
type Registration struct {
	ID                   int64
	Child                string
	Parent               string
	Period               time.Duration
	RegisteredAt         time.Time
	LastWakeAt           *time.Time
	LastStatusAtPrevWake *time.Time
	Escalated            bool
}

// WakeScheduler periodically wakes parents with a digest of their child's
// progress. Registrations are durable so they survive daemon restarts.
type WakeScheduler struct {
	db       *sql.DB
	sessions SessionLookup
	mgr      *Manager
	tail     ActivityTailFunc
	cfg      config.ParentWake
	log      *slog.Logger

	mu   sync.Mutex
	regs map[string]*Registration
	now  func() time.Time
}

// NewWakeScheduler creates a scheduler. tail may be nil when no
// observability log is configured.
func NewWakeScheduler(db *sql.DB, sessions SessionLookup, mgr *Manager, tail ActivityTailFunc, cfg config.ParentWake, log *slog.Logger) *WakeScheduler {
	return &WakeScheduler{
		db:       db,
		sessions: sessions,
		mgr:      mgr,
		tail:     tail,
		cfg:      cfg,
		log:      log.With("component", "parent_wake"),
		regs:     make(map[string]*Registration),
		now:      time.Now,
	}
}

// Recover loads active registrations from the database. Called once at
// daemon startup, before Run.
func (w *WakeScheduler) Recover() error {
	rows, err := w.db.Query(`SELECT id, child_session_id, parent_session_id,
		period_seconds, registered_at, last_wake_at, last_status_at_prev_wake, escalated
		FROM parent_wake_registrations WHERE is_active = 1`)
	if err != nil {
		return fmt.Errorf("loading wake registrations: %w", err)
	}
	defer rows.Close()

	w.mu.Lock()
	defer w.mu.Unlock()
	for rows.Next() {
		var reg Registration
		var periodSec int
		var registeredAt string
		var lastWake, lastStatus sql.NullString
		var escalated int
		if err := rows.Scan(&reg.ID, &reg.Child, &reg.Parent, &periodSec,
			&registeredAt, &lastWake, &lastStatus, &escalated); err != nil {
			return fmt.Errorf("scanning wake registration: %w", err)
		}
		reg.Period = time.Duration(periodSec) * time.Second
		reg.Escalated = escalated != 0
		if t, err := time.Parse(time.RFC3339Nano, registeredAt); err == nil {
			reg.RegisteredAt = t
		}
		if lastWake.Valid {
			if t, err := time.Parse(time.RFC3339Nano, lastWake.String); err == nil {
				reg.LastWakeAt = &t
			}
		}
		if lastStatus.Valid {
			if t, err := time.Parse(time.RFC3339Nano, lastStatus.String); err == nil {
				reg.LastStatusAtPrevWake = &t
			}
		}
		w.regs[reg.Child] = &reg
	}
	return rows.Err()
}

// Register starts digests from child to parent. Re-registering an active
// child is a no-op; period zero means the configured default.
func (w *WakeScheduler) Register(child, parent string, period time.Duration) error {
	if period <= 0 {
		period = w.cfg.Period.Std()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.regs[child]; ok {
		return nil
	}

	now := w.now().UTC()
	res, err := w.db.Exec(`INSERT INTO parent_wake_registrations
		(child_session_id, parent_session_id, period_seconds, registered_at, escalated, is_active)
		VALUES (?, ?, ?, ?, 0, 1)
		ON CONFLICT(child_session_id) DO UPDATE SET
			parent_session_id = excluded.parent_session_id,
			period_seconds = excluded.period_seconds,
			registered_at = excluded.registered_at,
			last_wake_at = NULL,
			last_status_at_prev_wake = NULL,
			escalated = 0,
			is_active = 1`,
		child, parent, int(period/time.Second), now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("registering parent wake: %w", err)
	}
	id, _ := res.LastInsertId()

	w.regs[child] = &Registration{
		ID:           id,
		Child:        child,
		Parent:       parent,
		Period:       period,
		RegisteredAt: now,
	}
	w.log.Info("parent wake registered", "child", child, "parent", parent, "period", period)
	return nil
}

// Cancel deactivates the registration for a child.
func (w *WakeScheduler) Cancel(child string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.regs[child]; !ok {
		return nil
	}
	delete(w.regs, child)
	if _, err := w.db.Exec(
		`UPDATE parent_wake_registrations SET is_active = 0 WHERE child_session_id = ?`, child); err != nil {
		return fmt.Errorf("canceling parent wake: %w", err)
	}
	w.log.Info("parent wake canceled", "child", child)
	return nil
}

// Active reports whether child has an active registration.
func (w *WakeScheduler) Active(child string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.regs[child]
	return ok
}

// Run drives the scheduler until ctx is done.
func (w *WakeScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval.Std())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Tick()
		}
	}
}

// Tick wakes every due registration once. Exported for tests.
func (w *WakeScheduler) Tick() {
	now := w.now().UTC()

	w.mu.Lock()
	var due []*Registration
	for _, reg := range w.regs {
		anchor := reg.RegisteredAt
		if reg.LastWakeAt != nil {
			anchor = *reg.LastWakeAt
		}
		if !anchor.Add(reg.Period).After(now) {
			due = append(due, reg)
		}
	}
	w.mu.Unlock()

	for _, reg := range due {
		w.wake(reg, now)
	}
}

func (w *WakeScheduler) wake(reg *Registration, now time.Time) {
	child, err := w.sessions.Get(reg.Child)
	if err != nil {
		// Child is gone; drop the registration.
		if cerr := w.Cancel(reg.Child); cerr != nil {
			w.log.Warn("dropping orphan wake registration", "child", reg.Child, "error", cerr)
		}
		return
	}

	noProgress := false
	if reg.LastWakeAt != nil {
		if sameStatusTime(child.AgentStatusAt, reg.LastStatusAtPrevWake) {
			noProgress = true
		}
	}

	digest := w.buildDigest(child, reg, now, noProgress)
	if _, err := w.mgr.QueueMessage(reg.Parent, digest, ModeImportant, QueueOptions{Sender: reg.Child}); err != nil {
		w.log.Error("queueing parent digest", "child", reg.Child, "parent", reg.Parent, "error", err)
		return
	}

	w.mu.Lock()
	reg.LastWakeAt = &now
	reg.LastStatusAtPrevWake = child.AgentStatusAt
	switch {
	case noProgress && !reg.Escalated:
		reg.Escalated = true
		reg.Period = w.cfg.EscalatedPeriod.Std()
	case !noProgress && reg.Escalated:
		reg.Escalated = false
		reg.Period = w.cfg.Period.Std()
	}
	escalated, period := reg.Escalated, reg.Period
	var prevStatus any
	if reg.LastStatusAtPrevWake != nil {
		prevStatus = reg.LastStatusAtPrevWake.UTC().Format(time.RFC3339Nano)
	}
	w.mu.Unlock()

	if _, err := w.db.Exec(`UPDATE parent_wake_registrations
		SET last_wake_at = ?, last_status_at_prev_wake = ?, escalated = ?, period_seconds = ?
		WHERE child_session_id = ?`,
		now.Format(time.RFC3339Nano), prevStatus, boolInt(escalated),
		int(period/time.Second), reg.Child); err != nil {
		w.log.Error("persisting wake state", "child", reg.Child, "error", err)
	}
}

// buildDigest renders the parent-facing progress summary.
func (w *WakeScheduler) buildDigest(child *session.Session, reg *Registration, now time.Time, noProgress bool) string {
	label := child.FriendlyName
	if label == "" {
		label = child.ID
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[sm dispatch] Child update: %s\n", label)

	mins := int(now.Sub(reg.RegisteredAt).Round(time.Minute) / time.Minute)
	fmt.Fprintf(&b, "Running for %dm.\n", mins)

	status := child.AgentStatusText
	if status == "" {
		status = "(no status reported)"
	}
	fmt.Fprintf(&b, "Status: %s\n", status)

	if w.tail != nil {
		if lines := w.tail(child.ID, w.cfg.ActivityTail); len(lines) > 0 {
			b.WriteString("Recent activity:\n")
			for _, line := range lines {
				fmt.Fprintf(&b, "- %s\n", line)
			}
		}
	}

	if noProgress {
		b.WriteString("NO PROGRESS DETECTED since the previous update. Consider checking on this agent.\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func sameStatusTime(a, b *time.Time) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.Equal(*b)
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
