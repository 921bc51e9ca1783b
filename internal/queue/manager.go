package queue

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/codetown/sm/internal/config"
	"github.com/codetown/sm/internal/provider"
	"github.com/codetown/sm/internal/session"
	"github.com/codetown/sm/internal/tmux"
)

// SessionLookup is the slice of the registry the queue needs.
type SessionLookup interface {
	Get(id string) (*session.Session, error)
}

// captureLines is how much pane tail the delivery checks look at.
const captureLines = 50

// Manager owns the durable message queue and drives deliveries. One
// worker goroutine polls for pending messages; urgent messages get their
// own delivery goroutine with backoff.
type Manager struct {
	db       *sql.DB
	sessions SessionLookup
	tmux     tmux.Controller
	cfg      config.Queue
	log      *slog.Logger

	arbiter *Arbiter
	wake    *WakeScheduler

	mu          sync.Mutex
	targetLocks map[string]*sync.Mutex

	signal chan struct{}
	now    func() time.Time
}

// NewManager creates a queue manager. Call SetWakeScheduler before Run if
// parent wake-ups are wanted.
func NewManager(db *sql.DB, sessions SessionLookup, ctl tmux.Controller, cfg config.Queue, log *slog.Logger) *Manager {
	m := &Manager{
		db:          db,
		sessions:    sessions,
		tmux:        ctl,
		cfg:         cfg,
		log:         log.With("component", "queue"),
		targetLocks: make(map[string]*sync.Mutex),
		signal:      make(chan struct{}, 1),
		now:         time.Now,
	}
	m.arbiter = NewArbiter(m.routeStopNotification, m.cancelWakeHook)
	return m
}

// Arbiter exposes the stop-notify arbiter for the API layer and monitors.
func (m *Manager) Arbiter() *Arbiter {
	return m.arbiter
}

// SetWakeScheduler wires the parent wake scheduler.
func (m *Manager) SetWakeScheduler(ws *WakeScheduler) {
	m.wake = ws
}

func (m *Manager) cancelWakeHook(child string) {
	if m.wake != nil {
		if err := m.wake.Cancel(child); err != nil {
			m.log.Warn("canceling parent wake", "child", child, "error", err)
		}
	}
}

// QueueMessage inserts a message and kicks off delivery. Urgent messages
// are dispatched immediately on their own goroutine; sequential and
// important messages wait for the worker.
func (m *Manager) QueueMessage(target, text string, mode Mode, opts QueueOptions) (*Message, error) {
	switch mode {
	case ModeUrgent, ModeSequential, ModeImportant:
	default:
		return nil, fmt.Errorf("unknown delivery mode %q", mode)
	}

	msg, err := insertMessage(m.db, target, text, mode, opts, m.now())
	if err != nil {
		return nil, err
	}

	if mode == ModeUrgent {
		go m.deliverUrgent(context.Background(), msg)
	} else {
		m.nudgeWorker()
	}
	return msg, nil
}

// GetPendingMessages returns undelivered messages for a target, oldest
// first.
func (m *Manager) GetPendingMessages(target string) ([]*Message, error) {
	return pendingMessages(m.db, target)
}

// GetQueueLength returns the number of undelivered messages for a target.
func (m *Manager) GetQueueLength(target string) (int, error) {
	var n int
	err := m.db.QueryRow(`SELECT COUNT(*) FROM message_queue
		WHERE target_session_id = ? AND delivered_at IS NULL`, target).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting pending messages: %w", err)
	}
	return n, nil
}

// Backlog returns the total number of undelivered messages across all
// targets, for health reporting.
func (m *Manager) Backlog() (int, error) {
	var n int
	err := m.db.QueryRow(`SELECT COUNT(*) FROM message_queue WHERE delivered_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting backlog: %w", err)
	}
	return n, nil
}

// CancelContextMonitorMessagesFrom deletes the undelivered
// context-monitor messages queued by sender and returns how many were
// removed. Delivered rows and other categories are never touched.
func (m *Manager) CancelContextMonitorMessagesFrom(sender string) (int, error) {
	res, err := m.db.Exec(`DELETE FROM message_queue
		WHERE sender_session_id = ? AND message_category = ? AND delivered_at IS NULL`,
		sender, CategoryContextMonitor)
	if err != nil {
		return 0, fmt.Errorf("canceling context monitor messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// MarkSessionIdle records a verified idle signal for a target and
// triggers delivery of anything waiting on it.
func (m *Manager) MarkSessionIdle(target string, fromStopHook bool) {
	m.arbiter.MarkSessionIdle(target, fromStopHook)
	m.nudgeWorker()
}

// MarkSessionBusy clears the idle flag when a target starts a new turn.
func (m *Manager) MarkSessionBusy(target string) {
	m.arbiter.MarkSessionBusy(target)
}

// RegisterParentWake starts periodic digests from child to parent.
func (m *Manager) RegisterParentWake(child, parent string) error {
	if m.wake == nil {
		return nil
	}
	return m.wake.Register(child, parent, 0)
}

// CancelParentWake stops digests for a child.
func (m *Manager) CancelParentWake(child string) error {
	if m.wake == nil {
		return nil
	}
	return m.wake.Cancel(child)
}

// Run drives the delivery worker until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PollInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-m.signal:
		}
		m.deliverPending()
	}
}

func (m *Manager) nudgeWorker() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *Manager) targetLock(target string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.targetLocks[target]
	if !ok {
		l = &sync.Mutex{}
		m.targetLocks[target] = l
	}
	return l
}

// deliverPending walks every target with queued messages and attempts at
// most one delivery per target.
func (m *Manager) deliverPending() {
	targets, err := pendingTargets(m.db)
	if err != nil {
		m.log.Error("listing pending targets", "error", err)
		return
	}
	for _, target := range targets {
		m.DeliverPendingFor(target)
	}
}

// DeliverPendingFor attempts one delivery to target if an eligible
// message is queued. Exported for tests and for the idle hook path.
func (m *Manager) DeliverPendingFor(target string) {
	lock := m.targetLock(target)
	lock.Lock()
	defer lock.Unlock()

	msgs, err := pendingMessages(m.db, target)
	if err != nil {
		m.log.Error("loading pending messages", "target", target, "error", err)
		return
	}
	if len(msgs) == 0 {
		return
	}

	sess, err := m.sessions.Get(target)
	if err != nil {
		// Orphan rows for deleted targets are ignored, not deleted.
		return
	}

	for _, msg := range msgs {
		if msg.Attempts >= m.cfg.MaxAttempts {
			continue // failed; surfaced via backlog
		}
		ok, err := m.eligible(sess, msg)
		if err != nil {
			m.log.Warn("delivery eligibility check", "target", target, "error", err)
			return
		}
		if !ok {
			continue
		}
		if m.sendLocked(sess, msg) {
			// The agent is processing now; later messages wait for the
			// next idle.
			m.arbiter.MarkSessionBusy(target)
		}
		return
	}
}

// eligible decides whether msg may be delivered to sess right now.
func (m *Manager) eligible(sess *session.Session, msg *Message) (bool, error) {
	if msg.Mode == ModeUrgent {
		// Urgent rows only reach the worker after a daemon restart
		// interrupted their dedicated delivery goroutine.
		return true, nil
	}

	idle := m.arbiter.IsIdle(sess.ID)
	prov := provider.Lookup(sess.Provider)

	var capture string
	var captured bool
	capturePane := func() (string, error) {
		if captured {
			return capture, nil
		}
		c, err := m.tmux.Capture(sess.PaneName, captureLines)
		if err != nil {
			return "", err
		}
		capture, captured = c, true
		return capture, nil
	}

	claudeFamily := sess.Provider == provider.Claude

	switch msg.Mode {
	case ModeSequential:
		if !idle {
			return false, nil
		}
		if claudeFamily {
			// A recorded idle can be stale: the agent may have started a
			// new turn since. Verify the prompt is actually up.
			c, err := capturePane()
			if err != nil {
				return false, err
			}
			if !prov.PromptVisible(c) {
				return false, nil
			}
		}
	case ModeImportant:
		if !idle {
			c, err := capturePane()
			if err != nil {
				return false, err
			}
			if !prov.PromptVisible(c) {
				return false, nil
			}
		} else if claudeFamily {
			c, err := capturePane()
			if err != nil {
				return false, err
			}
			if !prov.PromptVisible(c) {
				return false, nil
			}
		}
	}

	// Never clobber text the human already started typing.
	c, err := capturePane()
	if err != nil {
		return false, err
	}
	if typed, ok := prov.PeekUserInput(c); ok && strings.TrimSpace(typed) != "" {
		return false, nil
	}
	return true, nil
}

// sendLocked performs the send and, only on success, marks the row
// delivered and registers the parent wake. Callers hold the target lock.
func (m *Manager) sendLocked(sess *session.Session, msg *Message) bool {
	if err := m.tmux.SendText(sess.PaneName, msg.Text); err != nil {
		if _, berr := bumpAttempts(m.db, msg.ID); berr != nil {
			m.log.Error("recording failed attempt", "message", msg.ID, "error", berr)
		}
		m.log.Warn("delivery failed", "message", msg.ID, "target", sess.ID, "error", err)
		return false
	}
	if err := markDelivered(m.db, msg.ID, m.now()); err != nil {
		m.log.Error("marking delivered", "message", msg.ID, "error", err)
		return true
	}
	m.log.Info("message delivered", "message", msg.ID, "target", sess.ID, "mode", msg.Mode)

	if msg.Mode != ModeUrgent && msg.ParentSessionID != "" {
		if err := m.RegisterParentWake(sess.ID, msg.ParentSessionID); err != nil {
			m.log.Warn("registering parent wake", "child", sess.ID, "error", err)
		}
	}
	return true
}

// deliverUrgent pushes a message immediately, retrying with jittered
// exponential backoff. Idle state and prompt visibility are ignored.
func (m *Manager) deliverUrgent(ctx context.Context, msg *Message) {
	sess, err := m.sessions.Get(msg.TargetSessionID)
	if err != nil {
		m.log.Warn("urgent delivery to unknown session", "target", msg.TargetSessionID)
		return
	}

	delay := m.cfg.RetryBase.Std()
	for {
		lock := m.targetLock(msg.TargetSessionID)
		lock.Lock()
		// The worker may have delivered (or a cancel removed) this row
		// while we were backing off; a retry then would paste it twice.
		done, derr := messageDelivered(m.db, msg.ID)
		if derr != nil {
			lock.Unlock()
			m.log.Error("checking urgent message state", "message", msg.ID, "error", derr)
			return
		}
		if done {
			lock.Unlock()
			return
		}
		err := m.tmux.SendText(sess.PaneName, msg.Text)
		if err == nil {
			if merr := markDelivered(m.db, msg.ID, m.now()); merr != nil {
				m.log.Error("marking delivered", "message", msg.ID, "error", merr)
			}
			lock.Unlock()
			m.log.Info("urgent message delivered", "message", msg.ID, "target", sess.ID)
			return
		}
		attempts, berr := bumpAttempts(m.db, msg.ID)
		lock.Unlock()
		if berr != nil {
			m.log.Error("recording failed attempt", "message", msg.ID, "error", berr)
			return
		}
		if attempts >= m.cfg.MaxAttempts {
			m.log.Error("urgent message failed permanently",
				"message", msg.ID, "target", sess.ID, "attempts", attempts, "error", err)
			return
		}

		jittered := time.Duration(float64(delay) * (0.8 + 0.4*rand.Float64()))
		select {
		case <-ctx.Done():
			return
		case <-time.After(jittered):
		}
		delay *= 2
		if max := m.cfg.RetryCap.Std(); delay > max {
			delay = max
		}
	}
}

// routeStopNotification queues an important message back to the armed
// sender telling it the target finished its turn.
func (m *Manager) routeStopNotification(target, senderID, _ string) {
	if _, err := m.sessions.Get(senderID); err != nil {
		// Sender has been deleted; nothing to route.
		return
	}
	targetSess, err := m.sessions.Get(target)
	label := target
	if err == nil {
		if targetSess.FriendlyName != "" {
			label = targetSess.FriendlyName
		} else {
			label = targetSess.Name
		}
	}
	text := fmt.Sprintf("[sm] %s has finished its turn and is waiting for input.", label)
	if _, err := m.QueueMessage(senderID, text, ModeImportant, QueueOptions{Sender: target}); err != nil {
		m.log.Error("routing stop notification", "target", target, "sender", senderID, "error", err)
	}
}
