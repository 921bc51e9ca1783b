// Package queue implements durable message delivery to agent panes: the
// SQLite-backed message queue, the stop-notify arbiter, and the parent
// wake-up scheduler.
package queue

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Mode selects how a message reaches its target.
type Mode string

const (
	// ModeUrgent delivers immediately with retries, ignoring idle state.
	ModeUrgent Mode = "urgent"
	// ModeSequential delivers at the target's next verified idle.
	ModeSequential Mode = "sequential"
	// ModeImportant delivers at idle, or whenever the prompt is visible.
	ModeImportant Mode = "important"
)

// CategoryContextMonitor marks messages produced by the context monitor;
// they are bulk-cancellable per sender.
const CategoryContextMonitor = "context_monitor"

// Message is one row of the message_queue table.
type Message struct {
	ID              int64
	TargetSessionID string
	Text            string
	Mode            Mode
	SenderSessionID string
	ParentSessionID string
	Category        string
	RemindSoft      int
	RemindHard      int
	Attempts        int
	QueuedAt        time.Time
	DeliveredAt     *time.Time
}

// QueueOptions are the optional fields of a queued message.
type QueueOptions struct {
	Sender     string
	Parent     string
	Category   string
	RemindSoft int
	RemindHard int
}

func insertMessage(db *sql.DB, target, text string, mode Mode, opts QueueOptions, now time.Time) (*Message, error) {
	res, err := db.Exec(`INSERT INTO message_queue
		(target_session_id, text, delivery_mode, sender_session_id, parent_session_id,
		 message_category, remind_soft_threshold, remind_hard_threshold, attempts, queued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		target, text, string(mode),
		nullStr(opts.Sender), nullStr(opts.Parent), nullStr(opts.Category),
		nullInt(opts.RemindSoft), nullInt(opts.RemindHard),
		now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading message id: %w", err)
	}
	return &Message{
		ID: id, TargetSessionID: target, Text: text, Mode: mode,
		SenderSessionID: opts.Sender, ParentSessionID: opts.Parent,
		Category: opts.Category, RemindSoft: opts.RemindSoft, RemindHard: opts.RemindHard,
		QueuedAt: now.UTC(),
	}, nil
}

const messageColumns = `id, target_session_id, text, delivery_mode,
	COALESCE(sender_session_id, ''), COALESCE(parent_session_id, ''),
	COALESCE(message_category, ''), COALESCE(remind_soft_threshold, 0),
	COALESCE(remind_hard_threshold, 0), attempts, queued_at, delivered_at`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	var mode, queuedAt string
	var deliveredAt sql.NullString
	err := row.Scan(&m.ID, &m.TargetSessionID, &m.Text, &mode,
		&m.SenderSessionID, &m.ParentSessionID, &m.Category,
		&m.RemindSoft, &m.RemindHard, &m.Attempts, &queuedAt, &deliveredAt)
	if err != nil {
		return nil, err
	}
	m.Mode = Mode(mode)
	if t, err := time.Parse(time.RFC3339Nano, queuedAt); err == nil {
		m.QueuedAt = t
	}
	if deliveredAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, deliveredAt.String); err == nil {
			m.DeliveredAt = &t
		}
	}
	return &m, nil
}

func pendingMessages(db *sql.DB, target string) ([]*Message, error) {
	rows, err := db.Query(`SELECT `+messageColumns+` FROM message_queue
		WHERE target_session_id = ? AND delivered_at IS NULL
		ORDER BY queued_at, id`, target)
	if err != nil {
		return nil, fmt.Errorf("listing pending messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// pendingTargets returns the distinct targets that have undelivered rows.
func pendingTargets(db *sql.DB) ([]string, error) {
	rows, err := db.Query(`SELECT DISTINCT target_session_id FROM message_queue
		WHERE delivered_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("listing pending targets: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func markDelivered(db *sql.DB, id int64, at time.Time) error {
	_, err := db.Exec(`UPDATE message_queue SET delivered_at = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("marking message %d delivered: %w", id, err)
	}
	return nil
}

// messageDelivered reports whether the row is no longer pending. A
// deleted row counts as done: cancellation must stop retries too.
func messageDelivered(db *sql.DB, id int64) (bool, error) {
	var delivered sql.NullString
	err := db.QueryRow(`SELECT delivered_at FROM message_queue WHERE id = ?`, id).Scan(&delivered)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking message %d: %w", id, err)
	}
	return delivered.Valid, nil
}

func bumpAttempts(db *sql.DB, id int64) (int, error) {
	if _, err := db.Exec(`UPDATE message_queue SET attempts = attempts + 1 WHERE id = ?`, id); err != nil {
		return 0, fmt.Errorf("bumping attempts for message %d: %w", id, err)
	}
	var attempts int
	if err := db.QueryRow(`SELECT attempts FROM message_queue WHERE id = ?`, id).Scan(&attempts); err != nil {
		return 0, err
	}
	return attempts, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
