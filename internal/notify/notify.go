// Package notify defines the outbound notification surface. Transports
// (chat, email) live behind the Notifier interface; the core only emits
// events and opens threads.
package notify

import (
	"time"

	cache "github.com/patrickmn/go-cache"
)

// Kind classifies a notification event.
type Kind string

const (
	KindTaskComplete     Kind = "task_complete"
	KindPermissionPrompt Kind = "permission_prompt"
	KindSessionError     Kind = "session_error"
	KindSessionStopped   Kind = "session_stopped"
)

// Event is one notification to the operator.
type Event struct {
	Kind      Kind
	SessionID string
	Title     string
	Body      string
	At        time.Time
}

// Notifier is a transport for operator notifications.
type Notifier interface {
	// Send delivers one event. Transports own their retry policy.
	Send(ev Event) error
	// OpenThread ensures a conversation thread exists for a session and
	// returns its id.
	OpenThread(sessionID string) (int64, error)
}

// Nop discards all events. Used when no transport is configured.
type Nop struct{}

func (Nop) Send(Event) error                 { return nil }
func (Nop) OpenThread(string) (int64, error) { return 0, nil }

// Debounced wraps a Notifier and suppresses repeated permission-prompt
// events for the same session within the window. Permission dialogs sit on
// screen for minutes; without this every capture tick would re-notify.
type Debounced struct {
	inner  Notifier
	window time.Duration
	seen   *cache.Cache
}

// NewDebounced wraps inner with a per-session debounce window.
func NewDebounced(inner Notifier, window time.Duration) *Debounced {
	return &Debounced{
		inner:  inner,
		window: window,
		seen:   cache.New(window, 2*window),
	}
}

func (d *Debounced) Send(ev Event) error {
	if ev.Kind == KindPermissionPrompt {
		key := string(ev.Kind) + ":" + ev.SessionID
		if _, hit := d.seen.Get(key); hit {
			return nil
		}
		d.seen.Set(key, struct{}{}, d.window)
	}
	return d.inner.Send(ev)
}

func (d *Debounced) OpenThread(sessionID string) (int64, error) {
	return d.inner.OpenThread(sessionID)
}
