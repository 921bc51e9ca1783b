// Package monitor watches agent panes for lifecycle transitions. One
// watcher goroutine runs per live session; the Supervisor enforces that
// there is never more than one.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/codetown/sm/internal/config"
	"github.com/codetown/sm/internal/notify"
	"github.com/codetown/sm/internal/provider"
	"github.com/codetown/sm/internal/session"
	"github.com/codetown/sm/internal/tmux"
)

// captureLines is how much pane tail each poll inspects.
const captureLines = 50

// Registry is the slice of the session registry the monitor needs.
type Registry interface {
	Get(id string) (*session.Session, error)
	UpdateStatus(id string, status session.Status) error
}

// IdleSink receives verified idle and busy signals.
type IdleSink interface {
	MarkSessionIdle(target string, fromStopHook bool)
	MarkSessionBusy(target string)
}

// Watcher observes one session's pane.
type Watcher struct {
	sess     *session.Session
	prov     provider.Provider
	registry Registry
	tmux     tmux.Controller
	idle     IdleSink
	notifier notify.Notifier
	cfg      config.Monitor
	log      *slog.Logger

	lastCapture  string
	stableSince  time.Time
	currentState provider.State
	idleSince    time.Time
}

// NewWatcher creates a watcher for one session.
func NewWatcher(sess *session.Session, registry Registry, ctl tmux.Controller, idle IdleSink, notifier notify.Notifier, cfg config.Monitor, log *slog.Logger) *Watcher {
	return &Watcher{
		sess:     sess,
		prov:     provider.Lookup(sess.Provider),
		registry: registry,
		tmux:     ctl,
		idle:     idle,
		notifier: notifier,
		cfg:      cfg,
		log:      log.With("component", "monitor", "session", sess.ID),
	}
}

// Run polls the pane until ctx is done or the pane disappears.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.CaptureInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if done := w.Poll(time.Now()); done {
			return
		}
	}
}

// Poll captures the pane once and applies state transitions. It returns
// true when the pane is gone and the watcher should stop. Exported so
// tests can drive the clock.
func (w *Watcher) Poll(now time.Time) bool {
	capture, err := w.tmux.Capture(w.sess.PaneName, captureLines)
	if err != nil {
		if errors.Is(err, tmux.ErrSessionNotFound) || errors.Is(err, tmux.ErrNoServer) {
			w.log.Info("pane gone, stopping watcher")
			if uerr := w.registry.UpdateStatus(w.sess.ID, session.StatusStopped); uerr != nil &&
				!errors.Is(uerr, session.ErrNotFound) {
				w.log.Warn("marking stopped", "error", uerr)
			}
			w.emit(notify.KindSessionStopped, "session ended", "")
			return true
		}
		w.log.Warn("capture failed", "error", err)
		return false
	}

	// Only classify output that has settled: mid-render frames flap
	// between states.
	if capture != w.lastCapture {
		w.lastCapture = capture
		w.stableSince = now
		return false
	}
	if now.Sub(w.stableSince) < w.cfg.StableWindow.Std() {
		return false
	}

	state := w.prov.DetectState(capture)
	if state != w.currentState {
		w.transition(state, capture, now)
	} else if state == provider.StateWaitingPermission {
		// A dialog that outlives the debounce window gets pinged again;
		// the notifier swallows the repeats inside it.
		w.emit(notify.KindPermissionPrompt, "permission required", lastLines(capture))
	}

	// A long-quiet prompt demotes waiting_input to idle.
	if w.currentState == provider.StateWaitingInput && !w.idleSince.IsZero() &&
		now.Sub(w.idleSince) >= w.cfg.IdleCooldown.Std() {
		if err := w.registry.UpdateStatus(w.sess.ID, session.StatusIdle); err != nil {
			w.log.Warn("marking idle", "error", err)
		}
		w.idleSince = time.Time{}
	}
	return false
}

func (w *Watcher) transition(state provider.State, capture string, now time.Time) {
	prev := w.currentState
	w.currentState = state
	w.log.Info("state transition", "from", prev.String(), "to", state.String())

	switch state {
	case provider.StateWaitingInput:
		w.idleSince = now
		if err := w.registry.UpdateStatus(w.sess.ID, session.StatusWaitingInput); err != nil {
			w.log.Warn("updating status", "error", err)
		}
		w.idle.MarkSessionIdle(w.sess.ID, false)
	case provider.StateWaitingPermission:
		if err := w.registry.UpdateStatus(w.sess.ID, session.StatusWaitingPermission); err != nil {
			w.log.Warn("updating status", "error", err)
		}
		w.emit(notify.KindPermissionPrompt, "permission required", lastLines(capture))
	case provider.StateRunning:
		if err := w.registry.UpdateStatus(w.sess.ID, session.StatusRunning); err != nil {
			w.log.Warn("updating status", "error", err)
		}
		w.idle.MarkSessionBusy(w.sess.ID)
		w.idleSince = time.Time{}
	case provider.StateError:
		if err := w.registry.UpdateStatus(w.sess.ID, session.StatusError); err != nil {
			w.log.Warn("updating status", "error", err)
		}
		w.emit(notify.KindSessionError, "agent reported an error", lastLines(capture))
	}
}

func (w *Watcher) emit(kind notify.Kind, title, body string) {
	ev := notify.Event{
		Kind:      kind,
		SessionID: w.sess.ID,
		Title:     title,
		Body:      body,
		At:        time.Now(),
	}
	if err := w.notifier.Send(ev); err != nil {
		w.log.Warn("notification failed", "kind", kind, "error", err)
	}
}

// lastLines trims a capture to a short excerpt for notifications.
func lastLines(capture string) string {
	const max = 400
	if len(capture) <= max {
		return capture
	}
	return capture[len(capture)-max:]
}
