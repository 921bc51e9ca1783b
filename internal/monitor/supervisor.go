package monitor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/codetown/sm/internal/config"
	"github.com/codetown/sm/internal/notify"
	"github.com/codetown/sm/internal/session"
	"github.com/codetown/sm/internal/tmux"
)

// Supervisor owns the watcher goroutines, one per live session.
type Supervisor struct {
	registry Registry
	tmux     tmux.Controller
	idle     IdleSink
	notifier notify.Notifier
	cfg      config.Monitor
	log      *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewSupervisor creates a supervisor; watchers are started per session via
// Start.
func NewSupervisor(registry Registry, ctl tmux.Controller, idle IdleSink, notifier notify.Notifier, cfg config.Monitor, log *slog.Logger) *Supervisor {
	return &Supervisor{
		registry: registry,
		tmux:     ctl,
		idle:     idle,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Start launches a watcher for the session unless one is already running.
func (s *Supervisor) Start(ctx context.Context, sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.cancels[sess.ID]; running {
		return
	}

	wctx, cancel := context.WithCancel(ctx)
	s.cancels[sess.ID] = cancel

	w := NewWatcher(sess, s.registry, s.tmux, s.idle, s.notifier, s.cfg, s.log)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("watcher panicked", "session", sess.ID, "panic", r)
			}
			s.mu.Lock()
			delete(s.cancels, sess.ID)
			s.mu.Unlock()
		}()
		w.Run(wctx)
	}()
}

// Stop cancels the watcher for a session, if any.
func (s *Supervisor) Stop(sessionID string) {
	s.mu.Lock()
	cancel, ok := s.cancels[sessionID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// StopAll cancels every watcher and waits for them to exit.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Count returns the number of running watchers, for health reporting.
func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cancels)
}

// Running reports whether a watcher exists for the session.
func (s *Supervisor) Running(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cancels[sessionID]
	return ok
}
