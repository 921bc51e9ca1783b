// Package daemon wires the session manager together and runs the HTTP
// API. It is the body of both smd and `sm serve`.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/codetown/sm/internal/config"
	"github.com/codetown/sm/internal/database"
	"github.com/codetown/sm/internal/monitor"
	"github.com/codetown/sm/internal/notify"
	"github.com/codetown/sm/internal/obslog"
	"github.com/codetown/sm/internal/queue"
	"github.com/codetown/sm/internal/server"
	"github.com/codetown/sm/internal/session"
	"github.com/codetown/sm/internal/tmux"
)

// shutdownGrace is how long in-flight HTTP requests get on shutdown.
const shutdownGrace = 5 * time.Second

// logNotifier reports operator events through the daemon log. It stands
// in until a chat transport is configured.
type logNotifier struct {
	log *slog.Logger
}

func (n *logNotifier) Send(ev notify.Event) error {
	n.log.Info("notification",
		"kind", ev.Kind, "session", ev.SessionID, "title", ev.Title, "body", ev.Body)
	return nil
}

func (n *logNotifier) OpenThread(string) (int64, error) { return 0, nil }

// Run starts the daemon and blocks until ctx is canceled or the listener
// fails.
func Run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if err := os.MkdirAll(filepath.Dir(cfg.Server.StateFile), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	db, err := database.Open(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("opening queue database: %w", err)
	}
	defer db.Close()

	ctl := tmux.NewTmux(tmux.Timeouts{
		SendText: cfg.Tmux.SendText.Std(),
		Capture:  cfg.Tmux.Capture.Std(),
	})

	store := session.NewStore(cfg.Server.StateFile)
	registry := session.NewRegistry(store, ctl)
	if err := registry.Reconcile(); err != nil {
		return fmt.Errorf("reconciling sessions: %w", err)
	}

	qm := queue.NewManager(db, registry, ctl, cfg.Queue, log)
	registry.SetEnqueue(func(target, text, parentID string) error {
		_, err := qm.QueueMessage(target, text, queue.ModeSequential, queue.QueueOptions{
			Sender: parentID,
			Parent: parentID,
		})
		return err
	})

	obs := obslog.NewReader(cfg.Server.ObsLog, log)
	ws := queue.NewWakeScheduler(db, registry, qm, obs.Tail, cfg.ParentWake, log)
	qm.SetWakeScheduler(ws)
	if err := ws.Recover(); err != nil {
		return fmt.Errorf("recovering parent wake registrations: %w", err)
	}

	notifier := notify.NewDebounced(&logNotifier{log: log}, cfg.Monitor.PermissionDebounce.Std())
	monitors := monitor.NewSupervisor(registry, ctl, qm, notifier, cfg.Monitor, log)

	tasks, cancelTasks := context.WithCancel(ctx)
	defer cancelTasks()
	go qm.Run(tasks)
	go ws.Run(tasks)
	go func() {
		if err := obs.Run(tasks); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("observability log tail stopped", "error", err)
		}
	}()
	for _, sess := range registry.List() {
		if sess.Active() {
			monitors.Start(tasks, sess)
		}
	}

	srv := server.New(registry, qm, monitors, ctl, obs, cfg.Server.StateFile, log)
	srv.SetMonitorContext(tasks)

	httpSrv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("daemon listening", "addr", cfg.Server.Addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	log.Info("shutting down")
	cancelTasks()
	monitors.StopAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}
