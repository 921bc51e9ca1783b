package server

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/codetown/sm/internal/session"
)

type checkResult struct {
	Status  string         `json:"status"` // ok | warning | error
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type healthReport struct {
	Status    string                 `json:"status"` // healthy | degraded | unhealthy
	Checks    map[string]checkResult `json:"checks"`
	Resources map[string]int         `json:"resources"`
	Timestamp string                 `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	sessions := s.registry.List()
	active := 0
	for _, sess := range sessions {
		if sess.Active() {
			active++
		}
	}

	checks := map[string]checkResult{
		"state_file":    s.checkStateFile(),
		"tmux_sessions": s.checkPanes(sessions),
		"message_queue": s.checkQueue(),
		"telegram":      s.checkTelegram(),
		"monitors":      s.checkMonitors(active),
	}

	overall := "healthy"
	for _, c := range checks {
		switch c.Status {
		case "error":
			overall = "unhealthy"
		case "warning":
			if overall == "healthy" {
				overall = "degraded"
			}
		}
	}

	queued := 0
	if s.queue != nil {
		if n, err := s.queue.Backlog(); err == nil {
			queued = n
		}
	}

	s.writeJSON(w, http.StatusOK, healthReport{
		Status: overall,
		Checks: checks,
		Resources: map[string]int{
			"active_sessions": active,
			"total_sessions":  len(sessions),
			"monitor_tasks":   s.monitors.Count(),
			"queued_messages": queued,
			"uptime_seconds":  int(time.Since(s.start).Seconds()),
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) checkStateFile() checkResult {
	data, err := os.ReadFile(s.statePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return checkResult{Status: "ok", Message: "fresh start, no state file yet"}
		}
		return checkResult{Status: "error", Message: "state file unreadable: " + err.Error()}
	}
	var doc struct {
		Sessions []json.RawMessage `json:"sessions"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return checkResult{Status: "error", Message: "state file corrupt: " + err.Error()}
	}
	return checkResult{Status: "ok", Message: "state file readable",
		Details: map[string]any{"sessions": len(doc.Sessions)}}
}

func (s *Server) checkPanes(sessions []*session.Session) checkResult {
	known := make(map[string]bool)
	var missing []string
	for _, sess := range sessions {
		known[sess.PaneName] = true
		if !sess.Active() {
			continue
		}
		alive, err := s.tmux.Exists(sess.PaneName)
		if err != nil {
			return checkResult{Status: "error", Message: "tmux unavailable: " + err.Error()}
		}
		if !alive {
			missing = append(missing, sess.ID)
		}
	}
	if len(missing) > 0 {
		return checkResult{Status: "error",
			Message: "sessions without a live pane: " + strings.Join(missing, ", ")}
	}

	panes, err := s.tmux.List()
	if err != nil {
		return checkResult{Status: "error", Message: "listing panes: " + err.Error()}
	}
	var orphans []string
	for _, pane := range panes {
		if strings.HasPrefix(pane, "claude-") && !known[pane] {
			orphans = append(orphans, pane)
		}
	}
	if len(orphans) > 0 {
		return checkResult{Status: "warning",
			Message: "panes without a session record: " + strings.Join(orphans, ", ")}
	}
	return checkResult{Status: "ok", Message: "all panes accounted for"}
}

func (s *Server) checkQueue() checkResult {
	if s.queue == nil {
		return checkResult{Status: "warning", Message: "message queue not configured"}
	}
	backlog, err := s.queue.Backlog()
	if err != nil {
		return checkResult{Status: "error", Message: "queue unreachable: " + err.Error()}
	}
	return checkResult{Status: "ok", Message: "queue reachable",
		Details: map[string]any{"pending_messages": backlog}}
}

func (s *Server) checkTelegram() checkResult {
	// Chat transport is optional; its absence is not a fault.
	return checkResult{Status: "ok", Message: "notifier transport not configured"}
}

func (s *Server) checkMonitors(active int) checkResult {
	running := s.monitors.Count()
	if running < active {
		return checkResult{Status: "warning",
			Message: "fewer monitor tasks than active sessions",
			Details: map[string]any{"running": running, "active_sessions": active}}
	}
	return checkResult{Status: "ok", Message: "monitors running",
		Details: map[string]any{"running": running}}
}
