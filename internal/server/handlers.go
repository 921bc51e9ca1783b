package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/codetown/sm/internal/provider"
	"github.com/codetown/sm/internal/queue"
	"github.com/codetown/sm/internal/session"
)

// handleListSessions returns the session table. Stopped sessions are
// left out unless include_stopped=true is passed.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	all := s.registry.List()
	if r.URL.Query().Get("include_stopped") == "true" {
		s.writeJSON(w, http.StatusOK, map[string]any{"sessions": all})
		return
	}
	out := make([]*session.Session, 0, len(all))
	for _, sess := range all {
		if sess.Status != session.StatusStopped {
			out = append(out, sess)
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		s.sessionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

type createSessionRequest struct {
	WorkingDir   string `json:"working_dir"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	FriendlyName string `json:"friendly_name"`
	GitRemoteURL string `json:"git_remote_url"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := s.registry.Create(session.CreateOptions{
		WorkingDir:   req.WorkingDir,
		Provider:     provider.Tag(req.Provider),
		Model:        req.Model,
		FriendlyName: req.FriendlyName,
		GitRemoteURL: req.GitRemoteURL,
	})
	if err != nil {
		if strings.Contains(err.Error(), "unknown provider") {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.monitors.Start(s.monitorCtx, sess)
	s.writeJSON(w, http.StatusCreated, sess)
}

type patchSessionRequest struct {
	FriendlyName *string `json:"friendly_name"`
	Status       *string `json:"status"`
	ChatID       *int64  `json:"chat_id"`
	TopicID      *int64  `json:"topic_id"`
}

func (s *Server) handlePatchSession(w http.ResponseWriter, r *http.Request) {
	var req patchSessionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := r.PathValue("id")
	err := s.registry.Mutate(id, func(sess *session.Session) {
		if req.FriendlyName != nil {
			sess.FriendlyName = *req.FriendlyName
		}
		if req.Status != nil {
			sess.Status = session.Status(*req.Status)
		}
		if req.ChatID != nil {
			sess.ChatID = *req.ChatID
		}
		if req.TopicID != nil {
			sess.TopicID = *req.TopicID
		}
	})
	if err != nil {
		s.sessionError(w, err)
		return
	}

	sess, err := s.registry.Get(id)
	if err != nil {
		s.sessionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

// handleDeleteSession kills the session; ?purge=true drops the record
// entirely.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.monitors.Stop(id)
	s.queue.Arbiter().Drop(id)

	if err := s.registry.Kill(id); err != nil {
		s.sessionError(w, err)
		return
	}
	if r.URL.Query().Get("purge") == "true" {
		if err := s.registry.Purge(id); err != nil {
			s.sessionError(w, err)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handlePutTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Task string `json:"task"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.registry.SetTask(r.PathValue("id"), req.Task); err != nil {
		s.sessionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSummary returns the pane tail; real summarization is delegated to
// external tooling reading this output.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		s.sessionError(w, err)
		return
	}

	lines := 50
	if q := r.URL.Query().Get("lines"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid lines parameter")
			return
		}
		lines = n
	}

	capture, err := s.tmux.Capture(sess.PaneName, lines)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, fmt.Sprintf("capturing pane: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"lines":      lines,
		"summary":    capture,
	})
}

// handleActivity returns recent tool events from the observability log.
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		s.sessionError(w, err)
		return
	}

	n := 10
	if q := r.URL.Query().Get("n"); q != "" {
		v, err := strconv.Atoi(q)
		if err != nil || v <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid n parameter")
			return
		}
		n = v
	}

	var events []string
	if s.obs != nil {
		events = s.obs.Tail(sess.ID, n)
	}
	if events == nil {
		events = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"events":     events,
	})
}

type spawnRequest struct {
	Prompt       string `json:"prompt"`
	WorkingDir   string `json:"working_dir"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	FriendlyName string `json:"friendly_name"`
}

func (s *Server) handleSpawn(w http.ResponseWriter, r *http.Request) {
	var req spawnRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	child, err := s.registry.Spawn(r.PathValue("id"), req.Prompt, session.CreateOptions{
		WorkingDir:   req.WorkingDir,
		Provider:     provider.Tag(req.Provider),
		Model:        req.Model,
		FriendlyName: req.FriendlyName,
	})
	if err != nil {
		s.sessionError(w, err)
		return
	}

	s.monitors.Start(s.monitorCtx, child)
	s.writeJSON(w, http.StatusCreated, child)
}

// handleSendInput hands text to the registry's direct-input path: pasted
// straight into the pane when the session is at its prompt, queued for
// the next idle otherwise. The response carries the outcome.
func (s *Server) handleSendInput(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	res, err := s.registry.SendInput(r.PathValue("id"), req.Text)
	if err != nil && errors.Is(err, session.ErrNotFound) {
		s.sessionError(w, err)
		return
	}

	// Pane failures come back as outcome FAILED, not an HTTP error; the
	// caller switches on the outcome.
	s.writeJSON(w, http.StatusOK, map[string]any{
		"outcome": string(res.Outcome),
		"detail":  res.Detail,
	})
}

type sendMessageRequest struct {
	Text          string `json:"text"`
	Mode          string `json:"mode"`
	Sender        string `json:"sender_session_id"`
	SenderName    string `json:"sender_name"`
	Parent        string `json:"parent_session_id"`
	Category      string `json:"message_category"`
	RemindSoft    int    `json:"remind_soft_threshold"`
	RemindHard    int    `json:"remind_hard_threshold"`
	ArmStopNotify bool   `json:"arm_stop_notify"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	target := r.PathValue("id")
	if _, err := s.registry.Get(target); err != nil {
		s.sessionError(w, err)
		return
	}

	mode := queue.Mode(req.Mode)
	if req.Mode == "" {
		mode = queue.ModeSequential
	}

	msg, err := s.queue.QueueMessage(target, req.Text, mode, queue.QueueOptions{
		Sender:     req.Sender,
		Parent:     req.Parent,
		Category:   req.Category,
		RemindSoft: req.RemindSoft,
		RemindHard: req.RemindHard,
	})
	if err != nil {
		if strings.Contains(err.Error(), "unknown delivery mode") {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// A sender that wants to hear back when the target stops arms the
	// stop-notify routing before the message lands.
	if req.ArmStopNotify && req.Sender != "" {
		s.queue.Arbiter().ArmSender(target, req.Sender, req.SenderName)
	}

	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"message_id": msg.ID,
		"status":     "queued",
		"mode":       string(mode),
	})
}

func (s *Server) handlePendingMessages(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("id")
	msgs, err := s.queue.GetPendingMessages(target)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, map[string]any{
			"id":        m.ID,
			"text":      m.Text,
			"mode":      string(m.Mode),
			"sender":    m.SenderSessionID,
			"category":  m.Category,
			"attempts":  m.Attempts,
			"queued_at": m.QueuedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.registry.SetAgentStatus(r.PathValue("id"), req.Status); err != nil {
		s.sessionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleInvalidateCache clears the stop-notify sender and drops the
// session's outstanding context-monitor messages. With arm_skip the next
// idle event is absorbed too.
func (s *Server) handleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	armSkip := r.URL.Query().Get("arm_skip") == "true"
	var req struct {
		ArmSkip bool `json:"arm_skip"`
	}
	if err := decodeBody(r, &req); err == nil && req.ArmSkip {
		armSkip = true
	}

	s.queue.Arbiter().Invalidate(id, armSkip)
	canceled, err := s.queue.CancelContextMonitorMessagesFrom(id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":            "invalidated",
		"arm_skip":          armSkip,
		"messages_canceled": canceled,
	})
}

func (s *Server) handleOpenTerminal(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.OpenTerminal(r.PathValue("id")); err != nil {
		s.sessionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "opened"})
}

type contextUsageRequest struct {
	SessionID      string  `json:"session_id"`
	Event          string  `json:"event"`
	UsedPercentage float64 `json:"used_percentage"`
	Trigger        string  `json:"trigger"`
}

// contextWarnThreshold is the usage percentage past which the session is
// nudged to compact.
const contextWarnThreshold = 80.0

func (s *Server) handleContextUsage(w http.ResponseWriter, r *http.Request) {
	var req contextUsageRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		s.writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	if req.Event == "context_reset" {
		// Reset always clears outstanding context warnings, whether or not
		// we ever saw this session before.
		if _, err := s.queue.CancelContextMonitorMessagesFrom(req.SessionID); err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "flags_reset"})
		return
	}

	if req.UsedPercentage >= contextWarnThreshold {
		if _, err := s.registry.Get(req.SessionID); err == nil {
			text := fmt.Sprintf(
				"[sm context-monitor] Context usage at %.0f%%. Consider compacting or wrapping up the current task.",
				req.UsedPercentage)
			_, err := s.queue.QueueMessage(req.SessionID, text, queue.ModeSequential, queue.QueueOptions{
				Sender:   req.SessionID,
				Category: queue.CategoryContextMonitor,
			})
			if err != nil {
				s.writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "warned"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStopHook records a stop event reported by the agent's own hook.
func (s *Server) handleStopHook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		s.writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	s.queue.MarkSessionIdle(req.SessionID, true)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
