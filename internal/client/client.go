// Package client is the thin HTTP client the CLI uses to talk to the
// daemon. The daemon address comes from SM_API_URL or the default
// loopback port.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codetown/sm/internal/config"
	"github.com/codetown/sm/internal/session"
)

// APIError is a non-2xx response from the daemon.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the daemon.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.Status == http.StatusNotFound
}

// Client talks to one daemon.
type Client struct {
	base string
	http *http.Client
}

// New creates a client for the configured daemon address.
func New() *Client {
	return NewWithBase(config.APIURL())
}

// NewWithBase creates a client for an explicit base URL.
func NewWithBase(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) do(method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("reaching daemon at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error == "" {
			errBody.Error = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: errBody.Error}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// ListSessions returns the sessions known to the daemon. Stopped
// sessions are included only when asked for.
func (c *Client) ListSessions(includeStopped bool) ([]*session.Session, error) {
	path := "/sessions"
	if includeStopped {
		path += "?include_stopped=true"
	}
	var out struct {
		Sessions []*session.Session `json:"sessions"`
	}
	if err := c.do(http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// GetSession fetches one session by id.
func (c *Client) GetSession(id string) (*session.Session, error) {
	var out session.Session
	if err := c.do(http.MethodGet, "/sessions/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResolveSession finds a session by id, name, or friendly name.
func (c *Client) ResolveSession(ref string) (*session.Session, error) {
	if sess, err := c.GetSession(ref); err == nil {
		return sess, nil
	} else if !IsNotFound(err) {
		return nil, err
	}
	// Name resolution covers stopped sessions too; kill --purge and
	// status checks still need to reach them.
	sessions, err := c.ListSessions(true)
	if err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		if sess.Name == ref || sess.FriendlyName == ref {
			return sess, nil
		}
	}
	return nil, &APIError{Status: http.StatusNotFound, Message: fmt.Sprintf("no session matches %q", ref)}
}

// CreateSessionRequest mirrors POST /sessions.
type CreateSessionRequest struct {
	WorkingDir   string `json:"working_dir"`
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	FriendlyName string `json:"friendly_name,omitempty"`
}

// CreateSession starts a new agent session.
func (c *Client) CreateSession(req CreateSessionRequest) (*session.Session, error) {
	var out session.Session
	if err := c.do(http.MethodPost, "/sessions", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// KillSession stops a session; purge drops the record too.
func (c *Client) KillSession(id string, purge bool) error {
	path := "/sessions/" + url.PathEscape(id)
	if purge {
		path += "?purge=true"
	}
	return c.do(http.MethodDelete, path, nil, nil)
}

// SendMessageRequest mirrors POST /sessions/{id}/messages.
type SendMessageRequest struct {
	Text          string `json:"text"`
	Mode          string `json:"mode,omitempty"`
	Sender        string `json:"sender_session_id,omitempty"`
	SenderName    string `json:"sender_name,omitempty"`
	Parent        string `json:"parent_session_id,omitempty"`
	Category      string `json:"message_category,omitempty"`
	RemindSoft    int    `json:"remind_soft_threshold,omitempty"`
	RemindHard    int    `json:"remind_hard_threshold,omitempty"`
	ArmStopNotify bool   `json:"arm_stop_notify,omitempty"`
}

// SendMessage queues text for delivery to a session.
func (c *Client) SendMessage(target string, req SendMessageRequest) error {
	return c.do(http.MethodPost, "/sessions/"+url.PathEscape(target)+"/messages", req, nil)
}

// InputResult is the outcome of a direct-input send.
type InputResult struct {
	Outcome string `json:"outcome"`
	Detail  string `json:"detail"`
}

// SendInput pastes text straight into the session if it is at its
// prompt, queueing it otherwise. The result says which happened.
func (c *Client) SendInput(target, text string) (InputResult, error) {
	var out InputResult
	err := c.do(http.MethodPost, "/sessions/"+url.PathEscape(target)+"/input",
		map[string]string{"text": text}, &out)
	return out, err
}

// SetTask updates the session's current task description.
func (c *Client) SetTask(id, task string) error {
	return c.do(http.MethodPut, "/sessions/"+url.PathEscape(id)+"/task",
		map[string]string{"task": task}, nil)
}

// Spawn creates a child session of parent with an initial prompt.
func (c *Client) Spawn(parentID, prompt, friendlyName string) (*session.Session, error) {
	var out session.Session
	err := c.do(http.MethodPost, "/sessions/"+url.PathEscape(parentID)+"/spawn",
		map[string]string{"prompt": prompt, "friendly_name": friendlyName}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// InvalidateCache clears stop-notify routing for a session; armSkip
// additionally absorbs the next idle event.
func (c *Client) InvalidateCache(id string, armSkip bool) error {
	path := "/sessions/" + url.PathEscape(id) + "/invalidate-cache"
	if armSkip {
		path += "?arm_skip=true"
	}
	return c.do(http.MethodPost, path, nil, nil)
}

// PendingMessage is one undelivered queue entry.
type PendingMessage struct {
	ID       int64  `json:"id"`
	Text     string `json:"text"`
	Mode     string `json:"mode"`
	Sender   string `json:"sender"`
	Category string `json:"category"`
	Attempts int    `json:"attempts"`
	QueuedAt string `json:"queued_at"`
}

// PendingMessages lists a session's undelivered messages.
func (c *Client) PendingMessages(id string) ([]PendingMessage, error) {
	var out struct {
		Messages []PendingMessage `json:"messages"`
	}
	if err := c.do(http.MethodGet, "/sessions/"+url.PathEscape(id)+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// Summary returns the tail of a session's pane.
func (c *Client) Summary(id string, lines int) (string, error) {
	path := "/sessions/" + url.PathEscape(id) + "/summary"
	if lines > 0 {
		path += fmt.Sprintf("?lines=%d", lines)
	}
	var out struct {
		Summary string `json:"summary"`
	}
	if err := c.do(http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	return out.Summary, nil
}

// Activity returns recent tool-event summaries for a session.
func (c *Client) Activity(id string, n int) ([]string, error) {
	path := "/sessions/" + url.PathEscape(id) + "/activity"
	if n > 0 {
		path += fmt.Sprintf("?n=%d", n)
	}
	var out struct {
		Events []string `json:"events"`
	}
	if err := c.do(http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// OpenTerminal opens the session's pane in a graphical terminal.
func (c *Client) OpenTerminal(id string) error {
	return c.do(http.MethodPost, "/sessions/"+url.PathEscape(id)+"/open-terminal", nil, nil)
}

// ReportContextUsage forwards a context-usage hook event.
func (c *Client) ReportContextUsage(sessionID, event string, usedPercentage float64) error {
	return c.do(http.MethodPost, "/hooks/context-usage", map[string]any{
		"session_id":      sessionID,
		"event":           event,
		"used_percentage": usedPercentage,
	}, nil)
}

// ReportAgentStatus records an agent-written status line.
func (c *Client) ReportAgentStatus(id, status string) error {
	return c.do(http.MethodPost, "/sessions/"+url.PathEscape(id)+"/agent-status",
		map[string]string{"status": status}, nil)
}

// ReportStop tells the daemon the agent's stop hook fired.
func (c *Client) ReportStop(id string) error {
	return c.do(http.MethodPost, "/hooks/stop", map[string]string{"session_id": id}, nil)
}

// Health returns the basic liveness status.
func (c *Client) Health() (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.do(http.MethodGet, "/health", nil, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

// HealthCheck is one entry of the detailed health report.
type HealthCheck struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// HealthReport is the detailed health report.
type HealthReport struct {
	Status    string                 `json:"status"`
	Checks    map[string]HealthCheck `json:"checks"`
	Resources map[string]int         `json:"resources"`
	Timestamp string                 `json:"timestamp"`
}

// HealthDetailed returns the full health report.
func (c *Client) HealthDetailed() (*HealthReport, error) {
	var out HealthReport
	if err := c.do(http.MethodGet, "/health/detailed", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
