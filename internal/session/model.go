// Package session holds the registry of managed agent sessions and its
// crash-safe persistence. The registry is the in-memory source of truth;
// every mutation is followed by a synchronous store write.
package session

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codetown/sm/internal/provider"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusStarting          Status = "starting"
	StatusRunning           Status = "running"
	StatusWaitingInput      Status = "waiting_input"
	StatusWaitingPermission Status = "waiting_permission"
	StatusIdle              Status = "idle"
	StatusStopped           Status = "stopped"
	StatusError             Status = "error"
)

// Session is one managed agent pane.
type Session struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	PaneName string `json:"pane_name"`

	WorkingDir   string `json:"working_dir"`
	GitRemoteURL string `json:"git_remote_url,omitempty"`

	Provider provider.Tag `json:"provider"`
	Model    string       `json:"model,omitempty"`

	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`

	FriendlyName string `json:"friendly_name,omitempty"`
	CurrentTask  string `json:"current_task,omitempty"`

	ParentSessionID string     `json:"parent_session_id,omitempty"`
	SpawnPrompt     string     `json:"spawn_prompt,omitempty"`
	SpawnedAt       *time.Time `json:"spawned_at,omitempty"`

	// Thread bindings for the external notifier.
	ChatID        int64 `json:"chat_id,omitempty"`
	RootMessageID int64 `json:"root_message_id,omitempty"`
	TopicID       int64 `json:"topic_id,omitempty"`

	// Provider-specific plumbing.
	TranscriptPath string `json:"transcript_path,omitempty"`
	CodexThreadID  string `json:"codex_thread_id,omitempty"`

	// Status line self-reported by the agent via the API.
	AgentStatusText string     `json:"agent_status_text,omitempty"`
	AgentStatusAt   *time.Time `json:"agent_status_at,omitempty"`
}

// Active reports whether the session still has (or should have) a live pane.
func (s *Session) Active() bool {
	return s.Status != StatusStopped && s.Status != StatusError
}

// NewID returns a fresh 8-hex session id.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// PaneNameFor derives the default pane name for a session id.
func PaneNameFor(id string) string {
	return "claude-" + id
}

// DeliveryOutcome describes what happened to a message handed to SendInput.
type DeliveryOutcome string

const (
	Delivered DeliveryOutcome = "DELIVERED"
	Queued    DeliveryOutcome = "QUEUED"
	Failed    DeliveryOutcome = "FAILED"
)

// DeliveryResult is returned by SendInput.
type DeliveryResult struct {
	Outcome DeliveryOutcome
	Detail  string
}
