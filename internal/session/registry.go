package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/codetown/sm/internal/provider"
	"github.com/codetown/sm/internal/tmux"
)

// ErrNotFound is returned when a session id or name matches nothing.
var ErrNotFound = errors.New("session not found")

// EnqueueFunc hands a message to the queue for later delivery. A
// non-empty parentID asks the queue to register a parent wake once the
// message lands. Wired in after construction so the registry does not
// depend on the queue package.
type EnqueueFunc func(targetID, text, parentID string) error

// CreateOptions are the caller-supplied fields for a new session.
type CreateOptions struct {
	WorkingDir   string
	Provider     provider.Tag
	Model        string
	FriendlyName string
	GitRemoteURL string
}

// Registry owns the set of managed sessions. All access goes through its
// mutex; every mutation is persisted before the method returns.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	store   *Store
	tmux    tmux.Controller
	enqueue EnqueueFunc
	now     func() time.Time
}

// NewRegistry creates an empty registry backed by store and ctl.
func NewRegistry(store *Store, ctl tmux.Controller) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		store:    store,
		tmux:     ctl,
		now:      time.Now,
	}
}

// SetEnqueue wires the queue hook used when direct delivery is not safe.
func (r *Registry) SetEnqueue(fn EnqueueFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enqueue = fn
}

// Reconcile loads persisted sessions and drops any whose pane no longer
// exists. It is safe to call repeatedly and emits no notifications.
func (r *Registry) Reconcile() error {
	persisted, err := r.store.Load()
	if err != nil {
		return fmt.Errorf("loading persisted sessions: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions = make(map[string]*Session, len(persisted))
	for _, s := range persisted {
		alive, err := r.tmux.Exists(s.PaneName)
		if err != nil {
			return fmt.Errorf("checking pane %s: %w", s.PaneName, err)
		}
		if !alive {
			continue
		}
		r.sessions[s.ID] = s
	}
	return r.saveLocked()
}

// Create starts a new agent pane and registers the session.
func (r *Registry) Create(opts CreateOptions) (*Session, error) {
	if opts.Provider == "" {
		opts.Provider = provider.Claude
	}
	if !provider.Valid(opts.Provider) {
		return nil, fmt.Errorf("unknown provider %q", opts.Provider)
	}

	id := NewID()
	now := r.now()
	s := &Session{
		ID:           id,
		Name:         PaneNameFor(id),
		PaneName:     PaneNameFor(id),
		WorkingDir:   opts.WorkingDir,
		GitRemoteURL: opts.GitRemoteURL,
		Provider:     opts.Provider,
		Model:        opts.Model,
		FriendlyName: opts.FriendlyName,
		Status:       StatusStarting,
		CreatedAt:    now,
		LastActivity: now,
	}

	command := provider.Lookup(opts.Provider).Command(opts.Model)
	if err := r.tmux.CreateWithCommand(s.PaneName, s.WorkingDir, command); err != nil {
		return nil, fmt.Errorf("creating pane: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	if err := r.saveLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

// Spawn creates a child session for parent. The child inherits the
// parent's working directory unless opts overrides it; the spawn prompt is
// queued for delivery once the child's prompt is up.
func (r *Registry) Spawn(parentID, prompt string, opts CreateOptions) (*Session, error) {
	parent, err := r.Get(parentID)
	if err != nil {
		return nil, err
	}
	if opts.WorkingDir == "" {
		opts.WorkingDir = parent.WorkingDir
	}
	if opts.Provider == "" {
		opts.Provider = parent.Provider
	}

	child, err := r.Create(opts)
	if err != nil {
		return nil, err
	}

	now := r.now()
	r.mu.Lock()
	child.ParentSessionID = parent.ID
	child.SpawnPrompt = prompt
	child.SpawnedAt = &now
	err = r.saveLocked()
	enqueue := r.enqueue
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if prompt != "" && enqueue != nil {
		if err := enqueue(child.ID, prompt, parent.ID); err != nil {
			return nil, fmt.Errorf("queueing spawn prompt: %w", err)
		}
	}
	return child, nil
}

// Get returns a copy of the session with the given id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// GetByName returns the session whose name or friendly name matches.
func (r *Registry) GetByName(name string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.Name == name || s.FriendlyName == name {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// List returns copies of all sessions, ordered by creation time.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// UpdateStatus sets the lifecycle status and bumps last_activity.
func (r *Registry) UpdateStatus(id string, status Status) error {
	return r.mutate(id, func(s *Session) {
		s.Status = status
		s.LastActivity = r.now()
	})
}

// SetTask records the session's current task description.
func (r *Registry) SetTask(id, task string) error {
	return r.mutate(id, func(s *Session) {
		s.CurrentTask = task
	})
}

// SetAgentStatus records an agent-reported status line.
func (r *Registry) SetAgentStatus(id, text string) error {
	return r.mutate(id, func(s *Session) {
		now := r.now()
		s.AgentStatusText = text
		s.AgentStatusAt = &now
	})
}

// Mutate applies fn to the live session under the registry lock and
// persists the result. Used by the PATCH handler for field updates.
func (r *Registry) Mutate(id string, fn func(*Session)) error {
	return r.mutate(id, fn)
}

func (r *Registry) mutate(id string, fn func(*Session)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	fn(s)
	return r.saveLocked()
}

// Kill terminates the session's pane and marks it stopped. The record is
// retained for history; pending queued messages are left alone.
func (r *Registry) Kill(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if err := r.tmux.Kill(s.PaneName); err != nil && !errors.Is(err, tmux.ErrSessionNotFound) {
		return fmt.Errorf("killing pane: %w", err)
	}
	s.Status = StatusStopped
	s.LastActivity = r.now()
	return r.saveLocked()
}

// Purge removes a session record entirely.
func (r *Registry) Purge(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(r.sessions, id)
	return r.saveLocked()
}

// OpenTerminal opens the session's pane in a graphical terminal.
func (r *Registry) OpenTerminal(id string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	return r.tmux.OpenInTerminal(s.PaneName)
}

// SendInput routes text to a session. If the session is at its prompt the
// text is pasted directly; otherwise it is queued for sequential delivery.
func (r *Registry) SendInput(id, text string) (DeliveryResult, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return DeliveryResult{Outcome: Failed, Detail: "unknown session"}, ErrNotFound
	}
	status := s.Status
	pane := s.PaneName
	enqueue := r.enqueue
	r.mu.Unlock()

	atPrompt := status == StatusWaitingInput || status == StatusIdle
	if !atPrompt && enqueue != nil {
		if err := enqueue(id, text, ""); err != nil {
			return DeliveryResult{Outcome: Failed, Detail: err.Error()}, err
		}
		return DeliveryResult{Outcome: Queued, Detail: "session busy"}, nil
	}

	if err := r.tmux.SendText(pane, text); err != nil {
		return DeliveryResult{Outcome: Failed, Detail: err.Error()}, err
	}
	_ = r.mutate(id, func(s *Session) {
		s.LastActivity = r.now()
	})
	return DeliveryResult{Outcome: Delivered}, nil
}

// saveLocked persists the current session list. Callers must hold mu.
func (r *Registry) saveLocked() error {
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return r.store.Save(out)
}
