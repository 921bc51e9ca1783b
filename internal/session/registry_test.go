package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/codetown/sm/internal/tmux"
)

func newTestRegistry(t *testing.T) (*Registry, *tmux.Fake, *Store) {
	t.Helper()
	store := NewStore(filepath.Join(t.TempDir(), "sessions.json"))
	fake := tmux.NewFake()
	return NewRegistry(store, fake), fake, store
}

func TestCreateStartsPaneAndPersists(t *testing.T) {
	reg, fake, store := newTestRegistry(t)

	s, err := reg.Create(CreateOptions{WorkingDir: "/tmp/work", Provider: "claude", Model: "opus"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if len(s.ID) != 8 {
		t.Errorf("id length = %d, want 8", len(s.ID))
	}
	if s.Name != "claude-"+s.ID || s.PaneName != s.Name {
		t.Errorf("name = %q pane = %q", s.Name, s.PaneName)
	}
	if s.Status != StatusStarting {
		t.Errorf("status = %q, want starting", s.Status)
	}

	alive, _ := fake.Exists(s.PaneName)
	if !alive {
		t.Error("pane was not created")
	}

	persisted, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(persisted) != 1 || persisted[0].ID != s.ID {
		t.Errorf("persisted %d sessions, want the created one", len(persisted))
	}
}

func TestCreateRejectsUnknownProvider(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	if _, err := reg.Create(CreateOptions{Provider: "gemini"}); err == nil {
		t.Error("Create() with unknown provider succeeded, want error")
	}
}

func TestGetByName(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	s, err := reg.Create(CreateOptions{FriendlyName: "backend"})
	if err != nil {
		t.Fatal(err)
	}

	if got, err := reg.GetByName(s.Name); err != nil || got.ID != s.ID {
		t.Errorf("GetByName(pane name) = %v, %v", got, err)
	}
	if got, err := reg.GetByName("backend"); err != nil || got.ID != s.ID {
		t.Errorf("GetByName(friendly) = %v, %v", got, err)
	}
	if _, err := reg.GetByName("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByName(missing) error = %v, want ErrNotFound", err)
	}
}

func TestKillRetainsRecord(t *testing.T) {
	reg, fake, _ := newTestRegistry(t)
	s, err := reg.Create(CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}

	if err := reg.Kill(s.ID); err != nil {
		t.Fatalf("Kill() error = %v", err)
	}
	if got := fake.Killed(); len(got) != 1 || got[0] != s.PaneName {
		t.Errorf("killed panes = %v", got)
	}

	after, err := reg.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() after kill error = %v", err)
	}
	if after.Status != StatusStopped {
		t.Errorf("status after kill = %q, want stopped", after.Status)
	}
}

func TestKillToleratesMissingPane(t *testing.T) {
	reg, fake, _ := newTestRegistry(t)
	s, err := reg.Create(CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	// Pane died out from under us.
	fake.Kill(s.PaneName)

	if err := reg.Kill(s.ID); err != nil {
		t.Fatalf("Kill() with dead pane error = %v", err)
	}
}

func TestReconcileDropsDeadSessions(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "sessions.json")
	now := time.Now().UTC()

	doc := map[string]any{"sessions": []*Session{
		{ID: "dead123", Name: "claude-dead123", PaneName: "claude-dead123",
			Provider: "claude", Status: StatusRunning, CreatedAt: now, LastActivity: now},
		{ID: "live456", Name: "claude-live456", PaneName: "claude-live456",
			Provider: "claude", Status: StatusRunning, CreatedAt: now, LastActivity: now},
	}}
	data, _ := json.Marshal(doc)
	if err := os.WriteFile(statePath, data, 0o644); err != nil {
		t.Fatal(err)
	}

	fake := tmux.NewFake()
	fake.AddPane("claude-live456")
	reg := NewRegistry(NewStore(statePath), fake)

	if err := reg.Reconcile(); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if _, err := reg.Get("dead123"); !errors.Is(err, ErrNotFound) {
		t.Errorf("dead123 still in registry, err = %v", err)
	}
	if _, err := reg.Get("live456"); err != nil {
		t.Errorf("live456 missing after reconcile: %v", err)
	}

	rewritten, err := os.ReadFile(statePath)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(rewritten), "dead123") {
		t.Error("state file still lists dead123 after reconcile")
	}
	if !strings.Contains(string(rewritten), "live456") {
		t.Error("state file lost live456 after reconcile")
	}
}

func TestReconcileIdempotent(t *testing.T) {
	reg, fake, _ := newTestRegistry(t)
	s, err := reg.Create(CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	_ = fake

	for i := 0; i < 3; i++ {
		if err := reg.Reconcile(); err != nil {
			t.Fatalf("Reconcile() #%d error = %v", i+1, err)
		}
	}
	if _, err := reg.Get(s.ID); err != nil {
		t.Errorf("session lost after repeated reconcile: %v", err)
	}
}

func TestSendInputDirectWhenAtPrompt(t *testing.T) {
	reg, fake, _ := newTestRegistry(t)
	s, err := reg.Create(CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.UpdateStatus(s.ID, StatusWaitingInput); err != nil {
		t.Fatal(err)
	}

	res, err := reg.SendInput(s.ID, "run the tests")
	if err != nil {
		t.Fatalf("SendInput() error = %v", err)
	}
	if res.Outcome != Delivered {
		t.Errorf("outcome = %q, want DELIVERED", res.Outcome)
	}
	if sent := fake.SentText(s.PaneName); len(sent) != 1 || sent[0] != "run the tests" {
		t.Errorf("sent = %v", sent)
	}
}

func TestSendInputQueuesWhenBusy(t *testing.T) {
	reg, fake, _ := newTestRegistry(t)
	s, err := reg.Create(CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.UpdateStatus(s.ID, StatusRunning); err != nil {
		t.Fatal(err)
	}

	var queued []string
	reg.SetEnqueue(func(targetID, text, parentID string) error {
		queued = append(queued, targetID+":"+text)
		return nil
	})

	res, err := reg.SendInput(s.ID, "later please")
	if err != nil {
		t.Fatalf("SendInput() error = %v", err)
	}
	if res.Outcome != Queued {
		t.Errorf("outcome = %q, want QUEUED", res.Outcome)
	}
	if len(queued) != 1 || queued[0] != s.ID+":later please" {
		t.Errorf("queued = %v", queued)
	}
	if sent := fake.SentText(s.PaneName); len(sent) != 0 {
		t.Errorf("text was pasted despite busy session: %v", sent)
	}
}

func TestSendInputFailedOnPaneError(t *testing.T) {
	reg, fake, _ := newTestRegistry(t)
	s, err := reg.Create(CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.UpdateStatus(s.ID, StatusWaitingInput); err != nil {
		t.Fatal(err)
	}
	fake.SendErrs[s.PaneName] = tmux.ErrSessionNotFound

	res, err := reg.SendInput(s.ID, "hello")
	if err == nil {
		t.Fatal("SendInput() succeeded with dead pane, want error")
	}
	if res.Outcome != Failed {
		t.Errorf("outcome = %q, want FAILED", res.Outcome)
	}
}

func TestSpawnInheritsWorkingDir(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	parent, err := reg.Create(CreateOptions{WorkingDir: "/srv/app"})
	if err != nil {
		t.Fatal(err)
	}

	var queued []string
	var queuedParent string
	reg.SetEnqueue(func(targetID, text, parentID string) error {
		queued = append(queued, text)
		queuedParent = parentID
		return nil
	})

	child, err := reg.Spawn(parent.ID, "review the failing CI job", CreateOptions{})
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	if child.WorkingDir != "/srv/app" {
		t.Errorf("child working dir = %q, want inherited /srv/app", child.WorkingDir)
	}
	if child.ParentSessionID != parent.ID {
		t.Errorf("parent id = %q, want %q", child.ParentSessionID, parent.ID)
	}
	if child.SpawnedAt == nil || child.SpawnPrompt == "" {
		t.Error("spawn metadata not set")
	}
	if len(queued) != 1 || queued[0] != "review the failing CI job" {
		t.Errorf("spawn prompt queue = %v", queued)
	}
	if queuedParent != parent.ID {
		t.Errorf("spawn prompt parent = %q, want %q", queuedParent, parent.ID)
	}
}

func TestUpdateStatusBumpsActivity(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	s, err := reg.Create(CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	before := s.LastActivity

	time.Sleep(5 * time.Millisecond)
	if err := reg.UpdateStatus(s.ID, StatusIdle); err != nil {
		t.Fatal(err)
	}
	after, _ := reg.Get(s.ID)
	if !after.LastActivity.After(before) {
		t.Error("last_activity not bumped by UpdateStatus")
	}
	if after.Status != StatusIdle {
		t.Errorf("status = %q, want idle", after.Status)
	}
}

func TestListOrderedByCreation(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	a, _ := reg.Create(CreateOptions{})
	b, _ := reg.Create(CreateOptions{})

	got := reg.List()
	if len(got) != 2 {
		t.Fatalf("List() returned %d, want 2", len(got))
	}
	ids := []string{got[0].ID, got[1].ID}
	if !(ids[0] == a.ID && ids[1] == b.ID) && !(ids[0] == b.ID && ids[1] == a.ID) {
		t.Errorf("List() ids = %v", ids)
	}
}
