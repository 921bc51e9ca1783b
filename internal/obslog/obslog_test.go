package obslog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	for _, line := range lines {
		if _, err := fmt.Fprintln(f, line); err != nil {
			t.Fatal(err)
		}
	}
}

func TestConsumeExistingLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tool-events.jsonl")
	writeLines(t, path,
		`{"session_id":"abc12345","tool":"Bash","summary":"go test ./..."}`,
		`{"session_id":"abc12345","tool":"Edit","summary":"internal/queue/manager.go"}`,
		`{"session_id":"other999","tool":"Read","summary":"README.md"}`,
	)

	r := NewReader(path, discard())
	if err := r.consume(); err != nil {
		t.Fatalf("consume() error = %v", err)
	}

	got := r.Tail("abc12345", 5)
	want := []string{"Bash: go test ./...", "Edit: internal/queue/manager.go"}
	if len(got) != len(want) {
		t.Fatalf("Tail() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Tail()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTailLimitsAndOrders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tool-events.jsonl")
	var lines []string
	for i := 0; i < 10; i++ {
		lines = append(lines, fmt.Sprintf(`{"session_id":"s","tool":"Bash","summary":"cmd %d"}`, i))
	}
	writeLines(t, path, lines...)

	r := NewReader(path, discard())
	if err := r.consume(); err != nil {
		t.Fatal(err)
	}

	got := r.Tail("s", 3)
	if len(got) != 3 || got[2] != "Bash: cmd 9" {
		t.Errorf("Tail(3) = %v, want last three ending in cmd 9", got)
	}
}

func TestConsumeSkipsGarbageLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tool-events.jsonl")
	writeLines(t, path,
		`not json at all`,
		`{"session_id":"s","tool":"Bash","summary":"ok"}`,
		`{"tool":"Bash","summary":"missing session"}`,
	)

	r := NewReader(path, discard())
	if err := r.consume(); err != nil {
		t.Fatalf("consume() error = %v", err)
	}
	if got := r.Tail("s", 5); len(got) != 1 || got[0] != "Bash: ok" {
		t.Errorf("Tail() = %v, want [Bash: ok]", got)
	}
}

func TestMissingFileIsNotAnError(t *testing.T) {
	r := NewReader(filepath.Join(t.TempDir(), "absent.jsonl"), discard())
	if err := r.consume(); err != nil {
		t.Errorf("consume() with absent file error = %v", err)
	}
	if got := r.Tail("s", 3); len(got) != 0 {
		t.Errorf("Tail() = %v, want empty", got)
	}
}

func TestRunPicksUpAppendedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tool-events.jsonl")
	writeLines(t, path, `{"session_id":"s","tool":"Bash","summary":"first"}`)

	r := NewReader(path, discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// Let the watcher get established before appending.
	time.Sleep(50 * time.Millisecond)
	writeLines(t, path, `{"session_id":"s","tool":"Edit","summary":"second"}`)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(r.Tail("s", 5)) == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	got := r.Tail("s", 5)
	if len(got) != 2 || got[1] != "Edit: second" {
		t.Errorf("Tail() = %v, want appended event", got)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
}
