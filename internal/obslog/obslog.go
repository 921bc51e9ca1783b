// Package obslog tails the tool-event log written by agent hook scripts.
// The log is JSONL, one tool invocation per line; the reader keeps a
// small per-session ring of recent events for parent digests.
package obslog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ringSize is how many events are retained per session.
const ringSize = 32

// Event is one tool invocation reported by a hook script.
type Event struct {
	SessionID string    `json:"session_id"`
	Tool      string    `json:"tool"`
	Summary   string    `json:"summary"`
	At        time.Time `json:"at"`
}

// Line renders the event as a one-line digest entry.
func (e Event) Line() string {
	if e.Summary == "" {
		return e.Tool
	}
	return fmt.Sprintf("%s: %s", e.Tool, e.Summary)
}

// Reader tails the log file and serves recent-activity queries.
type Reader struct {
	path string
	log  *slog.Logger

	mu     sync.Mutex
	rings  map[string][]Event
	offset int64
}

// NewReader creates a reader for the log at path. The file may not exist
// yet; it is picked up when created.
func NewReader(path string, log *slog.Logger) *Reader {
	return &Reader{
		path:  path,
		log:   log.With("component", "obslog"),
		rings: make(map[string][]Event),
	}
}

// Tail returns one-line summaries of the last n events for a session,
// oldest first.
func (r *Reader) Tail(sessionID string, n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ring := r.rings[sessionID]
	if len(ring) > n {
		ring = ring[len(ring)-n:]
	}
	out := make([]string, 0, len(ring))
	for _, ev := range ring {
		out = append(out, ev.Line())
	}
	return out
}

// Run tails the file until ctx is done. The initial contents are consumed
// first so digests have history right after startup.
func (r *Reader) Run(ctx context.Context) error {
	if err := r.consume(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: the file may be created or rotated under us.
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		return fmt.Errorf("watching log directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != r.path {
				continue
			}
			if ev.Has(fsnotify.Create) {
				r.mu.Lock()
				r.offset = 0
				r.mu.Unlock()
			}
			if err := r.consume(); err != nil {
				r.log.Warn("reading log", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Warn("watcher error", "error", err)
		}
	}
}

// consume reads any log content past the last offset.
func (r *Reader) consume() error {
	f, err := os.Open(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("opening log: %w", err)
	}
	defer f.Close()

	r.mu.Lock()
	offset := r.offset
	r.mu.Unlock()

	if info, err := f.Stat(); err == nil && info.Size() < offset {
		// Truncated or rotated: start over.
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seeking log: %w", err)
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	read := offset
	for scanner.Scan() {
		line := scanner.Bytes()
		read += int64(len(line)) + 1
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			// Partial or garbage line; skip it.
			continue
		}
		if ev.SessionID == "" {
			continue
		}
		r.record(ev)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanning log: %w", err)
	}

	r.mu.Lock()
	r.offset = read
	r.mu.Unlock()
	return nil
}

func (r *Reader) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ring := append(r.rings[ev.SessionID], ev)
	if len(ring) > ringSize {
		ring = ring[len(ring)-ringSize:]
	}
	r.rings[ev.SessionID] = ring
}
