// Package lock implements the advisory workspace lock: a plain-text file
// claiming a repository for one session. Cooperating agents check it
// before starting work so two sessions do not edit the same tree.
package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

// StaleAfter is how old a lock may get before it is considered abandoned.
const StaleAfter = 30 * time.Minute

// FileName is the lock's location relative to the repository root.
const FileName = ".claude/workspace.lock"

// PathFor returns the lock file path for a repository root.
func PathFor(repoRoot string) string {
	return filepath.Join(repoRoot, FileName)
}

// Info is the parsed content of a lock file.
type Info struct {
	Session string
	Task    string
	Branch  string
	Started time.Time
}

// Stale reports whether the lock has outlived StaleAfter.
func (i Info) Stale(now time.Time) bool {
	return now.Sub(i.Started) > StaleAfter
}

// Result describes a TryAcquire outcome.
type Result struct {
	Acquired       bool
	LockedByOther  bool
	OwnerSessionID string
}

// TryAcquire claims the lock for sessionID. It succeeds when the file is
// absent, stale, or already owned by the same session. The read-check-write
// sequence is serialized with a file lock so two processes cannot both
// claim a free slot.
func TryAcquire(path, sessionID, task, branch string) (Result, error) {
	fl, err := serialize(path)
	if err != nil {
		return Result{}, fmt.Errorf("serializing lock acquire: %w", err)
	}
	defer fl.Unlock()

	info, err := read(path)
	if err != nil {
		return Result{}, err
	}
	if info != nil && info.Session != sessionID && !info.Stale(time.Now()) {
		return Result{LockedByOther: true, OwnerSessionID: info.Session}, nil
	}

	if err := write(path, Info{
		Session: sessionID,
		Task:    task,
		Branch:  branch,
		Started: time.Now(),
	}); err != nil {
		return Result{}, err
	}
	return Result{Acquired: true}, nil
}

// Release removes the lock file. With a non-empty sessionID it refuses
// unless that session owns the lock; released reports whether the file
// was actually removed.
func Release(path, sessionID string) (released bool, err error) {
	fl, err := serialize(path)
	if err != nil {
		return false, fmt.Errorf("serializing lock release: %w", err)
	}
	defer fl.Unlock()

	info, err := read(path)
	if err != nil {
		return false, err
	}
	if info == nil {
		return false, nil
	}
	if sessionID != "" && info.Session != sessionID {
		return false, nil
	}
	if err := os.Remove(path); err != nil {
		return false, fmt.Errorf("removing lock file: %w", err)
	}
	return true, nil
}

// Check returns the current lock info, or nil when unlocked.
func Check(path string) (*Info, error) {
	return read(path)
}

// IsLocked reports whether a non-stale lock exists.
func IsLocked(path string) (bool, error) {
	info, err := read(path)
	if err != nil {
		return false, err
	}
	return info != nil && !info.Stale(time.Now()), nil
}

// serialize takes the process-level file lock guarding path. The lock
// directory may not exist yet in a fresh repository, so it is created
// before the flock file.
func serialize(path string) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	fl := flock.New(path + ".flock")
	if err := fl.Lock(); err != nil {
		return nil, err
	}
	return fl, nil
}

func read(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading lock file: %w", err)
	}

	info := &Info{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "session":
			info.Session = value
		case "task":
			info.Task = value
		case "branch":
			info.Branch = value
		case "started":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				info.Started = t
			}
		}
	}
	if info.Session == "" {
		// Unparseable content is treated as no lock; the next acquire
		// overwrites it.
		return nil, nil
	}
	return info, nil
}

func write(path string, info Info) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "session=%s\n", info.Session)
	fmt.Fprintf(&b, "task=%s\n", info.Task)
	fmt.Fprintf(&b, "branch=%s\n", info.Branch)
	fmt.Fprintf(&b, "started=%s\n", info.Started.Format(time.RFC3339))
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing lock file: %w", err)
	}
	return nil
}
