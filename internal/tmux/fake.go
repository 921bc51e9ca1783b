package tmux

import (
	"sync"
)

// Fake is an in-memory Controller for tests. Panes are plain entries in a
// map; captured content and send failures are scriptable per pane.
type Fake struct {
	mu sync.Mutex

	panes    map[string]*fakePane
	killed   []string
	SendErrs map[string]error // pane name -> error returned by SendText
}

type fakePane struct {
	workDir string
	command string
	capture string
	sent    []string
	keys    []string
}

// NewFake creates an empty fake controller.
func NewFake() *Fake {
	return &Fake{
		panes:    make(map[string]*fakePane),
		SendErrs: make(map[string]error),
	}
}

// AddPane registers a live pane without going through CreateWithCommand.
func (f *Fake) AddPane(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panes[name] = &fakePane{}
}

// SetCapture sets the content Capture returns for a pane.
func (f *Fake) SetCapture(name, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.panes[name]; ok {
		p.capture = content
	} else {
		f.panes[name] = &fakePane{capture: content}
	}
}

// SetSendErr scripts the error SendText returns for a pane; nil clears
// it. Safe to call while other goroutines are sending.
func (f *Fake) SetSendErr(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.SendErrs, name)
		return
	}
	f.SendErrs[name] = err
}

// SentText returns everything sent to a pane via SendText.
func (f *Fake) SentText(name string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.panes[name]; ok {
		return append([]string(nil), p.sent...)
	}
	return nil
}

// SentKeys returns every raw key sent to a pane via SendKey.
func (f *Fake) SentKeys(name string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.panes[name]; ok {
		return append([]string(nil), p.keys...)
	}
	return nil
}

// Killed returns the pane names passed to Kill, in order.
func (f *Fake) Killed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.killed...)
}

func (f *Fake) Exists(name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.panes[name]
	return ok, nil
}

func (f *Fake) CreateWithCommand(name, workDir, command string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.panes[name]; ok {
		return ErrSessionExists
	}
	f.panes[name] = &fakePane{workDir: workDir, command: command}
	return nil
}

func (f *Fake) SendText(name, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.SendErrs[name]; err != nil {
		return err
	}
	p, ok := f.panes[name]
	if !ok {
		return ErrSessionNotFound
	}
	p.sent = append(p.sent, text)
	return nil
}

func (f *Fake) SendKey(name, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.panes[name]
	if !ok {
		return ErrSessionNotFound
	}
	p.keys = append(p.keys, key)
	return nil
}

func (f *Fake) Capture(name string, lines int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.panes[name]
	if !ok {
		return "", ErrSessionNotFound
	}
	return p.capture, nil
}

func (f *Fake) Kill(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.panes[name]; !ok {
		return ErrSessionNotFound
	}
	delete(f.panes, name)
	f.killed = append(f.killed, name)
	return nil
}

func (f *Fake) List() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.panes))
	for name := range f.panes {
		names = append(names, name)
	}
	return names, nil
}

func (f *Fake) OpenInTerminal(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.panes[name]; !ok {
		return ErrSessionNotFound
	}
	return nil
}
