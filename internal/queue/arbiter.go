package queue

import (
	"sync"
)

// StopNotifyFunc routes a "target finished its turn" notification back to
// the sender that was armed for it.
type StopNotifyFunc func(target, senderID, senderName string)

// deliveryState is the in-memory per-target delivery bookkeeping.
type deliveryState struct {
	isIdle     bool
	senderID   string
	senderName string
	skipCount  int
}

// Arbiter decides whether an idle event should produce a stop
// notification. Administrative actions (context clear, cache invalidation)
// arm a skip counter so their synthetic idle events are absorbed without
// consuming the pending sender routing.
type Arbiter struct {
	mu     sync.Mutex
	states map[string]*deliveryState

	notify     StopNotifyFunc
	cancelWake func(child string)
}

// NewArbiter creates an arbiter. notify and cancelWake may be nil.
func NewArbiter(notify StopNotifyFunc, cancelWake func(child string)) *Arbiter {
	return &Arbiter{
		states:     make(map[string]*deliveryState),
		notify:     notify,
		cancelWake: cancelWake,
	}
}

func (a *Arbiter) state(target string) *deliveryState {
	s, ok := a.states[target]
	if !ok {
		s = &deliveryState{}
		a.states[target] = s
	}
	return s
}

// ArmSender records who should be notified when the target next stops.
// The skip counter is untouched.
func (a *Arbiter) ArmSender(target, senderID, senderName string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.state(target)
	s.senderID = senderID
	s.senderName = senderName
}

// Invalidate clears the armed sender. With armSkip the next idle event is
// additionally absorbed; callers must invalidate before sending the pane
// input that will trigger that idle.
func (a *Arbiter) Invalidate(target string, armSkip bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.state(target)
	s.senderID = ""
	s.senderName = ""
	if armSkip {
		s.skipCount++
	}
}

// MarkSessionIdle records a verified idle for the target and routes the
// stop notification if one is armed. fromStopHook additionally cancels any
// parent wake registration for the target.
func (a *Arbiter) MarkSessionIdle(target string, fromStopHook bool) {
	a.mu.Lock()
	s := a.state(target)
	s.isIdle = true

	var notifyID, notifyName string
	switch {
	case s.skipCount > 0:
		// Spurious idle from an administrative action: absorb it without
		// consuming the armed sender.
		s.skipCount--
	case s.senderID != "":
		notifyID = s.senderID
		notifyName = s.senderName
		s.senderID = ""
		s.senderName = ""
	}
	a.mu.Unlock()

	if notifyID != "" && a.notify != nil {
		a.notify(target, notifyID, notifyName)
	}
	if fromStopHook && a.cancelWake != nil {
		a.cancelWake(target)
	}
}

// MarkSessionBusy clears the idle flag when the target starts a new turn.
func (a *Arbiter) MarkSessionBusy(target string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state(target).isIdle = false
}

// IsIdle reports the recorded idle flag for a target.
func (a *Arbiter) IsIdle(target string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.states[target]
	return ok && s.isIdle
}

// SkipCount returns the current skip counter for a target.
func (a *Arbiter) SkipCount(target string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.states[target]
	if !ok {
		return 0
	}
	return s.skipCount
}

// ArmedSender returns the currently armed sender id, or "".
func (a *Arbiter) ArmedSender(target string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.states[target]
	if !ok {
		return ""
	}
	return s.senderID
}

// Drop removes all state for a target. Called when a session is killed.
func (a *Arbiter) Drop(target string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.states, target)
}
