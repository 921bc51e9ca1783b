package cmd

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/codetown/sm/internal/tmux"
)

func quietDebounce(t *testing.T) {
	t.Helper()
	old := clearDebounce
	clearDebounce = 0
	t.Cleanup(func() { clearDebounce = old })
}

func TestResetPaneClearsDespiteFenceFailure(t *testing.T) {
	quietDebounce(t)
	fake := tmux.NewFake()
	fake.AddPane("claude-aaaa1111")
	var warn bytes.Buffer

	fence := func() error { return errors.New("daemon unreachable") }
	if err := resetPane(fence, fake, "claude-aaaa1111", false, &warn); err != nil {
		t.Fatalf("resetPane() error = %v", err)
	}

	if got := fake.SentKeys("claude-aaaa1111"); len(got) != 1 || got[0] != "Escape" {
		t.Errorf("keys sent = %v, want [Escape]", got)
	}
	if got := fake.SentText("claude-aaaa1111"); len(got) != 1 || got[0] != "/clear" {
		t.Errorf("text sent = %v, want [/clear]", got)
	}
	if !strings.Contains(warn.String(), "fencing stop-notify state") {
		t.Errorf("fence failure not reported: %q", warn.String())
	}
}

func TestResetPaneRequiredFenceAborts(t *testing.T) {
	quietDebounce(t)
	fake := tmux.NewFake()
	fake.AddPane("claude-aaaa1111")
	var warn bytes.Buffer

	fence := func() error { return errors.New("daemon unreachable") }
	err := resetPane(fence, fake, "claude-aaaa1111", true, &warn)
	if err == nil {
		t.Fatal("resetPane() succeeded with a required fence down")
	}
	if got := fake.SentKeys("claude-aaaa1111"); len(got) != 0 {
		t.Errorf("keys sent = %v, want none", got)
	}
	if got := fake.SentText("claude-aaaa1111"); len(got) != 0 {
		t.Errorf("text sent = %v, want none", got)
	}
}

func TestResetPaneFenceUp(t *testing.T) {
	quietDebounce(t)
	fake := tmux.NewFake()
	fake.AddPane("claude-aaaa1111")
	var warn bytes.Buffer

	fenced := false
	fence := func() error { fenced = true; return nil }
	if err := resetPane(fence, fake, "claude-aaaa1111", true, &warn); err != nil {
		t.Fatalf("resetPane() error = %v", err)
	}
	if !fenced {
		t.Error("fence never armed")
	}
	if warn.Len() != 0 {
		t.Errorf("unexpected warning: %q", warn.String())
	}
	if got := fake.SentText("claude-aaaa1111"); len(got) != 1 || got[0] != "/clear" {
		t.Errorf("text sent = %v, want [/clear]", got)
	}
}
