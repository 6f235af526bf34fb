package ui

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestModelAdvancesFramesUntilDone(t *testing.T) {
	m := model{title: "sweep", started: time.Now()}

	next, cmd := m.Update(tickMsg{})
	if next.(model).frame != 1 || cmd == nil {
		t.Fatalf("expected tick to advance frame and schedule another, got frame=%d", next.(model).frame)
	}

	next, _ = next.Update(doneMsg{details: []string{"rows=3"}})
	done := next.(model)
	if !done.done {
		t.Fatal("expected done after doneMsg")
	}
	if _, cmd := done.Update(tickMsg{}); cmd != nil {
		t.Fatal("expected no further ticks once done")
	}
	view := done.View()
	if !strings.Contains(view, "sweep") || !strings.Contains(view, "rows=3") {
		t.Fatalf("unexpected final view: %q", view)
	}
}

func TestModelViewShowsError(t *testing.T) {
	m := model{title: "sweep", done: true, err: errors.New("database unreachable")}
	if view := m.View(); !strings.Contains(view, "database unreachable") {
		t.Fatalf("expected error in view, got %q", view)
	}
}
