package testutil

import (
	"testing"
	"time"
)

func TestHooksRecorder_CapturesSignals(t *testing.T) {
	h := &HooksRecorder{}
	h.ObserveOperation("Session.Save", "conflict", 10*time.Millisecond)
	h.ObserveOperation("Session.Save", "success", 5*time.Millisecond)
	h.IncConflict("Session.Save")
	h.IncRetry("Session.Save")
	h.IncRetry("Session.Load")

	if got := h.LastStatus("Session.Save"); got != "success" {
		t.Fatalf("LastStatus: want=success got=%s", got)
	}
	if got := h.RetryCount("Session.Save"); got != 1 {
		t.Fatalf("RetryCount: want=1 got=%d", got)
	}
	if len(h.Conflicts) != 1 || h.Conflicts[0] != "Session.Save" {
		t.Fatalf("unexpected conflicts: %+v", h.Conflicts)
	}
}
