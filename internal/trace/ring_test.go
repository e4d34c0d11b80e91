package trace

import (
	"strings"
	"testing"
)

func TestRingTracerWrapsAround(t *testing.T) {
	r := NewRingTracer(3, LevelDebug)
	for i := 0; i < 5; i++ {
		r.Emit(&Event{Seq: uint64(i + 1), Kind: KindPoint, Scope: ScopePass, Name: "ev"})
	}

	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot len = %d, want 3", len(snap))
	}
	if snap[0].Seq != 3 || snap[2].Seq != 5 {
		t.Errorf("snapshot order = [%d %d %d], want [3 4 5]", snap[0].Seq, snap[1].Seq, snap[2].Seq)
	}
}

func TestLevelFiltersByScope(t *testing.T) {
	r := NewRingTracer(8, LevelPhase)
	r.Emit(&Event{Kind: KindPoint, Scope: ScopePass, Name: "kept"})
	r.Emit(&Event{Kind: KindPoint, Scope: ScopeMethod, Name: "dropped"})
	r.Emit(&Event{Kind: KindHeartbeat, Scope: ScopeDriver, Name: "heartbeat"})

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot len = %d, want 2 (method event filtered)", len(snap))
	}
}

func TestStreamTracerWritesText(t *testing.T) {
	var sb strings.Builder
	st := NewStreamTracer(&sb, LevelDebug, FormatText)

	sp := Begin(st, ScopePass, "builders", 0)
	sp.End("3 methods")

	out := sb.String()
	if !strings.Contains(out, "builders") || !strings.Contains(out, "(3 methods)") {
		t.Errorf("unexpected stream output:\n%s", out)
	}
}
