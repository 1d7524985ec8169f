package heartbeat

import (
	"testing"
	"time"
)

func TestBeatMarksSourceAlive(t *testing.T) {
	m := NewMonitor()
	m.Beat("dispatcher", 50*time.Millisecond)
	if !m.IsAlive("dispatcher") {
		t.Fatal("expected source to be alive right after a beat")
	}
}

func TestUnknownSourceIsNotAlive(t *testing.T) {
	m := NewMonitor()
	if m.IsAlive("never-beaten") {
		t.Fatal("expected unknown source to report not alive")
	}
}

func TestSourceGoesStaleAfterDeadline(t *testing.T) {
	m := NewMonitor()
	m.Beat("rmap-rx", 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	if m.IsAlive("rmap-rx") {
		t.Fatal("expected source to go stale after its deadline")
	}
}

func TestToleranceAddsMargin(t *testing.T) {
	if got := Tolerance(5 * time.Second); got != 6*time.Second {
		t.Fatalf("expected 6s, got %v", got)
	}
}
