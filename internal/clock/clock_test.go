package clock

import (
	"testing"
	"time"
)

func TestTestClockAdvanceFiresDueTimers(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewTestClock(start)

	var fired []string
	c.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	c.AfterFunc(1*time.Second, func() { fired = append(fired, "a") })
	late := c.AfterFunc(10*time.Second, func() { fired = append(fired, "late") })

	c.Advance(5 * time.Second)

	if len(fired) != 2 || fired[0] != "a" || fired[1] != "b" {
		t.Fatalf("expected [a b], got %v", fired)
	}
	if !c.Now().Equal(start.Add(5 * time.Second)) {
		t.Fatalf("unexpected now: %v", c.Now())
	}
	if !late.Stop() {
		t.Fatal("expected pending timer to stop")
	}
	if late.Stop() {
		t.Fatal("second stop should report false")
	}
	if c.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", c.Pending())
	}
}
