package clock

import (
	"testing"
	"time"
)

func TestMock_NowAndAdvance(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewMock(start)

	if !c.Now().Equal(start) {
		t.Fatalf("expected %v, got %v", start, c.Now())
	}

	c.Advance(90 * time.Second)
	if got := c.Since(start); got != 90*time.Second {
		t.Errorf("Since = %v, want 90s", got)
	}

	later := start.Add(time.Hour)
	c.Set(later)
	if !c.Now().Equal(later) {
		t.Errorf("Set did not pin time: %v", c.Now())
	}
}

func TestReal_Now(t *testing.T) {
	before := time.Now()
	got := Real{}.Now()
	if got.Before(before) {
		t.Errorf("Real.Now() went backwards: %v < %v", got, before)
	}
}

func TestOrReal(t *testing.T) {
	if _, ok := OrReal(nil).(Real); !ok {
		t.Error("OrReal(nil) should return Real")
	}
	m := NewMock(time.Unix(0, 0))
	if OrReal(m) != Clock(m) {
		t.Error("OrReal should pass through a non-nil clock")
	}
}
