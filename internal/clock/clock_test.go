package clock

import (
	"testing"
	"time"
)

func TestSystemNowUTC(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC().Add(-time.Second)
	got := System{}.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

func TestSteppingAdvances(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := NewStepping(start, time.Second)
	if got := clk.Now(); !got.Equal(start) {
		t.Fatalf("first reading = %v, want %v", got, start)
	}
	if got := clk.Now(); !got.Equal(start.Add(time.Second)) {
		t.Fatalf("second reading = %v, want %v", got, start.Add(time.Second))
	}
}
