package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_NowIsUTC(t *testing.T) {
	before := time.Now()
	now := RealClock{}.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
	if now.Location() != time.UTC {
		t.Errorf("Now() location = %v, want UTC", now.Location())
	}
}

func TestMockClock_StepsOnEachReading(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start, time.Second)

	if got := clock.Now(); !got.Equal(start) {
		t.Errorf("first Now() = %v, want %v", got, start)
	}
	if got := clock.Now(); !got.Equal(start.Add(time.Second)) {
		t.Errorf("second Now() = %v, want %v", got, start.Add(time.Second))
	}
}

func TestMockClock_SetAndAdvance(t *testing.T) {
	clock := NewMockClock(time.Time{}, 0)
	target := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	clock.Set(target)
	if got := clock.Now(); !got.Equal(target) {
		t.Errorf("Now() after Set = %v, want %v", got, target)
	}

	clock.Advance(90 * time.Minute)
	if got := clock.Now(); !got.Equal(target.Add(90 * time.Minute)) {
		t.Errorf("Now() after Advance = %v, want %v", got, target.Add(90*time.Minute))
	}
}
