package timeutil

import (
	"sync"
	"testing"
	"time"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRealClock(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()
	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
	if d := clock.Since(time.Now().Add(-time.Second)); d < time.Second {
		t.Errorf("Since() returned %v, expected >= 1s", d)
	}
}

func TestMockClock_Frozen(t *testing.T) {
	clock := NewMockClock(epoch)
	if !clock.Now().Equal(epoch) || !clock.Now().Equal(epoch) {
		t.Error("a mock clock without a step should not move on its own")
	}
	clock.Advance(90 * time.Second)
	if got := clock.Since(epoch); got != 90*time.Second {
		t.Errorf("Since() = %v, want 90s", got)
	}
	later := epoch.Add(time.Hour)
	clock.Set(later)
	if !clock.Now().Equal(later) {
		t.Errorf("Now() after Set = %v, want %v", clock.Now(), later)
	}
}

func TestSteppingClock(t *testing.T) {
	clock := NewSteppingClock(epoch, 250*time.Millisecond)
	first := clock.Now()
	second := clock.Now()
	if !first.Equal(epoch) {
		t.Errorf("first reading = %v, want %v", first, epoch)
	}
	if got := second.Sub(first); got != 250*time.Millisecond {
		t.Errorf("step = %v, want 250ms", got)
	}
	if got := clock.Since(first); got != 500*time.Millisecond {
		t.Errorf("Since() = %v, want 500ms", got)
	}
	if got := clock.Since(first); got != 500*time.Millisecond {
		t.Errorf("Since() should not step the clock, got %v", got)
	}
}

func TestSteppingClockConcurrentReadsAreDistinct(t *testing.T) {
	clock := NewSteppingClock(epoch, time.Millisecond)
	const readers = 50
	seen := make(chan time.Time, readers)
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- clock.Now()
		}()
	}
	wg.Wait()
	close(seen)
	unique := map[time.Time]bool{}
	for ts := range seen {
		unique[ts] = true
	}
	if len(unique) != readers {
		t.Errorf("got %d distinct readings, want %d", len(unique), readers)
	}
}
