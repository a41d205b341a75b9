package progress

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRemainingFrom(t *testing.T) {
	tests := []struct {
		total, from int
		want        []int
	}{
		{3, 0, []int{0, 1, 2}},
		{3, 2, []int{2}},
		{3, 3, nil},
		{3, 7, nil},
		{2, -1, []int{0, 1}},
		{0, 0, nil},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, RemainingFrom(tt.total, tt.from)); diff != "" {
			t.Errorf("RemainingFrom(%d, %d) mismatch (-want +got):\n%s", tt.total, tt.from, diff)
		}
	}
}

func TestCursorAdvanceResetsChildren(t *testing.T) {
	c := Cursor{World: 1, Capture: 2, Scene: 3, Repetition: 4}
	tests := []struct {
		level Level
		want  Cursor
	}{
		{LevelRepetition, Cursor{1, 2, 3, 5}},
		{LevelScene, Cursor{1, 2, 4, 0}},
		{LevelCapture, Cursor{1, 3, 0, 0}},
		{LevelWorld, Cursor{2, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			got := c.Advance(tt.level)
			if got != tt.want {
				t.Errorf("Advance(%v) = %v, want %v", tt.level, got, tt.want)
			}
			if !c.Less(got) {
				t.Errorf("advanced cursor %v does not order after %v", got, c)
			}
		})
	}
}

func TestCursorLess(t *testing.T) {
	a := Cursor{World: 1, Capture: 0, Scene: 5, Repetition: 9}
	b := Cursor{World: 1, Capture: 1}
	if !a.Less(b) {
		t.Errorf("%v should order before %v", a, b)
	}
	if b.Less(a) || a.Less(a) {
		t.Error("Less is not a strict order")
	}
}

type shape struct {
	worlds      int
	captures    int
	scenes      int
	repetitions int
}

// walk drives a tracker over a uniform run and records every repetition it
// executes.
func walk(tr *Tracker, s shape) []Cursor {
	var executed []Cursor
	for _, w := range tr.Worlds().Remaining(s.worlds) {
		tr.Worlds().Enter(w)
		for _, c := range tr.Captures().Remaining(s.captures) {
			tr.Captures().Enter(c)
			for _, sc := range tr.Scenes().Remaining(s.scenes) {
				tr.Scenes().Enter(sc)
				for _, r := range tr.Repetitions().Remaining(s.repetitions) {
					tr.Repetitions().Enter(r)
					executed = append(executed, tr.Live())
					tr.Repetitions().Complete()
				}
				tr.Scenes().Complete()
			}
			tr.Captures().Complete()
		}
		tr.Worlds().Complete()
	}
	return executed
}

func TestTrackerFreshRunVisitsEverything(t *testing.T) {
	tr := NewTracker(Cursor{})
	got := walk(tr, shape{2, 2, 2, 2})
	if len(got) != 16 {
		t.Fatalf("executed %d repetitions, want 16", len(got))
	}
	for i := 1; i < len(got); i++ {
		if !got[i-1].Less(got[i]) {
			t.Fatalf("execution order not increasing at %d: %v then %v", i, got[i-1], got[i])
		}
	}
	if want := (Cursor{World: 2}); tr.Cursor() != want {
		t.Errorf("final cursor = %v, want %v", tr.Cursor(), want)
	}
}

func TestTrackerResumeSkipsCompletedUnits(t *testing.T) {
	resume := Cursor{World: 1, Capture: 0, Scene: 2, Repetition: 1}
	tr := NewTracker(resume)
	got := walk(tr, shape{2, 2, 4, 2})

	for _, c := range got {
		if c.Less(resume) {
			t.Errorf("re-executed completed unit %v", c)
		}
	}
	want := []Cursor{
		{1, 0, 2, 1},
		{1, 0, 3, 0}, {1, 0, 3, 1},
		{1, 1, 0, 0}, {1, 1, 0, 1},
		{1, 1, 1, 0}, {1, 1, 1, 1},
		{1, 1, 2, 0}, {1, 1, 2, 1},
		{1, 1, 3, 0}, {1, 1, 3, 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("executed units mismatch (-want +got):\n%s", diff)
	}
	if tr.Resumed() != resume {
		t.Errorf("Resumed() = %v after the walk, want %v", tr.Resumed(), resume)
	}
}

func TestTrackerResumeAtExhaustedRepetitions(t *testing.T) {
	// All repetitions of scene 1 finished but the rollover was never persisted.
	tr := NewTracker(Cursor{Scene: 1, Repetition: 3})
	got := walk(tr, shape{1, 1, 3, 3})
	want := []Cursor{{0, 0, 2, 0}, {0, 0, 2, 1}, {0, 0, 2, 2}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("executed units mismatch (-want +got):\n%s", diff)
	}
}

func TestTrackerFreezeHoldsDurableCursor(t *testing.T) {
	tr := NewTracker(Cursor{})
	tr.Worlds().Enter(0)
	tr.Captures().Enter(0)
	tr.Scenes().Enter(0)
	tr.Repetitions().Enter(0)
	tr.Repetitions().Complete()

	failedAt := tr.Cursor()
	tr.Freeze()
	tr.Scenes().Complete()
	tr.Captures().Complete()
	tr.Worlds().Complete()

	if tr.Cursor() != failedAt {
		t.Errorf("durable cursor moved after freeze: %v, want %v", tr.Cursor(), failedAt)
	}
	if want := (Cursor{World: 1}); tr.Live() != want {
		t.Errorf("live cursor = %v, want %v", tr.Live(), want)
	}
	if !tr.Frozen() {
		t.Error("Frozen() = false after Freeze")
	}
}

func TestTrackerFreezeAtRewindsDurableCursor(t *testing.T) {
	tr := NewTracker(Cursor{})
	tr.Worlds().Enter(0)
	tr.Captures().Enter(0)
	tr.Scenes().Enter(0)
	tr.Repetitions().Enter(0)
	before := tr.Cursor()
	tr.Repetitions().Complete()

	tr.FreezeAt(before)
	if tr.Cursor() != before {
		t.Errorf("durable cursor = %v, want %v", tr.Cursor(), before)
	}

	// A later cursor never moves the durable one forward.
	tr.FreezeAt(Cursor{World: 3})
	if tr.Cursor() != before {
		t.Errorf("durable cursor advanced to %v", tr.Cursor())
	}
}
