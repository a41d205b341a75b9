package progress

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ParseLevel is the inverse of Level.String.
func ParseLevel(s string) (Level, error) {
	for l := LevelWorld; l <= LevelRepetition; l++ {
		if l.String() == s {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown level %q", s)
}

// Failure describes a unit of work that failed and was skipped.
type Failure struct {
	RunID   string
	Level   Level
	Cursor  Cursor
	Message string
	At      time.Time
}

// Journal records failures for later inspection.
type Journal interface {
	RecordFailure(ctx context.Context, f Failure) error
}

// MemoryJournal keeps failures in memory.
type MemoryJournal struct {
	mu       sync.Mutex
	failures []Failure
}

func (j *MemoryJournal) RecordFailure(ctx context.Context, f Failure) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.failures = append(j.failures, f)
	return nil
}

// Failures returns a copy of what has been recorded so far.
func (j *MemoryJournal) Failures() []Failure {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Failure(nil), j.failures...)
}
