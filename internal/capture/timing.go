package capture

import (
	"fmt"
	"math"
)

// tickEpsilon absorbs float error when dividing durations by the tick, so
// 0.3s at 0.1s per tick is three ticks rather than two.
const tickEpsilon = 1e-6

// Timing is the tick schedule of one scene repetition.
type Timing struct {
	TickSeconds      float64
	TotalTicks       int
	KeyframeInterval int
}

// NewTiming derives the schedule for collecting collectSeconds of simulation
// time with a keyframe every keyframeSeconds at tickSeconds per tick.
func NewTiming(collectSeconds, keyframeSeconds, tickSeconds float64) (Timing, error) {
	if tickSeconds <= 0 {
		return Timing{}, fmt.Errorf("tick duration must be positive, got %v", tickSeconds)
	}
	interval := int(math.Round(keyframeSeconds / tickSeconds))
	if interval < 1 {
		return Timing{}, fmt.Errorf("keyframe time %v is shorter than one tick of %v", keyframeSeconds, tickSeconds)
	}
	total := int(math.Floor(collectSeconds/tickSeconds + tickEpsilon))
	if total < 0 {
		total = 0
	}
	return Timing{TickSeconds: tickSeconds, TotalTicks: total, KeyframeInterval: interval}, nil
}

// IsKeyframe reports whether 1-based tick n is sampled.
func (t Timing) IsKeyframe(n int) bool {
	return n > 0 && n%t.KeyframeInterval == 0
}

// Keyframes returns how many samples a full repetition emits.
func (t Timing) Keyframes() int {
	return t.TotalTicks / t.KeyframeInterval
}
