// Package progress tracks how far a capture run has got through its nested
// world, capture, scene and repetition loops so an interrupted run can resume
// without repeating completed work.
package progress

import "fmt"

// Level is one of the four nested loop levels, most significant first.
type Level int

const (
	LevelWorld Level = iota
	LevelCapture
	LevelScene
	LevelRepetition
)

func (l Level) String() string {
	switch l {
	case LevelWorld:
		return "world"
	case LevelCapture:
		return "capture"
	case LevelScene:
		return "scene"
	case LevelRepetition:
		return "repetition"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// Cursor is the persisted position of a run. Each field is the index of the
// next unit to execute at that level.
type Cursor struct {
	World      int `json:"current_world_index"`
	Capture    int `json:"current_capture_index"`
	Scene      int `json:"current_scene_index"`
	Repetition int `json:"current_scene_count"`
}

// Index returns the cursor position at level l.
func (c Cursor) Index(l Level) int {
	switch l {
	case LevelWorld:
		return c.World
	case LevelCapture:
		return c.Capture
	case LevelScene:
		return c.Scene
	case LevelRepetition:
		return c.Repetition
	}
	return 0
}

// At returns a copy of c positioned at index i on level l with every deeper
// level reset to zero.
func (c Cursor) At(l Level, i int) Cursor {
	switch l {
	case LevelWorld:
		return Cursor{World: i}
	case LevelCapture:
		return Cursor{World: c.World, Capture: i}
	case LevelScene:
		return Cursor{World: c.World, Capture: c.Capture, Scene: i}
	case LevelRepetition:
		c.Repetition = i
	}
	return c
}

// Advance moves past the current unit at level l.
func (c Cursor) Advance(l Level) Cursor {
	return c.At(l, c.Index(l)+1)
}

// Less reports whether c orders strictly before o.
func (c Cursor) Less(o Cursor) bool {
	for l := LevelWorld; l <= LevelRepetition; l++ {
		if a, b := c.Index(l), o.Index(l); a != b {
			return a < b
		}
	}
	return false
}

func (c Cursor) String() string {
	return fmt.Sprintf("world=%d capture=%d scene=%d repetition=%d", c.World, c.Capture, c.Scene, c.Repetition)
}

// RemainingFrom lists the indices [from, total) in order. A negative from is
// treated as zero; from >= total yields nothing.
func RemainingFrom(total, from int) []int {
	if from < 0 {
		from = 0
	}
	if from >= total {
		return nil
	}
	out := make([]int, 0, total-from)
	for i := from; i < total; i++ {
		out = append(out, i)
	}
	return out
}
