package progress

// Tracker composes the four level cursors of a run.
//
// It keeps two positions. The live cursor follows the loops as they execute.
// The durable cursor is what gets persisted with each commit; it follows the
// live cursor until Freeze is called, after which it stays put so a restart
// re-attempts the unit that failed.
type Tracker struct {
	resume  Cursor
	live    Cursor
	durable Cursor
	frozen  bool
}

// NewTracker starts a run at the persisted cursor.
func NewTracker(resume Cursor) *Tracker {
	return &Tracker{resume: resume, live: resume, durable: resume}
}

// LevelCursor enumerates and completes units at one level.
type LevelCursor struct {
	t     *Tracker
	level Level
}

func (t *Tracker) Worlds() LevelCursor      { return LevelCursor{t, LevelWorld} }
func (t *Tracker) Captures() LevelCursor    { return LevelCursor{t, LevelCapture} }
func (t *Tracker) Scenes() LevelCursor      { return LevelCursor{t, LevelScene} }
func (t *Tracker) Repetitions() LevelCursor { return LevelCursor{t, LevelRepetition} }

// Remaining returns the indices still to execute out of total units at this
// level. While the live cursor is on the resumed path (every enclosing level
// equals the persisted cursor) enumeration starts at the persisted index;
// otherwise it starts at zero.
func (lc LevelCursor) Remaining(total int) []int {
	from := 0
	if lc.t.onResumePath(lc.level) {
		from = lc.t.resume.Index(lc.level)
	}
	return RemainingFrom(total, from)
}

// Enter marks unit i at this level as the one executing.
func (lc LevelCursor) Enter(i int) {
	lc.t.live = lc.t.live.At(lc.level, i)
}

// Complete moves past the executing unit.
func (lc LevelCursor) Complete() {
	lc.t.live = lc.t.live.Advance(lc.level)
	if !lc.t.frozen {
		lc.t.durable = lc.t.live
	}
}

func (t *Tracker) onResumePath(l Level) bool {
	for p := LevelWorld; p < l; p++ {
		if t.live.Index(p) != t.resume.Index(p) {
			return false
		}
	}
	return true
}

// Freeze pins the durable cursor at its current value for the rest of the run.
func (t *Tracker) Freeze() { t.frozen = true }

// FreezeAt pins the durable cursor at c, or at its current value when that
// is earlier, for the rest of the run. Use it when a unit already marked
// complete turns out not to be durable.
func (t *Tracker) FreezeAt(c Cursor) {
	if c.Less(t.durable) {
		t.durable = c
	}
	t.frozen = true
}

// Frozen reports whether Freeze has been called.
func (t *Tracker) Frozen() bool { return t.frozen }

// Cursor returns the durable cursor.
func (t *Tracker) Cursor() Cursor { return t.durable }

// Live returns the position of the executing unit.
func (t *Tracker) Live() Cursor { return t.live }

// Resumed returns the cursor the run started from.
func (t *Tracker) Resumed() Cursor { return t.resume }
