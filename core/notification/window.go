package notification

import (
	"fmt"
	"time"
)

// Window is a closed time interval: both ends qualify.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow returns [target - tolerance, target + tolerance].
func NewWindow(target time.Time, tolerance time.Duration) Window {
	return Window{Start: target.Add(-tolerance), End: target.Add(tolerance)}
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s]", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

// sameDate reports whether a and b fall on the same calendar day in loc.
func sameDate(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
