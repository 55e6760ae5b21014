package engine

import (
	"time"

	"github.com/dosetrack/dosetrack/internal/model"
)

// DefaultDueWindow is the half-width of the due window. A slot is due
// when its next wall-clock occurrence in the user's timezone falls
// within this distance of the evaluation instant. It must be at least
// half the tick interval or slots fall between ticks.
const DefaultDueWindow = 60 * time.Second

// dueSlot returns the earliest slot due at nowUTC for a user in loc,
// or nil when none is. At most one slot per schedule fires per tick;
// the dispatch guard makes a second same-window fire a duplicate.
func dueSlot(nowUTC time.Time, loc *time.Location, slots []model.DoseSlot, window time.Duration) *model.DoseSlot {
	var best *model.DoseSlot
	var bestDist time.Duration
	for i := range slots {
		occ, ok := nearestOccurrence(nowUTC, loc, &slots[i])
		if !ok {
			continue
		}
		dist := nowUTC.Sub(occ)
		if dist < 0 {
			dist = -dist
		}
		if dist > window {
			continue
		}
		if best == nil || dist < bestDist {
			best = &slots[i]
			bestDist = dist
		}
	}
	return best
}

// nearestOccurrence finds the occurrence of the slot's wall-clock time
// closest to nowUTC. It checks the user-local dates adjacent to now as
// well, so slots near local midnight resolve correctly on both sides
// of the day boundary. DST gaps are handled by time.Date's
// normalization; a slot inside a spring-forward gap maps to the
// normalized instant after the jump.
func nearestOccurrence(nowUTC time.Time, loc *time.Location, slot *model.DoseSlot) (time.Time, bool) {
	h, m, s, err := slot.Clock()
	if err != nil {
		return time.Time{}, false
	}
	local := nowUTC.In(loc)
	y, mo, d := local.Date()

	var nearest time.Time
	found := false
	for _, dayOff := range []int{-1, 0, 1} {
		occ := time.Date(y, mo, d+dayOff, h, m, s, 0, loc)
		if !found || absDur(nowUTC.Sub(occ)) < absDur(nowUTC.Sub(nearest)) {
			nearest = occ
			found = true
		}
	}
	return nearest, found
}

func absDur(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
