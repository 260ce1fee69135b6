// Package window decides whether an assignment completion can be accepted at
// a given wall-clock instant. The decision is a pure function of the
// assignment's due date, its optional time slot, and the current time, so it
// serves both to gate completion and to render "time left" displays.
package window

import (
	"fmt"
	"time"

	"github.com/jwhitfield/chorewheel/internal/model"
)

// Slot submissions open this long before the slot's end time.
const OpenBefore = 30 * time.Minute

// Grace is the window after a slot's end time during which a late submission
// is still accepted.
const Grace = 30 * time.Minute

type Reason string

const (
	ReasonNotDueDate   Reason = "not_due_date"
	ReasonNotOpenYet   Reason = "not_open_yet"
	ReasonWindowClosed Reason = "window_closed"
)

// Decision is the structured result of CanSubmit. OpensIn is set when the
// slot window has not opened yet; TimeLeft when a submission is currently
// accepted within a slot window.
type Decision struct {
	Allowed  bool          `json:"allowed"`
	Reason   Reason        `json:"reason,omitempty"`
	OpensIn  time.Duration `json:"opens_in,omitempty"`
	TimeLeft time.Duration `json:"time_left,omitempty"`
}

// CanSubmit reports whether the assignment may be completed at now. slot must
// be the assignment's time slot when it has one, nil otherwise. The error
// path only fires on malformed slot times, which task validation should have
// prevented.
func CanSubmit(a *model.Assignment, slot *model.TimeSlot, now time.Time) (Decision, error) {
	due := a.DueDate.UTC()
	now = now.UTC()

	// Completion is only accepted on the due date itself, whatever the time.
	if !sameDate(due, now) {
		return Decision{Allowed: false, Reason: ReasonNotDueDate}, nil
	}

	// Whole-day assignment: any time on the due date works.
	if a.TimeSlotID == nil || slot == nil {
		return Decision{Allowed: true}, nil
	}

	endMinutes, err := model.ParseClock(slot.EndTime)
	if err != nil {
		return Decision{}, fmt.Errorf("slot %d end time: %w", slot.ID, err)
	}

	end := model.ClockOn(due, endMinutes)
	opensAt := end.Add(-OpenBefore)
	graceEnd := end.Add(Grace)

	switch {
	case now.Before(opensAt):
		return Decision{
			Allowed: false,
			Reason:  ReasonNotOpenYet,
			OpensIn: opensAt.Sub(now),
		}, nil
	case now.After(graceEnd):
		return Decision{Allowed: false, Reason: ReasonWindowClosed}, nil
	default:
		return Decision{
			Allowed:  true,
			TimeLeft: graceEnd.Sub(now),
		}, nil
	}
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
