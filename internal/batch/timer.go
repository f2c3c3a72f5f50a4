package batch

import (
	"time"

	"batchmaker/internal/models"
)

// TimerStatus is the derived view of one timer at a point in time.
type TimerStatus struct {
	Timer            models.Timer `json:"timer"`
	ElapsedSeconds   int          `json:"elapsed_seconds"`
	RemainingSeconds int          `json:"remaining_seconds"`
	Expired          bool         `json:"expired"`
}

// Status derives elapsed/remaining/expired for a timer. Remaining is
// clamped at zero; a timer is expired once remaining hits zero.
func Status(t models.Timer, now time.Time) TimerStatus {
	elapsed := int(now.Sub(t.StartedAt) / time.Second)
	remaining := t.DurationSeconds - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return TimerStatus{
		Timer:            t,
		ElapsedSeconds:   elapsed,
		RemainingSeconds: remaining,
		Expired:          remaining <= 0,
	}
}

// MostUrgentTimer picks the timer to surface first: any expired timer
// outranks every running one, regardless of nominal remaining seconds;
// among running timers the smallest remaining wins.
func MostUrgentTimer(b models.Batch, now time.Time) (TimerStatus, bool) {
	var best TimerStatus
	found := false
	for _, t := range b.ActiveTimers {
		st := Status(t, now)
		if st.Expired {
			return st, true
		}
		if !found || st.RemainingSeconds < best.RemainingSeconds {
			best = st
			found = true
		}
	}
	return best, found
}
