package clock

import (
	"context"
	"time"

	"batchmaker/internal/models"
)

type OverrunStore interface {
	ListOpenTimeEntries(ctx context.Context) ([]models.TimeEntry, error)
	GetShift(ctx context.Context, shiftID string) (models.Shift, bool, error)
	ListOpenNotices(ctx context.Context, actorID string) ([]models.Notice, error)
	CreateNotice(ctx context.Context, n models.Notice) (models.Notice, error)
}

// OverrunChecker raises a "still working?" prompt for actors still
// on-clock past their shift end plus a grace window. It runs on a poll
// (every few minutes from main); a client that is closed misses checks
// until it polls again, which is fine for a nag and must not be relied
// on for correctness-critical deadlines.
type OverrunChecker struct {
	store OverrunStore
	grace time.Duration
}

func NewOverrunChecker(s OverrunStore, grace time.Duration) *OverrunChecker {
	if grace <= 0 {
		grace = 30 * time.Minute
	}
	return &OverrunChecker{store: s, grace: grace}
}

// Run performs one sweep and returns how many prompts it raised.
func (c *OverrunChecker) Run(ctx context.Context, now time.Time) (int, error) {
	entries, err := c.store.ListOpenTimeEntries(ctx)
	if err != nil {
		return 0, err
	}

	raised := 0
	for _, entry := range entries {
		if entry.ShiftID == nil {
			continue
		}
		shift, found, err := c.store.GetShift(ctx, *entry.ShiftID)
		if err != nil {
			return raised, err
		}
		if !found {
			continue
		}
		if !now.After(shift.EndTime.Add(c.grace)) {
			continue
		}

		open, err := c.store.ListOpenNotices(ctx, entry.ActorID)
		if err != nil {
			return raised, err
		}
		if hasOverrunNotice(open, entry.EntryID) {
			continue
		}

		_, err = c.store.CreateNotice(ctx, models.Notice{
			OwnerID:   entry.OwnerID,
			ActorID:   entry.ActorID,
			Kind:      models.NoticeShiftOverrun,
			Message:   "Your shift ended a while ago. Still working? You can clock out now.",
			EntryID:   entry.EntryID,
			CreatedAt: now,
		})
		if err != nil {
			return raised, err
		}
		raised++
	}
	return raised, nil
}

func hasOverrunNotice(notices []models.Notice, entryID string) bool {
	for _, n := range notices {
		if n.Kind == models.NoticeShiftOverrun && n.EntryID == entryID {
			return true
		}
	}
	return false
}
