// Package clock tracks the per-(actor, owner) ON_CLOCK/OFF_CLOCK state
// machine and the shift schedule around it.
package clock

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"batchmaker/internal/models"
	"batchmaker/internal/store"
)

// ErrShiftConfirmRequired is the soft guard on clock-in: no shift is
// scheduled today, so the caller must ask the actor to confirm before
// retrying with the confirmation flag set.
var ErrShiftConfirmRequired = errors.New("no shift scheduled, confirmation required")

const dateLayout = "2006-01-02"

type Store interface {
	GetTimeEntry(ctx context.Context, entryID string) (models.TimeEntry, bool, error)
	GetOpenTimeEntry(ctx context.Context, actorID, ownerID string) (models.TimeEntry, bool, error)
	ListOpenTimeEntriesForActor(ctx context.Context, actorID string) ([]models.TimeEntry, error)
	CreateTimeEntry(ctx context.Context, input store.CreateTimeEntryInput) (models.TimeEntry, error)
	CloseTimeEntry(ctx context.Context, entryID string, at time.Time) (models.TimeEntry, error)
	EditTimeEntry(ctx context.Context, input store.EditTimeEntryInput) (models.TimeEntry, error)
	ShiftForDay(ctx context.Context, ownerID, assigneeID, date string) (models.Shift, bool, error)
	UpdateShiftStatus(ctx context.Context, shiftID, status string, startedAt *time.Time) (models.Shift, error)
	TouchMembership(ctx context.Context, ownerID, actorID string, at time.Time) error
}

type Tracker struct {
	store Store
}

func New(s Store) *Tracker {
	return &Tracker{store: s}
}

// ClockIn opens a time entry for (actor, owner). Re-clocking into an
// owner while already on-clock there returns the existing open entry.
// Without a shift scheduled today the call is refused with
// ErrShiftConfirmRequired until confirmNoShift is set; the guard is a
// prompt, not a hard deny.
func (t *Tracker) ClockIn(ctx context.Context, actor models.Actor, ownerID string, confirmNoShift bool, now time.Time) (models.TimeEntry, error) {
	if existing, found, err := t.store.GetOpenTimeEntry(ctx, actor.ID, ownerID); err != nil {
		return models.TimeEntry{}, err
	} else if found {
		return existing, nil
	}

	shift, hasShift, err := t.store.ShiftForDay(ctx, ownerID, actor.ID, now.UTC().Format(dateLayout))
	if err != nil {
		return models.TimeEntry{}, err
	}
	if !hasShift && !confirmNoShift {
		return models.TimeEntry{}, ErrShiftConfirmRequired
	}

	input := store.CreateTimeEntryInput{
		ActorID: actor.ID,
		OwnerID: ownerID,
		ClockIn: now,
	}
	if hasShift {
		input.ShiftID = shift.ShiftID
		if shift.Status == models.ShiftScheduled {
			var startedAt *time.Time
			if now.Before(shift.StartTime) {
				// started early: the shift keeps the real start time
				startedAt = &now
			}
			if _, err := t.store.UpdateShiftStatus(ctx, shift.ShiftID, models.ShiftInProgress, startedAt); err != nil {
				return models.TimeEntry{}, err
			}
		}
	}

	entry, err := t.store.CreateTimeEntry(ctx, input)
	if err != nil {
		return models.TimeEntry{}, err
	}
	if err := t.store.TouchMembership(ctx, ownerID, actor.ID, now); err != nil {
		log.Printf("touch membership owner=%s actor=%s: %v", ownerID, actor.ID, err)
	}
	return entry, nil
}

// ClockOut closes the open entry for (actor, owner).
func (t *Tracker) ClockOut(ctx context.Context, actorID, ownerID string, now time.Time) (models.TimeEntry, error) {
	entry, found, err := t.store.GetOpenTimeEntry(ctx, actorID, ownerID)
	if err != nil {
		return models.TimeEntry{}, err
	}
	if !found {
		return models.TimeEntry{}, store.ErrTimeEntryNotFound
	}
	return t.store.CloseTimeEntry(ctx, entry.EntryID, now)
}

// EditEntry is the only retroactive correction of clock data. It
// refuses to write without a reason and stamps the editor and time.
func (t *Tracker) EditEntry(ctx context.Context, entryID string, editor models.Actor, clockIn time.Time, clockOut *time.Time, reason string, now time.Time) (models.TimeEntry, error) {
	if strings.TrimSpace(reason) == "" {
		return models.TimeEntry{}, store.ErrValidation
	}
	if clockOut != nil && clockOut.Before(clockIn) {
		return models.TimeEntry{}, store.ErrValidation
	}
	if _, found, err := t.store.GetTimeEntry(ctx, entryID); err != nil {
		return models.TimeEntry{}, err
	} else if !found {
		return models.TimeEntry{}, store.ErrTimeEntryNotFound
	}
	return t.store.EditTimeEntry(ctx, store.EditTimeEntryInput{
		EntryID:  entryID,
		EditorID: editor.ID,
		ClockIn:  clockIn,
		ClockOut: clockOut,
		Reason:   strings.TrimSpace(reason),
		EditedAt: now,
	})
}

// ActiveOwnerFor returns the owner the actor is currently clocked into,
// or empty. Uniqueness of the open entry is scoped per (actor, owner);
// more than one open entry across owners is tolerated but logged as a
// data bug, and the most recent clock-in wins for visibility filtering.
func (t *Tracker) ActiveOwnerFor(ctx context.Context, actorID string) (string, error) {
	entries, err := t.store.ListOpenTimeEntriesForActor(ctx, actorID)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", nil
	}
	if len(entries) > 1 {
		log.Printf("actor %s has %d open time entries, expected at most one", actorID, len(entries))
	}
	latest := entries[0]
	for _, e := range entries[1:] {
		if e.ClockIn.After(latest.ClockIn) {
			latest = e
		}
	}
	return latest.OwnerID, nil
}
