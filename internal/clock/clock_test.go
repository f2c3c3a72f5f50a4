package clock

import (
	"context"
	"testing"
	"time"

	"batchmaker/internal/models"
	"batchmaker/internal/store"

	"github.com/google/uuid"
)

// fakeStore is an in-memory clock store for both the tracker and the
// overrun checker.
type fakeStore struct {
	entries map[string]models.TimeEntry
	shifts  map[string]models.Shift
	notices []models.Notice
	touched int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entries: map[string]models.TimeEntry{},
		shifts:  map[string]models.Shift{},
	}
}

func (f *fakeStore) GetTimeEntry(_ context.Context, entryID string) (models.TimeEntry, bool, error) {
	e, ok := f.entries[entryID]
	return e, ok, nil
}

func (f *fakeStore) GetOpenTimeEntry(_ context.Context, actorID, ownerID string) (models.TimeEntry, bool, error) {
	for _, e := range f.entries {
		if e.ActorID == actorID && e.OwnerID == ownerID && e.Open() {
			return e, true, nil
		}
	}
	return models.TimeEntry{}, false, nil
}

func (f *fakeStore) ListOpenTimeEntriesForActor(_ context.Context, actorID string) ([]models.TimeEntry, error) {
	var out []models.TimeEntry
	for _, e := range f.entries {
		if e.ActorID == actorID && e.Open() {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) ListOpenTimeEntries(_ context.Context) ([]models.TimeEntry, error) {
	var out []models.TimeEntry
	for _, e := range f.entries {
		if e.Open() {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateTimeEntry(_ context.Context, input store.CreateTimeEntryInput) (models.TimeEntry, error) {
	e := models.TimeEntry{
		EntryID: uuid.NewString(),
		ActorID: input.ActorID,
		OwnerID: input.OwnerID,
		ClockIn: input.ClockIn,
	}
	if input.ShiftID != "" {
		shiftID := input.ShiftID
		e.ShiftID = &shiftID
	}
	f.entries[e.EntryID] = e
	return e, nil
}

func (f *fakeStore) CloseTimeEntry(_ context.Context, entryID string, at time.Time) (models.TimeEntry, error) {
	e, ok := f.entries[entryID]
	if !ok {
		return models.TimeEntry{}, store.ErrTimeEntryNotFound
	}
	e.ClockOut = &at
	f.entries[entryID] = e
	return e, nil
}

func (f *fakeStore) EditTimeEntry(_ context.Context, input store.EditTimeEntryInput) (models.TimeEntry, error) {
	e, ok := f.entries[input.EntryID]
	if !ok {
		return models.TimeEntry{}, store.ErrTimeEntryNotFound
	}
	e.ClockIn = input.ClockIn
	e.ClockOut = input.ClockOut
	e.EditedBy = &input.EditorID
	e.EditedAt = &input.EditedAt
	e.EditReason = input.Reason
	f.entries[input.EntryID] = e
	return e, nil
}

func (f *fakeStore) ShiftForDay(_ context.Context, ownerID, assigneeID, date string) (models.Shift, bool, error) {
	for _, s := range f.shifts {
		if s.OwnerID == ownerID && s.AssigneeID == assigneeID && s.Date == date && s.Status != models.ShiftCancelled {
			return s, true, nil
		}
	}
	return models.Shift{}, false, nil
}

func (f *fakeStore) GetShift(_ context.Context, shiftID string) (models.Shift, bool, error) {
	s, ok := f.shifts[shiftID]
	return s, ok, nil
}

func (f *fakeStore) UpdateShiftStatus(_ context.Context, shiftID, status string, startedAt *time.Time) (models.Shift, error) {
	s, ok := f.shifts[shiftID]
	if !ok {
		return models.Shift{}, store.ErrShiftNotFound
	}
	s.Status = status
	if startedAt != nil {
		s.StartTime = *startedAt
		s.Date = startedAt.UTC().Format(dateLayout)
	}
	f.shifts[shiftID] = s
	return s, nil
}

func (f *fakeStore) TouchMembership(_ context.Context, ownerID, actorID string, at time.Time) error {
	f.touched++
	return nil
}

func (f *fakeStore) ListOpenNotices(_ context.Context, actorID string) ([]models.Notice, error) {
	var out []models.Notice
	for _, n := range f.notices {
		if n.ActorID == actorID && n.ResolvedAt == nil {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateNotice(_ context.Context, n models.Notice) (models.Notice, error) {
	n.NoticeID = uuid.NewString()
	f.notices = append(f.notices, n)
	return n, nil
}

var noon = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

func alice() models.Actor { return models.Actor{ID: "actor-a", DisplayName: "Alice"} }

func TestClockInWithoutShiftRequiresConfirmation(t *testing.T) {
	f := newFakeStore()
	tr := New(f)

	_, err := tr.ClockIn(context.Background(), alice(), "owner-1", false, noon)
	if err != ErrShiftConfirmRequired {
		t.Fatalf("err=%v, want ErrShiftConfirmRequired", err)
	}

	entry, err := tr.ClockIn(context.Background(), alice(), "owner-1", true, noon)
	if err != nil {
		t.Fatalf("confirmed clock-in: %v", err)
	}
	if !entry.Open() || entry.ShiftID != nil {
		t.Fatalf("entry=%+v, want open with no shift", entry)
	}
	if f.touched != 1 {
		t.Fatalf("membership touched %d times, want 1", f.touched)
	}
}

func TestClockInWithShiftStartsIt(t *testing.T) {
	f := newFakeStore()
	f.shifts["shift-1"] = models.Shift{
		ShiftID:    "shift-1",
		OwnerID:    "owner-1",
		AssigneeID: "actor-a",
		Date:       "2025-06-02",
		StartTime:  time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC),
		EndTime:    time.Date(2025, 6, 2, 17, 0, 0, 0, time.UTC),
		Status:     models.ShiftScheduled,
	}
	tr := New(f)

	entry, err := tr.ClockIn(context.Background(), alice(), "owner-1", false, noon)
	if err != nil {
		t.Fatalf("clock-in: %v", err)
	}
	if entry.ShiftID == nil || *entry.ShiftID != "shift-1" {
		t.Fatalf("entry shift=%v, want shift-1", entry.ShiftID)
	}
	if f.shifts["shift-1"].Status != models.ShiftInProgress {
		t.Fatalf("shift status=%q, want in_progress", f.shifts["shift-1"].Status)
	}
	// on-time start keeps the scheduled start
	if !f.shifts["shift-1"].StartTime.Equal(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("start time rewritten to %v on a late start", f.shifts["shift-1"].StartTime)
	}
}

func TestClockInEarlyRewritesShiftStart(t *testing.T) {
	f := newFakeStore()
	f.shifts["shift-1"] = models.Shift{
		ShiftID:    "shift-1",
		OwnerID:    "owner-1",
		AssigneeID: "actor-a",
		Date:       "2025-06-02",
		StartTime:  time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC),
		EndTime:    time.Date(2025, 6, 2, 17, 0, 0, 0, time.UTC),
		Status:     models.ShiftScheduled,
	}
	tr := New(f)

	early := time.Date(2025, 6, 2, 8, 30, 0, 0, time.UTC)
	if _, err := tr.ClockIn(context.Background(), alice(), "owner-1", false, early); err != nil {
		t.Fatalf("clock-in: %v", err)
	}
	if !f.shifts["shift-1"].StartTime.Equal(early) {
		t.Fatalf("shift start=%v, want rewritten to 08:30", f.shifts["shift-1"].StartTime)
	}
}

func TestClockInIdempotentWhileOpen(t *testing.T) {
	f := newFakeStore()
	tr := New(f)
	ctx := context.Background()

	first, err := tr.ClockIn(ctx, alice(), "owner-1", true, noon)
	if err != nil {
		t.Fatalf("clock-in: %v", err)
	}
	second, err := tr.ClockIn(ctx, alice(), "owner-1", true, noon.Add(time.Minute))
	if err != nil {
		t.Fatalf("repeat clock-in: %v", err)
	}
	if second.EntryID != first.EntryID {
		t.Fatalf("repeat clock-in created a second entry %s", second.EntryID)
	}
	if len(f.entries) != 1 {
		t.Fatalf("entries=%d, want 1", len(f.entries))
	}
}

func TestClockOut(t *testing.T) {
	f := newFakeStore()
	tr := New(f)
	ctx := context.Background()

	if _, err := tr.ClockOut(ctx, "actor-a", "owner-1", noon); err != store.ErrTimeEntryNotFound {
		t.Fatalf("clock-out without entry err=%v, want ErrTimeEntryNotFound", err)
	}

	if _, err := tr.ClockIn(ctx, alice(), "owner-1", true, noon); err != nil {
		t.Fatalf("clock-in: %v", err)
	}
	out := noon.Add(4 * time.Hour)
	entry, err := tr.ClockOut(ctx, "actor-a", "owner-1", out)
	if err != nil {
		t.Fatalf("clock-out: %v", err)
	}
	if entry.ClockOut == nil || !entry.ClockOut.Equal(out) {
		t.Fatalf("clock_out=%v, want %v", entry.ClockOut, out)
	}
}

func TestEditEntryRequiresReason(t *testing.T) {
	f := newFakeStore()
	tr := New(f)
	ctx := context.Background()

	entry, err := tr.ClockIn(ctx, alice(), "owner-1", true, noon)
	if err != nil {
		t.Fatalf("clock-in: %v", err)
	}

	if _, err := tr.EditEntry(ctx, entry.EntryID, models.Actor{ID: "admin"}, noon, nil, "   ", noon); err != store.ErrValidation {
		t.Fatalf("blank reason err=%v, want ErrValidation", err)
	}

	newIn := noon.Add(-time.Hour)
	edited, err := tr.EditEntry(ctx, entry.EntryID, models.Actor{ID: "admin"}, newIn, nil, "forgot to clock in", noon.Add(time.Hour))
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if !edited.ClockIn.Equal(newIn) || edited.EditedBy == nil || *edited.EditedBy != "admin" || edited.EditReason != "forgot to clock in" {
		t.Fatalf("edit not stamped: %+v", edited)
	}
}

func TestEditEntryRejectsBackwardRange(t *testing.T) {
	f := newFakeStore()
	tr := New(f)
	ctx := context.Background()

	entry, _ := tr.ClockIn(ctx, alice(), "owner-1", true, noon)
	before := noon.Add(-time.Hour)
	if _, err := tr.EditEntry(ctx, entry.EntryID, models.Actor{ID: "admin"}, noon, &before, "typo", noon); err != store.ErrValidation {
		t.Fatalf("err=%v, want ErrValidation", err)
	}
}

func TestActiveOwnerFor(t *testing.T) {
	f := newFakeStore()
	tr := New(f)
	ctx := context.Background()

	owner, err := tr.ActiveOwnerFor(ctx, "actor-a")
	if err != nil || owner != "" {
		t.Fatalf("owner=%q err=%v, want empty", owner, err)
	}

	if _, err := tr.ClockIn(ctx, alice(), "owner-1", true, noon); err != nil {
		t.Fatalf("clock-in: %v", err)
	}
	owner, err = tr.ActiveOwnerFor(ctx, "actor-a")
	if err != nil || owner != "owner-1" {
		t.Fatalf("owner=%q err=%v, want owner-1", owner, err)
	}

	// two open entries is a data bug; the most recent clock-in wins
	if _, err := tr.ClockIn(ctx, alice(), "owner-2", true, noon.Add(time.Hour)); err != nil {
		t.Fatalf("second clock-in: %v", err)
	}
	owner, err = tr.ActiveOwnerFor(ctx, "actor-a")
	if err != nil || owner != "owner-2" {
		t.Fatalf("owner=%q err=%v, want owner-2", owner, err)
	}
}

func TestOverrunChecker(t *testing.T) {
	f := newFakeStore()
	f.shifts["shift-1"] = models.Shift{
		ShiftID:    "shift-1",
		OwnerID:    "owner-1",
		AssigneeID: "actor-a",
		Date:       "2025-06-02",
		StartTime:  time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC),
		EndTime:    time.Date(2025, 6, 2, 17, 0, 0, 0, time.UTC),
		Status:     models.ShiftInProgress,
	}
	tr := New(f)
	if _, err := tr.ClockIn(context.Background(), alice(), "owner-1", false, noon); err != nil {
		t.Fatalf("clock-in: %v", err)
	}

	checker := NewOverrunChecker(f, 30*time.Minute)

	// inside the grace window: nothing raised
	count, err := checker.Run(context.Background(), time.Date(2025, 6, 2, 17, 15, 0, 0, time.UTC))
	if err != nil || count != 0 {
		t.Fatalf("count=%d err=%v, want 0 inside grace", count, err)
	}

	// past end + grace: one prompt
	late := time.Date(2025, 6, 2, 17, 45, 0, 0, time.UTC)
	count, err = checker.Run(context.Background(), late)
	if err != nil || count != 1 {
		t.Fatalf("count=%d err=%v, want 1", count, err)
	}
	if f.notices[0].Kind != models.NoticeShiftOverrun || f.notices[0].ActorID != "actor-a" {
		t.Fatalf("notice=%+v", f.notices[0])
	}

	// repeat sweep must not duplicate the prompt
	count, err = checker.Run(context.Background(), late.Add(5*time.Minute))
	if err != nil || count != 0 {
		t.Fatalf("count=%d err=%v, want 0 on repeat", count, err)
	}
}
