package models

import "time"

// TimeEntry is one clock session. Entries are never hard-deleted;
// retroactive corrections go through an audited edit.
type TimeEntry struct {
	EntryID    string     `json:"entry_id"`
	ActorID    string     `json:"actor_id"`
	OwnerID    string     `json:"owner_id"`
	ShiftID    *string    `json:"shift_id,omitempty"`
	ClockIn    time.Time  `json:"clock_in"`
	ClockOut   *time.Time `json:"clock_out,omitempty"`
	EditedBy   *string    `json:"edited_by,omitempty"`
	EditedAt   *time.Time `json:"edited_at,omitempty"`
	EditReason string     `json:"edit_reason,omitempty"`
}

// Open reports whether the entry is still running.
func (e TimeEntry) Open() bool {
	return e.ClockOut == nil
}

type Shift struct {
	ShiftID    string    `json:"shift_id"`
	OwnerID    string    `json:"owner_id"`
	AssigneeID string    `json:"assignee_id"`
	Date       string    `json:"date"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Role       string    `json:"role,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	Status     string    `json:"status"`
}

const (
	ShiftScheduled  = "scheduled"
	ShiftInProgress = "in_progress"
	ShiftCompleted  = "completed"
	ShiftCancelled  = "cancelled"
)
