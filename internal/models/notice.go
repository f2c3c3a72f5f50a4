package models

import "time"

// Notice is a prompt surfaced to a single actor, such as the
// "still working?" question raised when a shift has overrun.
type Notice struct {
	NoticeID   string     `json:"notice_id"`
	OwnerID    string     `json:"owner_id"`
	ActorID    string     `json:"actor_id"`
	Kind       string     `json:"kind"`
	Message    string     `json:"message"`
	EntryID    string     `json:"entry_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

const (
	NoticeShiftOverrun = "shift_overrun"
)
