package store

import (
	"context"
	"time"

	"batchmaker/internal/models"
)

type CreateTimeEntryInput struct {
	ActorID string
	OwnerID string
	ShiftID string
	ClockIn time.Time
}

type EditTimeEntryInput struct {
	EntryID  string
	EditorID string
	ClockIn  time.Time
	ClockOut *time.Time
	Reason   string
	EditedAt time.Time
}

type CreateShiftInput struct {
	OwnerID    string
	AssigneeID string
	Date       string
	StartTime  time.Time
	EndTime    time.Time
	Role       string
	Notes      string
}

type CreateBatchInput struct {
	OwnerID             string
	WorkflowID          string
	Name                string
	BatchSizeMultiplier float64
	ScheduledFor        time.Time
	CreatedAt           time.Time
}

// ClaimUpdate carries the claimed_by pair written by claim, release,
// assign, and unassign. Nil pointers clear the fields.
type ClaimUpdate struct {
	ClaimedBy     *string
	ClaimedByName *string
}

// ChangeEvent is one row of the change feed. Every mutation appends one;
// the hub fans them out to subscribed devices. Consumers that cannot
// subscribe fall back to polling reads.
type ChangeEvent struct {
	EventID   string    `json:"event_id"`
	OwnerID   string    `json:"owner_id"`
	Table     string    `json:"table"`
	EntityID  string    `json:"entity_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the shared-store contract the collaboration core runs on.
// Writes are single-row and unconditional: the last writer wins, and no
// method carries a version token. See the claims package for why.
type Store interface {
	GetMembership(ctx context.Context, ownerID, actorID string) (models.Membership, bool, error)
	ListMemberships(ctx context.Context, ownerID string) ([]models.Membership, error)
	SaveMembership(ctx context.Context, m models.Membership) (models.Membership, error)
	DeleteMembership(ctx context.Context, ownerID, actorID string) error
	TouchMembership(ctx context.Context, ownerID, actorID string, at time.Time) error

	GetTimeEntry(ctx context.Context, entryID string) (models.TimeEntry, bool, error)
	GetOpenTimeEntry(ctx context.Context, actorID, ownerID string) (models.TimeEntry, bool, error)
	ListOpenTimeEntriesForActor(ctx context.Context, actorID string) ([]models.TimeEntry, error)
	ListOpenTimeEntries(ctx context.Context) ([]models.TimeEntry, error)
	CreateTimeEntry(ctx context.Context, input CreateTimeEntryInput) (models.TimeEntry, error)
	CloseTimeEntry(ctx context.Context, entryID string, at time.Time) (models.TimeEntry, error)
	EditTimeEntry(ctx context.Context, input EditTimeEntryInput) (models.TimeEntry, error)

	CreateShift(ctx context.Context, input CreateShiftInput) (models.Shift, error)
	GetShift(ctx context.Context, shiftID string) (models.Shift, bool, error)
	ListShifts(ctx context.Context, ownerID, date string) ([]models.Shift, error)
	ShiftForDay(ctx context.Context, ownerID, assigneeID, date string) (models.Shift, bool, error)
	UpdateShiftStatus(ctx context.Context, shiftID, status string, startedAt *time.Time) (models.Shift, error)

	GetWorkflow(ctx context.Context, workflowID string) (models.Workflow, bool, error)
	ListWorkflows(ctx context.Context, ownerID string) ([]models.Workflow, error)
	SetWorkflowClaim(ctx context.Context, workflowID string, claim ClaimUpdate) (models.Workflow, error)

	CreateBatch(ctx context.Context, input CreateBatchInput) (models.Batch, error)
	GetBatch(ctx context.Context, batchID string) (models.Batch, bool, error)
	ListBatches(ctx context.Context, ownerID string) ([]models.Batch, error)
	ListOpenBatches(ctx context.Context, ownerID string) ([]models.Batch, error)
	SetBatchClaim(ctx context.Context, batchID string, claim ClaimUpdate) (models.Batch, error)
	MarkBatchStarted(ctx context.Context, batchID string, scheduledFor time.Time) (models.Batch, error)
	UpdateBatchProgress(ctx context.Context, batchID string, stepIndex int, completedSteps []string) (models.Batch, error)
	UpdateBatchTimers(ctx context.Context, batchID string, timers []models.Timer) (models.Batch, error)
	CompleteBatch(ctx context.Context, batchID string, at time.Time) (models.Batch, error)
	DeleteBatch(ctx context.Context, batchID string) error

	CreateNotice(ctx context.Context, n models.Notice) (models.Notice, error)
	ListOpenNotices(ctx context.Context, actorID string) ([]models.Notice, error)
	ResolveNotice(ctx context.Context, noticeID string, at time.Time) (models.Notice, error)

	// ListChangeEvents pages the change feed after the (after, afterID)
	// cursor; afterID breaks timestamp ties.
	ListChangeEvents(ctx context.Context, after time.Time, afterID string, limit int) ([]ChangeEvent, error)
}
