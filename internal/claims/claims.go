// Package claims arbitrates working-ownership of workflows and batches.
//
// A claim is not a lock. Each claim, release, assign, and unassign is
// an unconditional write to the shared store; two actors claiming the
// same entity inside one propagation window both see success and the
// row ends up attributed to whichever write committed last. The design
// accepts this race: claims are rare, conflicts are visually obvious
// after the next refresh, and no version token exists to reject a
// stale write. The one write guard is completion: a batch with
// completed_at set refuses all claim churn.
package claims

import (
	"context"
	"errors"
	"time"

	"batchmaker/internal/batch"
	"batchmaker/internal/models"
	"batchmaker/internal/store"
)

const (
	KindWorkflow = "workflow"
	KindBatch    = "batch"
)

var ErrUnknownKind = errors.New("unknown entity kind")

// Store is the slice of the shared store the coordinator writes through.
type Store interface {
	GetWorkflow(ctx context.Context, workflowID string) (models.Workflow, bool, error)
	SetWorkflowClaim(ctx context.Context, workflowID string, claim store.ClaimUpdate) (models.Workflow, error)
	GetBatch(ctx context.Context, batchID string) (models.Batch, bool, error)
	SetBatchClaim(ctx context.Context, batchID string, claim store.ClaimUpdate) (models.Batch, error)
	MarkBatchStarted(ctx context.Context, batchID string, scheduledFor time.Time) (models.Batch, error)
	CompleteBatch(ctx context.Context, batchID string, at time.Time) (models.Batch, error)
	DeleteBatch(ctx context.Context, batchID string) error
}

type Coordinator struct {
	store Store
}

func New(s Store) *Coordinator {
	return &Coordinator{store: s}
}

// Claim attributes the entity to the acting actor.
func (c *Coordinator) Claim(ctx context.Context, kind, entityID string, actor models.Actor) error {
	return c.setClaim(ctx, kind, entityID, store.ClaimUpdate{
		ClaimedBy:     &actor.ID,
		ClaimedByName: &actor.DisplayName,
	})
}

// Release clears the claim regardless of who holds it.
func (c *Coordinator) Release(ctx context.Context, kind, entityID string) error {
	return c.setClaim(ctx, kind, entityID, store.ClaimUpdate{})
}

// Assign claims the entity on behalf of another actor.
func (c *Coordinator) Assign(ctx context.Context, kind, entityID string, target models.Actor) error {
	return c.setClaim(ctx, kind, entityID, store.ClaimUpdate{
		ClaimedBy:     &target.ID,
		ClaimedByName: &target.DisplayName,
	})
}

func (c *Coordinator) Unassign(ctx context.Context, kind, entityID string) error {
	return c.setClaim(ctx, kind, entityID, store.ClaimUpdate{})
}

func (c *Coordinator) setClaim(ctx context.Context, kind, entityID string, claim store.ClaimUpdate) error {
	switch kind {
	case KindWorkflow:
		_, err := c.store.SetWorkflowClaim(ctx, entityID, claim)
		return err
	case KindBatch:
		b, found, err := c.store.GetBatch(ctx, entityID)
		if err != nil {
			return err
		}
		if !found {
			return store.ErrBatchNotFound
		}
		// Completed batches are immutable; claim churn after
		// completion would rewrite a frozen row.
		if b.CompletedAt != nil {
			return store.ErrBatchCompleted
		}
		_, err = c.store.SetBatchClaim(ctx, entityID, claim)
		return err
	default:
		return ErrUnknownKind
	}
}

// StartBatch moves a batch to in_progress. Starting before the
// scheduled datetime rewrites the schedule to the actual start so the
// real start time is not lost.
func (c *Coordinator) StartBatch(ctx context.Context, batchID string, at time.Time) (models.Batch, error) {
	b, found, err := c.store.GetBatch(ctx, batchID)
	if err != nil {
		return models.Batch{}, err
	}
	if !found {
		return models.Batch{}, store.ErrBatchNotFound
	}
	if !batch.ValidTransition("start", b.Status) {
		return models.Batch{}, store.ErrInvalidState
	}
	scheduledFor := b.ScheduledFor
	if at.Before(scheduledFor) {
		scheduledFor = at
	}
	return c.store.MarkBatchStarted(ctx, batchID, scheduledFor)
}

// CompleteBatch stamps completed_at; the batch is immutable afterwards.
func (c *Coordinator) CompleteBatch(ctx context.Context, batchID string, at time.Time) (models.Batch, error) {
	b, found, err := c.store.GetBatch(ctx, batchID)
	if err != nil {
		return models.Batch{}, err
	}
	if !found {
		return models.Batch{}, store.ErrBatchNotFound
	}
	if !batch.ValidTransition("complete", b.Status) {
		return models.Batch{}, store.ErrInvalidState
	}
	return c.store.CompleteBatch(ctx, batchID, at)
}

// CancelBatch hard-deletes the batch. All progress is unrecoverable;
// the caller is expected to have warned the user before invoking this.
func (c *Coordinator) CancelBatch(ctx context.Context, batchID string) error {
	b, found, err := c.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if !found {
		return store.ErrBatchNotFound
	}
	if !batch.ValidTransition("cancel", b.Status) {
		return store.ErrInvalidState
	}
	return c.store.DeleteBatch(ctx, batchID)
}
