package claims

import (
	"context"
	"testing"
	"time"

	"batchmaker/internal/models"
	"batchmaker/internal/store"
)

// memStore keeps one workflow and one batch in memory and applies
// writes in call order, like the real store's last-write-wins rows.
type memStore struct {
	workflow models.Workflow
	batch    models.Batch
	hasBatch bool
	deleted  bool
}

func (m *memStore) GetWorkflow(_ context.Context, id string) (models.Workflow, bool, error) {
	return m.workflow, m.workflow.WorkflowID == id, nil
}

func (m *memStore) SetWorkflowClaim(_ context.Context, id string, claim store.ClaimUpdate) (models.Workflow, error) {
	if m.workflow.WorkflowID != id {
		return models.Workflow{}, store.ErrWorkflowNotFound
	}
	m.workflow.ClaimedBy = claim.ClaimedBy
	m.workflow.ClaimedByName = claim.ClaimedByName
	return m.workflow, nil
}

func (m *memStore) GetBatch(_ context.Context, id string) (models.Batch, bool, error) {
	return m.batch, m.hasBatch && m.batch.BatchID == id, nil
}

func (m *memStore) SetBatchClaim(_ context.Context, id string, claim store.ClaimUpdate) (models.Batch, error) {
	if !m.hasBatch || m.batch.BatchID != id {
		return models.Batch{}, store.ErrBatchNotFound
	}
	m.batch.ClaimedBy = claim.ClaimedBy
	m.batch.ClaimedByName = claim.ClaimedByName
	return m.batch, nil
}

func (m *memStore) MarkBatchStarted(_ context.Context, id string, scheduledFor time.Time) (models.Batch, error) {
	m.batch.Status = models.BatchInProgress
	m.batch.ScheduledFor = scheduledFor
	return m.batch, nil
}

func (m *memStore) CompleteBatch(_ context.Context, id string, at time.Time) (models.Batch, error) {
	m.batch.Status = models.BatchCompleted
	m.batch.CompletedAt = &at
	return m.batch, nil
}

func (m *memStore) DeleteBatch(_ context.Context, id string) error {
	m.hasBatch = false
	m.deleted = true
	return nil
}

func newMemStore() *memStore {
	return &memStore{
		workflow: models.Workflow{WorkflowID: "wf-1", OwnerID: "owner-1", Name: "Sourdough"},
		batch: models.Batch{
			BatchID:      "batch-1",
			OwnerID:      "owner-1",
			WorkflowID:   "wf-1",
			Status:       models.BatchNotStarted,
			ScheduledFor: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		},
		hasBatch: true,
	}
}

func TestClaimLastWriteWins(t *testing.T) {
	// Two actors claim the same batch in the same propagation window.
	// Neither call fails, nothing detects the overlap, and the batch is
	// attributed to whichever write landed last. That is the design.
	s := newMemStore()
	c := New(s)
	ctx := context.Background()

	if err := c.Claim(ctx, KindBatch, "batch-1", models.Actor{ID: "a", DisplayName: "Alice"}); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := c.Claim(ctx, KindBatch, "batch-1", models.Actor{ID: "b", DisplayName: "Bob"}); err != nil {
		t.Fatalf("second claim: %v", err)
	}

	if s.batch.ClaimedBy == nil || *s.batch.ClaimedBy != "b" {
		t.Fatalf("claimed_by=%v, want the later writer b", s.batch.ClaimedBy)
	}
	if *s.batch.ClaimedByName != "Bob" {
		t.Fatalf("claimed_by_name=%q, want Bob", *s.batch.ClaimedByName)
	}
}

func TestReleaseClearsClaim(t *testing.T) {
	s := newMemStore()
	c := New(s)
	ctx := context.Background()

	if err := c.Claim(ctx, KindWorkflow, "wf-1", models.Actor{ID: "a", DisplayName: "Alice"}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := c.Release(ctx, KindWorkflow, "wf-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if s.workflow.ClaimedBy != nil || s.workflow.ClaimedByName != nil {
		t.Fatalf("claim not cleared: %v/%v", s.workflow.ClaimedBy, s.workflow.ClaimedByName)
	}
}

func TestAssignOnBehalf(t *testing.T) {
	s := newMemStore()
	c := New(s)

	if err := c.Assign(context.Background(), KindWorkflow, "wf-1", models.Actor{ID: "m", DisplayName: "Mo"}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if s.workflow.ClaimedBy == nil || *s.workflow.ClaimedBy != "m" {
		t.Fatalf("claimed_by=%v, want m", s.workflow.ClaimedBy)
	}
}

func TestClaimUnknownKind(t *testing.T) {
	c := New(newMemStore())
	if err := c.Claim(context.Background(), "inventory", "x", models.Actor{ID: "a"}); err != ErrUnknownKind {
		t.Fatalf("err=%v, want ErrUnknownKind", err)
	}
}

func TestStartBatchEarlyRewritesSchedule(t *testing.T) {
	s := newMemStore()
	c := New(s)

	early := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)
	b, err := c.StartBatch(context.Background(), "batch-1", early)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if b.Status != models.BatchInProgress {
		t.Fatalf("status=%q, want in_progress", b.Status)
	}
	if !b.ScheduledFor.Equal(early) {
		t.Fatalf("scheduled_for=%v, want rewritten to %v", b.ScheduledFor, early)
	}
}

func TestStartBatchOnTimeKeepsSchedule(t *testing.T) {
	s := newMemStore()
	c := New(s)

	late := time.Date(2025, 6, 1, 9, 10, 0, 0, time.UTC)
	b, err := c.StartBatch(context.Background(), "batch-1", late)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	want := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	if !b.ScheduledFor.Equal(want) {
		t.Fatalf("scheduled_for=%v, want untouched %v", b.ScheduledFor, want)
	}
}

func TestStartBatchTwice(t *testing.T) {
	s := newMemStore()
	c := New(s)
	ctx := context.Background()

	if _, err := c.StartBatch(ctx, "batch-1", time.Now()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := c.StartBatch(ctx, "batch-1", time.Now()); err != store.ErrInvalidState {
		t.Fatalf("second start err=%v, want ErrInvalidState", err)
	}
}

func TestCancelBatchHardDeletes(t *testing.T) {
	s := newMemStore()
	c := New(s)

	if err := c.CancelBatch(context.Background(), "batch-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !s.deleted {
		t.Fatal("batch row not deleted")
	}
	if err := c.CancelBatch(context.Background(), "batch-1"); err != store.ErrBatchNotFound {
		t.Fatalf("cancel missing err=%v, want ErrBatchNotFound", err)
	}
}

func TestClaimCompletedBatchRefused(t *testing.T) {
	s := newMemStore()
	done := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	s.batch.Status = models.BatchCompleted
	s.batch.CompletedAt = &done
	c := New(s)
	ctx := context.Background()

	if err := c.Claim(ctx, KindBatch, "batch-1", models.Actor{ID: "late", DisplayName: "Lena"}); err != store.ErrBatchCompleted {
		t.Fatalf("claim err=%v, want ErrBatchCompleted", err)
	}
	if s.batch.ClaimedBy != nil {
		t.Fatalf("completed batch was mutated: claimed_by=%q", *s.batch.ClaimedBy)
	}
	if err := c.Release(ctx, KindBatch, "batch-1"); err != store.ErrBatchCompleted {
		t.Fatalf("release err=%v, want ErrBatchCompleted", err)
	}
	if err := c.Assign(ctx, KindBatch, "batch-1", models.Actor{ID: "m", DisplayName: "Mo"}); err != store.ErrBatchCompleted {
		t.Fatalf("assign err=%v, want ErrBatchCompleted", err)
	}
}

func TestCancelCompletedBatchRefused(t *testing.T) {
	s := newMemStore()
	now := time.Now()
	s.batch.Status = models.BatchCompleted
	s.batch.CompletedAt = &now
	c := New(s)

	if err := c.CancelBatch(context.Background(), "batch-1"); err != store.ErrInvalidState {
		t.Fatalf("err=%v, want ErrInvalidState", err)
	}
}
