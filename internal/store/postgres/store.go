package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"batchmaker/internal/models"
	"batchmaker/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const membershipColumns = `membership_id, owner_id, actor_id, role, require_clock_in, allow_anytime_access, allow_remote_clock_in, device_name, email, last_active`

func (s *Store) GetMembership(ctx context.Context, ownerID, actorID string) (models.Membership, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+membershipColumns+`
		FROM memberships
		WHERE owner_id = $1 AND actor_id = $2
	`, ownerID, actorID)
	m, err := scanMembership(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Membership{}, false, nil
		}
		return models.Membership{}, false, err
	}
	return m, true, nil
}

func (s *Store) ListMemberships(ctx context.Context, ownerID string) ([]models.Membership, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+membershipColumns+`
		FROM memberships
		WHERE owner_id = $1
		ORDER BY actor_id ASC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memberships []models.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return memberships, nil
}

func (s *Store) SaveMembership(ctx context.Context, m models.Membership) (models.Membership, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Membership{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if m.MembershipID == "" {
		m.MembershipID = uuid.NewString()
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO memberships (
			membership_id, owner_id, actor_id, role, require_clock_in, allow_anytime_access,
			allow_remote_clock_in, device_name, email, last_active
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (owner_id, actor_id) DO UPDATE SET
			role = EXCLUDED.role,
			require_clock_in = EXCLUDED.require_clock_in,
			allow_anytime_access = EXCLUDED.allow_anytime_access,
			allow_remote_clock_in = EXCLUDED.allow_remote_clock_in,
			device_name = EXCLUDED.device_name,
			email = EXCLUDED.email
	`, m.MembershipID, m.OwnerID, m.ActorID, m.Role, m.RequireClockIn, m.AllowAnytimeAccess, m.AllowRemoteClockIn, m.DeviceName, m.Email, nullableTime(m.LastActive))
	if err != nil {
		return models.Membership{}, err
	}

	if err = insertChangeEvent(ctx, tx, m.OwnerID, "memberships", m.MembershipID); err != nil {
		return models.Membership{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Membership{}, err
	}
	return m, nil
}

func (s *Store) DeleteMembership(ctx context.Context, ownerID, actorID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var membershipID string
	row := tx.QueryRow(ctx, `
		DELETE FROM memberships
		WHERE owner_id = $1 AND actor_id = $2
		RETURNING membership_id
	`, ownerID, actorID)
	if err = row.Scan(&membershipID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrMembershipNotFound
		}
		return err
	}

	if err = insertChangeEvent(ctx, tx, ownerID, "memberships", membershipID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// TouchMembership is a heartbeat write; it skips the change feed so
// presence polling does not flood subscribers with its own echoes.
func (s *Store) TouchMembership(ctx context.Context, ownerID, actorID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE memberships
		SET last_active = $1
		WHERE owner_id = $2 AND actor_id = $3
	`, at, ownerID, actorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrMembershipNotFound
	}
	return nil
}

const timeEntryColumns = `entry_id, actor_id, owner_id, shift_id, clock_in, clock_out, edited_by, edited_at, edit_reason`

func (s *Store) GetTimeEntry(ctx context.Context, entryID string) (models.TimeEntry, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+timeEntryColumns+`
		FROM time_entries
		WHERE entry_id = $1
	`, entryID)
	entry, err := scanTimeEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.TimeEntry{}, false, nil
		}
		return models.TimeEntry{}, false, err
	}
	return entry, true, nil
}

func (s *Store) GetOpenTimeEntry(ctx context.Context, actorID, ownerID string) (models.TimeEntry, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+timeEntryColumns+`
		FROM time_entries
		WHERE actor_id = $1 AND owner_id = $2 AND clock_out IS NULL
		ORDER BY clock_in DESC
		LIMIT 1
	`, actorID, ownerID)
	entry, err := scanTimeEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.TimeEntry{}, false, nil
		}
		return models.TimeEntry{}, false, err
	}
	return entry, true, nil
}

func (s *Store) ListOpenTimeEntriesForActor(ctx context.Context, actorID string) ([]models.TimeEntry, error) {
	return s.listTimeEntries(ctx, `
		SELECT `+timeEntryColumns+`
		FROM time_entries
		WHERE actor_id = $1 AND clock_out IS NULL
		ORDER BY clock_in ASC
	`, actorID)
}

func (s *Store) ListOpenTimeEntries(ctx context.Context) ([]models.TimeEntry, error) {
	return s.listTimeEntries(ctx, `
		SELECT `+timeEntryColumns+`
		FROM time_entries
		WHERE clock_out IS NULL
		ORDER BY clock_in ASC
	`)
}

func (s *Store) listTimeEntries(ctx context.Context, query string, args ...interface{}) ([]models.TimeEntry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.TimeEntry
	for rows.Next() {
		entry, err := scanTimeEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) CreateTimeEntry(ctx context.Context, input store.CreateTimeEntryInput) (models.TimeEntry, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.TimeEntry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	entryID := uuid.NewString()
	clockIn := input.ClockIn
	if clockIn.IsZero() {
		clockIn = time.Now().UTC()
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO time_entries (entry_id, actor_id, owner_id, shift_id, clock_in)
		VALUES ($1,$2,$3,$4,$5)
	`, entryID, input.ActorID, input.OwnerID, nullIfEmpty(input.ShiftID), clockIn)
	if err != nil {
		return models.TimeEntry{}, err
	}

	if err = insertChangeEvent(ctx, tx, input.OwnerID, "time_entries", entryID); err != nil {
		return models.TimeEntry{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.TimeEntry{}, err
	}

	entry := models.TimeEntry{
		EntryID: entryID,
		ActorID: input.ActorID,
		OwnerID: input.OwnerID,
		ClockIn: clockIn,
	}
	if input.ShiftID != "" {
		entry.ShiftID = &input.ShiftID
	}
	return entry, nil
}

func (s *Store) CloseTimeEntry(ctx context.Context, entryID string, at time.Time) (models.TimeEntry, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.TimeEntry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `
		UPDATE time_entries
		SET clock_out = $1
		WHERE entry_id = $2 AND clock_out IS NULL
		RETURNING `+timeEntryColumns+`
	`, at, entryID)
	entry, err := scanTimeEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrTimeEntryNotFound
		}
		return models.TimeEntry{}, err
	}

	if err = insertChangeEvent(ctx, tx, entry.OwnerID, "time_entries", entryID); err != nil {
		return models.TimeEntry{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.TimeEntry{}, err
	}
	return entry, nil
}

func (s *Store) EditTimeEntry(ctx context.Context, input store.EditTimeEntryInput) (models.TimeEntry, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.TimeEntry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `
		UPDATE time_entries
		SET clock_in = $1,
			clock_out = $2,
			edited_by = $3,
			edited_at = $4,
			edit_reason = $5
		WHERE entry_id = $6
		RETURNING `+timeEntryColumns+`
	`, input.ClockIn, input.ClockOut, input.EditorID, input.EditedAt, input.Reason, input.EntryID)
	entry, err := scanTimeEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrTimeEntryNotFound
		}
		return models.TimeEntry{}, err
	}

	if err = insertChangeEvent(ctx, tx, entry.OwnerID, "time_entries", input.EntryID); err != nil {
		return models.TimeEntry{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.TimeEntry{}, err
	}
	return entry, nil
}

const shiftColumns = `shift_id, owner_id, assignee_id, shift_date, start_time, end_time, role, notes, status`

func (s *Store) CreateShift(ctx context.Context, input store.CreateShiftInput) (models.Shift, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Shift{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	shiftID := uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO shifts (shift_id, owner_id, assignee_id, shift_date, start_time, end_time, role, notes, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, shiftID, input.OwnerID, input.AssigneeID, input.Date, input.StartTime, input.EndTime, input.Role, input.Notes, models.ShiftScheduled)
	if err != nil {
		return models.Shift{}, err
	}

	if err = insertChangeEvent(ctx, tx, input.OwnerID, "shifts", shiftID); err != nil {
		return models.Shift{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Shift{}, err
	}

	return models.Shift{
		ShiftID:    shiftID,
		OwnerID:    input.OwnerID,
		AssigneeID: input.AssigneeID,
		Date:       input.Date,
		StartTime:  input.StartTime,
		EndTime:    input.EndTime,
		Role:       input.Role,
		Notes:      input.Notes,
		Status:     models.ShiftScheduled,
	}, nil
}

func (s *Store) GetShift(ctx context.Context, shiftID string) (models.Shift, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE shift_id = $1
	`, shiftID)
	shift, err := scanShift(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Shift{}, false, nil
		}
		return models.Shift{}, false, err
	}
	return shift, true, nil
}

func (s *Store) ListShifts(ctx context.Context, ownerID, date string) ([]models.Shift, error) {
	query := `
		SELECT ` + shiftColumns + `
		FROM shifts
		WHERE owner_id = $1
	`
	args := []interface{}{ownerID}
	if date != "" {
		query += " AND shift_date = $2"
		args = append(args, date)
	}
	query += " ORDER BY start_time ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shifts []models.Shift
	for rows.Next() {
		shift, err := scanShift(rows)
		if err != nil {
			return nil, err
		}
		shifts = append(shifts, shift)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return shifts, nil
}

func (s *Store) ShiftForDay(ctx context.Context, ownerID, assigneeID, date string) (models.Shift, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE owner_id = $1 AND assignee_id = $2 AND shift_date = $3
			AND status IN ('scheduled', 'in_progress')
		ORDER BY start_time ASC
		LIMIT 1
	`, ownerID, assigneeID, date)
	shift, err := scanShift(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Shift{}, false, nil
		}
		return models.Shift{}, false, err
	}
	return shift, true, nil
}

func (s *Store) UpdateShiftStatus(ctx context.Context, shiftID, status string, startedAt *time.Time) (models.Shift, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Shift{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// an early start pulls the scheduled window forward to the actual
	// start so the overrun sweep measures from real hours
	var row pgx.Row
	if startedAt != nil {
		row = tx.QueryRow(ctx, `
			UPDATE shifts
			SET status = $1,
				start_time = LEAST(start_time, $2)
			WHERE shift_id = $3
			RETURNING `+shiftColumns+`
		`, status, *startedAt, shiftID)
	} else {
		row = tx.QueryRow(ctx, `
			UPDATE shifts
			SET status = $1
			WHERE shift_id = $2
			RETURNING `+shiftColumns+`
		`, status, shiftID)
	}
	shift, err := scanShift(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrShiftNotFound
		}
		return models.Shift{}, err
	}

	if err = insertChangeEvent(ctx, tx, shift.OwnerID, "shifts", shiftID); err != nil {
		return models.Shift{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Shift{}, err
	}
	return shift, nil
}

const workflowColumns = `workflow_id, owner_id, name, steps_json, claimed_by, claimed_by_name, created_at`

func (s *Store) GetWorkflow(ctx context.Context, workflowID string) (models.Workflow, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+workflowColumns+`
		FROM workflows
		WHERE workflow_id = $1
	`, workflowID)
	wf, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Workflow{}, false, nil
		}
		return models.Workflow{}, false, err
	}
	return wf, true, nil
}

func (s *Store) ListWorkflows(ctx context.Context, ownerID string) ([]models.Workflow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+workflowColumns+`
		FROM workflows
		WHERE owner_id = $1
		ORDER BY created_at ASC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []models.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return workflows, nil
}

func (s *Store) SetWorkflowClaim(ctx context.Context, workflowID string, claim store.ClaimUpdate) (models.Workflow, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Workflow{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `
		UPDATE workflows
		SET claimed_by = $1,
			claimed_by_name = $2
		WHERE workflow_id = $3
		RETURNING `+workflowColumns+`
	`, claim.ClaimedBy, claim.ClaimedByName, workflowID)
	wf, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrWorkflowNotFound
		}
		return models.Workflow{}, err
	}

	if err = insertChangeEvent(ctx, tx, wf.OwnerID, "workflows", workflowID); err != nil {
		return models.Workflow{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Workflow{}, err
	}
	return wf, nil
}

const batchColumns = `batch_id, owner_id, workflow_id, name, status, current_step_index, completed_steps_json, batch_size_multiplier, active_timers_json, claimed_by, claimed_by_name, scheduled_for, created_at, completed_at`

func (s *Store) CreateBatch(ctx context.Context, input store.CreateBatchInput) (models.Batch, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Batch{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	batchID := uuid.NewString()
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO batches (
			batch_id, owner_id, workflow_id, name, status, current_step_index,
			completed_steps_json, batch_size_multiplier, active_timers_json, scheduled_for, created_at
		) VALUES ($1,$2,$3,$4,$5,0,'[]',$6,'[]',$7,$8)
	`, batchID, input.OwnerID, input.WorkflowID, input.Name, models.BatchNotStarted, input.BatchSizeMultiplier, input.ScheduledFor, createdAt)
	if err != nil {
		return models.Batch{}, err
	}

	if err = insertChangeEvent(ctx, tx, input.OwnerID, "batches", batchID); err != nil {
		return models.Batch{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Batch{}, err
	}

	return models.Batch{
		BatchID:             batchID,
		OwnerID:             input.OwnerID,
		WorkflowID:          input.WorkflowID,
		Name:                input.Name,
		Status:              models.BatchNotStarted,
		BatchSizeMultiplier: input.BatchSizeMultiplier,
		ScheduledFor:        input.ScheduledFor,
		CreatedAt:           createdAt,
	}, nil
}

func (s *Store) GetBatch(ctx context.Context, batchID string) (models.Batch, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+batchColumns+`
		FROM batches
		WHERE batch_id = $1
	`, batchID)
	b, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Batch{}, false, nil
		}
		return models.Batch{}, false, err
	}
	return b, true, nil
}

func (s *Store) ListBatches(ctx context.Context, ownerID string) ([]models.Batch, error) {
	return s.listBatches(ctx, `
		SELECT `+batchColumns+`
		FROM batches
		WHERE owner_id = $1
		ORDER BY created_at ASC
	`, ownerID)
}

func (s *Store) ListOpenBatches(ctx context.Context, ownerID string) ([]models.Batch, error) {
	return s.listBatches(ctx, `
		SELECT `+batchColumns+`
		FROM batches
		WHERE owner_id = $1 AND status <> 'completed'
		ORDER BY created_at ASC
	`, ownerID)
}

func (s *Store) listBatches(ctx context.Context, query string, args ...interface{}) ([]models.Batch, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []models.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

func (s *Store) SetBatchClaim(ctx context.Context, batchID string, claim store.ClaimUpdate) (models.Batch, error) {
	// completed_at IS NULL keeps a completed row frozen even when a
	// claim write races the completion write.
	b, err := s.updateBatch(ctx, batchID, `
		UPDATE batches
		SET claimed_by = $1,
			claimed_by_name = $2
		WHERE batch_id = $3 AND completed_at IS NULL
		RETURNING `+batchColumns+`
	`, claim.ClaimedBy, claim.ClaimedByName, batchID)
	if errors.Is(err, store.ErrBatchNotFound) {
		if _, found, getErr := s.GetBatch(ctx, batchID); getErr == nil && found {
			return models.Batch{}, store.ErrBatchCompleted
		}
	}
	return b, err
}

func (s *Store) MarkBatchStarted(ctx context.Context, batchID string, scheduledFor time.Time) (models.Batch, error) {
	return s.updateBatch(ctx, batchID, `
		UPDATE batches
		SET status = 'in_progress',
			scheduled_for = $1
		WHERE batch_id = $2
		RETURNING `+batchColumns+`
	`, scheduledFor, batchID)
}

func (s *Store) UpdateBatchProgress(ctx context.Context, batchID string, stepIndex int, completedSteps []string) (models.Batch, error) {
	stepsJSON, err := jsonBytes(completedSteps)
	if err != nil {
		return models.Batch{}, err
	}
	return s.updateBatch(ctx, batchID, `
		UPDATE batches
		SET current_step_index = $1,
			completed_steps_json = $2
		WHERE batch_id = $3
		RETURNING `+batchColumns+`
	`, stepIndex, stepsJSON, batchID)
}

func (s *Store) UpdateBatchTimers(ctx context.Context, batchID string, timers []models.Timer) (models.Batch, error) {
	timersJSON, err := jsonBytes(timers)
	if err != nil {
		return models.Batch{}, err
	}
	return s.updateBatch(ctx, batchID, `
		UPDATE batches
		SET active_timers_json = $1
		WHERE batch_id = $2
		RETURNING `+batchColumns+`
	`, timersJSON, batchID)
}

func (s *Store) CompleteBatch(ctx context.Context, batchID string, at time.Time) (models.Batch, error) {
	return s.updateBatch(ctx, batchID, `
		UPDATE batches
		SET status = 'completed',
			completed_at = $1,
			active_timers_json = '[]'
		WHERE batch_id = $2
		RETURNING `+batchColumns+`
	`, at, batchID)
}

func (s *Store) updateBatch(ctx context.Context, batchID, query string, args ...interface{}) (models.Batch, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Batch{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, query, args...)
	b, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrBatchNotFound
		}
		return models.Batch{}, err
	}

	if err = insertChangeEvent(ctx, tx, b.OwnerID, "batches", batchID); err != nil {
		return models.Batch{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Batch{}, err
	}
	return b, nil
}

// DeleteBatch removes the row outright. Cancel is a hard delete, not a
// status; a cancelled batch leaves no trace in lists or progress.
func (s *Store) DeleteBatch(ctx context.Context, batchID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var ownerID string
	row := tx.QueryRow(ctx, `
		DELETE FROM batches
		WHERE batch_id = $1
		RETURNING owner_id
	`, batchID)
	if err = row.Scan(&ownerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrBatchNotFound
		}
		return err
	}

	if err = insertChangeEvent(ctx, tx, ownerID, "batches", batchID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const noticeColumns = `notice_id, owner_id, actor_id, kind, message, entry_id, created_at, resolved_at`

func (s *Store) CreateNotice(ctx context.Context, n models.Notice) (models.Notice, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Notice{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if n.NoticeID == "" {
		n.NoticeID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO notices (notice_id, owner_id, actor_id, kind, message, entry_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, n.NoticeID, n.OwnerID, n.ActorID, n.Kind, n.Message, nullIfEmpty(n.EntryID), n.CreatedAt)
	if err != nil {
		return models.Notice{}, err
	}

	if err = insertChangeEvent(ctx, tx, n.OwnerID, "notices", n.NoticeID); err != nil {
		return models.Notice{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Notice{}, err
	}
	return n, nil
}

func (s *Store) ListOpenNotices(ctx context.Context, actorID string) ([]models.Notice, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+noticeColumns+`
		FROM notices
		WHERE actor_id = $1 AND resolved_at IS NULL
		ORDER BY created_at ASC
	`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notices []models.Notice
	for rows.Next() {
		n, err := scanNotice(rows)
		if err != nil {
			return nil, err
		}
		notices = append(notices, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return notices, nil
}

func (s *Store) ResolveNotice(ctx context.Context, noticeID string, at time.Time) (models.Notice, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Notice{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `
		UPDATE notices
		SET resolved_at = $1
		WHERE notice_id = $2 AND resolved_at IS NULL
		RETURNING `+noticeColumns+`
	`, at, noticeID)
	n, err := scanNotice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrNoticeNotFound
		}
		return models.Notice{}, err
	}

	if err = insertChangeEvent(ctx, tx, n.OwnerID, "notices", noticeID); err != nil {
		return models.Notice{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Notice{}, err
	}
	return n, nil
}

func (s *Store) ListChangeEvents(ctx context.Context, after time.Time, afterID string, limit int) ([]store.ChangeEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	if afterID == "" {
		afterID = uuid.Nil.String()
	}
	query := `
		SELECT event_id, owner_id, table_name, entity_id, created_at
		FROM change_events
	`
	args := []interface{}{}
	if !after.IsZero() {
		// event_id breaks timestamp ties so events sharing the cursor
		// timestamp are not skipped on the next poll.
		query += " WHERE (created_at, event_id) > ($1, $2::uuid)"
		args = append(args, after, afterID)
		query += " ORDER BY created_at ASC, event_id ASC LIMIT $3"
		args = append(args, limit)
	} else {
		query += " ORDER BY created_at ASC, event_id ASC LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.ChangeEvent
	for rows.Next() {
		var event store.ChangeEvent
		if err := rows.Scan(&event.EventID, &event.OwnerID, &event.Table, &event.EntityID, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func insertChangeEvent(ctx context.Context, tx pgx.Tx, ownerID, table, entityID string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO change_events (event_id, owner_id, table_name, entity_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), ownerID, table, entityID, time.Now().UTC())
	return err
}

func scanMembership(row pgx.Row) (models.Membership, error) {
	var m models.Membership
	var deviceNameNull sql.NullString
	var emailNull sql.NullString
	var lastActiveNull sql.NullTime
	if err := row.Scan(&m.MembershipID, &m.OwnerID, &m.ActorID, &m.Role, &m.RequireClockIn, &m.AllowAnytimeAccess, &m.AllowRemoteClockIn, &deviceNameNull, &emailNull, &lastActiveNull); err != nil {
		return models.Membership{}, err
	}
	if deviceNameNull.Valid {
		m.DeviceName = deviceNameNull.String
	}
	if emailNull.Valid {
		m.Email = emailNull.String
	}
	if lastActiveNull.Valid {
		m.LastActive = lastActiveNull.Time
	}
	return m, nil
}

func scanTimeEntry(row pgx.Row) (models.TimeEntry, error) {
	var entry models.TimeEntry
	var shiftIDNull sql.NullString
	var clockOutNull sql.NullTime
	var editedByNull sql.NullString
	var editedAtNull sql.NullTime
	var editReasonNull sql.NullString
	if err := row.Scan(&entry.EntryID, &entry.ActorID, &entry.OwnerID, &shiftIDNull, &entry.ClockIn, &clockOutNull, &editedByNull, &editedAtNull, &editReasonNull); err != nil {
		return models.TimeEntry{}, err
	}
	entry.ShiftID = nullStringPtr(shiftIDNull)
	entry.ClockOut = nullTimePtr(clockOutNull)
	entry.EditedBy = nullStringPtr(editedByNull)
	entry.EditedAt = nullTimePtr(editedAtNull)
	if editReasonNull.Valid {
		entry.EditReason = editReasonNull.String
	}
	return entry, nil
}

func scanShift(row pgx.Row) (models.Shift, error) {
	var shift models.Shift
	var roleNull sql.NullString
	var notesNull sql.NullString
	if err := row.Scan(&shift.ShiftID, &shift.OwnerID, &shift.AssigneeID, &shift.Date, &shift.StartTime, &shift.EndTime, &roleNull, &notesNull, &shift.Status); err != nil {
		return models.Shift{}, err
	}
	if roleNull.Valid {
		shift.Role = roleNull.String
	}
	if notesNull.Valid {
		shift.Notes = notesNull.String
	}
	return shift, nil
}

func scanWorkflow(row pgx.Row) (models.Workflow, error) {
	var wf models.Workflow
	var stepsJSON []byte
	var claimedByNull sql.NullString
	var claimedByNameNull sql.NullString
	if err := row.Scan(&wf.WorkflowID, &wf.OwnerID, &wf.Name, &stepsJSON, &claimedByNull, &claimedByNameNull, &wf.CreatedAt); err != nil {
		return models.Workflow{}, err
	}
	if len(stepsJSON) > 0 {
		if err := json.Unmarshal(stepsJSON, &wf.Steps); err != nil {
			return models.Workflow{}, err
		}
	}
	wf.ClaimedBy = nullStringPtr(claimedByNull)
	wf.ClaimedByName = nullStringPtr(claimedByNameNull)
	return wf, nil
}

func scanBatch(row pgx.Row) (models.Batch, error) {
	var b models.Batch
	var completedJSON []byte
	var timersJSON []byte
	var claimedByNull sql.NullString
	var claimedByNameNull sql.NullString
	var completedAtNull sql.NullTime
	if err := row.Scan(&b.BatchID, &b.OwnerID, &b.WorkflowID, &b.Name, &b.Status, &b.CurrentStepIndex, &completedJSON, &b.BatchSizeMultiplier, &timersJSON, &claimedByNull, &claimedByNameNull, &b.ScheduledFor, &b.CreatedAt, &completedAtNull); err != nil {
		return models.Batch{}, err
	}
	if len(completedJSON) > 0 {
		if err := json.Unmarshal(completedJSON, &b.CompletedSteps); err != nil {
			return models.Batch{}, err
		}
	}
	if len(timersJSON) > 0 {
		if err := json.Unmarshal(timersJSON, &b.ActiveTimers); err != nil {
			return models.Batch{}, err
		}
	}
	b.ClaimedBy = nullStringPtr(claimedByNull)
	b.ClaimedByName = nullStringPtr(claimedByNameNull)
	b.CompletedAt = nullTimePtr(completedAtNull)
	return b, nil
}

func scanNotice(row pgx.Row) (models.Notice, error) {
	var n models.Notice
	var entryIDNull sql.NullString
	var resolvedAtNull sql.NullTime
	if err := row.Scan(&n.NoticeID, &n.OwnerID, &n.ActorID, &n.Kind, &n.Message, &entryIDNull, &n.CreatedAt, &resolvedAtNull); err != nil {
		return models.Notice{}, err
	}
	if entryIDNull.Valid {
		n.EntryID = entryIDNull.String
	}
	n.ResolvedAt = nullTimePtr(resolvedAtNull)
	return n, nil
}

func jsonBytes(value interface{}) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value time.Time) interface{} {
	if value.IsZero() {
		return nil
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	s := value.String
	return &s
}
