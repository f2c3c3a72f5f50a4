package models

import "time"

// Batch is a single execution of a Workflow. CompletedSteps is kept
// independent of CurrentStepIndex: steps may be marked done out of order.
type Batch struct {
	BatchID             string     `json:"batch_id"`
	OwnerID             string     `json:"owner_id"`
	WorkflowID          string     `json:"workflow_id"`
	Name                string     `json:"name"`
	Status              string     `json:"status"`
	CurrentStepIndex    int        `json:"current_step_index"`
	CompletedSteps      []string   `json:"completed_steps"`
	BatchSizeMultiplier float64    `json:"batch_size_multiplier"`
	ActiveTimers        []Timer    `json:"active_timers"`
	ClaimedBy           *string    `json:"claimed_by,omitempty"`
	ClaimedByName       *string    `json:"claimed_by_name,omitempty"`
	ScheduledFor        time.Time  `json:"scheduled_for"`
	CreatedAt           time.Time  `json:"created_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
}

const (
	BatchNotStarted = "not_started"
	BatchInProgress = "in_progress"
	BatchCompleted  = "completed"
)

// StepCompleted reports whether the step id is in the completed set.
func (b Batch) StepCompleted(stepID string) bool {
	for _, id := range b.CompletedSteps {
		if id == stepID {
			return true
		}
	}
	return false
}

// Timer lives only inside a Batch's ActiveTimers. Stopping removes it;
// acknowledging an expired timer only flags it.
type Timer struct {
	TimerID         string    `json:"timer_id"`
	StepID          string    `json:"step_id"`
	StartedAt       time.Time `json:"started_at"`
	DurationSeconds int       `json:"duration_seconds"`
	Acknowledged    bool      `json:"acknowledged"`
}
