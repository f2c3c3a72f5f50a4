// Package batch holds the pure per-batch execution rules: status
// transitions, step progress, and concurrent timers. Nothing here
// touches the store; callers persist the returned copies.
package batch

import (
	"errors"
	"time"

	"batchmaker/internal/models"

	"github.com/google/uuid"
)

var (
	ErrBatchCompleted = errors.New("batch already completed")
	ErrTimerNotFound  = errors.New("timer not found")
	ErrNoStep         = errors.New("no step at index")
)

var transitionMap = map[string][]string{
	"start":    {models.BatchNotStarted},
	"complete": {models.BatchInProgress},
	// cancel is a hard delete, not a status; it is listed here so the
	// coordinator can refuse cancelling an already-completed batch.
	"cancel": {models.BatchNotStarted, models.BatchInProgress},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// AdvanceStep moves the current step index forward by one. There is no
// backward transition; revisiting a step is not part of this design.
// stepCount is the workflow's step count and caps the index.
func AdvanceStep(b models.Batch, stepCount int) (models.Batch, error) {
	if b.CompletedAt != nil {
		return b, ErrBatchCompleted
	}
	if b.CurrentStepIndex+1 >= stepCount {
		return b, ErrNoStep
	}
	b.CurrentStepIndex++
	return b, nil
}

// CompleteStep adds the step id to the completed set. The set is
// independent of the current index, so out-of-order completion is
// allowed. Idempotent.
func CompleteStep(b models.Batch, stepID string) (models.Batch, error) {
	if b.CompletedAt != nil {
		return b, ErrBatchCompleted
	}
	if b.StepCompleted(stepID) {
		return b, nil
	}
	steps := make([]string, 0, len(b.CompletedSteps)+1)
	steps = append(steps, b.CompletedSteps...)
	b.CompletedSteps = append(steps, stepID)
	return b, nil
}

// StartTimer appends a running timer to the batch. There is no cap on
// concurrent timers.
func StartTimer(b models.Batch, stepID string, minutes int, now time.Time) (models.Batch, models.Timer, error) {
	if b.CompletedAt != nil {
		return b, models.Timer{}, ErrBatchCompleted
	}
	t := models.Timer{
		TimerID:         uuid.NewString(),
		StepID:          stepID,
		StartedAt:       now,
		DurationSeconds: minutes * 60,
	}
	timers := make([]models.Timer, 0, len(b.ActiveTimers)+1)
	timers = append(timers, b.ActiveTimers...)
	b.ActiveTimers = append(timers, t)
	return b, t, nil
}

// AcknowledgeTimer flags a timer without removing it; an expired timer
// stays visible until explicitly stopped.
func AcknowledgeTimer(b models.Batch, timerID string) (models.Batch, error) {
	timers := make([]models.Timer, len(b.ActiveTimers))
	copy(timers, b.ActiveTimers)
	for i := range timers {
		if timers[i].TimerID == timerID {
			timers[i].Acknowledged = true
			b.ActiveTimers = timers
			return b, nil
		}
	}
	return b, ErrTimerNotFound
}

// StopTimer removes a timer. Immediate and irreversible.
func StopTimer(b models.Batch, timerID string) (models.Batch, error) {
	timers := make([]models.Timer, 0, len(b.ActiveTimers))
	found := false
	for _, t := range b.ActiveTimers {
		if t.TimerID == timerID {
			found = true
			continue
		}
		timers = append(timers, t)
	}
	if !found {
		return b, ErrTimerNotFound
	}
	b.ActiveTimers = timers
	return b, nil
}
