package models

import "time"

// Session is a derived presence record. It is recomputed from batch,
// workflow, and membership rows on every aggregation pass and never
// persisted.
type Session struct {
	ActorID       string    `json:"actor_id"`
	DisplayName   string    `json:"display_name"`
	Status        string    `json:"status"`
	WorkflowID    string    `json:"workflow_id,omitempty"`
	WorkflowName  string    `json:"workflow_name,omitempty"`
	BatchID       string    `json:"batch_id,omitempty"`
	BatchName     string    `json:"batch_name,omitempty"`
	StepIndex     int       `json:"step_index,omitempty"`
	Assigned      bool      `json:"assigned,omitempty"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

const (
	SessionWorking = "working"
	SessionIdle    = "idle"
	SessionOffline = "offline"
)

// UnclaimedKey is the bucket actor id used for open batches nobody has
// claimed. The UI renders it distinctly and offers a claim action.
const UnclaimedKey = "unclaimed"
