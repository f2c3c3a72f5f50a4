package models

import "time"

type Workflow struct {
	WorkflowID    string    `json:"workflow_id"`
	OwnerID       string    `json:"owner_id"`
	Name          string    `json:"name"`
	Steps         []Step    `json:"steps"`
	ClaimedBy     *string   `json:"claimed_by,omitempty"`
	ClaimedByName *string   `json:"claimed_by_name,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type Step struct {
	StepID       string `json:"step_id"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	TimerMinutes int    `json:"timer_minutes,omitempty"`
}
