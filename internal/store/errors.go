package store

import "errors"

var (
	ErrMembershipNotFound = errors.New("membership not found")
	ErrTimeEntryNotFound  = errors.New("time entry not found")
	ErrShiftNotFound      = errors.New("shift not found")
	ErrWorkflowNotFound   = errors.New("workflow not found")
	ErrBatchNotFound      = errors.New("batch not found")
	ErrNoticeNotFound     = errors.New("notice not found")
	ErrInvalidState       = errors.New("invalid state for this action")
	ErrValidation         = errors.New("validation failed")
	ErrBatchCompleted     = errors.New("batch already completed")
)
