package models

import "time"

// Actor identifies the person performing an operation. It is passed
// explicitly into every claim and clock call; there is no ambient
// "current device" state.
type Actor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type Membership struct {
	MembershipID       string    `json:"membership_id"`
	OwnerID            string    `json:"owner_id"`
	ActorID            string    `json:"actor_id"`
	Role               string    `json:"role"`
	RequireClockIn     bool      `json:"require_clock_in"`
	AllowAnytimeAccess bool      `json:"allow_anytime_access"`
	AllowRemoteClockIn bool      `json:"allow_remote_clock_in"`
	DeviceName         string    `json:"device_name,omitempty"`
	Email              string    `json:"email,omitempty"`
	LastActive         time.Time `json:"last_active"`
}

const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)
