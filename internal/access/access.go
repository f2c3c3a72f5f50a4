// Package access decides whether an actor may see or act on an owner's
// data. The decision is pure: callers look up the membership and open
// time entry and pass them in.
package access

import "batchmaker/internal/models"

type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

const (
	ReasonNotMember   = "not a member"
	ReasonMustClockIn = "must clock in"
)

// Decide evaluates the access rules in order, first match wins:
//
//  1. actors always access their own owner id
//  2. no membership -> deny
//  3. anytime access -> allow
//  4. clock-in not required -> allow
//  5. allow iff an open time entry exists for (actor, owner)
//
// membership and openEntry are nil when no matching row exists.
func Decide(actorID, ownerID string, membership *models.Membership, openEntry *models.TimeEntry) Decision {
	if actorID == ownerID {
		return Decision{Allowed: true}
	}
	if membership == nil {
		return Decision{Reason: ReasonNotMember}
	}
	if membership.AllowAnytimeAccess {
		return Decision{Allowed: true}
	}
	if !membership.RequireClockIn {
		return Decision{Allowed: true}
	}
	if openEntry != nil && openEntry.Open() {
		return Decision{Allowed: true}
	}
	return Decision{Reason: ReasonMustClockIn}
}

// VisibleOwner returns the owner id whose records the actor may list.
// A clocked-in actor sees only the active owner's records; otherwise
// they see their own. This filter is stricter than Decide and layered
// on top of it.
func VisibleOwner(actorID, activeOwnerID string) string {
	if activeOwnerID != "" {
		return activeOwnerID
	}
	return actorID
}
