package access

import (
	"testing"
	"time"

	"batchmaker/internal/models"
)

func TestDecide(t *testing.T) {
	open := &models.TimeEntry{ActorID: "actor-1", OwnerID: "owner-1", ClockIn: time.Now()}
	closedAt := time.Now()
	closed := &models.TimeEntry{ActorID: "actor-1", OwnerID: "owner-1", ClockOut: &closedAt}

	cases := []struct {
		name       string
		actorID    string
		ownerID    string
		membership *models.Membership
		entry      *models.TimeEntry
		allowed    bool
		reason     string
	}{
		{
			name:    "owner accesses own data without membership",
			actorID: "owner-1", ownerID: "owner-1",
			allowed: true,
		},
		{
			name:    "no membership",
			actorID: "actor-1", ownerID: "owner-1",
			allowed: false, reason: ReasonNotMember,
		},
		{
			name:    "anytime access ignores clock state",
			actorID: "actor-1", ownerID: "owner-1",
			membership: &models.Membership{RequireClockIn: true, AllowAnytimeAccess: true},
			allowed:    true,
		},
		{
			name:    "clock-in not required",
			actorID: "actor-1", ownerID: "owner-1",
			membership: &models.Membership{RequireClockIn: false},
			allowed:    true,
		},
		{
			name:    "clock-in required and clocked in",
			actorID: "actor-1", ownerID: "owner-1",
			membership: &models.Membership{RequireClockIn: true},
			entry:      open,
			allowed:    true,
		},
		{
			name:    "clock-in required and not clocked in",
			actorID: "actor-1", ownerID: "owner-1",
			membership: &models.Membership{RequireClockIn: true},
			allowed:    false, reason: ReasonMustClockIn,
		},
		{
			name:    "closed entry does not count",
			actorID: "actor-1", ownerID: "owner-1",
			membership: &models.Membership{RequireClockIn: true},
			entry:      closed,
			allowed:    false, reason: ReasonMustClockIn,
		},
	}

	for _, tt := range cases {
		got := Decide(tt.actorID, tt.ownerID, tt.membership, tt.entry)
		if got.Allowed != tt.allowed || got.Reason != tt.reason {
			t.Fatalf("%s: Decide=%+v, want allowed=%v reason=%q", tt.name, got, tt.allowed, tt.reason)
		}
	}
}

func TestDecideAnytimeAccessIgnoresClockStateForAllEntries(t *testing.T) {
	m := &models.Membership{RequireClockIn: true, AllowAnytimeAccess: true}
	for _, entry := range []*models.TimeEntry{nil, {ActorID: "a", OwnerID: "o"}} {
		if got := Decide("a", "o", m, entry); !got.Allowed {
			t.Fatalf("anytime access denied with entry=%v", entry)
		}
	}
}

func TestVisibleOwner(t *testing.T) {
	if got := VisibleOwner("actor-1", "owner-9"); got != "owner-9" {
		t.Fatalf("VisibleOwner with active owner = %q, want owner-9", got)
	}
	if got := VisibleOwner("actor-1", ""); got != "actor-1" {
		t.Fatalf("VisibleOwner without active owner = %q, want actor-1", got)
	}
}
