package presence

import (
	"testing"
	"time"

	"batchmaker/internal/models"
)

var now = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func TestAggregateWorkingAndIdleSessions(t *testing.T) {
	snap := Snapshot{
		Batches: []models.Batch{{
			BatchID:          "batch-1",
			WorkflowID:       "wf-1",
			Name:             "Morning sourdough",
			Status:           models.BatchInProgress,
			CurrentStepIndex: 2,
			ClaimedBy:        strPtr("actor-a"),
			ClaimedByName:    strPtr("Alice"),
		}},
		Workflows: []models.Workflow{{WorkflowID: "wf-1", Name: "Sourdough"}},
		Memberships: []models.Membership{
			{ActorID: "actor-a", DeviceName: "Alice's tablet", LastActive: now.Add(-time.Minute)},
			{ActorID: "actor-b", DeviceName: "Counter iPad", LastActive: now.Add(-2 * time.Minute)},
		},
	}

	sessions := Aggregator{}.Aggregate(snap, "", now)
	if len(sessions) != 2 {
		t.Fatalf("sessions=%d, want 2: %+v", len(sessions), sessions)
	}

	bySessions := map[string]models.Session{}
	for _, s := range sessions {
		bySessions[s.ActorID] = s
	}

	a := bySessions["actor-a"]
	if a.Status != models.SessionWorking || a.WorkflowName != "Sourdough" || a.StepIndex != 2 {
		t.Fatalf("working session=%+v, want Sourdough step 2", a)
	}
	if a.DisplayName != "Alice" {
		t.Fatalf("display=%q, claimed_by_name must win", a.DisplayName)
	}

	b := bySessions["actor-b"]
	if b.Status != models.SessionIdle {
		t.Fatalf("actor-b status=%q, want idle at 2 minutes since last_active", b.Status)
	}
}

func TestAggregateOfflineAfterThreshold(t *testing.T) {
	snap := Snapshot{
		Memberships: []models.Membership{
			{ActorID: "actor-b", DeviceName: "Counter iPad", LastActive: now.Add(-6 * time.Minute)},
		},
	}
	sessions := Aggregator{}.Aggregate(snap, "", now)
	if len(sessions) != 1 || sessions[0].Status != models.SessionOffline {
		t.Fatalf("sessions=%+v, want one offline", sessions)
	}
}

func TestAggregateUnclaimedBucket(t *testing.T) {
	snap := Snapshot{
		Batches: []models.Batch{{BatchID: "batch-1", WorkflowID: "wf-1", Status: models.BatchInProgress}},
	}
	sessions := Aggregator{}.Aggregate(snap, "", now)
	if len(sessions) != 1 {
		t.Fatalf("sessions=%d, want 1", len(sessions))
	}
	if sessions[0].ActorID != models.UnclaimedKey || sessions[0].DisplayName != "Unclaimed" {
		t.Fatalf("session=%+v, want the unclaimed bucket", sessions[0])
	}
}

func TestAggregateAssignedWorkflowWithoutBatch(t *testing.T) {
	snap := Snapshot{
		Workflows: []models.Workflow{{
			WorkflowID:    "wf-1",
			Name:          "Croissants",
			ClaimedBy:     strPtr("actor-c"),
			ClaimedByName: strPtr("Cam"),
		}},
	}
	sessions := Aggregator{}.Aggregate(snap, "", now)
	if len(sessions) != 1 {
		t.Fatalf("sessions=%d, want 1", len(sessions))
	}
	s := sessions[0]
	if s.Status != models.SessionIdle || !s.Assigned || s.WorkflowName != "Croissants" {
		t.Fatalf("session=%+v, want idle assigned Croissants", s)
	}
}

func TestAggregateBatchSessionShadowsAssignment(t *testing.T) {
	// actor-a both claims a workflow and works an open batch: the
	// working session wins, no duplicate entry.
	snap := Snapshot{
		Batches: []models.Batch{{
			BatchID:    "batch-1",
			WorkflowID: "wf-1",
			Status:     models.BatchInProgress,
			ClaimedBy:  strPtr("actor-a"),
		}},
		Workflows: []models.Workflow{{
			WorkflowID: "wf-1",
			Name:       "Sourdough",
			ClaimedBy:  strPtr("actor-a"),
		}},
	}
	sessions := Aggregator{}.Aggregate(snap, "", now)
	if len(sessions) != 1 || sessions[0].Status != models.SessionWorking {
		t.Fatalf("sessions=%+v, want a single working session", sessions)
	}
}

func TestAggregateViewerAlwaysPresent(t *testing.T) {
	sessions := Aggregator{}.Aggregate(Snapshot{}, "actor-z", now)
	if len(sessions) != 1 {
		t.Fatalf("sessions=%d, want the self session", len(sessions))
	}
	s := sessions[0]
	if s.ActorID != "actor-z" || s.DisplayName != "You" || s.Status != models.SessionIdle {
		t.Fatalf("self session=%+v", s)
	}

	// and it is not duplicated when a signal already covers the viewer
	snap := Snapshot{
		Memberships: []models.Membership{{ActorID: "actor-z", Email: "z@example.com", LastActive: now}},
	}
	sessions = Aggregator{}.Aggregate(snap, "actor-z", now)
	if len(sessions) != 1 {
		t.Fatalf("sessions=%+v, want one entry for the viewer", sessions)
	}
}

func TestDisplayNameResolutionOrder(t *testing.T) {
	members := map[string]models.Membership{
		"with-device": {ActorID: "with-device", DeviceName: "Prep iPad", Email: "prep@example.com"},
		"with-email":  {ActorID: "with-email", Email: "mail@example.com"},
	}
	agg := Aggregator{}

	cases := []struct {
		actorID string
		claimed *string
		viewer  string
		want    string
	}{
		{"with-device", strPtr("Explicit"), "", "Explicit"},
		{"with-device", nil, "", "Prep iPad"},
		{"with-email", nil, "", "mail@example.com"},
		{"stranger", nil, "", "Unknown"},
		{"stranger", nil, "stranger", "You"},
	}
	for _, tt := range cases {
		if got := agg.displayName(tt.actorID, tt.claimed, members, tt.viewer); got != tt.want {
			t.Fatalf("displayName(%q)=%q, want %q", tt.actorID, got, tt.want)
		}
	}
}

func TestGroupByClaimant(t *testing.T) {
	done := now
	batches := []models.Batch{
		{BatchID: "b1", ClaimedBy: strPtr("actor-a")},
		{BatchID: "b2", ClaimedBy: strPtr("actor-a")},
		{BatchID: "b3"},
		{BatchID: "b4", ClaimedBy: strPtr("actor-b"), CompletedAt: &done},
	}
	groups := GroupByClaimant(batches)
	if len(groups["actor-a"]) != 2 {
		t.Fatalf("actor-a batches=%d, want 2", len(groups["actor-a"]))
	}
	if len(groups[models.UnclaimedKey]) != 1 {
		t.Fatalf("unclaimed batches=%d, want 1", len(groups[models.UnclaimedKey]))
	}
	if _, ok := groups["actor-b"]; ok {
		t.Fatal("completed batch must not appear in the active-work view")
	}
}
