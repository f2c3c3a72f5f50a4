// Package presence reconstructs "who is doing what, right now" from
// batch, workflow, and membership rows. Sessions are derived on every
// pass and never persisted, so the view cannot drift from the store.
package presence

import (
	"time"

	"batchmaker/internal/models"
)

// Snapshot is the store state one aggregation pass runs over.
type Snapshot struct {
	Batches     []models.Batch
	Workflows   []models.Workflow
	Memberships []models.Membership
}

type Aggregator struct {
	// IdleThreshold separates idle from offline for actors whose only
	// signal is membership last_active. Zero means the 5 minute default.
	IdleThreshold time.Duration
}

func (a Aggregator) idleThreshold() time.Duration {
	if a.IdleThreshold <= 0 {
		return 5 * time.Minute
	}
	return a.IdleThreshold
}

// Aggregate merges the snapshot's signals into one session per actor:
//
//  1. every open batch yields a working session keyed by its claimant,
//     with unclaimed batches pooled under the sentinel bucket
//  2. claimed but unstarted workflows yield idle "assigned" sessions
//  3. remaining memberships yield idle or offline sessions from
//     last_active
//  4. the viewer always gets a session, even if nothing else produced
//     one for them
//
// viewerID may be empty when aggregating for broadcast rather than for
// a particular viewer; rule 4 is skipped in that case.
func (a Aggregator) Aggregate(snap Snapshot, viewerID string, now time.Time) []models.Session {
	members := make(map[string]models.Membership, len(snap.Memberships))
	for _, m := range snap.Memberships {
		members[m.ActorID] = m
	}
	workflowNames := make(map[string]string, len(snap.Workflows))
	for _, w := range snap.Workflows {
		workflowNames[w.WorkflowID] = w.Name
	}

	var sessions []models.Session
	seen := make(map[string]bool)

	for _, b := range snap.Batches {
		if b.CompletedAt != nil {
			continue
		}
		key := models.UnclaimedKey
		var claimedName *string
		if b.ClaimedBy != nil && *b.ClaimedBy != "" {
			key = *b.ClaimedBy
			claimedName = b.ClaimedByName
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		s := models.Session{
			ActorID:      key,
			DisplayName:  a.displayName(key, claimedName, members, viewerID),
			Status:       models.SessionWorking,
			WorkflowID:   b.WorkflowID,
			WorkflowName: workflowNames[b.WorkflowID],
			BatchID:      b.BatchID,
			BatchName:    b.Name,
			StepIndex:    b.CurrentStepIndex,
		}
		if key == models.UnclaimedKey {
			s.DisplayName = "Unclaimed"
		}
		if m, ok := members[key]; ok {
			s.LastHeartbeat = m.LastActive
		}
		sessions = append(sessions, s)
	}

	for _, w := range snap.Workflows {
		if w.ClaimedBy == nil || *w.ClaimedBy == "" || seen[*w.ClaimedBy] {
			continue
		}
		key := *w.ClaimedBy
		seen[key] = true
		s := models.Session{
			ActorID:      key,
			DisplayName:  a.displayName(key, w.ClaimedByName, members, viewerID),
			Status:       models.SessionIdle,
			WorkflowID:   w.WorkflowID,
			WorkflowName: w.Name,
			Assigned:     true,
		}
		if m, ok := members[key]; ok {
			s.LastHeartbeat = m.LastActive
		}
		sessions = append(sessions, s)
	}

	for _, m := range snap.Memberships {
		if seen[m.ActorID] {
			continue
		}
		seen[m.ActorID] = true
		status := models.SessionOffline
		if now.Sub(m.LastActive) < a.idleThreshold() {
			status = models.SessionIdle
		}
		sessions = append(sessions, models.Session{
			ActorID:       m.ActorID,
			DisplayName:   a.displayName(m.ActorID, nil, members, viewerID),
			Status:        status,
			LastHeartbeat: m.LastActive,
		})
	}

	if viewerID != "" && !seen[viewerID] {
		sessions = append(sessions, models.Session{
			ActorID:     viewerID,
			DisplayName: "You",
			Status:      models.SessionIdle,
		})
	}

	return sessions
}

// displayName resolves in order: explicit claimed_by_name, membership
// device name, membership email, then "Unknown" ("You" for the viewer).
func (a Aggregator) displayName(actorID string, claimedName *string, members map[string]models.Membership, viewerID string) string {
	if claimedName != nil && *claimedName != "" {
		return *claimedName
	}
	if m, ok := members[actorID]; ok {
		if m.DeviceName != "" {
			return m.DeviceName
		}
		if m.Email != "" {
			return m.Email
		}
	}
	if actorID == viewerID {
		return "You"
	}
	return "Unknown"
}

// GroupByClaimant buckets open batches for the active-work view. The
// unclaimed bucket is rendered distinctly and offers a claim action
// instead of an open action.
func GroupByClaimant(batches []models.Batch) map[string][]models.Batch {
	groups := make(map[string][]models.Batch)
	for _, b := range batches {
		if b.CompletedAt != nil {
			continue
		}
		key := models.UnclaimedKey
		if b.ClaimedBy != nil && *b.ClaimedBy != "" {
			key = *b.ClaimedBy
		}
		groups[key] = append(groups[key], b)
	}
	return groups
}
