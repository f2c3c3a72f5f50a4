package presence

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"batchmaker/internal/models"
)

type SnapshotStore interface {
	ListOpenBatches(ctx context.Context, ownerID string) ([]models.Batch, error)
	ListWorkflows(ctx context.Context, ownerID string) ([]models.Workflow, error)
	ListMemberships(ctx context.Context, ownerID string) ([]models.Membership, error)
}

// Broadcaster is the push side; the hub implements it. OwnerIDs reports
// which owner scopes currently have a subscribed device, so the runner
// only recomputes views somebody is watching.
type Broadcaster interface {
	OwnerIDs() []string
	BroadcastSessions(ownerID string, payload []byte)
}

// Collect fetches a snapshot and aggregates it in one call. The HTTP
// surface uses this for on-demand aggregation.
func Collect(ctx context.Context, s SnapshotStore, agg Aggregator, ownerID, viewerID string, now time.Time) ([]models.Session, error) {
	batches, err := s.ListOpenBatches(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	workflows, err := s.ListWorkflows(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	memberships, err := s.ListMemberships(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	snap := Snapshot{Batches: batches, Workflows: workflows, Memberships: memberships}
	return agg.Aggregate(snap, viewerID, now), nil
}

type sessionsMessage struct {
	Type     string           `json:"type"`
	OwnerID  string           `json:"owner_id"`
	Sessions []models.Session `json:"sessions"`
}

// Runner recomputes presence on a fixed interval and opportunistically
// when Notify is called after a relevant row change. Push is an
// optimization; the interval alone keeps the view correct when no
// change feed is available.
type Runner struct {
	store    SnapshotStore
	agg      Aggregator
	sink     Broadcaster
	interval time.Duration
	notify   chan struct{}
}

func NewRunner(s SnapshotStore, agg Aggregator, sink Broadcaster, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Runner{
		store:    s,
		agg:      agg,
		sink:     sink,
		interval: interval,
		notify:   make(chan struct{}, 1),
	}
}

// Notify requests an out-of-band recomputation. Never blocks; a pass
// already pending absorbs the signal.
func (r *Runner) Notify() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.notify:
		}
		r.pass(ctx)
	}
}

func (r *Runner) pass(ctx context.Context) {
	now := time.Now().UTC()
	for _, ownerID := range r.sink.OwnerIDs() {
		// The pushed view carries no viewer id, so a watcher with no
		// batch, workflow, or membership activity is absent from it.
		// Polling GET /api/sessions injects the viewer on demand.
		sessions, err := Collect(ctx, r.store, r.agg, ownerID, "", now)
		if err != nil {
			log.Printf("presence pass owner=%s: %v", ownerID, err)
			continue
		}
		payload, err := json.Marshal(sessionsMessage{Type: "sessions", OwnerID: ownerID, Sessions: sessions})
		if err != nil {
			log.Printf("presence marshal owner=%s: %v", ownerID, err)
			continue
		}
		r.sink.BroadcastSessions(ownerID, payload)
	}
}
