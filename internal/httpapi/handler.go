package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"batchmaker/internal/access"
	"batchmaker/internal/batch"
	"batchmaker/internal/claims"
	"batchmaker/internal/clock"
	"batchmaker/internal/models"
	"batchmaker/internal/presence"
	"batchmaker/internal/store"

	"github.com/google/uuid"
)

type Handler struct {
	store       store.Store
	tracker     *clock.Tracker
	coordinator *claims.Coordinator
	aggregator  presence.Aggregator
}

type Options struct {
	IdleThreshold time.Duration
}

func NewHandler(s store.Store, options Options) *Handler {
	return &Handler{
		store:       s,
		tracker:     clock.New(s),
		coordinator: claims.New(s),
		aggregator:  presence.Aggregator{IdleThreshold: options.IdleThreshold},
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/access/decision", h.handleDecision)
	mux.HandleFunc("/api/access/active-owner", h.handleActiveOwner)
	mux.HandleFunc("/api/clock/in", h.handleClockIn)
	mux.HandleFunc("/api/clock/out", h.handleClockOut)
	mux.HandleFunc("/api/time-entries/", h.handleTimeEntryActions)
	mux.HandleFunc("/api/shifts", h.handleShifts)
	mux.HandleFunc("/api/shifts/", h.handleShiftActions)
	mux.HandleFunc("/api/workflows", h.handleWorkflows)
	mux.HandleFunc("/api/workflows/", h.handleWorkflowActions)
	mux.HandleFunc("/api/batches", h.handleBatches)
	mux.HandleFunc("/api/batches/", h.handleBatchSubroutes)
	mux.HandleFunc("/api/sessions", h.handleSessions)
	mux.HandleFunc("/api/sessions/groups", h.handleSessionGroups)
	mux.HandleFunc("/api/notices", h.handleNotices)
	mux.HandleFunc("/api/notices/", h.handleNoticeActions)
	mux.HandleFunc("/api/memberships", h.handleMemberships)
	return mux
}

// authorize runs the access decision for an actor against an owner
// scope, looking up the membership and open time entry it needs.
func (h *Handler) authorize(ctx context.Context, actorID, ownerID string) (access.Decision, error) {
	var membership *models.Membership
	if m, found, err := h.store.GetMembership(ctx, ownerID, actorID); err != nil {
		return access.Decision{}, err
	} else if found {
		membership = &m
	}
	var openEntry *models.TimeEntry
	if e, found, err := h.store.GetOpenTimeEntry(ctx, actorID, ownerID); err != nil {
		return access.Decision{}, err
	} else if found {
		openEntry = &e
	}
	return access.Decide(actorID, ownerID, membership, openEntry), nil
}

// requireAccess gates a request on the access decision; it writes the
// denial and returns false when the actor may not touch the owner scope.
func (h *Handler) requireAccess(w http.ResponseWriter, r *http.Request, actorID, ownerID string) bool {
	decision, err := h.authorize(r.Context(), actorID, ownerID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return false
	}
	if !decision.Allowed {
		writeError(w, http.StatusForbidden, "policy_denied", decision.Reason)
		return false
	}
	return true
}

// isAdmin reports whether the actor is the owner or holds an
// owner/admin membership for the owner scope.
func (h *Handler) isAdmin(ctx context.Context, actorID, ownerID string) (bool, error) {
	if actorID == ownerID {
		return true, nil
	}
	m, found, err := h.store.GetMembership(ctx, ownerID, actorID)
	if err != nil || !found {
		return false, err
	}
	return m.Role == models.RoleOwner || m.Role == models.RoleAdmin, nil
}

func (h *Handler) handleDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	actorID := strings.TrimSpace(r.URL.Query().Get("actor_id"))
	ownerID := strings.TrimSpace(r.URL.Query().Get("owner_id"))
	if actorID == "" || ownerID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "actor_id and owner_id are required")
		return
	}
	decision, err := h.authorize(r.Context(), actorID, ownerID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (h *Handler) handleActiveOwner(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	actorID := strings.TrimSpace(r.URL.Query().Get("actor_id"))
	if actorID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "actor_id is required")
		return
	}
	ownerID, err := h.tracker.ActiveOwnerFor(r.Context(), actorID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"owner_id": ownerID})
}

type clockInRequest struct {
	ActorID        string `json:"actor_id"`
	ActorName      string `json:"actor_name"`
	OwnerID        string `json:"owner_id"`
	ConfirmNoShift bool   `json:"confirm_no_shift"`
}

func (h *Handler) handleClockIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req clockInRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ActorID = strings.TrimSpace(req.ActorID)
	req.OwnerID = strings.TrimSpace(req.OwnerID)
	if req.ActorID == "" || req.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "actor_id and owner_id are required")
		return
	}

	// Clock-in cannot require an open entry; it only needs membership.
	if req.ActorID != req.OwnerID {
		_, found, err := h.store.GetMembership(r.Context(), req.OwnerID, req.ActorID)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		if !found {
			writeError(w, http.StatusForbidden, "policy_denied", access.ReasonNotMember)
			return
		}
	}

	actor := models.Actor{ID: req.ActorID, DisplayName: strings.TrimSpace(req.ActorName)}
	entry, err := h.tracker.ClockIn(r.Context(), actor, req.OwnerID, req.ConfirmNoShift, time.Now().UTC())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type clockOutRequest struct {
	ActorID string `json:"actor_id"`
	OwnerID string `json:"owner_id"`
}

func (h *Handler) handleClockOut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req clockOutRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ActorID = strings.TrimSpace(req.ActorID)
	req.OwnerID = strings.TrimSpace(req.OwnerID)
	if req.ActorID == "" || req.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "actor_id and owner_id are required")
		return
	}
	entry, err := h.tracker.ClockOut(r.Context(), req.ActorID, req.OwnerID, time.Now().UTC())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type editEntryRequest struct {
	EditorID string  `json:"editor_id"`
	ClockIn  string  `json:"clock_in"`
	ClockOut *string `json:"clock_out"`
	Reason   string  `json:"reason"`
}

func (h *Handler) handleTimeEntryActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	entryID, action, ok := splitAction(r.URL.Path, "/api/time-entries/")
	if !ok || action != "edit" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if !isValidUUID(entryID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "entry id must be a UUID")
		return
	}

	var req editEntryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.EditorID = strings.TrimSpace(req.EditorID)
	if req.EditorID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "editor_id is required")
		return
	}
	clockIn, err := time.Parse(time.RFC3339, req.ClockIn)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "clock_in must be RFC3339")
		return
	}
	var clockOut *time.Time
	if req.ClockOut != nil {
		parsed, err := time.Parse(time.RFC3339, *req.ClockOut)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "clock_out must be RFC3339")
			return
		}
		clockOut = &parsed
	}

	entry, found, err := h.store.GetTimeEntry(r.Context(), entryID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "time_entry_not_found", "time entry not found")
		return
	}
	admin, err := h.isAdmin(r.Context(), req.EditorID, entry.OwnerID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if !admin {
		writeError(w, http.StatusForbidden, "policy_denied", "only an admin may edit clock data")
		return
	}

	edited, err := h.tracker.EditEntry(r.Context(), entryID, models.Actor{ID: req.EditorID}, clockIn, clockOut, req.Reason, time.Now().UTC())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, edited)
}

type createShiftRequest struct {
	ActorID    string `json:"actor_id"`
	OwnerID    string `json:"owner_id"`
	AssigneeID string `json:"assignee_id"`
	Date       string `json:"date"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Role       string `json:"role"`
	Notes      string `json:"notes"`
}

func (h *Handler) handleShifts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		ownerID := strings.TrimSpace(r.URL.Query().Get("owner_id"))
		actorID := strings.TrimSpace(r.URL.Query().Get("actor_id"))
		date := strings.TrimSpace(r.URL.Query().Get("date"))
		if ownerID == "" || actorID == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "owner_id and actor_id are required")
			return
		}
		if !h.requireAccess(w, r, actorID, ownerID) {
			return
		}
		shifts, err := h.store.ListShifts(r.Context(), ownerID, date)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, shifts)
	case http.MethodPost:
		var req createShiftRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		req.ActorID = strings.TrimSpace(req.ActorID)
		req.OwnerID = strings.TrimSpace(req.OwnerID)
		req.AssigneeID = strings.TrimSpace(req.AssigneeID)
		req.Date = strings.TrimSpace(req.Date)
		if req.ActorID == "" || req.OwnerID == "" || req.AssigneeID == "" || req.Date == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "actor_id, owner_id, assignee_id, and date are required")
			return
		}
		start, err := time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "start_time must be RFC3339")
			return
		}
		end, err := time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "end_time must be RFC3339")
			return
		}
		if !end.After(start) {
			writeError(w, http.StatusBadRequest, "validation_failed", "end_time must be after start_time")
			return
		}
		admin, err := h.isAdmin(r.Context(), req.ActorID, req.OwnerID)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		if !admin {
			writeError(w, http.StatusForbidden, "policy_denied", "only an admin may schedule shifts")
			return
		}
		shift, err := h.store.CreateShift(r.Context(), store.CreateShiftInput{
			OwnerID:    req.OwnerID,
			AssigneeID: req.AssigneeID,
			Date:       req.Date,
			StartTime:  start,
			EndTime:    end,
			Role:       strings.TrimSpace(req.Role),
			Notes:      strings.TrimSpace(req.Notes),
		})
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, shift)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type actorRequest struct {
	ActorID   string `json:"actor_id"`
	ActorName string `json:"actor_name"`
}

func (h *Handler) handleShiftActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	shiftID, action, ok := splitAction(r.URL.Path, "/api/shifts/")
	if !ok || action != "cancel" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if !isValidUUID(shiftID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "shift id must be a UUID")
		return
	}
	var req actorRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ActorID = strings.TrimSpace(req.ActorID)
	if req.ActorID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "actor_id is required")
		return
	}

	shift, found, err := h.store.GetShift(r.Context(), shiftID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "shift_not_found", "shift not found")
		return
	}
	admin, err := h.isAdmin(r.Context(), req.ActorID, shift.OwnerID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if !admin {
		writeError(w, http.StatusForbidden, "policy_denied", "only an admin may cancel shifts")
		return
	}
	// scheduled -> cancelled is the only path into cancelled
	if shift.Status != models.ShiftScheduled {
		writeError(w, http.StatusConflict, "invalid_state", "only a scheduled shift can be cancelled")
		return
	}
	updated, err := h.store.UpdateShiftStatus(r.Context(), shiftID, models.ShiftCancelled, nil)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleWorkflows lists the workflows the actor may currently see:
// the active owner's when clocked in, otherwise the actor's own.
func (h *Handler) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	actorID := strings.TrimSpace(r.URL.Query().Get("actor_id"))
	if actorID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "actor_id is required")
		return
	}
	ownerID, err := h.visibleOwner(r.Context(), actorID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if !h.requireAccess(w, r, actorID, ownerID) {
		return
	}
	workflows, err := h.store.ListWorkflows(r.Context(), ownerID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, workflows)
}

func (h *Handler) visibleOwner(ctx context.Context, actorID string) (string, error) {
	activeOwner, err := h.tracker.ActiveOwnerFor(ctx, actorID)
	if err != nil {
		return "", err
	}
	return access.VisibleOwner(actorID, activeOwner), nil
}

type createBatchRequest struct {
	ActorID             string  `json:"actor_id"`
	OwnerID             string  `json:"owner_id"`
	WorkflowID          string  `json:"workflow_id"`
	Name                string  `json:"name"`
	BatchSizeMultiplier float64 `json:"batch_size_multiplier"`
	ScheduledFor        string  `json:"scheduled_for"`
}

func (h *Handler) handleBatches(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		actorID := strings.TrimSpace(r.URL.Query().Get("actor_id"))
		if actorID == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "actor_id is required")
			return
		}
		ownerID, err := h.visibleOwner(r.Context(), actorID)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		if !h.requireAccess(w, r, actorID, ownerID) {
			return
		}
		batches, err := h.store.ListBatches(r.Context(), ownerID)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, batches)
	case http.MethodPost:
		var req createBatchRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		req.ActorID = strings.TrimSpace(req.ActorID)
		req.OwnerID = strings.TrimSpace(req.OwnerID)
		req.WorkflowID = strings.TrimSpace(req.WorkflowID)
		req.Name = strings.TrimSpace(req.Name)
		if req.ActorID == "" || req.OwnerID == "" || req.WorkflowID == "" || req.Name == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "actor_id, owner_id, workflow_id, and name are required")
			return
		}
		if !isValidUUID(req.WorkflowID) {
			writeError(w, http.StatusBadRequest, "invalid_request", "workflow_id must be a UUID")
			return
		}
		if req.BatchSizeMultiplier <= 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "batch_size_multiplier must be positive")
			return
		}
		scheduledFor := time.Now().UTC()
		if strings.TrimSpace(req.ScheduledFor) != "" {
			parsed, err := time.Parse(time.RFC3339, req.ScheduledFor)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", "scheduled_for must be RFC3339")
				return
			}
			scheduledFor = parsed
		}
		if !h.requireAccess(w, r, req.ActorID, req.OwnerID) {
			return
		}
		if _, found, err := h.store.GetWorkflow(r.Context(), req.WorkflowID); err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		} else if !found {
			writeError(w, http.StatusNotFound, "workflow_not_found", "workflow not found")
			return
		}
		created, err := h.store.CreateBatch(r.Context(), store.CreateBatchInput{
			OwnerID:             req.OwnerID,
			WorkflowID:          req.WorkflowID,
			Name:                req.Name,
			BatchSizeMultiplier: req.BatchSizeMultiplier,
			ScheduledFor:        scheduledFor,
			CreatedAt:           time.Now().UTC(),
		})
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, created)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleWorkflowActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/workflows/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[1] != "actions" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	workflowID, action := parts[0], parts[2]
	if !isValidUUID(workflowID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "workflow id must be a UUID")
		return
	}

	wf, found, err := h.store.GetWorkflow(r.Context(), workflowID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "workflow_not_found", "workflow not found")
		return
	}

	switch action {
	case "claim", "release", "assign", "unassign":
		h.handleClaimAction(w, r, claims.KindWorkflow, workflowID, wf.OwnerID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type assignRequest struct {
	ActorID    string `json:"actor_id"`
	TargetID   string `json:"target_id"`
	TargetName string `json:"target_name"`
}

// handleClaimAction runs one of the four claim operations against a
// workflow or batch. Each is a single unconditional write; concurrent
// claimers race and the store's last write wins.
func (h *Handler) handleClaimAction(w http.ResponseWriter, r *http.Request, kind, entityID, ownerID string) {
	action := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

	var err error
	switch action {
	case "claim":
		var req actorRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		req.ActorID = strings.TrimSpace(req.ActorID)
		if req.ActorID == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "actor_id is required")
			return
		}
		if !h.requireAccess(w, r, req.ActorID, ownerID) {
			return
		}
		err = h.coordinator.Claim(r.Context(), kind, entityID, models.Actor{ID: req.ActorID, DisplayName: strings.TrimSpace(req.ActorName)})
	case "release":
		var req actorRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		req.ActorID = strings.TrimSpace(req.ActorID)
		if req.ActorID == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "actor_id is required")
			return
		}
		if !h.requireAccess(w, r, req.ActorID, ownerID) {
			return
		}
		err = h.coordinator.Release(r.Context(), kind, entityID)
	case "assign":
		var req assignRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		req.ActorID = strings.TrimSpace(req.ActorID)
		req.TargetID = strings.TrimSpace(req.TargetID)
		if req.ActorID == "" || req.TargetID == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "actor_id and target_id are required")
			return
		}
		if !h.requireAccess(w, r, req.ActorID, ownerID) {
			return
		}
		err = h.coordinator.Assign(r.Context(), kind, entityID, models.Actor{ID: req.TargetID, DisplayName: strings.TrimSpace(req.TargetName)})
	case "unassign":
		var req actorRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		req.ActorID = strings.TrimSpace(req.ActorID)
		if req.ActorID == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "actor_id is required")
			return
		}
		if !h.requireAccess(w, r, req.ActorID, ownerID) {
			return
		}
		err = h.coordinator.Unassign(r.Context(), kind, entityID)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	// return the fresh row so the caller can refresh immediately and
	// shrink the visible race window
	switch kind {
	case claims.KindWorkflow:
		wf, _, err := h.store.GetWorkflow(r.Context(), entityID)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, wf)
	default:
		b, _, err := h.store.GetBatch(r.Context(), entityID)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

func (h *Handler) handleBatchSubroutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/batches/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case len(parts) == 3 && parts[1] == "actions":
		h.handleBatchAction(w, r, parts[0], parts[2])
	case len(parts) == 2 && parts[1] == "timers":
		h.handleStartTimer(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "timers" && parts[2] == "urgent":
		h.handleUrgentTimer(w, r, parts[0])
	case len(parts) == 4 && parts[1] == "timers":
		h.handleTimerAction(w, r, parts[0], parts[2], parts[3])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) getBatchForAction(w http.ResponseWriter, r *http.Request, batchID string) (models.Batch, bool) {
	if !isValidUUID(batchID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "batch id must be a UUID")
		return models.Batch{}, false
	}
	b, found, err := h.store.GetBatch(r.Context(), batchID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return models.Batch{}, false
	}
	if !found {
		writeError(w, http.StatusNotFound, "batch_not_found", "batch not found")
		return models.Batch{}, false
	}
	return b, true
}

type stepActionRequest struct {
	ActorID string `json:"actor_id"`
	StepID  string `json:"step_id"`
}

func (h *Handler) handleBatchAction(w http.ResponseWriter, r *http.Request, batchID, action string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	switch action {
	case "claim", "release", "assign", "unassign":
		b, ok := h.getBatchForAction(w, r, batchID)
		if !ok {
			return
		}
		h.handleClaimAction(w, r, claims.KindBatch, batchID, b.OwnerID)
		return
	}

	b, ok := h.getBatchForAction(w, r, batchID)
	if !ok {
		return
	}

	switch action {
	case "start":
		var req actorRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if !h.requireAccess(w, r, strings.TrimSpace(req.ActorID), b.OwnerID) {
			return
		}
		started, err := h.coordinator.StartBatch(r.Context(), batchID, time.Now().UTC())
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, started)
	case "complete":
		var req actorRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if !h.requireAccess(w, r, strings.TrimSpace(req.ActorID), b.OwnerID) {
			return
		}
		completed, err := h.coordinator.CompleteBatch(r.Context(), batchID, time.Now().UTC())
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, completed)
	case "cancel":
		var req actorRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if !h.requireAccess(w, r, strings.TrimSpace(req.ActorID), b.OwnerID) {
			return
		}
		if err := h.coordinator.CancelBatch(r.Context(), batchID); err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case "advance-step":
		var req actorRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if !h.requireAccess(w, r, strings.TrimSpace(req.ActorID), b.OwnerID) {
			return
		}
		wf, found, err := h.store.GetWorkflow(r.Context(), b.WorkflowID)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		if !found {
			writeError(w, http.StatusNotFound, "workflow_not_found", "workflow not found")
			return
		}
		advanced, err := batch.AdvanceStep(b, len(wf.Steps))
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		updated, err := h.store.UpdateBatchProgress(r.Context(), batchID, advanced.CurrentStepIndex, advanced.CompletedSteps)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case "complete-step":
		var req stepActionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		req.StepID = strings.TrimSpace(req.StepID)
		if req.StepID == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "step_id is required")
			return
		}
		if !h.requireAccess(w, r, strings.TrimSpace(req.ActorID), b.OwnerID) {
			return
		}
		done, err := batch.CompleteStep(b, req.StepID)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		updated, err := h.store.UpdateBatchProgress(r.Context(), batchID, done.CurrentStepIndex, done.CompletedSteps)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type startTimerRequest struct {
	ActorID string `json:"actor_id"`
	StepID  string `json:"step_id"`
	Minutes int    `json:"minutes"`
}

func (h *Handler) handleStartTimer(w http.ResponseWriter, r *http.Request, batchID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	b, ok := h.getBatchForAction(w, r, batchID)
	if !ok {
		return
	}
	var req startTimerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.StepID = strings.TrimSpace(req.StepID)
	if req.StepID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "step_id is required")
		return
	}
	if req.Minutes <= 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "minutes must be positive")
		return
	}
	if !h.requireAccess(w, r, strings.TrimSpace(req.ActorID), b.OwnerID) {
		return
	}

	updated, timer, err := batch.StartTimer(b, req.StepID, req.Minutes, time.Now().UTC())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if _, err := h.store.UpdateBatchTimers(r.Context(), batchID, updated.ActiveTimers); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, timer)
}

func (h *Handler) handleUrgentTimer(w http.ResponseWriter, r *http.Request, batchID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	b, ok := h.getBatchForAction(w, r, batchID)
	if !ok {
		return
	}
	st, found := batch.MostUrgentTimer(b, time.Now().UTC())
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) handleTimerAction(w http.ResponseWriter, r *http.Request, batchID, timerID, action string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isValidUUID(timerID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "timer id must be a UUID")
		return
	}
	b, ok := h.getBatchForAction(w, r, batchID)
	if !ok {
		return
	}
	var req actorRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !h.requireAccess(w, r, strings.TrimSpace(req.ActorID), b.OwnerID) {
		return
	}

	var (
		updated models.Batch
		err     error
	)
	switch action {
	case "acknowledge":
		updated, err = batch.AcknowledgeTimer(b, timerID)
	case "stop":
		updated, err = batch.StopTimer(b, timerID)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	persisted, err := h.store.UpdateBatchTimers(r.Context(), batchID, updated.ActiveTimers)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, persisted)
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ownerID := strings.TrimSpace(r.URL.Query().Get("owner_id"))
	viewerID := strings.TrimSpace(r.URL.Query().Get("viewer_id"))
	if ownerID == "" || viewerID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "owner_id and viewer_id are required")
		return
	}
	if !h.requireAccess(w, r, viewerID, ownerID) {
		return
	}
	sessions, err := presence.Collect(r.Context(), h.store, h.aggregator, ownerID, viewerID, time.Now().UTC())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *Handler) handleSessionGroups(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ownerID := strings.TrimSpace(r.URL.Query().Get("owner_id"))
	viewerID := strings.TrimSpace(r.URL.Query().Get("viewer_id"))
	if ownerID == "" || viewerID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "owner_id and viewer_id are required")
		return
	}
	if !h.requireAccess(w, r, viewerID, ownerID) {
		return
	}
	batches, err := h.store.ListOpenBatches(r.Context(), ownerID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, presence.GroupByClaimant(batches))
}

func (h *Handler) handleNotices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	actorID := strings.TrimSpace(r.URL.Query().Get("actor_id"))
	if actorID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "actor_id is required")
		return
	}
	notices, err := h.store.ListOpenNotices(r.Context(), actorID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, notices)
}

func (h *Handler) handleNoticeActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	noticeID, action, ok := splitAction(r.URL.Path, "/api/notices/")
	if !ok || action != "resolve" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if !isValidUUID(noticeID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "notice id must be a UUID")
		return
	}
	notice, err := h.store.ResolveNotice(r.Context(), noticeID, time.Now().UTC())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, notice)
}

type saveMembershipRequest struct {
	ActorID            string `json:"actor_id"`
	OwnerID            string `json:"owner_id"`
	MemberID           string `json:"member_id"`
	Role               string `json:"role"`
	RequireClockIn     bool   `json:"require_clock_in"`
	AllowAnytimeAccess bool   `json:"allow_anytime_access"`
	AllowRemoteClockIn bool   `json:"allow_remote_clock_in"`
	DeviceName         string `json:"device_name"`
	Email              string `json:"email"`
}

func (h *Handler) handleMemberships(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		ownerID := strings.TrimSpace(r.URL.Query().Get("owner_id"))
		actorID := strings.TrimSpace(r.URL.Query().Get("actor_id"))
		if ownerID == "" || actorID == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "owner_id and actor_id are required")
			return
		}
		if !h.requireAccess(w, r, actorID, ownerID) {
			return
		}
		memberships, err := h.store.ListMemberships(r.Context(), ownerID)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, memberships)
	case http.MethodPost:
		var req saveMembershipRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		req.ActorID = strings.TrimSpace(req.ActorID)
		req.OwnerID = strings.TrimSpace(req.OwnerID)
		req.MemberID = strings.TrimSpace(req.MemberID)
		if req.ActorID == "" || req.OwnerID == "" || req.MemberID == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "actor_id, owner_id, and member_id are required")
			return
		}
		switch req.Role {
		case models.RoleOwner, models.RoleAdmin, models.RoleMember:
		default:
			writeError(w, http.StatusBadRequest, "validation_failed", "role must be owner, admin, or member")
			return
		}
		admin, err := h.isAdmin(r.Context(), req.ActorID, req.OwnerID)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		if !admin {
			writeError(w, http.StatusForbidden, "policy_denied", "only an admin may manage memberships")
			return
		}
		saved, err := h.store.SaveMembership(r.Context(), models.Membership{
			OwnerID:            req.OwnerID,
			ActorID:            req.MemberID,
			Role:               req.Role,
			RequireClockIn:     req.RequireClockIn,
			AllowAnytimeAccess: req.AllowAnytimeAccess,
			AllowRemoteClockIn: req.AllowRemoteClockIn,
			DeviceName:         strings.TrimSpace(req.DeviceName),
			Email:              strings.TrimSpace(req.Email),
		})
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, saved)
	case http.MethodDelete:
		ownerID := strings.TrimSpace(r.URL.Query().Get("owner_id"))
		actorID := strings.TrimSpace(r.URL.Query().Get("actor_id"))
		memberID := strings.TrimSpace(r.URL.Query().Get("member_id"))
		if ownerID == "" || actorID == "" || memberID == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "owner_id, actor_id, and member_id are required")
			return
		}
		admin, err := h.isAdmin(r.Context(), actorID, ownerID)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		if !admin {
			writeError(w, http.StatusForbidden, "policy_denied", "only an admin may manage memberships")
			return
		}
		if err := h.store.DeleteMembership(r.Context(), ownerID, memberID); err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// splitAction decomposes "<prefix><id>/<action>" paths.
func splitAction(path, prefix string) (id, action string, ok bool) {
	trimmed := strings.TrimPrefix(path, prefix)
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, clock.ErrShiftConfirmRequired):
		return http.StatusConflict, "confirm_required", "no shift scheduled today; confirm to clock in anyway"
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest, "validation_failed", "validation failed"
	case errors.Is(err, store.ErrMembershipNotFound):
		return http.StatusNotFound, "membership_not_found", "membership not found"
	case errors.Is(err, store.ErrTimeEntryNotFound):
		return http.StatusNotFound, "time_entry_not_found", "time entry not found"
	case errors.Is(err, store.ErrShiftNotFound):
		return http.StatusNotFound, "shift_not_found", "shift not found"
	case errors.Is(err, store.ErrWorkflowNotFound):
		return http.StatusNotFound, "workflow_not_found", "workflow not found"
	case errors.Is(err, store.ErrBatchNotFound):
		return http.StatusNotFound, "batch_not_found", "batch not found"
	case errors.Is(err, store.ErrNoticeNotFound):
		return http.StatusNotFound, "notice_not_found", "notice not found"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "entity state does not allow this action"
	case errors.Is(err, store.ErrBatchCompleted), errors.Is(err, batch.ErrBatchCompleted):
		return http.StatusConflict, "batch_completed", "batch is completed and immutable"
	case errors.Is(err, batch.ErrTimerNotFound):
		return http.StatusNotFound, "timer_not_found", "timer not found"
	case errors.Is(err, batch.ErrNoStep):
		return http.StatusConflict, "no_step", "no further step to advance to"
	case errors.Is(err, claims.ErrUnknownKind):
		return http.StatusBadRequest, "invalid_request", "unknown entity kind"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
