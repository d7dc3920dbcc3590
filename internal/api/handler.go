// Package api exposes the HTTP surface: trigger CRUD, operation
// listing, notification ingest and ad-hoc job starts.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/opsched/internal/auth"
	"github.com/djlord-it/opsched/internal/devices"
	"github.com/djlord-it/opsched/internal/domain"
	"github.com/djlord-it/opsched/internal/schedule"
	"github.com/djlord-it/opsched/internal/trigger"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// TriggerService is the trigger lifecycle surface.
type TriggerService interface {
	Create(ctx context.Context, c trigger.Creator) (domain.Trigger, error)
	Update(ctx context.Context, t domain.Trigger) (domain.Trigger, error)
	Delete(ctx context.Context, scopeID, triggerID uuid.UUID) error
	Find(ctx context.Context, scopeID, triggerID uuid.UUID) (domain.Trigger, error)
	Query(ctx context.Context, q trigger.Query) ([]domain.Trigger, error)
	Count(ctx context.Context, q trigger.Query) (int64, error)
}

// OperationStore lists pending operations for a scope.
type OperationStore interface {
	ListOperations(ctx context.Context, scopeID uuid.UUID, limit, offset int) ([]domain.PendingOperation, error)
}

// Emitter feeds ingested notification events to the processing loop.
type Emitter interface {
	Emit(ctx context.Context, event domain.NotificationEvent) error
}

// JobEngine starts jobs on demand.
type JobEngine interface {
	StartJob(ctx context.Context, scopeID, jobID uuid.UUID, options map[string]string) error
}

// CommandDispatcher records the pending operation and delivers a device
// command. Notifications reported back by the device correlate against
// the returned operation id.
type CommandDispatcher interface {
	Dispatch(ctx context.Context, cmd devices.Command) (uuid.UUID, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	triggers   TriggerService
	operations OperationStore
	emitter    Emitter
	engine     JobEngine
	dispatcher CommandDispatcher
	db         HealthChecker
	clock      func() time.Time
}

func NewHandler(triggers TriggerService, operations OperationStore, emitter Emitter, engine JobEngine) *Handler {
	return &Handler{
		triggers:   triggers,
		operations: operations,
		emitter:    emitter,
		engine:     engine,
		clock:      time.Now,
	}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

// WithDispatcher enables the device command endpoint.
func (h *Handler) WithDispatcher(dispatcher CommandDispatcher) *Handler {
	h.dispatcher = dispatcher
	return h
}

// WithClock replaces the time source, for tests.
func (h *Handler) WithClock(clock func() time.Time) *Handler {
	h.clock = clock
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if path == "/health" && r.Method == http.MethodGet {
		h.health(w, r)
		return
	}
	if path == "/v1/notifications" && r.Method == http.MethodPost {
		h.ingestNotification(w, r)
		return
	}

	// Scoped routes: /v1/scopes/{scopeId}/...
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 3 || parts[0] != "v1" || parts[1] != "scopes" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	scopeID, err := uuid.Parse(parts[2])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scope id")
		return
	}
	rest := parts[3:]

	switch {
	case len(rest) == 1 && rest[0] == "triggers" && r.Method == http.MethodPost:
		h.createTrigger(w, r, scopeID)
	case len(rest) == 1 && rest[0] == "triggers" && r.Method == http.MethodGet:
		h.listTriggers(w, r, scopeID)
	case len(rest) == 2 && rest[0] == "triggers" && r.Method == http.MethodGet:
		h.getTrigger(w, r, scopeID, rest[1])
	case len(rest) == 2 && rest[0] == "triggers" && r.Method == http.MethodPut:
		h.updateTrigger(w, r, scopeID, rest[1])
	case len(rest) == 2 && rest[0] == "triggers" && r.Method == http.MethodDelete:
		h.deleteTrigger(w, r, scopeID, rest[1])
	case len(rest) == 1 && rest[0] == "operations" && r.Method == http.MethodGet:
		h.listOperations(w, r, scopeID)
	case len(rest) == 3 && rest[0] == "jobs" && rest[2] == "start" && r.Method == http.MethodPost:
		h.startJob(w, r, scopeID, rest[1])
	case len(rest) == 3 && rest[0] == "devices" && rest[2] == "commands" && r.Method == http.MethodPost:
		h.dispatchCommand(w, r, scopeID, rest[1])
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func (h *Handler) createTrigger(w http.ResponseWriter, r *http.Request, scopeID uuid.UUID) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req CreateTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateCreateTrigger(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	definitionID, _ := uuid.Parse(req.DefinitionID)
	startsOn, _ := time.Parse(time.RFC3339, req.StartsOn)

	creator := trigger.Creator{
		ScopeID:              scopeID,
		Name:                 req.Name,
		DefinitionID:         definitionID,
		StartsOn:             startsOn,
		CronExpression:       req.CronExpression,
		RetryIntervalSeconds: req.RetryIntervalSeconds,
		Properties:           parseProperties(req.Properties),
	}
	if req.EndsOn != "" {
		endsOn, _ := time.Parse(time.RFC3339, req.EndsOn)
		creator.EndsOn = &endsOn
	}

	created, err := h.triggers.Create(r.Context(), creator)
	if err != nil {
		writeTriggerError(w, err, "create trigger")
		return
	}

	writeJSON(w, http.StatusCreated, triggerResponse(created))
}

func (h *Handler) listTriggers(w http.ResponseWriter, r *http.Request, scopeID uuid.UUID) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := trigger.Query{
		ScopeID: scopeID,
		Name:    r.URL.Query().Get("name"),
		Limit:   limit,
		Offset:  offset,
	}

	triggers, err := h.triggers.Query(r.Context(), q)
	if err != nil {
		writeTriggerError(w, err, "list triggers")
		return
	}
	total, err := h.triggers.Count(r.Context(), q)
	if err != nil {
		writeTriggerError(w, err, "count triggers")
		return
	}

	resp := ListTriggersResponse{Triggers: make([]TriggerResponse, len(triggers)), Total: total}
	for i, t := range triggers {
		resp.Triggers[i] = triggerResponse(t)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getTrigger(w http.ResponseWriter, r *http.Request, scopeID uuid.UUID, rawID string) {
	triggerID, err := uuid.Parse(rawID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid trigger id")
		return
	}

	t, err := h.triggers.Find(r.Context(), scopeID, triggerID)
	if err != nil {
		writeTriggerError(w, err, "get trigger")
		return
	}
	writeJSON(w, http.StatusOK, triggerResponse(t))
}

func (h *Handler) updateTrigger(w http.ResponseWriter, r *http.Request, scopeID uuid.UUID, rawID string) {
	triggerID, err := uuid.Parse(rawID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid trigger id")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req UpdateTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	current, err := h.triggers.Find(r.Context(), scopeID, triggerID)
	if err != nil {
		writeTriggerError(w, err, "update trigger")
		return
	}

	if req.Name != "" {
		current.Name = req.Name
	}
	if req.EndsOn != "" {
		endsOn, err := time.Parse(time.RFC3339, req.EndsOn)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid ends_on")
			return
		}
		current.EndsOn = &endsOn
	}
	if req.Properties != nil {
		current.Properties = parseProperties(req.Properties)
	}

	updated, err := h.triggers.Update(r.Context(), current)
	if err != nil {
		writeTriggerError(w, err, "update trigger")
		return
	}
	writeJSON(w, http.StatusOK, triggerResponse(updated))
}

func (h *Handler) deleteTrigger(w http.ResponseWriter, r *http.Request, scopeID uuid.UUID, rawID string) {
	triggerID, err := uuid.Parse(rawID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid trigger id")
		return
	}

	if err := h.triggers.Delete(r.Context(), scopeID, triggerID); err != nil {
		writeTriggerError(w, err, "delete trigger")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listOperations(w http.ResponseWriter, r *http.Request, scopeID uuid.UUID) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	operations, err := h.operations.ListOperations(r.Context(), scopeID, limit, offset)
	if err != nil {
		log.Printf("api: list operations error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list operations")
		return
	}

	resp := ListOperationsResponse{Operations: make([]OperationResponse, len(operations))}
	for i, op := range operations {
		resp.Operations[i] = OperationResponse{
			OperationID: op.OperationID.String(),
			ScopeID:     op.ScopeID.String(),
			Resource:    op.Resource,
			Status:      string(op.Status),
			Progress:    op.Progress,
			LastUpdate:  formatTime(op.LastUpdate),
			CreatedAt:   formatTime(op.CreatedAt),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ingestNotification accepts one device notification and enqueues it.
// Acceptance means queued, not applied: processing is asynchronous and
// failures are routed to the dead-letter queues.
func (h *Handler) ingestNotification(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req NotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validateNotification(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	scopeID, _ := uuid.Parse(req.ScopeID)
	operationID, _ := uuid.Parse(req.OperationID)

	event := domain.NotificationEvent{
		ScopeID:     scopeID,
		OperationID: operationID,
		Resource:    req.Resource,
		Status:      domain.OperationStatus(req.Status),
		Progress:    req.Progress,
		ReceivedOn:  h.clock().UTC(),
	}
	if req.SentOn != "" {
		sentOn, _ := time.Parse(time.RFC3339, req.SentOn)
		event.SentOn = &sentOn
	}

	if err := h.emitter.Emit(r.Context(), event); err != nil {
		log.Printf("api: notification emit error: %v", err)
		writeError(w, http.StatusServiceUnavailable, "notification queue unavailable")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) startJob(w http.ResponseWriter, r *http.Request, scopeID uuid.UUID, rawJobID string) {
	jobID, err := uuid.Parse(rawJobID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	// Body is optional for job starts.
	var req StartJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.engine.StartJob(r.Context(), scopeID, jobID, req.Options); err != nil {
		if errors.Is(err, auth.ErrPermissionDenied) {
			writeError(w, http.StatusForbidden, "permission denied")
			return
		}
		log.Printf("api: start job error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to start job")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// dispatchCommand sends a device command. The operation row is written
// before delivery, so the returned operation id is valid for
// correlation even when the device never answers.
func (h *Handler) dispatchCommand(w http.ResponseWriter, r *http.Request, scopeID uuid.UUID, rawDeviceID string) {
	if h.dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, "device dispatch not configured")
		return
	}

	deviceID, err := uuid.Parse(rawDeviceID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid device id")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req DispatchCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validateDispatchCommand(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cmd := devices.Command{
		ScopeID:  scopeID,
		TargetID: deviceID,
		Resource: req.Resource,
		Payload:  req.Payload,
	}
	if req.JobID != "" {
		cmd.JobID, _ = uuid.Parse(req.JobID)
	}

	operationID, err := h.dispatcher.Dispatch(r.Context(), cmd)
	if err != nil {
		log.Printf("api: dispatch command error: %v", err)
		if operationID != uuid.Nil {
			// Rows were written but delivery failed; the stale sweep
			// retires the operation if the device stays silent.
			writeError(w, http.StatusBadGateway, "command delivery failed")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to dispatch command")
		return
	}

	writeJSON(w, http.StatusAccepted, DispatchCommandResponse{OperationID: operationID.String()})
}

func triggerResponse(t domain.Trigger) TriggerResponse {
	resp := TriggerResponse{
		ID:                   t.ID.String(),
		ScopeID:              t.ScopeID.String(),
		Name:                 t.Name,
		DefinitionID:         t.DefinitionID.String(),
		StartsOn:             formatTime(t.StartsOn),
		CronExpression:       t.CronExpression,
		RetryIntervalSeconds: t.RetryIntervalSeconds,
		CreatedAt:            formatTime(t.CreatedAt),
		UpdatedAt:            formatTime(t.UpdatedAt),
	}
	if t.EndsOn != nil {
		resp.EndsOn = formatTime(*t.EndsOn)
	}
	for _, p := range t.Properties {
		resp.Properties = append(resp.Properties, PropertyRequest{
			Name:  p.Name,
			Type:  string(p.Type),
			Value: p.Value,
		})
	}
	return resp
}

// writeTriggerError maps trigger lifecycle errors to HTTP statuses.
func writeTriggerError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, trigger.ErrNotFound):
		writeError(w, http.StatusNotFound, "trigger not found")
	case errors.Is(err, trigger.ErrDuplicateName):
		writeError(w, http.StatusConflict, "trigger name already in use")
	case errors.Is(err, trigger.ErrInvalidArgument),
		errors.Is(err, trigger.ErrSameStartEnd),
		errors.Is(err, trigger.ErrEndBeforeStart),
		errors.Is(err, trigger.ErrUnknownProperty),
		errors.Is(err, trigger.ErrPropertyTypeMismatch),
		errors.Is(err, schedule.ErrInvalidSchedule):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "permission denied")
	default:
		log.Printf("api: %s error: %v", op, err)
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination extracts and validates limit/offset query parameters.
// Returns DefaultLimit if limit is not specified, and 0 for offset if not specified.
// Returns an error if limit exceeds MaxLimit or if values are negative/invalid.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
