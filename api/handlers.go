/*
handlers.go - HTTP API handlers for the renewal engine

PURPOSE:
  Exposes the renewal engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the renewal package.

ENDPOINTS:
  Policies:
    POST   /api/policies/{type}                Issue a new policy
    GET    /api/policies/{type}/{id}           Get an active policy
    PATCH  /api/policies/{type}/{id}/renew     Renew (archive + successor)
    POST   /api/policies/{type}/{id}/cancel    Cancel an active policy
    GET    /api/policies/{type}/{id}/lineage   Current term and archived terms

  Reminders:
    GET    /api/renewals/eligible              Policies inside the window
    POST   /api/reminders/run                  Trigger a reminder run now
    GET    /api/reminders/last-run             Last run summary
    GET    /api/reminders/logs                 Reminder log, newest first

  Renewal configs:
    GET    /api/renewal-configs                List all configs
    GET    /api/renewal-configs/{type}         Get one config
    PUT    /api/renewal-configs/{type}         Create or replace a config

  Scenarios (demo data):
    GET    /api/scenarios                      List scenarios
    POST   /api/scenarios/load                 Load a scenario

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Transactor: Issue / renew / cancel state transitions
  - Runner + Scheduler: Reminder evaluation and manual runs
  - Configs, Logs: Read side of the stores
  - ConfigFactory: JSON to RenewalConfig conversion

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, unknown policy type
  - 404: Policy, config or holder not found
  - 409: Conflict (policy not active, run already in progress)
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. Put the service behind a gateway.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/renewal-engine/factory"
	"github.com/warp/renewal-engine/renewal"
)

// maxLogLimit caps /api/reminders/logs.
const maxLogLimit = 500

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Transactor    *renewal.Transactor
	Runner        *renewal.ReminderRunner
	Scheduler     *ReminderScheduler
	Configs       renewal.ConfigStore
	Logs          renewal.ReminderLogStore
	ConfigFactory *factory.ConfigFactory
	Logger        *zap.Logger

	// Holders enables the demo scenario loaders. Nil disables them.
	Holders HolderWriter
}

// NewHandler creates a new handler. The scheduler is built around runner
// but not started.
func NewHandler(tr *renewal.Transactor, runner *renewal.ReminderRunner, configs renewal.ConfigStore, logs renewal.ReminderLogStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Transactor:    tr,
		Runner:        runner,
		Scheduler:     NewReminderScheduler(runner, logger),
		Configs:       configs,
		Logs:          logs,
		ConfigFactory: factory.NewConfigFactory(),
		Logger:        logger.Named("api"),
	}
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// IssuePolicy creates a brand-new active policy.
func (h *Handler) IssuePolicy(w http.ResponseWriter, r *http.Request) {
	t, ok := h.policyType(w, r)
	if !ok {
		return
	}

	var in renewal.PolicyInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	p, err := h.Transactor.Issue(r.Context(), t, in)
	if err != nil {
		h.writeDomainError(w, "Failed to issue policy", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPolicyDTO(*p))
}

// GetPolicy returns one active policy.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	t, id, ok := h.policyRef(w, r)
	if !ok {
		return
	}

	p, err := h.Transactor.Get(r.Context(), t, id)
	if err != nil {
		h.writeDomainError(w, "Failed to get policy", err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(*p))
}

// RenewPolicy archives the active term and creates its successor.
func (h *Handler) RenewPolicy(w http.ResponseWriter, r *http.Request) {
	t, id, ok := h.policyRef(w, r)
	if !ok {
		return
	}

	var in renewal.PolicyInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	res, err := h.Transactor.Renew(r.Context(), t, id, in)
	if err != nil {
		h.writeDomainError(w, "Failed to renew policy", err)
		return
	}

	writeJSON(w, http.StatusOK, RenewalDTO{
		Archived:     toArchivedDTO(res.Archived),
		Policy:       toPolicyDTO(res.Policy),
		PremiumDelta: res.PremiumDelta.StringFixed(2),
	})
}

// CancelPolicy marks an active policy cancelled.
func (h *Handler) CancelPolicy(w http.ResponseWriter, r *http.Request) {
	t, id, ok := h.policyRef(w, r)
	if !ok {
		return
	}

	var req CancelRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON", err)
			return
		}
	}

	p, err := h.Transactor.Cancel(r.Context(), t, id, req.Reason)
	if err != nil {
		h.writeDomainError(w, "Failed to cancel policy", err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(*p))
}

// GetLineage returns the active term and every archived predecessor.
func (h *Handler) GetLineage(w http.ResponseWriter, r *http.Request) {
	t, id, ok := h.policyRef(w, r)
	if !ok {
		return
	}

	lin, err := h.Transactor.Lineage(r.Context(), t, id)
	if err != nil {
		h.writeDomainError(w, "Failed to load lineage", err)
		return
	}

	dto := LineageDTO{
		Current: toPolicyDTO(lin.Current),
		History: make([]ArchivedPolicyDTO, len(lin.History)),
	}
	for i, a := range lin.History {
		dto.History[i] = toArchivedDTO(a)
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// REMINDER HANDLERS
// =============================================================================

// ListEligible returns active policies expiring inside the window.
// Query: type (required), window (days, optional).
func (h *Handler) ListEligible(w http.ResponseWriter, r *http.Request) {
	t, err := renewal.ParsePolicyType(r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid policy type", err)
		return
	}

	window := 0
	if s := r.URL.Query().Get("window"); s != "" {
		window, err = strconv.Atoi(s)
		if err != nil || window < 0 {
			writeError(w, http.StatusBadRequest, "window must be a non-negative integer", nil)
			return
		}
	}

	policies, err := h.Runner.EligiblePolicies(r.Context(), t, window)
	if err != nil {
		h.writeDomainError(w, "Failed to list eligible policies", err)
		return
	}

	now := h.Runner.Now()
	dtos := make([]EligibleDTO, len(policies))
	for i, p := range policies {
		dtos[i] = EligibleDTO{
			PolicyDTO:       toPolicyDTO(p),
			DaysUntilExpiry: renewal.DaysUntilExpiry(renewal.ExpiryInstant(p.EndDate, h.Runner.Location), now),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RunReminders triggers a reminder run and waits for its summary.
func (h *Handler) RunReminders(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Scheduler.RunNow(r.Context())
	if err != nil {
		if renewal.IsConflict(err) {
			writeError(w, http.StatusConflict, "Reminder run already in progress", err)
			return
		}
		h.Logger.Error("manual reminder run failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, RunDTO{
			Trigger: TriggerManual,
			Summary: summary,
			Error:   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, RunDTO{Trigger: TriggerManual, Summary: summary})
}

// LastRun returns the most recent run.
func (h *Handler) LastRun(w http.ResponseWriter, r *http.Request) {
	run := h.Scheduler.LastRun()
	if run == nil {
		writeError(w, http.StatusNotFound, "No reminder run yet", nil)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ListReminderLogs returns reminder log rows, newest first.
// Query: type, policy_id, limit (all optional).
func (h *Handler) ListReminderLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := renewal.ReminderLogFilter{Limit: 100}

	if s := q.Get("type"); s != "" {
		t, err := renewal.ParsePolicyType(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid policy type", err)
			return
		}
		filter.PolicyType = t
	}
	if s := q.Get("policy_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "policy_id must be a positive integer", nil)
			return
		}
		filter.PolicyID = id
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", nil)
			return
		}
		filter.Limit = min(n, maxLogLimit)
	}

	logs, err := h.Logs.ListReminderLogs(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, "Failed to list reminder logs", err)
		return
	}

	dtos := make([]ReminderLogDTO, len(logs))
	for i, l := range logs {
		dtos[i] = toReminderLogDTO(l)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RENEWAL CONFIG HANDLERS
// =============================================================================

// ListConfigs returns every renewal config.
func (h *Handler) ListConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := h.Configs.ListConfigs(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to list renewal configs", err)
		return
	}

	dtos := make([]factory.ConfigJSON, len(configs))
	for i, c := range configs {
		dtos[i] = h.ConfigFactory.ToJSON(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetConfig returns the config for one service type.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	t, ok := h.policyType(w, r)
	if !ok {
		return
	}

	cfg, err := h.Configs.GetConfig(r.Context(), t)
	if err != nil {
		h.writeDomainError(w, "Failed to get renewal config", err)
		return
	}
	writeJSON(w, http.StatusOK, h.ConfigFactory.ToJSON(*cfg))
}

// PutConfig creates or replaces the config for one service type. The type
// in the URL wins over the body.
func (h *Handler) PutConfig(w http.ResponseWriter, r *http.Request) {
	t, ok := h.policyType(w, r)
	if !ok {
		return
	}

	var cj factory.ConfigJSON
	if err := json.NewDecoder(r.Body).Decode(&cj); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	cj.ServiceType = string(t)

	cfg, err := h.ConfigFactory.FromJSON(cj)
	if err != nil {
		h.writeDomainError(w, "Invalid renewal config", err)
		return
	}
	if err := h.Configs.SaveConfig(r.Context(), *cfg); err != nil {
		h.writeDomainError(w, "Failed to save renewal config", err)
		return
	}

	h.Logger.Info("renewal config saved",
		zap.String("service_type", string(cfg.ServiceType)),
		zap.Int("reminder_times", cfg.ReminderTimes),
		zap.Int("reminder_days", cfg.ReminderDays),
		zap.Bool("is_active", cfg.IsActive),
	)
	writeJSON(w, http.StatusOK, h.ConfigFactory.ToJSON(*cfg))
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) policyType(w http.ResponseWriter, r *http.Request) (renewal.PolicyType, bool) {
	t, err := renewal.ParsePolicyType(chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid policy type", err)
		return "", false
	}
	return t, true
}

func (h *Handler) policyRef(w http.ResponseWriter, r *http.Request) (renewal.PolicyType, int64, bool) {
	t, ok := h.policyType(w, r)
	if !ok {
		return "", 0, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid policy id", nil)
		return "", 0, false
	}
	return t, id, true
}

// writeDomainError maps the renewal error taxonomy to HTTP status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case renewal.IsClientError(err):
		resp := ErrorResponse{Error: message, Details: err.Error()}
		var verr *renewal.ValidationError
		if errors.As(err, &verr) {
			resp.Field = verr.Field
		}
		writeJSON(w, http.StatusBadRequest, resp)
	case renewal.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case renewal.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	default:
		h.Logger.Error(message, zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
