/*
handlers_test.go - HTTP tests for the renewal API

Tests for:
- Issue / get / renew / cancel / lineage round trips
- Error mapping (400 validation with field, 404, 409)
- Renewal config admin endpoints
- Manual reminder runs, last run and reminder log
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/renewal-engine/factory"
	"github.com/warp/renewal-engine/notify"
	"github.com/warp/renewal-engine/renewal"
	"github.com/warp/renewal-engine/renewal/store"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	store   *store.Memory
	handler *Handler
	router  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	mem := store.NewMemory()
	for _, c := range factory.DefaultConfigs() {
		require.NoError(t, mem.SaveConfig(ctx, c))
	}
	require.NoError(t, mem.SaveCompany(ctx, 10, renewal.Contact{Name: "Acme Ltd", Email: "ops@acme.test"}))

	logger := zap.NewNop()
	runner := renewal.NewReminderRunner(renewal.RunnerDeps{
		Policies: mem,
		Configs:  mem,
		Logs:     mem,
		Holders:  mem,
		Sender:   notify.NewLogSender(logger),
		Logger:   logger,
	}, time.UTC)
	runner.Now = func() time.Time { return testNow }

	tr := renewal.NewTransactor(mem, logger, nil)
	tr.Now = func() time.Time { return testNow }

	h := NewHandler(tr, runner, mem, mem, logger)
	h.Holders = mem
	return &testEnv{store: mem, handler: h, router: NewRouter(h, nil)}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func vehicleInput(number, end string) renewal.PolicyInput {
	return renewal.PolicyInput{
		PolicyNumber: number,
		CustomerType: "Organisation",
		CompanyID:    "10",
		StartDate:    "2025-03-26",
		EndDate:      end,
		NetPremium:   "1000",
		TaxAmount:    "180",
		DocumentRef:  "docs/" + number + ".pdf",
	}
}

// =============================================================================
// POLICY ENDPOINTS
// =============================================================================

func TestIssueAndGetPolicy(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/policies/vehicle", vehicleInput("VH-1", "2026-03-26"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	issued := decode[PolicyDTO](t, rec)

	assert.Equal(t, "VH-1", issued.PolicyNumber)
	assert.Equal(t, "1180.00", issued.GrossPremium)
	assert.Equal(t, renewal.BusinessNew, issued.BusinessType)
	require.NotNil(t, issued.CompanyID)
	assert.Nil(t, issued.ConsumerID)

	rec = env.do(t, http.MethodGet, "/api/policies/vehicle/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[PolicyDTO](t, rec)
	assert.Equal(t, issued.ID, got.ID)
	assert.Equal(t, "2026-03-26", got.EndDate)
}

func TestIssuePolicy_DuplicateNumber(t *testing.T) {
	// GIVEN: VH-1 already issued
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/policies/vehicle", vehicleInput("VH-1", "2026-03-26"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// WHEN: Issuing VH-1 again
	rec = env.do(t, http.MethodPost, "/api/policies/vehicle", vehicleInput("VH-1", "2027-03-26"))

	// THEN: 409 Conflict
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
}

func TestRenewPolicy(t *testing.T) {
	// GIVEN: An active vehicle policy
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/policies/vehicle", vehicleInput("VH-1", "2026-03-26"))
	require.Equal(t, http.StatusCreated, rec.Code)

	// WHEN: Renewing it with a new term
	in := vehicleInput("VH-2", "2027-03-26")
	in.StartDate = "2026-03-27"
	in.NetPremium = "1100"
	rec = env.do(t, http.MethodPatch, "/api/policies/vehicle/1/renew", in)

	// THEN: The old term is archived and the successor points at it
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[RenewalDTO](t, rec)
	assert.Equal(t, int64(1), res.Archived.OriginalPolicyID)
	assert.Equal(t, "expired", res.Archived.Policy.Status)
	assert.Equal(t, renewal.BusinessRenewal, res.Policy.BusinessType)
	require.NotNil(t, res.Policy.PreviousPolicyID)
	assert.Equal(t, res.Archived.ID, *res.Policy.PreviousPolicyID)
	assert.Equal(t, "100.00", res.PremiumDelta)

	// AND: The old active row is gone
	rec = env.do(t, http.MethodGet, "/api/policies/vehicle/1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// AND: Lineage walks back to the first term
	rec = env.do(t, http.MethodGet, "/api/policies/vehicle/2/lineage", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	lin := decode[LineageDTO](t, rec)
	assert.Equal(t, "VH-2", lin.Current.PolicyNumber)
	require.Len(t, lin.History, 1)
	assert.Equal(t, "VH-1", lin.History[0].Policy.PolicyNumber)
}

func TestRenewPolicy_MissingHolder(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/policies/vehicle", vehicleInput("VH-1", "2026-03-26"))
	require.Equal(t, http.StatusCreated, rec.Code)

	in := vehicleInput("VH-2", "2027-03-26")
	in.CompanyID = ""
	rec = env.do(t, http.MethodPatch, "/api/policies/vehicle/1/renew", in)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "holder", resp.Field)

	// Nothing changed
	rec = env.do(t, http.MethodGet, "/api/policies/vehicle/1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCancelPolicy_ThenRenewConflicts(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/policies/fire", vehicleInput("FP-1", "2026-03-26"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/policies/fire/1/cancel", CancelRequest{Reason: "sold premises"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decode[PolicyDTO](t, rec).Status)

	rec = env.do(t, http.MethodPatch, "/api/policies/fire/1/renew", vehicleInput("FP-2", "2027-03-26"))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPolicyRoutes_BadPath(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"unknown type", http.MethodGet, "/api/policies/boat/1", http.StatusBadRequest},
		{"bad id", http.MethodGet, "/api/policies/fire/abc", http.StatusBadRequest},
		{"zero id", http.MethodGet, "/api/policies/fire/0", http.StatusBadRequest},
		{"missing", http.MethodGet, "/api/policies/fire/99", http.StatusNotFound},
		{"renew missing", http.MethodPatch, "/api/policies/fire/99/renew", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body any
			if tt.method == http.MethodPatch {
				body = vehicleInput("FP-2", "2027-03-26")
			}
			rec := env.do(t, tt.method, tt.path, body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

// =============================================================================
// RENEWAL CONFIG ENDPOINTS
// =============================================================================

func TestRenewalConfigs(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/renewal-configs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]factory.ConfigJSON](t, rec), len(renewal.AllPolicyTypes))

	// URL type wins over the body
	rec = env.do(t, http.MethodPut, "/api/renewal-configs/dsc", factory.ConfigJSON{
		ServiceType:   "fire",
		ReminderTimes: 1,
		ReminderDays:  7,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/renewal-configs/dsc", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[factory.ConfigJSON](t, rec)
	assert.Equal(t, "dsc", got.ServiceType)
	assert.Equal(t, 7, got.ReminderDays)

	rec = env.do(t, http.MethodPut, "/api/renewal-configs/dsc", factory.ConfigJSON{ReminderTimes: 0, ReminderDays: 7})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRenewalConfigs_NotFound(t *testing.T) {
	env := newTestEnv(t)
	env.handler.Configs = store.NewMemory()

	rec := env.do(t, http.MethodGet, "/api/renewal-configs/fire", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// REMINDER ENDPOINTS
// =============================================================================

func TestRunReminders_SendsOncePerDay(t *testing.T) {
	// GIVEN: A vehicle policy 25 days from expiry and no previous reminder
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/policies/vehicle", vehicleInput("VH-1", "2026-03-26"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/reminders/last-run", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// WHEN: A manual run is triggered
	rec = env.do(t, http.MethodPost, "/api/reminders/run", nil)

	// THEN: Exactly one reminder is sent
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decode[RunDTO](t, rec)
	assert.Equal(t, TriggerManual, run.Trigger)
	assert.Equal(t, 1, run.Summary.Total.Successful)
	assert.Equal(t, 1, run.Summary.PerType[renewal.TypeVehicle].Processed)

	rec = env.do(t, http.MethodGet, "/api/reminders/logs?type=vehicle&policy_id=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	logs := decode[[]ReminderLogDTO](t, rec)
	require.Len(t, logs, 1)
	assert.Equal(t, 25, logs[0].DaysUntilExpiry)
	assert.Equal(t, "sent", logs[0].Status)
	assert.Equal(t, "ops@acme.test", logs[0].RecipientEmail)

	// AND: A second run on the same day sends nothing
	rec = env.do(t, http.MethodPost, "/api/reminders/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[RunDTO](t, rec).Summary.Total.Successful)

	rec = env.do(t, http.MethodGet, "/api/reminders/logs?policy_id=1", nil)
	assert.Len(t, decode[[]ReminderLogDTO](t, rec), 1)

	rec = env.do(t, http.MethodGet, "/api/reminders/last-run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, TriggerManual, decode[RunDTO](t, rec).Trigger)
}

func TestListReminderLogs_BadQuery(t *testing.T) {
	env := newTestEnv(t)

	for _, q := range []string{"type=boat", "policy_id=x", "policy_id=-1", "limit=0"} {
		rec := env.do(t, http.MethodGet, "/api/reminders/logs?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestListEligible(t *testing.T) {
	env := newTestEnv(t)
	for _, in := range []renewal.PolicyInput{
		vehicleInput("VH-SOON", "2026-03-10"),
		vehicleInput("VH-LATER", "2026-03-26"),
		vehicleInput("VH-FAR", "2026-09-01"),
	} {
		rec := env.do(t, http.MethodPost, "/api/policies/vehicle", in)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/api/renewals/eligible?type=vehicle", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[[]EligibleDTO](t, rec)
	require.Len(t, got, 2)
	assert.Equal(t, "VH-SOON", got[0].PolicyNumber)
	assert.Equal(t, 9, got[0].DaysUntilExpiry)

	rec = env.do(t, http.MethodGet, "/api/renewals/eligible?type=vehicle&window=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]EligibleDTO](t, rec), 1)

	rec = env.do(t, http.MethodGet, "/api/renewals/eligible?type=vehicle&window=-3", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/renewals/eligible", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
