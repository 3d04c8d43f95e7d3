/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario leaves the expected state behind:
	- Holder contacts are saved
	- Policies are issued with end dates relative to the clock
	- Renewal chains produce lineage
	- A reminder run right after loading finds due policies

These tests double as integration tests over Transactor and ReminderRunner.
*/
package api

import (
	"context"
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/renewal-engine/renewal"
)

func loadScenario(t *testing.T, env *testEnv, id string) ScenarioResultDTO {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[ScenarioResultDTO](t, rec)
}

func TestScenario_ExpiringFleet(t *testing.T) {
	// GIVEN: The expiring-fleet scenario
	env := newTestEnv(t)

	// WHEN: Loading it and running reminders
	res := loadScenario(t, env, "expiring-fleet")
	require.Len(t, res.Policies, 4)

	rec := env.do(t, http.MethodPost, "/api/reminders/run", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: The three policies inside 30 days are reminded, the fourth is not
	run := decode[RunDTO](t, rec)
	assert.Equal(t, 3, run.Summary.PerType[renewal.TypeVehicle].Successful)

	c, err := env.store.CompanyContact(context.Background(), 501)
	require.NoError(t, err)
	assert.Equal(t, "fleet@fleetline.example", c.Email)

	rec = env.do(t, http.MethodGet, "/api/reminders/logs?type=vehicle", nil)
	for _, l := range decode[[]ReminderLogDTO](t, rec) {
		assert.Equal(t, "fleet@fleetline.example", l.RecipientEmail)
	}
}

func TestScenario_LicenseDesk(t *testing.T) {
	env := newTestEnv(t)

	res := loadScenario(t, env, "license-desk")
	require.Len(t, res.Policies, 2)
	assert.Equal(t, "dsc", res.Policies[0].Type)
	assert.NotNil(t, res.Policies[0].ConsumerID)
	assert.Equal(t, "labour_license", res.Policies[1].Type)
	assert.NotNil(t, res.Policies[1].CompanyID)

	rec := env.do(t, http.MethodPost, "/api/reminders/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	run := decode[RunDTO](t, rec)
	assert.Equal(t, 1, run.Summary.PerType[renewal.TypeDSC].Successful)
	assert.Equal(t, 1, run.Summary.PerType[renewal.TypeLabourLicense].Successful)
}

func TestScenario_RenewalChain(t *testing.T) {
	// GIVEN: A fire policy renewed twice by the scenario
	env := newTestEnv(t)
	res := loadScenario(t, env, "renewal-chain")
	require.Len(t, res.Policies, 1)
	current := res.Policies[0]

	// THEN: The current term is a renewal expiring 20 days from now
	assert.Equal(t, renewal.BusinessRenewal, current.BusinessType)
	assert.Equal(t, "2026-03-21", current.EndDate)
	assert.Equal(t, "47000.00", current.NetPremium)

	// AND: Lineage reaches back through both archived terms
	rec := env.do(t, http.MethodGet, "/api/policies/fire/"+strconv.FormatInt(current.ID, 10)+"/lineage", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	lin := decode[LineageDTO](t, rec)
	require.Len(t, lin.History, 2)
	assert.Equal(t, "2025-03-21", lin.History[0].Policy.EndDate)
	assert.Equal(t, "2024-03-21", lin.History[1].Policy.EndDate)
}

func TestScenario_LifeTerm(t *testing.T) {
	env := newTestEnv(t)

	res := loadScenario(t, env, "life-term")
	require.Len(t, res.Policies, 1)
	p := res.Policies[0]
	assert.Equal(t, 10, p.TermYears)
	assert.Equal(t, "2025-03-02", p.StartDate)
	assert.Equal(t, "2035-03-02", p.EndDate)
}

func TestScenario_LoadTwice(t *testing.T) {
	env := newTestEnv(t)

	first := loadScenario(t, env, "life-term")
	second := loadScenario(t, env, "life-term")
	assert.NotEqual(t, first.Policies[0].ID, second.Policies[0].ID)
	assert.NotEqual(t, first.Policies[0].PolicyNumber, second.Policies[0].PolicyNumber)
}

func TestScenario_Errors(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/scenarios/load", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "empty body")

	env.handler.Holders = nil
	rec = env.do(t, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "life-term"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListScenarios(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]ScenarioDTO](t, rec)
	require.Len(t, list, len(scenarios))
	for _, s := range list {
		assert.NotEmpty(t, s.ID)
		assert.NotEmpty(t, s.Description)
	}
}
