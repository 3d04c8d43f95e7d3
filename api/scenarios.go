/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	policies for demos and manual testing of the reminder flow. Each scenario
	saves holder contacts and issues policies whose end dates are relative to
	the transactor clock, so a reminder run right after loading has work to do.

AVAILABLE SCENARIOS:

	expiring-fleet:  Vehicle policies at 3, 10, 25 and 45 days from expiry
	license-desk:    DSC and labour license certificates inside their windows
	renewal-chain:   Fire policy renewed twice, shows lineage
	life-term:       Life policy with end date derived from the term

HOW SCENARIOS WORK:
 1. Save holder contacts (companies / consumers)
 2. Issue policies through the Transactor (same validation as the API)
 3. Optionally renew, to build archive history

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "expiring-fleet"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, h)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios add data; they never delete. Policy numbers are unique per
	type, so each load draws a random suffix and a scenario can be loaded
	more than once. Only use in
	development/demo environments.

SEE ALSO:
  - handlers.go: Handler struct
  - renewal/transactor.go: Issue / Renew
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/renewal-engine/renewal"
)

// HolderWriter saves holder contacts. Both stores implement it.
type HolderWriter interface {
	SaveCompany(ctx context.Context, id int64, c renewal.Contact) error
	SaveConsumer(ctx context.Context, id int64, c renewal.Contact) error
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "expiring-fleet",
		Name:        "Expiring Fleet",
		Description: "Four vehicle policies for one company, 3 to 45 days from expiry",
		Category:    "reminders",
	},
	{
		ID:          "license-desk",
		Name:        "License Desk",
		Description: "DSC and labour license certificates inside their reminder windows",
		Category:    "reminders",
	},
	{
		ID:          "renewal-chain",
		Name:        "Renewal Chain",
		Description: "Fire policy renewed twice; the current term links back through the archive",
		Category:    "renewals",
	},
	{
		ID:          "life-term",
		Name:        "Life Term",
		Description: "Individual life policy with the end date derived from a 10 year term",
		Category:    "renewals",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if h.Holders == nil {
		writeError(w, http.StatusServiceUnavailable, "Scenarios are not available", nil)
		return
	}

	ctx := r.Context()
	suffix := strings.ToUpper(uuid.NewString()[:8])

	var (
		issued []PolicyDTO
		err    error
	)
	switch req.ScenarioID {
	case "expiring-fleet":
		issued, err = h.loadExpiringFleetScenario(ctx, suffix)
	case "license-desk":
		issued, err = h.loadLicenseDeskScenario(ctx, suffix)
	case "renewal-chain":
		issued, err = h.loadRenewalChainScenario(ctx, suffix)
	case "life-term":
		issued, err = h.loadLifeTermScenario(ctx, suffix)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err != nil {
		h.writeDomainError(w, fmt.Sprintf("Failed to load scenario %s", req.ScenarioID), err)
		return
	}

	h.Logger.Info("scenario loaded", zap.String("scenario", req.ScenarioID), zap.Int("policies", len(issued)))
	writeJSON(w, http.StatusOK, ScenarioResultDTO{Scenario: req.ScenarioID, Policies: issued})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadExpiringFleetScenario(ctx context.Context, suffix string) ([]PolicyDTO, error) {
	const companyID = 501
	if err := h.Holders.SaveCompany(ctx, companyID, renewal.Contact{
		Name:  "Fleetline Logistics Pvt Ltd",
		Email: "fleet@fleetline.example",
		Phone: "+91-22-5550-0101",
	}); err != nil {
		return nil, err
	}

	var out []PolicyDTO
	for i, days := range []int{3, 10, 25, 45} {
		in := h.scenarioInput(fmt.Sprintf("VP-%s-%d", suffix, i+1), days)
		in.CompanyID = strconv.Itoa(companyID)
		in.NetPremium = "18500"
		in.TaxAmount = "3330"
		in.Details = map[string]string{"registration": fmt.Sprintf("MH-01-AB-%04d", 1200+i)}

		p, err := h.Transactor.Issue(ctx, renewal.TypeVehicle, in)
		if err != nil {
			return nil, err
		}
		out = append(out, toPolicyDTO(*p))
	}
	return out, nil
}

func (h *Handler) loadLicenseDeskScenario(ctx context.Context, suffix string) ([]PolicyDTO, error) {
	const (
		companyID  = 502
		consumerID = 601
	)
	if err := h.Holders.SaveCompany(ctx, companyID, renewal.Contact{
		Name:  "Sunrise Textiles",
		Email: "hr@sunrise.example",
	}); err != nil {
		return nil, err
	}
	if err := h.Holders.SaveConsumer(ctx, consumerID, renewal.Contact{
		Name:  "Meera Iyer",
		Email: "meera.iyer@mail.example",
		Phone: "+91-98450-00000",
	}); err != nil {
		return nil, err
	}

	dsc := h.scenarioInput("DSC-"+suffix, 7)
	dsc.CustomerType = string(renewal.CustomerIndividual)
	dsc.ConsumerID = strconv.Itoa(consumerID)
	dsc.NetPremium = "1500"
	dsc.TaxAmount = "270"

	labour := h.scenarioInput("LL-"+suffix, 14)
	labour.CompanyID = strconv.Itoa(companyID)
	labour.NetPremium = "5000"
	labour.TaxAmount = "0"
	labour.Details = map[string]string{"establishment": "Unit 2, Tiruppur"}

	var out []PolicyDTO
	for _, item := range []struct {
		t  renewal.PolicyType
		in renewal.PolicyInput
	}{
		{renewal.TypeDSC, dsc},
		{renewal.TypeLabourLicense, labour},
	} {
		p, err := h.Transactor.Issue(ctx, item.t, item.in)
		if err != nil {
			return nil, err
		}
		out = append(out, toPolicyDTO(*p))
	}
	return out, nil
}

func (h *Handler) loadRenewalChainScenario(ctx context.Context, suffix string) ([]PolicyDTO, error) {
	const companyID = 503
	if err := h.Holders.SaveCompany(ctx, companyID, renewal.Contact{
		Name:  "Harbour Warehousing",
		Email: "accounts@harbour.example",
	}); err != nil {
		return nil, err
	}

	// First term started two years ago; each renewal adds one year.
	first := h.scenarioInput("FP-"+suffix+"-1", 20)
	first.CompanyID = strconv.Itoa(companyID)
	first.NetPremium = "42000"
	first.TaxAmount = "7560"
	start, _ := renewal.ParseDate(first.StartDate)
	end, _ := renewal.ParseDate(first.EndDate)
	first.StartDate = start.AddDate(-2, 0, 0).Format(renewal.DateLayout)
	first.EndDate = end.AddDate(-2, 0, 0).Format(renewal.DateLayout)

	p, err := h.Transactor.Issue(ctx, renewal.TypeFire, first)
	if err != nil {
		return nil, err
	}

	current := *p
	for term := 2; term <= 3; term++ {
		next := first
		next.PolicyNumber = fmt.Sprintf("FP-%s-%d", suffix, term)
		next.StartDate = current.EndDate.AddDate(0, 0, 1).Format(renewal.DateLayout)
		next.EndDate = current.EndDate.AddDate(1, 0, 0).Format(renewal.DateLayout)
		next.NetPremium = strconv.Itoa(42000 + 2500*(term-1))
		next.TaxAmount = strconv.Itoa((42000 + 2500*(term-1)) * 18 / 100)

		res, err := h.Transactor.Renew(ctx, renewal.TypeFire, current.ID, next)
		if err != nil {
			return nil, err
		}
		current = res.Policy
	}
	return []PolicyDTO{toPolicyDTO(current)}, nil
}

func (h *Handler) loadLifeTermScenario(ctx context.Context, suffix string) ([]PolicyDTO, error) {
	const consumerID = 602
	if err := h.Holders.SaveConsumer(ctx, consumerID, renewal.Contact{
		Name:  "Arjun Rao",
		Email: "arjun.rao@mail.example",
	}); err != nil {
		return nil, err
	}

	in := h.scenarioInput("LP-"+suffix, 0)
	in.CustomerType = string(renewal.CustomerIndividual)
	in.ConsumerID = strconv.Itoa(consumerID)
	in.EndDate = ""
	in.TermYears = "10"
	in.NetPremium = "36000"
	in.TaxAmount = "1620"

	p, err := h.Transactor.Issue(ctx, renewal.TypeLife, in)
	if err != nil {
		return nil, err
	}
	return []PolicyDTO{toPolicyDTO(*p)}, nil
}

// scenarioInput builds an organisation policy that expires daysLeft days
// after today on the transactor clock.
func (h *Handler) scenarioInput(number string, daysLeft int) renewal.PolicyInput {
	today := h.Transactor.Now().UTC()
	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	end := today.AddDate(0, 0, daysLeft)

	return renewal.PolicyInput{
		PolicyNumber: number,
		CustomerType: string(renewal.CustomerOrganisation),
		StartDate:    end.AddDate(-1, 0, 1).Format(renewal.DateLayout),
		EndDate:      end.Format(renewal.DateLayout),
		DocumentRef:  "scenarios/" + number + ".pdf",
	}
}
