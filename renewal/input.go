package renewal

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// POLICY INPUT - Raw payload, validated once
// =============================================================================

// PolicyInput is the payload as received from the HTTP layer. Every field is a
// string; Normalize turns it into a typed PolicyDraft or a ValidationError.
// Only the empty string means "absent".
type PolicyInput struct {
	PolicyNumber       string            `json:"policy_number"`
	CustomerType       string            `json:"customer_type"`
	CompanyID          string            `json:"company_id"`
	ConsumerID         string            `json:"consumer_id"`
	InsuranceCompanyID string            `json:"insurance_company_id"`
	StartDate          string            `json:"start_date"`
	EndDate            string            `json:"end_date"`
	TermYears          string            `json:"term_years"`
	NetPremium         string            `json:"net_premium"`
	TaxAmount          string            `json:"tax_amount"`
	GrossPremium       string            `json:"gross_premium"`
	DocumentRef        string            `json:"document_ref"`
	ContactName        string            `json:"contact_name"`
	ContactEmail       string            `json:"contact_email"`
	ContactPhone       string            `json:"contact_phone"`
	Details            map[string]string `json:"details"`
}

// PolicyDraft is a validated policy term, ready to be persisted.
type PolicyDraft struct {
	Type               PolicyType
	PolicyNumber       string
	Holder             Holder
	InsuranceCompanyID *int64
	StartDate          time.Time
	EndDate            time.Time
	TermYears          int
	Premium            Premium
	DocumentRef        string
	ContactName        string
	ContactEmail       string
	ContactPhone       string
	Details            map[string]string
}

// Normalize validates the input for the given policy type.
func (in PolicyInput) Normalize(t PolicyType) (PolicyDraft, error) {
	d := PolicyDraft{Type: t}

	if _, err := ParsePolicyType(string(t)); err != nil {
		return d, err
	}

	d.DocumentRef = strings.TrimSpace(in.DocumentRef)
	if d.DocumentRef == "" {
		return d, &ValidationError{Field: "document", Reason: "missing document"}
	}

	d.PolicyNumber = strings.TrimSpace(in.PolicyNumber)
	if d.PolicyNumber == "" {
		return d, &ValidationError{Field: "policy_number", Reason: "required"}
	}

	holder, err := parseHolder(in.CustomerType, in.CompanyID, in.ConsumerID)
	if err != nil {
		return d, err
	}
	d.Holder = holder

	if s := strings.TrimSpace(in.InsuranceCompanyID); s != "" {
		id, err := parseID("insurance_company_id", s)
		if err != nil {
			return d, err
		}
		d.InsuranceCompanyID = &id
	}

	if s := strings.TrimSpace(in.TermYears); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return d, &ValidationError{Field: "term_years", Reason: "must be a non-negative integer"}
		}
		d.TermYears = n
	}

	if strings.TrimSpace(in.StartDate) == "" {
		return d, &ValidationError{Field: "start_date", Reason: "required"}
	}
	start, err := ParseDate(strings.TrimSpace(in.StartDate))
	if err != nil {
		return d, &ValidationError{Field: "start_date", Reason: "not a date"}
	}
	d.StartDate = start

	var endPtr *time.Time
	if s := strings.TrimSpace(in.EndDate); s != "" {
		end, err := ParseDate(s)
		if err != nil {
			return d, &ValidationError{Field: "end_date", Reason: "not a date"}
		}
		endPtr = &end
	}
	end, ok := ResolveEndDate(start, endPtr, d.TermYears)
	if !ok {
		return d, &ValidationError{Field: "end_date", Reason: "required unless term_years is given"}
	}
	if !end.After(start) {
		return d, &ValidationError{Field: "end_date", Reason: "date ordering violation: end must be after start"}
	}
	d.EndDate = end

	premium, err := parsePremium(in.NetPremium, in.TaxAmount, in.GrossPremium)
	if err != nil {
		return d, err
	}
	d.Premium = premium

	d.ContactName = strings.TrimSpace(in.ContactName)
	d.ContactEmail = strings.TrimSpace(in.ContactEmail)
	d.ContactPhone = strings.TrimSpace(in.ContactPhone)
	if len(in.Details) > 0 {
		d.Details = make(map[string]string, len(in.Details))
		for k, v := range in.Details {
			d.Details[k] = v
		}
	}

	return d, nil
}

// Policy builds an active policy row from the draft.
func (d PolicyDraft) Policy(businessType string, previousID *int64, now time.Time) Policy {
	return Policy{
		Type:               d.Type,
		PolicyNumber:       d.PolicyNumber,
		Holder:             d.Holder,
		InsuranceCompanyID: d.InsuranceCompanyID,
		BusinessType:       businessType,
		StartDate:          d.StartDate,
		EndDate:            d.EndDate,
		TermYears:          d.TermYears,
		Premium:            d.Premium,
		Status:             StatusActive,
		PreviousPolicyID:   previousID,
		DocumentRef:        d.DocumentRef,
		ContactName:        d.ContactName,
		ContactEmail:       d.ContactEmail,
		ContactPhone:       d.ContactPhone,
		Details:            d.Details,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func parseHolder(customerType, companyID, consumerID string) (Holder, error) {
	companyID = strings.TrimSpace(companyID)
	consumerID = strings.TrimSpace(consumerID)

	if companyID == "" && consumerID == "" {
		return Holder{}, &ValidationError{Field: "holder", Reason: "missing holder: one of company_id or consumer_id is required"}
	}
	if companyID != "" && consumerID != "" {
		return Holder{}, &ValidationError{Field: "holder", Reason: "company_id and consumer_id are mutually exclusive"}
	}

	var h Holder
	switch {
	case strings.EqualFold(customerType, string(CustomerOrganisation)):
		if companyID == "" {
			return Holder{}, &ValidationError{Field: "company_id", Reason: "required for Organisation customers"}
		}
		id, err := parseID("company_id", companyID)
		if err != nil {
			return Holder{}, err
		}
		h = OrganisationHolder(id)
	case strings.EqualFold(customerType, string(CustomerIndividual)):
		if consumerID == "" {
			return Holder{}, &ValidationError{Field: "consumer_id", Reason: "required for Individual customers"}
		}
		id, err := parseID("consumer_id", consumerID)
		if err != nil {
			return Holder{}, err
		}
		h = IndividualHolder(id)
	default:
		return Holder{}, &ValidationError{Field: "customer_type", Reason: "must be Organisation or Individual"}
	}
	return h, h.Validate()
}

func parseID(field, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, &ValidationError{Field: field, Reason: "must be a positive integer"}
	}
	return id, nil
}

func parsePremium(net, tax, gross string) (Premium, error) {
	n, err := parseMoney("net_premium", net)
	if err != nil {
		return Premium{}, err
	}
	t, err := parseMoney("tax_amount", tax)
	if err != nil {
		return Premium{}, err
	}
	p := NewPremium(n, t)
	if strings.TrimSpace(gross) == "" {
		return p, nil
	}
	g, err := parseMoney("gross_premium", gross)
	if err != nil {
		return Premium{}, err
	}
	p.Gross = g
	if !p.Consistent() {
		return Premium{}, &ValidationError{Field: "gross_premium", Reason: "must equal net_premium + tax_amount"}
	}
	return p, nil
}

func parseMoney(field, s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, &ValidationError{Field: field, Reason: "required"}
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &ValidationError{Field: field, Reason: "not a number"}
	}
	if v.IsNegative() {
		return decimal.Zero, &ValidationError{Field: field, Reason: "must not be negative"}
	}
	return v, nil
}
