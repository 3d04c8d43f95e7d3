/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Policy:    PolicyDTO, ArchivedPolicyDTO, RenewalDTO, LineageDTO
  Reminders: EligibleDTO, ReminderLogDTO, RunDTO
  Configs:   factory.ConfigJSON (request and response)

  Policy request bodies are renewal.PolicyInput: raw strings, validated by
  PolicyInput.Normalize, never in the handler.

MONEY AND DATES:
  Money is a decimal string with two places ("1180.00"). Dates are
  YYYY-MM-DD. Timestamps are RFC3339.

SEE ALSO:
  - handlers.go: Uses these types
  - renewal/input.go: PolicyInput
*/
package api

import (
	"time"

	"github.com/warp/renewal-engine/renewal"
)

// =============================================================================
// POLICY TYPES
// =============================================================================

type PolicyDTO struct {
	ID                 int64             `json:"id"`
	Type               string            `json:"type"`
	PolicyNumber       string            `json:"policy_number"`
	CustomerType       string            `json:"customer_type"`
	CompanyID          *int64            `json:"company_id"`
	ConsumerID         *int64            `json:"consumer_id"`
	InsuranceCompanyID *int64            `json:"insurance_company_id,omitempty"`
	BusinessType       string            `json:"business_type"`
	StartDate          string            `json:"start_date"`
	EndDate            string            `json:"end_date"`
	TermYears          int               `json:"term_years,omitempty"`
	NetPremium         string            `json:"net_premium"`
	TaxAmount          string            `json:"tax_amount"`
	GrossPremium       string            `json:"gross_premium"`
	Status             string            `json:"status"`
	PreviousPolicyID   *int64            `json:"previous_policy_id"`
	DocumentRef        string            `json:"document_ref"`
	ContactName        string            `json:"contact_name,omitempty"`
	ContactEmail       string            `json:"contact_email,omitempty"`
	ContactPhone       string            `json:"contact_phone,omitempty"`
	Details            map[string]string `json:"details,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

type ArchivedPolicyDTO struct {
	ID               int64     `json:"id"`
	OriginalPolicyID int64     `json:"original_policy_id"`
	RenewedAt        time.Time `json:"renewed_at"`
	Policy           PolicyDTO `json:"policy"`
}

type RenewalDTO struct {
	Archived     ArchivedPolicyDTO `json:"archived"`
	Policy       PolicyDTO         `json:"policy"`
	PremiumDelta string            `json:"premium_delta"`
}

type LineageDTO struct {
	Current PolicyDTO           `json:"current"`
	History []ArchivedPolicyDTO `json:"history"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

// =============================================================================
// REMINDER TYPES
// =============================================================================

type EligibleDTO struct {
	PolicyDTO
	DaysUntilExpiry int `json:"days_until_expiry"`
}

type ReminderLogDTO struct {
	ID              int64     `json:"id"`
	PolicyID        int64     `json:"policy_id"`
	PolicyType      string    `json:"policy_type"`
	SentAt          time.Time `json:"sent_at"`
	DaysUntilExpiry int       `json:"days_until_expiry"`
	ReminderNumber  int       `json:"reminder_number"`
	Status          string    `json:"status"`
	MessageID       string    `json:"message_id,omitempty"`
	Error           string    `json:"error,omitempty"`
	RecipientName   string    `json:"recipient_name,omitempty"`
	RecipientEmail  string    `json:"recipient_email,omitempty"`
	RecipientPhone  string    `json:"recipient_phone,omitempty"`
}

// RunDTO describes one reminder run.
type RunDTO struct {
	Trigger string             `json:"trigger"`
	Summary renewal.RunSummary `json:"summary"`
	Error   string             `json:"error,omitempty"`
}

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// ScenarioResultDTO lists the active policies a scenario left behind.
type ScenarioResultDTO struct {
	Scenario string      `json:"scenario"`
	Policies []PolicyDTO `json:"policies"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION
// =============================================================================

func toPolicyDTO(p renewal.Policy) PolicyDTO {
	dto := PolicyDTO{
		ID:                 p.ID,
		Type:               string(p.Type),
		PolicyNumber:       p.PolicyNumber,
		CustomerType:       string(p.Holder.Type),
		InsuranceCompanyID: p.InsuranceCompanyID,
		BusinessType:       p.BusinessType,
		StartDate:          p.StartDate.Format(renewal.DateLayout),
		EndDate:            p.EndDate.Format(renewal.DateLayout),
		TermYears:          p.TermYears,
		NetPremium:         p.Premium.Net.StringFixed(2),
		TaxAmount:          p.Premium.Tax.StringFixed(2),
		GrossPremium:       p.Premium.Gross.StringFixed(2),
		Status:             string(p.Status),
		PreviousPolicyID:   p.PreviousPolicyID,
		DocumentRef:        p.DocumentRef,
		ContactName:        p.ContactName,
		ContactEmail:       p.ContactEmail,
		ContactPhone:       p.ContactPhone,
		Details:            p.Details,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
	switch p.Holder.Type {
	case renewal.CustomerOrganisation:
		id := p.Holder.CompanyID
		dto.CompanyID = &id
	case renewal.CustomerIndividual:
		id := p.Holder.ConsumerID
		dto.ConsumerID = &id
	}
	return dto
}

func toArchivedDTO(a renewal.ArchivedPolicy) ArchivedPolicyDTO {
	return ArchivedPolicyDTO{
		ID:               a.ID,
		OriginalPolicyID: a.OriginalPolicyID,
		RenewedAt:        a.RenewedAt,
		Policy:           toPolicyDTO(a.Policy),
	}
}

func toReminderLogDTO(l renewal.ReminderLog) ReminderLogDTO {
	return ReminderLogDTO{
		ID:              l.ID,
		PolicyID:        l.PolicyID,
		PolicyType:      string(l.PolicyType),
		SentAt:          l.SentAt,
		DaysUntilExpiry: l.DaysUntilExpiry,
		ReminderNumber:  l.ReminderNumber,
		Status:          string(l.Status),
		MessageID:       l.MessageID,
		Error:           l.Error,
		RecipientName:   l.RecipientName,
		RecipientEmail:  l.RecipientEmail,
		RecipientPhone:  l.RecipientPhone,
	}
}
