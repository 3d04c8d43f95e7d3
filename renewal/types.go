/*
Package renewal provides the policy renewal lifecycle engine.

PURPOSE:
  This package owns the two pieces of the insurance backend that carry real
  invariants: the renewal transaction (archive the expiring policy, create
  its successor, atomically) and the reminder scheduler (decide once per day
  whether a holder must be told that a policy, license or certificate is
  about to expire).

KEY CONCEPTS IN THIS FILE (types.go):
  - PolicyType: Line of business or license kind; also the config key
  - Holder: Organisation(company) | Individual(consumer), exactly one
  - Premium: Net + Tax = Gross, decimal arithmetic
  - Policy / ArchivedPolicy: Active row and its immutable snapshot
  - ReminderLog: Append-only record of every reminder attempt

DESIGN PRINCIPLES:
  1. Validate once at the boundary (input.go), carry typed values after
  2. Archive rows are never updated or deleted
  3. The reminder log is the only dedup state (no "next reminder" pointer)

SEE ALSO:
  - expiry.go: Days-until-expiry and end date derivation
  - eligibility.go: Is a reminder due today?
  - reminder.go: Batch reminder runner
  - transactor.go: Renew / cancel state transitions
*/
package renewal

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// POLICY TYPE - Line of business or license kind
// =============================================================================

// PolicyType identifies a tracked product. It is also the service-type key
// used by RenewalConfig.
type PolicyType string

const (
	TypeFire                 PolicyType = "fire"
	TypeHealth               PolicyType = "health"
	TypeLife                 PolicyType = "life"
	TypeVehicle              PolicyType = "vehicle"
	TypeEmployeeCompensation PolicyType = "employee_compensation"
	TypeDSC                  PolicyType = "dsc"
	TypeLabourLicense        PolicyType = "labour_license"
)

// AllPolicyTypes lists every tracked type in a stable order.
var AllPolicyTypes = []PolicyType{
	TypeFire,
	TypeHealth,
	TypeLife,
	TypeVehicle,
	TypeEmployeeCompensation,
	TypeDSC,
	TypeLabourLicense,
}

// ParsePolicyType converts a raw string into a known PolicyType.
func ParsePolicyType(s string) (PolicyType, error) {
	for _, t := range AllPolicyTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicyType, s)
}

// IsLicense reports whether the type is a license or certificate rather than
// an insurance line of business.
func (t PolicyType) IsLicense() bool {
	return t == TypeDSC || t == TypeLabourLicense
}

// TemplateKind returns the notification template used for reminders.
func (t PolicyType) TemplateKind() TemplateKind {
	if t.IsLicense() {
		return TemplateLicenseRenewal
	}
	return TemplatePolicyRenewal
}

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

const (
	BusinessNew     = "New"
	BusinessRenewal = "Renewal/Rollover"
)

// =============================================================================
// HOLDER - Exactly one of company or consumer
// =============================================================================

type CustomerType string

const (
	CustomerOrganisation CustomerType = "Organisation"
	CustomerIndividual   CustomerType = "Individual"
)

// Holder is the tagged union {Organisation(companyID) | Individual(consumerID)}.
// Build it with OrganisationHolder or IndividualHolder; the zero value is invalid.
type Holder struct {
	Type       CustomerType
	CompanyID  int64
	ConsumerID int64
}

func OrganisationHolder(companyID int64) Holder {
	return Holder{Type: CustomerOrganisation, CompanyID: companyID}
}

func IndividualHolder(consumerID int64) Holder {
	return Holder{Type: CustomerIndividual, ConsumerID: consumerID}
}

// Validate enforces the mutual exclusion between the two references.
func (h Holder) Validate() error {
	switch h.Type {
	case CustomerOrganisation:
		if h.CompanyID <= 0 || h.ConsumerID != 0 {
			return &ValidationError{Field: "company_id", Reason: "organisation holder requires exactly a company reference"}
		}
	case CustomerIndividual:
		if h.ConsumerID <= 0 || h.CompanyID != 0 {
			return &ValidationError{Field: "consumer_id", Reason: "individual holder requires exactly a consumer reference"}
		}
	default:
		return &ValidationError{Field: "customer_type", Reason: fmt.Sprintf("unknown customer type %q", h.Type)}
	}
	return nil
}

func (h Holder) String() string {
	if h.Type == CustomerOrganisation {
		return fmt.Sprintf("company:%d", h.CompanyID)
	}
	return fmt.Sprintf("consumer:%d", h.ConsumerID)
}

// =============================================================================
// PREMIUM - Gross = Net + Tax
// =============================================================================

// PremiumTolerance is the maximum accepted |gross - (net + tax)|.
var PremiumTolerance = decimal.NewFromFloat(0.01)

type Premium struct {
	Net   decimal.Decimal
	Tax   decimal.Decimal
	Gross decimal.Decimal
}

// NewPremium computes gross from net and tax.
func NewPremium(net, tax decimal.Decimal) Premium {
	return Premium{Net: net, Tax: tax, Gross: net.Add(tax)}
}

// Consistent reports whether gross matches net + tax within tolerance.
func (p Premium) Consistent() bool {
	return p.Gross.Sub(p.Net.Add(p.Tax)).Abs().LessThanOrEqual(PremiumTolerance)
}

// =============================================================================
// POLICY
// =============================================================================

// Policy is a row in an active table. One active table exists per PolicyType.
type Policy struct {
	ID                 int64
	Type               PolicyType
	PolicyNumber       string
	Holder             Holder
	InsuranceCompanyID *int64
	BusinessType       string
	StartDate          time.Time
	EndDate            time.Time
	TermYears          int
	Premium            Premium
	Status             Status
	PreviousPolicyID   *int64
	DocumentRef        string

	// Contact embedded on the policy, used when the holder record has none.
	ContactName  string
	ContactEmail string
	ContactPhone string

	Details map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ArchivedPolicy is the immutable snapshot taken at renewal time.
type ArchivedPolicy struct {
	ID               int64
	Policy           Policy
	OriginalPolicyID int64
	RenewedAt        time.Time
}

// =============================================================================
// CONTACT / NOTIFICATION TYPES
// =============================================================================

// Contact is what the holder resolver returns.
type Contact struct {
	Name  string
	Email string
	Phone string
}

type TemplateKind string

const (
	TemplatePolicyRenewal  TemplateKind = "policy_renewal_reminder"
	TemplateLicenseRenewal TemplateKind = "license_renewal_reminder"
)

// Recipient is the resolved destination of a reminder.
type Recipient struct {
	Name  string
	Email string
	Phone string
}

// ReminderPayload is everything a template needs to render a reminder.
type ReminderPayload struct {
	PolicyType     PolicyType
	PolicyID       int64
	PolicyNumber   string
	HolderName     string
	StartDate      time.Time
	ExpiryDate     time.Time
	DaysRemaining  int
	ReminderNumber int
	ReminderTimes  int
	NetPremium     decimal.Decimal
	TaxAmount      decimal.Decimal
	GrossPremium   decimal.Decimal
}

// SendReceipt is the sender's acknowledgement of an accepted message.
type SendReceipt struct {
	MessageID string
}

// =============================================================================
// REMINDER LOG - Append-only
// =============================================================================

type ReminderStatus string

const (
	ReminderSent      ReminderStatus = "sent"
	ReminderDelivered ReminderStatus = "delivered"
	ReminderFailed    ReminderStatus = "failed"
	ReminderOpened    ReminderStatus = "opened"
	ReminderClicked   ReminderStatus = "clicked"
)

type ReminderLog struct {
	ID              int64
	PolicyID        int64
	PolicyType      PolicyType
	SentAt          time.Time
	SentDay         string // YYYY-MM-DD in the runner's time zone
	DaysUntilExpiry int
	ReminderNumber  int
	Status          ReminderStatus
	MessageID       string
	Error           string
	RecipientName   string
	RecipientEmail  string
	RecipientPhone  string
}

// ReminderLogFilter narrows ListReminderLogs. Zero fields are ignored.
type ReminderLogFilter struct {
	PolicyType PolicyType
	PolicyID   int64
	Since      *time.Time
	Limit      int
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditAction string

const (
	AuditPolicyIssued    AuditAction = "policy_issued"
	AuditPolicyRenewed   AuditAction = "policy_renewed"
	AuditPolicyCancelled AuditAction = "policy_cancelled"
)

type AuditEntry struct {
	ID         string
	At         time.Time
	Action     AuditAction
	PolicyType PolicyType
	PolicyID   int64
	Payload    map[string]string
}
