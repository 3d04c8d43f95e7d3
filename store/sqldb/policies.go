package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/renewal-engine/renewal"
)

// =============================================================================
// POLICY STORE (renewal.PolicyStore interface)
// =============================================================================

const policyColumns = `policy_number, customer_type, company_id, consumer_id, insurance_company_id,
	business_type, start_date, end_date, term_years, net_premium, tax_amount, gross_premium,
	status, previous_policy_id, document_ref, contact_name, contact_email, contact_phone,
	details_json, created_at, updated_at`

type policyRow struct {
	ID                 int64         `db:"id"`
	PolicyNumber       string        `db:"policy_number"`
	CustomerType       string        `db:"customer_type"`
	CompanyID          sql.NullInt64 `db:"company_id"`
	ConsumerID         sql.NullInt64 `db:"consumer_id"`
	InsuranceCompanyID sql.NullInt64 `db:"insurance_company_id"`
	BusinessType       string        `db:"business_type"`
	StartDate          string        `db:"start_date"`
	EndDate            string        `db:"end_date"`
	TermYears          int           `db:"term_years"`
	NetPremium         string        `db:"net_premium"`
	TaxAmount          string        `db:"tax_amount"`
	GrossPremium       string        `db:"gross_premium"`
	Status             string        `db:"status"`
	PreviousPolicyID   sql.NullInt64 `db:"previous_policy_id"`
	DocumentRef        string        `db:"document_ref"`
	ContactName        string        `db:"contact_name"`
	ContactEmail       string        `db:"contact_email"`
	ContactPhone       string        `db:"contact_phone"`
	DetailsJSON        string        `db:"details_json"`
	CreatedAt          string        `db:"created_at"`
	UpdatedAt          string        `db:"updated_at"`
}

type archiveRow struct {
	policyRow
	OriginalPolicyID int64  `db:"original_policy_id"`
	RenewedAt        string `db:"renewed_at"`
}

func (s *Store) GetPolicy(ctx context.Context, t renewal.PolicyType, id int64) (*renewal.Policy, error) {
	defer s.readLock()()
	return getPolicy(ctx, s.db, t, id, false)
}

// LockPolicy outside a transaction is a plain read.
func (s *Store) LockPolicy(ctx context.Context, t renewal.PolicyType, id int64) (*renewal.Policy, error) {
	return s.GetPolicy(ctx, t, id)
}

func (s *Store) ListExpiring(ctx context.Context, t renewal.PolicyType, from, to time.Time) ([]renewal.Policy, error) {
	defer s.readLock()()
	return listExpiring(ctx, s.db, t, from, to)
}

func (s *Store) GetArchived(ctx context.Context, t renewal.PolicyType, id int64) (*renewal.ArchivedPolicy, error) {
	defer s.readLock()()
	return getArchived(ctx, s.db, t, id)
}

func (s *Store) ListArchivedByOriginal(ctx context.Context, t renewal.PolicyType, originalID int64) ([]renewal.ArchivedPolicy, error) {
	defer s.readLock()()
	return listArchivedByOriginal(ctx, s.db, t, originalID)
}

func (s *Store) InsertPolicy(ctx context.Context, p *renewal.Policy) error {
	defer s.writeLock()()
	return insertPolicy(ctx, s.db, p)
}

func (s *Store) UpdatePolicyStatus(ctx context.Context, t renewal.PolicyType, id int64, status renewal.Status, at time.Time) error {
	defer s.writeLock()()
	return updatePolicyStatus(ctx, s.db, t, id, status, at)
}

func (s *Store) DeletePolicy(ctx context.Context, t renewal.PolicyType, id int64) error {
	defer s.writeLock()()
	return deletePolicy(ctx, s.db, t, id)
}

func (s *Store) InsertArchive(ctx context.Context, a *renewal.ArchivedPolicy) error {
	defer s.writeLock()()
	return insertArchive(ctx, s.db, a)
}

// =============================================================================
// QUERIES
// =============================================================================

func getPolicy(ctx context.Context, q querier, t renewal.PolicyType, id int64, forUpdate bool) (*renewal.Policy, error) {
	table, err := activeTable(t)
	if err != nil {
		return nil, err
	}
	query := "SELECT id, " + policyColumns + " FROM " + table + " WHERE id = ?"
	if forUpdate {
		query += " FOR UPDATE"
	}

	var row policyRow
	if err := q.GetContext(ctx, &row, q.Rebind(query), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%d", renewal.ErrPolicyNotFound, t, id)
		}
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}
	p, err := row.toPolicy(t)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func listExpiring(ctx context.Context, q querier, t renewal.PolicyType, from, to time.Time) ([]renewal.Policy, error) {
	table, err := activeTable(t)
	if err != nil {
		return nil, err
	}
	query := `
		SELECT id, ` + policyColumns + `
		FROM ` + table + `
		WHERE status = ? AND end_date >= ? AND end_date <= ?
		ORDER BY end_date ASC, id ASC
	`

	var rows []policyRow
	if err := q.SelectContext(ctx, &rows, q.Rebind(query),
		string(renewal.StatusActive), from.Format(renewal.DateLayout), to.Format(renewal.DateLayout),
	); err != nil {
		return nil, fmt.Errorf("failed to list expiring policies: %w", err)
	}

	out := make([]renewal.Policy, 0, len(rows))
	for _, row := range rows {
		p, err := row.toPolicy(t)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func insertPolicy(ctx context.Context, q querier, p *renewal.Policy) error {
	table, err := activeTable(p.Type)
	if err != nil {
		return err
	}
	row, err := fromPolicy(*p)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO ` + table + ` (` + policyColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	if err := q.QueryRowxContext(ctx, q.Rebind(query), row.args()...).Scan(&p.ID); err != nil {
		if isUniqueViolation(err) {
			return &renewal.DuplicatePolicyError{PolicyType: p.Type, PolicyNumber: p.PolicyNumber}
		}
		return fmt.Errorf("failed to insert policy: %w", err)
	}
	return nil
}

func updatePolicyStatus(ctx context.Context, q querier, t renewal.PolicyType, id int64, status renewal.Status, at time.Time) error {
	table, err := activeTable(t)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, q.Rebind("UPDATE "+table+" SET status = ?, updated_at = ? WHERE id = ?"),
		string(status), formatTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to update policy status: %w", err)
	}
	return expectOneRow(res, t, id)
}

func deletePolicy(ctx context.Context, q querier, t renewal.PolicyType, id int64) error {
	table, err := activeTable(t)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, q.Rebind("DELETE FROM "+table+" WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}
	return expectOneRow(res, t, id)
}

func getArchived(ctx context.Context, q querier, t renewal.PolicyType, id int64) (*renewal.ArchivedPolicy, error) {
	table, err := archiveTable(t)
	if err != nil {
		return nil, err
	}
	query := "SELECT id, original_policy_id, renewed_at, " + policyColumns + " FROM " + table + " WHERE id = ?"

	var row archiveRow
	if err := q.GetContext(ctx, &row, q.Rebind(query), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: archived %s/%d", renewal.ErrPolicyNotFound, t, id)
		}
		return nil, fmt.Errorf("failed to get archived policy: %w", err)
	}
	a, err := row.toArchived(t)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func listArchivedByOriginal(ctx context.Context, q querier, t renewal.PolicyType, originalID int64) ([]renewal.ArchivedPolicy, error) {
	table, err := archiveTable(t)
	if err != nil {
		return nil, err
	}
	query := "SELECT id, original_policy_id, renewed_at, " + policyColumns +
		" FROM " + table + " WHERE original_policy_id = ? ORDER BY id ASC"

	var rows []archiveRow
	if err := q.SelectContext(ctx, &rows, q.Rebind(query), originalID); err != nil {
		return nil, fmt.Errorf("failed to list archived policies: %w", err)
	}
	out := make([]renewal.ArchivedPolicy, 0, len(rows))
	for _, row := range rows {
		a, err := row.toArchived(t)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func insertArchive(ctx context.Context, q querier, a *renewal.ArchivedPolicy) error {
	table, err := archiveTable(a.Policy.Type)
	if err != nil {
		return err
	}
	row, err := fromPolicy(a.Policy)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO ` + table + ` (original_policy_id, renewed_at, ` + policyColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	args := append([]any{a.OriginalPolicyID, formatTime(a.RenewedAt)}, row.args()...)
	if err := q.QueryRowxContext(ctx, q.Rebind(query), args...).Scan(&a.ID); err != nil {
		return fmt.Errorf("failed to archive policy: %w", err)
	}
	return nil
}

// =============================================================================
// ROW MAPPING
// =============================================================================

func fromPolicy(p renewal.Policy) (policyRow, error) {
	details := "{}"
	if len(p.Details) > 0 {
		b, err := json.Marshal(p.Details)
		if err != nil {
			return policyRow{}, fmt.Errorf("failed to encode details: %w", err)
		}
		details = string(b)
	}

	row := policyRow{
		ID:                 p.ID,
		PolicyNumber:       p.PolicyNumber,
		CustomerType:       string(p.Holder.Type),
		InsuranceCompanyID: nullInt(p.InsuranceCompanyID),
		BusinessType:       p.BusinessType,
		StartDate:          p.StartDate.Format(renewal.DateLayout),
		EndDate:            p.EndDate.Format(renewal.DateLayout),
		TermYears:          p.TermYears,
		NetPremium:         p.Premium.Net.String(),
		TaxAmount:          p.Premium.Tax.String(),
		GrossPremium:       p.Premium.Gross.String(),
		Status:             string(p.Status),
		PreviousPolicyID:   nullInt(p.PreviousPolicyID),
		DocumentRef:        p.DocumentRef,
		ContactName:        p.ContactName,
		ContactEmail:       p.ContactEmail,
		ContactPhone:       p.ContactPhone,
		DetailsJSON:        details,
		CreatedAt:          formatTime(p.CreatedAt),
		UpdatedAt:          formatTime(p.UpdatedAt),
	}
	// The column of the other holder kind stays NULL.
	switch p.Holder.Type {
	case renewal.CustomerOrganisation:
		row.CompanyID = sql.NullInt64{Int64: p.Holder.CompanyID, Valid: true}
	case renewal.CustomerIndividual:
		row.ConsumerID = sql.NullInt64{Int64: p.Holder.ConsumerID, Valid: true}
	}
	return row, nil
}

// args matches the order of policyColumns.
func (r policyRow) args() []any {
	return []any{
		r.PolicyNumber, r.CustomerType, r.CompanyID, r.ConsumerID, r.InsuranceCompanyID,
		r.BusinessType, r.StartDate, r.EndDate, r.TermYears, r.NetPremium, r.TaxAmount, r.GrossPremium,
		r.Status, r.PreviousPolicyID, r.DocumentRef, r.ContactName, r.ContactEmail, r.ContactPhone,
		r.DetailsJSON, r.CreatedAt, r.UpdatedAt,
	}
}

func (r policyRow) toPolicy(t renewal.PolicyType) (renewal.Policy, error) {
	p := renewal.Policy{
		ID:                 r.ID,
		Type:               t,
		PolicyNumber:       r.PolicyNumber,
		InsuranceCompanyID: ptrInt(r.InsuranceCompanyID),
		BusinessType:       r.BusinessType,
		TermYears:          r.TermYears,
		Status:             renewal.Status(r.Status),
		PreviousPolicyID:   ptrInt(r.PreviousPolicyID),
		DocumentRef:        r.DocumentRef,
		ContactName:        r.ContactName,
		ContactEmail:       r.ContactEmail,
		ContactPhone:       r.ContactPhone,
	}

	switch renewal.CustomerType(r.CustomerType) {
	case renewal.CustomerOrganisation:
		p.Holder = renewal.OrganisationHolder(r.CompanyID.Int64)
	case renewal.CustomerIndividual:
		p.Holder = renewal.IndividualHolder(r.ConsumerID.Int64)
	default:
		return p, fmt.Errorf("policy %s/%d: unknown customer type %q", t, r.ID, r.CustomerType)
	}

	var err error
	if p.StartDate, err = time.Parse(renewal.DateLayout, r.StartDate); err != nil {
		return p, fmt.Errorf("policy %s/%d: bad start_date: %w", t, r.ID, err)
	}
	if p.EndDate, err = time.Parse(renewal.DateLayout, r.EndDate); err != nil {
		return p, fmt.Errorf("policy %s/%d: bad end_date: %w", t, r.ID, err)
	}
	if p.Premium.Net, err = decimal.NewFromString(r.NetPremium); err != nil {
		return p, fmt.Errorf("policy %s/%d: bad net_premium: %w", t, r.ID, err)
	}
	if p.Premium.Tax, err = decimal.NewFromString(r.TaxAmount); err != nil {
		return p, fmt.Errorf("policy %s/%d: bad tax_amount: %w", t, r.ID, err)
	}
	if p.Premium.Gross, err = decimal.NewFromString(r.GrossPremium); err != nil {
		return p, fmt.Errorf("policy %s/%d: bad gross_premium: %w", t, r.ID, err)
	}
	if r.DetailsJSON != "" && r.DetailsJSON != "{}" {
		if err := json.Unmarshal([]byte(r.DetailsJSON), &p.Details); err != nil {
			return p, fmt.Errorf("policy %s/%d: bad details_json: %w", t, r.ID, err)
		}
	}
	p.CreatedAt = parseTime(r.CreatedAt)
	p.UpdatedAt = parseTime(r.UpdatedAt)
	return p, nil
}

func (r archiveRow) toArchived(t renewal.PolicyType) (renewal.ArchivedPolicy, error) {
	// The snapshot keeps the id it had in the active table.
	snapshot := r.policyRow
	snapshot.ID = r.OriginalPolicyID
	p, err := snapshot.toPolicy(t)
	if err != nil {
		return renewal.ArchivedPolicy{}, err
	}
	return renewal.ArchivedPolicy{
		ID:               r.ID,
		Policy:           p,
		OriginalPolicyID: r.OriginalPolicyID,
		RenewedAt:        parseTime(r.RenewedAt),
	}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func expectOneRow(res sql.Result, t renewal.PolicyType, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%d", renewal.ErrPolicyNotFound, t, id)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func ptrInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
