package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/warp/renewal-engine/renewal"
)

// =============================================================================
// HOLDERS (renewal.HolderResolver interface)
// =============================================================================

type contactRow struct {
	Name  string `db:"name"`
	Email string `db:"email"`
	Phone string `db:"phone"`
}

func (s *Store) CompanyContact(ctx context.Context, id int64) (*renewal.Contact, error) {
	return s.contact(ctx, "companies", id)
}

func (s *Store) ConsumerContact(ctx context.Context, id int64) (*renewal.Contact, error) {
	return s.contact(ctx, "consumers", id)
}

func (s *Store) SaveCompany(ctx context.Context, id int64, c renewal.Contact) error {
	return s.saveContact(ctx, "companies", id, c)
}

func (s *Store) SaveConsumer(ctx context.Context, id int64, c renewal.Contact) error {
	return s.saveContact(ctx, "consumers", id, c)
}

// table is one of two constants above.
func (s *Store) contact(ctx context.Context, table string, id int64) (*renewal.Contact, error) {
	defer s.readLock()()

	var row contactRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind("SELECT name, email, phone FROM "+table+" WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %d", renewal.ErrHolderNotFound, table, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s contact: %w", table, err)
	}
	return &renewal.Contact{Name: row.Name, Email: row.Email, Phone: row.Phone}, nil
}

func (s *Store) saveContact(ctx context.Context, table string, id int64, c renewal.Contact) error {
	defer s.writeLock()()

	query := `
		INSERT INTO ` + table + ` (id, name, email, phone)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			phone = excluded.phone
	`
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), id, c.Name, c.Email, c.Phone); err != nil {
		return fmt.Errorf("failed to save %s contact: %w", table, err)
	}
	return nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

type auditRow struct {
	ID          string `db:"id"`
	At          string `db:"at"`
	Action      string `db:"action"`
	PolicyType  string `db:"policy_type"`
	PolicyID    int64  `db:"policy_id"`
	PayloadJSON string `db:"payload_json"`
}

func (s *Store) AppendAudit(ctx context.Context, entry renewal.AuditEntry) error {
	defer s.writeLock()()
	return appendAudit(ctx, s.db, entry)
}

func appendAudit(ctx context.Context, q querier, entry renewal.AuditEntry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode audit payload: %w", err)
	}
	_, err = q.ExecContext(ctx, q.Rebind(`
		INSERT INTO audit_log (id, at, action, policy_type, policy_id, payload_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`), entry.ID, formatTime(entry.At), string(entry.Action), string(entry.PolicyType), entry.PolicyID, string(payload))
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// ListAudit returns audit entries for a policy type, oldest first. An empty
// type returns everything.
func (s *Store) ListAudit(ctx context.Context, t renewal.PolicyType) ([]renewal.AuditEntry, error) {
	defer s.readLock()()

	query := "SELECT id, at, action, policy_type, policy_id, payload_json FROM audit_log"
	var args []any
	if t != "" {
		query += " WHERE policy_type = ?"
		args = append(args, string(t))
	}
	query += " ORDER BY at ASC, id ASC"

	var rows []auditRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list audit log: %w", err)
	}

	out := make([]renewal.AuditEntry, 0, len(rows))
	for _, r := range rows {
		e := renewal.AuditEntry{
			ID:         r.ID,
			At:         parseTime(r.At),
			Action:     renewal.AuditAction(r.Action),
			PolicyType: renewal.PolicyType(r.PolicyType),
			PolicyID:   r.PolicyID,
		}
		if err := json.Unmarshal([]byte(r.PayloadJSON), &e.Payload); err != nil {
			return nil, fmt.Errorf("audit entry %s: bad payload: %w", r.ID, err)
		}
		out = append(out, e)
	}
	return out, nil
}
