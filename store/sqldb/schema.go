package sqldb

import (
	"context"
	"fmt"
	"strings"

	"github.com/warp/renewal-engine/renewal"
)

// activeTable and archiveTable are derived from a validated PolicyType only,
// never from raw input, so they are safe to splice into SQL.
func activeTable(t renewal.PolicyType) (string, error) {
	if _, err := renewal.ParsePolicyType(string(t)); err != nil {
		return "", err
	}
	return string(t) + "_policies", nil
}

func archiveTable(t renewal.PolicyType) (string, error) {
	if _, err := renewal.ParsePolicyType(string(t)); err != nil {
		return "", err
	}
	return "previous_" + string(t) + "_policies", nil
}

// Shared by active and archive tables.
const policyColumnsDDL = `
		policy_number TEXT NOT NULL,
		customer_type TEXT NOT NULL,
		company_id BIGINT,
		consumer_id BIGINT,
		insurance_company_id BIGINT,
		business_type TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		term_years INTEGER NOT NULL DEFAULT 0,
		net_premium TEXT NOT NULL,
		tax_amount TEXT NOT NULL,
		gross_premium TEXT NOT NULL,
		status TEXT NOT NULL,
		previous_policy_id BIGINT,
		document_ref TEXT NOT NULL,
		contact_name TEXT NOT NULL DEFAULT '',
		contact_email TEXT NOT NULL DEFAULT '',
		contact_phone TEXT NOT NULL DEFAULT '',
		details_json TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		-- Exactly one holder
		CHECK ((company_id IS NULL) <> (consumer_id IS NULL))`

func (s *Store) schema() string {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.dialect == Postgres {
		pk = "BIGSERIAL PRIMARY KEY"
	}

	var b strings.Builder
	for _, t := range renewal.AllPolicyTypes {
		active, _ := activeTable(t)
		archive, _ := archiveTable(t)

		fmt.Fprintf(&b, `
	-- %[1]s: active policies
	CREATE TABLE IF NOT EXISTS %[2]s (
		id %[4]s,%[5]s
	);

	-- Hot path for the reminder scan
	CREATE INDEX IF NOT EXISTS idx_%[2]s_status_end
		ON %[2]s(status, end_date);

	-- A number is unique among active terms; the archive repeats them.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_%[2]s_number
		ON %[2]s(policy_number);

	-- %[1]s: archive (append-only)
	CREATE TABLE IF NOT EXISTS %[3]s (
		id %[4]s,
		original_policy_id BIGINT NOT NULL,
		renewed_at TEXT NOT NULL,%[5]s
	);

	CREATE INDEX IF NOT EXISTS idx_%[3]s_original
		ON %[3]s(original_policy_id);
`, t, active, archive, pk, policyColumnsDDL)
	}

	fmt.Fprintf(&b, `
	-- Reminder cadence per service type
	CREATE TABLE IF NOT EXISTS renewal_configs (
		service_type TEXT PRIMARY KEY,
		reminder_times INTEGER NOT NULL,
		reminder_days INTEGER NOT NULL,
		thresholds TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at TEXT NOT NULL
	);

	-- Reminder log (append-only)
	CREATE TABLE IF NOT EXISTS reminder_logs (
		id %[1]s,
		policy_id BIGINT NOT NULL,
		policy_type TEXT NOT NULL,
		sent_at TEXT NOT NULL,
		sent_day TEXT NOT NULL,
		days_until_expiry INTEGER NOT NULL,
		reminder_number INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		message_id TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		recipient_name TEXT NOT NULL DEFAULT '',
		recipient_email TEXT NOT NULL DEFAULT '',
		recipient_phone TEXT NOT NULL DEFAULT ''
	);

	-- CRITICAL: at most one reminder per policy per day, whatever its status.
	-- Closes the race between two overlapping runs.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_reminder_logs_policy_day
		ON reminder_logs(policy_type, policy_id, sent_day);

	-- Dedup check: latest log for a policy
	CREATE INDEX IF NOT EXISTS idx_reminder_logs_policy_sent
		ON reminder_logs(policy_type, policy_id, sent_at);

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		at TEXT NOT NULL,
		action TEXT NOT NULL,
		policy_type TEXT NOT NULL,
		policy_id BIGINT NOT NULL,
		payload_json TEXT NOT NULL DEFAULT '{}'
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_policy
		ON audit_log(policy_type, policy_id);

	-- Holders
	CREATE TABLE IF NOT EXISTS companies (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS consumers (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT ''
	);
`, pk)

	return b.String()
}

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	defer s.writeLock()()
	_, err := s.db.ExecContext(ctx, s.schema())
	return err
}
