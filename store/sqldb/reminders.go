package sqldb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/warp/renewal-engine/renewal"
)

// =============================================================================
// REMINDER LOG STORE (renewal.ReminderLogStore interface)
// =============================================================================

type reminderLogRow struct {
	ID              int64  `db:"id"`
	PolicyID        int64  `db:"policy_id"`
	PolicyType      string `db:"policy_type"`
	SentAt          string `db:"sent_at"`
	SentDay         string `db:"sent_day"`
	DaysUntilExpiry int    `db:"days_until_expiry"`
	ReminderNumber  int    `db:"reminder_number"`
	Status          string `db:"status"`
	MessageID       string `db:"message_id"`
	Error           string `db:"error"`
	RecipientName   string `db:"recipient_name"`
	RecipientEmail  string `db:"recipient_email"`
	RecipientPhone  string `db:"recipient_phone"`
}

const reminderLogColumns = `policy_id, policy_type, sent_at, sent_day, days_until_expiry, reminder_number,
	status, message_id, error, recipient_name, recipient_email, recipient_phone`

// HasReminderSince checks for any row, whatever its status.
func (s *Store) HasReminderSince(ctx context.Context, t renewal.PolicyType, policyID int64, since time.Time) (bool, error) {
	defer s.readLock()()

	var count int
	err := s.db.GetContext(ctx, &count, s.db.Rebind(`
		SELECT COUNT(*) FROM reminder_logs
		WHERE policy_type = ? AND policy_id = ? AND sent_at >= ?
	`), string(t), policyID, formatTime(since))
	if err != nil {
		return false, fmt.Errorf("failed to check reminder log: %w", err)
	}
	return count > 0, nil
}

// AppendReminderLog inserts one row. The unique (type, policy, day) index
// turns a concurrent second insert into ErrDuplicateReminder.
func (s *Store) AppendReminderLog(ctx context.Context, l *renewal.ReminderLog) error {
	defer s.writeLock()()

	if l.SentDay == "" {
		l.SentDay = l.SentAt.UTC().Format(renewal.DateLayout)
	}

	query := `
		INSERT INTO reminder_logs (` + reminderLogColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(query),
		l.PolicyID,
		string(l.PolicyType),
		formatTime(l.SentAt),
		l.SentDay,
		l.DaysUntilExpiry,
		l.ReminderNumber,
		string(l.Status),
		l.MessageID,
		l.Error,
		l.RecipientName,
		l.RecipientEmail,
		l.RecipientPhone,
	).Scan(&l.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s/%d on %s", renewal.ErrDuplicateReminder, l.PolicyType, l.PolicyID, l.SentDay)
		}
		return fmt.Errorf("failed to append reminder log: %w", err)
	}
	return nil
}

// ListReminderLogs returns matching rows, newest first.
func (s *Store) ListReminderLogs(ctx context.Context, f renewal.ReminderLogFilter) ([]renewal.ReminderLog, error) {
	defer s.readLock()()

	var (
		where []string
		args  []any
	)
	if f.PolicyType != "" {
		where = append(where, "policy_type = ?")
		args = append(args, string(f.PolicyType))
	}
	if f.PolicyID != 0 {
		where = append(where, "policy_id = ?")
		args = append(args, f.PolicyID)
	}
	if f.Since != nil {
		where = append(where, "sent_at >= ?")
		args = append(args, formatTime(*f.Since))
	}

	query := "SELECT id, " + reminderLogColumns + " FROM reminder_logs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY sent_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	var rows []reminderLogRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list reminder logs: %w", err)
	}

	out := make([]renewal.ReminderLog, 0, len(rows))
	for _, r := range rows {
		out = append(out, renewal.ReminderLog{
			ID:              r.ID,
			PolicyID:        r.PolicyID,
			PolicyType:      renewal.PolicyType(r.PolicyType),
			SentAt:          parseTime(r.SentAt),
			SentDay:         r.SentDay,
			DaysUntilExpiry: r.DaysUntilExpiry,
			ReminderNumber:  r.ReminderNumber,
			Status:          renewal.ReminderStatus(r.Status),
			MessageID:       r.MessageID,
			Error:           r.Error,
			RecipientName:   r.RecipientName,
			RecipientEmail:  r.RecipientEmail,
			RecipientPhone:  r.RecipientPhone,
		})
	}
	return out, nil
}
