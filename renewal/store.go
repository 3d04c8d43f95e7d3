/*
store.go - Persistence interfaces for the renewal engine

PURPOSE:
  Defines the boundary between the renewal logic and the relational store.
  The engine never reaches for a global model registry; every component is
  handed the narrow interface it needs at construction time.

KEY INTERFACES:
  PolicyStore:      Active + archive tables and the audit log
  TxStore:          PolicyStore with an atomic WithTx
  ConfigStore:      RenewalConfig lookup and admin writes
  ReminderLogStore: Append-only reminder log
  HolderResolver:   Company / consumer contact lookup

APPEND-ONLY CONTRACT:
  - Archive rows: InsertArchive only. No update, no delete.
  - Reminder log: AppendReminderLog only.
  - Audit log:    AppendAudit only.

IMPLEMENTATIONS:
  - store/sqldb: SQLite and PostgreSQL via sqlx
  - renewal/store: In-memory for tests and local runs
*/
package renewal

import (
	"context"
	"time"
)

// =============================================================================
// POLICY STORE
// =============================================================================

type PolicyReader interface {
	// GetPolicy returns ErrPolicyNotFound when the active row does not exist.
	GetPolicy(ctx context.Context, t PolicyType, id int64) (*Policy, error)

	// ListExpiring returns active policies whose end date falls in [from, to]
	// (calendar dates, inclusive), ordered by end date.
	ListExpiring(ctx context.Context, t PolicyType, from, to time.Time) ([]Policy, error)
}

type ArchiveReader interface {
	GetArchived(ctx context.Context, t PolicyType, id int64) (*ArchivedPolicy, error)
	ListArchivedByOriginal(ctx context.Context, t PolicyType, originalID int64) ([]ArchivedPolicy, error)
}

type PolicyWriter interface {
	// LockPolicy reads the active row and, where the dialect supports it,
	// holds a row lock until the surrounding transaction ends.
	LockPolicy(ctx context.Context, t PolicyType, id int64) (*Policy, error)

	// InsertPolicy assigns p.ID.
	InsertPolicy(ctx context.Context, p *Policy) error
	UpdatePolicyStatus(ctx context.Context, t PolicyType, id int64, status Status, at time.Time) error

	// DeletePolicy hard-removes the active row. ErrPolicyNotFound if no row
	// was affected.
	DeletePolicy(ctx context.Context, t PolicyType, id int64) error

	// InsertArchive assigns a.ID.
	InsertArchive(ctx context.Context, a *ArchivedPolicy) error

	AppendAudit(ctx context.Context, entry AuditEntry) error
}

type PolicyStore interface {
	PolicyReader
	ArchiveReader
	PolicyWriter
}

// TxStore runs fn inside a single database transaction. If fn returns an
// error, nothing fn wrote survives.
type TxStore interface {
	PolicyStore
	WithTx(ctx context.Context, fn func(PolicyStore) error) error
}

// =============================================================================
// CONFIG STORE
// =============================================================================

type ConfigStore interface {
	// GetConfig returns ErrConfigNotFound when no row exists.
	GetConfig(ctx context.Context, serviceType PolicyType) (*RenewalConfig, error)
	SaveConfig(ctx context.Context, cfg RenewalConfig) error
	ListConfigs(ctx context.Context) ([]RenewalConfig, error)
}

// =============================================================================
// REMINDER LOG STORE
// =============================================================================

type ReminderLogReader interface {
	// HasReminderSince reports whether any log row, whatever its status,
	// exists for the policy with sent_at >= since.
	HasReminderSince(ctx context.Context, t PolicyType, policyID int64, since time.Time) (bool, error)
}

type ReminderLogStore interface {
	ReminderLogReader

	// AppendReminderLog assigns l.ID. Returns ErrDuplicateReminder when a row
	// already exists for the same policy and SentDay.
	AppendReminderLog(ctx context.Context, l *ReminderLog) error
	ListReminderLogs(ctx context.Context, filter ReminderLogFilter) ([]ReminderLog, error)
}

// =============================================================================
// HOLDER RESOLVER
// =============================================================================

type HolderResolver interface {
	CompanyContact(ctx context.Context, companyID int64) (*Contact, error)
	ConsumerContact(ctx context.Context, consumerID int64) (*Contact, error)
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// NotificationSender delivers one reminder. A nil error means the message was
// accepted; the receipt carries the provider's message id.
type NotificationSender interface {
	Send(ctx context.Context, kind TemplateKind, to Recipient, payload ReminderPayload) (SendReceipt, error)
}

// RunLock prevents overlapping reminder runs across processes. Acquire
// returns ErrRunInProgress if another holder owns the key.
type RunLock interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}
