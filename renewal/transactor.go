/*
transactor.go - Atomic policy state transitions

PURPOSE:
  Owns the only mutations of the active policy tables: issue, renew and
  cancel. Every transition runs inside one TxStore.WithTx, so a failure at
  any step leaves the original policy exactly as it was.

STATE MACHINE:
  active --(renew)-->  archived snapshot (expired) + new active successor
  active --(cancel)--> cancelled
  Both are terminal for the original row.

RENEWAL STEPS (one transaction):
  1. Lock and read the active row; it must be active.
  2. Snapshot it into the archive table with status expired,
     original_policy_id = old id, renewed_at = now.
  3. Delete the old active row.
  4. Insert the successor: business type Renewal/Rollover, status active,
     previous_policy_id = archive id.
  5. Audit: old/new policy numbers and the gross premium delta.

  Policy numbers are unique per type among active rows. The delete comes
  before the insert so the successor may reuse its predecessor's number.

SEE ALSO:
  - input.go: PolicyInput normalization, done before the transaction opens
  - store.go: TxStore contract
*/
package renewal

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/renewal-engine/metrics"
)

const (
	actionIssue  = "issue"
	actionRenew  = "renew"
	actionCancel = "cancel"

	maxLineageDepth = 1000
)

// RenewalResult is what a committed renewal returns.
type RenewalResult struct {
	Archived     ArchivedPolicy  `json:"archived"`
	Policy       Policy          `json:"policy"`
	PremiumDelta decimal.Decimal `json:"premium_delta"`
}

// Lineage is a policy and the archived terms it replaced, newest first.
type Lineage struct {
	Current Policy           `json:"current"`
	History []ArchivedPolicy `json:"history"`
}

type Transactor struct {
	Store   TxStore
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func NewTransactor(store TxStore, logger *zap.Logger, m *metrics.Metrics) *Transactor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transactor{Store: store, Logger: logger, Metrics: m, Now: time.Now}
}

// =============================================================================
// RENEW
// =============================================================================

// Renew replaces the active policy with a new term built from in.
func (tr *Transactor) Renew(ctx context.Context, t PolicyType, id int64, in PolicyInput) (*RenewalResult, error) {
	log := tr.Logger.With(zap.String("policy_type", string(t)), zap.Int64("policy_id", id))

	draft, err := in.Normalize(t)
	if err != nil {
		tr.observe(t, actionRenew, err)
		log.Info("renewal rejected", zap.Error(err))
		return nil, err
	}

	now := tr.Now().UTC()
	var result RenewalResult

	err = tr.Store.WithTx(ctx, func(tx PolicyStore) error {
		old, err := tx.LockPolicy(ctx, t, id)
		if err != nil {
			return err
		}
		if old.Status != StatusActive {
			return &ConflictError{PolicyType: t, PolicyID: id, Status: old.Status, Action: actionRenew}
		}

		snapshot := *old
		snapshot.Status = StatusExpired
		snapshot.UpdatedAt = now
		archived := ArchivedPolicy{
			Policy:           snapshot,
			OriginalPolicyID: old.ID,
			RenewedAt:        now,
		}
		if err := tx.InsertArchive(ctx, &archived); err != nil {
			return err
		}

		if err := tx.DeletePolicy(ctx, t, old.ID); err != nil {
			return err
		}

		successor := draft.Policy(BusinessRenewal, &archived.ID, now)
		if err := tx.InsertPolicy(ctx, &successor); err != nil {
			return err
		}

		delta := successor.Premium.Gross.Sub(old.Premium.Gross)
		if err := tx.AppendAudit(ctx, AuditEntry{
			ID:         uuid.NewString(),
			At:         now,
			Action:     AuditPolicyRenewed,
			PolicyType: t,
			PolicyID:   successor.ID,
			Payload: map[string]string{
				"old_policy_id":     strconv.FormatInt(old.ID, 10),
				"old_policy_number": old.PolicyNumber,
				"new_policy_number": successor.PolicyNumber,
				"archive_id":        strconv.FormatInt(archived.ID, 10),
				"premium_delta":     delta.StringFixed(2),
			},
		}); err != nil {
			return err
		}

		result = RenewalResult{Archived: archived, Policy: successor, PremiumDelta: delta}
		return nil
	})
	if err != nil {
		err = classify("renew policy", err)
		tr.observe(t, actionRenew, err)
		log.Warn("renewal failed", zap.Error(err))
		return nil, err
	}

	tr.observe(t, actionRenew, nil)
	log.Info("policy renewed",
		zap.Int64("archive_id", result.Archived.ID),
		zap.Int64("new_policy_id", result.Policy.ID),
		zap.String("premium_delta", result.PremiumDelta.StringFixed(2)))
	return &result, nil
}

// =============================================================================
// CANCEL / ISSUE
// =============================================================================

// Cancel moves an active policy to cancelled. The row stays in the active
// table; only status changes.
func (tr *Transactor) Cancel(ctx context.Context, t PolicyType, id int64, reason string) (*Policy, error) {
	if _, err := ParsePolicyType(string(t)); err != nil {
		return nil, err
	}
	now := tr.Now().UTC()
	var cancelled Policy

	err := tr.Store.WithTx(ctx, func(tx PolicyStore) error {
		p, err := tx.LockPolicy(ctx, t, id)
		if err != nil {
			return err
		}
		if p.Status != StatusActive {
			return &ConflictError{PolicyType: t, PolicyID: id, Status: p.Status, Action: actionCancel}
		}
		if err := tx.UpdatePolicyStatus(ctx, t, id, StatusCancelled, now); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, AuditEntry{
			ID:         uuid.NewString(),
			At:         now,
			Action:     AuditPolicyCancelled,
			PolicyType: t,
			PolicyID:   id,
			Payload: map[string]string{
				"policy_number": p.PolicyNumber,
				"reason":        reason,
			},
		}); err != nil {
			return err
		}
		cancelled = *p
		cancelled.Status = StatusCancelled
		cancelled.UpdatedAt = now
		return nil
	})
	if err != nil {
		err = classify("cancel policy", err)
		tr.observe(t, actionCancel, err)
		return nil, err
	}

	tr.observe(t, actionCancel, nil)
	tr.Logger.Info("policy cancelled", zap.String("policy_type", string(t)), zap.Int64("policy_id", id), zap.String("reason", reason))
	return &cancelled, nil
}

// Issue creates a first-term policy.
func (tr *Transactor) Issue(ctx context.Context, t PolicyType, in PolicyInput) (*Policy, error) {
	draft, err := in.Normalize(t)
	if err != nil {
		tr.observe(t, actionIssue, err)
		return nil, err
	}

	now := tr.Now().UTC()
	p := draft.Policy(BusinessNew, nil, now)

	err = tr.Store.WithTx(ctx, func(tx PolicyStore) error {
		if err := tx.InsertPolicy(ctx, &p); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, AuditEntry{
			ID:         uuid.NewString(),
			At:         now,
			Action:     AuditPolicyIssued,
			PolicyType: t,
			PolicyID:   p.ID,
			Payload: map[string]string{
				"policy_number": p.PolicyNumber,
				"gross_premium": p.Premium.Gross.StringFixed(2),
				"end_date":      p.EndDate.Format(DateLayout),
			},
		})
	})
	if err != nil {
		err = classify("issue policy", err)
		tr.observe(t, actionIssue, err)
		return nil, err
	}

	tr.observe(t, actionIssue, nil)
	tr.Logger.Info("policy issued", zap.String("policy_type", string(t)), zap.Int64("policy_id", p.ID), zap.String("policy_number", p.PolicyNumber))
	return &p, nil
}

// =============================================================================
// READS
// =============================================================================

func (tr *Transactor) Get(ctx context.Context, t PolicyType, id int64) (*Policy, error) {
	if _, err := ParsePolicyType(string(t)); err != nil {
		return nil, err
	}
	p, err := tr.Store.GetPolicy(ctx, t, id)
	if err != nil {
		return nil, classify("get policy", err)
	}
	return p, nil
}

// Lineage follows previous_policy_id into the archive, and from each archived
// snapshot follows its own previous_policy_id, until the first term.
func (tr *Transactor) Lineage(ctx context.Context, t PolicyType, id int64) (*Lineage, error) {
	current, err := tr.Get(ctx, t, id)
	if err != nil {
		return nil, err
	}

	out := &Lineage{Current: *current}
	seen := make(map[int64]bool)
	next := current.PreviousPolicyID

	for next != nil && len(out.History) < maxLineageDepth {
		if seen[*next] {
			break
		}
		seen[*next] = true

		a, err := tr.Store.GetArchived(ctx, t, *next)
		if errors.Is(err, ErrPolicyNotFound) {
			tr.Logger.Warn("lineage broken", zap.String("policy_type", string(t)), zap.Int64("archive_id", *next))
			break
		}
		if err != nil {
			return nil, classify("read archive", err)
		}
		out.History = append(out.History, *a)
		next = a.Policy.PreviousPolicyID
	}
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// classify lets precondition failures through untouched and tags the rest as
// persistence failures.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrPolicyNotFound),
		errors.Is(err, ErrUnknownPolicyType),
		errors.Is(err, ErrPersistence):
		return err
	default:
		return persistenceError(op, err)
	}
}

func (tr *Transactor) observe(t PolicyType, action string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case IsClientError(err):
		outcome = "invalid"
	case errors.Is(err, ErrConflict):
		outcome = "conflict"
	case IsNotFound(err):
		outcome = "not_found"
	default:
		outcome = "error"
	}
	tr.Metrics.ObserveTransition(string(t), action, outcome)
}
