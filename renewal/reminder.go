/*
reminder.go - Batch reminder runner

PURPOSE:
  Walks every tracked service type, finds active policies expiring inside
  the lookahead window, asks the EligibilityEngine whether each one is due
  today, sends through the NotificationSender and appends exactly one
  ReminderLog row per processed candidate.

FAILURE ISOLATION:
  - Missing contact, sender error, sender timeout: the candidate is logged
    as failed and counted in Errors. The batch continues.
  - Store failure: that service type stops and reports Failure. Other
    service types keep going; RunAll joins the errors at the end.
  - Missing or inactive config: the service type is skipped, nothing sent.

CONCURRENCY:
  Service types touch disjoint tables and run in parallel. Candidates of a
  single type are processed sequentially. The context is checked before
  every candidate, so cancelling a run never leaves half a candidate behind.

SEE ALSO:
  - eligibility.go: The per-policy due decision
  - api/scheduler.go: Periodic trigger
*/
package renewal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/renewal-engine/metrics"
)

const (
	DefaultSendTimeout   = 30 * time.Second
	DefaultLookaheadDays = 30
	DefaultLockTTL       = 30 * time.Minute

	RunLockKey = "renewal-engine:reminder-run"
)

// =============================================================================
// RESULTS
// =============================================================================

// TypeResult aggregates one service type's run.
type TypeResult struct {
	ServiceType PolicyType `json:"service_type"`
	Evaluated   int        `json:"evaluated"`
	Processed   int        `json:"processed"`
	Successful  int        `json:"successful"`
	Errors      int        `json:"errors"`
	Skipped     bool       `json:"skipped,omitempty"`
	SkipReason  string     `json:"skip_reason,omitempty"`
	Failure     string     `json:"failure,omitempty"`
}

// RunSummary is what RunAll returns: per service type plus the total.
type RunSummary struct {
	RunID      string                    `json:"run_id"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt time.Time                 `json:"finished_at"`
	PerType    map[PolicyType]TypeResult `json:"per_type"`
	Total      TypeResult                `json:"total"`
}

type candidateOutcome int

const (
	outcomeNotDue candidateOutcome = iota
	outcomeSent
	outcomeFailed
	outcomeDuplicate
)

// =============================================================================
// RUNNER
// =============================================================================

// RunnerDeps are the collaborators a ReminderRunner needs.
type RunnerDeps struct {
	Policies PolicyReader
	Configs  ConfigStore
	Logs     ReminderLogStore
	Holders  HolderResolver
	Sender   NotificationSender
	Lock     RunLock
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

type ReminderRunner struct {
	RunnerDeps

	Engine *EligibilityEngine

	Types         []PolicyType
	Location      *time.Location
	LookaheadDays int
	SendTimeout   time.Duration
	LockTTL       time.Duration
	Concurrency   int
	Now           func() time.Time
}

// NewReminderRunner wires a runner with default tuning. Fields can be
// adjusted before the first run.
func NewReminderRunner(deps RunnerDeps, loc *time.Location) *ReminderRunner {
	if loc == nil {
		loc = time.UTC
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	r := &ReminderRunner{
		RunnerDeps:    deps,
		Types:         append([]PolicyType(nil), AllPolicyTypes...),
		Location:      loc,
		LookaheadDays: DefaultLookaheadDays,
		SendTimeout:   DefaultSendTimeout,
		LockTTL:       DefaultLockTTL,
		Now:           time.Now,
	}
	r.Engine = NewEligibilityEngine(deps.Logs, loc)
	r.Engine.Now = func() time.Time { return r.Now() }
	return r
}

// RunAll processes every configured service type and aggregates the result.
// The returned error is non-nil only for infrastructure failures; candidate
// failures are counted, never returned.
func (r *ReminderRunner) RunAll(ctx context.Context) (RunSummary, error) {
	summary := RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: r.Now(),
		PerType:   make(map[PolicyType]TypeResult, len(r.Types)),
		Total:     TypeResult{ServiceType: "all"},
	}
	log := r.Logger.With(zap.String("run_id", summary.RunID))

	if r.Lock != nil {
		release, err := r.Lock.Acquire(ctx, RunLockKey, r.LockTTL)
		if err != nil {
			log.Warn("reminder run not started", zap.Error(err))
			return summary, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				log.Warn("failed to release run lock", zap.Error(err))
			}
		}()
	}

	log.Info("reminder run started", zap.Int("service_types", len(r.Types)))

	results := make([]TypeResult, len(r.Types))
	errs := make([]error, len(r.Types))

	var g errgroup.Group
	if r.Concurrency > 0 {
		g.SetLimit(r.Concurrency)
	}
	for i, t := range r.Types {
		i, t := i, t
		g.Go(func() error {
			results[i], errs[i] = r.RunServiceType(ctx, t)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		summary.PerType[res.ServiceType] = res
		summary.Total.Evaluated += res.Evaluated
		summary.Total.Processed += res.Processed
		summary.Total.Successful += res.Successful
		summary.Total.Errors += res.Errors
	}
	summary.FinishedAt = r.Now()
	r.Metrics.MarkRunCompleted(summary.FinishedAt)

	err := errors.Join(errs...)
	log.Info("reminder run completed",
		zap.Int("processed", summary.Total.Processed),
		zap.Int("successful", summary.Total.Successful),
		zap.Int("errors", summary.Total.Errors),
		zap.Duration("took", summary.FinishedAt.Sub(summary.StartedAt)),
		zap.NamedError("failure", err))

	return summary, err
}

// RunServiceType runs reminders for one service type.
func (r *ReminderRunner) RunServiceType(ctx context.Context, t PolicyType) (TypeResult, error) {
	res := TypeResult{ServiceType: t}
	log := r.Logger.With(zap.String("service_type", string(t)))
	started := time.Now()
	defer func() { r.Metrics.ObserveRun(string(t), time.Since(started)) }()

	cfg, err := r.Configs.GetConfig(ctx, t)
	if errors.Is(err, ErrConfigNotFound) {
		log.Info("no configuration, skipping")
		r.Metrics.ObserveSkip(string(t))
		res.Skipped, res.SkipReason = true, "no configuration"
		return res, nil
	}
	if err != nil {
		err = persistenceError("load renewal config", err)
		res.Failure = err.Error()
		log.Error("failed to load configuration", zap.Error(err))
		return res, fmt.Errorf("%s: %w", t, err)
	}
	if !cfg.IsActive {
		log.Info("configuration inactive, skipping")
		r.Metrics.ObserveSkip(string(t))
		res.Skipped, res.SkipReason = true, "configuration inactive"
		return res, nil
	}

	candidates, err := r.listCandidates(ctx, t, r.windowFor(*cfg))
	if err != nil {
		res.Failure = err.Error()
		log.Error("failed to list candidates", zap.Error(err))
		return res, fmt.Errorf("%s: %w", t, err)
	}

	for _, p := range candidates {
		if err := ctx.Err(); err != nil {
			log.Info("run cancelled between candidates", zap.Int("evaluated", res.Evaluated))
			return res, fmt.Errorf("%s: %w", t, err)
		}
		res.Evaluated++

		outcome, err := r.processCandidate(ctx, p, *cfg, log)
		if err != nil {
			res.Failure = err.Error()
			log.Error("aborting service type after store failure", zap.Int64("policy_id", p.ID), zap.Error(err))
			return res, fmt.Errorf("%s: %w", t, err)
		}
		switch outcome {
		case outcomeSent:
			res.Processed++
			res.Successful++
		case outcomeFailed:
			res.Processed++
			res.Errors++
		}
	}

	log.Info("service type completed",
		zap.Int("evaluated", res.Evaluated),
		zap.Int("processed", res.Processed),
		zap.Int("successful", res.Successful),
		zap.Int("errors", res.Errors))
	return res, nil
}

// EligiblePolicies lists active policies of a type expiring within windowDays
// from today. windowDays <= 0 falls back to the type's ReminderDays, or the
// runner lookahead when no config exists.
func (r *ReminderRunner) EligiblePolicies(ctx context.Context, t PolicyType, windowDays int) ([]Policy, error) {
	if _, err := ParsePolicyType(string(t)); err != nil {
		return nil, err
	}
	if windowDays <= 0 {
		windowDays = r.LookaheadDays
		cfg, err := r.Configs.GetConfig(ctx, t)
		switch {
		case err == nil:
			windowDays = cfg.ReminderDays
		case !errors.Is(err, ErrConfigNotFound):
			return nil, persistenceError("load renewal config", err)
		}
	}
	return r.listCandidates(ctx, t, windowDays)
}

func (r *ReminderRunner) windowFor(cfg RenewalConfig) int {
	if r.LookaheadDays > cfg.ReminderDays {
		return r.LookaheadDays
	}
	return cfg.ReminderDays
}

func (r *ReminderRunner) listCandidates(ctx context.Context, t PolicyType, windowDays int) ([]Policy, error) {
	today := r.Now().In(r.Location)
	from := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, windowDays)

	policies, err := r.Policies.ListExpiring(ctx, t, from, to)
	if err != nil {
		return nil, persistenceError("list expiring policies", err)
	}
	return policies, nil
}

// =============================================================================
// CANDIDATE PROCESSING
// =============================================================================

func (r *ReminderRunner) processCandidate(ctx context.Context, p Policy, cfg RenewalConfig, log *zap.Logger) (candidateOutcome, error) {
	now := r.Now()
	days := DaysUntilExpiry(ExpiryInstant(p.EndDate, r.Location), now)
	log = log.With(zap.Int64("policy_id", p.ID), zap.String("policy_number", p.PolicyNumber), zap.Int("days_until_expiry", days))

	decision, err := r.Engine.IsDueToday(ctx, p.Type, p.ID, days, cfg)
	if err != nil {
		return outcomeNotDue, err
	}
	if !decision.Due {
		log.Debug("not due", zap.String("reason", decision.Reason))
		return outcomeNotDue, nil
	}

	entry := ReminderLog{
		PolicyID:        p.ID,
		PolicyType:      p.Type,
		SentAt:          now.UTC(),
		SentDay:         now.In(r.Location).Format(DateLayout),
		DaysUntilExpiry: days,
		ReminderNumber:  decision.ReminderNumber,
	}

	recipient, err := r.resolveRecipient(ctx, p, log)
	entry.RecipientName, entry.RecipientEmail, entry.RecipientPhone = recipient.Name, recipient.Email, recipient.Phone
	if err != nil {
		entry.Status, entry.Error = ReminderFailed, err.Error()
		log.Warn("no contact for reminder", zap.Error(err))
	} else {
		receipt, err := r.send(ctx, p.Type.TemplateKind(), recipient, r.payload(p, recipient, days, decision.ReminderNumber, cfg))
		if err != nil {
			entry.Status, entry.Error = ReminderFailed, err.Error()
			log.Warn("reminder send failed", zap.Error(err))
		} else {
			entry.Status, entry.MessageID = ReminderSent, receipt.MessageID
		}
	}

	// The attempt is recorded even if the run is being cancelled.
	if err := r.Logs.AppendReminderLog(context.WithoutCancel(ctx), &entry); err != nil {
		if errors.Is(err, ErrDuplicateReminder) {
			log.Warn("overlapping run already logged this policy today")
			return outcomeDuplicate, nil
		}
		return outcomeNotDue, persistenceError("append reminder log", err)
	}

	r.Metrics.ObserveReminder(string(p.Type), string(entry.Status))
	if entry.Status == ReminderFailed {
		return outcomeFailed, nil
	}
	log.Info("reminder sent", zap.Int("reminder_number", entry.ReminderNumber), zap.String("message_id", entry.MessageID))
	return outcomeSent, nil
}

// resolveRecipient prefers the holder record and fills gaps from the contact
// fields embedded on the policy.
func (r *ReminderRunner) resolveRecipient(ctx context.Context, p Policy, log *zap.Logger) (Recipient, error) {
	var rec Recipient

	if r.Holders != nil {
		var (
			c   *Contact
			err error
		)
		switch p.Holder.Type {
		case CustomerOrganisation:
			c, err = r.Holders.CompanyContact(ctx, p.Holder.CompanyID)
		case CustomerIndividual:
			c, err = r.Holders.ConsumerContact(ctx, p.Holder.ConsumerID)
		}
		if err != nil {
			log.Debug("holder lookup failed, using policy contact", zap.Stringer("holder", p.Holder), zap.Error(err))
		} else if c != nil {
			rec = Recipient{Name: c.Name, Email: c.Email, Phone: c.Phone}
		}
	}

	if rec.Name == "" {
		rec.Name = p.ContactName
	}
	if rec.Email == "" {
		rec.Email = p.ContactEmail
	}
	if rec.Phone == "" {
		rec.Phone = p.ContactPhone
	}
	if rec.Email == "" {
		return rec, fmt.Errorf("%w: %s", ErrNoContact, p.Holder)
	}
	return rec, nil
}

// send enforces SendTimeout even when the sender ignores its context.
func (r *ReminderRunner) send(ctx context.Context, kind TemplateKind, to Recipient, payload ReminderPayload) (SendReceipt, error) {
	sendCtx, cancel := context.WithTimeout(ctx, r.SendTimeout)
	defer cancel()

	type result struct {
		receipt SendReceipt
		err     error
	}
	done := make(chan result, 1)
	started := time.Now()

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- result{err: fmt.Errorf("sender panic: %v", rec)}
			}
		}()
		receipt, err := r.Sender.Send(sendCtx, kind, to, payload)
		done <- result{receipt: receipt, err: err}
	}()

	select {
	case res := <-done:
		r.Metrics.ObserveSend(string(kind), time.Since(started))
		if res.err != nil {
			return SendReceipt{}, fmt.Errorf("%w: %w", ErrDependency, res.err)
		}
		return res.receipt, nil
	case <-sendCtx.Done():
		r.Metrics.ObserveSend(string(kind), time.Since(started))
		if ctx.Err() != nil {
			return SendReceipt{}, fmt.Errorf("%w: %w", ErrDependency, ctx.Err())
		}
		return SendReceipt{}, fmt.Errorf("%w: %w after %s", ErrDependency, ErrSendTimeout, r.SendTimeout)
	}
}

func (r *ReminderRunner) payload(p Policy, to Recipient, days, number int, cfg RenewalConfig) ReminderPayload {
	return ReminderPayload{
		PolicyType:     p.Type,
		PolicyID:       p.ID,
		PolicyNumber:   p.PolicyNumber,
		HolderName:     to.Name,
		StartDate:      p.StartDate,
		ExpiryDate:     p.EndDate,
		DaysRemaining:  days,
		ReminderNumber: number,
		ReminderTimes:  cfg.ReminderTimes,
		NetPremium:     p.Premium.Net,
		TaxAmount:      p.Premium.Tax,
		GrossPremium:   p.Premium.Gross,
	}
}
