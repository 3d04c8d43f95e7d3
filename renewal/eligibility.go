package renewal

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// ELIGIBILITY ENGINE - Is a reminder due today?
// =============================================================================

// Decision explains the outcome of an eligibility check.
type Decision struct {
	Due            bool
	Reason         string
	ReminderNumber int
}

const (
	ReasonDue         = "due"
	ReasonExpired     = "already expired"
	ReasonOutOfWindow = "outside reminder window"
	ReasonSentToday   = "reminder already logged today"
)

// Due is the pure rule: inside [0, ReminderDays] and nothing logged today.
func Due(daysUntilExpiry int, cfg RenewalConfig, alreadySentToday bool) bool {
	return cfg.ShouldConsider(daysUntilExpiry) && !alreadySentToday
}

// EligibilityEngine re-evaluates each policy from scratch every run. The
// reminder log is the only state it consults.
type EligibilityEngine struct {
	Logs     ReminderLogReader
	Location *time.Location
	Now      func() time.Time
}

func NewEligibilityEngine(logs ReminderLogReader, loc *time.Location) *EligibilityEngine {
	if loc == nil {
		loc = time.UTC
	}
	return &EligibilityEngine{Logs: logs, Location: loc, Now: time.Now}
}

// StartOfToday is the dedup boundary in the engine's time zone.
func (e *EligibilityEngine) StartOfToday() time.Time {
	return StartOfDay(e.Now().In(e.Location))
}

// IsDueToday decides whether the policy should get a reminder now. The log
// lookup only happens when the window check passes.
func (e *EligibilityEngine) IsDueToday(ctx context.Context, t PolicyType, policyID int64, daysUntilExpiry int, cfg RenewalConfig) (Decision, error) {
	if daysUntilExpiry < 0 {
		return Decision{Reason: ReasonExpired}, nil
	}
	if !cfg.ShouldConsider(daysUntilExpiry) {
		return Decision{Reason: ReasonOutOfWindow}, nil
	}

	sent, err := e.Logs.HasReminderSince(ctx, t, policyID, e.StartOfToday())
	if err != nil {
		return Decision{}, persistenceError(fmt.Sprintf("check reminder log for %s/%d", t, policyID), err)
	}
	if !Due(daysUntilExpiry, cfg, sent) {
		return Decision{Reason: ReasonSentToday}, nil
	}

	return Decision{
		Due:            true,
		Reason:         ReasonDue,
		ReminderNumber: cfg.ReminderNumber(daysUntilExpiry),
	}, nil
}
