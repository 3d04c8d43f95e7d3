package renewal

import (
	"fmt"
	"time"
)

// =============================================================================
// RENEWAL CONFIG - Per service type reminder cadence
// =============================================================================

// RenewalConfig controls how many reminders a service type gets and over
// which window before expiry.
//
// Thresholds partitions [0, ReminderDays] into ReminderTimes buckets. Values
// are strictly descending day counts: with Thresholds = [15, 7] a policy at
// 20 days is in bucket #1, at 15 in #2, at 7 in #3. When empty, the window
// is split evenly.
type RenewalConfig struct {
	ServiceType   PolicyType
	ReminderTimes int
	ReminderDays  int
	Thresholds    []int
	IsActive      bool
	UpdatedAt     time.Time
}

// Validate checks the config is internally consistent.
func (c RenewalConfig) Validate() error {
	if _, err := ParsePolicyType(string(c.ServiceType)); err != nil {
		return &ValidationError{Field: "service_type", Reason: err.Error()}
	}
	if c.ReminderTimes < 1 {
		return &ValidationError{Field: "reminder_times", Reason: "must be at least 1"}
	}
	if c.ReminderDays < 0 {
		return &ValidationError{Field: "reminder_days", Reason: "must not be negative"}
	}
	if len(c.Thresholds) == 0 {
		return nil
	}
	if len(c.Thresholds) != c.ReminderTimes-1 {
		return &ValidationError{
			Field:  "thresholds",
			Reason: fmt.Sprintf("expected %d thresholds for %d reminders, got %d", c.ReminderTimes-1, c.ReminderTimes, len(c.Thresholds)),
		}
	}
	prev := c.ReminderDays
	for _, th := range c.Thresholds {
		if th <= 0 || th >= prev {
			return &ValidationError{Field: "thresholds", Reason: "must be strictly descending inside (0, reminder_days)"}
		}
		prev = th
	}
	return nil
}

// ShouldConsider is the coarse window check: 0 <= days <= ReminderDays.
func (c RenewalConfig) ShouldConsider(daysUntilExpiry int) bool {
	return daysUntilExpiry >= 0 && daysUntilExpiry <= c.ReminderDays
}

// ReminderNumber returns which reminder (1..ReminderTimes) the given day falls
// into, or 0 when outside the window.
func (c RenewalConfig) ReminderNumber(daysUntilExpiry int) int {
	if !c.ShouldConsider(daysUntilExpiry) {
		return 0
	}
	n := 1
	for _, th := range c.bucketThresholds() {
		if daysUntilExpiry <= th {
			n++
		}
	}
	return n
}

func (c RenewalConfig) bucketThresholds() []int {
	if len(c.Thresholds) > 0 {
		return c.Thresholds
	}
	if c.ReminderTimes <= 1 {
		return nil
	}
	out := make([]int, 0, c.ReminderTimes-1)
	for i := 1; i < c.ReminderTimes; i++ {
		out = append(out, c.ReminderDays*(c.ReminderTimes-i)/c.ReminderTimes)
	}
	return out
}
