// Package store provides an in-memory implementation of the renewal stores.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/renewal-engine/renewal"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements renewal.TxStore, ConfigStore, ReminderLogStore and
// HolderResolver on plain maps.
type Memory struct {
	mu   sync.RWMutex
	data *memoryData
}

type logKey struct {
	Type     renewal.PolicyType
	PolicyID int64
	Day      string
}

type memoryData struct {
	policies      map[renewal.PolicyType]map[int64]renewal.Policy
	archive       map[renewal.PolicyType]map[int64]renewal.ArchivedPolicy
	nextPolicyID  map[renewal.PolicyType]int64
	nextArchiveID map[renewal.PolicyType]int64
	configs       map[renewal.PolicyType]renewal.RenewalConfig
	logs          []renewal.ReminderLog
	logDays       map[logKey]bool
	audit         []renewal.AuditEntry
	companies     map[int64]renewal.Contact
	consumers     map[int64]renewal.Contact
}

func newMemoryData() *memoryData {
	return &memoryData{
		policies:      make(map[renewal.PolicyType]map[int64]renewal.Policy),
		archive:       make(map[renewal.PolicyType]map[int64]renewal.ArchivedPolicy),
		nextPolicyID:  make(map[renewal.PolicyType]int64),
		nextArchiveID: make(map[renewal.PolicyType]int64),
		configs:       make(map[renewal.PolicyType]renewal.RenewalConfig),
		logDays:       make(map[logKey]bool),
		companies:     make(map[int64]renewal.Contact),
		consumers:     make(map[int64]renewal.Contact),
	}
}

func NewMemory() *Memory {
	return &Memory{data: newMemoryData()}
}

// =============================================================================
// POLICIES
// =============================================================================

func (m *Memory) GetPolicy(ctx context.Context, t renewal.PolicyType, id int64) (*renewal.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.getPolicy(t, id)
}

func (m *Memory) ListExpiring(ctx context.Context, t renewal.PolicyType, from, to time.Time) ([]renewal.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.listExpiring(t, from, to), nil
}

func (m *Memory) GetArchived(ctx context.Context, t renewal.PolicyType, id int64) (*renewal.ArchivedPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.getArchived(t, id)
}

func (m *Memory) ListArchivedByOriginal(ctx context.Context, t renewal.PolicyType, originalID int64) ([]renewal.ArchivedPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.listArchivedByOriginal(t, originalID), nil
}

func (m *Memory) LockPolicy(ctx context.Context, t renewal.PolicyType, id int64) (*renewal.Policy, error) {
	return m.GetPolicy(ctx, t, id)
}

func (m *Memory) InsertPolicy(ctx context.Context, p *renewal.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.insertPolicy(p)
}

// PutPolicy stores p under its own ID, for fixtures. Later inserts get IDs
// above it.
func (m *Memory) PutPolicy(ctx context.Context, p renewal.Policy) error {
	if _, err := renewal.ParsePolicyType(string(p.Type)); err != nil {
		return err
	}
	if p.ID <= 0 {
		return fmt.Errorf("put policy: id must be positive, got %d", p.ID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data.numberTaken(p.Type, p.PolicyNumber, p.ID) {
		return &renewal.DuplicatePolicyError{PolicyType: p.Type, PolicyNumber: p.PolicyNumber}
	}
	if m.data.policies[p.Type] == nil {
		m.data.policies[p.Type] = make(map[int64]renewal.Policy)
	}
	m.data.policies[p.Type][p.ID] = clonePolicy(p)
	if p.ID > m.data.nextPolicyID[p.Type] {
		m.data.nextPolicyID[p.Type] = p.ID
	}
	return nil
}

func (m *Memory) UpdatePolicyStatus(ctx context.Context, t renewal.PolicyType, id int64, status renewal.Status, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.updateStatus(t, id, status, at)
}

func (m *Memory) DeletePolicy(ctx context.Context, t renewal.PolicyType, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.deletePolicy(t, id)
}

func (m *Memory) InsertArchive(ctx context.Context, a *renewal.ArchivedPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.insertArchive(a)
}

func (m *Memory) AppendAudit(ctx context.Context, entry renewal.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.appendAudit(entry)
	return nil
}

// ListAudit returns audit entries for a policy type, oldest first. An empty
// type returns everything.
func (m *Memory) ListAudit(ctx context.Context, t renewal.PolicyType) ([]renewal.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []renewal.AuditEntry
	for _, e := range m.data.audit {
		if t == "" || e.PolicyType == t {
			out = append(out, e)
		}
	}
	return out, nil
}

// =============================================================================
// CONFIGS
// =============================================================================

func (m *Memory) GetConfig(ctx context.Context, serviceType renewal.PolicyType) (*renewal.RenewalConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.data.configs[serviceType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", renewal.ErrConfigNotFound, serviceType)
	}
	cfg.Thresholds = append([]int(nil), cfg.Thresholds...)
	return &cfg, nil
}

func (m *Memory) SaveConfig(ctx context.Context, cfg renewal.RenewalConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg.Thresholds = append([]int(nil), cfg.Thresholds...)
	m.data.configs[cfg.ServiceType] = cfg
	return nil
}

func (m *Memory) ListConfigs(ctx context.Context) ([]renewal.RenewalConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]renewal.RenewalConfig, 0, len(m.data.configs))
	for _, cfg := range m.data.configs {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceType < out[j].ServiceType })
	return out, nil
}

// =============================================================================
// REMINDER LOGS
// =============================================================================

func (m *Memory) HasReminderSince(ctx context.Context, t renewal.PolicyType, policyID int64, since time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.data.logs {
		if l.PolicyType == t && l.PolicyID == policyID && !l.SentAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) AppendReminderLog(ctx context.Context, l *renewal.ReminderLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l.SentDay == "" {
		l.SentDay = l.SentAt.UTC().Format(renewal.DateLayout)
	}
	k := logKey{Type: l.PolicyType, PolicyID: l.PolicyID, Day: l.SentDay}
	if m.data.logDays[k] {
		return fmt.Errorf("%w: %s/%d on %s", renewal.ErrDuplicateReminder, l.PolicyType, l.PolicyID, l.SentDay)
	}
	l.ID = int64(len(m.data.logs) + 1)
	m.data.logs = append(m.data.logs, *l)
	m.data.logDays[k] = true
	return nil
}

// ListReminderLogs returns matching rows, newest first.
func (m *Memory) ListReminderLogs(ctx context.Context, f renewal.ReminderLogFilter) ([]renewal.ReminderLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []renewal.ReminderLog
	for i := len(m.data.logs) - 1; i >= 0; i-- {
		l := m.data.logs[i]
		if f.PolicyType != "" && l.PolicyType != f.PolicyType {
			continue
		}
		if f.PolicyID != 0 && l.PolicyID != f.PolicyID {
			continue
		}
		if f.Since != nil && l.SentAt.Before(*f.Since) {
			continue
		}
		out = append(out, l)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// =============================================================================
// HOLDERS
// =============================================================================

func (m *Memory) SaveCompany(ctx context.Context, id int64, c renewal.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.companies[id] = c
	return nil
}

func (m *Memory) SaveConsumer(ctx context.Context, id int64, c renewal.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.consumers[id] = c
	return nil
}

func (m *Memory) CompanyContact(ctx context.Context, id int64) (*renewal.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.data.companies[id]
	if !ok {
		return nil, fmt.Errorf("%w: company %d", renewal.ErrHolderNotFound, id)
	}
	return &c, nil
}

func (m *Memory) ConsumerContact(ctx context.Context, id int64) (*renewal.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.data.consumers[id]
	if !ok {
		return nil, fmt.Errorf("%w: consumer %d", renewal.ErrHolderNotFound, id)
	}
	return &c, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(renewal.PolicyStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()

	if err := fn(&txView{data: m.data}); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

// txView runs against the parent's data while the parent lock is held.
type txView struct {
	data *memoryData
}

func (v *txView) GetPolicy(_ context.Context, t renewal.PolicyType, id int64) (*renewal.Policy, error) {
	return v.data.getPolicy(t, id)
}

func (v *txView) ListExpiring(_ context.Context, t renewal.PolicyType, from, to time.Time) ([]renewal.Policy, error) {
	return v.data.listExpiring(t, from, to), nil
}

func (v *txView) GetArchived(_ context.Context, t renewal.PolicyType, id int64) (*renewal.ArchivedPolicy, error) {
	return v.data.getArchived(t, id)
}

func (v *txView) ListArchivedByOriginal(_ context.Context, t renewal.PolicyType, originalID int64) ([]renewal.ArchivedPolicy, error) {
	return v.data.listArchivedByOriginal(t, originalID), nil
}

func (v *txView) LockPolicy(_ context.Context, t renewal.PolicyType, id int64) (*renewal.Policy, error) {
	return v.data.getPolicy(t, id)
}

func (v *txView) InsertPolicy(_ context.Context, p *renewal.Policy) error {
	return v.data.insertPolicy(p)
}

func (v *txView) UpdatePolicyStatus(_ context.Context, t renewal.PolicyType, id int64, status renewal.Status, at time.Time) error {
	return v.data.updateStatus(t, id, status, at)
}

func (v *txView) DeletePolicy(_ context.Context, t renewal.PolicyType, id int64) error {
	return v.data.deletePolicy(t, id)
}

func (v *txView) InsertArchive(_ context.Context, a *renewal.ArchivedPolicy) error {
	return v.data.insertArchive(a)
}

func (v *txView) AppendAudit(_ context.Context, entry renewal.AuditEntry) error {
	v.data.appendAudit(entry)
	return nil
}

// =============================================================================
// UNLOCKED OPERATIONS
// =============================================================================

func (d *memoryData) getPolicy(t renewal.PolicyType, id int64) (*renewal.Policy, error) {
	p, ok := d.policies[t][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%d", renewal.ErrPolicyNotFound, t, id)
	}
	p = clonePolicy(p)
	return &p, nil
}

func (d *memoryData) listExpiring(t renewal.PolicyType, from, to time.Time) []renewal.Policy {
	lo, hi := from.Format(renewal.DateLayout), to.Format(renewal.DateLayout)
	var out []renewal.Policy
	for _, p := range d.policies[t] {
		end := p.EndDate.Format(renewal.DateLayout)
		if p.Status == renewal.StatusActive && end >= lo && end <= hi {
			out = append(out, clonePolicy(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EndDate.Equal(out[j].EndDate) {
			return out[i].EndDate.Before(out[j].EndDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (d *memoryData) insertPolicy(p *renewal.Policy) error {
	if _, err := renewal.ParsePolicyType(string(p.Type)); err != nil {
		return err
	}
	if d.policies[p.Type] == nil {
		d.policies[p.Type] = make(map[int64]renewal.Policy)
	}
	if d.numberTaken(p.Type, p.PolicyNumber, 0) {
		return &renewal.DuplicatePolicyError{PolicyType: p.Type, PolicyNumber: p.PolicyNumber}
	}
	d.nextPolicyID[p.Type]++
	p.ID = d.nextPolicyID[p.Type]
	d.policies[p.Type][p.ID] = clonePolicy(*p)
	return nil
}

// numberTaken reports whether an active policy other than exceptID uses number.
func (d *memoryData) numberTaken(t renewal.PolicyType, number string, exceptID int64) bool {
	for id, p := range d.policies[t] {
		if id != exceptID && p.PolicyNumber == number {
			return true
		}
	}
	return false
}

func (d *memoryData) updateStatus(t renewal.PolicyType, id int64, status renewal.Status, at time.Time) error {
	p, ok := d.policies[t][id]
	if !ok {
		return fmt.Errorf("%w: %s/%d", renewal.ErrPolicyNotFound, t, id)
	}
	p.Status = status
	p.UpdatedAt = at
	d.policies[t][id] = p
	return nil
}

func (d *memoryData) deletePolicy(t renewal.PolicyType, id int64) error {
	if _, ok := d.policies[t][id]; !ok {
		return fmt.Errorf("%w: %s/%d", renewal.ErrPolicyNotFound, t, id)
	}
	delete(d.policies[t], id)
	return nil
}

func (d *memoryData) getArchived(t renewal.PolicyType, id int64) (*renewal.ArchivedPolicy, error) {
	a, ok := d.archive[t][id]
	if !ok {
		return nil, fmt.Errorf("%w: archived %s/%d", renewal.ErrPolicyNotFound, t, id)
	}
	a.Policy = clonePolicy(a.Policy)
	return &a, nil
}

func (d *memoryData) listArchivedByOriginal(t renewal.PolicyType, originalID int64) []renewal.ArchivedPolicy {
	var out []renewal.ArchivedPolicy
	for _, a := range d.archive[t] {
		if a.OriginalPolicyID == originalID {
			a.Policy = clonePolicy(a.Policy)
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d *memoryData) insertArchive(a *renewal.ArchivedPolicy) error {
	t := a.Policy.Type
	if d.archive[t] == nil {
		d.archive[t] = make(map[int64]renewal.ArchivedPolicy)
	}
	d.nextArchiveID[t]++
	a.ID = d.nextArchiveID[t]
	stored := *a
	stored.Policy = clonePolicy(a.Policy)
	d.archive[t][a.ID] = stored
	return nil
}

func (d *memoryData) appendAudit(entry renewal.AuditEntry) {
	d.audit = append(d.audit, entry)
}

func (d *memoryData) clone() *memoryData {
	c := newMemoryData()
	for t, rows := range d.policies {
		c.policies[t] = make(map[int64]renewal.Policy, len(rows))
		for id, p := range rows {
			c.policies[t][id] = clonePolicy(p)
		}
	}
	for t, rows := range d.archive {
		c.archive[t] = make(map[int64]renewal.ArchivedPolicy, len(rows))
		for id, a := range rows {
			a.Policy = clonePolicy(a.Policy)
			c.archive[t][id] = a
		}
	}
	for k, v := range d.nextPolicyID {
		c.nextPolicyID[k] = v
	}
	for k, v := range d.nextArchiveID {
		c.nextArchiveID[k] = v
	}
	for k, v := range d.configs {
		c.configs[k] = v
	}
	c.logs = append(c.logs, d.logs...)
	for k, v := range d.logDays {
		c.logDays[k] = v
	}
	c.audit = append(c.audit, d.audit...)
	for k, v := range d.companies {
		c.companies[k] = v
	}
	for k, v := range d.consumers {
		c.consumers[k] = v
	}
	return c
}

func clonePolicy(p renewal.Policy) renewal.Policy {
	if p.InsuranceCompanyID != nil {
		v := *p.InsuranceCompanyID
		p.InsuranceCompanyID = &v
	}
	if p.PreviousPolicyID != nil {
		v := *p.PreviousPolicyID
		p.PreviousPolicyID = &v
	}
	if p.Details != nil {
		details := make(map[string]string, len(p.Details))
		for k, v := range p.Details {
			details[k] = v
		}
		p.Details = details
	}
	return p
}
