package sqldb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/renewal-engine/renewal"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func firePolicy(number string, end time.Time) renewal.Policy {
	insurer := int64(3)
	return renewal.Policy{
		Type:               renewal.TypeFire,
		PolicyNumber:       number,
		Holder:             renewal.OrganisationHolder(10),
		InsuranceCompanyID: &insurer,
		BusinessType:       renewal.BusinessNew,
		StartDate:          end.AddDate(-1, 0, 1),
		EndDate:            end,
		Premium:            renewal.NewPremium(decimal.RequireFromString("1000.50"), decimal.RequireFromString("180.09")),
		Status:             renewal.StatusActive,
		DocumentRef:        "docs/" + number + ".pdf",
		ContactEmail:       "desk@acme.test",
		Details:            map[string]string{"sum_insured": "5000000"},
		CreatedAt:          time.Date(2025, time.April, 1, 8, 30, 0, 0, time.UTC),
		UpdatedAt:          time.Date(2025, time.April, 1, 8, 30, 0, 0, time.UTC),
	}
}

// =============================================================================
// POLICIES
// =============================================================================

func TestPolicy_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := firePolicy("FP-1", day(2026, time.March, 31))
	require.NoError(t, s.InsertPolicy(ctx, &p))
	require.NotZero(t, p.ID)

	got, err := s.GetPolicy(ctx, renewal.TypeFire, p.ID)
	require.NoError(t, err)

	assert.Equal(t, p.PolicyNumber, got.PolicyNumber)
	assert.Equal(t, p.Holder, got.Holder)
	assert.Equal(t, p.InsuranceCompanyID, got.InsuranceCompanyID)
	assert.True(t, p.StartDate.Equal(got.StartDate))
	assert.True(t, p.EndDate.Equal(got.EndDate))
	assert.True(t, p.Premium.Gross.Equal(got.Premium.Gross), "gross %s", got.Premium.Gross)
	assert.Equal(t, "1180.59", got.Premium.Gross.StringFixed(2))
	assert.Equal(t, p.Details, got.Details)
	assert.True(t, p.CreatedAt.Equal(got.CreatedAt))
	assert.Nil(t, got.PreviousPolicyID)
}

func TestPolicy_IndividualHolder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := firePolicy("LP-1", day(2035, time.June, 30))
	p.Type = renewal.TypeLife
	p.Holder = renewal.IndividualHolder(42)
	p.TermYears = 10
	require.NoError(t, s.InsertPolicy(ctx, &p))

	got, err := s.GetPolicy(ctx, renewal.TypeLife, p.ID)
	require.NoError(t, err)
	assert.Equal(t, renewal.IndividualHolder(42), got.Holder)
	assert.Equal(t, 10, got.TermYears)
}

func TestPolicy_TablesArePerType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := firePolicy("FP-1", day(2026, time.March, 31))
	require.NoError(t, s.InsertPolicy(ctx, &p))

	_, err := s.GetPolicy(ctx, renewal.TypeVehicle, p.ID)
	assert.True(t, errors.Is(err, renewal.ErrPolicyNotFound))

	_, err = s.GetPolicy(ctx, "boat", 1)
	assert.True(t, errors.Is(err, renewal.ErrUnknownPolicyType))
}

func TestListExpiring(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insert := func(number string, end time.Time, status renewal.Status) {
		p := firePolicy(number, end)
		p.Status = status
		require.NoError(t, s.InsertPolicy(ctx, &p))
	}
	insert("FP-LATE", day(2026, time.March, 31), renewal.StatusActive)
	insert("FP-EARLY", day(2026, time.March, 5), renewal.StatusActive)
	insert("FP-FROM", day(2026, time.March, 1), renewal.StatusActive)
	insert("FP-OUT", day(2026, time.April, 1), renewal.StatusActive)
	insert("FP-BEFORE", day(2026, time.February, 28), renewal.StatusActive)
	insert("FP-CANCELLED", day(2026, time.March, 10), renewal.StatusCancelled)

	got, err := s.ListExpiring(ctx, renewal.TypeFire, day(2026, time.March, 1), day(2026, time.March, 31))
	require.NoError(t, err)

	var numbers []string
	for _, p := range got {
		numbers = append(numbers, p.PolicyNumber)
	}
	assert.Equal(t, []string{"FP-FROM", "FP-EARLY", "FP-LATE"}, numbers, "inclusive range, active only, by end date")
}

func TestUpdateAndDelete_NotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.UpdatePolicyStatus(ctx, renewal.TypeFire, 99, renewal.StatusCancelled, time.Now())
	assert.True(t, errors.Is(err, renewal.ErrPolicyNotFound))

	err = s.DeletePolicy(ctx, renewal.TypeFire, 99)
	assert.True(t, errors.Is(err, renewal.ErrPolicyNotFound))
}

// =============================================================================
// RENEWAL TRANSACTION
// =============================================================================

func renewalInput(number, start, end string) renewal.PolicyInput {
	return renewal.PolicyInput{
		PolicyNumber: number,
		CustomerType: "Organisation",
		CompanyID:    "10",
		StartDate:    start,
		EndDate:      end,
		NetPremium:   "1100",
		TaxAmount:    "198",
		DocumentRef:  "docs/" + number + ".pdf",
	}
}

func TestRenew_OnSQLite(t *testing.T) {
	// GIVEN: An active fire policy in SQLite
	s := newTestStore(t)
	ctx := context.Background()
	old := firePolicy("FP-2025", day(2026, time.March, 31))
	require.NoError(t, s.InsertPolicy(ctx, &old))

	tr := renewal.NewTransactor(s, zap.NewNop(), nil)

	// WHEN: Renewing twice
	first, err := tr.Renew(ctx, renewal.TypeFire, old.ID, renewalInput("FP-2026", "2026-04-01", "2027-03-31"))
	require.NoError(t, err)
	second, err := tr.Renew(ctx, renewal.TypeFire, first.Policy.ID, renewalInput("FP-2027", "2027-04-01", "2028-03-31"))
	require.NoError(t, err)

	// THEN: The archive snapshot keeps the original id and data
	archived, err := s.GetArchived(ctx, renewal.TypeFire, first.Archived.ID)
	require.NoError(t, err)
	assert.Equal(t, old.ID, archived.OriginalPolicyID)
	assert.Equal(t, renewal.StatusExpired, archived.Policy.Status)
	assert.Equal(t, "FP-2025", archived.Policy.PolicyNumber)
	assert.Equal(t, "5000000", archived.Policy.Details["sum_insured"])

	byOriginal, err := s.ListArchivedByOriginal(ctx, renewal.TypeFire, old.ID)
	require.NoError(t, err)
	assert.Len(t, byOriginal, 1)

	// AND: Lineage walks both archived terms
	lin, err := tr.Lineage(ctx, renewal.TypeFire, second.Policy.ID)
	require.NoError(t, err)
	require.Len(t, lin.History, 2)
	assert.Equal(t, "FP-2026", lin.History[0].Policy.PolicyNumber)
	assert.Equal(t, "FP-2025", lin.History[1].Policy.PolicyNumber)

	// AND: Both transitions are audited
	audit, err := s.ListAudit(ctx, renewal.TypeFire)
	require.NoError(t, err)
	assert.Len(t, audit, 2)
}

func TestInsertPolicy_DuplicateNumber(t *testing.T) {
	// GIVEN: An active fire policy FP-1
	s := newTestStore(t)
	ctx := context.Background()
	p := firePolicy("FP-1", day(2026, time.March, 31))
	require.NoError(t, s.InsertPolicy(ctx, &p))

	// WHEN: Inserting another fire policy with the same number
	dup := firePolicy("FP-1", day(2027, time.March, 31))
	err := s.InsertPolicy(ctx, &dup)

	// THEN: The unique index rejects it as a conflict
	require.Error(t, err)
	assert.True(t, renewal.IsConflict(err))
	assert.True(t, errors.Is(err, renewal.ErrDuplicatePolicyNumber))

	var dupErr *renewal.DuplicatePolicyError
	require.True(t, errors.As(err, &dupErr))
	assert.Equal(t, "FP-1", dupErr.PolicyNumber)

	// AND: The same number is accepted for another type
	other := firePolicy("FP-1", day(2027, time.March, 31))
	other.Type = renewal.TypeHealth
	require.NoError(t, s.InsertPolicy(ctx, &other))
}

func TestRenew_ReusesNumberOnSQLite(t *testing.T) {
	// GIVEN: An active fire policy
	s := newTestStore(t)
	ctx := context.Background()
	old := firePolicy("FP-2025", day(2026, time.March, 31))
	require.NoError(t, s.InsertPolicy(ctx, &old))
	tr := renewal.NewTransactor(s, zap.NewNop(), nil)

	// WHEN: The successor keeps the predecessor's number
	res, err := tr.Renew(ctx, renewal.TypeFire, old.ID, renewalInput("FP-2025", "2026-04-01", "2027-03-31"))

	// THEN: The old row is deleted before the insert, so the index allows it
	require.NoError(t, err)
	assert.Equal(t, "FP-2025", res.Policy.PolicyNumber)
	_, err = s.GetPolicy(ctx, renewal.TypeFire, old.ID)
	assert.True(t, errors.Is(err, renewal.ErrPolicyNotFound))

	// AND: Issuing the number again is still refused
	_, err = tr.Issue(ctx, renewal.TypeFire, renewalInput("FP-2025", "2026-04-01", "2027-03-31"))
	assert.True(t, renewal.IsConflict(err))
}

// brokenInsert fails the successor insert inside the transaction.
type brokenInsert struct {
	*Store
}

func (b *brokenInsert) WithTx(ctx context.Context, fn func(renewal.PolicyStore) error) error {
	return b.Store.WithTx(ctx, func(tx renewal.PolicyStore) error {
		return fn(&brokenTx{PolicyStore: tx})
	})
}

type brokenTx struct {
	renewal.PolicyStore
}

func (brokenTx) InsertPolicy(context.Context, *renewal.Policy) error {
	return errors.New("disk I/O error")
}

func TestRenew_RollbackOnSQLite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	old := firePolicy("FP-2025", day(2026, time.March, 31))
	require.NoError(t, s.InsertPolicy(ctx, &old))

	tr := renewal.NewTransactor(&brokenInsert{Store: s}, zap.NewNop(), nil)
	_, err := tr.Renew(ctx, renewal.TypeFire, old.ID, renewalInput("FP-2026", "2026-04-01", "2027-03-31"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, renewal.ErrPersistence))

	// The delete and the archive insert were rolled back
	_, err = s.GetPolicy(ctx, renewal.TypeFire, old.ID)
	require.NoError(t, err)
	byOriginal, err := s.ListArchivedByOriginal(ctx, renewal.TypeFire, old.ID)
	require.NoError(t, err)
	assert.Empty(t, byOriginal)
}

// =============================================================================
// CONFIGS
// =============================================================================

func TestConfigs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetConfig(ctx, renewal.TypeLabourLicense)
	assert.True(t, errors.Is(err, renewal.ErrConfigNotFound))

	cfg := renewal.RenewalConfig{
		ServiceType:   renewal.TypeLabourLicense,
		ReminderTimes: 3,
		ReminderDays:  30,
		Thresholds:    []int{15, 7},
		IsActive:      true,
		UpdatedAt:     time.Now().UTC(),
	}
	require.NoError(t, s.SaveConfig(ctx, cfg))

	got, err := s.GetConfig(ctx, renewal.TypeLabourLicense)
	require.NoError(t, err)
	assert.Equal(t, []int{15, 7}, got.Thresholds)
	assert.True(t, got.IsActive)

	// Upsert
	cfg.ReminderDays = 45
	cfg.IsActive = false
	require.NoError(t, s.SaveConfig(ctx, cfg))
	got, err = s.GetConfig(ctx, renewal.TypeLabourLicense)
	require.NoError(t, err)
	assert.Equal(t, 45, got.ReminderDays)
	assert.False(t, got.IsActive)

	all, err := s.ListConfigs(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	cfg.ReminderTimes = 0
	assert.Error(t, s.SaveConfig(ctx, cfg), "invalid configs are never written")
}

// =============================================================================
// REMINDER LOGS
// =============================================================================

func TestReminderLogs_OnePerDay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sentAt := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)

	first := renewal.ReminderLog{
		PolicyID:        7,
		PolicyType:      renewal.TypeFire,
		SentAt:          sentAt,
		SentDay:         "2026-03-01",
		DaysUntilExpiry: 30,
		ReminderNumber:  1,
		Status:          renewal.ReminderFailed,
		Error:           "smtp timeout",
	}
	require.NoError(t, s.AppendReminderLog(ctx, &first))
	assert.NotZero(t, first.ID)

	sent, err := s.HasReminderSince(ctx, renewal.TypeFire, 7, day(2026, time.March, 1))
	require.NoError(t, err)
	assert.True(t, sent, "failed attempts count")

	sent, err = s.HasReminderSince(ctx, renewal.TypeFire, 7, day(2026, time.March, 2))
	require.NoError(t, err)
	assert.False(t, sent)

	dup := first
	dup.ID = 0
	dup.SentAt = sentAt.Add(time.Hour)
	dup.Status = renewal.ReminderSent
	err = s.AppendReminderLog(ctx, &dup)
	assert.True(t, errors.Is(err, renewal.ErrDuplicateReminder))

	next := first
	next.ID = 0
	next.SentAt = sentAt.Add(24 * time.Hour)
	next.SentDay = "2026-03-02"
	next.DaysUntilExpiry = 29
	require.NoError(t, s.AppendReminderLog(ctx, &next))

	logs, err := s.ListReminderLogs(ctx, renewal.ReminderLogFilter{PolicyType: renewal.TypeFire, PolicyID: 7})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, 29, logs[0].DaysUntilExpiry, "newest first")
	assert.Equal(t, "smtp timeout", logs[1].Error)

	logs, err = s.ListReminderLogs(ctx, renewal.ReminderLogFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

// =============================================================================
// HOLDERS
// =============================================================================

func TestHolders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CompanyContact(ctx, 10)
	assert.True(t, errors.Is(err, renewal.ErrHolderNotFound))

	require.NoError(t, s.SaveCompany(ctx, 10, renewal.Contact{Name: "Acme Ltd", Email: "ops@acme.test"}))
	require.NoError(t, s.SaveCompany(ctx, 10, renewal.Contact{Name: "Acme Ltd", Email: "renewals@acme.test"}))
	c, err := s.CompanyContact(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, "renewals@acme.test", c.Email)

	require.NoError(t, s.SaveConsumer(ctx, 5, renewal.Contact{Name: "Priya", Phone: "+91-555"}))
	c, err = s.ConsumerContact(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "+91-555", c.Phone)
}

// =============================================================================
// FAILURE PATHS (sqlmock)
// =============================================================================

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := New(sqlx.NewDb(mockDB, "sqlite3"), SQLite)
	require.NoError(t, err)
	return s, mock
}

func TestMigrateFailure(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnError(errors.New("read-only file system"))
	_, err = New(sqlx.NewDb(mockDB, "sqlite3"), SQLite)
	assert.ErrorContains(t, err, "failed to migrate database")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_BeginFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin().WillReturnError(errors.New("database is locked"))

	tr := renewal.NewTransactor(s, zap.NewNop(), nil)
	_, err := tr.Renew(context.Background(), renewal.TypeFire, 1, renewalInput("FP-2026", "2026-04-01", "2027-03-31"))

	require.Error(t, err)
	assert.True(t, errors.Is(err, renewal.ErrPersistence))
	assert.ErrorContains(t, err, "database is locked")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT id, .* FROM fire_policies WHERE id = `).
		WithArgs(int64(1)).
		WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectRollback()

	tr := renewal.NewTransactor(s, zap.NewNop(), nil)
	_, err := tr.Renew(context.Background(), renewal.TypeFire, 1, renewalInput("FP-2026", "2026-04-01", "2027-03-31"))

	require.Error(t, err)
	assert.False(t, errors.Is(err, renewal.ErrPolicyNotFound), "a query failure is not a missing row")
	assert.True(t, errors.Is(err, renewal.ErrPersistence))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHasReminderSince_QueryFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT COUNT").WillReturnError(errors.New("no such table: reminder_logs"))

	_, err := s.HasReminderSince(context.Background(), renewal.TypeFire, 1, time.Now())
	assert.ErrorContains(t, err, "failed to check reminder log")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParseDialect(t *testing.T) {
	for _, in := range []string{"sqlite", "sqlite3", "SQLite3"} {
		d, err := ParseDialect(in)
		require.NoError(t, err)
		assert.Equal(t, SQLite, d)
	}
	for _, in := range []string{"postgres", "postgresql", "pq"} {
		d, err := ParseDialect(in)
		require.NoError(t, err)
		assert.Equal(t, Postgres, d)
	}
	_, err := ParseDialect("mysql")
	assert.Error(t, err)
}
