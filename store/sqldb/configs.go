package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/warp/renewal-engine/renewal"
)

// =============================================================================
// CONFIG STORE (renewal.ConfigStore interface)
// =============================================================================

type configRow struct {
	ServiceType   string `db:"service_type"`
	ReminderTimes int    `db:"reminder_times"`
	ReminderDays  int    `db:"reminder_days"`
	Thresholds    string `db:"thresholds"`
	IsActive      bool   `db:"is_active"`
	UpdatedAt     string `db:"updated_at"`
}

const configColumns = "service_type, reminder_times, reminder_days, thresholds, is_active, updated_at"

func (s *Store) GetConfig(ctx context.Context, serviceType renewal.PolicyType) (*renewal.RenewalConfig, error) {
	defer s.readLock()()

	var row configRow
	err := s.db.GetContext(ctx, &row,
		s.db.Rebind("SELECT "+configColumns+" FROM renewal_configs WHERE service_type = ?"),
		string(serviceType))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", renewal.ErrConfigNotFound, serviceType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get renewal config: %w", err)
	}

	cfg, err := row.toConfig()
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveConfig inserts or replaces the config for its service type.
func (s *Store) SaveConfig(ctx context.Context, cfg renewal.RenewalConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	defer s.writeLock()()

	query := `
		INSERT INTO renewal_configs (` + configColumns + `)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (service_type) DO UPDATE SET
			reminder_times = excluded.reminder_times,
			reminder_days = excluded.reminder_days,
			thresholds = excluded.thresholds,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, s.db.Rebind(query),
		string(cfg.ServiceType),
		cfg.ReminderTimes,
		cfg.ReminderDays,
		joinInts(cfg.Thresholds),
		cfg.IsActive,
		formatTime(cfg.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save renewal config: %w", err)
	}
	return nil
}

func (s *Store) ListConfigs(ctx context.Context) ([]renewal.RenewalConfig, error) {
	defer s.readLock()()

	var rows []configRow
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT "+configColumns+" FROM renewal_configs ORDER BY service_type ASC"); err != nil {
		return nil, fmt.Errorf("failed to list renewal configs: %w", err)
	}

	out := make([]renewal.RenewalConfig, 0, len(rows))
	for _, row := range rows {
		cfg, err := row.toConfig()
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

func (r configRow) toConfig() (renewal.RenewalConfig, error) {
	thresholds, err := splitInts(r.Thresholds)
	if err != nil {
		return renewal.RenewalConfig{}, fmt.Errorf("renewal config %s: bad thresholds %q: %w", r.ServiceType, r.Thresholds, err)
	}
	return renewal.RenewalConfig{
		ServiceType:   renewal.PolicyType(r.ServiceType),
		ReminderTimes: r.ReminderTimes,
		ReminderDays:  r.ReminderDays,
		Thresholds:    thresholds,
		IsActive:      r.IsActive,
		UpdatedAt:     parseTime(r.UpdatedAt),
	}, nil
}

func joinInts(vs []int) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func splitInts(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
