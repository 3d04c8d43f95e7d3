/*
Package factory provides JSON to Go renewal config conversion.

PURPOSE:
  Converts JSON reminder cadence definitions into renewal.RenewalConfig
  values. Operations can change how often and how early customers are
  reminded without a code change: edit the seed file or PUT the config
  through the admin endpoint.

JSON SCHEMA:
  {
    "service_type": "labour_license",
    "reminder_times": 3,
    "reminder_days": 30,
    "thresholds": [15, 7],
    "is_active": true
  }

  thresholds is optional. Without it the window is split evenly.
  is_active defaults to true when omitted.

USAGE:
  f := NewConfigFactory()

  // From a seed file (array of configs)
  configs, err := f.ParseConfigs(data)

  // Built-in presets
  configs, err := f.ParseConfigs([]byte(DefaultConfigsJSON))

SEE ALSO:
  - renewal/config.go: RenewalConfig and its cadence rules
  - api/handlers.go: Admin endpoints that accept this schema
*/
package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/renewal-engine/renewal"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ConfigJSON is the JSON representation of a renewal config.
type ConfigJSON struct {
	ServiceType   string `json:"service_type"`
	ReminderTimes int    `json:"reminder_times"`
	ReminderDays  int    `json:"reminder_days"`
	Thresholds    []int  `json:"thresholds,omitempty"`
	IsActive      *bool  `json:"is_active,omitempty"`
}

// =============================================================================
// CONFIG FACTORY
// =============================================================================

// ConfigFactory converts JSON configs to Go structs.
type ConfigFactory struct {
	Now func() time.Time
}

func NewConfigFactory() *ConfigFactory {
	return &ConfigFactory{Now: time.Now}
}

// ParseConfig parses a single JSON object.
func (f *ConfigFactory) ParseConfig(data []byte) (*renewal.RenewalConfig, error) {
	var cj ConfigJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return nil, fmt.Errorf("failed to parse renewal config JSON: %w", err)
	}
	return f.FromJSON(cj)
}

// ParseConfigs parses a JSON array. Duplicate service types are rejected.
func (f *ConfigFactory) ParseConfigs(data []byte) ([]renewal.RenewalConfig, error) {
	var cjs []ConfigJSON
	if err := json.Unmarshal(data, &cjs); err != nil {
		return nil, fmt.Errorf("failed to parse renewal configs JSON: %w", err)
	}

	seen := make(map[renewal.PolicyType]bool, len(cjs))
	out := make([]renewal.RenewalConfig, 0, len(cjs))
	for i, cj := range cjs {
		cfg, err := f.FromJSON(cj)
		if err != nil {
			return nil, fmt.Errorf("config #%d: %w", i, err)
		}
		if seen[cfg.ServiceType] {
			return nil, fmt.Errorf("config #%d: duplicate service type %s", i, cfg.ServiceType)
		}
		seen[cfg.ServiceType] = true
		out = append(out, *cfg)
	}
	return out, nil
}

// FromJSON converts and validates one config.
func (f *ConfigFactory) FromJSON(cj ConfigJSON) (*renewal.RenewalConfig, error) {
	t, err := renewal.ParsePolicyType(cj.ServiceType)
	if err != nil {
		return nil, err
	}

	cfg := &renewal.RenewalConfig{
		ServiceType:   t,
		ReminderTimes: cj.ReminderTimes,
		ReminderDays:  cj.ReminderDays,
		Thresholds:    append([]int(nil), cj.Thresholds...),
		IsActive:      true,
		UpdatedAt:     f.Now().UTC(),
	}
	if cj.IsActive != nil {
		cfg.IsActive = *cj.IsActive
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ToJSON converts a RenewalConfig to ConfigJSON.
func (f *ConfigFactory) ToJSON(cfg renewal.RenewalConfig) ConfigJSON {
	active := cfg.IsActive
	return ConfigJSON{
		ServiceType:   string(cfg.ServiceType),
		ReminderTimes: cfg.ReminderTimes,
		ReminderDays:  cfg.ReminderDays,
		Thresholds:    append([]int(nil), cfg.Thresholds...),
		IsActive:      &active,
	}
}

// =============================================================================
// PRESETS
// =============================================================================

// DefaultConfigsJSON seeds an empty database. Labour licenses use explicit
// boundaries: 7 days or fewer is the third reminder, 15 or fewer the second.
const DefaultConfigsJSON = `[
  {"service_type": "fire",                  "reminder_times": 3, "reminder_days": 30},
  {"service_type": "health",                "reminder_times": 3, "reminder_days": 30},
  {"service_type": "life",                  "reminder_times": 3, "reminder_days": 30},
  {"service_type": "vehicle",               "reminder_times": 3, "reminder_days": 30},
  {"service_type": "employee_compensation", "reminder_times": 3, "reminder_days": 30},
  {"service_type": "dsc",                   "reminder_times": 2, "reminder_days": 15},
  {"service_type": "labour_license",        "reminder_times": 3, "reminder_days": 30, "thresholds": [15, 7]}
]`

// DefaultConfigs parses DefaultConfigsJSON.
func DefaultConfigs() []renewal.RenewalConfig {
	configs, err := NewConfigFactory().ParseConfigs([]byte(DefaultConfigsJSON))
	if err != nil {
		panic(fmt.Sprintf("invalid built-in renewal configs: %v", err))
	}
	return configs
}
