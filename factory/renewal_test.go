package factory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/renewal-engine/renewal"
)

func TestConfigFactory_ParseConfig(t *testing.T) {
	f := NewConfigFactory()

	cfg, err := f.ParseConfig([]byte(`{
		"service_type": "labour_license",
		"reminder_times": 3,
		"reminder_days": 30,
		"thresholds": [15, 7]
	}`))
	require.NoError(t, err)

	assert.Equal(t, renewal.TypeLabourLicense, cfg.ServiceType)
	assert.True(t, cfg.IsActive, "is_active defaults to true")
	assert.Equal(t, 1, cfg.ReminderNumber(20))
	assert.Equal(t, 2, cfg.ReminderNumber(15))
	assert.Equal(t, 3, cfg.ReminderNumber(7))
}

func TestConfigFactory_Inactive(t *testing.T) {
	cfg, err := NewConfigFactory().ParseConfig([]byte(`{"service_type": "health", "reminder_times": 1, "reminder_days": 10, "is_active": false}`))
	require.NoError(t, err)
	assert.False(t, cfg.IsActive)
}

func TestConfigFactory_Rejects(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"unknown type", `{"service_type": "boat", "reminder_times": 1, "reminder_days": 10}`},
		{"zero reminders", `{"service_type": "fire", "reminder_times": 0, "reminder_days": 10}`},
		{"threshold count", `{"service_type": "fire", "reminder_times": 3, "reminder_days": 30, "thresholds": [10]}`},
		{"ascending thresholds", `{"service_type": "fire", "reminder_times": 3, "reminder_days": 30, "thresholds": [7, 15]}`},
		{"malformed", `{"service_type": `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConfigFactory().ParseConfig([]byte(tt.json))
			assert.Error(t, err)
		})
	}
}

func TestConfigFactory_ParseConfigs_Duplicate(t *testing.T) {
	_, err := NewConfigFactory().ParseConfigs([]byte(`[
		{"service_type": "fire", "reminder_times": 1, "reminder_days": 10},
		{"service_type": "fire", "reminder_times": 2, "reminder_days": 20}
	]`))
	assert.ErrorContains(t, err, "duplicate")
}

func TestDefaultConfigs_CoverEveryType(t *testing.T) {
	configs := DefaultConfigs()

	byType := make(map[renewal.PolicyType]renewal.RenewalConfig)
	for _, c := range configs {
		byType[c.ServiceType] = c
	}
	for _, pt := range renewal.AllPolicyTypes {
		assert.Contains(t, byType, pt)
	}

	vehicle := byType[renewal.TypeVehicle]
	assert.Equal(t, 3, vehicle.ReminderTimes)
	assert.Equal(t, 30, vehicle.ReminderDays)
}

func TestConfigFactory_RoundTrip(t *testing.T) {
	f := NewConfigFactory()
	cfg, err := f.ParseConfig([]byte(`{"service_type": "labour_license", "reminder_times": 3, "reminder_days": 30, "thresholds": [15, 7]}`))
	require.NoError(t, err)

	back, err := f.FromJSON(f.ToJSON(*cfg))
	require.NoError(t, err)
	assert.Equal(t, cfg.Thresholds, back.Thresholds)
	assert.Equal(t, cfg.IsActive, back.IsActive)
}
