// Copyright 2026 Andrew McRae
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config decodes the hub's YAML configuration file into the
// structs each subsystem needs. Only the configuration surface that the
// core subsystems consult (§6) is represented here; HTTP/API-facing and
// home-automation-discovery configuration is out of scope.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration document.
type Config struct {
	Timezone  string          `yaml:"timezone"`
	Polling   PollingConfig   `yaml:"polling"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Smart     SmartConfig     `yaml:"smart"`
	Bus       BusConfig       `yaml:"bus"`
	Store     StoreConfig     `yaml:"store"`
	Hierarchy HierarchyConfig `yaml:"hierarchy"`
}

// PollingConfig governs the Orchestrator's tick cadence and fan-out.
type PollingConfig struct {
	IntervalSecs       int `yaml:"interval_secs"`
	Concurrent         int `yaml:"concurrent"`
	SmartTickIntervalS int `yaml:"smart_tick_interval_secs"`
}

// DiscoveryConfig governs the Discoverer and RecoveryManager.
type DiscoveryConfig struct {
	Enabled             bool     `yaml:"enabled"`
	ScanOnStartup       bool     `yaml:"scan_on_startup"`
	PriorityOrder       []string `yaml:"priority_order"`
	InitialRetryMinutes float64  `yaml:"initial_retry_minutes"`
	MaxRetryMinutes     float64  `yaml:"max_retry_minutes"`
	BackoffMultiplier   float64  `yaml:"backoff_multiplier"`
	MaxFailures         int      `yaml:"max_failures"`
}

// BusConfig configures the MQTT-backed message bus client.
type BusConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Base     string `yaml:"base"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// StoreConfig configures the TelemetryStore implementation.
type StoreConfig struct {
	Driver string `yaml:"driver"` // "sqlite" (default) or "postgres"
	DSN    string `yaml:"dsn"`
}

// HierarchyConfig points at the hierarchy definition loaded separately
// (system/array/pack topology); configuration-file loading for the
// hierarchy itself is out of scope, but the path is part of the core
// config surface so the Orchestrator knows where to validate from.
type HierarchyConfig struct {
	Path string `yaml:"path"`
}

// SmartConfig wraps the smart scheduler policy parameters (§4.8) plus
// tariff windows, keyed by array_id so each array can carry its own
// policy.
type SmartConfig struct {
	Policies map[string]PolicyConfig `yaml:"policy"`
}

// PolicyConfig is the full set of per-array scheduler policy parameters.
type PolicyConfig struct {
	PrimaryMode               string  `yaml:"primary_mode"`
	EnableAutoModeSwitching   bool    `yaml:"enable_auto_mode_switching"`
	OvernightMinSOCPct        float64 `yaml:"overnight_min_soc_pct"`
	BlackoutReserveSOCPct     float64 `yaml:"blackout_reserve_soc_pct"`
	EmergencySOCGridAvailPct  float64 `yaml:"emergency_soc_threshold_grid_available_pct"`
	EmergencySOCGridLostPct   float64 `yaml:"emergency_soc_threshold_grid_unavailable_pct"`
	CriticalSOCGridAvailPct   float64 `yaml:"critical_soc_threshold_grid_available_pct"`
	CriticalSOCGridLostPct    float64 `yaml:"critical_soc_threshold_grid_unavailable_pct"`
	OffGridStartupSOCPct      float64 `yaml:"off_grid_startup_soc_pct"`
	TargetFullBeforeSunset    bool    `yaml:"target_full_before_sunset"`
	MaxBatterySOCPct          float64 `yaml:"max_battery_soc_pct"`
	MaxChargePowerW           float64 `yaml:"max_charge_power_w"`
	MaxDischargePowerW        float64 `yaml:"max_discharge_power_w"`
	MaxGridChargeW            float64 `yaml:"max_grid_charge_w"`
	MinSelfSufficiencyPct     float64 `yaml:"min_self_sufficiency_pct"`
	TargetSelfSufficiencyPct  float64 `yaml:"target_self_sufficiency_pct"`
	MaxGridUsageKWhPerDay     float64 `yaml:"max_grid_usage_kwh_per_day"`
	EmergencyReserveHours     float64 `yaml:"emergency_reserve_hours"`
	ConserveOnBadTomorrow     bool    `yaml:"conserve_on_bad_tomorrow"`
	BadSunThresholdKWh        float64 `yaml:"bad_sun_threshold_kwh"`
	PoorWeatherThresholdKWh   float64 `yaml:"poor_weather_threshold_kwh"`
	SolarTargetThresholdPct   float64 `yaml:"solar_target_threshold_pct"`
	CloseToTargetThresholdPct float64 `yaml:"close_to_target_threshold_pct"`
	LoadFallbackKW            float64 `yaml:"load_fallback_kw"`
	SolarChargeDeadlineHours  float64 `yaml:"solar_charge_deadline_hours_before_sunset"`
	SplitPolicy               string  `yaml:"split_policy"` // "equal" | "rated" | "headroom"
	StepW                     float64 `yaml:"step_w"`
	MinWPerInverter           float64 `yaml:"min_w_per_inverter"`
	Tariffs                   []TariffWindowConfig `yaml:"tariffs"`
}

// TariffWindowConfig is one configured TOU window.
type TariffWindowConfig struct {
	Kind               string  `yaml:"kind"` // "cheap" | "normal" | "peak"
	Start              string  `yaml:"start"`
	End                string  `yaml:"end"`
	Price              float64 `yaml:"price"`
	AllowGridCharge    bool    `yaml:"allow_grid_charge"`
	AllowDischarge     bool    `yaml:"allow_discharge"`
	Priority           int     `yaml:"priority"`
	PeakShavingEnabled bool    `yaml:"peak_shaving_enabled"`
}

// Load reads and decodes the YAML configuration file at path, applying
// the defaults described in §6/§4.7/§4.8.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Polling.IntervalSecs == 0 {
		c.Polling.IntervalSecs = 2
	}
	if c.Polling.Concurrent == 0 {
		c.Polling.Concurrent = 8
	}
	if c.Polling.SmartTickIntervalS == 0 {
		c.Polling.SmartTickIntervalS = 300
	}
	if c.Polling.SmartTickIntervalS < 30 {
		c.Polling.SmartTickIntervalS = 30
	}
	if c.Polling.SmartTickIntervalS > 3600 {
		c.Polling.SmartTickIntervalS = 3600
	}
	if c.Discovery.InitialRetryMinutes == 0 {
		c.Discovery.InitialRetryMinutes = 1
	}
	if c.Discovery.MaxRetryMinutes == 0 {
		c.Discovery.MaxRetryMinutes = 60
	}
	if c.Discovery.BackoffMultiplier == 0 {
		c.Discovery.BackoffMultiplier = 2
	}
	if c.Discovery.MaxFailures == 0 {
		c.Discovery.MaxFailures = 10
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Bus.Base == "" {
		c.Bus.Base = "solarhub"
	}
}

// PollInterval returns the configured poll interval as a Duration.
func (p PollingConfig) PollInterval() time.Duration {
	return time.Duration(p.IntervalSecs) * time.Second
}
