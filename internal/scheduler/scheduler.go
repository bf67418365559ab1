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

// Package scheduler implements the per-array smart scheduler (§4.8): a
// TOU/SOC policy engine that, on each tick, decides whether the array
// should charge from the grid, discharge, or hold, and emits
// configuration-write commands split across the array's inverters.
package scheduler

import (
	"fmt"
	"math"
	"time"

	"github.com/aamcrae/solarhub/internal/config"
	"github.com/aamcrae/solarhub/internal/metrics"
	"github.com/aamcrae/solarhub/internal/model"
)

// Forecast is the weather-derived solar yield estimate the scheduler
// consumes; producing it is out of scope (§1).
type Forecast struct {
	TodayKWh    float64
	TomorrowKWh float64
}

// GridState is the per-array grid-availability state machine (§4.8).
type GridState int

const (
	GridAvailable GridState = iota
	GridLost
)

// InverterInfo is the static per-inverter data the split policies need.
type InverterInfo struct {
	InverterID  string
	RatedPowerW float64
	CurrentW    float64 // instantaneous output, for the headroom split
}

// Decision is one inverter's computed share of the array target for this
// tick; Mode is "charge", "discharge", or "hold".
type Decision struct {
	InverterID string
	Mode       string
	PowerW     float64
	RegisterID string
}

// Scheduler runs one array's policy.
type Scheduler struct {
	arrayID  string
	policy   config.PolicyConfig
	loc      *time.Location
	lastSent map[string]float64 // dedup key -> last published value
}

// New returns a Scheduler for one array.
func New(arrayID string, policy config.PolicyConfig, loc *time.Location) *Scheduler {
	return &Scheduler{arrayID: arrayID, policy: policy, loc: loc, lastSent: make(map[string]float64)}
}

// Tick runs the full decision procedure (§4.8 steps 1-7) and returns the
// per-inverter decisions still worth publishing (idempotence already
// applied). sunrise and sunset are today's sunrise/sunset times in the
// scheduler's location.
func (s *Scheduler) Tick(now time.Time, array model.ArrayTelemetry, grid GridState, fc Forecast,
	sunrise, sunset time.Time, inverters []InverterInfo, packNominalKWh float64) []Decision {

	now = now.In(s.loc)
	window := activeWindow(now, s.policy.Tariffs)

	mode := s.effectivePrimaryMode(array.BattSOCPct, fc)

	deadline := sunset.Add(-time.Duration(s.policy.SolarChargeDeadlineHours * float64(time.Hour)))
	hoursToDeadline := deadline.Sub(now).Hours()
	if hoursToDeadline < 0 {
		hoursToDeadline = 0
	}

	forecastToDeadline := solarUntil(now, deadline, sunrise, sunset, fc.TodayKWh)
	loadKW := s.policy.LoadFallbackKW
	expectedLoadToDeadline := loadKW * hoursToDeadline

	requiredKWh := (s.policy.MaxBatterySOCPct - array.BattSOCPct) * packNominalKWh / 100
	if requiredKWh < 0 {
		requiredKWh = 0
	}
	netUntilDeadline := forecastToDeadline - expectedLoadToDeadline

	var gridChargeW float64
	needsGridCharge := netUntilDeadline < requiredKWh && requiredKWh > 0 && hoursToDeadline > 0
	if needsGridCharge {
		deficitKWh := requiredKWh - netUntilDeadline
		gridChargeW = deficitKWh * 1000 / hoursToDeadline
		if gridChargeW > s.policy.MaxGridChargeW {
			gridChargeW = s.policy.MaxGridChargeW
		}
	}

	floor := s.dischargeFloor(grid)

	var targetW float64
	var arrayMode string
	switch {
	case needsGridCharge && window.AllowGridCharge:
		targetW = gridChargeW
		arrayMode = "charge"
	case window.Kind == "peak" && window.AllowDischarge && array.BattSOCPct > floor:
		targetW = s.policy.MaxDischargePowerW
		arrayMode = "discharge"
	case mode == "self_use":
		arrayMode = "hold"
	default:
		arrayMode = "hold"
	}

	metrics.SchedulerDecisions.WithLabelValues(s.arrayID, arrayMode).Inc()
	if arrayMode == "hold" {
		return nil
	}

	shares := split(s.policy.SplitPolicy, targetW, inverters, s.policy.StepW, s.policy.MinWPerInverter)

	var out []Decision
	for _, sh := range shares {
		if sh.PowerW <= 0 {
			continue
		}
		regID := "charge_power_w"
		if arrayMode == "discharge" {
			regID = "discharge_power_w"
		}
		key := fmt.Sprintf("%s|%s", sh.InverterID, regID)
		if last, ok := s.lastSent[key]; ok && last == sh.PowerW {
			continue // idempotent: unchanged since last publish
		}
		s.lastSent[key] = sh.PowerW
		out = append(out, Decision{InverterID: sh.InverterID, Mode: arrayMode, PowerW: sh.PowerW, RegisterID: regID})
	}
	return out
}

// effectivePrimaryMode implements §4.8 step 2.
func (s *Scheduler) effectivePrimaryMode(socPct float64, fc Forecast) string {
	if !s.policy.EnableAutoModeSwitching {
		return s.policy.PrimaryMode
	}
	closeToTarget := s.policy.MaxBatterySOCPct-socPct <= s.policy.CloseToTargetThresholdPct
	poorWeather := fc.TodayKWh < s.policy.PoorWeatherThresholdKWh
	if closeToTarget || poorWeather {
		return "self_use"
	}
	return s.policy.PrimaryMode
}

// dischargeFloor resolves the applicable SOC floor for the discharge
// window's end condition (§4.8 step 5), adding a 2-point reliability
// buffer above the raw emergency/critical floor.
func (s *Scheduler) dischargeFloor(grid GridState) float64 {
	const reliabilityBufferPct = 2.0
	var floor float64
	if grid == GridAvailable {
		floor = s.policy.CriticalSOCGridAvailPct
	} else {
		floor = s.policy.CriticalSOCGridLostPct
	}
	return floor + reliabilityBufferPct
}

// solarUntil integrates a flat daylight-hours share of the day's
// forecast kWh from `from` to `until`, against the actual
// [sunrise, sunset] window. Forecasts arrive as a single daily total
// (§1's "Forecast" value), so distribution across daylight hours is
// modeled as uniform, which is the simplest interpretation consistent
// with the spec's worked example in §8 scenario 3.
func solarUntil(from, until, sunrise, sunset time.Time, todayKWh float64) float64 {
	if from.Before(sunrise) {
		from = sunrise
	}
	if until.After(sunset) {
		until = sunset
	}
	if !until.After(from) {
		return 0
	}
	daylightHours := sunset.Sub(sunrise).Hours()
	if daylightHours <= 0 {
		return 0
	}
	hours := until.Sub(from).Hours()
	return todayKWh * hours / daylightHours
}

// tariffWindow is the resolved active window plus its configured flags.
type tariffWindow struct {
	Kind            string
	AllowGridCharge bool
	AllowDischarge  bool
}

// activeWindow resolves the tariff window covering `now`, handling
// midnight wraparound and breaking ties by priority (§4.8).
func activeWindow(now time.Time, tariffs []config.TariffWindowConfig) tariffWindow {
	minutes := now.Hour()*60 + now.Minute()
	var best *config.TariffWindowConfig
	for i := range tariffs {
		t := &tariffs[i]
		if coversMinute(t.Start, t.End, minutes) {
			if best == nil || t.Priority > best.Priority {
				best = t
			}
		}
	}
	if best == nil {
		return tariffWindow{Kind: "normal", AllowGridCharge: false, AllowDischarge: true}
	}
	return tariffWindow{Kind: best.Kind, AllowGridCharge: best.AllowGridCharge, AllowDischarge: best.AllowDischarge}
}

func coversMinute(start, end string, minute int) bool {
	s := parseHHMM(start)
	e := parseHHMM(end)
	if s == e {
		return true // 24h window
	}
	if s < e {
		return minute >= s && minute < e
	}
	// wraps midnight
	return minute >= s || minute < e
}

func parseHHMM(s string) int {
	var h, m int
	fmt.Sscanf(s, "%d:%d", &h, &m)
	return h*60 + m
}

// share is one inverter's rounded, floored power allocation.
type share struct {
	InverterID string
	PowerW     float64
}

// split divides targetW across inverters per the configured policy,
// rounds to stepW, and zeroes shares below minWPerInverter (§4.8 step 6).
func split(policy string, targetW float64, inverters []InverterInfo, stepW, minW float64) []share {
	if len(inverters) == 0 || targetW <= 0 {
		return nil
	}
	weights := make([]float64, len(inverters))
	var total float64
	switch policy {
	case "rated":
		for i, inv := range inverters {
			weights[i] = inv.RatedPowerW
			total += inv.RatedPowerW
		}
	case "headroom":
		for i, inv := range inverters {
			h := inv.RatedPowerW - inv.CurrentW
			if h < 0 {
				h = 0
			}
			weights[i] = h
			total += h
		}
	default: // "equal"
		for i := range inverters {
			weights[i] = 1
			total += 1
		}
	}
	out := make([]share, len(inverters))
	if total <= 0 {
		// No headroom anywhere: fall back to equal split.
		for i, inv := range inverters {
			out[i] = share{InverterID: inv.InverterID, PowerW: roundFloor(targetW/float64(len(inverters)), stepW, minW)}
		}
		return out
	}
	for i, inv := range inverters {
		out[i] = share{InverterID: inv.InverterID, PowerW: roundFloor(targetW*weights[i]/total, stepW, minW)}
	}
	return out
}

func roundFloor(w, stepW, minW float64) float64 {
	if stepW > 0 {
		w = math.Round(w/stepW) * stepW
	}
	if w < minW {
		return 0
	}
	return w
}
