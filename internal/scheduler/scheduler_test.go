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

package scheduler

import (
	"math"
	"testing"
	"time"

	"github.com/aamcrae/solarhub/internal/config"
	"github.com/aamcrae/solarhub/internal/model"
)

func TestCoversMinuteWrapsMidnight(t *testing.T) {
	cases := []struct {
		start, end string
		minute     int
		want       bool
	}{
		{"22:00", "06:00", 23*60 + 30, true},  // 23:30, inside wrapped window
		{"22:00", "06:00", 5 * 60, true},      // 05:00, inside wrapped window
		{"22:00", "06:00", 12 * 60, false},    // noon, outside
		{"09:00", "17:00", 12 * 60, true},     // ordinary daytime window
		{"09:00", "17:00", 8 * 60, false},     // before window opens
		{"00:00", "00:00", 13 * 60, true},     // 24h window
	}
	for _, c := range cases {
		got := coversMinute(c.start, c.end, c.minute)
		if got != c.want {
			t.Errorf("coversMinute(%q, %q, %d) = %v, want %v", c.start, c.end, c.minute, got, c.want)
		}
	}
}

func TestActiveWindowPriorityTieBreak(t *testing.T) {
	tariffs := []config.TariffWindowConfig{
		{Kind: "normal", Start: "00:00", End: "00:00", Priority: 0, AllowDischarge: true},
		{Kind: "peak", Start: "17:00", End: "21:00", Priority: 5, AllowDischarge: true},
	}
	loc := time.UTC
	now := time.Date(2026, 8, 1, 18, 0, 0, 0, loc)
	got := activeWindow(now, tariffs)
	if got.Kind != "peak" {
		t.Errorf("expected higher-priority peak window to win, got %q", got.Kind)
	}
}

func TestActiveWindowNoMatchDefaultsNormal(t *testing.T) {
	got := activeWindow(time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC), nil)
	if got.Kind != "normal" || !got.AllowDischarge {
		t.Errorf("expected normal/discharge-allowed default, got %+v", got)
	}
}

func TestSplitEqual(t *testing.T) {
	invs := []InverterInfo{{InverterID: "a"}, {InverterID: "b"}}
	shares := split("equal", 1000, invs, 50, 0)
	if len(shares) != 2 {
		t.Fatalf("expected 2 shares, got %d", len(shares))
	}
	for _, s := range shares {
		if s.PowerW != 500 {
			t.Errorf("equal split: inverter %s got %v, want 500", s.InverterID, s.PowerW)
		}
	}
}

func TestSplitRatedWeighted(t *testing.T) {
	invs := []InverterInfo{
		{InverterID: "small", RatedPowerW: 3000},
		{InverterID: "big", RatedPowerW: 6000},
	}
	shares := split("rated", 3000, invs, 1, 0)
	byID := map[string]float64{}
	for _, s := range shares {
		byID[s.InverterID] = s.PowerW
	}
	if byID["small"] != 1000 {
		t.Errorf("small got %v, want 1000", byID["small"])
	}
	if byID["big"] != 2000 {
		t.Errorf("big got %v, want 2000", byID["big"])
	}
}

func TestSplitHeadroomFallsBackToEqualWhenSaturated(t *testing.T) {
	invs := []InverterInfo{
		{InverterID: "a", RatedPowerW: 5000, CurrentW: 5000},
		{InverterID: "b", RatedPowerW: 5000, CurrentW: 5000},
	}
	shares := split("headroom", 1000, invs, 1, 0)
	for _, s := range shares {
		if s.PowerW != 500 {
			t.Errorf("expected equal fallback of 500 when no headroom, got %v for %s", s.PowerW, s.InverterID)
		}
	}
}

func TestRoundFloorStepAndMin(t *testing.T) {
	if got := roundFloor(1230, 100, 0); got != 1200 {
		t.Errorf("round to nearest step: got %v, want 1200", got)
	}
	if got := roundFloor(40, 0, 100); got != 0 {
		t.Errorf("below min_w_per_inverter should floor to 0, got %v", got)
	}
}

func TestSolarUntilUsesRealSunriseNotMidnight(t *testing.T) {
	loc := time.UTC
	sunrise := time.Date(2026, 8, 1, 6, 0, 0, 0, loc)
	sunset := time.Date(2026, 8, 1, 18, 0, 0, 0, loc)
	from := time.Date(2026, 8, 1, 10, 0, 0, 0, loc)
	until := time.Date(2026, 8, 1, 17, 0, 0, 0, loc)

	got := solarUntil(from, until, sunrise, sunset, 30)
	want := 30.0 * 7 / 12 // 7 hours of a 12-hour (06:00-18:00) daylight window
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("solarUntil = %v, want %v (daylightHours must come from sunrise, not midnight)", got, want)
	}
}

func TestTickIdempotentSecondCallSuppressed(t *testing.T) {
	loc := time.UTC
	policy := config.PolicyConfig{
		PrimaryMode:              "self_use",
		MaxBatterySOCPct:         90,
		CriticalSOCGridAvailPct:  10,
		CriticalSOCGridLostPct:   20,
		MaxGridChargeW:           5000,
		SolarChargeDeadlineHours: 2,
		SplitPolicy:              "equal",
		Tariffs: []config.TariffWindowConfig{
			{Kind: "peak", Start: "00:00", End: "23:59", Priority: 1, AllowDischarge: true},
		},
		MaxDischargePowerW: 2000,
	}
	s := New("arr1", policy, loc)
	now := time.Date(2026, 8, 1, 18, 0, 0, 0, loc)
	sunrise := time.Date(2026, 8, 1, 6, 0, 0, 0, loc)
	sunset := time.Date(2026, 8, 1, 19, 0, 0, 0, loc)
	array := model.ArrayTelemetry{BattSOCPct: 40}
	inverters := []InverterInfo{{InverterID: "inv1", RatedPowerW: 5000}}

	first := s.Tick(now, array, GridAvailable, Forecast{TodayKWh: 10}, sunrise, sunset, inverters, 10)
	if len(first) == 0 {
		t.Fatalf("expected a decision on first tick")
	}
	second := s.Tick(now, array, GridAvailable, Forecast{TodayKWh: 10}, sunrise, sunset, inverters, 10)
	if len(second) != 0 {
		t.Errorf("expected idempotent suppression on unchanged second tick, got %d decisions", len(second))
	}
}
