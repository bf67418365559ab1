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

package aggregate

import (
	"testing"
	"time"

	"github.com/aamcrae/solarhub/internal/model"
)

func TestPackCapacityWeighted(t *testing.T) {
	units := []PackInput{
		{UnitID: "a", CapacityAh: 100, Telemetry: model.BatteryUnitTelemetry{Voltage: 50, SOCPct: 80, Current: 2, TempC: 25}},
		{UnitID: "b", CapacityAh: 200, Telemetry: model.BatteryUnitTelemetry{Voltage: 51, SOCPct: 60, Current: 3, TempC: 30}},
	}
	got := Pack("pack1", units)
	wantV := (50*100 + 51*200) / 300.0
	wantSOC := (80*100 + 60*200) / 300.0
	if got.Voltage != wantV {
		t.Errorf("voltage = %v, want %v", got.Voltage, wantV)
	}
	if got.SOCPct != wantSOC {
		t.Errorf("soc = %v, want %v", got.SOCPct, wantSOC)
	}
	if got.Current != 5 {
		t.Errorf("current = %v, want 5", got.Current)
	}
	if got.TempC != 30 {
		t.Errorf("temp = %v, want max 30", got.TempC)
	}
}

func TestPackNoCapacityFallsBackToMean(t *testing.T) {
	units := []PackInput{
		{UnitID: "a", Telemetry: model.BatteryUnitTelemetry{Voltage: 50, SOCPct: 80}},
		{UnitID: "b", Telemetry: model.BatteryUnitTelemetry{Voltage: 52, SOCPct: 60}},
	}
	got := Pack("pack1", units)
	if got.Voltage != 51 {
		t.Errorf("voltage = %v, want 51", got.Voltage)
	}
	if got.SOCPct != 70 {
		t.Errorf("soc = %v, want 70", got.SOCPct)
	}
}

func TestArraySumsComponentPower(t *testing.T) {
	now := time.Now()
	invs := []model.InverterTelemetry{
		{InverterID: "inv1", Timestamp: now, PVPowerW: 1000, LoadPowerW: 400, GridPowerW: -200, BattPowerW: 300},
		{InverterID: "inv2", Timestamp: now.Add(time.Second), PVPowerW: 500, LoadPowerW: 100, GridPowerW: 50, BattPowerW: -100},
	}
	out := Array(ArrayInput{ArrayID: "arr1", Inverters: invs})
	if out.PVPowerW != 1500 {
		t.Errorf("pv sum = %v, want 1500", out.PVPowerW)
	}
	if out.LoadPowerW != 500 {
		t.Errorf("load sum = %v, want 500", out.LoadPowerW)
	}
	if out.GridPowerW != -150 {
		t.Errorf("grid sum = %v, want -150", out.GridPowerW)
	}
	if out.BattPowerW != 200 {
		t.Errorf("batt sum = %v, want 200", out.BattPowerW)
	}
	if !out.Timestamp.Equal(now) {
		t.Errorf("timestamp should be earliest member sample")
	}
	if out.Extra["soc_source"] != "inverter" {
		t.Errorf("expected soc_source=inverter marker when no pack attached")
	}
}

func TestArrayUsesAttachedPackSOC(t *testing.T) {
	invs := []model.InverterTelemetry{{InverterID: "inv1", Timestamp: time.Now(), BattSOCPct: 10}}
	pack := &model.BatteryBankTelemetry{BankID: "pack1", SOCPct: 77, Voltage: 51.2}
	out := Array(ArrayInput{ArrayID: "arr1", Inverters: invs, AttachedPack: pack})
	if out.BattSOCPct != 77 {
		t.Errorf("soc = %v, want pack's 77", out.BattSOCPct)
	}
	if _, ok := out.Extra["soc_source"]; ok {
		t.Errorf("soc_source marker should not be set when a pack is attached")
	}
}

func TestSystemPrefersMeterGridPower(t *testing.T) {
	arrays := []model.ArrayTelemetry{
		{ArrayID: "arr1", GridPowerW: 500, Timestamp: time.Now()},
	}
	meters := []model.MeterTelemetry{{MeterID: "m1", PowerW: 300}}
	out := System(SystemInput{SystemID: "sys1", Arrays: arrays, Meters: meters})
	if out.GridPowerW != 300 {
		t.Errorf("system grid power = %v, want meter-sourced 300", out.GridPowerW)
	}
}
