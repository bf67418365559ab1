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

// Package aggregate implements the three stateless roll-up functions
// (§4.6) that run on every poll tick: pack, array, and system level.
package aggregate

import (
	"time"

	"github.com/aamcrae/solarhub/internal/model"
)

// PackInput is one battery unit's telemetry plus its declared capacity
// (used as the weighting factor).
type PackInput struct {
	UnitID     string
	Telemetry  model.BatteryUnitTelemetry
	CapacityAh float64
}

// Pack computes a pack-level rollup: capacity-weighted voltage/SOC,
// summed current, worst-case temperature.
func Pack(packID string, units []PackInput) model.BatteryBankTelemetry {
	out := model.BatteryBankTelemetry{BankID: packID, BatteriesCount: len(units)}
	if len(units) == 0 {
		return out
	}
	var weightedV, weightedSOC, totalCapacity, sumI, maxTemp float64
	for i, u := range units {
		sumI += u.Telemetry.Current
		if i == 0 || u.Telemetry.TempC > maxTemp {
			maxTemp = u.Telemetry.TempC
		}
		if u.CapacityAh > 0 {
			weightedV += u.Telemetry.Voltage * u.CapacityAh
			weightedSOC += u.Telemetry.SOCPct * u.CapacityAh
			totalCapacity += u.CapacityAh
		}
	}
	if totalCapacity > 0 {
		out.Voltage = weightedV / totalCapacity
		out.SOCPct = weightedSOC / totalCapacity
	} else {
		// Fallback: simple mean when no capacity is declared.
		var sumV, sumSOC float64
		for _, u := range units {
			sumV += u.Telemetry.Voltage
			sumSOC += u.Telemetry.SOCPct
		}
		n := float64(len(units))
		out.Voltage = sumV / n
		out.SOCPct = sumSOC / n
	}
	out.Current = sumI
	out.TempC = maxTemp
	return out
}

// ArrayInput bundles what Array needs: the inverters belonging to
// the array, the pack telemetry of any attached battery array (nil if
// none), and per-pack max charge/discharge declared configuration.
type ArrayInput struct {
	ArrayID        string
	Inverters      []model.InverterTelemetry
	AttachedPack   *model.BatteryBankTelemetry // nil if no attached battery array
	MaxChargeKW    float64
	MaxDischargeKW float64
}

// Array computes an array-level rollup (§4.6): PV/load/grid/battery
// power are component sums across inverters; battery SOC/voltage are
// single-sourced from the attached pack when present.
func Array(in ArrayInput) model.ArrayTelemetry {
	out := model.ArrayTelemetry{
		ArrayID:        in.ArrayID,
		MaxChargeKW:    in.MaxChargeKW,
		MaxDischargeKW: in.MaxDischargeKW,
		Extra:          make(map[string]any),
	}
	if len(in.Inverters) == 0 {
		out.Timestamp = time.Now()
		return out
	}
	out.Timestamp = in.Inverters[0].Timestamp
	for _, t := range in.Inverters {
		out.MemberIDs = append(out.MemberIDs, t.InverterID)
		out.PVPowerW += t.PVPowerW
		out.LoadPowerW += t.LoadPowerW
		out.GridPowerW += t.GridPowerW
		out.BattPowerW += t.BattPowerW
		if t.Timestamp.Before(out.Timestamp) {
			out.Timestamp = t.Timestamp
		}
	}
	if in.AttachedPack != nil {
		out.BattSOCPct = in.AttachedPack.SOCPct
		out.BattVoltage = in.AttachedPack.Voltage
		out.MemberIDs = append(out.MemberIDs, in.AttachedPack.BankID)
	} else {
		// No attached pack: fall back to inverter-reported SOC, marked
		// so downstream consumers know the source changed.
		var sumSOC, sumV float64
		for _, t := range in.Inverters {
			sumSOC += t.BattSOCPct
			sumV += t.BattVoltage
		}
		n := float64(len(in.Inverters))
		out.BattSOCPct = sumSOC / n
		out.BattVoltage = sumV / n
		out.Extra["soc_source"] = "inverter"
	}
	return out
}

// SystemInput bundles the arrays and system-scoped meters for System.
type SystemInput struct {
	SystemID string
	Arrays   []model.ArrayTelemetry
	Meters   []model.MeterTelemetry
}

// System computes a system-level rollup: sums across arrays, with
// meter-reported grid power taking precedence over summed inverter
// grid power when both are present (§4.6, §9).
func System(in SystemInput) model.SystemTelemetry {
	out := model.SystemTelemetry{SystemID: in.SystemID}
	if len(in.Arrays) == 0 {
		out.Timestamp = time.Now()
	} else {
		out.Timestamp = in.Arrays[0].Timestamp
	}
	var sumSOCWeight, weightedSOC float64
	for _, a := range in.Arrays {
		out.MemberIDs = append(out.MemberIDs, a.ArrayID)
		out.PVPowerW += a.PVPowerW
		out.LoadPowerW += a.LoadPowerW
		out.GridPowerW += a.GridPowerW
		out.BattPowerW += a.BattPowerW
		if a.Timestamp.Before(out.Timestamp) {
			out.Timestamp = a.Timestamp
		}
		weightedSOC += a.BattSOCPct
		sumSOCWeight++
	}
	if sumSOCWeight > 0 {
		out.BattSOCPct = weightedSOC / sumSOCWeight
	}
	if len(in.Meters) > 0 {
		var sumGrid float64
		for _, m := range in.Meters {
			out.MemberIDs = append(out.MemberIDs, m.MeterID)
			sumGrid += m.PowerW
		}
		out.GridPowerW = sumGrid
	}
	return out
}
