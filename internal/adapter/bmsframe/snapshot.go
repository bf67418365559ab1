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

package bmsframe

import (
	"time"

	"github.com/aamcrae/solarhub/internal/model"
)

// Snapshot builds a BatteryBankTelemetry from a Sniffer's current cache;
// shared by the passive-serial and TCP-gateway adapter variants (§4.1
// items 4-5), which differ only in how bytes reach the Sniffer.
func Snapshot(bankID string, sniffer *Sniffer) model.BatteryBankTelemetry {
	banks := sniffer.Banks()
	bank := model.BatteryBankTelemetry{
		BankID:         bankID,
		Timestamp:      time.Now(),
		BatteriesCount: len(banks),
	}
	if len(banks) == 0 {
		return bank
	}
	bank.CellsPerBattery = 16
	var sumV, sumSOC float64
	bank.Units = make([]model.BatteryUnitTelemetry, 0, len(banks))
	bank.Cells = make([][]model.BatteryCellTelemetry, 0, len(banks))
	for idx := 0; idx < len(banks); idx++ {
		rec, ok := banks[idx]
		if !ok || rec.Status == nil {
			bank.Units = append(bank.Units, model.BatteryUnitTelemetry{})
			bank.Cells = append(bank.Cells, nil)
			continue
		}
		u := model.BatteryUnitTelemetry{
			Voltage:     rec.Status.PackVoltage,
			Current:     rec.Status.PackCurrentA,
			SOCPct:      rec.Status.SOCPct,
			SOHPct:      rec.Status.SOHPct,
			Cycles:      rec.Status.Cycles,
			StatusFlags: switchBits(rec.Status.Switches),
		}
		bank.Units = append(bank.Units, u)
		cells := make([]model.BatteryCellTelemetry, 16)
		for i := 0; i < 16; i++ {
			cells[i] = model.BatteryCellTelemetry{
				VoltageMV:      rec.Status.CellMilliVolts[i],
				ResistanceMOhm: rec.Status.CellResistanceM[i],
			}
		}
		bank.Cells = append(bank.Cells, cells)
		sumV += u.Voltage
		sumSOC += u.SOCPct
	}
	n := float64(len(banks))
	bank.Voltage = sumV / n
	bank.SOCPct = sumSOC / n
	return bank
}

// switchBits packs a StatusFrame's three decoded switch booleans into the
// low bits of the telemetry's generic StatusFlags word.
func switchBits(sw [3]bool) uint32 {
	var bits uint32
	for i, on := range sw {
		if on {
			bits |= 1 << uint(i)
		}
	}
	return bits
}
