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

package model

import "time"

// InverterTelemetry is the normalized telemetry emitted by a hybrid
// inverter adapter on every poll.
type InverterTelemetry struct {
	Timestamp     time.Time
	ArrayID       string
	InverterID    string
	PVPowerW      float64
	LoadPowerW    float64
	GridPowerW    float64 // signed: positive = import
	BattPowerW    float64 // signed: positive = charging
	BattSOCPct    float64
	BattVoltage   float64
	BattCurrent   float64
	TempC         float64
	InverterMode  string
	Extra         map[string]any
}

// BatteryUnitTelemetry is one physical battery's reading within a bank.
type BatteryUnitTelemetry struct {
	Voltage     float64
	Current     float64
	SOCPct      float64
	SOHPct      float64
	TempC       float64
	Cycles      int
	StatusFlags uint32
}

// BatteryCellTelemetry is optional per-cell detail within a unit.
type BatteryCellTelemetry struct {
	VoltageMV     float64
	ResistanceMOhm float64
	Balancing     bool
}

// BatteryBankTelemetry is the normalized telemetry emitted by any of the
// BMS adapter variants on every poll.
type BatteryBankTelemetry struct {
	BankID          string
	Timestamp       time.Time
	Voltage         float64
	Current         float64
	TempC           float64
	SOCPct          float64
	BatteriesCount  int
	CellsPerBattery int
	Units           []BatteryUnitTelemetry
	Cells           [][]BatteryCellTelemetry // indexed [unit][cell], may be nil
}

// MeterTelemetry is the normalized telemetry emitted by an energy meter
// adapter on every poll.
type MeterTelemetry struct {
	MeterID         string
	Timestamp       time.Time
	Voltage         float64
	Current         float64
	PowerW          float64 // signed
	FrequencyHz     float64
	PowerFactor     float64
	ImportTotalWh   float64
	ExportTotalWh   float64
	ImportDailyWh   float64 // resets at local midnight
	ExportDailyWh   float64
}

// ArrayTelemetry is the per-poll roll-up for one InverterArray (and its
// attached BatteryArray, if any).
type ArrayTelemetry struct {
	ArrayID         string
	Timestamp       time.Time
	MemberIDs       []string
	PVPowerW        float64
	LoadPowerW      float64
	GridPowerW      float64
	BattPowerW      float64
	BattSOCPct      float64
	BattVoltage     float64
	MaxChargeKW     float64
	MaxDischargeKW  float64
	Extra           map[string]any
}

// SystemTelemetry is the per-poll roll-up for a whole System.
type SystemTelemetry struct {
	SystemID    string
	Timestamp   time.Time
	MemberIDs   []string
	PVPowerW    float64
	LoadPowerW  float64
	GridPowerW  float64
	BattPowerW  float64
	BattSOCPct  float64
}
