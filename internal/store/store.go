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

// Package store defines the TelemetryStore interface the core depends
// on (§6) and a GORM/SQLite-backed implementation of it.
package store

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/glebarez/sqlite"

	"github.com/aamcrae/solarhub/internal/model"
	"github.com/aamcrae/solarhub/internal/registry"
)

// TelemetryStore is the persistent store the core relies on; out of
// scope for this specification beyond the interface shape (§1, §6).
type TelemetryStore interface {
	InsertSample(inverterID string, tel model.InverterTelemetry) error
	InsertBatteryBankSample(tel model.BatteryBankTelemetry) error
	InsertBatteryUnitSamples(bankID string, units []model.BatteryUnitTelemetry) error
	InsertBatteryCellSamples(bankID string, unit int, cells []model.BatteryCellTelemetry) error
	InsertMeterSample(tel model.MeterTelemetry) error
	UpsertMeterDaily(meterID, date string, importWh, exportWh float64) error
	UpsertDailyPV(day, inverterID string, kwh float64) error
	UpsertHourlyEnergy(inverterID, date string, hour int, solarKWh, loadKWh float64) error
	GetConfig(key string) (string, bool, error)
	SetConfig(key, value, source string) error
	GetAllDevices() ([]*registry.Entry, error)
}

// inverterSampleRow, batteryBankRow, etc. are the GORM row models
// backing TelemetryStore; table names follow the ids used in §3.

type inverterSampleRow struct {
	ID           uint `gorm:"primarykey"`
	InverterID   string `gorm:"index"`
	Timestamp    time.Time `gorm:"index"`
	ArrayID      string
	PVPowerW     float64
	LoadPowerW   float64
	GridPowerW   float64
	BattPowerW   float64
	BattSOCPct   float64
	BattVoltage  float64
	BattCurrent  float64
	TempC        float64
	InverterMode string
}

type batteryBankRow struct {
	ID        uint `gorm:"primarykey"`
	BankID    string `gorm:"index"`
	Timestamp time.Time `gorm:"index"`
	Voltage   float64
	Current   float64
	TempC     float64
	SOCPct    float64
}

type batteryUnitRow struct {
	ID        uint `gorm:"primarykey"`
	BankID    string `gorm:"index"`
	UnitIndex int
	Timestamp time.Time `gorm:"index"`
	Voltage   float64
	Current   float64
	SOCPct    float64
	SOHPct    float64
	TempC     float64
	Cycles    int
}

type batteryCellRow struct {
	ID             uint `gorm:"primarykey"`
	BankID         string `gorm:"index"`
	UnitIndex      int
	CellIndex      int
	Timestamp      time.Time `gorm:"index"`
	VoltageMV      float64
	ResistanceMOhm float64
	Balancing      bool
}

type meterSampleRow struct {
	ID            uint `gorm:"primarykey"`
	MeterID       string `gorm:"index"`
	Timestamp     time.Time `gorm:"index"`
	Voltage       float64
	Current       float64
	PowerW        float64
	FrequencyHz   float64
	PowerFactor   float64
	ImportTotalWh float64
	ExportTotalWh float64
}

type meterDailyRow struct {
	MeterID   string `gorm:"primaryKey"`
	Date      string `gorm:"primaryKey"`
	ImportWh  float64
	ExportWh  float64
}

type dailyPVRow struct {
	Day        string `gorm:"primaryKey"`
	InverterID string `gorm:"primaryKey"`
	KWh        float64
}

type hourlyEnergyRow struct {
	InverterID string `gorm:"primaryKey"`
	Date       string `gorm:"primaryKey"`
	Hour       int    `gorm:"primaryKey"`
	SolarKWh   float64
	LoadKWh    float64
}

type configRow struct {
	Key    string `gorm:"primaryKey"`
	Value  string
	Source string
}

type deviceRow struct {
	DeviceID      string `gorm:"primaryKey"`
	DeviceType    string
	SerialNumber  string
	Port          string
	LastKnownPort string
	PortHistory   string // comma-joined, deduplicated ordered list
	Status        string
	FailureCount  int
	NextRetryTime time.Time
	FirstSeen     time.Time
	LastSeen      time.Time
}

// GormStore implements TelemetryStore over GORM, backed by either a
// pure-Go SQLite file (the default) or Postgres (config.Store.Driver).
type GormStore struct {
	db *gorm.DB
}

// Open opens (and migrates) a GormStore for the given driver/dsn pair,
// mirroring config.StoreConfig's "sqlite" (default) or "postgres"
// selection.
func Open(driver, dsn string) (*GormStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case "", "sqlite":
		if dsn == "" {
			dsn = "solarhub.db"
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", driver, err)
	}
	if err := db.AutoMigrate(
		&inverterSampleRow{}, &batteryBankRow{}, &batteryUnitRow{}, &batteryCellRow{},
		&meterSampleRow{}, &meterDailyRow{}, &dailyPVRow{}, &hourlyEnergyRow{},
		&configRow{}, &deviceRow{},
	); err != nil {
		return nil, fmt.Errorf("migrating %s store: %w", driver, err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) InsertSample(inverterID string, t model.InverterTelemetry) error {
	return s.db.Create(&inverterSampleRow{
		InverterID: inverterID, Timestamp: t.Timestamp, ArrayID: t.ArrayID,
		PVPowerW: t.PVPowerW, LoadPowerW: t.LoadPowerW, GridPowerW: t.GridPowerW,
		BattPowerW: t.BattPowerW, BattSOCPct: t.BattSOCPct, BattVoltage: t.BattVoltage,
		BattCurrent: t.BattCurrent, TempC: t.TempC, InverterMode: t.InverterMode,
	}).Error
}

func (s *GormStore) InsertBatteryBankSample(t model.BatteryBankTelemetry) error {
	return s.db.Create(&batteryBankRow{
		BankID: t.BankID, Timestamp: t.Timestamp, Voltage: t.Voltage,
		Current: t.Current, TempC: t.TempC, SOCPct: t.SOCPct,
	}).Error
}

func (s *GormStore) InsertBatteryUnitSamples(bankID string, units []model.BatteryUnitTelemetry) error {
	if len(units) == 0 {
		return nil
	}
	now := time.Now()
	rows := make([]batteryUnitRow, len(units))
	for i, u := range units {
		rows[i] = batteryUnitRow{
			BankID: bankID, UnitIndex: i, Timestamp: now, Voltage: u.Voltage,
			Current: u.Current, SOCPct: u.SOCPct, SOHPct: u.SOHPct, TempC: u.TempC, Cycles: u.Cycles,
		}
	}
	return s.db.Create(&rows).Error
}

func (s *GormStore) InsertBatteryCellSamples(bankID string, unit int, cells []model.BatteryCellTelemetry) error {
	if len(cells) == 0 {
		return nil
	}
	now := time.Now()
	rows := make([]batteryCellRow, len(cells))
	for i, c := range cells {
		rows[i] = batteryCellRow{
			BankID: bankID, UnitIndex: unit, CellIndex: i, Timestamp: now,
			VoltageMV: c.VoltageMV, ResistanceMOhm: c.ResistanceMOhm, Balancing: c.Balancing,
		}
	}
	return s.db.Create(&rows).Error
}

func (s *GormStore) InsertMeterSample(t model.MeterTelemetry) error {
	return s.db.Create(&meterSampleRow{
		MeterID: t.MeterID, Timestamp: t.Timestamp, Voltage: t.Voltage, Current: t.Current,
		PowerW: t.PowerW, FrequencyHz: t.FrequencyHz, PowerFactor: t.PowerFactor,
		ImportTotalWh: t.ImportTotalWh, ExportTotalWh: t.ExportTotalWh,
	}).Error
}

func (s *GormStore) UpsertMeterDaily(meterID, date string, importWh, exportWh float64) error {
	row := meterDailyRow{MeterID: meterID, Date: date, ImportWh: importWh, ExportWh: exportWh}
	return s.db.Save(&row).Error
}

func (s *GormStore) UpsertDailyPV(day, inverterID string, kwh float64) error {
	row := dailyPVRow{Day: day, InverterID: inverterID, KWh: kwh}
	return s.db.Save(&row).Error
}

func (s *GormStore) UpsertHourlyEnergy(inverterID, date string, hour int, solarKWh, loadKWh float64) error {
	row := hourlyEnergyRow{InverterID: inverterID, Date: date, Hour: hour, SolarKWh: solarKWh, LoadKWh: loadKWh}
	return s.db.Save(&row).Error
}

func (s *GormStore) GetConfig(key string) (string, bool, error) {
	var row configRow
	err := s.db.First(&row, "key = ?", key).Error
	if err == gorm.ErrRecordNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return row.Value, true, nil
}

func (s *GormStore) SetConfig(key, value, source string) error {
	row := configRow{Key: key, Value: value, Source: source}
	return s.db.Save(&row).Error
}

func (s *GormStore) GetAllDevices() ([]*registry.Entry, error) {
	var rows []deviceRow
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*registry.Entry, len(rows))
	for i, r := range rows {
		var history []string
		if r.PortHistory != "" {
			history = strings.Split(r.PortHistory, ",")
		}
		out[i] = &registry.Entry{
			DeviceID: r.DeviceID, DeviceType: r.DeviceType, SerialNumber: r.SerialNumber,
			Port: r.Port, LastKnownPort: r.LastKnownPort, PortHistory: history,
			Status: registry.Status(r.Status), FailureCount: r.FailureCount,
			NextRetryTime: r.NextRetryTime, FirstSeen: r.FirstSeen, LastSeen: r.LastSeen,
		}
	}
	return out, nil
}

// PersistDevice upserts the registry Entry into the devices table, from
// which GetAllDevices reloads it at startup. Nothing in this module calls
// it, so registry changes made at runtime are not written back.
func (s *GormStore) PersistDevice(e *registry.Entry) error {
	row := deviceRow{
		DeviceID: e.DeviceID, DeviceType: e.DeviceType, SerialNumber: e.SerialNumber,
		Port: e.Port, LastKnownPort: e.LastKnownPort, PortHistory: strings.Join(e.PortHistory, ","),
		Status: string(e.Status), FailureCount: e.FailureCount,
		NextRetryTime: e.NextRetryTime, FirstSeen: e.FirstSeen, LastSeen: e.LastSeen,
	}
	return s.db.Save(&row).Error
}
