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

// Package bmsactive implements the actively-polled Modbus RTU BMS
// adapter variant (§4.1 item 3): each battery unit is addressed by its
// own Modbus unit id and queried directly for cell, pack, and status
// registers, as opposed to the passive sniffer variants.
package bmsactive

import (
	"context"
	"fmt"
	"time"

	modbus "github.com/aldas/go-modbus-client"

	"github.com/aamcrae/solarhub/internal/adapter"
	"github.com/aamcrae/solarhub/internal/model"
	"github.com/aamcrae/solarhub/internal/regmap"
)

// Config configures one actively-polled battery bank: one Modbus RTU
// serial line shared by every unit address in Units.
type Config struct {
	Port       string
	Units      []uint8
	RegMapPath string
	BankID     string
	CellCount  int
}

// Adapter actively queries a set of battery units on a shared RTU bus.
type Adapter struct {
	cfg    Config
	regmap *regmap.Map
	client *modbus.Client
}

func init() {
	adapter.Register("bms_active", func(raw any) (adapter.Adapter, error) {
		cfg, ok := raw.(Config)
		if !ok {
			return nil, fmt.Errorf("bms_active: invalid config type %T", raw)
		}
		return New(cfg)
	})
}

// New loads the register map and returns an unconnected adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.CellCount == 0 {
		cfg.CellCount = 16
	}
	m, err := regmap.Load(cfg.RegMapPath)
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, regmap: m}, nil
}

// Connect opens the shared RTU serial line.
func (a *Adapter) Connect(ctx context.Context) error {
	a.client = modbus.NewRTUClient()
	if err := a.client.Connect(ctx, a.cfg.Port); err != nil {
		return &adapter.TransportError{Kind: adapter.KindTransportOpen, Err: err}
	}
	return nil
}

// Close releases the serial line.
func (a *Adapter) Close() error {
	if a.client == nil {
		return nil
	}
	err := a.client.Close()
	a.client = nil
	return err
}

// CheckConnectivity probes the first configured unit's pack-voltage
// register.
func (a *Adapter) CheckConnectivity(ctx context.Context) bool {
	if len(a.cfg.Units) == 0 {
		return false
	}
	reg, ok := a.regmap.ByID("pack_voltage")
	if !ok {
		return false
	}
	_, err := a.readRegister(ctx, a.cfg.Units[0], reg)
	return err == nil
}

// ReadSerialNumber: the bank is identified by its configured id; the
// individual battery units expose no serial register over this
// protocol family.
func (a *Adapter) ReadSerialNumber(ctx context.Context) (string, error) {
	return a.cfg.BankID, nil
}

// Poll queries every configured unit address in turn for cell, pack,
// and status registers and emits a normalized BatteryBankTelemetry.
func (a *Adapter) Poll(ctx context.Context) (adapter.Telemetry, error) {
	bank := model.BatteryBankTelemetry{
		BankID:          a.cfg.BankID,
		Timestamp:       time.Now(),
		BatteriesCount:  len(a.cfg.Units),
		CellsPerBattery: a.cfg.CellCount,
		Units:           make([]model.BatteryUnitTelemetry, len(a.cfg.Units)),
		Cells:           make([][]model.BatteryCellTelemetry, len(a.cfg.Units)),
	}
	var sumV, sumSOC float64
	for i, unit := range a.cfg.Units {
		u, cells, err := a.pollUnit(ctx, unit)
		if err != nil {
			// Protocol error on one unit: leave it zeroed, remainder of
			// the bank still reports (§7 protocol error handling).
			continue
		}
		bank.Units[i] = u
		bank.Cells[i] = cells
		sumV += u.Voltage
		sumSOC += u.SOCPct
	}
	if n := float64(len(a.cfg.Units)); n > 0 {
		bank.Voltage = sumV / n
		bank.SOCPct = sumSOC / n
	}
	return adapter.Telemetry{Battery: &adapter.BatteryPoll{Value: bank}}, nil
}

func (a *Adapter) pollUnit(ctx context.Context, unit uint8) (model.BatteryUnitTelemetry, []model.BatteryCellTelemetry, error) {
	var u model.BatteryUnitTelemetry
	for _, spec := range []struct {
		id  string
		dst *float64
	}{
		{"pack_voltage", &u.Voltage},
		{"pack_current", &u.Current},
		{"soc", &u.SOCPct},
		{"soh", &u.SOHPct},
		{"temp", &u.TempC},
	} {
		reg, ok := a.regmap.ByID(spec.id)
		if !ok {
			continue
		}
		v, err := a.readRegister(ctx, unit, reg)
		if err != nil {
			return u, nil, err
		}
		*spec.dst = v
	}
	if reg, ok := a.regmap.ByID("cycles"); ok {
		if v, err := a.readRegister(ctx, unit, reg); err == nil {
			u.Cycles = int(v)
		}
	}
	if reg, ok := a.regmap.ByID("status_flags"); ok {
		if v, err := a.readRegister(ctx, unit, reg); err == nil {
			u.StatusFlags = uint32(v)
		}
	}
	cells := make([]model.BatteryCellTelemetry, a.cfg.CellCount)
	for i := 0; i < a.cfg.CellCount; i++ {
		id := fmt.Sprintf("cell_%d_mv", i+1)
		reg, ok := a.regmap.ByID(id)
		if !ok {
			continue
		}
		if v, err := a.readRegister(ctx, unit, reg); err == nil {
			cells[i].VoltageMV = v
		}
	}
	return u, cells, nil
}

func (a *Adapter) readRegister(ctx context.Context, unit uint8, reg *regmap.Register) (float64, error) {
	b := modbus.NewRequestBuilder(a.cfg.Port, unit)
	field := modbus.Field{Name: reg.ID, Address: reg.Addr}
	switch reg.Type {
	case regmap.TypeU16:
		field.Type = modbus.FieldTypeUint16
	case regmap.TypeS16:
		field.Type = modbus.FieldTypeInt16
	case regmap.TypeU32:
		field.Type = modbus.FieldTypeUint32
	case regmap.TypeS32:
		field.Type = modbus.FieldTypeInt32
	}
	var requests []modbus.BuilderRequest
	var err error
	if reg.Kind == regmap.KindInput {
		requests, err = b.AddField(field).ReadInputRegistersRTU()
	} else {
		requests, err = b.AddField(field).ReadHoldingRegistersRTU()
	}
	if err != nil {
		return 0, err
	}
	var out float64
	for _, req := range requests {
		resp, err := a.client.Do(ctx, req)
		if err != nil {
			return 0, err
		}
		fields, err := req.ExtractFields(resp, true)
		if err != nil {
			return 0, err
		}
		for _, f := range fields {
			out = reg.Scaled(toFloat(f.Value))
		}
	}
	return out, nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case uint16:
		return float64(n)
	case int16:
		return float64(n)
	case uint32:
		return float64(n)
	case int32:
		return float64(n)
	default:
		return 0
	}
}

// HandleCommand: the active battery protocol does not accept write
// commands from this hub.
func (a *Adapter) HandleCommand(ctx context.Context, cmd adapter.Command) (adapter.CommandResult, error) {
	return adapter.CommandResult{}, &adapter.PollError{Kind: adapter.KindUnsupportedCommand, Retryable: false}
}

var _ adapter.Adapter = (*Adapter)(nil)
