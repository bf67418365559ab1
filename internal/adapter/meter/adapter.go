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

// Package meter implements the grid-side energy meter adapter (§4.1
// item 2): Modbus/TCP against one of two fixed register blocks, with
// fallback between them when the preferred block reads all zeros.
package meter

import (
	"context"
	"fmt"
	"time"

	modbus "github.com/aldas/go-modbus-client"

	"github.com/aamcrae/solarhub/internal/adapter"
	"github.com/aamcrae/solarhub/internal/model"
)

// block is one of the two fixed register layouts the meter family
// exposes; addresses and scales are hardcoded here (not a loaded
// register map) because this adapter speaks for exactly one fixed
// device family with no per-installation variation.
type block struct {
	voltage, current, power, freq, pf   uint16
	energyImport, energyExport          uint16
}

var legacyBlock = block{voltage: 0, current: 6, power: 12, freq: 30, pf: 32, energyImport: 18, energyExport: 24}
var extendedBlock = block{voltage: 72, current: 80, power: 88, freq: 110, pf: 112, energyImport: 96, energyExport: 104}

// Config configures one energy meter instance.
type Config struct {
	Addr                  string
	Unit                  uint8
	MeterID               string
	PreferLegacyRegisters bool
}

// Adapter speaks Modbus/TCP to a grid-side energy meter.
type Adapter struct {
	cfg    Config
	client *modbus.Client
}

func init() {
	adapter.Register("energy_meter", func(raw any) (adapter.Adapter, error) {
		cfg, ok := raw.(Config)
		if !ok {
			return nil, fmt.Errorf("energy_meter: invalid config type %T", raw)
		}
		return New(cfg), nil
	})
}

// New returns an unconnected meter adapter.
func New(cfg Config) *Adapter {
	return &Adapter{cfg: cfg}
}

// Connect opens the Modbus/TCP transport.
func (a *Adapter) Connect(ctx context.Context) error {
	a.client = modbus.NewTCPClient()
	if err := a.client.Connect(ctx, a.cfg.Addr); err != nil {
		return &adapter.TransportError{Kind: adapter.KindTransportOpen, Err: err}
	}
	return nil
}

// Close releases the transport.
func (a *Adapter) Close() error {
	if a.client == nil {
		return nil
	}
	err := a.client.Close()
	a.client = nil
	return err
}

// CheckConnectivity reads the voltage register of the preferred block.
func (a *Adapter) CheckConnectivity(ctx context.Context) bool {
	b := a.preferredBlock()
	_, err := a.readU32(ctx, b.voltage, 0.01)
	return err == nil
}

// ReadSerialNumber: this meter family exposes no serial register over
// Modbus; identity is assigned at configuration time.
func (a *Adapter) ReadSerialNumber(ctx context.Context) (string, error) {
	return a.cfg.MeterID, nil
}

// Poll reads voltage, current, power, frequency, power factor, and
// cumulative energy, trying the other block as fallback when the
// preferred block yields all-zero values.
func (a *Adapter) Poll(ctx context.Context) (adapter.Telemetry, error) {
	b := a.preferredBlock()
	t, allZero, err := a.readBlock(ctx, b)
	if err != nil {
		return adapter.Telemetry{}, &adapter.PollError{Kind: adapter.KindTransportIO, Retryable: true, Err: err}
	}
	if allZero {
		alt := a.fallbackBlock()
		if altT, altZero, err := a.readBlock(ctx, alt); err == nil && !altZero {
			t = altT
		}
	}
	t.MeterID = a.cfg.MeterID
	t.Timestamp = time.Now()
	return adapter.Telemetry{Meter: &adapter.MeterPoll{Value: t}}, nil
}

func (a *Adapter) preferredBlock() block {
	if a.cfg.PreferLegacyRegisters {
		return legacyBlock
	}
	return extendedBlock
}

func (a *Adapter) fallbackBlock() block {
	if a.cfg.PreferLegacyRegisters {
		return extendedBlock
	}
	return legacyBlock
}

func (a *Adapter) readBlock(ctx context.Context, b block) (model.MeterTelemetry, bool, error) {
	var t model.MeterTelemetry
	voltage, err := a.readU32(ctx, b.voltage, 0.01)
	if err != nil {
		return t, false, err
	}
	current, err := a.readU32(ctx, b.current, 0.001)
	if err != nil {
		return t, false, err
	}
	power, err := a.readS32(ctx, b.power, 0.1)
	if err != nil {
		return t, false, err
	}
	freq, err := a.readU32(ctx, b.freq, 0.01)
	if err != nil {
		return t, false, err
	}
	pf, err := a.readU32(ctx, b.pf, 0.001)
	if err != nil {
		return t, false, err
	}
	imp, err := a.readU32(ctx, b.energyImport, 0.00125)
	if err != nil {
		return t, false, err
	}
	exp, err := a.readU32(ctx, b.energyExport, 0.00125)
	if err != nil {
		return t, false, err
	}
	t.Voltage = voltage
	t.Current = current
	t.PowerW = power
	t.FrequencyHz = freq
	t.PowerFactor = pf
	t.ImportTotalWh = imp * 1000
	t.ExportTotalWh = exp * 1000
	allZero := voltage == 0 && current == 0 && power == 0 && freq == 0
	return t, allZero, nil
}

func (a *Adapter) readU32(ctx context.Context, addr uint16, scale float64) (float64, error) {
	raw, err := a.readRaw(ctx, addr, modbus.FieldTypeUint32)
	if err != nil {
		return 0, err
	}
	return toFloat(raw) * scale, nil
}

func (a *Adapter) readS32(ctx context.Context, addr uint16, scale float64) (float64, error) {
	raw, err := a.readRaw(ctx, addr, modbus.FieldTypeInt32)
	if err != nil {
		return 0, err
	}
	return toFloat(raw) * scale, nil
}

func (a *Adapter) readRaw(ctx context.Context, addr uint16, typ modbus.FieldType) (any, error) {
	b := modbus.NewRequestBuilder(a.cfg.Addr, a.cfg.Unit)
	requests, err := b.AddField(modbus.Field{Name: "v", Type: typ, Address: addr}).ReadHoldingRegistersTCP()
	if err != nil {
		return nil, err
	}
	var out any
	for _, req := range requests {
		resp, err := a.client.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		fields, err := req.ExtractFields(resp, true)
		if err != nil {
			return nil, err
		}
		for _, f := range fields {
			out = f.Value
		}
	}
	return out, nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case uint32:
		return float64(n)
	case int32:
		return float64(n)
	case uint16:
		return float64(n)
	case int16:
		return float64(n)
	default:
		return 0
	}
}

// HandleCommand: the meter is read-only.
func (a *Adapter) HandleCommand(ctx context.Context, cmd adapter.Command) (adapter.CommandResult, error) {
	return adapter.CommandResult{}, &adapter.PollError{Kind: adapter.KindUnsupportedCommand, Retryable: false}
}

var _ adapter.Adapter = (*Adapter)(nil)
