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

// Package senergy implements the Senergy/Powdrive hybrid inverter
// adapter (§4.1 item 1): Modbus RTU-over-serial or Modbus/TCP, driven
// entirely by an externally loaded register map rather than hardcoded
// addresses.
package senergy

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	modbus "github.com/aldas/go-modbus-client"

	"github.com/aamcrae/solarhub/internal/adapter"
	"github.com/aamcrae/solarhub/internal/model"
	"github.com/aamcrae/solarhub/internal/regmap"
)

// writeMultiThreshold is the address at or above which the 0x10 (write
// multiple registers) function code is used unconditionally, matching
// an observed firmware quirk; below it, 0x06 (write single register) is
// used for one-register values, while two-register values are always
// written with 0x10.
const writeMultiThreshold = 60

// Config configures one Senergy/Powdrive inverter instance.
type Config struct {
	Addr       string // "tcp://host:port" or a serial device path
	Unit       uint8
	RegMapPath string
	ArrayID    string
	InverterID string
	// FieldMap names the register ids that feed each InverterTelemetry
	// field; absent entries are left at zero.
	FieldMap FieldMap
}

// FieldMap names the register ids standard telemetry fields are sourced
// from, keeping the adapter itself free of hardcoded addresses.
type FieldMap struct {
	PVPower     string
	LoadPower   string
	GridPower   string
	BattPower   string
	BattSOC     string
	BattVoltage string
	BattCurrent string
	Temp        string
	Mode        string
	SerialReg   string
}

// Adapter speaks Modbus to a Senergy/Powdrive hybrid inverter.
type Adapter struct {
	cfg    Config
	regmap *regmap.Map
	client *modbus.Client
	isTCP  bool
}

func init() {
	adapter.Register("senergy", func(raw any) (adapter.Adapter, error) {
		cfg, ok := raw.(Config)
		if !ok {
			return nil, fmt.Errorf("senergy: invalid config type %T", raw)
		}
		return New(cfg)
	})
}

// New loads the register map and returns an unconnected adapter.
func New(cfg Config) (*Adapter, error) {
	m, err := regmap.Load(cfg.RegMapPath)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		cfg:    cfg,
		regmap: m,
		isTCP:  strings.HasPrefix(cfg.Addr, "tcp://"),
	}, nil
}

// Connect opens the Modbus transport.
func (a *Adapter) Connect(ctx context.Context) error {
	if a.isTCP {
		a.client = modbus.NewTCPClient()
	} else {
		a.client = modbus.NewRTUClient()
	}
	if err := a.client.Connect(ctx, a.cfg.Addr); err != nil {
		return &adapter.TransportError{Kind: adapter.KindTransportOpen, Err: err}
	}
	return nil
}

// Close releases the Modbus transport.
func (a *Adapter) Close() error {
	if a.client == nil {
		return nil
	}
	err := a.client.Close()
	a.client = nil
	return err
}

// CheckConnectivity reads a single well-known status register.
func (a *Adapter) CheckConnectivity(ctx context.Context) bool {
	reg, ok := a.regmap.ByID(a.cfg.FieldMap.Mode)
	if !ok {
		reg, ok = pickAny(a.regmap)
		if !ok {
			return false
		}
	}
	_, err := a.readRegister(ctx, reg)
	return err == nil
}

// ReadSerialNumber reads the configured serial-number register.
func (a *Adapter) ReadSerialNumber(ctx context.Context) (string, error) {
	reg, ok := a.regmap.ByID(a.cfg.FieldMap.SerialReg)
	if !ok {
		return "", &adapter.IdentityUnavailable{Err: fmt.Errorf("no serial register configured")}
	}
	v, err := a.readRegister(ctx, reg)
	if err != nil {
		return "", &adapter.IdentityUnavailable{Err: err}
	}
	s, _ := v.(string)
	return strings.TrimSpace(s), nil
}

// Poll reads the union of registers referenced by the field mapper and
// emits a normalized InverterTelemetry.
func (a *Adapter) Poll(ctx context.Context) (adapter.Telemetry, error) {
	fm := a.cfg.FieldMap
	t := model.InverterTelemetry{
		Timestamp:  time.Now(),
		ArrayID:    a.cfg.ArrayID,
		InverterID: a.cfg.InverterID,
		Extra:      make(map[string]any),
	}
	fields := []struct {
		id  string
		dst *float64
	}{
		{fm.PVPower, &t.PVPowerW},
		{fm.LoadPower, &t.LoadPowerW},
		{fm.GridPower, &t.GridPowerW},
		{fm.BattPower, &t.BattPowerW},
		{fm.BattSOC, &t.BattSOCPct},
		{fm.BattVoltage, &t.BattVoltage},
		{fm.BattCurrent, &t.BattCurrent},
		{fm.Temp, &t.TempC},
	}
	for _, f := range fields {
		if f.id == "" {
			continue
		}
		reg, ok := a.regmap.ByID(f.id)
		if !ok {
			continue
		}
		v, err := a.readRegister(ctx, reg)
		if err != nil {
			return adapter.Telemetry{}, &adapter.PollError{Kind: adapter.KindTransportIO, Retryable: true, Err: err}
		}
		if n, ok := v.(float64); ok {
			*f.dst = n
		}
	}
	if fm.Mode != "" {
		if reg, ok := a.regmap.ByID(fm.Mode); ok {
			if v, err := a.readRegister(ctx, reg); err == nil {
				t.InverterMode = fmt.Sprintf("%v", v)
			}
		}
	}
	for _, reg := range a.regmap.Registers {
		if isMapped(reg.ID, fm) {
			continue
		}
		if v, err := a.readRegister(ctx, &reg); err == nil {
			t.Extra[reg.ID] = v
		}
	}
	return adapter.Telemetry{Inverter: &adapter.InverterPoll{Value: t}}, nil
}

func isMapped(id string, fm FieldMap) bool {
	switch id {
	case fm.PVPower, fm.LoadPower, fm.GridPower, fm.BattPower, fm.BattSOC,
		fm.BattVoltage, fm.BattCurrent, fm.Temp, fm.Mode, fm.SerialReg:
		return true
	}
	return false
}

func pickAny(m *regmap.Map) (*regmap.Register, bool) {
	if len(m.Registers) == 0 {
		return nil, false
	}
	return &m.Registers[0], true
}

// HandleCommand implements write{id,value} and write_many{updates}.
func (a *Adapter) HandleCommand(ctx context.Context, cmd adapter.Command) (adapter.CommandResult, error) {
	switch cmd.Action {
	case "write":
		reg, ok := a.regmap.ByID(cmd.ID)
		if !ok {
			return adapter.CommandResult{}, &adapter.PollError{Kind: adapter.KindDecodeRange, Retryable: false}
		}
		if err := a.writeRegister(ctx, reg, cmd.Value); err != nil {
			return adapter.CommandResult{}, &adapter.PollError{Kind: adapter.KindTransportIO, Retryable: true, Err: err}
		}
		return adapter.CommandResult{OK: true}, nil
	case "write_many":
		for _, u := range cmd.Updates {
			reg, ok := a.regmap.ByID(u.ID)
			if !ok {
				continue
			}
			if err := a.writeRegister(ctx, reg, u.Value); err != nil {
				return adapter.CommandResult{}, &adapter.PollError{Kind: adapter.KindTransportIO, Retryable: true, Err: err}
			}
		}
		return adapter.CommandResult{OK: true}, nil
	default:
		return adapter.CommandResult{}, &adapter.PollError{Kind: adapter.KindUnsupportedCommand, Retryable: false}
	}
}

// readRegister issues a single-register read and decodes it per the
// register's declared type, returning either a float64 or a string.
func (a *Adapter) readRegister(ctx context.Context, reg *regmap.Register) (any, error) {
	b := modbus.NewRequestBuilder(a.cfg.Addr, a.cfg.Unit)
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
	case regmap.TypeASCII:
		field.Type = modbus.FieldTypeString
		field.Length = uint8(reg.Size * 2)
	}
	var requests []modbus.BuilderRequest
	var err error
	switch {
	case reg.Kind == regmap.KindInput && a.isTCP:
		requests, err = b.AddField(field).ReadInputRegistersTCP()
	case reg.Kind == regmap.KindInput:
		requests, err = b.AddField(field).ReadInputRegistersRTU()
	case a.isTCP:
		requests, err = b.AddField(field).ReadHoldingRegistersTCP()
	default:
		requests, err = b.AddField(field).ReadHoldingRegistersRTU()
	}
	if err != nil {
		return nil, err
	}
	var out any
	for _, req := range requests {
		resp, err := a.client.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		results, err := req.ExtractFields(resp, true)
		if err != nil {
			return nil, err
		}
		for _, f := range results {
			if reg.Type == regmap.TypeASCII {
				raw, _ := f.Value.(string)
				out = trimNUL(raw)
				continue
			}
			raw := toFloat(f.Value)
			out = reg.Scaled(raw)
		}
	}
	return out, nil
}

// writeRegister chooses the write function code per the address
// threshold firmware quirk (§4.1 item 1) and issues it.
func (a *Adapter) writeRegister(ctx context.Context, reg *regmap.Register, value float64) error {
	if reg.Access == regmap.RO {
		return &adapter.PollError{Kind: adapter.KindRegisterReadOnly, Retryable: false}
	}
	raw := value
	if reg.Scale != nil && *reg.Scale != 0 {
		raw = value / *reg.Scale
	}
	b := modbus.NewRequestBuilder(a.cfg.Addr, a.cfg.Unit)
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
	useMulti := reg.Addr >= writeMultiThreshold || reg.Size > 1
	var requests []modbus.BuilderRequest
	var err error
	if a.isTCP {
		if useMulti {
			requests, err = b.AddFieldWithValue(field, raw).WriteMultipleRegistersTCP()
		} else {
			requests, err = b.AddFieldWithValue(field, raw).WriteSingleRegisterTCP()
		}
	} else {
		if useMulti {
			requests, err = b.AddFieldWithValue(field, raw).WriteMultipleRegistersRTU()
		} else {
			requests, err = b.AddFieldWithValue(field, raw).WriteSingleRegisterRTU()
		}
	}
	if err != nil {
		return err
	}
	for _, req := range requests {
		if _, err := a.client.Do(ctx, req); err != nil {
			return err
		}
	}
	return nil
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
	case uint64:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}

func trimNUL(s string) string {
	if idx := bytes.IndexByte([]byte(s), 0); idx >= 0 {
		return s[:idx]
	}
	return s
}

var _ adapter.Adapter = (*Adapter)(nil)
