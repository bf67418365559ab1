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

import "encoding/binary"

// Magic is the 4-byte data-frame preamble.
var Magic = []byte{0x55, 0xAA, 0xEB, 0x90}

// Frame types carried in the byte following Magic.
const (
	FrameTypeConfig = 0x01
	FrameTypeStatus = 0x02
)

// Modbus function code that marks "the next broadcast describes this
// battery address". Firmware does not document this value; honored
// exactly as observed (§9 open question).
const FuncBatteryAddress = 0x20

// FuncWriteMultiple is the standard Modbus "write multiple registers"
// function code used by the master/slave exchange that frequently
// precedes a broadcast.
const FuncWriteMultiple = 0x10

// QuirkWrapUnit15 rewrites battery address 15 to 0, working around a
// known master-firmware quirk. Kept as a narrow, per-adapter opt-in
// flag since it is unknown whether other BMS families exhibit it.
func QuirkWrapUnit15(addr int) int {
	if addr == 15 {
		return 0
	}
	return addr
}

// ModbusRequest is a decoded Modbus RTU request frame: either a short
// battery-address request or a write-multiple-registers request.
type ModbusRequest struct {
	UnitID   byte
	Function byte
	Data     []byte // the bytes between function and CRC (4 for a battery-address request)
}

// BatteryAddress extracts the addressed battery from a
// FuncBatteryAddress request, applying the unit-15 wrap if enabled.
func (r ModbusRequest) BatteryAddress(wrap bool) int {
	addr := int(r.Data[3]) // low byte of the trailing 16-bit field
	if wrap {
		addr = QuirkWrapUnit15(addr)
	}
	return addr
}

// StatusFrame is the decoded per-battery status broadcast (§4.1,§6).
type StatusFrame struct {
	CellMilliVolts  [16]float64
	CellResistanceM [16]float64
	PackVoltage     float64
	PackCurrentA    float64
	SOCPct          float64
	Cycles          int
	SOHPct          float64
	Switches        [3]bool
}

const minStatusFrameLen = 236

// DecodeStatusFrame decodes a status (type 0x02) payload per the fixed
// offset table in §4.1/§6. payload excludes the 4-byte magic and the
// type byte.
func DecodeStatusFrame(payload []byte) (*StatusFrame, bool) {
	if len(payload) < minStatusFrameLen {
		return nil, false
	}
	s := &StatusFrame{}
	for i := 0; i < 16; i++ {
		off := 6 + i*2
		s.CellMilliVolts[i] = float64(binary.LittleEndian.Uint16(payload[off:]))
	}
	for i := 0; i < 16; i++ {
		off := 80 + i*2
		s.CellResistanceM[i] = float64(binary.LittleEndian.Uint16(payload[off:]))
	}
	s.PackVoltage = float64(binary.LittleEndian.Uint16(payload[234:])) / 100.0
	raw := int32(binary.LittleEndian.Uint32(payload[158:]))
	s.PackCurrentA = float64(raw) / 1000.0
	s.SOCPct = float64(payload[173])
	s.Cycles = int(binary.LittleEndian.Uint16(payload[182:]))
	s.SOHPct = float64(payload[190])
	s.Switches[0] = payload[198] != 0
	s.Switches[1] = payload[199] != 0
	s.Switches[2] = payload[200] != 0
	return s, true
}

// ConfigFrame is the decoded per-battery configuration broadcast. Only
// the fields with concretely specified offsets are decoded structurally;
// the remainder of the declarative ~40-field table is surfaced generically
// via Fields so operators can extend it with a loaded field table without
// a code change, mirroring the register-map philosophy of §9.
type ConfigFrame struct {
	DisplayAlwaysOn   bool
	SmartSleepSwitch  bool
	DisablePCLModule  bool
	TimedStoredData   bool
	Fields            map[string]float64
}

const minConfigFrameLen = 286

// FieldSpec is one entry in a declarative field table: (name, offset,
// length, scale, isNumeric).
type FieldSpec struct {
	Name      string
	Offset    int
	Length    int
	Scale     float64
	IsNumeric bool
}

// DecodeConfigFrame decodes a configuration (type 0x01) payload. fields
// is the declarative table of additional numeric fields to extract
// (beyond the fixed bit-flag bytes); pass nil to decode only the flags.
func DecodeConfigFrame(payload []byte, fields []FieldSpec) (*ConfigFrame, bool) {
	if len(payload) < minConfigFrameLen {
		return nil, false
	}
	c := &ConfigFrame{Fields: make(map[string]float64, len(fields))}
	flags282 := payload[282]
	c.DisplayAlwaysOn = flags282&0x01 != 0
	c.SmartSleepSwitch = flags282&0x02 != 0
	c.DisablePCLModule = flags282&0x04 != 0
	c.TimedStoredData = payload[283] != 0
	for _, f := range fields {
		if !f.IsNumeric || f.Offset+f.Length > len(payload) {
			continue
		}
		var raw uint64
		for i := 0; i < f.Length; i++ {
			raw |= uint64(payload[f.Offset+i]) << (8 * i)
		}
		scale := f.Scale
		if scale == 0 {
			scale = 1
		}
		c.Fields[f.Name] = float64(raw) / scale
	}
	return c, true
}
