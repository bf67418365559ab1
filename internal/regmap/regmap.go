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

// Package regmap loads and validates declarative Modbus register maps
// (§6, §9). Register maps are never embedded in adapter code: each
// inverter/meter family's registers are described by a JSON file loaded
// once at startup.
package regmap

import (
	"encoding/json"
	"fmt"
	"os"
)

// Kind is the Modbus register table a Register belongs to.
type Kind string

const (
	KindHolding Kind = "holding"
	KindInput   Kind = "input"
)

// Type is the on-wire encoding of a Register's value.
type Type string

const (
	TypeU16   Type = "U16"
	TypeS16   Type = "S16"
	TypeU32   Type = "U32"
	TypeS32   Type = "S32"
	TypeASCII Type = "ASCII"
)

// RW is the allowed access mode for a Register.
type RW string

const (
	RO RW = "RO"
	RW_ RW = "RW"
	WO RW = "WO"
)

// Register describes one addressable field.
type Register struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Addr    uint16            `json:"addr"`
	Size    int               `json:"size"` // 1 or 2 words
	Kind    Kind              `json:"kind"`
	Type    Type              `json:"type"`
	Scale   *float64          `json:"scale"`
	Unit    string            `json:"unit"`
	Access  RW                `json:"rw"`
	Enum    map[string]string `json:"enum,omitempty"`
	Notes   string            `json:"notes,omitempty"`
}

// Map is an ordered register list plus an id index, cached once loaded.
type Map struct {
	Registers []Register
	byID      map[string]*Register
}

// Load reads a register map JSON file and validates it.
func Load(path string) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading register map %s: %w", path, err)
	}
	var regs []Register
	if err := json.Unmarshal(data, &regs); err != nil {
		return nil, fmt.Errorf("parsing register map %s: %w", path, err)
	}
	m := &Map{Registers: regs, byID: make(map[string]*Register, len(regs))}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("register map %s: %w", path, err)
	}
	return m, nil
}

func (m *Map) validate() error {
	for i := range m.Registers {
		r := &m.Registers[i]
		if r.ID == "" {
			return fmt.Errorf("register at index %d has no id", i)
		}
		if _, dup := m.byID[r.ID]; dup {
			return fmt.Errorf("duplicate register id %q", r.ID)
		}
		switch r.Access {
		case RO, RW_, WO:
		default:
			return fmt.Errorf("register %q: invalid rw %q", r.ID, r.Access)
		}
		if r.Size != 1 && r.Size != 2 {
			return fmt.Errorf("register %q: invalid size %d", r.ID, r.Size)
		}
		switch r.Type {
		case TypeU16, TypeS16:
			if r.Size != 1 {
				return fmt.Errorf("register %q: type %s requires size 1", r.ID, r.Type)
			}
		case TypeU32, TypeS32:
			if r.Size != 2 {
				return fmt.Errorf("register %q: type %s requires size 2", r.ID, r.Type)
			}
		case TypeASCII:
			// Size 1 or 2 (checked above); two characters per word.
		default:
			return fmt.Errorf("register %q: invalid type %q", r.ID, r.Type)
		}
		m.byID[r.ID] = r
	}
	return nil
}

// ByID looks up a register by its declared id.
func (m *Map) ByID(id string) (*Register, bool) {
	r, ok := m.byID[id]
	return r, ok
}

// Scaled converts a raw integer register value to its real-world value.
func (r *Register) Scaled(raw float64) float64 {
	if r.Scale == nil {
		return raw
	}
	return raw * *r.Scale
}
