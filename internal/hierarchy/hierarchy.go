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

// Package hierarchy validates the ownership tree described in §3 before
// the Orchestrator starts: orphaned or cross-system-linked records are a
// fatal structural error (§7) and the process must refuse to start.
package hierarchy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aamcrae/solarhub/internal/model"
)

// Document is the fully-loaded topology, as decoded by Load.
type Document struct {
	Systems       []model.System
	InverterArrays []model.InverterArray
	BatteryArrays []model.BatteryArray
	Packs         []model.BatteryPack
	Inverters     []model.Inverter
	Meters        []model.Meter
	Attachments   []model.Attachment
}

// Load reads and decodes a hierarchy document from a YAML file; the
// minimal sibling of config.Load for the topology half of the
// configuration surface (HierarchyConfig.Path).
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading hierarchy %s: %w", path, err)
	}
	var d Document
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing hierarchy %s: %w", path, err)
	}
	return &d, nil
}

// Validate checks every invariant in §3 and returns the first violation
// found, wrapped with enough context for an operator to fix the config.
func Validate(d Document) error {
	systemIDs := make(map[string]bool, len(d.Systems))
	for _, s := range d.Systems {
		systemIDs[s.ID] = true
	}

	invArrayByID := make(map[string]model.InverterArray, len(d.InverterArrays))
	for _, a := range d.InverterArrays {
		if !systemIDs[a.SystemID] {
			return fmt.Errorf("inverter array %q references unknown system %q", a.ID, a.SystemID)
		}
		invArrayByID[a.ID] = a
	}

	battArrayByID := make(map[string]model.BatteryArray, len(d.BatteryArrays))
	for _, a := range d.BatteryArrays {
		if !systemIDs[a.SystemID] {
			return fmt.Errorf("battery array %q references unknown system %q", a.ID, a.SystemID)
		}
		battArrayByID[a.ID] = a
	}

	packByID := make(map[string]model.BatteryPack, len(d.Packs))
	for _, p := range d.Packs {
		if !systemIDs[p.SystemID] {
			return fmt.Errorf("battery pack %q references unknown system %q", p.ID, p.SystemID)
		}
		ba, ok := battArrayByID[p.BatteryArrayID]
		if !ok {
			return fmt.Errorf("battery pack %q references unknown battery array %q", p.ID, p.BatteryArrayID)
		}
		if ba.SystemID != p.SystemID {
			return fmt.Errorf("battery pack %q system %q does not match its battery array's system %q", p.ID, p.SystemID, ba.SystemID)
		}
		if err := validatePack(p); err != nil {
			return err
		}
		packByID[p.ID] = p
	}

	for _, inv := range d.Inverters {
		ia, ok := invArrayByID[inv.InverterArrayID]
		if !ok {
			return fmt.Errorf("inverter %q references unknown inverter array %q", inv.ID, inv.InverterArrayID)
		}
		if ia.SystemID != inv.SystemID {
			return fmt.Errorf("inverter %q system %q does not match its array's system %q", inv.ID, inv.SystemID, ia.SystemID)
		}
	}

	for _, m := range d.Meters {
		if !systemIDs[m.SystemID] {
			return fmt.Errorf("meter %q references unknown system %q", m.ID, m.SystemID)
		}
		if m.InverterArrayID != "" {
			ia, ok := invArrayByID[m.InverterArrayID]
			if !ok {
				return fmt.Errorf("meter %q references unknown inverter array %q", m.ID, m.InverterArrayID)
			}
			if ia.SystemID != m.SystemID {
				return fmt.Errorf("meter %q system %q does not match its attached array's system %q", m.ID, m.SystemID, ia.SystemID)
			}
		}
	}

	if err := validateAttachments(d.Attachments); err != nil {
		return err
	}

	return validateAdapterTypePerPort(d)
}

func validatePack(p model.BatteryPack) error {
	if _, ok := p.PrimaryAdapter(); !ok {
		return fmt.Errorf("battery pack %q has no enabled adapter", p.ID)
	}
	return nil
}

// validateAttachments enforces at most one active attachment per
// (battery_array, inverter_array) pair.
func validateAttachments(atts []model.Attachment) error {
	seen := make(map[[2]string]bool)
	for _, a := range atts {
		if !a.Active() {
			continue
		}
		key := [2]string{a.BatteryArrayID, a.InverterArrayID}
		if seen[key] {
			return fmt.Errorf("duplicate active attachment between battery array %q and inverter array %q", a.BatteryArrayID, a.InverterArrayID)
		}
		seen[key] = true
	}
	return nil
}

// validateAdapterTypePerPort enforces that no two inverter-class devices
// on the same serial port claim different adapter types at once.
func validateAdapterTypePerPort(d Document) error {
	portType := make(map[string]string)
	for _, inv := range d.Inverters {
		if inv.Port == "" {
			continue
		}
		if existing, ok := portType[inv.Port]; ok && existing != inv.AdapterType {
			return fmt.Errorf("port %q claimed by both adapter type %q and %q", inv.Port, existing, inv.AdapterType)
		}
		portType[inv.Port] = inv.AdapterType
	}
	return nil
}
