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

// Package model holds the ownership hierarchy and telemetry value types
// shared by every subsystem of the hub.
package model

import "time"

// System is the root of the ownership tree. One timezone governs every
// timestamp produced for its members.
type System struct {
	ID             string
	Name           string
	Timezone       string
	InverterArrays []string // array_id of owned InverterArrays
	BatteryArrays  []string // array_id of owned BatteryArrays
	Meters         []string // meter_id of system-scope meters
}

// InverterArray owns an ordered set of Inverters and weak-references at
// most one BatteryArray via an Attachment.
type InverterArray struct {
	ID         string
	SystemID   string
	Inverters  []string // ordered inverter device_ids
	SplitPolicy string  // "equal" | "rated" | "headroom"
}

// BatteryArray owns an ordered set of BatteryPacks and weak-references at
// most one InverterArray via an Attachment.
type BatteryArray struct {
	ID       string
	SystemID string
	Packs    []string // ordered pack_ids
}

// Attachment is the time-bounded 1:1 link between a BatteryArray and an
// InverterArray. At most one attachment per pair may be active
// (DetachedAt == nil) at a time.
type Attachment struct {
	BatteryArrayID  string
	InverterArrayID string
	AttachedSince   time.Time
	DetachedAt      *time.Time
}

// Active reports whether the attachment has not been detached.
func (a Attachment) Active() bool {
	return a.DetachedAt == nil
}

// BatteryPack is one physical enclosure made of Battery units, with
// adapters ranked by priority for failover.
type BatteryPack struct {
	ID             string
	SystemID       string
	BatteryArrayID string
	Batteries      []string // ordered battery unit ids
	Adapters       []AdapterInstance
	NominalKWh     float64
	MaxChargeKW    float64
	MaxDischargeKW float64
}

// PrimaryAdapter returns the enabled adapter with the lowest priority
// number, or false if the pack has no enabled adapter.
func (p BatteryPack) PrimaryAdapter() (AdapterInstance, bool) {
	best := AdapterInstance{}
	found := false
	for _, a := range p.Adapters {
		if !a.Enabled {
			continue
		}
		if !found || a.Priority < best.Priority {
			best = a
			found = true
		}
	}
	return best, found
}

// AdapterInstance binds a device adapter configuration to a priority
// ranking within a pack's failover list.
type AdapterInstance struct {
	DeviceID string
	Type     string
	Priority int
	Enabled  bool
}

// Meter belongs to a System and is optionally attached to an
// InverterArray.
type Meter struct {
	ID              string
	SystemID        string
	InverterArrayID string // empty if not attached
}

// Inverter is a physical Modbus/RTU or Modbus/TCP device in an
// InverterArray.
type Inverter struct {
	ID              string
	InverterArrayID string
	SystemID        string
	AdapterType     string
	RatedPowerW     float64
	Port            string
}
