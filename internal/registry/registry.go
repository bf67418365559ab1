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

// Package registry implements the persistent device registry (§4.2):
// the serial-number-to-port binding table that Discovery and Recovery
// both read and mutate.
package registry

import (
	"sync"
	"time"
)

// Status is a DeviceEntry's lifecycle state.
type Status string

const (
	StatusActive             Status = "active"
	StatusRecovering         Status = "recovering"
	StatusPermanentlyDisabled Status = "permanently_disabled"
)

// Entry is one persistent device registration.
type Entry struct {
	DeviceID       string
	DeviceType     string
	SerialNumber   string // normalized
	Port           string
	LastKnownPort  string
	PortHistory    []string // ordered, deduplicated
	AdapterConfig  any      // snapshot of the config at last discovery
	Status         Status
	FailureCount   int
	NextRetryTime  time.Time
	FirstSeen      time.Time
	LastSeen       time.Time
}

// Registry is the in-memory table; a concrete TelemetryStore-backed
// persistence layer loads/saves it but the lookup/mutation semantics
// live here so they are exercised independent of any storage backend.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry // keyed by device_id
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Load seeds the registry from a persisted snapshot (e.g. read from
// TelemetryStore at startup).
func Load(entries []*Entry) *Registry {
	r := New()
	for _, e := range entries {
		r.entries[e.DeviceID] = e
	}
	return r
}

// All returns every entry, for persistence or the Discoverer's
// phase-1 scan.
func (r *Registry) All() []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// Lookup finds an entry by (serial, type).
func (r *Registry) Lookup(serial, deviceType string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.SerialNumber == serial && e.DeviceType == deviceType {
			return e, true
		}
	}
	return nil, false
}

// Get finds an entry by device_id.
func (r *Registry) Get(deviceID string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[deviceID]
	return e, ok
}

// Create adds a newly discovered device.
func (r *Registry) Create(e *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	e.FirstSeen, e.LastSeen = now, now
	e.Status = StatusActive
	r.entries[e.DeviceID] = e
}

// UpdatePort records a new port, appending the previous port to
// history if it differs.
func (r *Registry) UpdatePort(deviceID, port string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[deviceID]
	if !ok {
		return
	}
	if e.Port != "" && e.Port != port {
		e.LastKnownPort = e.Port
		e.PortHistory = appendDedup(e.PortHistory, e.Port)
	}
	e.Port = port
	e.LastSeen = time.Now()
}

// MarkFailed increments failure_count and transitions to recovering.
func (r *Registry) MarkFailed(deviceID string, nextRetry time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[deviceID]
	if !ok {
		return
	}
	e.FailureCount++
	e.Status = StatusRecovering
	e.NextRetryTime = nextRetry
}

// MarkRecovered clears failure state and reactivates the device.
func (r *Registry) MarkRecovered(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[deviceID]
	if !ok {
		return
	}
	e.Status = StatusActive
	e.FailureCount = 0
	e.LastSeen = time.Now()
}

// PermanentlyDisable marks a device as decommissioned.
func (r *Registry) PermanentlyDisable(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[deviceID]
	if !ok {
		return
	}
	e.Status = StatusPermanentlyDisabled
}

// ReEnable schedules an immediate retry for a permanently-disabled
// device.
func (r *Registry) ReEnable(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[deviceID]
	if !ok {
		return
	}
	e.Status = StatusRecovering
	e.FailureCount = 0
	e.NextRetryTime = time.Now()
}

func appendDedup(history []string, port string) []string {
	for _, p := range history {
		if p == port {
			return history
		}
	}
	return append(history, port)
}
