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

// Package adapter defines the uniform contract every protocol-specific
// device adapter satisfies (§4.1), plus the adapter-local error taxonomy.
package adapter

import (
	"context"
	"fmt"
	"time"
)

// Telemetry is the value returned by Poll. Concrete adapters populate
// exactly one of the fields depending on the device class they speak
// for; the Orchestrator type-switches on it.
type Telemetry struct {
	Inverter *InverterPoll
	Battery  *BatteryPoll
	Meter    *MeterPoll
}

// InverterPoll wraps a normalized inverter telemetry sample; defined in
// terms of `any` here to avoid an import cycle with package model, and
// unwrapped by the orchestrator via the Value field.
type InverterPoll struct{ Value any }

// BatteryPoll wraps a normalized battery bank telemetry sample.
type BatteryPoll struct{ Value any }

// MeterPoll wraps a normalized meter telemetry sample.
type MeterPoll struct{ Value any }

// Command is the descriptor passed to HandleCommand.
type Command struct {
	Action  string // "write" | "write_many" | "inverter_config"
	ID      string
	Value   float64
	Updates []RegisterUpdate
	Handler func(Command) (CommandResult, error) // for "inverter_config"
}

// RegisterUpdate is one (id, value) pair within a write_many command.
type RegisterUpdate struct {
	ID    string
	Value float64
}

// CommandResult is returned by HandleCommand.
type CommandResult struct {
	OK     bool
	Detail string
}

// Adapter is the uniform contract every device adapter variant
// satisfies: connect, poll telemetry, execute a command, read identity.
type Adapter interface {
	// Connect opens the transport. Returns when the first I/O succeeds
	// or fails with a TransportError. Idempotent.
	Connect(ctx context.Context) error
	// Close releases the transport. Safe to call after an error, and
	// safe to call on an adapter that was never connected.
	Close() error
	// CheckConnectivity reads a small probe register/command. Never
	// returns an error; a failed probe simply reports false.
	CheckConnectivity(ctx context.Context) bool
	// ReadSerialNumber returns the normalized serial number, or an
	// empty string if unavailable. Fails only with IdentityUnavailable
	// on a transport error.
	ReadSerialNumber(ctx context.Context) (string, error)
	// Poll reads telemetry from the device. Fails with PollError.
	Poll(ctx context.Context) (Telemetry, error)
	// HandleCommand executes a command. Must not be invoked
	// concurrently with Poll on the same adapter instance.
	HandleCommand(ctx context.Context, cmd Command) (CommandResult, error)
}

// ErrorKind enumerates the adapter-local error taxonomy (§4.1).
type ErrorKind string

const (
	KindTransportOpen      ErrorKind = "TransportOpen"
	KindTransportIO        ErrorKind = "TransportIO"
	KindFrameTimeout       ErrorKind = "FrameTimeout"
	KindFrameCRC           ErrorKind = "FrameCRC"
	KindDecodeShort        ErrorKind = "DecodeShort"
	KindDecodeRange        ErrorKind = "DecodeRange"
	KindRegisterReadOnly   ErrorKind = "RegisterReadOnly"
	KindUnsupportedCommand ErrorKind = "UnsupportedCommand"
)

// TransportError is returned by Connect/Close on transport-level
// failure.
type TransportError struct {
	Kind ErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error (%s): %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PollError is returned by Poll.
type PollError struct {
	Kind      ErrorKind
	Retryable bool
	Err       error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("poll error (%s, retryable=%v): %v", e.Kind, e.Retryable, e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }

// IdentityUnavailable is returned by ReadSerialNumber when the serial
// cannot be read due to a transport error (not simply "device has no
// serial register").
type IdentityUnavailable struct {
	Err error
}

func (e *IdentityUnavailable) Error() string {
	return fmt.Sprintf("identity unavailable: %v", e.Err)
}

func (e *IdentityUnavailable) Unwrap() error { return e.Err }

// Timeouts bundles the connect/operation timeout floors from §4.3.
type Timeouts struct {
	Connect   time.Duration
	Operation time.Duration
}

// BatteryProbeTimeouts and OtherProbeTimeouts are the timeout floors
// used by the Discoverer when identifying devices on a port (§4.3).
// They are floors, not ceilings: an adapter's own configured timeout
// may be lower.
var (
	BatteryProbeTimeouts = Timeouts{Connect: 5 * time.Second, Operation: 10 * time.Second}
	OtherProbeTimeouts   = Timeouts{Connect: 3 * time.Second, Operation: 5 * time.Second}
)

// Factory creates a new, unconnected Adapter instance from a raw config
// blob (typically decoded from YAML by the caller into a concrete
// struct before being passed in as `any`).
type Factory func(cfg any) (Adapter, error)

var registry = map[string]Factory{}

// Register adds a factory for a named adapter type, called from each
// adapter package's init(), mirroring the teacher's
// db.RegisterReader/db.RegisterWriter registration idiom generalized to
// adapter construction.
func Register(adapterType string, f Factory) {
	registry[adapterType] = f
}

// New constructs an adapter of the named type.
func New(adapterType string, cfg any) (Adapter, error) {
	f, ok := registry[adapterType]
	if !ok {
		return nil, fmt.Errorf("unknown adapter type %q", adapterType)
	}
	return f(cfg)
}

// Types returns the currently registered adapter type names, used by
// the Discoverer's priority_order validation.
func Types() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	return out
}
