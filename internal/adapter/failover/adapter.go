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

// Package failover implements the FailoverBatteryAdapter composite
// (§4.1 item 7): an ordered list of concrete battery adapters, one of
// which is "current"; poll failures advance to the next.
package failover

import (
	"context"
	"sync"

	"github.com/aamcrae/solarhub/internal/adapter"
)

// Adapter wraps an ordered slice of battery adapters ranked by
// priority. A BatteryPack with multiple AdapterInstances is served by
// one of these.
type Adapter struct {
	mu       sync.Mutex
	members  []adapter.Adapter
	current  int
	failures int
	last     adapter.Telemetry
	haveLast bool
}

// New wraps members in priority order (index 0 = highest priority).
func New(members []adapter.Adapter) *Adapter {
	return &Adapter{members: members}
}

// Connect walks the list and stops at the first success.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var lastErr error
	for i, m := range a.members {
		if err := m.Connect(ctx); err != nil {
			lastErr = err
			continue
		}
		a.current = i
		return nil
	}
	if lastErr == nil {
		lastErr = &adapter.TransportError{Kind: adapter.KindTransportOpen}
	}
	return lastErr
}

// Close closes every member, returning the first error encountered.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var first error
	for _, m := range a.members {
		if err := m.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// CheckConnectivity reports the current member's connectivity.
func (a *Adapter) CheckConnectivity(ctx context.Context) bool {
	a.mu.Lock()
	m := a.members[a.current]
	a.mu.Unlock()
	return m.CheckConnectivity(ctx)
}

// ReadSerialNumber delegates to the current member.
func (a *Adapter) ReadSerialNumber(ctx context.Context) (string, error) {
	a.mu.Lock()
	m := a.members[a.current]
	a.mu.Unlock()
	return m.ReadSerialNumber(ctx)
}

// Poll tries the current primary; on failure it closes that member,
// advances to the next, and retries within the same call. If every
// member fails, it returns the last cached telemetry.
func (a *Adapter) Poll(ctx context.Context) (adapter.Telemetry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for tries := 0; tries < len(a.members); tries++ {
		m := a.members[a.current]
		t, err := m.Poll(ctx)
		if err == nil {
			a.last, a.haveLast = t, true
			return t, nil
		}
		_ = m.Close()
		a.failures++
		a.current = (a.current + 1) % len(a.members)
		if connErr := a.members[a.current].Connect(ctx); connErr != nil {
			continue
		}
	}
	if a.haveLast {
		return a.last, nil
	}
	return adapter.Telemetry{}, &adapter.PollError{Kind: adapter.KindTransportIO, Retryable: true}
}

// HandleCommand delegates to the current member.
func (a *Adapter) HandleCommand(ctx context.Context, cmd adapter.Command) (adapter.CommandResult, error) {
	a.mu.Lock()
	m := a.members[a.current]
	a.mu.Unlock()
	return m.HandleCommand(ctx, cmd)
}

// CurrentAdapterInfo exposes the index of the currently active member
// and the total failover count, for introspection/metrics.
type CurrentAdapterInfo struct {
	Index         int
	FailoverCount int
}

// CurrentAdapterInfo returns the currently active member index and the
// cumulative failover count.
func (a *Adapter) CurrentAdapterInfo() CurrentAdapterInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return CurrentAdapterInfo{Index: a.current, FailoverCount: a.failures}
}

var _ adapter.Adapter = (*Adapter)(nil)
