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

// Package recovery implements the periodic RecoveryManager (§4.4):
// exponential backoff retries for devices the Discoverer could not
// locate.
package recovery

import (
	"context"
	"math"
	"time"

	"github.com/aamcrae/solarhub/internal/discovery"
	"github.com/aamcrae/solarhub/internal/registry"
)

// Options configures backoff timing, mirroring the discovery.{...}
// configuration keys (§6).
type Options struct {
	InitialRetryMinutes float64
	MaxRetryMinutes     float64
	BackoffMultiplier   float64
	MaxFailures         int
	Tick                time.Duration // default 1 minute
}

// Manager periodically retries devices in status=recovering.
type Manager struct {
	reg  *registry.Registry
	disc *discovery.Discoverer
	opts Options
}

// New returns a Manager bound to reg and disc.
func New(reg *registry.Registry, disc *discovery.Discoverer, opts Options) *Manager {
	if opts.Tick == 0 {
		opts.Tick = time.Minute
	}
	return &Manager{reg: reg, disc: disc, opts: opts}
}

// Run blocks, retrying due devices every opts.Tick until ctx is
// cancelled.
func (m *Manager) Run(ctx context.Context) {
	t := time.NewTicker(m.opts.Tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.sweep(ctx)
		}
	}
}

func (m *Manager) sweep(ctx context.Context) {
	now := time.Now()
	for _, e := range m.reg.All() {
		if e.Status != registry.StatusRecovering {
			continue
		}
		if e.NextRetryTime.After(now) {
			continue
		}
		m.retry(ctx, e)
	}
}

// retry tries the last known port first, then every free port, using
// the same identification procedure as discovery phase 3.
func (m *Manager) retry(ctx context.Context, e *registry.Entry) {
	if m.tryPort(ctx, e, e.Port) || m.tryPort(ctx, e, e.LastKnownPort) {
		m.reg.MarkRecovered(e.DeviceID)
		return
	}
	if err := m.disc.Run(ctx); err == nil {
		if cur, ok := m.reg.Get(e.DeviceID); ok && cur.Status == registry.StatusActive {
			return
		}
	}
	m.backoff(e)
}

func (m *Manager) tryPort(ctx context.Context, e *registry.Entry, port string) bool {
	if port == "" {
		return false
	}
	return discovery.IdentifyForRecovery(ctx, port, e.DeviceType, e.AdapterConfig) == e.SerialNumber
}

// backoff computes the next retry time per §4.4's formula and either
// reschedules or permanently disables the device.
func (m *Manager) backoff(e *registry.Entry) {
	exponent := e.FailureCount - 1
	if exponent < 0 {
		exponent = 0
	}
	delayMin := m.opts.InitialRetryMinutes * math.Pow(m.opts.BackoffMultiplier, float64(exponent))
	if delayMin > m.opts.MaxRetryMinutes {
		delayMin = m.opts.MaxRetryMinutes
	}
	if e.FailureCount+1 >= m.opts.MaxFailures {
		m.reg.PermanentlyDisable(e.DeviceID)
		return
	}
	m.reg.MarkFailed(e.DeviceID, time.Now().Add(time.Duration(delayMin*float64(time.Minute))))
}
