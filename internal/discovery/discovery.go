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

// Package discovery implements the device scan (§4.3): it
// figures out which physical serial port each configured device is
// currently on by probing with candidate adapters.
package discovery

import (
	"context"
	"fmt"
	"time"

	"go.bug.st/serial/enumerator"

	"github.com/aamcrae/solarhub/internal/adapter"
	"github.com/aamcrae/solarhub/internal/lib"
	"github.com/aamcrae/solarhub/internal/registry"
)

// Options configures one Discoverer run.
type Options struct {
	PriorityOrder       []string
	InitialRetryMinutes float64
	ConnectTimeout      time.Duration
	OperationTimeout    time.Duration
	// DefaultConfig returns the default probe config for an adapter
	// type when discovering a new device on a free port.
	DefaultConfig func(adapterType, port string) any
}

// Discoverer runs the device scan against a Registry.
type Discoverer struct {
	reg  *registry.Registry
	opts Options
}

// New returns a Discoverer bound to reg.
func New(reg *registry.Registry, opts Options) *Discoverer {
	return &Discoverer{reg: reg, opts: opts}
}

// Run executes the scan's three phases in order: verify known-active
// devices, search for missing ones, discover new ones. A device still
// missing afterwards is set to recovering; no phase marks a device
// permanently_disabled.
func (d *Discoverer) Run(ctx context.Context) error {
	ports, err := usbPorts()
	if err != nil {
		return fmt.Errorf("listing serial ports: %w", err)
	}
	free := make(map[string]bool, len(ports))
	for _, p := range ports {
		free[p] = true
	}

	missing := d.verifyKnownActive(ctx, free)
	d.searchMissing(ctx, missing, free)
	d.discoverNew(ctx, free)
	return nil
}

// phase 1: verify known-active devices are still where the registry
// says they are.
func (d *Discoverer) verifyKnownActive(ctx context.Context, free map[string]bool) []*registry.Entry {
	var missing []*registry.Entry
	for _, e := range d.reg.All() {
		if e.Status != registry.StatusActive || e.Port == "" {
			continue
		}
		if identifyOnPort(ctx, e.Port, e.DeviceType, e.AdapterConfig, d.opts) == e.SerialNumber {
			d.reg.UpdatePort(e.DeviceID, e.Port)
			delete(free, e.Port)
			continue
		}
		missing = append(missing, e)
	}
	return missing
}

// phase 2: search every still-free port for each missing device.
func (d *Discoverer) searchMissing(ctx context.Context, missing []*registry.Entry, free map[string]bool) {
	for _, e := range missing {
		found := false
		for port := range free {
			serial := identifyOnPort(ctx, port, e.DeviceType, e.AdapterConfig, d.opts)
			if serial == e.SerialNumber {
				d.reg.UpdatePort(e.DeviceID, port)
				delete(free, port)
				found = true
				break
			}
		}
		if !found {
			d.reg.MarkFailed(e.DeviceID, time.Now().Add(time.Duration(d.opts.InitialRetryMinutes*float64(time.Minute))))
		}
	}
}

// phase 3: try each remaining free port against every configured
// adapter type in priority order.
func (d *Discoverer) discoverNew(ctx context.Context, free map[string]bool) {
	for port := range free {
		for _, adapterType := range d.opts.PriorityOrder {
			if d.opts.DefaultConfig == nil {
				continue
			}
			cfg := d.opts.DefaultConfig(adapterType, port)
			serial := identifyOnPort(ctx, port, adapterType, cfg, d.opts)
			if serial == "" {
				continue
			}
			if existing, ok := d.reg.Lookup(serial, adapterType); ok {
				d.reg.UpdatePort(existing.DeviceID, port)
			} else {
				d.reg.Create(&registry.Entry{
					DeviceID:      lib.DeviceID(adapterType, serial),
					DeviceType:    adapterType,
					SerialNumber:  lib.NormalizeSerial(serial),
					Port:          port,
					AdapterConfig: cfg,
				})
			}
			delete(free, port)
			break
		}
	}
}

// IdentifyForRecovery exposes the identification procedure used by
// discovery phase 3 for the RecoveryManager's targeted re-probes
// (§4.4), using the adapter-type default timeout floors.
func IdentifyForRecovery(ctx context.Context, port, adapterType string, cfg any) string {
	return identifyOnPort(ctx, port, adapterType, cfg, Options{})
}

// identifyOnPort opens port with a probe adapter built from cfg,
// checks connectivity, reads the serial number, and always closes the
// adapter before returning, per §4.3's identification procedure.
func identifyOnPort(ctx context.Context, port, adapterType string, cfg any, opts Options) string {
	a, err := adapter.New(adapterType, cfg)
	if err != nil {
		return ""
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeoutOrDefault(opts.ConnectTimeout, adapterType))
	defer cancel()
	if err := a.Connect(connectCtx); err != nil {
		return ""
	}
	defer func() {
		_ = a.Close()
		time.Sleep(500 * time.Millisecond)
	}()
	opCtx, cancel2 := context.WithTimeout(ctx, opTimeoutOrDefault(opts.OperationTimeout, adapterType))
	defer cancel2()
	if !a.CheckConnectivity(opCtx) {
		return ""
	}
	serial, err := a.ReadSerialNumber(opCtx)
	if err != nil {
		return ""
	}
	serial = trimSpace(serial)
	if len(serial) < 3 {
		return ""
	}
	return serial
}

func trimSpace(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	return s
}

func isBattery(adapterType string) bool {
	switch adapterType {
	case "bms_active", "bms_passive", "bms_tcp", "bms_ble":
		return true
	}
	return false
}

func timeoutOrDefault(cfg time.Duration, adapterType string) time.Duration {
	if cfg > 0 {
		return cfg
	}
	if isBattery(adapterType) {
		return adapter.BatteryProbeTimeouts.Connect
	}
	return adapter.OtherProbeTimeouts.Connect
}

func opTimeoutOrDefault(cfg time.Duration, adapterType string) time.Duration {
	if cfg > 0 {
		return cfg
	}
	if isBattery(adapterType) {
		return adapter.BatteryProbeTimeouts.Operation
	}
	return adapter.OtherProbeTimeouts.Operation
}

// usbPorts lists USB-class serial ports currently present on the host.
func usbPorts() ([]string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, p := range ports {
		if p.IsUSB {
			names = append(names, p.Name)
		}
	}
	return names, nil
}
