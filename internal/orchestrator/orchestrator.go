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

// Package orchestrator implements the main polling loop (§4.7): on
// every tick it fans out a bounded-concurrency poll across every
// connected device adapter, normalizes and stores the results,
// aggregates them upward, publishes on the Bus, feeds every inverter
// sample to the hour-boundary energy accumulator, and periodically hands
// off to the Smart Scheduler.
package orchestrator

import (
	"context"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aamcrae/solarhub/internal/adapter"
	"github.com/aamcrae/solarhub/internal/aggregate"
	"github.com/aamcrae/solarhub/internal/bus"
	"github.com/aamcrae/solarhub/internal/energy"
	"github.com/aamcrae/solarhub/internal/metrics"
	"github.com/aamcrae/solarhub/internal/model"
	"github.com/aamcrae/solarhub/internal/queue"
	"github.com/aamcrae/solarhub/internal/registry"
	"github.com/aamcrae/solarhub/internal/scheduler"
	"github.com/aamcrae/solarhub/internal/store"
)

// Device bundles a live adapter with its registry identity and topology
// placement, assembled by main from the validated hierarchy.
type Device struct {
	Entry       *registry.Entry
	Adapter     adapter.Adapter
	ArrayID     string // InverterArray or BatteryArray id, empty for system-scope meters
	PackID      string // for battery adapters: owning BatteryPack id
	CapacityAh  float64
	RatedPowerW float64 // for inverters: nameplate rating, used by the "rated" split policy

	mu          sync.Mutex
	connected   bool
	disconnect  atomic.Bool
	reconnect   atomic.Bool
}

// ArrayGroup is one InverterArray's static membership plus its attached
// BatteryArray (if any), precomputed once from the validated hierarchy.
type ArrayGroup struct {
	ArrayID        string
	Inverters      []*Device
	AttachedPackID string
	MaxChargeKW    float64
	MaxDischargeKW float64
	SplitPolicy    string
	Scheduler      *scheduler.Scheduler
}

// Options configures the Orchestrator.
type Options struct {
	Timezone           *time.Location
	PollInterval       time.Duration
	Concurrent         int
	SmartTickInterval  time.Duration
	SystemID           string
	Forecast           func(arrayID string) scheduler.Forecast
	Sunrise            func(now time.Time) time.Time
	Sunset             func(now time.Time) time.Time
}

// Orchestrator owns the poll loop and its supporting state.
type Orchestrator struct {
	devices []*Device
	arrays  []*ArrayGroup
	packs   map[string][]*Device // pack id -> battery unit adapters, ordered

	bus   bus.Bus
	topics bus.Topics
	store store.TelemetryStore
	q     *queue.Queue
	acc   *energy.Accumulator

	opts Options

	lastInverter map[string]model.InverterTelemetry
	lastBank     map[string]model.BatteryBankTelemetry
	lastMeter    map[string]model.MeterTelemetry
	lastArray    map[string]model.ArrayTelemetry
	meterBase    map[string]meterBaseline
	mu           sync.RWMutex

	smartTick int
}

// meterBaseline is the cumulative import/export reading a meter reported
// at the most recent local midnight, used to derive daily counters that
// reset without the meter itself supporting a daily register.
type meterBaseline struct {
	date      string // YYYY-MM-DD, local
	importWh  float64
	exportWh  float64
}

// New assembles an Orchestrator over devices; a device's transport is
// opened by its first poll.
func New(devices []*Device, arrays []*ArrayGroup, packs map[string][]*Device,
	b bus.Bus, base string, st store.TelemetryStore, q *queue.Queue, opts Options) *Orchestrator {
	return &Orchestrator{
		devices: devices, arrays: arrays, packs: packs,
		bus: b, topics: bus.Topics{Base: base}, store: st, q: q, opts: opts,
		acc:          energy.New(opts.Timezone),
		lastInverter: make(map[string]model.InverterTelemetry),
		lastBank:     make(map[string]model.BatteryBankTelemetry),
		lastMeter:    make(map[string]model.MeterTelemetry),
		lastArray:    make(map[string]model.ArrayTelemetry),
		meterBase:    make(map[string]meterBaseline),
	}
}

// dailyMeterCounters derives ImportDailyWh/ExportDailyWh from a meter's
// cumulative totals, resetting the baseline whenever the sample's local
// date advances past the last one seen for that meter (§4.9's daily
// counters, tracked the same way the hour accumulator tracks its
// boundaries: against the previous sample, not a wall-clock timer).
func (o *Orchestrator) dailyMeterCounters(meterID string, ts time.Time, importWh, exportWh float64) (float64, float64) {
	date := ts.In(o.opts.Timezone).Format("2006-01-02")
	base, ok := o.meterBase[meterID]
	if !ok || base.date != date {
		base = meterBaseline{date: date, importWh: importWh, exportWh: exportWh}
		o.meterBase[meterID] = base
	}
	return importWh - base.importWh, exportWh - base.exportWh
}

// Run blocks, ticking at PollInterval until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	t := time.NewTicker(o.opts.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			o.tick(ctx)
		}
	}
}

func (o *Orchestrator) tick(ctx context.Context) {
	o.pollAll(ctx)
	o.rollUp()

	o.smartTick++
	if time.Duration(o.smartTick)*o.opts.PollInterval >= o.opts.SmartTickInterval {
		o.smartTick = 0
		o.runSchedulers(ctx)
	}
}

// pollAll fans out a bounded-concurrency poll across every device. A
// device whose owner requested suspension is not polled; its transport
// is closed instead (§5's disconnect/reconnect handling). A device that
// is not currently connected is not skipped: pollOne connects it and
// polls it in the same tick.
func (o *Orchestrator) pollAll(ctx context.Context) {
	sem := make(chan struct{}, o.opts.Concurrent)
	var wg sync.WaitGroup
	for _, d := range o.devices {
		if d.disconnect.Load() {
			o.disconnectDevice(d)
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(d *Device) {
			defer wg.Done()
			defer func() { <-sem }()
			o.pollOne(ctx, d)
		}(d)
	}
	wg.Wait()
}

// disconnectDevice closes a suspended device's transport, leaving the
// Adapter object itself intact so a later reconnect can reopen it
// (§5: "a disconnect request closes all transports while preserving
// client objects"). Idempotent once the device is already closed, so
// pollAll can call it on every tick a suspension remains in effect.
func (o *Orchestrator) disconnectDevice(d *Device) {
	d.mu.Lock()
	connected := d.connected
	d.mu.Unlock()
	if !connected {
		return
	}
	_ = d.Adapter.Close()
	d.mu.Lock()
	d.connected = false
	d.mu.Unlock()
}

func (o *Orchestrator) pollOne(ctx context.Context, d *Device) {
	d.mu.Lock()
	connected := d.connected
	d.mu.Unlock()

	if !connected || d.reconnect.Load() {
		if connected {
			// A reconnect was requested while the transport was still
			// open (no preceding disconnect): close it first so serial
			// ports and passive-BMS background readers don't leak.
			_ = d.Adapter.Close()
			d.mu.Lock()
			d.connected = false
			d.mu.Unlock()
		}
		if err := d.Adapter.Connect(ctx); err != nil {
			metrics.ObservePoll(d.Entry.DeviceID, d.Entry.DeviceType, false, err)
			return
		}
		d.mu.Lock()
		d.connected = true
		d.mu.Unlock()
		d.reconnect.Store(false)
	}

	o.q.NotifyTelemetryPolling(d.Entry.DeviceID)

	result, pollErr := d.Adapter.Poll(ctx)
	metrics.ObservePoll(d.Entry.DeviceID, d.Entry.DeviceType, pollErr == nil, pollErr)
	if pollErr != nil {
		log.Printf("poll %s: %v", d.Entry.DeviceID, pollErr)
		if pe, ok := pollErr.(*adapter.PollError); ok && !pe.Retryable {
			d.mu.Lock()
			d.connected = false
			d.mu.Unlock()
			_ = d.Adapter.Close()
		}
		return
	}
	o.handleResult(d, result)
}

// handleResult normalizes one poll's telemetry and fans it out to the
// store, the bus, and the accumulators. Every adapter stamps Timestamp
// with its process-local clock (§4.1), so the configured IANA timezone
// is applied here, once, before anything downstream reads it (§4's
// "ts set to configured-timezone local time").
func (o *Orchestrator) handleResult(d *Device, t adapter.Telemetry) {
	switch {
	case t.Inverter != nil:
		v, ok := t.Inverter.Value.(model.InverterTelemetry)
		if !ok {
			return
		}
		v.Timestamp = v.Timestamp.In(o.opts.Timezone)
		o.mu.Lock()
		o.lastInverter[d.Entry.DeviceID] = v
		o.mu.Unlock()
		_ = o.store.InsertSample(d.Entry.DeviceID, v)
		_ = o.bus.Publish(o.topics.Regs(d.Entry.DeviceID), v, false)
		if rows, ok := o.acc.Sample(d.Entry.DeviceID, v.Timestamp, v.PVPowerW, v.LoadPowerW); ok {
			for _, row := range rows {
				_ = o.store.UpsertHourlyEnergy(row.InverterID, row.Date, row.Hour, row.SolarEnergyKWh, row.LoadEnergyKWh)
			}
		}
		metrics.InverterPVWatts.WithLabelValues(d.Entry.DeviceID, v.ArrayID).Set(v.PVPowerW)
		metrics.InverterLoadWatts.WithLabelValues(d.Entry.DeviceID, v.ArrayID).Set(v.LoadPowerW)
		metrics.InverterGridWatts.WithLabelValues(d.Entry.DeviceID, v.ArrayID).Set(v.GridPowerW)
		metrics.InverterBatteryWatts.WithLabelValues(d.Entry.DeviceID, v.ArrayID).Set(v.BattPowerW)

	case t.Battery != nil:
		v, ok := t.Battery.Value.(model.BatteryBankTelemetry)
		if !ok {
			return
		}
		v.Timestamp = v.Timestamp.In(o.opts.Timezone)
		o.mu.Lock()
		o.lastBank[d.PackID] = v
		o.mu.Unlock()
		_ = o.store.InsertBatteryBankSample(v)
		_ = o.store.InsertBatteryUnitSamples(v.BankID, v.Units)
		_ = o.bus.Publish(o.topics.BatteryRegs(v.BankID), v, false)
		for i, u := range v.Units {
			_ = o.bus.Publish(o.topics.BatteryUnitRegs(v.BankID, i), u, false)
		}
		metrics.BankVoltage.WithLabelValues(v.BankID).Set(v.Voltage)
		metrics.BankSOCPercent.WithLabelValues(v.BankID).Set(v.SOCPct)

	case t.Meter != nil:
		v, ok := t.Meter.Value.(model.MeterTelemetry)
		if !ok {
			return
		}
		v.Timestamp = v.Timestamp.In(o.opts.Timezone)
		o.mu.Lock()
		v.ImportDailyWh, v.ExportDailyWh = o.dailyMeterCounters(v.MeterID, v.Timestamp, v.ImportTotalWh, v.ExportTotalWh)
		o.lastMeter[d.Entry.DeviceID] = v
		o.mu.Unlock()
		_ = o.store.InsertMeterSample(v)
		_ = o.store.UpsertMeterDaily(v.MeterID, v.Timestamp.In(o.opts.Timezone).Format("2006-01-02"), v.ImportDailyWh, v.ExportDailyWh)
		_ = o.bus.Publish(o.topics.MeterRegs(v.MeterID), v, false)
		metrics.MeterPowerWatts.WithLabelValues(v.MeterID).Set(v.PowerW)
	}
}

// rollUp recomputes every array and the system aggregation from the
// latest per-device snapshots and publishes them (§4.6).
func (o *Orchestrator) rollUp() {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var arrayTelemetry []model.ArrayTelemetry
	for _, g := range o.arrays {
		var invs []model.InverterTelemetry
		for _, d := range g.Inverters {
			if v, ok := o.lastInverter[d.Entry.DeviceID]; ok {
				invs = append(invs, v)
			}
		}
		var pack *model.BatteryBankTelemetry
		if g.AttachedPackID != "" {
			if v, ok := o.lastBank[g.AttachedPackID]; ok {
				pack = &v
			}
		}
		a := aggregate.Array(aggregate.ArrayInput{
			ArrayID: g.ArrayID, Inverters: invs, AttachedPack: pack,
			MaxChargeKW: g.MaxChargeKW, MaxDischargeKW: g.MaxDischargeKW,
		})
		o.lastArray[g.ArrayID] = a
		arrayTelemetry = append(arrayTelemetry, a)
		_ = o.bus.Publish(o.topics.ArrayState(g.ArrayID), a, false)
	}

	var meters []model.MeterTelemetry
	for _, m := range o.lastMeter {
		meters = append(meters, m)
	}
	sys := aggregate.System(aggregate.SystemInput{SystemID: o.opts.SystemID, Arrays: arrayTelemetry, Meters: meters})
	_ = o.bus.Publish(o.topics.SystemState(o.opts.SystemID), sys, false)
}

// runSchedulers invokes each array's SmartScheduler and enqueues the
// resulting commands (§4.7's "scheduler tick").
func (o *Orchestrator) runSchedulers(ctx context.Context) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, g := range o.arrays {
		if g.Scheduler == nil {
			continue
		}
		array, ok := o.lastArray[g.ArrayID]
		if !ok {
			continue
		}
		fc := scheduler.Forecast{}
		if o.opts.Forecast != nil {
			fc = o.opts.Forecast(g.ArrayID)
		}
		sunrise := time.Now()
		if o.opts.Sunrise != nil {
			sunrise = o.opts.Sunrise(time.Now())
		}
		sunset := time.Now()
		if o.opts.Sunset != nil {
			sunset = o.opts.Sunset(time.Now())
		}
		var pack model.BatteryBankTelemetry
		if g.AttachedPackID != "" {
			pack = o.lastBank[g.AttachedPackID]
		}
		infos := make([]scheduler.InverterInfo, len(g.Inverters))
		grid := scheduler.GridAvailable
		for i, d := range g.Inverters {
			inv := o.lastInverter[d.Entry.DeviceID]
			infos[i] = scheduler.InverterInfo{InverterID: d.Entry.DeviceID, RatedPowerW: d.RatedPowerW, CurrentW: inv.PVPowerW}
			if inv.GridPowerW == 0 && strings.Contains(strings.ToLower(inv.InverterMode), "off") {
				grid = scheduler.GridLost
			}
		}
		decisions := g.Scheduler.Tick(time.Now(), array, grid, fc, sunrise, sunset, infos, pack.SOCPct)
		for _, dec := range decisions {
			o.enqueueDecision(dec)
		}
	}
}

func (o *Orchestrator) enqueueDecision(dec scheduler.Decision) {
	cmd := queue.Command{
		InverterID: dec.InverterID,
		Action:     "write",
		Inner:      adapter.Command{Action: "write", ID: dec.RegisterID, Value: dec.PowerW},
		MaxRetries: 3,
	}
	if err := o.q.Enqueue(cmd); err != nil {
		log.Printf("scheduler enqueue for %s rejected: %v", dec.InverterID, err)
	}
}

// RequestDisconnect and RequestReconnect implement the suspend/resume
// flags referenced by §5's concurrency model, driven by the HTTP API
// surface (out of scope here, §1).
func (d *Device) RequestDisconnect() { d.disconnect.Store(true) }
func (d *Device) RequestReconnect() {
	d.disconnect.Store(false)
	d.reconnect.Store(true)
}
