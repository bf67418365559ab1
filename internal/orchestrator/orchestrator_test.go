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

package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/aamcrae/solarhub/internal/adapter"
	"github.com/aamcrae/solarhub/internal/bus"
	"github.com/aamcrae/solarhub/internal/model"
	"github.com/aamcrae/solarhub/internal/queue"
	"github.com/aamcrae/solarhub/internal/registry"
	"github.com/aamcrae/solarhub/internal/store"
)

// fakeStore is a no-op TelemetryStore that records the calls made to it.
type fakeStore struct {
	dailyCalls     []dailyCall
	insertedSample model.InverterTelemetry
}

type dailyCall struct {
	meterID             string
	date                string
	importWh, exportWh float64
}

func (f *fakeStore) InsertSample(_ string, tel model.InverterTelemetry) error {
	f.insertedSample = tel
	return nil
}
func (f *fakeStore) InsertBatteryBankSample(model.BatteryBankTelemetry) error          { return nil }
func (f *fakeStore) InsertBatteryUnitSamples(string, []model.BatteryUnitTelemetry) error { return nil }
func (f *fakeStore) InsertBatteryCellSamples(string, int, []model.BatteryCellTelemetry) error {
	return nil
}
func (f *fakeStore) InsertMeterSample(model.MeterTelemetry) error { return nil }
func (f *fakeStore) UpsertMeterDaily(meterID, date string, importWh, exportWh float64) error {
	f.dailyCalls = append(f.dailyCalls, dailyCall{meterID, date, importWh, exportWh})
	return nil
}
func (f *fakeStore) UpsertDailyPV(string, string, float64) error                    { return nil }
func (f *fakeStore) UpsertHourlyEnergy(string, string, int, float64, float64) error { return nil }
func (f *fakeStore) GetConfig(string) (string, bool, error)                        { return "", false, nil }
func (f *fakeStore) SetConfig(string, string, string) error                        { return nil }
func (f *fakeStore) GetAllDevices() ([]*registry.Entry, error)                     { return nil, nil }

var _ store.TelemetryStore = (*fakeStore)(nil)

type fakeBus struct{}

func (fakeBus) Publish(topic string, payload any, retain bool) error { return nil }
func (fakeBus) Subscribe(topicPattern string, handler bus.Handler) error { return nil }
func (fakeBus) Close() {}

var _ bus.Bus = fakeBus{}

// fakeDeviceAdapter counts Connect/Close calls so tests can verify the
// suspend/resume transport lifecycle without a real transport.
type fakeDeviceAdapter struct {
	connects int
	closes   int
}

func (f *fakeDeviceAdapter) Connect(context.Context) error { f.connects++; return nil }
func (f *fakeDeviceAdapter) Close() error                   { f.closes++; return nil }
func (f *fakeDeviceAdapter) CheckConnectivity(context.Context) bool { return true }
func (f *fakeDeviceAdapter) ReadSerialNumber(context.Context) (string, error) { return "", nil }
func (f *fakeDeviceAdapter) Poll(context.Context) (adapter.Telemetry, error) {
	return adapter.Telemetry{}, nil
}
func (f *fakeDeviceAdapter) HandleCommand(context.Context, adapter.Command) (adapter.CommandResult, error) {
	return adapter.CommandResult{}, nil
}

var _ adapter.Adapter = (*fakeDeviceAdapter)(nil)

func TestPollAllClosesTransportOnDisconnectRequest(t *testing.T) {
	fs := &fakeStore{}
	o := newTestOrchestrator(t, fs)
	fa := &fakeDeviceAdapter{}
	d := &Device{Entry: &registry.Entry{DeviceID: "inv1"}, Adapter: fa, connected: true}
	o.devices = []*Device{d}

	d.RequestDisconnect()
	o.pollAll(context.Background())

	if fa.closes != 1 {
		t.Fatalf("expected Close to be called once on disconnect, got %d", fa.closes)
	}
	if d.connected {
		t.Errorf("device should be marked disconnected after Close")
	}

	// A second tick while still suspended must not close it again.
	o.pollAll(context.Background())
	if fa.closes != 1 {
		t.Errorf("disconnect must be idempotent, Close called %d times", fa.closes)
	}
}

func TestPollOneReconnectClosesBeforeReopening(t *testing.T) {
	fs := &fakeStore{}
	o := newTestOrchestrator(t, fs)
	fa := &fakeDeviceAdapter{}
	d := &Device{Entry: &registry.Entry{DeviceID: "inv1"}, Adapter: fa, connected: true}
	d.RequestReconnect()

	o.pollOne(context.Background(), d)

	if fa.closes != 1 {
		t.Fatalf("expected the stale transport to be closed before reconnecting, got %d closes", fa.closes)
	}
	if fa.connects != 1 {
		t.Fatalf("expected exactly one Connect call, got %d", fa.connects)
	}
	if !d.connected {
		t.Errorf("device should be marked connected after a successful reconnect")
	}
}

func newTestOrchestrator(t *testing.T, fs *fakeStore) *Orchestrator {
	t.Helper()
	loc := time.UTC
	q := queue.New(16, func(string) (adapter.Adapter, bool) { return nil, false }, time.Minute)
	return New(nil, nil, nil, fakeBus{}, "solarhub", fs, q, Options{Timezone: loc})
}

func TestHandleResultNormalizesTimestampToConfiguredTimezone(t *testing.T) {
	fs := &fakeStore{}
	configured := time.FixedZone("configured", -7*3600) // e.g. US Mountain, no DST
	o := New(nil, nil, nil, fakeBus{}, "solarhub", fs, nil, Options{Timezone: configured})
	d := &Device{Entry: &registry.Entry{DeviceID: "inv1"}}

	// The adapter stamps Poll-time in whatever zone the process happens
	// to be running in; here that's represented by an arbitrary offset
	// distinct from the configured one.
	pollTZ := time.FixedZone("poll-local", 9*3600)
	ts := time.Date(2026, 8, 1, 15, 0, 0, 0, pollTZ)

	o.handleResult(d, adapter.Telemetry{Inverter: &adapter.InverterPoll{Value: model.InverterTelemetry{
		InverterID: "inv1", Timestamp: ts,
	}}})

	got := fs.insertedSample.Timestamp
	if !got.Equal(ts) {
		t.Fatalf("normalization must preserve the instant, got %v want %v", got, ts)
	}
	if _, offset := got.Zone(); offset != -7*3600 {
		t.Errorf("stored Timestamp zone offset = %d, want %d (configured timezone)", offset, -7*3600)
	}
}

func TestMeterDailyCountersAccumulateWithinOneDay(t *testing.T) {
	fs := &fakeStore{}
	o := newTestOrchestrator(t, fs)
	d := &Device{Entry: &registry.Entry{DeviceID: "meter1"}}

	t0 := time.Date(2026, 8, 1, 0, 5, 0, 0, time.UTC)
	tel0 := model.MeterTelemetry{MeterID: "meter1", Timestamp: t0, ImportTotalWh: 10_000, ExportTotalWh: 500}
	o.handleResult(d, adapter.Telemetry{Meter: &adapter.MeterPoll{Value: tel0}})

	if got := fs.dailyCalls[0]; got.importWh != 0 || got.exportWh != 0 {
		t.Fatalf("first sample of the day should baseline to zero, got import=%v export=%v", got.importWh, got.exportWh)
	}

	t1 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tel1 := model.MeterTelemetry{MeterID: "meter1", Timestamp: t1, ImportTotalWh: 13_500, ExportTotalWh: 900}
	o.handleResult(d, adapter.Telemetry{Meter: &adapter.MeterPoll{Value: tel1}})

	got := fs.dailyCalls[1]
	if got.importWh != 3500 {
		t.Errorf("ImportDailyWh = %v, want 3500", got.importWh)
	}
	if got.exportWh != 400 {
		t.Errorf("ExportDailyWh = %v, want 400", got.exportWh)
	}
	if got.date != "2026-08-01" {
		t.Errorf("date = %q, want 2026-08-01", got.date)
	}
}

func TestMeterDailyCountersResetAtLocalMidnight(t *testing.T) {
	fs := &fakeStore{}
	o := newTestOrchestrator(t, fs)
	d := &Device{Entry: &registry.Entry{DeviceID: "meter1"}}

	day1 := time.Date(2026, 8, 1, 23, 0, 0, 0, time.UTC)
	o.handleResult(d, adapter.Telemetry{Meter: &adapter.MeterPoll{Value: model.MeterTelemetry{
		MeterID: "meter1", Timestamp: day1, ImportTotalWh: 20_000, ExportTotalWh: 1_000,
	}}})

	day2 := time.Date(2026, 8, 2, 0, 10, 0, 0, time.UTC)
	o.handleResult(d, adapter.Telemetry{Meter: &adapter.MeterPoll{Value: model.MeterTelemetry{
		MeterID: "meter1", Timestamp: day2, ImportTotalWh: 20_050, ExportTotalWh: 1_010,
	}}})

	got := fs.dailyCalls[1]
	if got.importWh != 0 || got.exportWh != 0 {
		t.Fatalf("crossing local midnight must rebase the daily counters to zero, got import=%v export=%v", got.importWh, got.exportWh)
	}
	if got.date != "2026-08-02" {
		t.Errorf("date = %q, want 2026-08-02", got.date)
	}
}
