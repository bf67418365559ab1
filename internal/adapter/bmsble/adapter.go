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

// Package bmsble implements the GATT-over-Bluetooth-LE BMS adapter
// variant (§4.1 item 6): one persistent GATT connection per battery
// MAC, subscribed to a notification characteristic carrying the same
// framed protocol decoded by package bmsframe.
package bmsble

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/aamcrae/solarhub/internal/adapter"
	"github.com/aamcrae/solarhub/internal/adapter/bmsframe"
	"github.com/aamcrae/solarhub/internal/model"
)

// Config configures one BLE battery connection.
type Config struct {
	MAC              string // battery's Bluetooth MAC address
	BankID           string
	NotifyServiceUUID    bluetooth.UUID
	NotifyCharUUID       bluetooth.UUID
	WriteCharUUID        bluetooth.UUID
	WrapUnit15       bool
	ConfigFields     []bmsframe.FieldSpec
	HCIResetOnFailure bool
}

// Adapter keeps a persistent GATT connection alive across polls,
// feeding notification payloads into a bmsframe.Scanner directly
// (there is exactly one peer per connection, so the battery address
// tracked by Scanner/Sniffer is always the configured unit; the
// Sniffer's request-based addressing is unused here).
type Adapter struct {
	cfg     Config
	adapter *bluetooth.Adapter
	device  *bluetooth.Device
	writeCh bluetooth.DeviceCharacteristic

	mu      sync.Mutex
	scanner *bmsframe.Scanner
	last    bmsframe.BankRecord
}

func init() {
	adapter.Register("bms_ble", func(raw any) (adapter.Adapter, error) {
		cfg, ok := raw.(Config)
		if !ok {
			return nil, fmt.Errorf("bms_ble: invalid config type %T", raw)
		}
		return New(cfg), nil
	})
}

// New returns an unconnected BLE adapter.
func New(cfg Config) *Adapter {
	return &Adapter{cfg: cfg, scanner: bmsframe.NewScanner()}
}

// Connect opens the GATT connection, discovers the notification
// characteristic, and subscribes. On failure, optionally power-cycles
// the host Bluetooth adapter before returning an error so the next
// Connect attempt starts from a clean HCI state.
func (a *Adapter) Connect(ctx context.Context) error {
	a.adapter = bluetooth.DefaultAdapter
	if err := a.adapter.Enable(); err != nil {
		return a.failConnect(err)
	}
	addr := bluetooth.Address{}
	addr.Set(a.cfg.MAC)
	device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return a.failConnect(err)
	}
	a.device = &device
	services, err := device.DiscoverServices([]bluetooth.UUID{a.cfg.NotifyServiceUUID})
	if err != nil {
		return a.failConnect(err)
	}
	if len(services) == 0 {
		return a.failConnect(fmt.Errorf("notification service not found"))
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{a.cfg.NotifyCharUUID, a.cfg.WriteCharUUID})
	if err != nil {
		return a.failConnect(err)
	}
	for _, c := range chars {
		if c.UUID() == a.cfg.WriteCharUUID {
			a.writeCh = c
		}
		if c.UUID() == a.cfg.NotifyCharUUID {
			if err := c.EnableNotifications(a.onNotify); err != nil {
				return a.failConnect(err)
			}
		}
	}
	return nil
}

func (a *Adapter) failConnect(err error) error {
	if a.cfg.HCIResetOnFailure {
		resetHCIAdapter()
	}
	return &adapter.TransportError{Kind: adapter.KindTransportOpen, Err: err}
}

// resetHCIAdapter power-cycles the host Bluetooth adapter via BlueZ's
// hciconfig, shared across every BLE BMS instance; callers should only
// invoke this on connection failure, not on every poll.
func resetHCIAdapter() {
	_ = exec.Command("hciconfig", "hci0", "reset").Run()
}

func (a *Adapter) onNotify(buf []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scanner.Feed(buf)
	for {
		ev, ok := a.scanner.Next()
		if !ok {
			return
		}
		switch {
		case ev.Type == bmsframe.FrameTypeStatus:
			if sf, ok := bmsframe.DecodeStatusFrame(ev.Payload); ok {
				a.last.Status = sf
				a.last.UpdatedAt = time.Now()
			}
		case ev.Type == bmsframe.FrameTypeConfig:
			if cf, ok := bmsframe.DecodeConfigFrame(ev.Payload, a.cfg.ConfigFields); ok {
				a.last.Config = cf
				a.last.UpdatedAt = time.Now()
			}
		}
	}
}

// Close disconnects the GATT link.
func (a *Adapter) Close() error {
	if a.device == nil {
		return nil
	}
	err := a.device.Disconnect()
	a.device = nil
	return err
}

// CheckConnectivity reports whether a frame has arrived recently.
func (a *Adapter) CheckConnectivity(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return time.Since(a.last.UpdatedAt) < 30*time.Second
}

// ReadSerialNumber: the battery MAC is the stable identity for this
// variant; the framed protocol itself carries none.
func (a *Adapter) ReadSerialNumber(ctx context.Context) (string, error) {
	return a.cfg.MAC, nil
}

// Poll returns the cached snapshot from the single connected battery.
func (a *Adapter) Poll(ctx context.Context) (adapter.Telemetry, error) {
	a.mu.Lock()
	rec := a.last
	a.mu.Unlock()
	bank := singleUnitSnapshot(a.cfg.BankID, rec)
	return adapter.Telemetry{Battery: &adapter.BatteryPoll{Value: bank}}, nil
}

// singleUnitSnapshot builds a one-unit BatteryBankTelemetry from a
// single decoded record; the BLE variant has exactly one peer per
// connection so there is no "current address" arbitration to do.
func singleUnitSnapshot(bankID string, rec bmsframe.BankRecord) model.BatteryBankTelemetry {
	bank := model.BatteryBankTelemetry{
		BankID:    bankID,
		Timestamp: time.Now(),
	}
	if rec.Status == nil {
		return bank
	}
	bank.BatteriesCount = 1
	bank.CellsPerBattery = 16
	u := model.BatteryUnitTelemetry{
		Voltage: rec.Status.PackVoltage,
		Current: rec.Status.PackCurrentA,
		SOCPct:  rec.Status.SOCPct,
		SOHPct:  rec.Status.SOHPct,
		Cycles:  rec.Status.Cycles,
	}
	cells := make([]model.BatteryCellTelemetry, 16)
	for i := 0; i < 16; i++ {
		cells[i] = model.BatteryCellTelemetry{
			VoltageMV:      rec.Status.CellMilliVolts[i],
			ResistanceMOhm: rec.Status.CellResistanceM[i],
		}
	}
	bank.Units = []model.BatteryUnitTelemetry{u}
	bank.Cells = [][]model.BatteryCellTelemetry{cells}
	bank.Voltage = u.Voltage
	bank.SOCPct = u.SOCPct
	return bank
}

// HandleCommand always fails with UnsupportedCommand: this variant has
// no command encoding and writes nothing to the write characteristic.
func (a *Adapter) HandleCommand(ctx context.Context, cmd adapter.Command) (adapter.CommandResult, error) {
	return adapter.CommandResult{}, &adapter.PollError{Kind: adapter.KindUnsupportedCommand, Retryable: false}
}

var _ adapter.Adapter = (*Adapter)(nil)
