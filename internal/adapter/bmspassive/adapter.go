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

// Package bmspassive implements the RS-485 sniffer BMS adapter variant
// (§4.1 item 4): it sends nothing and instead passively decodes the
// master BMS's own broadcasts.
package bmspassive

import (
	"context"
	"fmt"
	"time"

	"go.bug.st/serial"

	"github.com/aamcrae/solarhub/internal/adapter"
	"github.com/aamcrae/solarhub/internal/adapter/bmsframe"
)

// Config configures one passive sniffer instance.
type Config struct {
	Port         string
	BaudRate     int
	BankID       string
	Serial       string // installation-assigned identity; the wire protocol carries none
	WrapUnit15   bool
	ConfigFields []bmsframe.FieldSpec
}

// Adapter is the passive RS-485 sniffer. It satisfies adapter.Adapter.
type Adapter struct {
	cfg     Config
	port    serial.Port
	sniffer *bmsframe.Sniffer
}

func init() {
	adapter.Register("bms_passive", func(raw any) (adapter.Adapter, error) {
		cfg, ok := raw.(Config)
		if !ok {
			return nil, fmt.Errorf("bms_passive: invalid config type %T", raw)
		}
		return New(cfg), nil
	})
}

// New creates an unconnected passive adapter.
func New(cfg Config) *Adapter {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600
	}
	return &Adapter{cfg: cfg, sniffer: bmsframe.NewSniffer(cfg.WrapUnit15, cfg.ConfigFields)}
}

// Connect opens the serial port and starts the background reader.
func (a *Adapter) Connect(ctx context.Context) error {
	mode := &serial.Mode{BaudRate: a.cfg.BaudRate}
	p, err := serial.Open(a.cfg.Port, mode)
	if err != nil {
		return &adapter.TransportError{Kind: adapter.KindTransportOpen, Err: err}
	}
	a.port = p
	a.sniffer.Start(p)
	return nil
}

// Close stops the background reader and releases the serial port. Safe
// to call after an error or more than once.
func (a *Adapter) Close() error {
	a.sniffer.Stop()
	if a.port != nil {
		err := a.port.Close()
		a.port = nil
		return err
	}
	return nil
}

// CheckConnectivity reports whether any frame has been decoded recently.
func (a *Adapter) CheckConnectivity(ctx context.Context) bool {
	return a.sniffer.Fresh(30 * time.Second)
}

// ReadSerialNumber returns the installation-configured identity: the
// wire protocol itself carries no device serial number for a sniffer.
func (a *Adapter) ReadSerialNumber(ctx context.Context) (string, error) {
	return a.cfg.Serial, nil
}

// Poll returns the cached snapshot without blocking on I/O: the
// background reader is the sole writer.
func (a *Adapter) Poll(ctx context.Context) (adapter.Telemetry, error) {
	bank := bmsframe.Snapshot(a.cfg.BankID, a.sniffer)
	return adapter.Telemetry{Battery: &adapter.BatteryPoll{Value: bank}}, nil
}

// HandleCommand always fails: the sniffer never writes to the bus.
func (a *Adapter) HandleCommand(ctx context.Context, cmd adapter.Command) (adapter.CommandResult, error) {
	return adapter.CommandResult{}, &adapter.PollError{Kind: adapter.KindUnsupportedCommand, Retryable: false}
}

var _ adapter.Adapter = (*Adapter)(nil)
