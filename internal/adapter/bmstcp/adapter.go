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

// Package bmstcp implements the RS-485-to-Ethernet gateway BMS adapter
// variant (§4.1 item 5): same framing as bmspassive, but the byte
// source is a TCP socket to a bridge instead of a local serial port.
package bmstcp

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/aamcrae/solarhub/internal/adapter"
	"github.com/aamcrae/solarhub/internal/adapter/bmsframe"
)

// Config configures one TCP-gateway sniffer instance.
type Config struct {
	Addr         string // host:port of the RS-485-to-Ethernet bridge
	BankID       string
	Serial       string
	WrapUnit15   bool
	ConfigFields []bmsframe.FieldSpec
	DialTimeout  time.Duration
}

// Adapter decodes the same broadcast framing as bmspassive.Adapter but
// reads it from a TCP connection to a serial bridge.
type Adapter struct {
	cfg     Config
	conn    net.Conn
	sniffer *bmsframe.Sniffer
}

func init() {
	adapter.Register("bms_tcp", func(raw any) (adapter.Adapter, error) {
		cfg, ok := raw.(Config)
		if !ok {
			return nil, fmt.Errorf("bms_tcp: invalid config type %T", raw)
		}
		return New(cfg), nil
	})
}

// New creates an unconnected TCP-gateway adapter.
func New(cfg Config) *Adapter {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	return &Adapter{cfg: cfg, sniffer: bmsframe.NewSniffer(cfg.WrapUnit15, cfg.ConfigFields)}
}

// Connect dials the bridge and starts the background reader.
func (a *Adapter) Connect(ctx context.Context) error {
	conn, err := net.DialTimeout("tcp", a.cfg.Addr, a.cfg.DialTimeout)
	if err != nil {
		return &adapter.TransportError{Kind: adapter.KindTransportOpen, Err: err}
	}
	a.conn = conn
	a.sniffer.Start(conn)
	return nil
}

// Close stops the background reader and closes the socket. Safe to call
// after an error or more than once.
func (a *Adapter) Close() error {
	a.sniffer.Stop()
	if a.conn != nil {
		err := a.conn.Close()
		a.conn = nil
		return err
	}
	return nil
}

// CheckConnectivity reports whether any frame has been decoded recently.
func (a *Adapter) CheckConnectivity(ctx context.Context) bool {
	return a.sniffer.Fresh(30 * time.Second)
}

// ReadSerialNumber returns the installation-configured identity: the
// wire protocol carries none.
func (a *Adapter) ReadSerialNumber(ctx context.Context) (string, error) {
	return a.cfg.Serial, nil
}

// Poll returns the cached snapshot without blocking on I/O.
func (a *Adapter) Poll(ctx context.Context) (adapter.Telemetry, error) {
	bank := bmsframe.Snapshot(a.cfg.BankID, a.sniffer)
	return adapter.Telemetry{Battery: &adapter.BatteryPoll{Value: bank}}, nil
}

// HandleCommand always fails: the sniffer never writes to the bus.
func (a *Adapter) HandleCommand(ctx context.Context, cmd adapter.Command) (adapter.CommandResult, error) {
	return adapter.CommandResult{}, &adapter.PollError{Kind: adapter.KindUnsupportedCommand, Retryable: false}
}

var _ adapter.Adapter = (*Adapter)(nil)
