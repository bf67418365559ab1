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

// Package bus defines the message-broker client the core depends on
// (§6) and an MQTT-backed implementation of it.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Handler processes an inbound message on a subscribed topic pattern.
type Handler func(topic string, payload []byte)

// Bus is the external collaborator the core subsystems publish
// telemetry to and receive commands from; it is deliberately the only
// interface the core depends on for messaging (§1, §6).
type Bus interface {
	Publish(topic string, payload any, retain bool) error
	Subscribe(topicPattern string, handler Handler) error
	Close()
}

// MQTTBus implements Bus over github.com/eclipse/paho.mqtt.golang.
type MQTTBus struct {
	client mqtt.Client
	base   string
}

// Options configures an MQTTBus.
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Base     string
}

// New connects to the broker and returns a ready MQTTBus.
func New(opts Options) (*MQTTBus, error) {
	mOpts := mqtt.NewClientOptions()
	mOpts.AddBroker(opts.Broker)
	mOpts.SetClientID(opts.ClientID)
	mOpts.SetUsername(opts.Username)
	mOpts.SetPassword(opts.Password)
	mOpts.SetAutoReconnect(true)
	mOpts.SetWill(opts.Base+"/hub/availability", "offline", 1, true)

	client := mqtt.NewClient(mOpts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connecting to mqtt broker %s: %w", opts.Broker, token.Error())
	}
	b := &MQTTBus{client: client, base: opts.Base}
	if token := client.Publish(opts.Base+"/hub/availability", 1, true, "online"); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return b, nil
}

// Publish JSON-encodes payload (flattening any nested structures into
// the standard "extra" convention is the caller's responsibility) and
// publishes it; a payload json.Marshal rejects is sent as a single JSON
// string of its %v form (see marshalSafe).
func (b *MQTTBus) Publish(topic string, payload any, retain bool) error {
	data, err := marshalSafe(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload for %s: %w", topic, err)
	}
	token := b.client.Publish(topic, 1, retain, data)
	token.Wait()
	return token.Error()
}

// Subscribe registers handler for topicPattern.
func (b *MQTTBus) Subscribe(topicPattern string, handler Handler) error {
	token := b.client.Subscribe(topicPattern, 1, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	token.Wait()
	return token.Error()
}

// Close disconnects cleanly, publishing an offline availability
// message first.
func (b *MQTTBus) Close() {
	token := b.client.Publish(b.base+"/hub/availability", 1, true, "offline")
	token.WaitTimeout(time.Second)
	b.client.Disconnect(250)
}

// marshalSafe JSON-encodes v. If json.Marshal fails (for example on a
// channel or func value), the whole of v is encoded as one JSON string
// of its %v form; values are not coerced one by one, and cycles are not
// replaced with a marker.
func marshalSafe(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err == nil {
		return data, nil
	}
	return json.Marshal(fmt.Sprintf("%v", v))
}

// Topics builds the standard topic set for one device id under base.
type Topics struct{ Base string }

func (t Topics) Availability(id string) string { return fmt.Sprintf("%s/%s/availability", t.Base, id) }
func (t Topics) Regs(id string) string         { return fmt.Sprintf("%s/%s/regs", t.Base, id) }
func (t Topics) Cmd(id string) string          { return fmt.Sprintf("%s/%s/cmd", t.Base, id) }
func (t Topics) Write(id string) string        { return fmt.Sprintf("%s/%s/write", t.Base, id) }
func (t Topics) WriteMany(id string) string    { return fmt.Sprintf("%s/%s/write_many", t.Base, id) }
func (t Topics) Ack(id string) string          { return fmt.Sprintf("%s/%s/ack", t.Base, id) }
func (t Topics) ConfigSet(id, sensor string) string {
	return fmt.Sprintf("%s/%s/config/%s/set", t.Base, id, sensor)
}
func (t Topics) BatteryRegs(bankID string) string { return fmt.Sprintf("%s/battery/%s/regs", t.Base, bankID) }
func (t Topics) BatteryUnitRegs(bankID string, unit int) string {
	return fmt.Sprintf("%s/battery/%s/%d/regs", t.Base, bankID, unit)
}
func (t Topics) BatteryCellRegs(bankID string, unit, cell int) string {
	return fmt.Sprintf("%s/battery/%s/%d/cells/%d/regs", t.Base, bankID, unit, cell)
}
func (t Topics) ArrayState(arrayID string) string { return fmt.Sprintf("%s/arrays/%s/state", t.Base, arrayID) }
func (t Topics) SystemState(systemID string) string {
	return fmt.Sprintf("%s/systems/%s/state", t.Base, systemID)
}
func (t Topics) MeterRegs(meterID string) string { return fmt.Sprintf("%s/meter/%s/regs", t.Base, meterID) }
