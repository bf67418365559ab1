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

// Package metrics exposes the hub's Prometheus instrumentation: one
// gauge set per telemetry kind, plus counters for poll/command outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	InverterPVWatts = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "solarhub_inverter_pv_power_watts",
		Help: "Instantaneous PV power reported by an inverter.",
	}, []string{"inverter_id", "array_id"})

	InverterLoadWatts = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "solarhub_inverter_load_power_watts",
		Help: "Instantaneous load power reported by an inverter.",
	}, []string{"inverter_id", "array_id"})

	InverterGridWatts = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "solarhub_inverter_grid_power_watts",
		Help: "Instantaneous grid power reported by an inverter, positive meaning import.",
	}, []string{"inverter_id", "array_id"})

	InverterBatteryWatts = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "solarhub_inverter_battery_power_watts",
		Help: "Instantaneous battery power reported by an inverter, positive meaning charging.",
	}, []string{"inverter_id", "array_id"})

	BankVoltage = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "solarhub_battery_bank_voltage_volts",
		Help: "Battery bank terminal voltage.",
	}, []string{"bank_id"})

	BankSOCPercent = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "solarhub_battery_bank_soc_percent",
		Help: "Battery bank state of charge.",
	}, []string{"bank_id"})

	MeterPowerWatts = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "solarhub_meter_power_watts",
		Help: "Instantaneous power reported by an energy meter, positive meaning import.",
	}, []string{"meter_id"})

	PollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solarhub_polls_total",
		Help: "Completed device polls, partitioned by outcome.",
	}, []string{"device_id", "device_type", "outcome"})

	DeviceConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "solarhub_device_connected",
		Help: "Whether a device's transport is currently connected (1) or not (0).",
	}, []string{"device_id", "device_type"})

	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solarhub_commands_total",
		Help: "Commands drained from the command queue, partitioned by outcome.",
	}, []string{"action", "outcome"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "solarhub_command_queue_depth",
		Help: "Current depth of the command queue.",
	})

	DiscoveryFound = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solarhub_discovery_devices_found_total",
		Help: "Devices identified by the discovery engine, partitioned by phase.",
	}, []string{"phase"})

	RecoveryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solarhub_recovery_attempts_total",
		Help: "Recovery attempts made by the recovery manager, partitioned by outcome.",
	}, []string{"device_id", "outcome"})

	SchedulerDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solarhub_scheduler_decisions_total",
		Help: "Charge/discharge decisions issued by the smart scheduler.",
	}, []string{"array_id", "mode"})
)

// ObservePoll updates the per-device poll outcome counter and
// connectivity gauge; called by the Orchestrator after every poll.
func ObservePoll(deviceID, deviceType string, connected bool, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	PollsTotal.WithLabelValues(deviceID, deviceType, outcome).Inc()
	v := 0.0
	if connected {
		v = 1.0
	}
	DeviceConnected.WithLabelValues(deviceID, deviceType).Set(v)
}
