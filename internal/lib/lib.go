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

// Package lib holds small helpers shared across the hub's subsystems.
package lib

import "fmt"

// Number is the set of types ConfigOrDefault accepts.
type Number interface {
	~int | ~int64 | ~float64
}

// ConfigOrDefault returns v if it is non-zero, otherwise def.
func ConfigOrDefault[T Number](v, def T) T {
	if v == 0 {
		return def
	}
	return v
}

// FmtFloat formats a float with a fixed, compact precision for log lines.
func FmtFloat(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

// NormalizeSerial upper-cases a serial number and left-pads it to 6
// characters, per the device_id derivation rule.
func NormalizeSerial(s string) string {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') {
			out = append(out, byte(r))
		}
	}
	for len(out) < 6 {
		out = append([]byte{'0'}, out...)
	}
	return string(out)
}

// Last6 returns the last 6 characters of a normalized serial, used to
// build device_id values.
func Last6(normalized string) string {
	if len(normalized) <= 6 {
		return normalized
	}
	return normalized[len(normalized)-6:]
}

// DeviceID builds the "{type}_{last6(serial)}" identifier.
func DeviceID(deviceType, serial string) string {
	n := NormalizeSerial(serial)
	return fmt.Sprintf("%s_%s", deviceType, Last6(n))
}
