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

package bus

import "testing"

func TestTopicsLayout(t *testing.T) {
	top := Topics{Base: "solarhub"}
	cases := []struct {
		got, want string
	}{
		{top.Regs("inv1"), "solarhub/inv1/regs"},
		{top.Cmd("inv1"), "solarhub/inv1/cmd"},
		{top.BatteryRegs("pack1"), "solarhub/battery/pack1/regs"},
		{top.BatteryUnitRegs("pack1", 2), "solarhub/battery/pack1/2/regs"},
		{top.BatteryCellRegs("pack1", 2, 5), "solarhub/battery/pack1/2/cells/5/regs"},
		{top.ArrayState("arr1"), "solarhub/arrays/arr1/state"},
		{top.SystemState("sys1"), "solarhub/systems/sys1/state"},
		{top.MeterRegs("m1"), "solarhub/meter/m1/regs"},
		{top.ConfigSet("inv1", "max_charge_power_w"), "solarhub/inv1/config/max_charge_power_w/set"},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("got %q, want %q", c.got, c.want)
		}
	}
}

func TestMarshalSafeFallsBackOnUnsupportedValue(t *testing.T) {
	// A channel cannot be JSON-marshaled; marshalSafe must degrade to a
	// string representation instead of propagating the error.
	data, err := marshalSafe(make(chan int))
	if err != nil {
		t.Fatalf("expected fallback marshaling to succeed, got %v", err)
	}
	if len(data) == 0 {
		t.Errorf("expected non-empty fallback payload")
	}
}

func TestMarshalSafePassesThroughStructs(t *testing.T) {
	type sample struct {
		Watts float64 `json:"watts"`
	}
	data, err := marshalSafe(sample{Watts: 42})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"watts":42}` {
		t.Errorf("got %s, want {\"watts\":42}", data)
	}
}
