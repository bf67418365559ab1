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

package energy

import (
	"math"
	"testing"
	"time"
)

func TestSampleFirstCallNeverEmits(t *testing.T) {
	a := New(time.UTC)
	_, emitted := a.Sample("inv1", time.Date(2026, 8, 1, 9, 50, 0, 0, time.UTC), 1000, 400)
	if emitted {
		t.Fatalf("a lone first sample has no prior reading to integrate against and must not emit")
	}
}

func TestSampleEmitsOnceAtHourBoundary(t *testing.T) {
	a := New(time.UTC)
	a.Sample("inv1", time.Date(2026, 8, 1, 9, 50, 0, 0, time.UTC), 1000, 400)
	rows, emitted := a.Sample("inv1", time.Date(2026, 8, 1, 10, 10, 0, 0, time.UTC), 1000, 400)
	if !emitted || len(rows) != 1 {
		t.Fatalf("expected exactly one completed row when a sample crosses one hour boundary, got %d", len(rows))
	}
	row := rows[0]
	if row.Hour != 9 || row.Date != "2026-08-01" {
		t.Errorf("row key = %s hour %d, want 2026-08-01 hour 9", row.Date, row.Hour)
	}
	wantSolar := 1000.0 / 6 / 1000 // 10 minutes at constant 1000W
	if math.Abs(row.SolarEnergyKWh-wantSolar) > 1e-9 {
		t.Errorf("solar kWh = %v, want %v", row.SolarEnergyKWh, wantSolar)
	}
	wantLoad := 400.0 / 6 / 1000
	if math.Abs(row.LoadEnergyKWh-wantLoad) > 1e-9 {
		t.Errorf("load kWh = %v, want %v", row.LoadEnergyKWh, wantLoad)
	}

	// A third sample still inside hour 10 must not re-emit hour 9.
	_, emittedAgain := a.Sample("inv1", time.Date(2026, 8, 1, 10, 20, 0, 0, time.UTC), 1000, 400)
	if emittedAgain {
		t.Errorf("expected no further emission until the next hour boundary is crossed")
	}
}

func TestSampleMultiHourGapCompletesEveryBucket(t *testing.T) {
	a := New(time.UTC)
	a.Sample("inv1", time.Date(2026, 8, 1, 9, 50, 0, 0, time.UTC), 1000, 0)
	// Jump three hour boundaries (9, 10, 11) in a single sample.
	rows, emitted := a.Sample("inv1", time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC), 1000, 0)
	if !emitted {
		t.Fatalf("expected emission after a multi-hour gap")
	}
	if len(rows) != 3 {
		t.Fatalf("expected all 3 completed hours (9, 10, 11) returned, got %d: %+v", len(rows), rows)
	}
	wantHours := []int{9, 10, 11}
	for i, want := range wantHours {
		if rows[i].Hour != want {
			t.Errorf("rows[%d].Hour = %d, want %d", i, rows[i].Hour, want)
		}
	}
	// Constant 1000W throughout: hour 9 only covers its last 10 minutes,
	// hours 10 and 11 are full hours.
	if math.Abs(rows[0].SolarEnergyKWh-1000.0/6/1000) > 1e-9 {
		t.Errorf("hour 9 solar kWh = %v, want %v", rows[0].SolarEnergyKWh, 1000.0/6/1000)
	}
	if math.Abs(rows[1].SolarEnergyKWh-1.0) > 1e-9 {
		t.Errorf("hour 10 solar kWh = %v, want 1.0 (full hour at 1000W)", rows[1].SolarEnergyKWh)
	}
}
