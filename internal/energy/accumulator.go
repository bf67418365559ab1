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

// Package energy implements the hour-boundary energy accumulator
// (§4.9): trapezoidal integration of instantaneous power samples into
// per-hour kWh buckets, keyed uniquely by (inverter_id, date, hour).
package energy

import (
	"time"
)

// Row is one completed hourly bucket, ready to upsert into
// TelemetryStore.upsert_hourly_energy.
type Row struct {
	InverterID      string
	Date            string // YYYY-MM-DD, local
	Hour            int    // 0-23, local
	SolarEnergyKWh  float64
	LoadEnergyKWh   float64
}

type sample struct {
	ts      time.Time
	pvW     float64
	loadW   float64
}

// bucket accumulates partial-hour kWh for one inverter until the hour
// completes.
type bucket struct {
	date   string
	hour   int
	solar  float64
	load   float64
}

// Accumulator maintains per-inverter running state across samples.
type Accumulator struct {
	loc     *time.Location
	last    map[string]sample
	current map[string]bucket
}

// New returns an Accumulator whose hour boundaries fall in loc.
func New(loc *time.Location) *Accumulator {
	return &Accumulator{
		loc:     loc,
		last:    make(map[string]sample),
		current: make(map[string]bucket),
	}
}

// Sample integrates one new (pv_w, load_w) reading for inverterID at
// ts using trapezoidal integration against the previous sample. It
// returns every hourly bucket this sample completed, in order; a gap
// spanning several hours completes several buckets at once.
func (a *Accumulator) Sample(inverterID string, ts time.Time, pvW, loadW float64) ([]Row, bool) {
	ts = ts.In(a.loc)
	prev, ok := a.last[inverterID]
	a.last[inverterID] = sample{ts: ts, pvW: pvW, loadW: loadW}
	if !ok {
		a.current[inverterID] = newBucket(ts)
		return nil, false
	}

	b, ok := a.current[inverterID]
	if !ok {
		b = newBucket(ts)
	}

	var completed []Row

	cur := prev
	for {
		hourEnd := endOfHour(cur.ts, a.loc)
		if ts.Before(hourEnd) {
			dt := ts.Sub(cur.ts).Hours()
			b.solar += (cur.pvW + pvW) / 2 * dt / 1000
			b.load += (cur.loadW + loadW) / 2 * dt / 1000
			break
		}
		// Interpolate power at the hour boundary and close out this
		// hour's bucket before continuing into the next.
		frac := hourEnd.Sub(cur.ts).Seconds() / ts.Sub(cur.ts).Seconds()
		pvAtBoundary := cur.pvW + (pvW-cur.pvW)*frac
		loadAtBoundary := cur.loadW + (loadW-cur.loadW)*frac
		dt := hourEnd.Sub(cur.ts).Hours()
		b.solar += (cur.pvW + pvAtBoundary) / 2 * dt / 1000
		b.load += (cur.loadW + loadAtBoundary) / 2 * dt / 1000

		completed = append(completed, Row{InverterID: inverterID, Date: b.date, Hour: b.hour, SolarEnergyKWh: b.solar, LoadEnergyKWh: b.load})

		cur = sample{ts: hourEnd, pvW: pvAtBoundary, loadW: loadAtBoundary}
		b = newBucket(hourEnd)
	}
	a.current[inverterID] = b
	return completed, len(completed) > 0
}

func newBucket(ts time.Time) bucket {
	return bucket{date: ts.Format("2006-01-02"), hour: ts.Hour()}
}

func endOfHour(ts time.Time, loc *time.Location) time.Time {
	return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), 0, 0, 0, loc).Add(time.Hour)
}

// Backfill materializes any completed hours from local midnight up to
// the last completed hour, for the one-time startup catch-up (§4.7).
// history supplies the closest available sample at or after each
// boundary; hours with no data are skipped.
func Backfill(loc *time.Location, now time.Time, history func(hour time.Time) (pvW, loadW float64, ok bool)) []Row {
	now = now.In(loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	var rows []Row
	for h := midnight; h.Before(now); h = h.Add(time.Hour) {
		pv, load, ok := history(h)
		if !ok {
			continue
		}
		nextPv, nextLoad, ok := history(h.Add(time.Hour))
		if !ok {
			continue
		}
		rows = append(rows, Row{
			Date:           h.Format("2006-01-02"),
			Hour:           h.Hour(),
			SolarEnergyKWh: (pv + nextPv) / 2 / 1000,
			LoadEnergyKWh:  (load + nextLoad) / 2 / 1000,
		})
	}
	return rows
}
