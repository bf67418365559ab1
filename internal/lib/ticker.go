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

package lib

import (
	"context"
	"time"
)

// Ticker fires a callback at a fixed interval, with an optional offset
// from the interval boundary (positive or negative). Unlike a plain
// time.Ticker, successive fires are aligned to interval boundaries rather
// than to the time the ticker was created, matching the teacher's
// lib.Ticker behaviour.
type Ticker struct {
	interval time.Duration
	offset   time.Duration
	fired    int
}

// NewTicker creates a ticker with the given interval and offset.
func NewTicker(interval, offset time.Duration) *Ticker {
	return &Ticker{interval: interval, offset: offset}
}

// Run blocks, invoking cb at each interval boundary until ctx is
// cancelled. The time passed to cb is the aligned target time, not
// time.Now(), so callbacks can detect drift.
func (t *Ticker) Run(ctx context.Context, cb func(time.Time)) {
	for {
		now := time.Now()
		target := now.Add(t.interval).Add(-t.offset).Truncate(t.interval).Add(t.offset)
		timer := time.NewTimer(target.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			t.fired++
			cb(target)
		}
	}
}

// Fired returns the number of times the ticker has fired, for status
// reporting.
func (t *Ticker) Fired() int {
	return t.fired
}
