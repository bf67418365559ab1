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

package recovery

import (
	"testing"
	"time"

	"github.com/aamcrae/solarhub/internal/registry"
)

func TestBackoffGrowsExponentiallyAndCaps(t *testing.T) {
	reg := registry.New()
	reg.Create(&registry.Entry{DeviceID: "inv1"})
	m := New(reg, nil, Options{
		InitialRetryMinutes: 1,
		MaxRetryMinutes:     10,
		BackoffMultiplier:   2,
		MaxFailures:         100,
	})

	e, _ := reg.Get("inv1")
	e.FailureCount = 1
	before := time.Now()
	m.backoff(e)
	e, _ = reg.Get("inv1")
	gotDelay := e.NextRetryTime.Sub(before)
	if gotDelay < 50*time.Second || gotDelay > 70*time.Second {
		t.Errorf("first backoff ~= 1 minute, got %v", gotDelay)
	}

	e.FailureCount = 4 // exponent 3: 1 * 2^3 = 8 minutes
	before = time.Now()
	m.backoff(e)
	e, _ = reg.Get("inv1")
	gotDelay = e.NextRetryTime.Sub(before)
	if gotDelay < 7*time.Minute+30*time.Second || gotDelay > 8*time.Minute+30*time.Second {
		t.Errorf("backoff at failure_count=4 ~= 8 minutes, got %v", gotDelay)
	}

	e.FailureCount = 10 // would exceed max_retry_minutes, must cap at 10
	before = time.Now()
	m.backoff(e)
	e, _ = reg.Get("inv1")
	gotDelay = e.NextRetryTime.Sub(before)
	if gotDelay < 9*time.Minute+30*time.Second || gotDelay > 10*time.Minute+30*time.Second {
		t.Errorf("backoff should cap at max_retry_minutes=10, got %v", gotDelay)
	}
}

func TestBackoffPermanentlyDisablesAtMaxFailures(t *testing.T) {
	reg := registry.New()
	reg.Create(&registry.Entry{DeviceID: "inv1"})
	m := New(reg, nil, Options{
		InitialRetryMinutes: 1,
		MaxRetryMinutes:     60,
		BackoffMultiplier:   2,
		MaxFailures:         3,
	})
	e, _ := reg.Get("inv1")
	e.FailureCount = 2 // 2+1 >= MaxFailures(3)
	m.backoff(e)

	e, _ = reg.Get("inv1")
	if e.Status != registry.StatusPermanentlyDisabled {
		t.Errorf("expected permanently_disabled once failure_count reaches max_failures, got %s", e.Status)
	}
}
