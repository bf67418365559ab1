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

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("timezone: UTC\n"), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Polling.IntervalSecs != 2 {
		t.Errorf("interval_secs default = %d, want 2", c.Polling.IntervalSecs)
	}
	if c.Polling.Concurrent != 8 {
		t.Errorf("concurrent default = %d, want 8", c.Polling.Concurrent)
	}
	if c.Store.Driver != "sqlite" {
		t.Errorf("store driver default = %q, want sqlite", c.Store.Driver)
	}
	if c.Bus.Base != "solarhub" {
		t.Errorf("bus base default = %q, want solarhub", c.Bus.Base)
	}
	if c.Discovery.BackoffMultiplier != 2 {
		t.Errorf("backoff_multiplier default = %v, want 2", c.Discovery.BackoffMultiplier)
	}
}

func TestLoadClampsSmartTickInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("polling:\n  smart_tick_interval_secs: 5\n"), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Polling.SmartTickIntervalS != 30 {
		t.Errorf("expected clamp to 30s floor, got %d", c.Polling.SmartTickIntervalS)
	}
}

func TestPollIntervalConversion(t *testing.T) {
	p := PollingConfig{IntervalSecs: 5}
	if got := p.PollInterval().Seconds(); got != 5 {
		t.Errorf("PollInterval() = %v seconds, want 5", got)
	}
}
