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

package failover

import (
	"context"
	"errors"
	"testing"

	"github.com/aamcrae/solarhub/internal/adapter"
)

// fakeMember is a minimal adapter.Adapter whose Poll/Connect behavior is
// scripted per-call.
type fakeMember struct {
	name       string
	pollErr    error
	connectErr error
	polls      int
	closed     int
}

func (f *fakeMember) Connect(ctx context.Context) error { return f.connectErr }
func (f *fakeMember) Close() error                       { f.closed++; return nil }
func (f *fakeMember) CheckConnectivity(ctx context.Context) bool { return f.pollErr == nil }
func (f *fakeMember) ReadSerialNumber(ctx context.Context) (string, error) { return f.name, nil }
func (f *fakeMember) Poll(ctx context.Context) (adapter.Telemetry, error) {
	f.polls++
	if f.pollErr != nil {
		return adapter.Telemetry{}, f.pollErr
	}
	return adapter.Telemetry{Battery: &adapter.BatteryPoll{Value: f.name}}, nil
}
func (f *fakeMember) HandleCommand(ctx context.Context, cmd adapter.Command) (adapter.CommandResult, error) {
	return adapter.CommandResult{OK: true}, nil
}

func TestPollUsesPrimaryWhenHealthy(t *testing.T) {
	primary := &fakeMember{name: "primary"}
	backup := &fakeMember{name: "backup"}
	a := New([]adapter.Adapter{primary, backup})

	tel, err := a.Poll(context.Background())
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if tel.Battery.Value != "primary" {
		t.Errorf("expected the primary member to serve the poll, got %v", tel.Battery.Value)
	}
	if backup.polls != 0 {
		t.Errorf("backup should not have been polled")
	}
}

func TestPollAdvancesToBackupOnPrimaryFailure(t *testing.T) {
	primary := &fakeMember{name: "primary", pollErr: errors.New("transport down")}
	backup := &fakeMember{name: "backup"}
	a := New([]adapter.Adapter{primary, backup})

	tel, err := a.Poll(context.Background())
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if tel.Battery.Value != "backup" {
		t.Errorf("expected failover to the backup member, got %v", tel.Battery.Value)
	}
	info := a.CurrentAdapterInfo()
	if info.Index != 1 || info.FailoverCount != 1 {
		t.Errorf("expected failover count 1 at index 1, got %+v", info)
	}
}

func TestPollReturnsCachedTelemetryWhenAllMembersFail(t *testing.T) {
	primary := &fakeMember{name: "primary"}
	a := New([]adapter.Adapter{primary})
	if _, err := a.Poll(context.Background()); err != nil {
		t.Fatalf("seed poll: %v", err)
	}

	primary.pollErr = errors.New("now failing")
	tel, err := a.Poll(context.Background())
	if err != nil {
		t.Fatalf("expected the cached telemetry to be returned without error, got %v", err)
	}
	if tel.Battery.Value != "primary" {
		t.Errorf("expected the last-good cached value, got %v", tel.Battery.Value)
	}
}

func TestPollFailsWithNoCacheWhenEveryMemberFails(t *testing.T) {
	primary := &fakeMember{name: "primary", pollErr: errors.New("down")}
	a := New([]adapter.Adapter{primary})

	_, err := a.Poll(context.Background())
	if err == nil {
		t.Fatalf("expected an error when every member fails with no cached telemetry")
	}
}
