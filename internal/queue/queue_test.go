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

package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aamcrae/solarhub/internal/adapter"
)

// recordingAdapter satisfies adapter.Adapter and records the time of
// every HandleCommand call.
type recordingAdapter struct {
	mu     sync.Mutex
	called []time.Time
}

func (r *recordingAdapter) Connect(ctx context.Context) error         { return nil }
func (r *recordingAdapter) Close() error                              { return nil }
func (r *recordingAdapter) CheckConnectivity(ctx context.Context) bool { return true }
func (r *recordingAdapter) ReadSerialNumber(ctx context.Context) (string, error) {
	return "", nil
}
func (r *recordingAdapter) Poll(ctx context.Context) (adapter.Telemetry, error) {
	return adapter.Telemetry{}, nil
}
func (r *recordingAdapter) HandleCommand(ctx context.Context, cmd adapter.Command) (adapter.CommandResult, error) {
	r.mu.Lock()
	r.called = append(r.called, time.Now())
	r.mu.Unlock()
	return adapter.CommandResult{OK: true}, nil
}

func (r *recordingAdapter) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.called)
}

func TestQueueWaitsForTelemetrySlotBeforeExecuting(t *testing.T) {
	a := &recordingAdapter{}
	lookup := func(id string) (adapter.Adapter, bool) { return a, true }
	pollInterval := 100 * time.Millisecond
	q := New(8, lookup, pollInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	// Simulate a poll having just started: the command must not execute
	// until 0.8x the poll interval has elapsed since this notification.
	q.NotifyTelemetryPolling("inv1")
	enqueuedAt := time.Now()
	if err := q.Enqueue(Command{InverterID: "inv1", Action: "write", Inner: adapter.Command{Action: "write", ID: "x", Value: 1}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for a.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatalf("command never executed")
		case <-time.After(10 * time.Millisecond):
		}
	}

	a.mu.Lock()
	executedAt := a.called[0]
	a.mu.Unlock()
	gap := executedAt.Sub(enqueuedAt)
	wantMin := time.Duration(float64(pollInterval) * 0.8 * 0.9) // small tolerance
	if gap < wantMin {
		t.Errorf("command executed after %v, expected to wait at least ~%v for the telemetry slot gate", gap, wantMin)
	}
}

func TestQueueFailsUnknownInverter(t *testing.T) {
	lookup := func(id string) (adapter.Adapter, bool) { return nil, false }
	q := New(8, lookup, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	done := make(chan error, 1)
	cmd := Command{
		InverterID: "ghost",
		Action:     "write",
		Callback: func(res adapter.CommandResult, err error) {
			done <- err
		},
	}
	if err := q.Enqueue(cmd); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case err := <-done:
		if err == nil {
			t.Errorf("expected an error for an unknown inverter_id")
		}
	case <-time.After(time.Second):
		t.Fatalf("callback never invoked")
	}
}
