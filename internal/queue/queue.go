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

// Package queue implements the CommandQueue (§4.5): a bounded FIFO of
// device-mutating commands, drained by a single worker that never
// overlaps a poll of the target adapter.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aamcrae/solarhub/internal/adapter"
)

// ErrFull is returned by Enqueue when the queue could not accept the
// command within the backpressure wait window.
var ErrFull = errors.New("command queue full")

// Command is one queued device mutation.
type Command struct {
	InverterID string
	Action     string // "write" | "write_many" | "inverter_config"
	Inner      adapter.Command
	Callback   func(adapter.CommandResult, error)
	Enqueued   time.Time
	RetryCount int
	MaxRetries int
}

// AdapterLookup resolves an inverter_id to its live adapter instance.
type AdapterLookup func(inverterID string) (adapter.Adapter, bool)

// Statistics is a point-in-time snapshot of queue activity.
type Statistics struct {
	QueueSize        int
	Processed        int
	Failed           int
	LastCommandTime  time.Time
}

var poison = Command{InverterID: "__poison__"}

// Queue is the bounded FIFO plus telemetry-slot arbitration.
type Queue struct {
	lookup          AdapterLookup
	pollInterval    time.Duration
	commandTimeout  time.Duration
	enqueueWait     time.Duration

	ch chan Command

	mu             sync.Mutex
	lastPollNotify map[string]time.Time
	stats          Statistics

	wg sync.WaitGroup
}

// New returns a Queue with the given bounded capacity.
func New(capacity int, lookup AdapterLookup, pollInterval time.Duration) *Queue {
	return &Queue{
		lookup:         lookup,
		pollInterval:   pollInterval,
		commandTimeout: 30 * time.Second,
		enqueueWait:    5 * time.Second,
		ch:             make(chan Command, capacity),
		lastPollNotify: make(map[string]time.Time),
	}
}

// NotifyTelemetryPolling records that a poll of deviceID has just
// started, used to compute the telemetry-slot gate.
func (q *Queue) NotifyTelemetryPolling(deviceID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lastPollNotify[deviceID] = time.Now()
}

// Enqueue adds a command, blocking up to the backpressure window if
// the queue is full; returns ErrFull if it never had room.
func (q *Queue) Enqueue(cmd Command) error {
	cmd.Enqueued = time.Now()
	select {
	case q.ch <- cmd:
		q.mu.Lock()
		q.stats.QueueSize = len(q.ch)
		q.mu.Unlock()
		return nil
	case <-time.After(q.enqueueWait):
		return ErrFull
	}
}

// Start launches the single draining worker.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go q.run(ctx)
}

// Stop enqueues a poison value and waits for the worker to drain its
// current command before exiting.
func (q *Queue) Stop() {
	q.ch <- poison
	q.wg.Wait()
}

// Clear drains all pending commands without executing them.
func (q *Queue) Clear() {
	for {
		select {
		case <-q.ch:
		default:
			return
		}
	}
}

// Statistics returns a snapshot of queue activity.
func (q *Queue) Statistics() Statistics {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.QueueSize = len(q.ch)
	return s
}

func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-q.ch:
			if cmd.InverterID == poison.InverterID {
				return
			}
			q.waitForSlot(cmd.InverterID)
			q.execute(ctx, cmd)
		}
	}
}

// waitForSlot blocks until at least 0.8x the poll interval has
// elapsed since the last notified poll of this device (§4.5/§5).
func (q *Queue) waitForSlot(deviceID string) {
	gate := time.Duration(float64(q.pollInterval) * 0.8)
	for {
		q.mu.Lock()
		last, ok := q.lastPollNotify[deviceID]
		q.mu.Unlock()
		if !ok {
			return
		}
		elapsed := time.Since(last)
		if elapsed >= gate {
			return
		}
		time.Sleep(gate - elapsed)
	}
}

func (q *Queue) execute(ctx context.Context, cmd Command) {
	a, ok := q.lookup(cmd.InverterID)
	if !ok {
		q.fail(cmd, errors.New("unknown inverter_id"))
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, q.commandTimeout)
	defer cancel()

	var result adapter.CommandResult
	var err error
	if cmd.Action == "inverter_config" && cmd.Inner.Handler != nil {
		result, err = cmd.Inner.Handler(cmd.Inner)
	} else {
		result, err = a.HandleCommand(opCtx, cmd.Inner)
	}

	if errors.Is(opCtx.Err(), context.DeadlineExceeded) && cmd.RetryCount < cmd.MaxRetries {
		cmd.RetryCount++
		_ = q.Enqueue(cmd)
		return
	}
	q.mu.Lock()
	q.stats.LastCommandTime = time.Now()
	if err != nil {
		q.stats.Failed++
	} else {
		q.stats.Processed++
	}
	q.mu.Unlock()
	if cmd.Callback != nil {
		cmd.Callback(result, err)
	}
}

func (q *Queue) fail(cmd Command, err error) {
	q.mu.Lock()
	q.stats.Failed++
	q.mu.Unlock()
	if cmd.Callback != nil {
		cmd.Callback(adapter.CommandResult{}, err)
	}
}
