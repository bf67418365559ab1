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

package bmsframe

import (
	"context"
	"io"
	"sync"
	"time"
)

// BankRecord is the per-battery-address decoded state a Sniffer holds.
type BankRecord struct {
	Status    *StatusFrame
	Config    *ConfigFrame
	UpdatedAt time.Time
}

// Sniffer holds the byte-source-agnostic core of the passive BMS
// decoding loop: feed bytes in, decode frames, cache per-battery state
// behind a mutex. Both the RS-485-serial variant and the
// TCP-bridge variant of the adapter wrap a Sniffer, differing only in
// how they open the byte source (§4.1 items 4 and 5).
type Sniffer struct {
	WrapUnit15   bool
	ConfigFields []FieldSpec

	scanner *Scanner

	mu      sync.Mutex
	current int
	banks   map[int]*BankRecord

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSniffer creates an idle Sniffer.
func NewSniffer(wrapUnit15 bool, fields []FieldSpec) *Sniffer {
	return &Sniffer{
		WrapUnit15:   wrapUnit15,
		ConfigFields: fields,
		scanner:      NewScanner(),
		banks:        make(map[int]*BankRecord),
	}
}

// Start launches the background reader loop over r. Stop must be called
// before Start is called again.
func (s *Sniffer) Start(r io.Reader) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.readLoop(ctx, r)
}

// Stop cancels the background reader and waits for it to exit.
func (s *Sniffer) Stop() {
	if s.cancel != nil {
		s.cancel()
		s.wg.Wait()
		s.cancel = nil
	}
}

// Banks returns a snapshot of the current per-battery-address records.
func (s *Sniffer) Banks() map[int]BankRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]BankRecord, len(s.banks))
	for k, v := range s.banks {
		out[k] = *v
	}
	return out
}

// Fresh reports whether any battery record has updated within window.
func (s *Sniffer) Fresh(window time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.banks {
		if time.Since(b.UpdatedAt) < window {
			return true
		}
	}
	return false
}

func (s *Sniffer) readLoop(ctx context.Context, r io.Reader) {
	defer s.wg.Done()
	buf := make([]byte, 256)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := r.Read(buf)
		if err != nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if n == 0 {
			continue
		}
		s.scanner.Feed(buf[:n])
		for {
			ev, ok := s.scanner.Next()
			if !ok {
				break
			}
			s.handleEvent(ev)
		}
	}
}

func (s *Sniffer) handleEvent(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case ev.Request != nil:
		if ev.Request.Function == FuncBatteryAddress {
			s.current = ev.Request.BatteryAddress(s.WrapUnit15)
		}
	case ev.Type == FrameTypeStatus:
		sf, ok := DecodeStatusFrame(ev.Payload)
		if !ok {
			return
		}
		rec := s.bankFor(s.current)
		rec.Status = sf
		rec.UpdatedAt = time.Now()
	case ev.Type == FrameTypeConfig:
		cf, ok := DecodeConfigFrame(ev.Payload, s.ConfigFields)
		if !ok {
			return
		}
		rec := s.bankFor(s.current)
		rec.Config = cf
		rec.UpdatedAt = time.Now()
	}
}

func (s *Sniffer) bankFor(addr int) *BankRecord {
	rec, ok := s.banks[addr]
	if !ok {
		rec = &BankRecord{}
		s.banks[addr] = rec
	}
	return rec
}
