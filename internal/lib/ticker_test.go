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
	"testing"
	"time"
)

func TestTickerFiresRepeatedlyUntilCancelled(t *testing.T) {
	ticker := NewTicker(20*time.Millisecond, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Millisecond)
	defer cancel()

	fires := 0
	ticker.Run(ctx, func(target time.Time) {
		fires++
	})

	if fires < 2 {
		t.Errorf("expected at least 2 fires in the window, got %d", fires)
	}
	if ticker.Fired() != fires {
		t.Errorf("Fired() = %d, want %d", ticker.Fired(), fires)
	}
}
