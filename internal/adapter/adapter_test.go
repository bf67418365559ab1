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

package adapter

import "testing"

func TestRegisterAndNewRoundTrip(t *testing.T) {
	Register("test_stub_type", func(cfg any) (Adapter, error) {
		return nil, nil
	})
	if _, err := New("test_stub_type", nil); err != nil {
		t.Errorf("expected a registered factory to be found, got %v", err)
	}
}

func TestNewUnknownTypeFails(t *testing.T) {
	if _, err := New("no_such_adapter_type", nil); err == nil {
		t.Errorf("expected an error for an unregistered adapter type")
	}
}

func TestTypesListsRegistered(t *testing.T) {
	Register("test_stub_type_2", func(cfg any) (Adapter, error) { return nil, nil })
	found := false
	for _, name := range Types() {
		if name == "test_stub_type_2" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected Types() to include a freshly registered adapter type")
	}
}
