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

import "testing"

func TestNormalizeSerialUpcasesAndPads(t *testing.T) {
	cases := map[string]string{
		"ab12":     "00AB12",
		"ABCDEF12": "ABCDEF12",
		"a-b 12!":  "00AB12",
	}
	for in, want := range cases {
		if got := NormalizeSerial(in); got != want {
			t.Errorf("NormalizeSerial(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLast6(t *testing.T) {
	if got := Last6("ABCDEFGH"); got != "CDEFGH" {
		t.Errorf("Last6 = %q, want CDEFGH", got)
	}
	if got := Last6("AB"); got != "AB" {
		t.Errorf("Last6 of a short string should be unchanged, got %q", got)
	}
}

func TestDeviceID(t *testing.T) {
	if got := DeviceID("senergy", "sn12345678"); got != "senergy_345678" {
		t.Errorf("DeviceID = %q, want senergy_345678", got)
	}
}

func TestConfigOrDefault(t *testing.T) {
	if got := ConfigOrDefault(0, 5); got != 5 {
		t.Errorf("zero value should fall back to default, got %d", got)
	}
	if got := ConfigOrDefault(3, 5); got != 3 {
		t.Errorf("non-zero value should be kept, got %d", got)
	}
}
