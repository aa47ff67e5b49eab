// Copyright 2026 The tchaios Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bits

import "testing"

func TestMask(t *testing.T) {
	if got, want := Mask[uint8](0, 2, 7), uint8(0x85); got != want {
		t.Errorf("Mask(0, 2, 7) = %#x, want %#x", got, want)
	}
	if !IsOn[uint8](0x85, 0x05) {
		t.Errorf("IsOn(0x85, 0x05) = false")
	}
	if IsOn[uint8](0x85, 0x06) {
		t.Errorf("IsOn(0x85, 0x06) = true")
	}
	if !IsAnyOn[uint8](0x85, 0x06) {
		t.Errorf("IsAnyOn(0x85, 0x06) = false")
	}
}

func TestAlign(t *testing.T) {
	for _, tc := range []struct {
		v, align, up, down uint64
	}{
		{0, 4096, 0, 0},
		{1, 4096, 4096, 0},
		{4096, 4096, 4096, 4096},
		{0x1001, 0x1000, 0x2000, 0x1000},
		{0x3fffff, 0x200000, 0x400000, 0x200000},
	} {
		if got := AlignUp(tc.v, tc.align); got != tc.up {
			t.Errorf("AlignUp(%#x, %#x) = %#x, want %#x", tc.v, tc.align, got, tc.up)
		}
		if got := AlignDown(tc.v, tc.align); got != tc.down {
			t.Errorf("AlignDown(%#x, %#x) = %#x, want %#x", tc.v, tc.align, got, tc.down)
		}
	}
}

func TestLowestSet(t *testing.T) {
	for _, tc := range []struct {
		v    uint16
		want int
	}{
		{0, -1},
		{1, 0},
		{0x80, 7},
		{0x8100, 8},
	} {
		if got := LowestSet(tc.v); got != tc.want {
			t.Errorf("LowestSet(%#x) = %d, want %d", tc.v, got, tc.want)
		}
	}
	if IsPowerOfTwo[uint32](0) || !IsPowerOfTwo[uint32](4096) || IsPowerOfTwo[uint32](12) {
		t.Errorf("IsPowerOfTwo gave wrong answer")
	}
}
