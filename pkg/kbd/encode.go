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

package kbd

// Encode returns the set 1 scancodes a US keyboard sends for typing r:
// make and break codes, wrapped in a shift press if r needs one. Terminal
// conventions are honoured: carriage return is Enter, DEL is Backspace and
// ESC is Escape.
func Encode(r rune) ([]uint8, bool) {
	switch r {
	case '\r':
		r = '\n'
	case 0x7f:
		r = '\b'
	case 0x1b:
		return []uint8{0x01, 0x01 | releaseBit}, true
	}
	for code, c := range usMap {
		if c == r {
			return []uint8{uint8(code), uint8(code) | releaseBit}, true
		}
	}
	for code, c := range usShiftMap {
		if c == r {
			return []uint8{codeLeftShift, uint8(code), uint8(code) | releaseBit, codeLeftShift | releaseBit}, true
		}
	}
	return nil, false
}
