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

// Package kbd decodes PS/2 scancode set 1 into keys for a US layout.
package kbd

import (
	"fmt"

	"tchaios.dev/kcore/pkg/cpu"
)

// PS/2 controller ports.
const (
	DataPort   cpu.Port = 0x60
	StatusPort cpu.Port = 0x64
)

// RawKey identifies a key with no character.
type RawKey uint8

// Raw keys.
const (
	NoRawKey RawKey = iota
	Escape
	F1
	F2
	F3
	F4
	F5
	F6
	F7
	F8
	F9
	F10
	F11
	F12
	ArrowUp
	ArrowDown
	ArrowLeft
	ArrowRight
	Home
	End
	PageUp
	PageDown
	Insert
	Delete
	CapsLock
	NumLock
	ScrollLock
)

var rawKeyNames = [...]string{
	NoRawKey:   "None",
	Escape:     "Escape",
	F1:         "F1",
	F2:         "F2",
	F3:         "F3",
	F4:         "F4",
	F5:         "F5",
	F6:         "F6",
	F7:         "F7",
	F8:         "F8",
	F9:         "F9",
	F10:        "F10",
	F11:        "F11",
	F12:        "F12",
	ArrowUp:    "ArrowUp",
	ArrowDown:  "ArrowDown",
	ArrowLeft:  "ArrowLeft",
	ArrowRight: "ArrowRight",
	Home:       "Home",
	End:        "End",
	PageUp:     "PageUp",
	PageDown:   "PageDown",
	Insert:     "Insert",
	Delete:     "Delete",
	CapsLock:   "CapsLock",
	NumLock:    "NumLock",
	ScrollLock: "ScrollLock",
}

// String implements fmt.Stringer.String.
func (r RawKey) String() string {
	if int(r) < len(rawKeyNames) {
		return rawKeyNames[r]
	}
	return fmt.Sprintf("RawKey(%d)", uint8(r))
}

// Key is a decoded key press: either a character or a raw key.
type Key struct {
	Char rune
	Raw  RawKey
}

// IsChar returns true if k produces a character.
func (k Key) IsChar() bool {
	return k.Raw == NoRawKey
}

// String implements fmt.Stringer.String.
func (k Key) String() string {
	if k.IsChar() {
		return string(k.Char)
	}
	return k.Raw.String()
}

// Set 1 make codes with special meaning.
const (
	codeExtended   = 0xe0
	codeLeftShift  = 0x2a
	codeRightShift = 0x36
	codeCtrl       = 0x1d
	codeAlt        = 0x38
	codeCapsLock   = 0x3a
	codeNumLock    = 0x45
	codeScroll     = 0x46
	releaseBit     = 0x80
)

// US layout, unshifted and shifted, indexed by make code.
var (
	usMap = [0x3a]rune{
		0, 0, '1', '2', '3', '4', '5', '6', '7', '8', '9', '0', '-', '=', '\b',
		'\t', 'q', 'w', 'e', 'r', 't', 'y', 'u', 'i', 'o', 'p', '[', ']', '\n',
		0, 'a', 's', 'd', 'f', 'g', 'h', 'j', 'k', 'l', ';', '\'', '`',
		0, '\\', 'z', 'x', 'c', 'v', 'b', 'n', 'm', ',', '.', '/', 0,
		'*', 0, ' ',
	}
	usShiftMap = [0x3a]rune{
		0, 0, '!', '@', '#', '$', '%', '^', '&', '*', '(', ')', '_', '+', '\b',
		'\t', 'Q', 'W', 'E', 'R', 'T', 'Y', 'U', 'I', 'O', 'P', '{', '}', '\n',
		0, 'A', 'S', 'D', 'F', 'G', 'H', 'J', 'K', 'L', ':', '"', '~',
		0, '|', 'Z', 'X', 'C', 'V', 'B', 'N', 'M', '<', '>', '?', 0,
		'*', 0, ' ',
	}
)

// keypad maps make codes 0x47..0x53 with num lock on.
var keypad = [...]rune{'7', '8', '9', '-', '4', '5', '6', '+', '1', '2', '3', '0', '.'}

// keypadRaw is the same range with num lock off.
var keypadRaw = [...]RawKey{Home, ArrowUp, PageUp, NoRawKey, ArrowLeft, NoRawKey, ArrowRight, NoRawKey, End, ArrowDown, PageDown, Insert, Delete}

// extendedRaw maps make codes after an 0xe0 prefix.
var extendedRaw = map[uint8]RawKey{
	0x47: Home,
	0x48: ArrowUp,
	0x49: PageUp,
	0x4b: ArrowLeft,
	0x4d: ArrowRight,
	0x4f: End,
	0x50: ArrowDown,
	0x51: PageDown,
	0x52: Insert,
	0x53: Delete,
}

// Decoder turns a stream of scancode bytes into key presses. Control
// combinations are not interpreted: Ctrl+C decodes as 'c'.
//
// The zero value is ready to use.
type Decoder struct {
	extended bool
	shift    [2]bool
	ctrl     bool
	alt      bool
	capsLock bool
	numLock  bool
}

// Feed consumes one scancode byte. It returns a key and true when the byte
// completes a key press; releases, modifiers and prefixes return false.
func (d *Decoder) Feed(b uint8) (Key, bool) {
	if b == codeExtended {
		d.extended = true
		return Key{}, false
	}
	extended := d.extended
	d.extended = false

	code, released := b&^releaseBit, b&releaseBit != 0

	switch code {
	case codeLeftShift, codeRightShift:
		if extended {
			// Fake shifts sent around extended keys.
			return Key{}, false
		}
		if code == codeLeftShift {
			d.shift[0] = !released
		} else {
			d.shift[1] = !released
		}
		return Key{}, false
	case codeCtrl:
		d.ctrl = !released
		return Key{}, false
	case codeAlt:
		d.alt = !released
		return Key{}, false
	}
	if released {
		return Key{}, false
	}

	if extended {
		if r, ok := extendedRaw[code]; ok {
			return Key{Raw: r}, true
		}
		switch code {
		case 0x1c:
			return Key{Char: '\n'}, true
		case 0x35:
			return Key{Char: '/'}, true
		}
		return Key{}, false
	}

	switch {
	case code == 0x01:
		return Key{Raw: Escape}, true
	case code == codeCapsLock:
		d.capsLock = !d.capsLock
		return Key{Raw: CapsLock}, true
	case code == codeNumLock:
		d.numLock = !d.numLock
		return Key{Raw: NumLock}, true
	case code == codeScroll:
		return Key{Raw: ScrollLock}, true
	case code >= 0x3b && code <= 0x44:
		return Key{Raw: F1 + RawKey(code-0x3b)}, true
	case code == 0x57:
		return Key{Raw: F11}, true
	case code == 0x58:
		return Key{Raw: F12}, true
	case code >= 0x47 && code <= 0x53:
		i := code - 0x47
		if d.numLock {
			return Key{Char: keypad[i]}, true
		}
		if r := keypadRaw[i]; r != NoRawKey {
			return Key{Raw: r}, true
		}
		return Key{Char: keypad[i]}, true
	case int(code) < len(usMap):
		return d.char(code)
	}
	return Key{}, false
}

func (d *Decoder) char(code uint8) (Key, bool) {
	shift := d.shift[0] || d.shift[1]
	c := usMap[code]
	if c == 0 {
		return Key{}, false
	}
	if c >= 'a' && c <= 'z' && d.capsLock {
		shift = !shift
	}
	if shift {
		c = usShiftMap[code]
	}
	return Key{Char: c}, true
}

// Modifiers reports the modifier keys currently held.
func (d *Decoder) Modifiers() (shift, ctrl, alt bool) {
	return d.shift[0] || d.shift[1], d.ctrl, d.alt
}
