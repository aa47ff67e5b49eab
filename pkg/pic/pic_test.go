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

package pic

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"tchaios.dev/kcore/pkg/cpu"
	"tchaios.dev/kcore/pkg/cpu/cputest"
)

const offset = 32

func w(port uint16, v uint8) cputest.PortWrite {
	return cputest.PortWrite{Port: cpu.Port(port), Value: v}
}

func TestInitialize(t *testing.T) {
	for _, tc := range []struct {
		name          string
		handled       Lines
		master, slave uint8
	}{
		{"timer and keyboard", LinesOf(IRQTimer, IRQKeyboard), 0xfc, 0xff},
		{"slave line unmasks cascade", LinesOf(IRQTimer, IRQKeyboard, 12), 0xf8, 0xef},
		{"nothing", 0, 0xff, 0xff},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := cputest.New()
			p := NewChained(offset)
			p.Initialize(m, tc.handled)

			want := []cputest.PortWrite{
				w(0x20, 0x11), w(0xa0, 0x11),
				w(0x21, 32), w(0xa1, 40),
				w(0x21, 4), w(0xa1, 2),
				w(0x21, 1), w(0xa1, 1),
				w(0x21, tc.master), w(0xa1, tc.slave),
			}
			if diff := cmp.Diff(want, m.Writes); diff != "" {
				t.Errorf("port writes mismatch (-want +got):\n%s", diff)
			}
			if m.IOWaits != 8 {
				t.Errorf("got %d I/O waits, want one per initialization word", m.IOWaits)
			}
		})
	}
}

func TestEnabledReadsMasks(t *testing.T) {
	m := cputest.New()
	p := NewChained(offset)
	m.Input[MasterData] = []uint8{0xf8}
	m.Input[SlaveData] = []uint8{0xef}
	if got, want := p.Enabled(m), LinesOf(0, 1, 2, 12); got != want {
		t.Errorf("Enabled() = %v, want %v", got, want)
	}
}

func TestNotifyEndOfInterrupt(t *testing.T) {
	for _, tc := range []struct {
		vector uint8
		want   []cputest.PortWrite
	}{
		{offset + IRQTimer, []cputest.PortWrite{w(0x20, 0x20)}},
		{offset + 7, []cputest.PortWrite{w(0x20, 0x20)}},
		{offset + 8, []cputest.PortWrite{w(0xa0, 0x20), w(0x20, 0x20)}},
		{offset + 15, []cputest.PortWrite{w(0xa0, 0x20), w(0x20, 0x20)}},
		{offset - 1, nil},
		{offset + 16, nil},
		{3, nil},
	} {
		m := cputest.New()
		p := NewChained(offset)
		p.NotifyEndOfInterrupt(m, tc.vector)
		if diff := cmp.Diff(tc.want, m.Writes); diff != "" {
			t.Errorf("vector %d: writes mismatch (-want +got):\n%s", tc.vector, diff)
		}
	}
}

func TestFilterSpurious(t *testing.T) {
	for _, tc := range []struct {
		name     string
		vector   uint8
		isr      map[uint16]uint8
		spurious bool
		want     []cputest.PortWrite
	}{
		{
			name:     "spurious irq 7",
			vector:   offset + 7,
			isr:      map[uint16]uint8{0x20: 0x00},
			spurious: true,
			want:     []cputest.PortWrite{w(0x20, 0x0b)},
		},
		{
			name:   "real irq 7",
			vector: offset + 7,
			isr:    map[uint16]uint8{0x20: 0x80},
			want:   []cputest.PortWrite{w(0x20, 0x0b)},
		},
		{
			name:     "spurious irq 15 acknowledges master",
			vector:   offset + 15,
			isr:      map[uint16]uint8{0xa0: 0x00},
			spurious: true,
			want:     []cputest.PortWrite{w(0xa0, 0x0b), w(0x20, 0x20)},
		},
		{
			name:   "real irq 15",
			vector: offset + 15,
			isr:    map[uint16]uint8{0xa0: 0x80},
			want:   []cputest.PortWrite{w(0xa0, 0x0b)},
		},
		{
			name:   "other lines are never spurious",
			vector: offset + IRQKeyboard,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := cputest.New()
			for port, v := range tc.isr {
				m.Input[cpu.Port(port)] = []uint8{v}
			}
			p := NewChained(offset)
			if got := p.FilterSpurious(m, tc.vector); got != tc.spurious {
				t.Errorf("FilterSpurious(%d) = %v, want %v", tc.vector, got, tc.spurious)
			}
			if diff := cmp.Diff(tc.want, m.Writes); diff != "" {
				t.Errorf("writes mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestInService(t *testing.T) {
	m := cputest.New()
	m.Input[MasterCommand] = []uint8{0x05}
	m.Input[SlaveCommand] = []uint8{0x10}
	p := NewChained(offset)
	if got, want := p.InService(m), LinesOf(0, 2, 12); got != want {
		t.Errorf("InService() = %v, want %v", got, want)
	}
}

func TestControllerRefusesInterruptsEnabled(t *testing.T) {
	m := cputest.New()
	c := NewController(m, offset)
	c.Initialize(LinesOf(IRQTimer))
	c.NotifyEndOfInterrupt(offset)

	m.Interrupts = true
	defer func() {
		if recover() == nil {
			t.Errorf("NotifyEndOfInterrupt with interrupts enabled did not panic")
		}
	}()
	c.NotifyEndOfInterrupt(offset)
}

func TestControllerVector(t *testing.T) {
	c := NewController(cputest.New(), offset)
	if got := c.Vector(IRQKeyboard); got != 33 {
		t.Errorf("Vector(IRQKeyboard) = %d, want 33", got)
	}
}
