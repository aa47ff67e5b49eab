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

// Package pic drives a pair of cascaded 8259 programmable interrupt
// controllers.
package pic

import (
	"fmt"

	"tchaios.dev/kcore/pkg/bits"
	"tchaios.dev/kcore/pkg/cpu"
)

// Controller ports.
const (
	MasterCommand cpu.Port = 0x20
	MasterData    cpu.Port = 0x21
	SlaveCommand  cpu.Port = 0xa0
	SlaveData     cpu.Port = 0xa1
)

// Command bytes.
const (
	// ICW1: edge triggered, cascaded, ICW4 follows.
	cmdInit = 0x11

	// ICW4: 8086 mode.
	mode8086 = 0x01

	// OCW2: non-specific end of interrupt.
	cmdEndOfInterrupt = 0x20

	// OCW3: next command port read returns the in-service register.
	cmdReadISR = 0x0b
)

// IRQ lines.
const (
	IRQTimer    = 0
	IRQKeyboard = 1

	// IRQCascade is the master line the slave is wired to.
	IRQCascade = 2

	// IRQSpuriousMaster and IRQSpuriousSlave are the lowest-priority lines,
	// which each chip raises for spurious interrupts.
	IRQSpuriousMaster = 7
	IRQSpuriousSlave  = 15

	// NumLines is the number of lines across both chips.
	NumLines = 16
)

// Lines is a set of IRQ lines, one bit per line.
type Lines uint16

// LinesOf returns the set containing irqs.
func LinesOf(irqs ...int) Lines {
	return bits.Mask[Lines](irqs...)
}

// Has returns true if irq is in the set.
func (l Lines) Has(irq int) bool {
	return bits.IsOn(l, bits.MaskOf[Lines](irq))
}

func (l Lines) String() string {
	return fmt.Sprintf("%#04x", uint16(l))
}

// chip is one 8259.
type chip struct {
	offset  uint8
	command cpu.Port
	data    cpu.Port
}

// handles returns true if vector is one of this chip's eight vectors.
func (c *chip) handles(vector uint8) bool {
	return c.offset <= vector && vector < c.offset+8
}

func (c *chip) endOfInterrupt(m cpu.Machine) {
	m.Out8(c.command, cmdEndOfInterrupt)
}

func (c *chip) inService(m cpu.Machine) uint8 {
	m.Out8(c.command, cmdReadISR)
	return m.In8(c.command)
}

// Chained is a master 8259 with a slave on IRQCascade.
//
// It holds no port state beyond the vector offsets; all access is through
// the machine passed to each method. Callers serialize access.
type Chained struct {
	master chip
	slave  chip
}

// NewChained returns controllers that will map IRQ 0-7 to offset..offset+7
// and IRQ 8-15 to the eight vectors after them. Nothing is written until
// Initialize.
func NewChained(offset uint8) Chained {
	return Chained{
		master: chip{offset: offset, command: MasterCommand, data: MasterData},
		slave:  chip{offset: offset + 8, command: SlaveCommand, data: SlaveData},
	}
}

// Offset returns the vector of IRQ 0.
func (p *Chained) Offset() uint8 {
	return p.master.offset
}

// Vector returns the vector irq is delivered on.
func (p *Chained) Vector(irq int) uint8 {
	return p.master.offset + uint8(irq)
}

// HandlesInterrupt returns true if vector belongs to either chip.
func (p *Chained) HandlesInterrupt(vector uint8) bool {
	return p.master.handles(vector) || p.slave.handles(vector)
}

// Initialize remaps both chips and unmasks only the handled lines. The
// cascade line is unmasked whenever a slave line is handled.
//
// Older chipsets need time between writes, so each write is followed by an
// I/O wait.
func (p *Chained) Initialize(m cpu.Machine, handled Lines) {
	write := func(port cpu.Port, v uint8) {
		m.Out8(port, v)
		cpu.IOWait(m)
	}

	// ICW1.
	write(p.master.command, cmdInit)
	write(p.slave.command, cmdInit)

	// ICW2: vector offsets.
	write(p.master.data, p.master.offset)
	write(p.slave.data, p.slave.offset)

	// ICW3: slave on line 2; slave cascade identity 2.
	write(p.master.data, 1<<IRQCascade)
	write(p.slave.data, IRQCascade)

	// ICW4.
	write(p.master.data, mode8086)
	write(p.slave.data, mode8086)

	p.SetEnabled(m, handled)
}

// SetEnabled writes the interrupt masks so that exactly enabled (plus the
// cascade line, if any slave line is enabled) are unmasked.
func (p *Chained) SetEnabled(m cpu.Machine, enabled Lines) {
	if enabled>>8 != 0 {
		enabled |= LinesOf(IRQCascade)
	}
	masked := ^enabled
	m.Out8(p.master.data, uint8(masked))
	m.Out8(p.slave.data, uint8(masked>>8))
}

// Enabled reads back the unmasked lines.
func (p *Chained) Enabled(m cpu.Machine) Lines {
	masked := Lines(m.In8(p.master.data)) | Lines(m.In8(p.slave.data))<<8
	return ^masked
}

// NotifyEndOfInterrupt acknowledges vector. Slave vectors need an EOI on
// both chips. Vectors outside both chips are ignored.
func (p *Chained) NotifyEndOfInterrupt(m cpu.Machine, vector uint8) {
	if !p.HandlesInterrupt(vector) {
		return
	}
	if p.slave.handles(vector) {
		p.slave.endOfInterrupt(m)
	}
	p.master.endOfInterrupt(m)
}

// InService returns the in-service registers of both chips.
func (p *Chained) InService(m cpu.Machine) Lines {
	return Lines(p.master.inService(m)) | Lines(p.slave.inService(m))<<8
}

// FilterSpurious returns true if vector is a spurious IRQ 7 or IRQ 15, that
// is, the chip raised it but has nothing in service on that line.
//
// A spurious IRQ 7 must not be acknowledged. A spurious IRQ 15 still needs
// an EOI to the master, which did see a real request on the cascade line;
// that is sent here.
func (p *Chained) FilterSpurious(m cpu.Machine, vector uint8) bool {
	switch vector {
	case p.Vector(IRQSpuriousMaster):
		return p.master.inService(m)&(1<<7) == 0
	case p.Vector(IRQSpuriousSlave):
		if p.slave.inService(m)&(1<<7) != 0 {
			return false
		}
		p.master.endOfInterrupt(m)
		return true
	}
	return false
}
