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

package sim

import (
	"tchaios.dev/kcore/pkg/bits"
	"tchaios.dev/kcore/pkg/cpu"
	"tchaios.dev/kcore/pkg/sync"
)

// chip8259 is the register state of one 8259A.
type chip8259 struct {
	offset uint8
	imr    uint8
	irr    uint8
	isr    uint8

	// icw is the next initialization word expected: 2, 3 or 4, or 0 when
	// the chip is operational.
	icw     int
	icw4    bool
	readISR bool
}

func newChip8259() chip8259 {
	// Firmware leaves every line masked.
	return chip8259{imr: 0xff}
}

func (c *chip8259) writeCommand(v uint8) {
	switch {
	case v&0x10 != 0:
		// ICW1 restarts initialization.
		*c = chip8259{icw: 2, icw4: v&0x01 != 0}
	case v&0x18 == 0x08:
		// OCW3.
		if v&0x02 != 0 {
			c.readISR = v&0x01 != 0
		}
	case v&0xe0 == 0x20:
		// Non-specific EOI clears the highest priority in-service line.
		if line := bits.LowestSet(c.isr); line >= 0 {
			c.isr &^= 1 << line
		}
	case v&0xe0 == 0x60:
		// Specific EOI.
		c.isr &^= 1 << (v & 7)
	}
}

func (c *chip8259) writeData(v uint8) {
	switch c.icw {
	case 2:
		c.offset = v &^ 7
		c.icw = 3
	case 3:
		c.icw = 0
		if c.icw4 {
			c.icw = 4
		}
	case 4:
		c.icw = 0
	default:
		c.imr = v
	}
}

func (c *chip8259) readCommand() uint8 {
	if c.readISR {
		return c.isr
	}
	return c.irr
}

// highest returns the highest priority line requested in req that is not
// blocked by an in-service line of equal or higher priority.
func (c *chip8259) highest(req uint8) (int, bool) {
	line := bits.LowestSet(req)
	if line < 0 {
		return 0, false
	}
	if c.isr&uint8(1<<(line+1)-1) != 0 {
		return 0, false
	}
	return line, true
}

// pics is the emulated master/slave pair. Devices raise lines from their own
// goroutines; the processor acknowledges and accesses ports.
type pics struct {
	mu     sync.Mutex
	master chip8259
	slave  chip8259

	// spurious holds a line (7 or 15) to be signalled without a request.
	spurious int
}

func newPICs() *pics {
	return &pics{master: newChip8259(), slave: newChip8259(), spurious: -1}
}

const cascadeLine = 2

func (p *pics) raise(irq int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if irq < 8 {
		p.master.irr |= 1 << irq
	} else {
		p.slave.irr |= 1 << (irq - 8)
	}
}

func (p *pics) raiseSpurious(irq int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.spurious = irq
}

// slaveRequest returns the slave's deliverable line.
func (p *pics) slaveRequest() (int, bool) {
	return p.slave.highest(p.slave.irr &^ p.slave.imr)
}

// acknowledge performs an INTA cycle, returning the vector to deliver.
func (p *pics) acknowledge() (uint8, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.spurious {
	case 7:
		p.spurious = -1
		return p.master.offset + 7, true
	case 15:
		// The master saw a real request on the cascade line.
		p.spurious = -1
		p.master.isr |= 1 << cascadeLine
		return p.slave.offset + 7, true
	}

	req := p.master.irr &^ p.master.imr
	if _, ok := p.slaveRequest(); ok && p.master.imr&(1<<cascadeLine) == 0 {
		req |= 1 << cascadeLine
	}
	line, ok := p.master.highest(req)
	if !ok {
		return 0, false
	}
	p.master.isr |= 1 << line
	if line != cascadeLine {
		p.master.irr &^= 1 << line
		return p.master.offset + uint8(line), true
	}
	sline, _ := p.slaveRequest()
	p.slave.irr &^= 1 << sline
	p.slave.isr |= 1 << sline
	return p.slave.offset + uint8(sline), true
}

func (p *pics) in(port cpu.Port) uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch port {
	case 0x20:
		return p.master.readCommand()
	case 0x21:
		return p.master.imr
	case 0xa0:
		return p.slave.readCommand()
	default:
		return p.slave.imr
	}
}

func (p *pics) out(port cpu.Port, v uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch port {
	case 0x20:
		p.master.writeCommand(v)
	case 0x21:
		p.master.writeData(v)
	case 0xa0:
		p.slave.writeCommand(v)
	default:
		p.slave.writeData(v)
	}
}

// state returns the master and slave registers, for tests and status.
func (p *pics) state() (master, slave chip8259) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.master, p.slave
}
