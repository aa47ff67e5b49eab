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
	"fmt"

	"tchaios.dev/kcore/pkg/cpu"
	"tchaios.dev/kcore/pkg/ring0"
)

// class is an exception class for double fault detection.
type class int

const (
	benign class = iota
	contributory
	pageFault
	doubleFault
)

func classOf(vector uint8, external bool) class {
	if external {
		return benign
	}
	switch ring0.Vector(vector) {
	case ring0.DivideByZero, ring0.InvalidTSS, ring0.SegmentNotPresent,
		ring0.StackSegmentFault, ring0.GeneralProtectionFault:
		return contributory
	case ring0.PageFault:
		return pageFault
	case ring0.DoubleFault:
		return doubleFault
	}
	return benign
}

// fault is an exception raised while delivering another event.
type fault struct {
	vector ring0.Vector
	code   uint64

	// addr is loaded into CR2 for page faults.
	addr uint64
}

func (f *fault) String() string {
	if f.vector == ring0.PageFault {
		return fmt.Sprintf("%v at %#x (error code %#x)", f.vector, f.addr, f.code)
	}
	return fmt.Sprintf("%v (error code %#x)", f.vector, f.code)
}

// Size of the frame pushed on delivery: SS, RSP, RFLAGS, CS, RIP and the
// error code.
const frameSize = 6 * 8

// raise delivers an exception.
func (m *Machine) raise(f *fault) {
	if f.vector == ring0.PageFault {
		m.cr2 = f.addr
	}
	m.deliver(uint8(f.vector), f.code, false)
}

// deliver transfers control through the IDT to the handler for vector, and
// returns when the handler returns, as iretq would.
func (m *Machine) deliver(vector uint8, code uint64, external bool) {
	gate, f := m.gate(vector)
	var sp uint64
	if f == nil {
		sp, f = m.handlerStack(gate)
	}
	if f != nil {
		m.escalate(vector, external, f)
		return
	}
	if off := gate.Offset(); off != m.EntryPoint(vector) {
		m.stop(fmt.Errorf("%w: vector %d jumps to %#x", ErrBadGate, vector, off))
	}

	frame := cpu.InterruptFrame{
		InstructionPointer: m.rip,
		CodeSegment:        uint64(m.segs[cpu.CS]),
		CPUFlags:           m.flags(),
		StackPointer:       m.rsp,
		StackSegment:       uint64(m.segs[cpu.SS]),
	}
	m.rsp = sp&^15 - frameSize
	m.rip = gate.Offset()
	if gate.IsInterruptGate() {
		m.interrupts.Store(false)
	}
	m.delivered.Add(1)

	m.entry(vector, &frame, code)

	m.rip = frame.InstructionPointer
	m.rsp = frame.StackPointer
	m.interrupts.Store(frame.CPUFlags&cpu.FlagInterrupt != 0)
}

func (m *Machine) flags() uint64 {
	f := uint64(cpu.FlagReserved)
	if m.interrupts.Load() {
		f |= cpu.FlagInterrupt
	}
	return f
}

// idtFault is the error code for a fault on IDT entry vector.
func idtFault(vector uint8) uint64 {
	return uint64(vector)<<3 | 2
}

// gate reads and checks the gate for vector.
func (m *Machine) gate(vector uint8) (ring0.Gate64, *fault) {
	end := 16*uint64(vector) + 15
	if m.entry == nil || end > uint64(m.idt.Limit) {
		return ring0.Gate64{}, &fault{vector: ring0.GeneralProtectionFault, code: idtFault(vector)}
	}
	g := readGate(m.idt.Base + 16*uint64(vector))
	switch {
	case !g.Present():
		return g, &fault{vector: ring0.SegmentNotPresent, code: idtFault(vector)}
	case g.Type() != 14 && g.Type() != 15:
		return g, &fault{vector: ring0.GeneralProtectionFault, code: idtFault(vector)}
	}
	if d, ok := m.descriptor(uint16(g.Selector())); !ok || !d.IsCode64() {
		return g, &fault{vector: ring0.GeneralProtectionFault, code: uint64(g.Selector() &^ 3)}
	}
	return g, nil
}

// handlerStack returns the stack the handler runs on, after checking that
// the frame can be pushed there.
func (m *Machine) handlerStack(g ring0.Gate64) (uint64, *fault) {
	sp := m.rsp
	if ist := g.IST(); ist != 0 {
		tss, ok := m.taskState()
		if !ok || tss.IST(ist-1) == 0 {
			return 0, &fault{vector: ring0.InvalidTSS, code: uint64(m.tr &^ 3)}
		}
		sp = tss.IST(ist - 1)
	}
	if f := m.checkStack(sp&^15 - frameSize); f != nil {
		return 0, f
	}
	return sp, nil
}

// escalate handles f, raised while delivering vector. A second fault during
// a contributory exception or a page fault is a double fault; any fault
// while delivering a double fault resets the machine.
func (m *Machine) escalate(vector uint8, external bool, f *fault) {
	first, second := classOf(vector, external), classOf(uint8(f.vector), false)
	switch {
	case first == doubleFault:
		m.log.Warningf("triple fault: %v while delivering a double fault", f)
		m.stop(fmt.Errorf("%w: %v", ErrTripleFault, f))
	case first == benign, second == benign, first == contributory && second == pageFault:
		m.raise(f)
	default:
		m.deliver(uint8(ring0.DoubleFault), 0, false)
	}
}
