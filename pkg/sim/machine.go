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

// Package sim is a hosted x86-64 machine: a software processor, physical
// memory, a pair of 8259s, a timer and a keyboard, plus a boot loader that
// prepares them the way firmware would.
//
// One goroutine is the processor. It enters the kernel through Run and
// receives interrupts only at instruction boundaries it reaches through the
// cpu.Machine methods: enabling interrupts, halting, int3 and faulting
// memory accesses. Devices run on their own goroutines and only latch
// requests into the interrupt controllers.
package sim

import (
	"errors"
	"fmt"
	"runtime"

	"tchaios.dev/kcore/pkg/atomicbitops"
	"tchaios.dev/kcore/pkg/cpu"
	"tchaios.dev/kcore/pkg/hostarch"
	"tchaios.dev/kcore/pkg/log"
	"tchaios.dev/kcore/pkg/ring0"
	"tchaios.dev/kcore/pkg/sync"
)

// Reasons the processor stopped, returned by Run.
var (
	ErrHalted      = errors.New("processor halted with interrupts disabled")
	ErrTripleFault = errors.New("triple fault")
	ErrBadGate     = errors.New("gate does not target an entry stub")
)

// Stats are counters maintained by the machine.
type Stats struct {
	Halts       uint64
	Delivered   uint64
	TLBFlushes  uint64
	TimerTicks  uint64
	DroppedKeys uint64
}

// Machine is a hosted machine. It implements cpu.Machine.
type Machine struct {
	mem    *Memory
	layout Layout
	log    log.Logger

	pics *pics
	kbd  keyboard

	// wake is signalled when a device raises a line.
	wake chan struct{}

	powerOff     chan struct{}
	powerOffOnce sync.Once

	// stopErr is written once, before stopped is closed.
	stopped  chan struct{}
	stopOnce sync.Once
	stopErr  error

	// Processor state. Only the processor goroutine touches these.
	interrupts atomicbitops.Bool
	cr2        uint64
	cr3        uint64
	gdt        cpu.DescriptorPointer
	idt        cpu.DescriptorPointer
	entry      cpu.TrapEntry
	tr         uint16
	segs       [cpu.NumSegmentRegisters]uint16
	rip        uint64
	rsp        uint64

	halts      atomicbitops.Uint64
	delivered  atomicbitops.Uint64
	flushes    atomicbitops.Uint64
	timerTicks atomicbitops.Uint64
}

var _ cpu.Machine = (*Machine)(nil)

func newMachine(mem *Memory, layout Layout, l log.Logger) *Machine {
	return &Machine{
		mem:      mem,
		layout:   layout,
		log:      l,
		pics:     newPICs(),
		wake:     make(chan struct{}, 1),
		powerOff: make(chan struct{}),
		stopped:  make(chan struct{}),
		rip:      uint64(layout.KernelBase) + hostarch.PageSize,
		rsp:      uint64(layout.StackTop()),
	}
}

// Memory returns the machine's physical memory.
func (m *Machine) Memory() *Memory {
	return m.mem
}

// Layout returns the layout the machine was loaded with.
func (m *Machine) Layout() Layout {
	return m.layout
}

// Run runs f as the processor on a new goroutine and returns once the
// processor stops: f returns, the processor halts with interrupts
// disabled, the machine triple faults or it is powered off while halted.
// The returned error is the reason, or nil.
func (m *Machine) Run(f func()) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		f()
		m.finish(nil)
	}()
	<-done
	return m.stopErr
}

// Stopped is closed when the processor stops.
func (m *Machine) Stopped() <-chan struct{} {
	return m.stopped
}

// PowerOff stops the processor the next time it halts.
func (m *Machine) PowerOff() {
	m.powerOffOnce.Do(func() {
		close(m.powerOff)
	})
}

// Close releases physical memory. The processor must have stopped.
func (m *Machine) Close() error {
	return m.mem.Release()
}

func (m *Machine) finish(err error) {
	m.stopOnce.Do(func() {
		m.stopErr = err
		close(m.stopped)
	})
}

// stop ends the processor goroutine.
func (m *Machine) stop(err error) {
	m.finish(err)
	runtime.Goexit()
}

// Stats returns the machine counters.
func (m *Machine) Stats() Stats {
	return Stats{
		Halts:       m.halts.Load(),
		Delivered:   m.delivered.Load(),
		TLBFlushes:  m.flushes.Load(),
		TimerTicks:  m.timerTicks.Load(),
		DroppedKeys: m.kbd.dropped.Load(),
	}
}

// RaiseIRQ asserts an interrupt request line. It may be called from any
// goroutine.
func (m *Machine) RaiseIRQ(irq int) {
	m.pics.raise(irq)
	m.kick()
}

// RaiseSpurious makes the controllers signal line 7 or 15 without a
// request, as electrical noise does.
func (m *Machine) RaiseSpurious(irq int) {
	if irq != 7 && irq != 15 {
		panic(fmt.Sprintf("IRQ %d cannot be spurious", irq))
	}
	m.pics.raiseSpurious(irq)
	m.kick()
}

func (m *Machine) kick() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// InterruptsEnabled implements cpu.InterruptState.
func (m *Machine) InterruptsEnabled() bool {
	return m.interrupts.Load()
}

// DisableInterrupts implements cpu.Machine.DisableInterrupts.
func (m *Machine) DisableInterrupts() {
	m.interrupts.Store(false)
}

// EnableInterrupts implements cpu.Machine.EnableInterrupts. Requests already
// pending are delivered before it returns.
func (m *Machine) EnableInterrupts() {
	m.interrupts.Store(true)
	for m.deliverPending() {
	}
}

// Halt implements cpu.Machine.Halt. With interrupts disabled nothing can
// resume the processor, and the machine stops.
func (m *Machine) Halt() {
	m.halts.Add(1)
	if !m.interrupts.Load() {
		m.stop(ErrHalted)
	}
	for {
		if m.deliverPending() {
			return
		}
		select {
		case <-m.wake:
		case <-m.powerOff:
			m.stop(nil)
		}
	}
}

// deliverPending delivers one external interrupt if one is deliverable.
func (m *Machine) deliverPending() bool {
	if !m.interrupts.Load() {
		return false
	}
	vector, ok := m.pics.acknowledge()
	if !ok {
		return false
	}
	m.deliver(vector, 0, true)
	return true
}

// Breakpoint implements cpu.Machine.Breakpoint.
func (m *Machine) Breakpoint() {
	// The saved instruction pointer follows the one-byte int3.
	m.rip++
	m.deliver(uint8(ring0.Breakpoint), 0, false)
}

// In8 implements cpu.Machine.In8.
func (m *Machine) In8(port cpu.Port) uint8 {
	switch port {
	case 0x20, 0x21, 0xa0, 0xa1:
		return m.pics.in(port)
	case 0x60:
		v, more := m.kbd.read()
		if more {
			m.RaiseIRQ(keyboardIRQ)
		}
		return v
	case 0x64:
		return m.kbd.status()
	}
	return 0xff
}

// Out8 implements cpu.Machine.Out8.
func (m *Machine) Out8(port cpu.Port, value uint8) {
	switch port {
	case 0x20, 0x21, 0xa0, 0xa1:
		m.pics.out(port, value)
	case cpu.POST:
	default:
		m.log.Debugf("write %#02x to unclaimed port %#x", value, uint16(port))
	}
}

// LoadGDT implements cpu.Machine.LoadGDT.
func (m *Machine) LoadGDT(ptr cpu.DescriptorPointer) {
	m.gdt = ptr
}

// descriptor returns the GDT entry sel refers to.
func (m *Machine) descriptor(sel uint16) (ring0.SegmentDescriptor, bool) {
	if sel&4 != 0 {
		// No LDT.
		return ring0.SegmentDescriptor{}, false
	}
	off := uint64(sel &^ 7)
	if off+7 > uint64(m.gdt.Limit) || m.gdt.Base == 0 {
		return ring0.SegmentDescriptor{}, false
	}
	return readDescriptor(m.gdt.Base + off), true
}

// LoadSegment implements cpu.Machine.LoadSegment.
func (m *Machine) LoadSegment(reg cpu.SegmentRegister, selector uint16) {
	d, ok := m.descriptor(selector)
	switch {
	case reg == cpu.CS:
		ok = ok && selector>>3 != 0 && d.IsCode64()
	case selector>>3 == 0:
		// Null data selectors are allowed in long mode.
		ok = true
	default:
		ok = ok && d.IsData()
	}
	if !ok {
		m.deliver(uint8(ring0.GeneralProtectionFault), uint64(selector&^3), false)
		return
	}
	m.segs[reg] = selector
}

// Segment implements cpu.Machine.Segment.
func (m *Machine) Segment(reg cpu.SegmentRegister) uint16 {
	return m.segs[reg]
}

// LoadTaskRegister implements cpu.Machine.LoadTaskRegister.
func (m *Machine) LoadTaskRegister(selector uint16) {
	d, ok := m.descriptor(selector)
	if !ok || !d.IsTSSAvailable() {
		m.deliver(uint8(ring0.GeneralProtectionFault), uint64(selector&^3), false)
		return
	}
	// The busy bit is not written back: the GDT belongs to the kernel and
	// the machine only reads it.
	m.tr = selector
}

// taskState returns the TSS the task register refers to.
func (m *Machine) taskState() (ring0.TaskState64, bool) {
	if m.tr == 0 {
		return ring0.TaskState64{}, false
	}
	lo, ok := m.descriptor(m.tr)
	if !ok {
		return ring0.TaskState64{}, false
	}
	hi, ok := m.descriptor(m.tr + 8)
	if !ok {
		return ring0.TaskState64{}, false
	}
	base := uint64(lo.Base()) | (hi.Uint64()&0xffffffff)<<32
	return readTaskState(base), true
}

// LoadIDT implements cpu.Machine.LoadIDT.
func (m *Machine) LoadIDT(ptr cpu.DescriptorPointer, entry cpu.TrapEntry) {
	m.idt = ptr
	m.entry = entry
}

// EntryPoint implements cpu.Machine.EntryPoint. The stubs sit in the first
// kernel text page, 16 bytes apart.
func (m *Machine) EntryPoint(vector uint8) uint64 {
	return uint64(m.layout.KernelBase) + 16*uint64(vector)
}

// ReadCR2 implements cpu.Machine.ReadCR2.
func (m *Machine) ReadCR2() uint64 {
	return m.cr2
}

// ReadCR3 implements cpu.Machine.ReadCR3.
func (m *Machine) ReadCR3() uint64 {
	return m.cr3
}

// InvalidatePage implements cpu.Machine.InvalidatePage. There is no TLB;
// flushes are only counted.
func (m *Machine) InvalidatePage(addr uint64) {
	m.flushes.Add(1)
}

// StackPointer returns the processor's stack pointer. Inside a handler it is
// on the stack the gate selected.
func (m *Machine) StackPointer() uint64 {
	return m.rsp
}

// SetStackPointer moves the stack pointer, as a runaway recursion would.
func (m *Machine) SetStackPointer(sp uint64) {
	m.rsp = sp
}

// InstructionPointer returns the processor's instruction pointer.
func (m *Machine) InstructionPointer() uint64 {
	return m.rip
}

// PIC returns the interrupt request, in-service and mask registers of both
// controllers, each as a 16-bit line set.
func (m *Machine) PIC() (irr, isr, imr uint16) {
	master, slave := m.pics.state()
	irr = uint16(master.irr) | uint16(slave.irr)<<8
	isr = uint16(master.isr) | uint16(slave.isr)<<8
	imr = uint16(master.imr) | uint16(slave.imr)<<8
	return irr, isr, imr
}
