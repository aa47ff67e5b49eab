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

// Package cputest provides a recording cpu.Machine for tests.
package cputest

import (
	"tchaios.dev/kcore/pkg/cpu"
)

// PortWrite is one recorded Out8.
type PortWrite struct {
	Port  cpu.Port
	Value uint8
}

// Machine is a cpu.Machine that records privileged operations instead of
// performing them. Port reads are served from Input.
//
// Machine is not safe for concurrent use.
type Machine struct {
	// Interrupts is the interrupt flag.
	Interrupts bool

	// Input holds queued bytes for In8, per port. Reads from an empty
	// queue return 0xff, as a floating bus does.
	Input map[cpu.Port][]uint8

	// Writes records every Out8 except writes to cpu.POST.
	Writes []PortWrite

	// IOWaits counts writes to cpu.POST.
	IOWaits int

	// Halts counts calls to Halt.
	Halts int

	// OnHalt, if set, runs on every Halt. Tests use it to leave loops that
	// never return.
	OnHalt func()

	CR2 uint64
	CR3 uint64

	GDT       cpu.DescriptorPointer
	IDT       cpu.DescriptorPointer
	Entry     cpu.TrapEntry
	TR        uint16
	Segments  [cpu.NumSegmentRegisters]uint16
	LoadOrder []string

	// Invalidated records InvalidatePage addresses.
	Invalidated []uint64

	// Frame is passed to the trap entry by Breakpoint and Raise.
	Frame cpu.InterruptFrame
}

var _ cpu.Machine = (*Machine)(nil)

// New returns a Machine with interrupts disabled.
func New() *Machine {
	return &Machine{Input: make(map[cpu.Port][]uint8)}
}

// InterruptsEnabled implements cpu.Machine.InterruptsEnabled.
func (m *Machine) InterruptsEnabled() bool {
	return m.Interrupts
}

// In8 implements cpu.Machine.In8.
func (m *Machine) In8(port cpu.Port) uint8 {
	q := m.Input[port]
	if len(q) == 0 {
		return 0xff
	}
	m.Input[port] = q[1:]
	return q[0]
}

// Out8 implements cpu.Machine.Out8.
func (m *Machine) Out8(port cpu.Port, value uint8) {
	if port == cpu.POST {
		m.IOWaits++
		return
	}
	m.Writes = append(m.Writes, PortWrite{Port: port, Value: value})
}

// DisableInterrupts implements cpu.Machine.DisableInterrupts.
func (m *Machine) DisableInterrupts() {
	m.Interrupts = false
}

// EnableInterrupts implements cpu.Machine.EnableInterrupts.
func (m *Machine) EnableInterrupts() {
	m.Interrupts = true
}

// Halt implements cpu.Machine.Halt.
func (m *Machine) Halt() {
	m.Halts++
	if m.OnHalt != nil {
		m.OnHalt()
	}
}

// Breakpoint implements cpu.Machine.Breakpoint.
func (m *Machine) Breakpoint() {
	m.Raise(3, 0)
}

// Raise delivers vector through the registered trap entry, as if the
// processor had taken it.
func (m *Machine) Raise(vector uint8, errorCode uint64) {
	if m.Entry == nil {
		panic("cputest: trap with no IDT loaded")
	}
	saved := m.Interrupts
	m.Interrupts = false
	frame := m.Frame
	m.Entry(vector, &frame, errorCode)
	m.Interrupts = saved
}

// LoadGDT implements cpu.Machine.LoadGDT.
func (m *Machine) LoadGDT(ptr cpu.DescriptorPointer) {
	m.GDT = ptr
	m.LoadOrder = append(m.LoadOrder, "gdt")
}

// LoadSegment implements cpu.Machine.LoadSegment.
func (m *Machine) LoadSegment(reg cpu.SegmentRegister, selector uint16) {
	m.Segments[reg] = selector
	m.LoadOrder = append(m.LoadOrder, reg.String())
}

// Segment implements cpu.Machine.Segment.
func (m *Machine) Segment(reg cpu.SegmentRegister) uint16 {
	return m.Segments[reg]
}

// LoadTaskRegister implements cpu.Machine.LoadTaskRegister.
func (m *Machine) LoadTaskRegister(selector uint16) {
	m.TR = selector
	m.LoadOrder = append(m.LoadOrder, "tr")
}

// LoadIDT implements cpu.Machine.LoadIDT.
func (m *Machine) LoadIDT(ptr cpu.DescriptorPointer, entry cpu.TrapEntry) {
	m.IDT = ptr
	m.Entry = entry
	m.LoadOrder = append(m.LoadOrder, "idt")
}

// EntryPointBase is the address of the vector 0 stub; stubs are 16 bytes
// apart.
const EntryPointBase = 0xffffffff80100000

// EntryPoint implements cpu.Machine.EntryPoint.
func (m *Machine) EntryPoint(vector uint8) uint64 {
	return EntryPointBase + 16*uint64(vector)
}

// ReadCR2 implements cpu.Machine.ReadCR2.
func (m *Machine) ReadCR2() uint64 {
	return m.CR2
}

// ReadCR3 implements cpu.Machine.ReadCR3.
func (m *Machine) ReadCR3() uint64 {
	return m.CR3
}

// InvalidatePage implements cpu.Machine.InvalidatePage.
func (m *Machine) InvalidatePage(addr uint64) {
	m.Invalidated = append(m.Invalidated, addr)
}

// WritesTo returns the values written to port, in order.
func (m *Machine) WritesTo(port cpu.Port) []uint8 {
	var vs []uint8
	for _, w := range m.Writes {
		if w.Port == port {
			vs = append(vs, w.Value)
		}
	}
	return vs
}
