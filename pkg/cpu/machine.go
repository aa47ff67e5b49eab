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

// Package cpu defines the boundary between the kernel core and the processor.
//
// Every privileged operation the core performs (port I/O, descriptor table
// loads, control register reads, interrupt flag changes, halting) goes
// through the Machine interface. Everything above it is ordinary Go operating
// on typed tables.
package cpu

import "fmt"

// Port is an x86 I/O port number.
type Port uint16

// POST is the diagnostic port written to for a short I/O delay.
const POST Port = 0x80

// SegmentRegister names a segment register.
type SegmentRegister int

// Segment registers, in the order the kernel loads them after CS.
const (
	CS SegmentRegister = iota
	SS
	DS
	ES
	FS
	GS

	// NumSegmentRegisters is the number of segment registers.
	NumSegmentRegisters
)

var segmentNames = [...]string{
	CS: "cs",
	SS: "ss",
	DS: "ds",
	ES: "es",
	FS: "fs",
	GS: "gs",
}

// String implements fmt.Stringer.String.
func (r SegmentRegister) String() string {
	if r >= 0 && r < NumSegmentRegisters {
		return segmentNames[r]
	}
	return fmt.Sprintf("SegmentRegister(%d)", int(r))
}

// DescriptorPointer is the operand of lgdt and lidt.
type DescriptorPointer struct {
	// Limit is the size of the table in bytes, minus one.
	Limit uint16

	// Base is the virtual address of the table.
	Base uint64
}

// TrapEntry is the common trap entry registered with LoadIDT. The machine
// calls it for every vector whose gate is present, with the saved frame and
// the error code (zero for vectors that push none).
type TrapEntry func(vector uint8, frame *InterruptFrame, errorCode uint64)

// InterruptState reports the processor's interrupt flag.
type InterruptState interface {
	// InterruptsEnabled returns RFLAGS.IF.
	InterruptsEnabled() bool
}

// Machine is a single logical x86_64 processor.
//
// Methods are only called from the processor's own context: the boot path or
// a trap handler.
type Machine interface {
	InterruptState

	// In8 reads a byte from an I/O port.
	In8(port Port) uint8

	// Out8 writes a byte to an I/O port.
	Out8(port Port, value uint8)

	// DisableInterrupts clears RFLAGS.IF (cli).
	DisableInterrupts()

	// EnableInterrupts sets RFLAGS.IF (sti). Pending interrupts may be
	// delivered before it returns.
	EnableInterrupts()

	// Halt stops the processor until the next interrupt (hlt).
	Halt()

	// Breakpoint raises vector 3 (int3).
	Breakpoint()

	// LoadGDT installs a global descriptor table (lgdt).
	LoadGDT(ptr DescriptorPointer)

	// LoadSegment loads selector into a segment register. CS is reloaded
	// with a far return.
	LoadSegment(reg SegmentRegister, selector uint16)

	// Segment returns the selector currently held by a segment register.
	Segment(reg SegmentRegister) uint16

	// LoadTaskRegister loads the task register (ltr). The selector must
	// reference a TSS descriptor in the loaded GDT.
	LoadTaskRegister(selector uint16)

	// LoadIDT installs an interrupt descriptor table (lidt) and the common
	// trap entry that gates in it reach.
	LoadIDT(ptr DescriptorPointer, entry TrapEntry)

	// EntryPoint returns the address of the entry stub for vector, which
	// is the target address stored in its gate.
	EntryPoint(vector uint8) uint64

	// ReadCR2 returns the last page fault linear address.
	ReadCR2() uint64

	// ReadCR3 returns the page table base register.
	ReadCR3() uint64

	// InvalidatePage flushes the TLB entry for addr (invlpg).
	InvalidatePage(addr uint64)
}

// IOWait gives a slow device time to settle by writing to an unused port.
func IOWait(m Machine) {
	m.Out8(POST, 0)
}

// WithoutInterrupts runs f with interrupts disabled, restoring the previous
// interrupt flag afterwards.
func WithoutInterrupts(m Machine, f func()) {
	if !m.InterruptsEnabled() {
		f()
		return
	}
	m.DisableInterrupts()
	defer m.EnableInterrupts()
	f()
}
