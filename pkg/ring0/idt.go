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

package ring0

import (
	"fmt"

	"tchaios.dev/kcore/pkg/cpu"
)

// Gate64 is a 64-bit task, trap, or interrupt gate.
type Gate64 struct {
	bits [4]uint32
}

// Gate types.
const (
	gateInterrupt = 14
	gateTrap      = 15
)

// idt64 is a 64-bit interrupt descriptor table.
type idt64 [NumVectors]Gate64

func (g *Gate64) setInterrupt(cs Selector, rip uint64, dpl int, ist int) {
	g.bits[0] = uint32(cs)<<16 | uint32(rip)&0xFFFF
	g.bits[1] = uint32(rip)&0xFFFF0000 | SegmentDescriptorPresent | uint32(dpl)<<13 | gateInterrupt<<8 | uint32(ist)&0x7
	g.bits[2] = uint32(rip >> 32)
	g.bits[3] = 0
}

// Present returns true if the gate is present. A vector whose gate is not
// present raises a segment-not-present fault when it fires.
func (g *Gate64) Present() bool {
	return g.bits[1]&SegmentDescriptorPresent != 0
}

// Offset returns the handler entry address.
func (g *Gate64) Offset() uint64 {
	return uint64(g.bits[2])<<32 | uint64(g.bits[1]&0xFFFF0000) | uint64(g.bits[0]&0xFFFF)
}

// Selector returns the code segment the handler runs in.
func (g *Gate64) Selector() Selector {
	return Selector(g.bits[0] >> 16)
}

// IST returns the interrupt stack table field; zero means no stack switch.
func (g *Gate64) IST() int {
	return int(g.bits[1] & 0x7)
}

// DPL returns the gate privilege level.
func (g *Gate64) DPL() int {
	return int((g.bits[1] >> 13) & 3)
}

// Type returns the gate type: 14 for interrupt gates, 15 for trap gates.
func (g *Gate64) Type() int {
	return int((g.bits[1] >> 8) & 0xF)
}

// IsInterruptGate returns true if entering through g clears RFLAGS.IF.
func (g *Gate64) IsInterruptGate() bool {
	return g.Type() == gateInterrupt
}

// Trap is the state handed to a handler.
type Trap struct {
	// Vector is the vector being serviced.
	Vector Vector

	// Frame is the interrupted context. Handlers may modify it; the
	// processor resumes from it.
	Frame *cpu.InterruptFrame

	// ErrorCode is the code pushed by the processor, or zero.
	ErrorCode uint64

	// Machine is the processor taking the trap.
	Machine cpu.Machine
}

// Handler services a vector and returns to the interrupted context.
type Handler func(t *Trap)

// TerminalHandler services a vector that cannot be resumed. It must not
// return; if it does, the dispatcher halts the machine.
type TerminalHandler func(t *Trap)

// Binding associates a vector with its handler.
type Binding struct {
	vector     Vector
	handler    Handler
	terminal   TerminalHandler
	faultStack bool
}

// Bind returns a binding of h to v.
func Bind(v Vector, h Handler) Binding {
	if h == nil {
		panic(fmt.Sprintf("nil handler for %v", v))
	}
	return Binding{vector: v, handler: h}
}

// BindTerminal returns a binding of the terminal handler h to v. Terminal
// handlers run on the fault stack.
func BindTerminal(v Vector, h TerminalHandler) Binding {
	if h == nil {
		panic(fmt.Sprintf("nil handler for %v", v))
	}
	return Binding{vector: v, terminal: h, faultStack: true}
}

// Vector returns the bound vector.
func (b Binding) Vector() Vector {
	return b.vector
}

// bound is the dispatcher's entry for one vector.
type bound struct {
	handler  Handler
	terminal TerminalHandler
}

func (b *bound) ok() bool {
	return b.handler != nil || b.terminal != nil
}

// VectorTable is the interrupt descriptor table and its dispatch table.
type VectorTable struct {
	idt      idt64
	handlers [NumVectors]bound
	machine  cpu.Machine
}

// NewVectorTable builds an interrupt descriptor table for the machine the
// descriptor tables are loaded on. Every vector without a binding is left not
// present. Binding a vector twice panics, as does passing descriptors that
// were not loaded by DescriptorTables.Load.
func NewVectorTable(loaded *LoadedDescriptors, bindings ...Binding) *VectorTable {
	if !loaded.valid() {
		panic("vector table built without loaded descriptor tables")
	}
	m := loaded.Machine()
	cs := loaded.Tables().Selectors().Code
	t := &VectorTable{machine: m}
	for _, b := range bindings {
		v := b.vector
		if t.handlers[v].ok() {
			panic(fmt.Sprintf("%v bound twice", v))
		}
		t.handlers[v] = bound{handler: b.handler, terminal: b.terminal}

		// Allow Breakpoint and Overflow to be called from all
		// privilege levels.
		dpl := 0
		if v == Breakpoint || v == Overflow {
			dpl = 3
		}
		ist := 0
		if b.faultStack {
			ist = loaded.DoubleFaultIST()
		}
		t.idt[v].setInterrupt(cs, m.EntryPoint(uint8(v)), dpl, ist)
	}
	return t
}

// Bound returns true if v has a handler. Unbound vectors fault when they
// fire.
func (t *VectorTable) Bound(v Vector) bool {
	return t.handlers[v].ok()
}

// Gate returns the gate for v.
func (t *VectorTable) Gate(v Vector) Gate64 {
	return t.idt[v]
}

// IDT returns the descriptor table pointer for lidt.
func (t *VectorTable) IDT() cpu.DescriptorPointer {
	return cpu.DescriptorPointer{
		Base:  kernelAddr(&t.idt[0]),
		Limit: uint16(sizeOf(&t.idt) - 1),
	}
}

// Load installs the table and its dispatcher on the machine it was built
// for. The returned Armed value is what enables interrupts.
func (t *VectorTable) Load() *Armed {
	if t == nil || t.machine == nil {
		panic("vector table was not built by NewVectorTable")
	}
	t.machine.LoadIDT(t.IDT(), t.dispatch)
	return &Armed{machine: t.machine}
}

// dispatch is the common trap entry.
func (t *VectorTable) dispatch(vector uint8, frame *cpu.InterruptFrame, errorCode uint64) {
	b := &t.handlers[vector]
	trap := Trap{
		Vector:    Vector(vector),
		Frame:     frame,
		ErrorCode: errorCode,
		Machine:   t.machine,
	}
	switch {
	case b.terminal != nil:
		b.terminal(&trap)
		HaltForever(t.machine)
	case b.handler != nil:
		b.handler(&trap)
	default:
		// The gate is not present, so the processor never gets here.
		panic(fmt.Sprintf("trap on unbound %v", Vector(vector)))
	}
}

// Armed is returned by VectorTable.Load. Enabling interrupts through it
// guarantees that the descriptor tables and the vector table are installed.
type Armed struct {
	machine cpu.Machine
}

// EnableInterrupts sets the interrupt flag. It panics on an Armed value that
// was not returned by VectorTable.Load.
func (a *Armed) EnableInterrupts() {
	if a == nil || a.machine == nil {
		panic("interrupts enabled before a vector table was loaded")
	}
	a.machine.EnableInterrupts()
}

// Machine returns the armed machine.
func (a *Armed) Machine() cpu.Machine {
	return a.machine
}
