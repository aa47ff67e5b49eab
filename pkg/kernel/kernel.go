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

// Package kernel brings up the core: descriptor tables, interrupt vectors,
// the interrupt controller, paging and the frame allocator, in that order.
package kernel

import (
	"errors"
	"fmt"
	"time"

	"tchaios.dev/kcore/pkg/bootinfo"
	"tchaios.dev/kcore/pkg/cpu"
	"tchaios.dev/kcore/pkg/hostarch"
	"tchaios.dev/kcore/pkg/kbd"
	"tchaios.dev/kcore/pkg/log"
	"tchaios.dev/kcore/pkg/physmem"
	"tchaios.dev/kcore/pkg/pic"
	"tchaios.dev/kcore/pkg/ring0"
	"tchaios.dev/kcore/pkg/ring0/pagetables"
	"tchaios.dev/kcore/pkg/sync"
)

// Config holds boot parameters.
type Config struct {
	// PICOffset is the vector of IRQ 0. It must leave room for sixteen
	// lines above the exception vectors.
	PICOffset uint8

	// HeapStart and HeapSize describe the heap region mapped at boot.
	HeapStart hostarch.Addr
	HeapSize  uint64

	// Keys receives decoded key presses. If nil, keys are logged.
	Keys ring0.KeySink

	// Logger is where diagnostics go. If nil, the global logger is used.
	Logger log.Logger

	// WarnEvery limits how often interrupt controller noise is reported.
	WarnEvery time.Duration
}

// Default heap placement.
const (
	DefaultHeapStart = hostarch.Addr(0x444444440000)
	DefaultHeapSize  = 100 * 1024
)

// DefaultConfig returns the standard PC configuration.
func DefaultConfig() Config {
	return Config{
		PICOffset: uint8(ring0.FirstExternal),
		HeapStart: DefaultHeapStart,
		HeapSize:  DefaultHeapSize,
		WarnEvery: time.Second,
	}
}

// Kernel is a booted core.
type Kernel struct {
	machine cpu.Machine
	info    *bootinfo.Info
	log     log.Logger

	vectors *ring0.VectorTable
	pic     *pic.Controller
	ticks   ring0.TickCounter
	pages   *pagetables.OffsetTable
	frames  *physmem.FrameAllocator
}

// ErrBadConfig is returned by New for configurations that cannot boot.
var ErrBadConfig = errors.New("bad kernel configuration")

// New boots the core on m. It returns with interrupts enabled and the heap
// mapped. The boot information is copied; later changes to info have no
// effect.
func New(m cpu.Machine, info *bootinfo.Info, c Config) (*Kernel, error) {
	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("boot info: %w", err)
	}
	if c.PICOffset < uint8(ring0.FirstExternal) || int(c.PICOffset)+pic.NumLines > ring0.NumVectors {
		return nil, fmt.Errorf("%w: PIC offset %d", ErrBadConfig, c.PICOffset)
	}
	l := c.Logger
	if l == nil {
		l = log.Log()
	}
	k := &Kernel{
		machine: m,
		info:    info.Clone(),
		log:     l,
		pic:     pic.NewController(m, c.PICOffset),
	}
	k.info.Log(l)

	loaded := ring0.Descriptors().Load(m)
	l.Infof("loaded gdt, code selector %v, tss selector %v", loaded.Tables().Selectors().Code, loaded.Tables().Selectors().TSS)

	k.vectors = ring0.NewVectorTable(loaded, k.bindings(c)...)
	armed := k.vectors.Load()
	l.Infof("loaded idt")

	k.pic.Initialize(pic.LinesOf(pic.IRQTimer, pic.IRQKeyboard))
	l.Infof("initialized pic at vector %d", c.PICOffset)

	armed.EnableInterrupts()
	l.Infof("enabled interrupts")

	k.pages = pagetables.Active(m, hostarch.Addr(k.info.PhysicalMemoryOffset))
	k.frames = physmem.NewFrameAllocator(k.info.MemoryRegions)
	if err := MapHeap(k.pages, k.frames, c.HeapStart, c.HeapSize); err != nil {
		return nil, err
	}
	l.Infof("mapped %d KiB heap at %v, %d frames allocated", c.HeapSize>>10, c.HeapStart, k.frames.Allocated())
	return k, nil
}

func (k *Kernel) bindings(c Config) []ring0.Binding {
	l := k.log
	noisy := log.RateLimitedLogger(l, c.WarnEvery)
	keys := c.Keys
	if keys == nil {
		keys = func(key kbd.Key) {
			if key.IsChar() {
				l.Infof("key %q", key.Char)
				return
			}
			noisy.Debugf("key %v", key)
		}
	}
	decoder := cpu.NewMutex(k.machine, kbd.Decoder{})
	return []ring0.Binding{
		ring0.Bind(ring0.Breakpoint, ring0.BreakpointHandler(l)),
		ring0.BindTerminal(ring0.DoubleFault, ring0.DoubleFaultHandler(l)),
		ring0.Bind(ring0.PageFault, ring0.PageFaultHandler(l)),
		ring0.Bind(ring0.Vector(k.pic.Vector(pic.IRQTimer)), ring0.TimerHandler(&k.ticks, k.pic)),
		ring0.Bind(ring0.Vector(k.pic.Vector(pic.IRQKeyboard)), ring0.KeyboardHandler(k.pic, decoder, keys)),
		ring0.Bind(ring0.Vector(k.pic.Vector(pic.IRQSpuriousMaster)), ring0.SpuriousHandler(k.pic, noisy, nil)),
		ring0.Bind(ring0.Vector(k.pic.Vector(pic.IRQSpuriousSlave)), ring0.SpuriousHandler(k.pic, noisy, nil)),
	}
}

// Ticks returns the number of timer interrupts serviced. It may be called
// from any context.
func (k *Kernel) Ticks() ring0.Ticks {
	return k.ticks.Load()
}

// Idle halts until the next interrupt, forever.
func (k *Kernel) Idle() {
	ring0.Idle(k.machine)
}

// Translate translates a virtual address through the active page tables.
func (k *Kernel) Translate(va hostarch.Addr) (hostarch.PhysAddr, error) {
	return k.pages.Translate(va)
}

// AllocateFrame returns the next free frame.
func (k *Kernel) AllocateFrame() (physmem.Frame, bool) {
	return k.frames.AllocateFrame()
}

// PageTables returns the active page tables.
func (k *Kernel) PageTables() *pagetables.OffsetTable {
	return k.pages
}

// VectorTable returns the loaded interrupt vector table.
func (k *Kernel) VectorTable() *ring0.VectorTable {
	return k.vectors
}

// Info returns the kernel's copy of the boot information.
func (k *Kernel) Info() *bootinfo.Info {
	return k.info
}

var (
	mu      sync.Mutex
	current *Kernel
)

// ErrAlreadyBooted is returned by Boot after the first successful boot.
var ErrAlreadyBooted = errors.New("kernel already booted")

// Boot boots the process-wide kernel. It succeeds at most once.
func Boot(m cpu.Machine, info *bootinfo.Info, c Config) (*Kernel, error) {
	mu.Lock()
	defer mu.Unlock()
	if current != nil {
		return nil, ErrAlreadyBooted
	}
	k, err := New(m, info, c)
	if err != nil {
		return nil, err
	}
	current = k
	return k, nil
}

func booted() *Kernel {
	mu.Lock()
	defer mu.Unlock()
	return current
}

// Ticks returns the booted kernel's tick count, or zero before boot.
func Ticks() ring0.Ticks {
	if k := booted(); k != nil {
		return k.Ticks()
	}
	return ring0.Ticks{}
}

// IdleMode idles the booted kernel. It never returns.
func IdleMode() {
	k := booted()
	if k == nil {
		panic("IdleMode before Boot")
	}
	k.Idle()
}
