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
	"errors"
	"fmt"

	"tchaios.dev/kcore/pkg/bits"
	"tchaios.dev/kcore/pkg/bootinfo"
	"tchaios.dev/kcore/pkg/cleanup"
	"tchaios.dev/kcore/pkg/hostarch"
	"tchaios.dev/kcore/pkg/log"
	"tchaios.dev/kcore/pkg/physmem"
	"tchaios.dev/kcore/pkg/ring0/pagetables"
)

// Layout describes the machine the loader prepares.
type Layout struct {
	// Regions is the firmware memory map. Physical memory extends to the
	// end of the last region, rounded up to a huge page.
	Regions physmem.Map

	// KernelBase is where the kernel image is mapped. Its first page holds
	// the trap entry stubs.
	KernelBase hostarch.Addr

	// KernelPages is the size of the kernel image mapping.
	KernelPages int

	// StackPages is the size of the boot stack, which sits one unmapped
	// guard page above the kernel image.
	StackPages int

	// Framebuffer is passed through to the boot information.
	Framebuffer *bootinfo.Framebuffer
}

// StackGuard returns the unmapped page below the boot stack.
func (l Layout) StackGuard() hostarch.Addr {
	return l.KernelBase + hostarch.Addr(l.KernelPages)*hostarch.PageSize
}

// StackTop returns the initial stack pointer.
func (l Layout) StackTop() hostarch.Addr {
	return l.StackGuard() + hostarch.Addr(1+l.StackPages)*hostarch.PageSize
}

// DefaultLayout is a 32 MiB PC.
func DefaultLayout() Layout {
	return Layout{
		Regions: physmem.Map{
			{Start: 0x0, End: 0x1000, Kind: physmem.Reserved},
			{Start: 0x1000, End: 0x9f000, Kind: physmem.Usable},
			{Start: 0x9f000, End: 0x100000, Kind: physmem.Reserved},
			{Start: 0x100000, End: 0x1f00000, Kind: physmem.Usable},
			{Start: 0x1f00000, End: 0x1f10000, Kind: physmem.ACPIReclaimable},
			{Start: 0x1f10000, End: 0x2000000, Kind: physmem.Reserved},
		},
		KernelBase:  0xffffffff80000000,
		KernelPages: 16,
		StackPages:  16,
		Framebuffer: &bootinfo.Framebuffer{
			Width:         1280,
			Height:        720,
			Stride:        1280,
			BytesPerPixel: 4,
			Format:        bootinfo.PixelBGR,
		},
	}
}

// ErrBadLayout is returned by Load for a layout it cannot build.
var ErrBadLayout = errors.New("bad machine layout")

// Load builds a machine as a boot loader leaves it: paging on with all of
// physical memory mapped at an offset using 2 MiB pages, the kernel image
// and a boot stack mapped with 4 KiB pages, and the frames used for all of
// that reported as Bootloader memory in the returned boot information.
func Load(layout Layout, l log.Logger) (*Machine, *bootinfo.Info, error) {
	if err := layout.Regions.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrBadLayout, err)
	}
	if len(layout.Regions) == 0 || layout.KernelPages < 1 || layout.StackPages < 1 {
		return nil, nil, fmt.Errorf("%w: need memory, a kernel image and a stack", ErrBadLayout)
	}
	if !layout.KernelBase.IsPageAligned() || !layout.KernelBase.IsCanonical() || !layout.StackTop().IsCanonical() {
		return nil, nil, fmt.Errorf("%w: kernel base %v", ErrBadLayout, layout.KernelBase)
	}

	end := uint64(layout.Regions[len(layout.Regions)-1].End)
	mem, err := NewMemory(bits.AlignUp[uint64](end, hostarch.HugePageSize))
	if err != nil {
		return nil, nil, err
	}
	cu := cleanup.Make(func() {
		mem.Release()
	})
	defer cu.Clean()

	m := newMachine(mem, layout, l)
	frames := physmem.NewFrameAllocator(layout.Regions)
	root, ok := frames.AllocateFrame()
	if !ok {
		return nil, nil, fmt.Errorf("%w: no usable memory", ErrBadLayout)
	}
	m.cr3 = uint64(root.Start())
	pt := pagetables.Active(m, mem.Offset())

	offsetOpts := pagetables.MapOpts{Writable: true, Global: true}
	for pa := uint64(0); pa < mem.Size(); pa += hostarch.HugePageSize {
		if err := pt.MapHuge(mem.Offset()+hostarch.Addr(pa), hostarch.PhysAddr(pa), offsetOpts, frames); err != nil {
			return nil, nil, fmt.Errorf("mapping physical memory: %w", err)
		}
	}

	mapPages := func(start hostarch.Addr, n int, opts pagetables.MapOpts) error {
		for i := 0; i < n; i++ {
			f, ok := frames.AllocateFrame()
			if !ok {
				return fmt.Errorf("%w: out of memory", ErrBadLayout)
			}
			if err := pt.Map(start+hostarch.Addr(i)*hostarch.PageSize, f, opts, frames); err != nil {
				return err
			}
		}
		return nil
	}
	if err := mapPages(layout.KernelBase, layout.KernelPages, pagetables.MapOpts{Execute: true, Global: true}); err != nil {
		return nil, nil, fmt.Errorf("mapping kernel image: %w", err)
	}
	if err := mapPages(layout.StackGuard()+hostarch.PageSize, layout.StackPages, pagetables.MapOpts{Writable: true}); err != nil {
		return nil, nil, fmt.Errorf("mapping boot stack: %w", err)
	}
	m.flushes.Store(0)

	info := &bootinfo.Info{
		PhysicalMemoryOffset: uint64(mem.Offset()),
		MemoryRegions:        layout.Regions.Claim(frames.Allocated(), physmem.Bootloader),
		Framebuffer:          layout.Framebuffer,
	}
	l.Debugf("boot loader used %d frames, physical memory at %v, stack top %v", frames.Allocated(), mem.Offset(), layout.StackTop())
	cu.Release()
	return m, info, nil
}
