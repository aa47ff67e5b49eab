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

package physmem

import (
	"tchaios.dev/kcore/pkg/hostarch"
)

// Frame is a 4 KiB physical frame, identified by its start address.
type Frame hostarch.PhysAddr

// Start returns the physical address of the first byte of f.
func (f Frame) Start() hostarch.PhysAddr {
	return hostarch.PhysAddr(f)
}

// String implements fmt.Stringer.String.
func (f Frame) String() string {
	return hostarch.PhysAddr(f).String()
}

// Allocator hands out physical frames.
type Allocator interface {
	// AllocateFrame returns an unused frame, or false if none is left.
	AllocateFrame() (Frame, bool)
}

// FrameAllocator hands out the usable frames of a Map in order and never
// returns one twice.
//
// Only the index of the next frame is stored: each allocation re-derives its
// frame from the map, so no record of issued frames exists and frames are
// never freed.
type FrameAllocator struct {
	regions Map
	next    uint64
}

var _ Allocator = (*FrameAllocator)(nil)

// NewFrameAllocator returns an allocator over m, starting at its first usable
// frame. The caller must not use the frames already in use by the bootloader;
// the bootloader reports those with a kind other than Usable.
func NewFrameAllocator(m Map) *FrameAllocator {
	return &FrameAllocator{regions: m}
}

// AllocateFrame implements Allocator.AllocateFrame. The cursor only advances
// when a frame is returned.
func (a *FrameAllocator) AllocateFrame() (Frame, bool) {
	f, ok := a.regions.FrameAt(a.next)
	if !ok {
		return 0, false
	}
	a.next++
	return f, true
}

// Allocated returns the number of frames handed out so far.
func (a *FrameAllocator) Allocated() uint64 {
	return a.next
}
