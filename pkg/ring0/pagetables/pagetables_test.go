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

package pagetables

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"tchaios.dev/kcore/pkg/cpu/cputest"
	"tchaios.dev/kcore/pkg/hostarch"
	"tchaios.dev/kcore/pkg/physmem"
)

const (
	rootTable = 0x1000
	memPages  = 64
	heapStart = hostarch.Addr(0x444444440000)
)

var rw = MapOpts{Writable: true}

type testTables struct {
	m      *cputest.Machine
	mem    []byte
	pt     *OffsetTable
	frames *physmem.FrameAllocator
}

// newTestTables returns an empty root at rootTable. Everything above it is
// usable for intermediate tables and mapped frames.
func newTestTables(t *testing.T) *testTables {
	t.Helper()
	mem, offset := newPhysicalMemory(t, memPages)
	// Tables must not rely on the memory being zero.
	for i := range mem {
		mem[i] = 0xff
	}
	clear(mem[rootTable : rootTable+hostarch.PageSize])

	m := cputest.New()
	// PWT, PCD and the no-flush bit.
	m.CR3 = rootTable | 0x18 | 1<<63
	regions := physmem.Map{{Start: 0x2000, End: memPages * hostarch.PageSize, Kind: physmem.Usable}}
	return &testTables{
		m:      m,
		mem:    mem,
		pt:     Active(m, offset),
		frames: physmem.NewFrameAllocator(regions),
	}
}

// frame takes a frame from the allocator for use as a mapping target.
func (tt *testTables) frame(t *testing.T) physmem.Frame {
	t.Helper()
	f, ok := tt.frames.AllocateFrame()
	if !ok {
		t.Fatalf("out of test frames")
	}
	return f
}

func (tt *testTables) mapPage(t *testing.T, va hostarch.Addr, f physmem.Frame, opts MapOpts) {
	t.Helper()
	if err := tt.pt.Map(va, f, opts, tt.frames); err != nil {
		t.Fatalf("Map(%v, %v): %v", va, f, err)
	}
}

func checkWalkError(t *testing.T, err error, level Level, target error) {
	t.Helper()
	var we *WalkError
	if !errors.As(err, &we) {
		t.Fatalf("got error %v, want a *WalkError", err)
	}
	if we.Level != level || !errors.Is(err, target) {
		t.Errorf("got %v, want %v at %v", err, target, level)
	}
}

func TestActiveStripsFlags(t *testing.T) {
	tt := newTestTables(t)
	if got := tt.pt.Root(); got != rootTable {
		t.Errorf("Root() = %v, want %#x", got, rootTable)
	}
}

func TestTranslatePreservesPageOffset(t *testing.T) {
	tt := newTestTables(t)
	f := tt.frame(t)
	tt.mapPage(t, heapStart, f, rw)
	for _, off := range []hostarch.Addr{0, 1, 0x123, 0x800, hostarch.PageSize - 1} {
		got, err := tt.pt.Translate(heapStart + off)
		if err != nil {
			t.Fatalf("Translate(%v): %v", heapStart+off, err)
		}
		if want := f.Start() + hostarch.PhysAddr(off); got != want {
			t.Errorf("Translate(%v) = %v, want %v", heapStart+off, got, want)
		}
	}
}

func TestTranslateNotPresentAtEachLevel(t *testing.T) {
	tt := newTestTables(t)
	if _, err := tt.pt.Translate(heapStart); err == nil {
		t.Fatalf("empty table translated %v", heapStart)
	} else {
		checkWalkError(t, err, Level4, ErrNotPresent)
	}

	tt.mapPage(t, heapStart, tt.frame(t), rw)
	for _, tc := range []struct {
		va    hostarch.Addr
		level Level
	}{
		{heapStart + hostarch.Addr(Level4.Size()), Level4},
		{heapStart + hostarch.Addr(Level3.Size()), Level3},
		{heapStart + hostarch.Addr(Level2.Size()), Level2},
		{heapStart + hostarch.Addr(Level1.Size()), Level1},
	} {
		_, err := tt.pt.Translate(tc.va)
		if err == nil {
			t.Errorf("Translate(%v) succeeded, want not present at %v", tc.va, tc.level)
			continue
		}
		checkWalkError(t, err, tc.level, ErrNotPresent)
	}
}

func TestNonCanonical(t *testing.T) {
	tt := newTestTables(t)
	va := hostarch.Addr(0x0000800000000000)
	_, err := tt.pt.Translate(va)
	checkWalkError(t, err, Level4, ErrNonCanonical)
	checkWalkError(t, tt.pt.Map(va, tt.frame(t), rw, tt.frames), Level4, ErrNonCanonical)
}

func TestHugeFrames(t *testing.T) {
	tt := newTestTables(t)
	tt.mapPage(t, heapStart, tt.frame(t), rw)

	// Install a 2 MiB leaf next to the 4 KiB page's table.
	huge := heapStart + hostarch.Addr(Level2.Size())
	root := tt.pt.Table(tt.pt.Root())
	p3 := tt.pt.Table(root[Level4.Index(huge)].Address())
	p2 := tt.pt.Table(p3[Level3.Index(huge)].Address())
	entry := &p2[Level2.Index(huge)]
	entry.SetSuper()
	entry.Set(0x40000000, rw)

	va := huge + 0x12345
	_, err := tt.pt.Translate(va)
	checkWalkError(t, err, Level2, ErrUnsupportedHugeFrame)

	m, err := tt.pt.Lookup(va)
	if err != nil {
		t.Fatalf("Lookup(%v): %v", va, err)
	}
	if m.Level != Level2 || m.Phys != 0x40012345 {
		t.Errorf("Lookup(%v) = %v at %#x, want P2 at 0x40012345", va, m.Level, m.Phys)
	}

	err = tt.pt.Map(huge+hostarch.PageSize, tt.frame(t), rw, tt.frames)
	checkWalkError(t, err, Level2, ErrParentHugeFrame)
}

func TestMapErrors(t *testing.T) {
	tt := newTestTables(t)
	f := tt.frame(t)
	tt.mapPage(t, heapStart, f, rw)

	checkWalkError(t, tt.pt.Map(heapStart, f, rw, tt.frames), Level1, ErrAlreadyMapped)
	checkWalkError(t, tt.pt.Map(heapStart+1, f, rw, tt.frames), Level1, ErrMisaligned)

	empty := physmem.NewFrameAllocator(nil)
	far := heapStart + hostarch.Addr(Level4.Size())
	checkWalkError(t, tt.pt.Map(far, f, rw, empty), Level4, ErrNoFrame)
}

func TestMapZeroesNewTables(t *testing.T) {
	tt := newTestTables(t)
	tt.mapPage(t, heapStart, tt.frame(t), rw)
	// Every other slot of the fresh tables must read as not present even
	// though the frames were filled with ones.
	for level := Level3; level >= Level1; level-- {
		va := heapStart + hostarch.Addr(level.Size())
		_, err := tt.pt.Translate(va)
		checkWalkError(t, err, level, ErrNotPresent)
	}
}

func TestMapInvalidatesAndSetsOpts(t *testing.T) {
	tt := newTestTables(t)
	pages := []hostarch.Addr{heapStart, heapStart + hostarch.PageSize, heapStart + 2*hostarch.PageSize}
	opts := MapOpts{Writable: true, User: true, MemoryType: hostarch.MemoryTypeWriteThrough}
	for _, va := range pages {
		tt.mapPage(t, va, tt.frame(t), opts)
	}
	want := []uint64{uint64(pages[0]), uint64(pages[1]), uint64(pages[2])}
	if diff := cmp.Diff(want, tt.m.Invalidated); diff != "" {
		t.Errorf("invalidated pages mismatch (-want +got):\n%s", diff)
	}

	m, err := tt.pt.Lookup(pages[1])
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if diff := cmp.Diff(opts, m.Entry.Opts()); diff != "" {
		t.Errorf("leaf options mismatch (-want +got):\n%s", diff)
	}
	if !m.Writable || !m.User {
		t.Errorf("effective permissions writable=%v user=%v, want both", m.Writable, m.User)
	}
}

func TestPTEMemoryTypes(t *testing.T) {
	for mt := hostarch.MemoryTypeWriteBack; mt < hostarch.NumMemoryTypes; mt++ {
		var p PTE
		opts := MapOpts{Execute: true, Global: true, MemoryType: mt}
		p.Set(0x5000, opts)
		if got := p.Opts(); got != opts {
			t.Errorf("%v: Opts() = %+v, want %+v", mt, got, opts)
		}
		if p.Address() != 0x5000 || !p.Valid() || p.IsSuper() {
			t.Errorf("%v: bad entry %#x", mt, uint64(p))
		}
	}
}

func TestMapHuge(t *testing.T) {
	tt := newTestTables(t)
	va := heapStart + hostarch.Addr(Level3.Size())
	if err := tt.pt.MapHuge(va, 0x40000000, rw, tt.frames); err != nil {
		t.Fatalf("MapHuge: %v", err)
	}
	m, err := tt.pt.Lookup(va + 0x1234)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if m.Level != Level2 || m.Phys != 0x40001234 {
		t.Errorf("Lookup = %v at %#x, want P2 at 0x40001234", m.Level, m.Phys)
	}
	checkWalkError(t, tt.pt.MapHuge(va+hostarch.PageSize, 0x40000000, rw, tt.frames), Level2, ErrMisaligned)
	checkWalkError(t, tt.pt.MapHuge(va, 0x40200000, rw, tt.frames), Level2, ErrAlreadyMapped)
}
