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

// Package pagetables walks and extends the active x86-64 page tables.
//
// Physical memory is accessed through a fixed virtual offset established by
// the boot loader. Once an OffsetTable exists, no table is ever dereferenced
// by its physical address.
package pagetables

import (
	"errors"
	"fmt"

	"tchaios.dev/kcore/pkg/cpu"
	"tchaios.dev/kcore/pkg/hostarch"
	"tchaios.dev/kcore/pkg/physmem"
)

// Walk failures. They are always wrapped in a *WalkError.
var (
	ErrNotPresent           = errors.New("entry not present")
	ErrUnsupportedHugeFrame = errors.New("huge frames are not supported")
	ErrNonCanonical         = errors.New("address is not canonical")
	ErrAlreadyMapped        = errors.New("page already mapped")
	ErrParentHugeFrame      = errors.New("parent entry maps a huge frame")
	ErrNoFrame              = errors.New("no frame for page table")
	ErrMisaligned           = errors.New("address is not page aligned")
)

// WalkError is returned when a walk stops early.
type WalkError struct {
	// Addr is the virtual address being walked.
	Addr hostarch.Addr

	// Level is the level of the entry that stopped the walk.
	Level Level

	// Err is one of the Err* values above.
	Err error
}

// Error implements error.Error.
func (e *WalkError) Error() string {
	return fmt.Sprintf("%v at %v: %v", e.Addr, e.Level, e.Err)
}

// Unwrap returns the underlying error.
func (e *WalkError) Unwrap() error {
	return e.Err
}

// OffsetTable is the active level-4 table, walked through the physical
// memory offset.
type OffsetTable struct {
	machine cpu.Machine
	offset  hostarch.Addr
	root    hostarch.PhysAddr
}

// Active returns the table referenced by CR3. offset is the virtual address
// at which all physical memory is mapped.
func Active(m cpu.Machine, offset hostarch.Addr) *OffsetTable {
	// Low bits are PCID or PWT/PCD; high bits are reserved.
	root := hostarch.PhysAddr(m.ReadCR3() & addressMask)
	return &OffsetTable{
		machine: m,
		offset:  offset,
		root:    root,
	}
}

// Root returns the physical address of the level-4 table.
func (t *OffsetTable) Root() hostarch.PhysAddr {
	return t.root
}

// Offset returns the physical memory offset.
func (t *OffsetTable) Offset() hostarch.Addr {
	return t.offset
}

// Virtual returns the virtual address at which phys is visible.
func (t *OffsetTable) Virtual(phys hostarch.PhysAddr) hostarch.Addr {
	return t.offset + hostarch.Addr(phys)
}

// Mapping describes the leaf that covers an address.
type Mapping struct {
	// Level is the level of the leaf: Level1 for 4 KiB pages, Level2 and
	// Level3 for huge frames.
	Level Level

	// Entry is the leaf entry.
	Entry PTE

	// Phys is the translated address, including the offset into the frame.
	Phys hostarch.PhysAddr

	// Writable and User are the effective permissions, combined across
	// all levels.
	Writable bool
	User     bool
}

// Lookup walks va to its leaf, following huge frames as the processor does.
func (t *OffsetTable) Lookup(va hostarch.Addr) (Mapping, error) {
	if !va.IsCanonical() {
		return Mapping{}, &WalkError{Addr: va, Level: Level4, Err: ErrNonCanonical}
	}
	m := Mapping{Writable: true, User: true}
	table := t.tables(t.root)
	for level := Level4; ; level-- {
		entry := table[level.Index(va)]
		if !entry.Valid() {
			return Mapping{}, &WalkError{Addr: va, Level: level, Err: ErrNotPresent}
		}
		m.Writable = m.Writable && entry&writable != 0
		m.User = m.User && entry&user != 0
		if level == Level1 || (entry.IsSuper() && level != Level4) {
			mask := hostarch.PhysAddr(level.Size() - 1)
			m.Level = level
			m.Entry = entry
			m.Phys = entry.Address()&^mask | hostarch.PhysAddr(va)&mask
			return m, nil
		}
		if entry.IsSuper() {
			// PS is reserved in the root table.
			return Mapping{}, &WalkError{Addr: va, Level: level, Err: ErrUnsupportedHugeFrame}
		}
		table = t.tables(entry.Address())
	}
}

// Translate returns the physical address va maps to. Only 4 KiB mappings are
// translated; a huge leaf yields ErrUnsupportedHugeFrame.
func (t *OffsetTable) Translate(va hostarch.Addr) (hostarch.PhysAddr, error) {
	m, err := t.Lookup(va)
	if err != nil {
		return 0, err
	}
	if m.Level != Level1 {
		return 0, &WalkError{Addr: va, Level: m.Level, Err: ErrUnsupportedHugeFrame}
	}
	return m.Phys, nil
}

// Map maps the 4 KiB page at page to frame. Missing intermediate tables are
// taken from frames and zeroed. The TLB entry for page is flushed.
func (t *OffsetTable) Map(page hostarch.Addr, frame physmem.Frame, opts MapOpts, frames physmem.Allocator) error {
	return t.mapAt(Level1, page, frame.Start(), opts, frames)
}

// MapHuge maps the 2 MiB region at va to the 2 MiB region at phys.
func (t *OffsetTable) MapHuge(va hostarch.Addr, phys hostarch.PhysAddr, opts MapOpts, frames physmem.Allocator) error {
	return t.mapAt(Level2, va, phys, opts, frames)
}

func (t *OffsetTable) mapAt(leafLevel Level, va hostarch.Addr, phys hostarch.PhysAddr, opts MapOpts, frames physmem.Allocator) error {
	if !va.IsCanonical() {
		return &WalkError{Addr: va, Level: Level4, Err: ErrNonCanonical}
	}
	mask := leafLevel.Size() - 1
	if uint64(va)&mask != 0 || uint64(phys)&mask != 0 {
		return &WalkError{Addr: va, Level: leafLevel, Err: ErrMisaligned}
	}

	table := t.tables(t.root)
	for level := Level4; level > leafLevel; level-- {
		entry := &table[level.Index(va)]
		switch {
		case !entry.Valid():
			f, ok := frames.AllocateFrame()
			if !ok {
				return &WalkError{Addr: va, Level: level, Err: ErrNoFrame}
			}
			next := t.tables(f.Start())
			clear(next[:])
			entry.setPageTable(f.Start(), opts.User)
		case entry.IsSuper():
			return &WalkError{Addr: va, Level: level, Err: ErrParentHugeFrame}
		case opts.User:
			*entry |= user
		}
		table = t.tables(entry.Address())
	}

	leaf := &table[leafLevel.Index(va)]
	if leaf.Valid() {
		return &WalkError{Addr: va, Level: leafLevel, Err: ErrAlreadyMapped}
	}
	if leafLevel != Level1 {
		leaf.SetSuper()
	}
	leaf.Set(phys, opts)
	t.machine.InvalidatePage(uint64(va))
	return nil
}

// Table returns the table at phys, viewed through the offset. It is used to
// build tables in frames that are not yet reachable from the root.
func (t *OffsetTable) Table(phys hostarch.PhysAddr) *PTEs {
	return t.tables(phys)
}
