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
	"fmt"
	"strings"

	"tchaios.dev/kcore/pkg/hostarch"
)

// Opts are x86 options.
const (
	present      = 1 << 0
	writable     = 1 << 1
	user         = 1 << 2
	writeThrough = 1 << 3
	cacheDisable = 1 << 4
	accessed     = 1 << 5
	dirty        = 1 << 6
	super        = 1 << 7
	global       = 1 << 8

	executeDisable = 1 << 63
)

const (
	addressMask = 0x000ffffffffff000

	// entriesPerPage is the number of PTEs in one table.
	entriesPerPage = 512
)

// MapOpts are the options for a single leaf mapping.
type MapOpts struct {
	// Writable allows writes through the mapping.
	Writable bool

	// Execute allows instruction fetches. Without it the entry carries NX.
	Execute bool

	// User allows ring 3 access.
	User bool

	// Global survives CR3 reloads.
	Global bool

	// MemoryType is the caching mode for the mapped frame.
	MemoryType hostarch.MemoryType
}

func (o MapOpts) String() string {
	var b strings.Builder
	b.WriteByte('r')
	if o.Writable {
		b.WriteByte('w')
	} else {
		b.WriteByte('-')
	}
	if o.Execute {
		b.WriteByte('x')
	} else {
		b.WriteByte('-')
	}
	if o.User {
		b.WriteString(" user")
	}
	if o.Global {
		b.WriteString(" global")
	}
	fmt.Fprintf(&b, " %s", o.MemoryType.ShortString())
	return b.String()
}

// PTE is a page table entry at any level.
type PTE uint64

// PTEs is one page table.
type PTEs [entriesPerPage]PTE

// Valid returns true iff this entry is present.
func (p PTE) Valid() bool {
	return p&present != 0
}

// IsSuper returns true iff this entry maps a 2 MiB or 1 GiB frame instead of
// referencing a lower-level table.
func (p PTE) IsSuper() bool {
	return p&super != 0
}

// Address extracts the frame or table address.
func (p PTE) Address() hostarch.PhysAddr {
	return hostarch.PhysAddr(p & addressMask)
}

// Opts returns the leaf options encoded in this entry.
func (p PTE) Opts() MapOpts {
	opts := MapOpts{
		Writable: p&writable != 0,
		Execute:  p&executeDisable == 0,
		User:     p&user != 0,
		Global:   p&global != 0,
	}
	switch {
	case p&cacheDisable != 0:
		opts.MemoryType = hostarch.MemoryTypeUncached
	case p&writeThrough != 0:
		opts.MemoryType = hostarch.MemoryTypeWriteThrough
	}
	return opts
}

// Accessed returns the accessed bit.
func (p PTE) Accessed() bool {
	return p&accessed != 0
}

// Dirty returns the dirty bit.
func (p PTE) Dirty() bool {
	return p&dirty != 0
}

// Set sets this entry to map addr with opts. The super bit is preserved.
func (p *PTE) Set(addr hostarch.PhysAddr, opts MapOpts) {
	v := PTE(addr)&addressMask | present
	if opts.Writable {
		v |= writable
	}
	if !opts.Execute {
		v |= executeDisable
	}
	if opts.User {
		v |= user
	}
	if opts.Global {
		v |= global
	}
	switch opts.MemoryType {
	case hostarch.MemoryTypeUncached:
		v |= writeThrough | cacheDisable
	case hostarch.MemoryTypeWriteThrough:
		v |= writeThrough
	}
	*p = v | *p&super
}

// SetSuper sets this entry as a huge leaf. It must be called before Set.
func (p *PTE) SetSuper() {
	*p |= super
}

// setPageTable points this entry at a lower-level table. Intermediate entries
// are always writable and executable; leaves restrict access.
func (p *PTE) setPageTable(addr hostarch.PhysAddr, userAccess bool) {
	v := PTE(addr)&addressMask | present | writable
	if userAccess {
		v |= user
	}
	*p = v
}

func (p PTE) String() string {
	if !p.Valid() {
		return "not present"
	}
	kind := "table"
	if p.IsSuper() {
		kind = "huge"
	}
	return fmt.Sprintf("%v %s [%v]", p.Address(), kind, p.Opts())
}
