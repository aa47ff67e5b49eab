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

// Package physmem describes physical memory as reported by the bootloader
// and hands out page frames from it.
package physmem

import (
	"errors"
	"fmt"
	"iter"
	"strings"

	"tchaios.dev/kcore/pkg/hostarch"
	"tchaios.dev/kcore/pkg/log"
)

// Kind classifies a memory region.
type Kind int

const (
	// Usable memory is free for the kernel to allocate.
	Usable Kind = iota

	// Reserved memory must not be touched.
	Reserved

	// Bootloader memory holds the bootloader's own structures, including
	// the page tables the kernel starts with.
	Bootloader

	// ACPIReclaimable memory holds ACPI tables and may be reused once they
	// have been read.
	ACPIReclaimable

	// Unknown is any type the bootloader did not recognise.
	Unknown
)

var kindNames = map[Kind]string{
	Usable:          "usable",
	Reserved:        "reserved",
	Bootloader:      "bootloader",
	ACPIReclaimable: "acpi-reclaimable",
	Unknown:         "unknown",
}

// String implements fmt.Stringer.String.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if s, ok := kindNames[k]; ok {
		return []byte(s), nil
	}
	return nil, fmt.Errorf("invalid memory kind %d", int(k))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	s := strings.ToLower(string(b))
	for kind, name := range kindNames {
		if name == s {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown memory kind %q", b)
}

// Region is a contiguous range [Start, End) of physical memory.
type Region struct {
	Start hostarch.PhysAddr `toml:"start" yaml:"start"`
	End   hostarch.PhysAddr `toml:"end" yaml:"end"`
	Kind  Kind              `toml:"kind" yaml:"kind"`
}

// Length returns the size of the region in bytes.
func (r Region) Length() uint64 {
	return uint64(r.End - r.Start)
}

// String implements fmt.Stringer.String.
func (r Region) String() string {
	return fmt.Sprintf("[%#012x - %#012x] %s", uint64(r.Start), uint64(r.End), r.Kind)
}

// frames returns the index of the first whole frame in r and the number of
// whole frames it contains.
func (r Region) frames() (first, count uint64) {
	start, ok := r.Start.RoundUp()
	if !ok {
		return 0, 0
	}
	end := r.End.RoundDown()
	if end <= start {
		return 0, 0
	}
	return uint64(start) >> hostarch.PageShift, uint64(end-start) >> hostarch.PageShift
}

// Map is the ordered memory map handed over by the bootloader.
type Map []Region

// Errors returned by Map.Validate.
var (
	ErrInvertedRegion = errors.New("region ends before it starts")
	ErrUnordered      = errors.New("regions are not ordered")
	ErrOverlap        = errors.New("regions overlap")
)

// Validate checks that regions are well formed, ordered by start address and
// disjoint.
func (m Map) Validate() error {
	for i, r := range m {
		if r.End < r.Start {
			return fmt.Errorf("region %d %v: %w", i, r, ErrInvertedRegion)
		}
		if i == 0 {
			continue
		}
		prev := m[i-1]
		if r.Start < prev.Start {
			return fmt.Errorf("region %d %v after %v: %w", i, r, prev, ErrUnordered)
		}
		if r.Start < prev.End {
			return fmt.Errorf("region %d %v and %v: %w", i, r, prev, ErrOverlap)
		}
	}
	return nil
}

// UsableBytes returns the total size of Usable regions.
func (m Map) UsableBytes() uint64 {
	var total uint64
	for _, r := range m {
		if r.Kind == Usable {
			total += r.Length()
		}
	}
	return total
}

// UsableFrames yields every whole, page-aligned frame inside a Usable region,
// in map order.
func (m Map) UsableFrames() iter.Seq[Frame] {
	return func(yield func(Frame) bool) {
		for _, r := range m {
			if r.Kind != Usable {
				continue
			}
			first, count := r.frames()
			for i := uint64(0); i < count; i++ {
				if !yield(Frame((first + i) << hostarch.PageShift)) {
					return
				}
			}
		}
	}
}

// FrameAt returns the k-th frame UsableFrames would yield, without
// enumerating the frames before it. ok is false if there are at most k
// usable frames.
func (m Map) FrameAt(k uint64) (f Frame, ok bool) {
	for _, r := range m {
		if r.Kind != Usable {
			continue
		}
		first, count := r.frames()
		if k < count {
			return Frame((first + k) << hostarch.PageShift), true
		}
		k -= count
	}
	return 0, false
}

// Claim returns a copy of m in which the first n frames UsableFrames would
// yield are reclassified as kind, splitting regions where the claim ends.
func (m Map) Claim(n uint64, kind Kind) Map {
	out := make(Map, 0, len(m)+1)
	for _, r := range m {
		if r.Kind != Usable || n == 0 {
			out = append(out, r)
			continue
		}
		first, count := r.frames()
		take := min(n, count)
		if take == 0 {
			out = append(out, r)
			continue
		}
		end := hostarch.PhysAddr((first + take) << hostarch.PageShift)
		out = append(out, Region{Start: r.Start, End: end, Kind: kind})
		if end < r.End {
			out = append(out, Region{Start: end, End: r.End, Kind: Usable})
		}
		n -= take
	}
	return out
}

// Log writes the memory map and the usable total to l.
func (m Map) Log(l log.Logger) {
	l.Infof("system memory map:")
	for _, r := range m {
		l.Infof("\t%v, size: %10d", r, r.Length())
	}
	l.Infof("usable memory: %d KiB", m.UsableBytes()>>10)
}
