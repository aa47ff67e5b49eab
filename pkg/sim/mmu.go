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

	"tchaios.dev/kcore/pkg/hostarch"
	"tchaios.dev/kcore/pkg/ring0"
	"tchaios.dev/kcore/pkg/ring0/pagetables"
)

// pageTables returns the tables CR3 refers to. The processor walks them
// through the same physical memory offset the loader gave the kernel.
func (m *Machine) pageTables() *pagetables.OffsetTable {
	return pagetables.Active(m, m.mem.Offset())
}

// check walks va as a supervisor data access and returns the fault it
// raises, if any.
func (m *Machine) check(va uint64, write bool) *fault {
	var code ring0.PageFaultErrorCode
	if write {
		code |= ring0.PageFaultCausedByWrite
	}
	mapping, err := m.pageTables().Lookup(hostarch.Addr(va))
	switch {
	case errors.Is(err, pagetables.ErrNonCanonical):
		return &fault{vector: ring0.GeneralProtectionFault}
	case errors.Is(err, pagetables.ErrNotPresent):
		return &fault{vector: ring0.PageFault, code: uint64(code), addr: va}
	case err != nil:
		// PS set in the root table is a reserved bit.
		code |= ring0.PageFaultProtectionViolation | ring0.PageFaultMalformedTable
		return &fault{vector: ring0.PageFault, code: uint64(code), addr: va}
	case write && !mapping.Writable:
		code |= ring0.PageFaultProtectionViolation
		return &fault{vector: ring0.PageFault, code: uint64(code), addr: va}
	}
	return nil
}

// Access performs a load or store at va through the page tables. If the
// access faults, the fault is delivered and Access returns false once the
// handler returns.
func (m *Machine) Access(va uint64, write bool) bool {
	if f := m.check(va, write); f != nil {
		m.raise(f)
		return false
	}
	return true
}

// checkStack returns the fault pushing a frame at sp raises. Only the
// loader's stack window is paged; stacks elsewhere, such as the fault stack,
// are part of the kernel image in host memory.
func (m *Machine) checkStack(sp uint64) *fault {
	lo, hi := uint64(m.layout.StackGuard()), uint64(m.layout.StackTop())
	if sp+frameSize <= lo || sp >= hi {
		return nil
	}
	for _, va := range []uint64{sp, sp + frameSize - 1} {
		if f := m.check(va, true); f != nil {
			return f
		}
	}
	return nil
}
