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

package cpu

import (
	"fmt"
	"io"
	"strings"
)

// InterruptFrame is the frame the processor pushes on trap entry, consumed by
// iretq.
type InterruptFrame struct {
	InstructionPointer uint64
	CodeSegment        uint64
	CPUFlags           uint64
	StackPointer       uint64
	StackSegment       uint64
}

// RFLAGS bits reported in frames.
const (
	// FlagInterrupt is RFLAGS.IF.
	FlagInterrupt = 1 << 9

	// FlagReserved is RFLAGS bit 1, which always reads as one.
	FlagReserved = 1 << 1
)

// DumpTo outputs the frame contents to w.
func (f *InterruptFrame) DumpTo(w io.Writer) {
	fmt.Fprintf(w, "RIP = %016x CS  = %016x\n", f.InstructionPointer, f.CodeSegment)
	fmt.Fprintf(w, "RSP = %016x SS  = %016x\n", f.StackPointer, f.StackSegment)
	fmt.Fprintf(w, "RFL = %016x\n", f.CPUFlags)
}

// String implements fmt.Stringer.String.
func (f *InterruptFrame) String() string {
	var b strings.Builder
	f.DumpTo(&b)
	return b.String()
}
