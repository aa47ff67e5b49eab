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
	"tchaios.dev/kcore/pkg/hostarch"
)

// TaskState64 is a 64-bit task state structure.
//
// Stack pointers are split into 32-bit halves because the hardware layout
// places them at 4-byte offsets.
type TaskState64 struct {
	_      uint32
	rsp    [3][2]uint32
	_      [2]uint32
	ist    [7][2]uint32
	_      [2]uint32
	_      uint16
	ioPerm uint16
}

// TaskStateSize is the size of TaskState64 in bytes.
const TaskStateSize = 104

// NumIST is the number of interrupt stack table slots.
const NumIST = 7

// IST returns the stack top in interrupt stack table slot index. Slot 0 is
// what gates call IST1.
func (t *TaskState64) IST(index int) uint64 {
	return uint64(t.ist[index][1])<<32 | uint64(t.ist[index][0])
}

func (t *TaskState64) setIST(index int, top uint64) {
	t.ist[index][0] = uint32(top)
	t.ist[index][1] = uint32(top >> 32)
}

// RSP returns the privilege-level stack pointer for ring pl.
func (t *TaskState64) RSP(pl int) uint64 {
	return uint64(t.rsp[pl][1])<<32 | uint64(t.rsp[pl][0])
}

// IOPermBase returns the offset of the I/O permission bitmap.
func (t *TaskState64) IOPermBase() uint16 {
	return t.ioPerm
}

const (
	// DoubleFaultISTIndex is the interrupt stack table slot holding the
	// double fault stack.
	DoubleFaultISTIndex = 0

	// FaultStackSize is the size of the double fault stack.
	FaultStackSize = 5 * hostarch.PageSize
)

// faultStack backs the double fault IST slot. It is never freed and no other
// stack points into it; the processor switches to it when the current stack
// can no longer be trusted.
var faultStack [FaultStackSize]byte

// FaultStackTop returns the initial stack pointer of the double fault stack.
// Stacks grow down, so this is one past the arena, aligned to 16 bytes.
func FaultStackTop() uint64 {
	return (kernelAddr(&faultStack[0]) + FaultStackSize) &^ 15
}

// FaultStackBottom returns the lowest address of the double fault stack.
func FaultStackBottom() uint64 {
	return kernelAddr(&faultStack[0])
}
