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

import "fmt"

// Vector is an interrupt vector.
type Vector uint8

// Exception vectors.
const (
	DivideByZero Vector = iota
	Debug
	NMI
	Breakpoint
	Overflow
	BoundRangeExceeded
	InvalidOpcode
	DeviceNotAvailable
	DoubleFault
	CoprocessorSegmentOverrun
	InvalidTSS
	SegmentNotPresent
	StackSegmentFault
	GeneralProtectionFault
	PageFault
	_
	X87FloatingPointException
	AlignmentCheck
	MachineCheck
	SIMDFloatingPointException
	VirtualizationException
	SecurityException = 0x1e

	// FirstExternal is the first vector not reserved for exceptions.
	FirstExternal Vector = 32
)

// NumVectors is the number of IDT entries.
const NumVectors = 256

var exceptionNames = map[Vector]string{
	DivideByZero:               "divide error",
	Debug:                      "debug",
	NMI:                        "non-maskable interrupt",
	Breakpoint:                 "breakpoint",
	Overflow:                   "overflow",
	BoundRangeExceeded:         "bound range exceeded",
	InvalidOpcode:              "invalid opcode",
	DeviceNotAvailable:         "device not available",
	DoubleFault:                "double fault",
	CoprocessorSegmentOverrun:  "coprocessor segment overrun",
	InvalidTSS:                 "invalid tss",
	SegmentNotPresent:          "segment not present",
	StackSegmentFault:          "stack-segment fault",
	GeneralProtectionFault:     "general protection fault",
	PageFault:                  "page fault",
	X87FloatingPointException:  "x87 floating-point exception",
	AlignmentCheck:             "alignment check",
	MachineCheck:               "machine check",
	SIMDFloatingPointException: "simd floating-point exception",
	VirtualizationException:    "virtualization exception",
	SecurityException:          "security exception",
}

// String implements fmt.Stringer.String.
func (v Vector) String() string {
	if name, ok := exceptionNames[v]; ok {
		return name
	}
	return fmt.Sprintf("vector %d", uint8(v))
}

// HasErrorCode returns true if the processor pushes an error code for v.
func (v Vector) HasErrorCode() bool {
	switch v {
	case DoubleFault, InvalidTSS, SegmentNotPresent, StackSegmentFault,
		GeneralProtectionFault, PageFault, AlignmentCheck, SecurityException:
		return true
	}
	return false
}
