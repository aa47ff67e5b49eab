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
	"strings"

	"tchaios.dev/kcore/pkg/bits"
	"tchaios.dev/kcore/pkg/cpu"
	"tchaios.dev/kcore/pkg/kbd"
	"tchaios.dev/kcore/pkg/log"
)

// EndOfInterrupt acknowledges a serviced hardware interrupt.
type EndOfInterrupt interface {
	// NotifyEndOfInterrupt signals the controller owning vector.
	NotifyEndOfInterrupt(vector uint8)
}

// SpuriousFilter recognises spurious interrupts from the controller.
type SpuriousFilter interface {
	EndOfInterrupt

	// FilterSpurious returns true if vector was raised spuriously, after
	// sending whatever acknowledgement that requires.
	FilterSpurious(vector uint8) bool
}

// PageFaultErrorCode is the error code pushed with a page fault.
type PageFaultErrorCode uint64

// Page fault error code bits.
const (
	PageFaultProtectionViolation PageFaultErrorCode = 1 << 0
	PageFaultCausedByWrite       PageFaultErrorCode = 1 << 1
	PageFaultUserMode            PageFaultErrorCode = 1 << 2
	PageFaultMalformedTable      PageFaultErrorCode = 1 << 3
	PageFaultInstructionFetch    PageFaultErrorCode = 1 << 4
	PageFaultProtectionKey       PageFaultErrorCode = 1 << 5
	PageFaultShadowStack         PageFaultErrorCode = 1 << 6
)

var pageFaultBits = []struct {
	bit  PageFaultErrorCode
	name string
}{
	{PageFaultProtectionViolation, "PROTECTION_VIOLATION"},
	{PageFaultCausedByWrite, "CAUSED_BY_WRITE"},
	{PageFaultUserMode, "USER_MODE"},
	{PageFaultMalformedTable, "MALFORMED_TABLE"},
	{PageFaultInstructionFetch, "INSTRUCTION_FETCH"},
	{PageFaultProtectionKey, "PROTECTION_KEY"},
	{PageFaultShadowStack, "SHADOW_STACK"},
}

// String implements fmt.Stringer.String.
func (c PageFaultErrorCode) String() string {
	var names []string
	for _, b := range pageFaultBits {
		if bits.IsOn(c, b.bit) {
			names = append(names, b.name)
		}
	}
	if len(names) == 0 {
		// Not-present read in supervisor mode.
		return "NOT_PRESENT"
	}
	return strings.Join(names, " | ")
}

func exceptionName(v Vector) string {
	return strings.ToUpper(v.String())
}

// BreakpointHandler logs the trapping frame. Execution resumes after the
// int3.
func BreakpointHandler(l log.Logger) Handler {
	return func(t *Trap) {
		l.Warningf("EXCEPTION: %s\n%v", exceptionName(t.Vector), t.Frame)
	}
}

// DoubleFaultHandler logs the fault. The dispatcher halts the machine when it
// returns.
func DoubleFaultHandler(l log.Logger) TerminalHandler {
	return func(t *Trap) {
		l.Errorf("EXCEPTION: %s (error code %#x)\n%v", exceptionName(t.Vector), t.ErrorCode, t.Frame)
	}
}

// PageFaultHandler logs the faulting address and access, then idles with
// interrupts enabled. The faulting code is never resumed; timer and device
// interrupts are still serviced.
func PageFaultHandler(l log.Logger) Handler {
	return func(t *Trap) {
		m := t.Machine
		l.Warningf("EXCEPTION: %s\nAccessed Address: %#x\nError Code: %v\n%v",
			exceptionName(t.Vector), m.ReadCR2(), PageFaultErrorCode(t.ErrorCode), t.Frame)
		m.EnableInterrupts()
		Idle(m)
	}
}

// TimerHandler counts a tick and acknowledges the interrupt. It does not
// allocate or block.
func TimerHandler(ticks *TickCounter, eoi EndOfInterrupt) Handler {
	return func(t *Trap) {
		defer eoi.NotifyEndOfInterrupt(uint8(t.Vector))
		ticks.Increment()
	}
}

// KeySink receives decoded key presses.
type KeySink func(k kbd.Key)

// KeyboardHandler reads a scancode, decodes it and forwards any completed key
// to sink.
func KeyboardHandler(eoi EndOfInterrupt, decoder *cpu.Mutex[kbd.Decoder], sink KeySink) Handler {
	return func(t *Trap) {
		defer eoi.NotifyEndOfInterrupt(uint8(t.Vector))
		scancode := t.Machine.In8(kbd.DataPort)
		var (
			key kbd.Key
			ok  bool
		)
		decoder.With(func(d *kbd.Decoder) {
			key, ok = d.Feed(scancode)
		})
		if ok && sink != nil {
			sink(key)
		}
	}
}

// SpuriousHandler guards the lowest-priority line of a controller, which is
// also where spurious interrupts arrive. Spurious ones are logged and dropped;
// real ones go to next, or are just acknowledged if next is nil.
func SpuriousHandler(ctl SpuriousFilter, l log.Logger, next Handler) Handler {
	return func(t *Trap) {
		if ctl.FilterSpurious(uint8(t.Vector)) {
			l.Warningf("spurious interrupt on %v", t.Vector)
			return
		}
		if next != nil {
			next(t)
			return
		}
		ctl.NotifyEndOfInterrupt(uint8(t.Vector))
	}
}
