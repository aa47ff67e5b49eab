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
	"testing"

	"github.com/google/go-cmp/cmp"
	"tchaios.dev/kcore/pkg/cpu"
	"tchaios.dev/kcore/pkg/cpu/cputest"
	"tchaios.dev/kcore/pkg/kbd"
	"tchaios.dev/kcore/pkg/log"
)

const (
	timerVector    = FirstExternal
	keyboardVector = FirstExternal + 1
)

// eoiRecorder is a mock interrupt controller.
type eoiRecorder struct {
	vectors  []uint8
	spurious map[uint8]bool
}

func (e *eoiRecorder) NotifyEndOfInterrupt(vector uint8) {
	e.vectors = append(e.vectors, vector)
}

func (e *eoiRecorder) FilterSpurious(vector uint8) bool {
	return e.spurious[vector]
}

// errHalted is thrown by OnHalt to leave handlers that never return.
type errHalted struct{}

func haltAfter(m *cputest.Machine, n int, onHalt func()) {
	m.OnHalt = func() {
		if onHalt != nil {
			onHalt()
		}
		if m.Halts >= n {
			panic(errHalted{})
		}
	}
}

// expectHalt runs f and reports whether it was stopped by haltAfter.
func expectHalt(t *testing.T, f func()) {
	t.Helper()
	defer func() {
		r := recover()
		if _, ok := r.(errHalted); !ok {
			t.Fatalf("expected the machine to halt, got %v", r)
		}
	}()
	f()
}

type fixture struct {
	m      *cputest.Machine
	ticks  *TickCounter
	eoi    *eoiRecorder
	logger *recordingLogger
	table  *VectorTable
}

// newFixture loads the descriptor tables and a vector table with bindings.
// Interrupts are left disabled.
func newFixture(t *testing.T, bindings func(f *fixture) []Binding) *fixture {
	t.Helper()
	f := &fixture{
		m:      cputest.New(),
		ticks:  new(TickCounter),
		eoi:    &eoiRecorder{spurious: make(map[uint8]bool)},
		logger: new(recordingLogger),
	}
	loaded := Descriptors().Load(f.m)
	f.table = NewVectorTable(loaded, bindings(f)...)
	f.table.Load()
	return f
}

func minimalBindings(f *fixture) []Binding {
	return []Binding{
		Bind(Breakpoint, BreakpointHandler(f.logger)),
		BindTerminal(DoubleFault, DoubleFaultHandler(f.logger)),
		Bind(timerVector, TimerHandler(f.ticks, f.eoi)),
	}
}

func TestOnlyBoundVectorsPresent(t *testing.T) {
	f := newFixture(t, minimalBindings)
	bound := map[Vector]bool{Breakpoint: true, DoubleFault: true, timerVector: true}
	for v := 0; v < NumVectors; v++ {
		vec := Vector(v)
		gate := f.table.Gate(vec)
		if got, want := f.table.Bound(vec), bound[vec]; got != want {
			t.Errorf("Bound(%v) = %v, want %v", vec, got, want)
		}
		if got, want := gate.Present(), bound[vec]; got != want {
			t.Errorf("gate %d present = %v, want %v", v, got, want)
		}
	}
}

func TestGateEncoding(t *testing.T) {
	f := newFixture(t, minimalBindings)
	code := Descriptors().Selectors().Code
	for _, tc := range []struct {
		vector Vector
		dpl    int
		ist    int
	}{
		{Breakpoint, 3, 0},
		{DoubleFault, 0, DoubleFaultISTIndex + 1},
		{timerVector, 0, 0},
	} {
		g := f.table.Gate(tc.vector)
		if got, want := g.Offset(), f.m.EntryPoint(uint8(tc.vector)); got != want {
			t.Errorf("%v: offset %#x, want %#x", tc.vector, got, want)
		}
		if g.Selector() != code {
			t.Errorf("%v: selector %v, want %v", tc.vector, g.Selector(), code)
		}
		if g.DPL() != tc.dpl || g.IST() != tc.ist || !g.IsInterruptGate() {
			t.Errorf("%v: dpl %d ist %d type %d, want dpl %d ist %d type 14", tc.vector, g.DPL(), g.IST(), g.Type(), tc.dpl, tc.ist)
		}
	}
	if got := f.table.IDT().Limit; got != 16*NumVectors-1 {
		t.Errorf("IDT limit = %d, want %d", got, 16*NumVectors-1)
	}
	if diff := cmp.Diff(f.table.IDT(), f.m.IDT); diff != "" {
		t.Errorf("loaded IDT pointer mismatch (-want +got):\n%s", diff)
	}
}

func TestBindTwicePanics(t *testing.T) {
	m := cputest.New()
	loaded := Descriptors().Load(m)
	defer func() {
		if recover() == nil {
			t.Errorf("binding a vector twice did not panic")
		}
	}()
	h := func(*Trap) {}
	NewVectorTable(loaded, Bind(timerVector, h), Bind(timerVector, h))
}

func TestTimerCountsAndAcknowledges(t *testing.T) {
	f := newFixture(t, minimalBindings)
	const n = 1000
	for i := 0; i < n; i++ {
		f.m.Raise(uint8(timerVector), 0)
	}
	if got, ok := f.ticks.Load().Uint64(); !ok || got != n {
		t.Errorf("ticks = %v, want %d", f.ticks.Load(), n)
	}
	if len(f.eoi.vectors) != n {
		t.Fatalf("%d EOIs, want %d", len(f.eoi.vectors), n)
	}
	for i, v := range f.eoi.vectors {
		if v != uint8(timerVector) {
			t.Fatalf("EOI %d for vector %d, want %d", i, v, timerVector)
		}
	}
}

func TestBreakpointResumes(t *testing.T) {
	f := newFixture(t, minimalBindings)
	f.m.Raise(uint8(timerVector), 0)
	before := f.ticks.Load()

	f.m.Frame = cpu.InterruptFrame{InstructionPointer: 0x201234, CodeSegment: 0x8}
	f.m.Breakpoint()

	if after := f.ticks.Load(); after != before {
		t.Errorf("breakpoint changed ticks from %v to %v", before, after)
	}
	msg, ok := f.logger.find(log.Warning, "EXCEPTION: BREAKPOINT")
	if !ok {
		t.Fatalf("no breakpoint diagnostic in %v", f.logger.lines)
	}
	if !strings.Contains(msg, "RIP = 0000000000201234") {
		t.Errorf("breakpoint diagnostic lacks the frame: %q", msg)
	}
	if f.m.Halts != 0 {
		t.Errorf("breakpoint halted the machine")
	}
}

func TestDoubleFaultHalts(t *testing.T) {
	f := newFixture(t, minimalBindings)
	f.m.Interrupts = true
	var interruptsAtHalt bool
	haltAfter(f.m, 1, func() { interruptsAtHalt = f.m.Interrupts })

	expectHalt(t, func() { f.m.Raise(uint8(DoubleFault), 0) })

	if interruptsAtHalt {
		t.Errorf("halted with interrupts enabled after a double fault")
	}
	if _, ok := f.logger.find(log.Error, "EXCEPTION: DOUBLE FAULT (error code 0x0)"); !ok {
		t.Errorf("no double fault diagnostic in %v", f.logger.lines)
	}
}

func TestTerminalHandlerReturningHalts(t *testing.T) {
	f := newFixture(t, func(f *fixture) []Binding {
		return []Binding{BindTerminal(GeneralProtectionFault, func(*Trap) {})}
	})
	haltAfter(f.m, 3, nil)
	expectHalt(t, func() { f.m.Raise(uint8(GeneralProtectionFault), 0x10) })
	if f.m.Halts != 3 {
		t.Errorf("halts = %d, want 3", f.m.Halts)
	}
}

func TestPageFaultIdlesWithInterruptsEnabled(t *testing.T) {
	f := newFixture(t, func(f *fixture) []Binding {
		return append(minimalBindings(f), Bind(PageFault, PageFaultHandler(f.logger)))
	})
	f.m.CR2 = 0xdeadbeaf
	var disabledHalts int
	haltAfter(f.m, 5, func() {
		if !f.m.Interrupts {
			disabledHalts++
		}
	})

	expectHalt(t, func() {
		f.m.Raise(uint8(PageFault), uint64(PageFaultCausedByWrite))
	})

	if disabledHalts != 0 {
		t.Errorf("%d halts with interrupts disabled, want 0", disabledHalts)
	}
	msg, ok := f.logger.find(log.Warning, "EXCEPTION: PAGE FAULT")
	if !ok {
		t.Fatalf("no page fault diagnostic in %v", f.logger.lines)
	}
	for _, want := range []string{"Accessed Address: 0xdeadbeaf", "Error Code: CAUSED_BY_WRITE"} {
		if !strings.Contains(msg, want) {
			t.Errorf("page fault diagnostic %q lacks %q", msg, want)
		}
	}
}

func TestKeyboardForwardsKeys(t *testing.T) {
	var keys []kbd.Key
	f := newFixture(t, func(f *fixture) []Binding {
		decoder := cpu.NewMutex(f.m, kbd.Decoder{})
		return []Binding{
			Bind(keyboardVector, KeyboardHandler(f.eoi, decoder, func(k kbd.Key) {
				keys = append(keys, k)
			})),
		}
	})
	f.m.Input[kbd.DataPort] = []uint8{0x2a, 0x23, 0xa3, 0xaa, 0x17}
	for i := 0; i < 5; i++ {
		f.m.Raise(uint8(keyboardVector), 0)
	}
	if diff := cmp.Diff([]kbd.Key{{Char: 'H'}, {Char: 'i'}}, keys); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
	if len(f.eoi.vectors) != 5 {
		t.Errorf("%d EOIs for 5 keyboard interrupts", len(f.eoi.vectors))
	}
}

func TestSpuriousHandler(t *testing.T) {
	const lpt = FirstExternal + 7
	var forwarded int
	f := newFixture(t, func(f *fixture) []Binding {
		return []Binding{Bind(lpt, SpuriousHandler(f.eoi, f.logger, nil))}
	})
	f.eoi.spurious[uint8(lpt)] = true
	f.m.Raise(uint8(lpt), 0)
	if len(f.eoi.vectors) != 0 {
		t.Errorf("spurious interrupt was acknowledged")
	}
	if _, ok := f.logger.find(log.Warning, "spurious"); !ok {
		t.Errorf("no spurious interrupt warning")
	}

	f.eoi.spurious[uint8(lpt)] = false
	f.m.Raise(uint8(lpt), 0)
	if len(f.eoi.vectors) != 1 {
		t.Errorf("real interrupt acknowledged %d times, want 1", len(f.eoi.vectors))
	}

	h := SpuriousHandler(f.eoi, f.logger, func(*Trap) { forwarded++ })
	h(&Trap{Vector: lpt, Machine: f.m})
	if forwarded != 1 {
		t.Errorf("real handler called %d times, want 1", forwarded)
	}
}

func TestPageFaultErrorCodeString(t *testing.T) {
	for _, tc := range []struct {
		code PageFaultErrorCode
		want string
	}{
		{0, "NOT_PRESENT"},
		{PageFaultProtectionViolation | PageFaultCausedByWrite, "PROTECTION_VIOLATION | CAUSED_BY_WRITE"},
		{PageFaultUserMode | PageFaultInstructionFetch, "USER_MODE | INSTRUCTION_FETCH"},
	} {
		if got := tc.code.String(); got != tc.want {
			t.Errorf("%#x.String() = %q, want %q", uint64(tc.code), got, tc.want)
		}
	}
}
