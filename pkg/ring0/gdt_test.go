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
	"testing"

	"github.com/google/go-cmp/cmp"
	"tchaios.dev/kcore/pkg/cpu"
	"tchaios.dev/kcore/pkg/cpu/cputest"
)

func TestDescriptorsBuiltOnce(t *testing.T) {
	if Descriptors() != Descriptors() {
		t.Fatalf("Descriptors() returned two different tables")
	}
}

func TestSegmentEncodings(t *testing.T) {
	d := Descriptors()
	for _, tc := range []struct {
		slot int
		want uint64
	}{
		{segNull, 0},
		{segKcode, 0x00af9b000000ffff},
		{segKdata, 0x00cf93000000ffff},
		{segUnull, 0},
		{segUcode, 0x00affb000000ffff},
		{segUdata, 0x00cff3000000ffff},
	} {
		desc := d.Descriptor(tc.slot)
		if got := desc.Uint64(); got != tc.want {
			t.Errorf("slot %d = %#016x, want %#016x", tc.slot, got, tc.want)
		}
	}
	kcode := d.Descriptor(segKcode)
	if !kcode.IsCode64() || kcode.DPL() != 0 {
		t.Errorf("kernel code: IsCode64=%v DPL=%d", kcode.IsCode64(), kcode.DPL())
	}
	udata := d.Descriptor(segUdata)
	if !udata.IsData() || udata.DPL() != 3 {
		t.Errorf("user data: IsData=%v DPL=%d", udata.IsData(), udata.DPL())
	}
}

func TestSelectors(t *testing.T) {
	want := Selectors{
		Code:     0x08,
		Data:     0x10,
		UserCode: 0x23,
		UserData: 0x2b,
		TSS:      0x30,
	}
	if diff := cmp.Diff(want, Descriptors().Selectors()); diff != "" {
		t.Errorf("selectors mismatch (-want +got):\n%s", diff)
	}
}

func TestSingleTSSDescriptor(t *testing.T) {
	d := Descriptors()
	var found []int
	for i := 0; i < d.Len(); i++ {
		desc := d.Descriptor(i)
		if desc.IsTSS() {
			found = append(found, i)
		}
	}
	if len(found) != 1 {
		t.Fatalf("TSS descriptors at slots %v, want exactly one", found)
	}
	if got, want := found[0], d.Selectors().TSS.Index(); got != want {
		t.Errorf("TSS descriptor at slot %d, selector indexes %d", got, want)
	}

	base, limit := d.TSS()
	lo, hi := d.Descriptor(segTss), d.Descriptor(segTssHi)
	if !lo.IsTSSAvailable() {
		t.Errorf("TSS descriptor %#x is not an available 64-bit TSS", lo.Uint64())
	}
	if got := uint64(hi.Uint64()&0xffffffff)<<32 | uint64(lo.Base()); got != base {
		t.Errorf("TSS descriptor base = %#x, want %#x", got, base)
	}
	if got := lo.Limit(); got != uint32(limit) || limit != TaskStateSize-1 {
		t.Errorf("TSS descriptor limit = %d, TSS() limit = %d, want %d", got, limit, TaskStateSize-1)
	}
}

func TestFaultStack(t *testing.T) {
	tss := Descriptors().TaskState()
	top := tss.IST(DoubleFaultISTIndex)
	if top != FaultStackTop() {
		t.Fatalf("IST%d = %#x, want %#x", DoubleFaultISTIndex+1, top, FaultStackTop())
	}
	if top%16 != 0 {
		t.Errorf("fault stack top %#x is not 16-byte aligned", top)
	}
	if bottom := FaultStackBottom(); top <= bottom || top > bottom+FaultStackSize || top-bottom < FaultStackSize-16 {
		t.Errorf("fault stack top %#x outside arena [%#x, %#x]", top, bottom, bottom+FaultStackSize)
	}
	for i := 1; i < NumIST; i++ {
		if tss.IST(i) != 0 {
			t.Errorf("IST slot %d = %#x, want unused", i, tss.IST(i))
		}
	}
	if got := tss.IOPermBase(); got != TaskStateSize {
		t.Errorf("I/O permission base = %d, want %d", got, TaskStateSize)
	}
}

func TestLoadOrder(t *testing.T) {
	m := cputest.New()
	d := Descriptors()
	loaded := d.Load(m)

	want := []string{"gdt", "cs", "ss", "ds", "es", "fs", "gs", "tr"}
	if diff := cmp.Diff(want, m.LoadOrder); diff != "" {
		t.Errorf("load order mismatch (-want +got):\n%s", diff)
	}
	if got, want := Selector(m.Segment(cpu.CS)), d.Selectors().Code; got != want {
		t.Errorf("CS = %v, want %v", got, want)
	}
	for _, r := range dataSegments {
		if got, want := Selector(m.Segment(r)), d.Selectors().Data; got != want {
			t.Errorf("%v = %v, want %v", r, got, want)
		}
	}
	if got, want := Selector(m.TR), d.Selectors().TSS; got != want {
		t.Errorf("TR = %v, want %v", got, want)
	}
	if diff := cmp.Diff(d.GDT(), m.GDT); diff != "" {
		t.Errorf("GDT pointer mismatch (-want +got):\n%s", diff)
	}
	if m.GDT.Limit != 8*8-1 {
		t.Errorf("GDT limit = %d, want %d", m.GDT.Limit, 8*8-1)
	}
	if loaded.Tables() != d || loaded.Machine() != cpu.Machine(m) {
		t.Errorf("witness does not refer to the loaded tables and machine")
	}
}
