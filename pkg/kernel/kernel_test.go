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

package kernel

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"
	"tchaios.dev/kcore/pkg/bootinfo"
	"tchaios.dev/kcore/pkg/hostarch"
	"tchaios.dev/kcore/pkg/kbd"
	"tchaios.dev/kcore/pkg/log"
	"tchaios.dev/kcore/pkg/physmem"
	"tchaios.dev/kcore/pkg/pic"
	"tchaios.dev/kcore/pkg/ring0/pagetables"
	"tchaios.dev/kcore/pkg/sim"
	"tchaios.dev/kcore/pkg/sync"
)

type logBuffer struct {
	mu sync.Mutex
	b  strings.Builder
}

func (l *logBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *logBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

func load(t *testing.T) (*sim.Machine, *bootinfo.Info, Config, *logBuffer) {
	t.Helper()
	buf := new(logBuffer)
	l := &log.BasicLogger{
		Level: log.Debug,
		Emitter: &log.MultiEmitter{
			&log.TestEmitter{TestLogger: t},
			log.GoogleEmitter{Writer: &log.Writer{Next: buf}},
		},
	}
	m, info, err := sim.Load(sim.DefaultLayout(), l)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() {
		if err := m.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	c := DefaultConfig()
	c.Logger = l
	return m, info, c, buf
}

// watch powers m off once cond holds, or after a timeout.
func watch(ctx context.Context, m *sim.Machine, cond func() bool) error {
	deadline := time.After(10 * time.Second)
	for !cond() {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			m.PowerOff()
			return errors.New("timed out")
		case <-time.After(time.Millisecond):
		}
	}
	m.PowerOff()
	return nil
}

func TestNewBootsAndMapsHeap(t *testing.T) {
	m, info, c, buf := load(t)
	err := m.Run(func() {
		k, err := New(m, info, c)
		if err != nil {
			t.Errorf("New: %v", err)
			return
		}
		if !m.InterruptsEnabled() {
			t.Errorf("interrupts disabled after boot")
		}
		if got := k.VectorTable().IDT().Limit; got != 4095 {
			t.Errorf("IDT limit = %d, want 4095", got)
		}
		pa, err := k.Translate(c.HeapStart + 0x123)
		if err != nil {
			t.Errorf("Translate(heap): %v", err)
		} else if pa.PageOffset() != 0x123 {
			t.Errorf("Translate(heap) = %v, want page offset 0x123", pa)
		}
		last := c.HeapStart + hostarch.Addr(c.HeapSize) - 1
		if _, err := k.Translate(last); err != nil {
			t.Errorf("Translate(last heap byte): %v", err)
		}
		end, _ := (c.HeapStart + hostarch.Addr(c.HeapSize)).RoundUp()
		if _, err := k.Translate(end); !errors.Is(err, pagetables.ErrNotPresent) {
			t.Errorf("Translate(heap end) = %v, want not present", err)
		}
		if !m.Access(uint64(c.HeapStart), true) {
			t.Errorf("heap write faulted")
		}
		if got, _ := k.Ticks().Uint64(); got != 0 {
			t.Errorf("ticks = %d before any timer interrupt", got)
		}
		f, ok := k.AllocateFrame()
		if !ok {
			t.Errorf("no frames left after boot")
		} else if f.Start() < 0x1000 {
			t.Errorf("allocated %v", f)
		}
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	_, _, imr := m.PIC()
	enabled := pic.LinesOf(pic.IRQTimer, pic.IRQKeyboard)
	if got := pic.Lines(^imr); got != enabled {
		t.Errorf("unmasked lines %v, want %v", got, enabled)
	}
	out := buf.String()
	for _, want := range []string{"physical memory offset", "loaded idt", "enabled interrupts", "mapped 100 KiB heap"} {
		if !strings.Contains(out, want) {
			t.Errorf("boot log lacks %q", want)
		}
	}
}

func TestNewRejects(t *testing.T) {
	m, info, c, _ := load(t)

	bad := info.Clone()
	bad.PhysicalMemoryOffset |= 0x123
	if _, err := New(m, bad, c); !errors.Is(err, bootinfo.ErrBadOffset) {
		t.Errorf("New with a misaligned offset = %v, want %v", err, bootinfo.ErrBadOffset)
	}

	for _, offset := range []uint8{0, 8, 31, 241} {
		c := c
		c.PICOffset = offset
		if _, err := New(m, info, c); !errors.Is(err, ErrBadConfig) {
			t.Errorf("New with PIC offset %d = %v, want %v", offset, err, ErrBadConfig)
		}
	}
	if m.InterruptsEnabled() {
		t.Errorf("rejected configuration enabled interrupts")
	}
}

func TestNewKeepsItsOwnInfo(t *testing.T) {
	m, info, c, _ := load(t)
	want := info.Clone()
	err := m.Run(func() {
		k, err := New(m, info, c)
		if err != nil {
			t.Errorf("New: %v", err)
			return
		}
		info.MemoryRegions[0].Kind = physmem.Usable
		if diff := cmp.Diff(want, k.Info()); diff != "" {
			t.Errorf("kernel info changed with the caller's (-want +got):\n%s", diff)
		}
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestHeapExhausted(t *testing.T) {
	m, info, c, _ := load(t)
	err := m.Run(func() {
		c := c
		c.HeapSize = 64 << 20
		if _, err := New(m, info, c); !errors.Is(err, ErrHeapExhausted) {
			t.Errorf("New with an oversized heap = %v, want %v", err, ErrHeapExhausted)
		}
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestMapHeapRunsOutOfTables(t *testing.T) {
	m, info, _, _ := load(t)
	first, ok := info.MemoryRegions.FrameAt(0)
	if !ok {
		t.Fatalf("no free frames")
	}
	// The first page takes a frame, leaving two of the three tables it needs.
	few := physmem.Map{{
		Start: first.Start(),
		End:   first.Start() + 3*hostarch.PageSize,
		Kind:  physmem.Usable,
	}}
	pages := pagetables.Active(m, hostarch.Addr(info.PhysicalMemoryOffset))
	frames := physmem.NewFrameAllocator(few)
	err := MapHeap(pages, frames, DefaultHeapStart, DefaultHeapSize)
	if !errors.Is(err, ErrHeapExhausted) {
		t.Fatalf("MapHeap = %v, want %v", err, ErrHeapExhausted)
	}
	if got := frames.Allocated(); got != 3 {
		t.Errorf("allocated %d frames, want all 3", got)
	}
}

func TestMapHeapOverflow(t *testing.T) {
	m, info, _, _ := load(t)
	pages := pagetables.Active(m, hostarch.Addr(info.PhysicalMemoryOffset))
	frames := physmem.NewFrameAllocator(info.MemoryRegions)
	if err := MapHeap(pages, frames, ^hostarch.Addr(0)-hostarch.PageSize, 2*hostarch.PageSize); err == nil {
		t.Errorf("MapHeap past the end of the address space succeeded")
	}
	if got := frames.Allocated(); got != 0 {
		t.Errorf("allocated %d frames for an impossible heap", got)
	}
}

func TestKeysReachTheSink(t *testing.T) {
	m, info, c, _ := load(t)
	var keys []kbd.Key
	c.Keys = func(k kbd.Key) {
		keys = append(keys, k)
	}
	err := m.Run(func() {
		if _, err := New(m, info, c); err != nil {
			t.Errorf("New: %v", err)
			return
		}
		// o, k, then Escape.
		m.Press(0x18, 0x98, 0x25, 0xa5, 0x01)
		for len(keys) < 3 {
			m.Halt()
		}
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []kbd.Key{{Char: 'o'}, {Char: 'k'}, {Raw: kbd.Escape}}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
}

func TestPageFaultKeepsTicking(t *testing.T) {
	m, info, c, buf := load(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	booted := make(chan *Kernel, 1)
	var g errgroup.Group
	g.Go(func() error {
		return m.RunTimer(ctx, 1000)
	})
	g.Go(func() error {
		var k *Kernel
		select {
		case k = <-booted:
		case <-m.Stopped():
			return nil
		}
		return watch(ctx, m, func() bool {
			n, _ := k.Ticks().Uint64()
			return n >= 5
		})
	})
	err := m.Run(func() {
		k, err := New(m, info, c)
		if err != nil {
			t.Errorf("New: %v", err)
			return
		}
		booted <- k
		m.Access(0xdeadbeaf, true)
		t.Errorf("page fault handler returned")
	})
	cancel()
	if werr := g.Wait(); werr != nil {
		t.Errorf("Wait: %v", werr)
	}
	if err != nil {
		t.Fatalf("Run = %v, want a clean power off", err)
	}
	out := buf.String()
	for _, want := range []string{"EXCEPTION: PAGE FAULT", "Accessed Address: 0xdeadbeaf", "Error Code: CAUSED_BY_WRITE"} {
		if !strings.Contains(out, want) {
			t.Errorf("page fault report lacks %q", want)
		}
	}
}

func TestStackOverflowHalts(t *testing.T) {
	m, info, c, buf := load(t)
	err := m.Run(func() {
		if _, err := New(m, info, c); err != nil {
			t.Errorf("New: %v", err)
			return
		}
		m.SetStackPointer(uint64(m.Layout().StackGuard()) + 0x100)
		m.Breakpoint()
		t.Errorf("processor continued after a double fault")
	})
	if !errors.Is(err, sim.ErrHalted) {
		t.Fatalf("Run = %v, want %v", err, sim.ErrHalted)
	}
	if out := buf.String(); !strings.Contains(out, "EXCEPTION: DOUBLE FAULT") {
		t.Errorf("no double fault report in %q", out)
	}
}

// TestBoot is the only test that boots the process-wide kernel.
func TestBoot(t *testing.T) {
	if got, _ := Ticks().Uint64(); got != 0 {
		t.Fatalf("Ticks before boot = %d", got)
	}
	m, info, c, _ := load(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var g errgroup.Group
	g.Go(func() error {
		return m.RunTimer(ctx, 1000)
	})
	g.Go(func() error {
		return watch(ctx, m, func() bool {
			n, _ := Ticks().Uint64()
			return n >= 10
		})
	})
	err := m.Run(func() {
		if _, err := Boot(m, info, c); err != nil {
			t.Errorf("Boot: %v", err)
			return
		}
		if _, err := Boot(m, info, c); !errors.Is(err, ErrAlreadyBooted) {
			t.Errorf("second Boot = %v, want %v", err, ErrAlreadyBooted)
		}
		IdleMode()
	})
	cancel()
	if werr := g.Wait(); werr != nil {
		t.Errorf("Wait: %v", werr)
	}
	if err != nil {
		t.Fatalf("Run = %v, want a clean power off", err)
	}
	if got, _ := Ticks().Uint64(); got < 10 {
		t.Errorf("Ticks = %d, want at least 10", got)
	}
}
