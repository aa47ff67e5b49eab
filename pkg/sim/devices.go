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
	"context"
	"fmt"
	"time"

	"tchaios.dev/kcore/pkg/atomicbitops"
	"tchaios.dev/kcore/pkg/sync"
)

// Device IRQ lines.
const (
	timerIRQ    = 0
	keyboardIRQ = 1
)

// keyboard is an i8042 controller with a keyboard on its first port. It
// holds one byte in its output buffer and raises IRQ 1 whenever the buffer
// fills.
type keyboard struct {
	mu      sync.Mutex
	queue   []uint8
	output  uint8
	full    bool
	dropped atomicbitops.Uint64
}

// maxQueue bounds typed-ahead scancodes; further bytes are dropped as a real
// controller would when the host does not read.
const maxQueue = 256

// push queues scancodes and returns true if the output buffer was filled
// and an interrupt must be raised.
func (k *keyboard) push(codes ...uint8) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, c := range codes {
		if len(k.queue) >= maxQueue {
			k.dropped.Add(1)
			continue
		}
		k.queue = append(k.queue, c)
	}
	return k.fillLocked()
}

func (k *keyboard) fillLocked() bool {
	if k.full || len(k.queue) == 0 {
		return false
	}
	k.output, k.queue = k.queue[0], k.queue[1:]
	k.full = true
	return true
}

// read empties the output buffer. It returns true if another byte moved in
// and an interrupt must be raised.
func (k *keyboard) read() (uint8, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v := k.output
	k.full = false
	return v, k.fillLocked()
}

func (k *keyboard) status() uint8 {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.full {
		return 0x01
	}
	return 0
}

// Press queues scancode bytes from the keyboard.
func (m *Machine) Press(codes ...uint8) {
	if m.kbd.push(codes...) {
		m.RaiseIRQ(keyboardIRQ)
	}
}

// DroppedKeys returns the number of scancodes lost to a full queue.
func (m *Machine) DroppedKeys() uint64 {
	return m.kbd.dropped.Load()
}

// RunTimer raises IRQ 0 at hz until ctx is done.
func (m *Machine) RunTimer(ctx context.Context, hz int) error {
	if hz <= 0 || hz > 10000 {
		return fmt.Errorf("timer frequency %d Hz out of range", hz)
	}
	t := time.NewTicker(time.Second / time.Duration(hz))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.stopped:
			return nil
		case <-t.C:
			m.timerTicks.Add(1)
			m.RaiseIRQ(timerIRQ)
		}
	}
}

// TimerTicks returns the number of timer interrupts requested.
func (m *Machine) TimerTicks() uint64 {
	return m.timerTicks.Load()
}
