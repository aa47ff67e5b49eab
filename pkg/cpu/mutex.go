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
	"tchaios.dev/kcore/pkg/sync"
)

// Mutex guards a value that is also touched from interrupt context.
//
// Lock panics if interrupts are enabled: a handler that interrupted the
// holder would spin on the lock forever. Callers outside trap handlers use
// WithoutInterrupts.
type Mutex[T any] struct {
	state InterruptState
	mu    sync.Mutex
	value T
}

// NewMutex returns a Mutex guarding value, checking interrupts with state.
func NewMutex[T any](state InterruptState, value T) *Mutex[T] {
	return &Mutex[T]{state: state, value: value}
}

// Lock acquires the mutex and returns the guarded value. The pointer must not
// be retained after Unlock.
func (m *Mutex[T]) Lock() *T {
	if m.state.InterruptsEnabled() {
		panic("cpu.Mutex locked with interrupts enabled")
	}
	m.mu.Lock()
	return &m.value
}

// Unlock releases the mutex.
func (m *Mutex[T]) Unlock() {
	m.mu.Unlock()
}

// With runs f with the guarded value locked.
func (m *Mutex[T]) With(f func(v *T)) {
	v := m.Lock()
	defer m.Unlock()
	f(v)
}
