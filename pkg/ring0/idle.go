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
	"tchaios.dev/kcore/pkg/cpu"
)

// Idle halts until the next interrupt, forever. Interrupts are serviced
// between halts if the interrupt flag is set.
func Idle(m cpu.Machine) {
	for {
		m.Halt()
	}
}

// HaltForever stops the machine with interrupts disabled. Only a
// non-maskable interrupt can wake it, and it halts again.
func HaltForever(m cpu.Machine) {
	for {
		m.DisableInterrupts()
		m.Halt()
	}
}
