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

package pic

import (
	"tchaios.dev/kcore/pkg/cpu"
)

// Controller is the machine's interrupt controller. It serializes access to
// the chips with a cpu.Mutex, so every method must be called with interrupts
// disabled. Interrupt handlers satisfy this.
type Controller struct {
	machine cpu.Machine
	chained *cpu.Mutex[Chained]
	offset  uint8
}

// NewController returns a controller for chips remapped to offset.
func NewController(m cpu.Machine, offset uint8) *Controller {
	return &Controller{
		machine: m,
		chained: cpu.NewMutex(m, NewChained(offset)),
		offset:  offset,
	}
}

// Vector returns the vector irq is delivered on.
func (c *Controller) Vector(irq int) uint8 {
	return c.offset + uint8(irq)
}

// Initialize remaps the chips and unmasks handled.
func (c *Controller) Initialize(handled Lines) {
	c.chained.With(func(p *Chained) {
		p.Initialize(c.machine, handled)
	})
}

// SetEnabled changes the unmasked lines.
func (c *Controller) SetEnabled(enabled Lines) {
	c.chained.With(func(p *Chained) {
		p.SetEnabled(c.machine, enabled)
	})
}

// NotifyEndOfInterrupt implements ring0.EndOfInterrupt.
func (c *Controller) NotifyEndOfInterrupt(vector uint8) {
	c.chained.With(func(p *Chained) {
		p.NotifyEndOfInterrupt(c.machine, vector)
	})
}

// FilterSpurious implements ring0.SpuriousFilter.
func (c *Controller) FilterSpurious(vector uint8) (spurious bool) {
	c.chained.With(func(p *Chained) {
		spurious = p.FilterSpurious(c.machine, vector)
	})
	return spurious
}
