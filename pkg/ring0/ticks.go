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
	"math/big"

	"tchaios.dev/kcore/pkg/atomicbitops"
	"tchaios.dev/kcore/pkg/sync"
)

// TickCounter counts timer interrupts in 128 bits.
//
// There is exactly one writer, the timer handler. Readers in any context see
// a consistent value without locking.
type TickCounter struct {
	seq sync.SeqCount
	hi  atomicbitops.Uint64
	lo  atomicbitops.Uint64
}

// Increment adds one tick. It must only be called by the timer handler.
func (c *TickCounter) Increment() {
	c.seq.BeginWrite()
	lo := c.lo.Load() + 1
	c.lo.Store(lo)
	if lo == 0 {
		c.hi.Store(c.hi.Load() + 1)
	}
	c.seq.EndWrite()
}

// Load returns the current count.
func (c *TickCounter) Load() Ticks {
	for {
		epoch := c.seq.BeginRead()
		t := Ticks{Hi: c.hi.Load(), Lo: c.lo.Load()}
		if c.seq.ReadOk(epoch) {
			return t
		}
	}
}

func (c *TickCounter) store(t Ticks) {
	c.seq.BeginWrite()
	c.hi.Store(t.Hi)
	c.lo.Store(t.Lo)
	c.seq.EndWrite()
}

// Ticks is a 128-bit tick count.
type Ticks struct {
	Hi uint64
	Lo uint64
}

// Uint64 returns the count if it fits in 64 bits.
func (t Ticks) Uint64() (uint64, bool) {
	return t.Lo, t.Hi == 0
}

// Big returns the count as a big.Int.
func (t Ticks) Big() *big.Int {
	v := new(big.Int).SetUint64(t.Hi)
	v.Lsh(v, 64)
	return v.Or(v, new(big.Int).SetUint64(t.Lo))
}

// Less returns true if t is smaller than u.
func (t Ticks) Less(u Ticks) bool {
	return t.Hi < u.Hi || (t.Hi == u.Hi && t.Lo < u.Lo)
}

// String implements fmt.Stringer.String.
func (t Ticks) String() string {
	return t.Big().String()
}
