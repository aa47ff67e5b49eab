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
	"math"
	"sync"
	"testing"
)

func TestTicksCarry(t *testing.T) {
	var c TickCounter
	c.store(Ticks{Hi: 0, Lo: math.MaxUint64})
	c.Increment()
	got := c.Load()
	if got != (Ticks{Hi: 1, Lo: 0}) {
		t.Fatalf("after carry: %+v", got)
	}
	if _, ok := got.Uint64(); ok {
		t.Errorf("Uint64() reported a 65-bit count as fitting")
	}
	if s := got.String(); s != "18446744073709551616" {
		t.Errorf("String() = %s", s)
	}
	if !(Ticks{Lo: 5}).Less(got) || got.Less(Ticks{Lo: 5}) {
		t.Errorf("Less ordering is wrong")
	}
}

// TestTicksReadersNeverTear reads concurrently with a writer crossing the
// 64-bit boundary; every observed value must be one the writer produced.
func TestTicksReadersNeverTear(t *testing.T) {
	var c TickCounter
	start := Ticks{Hi: 0, Lo: math.MaxUint64 - 5000}
	c.store(start)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 10000; i++ {
			c.Increment()
		}
	}()
	prev := start
	for i := 0; i < 20000; i++ {
		v := c.Load()
		if v.Hi > 1 || (v.Hi == 1 && v.Lo > 5000) || (v.Hi == 0 && v.Lo < start.Lo) {
			t.Fatalf("torn or impossible read %+v", v)
		}
		if v.Less(prev) {
			t.Fatalf("ticks went backwards: %v after %v", v, prev)
		}
		prev = v
	}
	wg.Wait()
	if got, want := c.Load(), (Ticks{Hi: 1, Lo: 10000 - 5001}); got != want {
		t.Errorf("final ticks %+v, want %+v", got, want)
	}
}
