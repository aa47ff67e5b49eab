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
	"errors"
	"fmt"

	"tchaios.dev/kcore/pkg/hostarch"
	"tchaios.dev/kcore/pkg/physmem"
	"tchaios.dev/kcore/pkg/ring0/pagetables"
)

// ErrHeapExhausted is returned by MapHeap when frames run out.
var ErrHeapExhausted = errors.New("out of frames for the heap")

// MapHeap backs [start, start+size) with fresh writable frames. Running out
// of frames is an error; the kernel cannot boot without its heap.
func MapHeap(pages *pagetables.OffsetTable, frames physmem.Allocator, start hostarch.Addr, size uint64) error {
	end, ok := start.AddLength(size)
	if !ok {
		return fmt.Errorf("heap %v+%#x overflows", start, size)
	}
	end, ok = end.RoundUp()
	if !ok {
		return fmt.Errorf("heap %v+%#x overflows", start, size)
	}
	opts := pagetables.MapOpts{Writable: true}
	for page := start.RoundDown(); page < end; page += hostarch.PageSize {
		f, ok := frames.AllocateFrame()
		if !ok {
			return fmt.Errorf("%w: mapping %v", ErrHeapExhausted, page)
		}
		if err := pages.Map(page, f, opts, frames); err != nil {
			if errors.Is(err, pagetables.ErrNoFrame) {
				return fmt.Errorf("%w: %w", ErrHeapExhausted, err)
			}
			return fmt.Errorf("mapping heap: %w", err)
		}
	}
	return nil
}
