// Copyright 2018 Google LLC
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

// Package bits includes all bit related types and operations.
package bits

import "math/bits"

// Integer is any unsigned integral type the helpers accept.
type Integer interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// IsOn returns true if *all* bits set in 'bits' are set in 'mask'.
func IsOn[T Integer](mask, bits T) bool {
	return mask&bits == bits
}

// IsAnyOn returns true if *any* bit set in 'bits' is set in 'mask'.
func IsAnyOn[T Integer](mask, bits T) bool {
	return mask&bits != 0
}

// Mask returns a T with all of the given bits set.
func Mask[T Integer](is ...int) T {
	ret := T(0)
	for _, i := range is {
		ret |= MaskOf[T](i)
	}
	return ret
}

// MaskOf is like Mask, but sets only a single bit (more efficiently).
func MaskOf[T Integer](i int) T {
	return T(1) << T(i)
}

// IsPowerOfTwo returns true if v is power of 2.
func IsPowerOfTwo[T Integer](v T) bool {
	if v == 0 {
		return false
	}
	return v&(v-1) == 0
}

// AlignUp rounds a length up to an alignment. align must be a power of 2.
func AlignUp[T Integer](length T, align T) T {
	return (length + align - 1) & ^(align - 1)
}

// AlignDown rounds a length down to an alignment. align must be a power of 2.
func AlignDown[T Integer](length T, align T) T {
	return length & ^(align - 1)
}

// LowestSet returns the index of the lowest set bit in v, or -1 if v is zero.
func LowestSet[T Integer](v T) int {
	if v == 0 {
		return -1
	}
	return bits.TrailingZeros64(uint64(v))
}
