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
	"unsafe"
)

// kernelAddr returns the kernel virtual address of a table or stack.
//
// Tables handed to the processor are package-level or heap allocated and are
// never moved.
func kernelAddr[T any](p *T) uint64 {
	return uint64(uintptr(unsafe.Pointer(p)))
}

// sizeOf returns the size of a hardware structure in bytes.
func sizeOf[T any](v *T) uintptr {
	return unsafe.Sizeof(*v)
}
