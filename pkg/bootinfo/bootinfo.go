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

// Package bootinfo holds what the bootloader tells the kernel at entry.
package bootinfo

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mohae/deepcopy"
	"tchaios.dev/kcore/pkg/hostarch"
	"tchaios.dev/kcore/pkg/log"
	"tchaios.dev/kcore/pkg/physmem"
)

// PixelFormat is the framebuffer pixel layout.
type PixelFormat int

// Pixel formats.
const (
	PixelRGB PixelFormat = iota
	PixelBGR
	PixelU8
	PixelUnknown
)

var pixelFormatNames = [...]string{
	PixelRGB:     "rgb",
	PixelBGR:     "bgr",
	PixelU8:      "u8",
	PixelUnknown: "unknown",
}

// String implements fmt.Stringer.String.
func (p PixelFormat) String() string {
	if p >= 0 && int(p) < len(pixelFormatNames) {
		return pixelFormatNames[p]
	}
	return fmt.Sprintf("PixelFormat(%d)", int(p))
}

// MarshalText implements encoding.TextMarshaler.
func (p PixelFormat) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *PixelFormat) UnmarshalText(b []byte) error {
	s := strings.ToLower(string(b))
	for i, name := range pixelFormatNames {
		if name == s {
			*p = PixelFormat(i)
			return nil
		}
	}
	return fmt.Errorf("unknown pixel format %q", b)
}

// Framebuffer describes the linear framebuffer set up by the bootloader. The
// core only logs it; rendering belongs to the console.
type Framebuffer struct {
	Width         int         `toml:"width" yaml:"width"`
	Height        int         `toml:"height" yaml:"height"`
	Stride        int         `toml:"stride" yaml:"stride"`
	BytesPerPixel int         `toml:"bytes_per_pixel" yaml:"bytes_per_pixel"`
	Format        PixelFormat `toml:"format" yaml:"format"`
}

// String implements fmt.Stringer.String.
func (f *Framebuffer) String() string {
	return fmt.Sprintf("%dx%d stride %d, %d bytes/pixel %v", f.Width, f.Height, f.Stride, f.BytesPerPixel, f.Format)
}

// Info is the boot information structure.
type Info struct {
	// PhysicalMemoryOffset is the virtual address at which the bootloader
	// mapped all of physical memory.
	PhysicalMemoryOffset uint64 `toml:"physical_memory_offset" yaml:"physical_memory_offset"`

	// MemoryRegions is the firmware memory map, ordered by address.
	MemoryRegions physmem.Map `toml:"memory_regions" yaml:"memory_regions"`

	// Framebuffer is nil when the machine has no linear framebuffer.
	Framebuffer *Framebuffer `toml:"framebuffer" yaml:"framebuffer"`
}

// ErrBadOffset is returned by Validate for an unusable physical memory offset.
var ErrBadOffset = errors.New("bad physical memory offset")

// Validate checks the physical memory offset and the memory map.
func (i *Info) Validate() error {
	if !hostarch.Addr(i.PhysicalMemoryOffset).IsPageAligned() {
		return fmt.Errorf("%w %#x: not page aligned", ErrBadOffset, i.PhysicalMemoryOffset)
	}
	if !hostarch.IsCanonical(i.PhysicalMemoryOffset) {
		return fmt.Errorf("%w %#x: not canonical", ErrBadOffset, i.PhysicalMemoryOffset)
	}
	if err := i.MemoryRegions.Validate(); err != nil {
		return fmt.Errorf("memory map: %w", err)
	}
	return nil
}

// Clone returns a deep copy of i, which the kernel keeps as its read-only
// snapshot.
func (i *Info) Clone() *Info {
	return deepcopy.Copy(i).(*Info)
}

// Log writes a summary of i to l.
func (i *Info) Log(l log.Logger) {
	l.Infof("physical memory offset: %#x", i.PhysicalMemoryOffset)
	if i.Framebuffer != nil {
		l.Infof("framebuffer: %v", i.Framebuffer)
	}
	i.MemoryRegions.Log(l)
}
