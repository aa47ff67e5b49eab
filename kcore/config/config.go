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

// Package config provides basic infrastructure to set configuration settings
// for kcore. Each setting is a flag; the flag name and the Config field it
// populates are tied together with a "flag" struct tag.
package config

import (
	"fmt"
	"strconv"
	"time"

	"tchaios.dev/kcore/pkg/bootinfo"
	"tchaios.dev/kcore/pkg/hostarch"
	"tchaios.dev/kcore/pkg/kernel"
	"tchaios.dev/kcore/pkg/log"
	"tchaios.dev/kcore/pkg/pic"
	"tchaios.dev/kcore/pkg/ring0"
	"tchaios.dev/kcore/pkg/sim"
)

// Config holds configuration that is not part of the boot information.
type Config struct {
	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log"`

	// LogFormat is the log format.
	LogFormat LogFormat `flag:"log-format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// BootInfo is a TOML or YAML file describing the machine's memory map
	// and framebuffer. The built-in 32 MiB PC is used if empty.
	BootInfo string `flag:"boot-info"`

	// PICOffset is the vector IRQ 0 is remapped to.
	PICOffset uint `flag:"pic-offset"`

	// TimerHz is the frequency of the programmable interval timer.
	TimerHz int `flag:"timer-hz"`

	// HeapStart is the virtual address of the kernel heap.
	HeapStart hostarch.Addr `flag:"heap-start"`

	// HeapSize is the size of the kernel heap in bytes.
	HeapSize uint64 `flag:"heap-size"`

	// WarnEvery limits how often repeated interrupt noise is logged.
	WarnEvery time.Duration `flag:"warn-every"`
}

func (c *Config) validate() error {
	if c.PICOffset < uint(ring0.FirstExternal) || c.PICOffset+pic.NumLines > ring0.NumVectors {
		return fmt.Errorf("--pic-offset=%d must leave IRQs 0-15 in vectors %d-%d", c.PICOffset, uint8(ring0.FirstExternal), ring0.NumVectors-1)
	}
	if c.TimerHz < 1 || c.TimerHz > 10000 {
		return fmt.Errorf("--timer-hz=%d must be between 1 and 10000", c.TimerHz)
	}
	if !c.HeapStart.IsCanonical() || !c.HeapStart.IsPageAligned() {
		return fmt.Errorf("--heap-start=%v must be a canonical, page aligned address", c.HeapStart)
	}
	if c.HeapSize == 0 {
		return fmt.Errorf("--heap-size must not be zero")
	}
	if _, ok := c.HeapStart.AddLength(c.HeapSize); !ok {
		return fmt.Errorf("--heap-start=%v --heap-size=%d overflows", c.HeapStart, c.HeapSize)
	}
	if c.WarnEvery < 0 {
		return fmt.Errorf("--warn-every=%v must not be negative", c.WarnEvery)
	}
	return nil
}

// Kernel returns the kernel configuration, logging to l.
func (c *Config) Kernel(l log.Logger) kernel.Config {
	return kernel.Config{
		PICOffset: uint8(c.PICOffset),
		HeapStart: c.HeapStart,
		HeapSize:  c.HeapSize,
		Logger:    l,
		WarnEvery: c.WarnEvery,
	}
}

// Layout returns the machine layout, reading the boot information file if
// one is configured. The physical memory offset of the file is ignored: the
// loader picks its own.
func (c *Config) Layout() (sim.Layout, error) {
	layout := sim.DefaultLayout()
	if c.BootInfo == "" {
		return layout, nil
	}
	info, err := bootinfo.Load(c.BootInfo)
	if err != nil {
		return sim.Layout{}, err
	}
	layout.Regions = info.MemoryRegions
	layout.Framebuffer = info.Framebuffer
	return layout, nil
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	for _, f := range c.fields() {
		log.Infof("\t%s: %s", f.name, f.value)
	}
}

// LogFormat selects a log emitter.
type LogFormat int

// Log formats.
const (
	// LogText is the glog-style text format.
	LogText LogFormat = iota

	// LogJSON writes one JSON object per line.
	LogJSON

	// LogColor writes tagged, colored lines for a terminal.
	LogColor
)

func logFormatPtr(v LogFormat) *LogFormat {
	return &v
}

// Set implements flag.Value.
func (f *LogFormat) Set(v string) error {
	switch v {
	case "text":
		*f = LogText
	case "json":
		*f = LogJSON
	case "color":
		*f = LogColor
	default:
		return fmt.Errorf("invalid log format %q, must be 'text', 'json' or 'color'", v)
	}
	return nil
}

// Get implements flag.Getter.
func (f *LogFormat) Get() any {
	return *f
}

// String implements flag.Value.
func (f LogFormat) String() string {
	switch f {
	case LogText:
		return "text"
	case LogJSON:
		return "json"
	case LogColor:
		return "color"
	}
	panic(fmt.Sprintf("Invalid log format %d", f))
}

// Emitter returns an emitter writing to w in format f.
func (f LogFormat) Emitter(w *log.Writer) log.Emitter {
	switch f {
	case LogJSON:
		return log.JSONEmitter{Writer: w}
	case LogColor:
		return log.ColorEmitter{Writer: w}
	default:
		return log.GoogleEmitter{Writer: w}
	}
}

// addrFlag parses addresses in any base strconv accepts.
type addrFlag hostarch.Addr

func addrPtr(v hostarch.Addr) *addrFlag {
	a := addrFlag(v)
	return &a
}

// Set implements flag.Value.
func (a *addrFlag) Set(v string) error {
	n, err := strconv.ParseUint(v, 0, 64)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", v, err)
	}
	*a = addrFlag(n)
	return nil
}

// Get implements flag.Getter.
func (a *addrFlag) Get() any {
	return hostarch.Addr(*a)
}

// String implements flag.Value.
func (a *addrFlag) String() string {
	return hostarch.Addr(*a).String()
}
