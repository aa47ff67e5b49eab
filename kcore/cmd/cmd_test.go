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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"testing"

	"github.com/google/subcommands"
	"tchaios.dev/kcore/kcore/config"
	"tchaios.dev/kcore/pkg/kernel"
	"tchaios.dev/kcore/pkg/ring0"
	"tchaios.dev/kcore/pkg/sim"
)

func testConfig(t *testing.T, args ...string) *config.Config {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse(%q): %v", args, err)
	}
	conf, err := config.NewFromFlags(fs)
	if err != nil {
		t.Fatalf("NewFromFlags: %v", err)
	}
	return conf
}

func TestFrames(t *testing.T) {
	conf := testConfig(t)
	m, info, err := loadMachine(conf)
	if err != nil {
		t.Fatalf("loadMachine: %v", err)
	}
	defer m.Close()

	var out strings.Builder
	writeFrames(&out, info, 3)
	got := out.String()
	first, _ := info.MemoryRegions.FrameAt(0)
	for _, want := range []string{
		"bootloader",
		"acpi-reclaimable",
		fmt.Sprintf("frame 0: %v\n", first),
		"frame 2: ",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output lacks %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "frame 3:") {
		t.Errorf("allocated more frames than asked:\n%s", got)
	}
}

func TestTranslate(t *testing.T) {
	conf := testConfig(t)
	var out strings.Builder
	err := withKernel(conf, func(m *sim.Machine, k *kernel.Kernel) {
		writeTranslations(&out, m, k, conf, []string{"heap", "stack", "offset", "0xdeadbeaf", "junk"})
	})
	if err != nil {
		t.Fatalf("withKernel: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	if len(lines) != 5 {
		t.Fatalf("got %d lines, want 5:\n%s", len(lines), out.String())
	}
	for i, want := range []string{
		conf.HeapStart.String() + " -> ",
		" -> ",
		"P2 huge frame 0x0",
		"not present",
		"invalid address",
	} {
		if !strings.Contains(lines[i], want) {
			t.Errorf("line %d = %q, want it to contain %q", i, lines[i], want)
		}
	}
}

func TestTables(t *testing.T) {
	conf := testConfig(t)
	var out strings.Builder
	err := withKernel(conf, func(m *sim.Machine, k *kernel.Kernel) {
		writeTables(&out, ring0.Descriptors(), k.VectorTable())
	})
	if err != nil {
		t.Fatalf("withKernel: %v", err)
	}
	got := out.String()
	for _, want := range []string{"code64", "tss (upper)", "double fault", "breakpoint", "page fault", "vector 32", "vector 33", "vector 39", "vector 47"} {
		if !strings.Contains(got, want) {
			t.Errorf("output lacks %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "vector 34 ") {
		t.Errorf("unbound vector listed:\n%s", got)
	}
}

func TestBootRunsForTicks(t *testing.T) {
	conf := testConfig(t, "--timer-hz=1000")
	b := &Boot{}
	fs := flag.NewFlagSet("boot", flag.ContinueOnError)
	b.SetFlags(fs)
	if err := fs.Parse([]string{"--ticks=20", "--fault=breakpoint"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := b.Execute(context.Background(), fs, conf); got != subcommands.ExitSuccess {
		t.Fatalf("Execute = %v, want success", got)
	}
	if got, _ := kernel.Ticks().Uint64(); got < 20 {
		t.Errorf("Ticks = %d, want at least 20", got)
	}
}
