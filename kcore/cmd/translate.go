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
	"io"
	"os"
	"strconv"

	"github.com/google/subcommands"
	"tchaios.dev/kcore/kcore/cmd/util"
	"tchaios.dev/kcore/kcore/config"
	"tchaios.dev/kcore/pkg/hostarch"
	"tchaios.dev/kcore/pkg/kernel"
	"tchaios.dev/kcore/pkg/sim"
)

// Translate implements subcommands.Command for the "translate" command.
type Translate struct{}

// Name implements subcommands.Command.Name.
func (*Translate) Name() string {
	return "translate"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Translate) Synopsis() string {
	return "translate virtual addresses through the kernel's page tables"
}

// Usage implements subcommands.Command.Usage.
func (*Translate) Usage() string {
	return `translate <address>... - boot the kernel and translate each address.

Addresses may be given in any base Go accepts, e.g. 0xb8000. The words
"heap", "stack" and "offset" stand for the heap start, the top of the boot
stack and the start of the physical memory mapping.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Translate) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Translate) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	err := withKernel(conf, func(m *sim.Machine, k *kernel.Kernel) {
		writeTranslations(os.Stdout, m, k, conf, f.Args())
	})
	if err != nil {
		util.Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

// parseAddr parses an address or one of the well known names.
func parseAddr(s string, m *sim.Machine, k *kernel.Kernel, conf *config.Config) (hostarch.Addr, error) {
	switch s {
	case "heap":
		return conf.HeapStart, nil
	case "stack":
		return m.Layout().StackTop() - 8, nil
	case "offset":
		return hostarch.Addr(k.Info().PhysicalMemoryOffset), nil
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return hostarch.Addr(v), nil
}

func writeTranslations(w io.Writer, m *sim.Machine, k *kernel.Kernel, conf *config.Config, addrs []string) {
	for _, s := range addrs {
		va, err := parseAddr(s, m, k, conf)
		if err != nil {
			fmt.Fprintf(w, "%s: %v\n", s, err)
			continue
		}
		pa, err := k.Translate(va)
		if err != nil {
			// Huge frames are not translated, but the walk still
			// shows where they lead.
			if mapping, lerr := k.PageTables().Lookup(va); lerr == nil {
				fmt.Fprintf(w, "%v: %v (%v huge frame %v)\n", va, err, mapping.Level, mapping.Phys)
				continue
			}
			fmt.Fprintf(w, "%v: %v\n", va, err)
			continue
		}
		fmt.Fprintf(w, "%v -> %v\n", va, pa)
	}
}
