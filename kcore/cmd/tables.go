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
	"text/tabwriter"

	"github.com/google/subcommands"
	"tchaios.dev/kcore/kcore/cmd/util"
	"tchaios.dev/kcore/kcore/config"
	"tchaios.dev/kcore/pkg/kernel"
	"tchaios.dev/kcore/pkg/ring0"
	"tchaios.dev/kcore/pkg/sim"
)

// Tables implements subcommands.Command for the "tables" command.
type Tables struct{}

// Name implements subcommands.Command.Name.
func (*Tables) Name() string {
	return "tables"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Tables) Synopsis() string {
	return "dump the descriptor tables and interrupt gates after boot"
}

// Usage implements subcommands.Command.Usage.
func (*Tables) Usage() string {
	return `tables - boot the kernel and dump the GDT, TSS and bound IDT gates.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Tables) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Tables) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	err := withKernel(conf, func(m *sim.Machine, k *kernel.Kernel) {
		writeTables(os.Stdout, ring0.Descriptors(), k.VectorTable())
	})
	if err != nil {
		util.Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

func describe(d ring0.SegmentDescriptor, prev ring0.SegmentDescriptor) string {
	switch {
	case prev.IsTSS():
		return "tss (upper)"
	case !d.Present():
		return "null"
	case d.IsTSS():
		return "tss"
	case d.IsCode64():
		return "code64"
	case d.IsData():
		return "data"
	}
	return "other"
}

func writeTables(w io.Writer, d *ring0.DescriptorTables, vt *ring0.VectorTable) {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "SLOT\tTYPE\tDPL\tRAW\n")
	var prev ring0.SegmentDescriptor
	for i := 0; i < d.Len(); i++ {
		desc := d.Descriptor(i)
		fmt.Fprintf(tw, "%d\t%s\t%d\t%#016x\n", i, describe(desc, prev), desc.DPL(), desc.Uint64())
		prev = desc
	}
	tw.Flush()

	sel := d.Selectors()
	fmt.Fprintf(w, "\ncode %v, data %v, tss %v\n", sel.Code, sel.Data, sel.TSS)
	tss := d.TaskState()
	fmt.Fprintf(w, "double fault stack: ist%d top %#x\n\n", ring0.DoubleFaultISTIndex+1, tss.IST(ring0.DoubleFaultISTIndex))

	tw = tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "VECTOR\tNAME\tIST\tDPL\tENTRY\n")
	for v := 0; v < ring0.NumVectors; v++ {
		if !vt.Bound(ring0.Vector(v)) {
			continue
		}
		g := vt.Gate(ring0.Vector(v))
		fmt.Fprintf(tw, "%d\t%v\t%d\t%d\t%#x\n", v, ring0.Vector(v), g.IST(), g.DPL(), g.Offset())
	}
	tw.Flush()
}
