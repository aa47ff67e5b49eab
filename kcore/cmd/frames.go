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
	"tchaios.dev/kcore/pkg/bootinfo"
	"tchaios.dev/kcore/pkg/hostarch"
	"tchaios.dev/kcore/pkg/physmem"
)

// Frames implements subcommands.Command for the "frames" command.
type Frames struct {
	count uint64
}

// Name implements subcommands.Command.Name.
func (*Frames) Name() string {
	return "frames"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Frames) Synopsis() string {
	return "show the memory map and the frames the allocator hands out"
}

// Usage implements subcommands.Command.Usage.
func (*Frames) Usage() string {
	return `frames [flags] - show the memory map left by the boot loader and allocate frames from it.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (fr *Frames) SetFlags(f *flag.FlagSet) {
	f.Uint64Var(&fr.count, "count", 8, "number of frames to allocate.")
}

// Execute implements subcommands.Command.Execute.
func (fr *Frames) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	m, info, err := loadMachine(conf)
	if err != nil {
		util.Fatalf("%v", err)
	}
	defer m.Close()
	writeFrames(os.Stdout, info, fr.count)
	return subcommands.ExitSuccess
}

func writeFrames(w io.Writer, info *bootinfo.Info, count uint64) {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "START\tEND\tKIND\tSIZE\n")
	for _, r := range info.MemoryRegions {
		fmt.Fprintf(tw, "%v\t%v\t%v\t%d KiB\n", r.Start, r.End, r.Kind, r.Length()>>10)
	}
	tw.Flush()

	usable := info.MemoryRegions.UsableBytes()
	fmt.Fprintf(w, "\nusable: %d frames (%d KiB)\n", usable/hostarch.PageSize, usable>>10)

	frames := physmem.NewFrameAllocator(info.MemoryRegions)
	for i := uint64(0); i < count; i++ {
		f, ok := frames.AllocateFrame()
		if !ok {
			fmt.Fprintf(w, "frame %d: out of frames\n", i)
			return
		}
		fmt.Fprintf(w, "frame %d: %v\n", i, f)
	}
}
