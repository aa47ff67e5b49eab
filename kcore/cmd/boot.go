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
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/containerd/console"
	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"tchaios.dev/kcore/kcore/cmd/util"
	"tchaios.dev/kcore/kcore/config"
	"tchaios.dev/kcore/pkg/kbd"
	"tchaios.dev/kcore/pkg/kernel"
	"tchaios.dev/kcore/pkg/log"
	"tchaios.dev/kcore/pkg/sim"
)

// Faults that boot can raise once the kernel is idle.
const (
	faultNone       = ""
	faultBreakpoint = "breakpoint"
	faultPage       = "page"
	faultDouble     = "double"
)

// Boot implements subcommands.Command for the "boot" command.
type Boot struct {
	ticks       uint64
	interactive bool
	fault       string
}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "boot the kernel on a hosted machine and idle"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot [flags] - boot the kernel and idle until interrupted.

The machine runs until it halts, the tick limit is reached or kcore receives
SIGINT or SIGTERM.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Boot) SetFlags(f *flag.FlagSet) {
	f.Uint64Var(&b.ticks, "ticks", 0, "power off after this many timer ticks. 0 runs until interrupted.")
	f.BoolVar(&b.interactive, "interactive", false, "put the terminal in raw mode and type into the machine's keyboard. Ctrl-C powers off.")
	f.StringVar(&b.fault, "fault", faultNone, "fault to raise after boot: breakpoint, page or double.")
}

// Execute implements subcommands.Command.Execute.
func (b *Boot) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	switch b.fault {
	case faultNone, faultBreakpoint, faultPage, faultDouble:
	default:
		util.Fatalf("unknown fault %q, want breakpoint, page or double", b.fault)
	}
	conf := args[0].(*config.Config)

	m, info, err := loadMachine(conf)
	if err != nil {
		util.Fatalf("%v", err)
	}
	defer m.Close()

	kconf := conf.Kernel(log.Log())
	if b.interactive {
		c, err := console.ConsoleFromFile(os.Stdin)
		if err != nil {
			util.Fatalf("--interactive needs a terminal: %v", err)
		}
		if err := c.SetRaw(); err != nil {
			util.Fatalf("setting raw mode: %v", err)
		}
		defer c.Reset()
		kconf.Keys = echo
		// The reader blocks until the next key and is abandoned on exit.
		go typeInto(c, m)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, unix.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.RunTimer(ctx, conf.TimerHz)
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			log.Infof("Powering off")
			m.PowerOff()
		case <-m.Stopped():
		}
		return nil
	})
	if b.ticks > 0 {
		g.Go(func() error {
			return powerOffAfter(ctx, m, b.ticks, time.Second/time.Duration(conf.TimerHz))
		})
	}

	var bootErr error
	runErr := m.Run(func() {
		if _, err := kernel.Boot(m, info, kconf); err != nil {
			bootErr = err
			return
		}
		b.raise(m)
		kernel.IdleMode()
	})
	if err := g.Wait(); err != nil {
		log.Warningf("Device error: %v", err)
	}

	stats := m.Stats()
	util.Infof("ticks: %v, interrupts delivered: %d, halts: %d, TLB flushes: %d, dropped keys: %d",
		kernel.Ticks(), stats.Delivered, stats.Halts, stats.TLBFlushes, stats.DroppedKeys)
	switch {
	case bootErr != nil:
		util.Fatalf("boot failed: %v", bootErr)
	case errors.Is(runErr, sim.ErrHalted) && b.fault == faultDouble:
		util.Infof("machine halted after the double fault")
	case runErr != nil:
		util.Fatalf("machine stopped: %v", runErr)
	}
	return subcommands.ExitSuccess
}

// raise raises the requested fault on the processor.
func (b *Boot) raise(m *sim.Machine) {
	switch b.fault {
	case faultBreakpoint:
		m.Breakpoint()
		log.Infof("Resumed after breakpoint")
	case faultPage:
		m.Access(0xdeadbeaf, true)
	case faultDouble:
		// Overflow into the guard page; the breakpoint cannot push its frame.
		m.SetStackPointer(uint64(m.Layout().StackGuard() + 0x100))
		m.Breakpoint()
	}
}

// powerOffAfter powers m off once the kernel has counted n ticks.
func powerOffAfter(ctx context.Context, m *sim.Machine, n uint64, period time.Duration) error {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.Stopped():
			return nil
		case <-t.C:
			if got, ok := kernel.Ticks().Uint64(); !ok || got >= n {
				log.Infof("Reached %d ticks, powering off", got)
				m.PowerOff()
				return nil
			}
		}
	}
}

// echo writes typed characters to the raw terminal.
func echo(k kbd.Key) {
	switch {
	case k.Char == '\n':
		fmt.Fprint(os.Stdout, "\r\n")
	case k.IsChar():
		fmt.Fprintf(os.Stdout, "%c", k.Char)
	default:
		log.Debugf("Key %v", k)
	}
}

// typeInto types bytes read from c into m's keyboard.
func typeInto(c console.Console, m *sim.Machine) {
	buf := make([]byte, 64)
	for {
		n, err := c.Read(buf)
		if err != nil {
			return
		}
		for _, b := range buf[:n] {
			switch b {
			case 0x03, 0x04:
				// Ctrl-C and Ctrl-D.
				m.PowerOff()
				return
			}
			codes, ok := kbd.Encode(rune(b))
			if !ok {
				log.Debugf("No scancode for %#x", b)
				continue
			}
			m.Press(codes...)
		}
	}
}
