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

// Package cmd holds implementations of the kcore commands.
package cmd

import (
	"fmt"

	"tchaios.dev/kcore/kcore/config"
	"tchaios.dev/kcore/pkg/bootinfo"
	"tchaios.dev/kcore/pkg/kernel"
	"tchaios.dev/kcore/pkg/log"
	"tchaios.dev/kcore/pkg/sim"
)

// loadMachine builds the configured machine as the boot loader leaves it.
// The caller must Close the machine.
func loadMachine(conf *config.Config) (*sim.Machine, *bootinfo.Info, error) {
	layout, err := conf.Layout()
	if err != nil {
		return nil, nil, fmt.Errorf("reading boot info: %w", err)
	}
	m, info, err := sim.Load(layout, log.Log())
	if err != nil {
		return nil, nil, fmt.Errorf("loading machine: %w", err)
	}
	return m, info, nil
}

// withKernel boots a kernel on the configured machine, calls f on the
// processor and stops the machine once f returns. No devices run.
func withKernel(conf *config.Config, f func(m *sim.Machine, k *kernel.Kernel)) error {
	m, info, err := loadMachine(conf)
	if err != nil {
		return err
	}
	defer m.Close()

	var bootErr error
	runErr := m.Run(func() {
		k, err := kernel.New(m, info, conf.Kernel(log.Log()))
		if err != nil {
			bootErr = err
			return
		}
		f(m, k)
	})
	if bootErr != nil {
		return fmt.Errorf("boot failed: %w", bootErr)
	}
	if runErr != nil {
		return fmt.Errorf("machine stopped: %w", runErr)
	}
	return nil
}
