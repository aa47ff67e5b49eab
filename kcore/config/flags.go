// Copyright 2020 The gVisor Authors.
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

package config

import (
	"flag"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"tchaios.dev/kcore/pkg/kernel"
	"tchaios.dev/kcore/pkg/ring0"
)

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	// Logging flags.
	flagSet.String("log", "", "file path where log output is written, default is stderr.")
	flagSet.Var(logFormatPtr(LogColor), "log-format", "log format: color (default), text, or json.")
	flagSet.Bool("debug", false, "enable debug logging.")

	// Machine flags.
	flagSet.String("boot-info", "", "TOML or YAML file with the memory map and framebuffer. Empty uses a built-in 32 MiB PC.")
	flagSet.Uint("pic-offset", uint(ring0.FirstExternal), "vector that IRQ 0 is remapped to; IRQs 0-15 take the 16 vectors from there.")
	flagSet.Int("timer-hz", 100, "frequency of the interval timer in Hz.")

	// Kernel flags.
	flagSet.Var(addrPtr(kernel.DefaultHeapStart), "heap-start", "virtual address of the kernel heap.")
	flagSet.Uint64("heap-size", kernel.DefaultHeapSize, "size of the kernel heap in bytes.")
	flagSet.Duration("warn-every", time.Second, "minimum interval between repeated interrupt warnings.")
}

// NewFromFlags creates a new Config with values coming from command line flags.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}

	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		x := reflect.ValueOf(fl.Value.(flag.Getter).Get())
		obj.Field(i).Set(x)
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// ToFlags returns a slice of flags that correspond to the given Config.
// Flags at their default value are omitted.
func (c *Config) ToFlags() []string {
	var rv []string
	for _, f := range c.fields() {
		if f.value == f.def {
			continue
		}
		rv = append(rv, fmt.Sprintf("--%s=%s", f.name, f.value))
	}
	return rv
}

type field struct {
	name  string
	value string
	def   string
}

// fields returns every flag-backed field with its current and default
// values.
func (c *Config) fields() []field {
	// Construct a temporary set for default plumbing.
	flagSet := flag.NewFlagSet("tmp", flag.ContinueOnError)
	RegisterFlags(flagSet)

	var rv []field
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		rv = append(rv, field{name: name, value: getVal(obj.Field(i)), def: fl.DefValue})
	}
	return rv
}

func getVal(field reflect.Value) string {
	if str, ok := field.Addr().Interface().(fmt.Stringer); ok {
		return str.String()
	}
	switch field.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(field.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(field.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(field.Uint(), 10)
	case reflect.String:
		return field.String()
	default:
		panic("unknown type " + field.Kind().String())
	}
}
