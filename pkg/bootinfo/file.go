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

package bootinfo

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format is an on-disk boot information encoding.
type Format int

// Supported formats.
const (
	TOML Format = iota
	YAML
)

// FormatOf picks the format from a file name extension.
func FormatOf(path string) (Format, error) {
	switch ext := filepath.Ext(path); ext {
	case ".toml":
		return TOML, nil
	case ".yaml", ".yml":
		return YAML, nil
	default:
		return 0, fmt.Errorf("unknown boot info extension %q, want .toml, .yaml or .yml", ext)
	}
}

// Decode reads boot information from r. Unknown keys are an error.
func Decode(r io.Reader, f Format) (*Info, error) {
	var info Info
	switch f {
	case TOML:
		md, err := toml.NewDecoder(r).Decode(&info)
		if err != nil {
			return nil, err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown keys: %v", undecoded)
		}
	case YAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&info); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown format %d", f)
	}
	return &info, nil
}

// Load reads and validates a boot information file.
func Load(path string) (*Info, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := Decode(f, format)
	if err != nil {
		return nil, fmt.Errorf("decoding %q: %w", path, err)
	}
	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("%q: %w", path, err)
	}
	return info, nil
}
