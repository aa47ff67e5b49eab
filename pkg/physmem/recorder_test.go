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

package physmem

import (
	"fmt"
	"time"

	"tchaios.dev/kcore/pkg/log"
)

type recorder struct {
	lines *[]string
}

func (r *recorder) Emit(_ int, _ log.Level, _ time.Time, format string, v ...any) {
	*r.lines = append(*r.lines, fmt.Sprintf(format, v...))
}
