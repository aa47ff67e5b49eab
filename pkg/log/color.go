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

package log

import (
	"fmt"
	"time"
)

// ANSI escape sequences used by ColorEmitter.
const (
	colorReset = "\x1b[0m"
	colorWhite = "\x1b[97m"
	colorGrey  = "\x1b[90m"
	colorGreen = "\x1b[92m"
	colorAmber = "\x1b[93m"
	colorRed   = "\x1b[91m"
)

// levelTags are the four-letter tags printed by ColorEmitter.
var levelTags = [...]struct {
	tag   string
	color string
}{
	Error:   {"erro", colorRed},
	Warning: {"warn", colorAmber},
	Info:    {"info", colorGrey},
	Debug:   {"dbug", colorGreen},
}

// ColorEmitter renders log lines for a text console or serial port:
//
//	[info] loaded gdt
//
// with the tag colored by level. Timestamps and callers are omitted; a console
// attached to the machine has no use for them.
type ColorEmitter struct {
	*Writer
}

// Emit implements Emitter.Emit.
func (c ColorEmitter) Emit(_ int, level Level, _ time.Time, format string, v ...any) {
	tag, color := "????", colorWhite
	if int(level) < len(levelTags) {
		tag, color = levelTags[level].tag, levelTags[level].color
	}
	line := fmt.Sprintf(format, v...)
	c.Writer.Write([]byte(colorWhite + "[" + color + tag + colorWhite + "]" + colorReset + " " + line + "\n"))
}
