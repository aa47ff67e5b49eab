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

package ring0

import (
	"fmt"
	"strings"

	"tchaios.dev/kcore/pkg/log"
)

type logLine struct {
	level log.Level
	msg   string
}

// recordingLogger is a log.Logger that keeps every line.
type recordingLogger struct {
	lines []logLine
}

func (r *recordingLogger) add(level log.Level, format string, v ...any) {
	r.lines = append(r.lines, logLine{level, fmt.Sprintf(format, v...)})
}

func (r *recordingLogger) Debugf(format string, v ...any)   { r.add(log.Debug, format, v...) }
func (r *recordingLogger) Infof(format string, v ...any)    { r.add(log.Info, format, v...) }
func (r *recordingLogger) Warningf(format string, v ...any) { r.add(log.Warning, format, v...) }
func (r *recordingLogger) Errorf(format string, v ...any)   { r.add(log.Error, format, v...) }
func (r *recordingLogger) IsLogging(log.Level) bool         { return true }

// find returns the first line at level containing substr.
func (r *recordingLogger) find(level log.Level, substr string) (string, bool) {
	for _, l := range r.lines {
		if l.level == level && strings.Contains(l.msg, substr) {
			return l.msg, true
		}
	}
	return "", false
}
