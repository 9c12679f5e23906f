// Copyright 2023 qbee.io
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
//
// SPDX-License-Identifier: Apache-2.0

package shadowdb

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.qbee.io/shadowsync/internal/log"
)

var codecLog = log.For("codec")

// shadowPasswordPlaceholder is what passwd and group always serialize in
// the password column; the real hash lives in shadow/gshadow (spec
// invariant 2).
const shadowPasswordPlaceholder = "x"

// forLines calls fn for every non-blank line of r, trimming the trailing
// newline first. lineNo passed to fn is 1-based and counts blank lines
// too, so diagnostics line up with the on-disk file.
//
// fn's returned error is never the raw line content - codec callers log
// file+line only, never line text, to uphold the secrecy rule for shadow
// and gshadow (spec 4.2).
func forLines(r io.Reader, fn func(lineNo int, line string) error) error {
	scanner := bufio.NewScanner(r)

	lineNo := 0
	for scanner.Scan() {
		lineNo++

		line := scanner.Text()
		if line == "" {
			continue
		}

		if err := fn(lineNo, line); err != nil {
			return err
		}
	}

	return scanner.Err()
}

// splitExact splits line on ':' and requires exactly want fields.
func splitExact(line string, want int) ([]string, bool) {
	fields := strings.Split(line, ":")
	if len(fields) != want {
		return nil, false
	}
	return fields, true
}

// splitRange splits line on ':' and requires the field count to be in
// [min, max] inclusive (shadow tolerates 8 or 9).
func splitRange(line string, min, max int) ([]string, bool) {
	fields := strings.Split(line, ":")
	if len(fields) < min || len(fields) > max {
		return nil, false
	}
	return fields, true
}

// parseOptionalDays parses a shadow numeric day-count field. An empty
// string means absent. An unparseable value is reported via ok=false so
// the caller can apply the "set to absent, mark modified" repair.
func parseOptionalDays(field string) (value *int32, ok bool) {
	if field == "" {
		return nil, true
	}

	n, err := strconv.ParseInt(field, 10, 32)
	if err != nil {
		return nil, false
	}

	n32 := int32(n)
	return &n32, true
}

// formatOptionalDays renders an optional day count, empty string when nil.
func formatOptionalDays(value *int32) string {
	if value == nil {
		return ""
	}
	return strconv.FormatInt(int64(*value), 10)
}

// formatOptionalHash renders an optional password hash, empty string
// when nil.
func formatOptionalHash(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

// sanitizeHash replaces a shadow/gshadow password hash containing a
// forbidden character ('\n' or ':') with the repair sentinel "!",
// reporting whether a repair was needed.
func sanitizeHash(value string) (sanitized string, repaired bool) {
	if value == "" {
		return "", false
	}
	if strings.ContainsAny(value, ":\n") {
		return "!", true
	}
	return value, false
}

// joinCSV renders a sorted, comma-separated name list.
func joinCSV(names []string) string {
	return strings.Join(names, ",")
}

// splitCSV parses a comma-separated name list. An empty string yields no
// names (not a single empty name).
func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	return strings.Split(value, ",")
}

// logParseWarn reports a per-line diagnostic. Only file name and 1-based
// line number are logged, never the line content (spec 4.2 secrecy rule).
func logParseWarn(file string, lineNo int, format string, args ...any) {
	codecLog.Warnf(fmt.Sprintf("%s:%d: ", file, lineNo)+format, args...)
}
