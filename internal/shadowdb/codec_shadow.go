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
	"fmt"
	"io"
	"sort"
	"strings"
)

const shadowFileName = "shadow"
const shadowFieldCountMin = 8
const shadowFieldCountMax = 9

// DecodeShadow parses the shadow-format file read from r, applying its
// fields onto the already-indexed users (spec 4.4: shadow is loaded
// after passwd, which indexes users by name). A line referencing a user
// name with no matching passwd entry is logged and skipped, never
// raising an error (spec 4.2).
func DecodeShadow(r io.Reader, users map[string]*User) error {
	return forLines(r, func(lineNo int, line string) error {
		fields, ok := splitRange(line, shadowFieldCountMin, shadowFieldCountMax)
		if !ok {
			logParseWarn(shadowFileName, lineNo, "expected %d or %d fields, dropping line", shadowFieldCountMin, shadowFieldCountMax)
			return nil
		}

		name := fields[0]

		user, exists := users[name]
		if !exists {
			logParseWarn(shadowFileName, lineNo, "references unknown user, skipping")
			return nil
		}

		applyShadowFields(user, lineNo, fields)
		return nil
	})
}

func applyShadowFields(user *User, lineNo int, fields []string) {
	sanitizedHash, repaired := sanitizeHash(fields[1])
	var hash *string
	if sanitizedHash != "" {
		hash = &sanitizedHash
	}
	user.password = hash
	if repaired {
		logParseWarn(shadowFileName, lineNo, "invalid password hash character, replacing with '!'")
		user.modified = true
	}

	assignShadowDate(shadowFileName, lineNo, "last_change", fields[2], &user.lastPasswordChangeDate, &user.modified)
	assignShadowDate(shadowFileName, lineNo, "min", fields[3], &user.passwordAgeMinDays, &user.modified)
	assignShadowDate(shadowFileName, lineNo, "max", fields[4], &user.passwordAgeMaxDays, &user.modified)
	assignShadowDate(shadowFileName, lineNo, "warn", fields[5], &user.passwordWarnDays, &user.modified)
	assignShadowDate(shadowFileName, lineNo, "inactive", fields[6], &user.passwordDisableDays, &user.modified)
	assignShadowDate(shadowFileName, lineNo, "expire", fields[7], &user.accountExpireDate, &user.modified)
}

// assignShadowDate parses an optional day-count field into *dst. On
// parse failure it sets *dst to nil and marks modified, per the repair
// policy ("any date/number bad: set to absent, mark modified").
func assignShadowDate(file string, lineNo int, field, raw string, dst **int32, modified *bool) {
	value, ok := parseOptionalDays(raw)
	if !ok {
		logParseWarn(file, lineNo, "invalid %s, clearing to absent", field)
		*dst = nil
		*modified = true
		return
	}
	*dst = value
}

// EncodeShadow writes users (sorted by uid ascending, ties by name) to w
// in shadow format, with a trailing empty reserved field.
func EncodeShadow(w io.Writer, users []*User) error {
	sorted := append([]*User(nil), users...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	for _, u := range sorted {
		line := strings.Join([]string{
			u.Name(),
			formatOptionalHash(u.Password()),
			formatOptionalDays(u.LastPasswordChangeDate()),
			formatOptionalDays(u.PasswordAgeMinDays()),
			formatOptionalDays(u.PasswordAgeMaxDays()),
			formatOptionalDays(u.PasswordWarnDays()),
			formatOptionalDays(u.PasswordDisableDays()),
			formatOptionalDays(u.AccountExpireDate()),
			"",
		}, ":")

		if _, err := fmt.Fprintf(w, "%s\n", line); err != nil {
			return err
		}
	}

	return nil
}
