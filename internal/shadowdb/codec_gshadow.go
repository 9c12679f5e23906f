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

const gshadowFileName = "gshadow"
const gshadowFieldCount = 4

// DecodeGshadow parses the gshadow-format file read from r, applying its
// fields onto the already-indexed groups (spec 4.4: gshadow is loaded
// after group, which indexes groups by name). A line referencing a group
// name with no matching group entry is logged and skipped.
func DecodeGshadow(r io.Reader, groups map[string]*Group) error {
	return forLines(r, func(lineNo int, line string) error {
		fields, ok := splitExact(line, gshadowFieldCount)
		if !ok {
			logParseWarn(gshadowFileName, lineNo, "expected %d fields, dropping line", gshadowFieldCount)
			return nil
		}

		name := fields[0]

		group, exists := groups[name]
		if !exists {
			logParseWarn(gshadowFileName, lineNo, "references unknown group, skipping")
			return nil
		}

		applyGshadowFields(group, lineNo, fields)
		return nil
	})
}

func applyGshadowFields(group *Group, lineNo int, fields []string) {
	sanitizedHash, repaired := sanitizeHash(fields[1])
	var hash *string
	if sanitizedHash != "" {
		hash = &sanitizedHash
	}
	group.password = hash
	if repaired {
		logParseWarn(gshadowFileName, lineNo, "invalid password hash character, replacing with '!'")
		group.modified = true
	}

	admins, adminsMalformed := parseMembersCSV(fields[2])
	validAdmins, anyAdminDropped := filterValidNames(admins)
	switch {
	case adminsMalformed:
		logParseWarn(gshadowFileName, lineNo, "malformed administrators list, clearing")
		group.repairAdministrators(nil)
	case anyAdminDropped:
		logParseWarn(gshadowFileName, lineNo, "dropping administrators that fail the name pattern")
		group.repairAdministrators(validAdmins)
	default:
		group.loadAdministrators(validAdmins)
	}

	members, membersMalformed := parseMembersCSV(fields[3])
	validMembers, _ := filterValidNames(members)
	if membersMalformed {
		validMembers = nil
	}

	union, changed := unionNames(group.Members(), validMembers)
	if changed {
		logParseWarn(gshadowFileName, lineNo, "members disagree with group file, unioning")
		group.repairMembers(union)
	}
}

// unionNames merges b into a (both assumed already deduplicated),
// reporting whether the result differs from a.
func unionNames(a, b []string) (union []string, changed bool) {
	set := toSet(a)
	for _, name := range b {
		if _, ok := set[name]; !ok {
			set[name] = struct{}{}
			changed = true
		}
	}
	return sortedKeys(set), changed
}

// EncodeGshadow writes groups (sorted by gid ascending, ties by name) to
// w in gshadow format, with administrators and members sorted ascending.
func EncodeGshadow(w io.Writer, groups []*Group) error {
	sorted := append([]*Group(nil), groups...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	for _, g := range sorted {
		line := strings.Join([]string{
			g.Name(),
			formatOptionalHash(g.Password()),
			joinCSV(g.Administrators()),
			joinCSV(g.Members()),
		}, ":")

		if _, err := fmt.Fprintf(w, "%s\n", line); err != nil {
			return err
		}
	}

	return nil
}
