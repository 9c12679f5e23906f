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
	"strconv"
	"strings"
)

const groupFileName = "group"
const groupFieldCount = 4

// DecodeGroup parses the group-format file read from r, returning one
// Group per surviving line. A line whose name or gid fails validation is
// dropped; malformed members are repaired per spec 4.2.
func DecodeGroup(r io.Reader) ([]*Group, error) {
	var groups []*Group

	err := forLines(r, func(lineNo int, line string) error {
		fields, ok := splitExact(line, groupFieldCount)
		if !ok {
			logParseWarn(groupFileName, lineNo, "expected %d fields, dropping line", groupFieldCount)
			return nil
		}

		name, _, gidField, membersCSV := fields[0], fields[1], fields[2], fields[3]

		if err := ValidateName("name", name); err != nil {
			logParseWarn(groupFileName, lineNo, "invalid name: %v, dropping line", err)
			return nil
		}

		gid64, err := strconv.ParseUint(gidField, 10, 32)
		if err != nil {
			logParseWarn(groupFileName, lineNo, "invalid gid, dropping line")
			return nil
		}

		group, err := NewGroup(name, uint32(gid64))
		if err != nil {
			return fmt.Errorf("unexpected group construction failure: %w", err)
		}
		group.modified = false

		members, malformed := parseMembersCSV(membersCSV)
		validMembers, anyDropped := filterValidNames(members)

		switch {
		case malformed:
			logParseWarn(groupFileName, lineNo, "malformed members list, clearing")
			group.repairMembers(nil)
		case anyDropped:
			logParseWarn(groupFileName, lineNo, "dropping members that fail the name pattern")
			group.repairMembers(validMembers)
		default:
			group.loadMembers(validMembers)
		}

		groups = append(groups, group)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return groups, nil
}

// parseMembersCSV splits a members_csv field. A field containing an
// empty element (from a leading/trailing/doubled comma) is considered
// malformed as a whole, per spec 4.2.
func parseMembersCSV(value string) (members []string, malformed bool) {
	names := splitCSV(value)
	for _, name := range names {
		if name == "" {
			return nil, true
		}
	}
	return names, false
}

// filterValidNames drops entries that fail the account-name pattern,
// reporting whether any were dropped.
func filterValidNames(names []string) (kept []string, anyDropped bool) {
	for _, name := range names {
		if ValidateName("member", name) != nil {
			anyDropped = true
			continue
		}
		kept = append(kept, name)
	}
	return kept, anyDropped
}

// EncodeGroup writes groups (sorted by gid ascending, ties by name) to w
// in group format, with members sorted ascending.
func EncodeGroup(w io.Writer, groups []*Group) error {
	sorted := append([]*Group(nil), groups...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	for _, g := range sorted {
		line := strings.Join([]string{
			g.Name(),
			shadowPasswordPlaceholder,
			strconv.FormatUint(uint64(g.GID()), 10),
			joinCSV(g.Members()),
		}, ":")

		if _, err := fmt.Fprintf(w, "%s\n", line); err != nil {
			return err
		}
	}

	return nil
}
