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

const passwdFileName = "passwd"
const passwdFieldCount = 7

// passwdRepairedShell is substituted for a shell field that fails
// validation (spec 4.2 repair policy).
const passwdRepairedShell = "/bin/false"

// passwdRepairedHome is substituted for a home field that fails
// validation.
const passwdRepairedHome = "/"

// DecodePasswd parses the passwd-format file read from r, returning one
// User per surviving line, in file order. A line whose name, uid or gid
// fails validation is dropped (logged, not repaired); a bad real_name,
// home or shell is repaired in place per spec 4.2. A real_name that is
// still invalid after substitution (bad UTF-8, over 256 bytes) drops the
// line.
func DecodePasswd(r io.Reader) ([]*User, error) {
	var users []*User

	err := forLines(r, func(lineNo int, line string) error {
		fields, ok := splitExact(line, passwdFieldCount)
		if !ok {
			logParseWarn(passwdFileName, lineNo, "expected %d fields, dropping line", passwdFieldCount)
			return nil
		}

		name, _, uidField, gidField, gecos, home, shell := fields[0], fields[1], fields[2], fields[3], fields[4], fields[5], fields[6]

		if err := ValidateName("name", name); err != nil {
			logParseWarn(passwdFileName, lineNo, "invalid name: %v, dropping line", err)
			return nil
		}

		uid64, err := strconv.ParseUint(uidField, 10, 32)
		if err != nil {
			logParseWarn(passwdFileName, lineNo, "invalid uid, dropping line")
			return nil
		}

		gid64, err := strconv.ParseUint(gidField, 10, 32)
		if err != nil {
			logParseWarn(passwdFileName, lineNo, "invalid gid, dropping line")
			return nil
		}

		user, err := NewUser(name, uint32(uid64), uint32(gid64), "", "", "")
		if err != nil {
			// name already validated above, so only gecos/home/shell
			// placeholders can fail here - they're empty and always valid.
			return fmt.Errorf("unexpected passwd construction failure: %w", err)
		}
		user.modified = false

		sanitizedGECOS := sanitizeGECOS(gecos)
		if err := ValidateGECOS("real_name", sanitizedGECOS); err != nil {
			logParseWarn(passwdFileName, lineNo, "real_name unrecoverable after repair: %v, dropping line", err)
			return nil
		}
		if sanitizedGECOS != gecos {
			logParseWarn(passwdFileName, lineNo, "invalid real_name, substituting '-' for forbidden characters")
			user.gecos = sanitizedGECOS
			user.modified = true
		} else {
			user.loadGECOS(gecos)
		}

		if err := ValidateFreeText("home", home); err != nil {
			logParseWarn(passwdFileName, lineNo, "invalid home, repairing to %q", passwdRepairedHome)
			user.repairHome(passwdRepairedHome)
		} else {
			user.loadHome(home)
		}

		if err := ValidateFreeText("shell", shell); err != nil {
			logParseWarn(passwdFileName, lineNo, "invalid shell, repairing to %q", passwdRepairedShell)
			user.repairShell(passwdRepairedShell)
		} else {
			user.loadShell(shell)
		}

		users = append(users, user)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return users, nil
}

// sanitizeGECOS substitutes runs of characters forbidden in a
// colon-delimited field with '-' rather than dropping the row (spec 4.2:
// "substitute forbidden runs with -").
func sanitizeGECOS(value string) string {
	var b strings.Builder
	inRun := false

	for _, r := range value {
		switch r {
		case ':', '\n', '\v', '\f', 0:
			if !inRun {
				b.WriteByte('-')
				inRun = true
			}
		default:
			b.WriteRune(r)
			inRun = false
		}
	}

	return b.String()
}

// EncodePasswd writes users (sorted by uid ascending, ties by name) to w
// in passwd format.
func EncodePasswd(w io.Writer, users []*User) error {
	sorted := append([]*User(nil), users...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	for _, u := range sorted {
		line := strings.Join([]string{
			u.Name(),
			shadowPasswordPlaceholder,
			strconv.FormatUint(uint64(u.UID()), 10),
			strconv.FormatUint(uint64(u.GID()), 10),
			u.GECOS(),
			u.Home(),
			u.Shell(),
		}, ":")

		if _, err := fmt.Fprintf(w, "%s\n", line); err != nil {
			return err
		}
	}

	return nil
}
