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
	"regexp"
	"strings"
	"unicode/utf8"

	"go.qbee.io/shadowsync/internal/shadowerr"
)

// maxNameBytes bounds account and group names (spec 3.1).
const maxNameBytes = 256

// maxFreeTextBytes bounds the GECOS field when UTF-8 encoded (spec 3.1).
const maxFreeTextBytes = 256

// nameRE matches a well-formed account or group name.
var nameRE = regexp.MustCompile(`^[A-Za-z0-9_.][-A-Za-z0-9_.]*$`)

// forbiddenTextRunes are never allowed in a colon-delimited field.
const forbiddenTextRunes = ":\n\v\f\x00"

// ValidateName checks field against the shared account/group name rule.
func ValidateName(field, value string) error {
	if value == "" {
		return shadowerr.NewValidationError(field, "must not be empty")
	}

	if len(value) > maxNameBytes {
		return shadowerr.NewValidationError(field, "must be at most 256 bytes")
	}

	if !nameRE.MatchString(value) {
		return shadowerr.NewValidationError(field, "must match [A-Za-z0-9_.][-A-Za-z0-9_.]*")
	}

	return nil
}

// ValidateFreeText checks a colon-delimited field (home, shell) that
// forbids ':', '\n', '\v', '\f' and NUL but otherwise allows any text.
func ValidateFreeText(field, value string) error {
	if strings.ContainsAny(value, forbiddenTextRunes) {
		return shadowerr.NewValidationError(field, `must not contain ':', '\n', '\v', '\f' or NUL`)
	}

	return nil
}

// ValidateGECOS checks the real_name (GECOS) field: valid UTF-8, the same
// forbidden runes as free text, and an encoded length cap.
func ValidateGECOS(field, value string) error {
	if !utf8.ValidString(value) {
		return shadowerr.NewValidationError(field, "must be valid UTF-8")
	}

	if len(value) > maxFreeTextBytes {
		return shadowerr.NewValidationError(field, "must be at most 256 bytes encoded")
	}

	return ValidateFreeText(field, value)
}

// ValidatePasswordHash checks an optional opaque password hash: when
// present it must be non-empty and contain no ':' or newline.
func ValidatePasswordHash(field string, value *string) error {
	if value == nil {
		return nil
	}

	if *value == "" {
		return shadowerr.NewValidationError(field, "must not be empty when present")
	}

	if strings.ContainsAny(*value, ":\n") {
		return shadowerr.NewValidationError(field, "must not contain ':' or newline")
	}

	return nil
}
