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
	"go.qbee.io/shadowsync/internal/shadowerr"
	"go.qbee.io/shadowsync/internal/snapshot"
)

// User is one local account, the in-memory union of its passwd and
// shadow rows. Outside this package, attributes are only ever changed
// through the setters below, which validate the new value and toggle
// Modified when (and only when) it actually differs from the old one.
// The codec in this package assigns loaded and repaired values directly.
type User struct {
	name  string
	uid   uint32
	gid   uint32
	gecos string
	home  string
	shell string

	password *string

	lastPasswordChangeDate *int32
	passwordAgeMinDays     *int32
	passwordAgeMaxDays     *int32
	passwordWarnDays       *int32
	passwordDisableDays    *int32
	accountExpireDate      *int32

	modified bool
}

// NewUser constructs a User directly, validating every field. Intended
// for callers building a record outside of snapshot ingestion or file
// parsing (spec 3.3 lifecycle path (c)).
func NewUser(name string, uid, gid uint32, gecos, home, shell string) (*User, error) {
	u := &User{}
	if err := u.setName(name); err != nil {
		return nil, err
	}
	u.uid = uid
	u.gid = gid
	if err := u.SetGECOS(gecos); err != nil {
		return nil, err
	}
	if err := u.SetHome(home); err != nil {
		return nil, err
	}
	if err := u.SetShell(shell); err != nil {
		return nil, err
	}
	u.modified = true
	return u, nil
}

func (u *User) setName(name string) error {
	if err := ValidateName("name", name); err != nil {
		return err
	}
	u.name = name
	return nil
}

// Name returns the account name. Immutable after construction; see
// UpdateFromSnapshotItem.
func (u *User) Name() string { return u.name }

// UID returns the numeric user ID.
func (u *User) UID() uint32 { return u.uid }

// SetUID validates and sets the user ID, marking Modified on change.
func (u *User) SetUID(uid uint32) error {
	if u.uid != uid {
		u.uid = uid
		u.modified = true
	}
	return nil
}

// GID returns the numeric primary group ID.
func (u *User) GID() uint32 { return u.gid }

// SetGID validates and sets the primary group ID, marking Modified on change.
func (u *User) SetGID(gid uint32) error {
	if u.gid != gid {
		u.gid = gid
		u.modified = true
	}
	return nil
}

// GECOS returns the free-text "real name" field.
func (u *User) GECOS() string { return u.gecos }

// SetGECOS validates and sets the GECOS field, marking Modified on change.
func (u *User) SetGECOS(gecos string) error {
	if err := ValidateGECOS("real_name", gecos); err != nil {
		return err
	}
	if u.gecos != gecos {
		u.gecos = gecos
		u.modified = true
	}
	return nil
}

// Home returns the home directory path.
func (u *User) Home() string { return u.home }

// SetHome validates and sets the home directory, marking Modified on change.
func (u *User) SetHome(home string) error {
	if err := ValidateFreeText("home", home); err != nil {
		return err
	}
	if u.home != home {
		u.home = home
		u.modified = true
	}
	return nil
}

// Shell returns the login shell path.
func (u *User) Shell() string { return u.shell }

// SetShell validates and sets the login shell, marking Modified on change.
func (u *User) SetShell(shell string) error {
	if err := ValidateFreeText("shell", shell); err != nil {
		return err
	}
	if u.shell != shell {
		u.shell = shell
		u.modified = true
	}
	return nil
}

// Password returns the opaque shadow password hash, or nil if unset.
func (u *User) Password() *string { return u.password }

// SetPassword validates and sets the shadow password hash, marking
// Modified on change. Pass nil to clear it.
func (u *User) SetPassword(password *string) error {
	if err := ValidatePasswordHash("password", password); err != nil {
		return err
	}
	if !equalOptionalString(u.password, password) {
		u.password = password
		u.modified = true
	}
	return nil
}

// LastPasswordChangeDate returns the shadow "last change" field (days
// since epoch), or nil if unset.
func (u *User) LastPasswordChangeDate() *int32 { return u.lastPasswordChangeDate }

// SetLastPasswordChangeDate sets the field, marking Modified on change.
func (u *User) SetLastPasswordChangeDate(days *int32) {
	if !equalOptionalInt32(u.lastPasswordChangeDate, days) {
		u.lastPasswordChangeDate = days
		u.modified = true
	}
}

// PasswordAgeMinDays returns the shadow "min" field, or nil if unset.
func (u *User) PasswordAgeMinDays() *int32 { return u.passwordAgeMinDays }

// SetPasswordAgeMinDays sets the field, marking Modified on change.
func (u *User) SetPasswordAgeMinDays(days *int32) {
	if !equalOptionalInt32(u.passwordAgeMinDays, days) {
		u.passwordAgeMinDays = days
		u.modified = true
	}
}

// PasswordAgeMaxDays returns the shadow "max" field, or nil if unset.
func (u *User) PasswordAgeMaxDays() *int32 { return u.passwordAgeMaxDays }

// SetPasswordAgeMaxDays sets the field, marking Modified on change.
func (u *User) SetPasswordAgeMaxDays(days *int32) {
	if !equalOptionalInt32(u.passwordAgeMaxDays, days) {
		u.passwordAgeMaxDays = days
		u.modified = true
	}
}

// PasswordWarnDays returns the shadow "warn" field, or nil if unset.
func (u *User) PasswordWarnDays() *int32 { return u.passwordWarnDays }

// SetPasswordWarnDays sets the field, marking Modified on change.
func (u *User) SetPasswordWarnDays(days *int32) {
	if !equalOptionalInt32(u.passwordWarnDays, days) {
		u.passwordWarnDays = days
		u.modified = true
	}
}

// PasswordDisableDays returns the shadow "inactive" field, or nil if unset.
func (u *User) PasswordDisableDays() *int32 { return u.passwordDisableDays }

// SetPasswordDisableDays sets the field, marking Modified on change.
func (u *User) SetPasswordDisableDays(days *int32) {
	if !equalOptionalInt32(u.passwordDisableDays, days) {
		u.passwordDisableDays = days
		u.modified = true
	}
}

// AccountExpireDate returns the shadow "expire" field, or nil if unset.
func (u *User) AccountExpireDate() *int32 { return u.accountExpireDate }

// SetAccountExpireDate sets the field, marking Modified on change.
func (u *User) SetAccountExpireDate(days *int32) {
	if !equalOptionalInt32(u.accountExpireDate, days) {
		u.accountExpireDate = days
		u.modified = true
	}
}

// loadGECOS, loadHome and loadShell set a field as part of an ordinary
// (non-repaired) file load, without touching Modified - the value now in
// memory is exactly what was on disk.
func (u *User) loadGECOS(v string) { u.gecos = v }
func (u *User) loadHome(v string)  { u.home = v }
func (u *User) loadShell(v string) { u.shell = v }

// repairHome and repairShell set a field as part of the codec's repair
// policy (spec 4.2) and mark the record Modified, since the next write()
// will differ from what was read.
func (u *User) repairHome(v string)  { u.home = v; u.modified = true }
func (u *User) repairShell(v string) { u.shell = v; u.modified = true }

// Modified reports whether any attribute differs from what was last
// loaded from or written to disk.
func (u *User) Modified() bool { return u.modified }

// ClearModified resets the dirty flag; called by the database facade
// immediately after a successful write (spec invariant 5).
func (u *User) ClearModified() { u.modified = false }

// UserFromSnapshotItem constructs a new User from a snapshot item, with
// Modified set to true (spec 4.1 from_snapshot_item).
func UserFromSnapshotItem(item snapshot.UserItem) (*User, error) {
	u, err := NewUser(item.Name, item.UID, item.GID, item.RealName, item.Home, item.Shell)
	if err != nil {
		return nil, err
	}

	if err := u.applyOptionalFields(item); err != nil {
		return nil, err
	}

	u.modified = true
	return u, nil
}

// UpdateFromSnapshotItem mutates u in place to match item, field by
// field, setting Modified on any change. It returns the new Modified
// value. If item.Name differs from u.Name, it returns
// shadowerr.ImmutableFieldError and leaves u unchanged (spec 4.1).
func (u *User) UpdateFromSnapshotItem(item snapshot.UserItem) (bool, error) {
	if item.Name != u.name {
		return u.modified, shadowerr.NewImmutableFieldError("name", u.name, item.Name)
	}

	if err := u.SetUID(item.UID); err != nil {
		return u.modified, err
	}
	if err := u.SetGID(item.GID); err != nil {
		return u.modified, err
	}
	if err := u.SetGECOS(item.RealName); err != nil {
		return u.modified, err
	}
	if err := u.SetHome(item.Home); err != nil {
		return u.modified, err
	}
	if err := u.SetShell(item.Shell); err != nil {
		return u.modified, err
	}

	if err := u.applyOptionalFields(item); err != nil {
		return u.modified, err
	}

	return u.modified, nil
}

func (u *User) applyOptionalFields(item snapshot.UserItem) error {
	if err := u.SetPassword(item.Password); err != nil {
		return err
	}

	u.SetLastPasswordChangeDate(item.LastPasswordChangeDate)
	u.SetPasswordAgeMinDays(item.PasswordAgeMinDays)
	u.SetPasswordAgeMaxDays(item.PasswordAgeMaxDays)
	u.SetPasswordWarnDays(item.PasswordWarnDays)
	u.SetPasswordDisableDays(item.PasswordDisableDays)
	u.SetAccountExpireDate(item.AccountExpireDate)

	return nil
}

// sortKey returns the ordering key (uid, name) used by Less. Names are
// unique, so it yields a total order; Equal compares every field itself.
func (u *User) sortKey() (uint32, string) {
	return u.uid, u.name
}

// Less orders users by uid ascending, ties broken by name - the order
// spec 4.2 requires for passwd/shadow output.
func (u *User) Less(other *User) bool {
	au, an := u.sortKey()
	bu, bn := other.sortKey()
	if au != bu {
		return au < bu
	}
	return an < bn
}

// Equal reports whether u and other carry identical field values,
// ignoring Modified.
func (u *User) Equal(other *User) bool {
	if other == nil {
		return false
	}
	return u.name == other.name &&
		u.uid == other.uid &&
		u.gid == other.gid &&
		u.gecos == other.gecos &&
		u.home == other.home &&
		u.shell == other.shell &&
		equalOptionalString(u.password, other.password) &&
		equalOptionalInt32(u.lastPasswordChangeDate, other.lastPasswordChangeDate) &&
		equalOptionalInt32(u.passwordAgeMinDays, other.passwordAgeMinDays) &&
		equalOptionalInt32(u.passwordAgeMaxDays, other.passwordAgeMaxDays) &&
		equalOptionalInt32(u.passwordWarnDays, other.passwordWarnDays) &&
		equalOptionalInt32(u.passwordDisableDays, other.passwordDisableDays) &&
		equalOptionalInt32(u.accountExpireDate, other.accountExpireDate)
}

func equalOptionalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalOptionalInt32(a, b *int32) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
