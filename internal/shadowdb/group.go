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
	"sort"

	"go.qbee.io/shadowsync/internal/shadowerr"
	"go.qbee.io/shadowsync/internal/snapshot"
)

// Group is one local group, the in-memory union of its group and
// gshadow rows.
type Group struct {
	name  string
	gid   uint32
	admin map[string]struct{}
	membr map[string]struct{}

	password *string

	modified bool
}

// NewGroup constructs a Group directly, validating every field.
func NewGroup(name string, gid uint32) (*Group, error) {
	g := &Group{admin: map[string]struct{}{}, membr: map[string]struct{}{}}
	if err := g.setName(name); err != nil {
		return nil, err
	}
	g.gid = gid
	g.modified = true
	return g, nil
}

func (g *Group) setName(name string) error {
	if err := ValidateName("name", name); err != nil {
		return err
	}
	g.name = name
	return nil
}

// Name returns the group name. Immutable after construction.
func (g *Group) Name() string { return g.name }

// GID returns the numeric group ID.
func (g *Group) GID() uint32 { return g.gid }

// SetGID validates and sets the group ID, marking Modified on change.
func (g *Group) SetGID(gid uint32) error {
	if g.gid != gid {
		g.gid = gid
		g.modified = true
	}
	return nil
}

// Administrators returns the gshadow administrator names, sorted
// ascending (spec 4.2 output order).
func (g *Group) Administrators() []string {
	return sortedKeys(g.admin)
}

// Members returns the group/gshadow member names, sorted ascending
// (spec 4.2 output order).
func (g *Group) Members() []string {
	return sortedKeys(g.membr)
}

// SetAdministrators validates and replaces the administrator set,
// marking Modified on change. Every name must be a well-formed account
// name; invariant 1 tolerates names that don't resolve to a User.
func (g *Group) SetAdministrators(names []string) error {
	set, err := validatedSet("administrators", names)
	if err != nil {
		return err
	}
	if !equalStringSets(g.admin, set) {
		g.admin = set
		g.modified = true
	}
	return nil
}

// SetMembers validates and replaces the member set, marking Modified on
// change.
func (g *Group) SetMembers(names []string) error {
	set, err := validatedSet("members", names)
	if err != nil {
		return err
	}
	if !equalStringSets(g.membr, set) {
		g.membr = set
		g.modified = true
	}
	return nil
}

// AddMember adds a single member name, validating it and marking
// Modified if it wasn't already present.
func (g *Group) AddMember(name string) error {
	if err := ValidateName("members", name); err != nil {
		return err
	}
	if _, ok := g.membr[name]; !ok {
		g.membr[name] = struct{}{}
		g.modified = true
	}
	return nil
}

// Password returns the opaque gshadow password hash, or nil if unset.
func (g *Group) Password() *string { return g.password }

// SetPassword validates and sets the gshadow password hash, marking
// Modified on change.
func (g *Group) SetPassword(password *string) error {
	if err := ValidatePasswordHash("password", password); err != nil {
		return err
	}
	if !equalOptionalString(g.password, password) {
		g.password = password
		g.modified = true
	}
	return nil
}

// loadAdministrators and loadMembers set a field as part of an ordinary
// (non-repaired) file load, without touching Modified.
func (g *Group) loadAdministrators(names []string) { g.admin = toSet(names) }
func (g *Group) loadMembers(names []string)        { g.membr = toSet(names) }

// repairAdministrators and repairMembers set a field as part of the
// codec's repair policy and mark the record Modified.
func (g *Group) repairAdministrators(names []string) {
	g.admin = toSet(names)
	g.modified = true
}

func (g *Group) repairMembers(names []string) {
	g.membr = toSet(names)
	g.modified = true
}

// Modified reports whether any attribute differs from what was last
// loaded from or written to disk.
func (g *Group) Modified() bool { return g.modified }

// ClearModified resets the dirty flag after a successful write.
func (g *Group) ClearModified() { g.modified = false }

// GroupFromSnapshotItem constructs a new Group from a snapshot item,
// with Modified set to true.
func GroupFromSnapshotItem(item snapshot.GroupItem) (*Group, error) {
	g, err := NewGroup(item.Name, item.GID)
	if err != nil {
		return nil, err
	}
	if err := g.applyOptionalFields(item); err != nil {
		return nil, err
	}
	g.modified = true
	return g, nil
}

// UpdateFromSnapshotItem mutates g in place to match item, setting
// Modified on any change. Returns shadowerr.ImmutableFieldError (and
// leaves g unchanged) if item.Name differs from g.Name.
func (g *Group) UpdateFromSnapshotItem(item snapshot.GroupItem) (bool, error) {
	if item.Name != g.name {
		return g.modified, shadowerr.NewImmutableFieldError("name", g.name, item.Name)
	}

	if err := g.SetGID(item.GID); err != nil {
		return g.modified, err
	}

	if err := g.applyOptionalFields(item); err != nil {
		return g.modified, err
	}

	return g.modified, nil
}

func (g *Group) applyOptionalFields(item snapshot.GroupItem) error {
	if err := g.SetPassword(item.Password); err != nil {
		return err
	}
	if item.Administrators != nil {
		if err := g.SetAdministrators(item.Administrators); err != nil {
			return err
		}
	}
	if item.Members != nil {
		if err := g.SetMembers(item.Members); err != nil {
			return err
		}
	}
	return nil
}

// Less orders groups by gid ascending, ties broken by name.
func (g *Group) Less(other *Group) bool {
	if g.gid != other.gid {
		return g.gid < other.gid
	}
	return g.name < other.name
}

// Equal reports whether g and other carry identical field values,
// ignoring Modified.
func (g *Group) Equal(other *Group) bool {
	if other == nil {
		return false
	}
	return g.name == other.name &&
		g.gid == other.gid &&
		equalStringSets(g.admin, other.admin) &&
		equalStringSets(g.membr, other.membr) &&
		equalOptionalString(g.password, other.password)
}

func validatedSet(field string, names []string) (map[string]struct{}, error) {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		if err := ValidateName(field, name); err != nil {
			return nil, err
		}
		set[name] = struct{}{}
	}
	return set, nil
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func equalStringSets(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
