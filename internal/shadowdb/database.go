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
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"go.qbee.io/shadowsync/internal/log"
	"go.qbee.io/shadowsync/internal/shadowerr"
)

var dbLog = log.For("shadowdb")

// locker is the subset of lockmgr.Manager the database facade depends
// on, kept narrow so tests can supply a fake.
type locker interface {
	Lock(timeout time.Duration) error
	Unlock() error
}

// fileMode pairs a file name with the permission it's written with
// (spec 4.4: 0644 for passwd/group, 0600 for shadow/gshadow).
type fileMode struct {
	name string
	mode os.FileMode
}

// writeOrder is the fixed rotation order (same as the lock order).
var writeOrder = []fileMode{
	{passwdFileName, 0644},
	{groupFileName, 0644},
	{gshadowFileName, 0600},
	{shadowFileName, 0600},
}

// Database is the facade (component D) that owns the in-memory user and
// group maps and serializes every load/store through a lock manager.
type Database struct {
	dir  string
	lock locker

	users  map[string]*User
	groups map[string]*Group
}

// NewDatabase builds a Database rooted at dir (typically /etc), guarded
// by lock.
func NewDatabase(dir string, lock locker) *Database {
	return &Database{
		dir:    dir,
		lock:   lock,
		users:  map[string]*User{},
		groups: map[string]*Group{},
	}
}

func (d *Database) path(name string) string {
	return filepath.Join(d.dir, name)
}

// Users returns the current in-memory user map, keyed by name. The
// caller must not retain it across a Reload.
func (d *Database) Users() map[string]*User { return d.users }

// Groups returns the current in-memory group map, keyed by name.
func (d *Database) Groups() map[string]*Group { return d.groups }

// Modified reports whether any user or group record differs from what
// was last loaded from or written to disk.
func (d *Database) Modified() bool {
	for _, u := range d.users {
		if u.Modified() {
			return true
		}
	}
	for _, g := range d.groups {
		if g.Modified() {
			return true
		}
	}
	return false
}

// Reload re-reads all four account files under the full lock, replacing
// the in-memory maps. Load order is mandatory: passwd, group, gshadow,
// shadow (spec 4.4) - gshadow needs groups indexed by name, shadow needs
// users indexed by name.
func (d *Database) Reload(timeout time.Duration) error {
	if err := d.lock.Lock(timeout); err != nil {
		return err
	}
	defer d.lock.Unlock()

	users, err := d.loadPasswd()
	if err != nil {
		return err
	}

	groups, err := d.loadGroup()
	if err != nil {
		return err
	}

	if err := d.loadGshadow(groups); err != nil {
		return err
	}

	if err := d.loadShadow(users); err != nil {
		return err
	}

	d.users = users
	d.groups = groups
	return nil
}

func (d *Database) loadPasswd() (map[string]*User, error) {
	f, err := os.Open(d.path(passwdFileName))
	if err != nil {
		return nil, shadowerr.NewIoError("open", d.path(passwdFileName), err)
	}
	defer f.Close()

	list, err := DecodePasswd(f)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]*User, len(list))
	for _, u := range list {
		byName[u.Name()] = u
	}
	return byName, nil
}

func (d *Database) loadGroup() (map[string]*Group, error) {
	f, err := os.Open(d.path(groupFileName))
	if err != nil {
		return nil, shadowerr.NewIoError("open", d.path(groupFileName), err)
	}
	defer f.Close()

	list, err := DecodeGroup(f)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]*Group, len(list))
	for _, g := range list {
		byName[g.Name()] = g
	}
	return byName, nil
}

func (d *Database) loadGshadow(groups map[string]*Group) error {
	f, err := os.Open(d.path(gshadowFileName))
	if err != nil {
		return shadowerr.NewIoError("open", d.path(gshadowFileName), err)
	}
	defer f.Close()

	return DecodeGshadow(f, groups)
}

func (d *Database) loadShadow(users map[string]*User) error {
	f, err := os.Open(d.path(shadowFileName))
	if err != nil {
		return shadowerr.NewIoError("open", d.path(shadowFileName), err)
	}
	defer f.Close()

	return DecodeShadow(f, users)
}

// Write serializes the in-memory maps to the four staging files, rotates
// each one into place, and clears every record's Modified flag. It holds
// the full lock for the entire operation (spec 4.4).
func (d *Database) Write(timeout time.Duration) error {
	if err := d.lock.Lock(timeout); err != nil {
		return err
	}
	defer d.lock.Unlock()

	users := mapValues(d.users)
	groups := mapValues(d.groups)

	if err := d.writeStaged(passwdFileName, 0644, func(f *os.File) error {
		return EncodePasswd(f, users)
	}); err != nil {
		d.cleanupStaging()
		return err
	}

	if err := d.writeStaged(groupFileName, 0644, func(f *os.File) error {
		return EncodeGroup(f, groups)
	}); err != nil {
		d.cleanupStaging()
		return err
	}

	if err := d.writeStaged(gshadowFileName, 0600, func(f *os.File) error {
		return EncodeGshadow(f, groups)
	}); err != nil {
		d.cleanupStaging()
		return err
	}

	if err := d.writeStaged(shadowFileName, 0600, func(f *os.File) error {
		return EncodeShadow(f, users)
	}); err != nil {
		d.cleanupStaging()
		return err
	}

	for _, fm := range writeOrder {
		if err := d.rotate(fm.name); err != nil {
			return err
		}
	}

	for _, u := range users {
		u.ClearModified()
	}
	for _, g := range groups {
		g.ClearModified()
	}

	return nil
}

// writeStaged opens <dir>/<name>+ O_CREAT|O_TRUNC|O_WRONLY at mode,
// takes an exclusive range lock, runs encode, fsyncs and closes (spec
// 4.4 step (i)/(ii)).
func (d *Database) writeStaged(name string, mode os.FileMode, encode func(*os.File) error) error {
	path := d.path(name) + "+"

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return shadowerr.NewIoError("open", path, err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return shadowerr.NewIoError("flock", path, err)
	}

	if err := encode(f); err != nil {
		return shadowerr.NewIoError("write", path, err)
	}

	if err := f.Sync(); err != nil {
		return shadowerr.NewIoError("fsync", path, err)
	}

	return nil
}

// rotate performs the four-step atomic swap for one file (spec 4.4):
// assert <file>+ exists, unlink any stale <file>-, rename <file> to
// <file>-, rename <file>+ to <file>. This is deliberately the corrected
// sequence, not the historical bug where <file>- was produced from
// <file>+ instead of the live file.
func (d *Database) rotate(name string) error {
	live := d.path(name)
	staged := live + "+"
	backup := live + "-"

	if _, err := os.Stat(staged); err != nil {
		return shadowerr.NewIoError("stat", staged, err)
	}

	if err := os.Remove(backup); err != nil && !os.IsNotExist(err) {
		return shadowerr.NewIoError("remove", backup, err)
	}

	if err := os.Rename(live, backup); err != nil {
		return shadowerr.NewIoError("rename", live, err)
	}

	if err := os.Rename(staged, live); err != nil {
		return shadowerr.NewIoError("rename", staged, err)
	}

	return nil
}

// cleanupStaging removes every <file>+ left behind by a failed Write,
// per spec 4.4: "on any error both + files for the pair are unlinked."
// We unlink all four unconditionally; removing a file that was never
// created is a harmless no-op.
func (d *Database) cleanupStaging() {
	for _, fm := range writeOrder {
		path := d.path(fm.name) + "+"
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			dbLog.Warnf("cleanup: removing %s: %v", path, err)
		}
	}
}

func mapValues[K comparable, V any](m map[K]V) []V {
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}
