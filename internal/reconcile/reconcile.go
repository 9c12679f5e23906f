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

// Package reconcile implements the reconciler (component E, spec 4.5):
// it merges a remote snapshot into the local shadow database and
// provisions each user's home directory and SSH keys on the host.
package reconcile

import (
	"context"
	"errors"
	"time"

	"go.qbee.io/shadowsync/internal/log"
	"go.qbee.io/shadowsync/internal/provision"
	"go.qbee.io/shadowsync/internal/shadowdb"
	"go.qbee.io/shadowsync/internal/shadowerr"
	"go.qbee.io/shadowsync/internal/snapshot"
)

var reconcileLog = log.For("reconcile")

// database is the subset of *shadowdb.Database the reconciler depends
// on, narrowed so tests can supply a fake.
type database interface {
	Users() map[string]*shadowdb.User
	Groups() map[string]*shadowdb.Group
	Reload(timeout time.Duration) error
	Write(timeout time.Duration) error
}

// Reconciler drives one full_update cycle: fetch, merge, write, provision.
type Reconciler struct {
	db          database
	source      snapshot.Source
	provisioner provision.HostProvisioner
	lockTimeout time.Duration
}

// New builds a Reconciler over db, pulling snapshots from source and
// provisioning hosts through provisioner. lockTimeout is passed through
// to the database facade's Reload/Write calls.
func New(db database, source snapshot.Source, provisioner provision.HostProvisioner, lockTimeout time.Duration) *Reconciler {
	return &Reconciler{
		db:          db,
		source:      source,
		provisioner: provisioner,
		lockTimeout: lockTimeout,
	}
}

// FullUpdate runs one complete reconcile cycle (spec 4.5). A fetch
// failure or a write failure aborts the cycle and returns an error; an
// individual record's ImmutableFieldError or a provisioning failure is
// logged and the cycle continues.
func (r *Reconciler) FullUpdate(ctx context.Context) error {
	snap, err := r.source.Fetch(ctx)
	if err != nil {
		return err
	}

	if err := r.db.Reload(r.lockTimeout); err != nil {
		return err
	}

	r.mergeUsers(snap.Users)
	r.mergeGroups(snap.Groups)

	if err := r.db.Write(r.lockTimeout); err != nil {
		return err
	}

	r.provisionUsers(snap.Users)

	return nil
}

// mergeUsers applies every snapshot user onto the database, updating an
// existing record or inserting a new one. Records present in the
// database but absent from the snapshot are left untouched - this
// component never deletes host accounts.
func (r *Reconciler) mergeUsers(items map[string]snapshot.UserItem) {
	users := r.db.Users()

	for name, item := range items {
		if existing, ok := users[name]; ok {
			if _, err := existing.UpdateFromSnapshotItem(item); err != nil {
				r.logRecordError("user", name, err)
			}
			continue
		}

		user, err := shadowdb.UserFromSnapshotItem(item)
		if err != nil {
			r.logRecordError("user", name, err)
			continue
		}
		users[name] = user
	}
}

// mergeGroups applies every snapshot group onto the database, same
// merge-only semantics as mergeUsers.
func (r *Reconciler) mergeGroups(items map[string]snapshot.GroupItem) {
	groups := r.db.Groups()

	for name, item := range items {
		if existing, ok := groups[name]; ok {
			if _, err := existing.UpdateFromSnapshotItem(item); err != nil {
				r.logRecordError("group", name, err)
			}
			continue
		}

		group, err := shadowdb.GroupFromSnapshotItem(item)
		if err != nil {
			r.logRecordError("group", name, err)
			continue
		}
		groups[name] = group
	}
}

func (r *Reconciler) logRecordError(kind, name string, err error) {
	var immutable *shadowerr.ImmutableFieldError
	if errors.As(err, &immutable) {
		reconcileLog.Warnf("%s %s: %v, skipping this record", kind, name, err)
		return
	}
	reconcileLog.Errorf("%s %s: %v", kind, name, err)
}

// provisionUsers calls EnsureHome and WriteSSHKeys for every snapshot
// user, logging but not aborting on failure (spec 4.5 step 4). A user
// whose EnsureHome fails gets no WriteSSHKeys call this cycle.
func (r *Reconciler) provisionUsers(items map[string]snapshot.UserItem) {
	users := r.db.Users()

	for name, item := range items {
		user, ok := users[name]
		if !ok {
			// the record failed validation during merge; nothing to
			// provision for it this cycle.
			continue
		}

		account := provision.Account{
			Name:          user.Name(),
			UID:           user.UID(),
			GID:           user.GID(),
			Home:          user.Home(),
			SSHPublicKeys: item.SSHPublicKeys,
		}

		if err := r.provisioner.EnsureHome(account); err != nil {
			reconcileLog.Errorf("ensure_home %s: %v", name, err)
			continue
		}

		if err := r.provisioner.WriteSSHKeys(account); err != nil {
			reconcileLog.Errorf("write_ssh_keys %s: %v", name, err)
		}
	}
}
