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

// Package snapshot defines the typed contract consumed from the remote
// document store (the SnapshotSource of spec section 6). The source
// adapter is responsible for turning whatever dynamic attribute
// dictionary the remote store returns into these typed, optional slots -
// this package never does generic -> typed conversion itself.
package snapshot

import "context"

// UserItem is one user record as materialized from the remote store.
// Required fields are Name, UID, GID, RealName, Home, Shell; all others
// are optional and nil/zero-value when absent. Date fields are whole
// days since 1970-01-01; negative day counts in the source map to nil
// here.
type UserItem struct {
	Name     string
	UID      uint32
	GID      uint32
	RealName string
	Home     string
	Shell    string

	Password               *string
	LastPasswordChangeDate *int32
	PasswordAgeMinDays     *int32
	PasswordAgeMaxDays     *int32
	PasswordWarnDays       *int32
	PasswordDisableDays    *int32
	AccountExpireDate      *int32
	SSHPublicKeys          []string
}

// GroupItem is one group record as materialized from the remote store.
// Required fields are Name and GID.
type GroupItem struct {
	Name string
	GID  uint32

	Password       *string
	Administrators []string
	Members        []string
}

// Snapshot is a materialized, point-in-time copy of the authoritative
// user and group records, keyed by name.
type Snapshot struct {
	Users  map[string]UserItem
	Groups map[string]GroupItem
}

// Source produces a Snapshot on demand. Implementations are responsible
// for retrying transient remote failures themselves; Fetch either
// returns a complete, consistent snapshot or an error that aborts the
// reconcile cycle calling it.
type Source interface {
	Fetch(ctx context.Context) (*Snapshot, error)
}
