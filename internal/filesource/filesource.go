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

// Package filesource implements snapshot.Source by reading a single
// JSON document from disk. The real remote key-value store is outside
// this repo's scope (spec 1, "remote snapshot fetching" is an external
// collaborator behind the SnapshotSource interface); this adapter exists
// so cmd/shadow-agentd has a runnable default and so the reconciler can
// be exercised against a fixture file in integration tests.
package filesource

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"

	"go.qbee.io/shadowsync/internal/log"
	"go.qbee.io/shadowsync/internal/snapshot"
)

var sourceLog = log.For("filesource")

// document is the on-disk shape: the same Name-keyed collections the
// SnapshotSource contract (spec 6) requires, serialized directly rather
// than through a dynamic attribute dictionary.
type document struct {
	Users  map[string]snapshot.UserItem  `json:"users"`
	Groups map[string]snapshot.GroupItem `json:"groups"`
}

// Source reads a snapshot document from a fixed path on every Fetch.
type Source struct {
	path string
}

// New builds a Source reading the snapshot document at path.
func New(path string) *Source {
	return &Source{path: path}
}

// Fetch implements snapshot.Source. Each call is tagged with a
// correlation ID that appears in its own log line and error messages;
// the ID is not passed on to the reconciler. Negative day counts in the
// document are returned as nil, per the snapshot.UserItem contract.
func (s *Source) Fetch(ctx context.Context) (*snapshot.Snapshot, error) {
	correlationID := uuid.New().String()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: reading %s: %w", correlationID, s.path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("fetch %s: parsing %s: %w", correlationID, s.path, err)
	}

	for name, item := range doc.Users {
		for _, days := range []**int32{
			&item.LastPasswordChangeDate, &item.PasswordAgeMinDays, &item.PasswordAgeMaxDays,
			&item.PasswordWarnDays, &item.PasswordDisableDays, &item.AccountExpireDate,
		} {
			if *days != nil && **days < 0 {
				*days = nil
			}
		}
		doc.Users[name] = item
	}

	sourceLog.Infof("fetch %s: loaded %d users, %d groups from %s", correlationID, len(doc.Users), len(doc.Groups), s.path)

	return &snapshot.Snapshot{Users: doc.Users, Groups: doc.Groups}, nil
}
