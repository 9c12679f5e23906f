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

package lockmgr

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.qbee.io/shadowsync/internal/assert"
	"go.qbee.io/shadowsync/internal/shadowerr"
)

func newTestDir(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	for _, name := range lockOrder {
		if err := os.WriteFile(filepath.Join(dir, name), []byte{}, 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

// no residue (spec invariant 7): after a clean Lock/Unlock cycle, the
// only files left in dir are the four account files and the tier 1 lock
// file itself - no .lock or .<pid> siblings.
func TestManagerLockUnlockLeavesNoResidue(t *testing.T) {
	dir := newTestDir(t)
	m := NewManager(dir)

	assert.NoError(t, m.Lock(0))
	assert.NoError(t, m.Unlock())

	entries, err := os.ReadDir(dir)
	assert.NoError(t, err)

	for _, e := range entries {
		name := e.Name()
		if name == globalLockFileName {
			continue
		}
		isAccountFile := false
		for _, n := range lockOrder {
			if name == n {
				isAccountFile = true
				break
			}
		}
		if !isAccountFile {
			t.Fatalf("unexpected leftover entry %q after unlock", name)
		}
	}
}

// invariant 6: timeout == 0 against an already-held lock returns exactly
// one LockBusy, with no filesystem residue from the failed attempt.
func TestManagerLockTimeoutZeroBusy(t *testing.T) {
	dir := newTestDir(t)

	holder := newPidLock(filepath.Join(dir, "passwd"))
	assert.NoError(t, holder.acquire(0))
	defer holder.release()

	m := NewManager(dir)
	err := m.Lock(0)
	assert.Error(t, err)

	var lockErr *shadowerr.LockError
	if !errors.As(err, &lockErr) || lockErr.Kind != shadowerr.LockBusy {
		t.Fatalf("expected LockBusy, got %v", err)
	}

	// the global lock must have been rolled back too.
	assert.True(t, m.globalFile == nil)

	// no transient <file>.<pid> left behind by the failed pidlock attempt.
	if _, statErr := os.Stat(holder.transientPath()); statErr == nil {
		t.Fatalf("unexpected leftover transient file %s", holder.transientPath())
	}
}

// reentrant Lock/Unlock calls from the same owner nest instead of
// re-running the acquisition protocol.
func TestManagerLockReentrant(t *testing.T) {
	dir := newTestDir(t)
	m := NewManager(dir)

	assert.NoError(t, m.Lock(0))
	assert.NoError(t, m.Lock(0))

	assert.NoError(t, m.Unlock())
	// still locked: depth went from 2 to 1.
	assert.True(t, m.depth == 1)

	assert.NoError(t, m.Unlock())
	assert.True(t, m.depth == 0)
}

// partial acquisition failure rolls back every pidlock acquired so far,
// and releases the global lock, leaving the directory fully unlocked.
func TestManagerLockRollbackOnPartialFailure(t *testing.T) {
	dir := newTestDir(t)

	// pre-hold the third lock in the fixed order (gshadow) so that
	// acquisition of passwd and group succeeds, then gshadow fails.
	holder := newPidLock(filepath.Join(dir, "gshadow"))
	assert.NoError(t, holder.acquire(0))
	defer holder.release()

	m := NewManager(dir)
	err := m.Lock(0)
	assert.Error(t, err)

	// passwd and group locks must have been released by the rollback.
	for _, name := range []string{"passwd", "group"} {
		if _, statErr := os.Stat(filepath.Join(dir, name+".lock")); statErr == nil {
			t.Fatalf("expected %s.lock to be released by rollback", name)
		}
	}
}
