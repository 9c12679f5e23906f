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

// Package lockmgr implements the two-tier locking protocol that guards
// concurrent access to the passwd/group/shadow/gshadow files (spec 4.3).
//
// Tier 1 is a single advisory flock on a directory-wide ".pwd.lock" file,
// mirroring glibc's lckpwdf/ulckpwdf. Tier 2 is an NFS-safe hardlink
// pidlock per file, acquired in a fixed order (passwd, group, gshadow,
// shadow) and released in reverse.
package lockmgr

import (
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"go.qbee.io/shadowsync/internal/shadowerr"
)

// globalLockFileName is the tier 1 lock file created inside the database
// directory, mirroring /etc/.pwd.lock.
const globalLockFileName = ".pwd.lock"

// lockOrder is the fixed acquisition order for tier 2 pidlocks (spec
// 4.3). Release walks it in reverse.
var lockOrder = []string{"passwd", "group", "gshadow", "shadow"}

// Manager serializes access to the account files in dir. It is safe for
// use by a single goroutine at a time; it is not itself goroutine-safe,
// matching the single-threaded reconcile loop that owns it (spec 5).
type Manager struct {
	dir string

	mu sync.Mutex

	depth int // reentrancy counter; 0 means unlocked

	globalFile *os.File
	pidLocks   map[string]*pidLock
}

// NewManager builds a Manager guarding the account files under dir (the
// directory containing passwd, group, shadow and gshadow).
func NewManager(dir string) *Manager {
	locks := make(map[string]*pidLock, len(lockOrder))
	for _, name := range lockOrder {
		locks[name] = newPidLock(fmt.Sprintf("%s/%s", dir, name))
	}

	return &Manager{
		dir:      dir,
		pidLocks: locks,
	}
}

// Lock acquires the global flock and every per-file pidlock in order. A
// second Lock call from the same logical owner (e.g. reload() called
// from inside an already-locked write()) nests: it increments the
// reentrancy counter without re-acquiring anything. timeout is passed
// through to each pidlock's retry wrapper (see retryOnBusy).
func (m *Manager) Lock(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.depth > 0 {
		m.depth++
		return nil
	}

	if err := m.acquireGlobal(); err != nil {
		return err
	}

	acquired := make([]string, 0, len(lockOrder))
	for _, name := range lockOrder {
		if err := m.pidLocks[name].acquire(timeout); err != nil {
			m.rollback(acquired)
			m.releaseGlobal()
			return err
		}
		acquired = append(acquired, name)
	}

	m.depth = 1
	return nil
}

// Unlock releases the locks acquired by the outermost Lock call. Calls
// nested inside it only decrement the reentrancy counter. A failure to
// release one file's pidlock is logged but does not prevent releasing
// the rest; the first error encountered is returned to the caller.
func (m *Manager) Unlock() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.depth == 0 {
		return shadowerr.NewLockError(m.dir, 0)
	}

	m.depth--
	if m.depth > 0 {
		return nil
	}

	var firstErr error
	for i := len(lockOrder) - 1; i >= 0; i-- {
		name := lockOrder[i]
		if err := m.pidLocks[name].release(); err != nil {
			lockLog.Errorf("releasing %s lock: %v", name, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if err := m.releaseGlobal(); err != nil {
		lockLog.Errorf("releasing global lock: %v", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// rollback releases the pidlocks named in acquired, in reverse order,
// after a partial acquisition failure. Secondary errors are logged, not
// propagated: the caller already has the original failure to report.
func (m *Manager) rollback(acquired []string) {
	for i := len(acquired) - 1; i >= 0; i-- {
		name := acquired[i]
		if err := m.pidLocks[name].release(); err != nil {
			lockLog.Errorf("rollback: releasing %s lock: %v", name, err)
		}
	}
}

// acquireGlobal opens (creating if needed) and flocks the tier 1 lock
// file. It never retries: the caller's timeout policy applies only to
// the per-file pidlocks, matching the lckpwdf/ulckpwdf analogue which
// has no user-configurable timeout.
func (m *Manager) acquireGlobal() error {
	path := fmt.Sprintf("%s/%s", m.dir, globalLockFileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return shadowerr.NewIoError("open", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		_ = f.Close()
		return shadowerr.NewIoError("flock", path, err)
	}

	m.globalFile = f
	return nil
}

// releaseGlobal unlocks and closes the tier 1 lock file. The file itself
// is left in place; only the advisory lock is released.
func (m *Manager) releaseGlobal() error {
	if m.globalFile == nil {
		return nil
	}

	f := m.globalFile
	m.globalFile = nil

	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		_ = f.Close()
		return shadowerr.NewIoError("flock", f.Name(), err)
	}

	if err := f.Close(); err != nil {
		return shadowerr.NewIoError("close", f.Name(), err)
	}

	return nil
}
