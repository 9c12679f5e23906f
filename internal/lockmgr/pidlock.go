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
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"go.qbee.io/shadowsync/internal/log"
	"go.qbee.io/shadowsync/internal/shadowerr"
)

var lockLog = log.For("lockmgr")

// pidLockFileMode is the permission used for both the transient <file>.<pid>
// file and the <file>.lock hardlink target (spec 4.3).
const pidLockFileMode = 0600

// pidLock implements the NFS-safe hardlink pidlock protocol (spec 4.3
// tier 2) for one target path (e.g. "/etc/passwd").
type pidLock struct {
	target string // e.g. /etc/passwd
}

func newPidLock(target string) *pidLock {
	return &pidLock{target: target}
}

func (p *pidLock) lockPath() string   { return p.target + ".lock" }
func (p *pidLock) transientPath() string {
	return fmt.Sprintf("%s.%d", p.target, os.Getpid())
}

// acquire performs the pidlock protocol, retrying EAGAIN failures with
// exponential backoff according to timeout's semantics (see Manager.Lock).
func (p *pidLock) acquire(timeout time.Duration) error {
	return retryOnBusy(timeout, p.tryAcquireOnce)
}

// tryAcquireOnce runs the five-step protocol exactly once, including the
// single self-heal retry for a stale lock (spec 4.3).
func (p *pidLock) tryAcquireOnce() error {
	if err := p.writeTransient(); err != nil {
		return err
	}

	linkErr := unix.Link(p.transientPath(), p.lockPath())
	if linkErr == nil {
		return p.verifyAndCleanup()
	}

	if !errors.Is(linkErr, os.ErrExist) && linkErr != unix.EEXIST {
		_ = os.Remove(p.transientPath())
		return shadowerr.NewIoError("link", p.lockPath(), linkErr)
	}

	// lockPath already exists - decide whether the holder is alive.
	_ = os.Remove(p.transientPath())

	stale, err := p.holderIsStale()
	if err != nil {
		return err
	}

	if !stale {
		return shadowerr.NewLockBusy(p.lockPath())
	}

	// holder is gone: self-heal by unlinking and retrying exactly once.
	lockLog.Warnf("%s: stale lock, holder is gone, removing and retrying", p.lockPath())
	if err := os.Remove(p.lockPath()); err != nil && !os.IsNotExist(err) {
		return shadowerr.NewIoError("remove", p.lockPath(), err)
	}

	if err := p.writeTransient(); err != nil {
		return err
	}
	defer func() { _ = os.Remove(p.transientPath()) }()

	if err := unix.Link(p.transientPath(), p.lockPath()); err != nil {
		return shadowerr.NewIoError("link", p.lockPath(), err)
	}

	return p.verifyAndCleanup()
}

// writeTransient creates <file>.<pid> with our PID, per protocol step 1-2.
func (p *pidLock) writeTransient() error {
	fd, err := os.OpenFile(p.transientPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, pidLockFileMode)
	if err != nil {
		return shadowerr.NewIoError("create", p.transientPath(), err)
	}
	defer fd.Close()

	if _, err := fmt.Fprintf(fd, "%d", os.Getpid()); err != nil {
		return shadowerr.NewIoError("write", p.transientPath(), err)
	}

	return nil
}

// verifyAndCleanup implements protocol steps 4-5: verify the hardlink
// took effect, then always unlink the transient file.
func (p *pidLock) verifyAndCleanup() error {
	defer func() { _ = os.Remove(p.transientPath()) }()

	var st unix.Stat_t
	if err := unix.Stat(p.transientPath(), &st); err != nil {
		return shadowerr.NewIoError("stat", p.transientPath(), err)
	}

	if st.Nlink != 2 {
		return shadowerr.NewIoError("stat", p.transientPath(),
			fmt.Errorf("expected nlink 2, got %d", st.Nlink))
	}

	return nil
}

// holderIsStale reads the existing .lock file and signals the PID it
// names with signal 0. It reports stale=true when the PID field is
// unparseable or the process no longer exists (ESRCH).
func (p *pidLock) holderIsStale() (bool, error) {
	data, err := os.ReadFile(p.lockPath())
	if err != nil {
		if os.IsNotExist(err) {
			// lock disappeared between the failed link and this read;
			// treat as stale so the caller retries.
			return true, nil
		}
		return false, shadowerr.NewIoError("read", p.lockPath(), err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return true, nil
	}

	if err := unix.Kill(pid, syscall.Signal(0)); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return true, nil
		}
		// any other errno (e.g. EPERM: process exists, owned by someone
		// else) means the holder is alive.
		return false, nil
	}

	return false, nil
}

// release validates that lockPath contains our PID, then unlinks it. A
// PID mismatch is reported as shadowerr.LockError(EINVAL) but does not
// prevent the caller from releasing other locks in the sequence.
func (p *pidLock) release() error {
	data, err := os.ReadFile(p.lockPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return shadowerr.NewIoError("read", p.lockPath(), err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid != os.Getpid() {
		return shadowerr.NewLockError(p.lockPath(), syscall.EINVAL)
	}

	if err := os.Remove(p.lockPath()); err != nil && !os.IsNotExist(err) {
		return shadowerr.NewIoError("remove", p.lockPath(), err)
	}

	return nil
}
