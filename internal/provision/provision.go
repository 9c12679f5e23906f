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

// Package provision implements the HostProvisioner contract (spec 6):
// creating a user's home directory and writing their authorized_keys
// file, both idempotently and with correct ownership.
package provision

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.qbee.io/shadowsync/internal/log"
)

var provisionLog = log.For("provision")

const (
	sshDirectoryName       = ".ssh"
	sshDirectoryPermission = 0700
	authorizedKeysFileName = "authorized_keys"
	authorizedKeysFileMode = 0600
	homeDirectoryMode      = 0700
)

// Account is the subset of a user record host provisioning needs. It is
// deliberately narrower than shadowdb.User so this package has no
// dependency on the database layer.
type Account struct {
	Name          string
	UID           uint32
	GID           uint32
	Home          string
	SSHPublicKeys []string
}

// HostProvisioner is the consumed contract from spec section 6.
type HostProvisioner interface {
	EnsureHome(account Account) error
	WriteSSHKeys(account Account) error
}

// FileProvisioner is the default HostProvisioner, grounded on the
// teacher's file_manager/bundle_sshkeys directory and ownership idioms.
type FileProvisioner struct{}

// NewFileProvisioner builds the default, filesystem-backed HostProvisioner.
func NewFileProvisioner() *FileProvisioner {
	return &FileProvisioner{}
}

// EnsureHome creates account.Home if missing, owned by uid:gid, mode
// 0700 (spec 6). An existing directory is left untouched - this never
// changes ownership or mode of a directory a user may have customized.
func (p *FileProvisioner) EnsureHome(account Account) error {
	if account.Home == "" || account.Home == "/" {
		return nil
	}

	if _, err := os.Stat(account.Home); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", account.Home, err)
	}

	if err := makeDirectories(account.Home, homeDirectoryMode, int(account.UID), int(account.GID)); err != nil {
		return err
	}

	if err := os.Mkdir(account.Home, homeDirectoryMode); err != nil {
		return fmt.Errorf("creating home directory %s: %w", account.Home, err)
	}

	if err := os.Chown(account.Home, int(account.UID), int(account.GID)); err != nil {
		return fmt.Errorf("setting owner of %s: %w", account.Home, err)
	}

	return nil
}

// WriteSSHKeys writes <home>/.ssh/authorized_keys with account's key
// set, skipping the rewrite when the file already carries the expected
// content (spec 6, grounded on the teacher's digest-compare-before-write
// idiom).
func (p *FileProvisioner) WriteSSHKeys(account Account) error {
	if len(account.SSHPublicKeys) == 0 {
		return nil
	}

	authorizedKeysPath := filepath.Join(account.Home, sshDirectoryName, authorizedKeysFileName)
	content := strings.Join(account.SSHPublicKeys, "\n") + "\n"

	ready, err := fileHasContent(authorizedKeysPath, content)
	if err != nil {
		return err
	}
	if ready {
		return nil
	}

	sshDir := filepath.Join(account.Home, sshDirectoryName)
	if err := os.MkdirAll(sshDir, sshDirectoryPermission); err != nil {
		return fmt.Errorf("creating %s: %w", sshDir, err)
	}
	if err := os.Chown(sshDir, int(account.UID), int(account.GID)); err != nil {
		return fmt.Errorf("setting owner of %s: %w", sshDir, err)
	}

	f, err := os.OpenFile(authorizedKeysPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, authorizedKeysFileMode)
	if err != nil {
		return fmt.Errorf("creating %s: %w", authorizedKeysPath, err)
	}
	defer f.Close()

	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("writing %s: %w", authorizedKeysPath, err)
	}

	if err := f.Chown(int(account.UID), int(account.GID)); err != nil {
		return fmt.Errorf("setting owner of %s: %w", authorizedKeysPath, err)
	}

	provisionLog.Infof("wrote %s for %s", authorizedKeysPath, account.Name)
	return nil
}

// fileHasContent reports whether path exists and its sha256 matches
// want's digest, avoiding a rewrite (and a needless mtime bump) when
// nothing changed.
func fileHasContent(path, want string) (bool, error) {
	existing, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("reading %s: %w", path, err)
	}

	return digestOf(existing) == digestOf([]byte(want)), nil
}

func digestOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// makeDirectories recursively creates the parent directories of dst,
// owned by uid:gid at the given permission, stopping at the first
// existing ancestor.
func makeDirectories(dst string, permission os.FileMode, uid, gid int) error {
	dir := filepath.Dir(dst)
	if dir == "/" || dir == "." {
		return nil
	}

	if _, err := os.Stat(dir); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", dir, err)
	}

	if err := makeDirectories(dir, permission, uid, gid); err != nil {
		return err
	}

	if err := os.Mkdir(dir, permission); err != nil && !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	if err := os.Chown(dir, uid, gid); err != nil {
		return fmt.Errorf("setting owner of %s: %w", dir, err)
	}

	return nil
}
