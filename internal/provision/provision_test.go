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

package provision

import (
	"os"
	"path/filepath"
	"testing"

	"go.qbee.io/shadowsync/internal/assert"
)

func TestEnsureHomeCreatesDirectory(t *testing.T) {
	base := t.TempDir()
	home := filepath.Join(base, "alice")

	p := NewFileProvisioner()
	account := Account{Name: "alice", UID: uint32(os.Getuid()), GID: uint32(os.Getgid()), Home: home}

	assert.NoError(t, p.EnsureHome(account))

	info, err := os.Stat(home)
	assert.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, info.Mode().Perm(), os.FileMode(homeDirectoryMode))
}

func TestEnsureHomeIdempotent(t *testing.T) {
	base := t.TempDir()
	home := filepath.Join(base, "alice")

	p := NewFileProvisioner()
	account := Account{Name: "alice", UID: uint32(os.Getuid()), GID: uint32(os.Getgid()), Home: home}

	assert.NoError(t, p.EnsureHome(account))
	assert.NoError(t, p.EnsureHome(account))
}

func TestWriteSSHKeysCreatesAuthorizedKeys(t *testing.T) {
	home := t.TempDir()

	p := NewFileProvisioner()
	account := Account{
		Name:          "alice",
		UID:           uint32(os.Getuid()),
		GID:           uint32(os.Getgid()),
		Home:          home,
		SSHPublicKeys: []string{"ssh-ed25519 AAAA key-one", "ssh-ed25519 BBBB key-two"},
	}

	assert.NoError(t, p.WriteSSHKeys(account))

	path := filepath.Join(home, sshDirectoryName, authorizedKeysFileName)
	info, err := os.Stat(path)
	assert.NoError(t, err)
	assert.Equal(t, info.Mode().Perm(), os.FileMode(authorizedKeysFileMode))

	content, err := os.ReadFile(path)
	assert.NoError(t, err)
	assert.Equal(t, string(content), "ssh-ed25519 AAAA key-one\nssh-ed25519 BBBB key-two\n")
}

func TestWriteSSHKeysNoOpWhenEmpty(t *testing.T) {
	home := t.TempDir()

	p := NewFileProvisioner()
	account := Account{Name: "alice", UID: uint32(os.Getuid()), GID: uint32(os.Getgid()), Home: home}

	assert.NoError(t, p.WriteSSHKeys(account))

	if _, err := os.Stat(filepath.Join(home, sshDirectoryName)); err == nil {
		t.Fatal("expected no .ssh directory when there are no keys")
	}
}

func TestWriteSSHKeysSkipsRewriteWhenUnchanged(t *testing.T) {
	home := t.TempDir()

	p := NewFileProvisioner()
	account := Account{
		Name:          "alice",
		UID:           uint32(os.Getuid()),
		GID:           uint32(os.Getgid()),
		Home:          home,
		SSHPublicKeys: []string{"ssh-ed25519 AAAA key-one"},
	}

	assert.NoError(t, p.WriteSSHKeys(account))

	path := filepath.Join(home, sshDirectoryName, authorizedKeysFileName)
	before, err := os.Stat(path)
	assert.NoError(t, err)

	assert.NoError(t, p.WriteSSHKeys(account))

	after, err := os.Stat(path)
	assert.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
}
