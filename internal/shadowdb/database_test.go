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
	"testing"
	"time"

	"go.qbee.io/shadowsync/internal/assert"
)

// noopLock is a locker that performs no actual synchronization; the
// database facade's own tests don't need cross-process locking, only
// its read/write/rotate behavior.
type noopLock struct{}

func (noopLock) Lock(time.Duration) error { return nil }
func (noopLock) Unlock() error            { return nil }

func newTestDatabase(t *testing.T) (*Database, string) {
	t.Helper()

	dir := t.TempDir()
	files := map[string]string{
		passwdFileName:  "root:x:0:0:root:/root:/bin/bash\nalice:x:1000:1000:Alice:/home/alice:/bin/bash\n",
		groupFileName:   "root:x:0:\nalice:x:1000:\n",
		gshadowFileName: "root:*::\nalice:!::\n",
		shadowFileName:  "root:!:19000:0:99999:7:::\nalice:$6$abc:19000:0:99999:7:::\n",
	}

	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	return NewDatabase(dir, noopLock{}), dir
}

func TestDatabaseReloadRoundTrip(t *testing.T) {
	db, _ := newTestDatabase(t)

	assert.NoError(t, db.Reload(0))
	assert.Length(t, db.Users(), 2)
	assert.Length(t, db.Groups(), 2)

	alice, ok := db.Users()["alice"]
	assert.True(t, ok)
	assert.Equal(t, alice.UID(), uint32(1000))
	assert.Equal(t, alice.Home(), "/home/alice")

	assert.False(t, db.Modified())
}

func TestDatabaseWriteClearsModifiedAndRotates(t *testing.T) {
	db, dir := newTestDatabase(t)
	assert.NoError(t, db.Reload(0))

	assert.NoError(t, db.Users()["alice"].SetShell("/bin/zsh"))
	assert.True(t, db.Modified())

	assert.NoError(t, db.Write(0))
	assert.False(t, db.Modified())

	for _, name := range []string{passwdFileName, groupFileName, gshadowFileName, shadowFileName} {
		if _, err := os.Stat(filepath.Join(dir, name+"+")); err == nil {
			t.Fatalf("expected no staging file left for %s", name)
		}
		if _, err := os.Stat(filepath.Join(dir, name+"-")); err != nil {
			t.Fatalf("expected backup file for %s: %v", name, err)
		}
	}

	reread, err := os.ReadFile(filepath.Join(dir, passwdFileName))
	assert.NoError(t, err)
	assert.MatchString(t, string(reread), `alice:x:1000:1000:Alice:/home/alice:/bin/zsh`)
}

func TestDatabaseWriteRotationAssertsStagedExists(t *testing.T) {
	db, _ := newTestDatabase(t)
	assert.NoError(t, db.Reload(0))

	// a rotate() call against a file whose + was never staged must fail
	// rather than silently renaming nothing into place.
	err := db.rotate("does-not-exist")
	assert.Error(t, err)
}

func TestDatabaseSortOrderOnWrite(t *testing.T) {
	db, dir := newTestDatabase(t)
	assert.NoError(t, db.Reload(0))

	bob, err := NewUser("bob", 500, 500, "Bob", "/home/bob", "/bin/bash")
	assert.NoError(t, err)
	db.Users()["bob"] = bob

	assert.NoError(t, db.Write(0))

	content, err := os.ReadFile(filepath.Join(dir, passwdFileName))
	assert.NoError(t, err)

	// uid ascending: root(0), bob(500), alice(1000).
	rootIdx := indexOf(string(content), "root:")
	bobIdx := indexOf(string(content), "bob:")
	aliceIdx := indexOf(string(content), "alice:")

	assert.True(t, rootIdx < bobIdx)
	assert.True(t, bobIdx < aliceIdx)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
