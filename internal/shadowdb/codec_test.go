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
	"bytes"
	"log"
	"strings"
	"testing"

	"go.qbee.io/shadowsync/internal/assert"
)

// --- passwd repair policy (spec 4.2) ---

func TestDecodePasswdRepairsGECOS(t *testing.T) {
	users, err := DecodePasswd(strings.NewReader("alice:x:1000:1000:Al\vice:/home/alice:/bin/bash\n"))
	assert.NoError(t, err)
	assert.Length(t, users, 1)
	assert.Equal(t, users[0].GECOS(), "Al-ice")
	assert.True(t, users[0].Modified())
}

// TestDecodePasswdRepairsHomeToRoot is scenario S5: a home field
// containing a forbidden byte (here \v) is repaired to "/" and the
// record is marked modified.
func TestDecodePasswdRepairsHomeToRoot(t *testing.T) {
	users, err := DecodePasswd(strings.NewReader("alice:x:1000:1000:Alice:/home\valice:/bin/bash\n"))
	assert.NoError(t, err)
	assert.Length(t, users, 1)
	assert.Equal(t, users[0].Home(), "/")
	assert.True(t, users[0].Modified())
}

func TestDecodePasswdRepairsShellToBinFalse(t *testing.T) {
	users, err := DecodePasswd(strings.NewReader("alice:x:1000:1000:Alice:/home/alice:/bin\vbash\n"))
	assert.NoError(t, err)
	assert.Length(t, users, 1)
	assert.Equal(t, users[0].Shell(), "/bin/false")
	assert.True(t, users[0].Modified())
}

func TestDecodePasswdDropsLineOnInvalidName(t *testing.T) {
	users, err := DecodePasswd(strings.NewReader("bad name:x:1000:1000:Alice:/home/alice:/bin/bash\n"))
	assert.NoError(t, err)
	assert.Length(t, users, 0)
}

func TestDecodePasswdDropsLineOnInvalidUID(t *testing.T) {
	users, err := DecodePasswd(strings.NewReader("alice:x:notanumber:1000:Alice:/home/alice:/bin/bash\n"))
	assert.NoError(t, err)
	assert.Length(t, users, 0)
}

func TestDecodePasswdDropsLineOnInvalidGID(t *testing.T) {
	users, err := DecodePasswd(strings.NewReader("alice:x:1000:notanumber:Alice:/home/alice:/bin/bash\n"))
	assert.NoError(t, err)
	assert.Length(t, users, 0)
}

func TestDecodePasswdDropsLineOnWrongFieldCount(t *testing.T) {
	users, err := DecodePasswd(strings.NewReader("alice:x:1000:1000:Alice:/home/alice\n"))
	assert.NoError(t, err)
	assert.Length(t, users, 0)
}

func TestDecodePasswdWellFormedLineNotModified(t *testing.T) {
	users, err := DecodePasswd(strings.NewReader("alice:x:1000:1000:Alice:/home/alice:/bin/bash\n"))
	assert.NoError(t, err)
	assert.Length(t, users, 1)
	assert.False(t, users[0].Modified())
}

// --- group repair policy (spec 4.2) ---

func TestDecodeGroupDropsInvalidMembersOnly(t *testing.T) {
	groups, err := DecodeGroup(strings.NewReader("wheel:x:10:alice,bad name,bob\n"))
	assert.NoError(t, err)
	assert.Length(t, groups, 1)
	assert.Equal(t, groups[0].Members(), []string{"alice", "bob"})
	assert.True(t, groups[0].Modified())
}

func TestDecodeGroupClearsMembersOnMalformedCSV(t *testing.T) {
	groups, err := DecodeGroup(strings.NewReader("wheel:x:10:alice,,bob\n"))
	assert.NoError(t, err)
	assert.Length(t, groups, 1)
	assert.Length(t, groups[0].Members(), 0)
	assert.True(t, groups[0].Modified())
}

func TestDecodeGroupDropsLineOnInvalidName(t *testing.T) {
	groups, err := DecodeGroup(strings.NewReader("bad name:x:10:alice\n"))
	assert.NoError(t, err)
	assert.Length(t, groups, 0)
}

func TestDecodeGroupDropsLineOnInvalidGID(t *testing.T) {
	groups, err := DecodeGroup(strings.NewReader("wheel:x:notanumber:alice\n"))
	assert.NoError(t, err)
	assert.Length(t, groups, 0)
}

func TestDecodeGroupWellFormedLineNotModified(t *testing.T) {
	groups, err := DecodeGroup(strings.NewReader("wheel:x:10:alice,bob\n"))
	assert.NoError(t, err)
	assert.Length(t, groups, 1)
	assert.False(t, groups[0].Modified())
}

// --- shadow repair policy (spec 4.2) ---

func newShadowUser(t *testing.T, name string) *User {
	t.Helper()
	u, err := NewUser(name, 1000, 1000, "", "", "")
	assert.NoError(t, err)
	u.ClearModified()
	return u
}

// sanitizeHash is only ever handed a single colon-delimited field, so a
// ':' can never actually reach it through the line splitter - it still
// guards against a value containing a stray '\n' smuggled in some other
// way, which this test exercises directly.
func TestSanitizeHashReplacesForbiddenCharWithBang(t *testing.T) {
	sanitized, repaired := sanitizeHash("abc\ndef")
	assert.Equal(t, sanitized, "!")
	assert.True(t, repaired)
}

func TestSanitizeHashLeavesWellFormedHashAlone(t *testing.T) {
	sanitized, repaired := sanitizeHash("$6$abc$def")
	assert.Equal(t, sanitized, "$6$abc$def")
	assert.False(t, repaired)
}

func TestDecodeShadowClearsBadDateFieldToAbsent(t *testing.T) {
	alice := newShadowUser(t, "alice")
	users := map[string]*User{"alice": alice}

	assert.NoError(t, DecodeShadow(strings.NewReader("alice:$6$abc:notanumber:0:99999:7:::\n"), users))

	assert.Empty(t, alice.LastPasswordChangeDate())
	assert.True(t, alice.Modified())
}

func TestDecodeShadowSkipsUnknownUser(t *testing.T) {
	users := map[string]*User{}
	assert.NoError(t, DecodeShadow(strings.NewReader("ghost:$6$abc:19000:0:99999:7:::\n"), users))
	assert.Length(t, users, 0)
}

func TestDecodeShadowWellFormedLineNotModified(t *testing.T) {
	alice := newShadowUser(t, "alice")
	users := map[string]*User{"alice": alice}

	assert.NoError(t, DecodeShadow(strings.NewReader("alice:$6$abc:19000:0:99999:7:::\n"), users))

	assert.False(t, alice.Modified())
}

// --- gshadow repair policy (spec 4.2) ---

func newShadowGroup(t *testing.T, name string) *Group {
	t.Helper()
	g, err := NewGroup(name, 10)
	assert.NoError(t, err)
	g.ClearModified()
	return g
}

// TestDecodeGshadowFiltersInvalidAdminNamesKeepingValidOnes pins the
// fix for the administrators repair: a single bad name must not wipe
// the whole set, matching the members handling two fields over.
func TestDecodeGshadowFiltersInvalidAdminNamesKeepingValidOnes(t *testing.T) {
	wheel := newShadowGroup(t, "wheel")
	groups := map[string]*Group{"wheel": wheel}

	assert.NoError(t, DecodeGshadow(strings.NewReader("wheel:*:alice,bad name,bob:\n"), groups))

	assert.Equal(t, wheel.Administrators(), []string{"alice", "bob"})
	assert.True(t, wheel.Modified())
}

func TestDecodeGshadowClearsAdminsOnMalformedCSV(t *testing.T) {
	wheel := newShadowGroup(t, "wheel")
	groups := map[string]*Group{"wheel": wheel}

	assert.NoError(t, DecodeGshadow(strings.NewReader("wheel:*:alice,,bob:\n"), groups))

	assert.Length(t, wheel.Administrators(), 0)
	assert.True(t, wheel.Modified())
}

func TestDecodeGshadowUnionsMembersOnDisagreement(t *testing.T) {
	wheel := newShadowGroup(t, "wheel")
	assert.NoError(t, wheel.SetMembers([]string{"alice"}))
	wheel.ClearModified()
	groups := map[string]*Group{"wheel": wheel}

	assert.NoError(t, DecodeGshadow(strings.NewReader("wheel:*::bob\n"), groups))

	assert.Equal(t, wheel.Members(), []string{"alice", "bob"})
	assert.True(t, wheel.Modified())
}

func TestDecodeGshadowSkipsUnknownGroup(t *testing.T) {
	groups := map[string]*Group{}
	assert.NoError(t, DecodeGshadow(strings.NewReader("ghosts:*::\n"), groups))
	assert.Length(t, groups, 0)
}

func TestDecodeGshadowWellFormedLineNotModified(t *testing.T) {
	wheel := newShadowGroup(t, "wheel")
	// members must already agree with the group file - DecodeGshadow
	// unions in anything new and marks modified when it does.
	assert.NoError(t, wheel.SetMembers([]string{"bob"}))
	wheel.ClearModified()
	groups := map[string]*Group{"wheel": wheel}

	assert.NoError(t, DecodeGshadow(strings.NewReader("wheel:*:alice:bob\n"), groups))

	assert.False(t, wheel.Modified())
}

// --- testable property 2: modified rises iff a field actually changed ---

func TestModifiedOnlyRisesOnActualChange(t *testing.T) {
	alice := newShadowUser(t, "alice")
	assert.False(t, alice.Modified())

	assert.NoError(t, alice.SetShell(alice.Shell()))
	assert.False(t, alice.Modified())

	assert.NoError(t, alice.SetShell("/bin/zsh"))
	assert.True(t, alice.Modified())
}

func TestGroupModifiedOnlyRisesOnActualChange(t *testing.T) {
	wheel := newShadowGroup(t, "wheel")
	assert.False(t, wheel.Modified())

	assert.NoError(t, wheel.SetGID(wheel.GID()))
	assert.False(t, wheel.Modified())

	assert.NoError(t, wheel.SetGID(wheel.GID()+1))
	assert.True(t, wheel.Modified())
}

// --- testable property 5: secrecy rule ---

// captureLog redirects the standard logger used by internal/log for the
// duration of fn and returns everything it wrote.
func captureLog(t *testing.T, fn func()) string {
	t.Helper()

	var buf bytes.Buffer
	prevOutput := log.Writer()
	prevFlags := log.Flags()
	log.SetOutput(&buf)
	defer func() {
		log.SetOutput(prevOutput)
		log.SetFlags(prevFlags)
	}()

	fn()

	return buf.String()
}

func TestSecrecyRuleShadowParseWarningsOmitLineContent(t *testing.T) {
	alice := newShadowUser(t, "alice")
	users := map[string]*User{"alice": alice}

	const secretHash = "$6$supersecrethash$doNotLog"
	line := "alice:" + secretHash + ":bogus-date:0:99999:7:::\n"

	output := captureLog(t, func() {
		assert.NoError(t, DecodeShadow(strings.NewReader(line), users))
	})

	assert.NotEqual(t, output, "")
	assert.False(t, strings.Contains(output, secretHash))
	assert.False(t, strings.Contains(output, "bogus-date"))
	assert.True(t, strings.Contains(output, shadowFileName+":1:"))
}

func TestSecrecyRuleGshadowParseWarningsOmitLineContent(t *testing.T) {
	wheel := newShadowGroup(t, "wheel")
	groups := map[string]*Group{"wheel": wheel}

	const secretHash = "$6$anothersecret$doNotLog"
	line := "wheel:" + secretHash + ":alice,bad name:bob\n"

	output := captureLog(t, func() {
		assert.NoError(t, DecodeGshadow(strings.NewReader(line), groups))
	})

	assert.NotEqual(t, output, "")
	assert.False(t, strings.Contains(output, secretHash))
	assert.False(t, strings.Contains(output, "bad name"))
	assert.True(t, strings.Contains(output, gshadowFileName+":1:"))
}
