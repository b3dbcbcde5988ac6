// Copyright 2018 The gVisor Authors.
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

package procmaps

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleMaps = `5590d9fc0000-5590d9fc3000 r--p 00000000 fe:00 123  /system/bin/app_process64
5590d9fc3000-5590d9fd0000 r-xp 00003000 fe:00 123  /system/bin/app_process64
7f1234560000-7f1234570000 r--p 00000000 fe:00 456  /apex/com.android.runtime/lib64/bionic/libc.so
7f1234570000-7f1234600000 r-xp 00010000 fe:00 456  /apex/com.android.runtime/lib64/bionic/libc.so
7fff00000000-7fff00021000 rw-p 00000000 00:00 0    [stack]
`

func TestScanParsesEntries(t *testing.T) {
	entries, err := scan(strings.NewReader(sampleMaps))
	require.NoError(t, err)
	require.Len(t, entries, 5)

	require.Equal(t, "/system/bin/app_process64", entries[0].Path)
	require.True(t, entries[0].Perms.Read)
	require.False(t, entries[0].Perms.Write)
	require.False(t, entries[0].Perms.Exec)

	require.True(t, entries[1].Perms.Exec)
	require.Equal(t, "[stack]", entries[4].Path)
}

func TestModuleBaseWantsZeroOffsetMapping(t *testing.T) {
	entries, err := scan(strings.NewReader(sampleMaps))
	require.NoError(t, err)

	base, ok := ModuleBase(entries, "libc.so")
	require.True(t, ok)
	require.EqualValues(t, 0x7f1234560000, base)
}

func TestReturnAddrWantsNonExecMapping(t *testing.T) {
	entries, err := scan(strings.NewReader(sampleMaps))
	require.NoError(t, err)

	addr, ok := ReturnAddr(entries, "libc.so")
	require.True(t, ok)
	require.EqualValues(t, 0x7f1234560000, addr)
}

func TestModuleBaseMissing(t *testing.T) {
	entries, err := scan(strings.NewReader(sampleMaps))
	require.NoError(t, err)

	_, ok := ModuleBase(entries, "libdoesnotexist.so")
	require.False(t, ok)
}
