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

package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spawnwatch/spawnwatch/internal/model"
)

func TestOpcodeRoundTrip(t *testing.T) {
	cases := []model.Opcode{
		model.OpPingHeartbeat,
		model.OpRequestLogcatFd,
		model.OpGetProcessFlags,
		model.OpReadModules,
		model.OpRequestCompanionSocket,
		model.OpGetModuleDir,
		model.OpZygoteRestart,
	}
	for _, op := range cases {
		var buf bytes.Buffer
		require.NoError(t, WriteOpcode(&buf, op))
		got, err := ReadOpcode(&buf)
		require.NoError(t, err)
		require.Equal(t, op, got)
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, s := range []string{"", "hello", "a very long module identifier string with spaces"} {
		var buf bytes.Buffer
		require.NoError(t, WriteString(&buf, s))
		got, err := ReadString(&buf)
		require.NoError(t, err)
		require.Equal(t, s, got)
	}
}

func TestReadStringRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteUint32(&buf, maxStringLen+1))
	_, err := ReadString(&buf)
	require.Error(t, err)
}

func TestBoolRoundTrip(t *testing.T) {
	for _, v := range []bool{true, false} {
		var buf bytes.Buffer
		require.NoError(t, WriteBool(&buf, v))
		got, err := ReadBool(&buf)
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestUint32RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteUint32(&buf, 0xdeadbeef))
	got, err := ReadUint32(&buf)
	require.NoError(t, err)
	require.Equal(t, uint32(0xdeadbeef), got)
}
