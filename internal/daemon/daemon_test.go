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

package daemon

import (
	"net"
	"os"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/stretchr/testify/require"

	"github.com/spawnwatch/spawnwatch/internal/model"
	"github.com/spawnwatch/spawnwatch/internal/wire"
)

func socketPair(t *testing.T) (*net.UnixConn, *net.UnixConn) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)

	connFrom := func(fd int) *net.UnixConn {
		f := os.NewFile(uintptr(fd), "test-sock")
		c, err := net.FileConn(f)
		require.NoError(t, err)
		f.Close()
		return c.(*net.UnixConn)
	}
	return connFrom(fds[0]), connFrom(fds[1])
}

func TestHandleGetProcessFlags(t *testing.T) {
	client, server := socketPair(t)
	defer client.Close()

	s := &Server{Flags: func(uid uint32) model.ProcessFlags {
		if uid == 1000 {
			return model.ProcessIsManager
		}
		return 0
	}}

	go s.handle(server)

	require.NoError(t, wire.WriteOpcode(client, model.OpGetProcessFlags))
	require.NoError(t, wire.WriteUint32(client, 1000))

	flags, err := wire.ReadUint32(client)
	require.NoError(t, err)
	require.Equal(t, uint32(model.ProcessIsManager), flags)
}

func TestHandleZygoteRestartIncrementsCounter(t *testing.T) {
	client, server := socketPair(t)
	defer client.Close()

	s := &Server{}
	done := make(chan struct{})
	go func() { s.handle(server); close(done) }()

	require.NoError(t, wire.WriteOpcode(client, model.OpZygoteRestart))
	<-done

	require.Equal(t, 1, s.RestartCount())
}

func TestHandlePingHeartbeatClosesCleanly(t *testing.T) {
	client, server := socketPair(t)
	defer client.Close()

	s := &Server{}
	done := make(chan struct{})
	go func() { s.handle(server); close(done) }()

	require.NoError(t, wire.WriteOpcode(client, model.OpPingHeartbeat))
	<-done
}
