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

package ctl

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/spawnwatch/spawnwatch/internal/config"
)

func TestSendDeliversOpcodeToBoundSocket(t *testing.T) {
	cfg := &config.Config{MagicPath: "/x", Magic: "ctltest123"}

	srvFd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	defer unix.Close(srvFd)

	addr := &unix.SockaddrUnix{Name: "@" + cfg.ControlSocketName()}
	require.NoError(t, unix.Bind(srvFd, addr))

	require.NoError(t, Start(cfg))

	buf := make([]byte, 16)
	n, _, err := unix.Recvfrom(srvFd, buf, 0)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, byte(OpStart), buf[0])
}
