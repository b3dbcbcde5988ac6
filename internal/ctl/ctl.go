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

// Package ctl sends one-byte control opcodes to the supervisor's abstract
// datagram control socket, the way the `spawnwatch ctl` subcommand signals
// a running supervisor without sharing any Go types with it beyond the
// opcode values themselves.
//
// Ground: internal/supervisor/control.go's ControlOp enum and
// setupControlSocket naming; the client/server split mirrors
// internal/daemonclient's relationship to internal/daemon.
package ctl

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/spawnwatch/spawnwatch/internal/config"
)

// Op mirrors supervisor.ControlOp's byte values. Duplicated rather than
// imported since cmd/spawnwatch only needs the wire byte, not the
// supervisor package's epoll/ptrace machinery.
type Op byte

const (
	OpStart Op = iota
	OpStop
	OpExit
	OpZygote64Injected
	OpZygote32Injected
	OpDaemon64SetInfo
	OpDaemon32SetInfo
	OpDaemon64SetErrorInfo
	OpDaemon32SetErrorInfo
)

// Send fires a single datagram carrying op (and an optional payload) at
// the running supervisor's control socket.
func Send(cfg *config.Config, op Op, payload []byte) error {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("ctl: socket: %w", err)
	}
	defer unix.Close(fd)

	name := cfg.ControlSocketName()
	addr := &unix.SockaddrUnix{Name: "@" + name}
	buf := append([]byte{byte(op)}, payload...)
	if err := unix.Sendto(fd, buf, 0, addr); err != nil {
		return fmt.Errorf("ctl: sendto %s: %w", name, err)
	}
	return nil
}

// Start asks a STOPPING or STOPPED supervisor to resume tracing.
func Start(cfg *config.Config) error { return Send(cfg, OpStart, nil) }

// Stop asks a TRACING supervisor to stop tracing new spawns.
func Stop(cfg *config.Config) error { return Send(cfg, OpStop, nil) }

// Exit asks the supervisor to tear down and exit.
func Exit(cfg *config.Config) error { return Send(cfg, OpExit, nil) }
