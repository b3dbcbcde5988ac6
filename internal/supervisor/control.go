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

package supervisor

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/spawnwatch/spawnwatch/internal/model"
	"github.com/spawnwatch/spawnwatch/internal/tracee"
)

// ControlOp is a one-byte opcode recognized by the control socket.
type ControlOp byte

const (
	CtlStart ControlOp = iota
	CtlStop
	CtlExit
	CtlZygote64Injected
	CtlZygote32Injected
	CtlDaemon64SetInfo
	CtlDaemon32SetInfo
	CtlDaemon64SetErrorInfo
	CtlDaemon32SetErrorInfo
)

// setupControlSocket binds a non-blocking abstract datagram socket named
// "init_monitor<magic>".
func (s *Supervisor) setupControlSocket() (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("supervisor: socket: %w", err)
	}
	name := s.Cfg.ControlSocketName()
	addr := &unix.SockaddrUnix{Name: "@" + name}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("supervisor: bind %s: %w", name, err)
	}
	return fd, nil
}

// handleControl drains and dispatches every pending datagram.
func (s *Supervisor) handleControl() {
	buf := make([]byte, 4096)
	for {
		n, _, err := unix.Recvfrom(s.controlFd, buf, 0)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			log.WithError(err).Warn("control socket recv failed")
			return
		}
		if n == 0 {
			return
		}
		s.dispatchControl(ControlOp(buf[0]), buf[1:n])
	}
}

func (s *Supervisor) dispatchControl(op ControlOp, payload []byte) {
	switch op {
	case CtlStart:
		s.handleStart()
	case CtlStop:
		s.handleStop()
	case CtlExit:
		s.transition(model.StateExiting, "ctl exit")
	case CtlZygote64Injected:
		s.markInjected(model.AbiArm64)
	case CtlZygote32Injected:
		s.markInjected(model.AbiArm)
	case CtlDaemon64SetInfo, CtlDaemon32SetInfo, CtlDaemon64SetErrorInfo, CtlDaemon32SetErrorInfo:
		s.republish()
	default:
		log.WithField("op", op).Warn("unknown control opcode")
	}
}

func (s *Supervisor) handleStart() {
	st := s.State()
	switch st {
	case model.StateStopping:
		s.transition(model.StateTracing, "ctl start")
	case model.StateStopped:
		t := tracee.New(initPid)
		if err := t.Seize(); err != nil {
			log.WithError(err).Warn("ctl start: re-seize init failed")
			return
		}
		s.transition(model.StateTracing, "ctl start (re-seized)")
	default:
		log.WithField("state", st).Debug("ctl start: no-op in this state")
	}
}

func (s *Supervisor) handleStop() {
	t := tracee.New(initPid)
	if err := t.Interrupt(); err != nil {
		log.WithError(err).Warn("ctl stop: interrupt init failed")
	}
	s.transition(model.StateStopping, "ctl stop")
}

func (s *Supervisor) markInjected(abi model.Abi) {
	s.mu.Lock()
	if st, ok := s.abis[abi]; ok {
		st.Stopped = false
	}
	s.mu.Unlock()
	s.republish()
}
