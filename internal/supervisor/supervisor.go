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

// Package supervisor implements the single-threaded epoll event loop
// that owns exactly two handlers: the control-socket command handler and
// the signalfd-backed SIGCHLD handler that drives init's ptrace state
// machine. It also owns the per-ABI crash counters and the status file
// republish trigger.
//
// Ground: original_source/loader/src/monitor.cpp's epoll-based
// EventLoop, translated from C++ callback registration into Go's
// unix.EpollWait polling; gvisor's avoidance of async signal handlers in
// favor of blocked signals + signalfd (subprocess_linux.go's
// beforeFork/afterFork signal masking) grounds using signalfd here too.
package supervisor

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/spawnwatch/spawnwatch/internal/config"
	"github.com/spawnwatch/spawnwatch/internal/model"
	"github.com/spawnwatch/spawnwatch/internal/statusfile"
	"github.com/spawnwatch/spawnwatch/internal/tracee"
	"github.com/spawnwatch/spawnwatch/internal/zlog"
)

var log = zlog.For("supervisor")

const initPid = 1

// Supervisor owns the epoll loop, the TracingState machine, and the
// per-ABI bookkeeping the status file reports.
type Supervisor struct {
	Cfg    *config.Config
	Status *statusfile.Writer

	mu      sync.Mutex
	state   model.TracingState
	abis    map[model.Abi]*model.AbiState
	daemons map[model.Abi]*os.Process

	epfd       int
	controlFd  int
	signalFd   int
	stopReason string
}

// New constructs a Supervisor in the TRACING state, ready to Seize init
// once Run is called.
func New(cfg *config.Config, status *statusfile.Writer) *Supervisor {
	s := &Supervisor{
		Cfg:     cfg,
		Status:  status,
		state:   model.StateTracing,
		abis:    map[model.Abi]*model.AbiState{},
		daemons: map[model.Abi]*os.Process{},
	}
	for _, abi := range []model.Abi{model.AbiArm64, model.AbiArm, model.AbiX86_64, model.AbiX86} {
		s.abis[abi] = &model.AbiState{Abi: abi, Crashes: model.NewCrashWindow()}
	}
	return s
}

// State returns the current TracingState under lock.
func (s *Supervisor) State() model.TracingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transition validates and applies a state change, triggering a status
// republish on success.
func (s *Supervisor) transition(target model.TracingState, reason string) error {
	s.mu.Lock()
	next, err := s.state.Next(target)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = next
	s.stopReason = reason
	s.mu.Unlock()

	log.WithField("state", next).WithField("reason", reason).Info("state transition")
	s.republish()
	return nil
}

// republish renders and writes the status file from current state; it
// never fails loudly since a status-file write failure must not bring
// down tracing.
func (s *Supervisor) republish() {
	if s.Status == nil {
		return
	}
	s.mu.Lock()
	rec := model.StatusRecord{
		Pid:   initPid,
		State: s.state,
	}
	s.mu.Unlock()
	if err := s.Status.Publish(rec); err != nil {
		log.WithError(err).Warn("status republish failed")
	}
}

// Run seizes init, sets up the epoll loop (control socket + signalfd),
// and blocks servicing events until the EXITING state is reached.
func (s *Supervisor) Run() error {
	t := tracee.New(initPid)
	if err := t.Seize(); err != nil {
		return fmt.Errorf("supervisor: seize init: %w", err)
	}
	log.Info("seized init")

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("supervisor: epoll_create1: %w", err)
	}
	s.epfd = epfd
	defer unix.Close(epfd)

	sigFd, err := s.setupSignalfd()
	if err != nil {
		return err
	}
	s.signalFd = sigFd
	defer unix.Close(sigFd)

	ctlFd, err := s.setupControlSocket()
	if err != nil {
		return err
	}
	s.controlFd = ctlFd
	defer unix.Close(ctlFd)

	if err := s.epollAdd(sigFd); err != nil {
		return err
	}
	if err := s.epollAdd(ctlFd); err != nil {
		return err
	}

	return s.loop()
}

func (s *Supervisor) epollAdd(fd int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	return unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// setupSignalfd masks SIGCHLD from normal delivery and returns an fd that
// becomes readable whenever it is pending, matching the stub process's
// own signal-masking discipline in subprocess_linux.go (no async signal
// handlers, ever).
func (s *Supervisor) setupSignalfd() (int, error) {
	var set unix.Sigset_t
	sigset := &set
	sigaddset(sigset, unix.SIGCHLD)
	if err := unix.SigprocMask(unix.SIG_BLOCK, sigset, nil); err != nil {
		return -1, fmt.Errorf("supervisor: sigprocmask: %w", err)
	}
	fd, err := unix.Signalfd(-1, sigset, unix.SFD_CLOEXEC|unix.SFD_NONBLOCK)
	if err != nil {
		return -1, fmt.Errorf("supervisor: signalfd: %w", err)
	}
	return fd, nil
}

func (s *Supervisor) loop() error {
	events := make([]unix.EpollEvent, 8)
	for {
		if s.State() == model.StateExiting {
			return nil
		}
		n, err := unix.EpollWait(s.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("supervisor: epoll_wait: %w", err)
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			switch fd {
			case s.signalFd:
				s.handleSigchld()
			case s.controlFd:
				s.handleControl()
			}
		}
	}
}
