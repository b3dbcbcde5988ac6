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
	"os"
	"os/exec"

	"golang.org/x/sys/unix"

	"github.com/spawnwatch/spawnwatch/internal/model"
)

// handleSigchld drains the signalfd notification (one read, the count
// doesn't matter) and then drains waitpid(-1, __WALL|WNOHANG) until no
// more children have news, per §4.4.
func (s *Supervisor) handleSigchld() {
	var buf [128]byte // sizeof(struct signalfd_siginfo)
	unix.Read(s.signalFd, buf[:])

	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WALL|unix.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}
		s.handleChildStatus(pid, ws)
	}
}

func (s *Supervisor) handleChildStatus(pid int, ws unix.WaitStatus) {
	switch {
	case pid == initPid:
		s.handleInitStatus(ws)
	case s.isDaemonPid(pid):
		s.handleDaemonExit(pid, ws)
	default:
		s.handleTraceeStatus(pid, ws)
	}
}

func (s *Supervisor) handleInitStatus(ws unix.WaitStatus) {
	switch {
	case ws.Stopped() && ws.StopSignal() == unix.SIGTRAP && ws.TrapCause() == unix.PTRACE_EVENT_FORK:
		// Child recorded; it will stop on its own and be picked up as a
		// tracked child of init below.
	case ws.Stopped() && ws.StopSignal() == unix.SIGTRAP && ws.TrapCause() == unix.PTRACE_EVENT_STOP && s.State() == model.StateStopping:
		unix.PtraceDetach(initPid)
		s.transition(model.StateStopped, "init detached")
	case ws.Stopped():
		sig := ws.StopSignal()
		if sig != unix.SIGSTOP && sig != unix.SIGTSTP && sig != unix.SIGTTIN && sig != unix.SIGTTOU {
			unix.PtraceCont(initPid, int(sig))
		}
	}
}

func (s *Supervisor) isDaemonPid(pid int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.daemons {
		if p != nil && p.Pid == pid {
			return true
		}
	}
	return false
}

func (s *Supervisor) handleDaemonExit(pid int, ws unix.WaitStatus) {
	s.mu.Lock()
	var abi model.Abi
	for a, p := range s.daemons {
		if p != nil && p.Pid == pid {
			abi = a
			delete(s.daemons, a)
		}
	}
	s.mu.Unlock()
	log.WithField("abi", abi).WithField("status", ws).Warn("daemon exited")
	s.republish()
}

func (s *Supervisor) handleTraceeStatus(pid int, ws unix.WaitStatus) {
	if !ws.Stopped() {
		unix.PtraceDetach(pid)
		return
	}
	if ws.StopSignal() == unix.SIGTRAP && ws.TrapCause() == unix.PTRACE_EVENT_EXEC {
		s.handleTraceeExec(pid)
		return
	}
	// Unknown pid: track future exec events from it too.
	unix.PtraceSetOptions(pid, unix.PTRACE_O_TRACEEXEC)
}

func (s *Supervisor) handleTraceeExec(pid int) {
	exe, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		unix.PtraceDetach(pid)
		return
	}
	abi, ok := appProcessPaths[exe]
	if !ok || s.State() != model.StateTracing {
		unix.PtraceDetach(pid)
		return
	}

	s.mu.Lock()
	abiState := s.abis[abi]
	s.mu.Unlock()
	if streak, tripped := abiState.Crashes.RecordCrash(); tripped {
		log.WithField("abi", abi).WithField("streak", streak).Warn("zygote crash threshold reached")
		s.transition(model.StateStopping, "zygote crashed")
		unix.PtraceDetach(pid)
		return
	}

	if !s.ensureDaemon(abi) {
		s.transition(model.StateStopping, "daemon not running")
		unix.PtraceDetach(pid)
		return
	}

	s.respawnAsTrace(pid)
}

// ensureDaemon makes sure the per-ABI daemon process exists, forking one
// via ./bin/spawnwatchd<bits> if not.
func (s *Supervisor) ensureDaemon(abi model.Abi) bool {
	s.mu.Lock()
	_, running := s.daemons[abi]
	s.mu.Unlock()
	if running {
		return true
	}

	bits := "64"
	if !abi.Is64Bit() {
		bits = "32"
	}
	cmd := exec.Command(fmt.Sprintf("./bin/spawnwatchd%s", bits))
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=%s", "MAGIC_PATH", s.Cfg.MagicPath),
		fmt.Sprintf("%s=%s", "MAGIC", s.Cfg.Magic))
	if err := cmd.Start(); err != nil {
		log.WithError(err).WithField("abi", abi).Warn("failed to start daemon")
		return false
	}
	s.mu.Lock()
	s.daemons[abi] = cmd.Process
	s.mu.Unlock()
	return true
}

// respawnAsTrace stops the child, detaches it with SIGSTOP suspended,
// then starts `./bin/spawnwatch trace <pid> --restart` in a new session
// to take over tracing it — the original supervisor continues watching
// init for the next spawn.
func (s *Supervisor) respawnAsTrace(pid int) {
	unix.Kill(pid, unix.SIGSTOP)
	unix.PtraceCont(pid, 0)
	var ws unix.WaitStatus
	unix.Wait4(pid, &ws, unix.WALL, nil)
	unix.PtraceDetach(pid) // SIGSTOP left pending, as the child was stopped above.

	args := []string{"trace", fmt.Sprintf("%d", pid), "--restart"}
	if err := doubleForkExec("./bin/spawnwatch", args); err != nil {
		log.WithError(err).WithField("pid", pid).Warn("failed to spawn tracer")
	}
}

// doubleForkExec launches path with args in a new session (setsid) with a
// single fork, not a double fork: the started process stays a child of
// this process and is reaped by a goroutine here.
func doubleForkExec(path string, args []string) error {
	cmd := exec.Command(path, args...)
	cmd.SysProcAttr = &unix.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return err
	}
	go cmd.Wait() // reap it from our side; the process itself detaches via setsid.
	return nil
}
