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

// Package tracee wraps the ptrace primitives the supervisor and injector
// use to seize a spawner process, read/write its memory, and drive a
// remote function call inside it.
//
// Ground: original_source/loader/src/ptracer/utils.cpp (get_regs,
// set_regs, read_proc, write_proc, remote_call, push_string) and
// pkg/sentry/platform/ptrace/subprocess_linux.go's attach/wait pattern.
package tracee

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/spawnwatch/spawnwatch/internal/zerrors"
)


// Tracee is one ptrace-seized process.
type Tracee struct {
	Pid int
}

// New wraps an already-known pid. It does not seize it.
func New(pid int) *Tracee {
	return &Tracee{Pid: pid}
}

// Seize attaches to the process without stopping it (PTRACE_SEIZE),
// requesting that the kernel kill the tracee if this process dies.
func (t *Tracee) Seize() error {
	if err := unix.PtraceSeize(t.Pid, unix.PTRACE_O_EXITKILL); err != nil {
		return wrapErrno("seize", t.Pid, err)
	}
	return nil
}

// Interrupt requests a group-stop on a seized tracee (PTRACE_INTERRUPT).
// golang.org/x/sys/unix does not wrap this request directly, so it is
// issued with the raw syscall the same way PtraceCont et al. are
// implemented under the hood.
func (t *Tracee) Interrupt() error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_INTERRUPT, uintptr(t.Pid), 0, 0, 0, 0)
	if errno != 0 {
		return wrapErrno("interrupt", t.Pid, errno)
	}
	return nil
}

// Cont resumes a stopped tracee, optionally delivering a signal.
func (t *Tracee) Cont(sig int) error {
	if err := unix.PtraceCont(t.Pid, sig); err != nil {
		return wrapErrno("cont", t.Pid, err)
	}
	return nil
}

// Detach releases the tracee, optionally delivering a signal on release.
func (t *Tracee) Detach(sig int) error {
	if err := unix.PtraceDetach(t.Pid); err != nil {
		return wrapErrno("detach", t.Pid, err)
	}
	if sig != 0 {
		return unix.Kill(t.Pid, unix.Signal(sig))
	}
	return nil
}

// Wait blocks for the next ptrace-stop of this tracee and returns the
// raw wait status.
func (t *Tracee) Wait() (unix.WaitStatus, error) {
	var ws unix.WaitStatus
	_, err := unix.Wait4(t.Pid, &ws, 0, nil)
	if err != nil {
		return ws, wrapErrno("wait4", t.Pid, err)
	}
	return ws, nil
}

// ReadMem reads len(buf) bytes starting at the remote address using
// process_vm_readv, falling back to PTRACE_PEEKDATA word reads if the
// vectored syscall is unavailable (e.g. disabled by a seccomp filter).
func (t *Tracee) ReadMem(addr uintptr, buf []byte) (int, error) {
	local := []unix.Iovec{{Base: &buf[0], Len: uint64(len(buf))}}
	remote := []unix.RemoteIovec{{Base: addr, Len: len(buf)}}
	n, err := unix.ProcessVMReadv(t.Pid, local, remote, 0)
	if err == nil {
		return n, nil
	}
	if err != unix.ENOSYS {
		return n, wrapErrno("process_vm_readv", t.Pid, err)
	}
	return t.readMemPeek(addr, buf)
}

// WriteMem writes buf to the remote address using process_vm_writev,
// falling back to PTRACE_POKEDATA word writes.
func (t *Tracee) WriteMem(addr uintptr, buf []byte) (int, error) {
	local := []unix.Iovec{{Base: &buf[0], Len: uint64(len(buf))}}
	remote := []unix.RemoteIovec{{Base: addr, Len: len(buf)}}
	n, err := unix.ProcessVMWritev(t.Pid, local, remote, 0)
	if err == nil {
		return n, nil
	}
	if err != unix.ENOSYS {
		return n, wrapErrno("process_vm_writev", t.Pid, err)
	}
	return t.writeMemPoke(addr, buf)
}

func (t *Tracee) readMemPeek(addr uintptr, buf []byte) (int, error) {
	const wordSize = 8
	for i := 0; i < len(buf); i += wordSize {
		var word [wordSize]byte
		n, err := unix.PtracePeekData(t.Pid, addr+uintptr(i), word[:])
		if err != nil {
			return i, wrapErrno("peekdata", t.Pid, err)
		}
		copy(buf[i:], word[:n])
	}
	return len(buf), nil
}

func (t *Tracee) writeMemPoke(addr uintptr, buf []byte) (int, error) {
	const wordSize = 8
	for i := 0; i < len(buf); i += wordSize {
		end := i + wordSize
		if end > len(buf) {
			end = len(buf)
		}
		if _, err := unix.PtracePokeData(t.Pid, addr+uintptr(i), buf[i:end]); err != nil {
			return i, wrapErrno("pokedata", t.Pid, err)
		}
	}
	return len(buf), nil
}

// GetRegs fetches the tracee's current general-purpose registers into a
// raw, arch-specific byte buffer of cc.RegsSize() bytes, decoded with
// cc's field accessors. amd64/386 use PTRACE_GETREGS; arm/arm64 use
// PTRACE_GETREGSET with NT_PRSTATUS via an iovec, per get_regs in
// utils.cpp.
func (t *Tracee) GetRegs(cc CallConv) ([]byte, error) {
	buf := make([]byte, cc.RegsSize())
	if useRegSet {
		iov := unix.Iovec{Base: &buf[0], Len: uint64(len(buf))}
		_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_GETREGSET, uintptr(t.Pid), uintptr(unix.NT_PRSTATUS), uintptr(unsafe.Pointer(&iov)), 0, 0)
		if errno != 0 {
			return nil, wrapErrno("getregset", t.Pid, errno)
		}
		return buf, nil
	}
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_GETREGS, uintptr(t.Pid), 0, uintptr(unsafe.Pointer(&buf[0])), 0, 0)
	if errno != 0 {
		return nil, wrapErrno("getregs", t.Pid, errno)
	}
	return buf, nil
}

// SetRegs writes back a register buffer previously obtained from GetRegs
// (and then mutated via cc's field setters).
func (t *Tracee) SetRegs(cc CallConv, buf []byte) error {
	if useRegSet {
		iov := unix.Iovec{Base: &buf[0], Len: uint64(len(buf))}
		_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_SETREGSET, uintptr(t.Pid), uintptr(unix.NT_PRSTATUS), uintptr(unsafe.Pointer(&iov)), 0, 0)
		if errno != 0 {
			return wrapErrno("setregset", t.Pid, errno)
		}
		return nil
	}
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_SETREGS, uintptr(t.Pid), 0, uintptr(unsafe.Pointer(&buf[0])), 0, 0)
	if errno != 0 {
		return wrapErrno("setregs", t.Pid, errno)
	}
	return nil
}

// ReadAuxvEntry scans the tracee's auxv (found via the stack layout
// mirrored from KernelArgumentBlock: argc, argv[], NULL, envp[], NULL,
// auxv[]) for the entry with the given a_type, returning its value and
// the remote address of the a_un union field (so callers can overwrite
// it, as the injector does for AT_ENTRY).
func (t *Tracee) ReadAuxvEntry(stackPtr uintptr, wordSize int, atType uint64) (value uint64, valueAddr uintptr, err error) {
	readWord := func(addr uintptr) (uint64, error) {
		buf := make([]byte, wordSize)
		if _, err := t.ReadMem(addr, buf); err != nil {
			return 0, err
		}
		return leUint(buf), nil
	}

	argcWord, err := readWord(stackPtr)
	if err != nil {
		return 0, 0, err
	}
	argc := int(argcWord)
	p := stackPtr + uintptr(wordSize) + uintptr(argc*wordSize) + uintptr(wordSize) // past argv + NULL

	for {
		w, err := readWord(p)
		if err != nil {
			return 0, 0, err
		}
		p += uintptr(wordSize)
		if w == 0 {
			break
		}
	}

	auxvEntry := uintptr(2 * wordSize)
	for {
		aType, err := readWord(p)
		if err != nil {
			return 0, 0, err
		}
		valAddr := p + uintptr(wordSize)
		val, err := readWord(valAddr)
		if err != nil {
			return 0, 0, err
		}
		if aType == atType {
			return val, valAddr, nil
		}
		if aType == 0 { // AT_NULL
			return 0, 0, fmt.Errorf("tracee: auxv entry %d not found", atType)
		}
		p += auxvEntry
	}
}

func leUint(b []byte) uint64 {
	var v uint64
	for i, x := range b {
		v |= uint64(x) << (8 * i)
	}
	return v
}

func wrapErrno(op string, pid int, err error) error {
	if err == unix.ESRCH {
		return zerrors.New(zerrors.KindTraceeGone, op, pid, err)
	}
	return zerrors.New(zerrors.KindRemoteCallFailed, op, pid, err)
}
