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

// Package injector drives the dlopen-based injection of the in-process
// agent library into a seized spawner process: rewrite AT_ENTRY to an
// invalid sentinel address, let the tracee run until the dynamic linker
// finishes and jumps there, catch the resulting SIGSEGV, then issue a
// chain of remote calls (dlopen, dlsym, entry) before restoring the
// original entry point and registers.
//
// Ground: original_source/loader/src/ptracer/ptracer.cpp (inject_on_main).
package injector

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/spawnwatch/spawnwatch/internal/model"
	"github.com/spawnwatch/spawnwatch/internal/procmaps"
	"github.com/spawnwatch/spawnwatch/internal/tracee"
	"github.com/spawnwatch/spawnwatch/internal/zerrors"
	"github.com/spawnwatch/spawnwatch/internal/zlog"
)

var log = zlog.For("injector")

// atEntry is AT_ENTRY from <elf.h>/<link.h>.
const atEntry = 9

// sentinelBase is an address guaranteed to fault if ever jumped to: it
// is not a valid canonical userspace address on any of the four
// supported ABIs. Run adjusts its low bit to match the real entry
// point's Thumb bit on 32-bit arm so the fault happens in the expected
// instruction set.
const sentinelBase = ^uintptr(0x05ec1cff)

// Run performs one full injection of plan.LibPath into the seized
// process plan.Pid, which must already be stopped via PTRACE_SEIZE +
// PTRACE_INTERRUPT (group-stop, PTRACE_EVENT_STOP) before calling this.
func Run(plan model.InjectionPlan) error {
	t := tracee.New(plan.Pid)
	cc, err := tracee.ForAbi(plan.Abi)
	if err != nil {
		return err
	}

	regs, err := t.GetRegs(cc)
	if err != nil {
		return err
	}
	sp := uintptr(cc.SP(regs))

	entryAddr, entryAddrLoc, err := t.ReadAuxvEntry(sp, cc.WordSize(), atEntry)
	if err != nil {
		return zerrors.New(zerrors.KindRemoteCallFailed, "read_auxv_entry", plan.Pid, err)
	}
	log.WithField("pid", plan.Pid).Debugf("entry %#x at auxv slot %#x", entryAddr, entryAddrLoc)

	sentinel := uint64(sentinelBase&^1) | (entryAddr & 1)
	if err := writeWord(t, entryAddrLoc, cc.WordSize(), sentinel); err != nil {
		return err
	}

	if err := t.Cont(0); err != nil {
		return err
	}
	ws, err := t.Wait()
	if err != nil {
		return err
	}
	if !ws.Stopped() || ws.StopSignal() != unix.SIGSEGV {
		return zerrors.New(zerrors.KindRemoteCallFailed, "inject_wait_entry", plan.Pid,
			fmt.Errorf("expected SIGSEGV at sentinel, got %v", ws))
	}

	regs, err = t.GetRegs(cc)
	if err != nil {
		return err
	}
	if (cc.PC(regs) &^ 1) != (uint64(sentinel) &^ 1) {
		return zerrors.New(zerrors.KindRemoteCallFailed, "inject_wait_entry", plan.Pid,
			fmt.Errorf("stopped at unexpected pc %#x, want %#x", cc.PC(regs), sentinel))
	}
	log.WithField("pid", plan.Pid).Debug("linker finished, stopped at sentinel")

	if err := writeWord(t, entryAddrLoc, cc.WordSize(), entryAddr); err != nil {
		return err
	}

	backup := append([]byte(nil), regs...)

	if err := doDlchain(t, cc, regs, plan); err != nil {
		return err
	}

	cc.SetPC(backup, entryAddr)
	if err := t.SetRegs(cc, backup); err != nil {
		return err
	}
	log.WithField("pid", plan.Pid).Info("injected, resuming at real entry")
	return nil
}

// doDlchain performs dlopen(lib_path) -> dlsym(handle, "entry") ->
// entry(handle, magic_path), each via a remote call, reusing regs as
// working storage between calls (mirroring ptracer.cpp's reuse of the
// backed-up `regs` for every remote_call in the chain).
func doDlchain(t *tracee.Tracee, cc tracee.CallConv, regs []byte, plan model.InjectionPlan) error {
	remoteMaps, err := procmaps.Scan(plan.Pid)
	if err != nil {
		return err
	}
	localMaps, err := procmaps.Scan(0)
	if err != nil {
		return err
	}
	returnAddr, ok := procmaps.ReturnAddr(remoteMaps, "libc.so")
	if !ok {
		return zerrors.New(zerrors.KindSymbolMissing, "find_return_addr", plan.Pid, fmt.Errorf("no libc.so mapping"))
	}

	dlopenAddr, err := procmaps.FindFuncAddr(localMaps, remoteMaps, "libdl.so", "dlopen")
	if err != nil {
		return zerrors.New(zerrors.KindSymbolMissing, "find_dlopen", plan.Pid, err)
	}
	libPathAddr, err := pushString(t, cc, regs, plan.LibPath)
	if err != nil {
		return err
	}
	handle, err := remoteCall(t, cc, regs, uint64(dlopenAddr), uint64(returnAddr), []uint64{uint64(libPathAddr), unix.RTLD_NOW})
	if err != nil {
		return err
	}
	if handle == 0 {
		return zerrors.New(zerrors.KindRemoteCallFailed, "dlopen", plan.Pid, fmt.Errorf("dlopen(%s) returned NULL", plan.LibPath))
	}

	dlsymAddr, err := procmaps.FindFuncAddr(localMaps, remoteMaps, "libdl.so", "dlsym")
	if err != nil {
		return zerrors.New(zerrors.KindSymbolMissing, "find_dlsym", plan.Pid, err)
	}
	entrySymAddr, err := pushString(t, cc, regs, "entry")
	if err != nil {
		return err
	}
	entry, err := remoteCall(t, cc, regs, uint64(dlsymAddr), uint64(returnAddr), []uint64{handle, uint64(entrySymAddr)})
	if err != nil {
		return err
	}
	if entry == 0 {
		return zerrors.New(zerrors.KindSymbolMissing, "dlsym_entry", plan.Pid, fmt.Errorf("dlsym(handle, \"entry\") returned NULL"))
	}

	magicAddr, err := pushString(t, cc, regs, plan.MagicPath)
	if err != nil {
		return err
	}
	if _, err := remoteCall(t, cc, regs, entry, uint64(returnAddr), []uint64{handle, uint64(magicAddr)}); err != nil {
		return err
	}
	return nil
}

// remoteCall pushes args per cc's convention, sets PC to funcAddr, lets
// the tracee run to returnAddr (a non-executable byte we use purely as a
// breakpoint-free landing pad, as in find_module_return_addr), and
// returns the callee's return value.
func remoteCall(t *tracee.Tracee, cc tracee.CallConv, regs []byte, funcAddr, returnAddr uint64, args []uint64) (uint64, error) {
	sp := cc.SP(regs) &^ 0xf
	extra := cc.PrepareCall(regs, args, returnAddr)
	if len(extra) > 0 {
		sp -= uint64(len(extra) * cc.WordSize())
		sp &^= 0xf
		buf := make([]byte, len(extra)*cc.WordSize())
		for i, w := range extra {
			putWord(buf[i*cc.WordSize():], cc.WordSize(), w)
		}
		if _, err := t.WriteMem(uintptr(sp), buf); err != nil {
			return 0, err
		}
	}
	cc.SetSP(regs, sp)
	cc.SetPC(regs, funcAddr)
	if err := t.SetRegs(cc, regs); err != nil {
		return 0, err
	}
	if err := t.Cont(0); err != nil {
		return 0, err
	}
	ws, err := t.Wait()
	if err != nil {
		return 0, err
	}
	// Expected stop is SIGSEGV with PC exactly equal to returnAddr
	// (masking the thumb low bit on arm); any other stop — a different
	// signal, a group-stop, a spurious return — is a fatal
	// RemoteCallFailed rather than a result we trust, matching Run's own
	// sentinel rendezvous check above.
	if !ws.Stopped() || ws.StopSignal() != unix.SIGSEGV {
		return 0, zerrors.New(zerrors.KindRemoteCallFailed, "remote_call", t.Pid, fmt.Errorf("unexpected status %v", ws))
	}
	out, err := t.GetRegs(cc)
	if err != nil {
		return 0, err
	}
	if (cc.PC(out) &^ 1) != (returnAddr &^ 1) {
		return 0, zerrors.New(zerrors.KindRemoteCallFailed, "remote_call", t.Pid,
			fmt.Errorf("stopped at unexpected pc %#x, want %#x", cc.PC(out), returnAddr))
	}
	copy(regs, out)
	return cc.RetVal(out), nil
}

// pushString writes a NUL-terminated string onto the tracee's stack,
// below the current SP, 16-byte aligned, and returns its address.
func pushString(t *tracee.Tracee, cc tracee.CallConv, regs []byte, s string) (uintptr, error) {
	data := append([]byte(s), 0)
	sp := (cc.SP(regs) - uint64(len(data))) &^ 0xf
	cc.SetSP(regs, sp)
	if _, err := t.WriteMem(uintptr(sp), data); err != nil {
		return 0, err
	}
	return uintptr(sp), nil
}

func writeWord(t *tracee.Tracee, addr uintptr, wordSize int, v uint64) error {
	buf := make([]byte, wordSize)
	putWord(buf, wordSize, v)
	_, err := t.WriteMem(addr, buf)
	return err
}

func putWord(buf []byte, wordSize int, v uint64) {
	if wordSize == 4 {
		binary.LittleEndian.PutUint32(buf, uint32(v))
		return
	}
	binary.LittleEndian.PutUint64(buf, v)
}
