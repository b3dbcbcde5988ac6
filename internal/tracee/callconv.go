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

package tracee

import (
	"fmt"

	"github.com/spawnwatch/spawnwatch/internal/model"
)

// CallConv captures the register/stack placement rules a remote_call
// needs: where the program counter, stack pointer, and return value
// live, and how to place up to N integer arguments before a call.
//
// Ground: original_source/loader/src/ptracer/utils.cpp's remote_call,
// which #ifdefs on __x86_64__/__i386__/__aarch64__/__arm__ to place
// arguments in registers vs on the stack.
//
// Each device ABI family provides both its ABIs in one build-tagged
// file, mirroring the original's LP_SELECT split: an arm64 build of the
// supervisor (tracee_arm.go) knows how to drive remote calls in both
// arm64 and arm tracees (the compat case), and an amd64 build
// (tracee_amd64.go) knows amd64 and 386 — a supervisor never needs to
// cross between the two families, since Android devices ship one family
// or the other.
type CallConv interface {
	// WordSize is 4 on 32-bit ABIs (arm, x86) and 8 on 64-bit ABIs.
	WordSize() int

	// PC/SetPC access the program counter.
	PC(regs []byte) uint64
	SetPC(regs []byte, v uint64)

	// SP/SetSP access the stack pointer.
	SP(regs []byte) uint64
	SetSP(regs []byte, v uint64)

	// RetVal reads the return-value register after a call completes.
	RetVal(regs []byte) uint64

	// PrepareCall arranges args per this ABI's calling convention and
	// arranges for the call to return to retAddr. It mutates regs in
	// place (placing in-register args and, on arm/arm64, the return
	// address in the link register) and returns any words the caller
	// must additionally push onto the tracee's stack, in the order they
	// should appear starting at the lowest address below the current SP
	// (overflow args first, then the return address on amd64/386, where
	// it is read by the callee's RET instead of a link register).
	PrepareCall(regs []byte, args []uint64, retAddr uint64) (extraStack []uint64)

	// RegsSize is the byte size of the raw register struct this ABI's
	// PTRACE_GETREGS/GETREGSET call expects.
	RegsSize() int
}

// registry is populated by each arch-tagged file's init().
var registry = map[model.Abi]CallConv{}

// useRegSet is true on arm/arm64, where registers are fetched with
// PTRACE_GETREGSET/NT_PRSTATUS via an iovec rather than PTRACE_GETREGS
// directly, and false on amd64/386.
var useRegSet bool

// ForAbi returns the CallConv for the given tracee ABI, or an error if
// this build doesn't support tracing that ABI family.
func ForAbi(abi model.Abi) (CallConv, error) {
	cc, ok := registry[abi]
	if !ok {
		return nil, fmt.Errorf("tracee: no calling convention registered for %s in this build", abi)
	}
	return cc, nil
}
