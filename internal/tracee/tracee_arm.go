//go:build arm64 || arm
// +build arm64 arm

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
	"encoding/binary"

	"github.com/spawnwatch/spawnwatch/internal/model"
)

func init() {
	registry[model.AbiArm64] = arm64CallConv{}
	registry[model.AbiArm] = armCallConv{}
	useRegSet = true
}

// arm64CallConv follows AAPCS64: x0-x7 for the first 8 integer args, x30
// (LR) holds the return address, SP must stay 16-byte aligned.
type arm64CallConv struct{}

func (arm64CallConv) WordSize() int  { return 8 }
func (arm64CallConv) RegsSize() int  { return 34 * 8 } // regs[31] + sp + pc + pstate

func (arm64CallConv) PC(regs []byte) uint64      { return binary.LittleEndian.Uint64(regs[32*8:]) }
func (arm64CallConv) SetPC(regs []byte, v uint64) { binary.LittleEndian.PutUint64(regs[32*8:], v) }
func (arm64CallConv) SP(regs []byte) uint64       { return binary.LittleEndian.Uint64(regs[31*8:]) }
func (arm64CallConv) SetSP(regs []byte, v uint64) { binary.LittleEndian.PutUint64(regs[31*8:], v) }
func (arm64CallConv) RetVal(regs []byte) uint64   { return binary.LittleEndian.Uint64(regs[0:]) }

func (arm64CallConv) PrepareCall(regs []byte, args []uint64, retAddr uint64) []uint64 {
	for i := 0; i < len(args) && i < 8; i++ {
		binary.LittleEndian.PutUint64(regs[i*8:], args[i])
	}
	binary.LittleEndian.PutUint64(regs[30*8:], retAddr) // x30 (LR)
	if len(args) > 8 {
		return args[8:]
	}
	return nil
}

// armCallConv follows AAPCS32 (compat, traced via the same PTRACE_*REGSET
// machinery): r0-r3 for the first 4 args, the rest on the stack, lr holds
// the return address, plus the Thumb bit (bit 0) of the link register
// must match the callee's instruction set.
type armCallConv struct{}

func (armCallConv) WordSize() int { return 4 }
func (armCallConv) RegsSize() int { return 18 * 4 } // uregs[18]

// cpsrThumbBit is PSR_T_BIT (CPSR bit 5): when set, the CPU decodes the
// instruction stream at PC as Thumb(-2) rather than ARM. Since we set PC
// directly via PTRACE_SETREGS instead of an interworking branch
// instruction (bx/blx), the hardware never infers the instruction set from
// PC's own low bit the way it would for a real branch — CPSR.T has to be
// toggled by hand to match.
const cpsrThumbBit = 1 << 5

func (armCallConv) PC(regs []byte) uint64 { return uint64(binary.LittleEndian.Uint32(regs[15*4:])) }

// SetPC moves the Thumb tag conventionally carried in bit 0 of a resolved
// function address (dlsym/dlopen, and any symbol this module resolves via
// procmaps, tag Thumb entry points this way per the standard ARM/Thumb
// interworking convention) into CPSR.T, then writes the untagged address
// as the actual r15. Android's libc/libdl are routinely built Thumb-2, so
// skipping this would resume execution in the wrong instruction set and
// fault on the first instruction.
func (armCallConv) SetPC(regs []byte, v uint64) {
	cpsr := binary.LittleEndian.Uint32(regs[16*4:])
	if v&1 != 0 {
		cpsr |= cpsrThumbBit
	} else {
		cpsr &^= cpsrThumbBit
	}
	binary.LittleEndian.PutUint32(regs[16*4:], cpsr)
	binary.LittleEndian.PutUint32(regs[15*4:], uint32(v&^1))
}
func (armCallConv) SP(regs []byte) uint64       { return uint64(binary.LittleEndian.Uint32(regs[13*4:])) }
func (armCallConv) SetSP(regs []byte, v uint64) { binary.LittleEndian.PutUint32(regs[13*4:], uint32(v)) }
func (armCallConv) RetVal(regs []byte) uint64   { return uint64(binary.LittleEndian.Uint32(regs[0*4:])) }

// PrepareCall places r0-r3 then sets lr (r14) to retAddr, Thumb bit
// included: unlike PC, lr is never itself loaded into the CPU's
// instruction-fetch path by this module (it's read back by the callee's
// own `bx lr`/`pop {pc}` epilogue), so its low bit is left untouched and
// is compared against with the same &^1 mask everywhere this module reads
// it back.
func (armCallConv) PrepareCall(regs []byte, args []uint64, retAddr uint64) []uint64 {
	for i := 0; i < len(args) && i < 4; i++ {
		binary.LittleEndian.PutUint32(regs[i*4:], uint32(args[i]))
	}
	binary.LittleEndian.PutUint32(regs[14*4:], uint32(retAddr))
	if len(args) > 4 {
		return args[4:]
	}
	return nil
}
