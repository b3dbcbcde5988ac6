//go:build amd64 || 386
// +build amd64 386

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
	registry[model.AbiX86_64] = amd64CallConv{}
	registry[model.AbiX86] = x86CallConv{}
}

// amd64CallConv follows the SysV AMD64 ABI: rdi, rsi, rdx, rcx, r8, r9
// for the first 6 integer args, the rest pushed on the stack in reverse
// order, the return address pushed last (lowest address) since x86 calls
// return via the stack rather than a link register.
type amd64CallConv struct{}

// Field offsets within unix.PtraceRegs on linux/amd64 (8-byte words):
// r15,r14,r13,r12,rbp,rbx,r11,r10,r9,r8,rax,rcx,rdx,rsi,rdi,orig_rax,
// rip,cs,eflags,rsp,ss,fs_base,gs_base,ds,es,fs,gs.
const (
	amd64R9 = 8 * 8
	amd64R8 = 9 * 8
	amd64Rax = 10 * 8
	amd64Rcx = 11 * 8
	amd64Rdx = 12 * 8
	amd64Rsi = 13 * 8
	amd64Rdi = 14 * 8
	amd64Rip = 16 * 8
	amd64Rsp = 19 * 8
)

func (amd64CallConv) WordSize() int { return 8 }
func (amd64CallConv) RegsSize() int { return 27 * 8 }

func (amd64CallConv) PC(regs []byte) uint64       { return binary.LittleEndian.Uint64(regs[amd64Rip:]) }
func (amd64CallConv) SetPC(regs []byte, v uint64) { binary.LittleEndian.PutUint64(regs[amd64Rip:], v) }
func (amd64CallConv) SP(regs []byte) uint64        { return binary.LittleEndian.Uint64(regs[amd64Rsp:]) }
func (amd64CallConv) SetSP(regs []byte, v uint64)  { binary.LittleEndian.PutUint64(regs[amd64Rsp:], v) }
func (amd64CallConv) RetVal(regs []byte) uint64    { return binary.LittleEndian.Uint64(regs[amd64Rax:]) }

func (amd64CallConv) PrepareCall(regs []byte, args []uint64, retAddr uint64) []uint64 {
	regOffsets := []int{amd64Rdi, amd64Rsi, amd64Rdx, amd64Rcx, amd64R8, amd64R9}
	for i := 0; i < len(args) && i < len(regOffsets); i++ {
		binary.LittleEndian.PutUint64(regs[regOffsets[i]:], args[i])
	}
	var stack []uint64
	if len(args) > len(regOffsets) {
		// Stack args are pushed highest-index-first so they end up in
		// increasing-address order, matching args[6], args[7], ...
		overflow := args[len(regOffsets):]
		for i := len(overflow) - 1; i >= 0; i-- {
			stack = append(stack, overflow[i])
		}
	}
	// The return address is the last word pushed (lowest address), so
	// RET finds it immediately at [rsp] on function entry.
	stack = append(stack, retAddr)
	return stack
}

// x86CallConv follows the cdecl/i386 Linux syscall ABI for a plain C
// call: all arguments on the stack, pushed right-to-left, return address
// pushed last just like amd64.
type x86CallConv struct{}

// Field offsets within unix.PtraceRegs on linux/386 (4-byte words):
// ebx,ecx,edx,esi,edi,ebp,eax,xds,xes,xfs,xgs,orig_eax,eip,xcs,eflags,
// esp,xss.
const (
	x86Eax = 6 * 4
	x86Eip = 12 * 4
	x86Esp = 15 * 4
)

func (x86CallConv) WordSize() int { return 4 }
func (x86CallConv) RegsSize() int { return 17 * 4 }

func (x86CallConv) PC(regs []byte) uint64       { return uint64(binary.LittleEndian.Uint32(regs[x86Eip:])) }
func (x86CallConv) SetPC(regs []byte, v uint64) { binary.LittleEndian.PutUint32(regs[x86Eip:], uint32(v)) }
func (x86CallConv) SP(regs []byte) uint64        { return uint64(binary.LittleEndian.Uint32(regs[x86Esp:])) }
func (x86CallConv) SetSP(regs []byte, v uint64)  { binary.LittleEndian.PutUint32(regs[x86Esp:], uint32(v)) }
func (x86CallConv) RetVal(regs []byte) uint64    { return uint64(binary.LittleEndian.Uint32(regs[x86Eax:])) }

func (x86CallConv) PrepareCall(regs []byte, args []uint64, retAddr uint64) []uint64 {
	stack := make([]uint64, 0, len(args)+1)
	for i := len(args) - 1; i >= 0; i-- {
		stack = append(stack, args[i])
	}
	stack = append(stack, retAddr)
	return stack
}
