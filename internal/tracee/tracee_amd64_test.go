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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAmd64PrepareCallPlacesRegistersAndOverflow(t *testing.T) {
	cc := amd64CallConv{}
	regs := make([]byte, cc.RegsSize())
	args := []uint64{1, 2, 3, 4, 5, 6, 7, 8}

	stack := cc.PrepareCall(regs, args, 0xdeadbeef)

	require.Equal(t, uint64(1), binary.LittleEndian.Uint64(regs[amd64Rdi:]))
	require.Equal(t, uint64(6), binary.LittleEndian.Uint64(regs[amd64R9:]))
	// overflow args (7,8) pushed high-to-low, then the return address last.
	require.Equal(t, []uint64{8, 7, 0xdeadbeef}, stack)
}

func TestAmd64PrepareCallNoOverflow(t *testing.T) {
	cc := amd64CallConv{}
	regs := make([]byte, cc.RegsSize())

	stack := cc.PrepareCall(regs, []uint64{1, 2}, 0x1000)
	require.Equal(t, []uint64{0x1000}, stack)
}

func TestX86PrepareCallPushesEverything(t *testing.T) {
	cc := x86CallConv{}
	regs := make([]byte, cc.RegsSize())

	stack := cc.PrepareCall(regs, []uint64{10, 20}, 0x2000)
	require.Equal(t, []uint64{20, 10, 0x2000}, stack)
}
