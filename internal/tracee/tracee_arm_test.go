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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArm64PrepareCallPlacesLR(t *testing.T) {
	cc := arm64CallConv{}
	regs := make([]byte, cc.RegsSize())

	stack := cc.PrepareCall(regs, []uint64{1, 2}, 0xcafef00d)

	require.Equal(t, uint64(1), binary.LittleEndian.Uint64(regs[0:]))
	require.Equal(t, uint64(0xcafef00d), binary.LittleEndian.Uint64(regs[30*8:]))
	require.Nil(t, stack)
}

func TestArmPrepareCallOverflow(t *testing.T) {
	cc := armCallConv{}
	regs := make([]byte, cc.RegsSize())

	stack := cc.PrepareCall(regs, []uint64{1, 2, 3, 4, 5}, 0x1234)
	require.Equal(t, []uint64{5}, stack)
	require.Equal(t, uint32(0x1234), binary.LittleEndian.Uint32(regs[14*4:]))
}
