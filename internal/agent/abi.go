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

package agent

import (
	"runtime"

	"github.com/spawnwatch/spawnwatch/internal/model"
)

// selfAbi reports which of the four ABIs this build of the agent library
// was compiled for — always the ABI of the spawner it gets dlopen'd into,
// since a 32-bit process can never dlopen a 64-bit .so or vice versa.
func selfAbi() model.Abi {
	switch runtime.GOARCH {
	case "arm64":
		return model.AbiArm64
	case "arm":
		return model.AbiArm
	case "amd64":
		return model.AbiX86_64
	case "386":
		return model.AbiX86
	default:
		return model.AbiArm64
	}
}
