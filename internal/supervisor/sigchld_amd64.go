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


package supervisor

import "github.com/spawnwatch/spawnwatch/internal/model"

// appProcessPaths maps the two 64/32-bit zygote binaries this supervisor
// recognizes to the ABI they run as. Android-x86 images ship app_process
// under these same two names, built for the x86/x86_64 ABI instead of
// arm/arm64, mirroring internal/tracee's AbiX86_64/AbiX86 CallConv split.
var appProcessPaths = map[string]model.Abi{
	"/system/bin/app_process64": model.AbiX86_64,
	"/system/bin/app_process32": model.AbiX86,
}
