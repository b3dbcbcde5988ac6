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


package supervisor

import "github.com/spawnwatch/spawnwatch/internal/model"

// appProcessPaths maps the two 64/32-bit zygote binaries this supervisor
// recognizes to the ABI they run as, mirroring internal/tracee's own
// per-arch CallConv split so an execve this supervisor traces always
// routes to the injector's matching calling convention.
var appProcessPaths = map[string]model.Abi{
	"/system/bin/app_process64": model.AbiArm64,
	"/system/bin/app_process32": model.AbiArm,
}
