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

// Package version holds the linker-stamped build identity of spawnwatch.
package version

import "fmt"

// Version is overridden at link time with -ldflags "-X ...version.Version=...".
var Version = "dev"

// Protocol is the wire protocol version spoken between the daemon and its
// clients (the supervisor and the in-process agent). Bumping it is a
// breaking change: old and new peers must not be mixed.
const Protocol = 1

// String returns the combined build and protocol identity, in the same
// shape runsc prints its own version line.
func String() string {
	return fmt.Sprintf("spawnwatch version %s\nprotocol: %d", Version, Protocol)
}
