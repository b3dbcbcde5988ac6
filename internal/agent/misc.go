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
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

func readFileBestEffort(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func trimNewline(s string) string {
	return strings.TrimRight(s, "\r\n")
}

func unixCloseQuiet(fd int) {
	_ = unix.Close(fd)
}

// preloadModules fetches the module list once at load time purely to
// warm the daemon connection and log what's available; the actual
// per-spawn dlopen happens fresh in runModulesPre so a module updated on
// disk between spawns is picked up without re-injecting.
func preloadModules() {
	cli := daemonClient()
	if cli == nil {
		return
	}
	mods, err := cli.ReadModules(bgCtx())
	if err != nil {
		agentLog.WithError(err).Warn("preload ReadModules failed")
		return
	}
	for _, m := range mods {
		agentLog.WithField("module", m.Name).Debug("preloaded module visible")
		unixCloseQuiet(m.Fd)
	}
}
