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
	"context"
	"os"
	"sync"

	"github.com/spawnwatch/spawnwatch/internal/daemonclient"
	"github.com/spawnwatch/spawnwatch/internal/model"
)

// contextFlag mirrors hook.cpp's anonymous FLAG_MAX bitset: per-spawn
// bookkeeping distinct from the wire-level model.ProcessFlags the daemon
// reports for a uid.
type contextFlag uint8

const (
	flagPostSpecialize contextFlag = 1 << iota
	flagAppForkAndSpecialize
	flagAppSpecialize
	flagServerForkAndSpecialize
	flagDoRevertUnmount
	flagSkipFdSanitization
)

func (f contextFlag) has(bit contextFlag) bool { return f&bit != 0 }

const maxFdSize = 1024

// specializeContext is the Go analog of ZygiskContext: a short-lived,
// stack-scoped (in spirit — Go just heap-allocates and drops it) record
// built at the start of one fork/specialize call and discarded at its
// end. A single *specializeContext is published to the package-level
// current var for the duration of the call so PLT trampolines (which
// only see C-style arguments) can reach it.
type specializeContext struct {
	mu sync.Mutex

	processName string
	pid         int
	flags       contextFlag
	infoFlags   model.ProcessFlags

	allowedFds  [maxFdSize]bool
	exemptedFds []int

	modules []loadedModule

	isSystemServer bool
}

var (
	currentMu sync.Mutex
	current   *specializeContext
)

func setCurrent(c *specializeContext) {
	currentMu.Lock()
	current = c
	currentMu.Unlock()
}

func clearCurrent() {
	currentMu.Lock()
	current = nil
	currentMu.Unlock()
}

func getCurrent() *specializeContext {
	currentMu.Lock()
	defer currentMu.Unlock()
	return current
}

func (c *specializeContext) isChild() bool { return c.pid <= 0 }

// exemptFd marks fd as surviving sanitize_fds, matching
// ZygiskContext::exempt_fd: once post-specialize has run, or fd
// sanitization has already been skipped, every fd is implicitly exempt.
func (c *specializeContext) exemptFd(fd int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.flags.has(flagPostSpecialize) || c.flags.has(flagSkipFdSanitization) {
		return true
	}
	if !c.flags.has(flagAppForkAndSpecialize) {
		return false
	}
	c.exemptedFds = append(c.exemptedFds, fd)
	return true
}

// recordOpenFds snapshots every currently-open fd as allowed, the way
// fork_pre does before the real fork so the child can later close
// anything a module or the runtime opened without our knowledge.
func (c *specializeContext) recordOpenFds() {
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return
	}
	for _, e := range entries {
		fd := parseFd(e.Name())
		if fd < 0 || fd >= maxFdSize {
			continue
		}
		c.allowedFds[fd] = true
	}
}

// sanitizeFds closes every open fd the child did not inherit legitimately
// and was not explicitly exempted, matching ZygiskContext::sanitize_fds'
// child-side pass. The platform's fds_to_ignore array is not read or
// updated here.
func (c *specializeContext) sanitizeFds() {
	if c.flags.has(flagSkipFdSanitization) || !c.isChild() {
		return
	}
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return
	}
	exempt := make(map[int]bool, len(c.exemptedFds))
	for _, fd := range c.exemptedFds {
		exempt[fd] = true
	}
	for _, e := range entries {
		fd := parseFd(e.Name())
		if fd < 0 || exempt[fd] {
			continue
		}
		if fd >= maxFdSize || !c.allowedFds[fd] {
			unixCloseQuiet(fd)
		}
	}
}

func parseFd(name string) int {
	n := 0
	if name == "" {
		return -1
	}
	for _, r := range name {
		if r < '0' || r > '9' {
			return -1
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// runModulesPre fetches every usable module from the per-ABI daemon,
// dlopens each payload's memfd, resolves its "zygisk_module_entry" entry
// point, and invokes onLoad then the appropriate pre-specialize callback,
// in the daemon's reported order (module callback ordering invariant).
func (c *specializeContext) runModulesPre(cli *daemonclient.Client) {
	payloads, err := cli.ReadModules(context.Background())
	if err != nil {
		agentLog.WithError(err).Warn("ReadModules failed")
		return
	}
	for i, p := range payloads {
		m, err := loadModule(i, p)
		if err != nil {
			agentLog.WithError(err).WithField("module", p.Name).Warn("module load failed")
			continue
		}
		c.modules = append(c.modules, m)
	}
	for _, m := range c.modules {
		m.onLoad()
		switch {
		case c.flags.has(flagAppSpecialize):
			m.preAppSpecialize()
		case c.flags.has(flagServerForkAndSpecialize):
			m.preServerSpecialize()
		}
	}
}

// runModulesPost invokes every loaded module's post-specialize callback
// and then gives it a chance to unload itself, in load order. Once every
// module has either unloaded or there were none to begin with, the agent
// has no further reason to stay mapped into this process and arranges
// its own tail-call unload the next time libart.so calls
// pthread_attr_destroy (ground: hook.cpp's unload_first_process_specific
// path into hook_unloader/go_pthread_attr_destroy_hook).
func (c *specializeContext) runModulesPost() {
	c.flags |= flagPostSpecialize
	allUnloaded := true
	for _, m := range c.modules {
		switch {
		case c.flags.has(flagAppSpecialize):
			m.postAppSpecialize()
		case c.flags.has(flagServerForkAndSpecialize):
			m.postServerSpecialize()
		}
		m.tryUnload()
		if !m.unload {
			allUnloaded = false
		}
	}
	if allUnloaded {
		shouldUnmapZygisk = true
		hookUnloader()
	}
}
