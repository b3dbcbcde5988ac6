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

import "testing"

func TestAppSpecializePreWithoutDaemon(t *testing.T) {
	magicCfg = nil
	defer setCurrent(nil)

	c := appSpecializePre(specializeArgs{uid: 2000, processName: "com.example.app"})
	if c == nil {
		t.Fatal("expected a context even when the daemon is unreachable")
	}
	if !c.flags.has(flagAppSpecialize) || !c.flags.has(flagAppForkAndSpecialize) {
		t.Error("appSpecializePre must mark both APP_SPECIALIZE and APP_FORK_AND_SPECIALIZE")
	}
	if getCurrent() != c {
		t.Error("appSpecializePre must publish its context via setCurrent")
	}
}

func TestServerSpecializePreWithoutDaemon(t *testing.T) {
	magicCfg = nil
	defer setCurrent(nil)

	c := serverSpecializePre()
	if !c.isSystemServer {
		t.Error("serverSpecializePre must mark isSystemServer")
	}
	if !c.flags.has(flagServerForkAndSpecialize) {
		t.Error("serverSpecializePre must set SERVER_FORK_AND_SPECIALIZE")
	}
}

func TestAppSpecializePostClearsCurrent(t *testing.T) {
	// pid is set non-zero so sanitizeFds (invoked by appSpecializePost) takes
	// its parent-side no-op path instead of actually closing this test
	// process's fds.
	c := &specializeContext{flags: flagAppSpecialize, pid: 1234}
	setCurrent(c)
	appSpecializePost(c)
	if getCurrent() != nil {
		t.Error("appSpecializePost must clear the published context")
	}
	if !c.flags.has(flagPostSpecialize) {
		t.Error("appSpecializePost must run module-post bookkeeping, setting POST_SPECIALIZE")
	}
}
