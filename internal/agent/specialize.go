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

	"github.com/spawnwatch/spawnwatch/internal/model"
)

// specializeArgs is what the JNI trampolines registered in jni.go decode
// out of nativeForkAndSpecialize/nativeSpecializeAppProcess/
// nativeForkSystemServer's jint/jstring arguments before calling into the
// functions below. Only the fields this agent's own logic inspects are
// kept; everything else passes through untouched to the real ART
// implementation.
type specializeArgs struct {
	uid            uint32
	processName    string
	isSystemServer bool
}

// appSpecializePre is the Go analog of ZygiskContext::app_specialize_pre:
// it resolves the spawning uid's flags from the daemon, short-circuits
// module loading entirely for the manager app itself, and otherwise
// fetches and runs every module's pre-app-specialize callback.
func appSpecializePre(args specializeArgs) *specializeContext {
	c := &specializeContext{
		processName: args.processName,
		flags:       flagAppSpecialize | flagAppForkAndSpecialize | flagDoRevertUnmount,
	}
	setCurrent(c)
	c.recordOpenFds()

	cli := daemonClient()
	if cli == nil {
		return c
	}
	info, err := cli.GetProcessFlags(bgCtx(), args.uid)
	if err != nil {
		agentLog.WithError(err).Warn("GetProcessFlags failed")
		return c
	}
	// PROCESS_IS_SYS_UI isn't part of the daemon's uid->flags policy (the
	// daemon only ever sees a uid, never a package name): it's decided
	// locally, the same way ZygiskContext's info_flags mixes in
	// process-local knowledge alongside the daemon-reported bits.
	if args.processName == "com.android.systemui" {
		info |= model.ProcessIsSysUI
	}
	c.infoFlags = info

	if info.Has(model.ProcessIsManager) && info.Has(model.ProcessRootIsMagisk) {
		os.Setenv("ZYGISK_ENABLED", "1")
		return c
	}

	c.runModulesPre(cli)
	return c
}

// appSpecializePost is ZygiskContext::app_specialize_post: run every
// loaded module's post callback, sanitize leftover fds, then drop the
// published context so later PLT trampolines stop seeing stale state.
func appSpecializePost(c *specializeContext) {
	c.runModulesPost()
	c.sanitizeFds()
	clearCurrent()
}

// serverSpecializePre mirrors nativeForkSystemServer_pre: the same
// pre-module-callback treatment as an app specialize, without the
// fd-to-ignore array plumbing system_server has no use for.
func serverSpecializePre() *specializeContext {
	c := &specializeContext{
		processName:    "system_server",
		isSystemServer: true,
		flags:          flagServerForkAndSpecialize,
	}
	setCurrent(c)

	cli := daemonClient()
	if cli == nil {
		return c
	}
	c.runModulesPre(cli)
	return c
}

func serverSpecializePost(c *specializeContext) {
	c.runModulesPost()
	clearCurrent()
}
