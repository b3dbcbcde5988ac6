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

/*
#cgo LDFLAGS: -ldl -llog

#include <jni.h>
#include <dlfcn.h>
#include <stdlib.h>
#include <string.h>

// Forward declarations for the Go-implemented PLT replacements below;
// cgo generates C-callable wrappers for every //export'd Go function
// named exactly as declared, so these `extern` decls just let the
// preamble reference them before they're defined.
extern int go_fork_hook(void);
extern int go_unshare_hook(int flags);
extern char *go_strdup_hook(const char *s);
extern void go_android_log_close_hook(void);

// Small getter shims: cgo cannot directly convert an //export'd Go
// function to a void* from Go code, so each getter returns its address
// from C, where the symbol is an ordinary function pointer. These (and
// the call_old_* shims below) are called from hooks.go's own cgo
// preamble via matching `extern` declarations, so — unlike the
// self-contained shims in modules.go and jni.go — they must keep
// external linkage instead of `static`: cgo compiles each Go file's
// preamble into its own C translation unit, and only non-static symbols
// are visible once the package's objects are linked together.
//
// pthread_attr_destroy has no such getter here: unlike the other four,
// its PLT replacement must be a plain C trampoline (defined in
// hooks.go) that can musttail into dlclose, not this Go function
// directly — see hooks.go's pthread_attr_destroy_trampoline.
void *fork_hook_ptr(void)             { return (void *) go_fork_hook; }
void *unshare_hook_ptr(void)           { return (void *) go_unshare_hook; }
void *strdup_hook_ptr(void)            { return (void *) go_strdup_hook; }
void *android_log_close_hook_ptr(void) { return (void *) go_android_log_close_hook; }

// call_old_fork/etc invoke a previously-saved original function pointer
// with the right C signature; Go cannot call an arbitrary function
// pointer directly, so these thin shims do it on its behalf.
int call_old_fork(void *fn) {
	return ((int (*)(void)) fn)();
}
int call_old_unshare(void *fn, int flags) {
	return ((int (*)(int)) fn)(flags);
}
char *call_old_strdup(void *fn, const char *s) {
	return ((char *(*)(const char *)) fn)(s);
}
void call_old_android_log_close(void *fn) {
	((void (*)(void)) fn)();
}
int call_old_pthread_attr_destroy(void *fn, void *attr) {
	return ((int (*)(void *)) fn)(attr);
}
*/
import "C"

import (
	"unsafe"

	"github.com/spawnwatch/spawnwatch/internal/config"
	"github.com/spawnwatch/spawnwatch/internal/zlog"
)

var agentLog = zlog.For("agent")

// selfHandle is the dlopen handle the injector's remote dlopen call
// returned for this very library, stashed so the self-unload trampoline
// can dlclose it (ground: entry.cpp's global self_handle).
var selfHandle unsafe.Pointer

// magicCfg is the Config resolved from the magic_path argument handed to
// entry(); every daemon dial in this package goes through it.
var magicCfg *config.Config

//export entry
func entry(handle unsafe.Pointer, magicPath *C.char) {
	selfHandle = handle
	magicCfg = &config.Config{MagicPath: C.GoString(magicPath)}
	magicCfg.Magic = readMagicToken(magicCfg.MagicPath)

	agentLog.Info("agent loaded")
	preloadModules()
	hookFunctions()
}

// readMagicToken loads the random per-boot socket-namespace token the
// supervisor wrote under MagicPath at injection time (ground: the
// process environment isn't inherited into an already-running spawner,
// so the injector passes it this way instead of via MAGIC env).
func readMagicToken(magicPath string) string {
	b, err := readFileBestEffort(magicPath + "/magic")
	if err != nil {
		agentLog.WithError(err).Warn("failed to read magic token")
		return ""
	}
	return trimNewline(b)
}
