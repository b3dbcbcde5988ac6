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
#include <jni.h>
#include <dlfcn.h>
extern void *fork_hook_ptr(void);
extern void *unshare_hook_ptr(void);
extern void *strdup_hook_ptr(void);
extern void *android_log_close_hook_ptr(void);
extern int call_old_fork(void *fn);
extern int call_old_unshare(void *fn, int flags);
extern char *call_old_strdup(void *fn, const char *s);
extern void call_old_android_log_close(void *fn);
extern int call_old_pthread_attr_destroy(void *fn, void *attr);

// go_pthread_attr_destroy_pre runs every non-terminal step of the unload
// decision in Go (calling the real pthread_attr_destroy, the
// gettid()==getpid() main-thread check, and unhooking every other PLT
// entry) and reports back through out-params whether this call should
// end in self-unload, since an //export'd Go function cannot itself be
// the frame that tail-calls dlclose — see pthread_attr_destroy_trampoline
// below.
extern void go_pthread_attr_destroy_pre(void *attr, int *res, int *shouldUnload);

// self_handle_store is this library's own dlopen handle, set once by
// hookUnloader right before the pthread_attr_destroy hook is armed.
static void *self_handle_store;
static void set_self_handle(void *h) { self_handle_store = h; }

// pthread_attr_destroy_trampoline is the actual PLT replacement for
// pthread_attr_destroy. dlclose'ing this library from inside Go code
// (or from any C frame that still has to return into Go-compiled code
// afterwards) would return into now-unmapped pages and crash — the
// original's comment on this exact hook explains why it instead relies
// on pthread_attr_destroy and dlclose sharing the signature `int(void*)`
// so the compiler can reuse the stack frame: `musttail` turns `return
// dlclose(...)` into a genuine tail call, meaning control returns
// directly to *pthread_attr_destroy's own caller*, never back into any
// of this library's code. Everything that still needs to run (restoring
// every other PLT hook) happens in go_pthread_attr_destroy_pre, strictly
// before this tail call.
//
// Ground: hook.cpp's DCL_HOOK_FUNC(int, pthread_attr_destroy, ...) using
// [[clang::musttail]] return dlclose(self_handle).
static int pthread_attr_destroy_trampoline(void *attr) {
	int res = 0;
	int shouldUnload = 0;
	go_pthread_attr_destroy_pre(attr, &res, &shouldUnload);
	if (shouldUnload) {
		__attribute__((musttail)) return dlclose(self_handle_store);
	}
	return res;
}
static void *pthread_attr_destroy_trampoline_ptr(void) { return (void *) pthread_attr_destroy_trampoline; }
*/
import "C"

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/spawnwatch/spawnwatch/internal/model"
)

// origFork etc. hold the GOT's previous value for each hooked symbol,
// filled in by pltEngine.registerAndCommit and read back by the Go-side
// trampolines below for passthrough calls, the same role old_fork/etc.
// play in hook.cpp.
var (
	origFork               uintptr
	origUnshare            uintptr
	origStrdup             uintptr
	origAndroidLogClose    uintptr
	origPthreadAttrDestroy uintptr
)

var logFd = -1

// hookFunctions scans /proc/self/maps for libandroid_runtime.so and
// installs the four PLT hooks entry() needs from the moment it loads.
func hookFunctions() {
	targets := map[string]hookTarget{
		"fork":                {replacement: uintptr(C.fork_hook_ptr()), backup: &origFork},
		"unshare":             {replacement: uintptr(C.unshare_hook_ptr()), backup: &origUnshare},
		"strdup":              {replacement: uintptr(C.strdup_hook_ptr()), backup: &origStrdup},
		"__android_log_close": {replacement: uintptr(C.android_log_close_hook_ptr()), backup: &origAndroidLogClose},
	}
	if err := engine.registerAndCommit("libandroid_runtime.so", targets); err != nil {
		agentLog.WithError(err).Warn("hook_functions failed")
	}
}

// hookUnloader installs the pthread_attr_destroy hook in libart.so that
// performs the tail-call dlclose once modules have asked to unload
// (ground: hook_unloader in hook.cpp — deferred until unload time because
// hooking libart.so eagerly would be wasted work on the common path where
// no module ever requests DLCLOSE_MODULE_LIBRARY).
func hookUnloader() {
	C.set_self_handle(selfHandle)
	targets := map[string]hookTarget{
		"pthread_attr_destroy": {replacement: uintptr(C.pthread_attr_destroy_trampoline_ptr()), backup: &origPthreadAttrDestroy},
	}
	if err := engine.registerAndCommit("libart.so", targets); err != nil {
		agentLog.WithError(err).Warn("hook_unloader failed")
	}
}

var shouldUnmapZygisk bool

//export go_fork_hook
func go_fork_hook() C.int {
	c := getCurrent()
	if c != nil && c.pid >= 0 {
		return C.int(c.pid)
	}
	return C.call_old_fork(unsafe.Pointer(origFork))
}

//export go_unshare_hook
func go_unshare_hook(flags C.int) C.int {
	res := C.call_old_unshare(unsafe.Pointer(origUnshare), flags)
	c := getCurrent()
	if c != nil && flags&C.int(unix.CLONE_NEWNS) != 0 && res == 0 && !c.isSystemServer {
		// For some unknown reason, unmounting app_process in SysUI can
		// break (reproducible on the official AVD running API 26/27), so
		// system-UI is left alone entirely.
		//
		// Ground: hook.cpp's unshare hook:
		// (flags[DO_REVERT_UNMOUNT] && (info_flags & PROCESS_IS_SYS_UI) == 0).
		if c.flags.has(flagDoRevertUnmount) && !c.infoFlags.Has(model.ProcessIsSysUI) {
			revertUnmount(c.infoFlags)
		}
	}
	return res
}

//export go_strdup_hook
func go_strdup_hook(s *C.char) *C.char {
	if C.GoString(s) == "com.android.internal.os.ZygoteInit" {
		initializeJniHook()
	}
	return C.call_old_strdup(unsafe.Pointer(origStrdup), s)
}

//export go_android_log_close_hook
func go_android_log_close_hook() {
	c := getCurrent()
	if c == nil || !c.flags.has(flagSkipFdSanitization) {
		logFd = -1
	}
	C.call_old_android_log_close(unsafe.Pointer(origAndroidLogClose))
}

// go_pthread_attr_destroy_pre is called from C (by
// pthread_attr_destroy_trampoline), never registered as a PLT
// replacement directly: everything here still needs to return into this
// library's own Go runtime, so it must run strictly before any decision
// to dlclose this library is acted on.
//
//export go_pthread_attr_destroy_pre
func go_pthread_attr_destroy_pre(attr unsafe.Pointer, res *C.int, shouldUnload *C.int) {
	*res = C.call_old_pthread_attr_destroy(unsafe.Pointer(origPthreadAttrDestroy), attr)
	*shouldUnload = 0

	// Only perform unloading on the main thread.
	if os.Getpid() != unix.Gettid() {
		return
	}
	if shouldUnmapZygisk {
		if engine.restoreAll() {
			*shouldUnload = 1
		}
	}
}
