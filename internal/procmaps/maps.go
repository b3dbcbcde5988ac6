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

// Package procmaps parses /proc/<pid>/maps and resolves function
// addresses across process boundaries by adding a symbol's offset within
// its module, read from the locally mapped copy of the module's ELF, to
// the module's remote load base.
//
// Ground: original_source/loader/src/ptracer/utils.cpp (MapInfo::Scan,
// find_module_base, find_func_addr).
package procmaps

import (
	"bufio"
	"debug/elf"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spawnwatch/spawnwatch/internal/model"
)

// Scan parses /proc/<pid>/maps. pid == 0 scans the calling process's own
// map ("/proc/self/maps").
func Scan(pid int) ([]model.MapEntry, error) {
	path := "/proc/self/maps"
	if pid != 0 {
		path = fmt.Sprintf("/proc/%d/maps", pid)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return scan(f)
}

func scan(r io.Reader) ([]model.MapEntry, error) {
	var entries []model.MapEntry
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		e, ok := parseLine(sc.Text())
		if ok {
			entries = append(entries, e)
		}
	}
	return entries, sc.Err()
}

// parseLine parses one /proc/pid/maps line of the form:
//
//	<start>-<end> rwxp <offset> <dev> <inode> <path>
func parseLine(line string) (model.MapEntry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return model.MapEntry{}, false
	}
	addrs := strings.SplitN(fields[0], "-", 2)
	if len(addrs) != 2 {
		return model.MapEntry{}, false
	}
	start, err := strconv.ParseUint(addrs[0], 16, 64)
	if err != nil {
		return model.MapEntry{}, false
	}
	end, err := strconv.ParseUint(addrs[1], 16, 64)
	if err != nil {
		return model.MapEntry{}, false
	}
	perms := fields[1]
	if len(perms) < 4 {
		return model.MapEntry{}, false
	}
	offset, err := strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		return model.MapEntry{}, false
	}
	inode, _ := strconv.ParseUint(fields[4], 10, 64)

	path := ""
	if len(fields) >= 6 {
		path = strings.Join(fields[5:], " ")
	}

	return model.MapEntry{
		Start: uintptr(start),
		End:   uintptr(end),
		Perms: model.MapPerms{
			Read:   perms[0] == 'r',
			Write:  perms[1] == 'w',
			Exec:   perms[2] == 'x',
			Shared: perms[3] == 's',
		},
		Offset: offset,
		Dev:    fields[3],
		Inode:  inode,
		Path:   path,
	}, true
}

// ModuleBase returns the load base of the first mapping whose path ends
// in suffix and whose file offset is zero — the header mapping of a
// shared object, matching find_module_base.
func ModuleBase(entries []model.MapEntry, suffix string) (uintptr, bool) {
	for _, e := range entries {
		if e.Offset == 0 && strings.HasSuffix(e.Path, suffix) {
			return e.Start, true
		}
	}
	return 0, false
}

// ReturnAddr returns the base of the first non-executable mapping whose
// path ends in suffix, used as a scratch return address for remote calls
// (matching find_module_return_addr — any mapped, non-exec byte inside
// the target's own library works as a breakpoint-free landing pad).
func ReturnAddr(entries []model.MapEntry, suffix string) (uintptr, bool) {
	for _, e := range entries {
		if !e.Perms.Exec && strings.HasSuffix(e.Path, suffix) {
			return e.Start, true
		}
	}
	return 0, false
}

// FindFuncAddr resolves the remote address of exported symbol "func" in
// module "module", given the local and remote map scans. It substitutes
// for the original's dlopen+dlsym-in-the-supervisor step (the supervisor
// never loads the tracee's libc/libdl itself) by reading the local copy
// of the module's ELF dynamic symbol table directly with debug/elf.
func FindFuncAddr(localEntries, remoteEntries []model.MapEntry, module, fn string) (uintptr, error) {
	if _, ok := ModuleBase(localEntries, module); !ok {
		return 0, fmt.Errorf("procmaps: local base for %s not found", module)
	}
	remoteBase, ok := ModuleBase(remoteEntries, module)
	if !ok {
		return 0, fmt.Errorf("procmaps: remote base for %s not found", module)
	}

	var localPath string
	for _, e := range localEntries {
		if e.Offset == 0 && strings.HasSuffix(e.Path, module) {
			localPath = e.Path
			break
		}
	}
	if localPath == "" {
		return 0, fmt.Errorf("procmaps: no local mapping path for %s", module)
	}

	off, err := symbolFileOffset(localPath, fn)
	if err != nil {
		return 0, fmt.Errorf("procmaps: resolve %s in %s: %w", fn, module, err)
	}

	return remoteBase + uintptr(off), nil
}

// symbolFileOffset returns the symbol's value relative to its ELF's own
// load base (i.e. vaddr of a PT_LOAD segment with offset 0), which equals
// the in-memory offset from the module's mapped base for any PIE/shared
// object loaded by the dynamic linker at that base.
func symbolFileOffset(path, name string) (uint64, error) {
	f, err := elf.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	syms, err := f.DynamicSymbols()
	if err != nil {
		return 0, err
	}
	for _, s := range syms {
		if s.Name == name && s.Value != 0 {
			return s.Value, nil
		}
	}
	return 0, fmt.Errorf("symbol %s not found", name)
}
