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

package daemon

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"

	"github.com/spawnwatch/spawnwatch/internal/model"
	"github.com/spawnwatch/spawnwatch/internal/wire"
)

// ModuleSource enumerates the modules a daemon should hand out to
// spawned children via ReadModules/GetModuleDir/RequestCompanionSocket.
// It is backed by afero.Fs so tests can populate a fake module tree
// without touching the real disk (ground: spf13/afero is a direct
// dependency of nestybox-sysbox-fs, the pack's other process-supervision
// repo).
type ModuleSource struct {
	Fs   afero.Fs
	Root string
}

// List returns the modules found directly under Root, sorted by ID so
// ReadModules' ordering is deterministic (the in-process agent invokes
// pre/post hooks in this same order, per the module-ordering invariant).
func (m ModuleSource) List() ([]model.Module, error) {
	entries, err := afero.ReadDir(m.Fs, m.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var mods []model.Module
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		mods = append(mods, model.Module{ID: e.Name(), Dir: filepath.Join(m.Root, e.Name())})
	}
	sort.Slice(mods, func(i, j int) bool { return mods[i].ID < mods[j].ID })
	return mods, nil
}

// soPath returns the path of a module's ABI-appropriate shared object.
func (m ModuleSource) soPath(mod model.Module, abi model.Abi) string {
	return filepath.Join(mod.Dir, abi.LibDir(), "module.so")
}

func (s *Server) handleReadModules(conn *net.UnixConn) {
	mods, err := s.Modules.List()
	if err != nil {
		log.WithError(err).Warn("ReadModules: list failed")
		wire.WriteUint32(conn, 0)
		return
	}

	var usable []model.Module
	for _, m := range mods {
		if exists, _ := afero.Exists(s.Modules.Fs, s.Modules.soPath(m, s.Abi)); exists {
			usable = append(usable, m)
		}
	}

	if err := wire.WriteUint32(conn, uint32(len(usable))); err != nil {
		return
	}
	for _, m := range usable {
		if err := wire.WriteString(conn, m.ID); err != nil {
			log.WithError(err).Warn("ReadModules: write name failed")
			return
		}
		fd, err := memfdModule(s.Modules, m, s.Abi)
		if err != nil {
			log.WithError(err).WithField("module", m.ID).Warn("ReadModules: memfd failed")
			continue
		}
		if err := wire.SendFD(conn, fd); err != nil {
			log.WithError(err).Warn("ReadModules: send fd failed")
		}
		unix.Close(fd)
	}
}

// memfdModule copies a module's .so into an anonymous (unsealed) memfd so
// the receiving process can dlopen it without a path on disk (the module
// directory itself may live on a filesystem the spawner's mount
// namespace cannot see).
func memfdModule(src ModuleSource, mod model.Module, abi model.Abi) (int, error) {
	f, err := src.Fs.Open(src.soPath(mod, abi))
	if err != nil {
		return -1, err
	}
	defer f.Close()

	fd, err := unix.MemfdCreate(mod.ID+".so", 0)
	if err != nil {
		return -1, fmt.Errorf("memfd_create: %w", err)
	}
	// w owns a duplicate so that closing it leaves the returned fd open.
	wfd, err := unix.Dup(fd)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}
	w := os.NewFile(uintptr(wfd), mod.ID+".so")
	defer w.Close()
	if _, err := io.Copy(w, f); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if _, err := unix.Seek(fd, 0, io.SeekStart); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func (s *Server) handleGetModuleDir(bc *wire.BufferedConn, conn *net.UnixConn) {
	idx, err := wire.ReadUint32(bc.R)
	if err != nil {
		return
	}
	mods, err := s.Modules.List()
	if err != nil || int(idx) >= len(mods) {
		return
	}
	dirFd, err := unix.Open(mods[idx].Dir, unix.O_DIRECTORY|unix.O_RDONLY, 0)
	if err != nil {
		log.WithError(err).WithField("module", mods[idx].ID).Warn("GetModuleDir: open failed")
		return
	}
	defer unix.Close(dirFd)
	if err := wire.SendFD(conn, dirFd); err != nil {
		log.WithError(err).Warn("GetModuleDir: send fd failed")
	}
}

// CompanionHandler is invoked when a module accepts a RequestCompanionSocket
// request; it owns the raw duplex connection for as long as it needs it.
type CompanionHandler func(moduleID string, conn *net.UnixConn)

// handleRequestCompanionSocket looks up whether module idx registered a
// companion handler; if so, it replies success and detaches the
// connection to that handler, which now owns the raw duplex socket.
func (s *Server) handleRequestCompanionSocket(bc *wire.BufferedConn, conn *net.UnixConn) {
	idx, err := wire.ReadUint32(bc.R)
	if err != nil {
		conn.Close()
		return
	}
	mods, err := s.Modules.List()
	if err != nil || int(idx) >= len(mods) {
		wire.WriteBool(conn, false)
		conn.Close()
		return
	}
	handler, ok := s.companionHandlers()[mods[idx].ID]
	if !ok {
		wire.WriteBool(conn, false)
		conn.Close()
		return
	}
	if err := wire.WriteBool(conn, true); err != nil {
		conn.Close()
		return
	}
	// The connection now belongs to the companion handler, which runs
	// synchronously here and owns cleanup itself.
	handler(mods[idx].ID, conn)
}

func (s *Server) companionHandlers() map[string]CompanionHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.companions == nil {
		return map[string]CompanionHandler{}
	}
	return s.companions
}

// RegisterCompanion installs a companion-socket handler for one module.
func (s *Server) RegisterCompanion(moduleID string, h CompanionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.companions == nil {
		s.companions = map[string]CompanionHandler{}
	}
	s.companions[moduleID] = h
}
