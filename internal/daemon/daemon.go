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

// Package daemon implements the per-ABI helper process: it listens on an
// abstract AF_UNIX SOCK_STREAM socket and serves the seven opcodes
// spawned children (via the in-process agent) and the supervisor use to
// request heartbeats, logcat fds, process flags, module payloads,
// companion sockets, module directories, and zygote-restart broadcasts.
//
// Ground: nestybox-sysbox-fs's listener/goroutine-per-connection server
// shape, generalized from FUSE requests to this wire protocol; opcode
// semantics from original_source's daemon.h / zygiskd client.
package daemon

import (
	"context"
	"fmt"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/spawnwatch/spawnwatch/internal/config"
	"github.com/spawnwatch/spawnwatch/internal/model"
	"github.com/spawnwatch/spawnwatch/internal/wire"
	"github.com/spawnwatch/spawnwatch/internal/zlog"
)

var log = zlog.For("daemon")

// ProcessFlagsLookup answers GetProcessFlags requests; the caller
// supplies the actual policy (denylist, manager-app detection).
type ProcessFlagsLookup func(uid uint32) model.ProcessFlags

// Server is one per-ABI daemon instance.
type Server struct {
	Abi    model.Abi
	Cfg    *config.Config
	Flags  ProcessFlagsLookup
	Modules ModuleSource
	Logcat *LogcatRelay

	mu         sync.Mutex
	restarted  int
	companions map[string]CompanionHandler
}

// NewServer constructs a daemon bound to one ABI's socket namespace.
func NewServer(abi model.Abi, cfg *config.Config, flags ProcessFlagsLookup, modules ModuleSource) *Server {
	return &Server{
		Abi:     abi,
		Cfg:     cfg,
		Flags:   flags,
		Modules: modules,
		Logcat:  NewLogcatRelay(),
	}
}

// socketName returns this daemon's abstract-namespace socket name,
// binding in the ABI the way "zygisk-cp<magic>/<bits>.sock" does.
func (s *Server) socketName() string {
	return fmt.Sprintf("%s/%s", s.Cfg.DaemonSocketName(), s.Abi)
}

// Serve accepts connections until ctx is cancelled, handling each one in
// its own goroutine bounded by an errgroup so a clean shutdown via ctx
// cancellation drains every in-flight handler before Serve returns.
func (s *Server) Serve(ctx context.Context) error {
	addr := &net.UnixAddr{Name: "@" + s.socketName(), Net: "unix"}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return fmt.Errorf("daemon: listen %s: %w", addr.Name, err)
	}
	defer ln.Close()
	log.WithField("abi", s.Abi).WithField("socket", addr.Name).Info("daemon listening")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})

	for {
		conn, err := ln.AcceptUnix()
		if err != nil {
			select {
			case <-ctx.Done():
				return g.Wait()
			default:
				return fmt.Errorf("daemon: accept: %w", err)
			}
		}
		g.Go(func() error {
			s.handle(conn)
			return nil
		})
	}
}

func (s *Server) handle(conn *net.UnixConn) {
	bc := wire.NewBufferedConn(conn)

	op, err := wire.ReadOpcode(bc.R)
	if err != nil {
		log.WithError(err).Debug("read opcode failed")
		conn.Close()
		return
	}

	switch op {
	case model.OpPingHeartbeat:
		// No payload, no response: the client just wants the connect
		// itself to succeed.
		conn.Close()
	case model.OpRequestLogcatFd:
		if !s.handleRequestLogcatFd(conn) {
			conn.Close()
		}
	case model.OpGetProcessFlags:
		s.handleGetProcessFlags(bc, conn)
		conn.Close()
	case model.OpReadModules:
		s.handleReadModules(conn)
		conn.Close()
	case model.OpRequestCompanionSocket:
		// On success this hands ownership of conn to the registered
		// companion handler, which is responsible for closing it.
		s.handleRequestCompanionSocket(bc, conn)
	case model.OpGetModuleDir:
		s.handleGetModuleDir(bc, conn)
		conn.Close()
	case model.OpZygoteRestart:
		s.handleZygoteRestart()
		conn.Close()
	default:
		log.WithField("opcode", op).Warn("unknown opcode")
		conn.Close()
	}
}

func (s *Server) handleGetProcessFlags(bc *wire.BufferedConn, conn *net.UnixConn) {
	uid, err := wire.ReadUint32(bc.R)
	if err != nil {
		log.WithError(err).Debug("GetProcessFlags: bad request")
		return
	}
	flags := model.ProcessFlags(0)
	if s.Flags != nil {
		flags = s.Flags(uid)
	}
	if err := wire.WriteUint32(conn, uint32(flags)); err != nil {
		log.WithError(err).Debug("GetProcessFlags: write response")
	}
}

func (s *Server) handleZygoteRestart() {
	s.mu.Lock()
	s.restarted++
	s.mu.Unlock()
	log.WithField("abi", s.Abi).Info("zygote restart broadcast received")
}

// RestartCount reports how many ZygoteRestart broadcasts this daemon has
// observed, used in tests and by the status file's daemon summary.
func (s *Server) RestartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarted
}
