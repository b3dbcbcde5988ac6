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

// Command spawnwatchd is the per-ABI helper daemon: one instance per
// bitness, named spawnwatchd32/spawnwatchd64 on disk, serving the wire
// protocol spawned children's agents speak over the abstract daemon
// socket.
//
// Ground: nestybox-sysbox-fs's single-purpose daemon binary shape;
// the ABI is read from the binary's own invocation name rather than a
// flag, matching how Android's app_process32/app_process64 split works.
package main

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"github.com/syndtr/gocapability/capability"
	"golang.org/x/sys/unix"

	"github.com/spawnwatch/spawnwatch/internal/config"
	"github.com/spawnwatch/spawnwatch/internal/daemon"
	"github.com/spawnwatch/spawnwatch/internal/model"
	"github.com/spawnwatch/spawnwatch/internal/zlog"
)

var log = zlog.For("spawnwatchd")

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.WithError(err).Fatal("config")
	}
	zlog.SetDebug(cfg.Debug)

	abi, err := abiFromArgv0(os.Args[0])
	if err != nil {
		log.WithError(err).Fatal("could not determine abi")
	}

	modules := daemon.ModuleSource{Fs: afero.NewOsFs(), Root: cfg.ModulesRoot()}
	flags := newPolicy(cfg)

	srv := daemon.NewServer(abi, cfg, flags.lookup, modules)

	ctx, cancel := signal.NotifyContext(context.Background(), unix.SIGTERM, unix.SIGINT)
	defer cancel()

	log.WithField("abi", abi).Info("spawnwatchd starting")
	if err := srv.Serve(ctx); err != nil {
		log.WithError(err).Error("daemon exited with error")
		os.Exit(1)
	}
}

// abiFromArgv0 picks the ABI this invocation serves from its own program
// name, e.g. "spawnwatchd64" -> AbiArm64 or AbiX86_64 depending on the
// build's GOARCH, "spawnwatchd32" -> the matching 32-bit ABI.
func abiFromArgv0(argv0 string) (model.Abi, error) {
	name := filepath.Base(argv0)
	is64 := strings.HasSuffix(name, "64")
	if !is64 && !strings.HasSuffix(name, "32") {
		return 0, errBadArgv0(name)
	}
	if isX86Build {
		if is64 {
			return model.AbiX86_64, nil
		}
		return model.AbiX86, nil
	}
	if is64 {
		return model.AbiArm64, nil
	}
	return model.AbiArm, nil
}

type errBadArgv0 string

func (e errBadArgv0) Error() string {
	return "spawnwatchd: program name " + strconv.Quote(string(e)) + " does not end in 32 or 64"
}

// policy answers GetProcessFlags from two small on-disk files the module
// manager app maintains (a manager UID and a newline-delimited denylist of
// UIDs to hide root/modules from) plus this host's own root solution,
// detected once at startup so every answer carries the right
// ProcessRootIsKsu/ProcessRootIsMagisk bit regardless of which uid asks.
type policy struct {
	managerUID int
	denylist   map[int]bool
	rootFlags  model.ProcessFlags
}

func newPolicy(cfg *config.Config) *policy {
	p := &policy{managerUID: -1, denylist: map[int]bool{}}

	if b, err := os.ReadFile(filepath.Join(cfg.MagicPath, "manager_uid")); err == nil {
		if uid, err := strconv.Atoi(strings.TrimSpace(string(b))); err == nil {
			p.managerUID = uid
		}
	}

	f, err := os.Open(filepath.Join(cfg.MagicPath, "denylist"))
	if err == nil {
		defer f.Close()
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			if uid, err := strconv.Atoi(line); err == nil {
				p.denylist[uid] = true
			}
		}
	}

	p.rootFlags = detectRootFlavor()
	return p
}

// detectRootFlavor tells KernelSU-rooted devices from Magisk-rooted ones by
// the module-mount marker directory each leaves under /data/adb (ground:
// unmount.cpp's hardcoded "/data/adb/ksu/modules" target, which only makes
// sense on the KSU side of that split), but only trusts either marker once
// gocapability confirms this daemon actually holds a root-equivalent
// capability set — a rootless build (e.g. running in a test harness without
// a real root grant) reports neither flavor so revert_unmount is skipped
// rather than acting on mounts it has no privilege to remove.
func detectRootFlavor() model.ProcessFlags {
	caps, err := capability.NewPid2(0)
	if err != nil {
		log.WithError(err).Debug("detect_root_flavor: capability.NewPid2 failed")
		return 0
	}
	if err := caps.Load(); err != nil {
		log.WithError(err).Debug("detect_root_flavor: capability load failed")
		return 0
	}
	if !caps.Get(capability.EFFECTIVE, capability.CAP_SYS_ADMIN) {
		log.Debug("detect_root_flavor: CAP_SYS_ADMIN not held, treating as rootless")
		return 0
	}

	if _, err := os.Stat("/data/adb/ksu"); err == nil {
		return model.ProcessRootIsKsu
	}
	if _, err := os.Stat("/data/adb/magisk"); err == nil {
		return model.ProcessRootIsMagisk
	}
	return 0
}

func (p *policy) lookup(uid uint32) model.ProcessFlags {
	flags := p.rootFlags
	if int(uid) == p.managerUID {
		flags |= model.ProcessIsManager
	}
	if p.denylist[int(uid)] {
		flags |= model.ProcessOnDenylist
	}
	return flags
}
