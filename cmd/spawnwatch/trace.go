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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/google/subcommands"
	"golang.org/x/sys/unix"

	"github.com/spawnwatch/spawnwatch/internal/config"
	"github.com/spawnwatch/spawnwatch/internal/injector"
	"github.com/spawnwatch/spawnwatch/internal/model"
	"github.com/spawnwatch/spawnwatch/internal/tracee"
	"github.com/spawnwatch/spawnwatch/internal/zlog"
)

// appProcessPaths mirrors internal/supervisor's per-architecture table: the
// two zygote binaries this tool knows how to identify by their
// /proc/<pid>/exe link, mapped to the ABIs of this build's family.
var appProcessPaths = func() map[string]model.Abi {
	if runtime.GOARCH == "amd64" || runtime.GOARCH == "386" {
		return map[string]model.Abi{
			"/system/bin/app_process64": model.AbiX86_64,
			"/system/bin/app_process32": model.AbiX86,
		}
	}
	return map[string]model.Abi{
		"/system/bin/app_process64": model.AbiArm64,
		"/system/bin/app_process32": model.AbiArm,
	}
}()

// traceCmd takes over a single spawner a monitor handoff already stopped
// (via SIGSTOP, left pending) and injects the agent library into it, then
// waits for it to exit.
type traceCmd struct {
	restart bool
}

func (*traceCmd) Name() string    { return "trace" }
func (*traceCmd) Synopsis() string { return "inject the agent into a stopped spawner and wait for it to exit" }
func (*traceCmd) Usage() string {
	return "trace <pid> [--restart] - seize a single already-stopped process and inject\n"
}

func (c *traceCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.restart, "restart", false, "this tracer took over from a prior monitor handoff rather than a fresh spawn")
}

func (c *traceCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	pid, err := strconv.Atoi(f.Arg(0))
	if err != nil {
		fmt.Println(err)
		return subcommands.ExitUsageError
	}

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Println(err)
		return subcommands.ExitFailure
	}
	if cfg.Debug {
		zlog.SetDebug(true)
	}

	exe, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		log.WithError(err).WithField("pid", pid).Error("failed to resolve tracee exe")
		return subcommands.ExitFailure
	}
	abi, ok := appProcessPaths[exe]
	if !ok {
		log.WithField("exe", exe).Error("not a recognized zygote binary")
		return subcommands.ExitFailure
	}

	t := tracee.New(pid)
	if err := t.Seize(); err != nil {
		log.WithError(err).WithField("pid", pid).Error("seize failed")
		return subcommands.ExitFailure
	}
	if err := t.Interrupt(); err != nil {
		log.WithError(err).WithField("pid", pid).Error("interrupt failed")
		return subcommands.ExitFailure
	}
	if _, err := t.Wait(); err != nil {
		log.WithError(err).WithField("pid", pid).Error("wait failed")
		return subcommands.ExitFailure
	}

	plan := model.InjectionPlan{
		Pid:       pid,
		Abi:       abi,
		LibPath:   cfg.AgentLibPath(abi.LibDir()),
		MagicPath: cfg.MagicPath,
	}
	if err := injector.Run(plan); err != nil {
		log.WithError(err).WithField("pid", pid).Error("injection failed")
		t.Detach(0)
		return subcommands.ExitFailure
	}

	for {
		ws, err := t.Wait()
		if err != nil {
			break
		}
		if ws.Exited() || ws.Signaled() {
			log.WithField("pid", pid).WithField("status", ws).Info("tracee exited")
			break
		}
		if ws.Stopped() {
			sig := ws.StopSignal()
			if sig == unix.SIGTRAP {
				t.Cont(0)
				continue
			}
			t.Cont(int(sig))
		}
	}
	return subcommands.ExitSuccess
}
