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

	"github.com/google/subcommands"

	"github.com/spawnwatch/spawnwatch/internal/config"
	"github.com/spawnwatch/spawnwatch/internal/statusfile"
	"github.com/spawnwatch/spawnwatch/internal/supervisor"
	"github.com/spawnwatch/spawnwatch/internal/zlog"
)

var log = zlog.For("cli")

// monitorCmd seizes init (pid 1) and runs the supervisor's epoll loop
// until it reaches the EXITING state.
type monitorCmd struct {
	canonical string
}

func (*monitorCmd) Name() string    { return "monitor" }
func (*monitorCmd) Synopsis() string { return "seize init and watch for zygote spawns" }
func (*monitorCmd) Usage() string {
	return "monitor [-status-path PATH] - seize init and run the supervision loop\n"
}

func (c *monitorCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.canonical, "status-path", "", "canonical module.prop path to bind-mount the rendered status file over")
}

func (c *monitorCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Println(err)
		return subcommands.ExitFailure
	}
	if cfg.Debug {
		zlog.SetDebug(true)
	}

	statusPath := c.canonical
	if statusPath == "" {
		statusPath = cfg.StatusFilePath()
	}
	status, err := statusfile.New(cfg.StatusFilePath(), statusPath)
	if err != nil {
		log.WithError(err).Error("failed to load status file")
		return subcommands.ExitFailure
	}

	sup := supervisor.New(cfg, status)
	if err := sup.Run(); err != nil {
		log.WithError(err).Error("supervisor exited with error")
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
