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
	"github.com/spawnwatch/spawnwatch/internal/ctl"
)

// ctlCmd sends one control opcode to a running monitor's control socket.
type ctlCmd struct{}

func (*ctlCmd) Name() string    { return "ctl" }
func (*ctlCmd) Synopsis() string { return "signal a running monitor (start|stop|exit)" }
func (*ctlCmd) Usage() string {
	return "ctl <start|stop|exit> - signal a running monitor over its control socket\n"
}

func (*ctlCmd) SetFlags(*flag.FlagSet) {}

func (*ctlCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Println(err)
		return subcommands.ExitFailure
	}

	var action func(*config.Config) error
	switch f.Arg(0) {
	case "start":
		action = ctl.Start
	case "stop":
		action = ctl.Stop
	case "exit":
		action = ctl.Exit
	default:
		f.Usage()
		return subcommands.ExitUsageError
	}

	if err := action(cfg); err != nil {
		fmt.Println(err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
