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

// Command spawnwatch is the root-side supervisor and tracer: `monitor`
// seizes init and runs the epoll event loop, `trace` takes over a single
// already-stopped spawner handed off by a previous supervisor invocation,
// and `ctl` signals a running supervisor over its control socket.
//
// Ground: runsc/cli/main.go's subcommands.Register/Execute skeleton.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/spawnwatch/spawnwatch/internal/version"
	"github.com/spawnwatch/spawnwatch/internal/zlog"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")

	subcommands.Register(&monitorCmd{}, "")
	subcommands.Register(&traceCmd{}, "")
	subcommands.Register(&ctlCmd{}, "")
	subcommands.Register(&versionCmd{}, "")

	debug := flag.Bool("debug", false, "enable verbose logging")
	flag.Parse()
	zlog.SetDebug(*debug)

	os.Exit(int(subcommands.Execute(context.Background())))
}

type versionCmd struct{}

func (*versionCmd) Name() string             { return "version" }
func (*versionCmd) Synopsis() string          { return "print version information" }
func (*versionCmd) Usage() string             { return "version\n" }
func (*versionCmd) SetFlags(*flag.FlagSet)    {}
func (*versionCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	fmt.Println(version.String())
	return subcommands.ExitSuccess
}
