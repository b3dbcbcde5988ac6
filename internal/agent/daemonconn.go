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
	"context"
	"fmt"

	"github.com/spawnwatch/spawnwatch/internal/daemonclient"
)

// daemonClient builds a fresh Client bound to this ABI's daemon socket.
// Every call dials anew (per internal/daemonclient's design), so there is
// no persistent connection to leak across a fork.
func daemonClient() *daemonclient.Client {
	if magicCfg == nil || magicCfg.Magic == "" {
		return nil
	}
	name := fmt.Sprintf("%s/%s", magicCfg.DaemonSocketName(), selfAbi())
	return daemonclient.New(name)
}

func bgCtx() context.Context { return context.Background() }
