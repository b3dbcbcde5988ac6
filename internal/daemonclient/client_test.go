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

package daemonclient

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spawnwatch/spawnwatch/internal/config"
	"github.com/spawnwatch/spawnwatch/internal/daemon"
	"github.com/spawnwatch/spawnwatch/internal/model"
)

func testSocketName(t *testing.T) string {
	return fmt.Sprintf("spawnwatch_test_%d_%d", time.Now().UnixNano(), rand.Int())
}

func TestPingHeartbeatAgainstRealServer(t *testing.T) {
	name := testSocketName(t)
	cfg := &config.Config{Magic: name}
	srv := daemon.NewServer(model.AbiArm64, cfg, nil, daemon.ModuleSource{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)
	time.Sleep(50 * time.Millisecond)

	c := New(fmt.Sprintf("%s/%s", name, model.AbiArm64))
	require.NoError(t, c.PingHeartbeat(ctx))
}

func TestGetProcessFlagsAgainstRealServer(t *testing.T) {
	name := testSocketName(t)
	cfg := &config.Config{Magic: name}
	srv := daemon.NewServer(model.AbiArm64, cfg, func(uid uint32) model.ProcessFlags {
		if uid == 2000 {
			return model.ProcessOnDenylist
		}
		return 0
	}, daemon.ModuleSource{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)
	time.Sleep(50 * time.Millisecond)

	c := New(fmt.Sprintf("%s/%s", name, model.AbiArm64))
	flags, err := c.GetProcessFlags(ctx, 2000)
	require.NoError(t, err)
	require.Equal(t, model.ProcessOnDenylist, flags)
}
