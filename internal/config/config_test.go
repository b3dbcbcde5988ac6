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

package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromEnvRequiresBoth(t *testing.T) {
	t.Setenv(EnvMagicPath, "")
	t.Setenv(EnvMagic, "")
	_, err := FromEnv()
	require.Error(t, err)

	t.Setenv(EnvMagicPath, "/data/adb/spawnwatch")
	_, err = FromEnv()
	require.Error(t, err)

	t.Setenv(EnvMagic, "deadbeef")
	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, "/data/adb/spawnwatch", cfg.MagicPath)
	require.Equal(t, "deadbeef", cfg.Magic)
}

func TestSocketNamesAreDistinct(t *testing.T) {
	cfg := &Config{MagicPath: "/x", Magic: "abc"}
	require.Equal(t, "init_monitorabc", cfg.ControlSocketName())
	require.Equal(t, "abc", cfg.DaemonSocketName())
	require.Equal(t, "abc_log", cfg.LogcatSocketName())
	require.NotEqual(t, cfg.ControlSocketName(), cfg.DaemonSocketName())
}
