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
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/spawnwatch/spawnwatch/internal/model"
)

func TestModuleSourceListIsSortedAndSkipsFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/modules/zeta", 0755))
	require.NoError(t, fs.MkdirAll("/modules/alpha", 0755))
	require.NoError(t, afero.WriteFile(fs, "/modules/not-a-dir.txt", []byte("x"), 0644))

	src := ModuleSource{Fs: fs, Root: "/modules"}
	mods, err := src.List()
	require.NoError(t, err)
	require.Len(t, mods, 2)
	require.Equal(t, "alpha", mods[0].ID)
	require.Equal(t, "zeta", mods[1].ID)
}

func TestModuleSourceListEmptyRootIsNotError(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := ModuleSource{Fs: fs, Root: "/does-not-exist"}
	mods, err := src.List()
	require.NoError(t, err)
	require.Empty(t, mods)
}

func TestSoPathUsesAbiLibDir(t *testing.T) {
	src := ModuleSource{Root: "/modules"}
	mod := model.Module{ID: "busybox", Dir: "/modules/busybox"}
	require.Equal(t, "/modules/busybox/lib64/module.so", src.soPath(mod, model.AbiArm64))
	require.Equal(t, "/modules/busybox/lib/module.so", src.soPath(mod, model.AbiArm))
}
