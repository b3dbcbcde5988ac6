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

package statusfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spawnwatch/spawnwatch/internal/model"
)

func TestRenderIncludesStateAndOriginalSuffix(t *testing.T) {
	line := Render(model.StatusRecord{State: model.StateTracing}, "spawnwatch module")
	require.Contains(t, line, "[TRACING]")
	require.True(t, len(line) > len("description=[TRACING] "))
	require.Contains(t, line, "spawnwatch module")
}

func TestNewPreservesOriginalDescription(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "module.prop")
	require.NoError(t, os.WriteFile(path, []byte("id=spawnwatch\ndescription=hello world\nversion=1\n"), 0644))

	w, err := New(path, "")
	require.NoError(t, err)
	require.Equal(t, "hello world", w.originalDescription)
}

func TestPublishRewritesWorkingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "module.prop")
	require.NoError(t, os.WriteFile(path, []byte("description=orig\n"), 0644))

	w, err := New(path, "")
	require.NoError(t, err)
	require.NoError(t, w.Publish(model.StatusRecord{State: model.StateStopped}))

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(contents), "[STOPPED]")
	require.Contains(t, string(contents), "orig")
}
