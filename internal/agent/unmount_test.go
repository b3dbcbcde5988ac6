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
	"testing"

	"github.com/spawnwatch/spawnwatch/internal/model"
)

func TestScanMounts(t *testing.T) {
	entries, err := scanMounts()
	if err != nil {
		t.Fatalf("scanMounts: %v", err)
	}
	// Every real /proc/self/mounts has at least a rootfs entry; this
	// mostly guards against scanMounts silently returning zero rows due
	// to a field-splitting regression.
	if len(entries) == 0 {
		t.Error("expected at least one mount entry from /proc/self/mounts")
	}
	for _, e := range entries {
		if e.dir == "" {
			t.Errorf("mount entry with empty dir: %+v", e)
		}
	}
}

func TestRevertUnmountDoesNotPanicWithoutTargets(t *testing.T) {
	// With no /data/adb mounts present in the test environment this should
	// be a no-op: no targets collected, nothing unmounted.
	revertUnmount(0)
}

func TestRevertUnmountSkipsWhenRootFlavorUnknown(t *testing.T) {
	// Neither ProcessRootIsKsu nor ProcessRootIsMagisk set means the
	// daemon couldn't confirm this host's root solution; revertUnmount
	// must not guess and must not even touch /proc/self/mounts.
	revertUnmount(model.ProcessOnDenylist)
}

func TestRevertUnmountExercisesKsuAndMagiskBranches(t *testing.T) {
	// Both branches must run without panicking even though the test
	// environment has no /data/adb/ksu/modules or /data/adb/modules
	// mount to actually remove.
	revertUnmount(model.ProcessRootIsKsu)
	revertUnmount(model.ProcessRootIsMagisk)
}
