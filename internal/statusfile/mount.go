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
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// BindMountOverCanonical bind-mounts src over dst inside pid 1's mount
// namespace, then restores the caller's original namespace. This must
// run on a locked OS thread since setns changes the calling *thread*'s
// namespace, not the whole process's.
//
// Ground: original_source/loader/src/ptracer/utils.cpp's switch_mnt_ns,
// which opens /proc/<pid>/ns/mnt, stashes the caller's own
// /proc/self/ns/mnt fd, setns()s into the target, and setns()s back
// using the stashed fd.
func BindMountOverCanonical(src, dst string) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	selfNs, err := unix.Open("/proc/self/ns/mnt", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("statusfile: open self mnt ns: %w", err)
	}
	defer unix.Close(selfNs)

	targetNs, err := unix.Open("/proc/1/ns/mnt", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("statusfile: open init mnt ns: %w", err)
	}
	defer unix.Close(targetNs)

	if err := unix.Setns(targetNs, unix.CLONE_NEWNS); err != nil {
		return fmt.Errorf("statusfile: setns into init: %w", err)
	}

	mountErr := unix.Mount(src, dst, "", unix.MS_BIND, "")

	if err := unix.Setns(selfNs, unix.CLONE_NEWNS); err != nil {
		// We are now stuck in init's mount namespace; this is fatal to
		// the calling goroutine's thread, so surface it loudly.
		return fmt.Errorf("statusfile: setns back to caller failed after bind mount (mountErr=%v): %w", mountErr, err)
	}

	if mountErr != nil {
		return fmt.Errorf("statusfile: bind mount %s over %s: %w", src, dst, mountErr)
	}
	return nil
}
