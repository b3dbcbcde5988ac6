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
	"golang.org/x/sys/unix"
)

// redirectLogcat asks the daemon for a writable end of its logcat reader
// pipe and dup2's it over logFd, the same fd-handoff dance
// __android_log_close's hook uses to detect the log pipe being recycled
// (ground: spec.md's logcat passthrough requirement plus
// daemonclient.Client.RequestLogcatFd).
func redirectLogcat() {
	cli := daemonClient()
	if cli == nil {
		return
	}
	conn, err := cli.RequestLogcatFd(bgCtx())
	if err != nil {
		agentLog.WithError(err).Debug("logcat redirect unavailable")
		return
	}
	defer conn.Close()

	raw, err := conn.SyscallConn()
	if err != nil {
		return
	}
	var dupErr error
	err = raw.Control(func(fd uintptr) {
		if logFd >= 0 {
			dupErr = unix.Dup2(int(fd), logFd)
		}
	})
	if err != nil || dupErr != nil {
		agentLog.WithError(err).Debug("logcat fd dup2 failed")
	}
}
