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

// Package zlog centralizes logrus setup so every component logs through a
// named sub-logger instead of reaching for the stdlib log package directly.
package zlog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// base is the process-wide logger. Components never construct their own
// logrus.Logger; they call For to get a tagged entry from this one.
var base = logrus.New()

func init() {
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	base.SetOutput(os.Stderr)
	base.SetLevel(logrus.InfoLevel)
}

// SetDebug toggles debug-level logging across the whole process, mirroring
// the -debug flag the CLI exposes.
func SetDebug(debug bool) {
	if debug {
		base.SetLevel(logrus.DebugLevel)
		return
	}
	base.SetLevel(logrus.InfoLevel)
}

// SetOutput redirects log output, used by the CLI's -log-fd handling to
// send logs down an inherited file descriptor instead of stderr.
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}

// For returns a logger tagged with the given component name, the way
// nsenter and sysbox-fs tag every sub-logger with "component"/"module".
func For(component string) *logrus.Entry {
	return base.WithField("component", component)
}
