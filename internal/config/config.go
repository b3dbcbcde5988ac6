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

// Package config resolves the environment variables and CLI flags the
// supervisor, injector, and daemon share into one typed Config, the way
// runsc/config centralizes flag/env resolution.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Env var names spawned children and the ctl CLI look for.
const (
	EnvMagicPath = "MAGIC_PATH"
	EnvMagic     = "MAGIC"
)

// Config is the resolved set of filesystem/socket locations every
// component derives the rest of its paths from.
type Config struct {
	// MagicPath is the root directory spawnwatch is installed under
	// (e.g. /data/adb/spawnwatch). Libraries, module storage, and the
	// status file all live under it.
	MagicPath string
	// Magic is the random token used to namespace the abstract control
	// and daemon sockets so unrelated processes can't connect to them.
	Magic string
	// Debug turns on verbose logging across every component.
	Debug bool
}

// FromEnv resolves a Config from the process environment, failing if
// either required variable is unset or empty.
func FromEnv() (*Config, error) {
	magicPath := os.Getenv(EnvMagicPath)
	if magicPath == "" {
		return nil, fmt.Errorf("config: %s not set", EnvMagicPath)
	}
	magic := os.Getenv(EnvMagic)
	if magic == "" {
		return nil, fmt.Errorf("config: %s not set", EnvMagic)
	}
	return &Config{MagicPath: magicPath, Magic: magic}, nil
}

// ControlSocketName is the abstract-namespace name (no leading '@'; callers
// add it) of the supervisor's control socket.
func (c *Config) ControlSocketName() string {
	return "init_monitor" + c.Magic
}

// DaemonSocketName is the abstract-namespace name of the per-ABI daemon
// socket that serves spawned children's requests.
func (c *Config) DaemonSocketName() string {
	return c.Magic
}

// LogcatSocketName is the abstract-namespace name of the daemon's logcat
// relay socket.
func (c *Config) LogcatSocketName() string {
	return c.Magic + "_log"
}

// ModuleDir returns the on-disk directory a module with the given ID
// stores its files under.
func (c *Config) ModuleDir(moduleID string) string {
	return filepath.Join(c.MagicPath, "modules", moduleID)
}

// ModulesRoot is the directory under which every module's storage lives.
func (c *Config) ModulesRoot() string {
	return filepath.Join(c.MagicPath, "modules")
}

// AgentLibPath returns the path to the in-process agent library for the
// given per-ABI library directory ("lib" or "lib64").
func (c *Config) AgentLibPath(libDir string) string {
	return filepath.Join(c.MagicPath, libDir, "libspawnagent.so")
}

// StatusFilePath is the module.prop under MagicPath that the supervisor
// rewrites with its rendered status (the working copy that monitor
// bind-mounts over a separate canonical path when one is given).
func (c *Config) StatusFilePath() string {
	return filepath.Join(c.MagicPath, "module.prop")
}
