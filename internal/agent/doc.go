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

// Package agent is loaded in-process, inside the traced spawner, by
// internal/injector's remote dlopen chain. It hooks the spawner's
// fork/unshare/strdup/__android_log_close PLT entries, resolves the JNI
// and ArtMethod layout for the zygote's native fork/specialize methods
// (without replacing those natives), loads third-party modules fetched
// from the per-ABI daemon around each spawn,
// sanitizes file descriptors across the fork, and unloads itself once the
// last module's post-specialize hook has run.
//
// Ground: original_source/loader/src/injector/{entry,hook,unmount}.cpp.
// This is the one package in the module where cgo/unsafe cross the
// C-ABI boundary (JNI, dlopen/dlsym, raw GOT patches); every other
// package is pure Go. See SPEC_FULL.md §4.6 and DESIGN.md for why no
// Go-ecosystem substitute exists for this boundary.
package agent
