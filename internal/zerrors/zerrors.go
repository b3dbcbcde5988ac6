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

// Package zerrors defines the error taxonomy shared by every spawnwatch
// component, so callers can branch on failure class with errors.Is/As
// instead of matching strings.
package zerrors

import "fmt"

// Kind classifies a failure into one of the categories the supervisor,
// injector, and daemon client all need to react to differently.
type Kind int

const (
	// KindTraceeGone means the traced process exited or was reaped before
	// an operation on it could complete.
	KindTraceeGone Kind = iota
	// KindRemoteCallFailed means a remote_call into the tracee returned an
	// error status or the tracee crashed mid-call.
	KindRemoteCallFailed
	// KindSymbolMissing means a required symbol (e.g. dlopen, dlsym)
	// could not be resolved in the tracee's loaded modules.
	KindSymbolMissing
	// KindDaemonUnavailable means the per-ABI daemon socket could not be
	// reached after the policy's retry budget was exhausted.
	KindDaemonUnavailable
	// KindProtocolMismatch means a peer sent a wire message that does not
	// match the expected opcode or framing.
	KindProtocolMismatch
	// KindUnsupportedModule means a module .so could not be loaded for the
	// tracee's ABI or API level.
	KindUnsupportedModule
	// KindPolicyStop means tracing was intentionally halted by policy
	// (crash-counter threshold, explicit ctl stop).
	KindPolicyStop
)

func (k Kind) String() string {
	switch k {
	case KindTraceeGone:
		return "tracee_gone"
	case KindRemoteCallFailed:
		return "remote_call_failed"
	case KindSymbolMissing:
		return "symbol_missing"
	case KindDaemonUnavailable:
		return "daemon_unavailable"
	case KindProtocolMismatch:
		return "protocol_mismatch"
	case KindUnsupportedModule:
		return "unsupported_module"
	case KindPolicyStop:
		return "policy_stop"
	default:
		return "unknown"
	}
}

// Error is a taxonomy-tagged error. Components construct one with New and
// callers test it with errors.Is against a Kind sentinel via Is, or
// extract it with errors.As.
type Error struct {
	Kind Kind
	Op   string
	Pid  int
	Err  error
}

func New(kind Kind, op string, pid int, err error) *Error {
	return &Error{Kind: kind, Op: op, Pid: pid, Err: err}
}

func (e *Error) Error() string {
	if e.Pid != 0 {
		return fmt.Sprintf("%s: pid %d: %s: %v", e.Op, e.Pid, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, zerrors.Kind(KindTraceeGone)) work by comparing
// against a bare Kind value wrapped as a target.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel returns a zero-detail *Error of the given kind, suitable as an
// errors.Is target: errors.Is(err, zerrors.Sentinel(zerrors.KindTraceeGone)).
func Sentinel(kind Kind) *Error {
	return &Error{Kind: kind}
}
