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

package zerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesKindOnly(t *testing.T) {
	err := New(KindTraceeGone, "wait", 1234, errors.New("no such process"))

	require.True(t, errors.Is(err, Sentinel(KindTraceeGone)))
	require.False(t, errors.Is(err, Sentinel(KindRemoteCallFailed)))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("ESRCH")
	err := New(KindTraceeGone, "ptrace", 42, cause)

	require.ErrorIs(t, err, cause)
}

func TestErrorString(t *testing.T) {
	err := New(KindSymbolMissing, "resolve", 7, errors.New("dlopen"))
	require.Contains(t, err.Error(), "resolve")
	require.Contains(t, err.Error(), "pid 7")
	require.Contains(t, err.Error(), "symbol_missing")
}
