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

package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCrashWindowTripsAtThreshold(t *testing.T) {
	w := NewCrashWindow()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }

	for i := 1; i < crashThreshold; i++ {
		streak, tripped := w.RecordCrash()
		require.Equal(t, i, streak)
		require.False(t, tripped)
		clock = clock.Add(time.Second) // well within the 30s window
	}

	streak, tripped := w.RecordCrash()
	require.Equal(t, crashThreshold, streak)
	require.True(t, tripped)
}

func TestCrashWindowResetsAfterGap(t *testing.T) {
	w := NewCrashWindow()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }

	w.RecordCrash()
	w.RecordCrash()
	require.Equal(t, 2, w.Streak())

	clock = clock.Add(crashWindowSeconds * time.Second).Add(time.Second)
	streak, tripped := w.RecordCrash()
	require.Equal(t, 1, streak)
	require.False(t, tripped)
}

func TestCrashWindowReset(t *testing.T) {
	w := NewCrashWindow()
	w.RecordCrash()
	w.RecordCrash()
	w.Reset()
	require.Equal(t, 0, w.Streak())
}
