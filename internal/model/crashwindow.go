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
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// crashThreshold is the number of crashes within the inter-arrival window
// that trips a per-ABI policy stop.
const crashThreshold = 5

// crashWindowSeconds bounds how far apart two crashes can be and still
// count toward the same streak; a crash further out than this resets the
// counter instead of accumulating.
const crashWindowSeconds = 30

// CrashWindow tracks consecutive spawner crashes for one ABI and reports
// when the streak should trip a policy stop. It is built on
// golang.org/x/time/rate instead of a hand-rolled timestamp slice: each
// crash leaves a one-token limiter, refilled at 1 token /
// crashWindowSeconds, empty, so a crash arriving inside the window after
// the previous one finds the bucket still empty and increments the streak,
// while one arriving after a longer gap finds it refilled and the streak
// resets.
type CrashWindow struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	streak  int
	now     func() time.Time // overridable for tests
}

// NewCrashWindow constructs a CrashWindow for one ABI.
func NewCrashWindow() *CrashWindow {
	return &CrashWindow{
		limiter: rate.NewLimiter(rate.Every(crashWindowSeconds*time.Second), 1),
		now:     time.Now,
	}
}

// RecordCrash registers a crash and returns the new streak length and
// whether it has reached the policy-stop threshold. The limiter starts
// with a full bucket, so the very first crash always counts toward the
// streak. Every crash leaves the bucket empty as of its own arrival, so
// AllowN(now, 1) only succeeds again once crashWindowSeconds have elapsed
// since the previous crash: a crash inside that window extends the
// streak, while one arriving after a longer gap starts a fresh streak.
func (w *CrashWindow) RecordCrash() (streak int, tripped bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if w.limiter.AllowN(now, 1) {
		w.streak = 0
	} else {
		// Restart the window at this crash: a fresh limiter whose one
		// token is consumed now refills crashWindowSeconds from now.
		w.limiter = rate.NewLimiter(rate.Every(crashWindowSeconds*time.Second), 1)
		w.limiter.AllowN(now, 1)
	}
	w.streak++
	return w.streak, w.streak >= crashThreshold
}

// Reset clears the streak, used when a spawner survives long enough that
// its crash history should no longer count against it.
func (w *CrashWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.streak = 0
}

// Streak reports the current consecutive-crash count.
func (w *CrashWindow) Streak() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.streak
}
