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

import "testing"

func TestParseFd(t *testing.T) {
	cases := map[string]int{
		"0":    0,
		"17":   17,
		"":     -1,
		"abc":  -1,
		"12a":  -1,
	}
	for in, want := range cases {
		if got := parseFd(in); got != want {
			t.Errorf("parseFd(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestContextFlagHas(t *testing.T) {
	f := flagAppSpecialize | flagDoRevertUnmount
	if !f.has(flagAppSpecialize) {
		t.Error("expected flagAppSpecialize set")
	}
	if f.has(flagServerForkAndSpecialize) {
		t.Error("did not expect flagServerForkAndSpecialize set")
	}
}

func TestExemptFd(t *testing.T) {
	c := &specializeContext{flags: flagAppForkAndSpecialize}
	if !c.exemptFd(5) {
		t.Fatal("expected fd to be exempted while APP_FORK_AND_SPECIALIZE is set")
	}
	if len(c.exemptedFds) != 1 || c.exemptedFds[0] != 5 {
		t.Errorf("exemptedFds = %v, want [5]", c.exemptedFds)
	}

	c2 := &specializeContext{}
	if c2.exemptFd(9) {
		t.Error("fd should not be exempted without APP_FORK_AND_SPECIALIZE or post-specialize")
	}

	c3 := &specializeContext{flags: flagPostSpecialize}
	if !c3.exemptFd(9) {
		t.Error("every fd should be implicitly exempt once post-specialize has run")
	}
}

func TestSanitizeFdsSkippedWhenFlagged(t *testing.T) {
	c := &specializeContext{flags: flagSkipFdSanitization}
	// sanitizeFds should return immediately without touching allowedFds;
	// a zero-value allowedFds array with the skip flag set must not
	// attempt to close every real fd in this test process.
	c.sanitizeFds()
}
