// Copyright 2020 The gVisor Authors.
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

package cleanup

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testCleanupHelper(clean, cleanAdd *bool, release bool) func() {
	cu := Make(func() {
		*clean = true
	})
	cu.Add(func() {
		*cleanAdd = true
	})
	defer cu.Clean()
	if release {
		return cu.Release()
	}
	return nil
}

func TestCleanup(t *testing.T) {
	clean := false
	cleanAdd := false
	testCleanupHelper(&clean, &cleanAdd, false)
	if !clean {
		t.Fatalf("cleanup function was not called.")
	}
	if !cleanAdd {
		t.Fatalf("added cleanup function was not called.")
	}
}

func TestRelease(t *testing.T) {
	clean := false
	cleanAdd := false
	cleaner := testCleanupHelper(&clean, &cleanAdd, true)

	if clean || cleanAdd {
		t.Fatalf("cleanup functions were called after release.")
	}

	cleaner()
	if !clean {
		t.Fatalf("cleanup function was not called.")
	}
	if !cleanAdd {
		t.Fatalf("added cleanup function was not called.")
	}
}

func TestReverseOrder(t *testing.T) {
	var order []string
	func() {
		cu := Make(func() { order = append(order, "config") })
		cu.Add(func() { order = append(order, "job") })
		cu.Add(func() { order = append(order, "node") })
		defer cu.Clean()
	}()
	if diff := cmp.Diff([]string{"node", "job", "config"}, order); diff != "" {
		t.Errorf("cleanup order mismatch (-want +got):\n%s", diff)
	}
}

func TestCleanTwice(t *testing.T) {
	calls := 0
	cu := Make(func() { calls++ })
	cu.Clean()
	cu.Clean()
	if calls != 1 {
		t.Errorf("cleanup ran %d times, want 1", calls)
	}
}
