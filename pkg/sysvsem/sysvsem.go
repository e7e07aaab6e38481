// Copyright 2026 The gVisor Authors.
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

// Package sysvsem operates on System V semaphore sets owned by the host
// kernel.
//
// Unlike package semaphore, sets created here can be shared by cooperating
// processes, and SEM_UNDO adjustments are applied by the kernel when a
// process dies, however it dies.
package sysvsem

import (
	"errors"
	"fmt"
)

// ErrUnsupported is returned on platforms without System V semaphores.
var ErrUnsupported = errors.New("sysvsem: System V semaphores are not supported on this platform")

// Set is a kernel semaphore set.
type Set struct {
	id    int32
	nsems int
}

// ID returns the kernel identifier of the set.
func (s *Set) ID() int32 {
	return s.id
}

// Size returns the number of semaphores in the set.
func (s *Set) Size() int {
	return s.nsems
}

// Close implements the counter set interface. It does nothing: pending
// SEM_UNDO adjustments are owned by the kernel and applied on process exit.
func (s *Set) Close() error {
	return nil
}

// String implements fmt.Stringer.
func (s *Set) String() string {
	return fmt.Sprintf("semid %d (%d semaphores)", s.id, s.nsems)
}
