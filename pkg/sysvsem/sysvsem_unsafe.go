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

//go:build linux && (amd64 || arm64)
// +build linux
// +build amd64 arm64

package sysvsem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
	"gvisor.dev/ctldlock/pkg/abi/linux"
)

// Create creates a new set of nsems semaphores. A zero key creates a private
// set; any other key fails with EEXIST if a set with that key exists.
func Create(key int32, nsems int, mode uint32) (*Set, error) {
	flags := linux.IPC_CREAT | int(mode&0777)
	if key != linux.IPC_PRIVATE {
		flags |= linux.IPC_EXCL
	}
	id, _, errno := unix.Syscall(unix.SYS_SEMGET, uintptr(key), uintptr(nsems), uintptr(flags))
	if errno != 0 {
		return nil, fmt.Errorf("semget(%#x, %d): %w", key, nsems, errno)
	}
	return &Set{id: int32(id), nsems: nsems}, nil
}

// Get returns the existing set with the given key. The set must hold exactly
// nsems semaphores.
func Get(key int32, nsems int) (*Set, error) {
	id, _, errno := unix.Syscall(unix.SYS_SEMGET, uintptr(key), uintptr(nsems), 0)
	if errno != 0 {
		return nil, fmt.Errorf("semget(%#x, %d): %w", key, nsems, errno)
	}
	return Open(int32(id), nsems)
}

// Open returns the existing set with the given id. The set must hold exactly
// nsems semaphores.
func Open(id int32, nsems int) (*Set, error) {
	if nsems <= 0 {
		return nil, unix.EINVAL
	}
	ds, err := stat(id)
	if err != nil {
		return nil, err
	}
	if ds.SemNSems != uint64(nsems) {
		return nil, fmt.Errorf("semaphore set %d has %d semaphores, want %d: %w", id, ds.SemNSems, nsems, unix.EINVAL)
	}
	return &Set{id: id, nsems: nsems}, nil
}

func stat(id int32) (linux.SemidDS, error) {
	var ds linux.SemidDS
	if _, _, errno := unix.Syscall6(unix.SYS_SEMCTL, uintptr(id), 0, linux.IPC_STAT, uintptr(unsafe.Pointer(&ds)), 0, 0); errno != 0 {
		return ds, fmt.Errorf("semctl(%d, IPC_STAT): %w", id, errno)
	}
	return ds, nil
}

// Op executes ops as a single atomic semop(2) call, blocking until all of
// them can be applied. Interrupted calls are restarted.
func (s *Set) Op(ops []linux.Sembuf) error {
	if len(ops) == 0 {
		return unix.EINVAL
	}
	for {
		_, _, errno := unix.Syscall(unix.SYS_SEMOP, uintptr(s.id), uintptr(unsafe.Pointer(&ops[0])), uintptr(len(ops)))
		switch errno {
		case 0:
			return nil
		case unix.EINTR:
			// The Go runtime signals threads for preemption; none of
			// the operations were applied, so just retry.
			continue
		default:
			return fmt.Errorf("semop(%d, %+v): %w", s.id, ops, errno)
		}
	}
}

// Values returns the value of every semaphore in the set.
func (s *Set) Values() ([]uint16, error) {
	vals := make([]uint16, s.nsems)
	if _, _, errno := unix.Syscall6(unix.SYS_SEMCTL, uintptr(s.id), 0, linux.GETALL, uintptr(unsafe.Pointer(&vals[0])), 0, 0); errno != 0 {
		return nil, fmt.Errorf("semctl(%d, GETALL): %w", s.id, errno)
	}
	return vals, nil
}

// Remove removes the set from the system. Processes blocked on it wake up
// with EIDRM.
func (s *Set) Remove() error {
	if _, _, errno := unix.Syscall6(unix.SYS_SEMCTL, uintptr(s.id), 0, linux.IPC_RMID, 0, 0, 0); errno != 0 {
		return fmt.Errorf("semctl(%d, IPC_RMID): %w", s.id, errno)
	}
	return nil
}

// Supported reports whether this platform has System V semaphores.
func Supported() bool {
	return true
}
