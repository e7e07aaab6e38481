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

package sysvsem

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"
	"gvisor.dev/ctldlock/pkg/abi/linux"
)

const testSems = 3

// newPrivateSet creates a private set removed at the end of the test, or
// skips the test if the host does not let us have one.
func newPrivateSet(t *testing.T) *Set {
	t.Helper()
	if !Supported() {
		t.Skipf("System V semaphores not supported")
	}
	s, err := Create(linux.IPC_PRIVATE, testSems, 0600)
	if err != nil {
		if errors.Is(err, unix.ENOSYS) || errors.Is(err, unix.EPERM) || errors.Is(err, unix.ENOSPC) {
			t.Skipf("cannot create semaphore set: %v", err)
		}
		t.Fatalf("Create() failed: %v", err)
	}
	t.Cleanup(func() { s.Remove() })
	return s
}

func TestOpValues(t *testing.T) {
	s := newPrivateSet(t)
	if err := s.Op([]linux.Sembuf{
		{SemNum: 0, SemOp: 2, SemFlg: linux.SEM_UNDO},
		{SemNum: 2, SemOp: 1},
	}); err != nil {
		t.Fatalf("Op() failed: %v", err)
	}
	vals, err := s.Values()
	if err != nil {
		t.Fatalf("Values() failed: %v", err)
	}
	if diff := cmp.Diff([]uint16{2, 0, 1}, vals); diff != "" {
		t.Errorf("Values() (-want +got):\n%s", diff)
	}
	if err := s.Op([]linux.Sembuf{{SemNum: 1, SemOp: -1, SemFlg: linux.IPC_NOWAIT}}); !errors.Is(err, unix.EAGAIN) {
		t.Errorf("Op(NOWAIT) got err: %v, expected: %v", err, unix.EAGAIN)
	}
}

func TestOpBlocks(t *testing.T) {
	s := newPrivateSet(t)
	if err := s.Op([]linux.Sembuf{{SemNum: 1, SemOp: 1}}); err != nil {
		t.Fatalf("Op() failed: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		done <- s.Op([]linux.Sembuf{{SemNum: 1, SemOp: 0}})
	}()
	select {
	case err := <-done:
		t.Fatalf("wait-for-zero returned on a non-zero semaphore, err: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	if err := s.Op([]linux.Sembuf{{SemNum: 1, SemOp: -1}}); err != nil {
		t.Fatalf("Op() failed: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("wait-for-zero failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("wait-for-zero did not return")
	}
}

func TestOpenValidatesSize(t *testing.T) {
	s := newPrivateSet(t)
	if _, err := Open(s.ID(), testSems); err != nil {
		t.Fatalf("Open(%d, %d) failed: %v", s.ID(), testSems, err)
	}
	if _, err := Open(s.ID(), testSems+1); err == nil {
		t.Fatalf("Open(%d, %d) succeeded on a smaller set", s.ID(), testSems+1)
	}
	if _, err := Open(s.ID(), testSems-1); !errors.Is(err, unix.EINVAL) {
		t.Fatalf("Open(%d, %d) on a larger set got err: %v, expected: %v", s.ID(), testSems-1, err, unix.EINVAL)
	}
}

// testKey returns a key unlikely to be in use on the host.
func testKey() int32 {
	return int32(0x5c000000 | os.Getpid()&0xffffff)
}

func TestCreateSharedAdoptsKey(t *testing.T) {
	newPrivateSet(t)
	key := testKey()
	orig, err := Create(key, testSems, 0600)
	if err != nil {
		t.Skipf("cannot create keyed semaphore set: %v", err)
	}
	t.Cleanup(func() { orig.Remove() })

	if _, err := Create(key, testSems, 0600); !errors.Is(err, unix.EEXIST) {
		t.Fatalf("second Create(%#x) got err: %v, expected: %v", key, err, unix.EEXIST)
	}
	if _, err := Get(key, testSems+1); err == nil {
		t.Fatalf("Get(%#x, %d) succeeded on a smaller set", key, testSems+1)
	}
	if _, err := Get(key, testSems-1); !errors.Is(err, unix.EINVAL) {
		t.Fatalf("Get(%#x, %d) on a larger set got err: %v, expected: %v", key, testSems-1, err, unix.EINVAL)
	}

	root := t.TempDir()
	s, created, err := CreateShared(root, key, testSems, 0600)
	if err != nil {
		t.Fatalf("CreateShared(%#x) failed: %v", key, err)
	}
	if created || s.ID() != orig.ID() {
		t.Fatalf("CreateShared(%#x) = (%v, %t), want existing %v", key, s, created, orig)
	}
	opened, err := OpenShared(root, testSems)
	if err != nil {
		t.Fatalf("OpenShared() failed: %v", err)
	}
	if opened.ID() != orig.ID() {
		t.Fatalf("OpenShared() = %v, want %v", opened, orig)
	}
}

func TestShared(t *testing.T) {
	newPrivateSet(t) // Skip early where unsupported.
	root := t.TempDir()

	s, created, err := CreateShared(root, linux.IPC_PRIVATE, testSems, 0600)
	if err != nil {
		t.Fatalf("CreateShared() failed: %v", err)
	}
	t.Cleanup(func() { s.Remove() })
	if !created {
		t.Fatalf("CreateShared() on an empty root did not create a set")
	}

	again, created, err := CreateShared(root, linux.IPC_PRIVATE, testSems, 0600)
	if err != nil {
		t.Fatalf("second CreateShared() failed: %v", err)
	}
	if created || again.ID() != s.ID() {
		t.Fatalf("second CreateShared() = (%v, %t), want existing %v", again, created, s)
	}

	opened, err := OpenShared(root, testSems)
	if err != nil {
		t.Fatalf("OpenShared() failed: %v", err)
	}
	if opened.ID() != s.ID() {
		t.Fatalf("OpenShared() = %v, want %v", opened, s)
	}

	if err := RemoveShared(root, testSems); err != nil {
		t.Fatalf("RemoveShared() failed: %v", err)
	}
	if _, err := os.Stat(IDPath(root)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("id file still present after RemoveShared(), stat err: %v", err)
	}
	if _, err := OpenShared(root, testSems); err == nil {
		t.Fatalf("OpenShared() succeeded after RemoveShared()")
	}
}

func TestCreateSharedRecordFailure(t *testing.T) {
	newPrivateSet(t)
	root := t.TempDir()
	// The id file is written through a temporary file; a directory in its
	// way makes recording fail.
	if err := os.Mkdir(IDPath(root)+".tmp", 0700); err != nil {
		t.Fatalf("Mkdir() failed: %v", err)
	}
	if _, _, err := CreateShared(root, linux.IPC_PRIVATE, testSems, 0600); err == nil {
		t.Fatalf("CreateShared() succeeded without recording the set")
	}

	// A set adopted by key belongs to someone else and survives the
	// failure.
	key := testKey()
	orig, err := Create(key, testSems, 0600)
	if err != nil {
		t.Skipf("cannot create keyed semaphore set: %v", err)
	}
	t.Cleanup(func() { orig.Remove() })
	if _, _, err := CreateShared(root, key, testSems, 0600); err == nil {
		t.Fatalf("CreateShared(%#x) succeeded without recording the set", key)
	}
	if _, err := Open(orig.ID(), testSems); err != nil {
		t.Fatalf("adopted set removed after a failed CreateShared(): %v", err)
	}
}

func TestWaitOpenSharedTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if _, err := WaitOpenShared(ctx, t.TempDir(), testSems); err == nil {
		t.Fatalf("WaitOpenShared() on an empty root succeeded")
	}
}

func TestWaitOpenShared(t *testing.T) {
	newPrivateSet(t)
	root := t.TempDir()

	go func() {
		time.Sleep(200 * time.Millisecond)
		CreateShared(root, linux.IPC_PRIVATE, testSems, 0600)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := WaitOpenShared(ctx, root, testSems)
	if err != nil {
		t.Fatalf("WaitOpenShared() failed: %v", err)
	}
	defer s.Remove()
	if s.Size() != testSems {
		t.Fatalf("WaitOpenShared() returned %v, want %d semaphores", s, testSems)
	}
}
