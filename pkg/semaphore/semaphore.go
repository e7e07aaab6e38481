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

// Package semaphore implements System V semaphore sets shared by goroutines
// of a single process.
//
// Sets follow semop(2) semantics: an operation list is applied only if every
// operation in it can be applied, otherwise the caller waits and retries the
// whole list. Operations flagged with SEM_UNDO are recorded against the
// Process that executed them and are rolled back when that Process is closed,
// which is how a crashed or aborted user stops wedging everybody else.
package semaphore

import (
	"errors"
	"sync"

	"golang.org/x/sys/unix"
	"gvisor.dev/ctldlock/pkg/abi/linux"
)

const (
	// Maximum semaphore value.
	valueMax = linux.SEMVMX

	// Maximum number of semaphores in a semaphore set.
	semsMax = linux.SEMMSL

	// Maximum number of operations in a single call.
	opsMax = linux.SEMOPM
)

// ErrDetached is returned by operations on a closed Process.
var ErrDetached = errors.New("semaphore: process detached from set")

// Set represents a set of semaphores that can be operated atomically.
type Set struct {
	// mu protects all fields below, including the undo state of every
	// attached Process.
	mu sync.Mutex

	// sems holds all semaphores in the set. The slice itself is immutable
	// after it's been set, however each 'sem' object in the slice requires
	// 'mu' lock.
	sems []sem

	// dead is set to true when the set is removed. All waiters must wake up
	// and fail when set is dead.
	dead bool
}

// sem represents a single semaphore from a set.
type sem struct {
	value   int16
	waiters []*waiter
}

// waiter represents a caller that is waiting for the semaphore value to
// become positive or zero.
type waiter struct {
	// value represents how much resource the waiter needs to wake up.
	// The value is either 0 or negative.
	value int16
	ch    chan struct{}
}

// New creates a set of nsems semaphores, all with value zero.
func New(nsems int) (*Set, error) {
	if nsems <= 0 || nsems > semsMax {
		return nil, unix.EINVAL
	}
	return &Set{sems: make([]sem, nsems)}, nil
}

// Size returns the number of semaphores in the set. Size is immutable.
func (s *Set) Size() int {
	return len(s.sems)
}

func (s *Set) findSem(num int32) *sem {
	if num < 0 || int(num) >= s.Size() {
		return nil
	}
	return &s.sems[num]
}

// GetValAll returns value for all semaphores.
func (s *Set) GetValAll() ([]uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dead {
		return nil, unix.EIDRM
	}
	vals := make([]uint16, s.Size())
	for i, sem := range s.sems {
		vals[i] = uint16(sem.value)
	}
	return vals, nil
}

// Remove marks the set as dead. All waiters are awakened and fail with
// EIDRM, as do all later operations.
func (s *Set) Remove() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dead {
		return
	}
	// Notify all waiters. They will fail on the next attempt to execute
	// operations and return error.
	s.dead = true
	for i := range s.sems {
		sem := &s.sems[i]
		for _, w := range sem.waiters {
			w.ch <- struct{}{}
		}
		sem.waiters = nil
	}
}

// ExecuteOps attempts to execute a list of operations to the set on behalf of
// p, which may be nil if no operation carries SEM_UNDO. It only succeeds when
// all operations can be applied. No changes are made if it fails.
//
// On failure, it may return an error (retries are hopeless) or it may return
// a channel that can be waited on before attempting again.
func (s *Set) ExecuteOps(p *Process, ops []linux.Sembuf) (chan struct{}, error) {
	if len(ops) == 0 {
		return nil, unix.EINVAL
	}
	if len(ops) > opsMax {
		return nil, unix.E2BIG
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Did it race with a removal operation?
	if s.dead {
		return nil, unix.EIDRM
	}
	if p != nil && p.closed {
		return nil, ErrDetached
	}

	// Validate the operations.
	for _, op := range ops {
		if s.findSem(int32(op.SemNum)) == nil {
			return nil, unix.EFBIG
		}
		if op.SemFlg&linux.SEM_UNDO != 0 && p == nil {
			return nil, unix.EINVAL
		}
	}
	return s.executeOps(p, ops)
}

// Precondition: s.mu must be held.
func (s *Set) executeOps(p *Process, ops []linux.Sembuf) (chan struct{}, error) {
	// Changes to semaphores go to this slice temporarily until they all
	// succeed. Undo adjustments are staged the same way.
	tmpVals := make([]int16, len(s.sems))
	for i := range s.sems {
		tmpVals[i] = s.sems[i].value
	}
	var tmpAdj []int32
	if p != nil {
		tmpAdj = append([]int32(nil), p.adj...)
	}

	for _, op := range ops {
		sem := &s.sems[op.SemNum]
		if op.SemOp == 0 {
			// Handle 'wait for zero' operation.
			if tmpVals[op.SemNum] != 0 {
				// Semaphore isn't 0, must wait.
				if op.SemFlg&linux.IPC_NOWAIT != 0 {
					return nil, unix.EAGAIN
				}

				w := newWaiter(op.SemOp)
				sem.waiters = append(sem.waiters, w)
				return w.ch, nil
			}
			continue
		}

		if op.SemOp < 0 {
			// Handle 'wait' operation.
			// Widen before negating: -(-32768) does not fit in an int16.
			if -int32(op.SemOp) > valueMax {
				return nil, unix.ERANGE
			}
			if -op.SemOp > tmpVals[op.SemNum] {
				// Not enough resources, must wait.
				if op.SemFlg&linux.IPC_NOWAIT != 0 {
					return nil, unix.EAGAIN
				}

				w := newWaiter(op.SemOp)
				sem.waiters = append(sem.waiters, w)
				return w.ch, nil
			}
		} else {
			// op.SemOp > 0: Handle 'signal' operation.
			if tmpVals[op.SemNum] > valueMax-op.SemOp {
				return nil, unix.ERANGE
			}
		}

		if op.SemFlg&linux.SEM_UNDO != 0 {
			adj := tmpAdj[op.SemNum] - int32(op.SemOp)
			if adj < -valueMax-1 || adj > valueMax {
				return nil, unix.ERANGE
			}
			tmpAdj[op.SemNum] = adj
		}
		tmpVals[op.SemNum] += op.SemOp
	}

	// All operations succeeded, apply them.
	for i, v := range tmpVals {
		if s.sems[i].value != v {
			s.sems[i].value = v
			s.sems[i].wakeWaiters()
		}
	}
	if p != nil {
		p.adj = tmpAdj
	}
	return nil, nil
}

// wakeAllLocked wakes every waiter on every semaphore so that they retry.
//
// Precondition: s.mu must be held.
func (s *Set) wakeAllLocked() {
	for i := range s.sems {
		sem := &s.sems[i]
		for _, w := range sem.waiters {
			w.ch <- struct{}{}
		}
		sem.waiters = nil
	}
}

func abs(val int16) int16 {
	if val < 0 {
		return -val
	}
	return val
}

// wakeWaiters goes over all waiters and checks which of them can be notified.
func (s *sem) wakeWaiters() {
	// Note that this will release all waiters waiting for 0 too.
	kept := s.waiters[:0]
	for _, w := range s.waiters {
		if s.value < abs(w.value) {
			// Still blocked, skip it.
			kept = append(kept, w)
			continue
		}
		w.ch <- struct{}{}
	}
	for i := len(kept); i < len(s.waiters); i++ {
		s.waiters[i] = nil
	}
	s.waiters = kept
}

func newWaiter(val int16) *waiter {
	return &waiter{
		value: val,
		ch:    make(chan struct{}, 1),
	}
}
