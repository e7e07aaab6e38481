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

package semaphore

import (
	"gvisor.dev/ctldlock/pkg/abi/linux"
)

// Process is a user of a Set with its own SEM_UNDO adjustments, the
// in-process counterpart of a process attached to a kernel semaphore set.
//
// A Process may be shared by any number of goroutines.
type Process struct {
	set *Set

	// adj holds the pending undo adjustment of each semaphore. Protected by
	// set.mu.
	adj []int32

	// closed is set once Close has run. Protected by set.mu.
	closed bool
}

// Attach returns a new Process operating on s.
func (s *Set) Attach() *Process {
	return &Process{
		set: s,
		adj: make([]int32, s.Size()),
	}
}

// Set returns the set p operates on.
func (p *Process) Set() *Set {
	return p.set
}

// Op executes ops as a single atomic operation, blocking until all of them
// can be applied. There is no timeout: the caller waits for as long as it
// takes.
func (p *Process) Op(ops []linux.Sembuf) error {
	for {
		ch, err := p.set.ExecuteOps(p, ops)
		if ch == nil || err != nil {
			return err
		}
		<-ch
	}
}

// Values returns the value of every semaphore in the set.
func (p *Process) Values() ([]uint16, error) {
	return p.set.GetValAll()
}

// Adjustments returns a copy of the pending undo adjustments of p.
func (p *Process) Adjustments() []int32 {
	p.set.mu.Lock()
	defer p.set.mu.Unlock()
	return append([]int32(nil), p.adj...)
}

// Close detaches p from the set and applies its undo adjustments, as the
// kernel does when a process exits. Goroutines of p blocked in Op wake up and
// fail with ErrDetached. Close is idempotent.
func (p *Process) Close() error {
	s := p.set
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	if !s.dead {
		for i, adj := range p.adj {
			if adj == 0 {
				continue
			}
			// Like the kernel, clamp instead of failing. Unbalanced
			// releases may have left the value below what we added.
			v := int32(s.sems[i].value) + adj
			if v < 0 {
				v = 0
			}
			if v > valueMax {
				v = valueMax
			}
			s.sems[i].value = int16(v)
		}
	}
	for i := range p.adj {
		p.adj[i] = 0
	}
	// Wake everyone: our own waiters must observe closed, others may now be
	// able to proceed.
	s.wakeAllLocked()
	return nil
}
