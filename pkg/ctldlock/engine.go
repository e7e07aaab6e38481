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

package ctldlock

import (
	"fmt"

	"gvisor.dev/ctldlock/pkg/abi/linux"
	"gvisor.dev/ctldlock/pkg/cleanup"
	"gvisor.dev/ctldlock/pkg/log"
)

// Each resource owns three consecutive semaphores in the set.
const (
	readers = iota
	writers
	pendingWriters

	semsPerResource = iota
)

// NumSemaphores is the size of a lock set. Cooperating processes sharing a
// set must agree on it.
const NumSemaphores = NumResources * semsPerResource

func semNum(r Resource, counter int) uint16 {
	return uint16(int(r)*semsPerResource + counter)
}

// Op identifies a step of the lock state machine.
type Op int

// Lock steps.
const (
	OpAcquireRead Op = iota
	OpReleaseRead
	OpAnnounceWrite
	OpClaimWrite
	OpReleaseWrite
)

// String implements fmt.Stringer.
func (op Op) String() string {
	switch op {
	case OpAcquireRead:
		return "acquire-read"
	case OpReleaseRead:
		return "release-read"
	case OpAnnounceWrite:
		return "announce-write"
	case OpClaimWrite:
		return "claim-write"
	case OpReleaseWrite:
		return "release-write"
	default:
		return fmt.Sprintf("Op(%d)", int(op))
	}
}

// ops returns the operation list executed by op on r. Every list is applied
// as one compound operation: either all of it happens or the caller waits.
func (op Op) ops(r Resource) []linux.Sembuf {
	switch op {
	case OpAcquireRead:
		// No writer holds or waits for r.
		return []linux.Sembuf{
			{SemNum: semNum(r, pendingWriters), SemOp: 0},
			{SemNum: semNum(r, writers), SemOp: 0},
			{SemNum: semNum(r, readers), SemOp: 1, SemFlg: linux.SEM_UNDO},
		}
	case OpReleaseRead:
		return []linux.Sembuf{
			{SemNum: semNum(r, readers), SemOp: -1, SemFlg: linux.SEM_UNDO},
		}
	case OpAnnounceWrite:
		// Never blocks. From here on new readers wait.
		return []linux.Sembuf{
			{SemNum: semNum(r, pendingWriters), SemOp: 1, SemFlg: linux.SEM_UNDO},
		}
	case OpClaimWrite:
		return []linux.Sembuf{
			{SemNum: semNum(r, readers), SemOp: 0},
			{SemNum: semNum(r, writers), SemOp: 0},
			{SemNum: semNum(r, pendingWriters), SemOp: -1, SemFlg: linux.SEM_UNDO},
			{SemNum: semNum(r, writers), SemOp: 1, SemFlg: linux.SEM_UNDO},
		}
	case OpReleaseWrite:
		return []linux.Sembuf{
			{SemNum: semNum(r, writers), SemOp: -1, SemFlg: linux.SEM_UNDO},
		}
	default:
		panic(fmt.Sprintf("unknown op %d", int(op)))
	}
}

// withdrawOps takes back an announcement whose claim failed.
func withdrawOps(r Resource) []linux.Sembuf {
	return []linux.Sembuf{
		{SemNum: semNum(r, pendingWriters), SemOp: -1, SemFlg: linux.SEM_UNDO | linux.IPC_NOWAIT},
	}
}

func run(s Semaphores, r Resource, op Op) error {
	if err := s.Op(op.ops(r)); err != nil {
		return &OperationError{Resource: r, Op: op, Err: err}
	}
	return nil
}

// lockResource acquires r at level l, blocking as long as needed.
func lockResource(s Semaphores, r Resource, l Level) error {
	switch l {
	case NoLock:
		return nil
	case ReadLock:
		return run(s, r, OpAcquireRead)
	case WriteLock:
		if err := run(s, r, OpAnnounceWrite); err != nil {
			return err
		}
		cu := cleanup.Make(func() {
			if err := s.Op(withdrawOps(r)); err != nil {
				log.Warningf("Withdrawing %s write announcement: %v", r, err)
			}
		})
		defer cu.Clean()
		if err := run(s, r, OpClaimWrite); err != nil {
			return err
		}
		cu.Release()
		return nil
	default:
		return &OperationError{Resource: r, Op: OpAcquireRead, Err: fmt.Errorf("invalid level %v", l)}
	}
}

// unlockResource releases level l on r.
func unlockResource(s Semaphores, r Resource, l Level) error {
	switch l {
	case NoLock:
		return nil
	case ReadLock:
		return run(s, r, OpReleaseRead)
	case WriteLock:
		return run(s, r, OpReleaseWrite)
	default:
		return &OperationError{Resource: r, Op: OpReleaseRead, Err: fmt.Errorf("invalid level %v", l)}
	}
}
