// Copyright 2018 Google LLC
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

// Package linux contains the Linux ABI definitions shared by the semaphore
// backends.
package linux

// semctl Command Definitions. Source: include/uapi/linux/sem.h
const (
	GETALL = 13
)

// SEM_UNDO asks the kernel to roll the operation back when the process exits.
const SEM_UNDO = 0x1000

// Semaphore limits. Source: include/uapi/linux/sem.h
const (
	SEMMSL = 32000 // <= 65536; max number of semaphores per set.
	SEMOPM = 500   // <= 1000; max number of operations per semop call.
	SEMVMX = 32767 // <= 32767; semaphore maximum value.
)

// Sembuf is equivalent to struct sembuf.
type Sembuf struct {
	SemNum uint16
	SemOp  int16
	SemFlg int16
}
