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

// Package ctldlock provides the table locks of a cluster controller.
//
// Four resources (configuration, jobs, nodes and partitions) are each
// protected by a read/write lock with write intent. A Request names the level
// wanted on each resource; Manager acquires the requested levels in the order
// of Resources and releases them in reverse, so callers requesting
// overlapping subsets can never wait on each other in a cycle.
//
// Lock state lives in a set of counting semaphores with System V semantics.
// Every counter change is made with SEM_UNDO, so the locks held by a process
// that dies are rolled back by whoever owns the set: the kernel for
// pkg/sysvsem sets, Process.Close for in-process pkg/semaphore sets.
//
// Lock ordering:
//
//	ConfigLock
//	  JobLock
//	    NodeLock
//	      PartitionLock
package ctldlock

import (
	"fmt"
	"strings"
)

// Resource is a table protected by its own lock.
type Resource int

// Resources, in acquisition order.
const (
	ConfigLock Resource = iota
	JobLock
	NodeLock
	PartitionLock

	// NumResources is the number of lockable resources.
	NumResources = iota
)

// Resources lists every resource in acquisition order. Releases walk it
// backwards.
var Resources = [NumResources]Resource{ConfigLock, JobLock, NodeLock, PartitionLock}

var resourceNames = [NumResources]string{"config", "job", "node", "partition"}

// String implements fmt.Stringer.
func (r Resource) String() string {
	if r < 0 || r >= NumResources {
		return fmt.Sprintf("Resource(%d)", int(r))
	}
	return resourceNames[r]
}

// LogFields implements log.Fielder.
func (r Resource) LogFields() map[string]string {
	return map[string]string{"resource": r.String()}
}

// Level is the access requested on a resource.
type Level int

// Lock levels.
const (
	NoLock Level = iota
	ReadLock
	WriteLock
)

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case NoLock:
		return "none"
	case ReadLock:
		return "read"
	case WriteLock:
		return "write"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// LogFields implements log.Fielder.
func (l Level) LogFields() map[string]string {
	return map[string]string{"level": l.String()}
}

// ParseLevel parses the output of Level.String. The empty string is NoLock.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return NoLock, nil
	case "read":
		return ReadLock, nil
	case "write":
		return WriteLock, nil
	default:
		return NoLock, fmt.Errorf("invalid lock level %q", s)
	}
}

// Set implements flag.Value.
func (l *Level) Set(s string) error {
	v, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Get implements flag.Getter.
func (l *Level) Get() any {
	return *l
}

// Request names the level wanted on each resource. The zero value requests
// nothing. A request must be released with the same value it was acquired
// with.
type Request struct {
	Config    Level
	Job       Level
	Node      Level
	Partition Level
}

// Level returns the level requested on r.
func (req Request) Level(r Resource) Level {
	switch r {
	case ConfigLock:
		return req.Config
	case JobLock:
		return req.Job
	case NodeLock:
		return req.Node
	case PartitionLock:
		return req.Partition
	default:
		panic(fmt.Sprintf("unknown resource %d", int(r)))
	}
}

// SetLevel sets the level requested on r.
func (req *Request) SetLevel(r Resource, l Level) {
	switch r {
	case ConfigLock:
		req.Config = l
	case JobLock:
		req.Job = l
	case NodeLock:
		req.Node = l
	case PartitionLock:
		req.Partition = l
	default:
		panic(fmt.Sprintf("unknown resource %d", int(r)))
	}
}

// Empty returns true if req requests no lock at all.
func (req Request) Empty() bool {
	return req == Request{}
}

// String implements fmt.Stringer. Only requested resources are listed.
func (req Request) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for _, r := range Resources {
		l := req.Level(r)
		if l == NoLock {
			continue
		}
		if b.Len() > 1 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s:%s", r, l)
	}
	b.WriteByte('}')
	return b.String()
}

// LogFields implements log.Fielder.
func (req Request) LogFields() map[string]string {
	return map[string]string{"request": req.String()}
}
