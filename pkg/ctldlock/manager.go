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
	"errors"
	"fmt"
	"sync"

	"gvisor.dev/ctldlock/pkg/abi/linux"
	"gvisor.dev/ctldlock/pkg/cleanup"
	"gvisor.dev/ctldlock/pkg/log"
	"gvisor.dev/ctldlock/pkg/semaphore"
)

// Semaphores is a semaphore set as seen by one process. It is implemented by
// *semaphore.Process and *sysvsem.Set.
type Semaphores interface {
	// Op executes ops atomically, blocking until all of them can be
	// applied.
	Op(ops []linux.Sembuf) error

	// Values returns the value of every semaphore in the set.
	Values() ([]uint16, error)

	// Close detaches from the set. Pending SEM_UNDO adjustments are
	// applied.
	Close() error
}

// NewLocalSemaphores creates an in-process lock set.
func NewLocalSemaphores() (Semaphores, error) {
	s, err := semaphore.New(NumSemaphores)
	if err != nil {
		return nil, err
	}
	return s.Attach(), nil
}

// Tracer observes every per-resource lock step taken by a Manager.
type Tracer interface {
	// Acquired is called after r has been locked at level l.
	Acquired(r Resource, l Level)

	// Released is called after level l has been released on r.
	Released(r Resource, l Level)
}

// Options configures a Manager.
type Options struct {
	// NewSemaphores creates the lock set. It must return a set of
	// NumSemaphores semaphores. Defaults to NewLocalSemaphores.
	NewSemaphores func() (Semaphores, error)

	// OnFailure is called with any error raised by Acquire, Release, Lock or
	// Unlock. Defaults to panicking with the error. If it returns, the
	// failed call returns holding nothing new.
	OnFailure func(error)

	// Tracer, if not nil, observes every lock step.
	Tracer Tracer
}

// Manager owns a lock set and locks resources in it.
//
// A Manager is safe for concurrent use. It is normally created once at
// startup and handed down, see WithManager.
type Manager struct {
	opts Options

	// mu protects the fields below. It is never held while blocking on the
	// lock set.
	mu sync.Mutex

	// sems is the lock set, nil until initialized.
	sems Semaphores

	// aborted is set by Abort.
	aborted bool

	// guards holds every guard not yet unlocked, keyed by registration
	// order.
	guards    map[uint64]*Guard
	nextGuard uint64
}

// NewManager returns a Manager. The lock set is not created until Init or
// first use.
func NewManager(opts Options) *Manager {
	if opts.NewSemaphores == nil {
		opts.NewSemaphores = NewLocalSemaphores
	}
	if opts.OnFailure == nil {
		opts.OnFailure = panicOnFailure
	}
	return &Manager{
		opts:   opts,
		guards: make(map[uint64]*Guard),
	}
}

// Init creates the lock set. It is a no-op once the set exists; in
// particular it never resets lock state.
func (m *Manager) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.aborted {
		return ErrAborted
	}
	return m.initLocked()
}

// Preconditions: m.mu must be locked.
func (m *Manager) initLocked() error {
	if m.sems != nil {
		return nil
	}
	s, err := m.opts.NewSemaphores()
	if err != nil {
		return &InitializationError{Err: err}
	}
	cu := cleanup.Make(func() { _ = s.Close() })
	defer cu.Clean()

	vals, err := s.Values()
	if err != nil {
		return &InitializationError{Err: err}
	}
	if len(vals) != NumSemaphores {
		return &InitializationError{Err: fmt.Errorf("lock set has %d semaphores, want %d", len(vals), NumSemaphores)}
	}
	cu.Release()

	m.sems = s
	log.Debugf("Lock set initialized with %d semaphores", NumSemaphores)
	return nil
}

// semaphores returns the lock set, creating it if Init was never called.
func (m *Manager) semaphores() (Semaphores, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.aborted {
		return nil, ErrAborted
	}
	if m.sems == nil {
		log.Warningf("lock set used before initialization")
		if err := m.initLocked(); err != nil {
			return nil, err
		}
	}
	return m.sems, nil
}

// State is a snapshot of the counters of one resource.
type State struct {
	Readers        uint16
	Writers        uint16
	PendingWriters uint16
}

// Valid returns true if s describes a consistent lock: at most one writer,
// and no reader while a writer holds the lock.
func (s State) Valid() bool {
	if s.Writers > 1 {
		return false
	}
	return s.Writers == 0 || s.Readers == 0
}

// String implements fmt.Stringer.
func (s State) String() string {
	return fmt.Sprintf("readers=%d writers=%d pending=%d", s.Readers, s.Writers, s.PendingWriters)
}

// Snapshot returns the counters of every resource, indexed by Resource.
// Counters change as soon as they are read; a snapshot is only exact when no
// one else is using the set.
func (m *Manager) Snapshot() ([NumResources]State, error) {
	var st [NumResources]State
	s, err := m.semaphores()
	if err != nil {
		return st, err
	}
	vals, err := s.Values()
	if err != nil {
		return st, err
	}
	if len(vals) < NumSemaphores {
		return st, fmt.Errorf("lock set has %d semaphores, want %d", len(vals), NumSemaphores)
	}
	for _, r := range Resources {
		st[r] = State{
			Readers:        vals[semNum(r, readers)],
			Writers:        vals[semNum(r, writers)],
			PendingWriters: vals[semNum(r, pendingWriters)],
		}
	}
	return st, nil
}

// Abort shuts the Manager down: every guard still locked is released, most
// recent first, and the lock set is closed. For an in-process set, closing
// rolls back whatever raw Acquire calls still hold. All later use fails with
// ErrAborted. Abort is idempotent and is meant to run from exit hooks.
func (m *Manager) Abort() {
	m.mu.Lock()
	if m.aborted {
		m.mu.Unlock()
		return
	}
	m.aborted = true
	s := m.sems
	guards := m.takeGuardsLocked()
	m.mu.Unlock()

	if s == nil {
		return
	}
	for _, g := range guards {
		log.Debugf("Releasing guard %d %v on abort", g.id, g.req)
		if err := m.release(s, g.req); err != nil {
			log.Warningf("Releasing %v on abort: %v", g.req, err)
		}
	}
	if err := s.Close(); err != nil {
		log.Warningf("Closing lock set on abort: %v", err)
	}
}

// fail reports err to the failure handler.
func (m *Manager) fail(err error) {
	m.mu.Lock()
	aborted := m.aborted
	m.mu.Unlock()
	if aborted && !errors.Is(err, ErrAborted) {
		err = fmt.Errorf("%w: %w", ErrAborted, err)
	}
	m.opts.OnFailure(err)
}
