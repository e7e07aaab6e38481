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
	"sort"

	"gvisor.dev/ctldlock/pkg/cleanup"
	"gvisor.dev/ctldlock/pkg/log"
)

// Acquire locks every resource requested by req, in the order of Resources.
// It blocks for as long as it takes; there is no timeout. Failures go to
// Options.OnFailure.
//
// The caller must later call Release with the same request. Prefer Lock,
// which makes that impossible to get wrong.
func (m *Manager) Acquire(req Request) {
	s, err := m.semaphores()
	if err != nil {
		m.fail(err)
		return
	}
	if err := m.acquire(s, req); err != nil {
		m.fail(err)
	}
}

// Release unlocks every resource requested by req, in reverse order of
// Resources. req must be identical to the request passed to Acquire; this is
// not checked. Failures go to Options.OnFailure.
func (m *Manager) Release(req Request) {
	s, err := m.semaphores()
	if err != nil {
		m.fail(err)
		return
	}
	if err := m.release(s, req); err != nil {
		m.fail(err)
	}
}

// acquire locks req on s. On failure, resources already locked are released
// again so that nothing is held.
func (m *Manager) acquire(s Semaphores, req Request) error {
	var cu cleanup.Cleanup
	defer cu.Clean()
	for _, r := range Resources {
		l := req.Level(r)
		if l == NoLock {
			continue
		}
		if err := lockResource(s, r, l); err != nil {
			return err
		}
		m.traceAcquired(r, l)
		cu.Add(func() {
			if unlockResource(s, r, l) == nil {
				m.traceReleased(r, l)
			}
		})
	}
	cu.Release()
	return nil
}

// release unlocks req on s. Every resource is attempted even if an earlier
// one fails; the first error is returned.
func (m *Manager) release(s Semaphores, req Request) error {
	var first error
	for i := len(Resources) - 1; i >= 0; i-- {
		r := Resources[i]
		l := req.Level(r)
		if l == NoLock {
			continue
		}
		if err := unlockResource(s, r, l); err != nil {
			if first == nil {
				first = err
			}
			continue
		}
		m.traceReleased(r, l)
	}
	return first
}

func (m *Manager) traceAcquired(r Resource, l Level) {
	if m.opts.Tracer != nil {
		m.opts.Tracer.Acquired(r, l)
	}
}

func (m *Manager) traceReleased(r Resource, l Level) {
	if m.opts.Tracer != nil {
		m.opts.Tracer.Released(r, l)
	}
}

// Guard holds the locks of one request. It is returned by Manager.Lock.
type Guard struct {
	m   *Manager
	req Request
	id  uint64

	// released is set once the locks are given back. Protected by m.mu.
	released bool
}

// Lock acquires req like Acquire and returns a guard whose Unlock releases
// exactly what was acquired:
//
//	g := m.Lock(ctldlock.Request{Job: ctldlock.WriteLock})
//	defer g.Unlock()
//
// Guards still locked when the Manager is aborted are released by Abort.
func (m *Manager) Lock(req Request) *Guard {
	g := &Guard{m: m, req: req, released: true}
	s, err := m.semaphores()
	if err != nil {
		m.fail(err)
		return g
	}
	if err := m.acquire(s, req); err != nil {
		m.fail(err)
		return g
	}

	m.mu.Lock()
	if m.aborted {
		// Abort ran while we were blocked and did not see us.
		m.mu.Unlock()
		if err := m.release(s, req); err != nil {
			m.fail(err)
			return g
		}
		m.fail(ErrAborted)
		return g
	}
	g.id = m.nextGuard
	m.nextGuard++
	g.released = false
	m.guards[g.id] = g
	m.mu.Unlock()
	return g
}

// Request returns the request held by g.
func (g *Guard) Request() Request {
	return g.req
}

// Unlock releases the locks held by g, in reverse order of Resources. Only
// the first call has any effect, so Unlock is safe to defer even after an
// explicit Unlock.
func (g *Guard) Unlock() {
	m := g.m
	m.mu.Lock()
	if g.released {
		m.mu.Unlock()
		return
	}
	g.released = true
	delete(m.guards, g.id)
	s := m.sems
	m.mu.Unlock()

	if err := m.release(s, g.req); err != nil {
		m.mu.Lock()
		aborted := m.aborted
		m.mu.Unlock()
		if aborted {
			// Abort closed the set under us. Undo gives back whatever
			// this guard still held.
			log.Debugf("Unlocking guard %d %v after abort: %v", g.id, g.req, err)
			return
		}
		m.fail(err)
	}
}

// takeGuardsLocked unregisters every guard, marks them released and returns
// them most recent first.
//
// Preconditions: m.mu must be locked.
func (m *Manager) takeGuardsLocked() []*Guard {
	guards := make([]*Guard, 0, len(m.guards))
	for _, g := range m.guards {
		g.released = true
		guards = append(guards, g)
	}
	sort.Slice(guards, func(i, j int) bool { return guards[i].id > guards[j].id })
	m.guards = make(map[uint64]*Guard)
	return guards
}
