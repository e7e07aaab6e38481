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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"gvisor.dev/ctldlock/lockctl/config"
	"gvisor.dev/ctldlock/pkg/ctldlock"
	"gvisor.dev/ctldlock/pkg/log"
)

// Stress implements subcommands.Command for the "stress" command.
type Stress struct {
	goroutines int
	iterations int
	hold       time.Duration
	seed       int64
}

// Name implements subcommands.Command.Name.
func (*Stress) Name() string {
	return "stress"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stress) Synopsis() string {
	return "lock and unlock random requests concurrently, checking exclusion"
}

// Usage implements subcommands.Command.Usage.
func (*Stress) Usage() string {
	return `stress [flags] - run goroutines locking random requests and check that
holders of a lock never overlap illegally. Several stress commands may run
against the same shared lock set.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stress) SetFlags(f *flag.FlagSet) {
	f.IntVar(&s.goroutines, "goroutines", 8, "number of concurrent lock users.")
	f.IntVar(&s.iterations, "iterations", 1000, "requests locked by each user.")
	f.DurationVar(&s.hold, "hold", 0, "how long each request is held.")
	f.Int64Var(&s.seed, "seed", 0, "random seed. 0 picks one from the clock.")
}

// Execute implements subcommands.Command.Execute.
func (s *Stress) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 || s.goroutines <= 0 || s.iterations < 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if s.seed == 0 {
		s.seed = time.Now().UnixNano()
	}
	log.Infof("Stress: %d goroutines, %d iterations, seed %d", s.goroutines, s.iterations, s.seed)

	m := newManager(ctx, conf, nil)
	start := time.Now()
	n, err := runStress(ctx, m, stressOpts{
		goroutines: s.goroutines,
		iterations: s.iterations,
		hold:       s.hold,
		seed:       s.seed,
	})
	if err != nil {
		Fatalf("stress failed after %d requests: %v", n, err)
	}
	fmt.Printf("%d requests in %v\n", n, time.Since(start))

	// Other processes may be using a shared set; only a private one must be
	// idle now.
	if conf.Backend == config.BackendLocal {
		st, err := m.Snapshot()
		if err != nil {
			Fatalf("reading lock state: %v", err)
		}
		for _, r := range ctldlock.Resources {
			if st[r] != (ctldlock.State{}) {
				Fatalf("%v lock not idle after stress: %v", r, st[r])
			}
		}
	}
	return subcommands.ExitSuccess
}

type stressOpts struct {
	goroutines int
	iterations int
	hold       time.Duration
	seed       int64
}

// table stands in for a protected table and detects illegal overlap of lock
// holders.
type table struct {
	readers atomic.Int32
	writers atomic.Int32
}

func (t *table) enter(l ctldlock.Level) error {
	switch l {
	case ctldlock.ReadLock:
		t.readers.Add(1)
		if w := t.writers.Load(); w != 0 {
			return fmt.Errorf("reader entered while %d writers inside", w)
		}
	case ctldlock.WriteLock:
		if w := t.writers.Add(1); w != 1 {
			return fmt.Errorf("writer entered while %d writers inside", w-1)
		}
		if r := t.readers.Load(); r != 0 {
			return fmt.Errorf("writer entered while %d readers inside", r)
		}
	}
	return nil
}

func (t *table) exit(l ctldlock.Level) {
	switch l {
	case ctldlock.ReadLock:
		t.readers.Add(-1)
	case ctldlock.WriteLock:
		t.writers.Add(-1)
	}
}

// runStress locks random requests from concurrent goroutines until each has
// done opts.iterations, ctx is done or an overlap is detected. It returns the
// number of requests completed.
func runStress(ctx context.Context, m *ctldlock.Manager, opts stressOpts) (int64, error) {
	var (
		tables [ctldlock.NumResources]table
		total  atomic.Int64
	)
	progress := log.BasicRateLimitedLogger(time.Second)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.goroutines; i++ {
		rng := rand.New(rand.NewSource(opts.seed + int64(i)))
		g.Go(func() error {
			for j := 0; j < opts.iterations; j++ {
				if ctx.Err() != nil {
					return nil
				}
				var req ctldlock.Request
				for _, r := range ctldlock.Resources {
					req.SetLevel(r, ctldlock.Level(rng.Intn(3)))
				}
				if err := lockOnce(m, &tables, req, opts.hold); err != nil {
					return err
				}
				n := total.Add(1)
				progress.Infof("%d requests done", n)
			}
			return nil
		})
	}
	err := g.Wait()
	return total.Load(), err
}

func lockOnce(m *ctldlock.Manager, tables *[ctldlock.NumResources]table, req ctldlock.Request, hold time.Duration) error {
	g := m.Lock(req)
	defer g.Unlock()

	var err error
	for _, r := range ctldlock.Resources {
		if e := tables[r].enter(req.Level(r)); e != nil && err == nil {
			err = fmt.Errorf("%v table: %w", r, e)
		}
	}
	if hold > 0 {
		time.Sleep(hold)
	}
	for _, r := range ctldlock.Resources {
		tables[r].exit(req.Level(r))
	}
	return err
}
