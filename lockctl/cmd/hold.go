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
	"time"

	"github.com/google/subcommands"
	"gvisor.dev/ctldlock/lockctl/config"
	"gvisor.dev/ctldlock/pkg/ctldlock"
	"gvisor.dev/ctldlock/pkg/log"
)

// Hold implements subcommands.Command for the "hold" command.
type Hold struct {
	req      ctldlock.Request
	duration time.Duration
	wait     time.Duration
}

// Name implements subcommands.Command.Name.
func (*Hold) Name() string {
	return "hold"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Hold) Synopsis() string {
	return "acquire locks and hold them for a while"
}

// Usage implements subcommands.Command.Usage.
func (*Hold) Usage() string {
	return `hold [flags] - acquire the requested locks, hold them, then release them.

Locks are held until --duration passes or the command is interrupted. A
killed hold leaves nothing behind: the kernel rolls its counters back.

Example:
	lockctl hold --job=write --node=read --duration=10s
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (h *Hold) SetFlags(f *flag.FlagSet) {
	registerLevelFlags(f, &h.req)
	f.DurationVar(&h.duration, "duration", 0, "how long to hold the locks. 0 holds them until interrupted.")
	f.DurationVar(&h.wait, "wait", 0, "give up if the locks are not acquired within this time. 0 waits forever.")
}

// registerLevelFlags adds one level flag per resource, filling req.
func registerLevelFlags(f *flag.FlagSet, req *ctldlock.Request) {
	f.Var(&req.Config, "config-lock", "level of the config lock: none (default), read, write.")
	f.Var(&req.Job, "job", "level of the job lock: none (default), read, write.")
	f.Var(&req.Node, "node", "level of the node lock: none (default), read, write.")
	f.Var(&req.Partition, "partition", "level of the partition lock: none (default), read, write.")
}

// Execute implements subcommands.Command.Execute.
func (h *Hold) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if h.req.Empty() {
		Fatalf("no lock requested")
	}
	conf := args[0].(*config.Config)
	requireSysV(conf, "hold")

	m := newManager(ctx, conf, logTracer{})

	// Acquisition cannot be cancelled; if we give up, the pending
	// acquisition dies with the process and the kernel undoes it.
	acquired := make(chan *ctldlock.Guard, 1)
	go func() {
		acquired <- m.Lock(h.req)
	}()
	var timeout <-chan time.Time
	if h.wait > 0 {
		timeout = time.After(h.wait)
	}
	var g *ctldlock.Guard
	select {
	case g = <-acquired:
	case <-timeout:
		Fatalf("locks %v not acquired within %v", h.req, h.wait)
	case <-ctx.Done():
		Fatalf("interrupted while waiting for locks %v", h.req)
	}
	defer g.Unlock()

	fmt.Printf("holding %v\n", h.req)
	log.Infof("Holding %v", h.req)

	var done <-chan time.Time
	if h.duration > 0 {
		done = time.After(h.duration)
	}
	select {
	case <-done:
	case <-ctx.Done():
		log.Infof("Interrupted, releasing %v", h.req)
	}
	g.Unlock()
	fmt.Printf("released %v\n", h.req)
	return subcommands.ExitSuccess
}
