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

// Package cmd holds implementations of the lockctl commands.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/dc0d/onexit"
	"golang.org/x/sys/unix"
	"gvisor.dev/ctldlock/lockctl/config"
	"gvisor.dev/ctldlock/pkg/ctldlock"
	"gvisor.dev/ctldlock/pkg/log"
	"gvisor.dev/ctldlock/pkg/sysvsem"
)

// Fatalf logs to stderr and exits with a failure status code. Exit hooks,
// including the abort of any lock manager, run first.
func Fatalf(s string, args ...any) {
	log.Warningf("FATAL ERROR: "+s, args...)
	fmt.Fprintf(os.Stderr, "FATAL ERROR: "+s+"\n", args...)
	// Return an error that is unlikely to be used by the application.
	onexit.ForceExit(128)
}

// NotifyInterrupts returns a context done on SIGINT or SIGTERM.
//
// Exit hooks only run on the way out through onexit.ForceExit. onexit also
// runs them from its own handler for SIGINT, SIGTERM, SIGQUIT and SIGTSTP
// without exiting, which would release held locks under a process that keeps
// running. That handler is taken off here, and SIGQUIT and SIGTSTP get their
// default behavior back.
func NotifyInterrupts(ctx context.Context) (context.Context, context.CancelFunc) {
	signal.Reset(unix.SIGINT, unix.SIGTERM, unix.SIGQUIT, unix.SIGTSTP)
	return signal.NotifyContext(ctx, unix.SIGINT, unix.SIGTERM)
}

// openSet returns a function opening the shared lock set configured by
// conf, waiting for it up to conf.SetTimeout.
func openSet(ctx context.Context, conf *config.Config) func() (ctldlock.Semaphores, error) {
	return func() (ctldlock.Semaphores, error) {
		var (
			s   *sysvsem.Set
			err error
		)
		if conf.SetTimeout > 0 {
			ctx, cancel := context.WithTimeout(ctx, conf.SetTimeout)
			defer cancel()
			s, err = sysvsem.WaitOpenShared(ctx, conf.RootDir, ctldlock.NumSemaphores)
		} else {
			s, err = sysvsem.OpenShared(conf.RootDir, ctldlock.NumSemaphores)
		}
		if err != nil {
			return nil, fmt.Errorf("opening lock set under %q: %w", conf.RootDir, err)
		}
		log.Debugf("Opened lock set %v", s)
		return s, nil
	}
}

// newManager returns an initialized manager for the configured backend. It
// is aborted by the exit hooks, and lock failures are fatal.
func newManager(ctx context.Context, conf *config.Config, tracer ctldlock.Tracer) *ctldlock.Manager {
	opts := ctldlock.Options{
		OnFailure: func(err error) {
			Fatalf("lock failure: %v", err)
		},
		Tracer: tracer,
	}
	switch conf.Backend {
	case config.BackendLocal:
		opts.NewSemaphores = ctldlock.NewLocalSemaphores
	case config.BackendSysV:
		opts.NewSemaphores = openSet(ctx, conf)
	}
	m := ctldlock.NewManager(opts)
	onexit.Register(m.Abort)
	if err := m.Init(); err != nil {
		Fatalf("%v", err)
	}
	return m
}

// requireSysV fails unless the configured backend is shared between
// processes.
func requireSysV(conf *config.Config, command string) {
	if conf.Backend != config.BackendSysV {
		Fatalf("%q needs a shared lock set, use --backend=sysv", command)
	}
}

// logTracer logs every lock step at debug level.
type logTracer struct{}

// Acquired implements ctldlock.Tracer.Acquired.
func (logTracer) Acquired(r ctldlock.Resource, l ctldlock.Level) {
	log.Debugf("Acquired %v %v lock", r, l)
}

// Released implements ctldlock.Tracer.Released.
func (logTracer) Released(r ctldlock.Resource, l ctldlock.Level) {
	log.Debugf("Released %v %v lock", r, l)
}
