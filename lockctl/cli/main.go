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

// Package cli is the main entrypoint for lockctl.
package cli

import (
	"context"
	"flag"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/dc0d/onexit"
	"github.com/google/subcommands"
	"gvisor.dev/ctldlock/lockctl/cmd"
	"gvisor.dev/ctldlock/lockctl/config"
	"gvisor.dev/ctldlock/pkg/log"
)

// Main is the main entrypoint.
func Main() {
	// Register all commands.
	forEachCmd(subcommands.Register)

	// Register with the main command line.
	config.RegisterFlags(flag.CommandLine)

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	// Create a new Config from the flags.
	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		cmd.Fatalf("%v", err)
	}

	subcommand := flag.CommandLine.Arg(0)

	// Set up logging.
	if conf.Debug {
		log.SetLevel(log.Debug)
	}

	var emitters log.MultiEmitter
	if len(conf.DebugLog) > 0 {
		opts := log.PatternOpts{Command: subcommand, Timestamp: time.Now()}
		f, err := log.OpenFile(conf.DebugLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, opts)
		if err != nil {
			cmd.Fatalf("error opening debug log file in %q: %v", conf.DebugLog, err)
		}
		// Close after every other hook, which may still log.
		onexit.Register(func() { f.Close() }, -1)
		emitters = append(emitters, newEmitter(conf.DebugLogFormat, f))
	}
	if conf.AlsoLogToStderr || len(emitters) == 0 {
		// Without a debug log, warnings still need to reach the operator.
		emitters = append(emitters, newEmitter(conf.DebugLogFormat, os.Stderr))
	}

	switch len(emitters) {
	case 1:
		// Use the singular emitter to avoid needless
		// `for` loop overhead when logging to a single place.
		log.SetTarget(emitters[0])
	default:
		log.SetTarget(&emitters)
	}

	const delimString = `**************** lockctl ****************`
	log.Debugf(delimString)
	log.Debugf("%s, %s, %d CPUs, %s, PID %d, PPID %d, UID %d, GID %d", runtime.Version(), runtime.GOARCH, runtime.NumCPU(), runtime.GOOS, os.Getpid(), os.Getppid(), os.Getuid(), os.Getgid())
	log.Debugf("Args: %v", os.Args)
	if log.IsLogging(log.Debug) {
		conf.Log()
	}
	log.Debugf(delimString)

	// Interrupts end holds and stress runs gracefully. Commands blocked on
	// a lock decide themselves whether to give up.
	ctx, stop := cmd.NotifyInterrupts(context.Background())
	defer stop()

	// Call the subcommand and pass in the configuration.
	subcmdCode := subcommands.Execute(ctx, conf)
	if subcmdCode == subcommands.ExitSuccess {
		log.Debugf("Exiting with status: %v", subcmdCode)
		onexit.ForceExit(0)
	}
	// Return an error that is unlikely to be used by the application.
	log.Warningf("Failure to execute command, err: %v", subcmdCode)
	onexit.ForceExit(128)
}

// forEachCmd invokes the passed callback for each command supported by
// lockctl.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")

	cb(new(cmd.Create), "")
	cb(new(cmd.Hold), "")
	cb(new(cmd.Remove), "")
	cb(new(cmd.State), "")

	const debugGroup = "debug"
	cb(new(cmd.Stress), debugGroup)
}

func newEmitter(format string, logFile io.Writer) log.Emitter {
	switch format {
	case "text":
		return log.GoogleEmitter{Emitter: &log.Writer{Next: logFile}}
	case "json":
		return log.JSONEmitter{Writer: &log.Writer{Next: logFile}}
	}
	cmd.Fatalf("invalid log format %q, must be 'text' or 'json'", format)
	panic("unreachable")
}
