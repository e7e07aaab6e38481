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

	"github.com/google/subcommands"
	"gvisor.dev/ctldlock/lockctl/config"
	"gvisor.dev/ctldlock/pkg/ctldlock"
	"gvisor.dev/ctldlock/pkg/log"
	"gvisor.dev/ctldlock/pkg/sysvsem"
)

// Remove implements subcommands.Command for the "remove" command.
type Remove struct{}

// Name implements subcommands.Command.Name.
func (*Remove) Name() string {
	return "remove"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Remove) Synopsis() string {
	return "remove the shared lock set"
}

// Usage implements subcommands.Command.Usage.
func (*Remove) Usage() string {
	return `remove [flags] - remove the lock set recorded under --root and its id file.
Processes blocked on the set fail with EIDRM.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Remove) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Remove) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	requireSysV(conf, "remove")

	if err := sysvsem.RemoveShared(conf.RootDir, ctldlock.NumSemaphores); err != nil {
		Fatalf("removing lock set: %v", err)
	}
	log.Infof("Removed lock set under %q", conf.RootDir)
	return subcommands.ExitSuccess
}
