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

	"github.com/google/subcommands"
	"gvisor.dev/ctldlock/lockctl/config"
	"gvisor.dev/ctldlock/pkg/ctldlock"
	"gvisor.dev/ctldlock/pkg/log"
	"gvisor.dev/ctldlock/pkg/sysvsem"
)

// Create implements subcommands.Command for the "create" command.
type Create struct{}

// Name implements subcommands.Command.Name.
func (*Create) Name() string {
	return "create"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Create) Synopsis() string {
	return "create the shared lock set"
}

// Usage implements subcommands.Command.Usage.
func (*Create) Usage() string {
	return `create [flags] - create a System V lock set and record its id under --root.
It is a no-op if a live set is already recorded. With --key, a set already
made under that key is adopted instead.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Create) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Create) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	requireSysV(conf, "create")

	s, created, err := sysvsem.CreateShared(conf.RootDir, int32(conf.Key), ctldlock.NumSemaphores, 0600)
	if err != nil {
		Fatalf("creating lock set: %v", err)
	}
	if created {
		log.Infof("Created lock set %v, id recorded in %q", s, sysvsem.IDPath(conf.RootDir))
	} else {
		log.Infof("Lock set %v already exists", s)
	}
	fmt.Println(s.ID())
	return subcommands.ExitSuccess
}
