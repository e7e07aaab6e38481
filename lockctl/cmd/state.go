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
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	yaml "gopkg.in/yaml.v2"
	"gvisor.dev/ctldlock/lockctl/config"
	"gvisor.dev/ctldlock/pkg/ctldlock"
	"gvisor.dev/ctldlock/pkg/log"
)

// State implements subcommands.Command for the "state" command.
type State struct {
	format string
}

// Name implements subcommands.Command.Name.
func (*State) Name() string {
	return "state"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*State) Synopsis() string {
	return "print the counters of every lock"
}

// Usage implements subcommands.Command.Usage.
func (*State) Usage() string {
	return `state [flags] - print readers, writers and pending writers of every lock.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *State) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.format, "format", "text", "output format: text (default), json, yaml.")
}

// Execute implements subcommands.Command.Execute.
func (s *State) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	requireSysV(conf, "state")

	m := newManager(ctx, conf, nil)
	st, err := m.Snapshot()
	if err != nil {
		Fatalf("reading lock state: %v", err)
	}
	log.Debugf("Returning lock state %+v", st)
	if err := writeState(os.Stdout, s.format, st); err != nil {
		Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

// lockState is the JSON form of one lock.
type lockState struct {
	Resource       string `json:"resource" yaml:"resource"`
	Readers        uint16 `json:"readers" yaml:"readers"`
	Writers        uint16 `json:"writers" yaml:"writers"`
	PendingWriters uint16 `json:"pendingWriters" yaml:"pendingWriters"`
	Valid          bool   `json:"valid" yaml:"valid"`
}

func writeState(w io.Writer, format string, st [ctldlock.NumResources]ctldlock.State) error {
	switch format {
	case "text":
		tw := tabwriter.NewWriter(w, 10, 1, 3, ' ', 0)
		fmt.Fprint(tw, "RESOURCE\tREADERS\tWRITERS\tPENDING\tVALID\n")
		for _, r := range ctldlock.Resources {
			s := st[r]
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%t\n", r, s.Readers, s.Writers, s.PendingWriters, s.Valid())
		}
		return tw.Flush()
	case "json":
		b, err := json.MarshalIndent(lockStates(st), "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling lock state: %v", err)
		}
		b = append(b, '\n')
		_, err = w.Write(b)
		return err
	case "yaml":
		b, err := yaml.Marshal(lockStates(st))
		if err != nil {
			return fmt.Errorf("marshaling lock state: %v", err)
		}
		_, err = w.Write(b)
		return err
	default:
		return fmt.Errorf("invalid format %q, must be 'text', 'json' or 'yaml'", format)
	}
}

func lockStates(st [ctldlock.NumResources]ctldlock.State) []lockState {
	locks := make([]lockState, 0, len(st))
	for _, r := range ctldlock.Resources {
		s := st[r]
		locks = append(locks, lockState{
			Resource:       r.String(),
			Readers:        s.Readers,
			Writers:        s.Writers,
			PendingWriters: s.PendingWriters,
			Valid:          s.Valid(),
		})
	}
	return locks
}
