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
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"
	"gvisor.dev/ctldlock/pkg/log"
)

func TestResourceOrder(t *testing.T) {
	for i, r := range Resources {
		if int(r) != i {
			t.Errorf("Resources[%d] = %v, want resource %d", i, r, i)
		}
	}
	if got, want := Resources[0], ConfigLock; got != want {
		t.Errorf("first resource = %v, want %v", got, want)
	}
	if got, want := Resources[NumResources-1], PartitionLock; got != want {
		t.Errorf("last resource = %v, want %v", got, want)
	}
}

func TestParseLevel(t *testing.T) {
	for _, tc := range []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{in: "", want: NoLock},
		{in: "none", want: NoLock},
		{in: "read", want: ReadLock},
		{in: "WRITE", want: WriteLock},
		{in: "exclusive", wantErr: true},
	} {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseLevel(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %t", tc.in, err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}

	for _, l := range []Level{NoLock, ReadLock, WriteLock} {
		if got, err := ParseLevel(l.String()); err != nil || got != l {
			t.Errorf("ParseLevel(%q) = %v, %v, want %v", l.String(), got, err, l)
		}
	}
}

func TestLevelFlag(t *testing.T) {
	var req Request
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Var(&req.Job, "job", "")
	fs.Var(&req.Node, "node", "")
	if err := fs.Parse([]string{"--job=write", "--node=read"}); err != nil {
		t.Fatalf("Parse(): %v", err)
	}
	if want := (Request{Job: WriteLock, Node: ReadLock}); req != want {
		t.Errorf("request = %v, want %v", req, want)
	}
	if err := fs.Parse([]string{"--job=bogus"}); err == nil {
		t.Errorf("Parse(--job=bogus) succeeded")
	}
}

func TestRequest(t *testing.T) {
	var req Request
	if !req.Empty() {
		t.Errorf("zero request is not empty")
	}
	req.SetLevel(NodeLock, WriteLock)
	req.SetLevel(ConfigLock, ReadLock)
	for _, r := range Resources {
		want := NoLock
		switch r {
		case ConfigLock:
			want = ReadLock
		case NodeLock:
			want = WriteLock
		}
		if got := req.Level(r); got != want {
			t.Errorf("Level(%v) = %v, want %v", r, got, want)
		}
	}
	if got, want := req.String(), "{config:read node:write}"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got, want := (Request{}).String(), "{}"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestOpLists(t *testing.T) {
	for _, r := range Resources {
		for _, tc := range []struct {
			op   Op
			want int
		}{
			{OpAcquireRead, 3},
			{OpReleaseRead, 1},
			{OpAnnounceWrite, 1},
			{OpClaimWrite, 4},
			{OpReleaseWrite, 1},
		} {
			ops := tc.op.ops(r)
			if len(ops) != tc.want {
				t.Errorf("%v(%v) has %d operations, want %d", tc.op, r, len(ops), tc.want)
			}
			for _, o := range ops {
				if int(o.SemNum)/semsPerResource != int(r) {
					t.Errorf("%v(%v) touches semaphore %d of another resource", tc.op, r, o.SemNum)
				}
			}
		}
	}
}

func TestLogFields(t *testing.T) {
	var b bytes.Buffer
	l := &log.BasicLogger{Level: log.Debug, Emitter: log.JSONEmitter{Writer: &log.Writer{Next: &b}}}
	dec := json.NewDecoder(&b)
	fieldsOf := func() map[string]string {
		t.Helper()
		var rec struct {
			Fields map[string]string `json:"fields"`
		}
		if err := dec.Decode(&rec); err != nil {
			t.Fatalf("decoding log record: %v", err)
		}
		return rec.Fields
	}

	l.Debugf("Acquired %v %v lock", NodeLock, WriteLock)
	if diff := cmp.Diff(map[string]string{"resource": "node", "level": "write"}, fieldsOf()); diff != "" {
		t.Errorf("trace fields mismatch (-want +got):\n%s", diff)
	}

	err := fmt.Errorf("lock failure: %w", &OperationError{Resource: PartitionLock, Op: OpClaimWrite, Err: unix.EIDRM})
	l.Warningf("%v", err)
	want := map[string]string{"resource": "partition", "op": OpClaimWrite.String()}
	if diff := cmp.Diff(want, fieldsOf()); diff != "" {
		t.Errorf("failure fields mismatch (-want +got):\n%s", diff)
	}

	l.Infof("Holding %v", Request{Job: ReadLock})
	if diff := cmp.Diff(map[string]string{"request": "{job:read}"}, fieldsOf()); diff != "" {
		t.Errorf("request fields mismatch (-want +got):\n%s", diff)
	}
}
