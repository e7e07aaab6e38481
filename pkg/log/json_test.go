// Copyright 2018 The gVisor Authors.
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

package log

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// Tests that Level can marshal/unmarshal properly.
func TestLevelMarshal(t *testing.T) {
	lvs := []Level{Warning, Info, Debug}
	for _, lv := range lvs {
		bs, err := lv.MarshalJSON()
		if err != nil {
			t.Errorf("error marshaling %v: %v", lv, err)
		}
		var lv2 Level
		if err := lv2.UnmarshalJSON(bs); err != nil {
			t.Errorf("error unmarshaling %v: %v", bs, err)
		}
		if lv != lv2 {
			t.Errorf("marshal/unmarshal level got %v wanted %v", lv2, lv)
		}
	}
}

// Test that integers can be properly unmarshaled.
func TestUnmarshalFromInt(t *testing.T) {
	tcs := []struct {
		i    int
		want Level
	}{
		{0, Warning},
		{1, Info},
		{2, Debug},
	}

	for _, tc := range tcs {
		j, err := json.Marshal(tc.i)
		if err != nil {
			t.Errorf("error marshaling %v: %v", tc.i, err)
		}
		var lv Level
		if err := lv.UnmarshalJSON(j); err != nil {
			t.Errorf("error unmarshaling %v: %v", j, err)
		}
		if lv != tc.want {
			t.Errorf("marshal/unmarshal %v got %v want %v", tc.i, lv, tc.want)
		}
	}
}

func TestJSONEmitter(t *testing.T) {
	tw := &testWriter{}
	l := &BasicLogger{Level: Info, Emitter: JSONEmitter{&Writer{Next: tw}}}
	l.Warningf("lock %s", "config")

	if len(tw.lines) != 1 {
		t.Fatalf("got %d writes, want 1: %q", len(tw.lines), tw.lines)
	}
	var got jsonLog
	if err := json.Unmarshal([]byte(tw.lines[0]), &got); err != nil {
		t.Fatalf("unmarshal %q: %v", tw.lines[0], err)
	}
	if got.Level != Warning {
		t.Errorf("level = %v, want %v", got.Level, Warning)
	}
	if got.Msg != "lock config" {
		t.Errorf("msg = %q, want %q", got.Msg, "lock config")
	}
	if !strings.HasPrefix(got.Caller, "json_test.go:") {
		t.Errorf("caller = %q, want json_test.go:<line>", got.Caller)
	}
	if got.Fields != nil {
		t.Errorf("fields = %v, want none", got.Fields)
	}
}

type lockFields struct {
	resource string
}

func (f lockFields) LogFields() map[string]string {
	return map[string]string{"resource": f.resource}
}

type opError struct {
	lockFields
	op string
}

func (e *opError) Error() string {
	return e.op + " failed"
}

func (e *opError) LogFields() map[string]string {
	fs := e.lockFields.LogFields()
	fs["op"] = e.op
	return fs
}

func TestJSONEmitterFields(t *testing.T) {
	tw := &testWriter{}
	l := &BasicLogger{Level: Info, Emitter: JSONEmitter{&Writer{Next: tw}}}
	err := fmt.Errorf("releasing: %w", &opError{lockFields{"job"}, "release-write"})
	l.Warningf("%v then %v: %v", lockFields{"config"}, 42, err)

	var got jsonLog
	if err := json.Unmarshal([]byte(tw.output()), &got); err != nil {
		t.Fatalf("unmarshal %q: %v", tw.output(), err)
	}
	want := map[string]string{"resource": "job", "op": "release-write"}
	if diff := cmp.Diff(want, got.Fields); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
}
