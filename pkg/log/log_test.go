// Copyright 2018 Google LLC
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
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type testWriter struct {
	lines []string
	fail  bool
}

func (w *testWriter) Write(bytes []byte) (int, error) {
	if w.fail {
		return 0, fmt.Errorf("simulated failure")
	}
	w.lines = append(w.lines, string(bytes))
	return len(bytes), nil
}

// output returns everything written so far.
func (w *testWriter) output() string {
	return strings.Join(w.lines, "")
}

func TestDropMessages(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("line 1\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	tw.fail = true
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}

	tw.fail = false
	if _, err := w.Write([]byte("line 2\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	want := []string{
		"line 1\n",
		"line 2\n",
		"\n*** Dropped 2 log messages ***\n",
	}
	if diff := cmp.Diff(want, tw.lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestWriterAppendsNewline(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("no newline")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}
	if diff := cmp.Diff([]string{"no newline", "\n"}, tw.lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestLevels(t *testing.T) {
	tw := &testWriter{}
	l := &BasicLogger{Level: Info, Emitter: &Writer{Next: tw}}

	l.Debugf("debug")
	l.Infof("info")
	l.Warningf("warning")
	if got, want := tw.output(), "info\nwarning\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}

	l.SetLevel(Debug)
	if !l.IsLogging(Debug) {
		t.Errorf("IsLogging(Debug) = false after SetLevel(Debug)")
	}
	l.Debugf("debug %d", 2)
	if got, want := tw.output(), "info\nwarning\ndebug 2\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestGoogleEmitter(t *testing.T) {
	tw := &testWriter{}
	l := &BasicLogger{Level: Debug, Emitter: GoogleEmitter{&Writer{Next: tw}}}
	l.Warningf("hello %d", 1)

	if len(tw.lines) != 1 {
		t.Fatalf("got %d lines, want 1: %v", len(tw.lines), tw.lines)
	}
	line := tw.lines[0]
	if !strings.HasPrefix(line, "W") {
		t.Errorf("line %q does not start with the level", line)
	}
	if !strings.Contains(line, " log_test.go:") {
		t.Errorf("line %q does not name the caller", line)
	}
	if !strings.HasSuffix(line, "] hello 1\n") {
		t.Errorf("line %q does not end with the message", line)
	}
}

func TestMultiEmitter(t *testing.T) {
	tw1, tw2 := &testWriter{}, &testWriter{}
	m := MultiEmitter{&Writer{Next: tw1}, &Writer{Next: tw2}}
	l := &BasicLogger{Level: Info, Emitter: &m}
	l.Infof("both")
	for i, tw := range []*testWriter{tw1, tw2} {
		if got, want := tw.output(), "both\n"; got != want {
			t.Errorf("emitter %d output = %q, want %q", i, got, want)
		}
	}
}

func TestRateLimitedLogger(t *testing.T) {
	tw := &testWriter{}
	l := RateLimitedLogger(&BasicLogger{Level: Info, Emitter: &Writer{Next: tw}}, time.Hour)
	for i := 0; i < 3; i++ {
		l.Infof("progress %d", i)
	}
	if got, want := tw.output(), "progress 0\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestRateLimitedLoggerReportsDropped(t *testing.T) {
	tw := &testWriter{}
	l := RateLimitedLogger(&BasicLogger{Level: Info, Emitter: &Writer{Next: tw}}, 200*time.Millisecond)
	for i := 0; i < 3; i++ {
		l.Infof("progress %d", i)
	}
	time.Sleep(300 * time.Millisecond)
	l.Infof("progress %d", 3)
	if got, want := tw.output(), "progress 0\nprogress 3 (2 messages dropped)\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestOpenFile(t *testing.T) {
	dir := t.TempDir()
	pattern := filepath.Join(dir, "logs", "lockctl.%COMMAND%.%PID%.log")
	f, err := OpenFile(pattern, os.O_CREATE|os.O_WRONLY|os.O_APPEND, PatternOpts{Command: "hold"})
	if err != nil {
		t.Fatalf("OpenFile(): %v", err)
	}
	defer f.Close()

	want := filepath.Join(dir, "logs", fmt.Sprintf("lockctl.hold.%d.log", os.Getpid()))
	if f.Name() != want {
		t.Errorf("file name = %q, want %q", f.Name(), want)
	}

	if f, err := OpenFile("", 0, PatternOpts{}); f != nil || err != nil {
		t.Errorf("OpenFile(\"\") = %v, %v, want nil, nil", f, err)
	}
}
