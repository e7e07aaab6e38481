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

// Package config provides basic infrastructure to set configuration settings
// for lockctl. The configuration is set by flags to the command line, and may
// be seeded from a TOML file.
package config

import (
	"fmt"
	"reflect"
	"time"

	"gvisor.dev/ctldlock/pkg/log"
)

// Config holds configuration that is not part of the lock set itself.
type Config struct {
	// RootDir is the directory holding the id file of the shared lock set.
	RootDir string `flag:"root"`

	// ConfigFile is a TOML file providing flag values. Flags given on the
	// command line take precedence.
	ConfigFile string `flag:"config"`

	// Backend is the lock set implementation.
	Backend Backend `flag:"backend"`

	// Key is the IPC key used to create a System V lock set. Zero creates a
	// private set only reachable through the id file.
	Key int `flag:"key"`

	// SetTimeout is how long to wait for a shared lock set to be created by
	// someone else. Zero fails right away.
	SetTimeout time.Duration `flag:"set-timeout"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// DebugLog is the path to log debug information to, if not empty. The
	// following variables are available: %TIMESTAMP%, %COMMAND%, %PID%.
	DebugLog string `flag:"debug-log"`

	// DebugLogFormat is the log format for debug.
	DebugLogFormat string `flag:"debug-log-format"`

	// AlsoLogToStderr allows to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr"`
}

func (c *Config) validate() error {
	switch c.DebugLogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.DebugLogFormat)
	}
	if c.Key < 0 || c.Key > 1<<31-1 {
		return fmt.Errorf("key %d out of range", c.Key)
	}
	if c.SetTimeout < 0 {
		return fmt.Errorf("set-timeout must not be negative: %v", c.SetTimeout)
	}
	return nil
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			continue
		}
		log.Infof("\t%s: %s", name, getVal(obj.Field(i)))
	}
}

// Backend selects the lock set implementation.
type Backend int

const (
	// BackendLocal keeps the lock set inside the process. Only useful for
	// commands that run all lock users themselves.
	BackendLocal Backend = iota

	// BackendSysV uses a kernel System V semaphore set shared by every
	// process that opens it through the root directory.
	BackendSysV
)

func backendPtr(b Backend) *Backend {
	return &b
}

// Set implements flag.Value.
func (b *Backend) Set(v string) error {
	switch v {
	case "local":
		*b = BackendLocal
	case "sysv":
		*b = BackendSysV
	default:
		return fmt.Errorf("invalid backend %q", v)
	}
	return nil
}

// Get implements flag.Getter.
func (b *Backend) Get() any {
	return *b
}

// String implements flag.Value.
func (b Backend) String() string {
	switch b {
	case BackendLocal:
		return "local"
	case BackendSysV:
		return "sysv"
	}
	panic(fmt.Sprintf("Invalid backend %d", b))
}
