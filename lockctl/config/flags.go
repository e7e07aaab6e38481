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

package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"

	"github.com/BurntSushi/toml"
)

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.String("root", "", "root directory holding the id file of the shared lock set.")
	flagSet.String("config", "", "TOML file with flag values, e.g. `backend = \"sysv\"`. Command line flags take precedence.")
	flagSet.Var(backendPtr(BackendSysV), "backend", "lock set implementation: sysv (default) shares a kernel semaphore set between processes, local keeps it in process.")
	flagSet.Int("key", 0, "IPC key used by 'create'. 0 creates a private set reachable only through the id file.")
	flagSet.Duration("set-timeout", 0, "how long to wait for the shared lock set to be created. 0 fails right away.")

	// Debugging flags.
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.String("debug-log", "", "additional location for logs. The following variables are available: %TIMESTAMP%, %COMMAND%, %PID%.")
	flagSet.String("debug-log-format", "text", "log format: text (default), json.")
	flagSet.Bool("alsologtostderr", false, "send log messages to stderr.")
}

// NewFromFlags creates a new Config with values coming from command line flags
// and, if --config is set, from the named file.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	if fl := flagSet.Lookup("config"); fl != nil && fl.Value.String() != "" {
		if err := loadFile(flagSet, fl.Value.String()); err != nil {
			return nil, err
		}
	}

	conf := &Config{}

	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		x := reflect.ValueOf(fl.Value.(flag.Getter).Get())
		obj.Field(i).Set(x)
	}

	if len(conf.RootDir) == 0 {
		// If not set, set default root dir to something (hopefully) user-writeable.
		conf.RootDir = "/var/run/ctldlock"
		// NOTE: empty values for XDG_RUNTIME_DIR should be ignored.
		if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
			conf.RootDir = filepath.Join(runtimeDir, "ctldlock")
		}
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// loadFile sets every flag named in the TOML file at path, unless the flag
// was already given on the command line.
func loadFile(flagSet *flag.FlagSet, path string) error {
	vals := map[string]any{}
	if _, err := toml.DecodeFile(path, &vals); err != nil {
		return fmt.Errorf("error reading config file %q: %w", path, err)
	}

	explicit := map[string]bool{}
	flagSet.Visit(func(f *flag.Flag) {
		explicit[f.Name] = true
	})

	// Sorted so that errors are reported deterministically.
	names := make([]string, 0, len(vals))
	for name := range vals {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if name == "config" {
			return fmt.Errorf("config file %q: nested config files are not supported", path)
		}
		if flagSet.Lookup(name) == nil {
			return fmt.Errorf("config file %q: unknown flag %q", path, name)
		}
		if explicit[name] {
			continue
		}
		if err := flagSet.Set(name, fmt.Sprint(vals[name])); err != nil {
			return fmt.Errorf("config file %q: %w", path, err)
		}
	}
	return nil
}

// ToFlags returns a slice of flags that correspond to the given Config.
func (c *Config) ToFlags() []string {
	var rv []string

	// Construct a temporary set for default plumbing.
	flagSet := flag.NewFlagSet("tmp", flag.ContinueOnError)
	RegisterFlags(flagSet)

	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		val := getVal(obj.Field(i))

		flag := flagSet.Lookup(name)
		if flag == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		if val == flag.DefValue {
			continue
		}
		rv = append(rv, fmt.Sprintf("--%s=%s", flag.Name, val))
	}
	return rv
}

func getVal(field reflect.Value) string {
	if str, ok := field.Addr().Interface().(fmt.Stringer); ok {
		return str.String()
	}
	switch field.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(field.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(field.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(field.Uint(), 10)
	case reflect.String:
		return field.String()
	default:
		panic("unknown type " + field.Kind().String())
	}
}
