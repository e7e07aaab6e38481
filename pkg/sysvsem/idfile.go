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

package sysvsem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
	"gvisor.dev/ctldlock/pkg/log"
)

const (
	// idFilename is the file, inside the root directory, holding the id of
	// the set shared by cooperating processes.
	idFilename = "ctldlock.id"

	// lockFilename serializes creation and removal of the id file.
	lockFilename = "ctldlock.lock"
)

// IDPath returns the path of the id file under root.
func IDPath(root string) string {
	return filepath.Join(root, idFilename)
}

// lockRoot takes a file lock on the lock file in root. Exclusive locks are
// taken by writers of the id file, shared ones by readers.
func lockRoot(root string, exclusive bool) (func() error, error) {
	if err := os.MkdirAll(root, 0711); err != nil {
		return nil, fmt.Errorf("error creating root directory %q: %v", root, err)
	}
	f := filepath.Join(root, lockFilename)
	l := flock.NewFlock(f)
	lock := l.RLock
	if exclusive {
		lock = l.Lock
	}
	if err := lock(); err != nil {
		return nil, fmt.Errorf("error acquiring lock on %q: %v", f, err)
	}
	return l.Unlock, nil
}

func readID(root string) (int32, error) {
	b, err := os.ReadFile(IDPath(root))
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid id file %q: %v", IDPath(root), err)
	}
	return int32(id), nil
}

func writeID(root string, id int32) error {
	tmp := IDPath(root) + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(int(id))+"\n"), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, IDPath(root))
}

// CreateShared returns the set recorded under root, creating it and
// recording its id if there is none or the recorded one is gone. A set that
// already exists under a non-private key is adopted and recorded. created
// reports whether a new set was made.
func CreateShared(root string, key int32, nsems int, mode uint32) (s *Set, created bool, err error) {
	unlock, err := lockRoot(root, true)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	if id, err := readID(root); err == nil {
		if s, err := Open(id, nsems); err == nil {
			return s, false, nil
		}
		// Stale file left behind by a removed set; replace it.
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}

	s, err = Create(key, nsems, mode)
	switch {
	case err == nil:
		created = true
	case errors.Is(err, unix.EEXIST):
		// Created under the same key by a process that never recorded it.
		if s, err = Get(key, nsems); err != nil {
			return nil, false, err
		}
		log.Infof("Adopting existing semaphore set %v with key %#x", s, key)
	default:
		return nil, false, err
	}
	if err := writeID(root, s.ID()); err != nil {
		if created {
			if rerr := s.Remove(); rerr != nil {
				log.Warningf("Removing semaphore set %v after failing to record it: %v", s, rerr)
			}
		}
		return nil, false, fmt.Errorf("error recording semaphore set id: %v", err)
	}
	return s, created, nil
}

// OpenShared returns the set recorded under root.
func OpenShared(root string, nsems int) (*Set, error) {
	unlock, err := lockRoot(root, false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	id, err := readID(root)
	if err != nil {
		return nil, err
	}
	return Open(id, nsems)
}

// WaitOpenShared is like OpenShared, but keeps trying until the set shows up
// or ctx is done.
func WaitOpenShared(ctx context.Context, root string, nsems int) (*Set, error) {
	var s *Set
	b := backoff.WithContext(backoff.NewConstantBackOff(100*time.Millisecond), ctx)
	op := func() error {
		var err error
		s, err = OpenShared(root, nsems)
		return err
	}
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return s, nil
}

// RemoveShared removes the set recorded under root and its id file.
func RemoveShared(root string, nsems int) error {
	unlock, err := lockRoot(root, true)
	if err != nil {
		return err
	}
	defer unlock()

	id, err := readID(root)
	if err != nil {
		return err
	}
	if s, err := Open(id, nsems); err == nil {
		if err := s.Remove(); err != nil {
			return err
		}
	}
	return os.Remove(IDPath(root))
}
