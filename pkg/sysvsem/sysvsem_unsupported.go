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

//go:build !linux || !(amd64 || arm64)
// +build !linux !amd64,!arm64

package sysvsem

import (
	"gvisor.dev/ctldlock/pkg/abi/linux"
)

// Create is not supported on this platform.
func Create(key int32, nsems int, mode uint32) (*Set, error) {
	return nil, ErrUnsupported
}

// Get is not supported on this platform.
func Get(key int32, nsems int) (*Set, error) {
	return nil, ErrUnsupported
}

// Open is not supported on this platform.
func Open(id int32, nsems int) (*Set, error) {
	return nil, ErrUnsupported
}

// Op is not supported on this platform.
func (s *Set) Op(ops []linux.Sembuf) error {
	return ErrUnsupported
}

// Values is not supported on this platform.
func (s *Set) Values() ([]uint16, error) {
	return nil, ErrUnsupported
}

// Remove is not supported on this platform.
func (s *Set) Remove() error {
	return ErrUnsupported
}

// Supported reports whether this platform has System V semaphores.
func Supported() bool {
	return false
}
