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
	"errors"
	"fmt"
)

// ErrAborted is returned for any use of a Manager after Abort.
var ErrAborted = errors.New("lock set aborted")

// InitializationError is returned when the lock set cannot be created.
type InitializationError struct {
	Err error
}

// Error implements error.Error.
func (e *InitializationError) Error() string {
	return fmt.Sprintf("creating lock set: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *InitializationError) Unwrap() error {
	return e.Err
}

// OperationError is returned when a lock step fails. Once a step has failed
// the state of the lock set can no longer be trusted.
type OperationError struct {
	Resource Resource
	Op       Op
	Err      error
}

// Error implements error.Error.
func (e *OperationError) Error() string {
	return fmt.Sprintf("%s on %s lock: %v", e.Op, e.Resource, e.Err)
}

// Unwrap returns the underlying error.
func (e *OperationError) Unwrap() error {
	return e.Err
}

// LogFields implements log.Fielder.
func (e *OperationError) LogFields() map[string]string {
	return map[string]string{
		"resource": e.Resource.String(),
		"op":       e.Op.String(),
	}
}

// panicOnFailure is the default Options.OnFailure.
func panicOnFailure(err error) {
	panic(err)
}
