// Copyright 2026 The VMCore Authors.
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

// Package vmerr holds the sentinel errors returned by the virtual memory
// subsystem. Errors are compared by identity; helper predicates are provided
// for callers that only care about the status class.
package vmerr

import (
	stderrors "errors"

	"vmcore.dev/vmcore/pkg/errors"
)

var (
	// ErrInvalidArgs is returned for misaligned addresses or sizes, and for
	// ranges not contained in the target mapping.
	ErrInvalidArgs = errors.New(errors.CodeInvalidArgs, "invalid arguments")

	// ErrBadState is returned for operations on a mapping that is not
	// alive, or whose parent has been torn down.
	ErrBadState = errors.New(errors.CodeBadState, "bad state")

	// ErrAccessDenied is returned when an operation would escalate
	// permissions beyond policy, or tear down a permanently-resident
	// mapping.
	ErrAccessDenied = errors.New(errors.CodeAccessDenied, "access denied")

	// ErrOutOfRange is returned when a range argument exceeds the target's
	// size.
	ErrOutOfRange = errors.New(errors.CodeOutOfRange, "out of range")

	// ErrNoMemory is returned on allocation failure, either of a new
	// mapping during a split or of hardware page-table structures.
	ErrNoMemory = errors.New(errors.CodeNoMemory, "no memory")

	// ErrNotFound is returned by hardware page-table queries when nothing
	// is mapped at the requested address, and by object lookups that find
	// no page.
	ErrNotFound = errors.New(errors.CodeNotFound, "not found")
)

// Code extracts the status code from err, unwrapping as needed. ok is false
// if err carries no code.
func Code(err error) (code errors.Code, ok bool) {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return e.Code(), true
	}
	return 0, false
}
