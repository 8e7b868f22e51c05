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

// Package errors holds the standardized error definition for the virtual
// memory subsystem.
package errors

// Code enumerates the status classes an operation can fail with.
type Code uint32

// Status codes. The zero value is deliberately not a valid code.
const (
	_ Code = iota

	// CodeInvalidArgs indicates a misaligned or out-of-bounds argument.
	CodeInvalidArgs

	// CodeBadState indicates an operation on an object in the wrong
	// lifecycle state.
	CodeBadState

	// CodeAccessDenied indicates a permission check failed.
	CodeAccessDenied

	// CodeOutOfRange indicates a range argument exceeding the target's
	// bounds.
	CodeOutOfRange

	// CodeNoMemory indicates resource exhaustion.
	CodeNoMemory

	// CodeNotFound indicates the requested entry does not exist.
	CodeNotFound
)

// String implements fmt.Stringer.String.
func (c Code) String() string {
	switch c {
	case CodeInvalidArgs:
		return "InvalidArgs"
	case CodeBadState:
		return "BadState"
	case CodeAccessDenied:
		return "AccessDenied"
	case CodeOutOfRange:
		return "OutOfRange"
	case CodeNoMemory:
		return "NoMemory"
	case CodeNotFound:
		return "NotFound"
	default:
		return "Unknown"
	}
}

// Error represents a status code with a descriptive message.
type Error struct {
	code    Code
	message string
}

// New creates a new *Error.
func New(code Code, message string) *Error {
	return &Error{
		code:    code,
		message: message,
	}
}

// Error implements error.Error.
func (e *Error) Error() string { return e.message }

// Code returns the underlying status code.
func (e *Error) Code() Code { return e.code }
