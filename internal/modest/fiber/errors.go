// Copyright 2025 Tom Barlow
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

package fiber

import "fmt"

// ErrorType classifies fiber errors (spec §7's Fiber kind).
type ErrorType string

const (
	// ErrorTypeInvalidTransition names malformed directives. The Scheduler
	// does not validate directives and never produces an error of this type.
	ErrorTypeInvalidTransition ErrorType = "invalid_transition"
	// ErrorTypePanicked marks a fiber whose Step panicked; the scheduler
	// recovers and kills only that fiber, per spec §7's per-fiber error slot.
	ErrorTypePanicked ErrorType = "panicked"
)

// Error is a structured fiber error, in the style of kernel.Error and
// configtree.Error.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("fiber: %s", e.Message)
	if e.Type != "" {
		msg = fmt.Sprintf("%s (type: %s)", msg, e.Type)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap supports errors.Is/errors.As against Cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorType returns a string identifying the error category, for callers
// that want to branch on kind without a type assertion.
func (e *Error) ErrorType() string {
	return string(e.Type)
}

// IsRetryable reports whether the operation that produced e might succeed
// on retry. Fiber errors are terminal for that fiber; never retryable.
func (e *Error) IsRetryable() bool {
	return false
}
