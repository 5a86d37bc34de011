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

package kernel

import (
	"errors"
	"fmt"
)

// ErrOperationCancelled is the terminal error recorded on an Operation that
// was canceled by its guard's MustCancelAfterWait instead of run. The Engine
// also records it on an Operation whose Runnable panicked; that Operation
// counts as finished, not canceled. Per spec
// §7, a guard returning false is never itself an error; only cancellation
// is surfaced this way.
var ErrOperationCancelled = errors.New("kernel: operation cancelled")

// ErrorType classifies kernel runtime errors (spec §7's Runtime kinds).
type ErrorType string

const (
	ErrorTypeInterrupted   ErrorType = "interrupted"
	ErrorTypeTimedOut      ErrorType = "timed_out"
	ErrorTypePoolSaturated ErrorType = "pool_saturated"
	ErrorTypeCancelled     ErrorType = "operation_cancelled"
)

// Error is a structured kernel error, in the style of internal/operation.Error
// and configtree.Error.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("kernel: %s", e.Message)
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
// on retry. Pool saturation is the only kernel condition worth a caller
// retrying.
func (e *Error) IsRetryable() bool {
	return e.Type == ErrorTypePoolSaturated
}
