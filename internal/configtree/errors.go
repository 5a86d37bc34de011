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

package configtree

import "fmt"

// ErrorType classifies configtree errors, matching spec §7's Configuration
// error kinds (file-not-found, invalid-JSON, invalid-include, invalid-id,
// schema-mismatch).
type ErrorType string

const (
	ErrorTypeFileNotFound   ErrorType = "file_not_found"
	ErrorTypeInvalidDoc     ErrorType = "invalid_document"
	ErrorTypeInvalidInclude ErrorType = "invalid_include"
	ErrorTypeInvalidID      ErrorType = "invalid_id"
	ErrorTypeSchemaMismatch ErrorType = "schema_mismatch"
	ErrorTypeUnknownTier    ErrorType = "unknown_tier"
)

// Error is a structured configtree error carrying the offending path or key
// in Detail, in the style of internal/operation.Error.
type Error struct {
	Type    ErrorType
	Message string
	Detail  map[string]string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("configtree: %s", e.Message)
	if e.Type != "" {
		msg = fmt.Sprintf("%s (type: %s)", msg, e.Type)
	}
	if path, ok := e.Detail["path"]; ok {
		msg = fmt.Sprintf("%s [path: %s]", msg, path)
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
// on retry. Configuration errors are never transient.
func (e *Error) IsRetryable() bool {
	return false
}
