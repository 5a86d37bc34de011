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

import (
	"errors"
	"testing"
)

func TestValidate_NilSchemaAcceptsAnything(t *testing.T) {
	if err := Validate(map[string]Config{"anything": int64(1)}, nil); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}
}

func TestValidate_MapSchemaRequiresKeys(t *testing.T) {
	schema := map[string]Config{"name": "", "port": int64(0)}

	if err := Validate(map[string]Config{"name": "svc", "port": int64(8080)}, schema); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}

	if err := Validate(map[string]Config{"name": "svc"}, schema); err == nil {
		t.Fatalf("Validate() = nil, want error for missing key")
	}
}

func TestValidate_ScalarTypeMismatch(t *testing.T) {
	schema := map[string]Config{"port": int64(0)}
	err := Validate(map[string]Config{"port": "8080"}, schema)
	if err == nil {
		t.Fatalf("Validate() = nil, want error for type mismatch")
	}
	var cerr *Error
	if !errors.As(err, &cerr) {
		t.Fatalf("error is not *configtree.Error: %v", err)
	}
	if cerr.Type != ErrorTypeSchemaMismatch {
		t.Fatalf("error type = %v, want %v", cerr.Type, ErrorTypeSchemaMismatch)
	}
}

func TestValidate_ArrayTemplateAppliesToEveryElement(t *testing.T) {
	schema := map[string]Config{"tags": []Config{""}}

	ok := map[string]Config{"tags": []Config{"a", "b", "c"}}
	if err := Validate(ok, schema); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}

	bad := map[string]Config{"tags": []Config{"a", int64(2)}}
	if err := Validate(bad, schema); err == nil {
		t.Fatalf("Validate() = nil, want error for mismatched array element")
	}
}

func TestValidate_EmptyArraySchemaAcceptsAnyArray(t *testing.T) {
	schema := map[string]Config{"tags": []Config{}}
	cfg := map[string]Config{"tags": []Config{"a", int64(2), map[string]Config{"x": true}}}
	if err := Validate(cfg, schema); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}
}

func TestValidate_MultiElementArraySchemaIsIllegal(t *testing.T) {
	schema := []Config{int64(0), int64(0)}
	if err := Validate([]Config{int64(1), int64(2)}, schema); err == nil {
		t.Fatalf("Validate() = nil, want error for illegal array schema")
	}
}

func TestIsValid_MirrorsValidate(t *testing.T) {
	schema := map[string]Config{"a": int64(0)}
	if !IsValid(map[string]Config{"a": int64(1)}, schema) {
		t.Fatalf("IsValid() = false, want true")
	}
	if IsValid(map[string]Config{}, schema) {
		t.Fatalf("IsValid() = true, want false")
	}
}
