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
	"fmt"
	"reflect"
)

// Validate checks cfg against a schema that mirrors its expected shape:
//   - a null schema accepts anything;
//   - a scalar schema requires cfg to be a scalar of the same concrete type;
//   - a Map schema requires every key present in the schema to be present in
//     cfg, each valid recursively;
//   - an Array schema of length 0 accepts any array; length 1 requires every
//     element of cfg to match the single template element; lengths greater
//     than 1 are rejected as an illegal schema.
func Validate(cfg, schema Config) error {
	return validate(cfg, schema, "$")
}

// IsValid reports whether cfg satisfies schema.
func IsValid(cfg, schema Config) bool {
	return Validate(cfg, schema) == nil
}

func validate(cfg, schema Config, path string) error {
	if schema == nil {
		return nil
	}

	if schemaMap, ok := asMap(schema); ok {
		cfgMap, ok := asMap(cfg)
		if !ok {
			return mismatchErr(path, "expected a map")
		}
		for key, sub := range schemaMap {
			val, present := cfgMap[key]
			if !present {
				return mismatchErr(path+"."+key, "missing required key")
			}
			if err := validate(val, sub, path+"."+key); err != nil {
				return err
			}
		}
		return nil
	}

	if schemaArr, ok := asArray(schema); ok {
		cfgArr, ok := asArray(cfg)
		if !ok {
			return mismatchErr(path, "expected an array")
		}
		switch len(schemaArr) {
		case 0:
			return nil
		case 1:
			template := schemaArr[0]
			for i, elem := range cfgArr {
				if err := validate(elem, template, fmt.Sprintf("%s[%d]", path, i)); err != nil {
					return err
				}
			}
			return nil
		default:
			return &Error{
				Type:    ErrorTypeSchemaMismatch,
				Message: "array schemas of length greater than 1 are illegal",
				Detail:  map[string]string{"path": path},
			}
		}
	}

	// Scalar schema: cfg must be a scalar of the identical concrete type.
	if _, ok := asMap(cfg); ok {
		return mismatchErr(path, "expected a scalar, found a map")
	}
	if _, ok := asArray(cfg); ok {
		return mismatchErr(path, "expected a scalar, found an array")
	}
	if reflect.TypeOf(cfg) != reflect.TypeOf(schema) {
		return mismatchErr(path, fmt.Sprintf("expected type %T, found %T", schema, cfg))
	}
	return nil
}

func mismatchErr(path, reason string) error {
	return &Error{
		Type:    ErrorTypeSchemaMismatch,
		Message: reason,
		Detail:  map[string]string{"path": path},
	}
}
