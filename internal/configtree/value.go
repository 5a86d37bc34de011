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

// Config is a recursively typed configuration value: a Map (map[string]Config),
// an Array ([]Config), or a scalar (string, bool, int32, uint32, int64, uint64,
// float64, or nil for Null). It is deliberately an alias for any rather than a
// tagged struct: both encoding/json and gopkg.in/yaml.v3 decode documents
// directly into this shape, so a loaded document needs no conversion step.
type Config = any

// DefaultSentinel is the reserved scalar string that means "inherit from a
// lower tier; no-op in merge" when it appears at any position in a document.
const DefaultSentinel = "__default__"

// IncludeKey is the reserved map key whose value is an array of
// path-or-URI strings to resolve and add (at tier Default) before the
// including document itself.
const IncludeKey = "__include__"

// asMap returns cfg as a map[string]Config and whether the assertion held.
func asMap(cfg Config) (map[string]Config, bool) {
	m, ok := cfg.(map[string]Config)
	return m, ok
}

// asArray returns cfg as a []Config and whether the assertion held.
func asArray(cfg Config) ([]Config, bool) {
	a, ok := cfg.([]Config)
	return a, ok
}

// isDefaultSentinel reports whether cfg is the "__default__" placeholder string.
func isDefaultSentinel(cfg Config) bool {
	s, ok := cfg.(string)
	return ok && s == DefaultSentinel
}

// deepCopy returns a recursive copy of cfg so that callers cannot observe
// mutation of a value after it has been merged or diffed into a result tree.
// Scalars are copied by value assignment; only maps and arrays recurse.
func deepCopy(cfg Config) Config {
	switch v := cfg.(type) {
	case map[string]Config:
		out := make(map[string]Config, len(v))
		for k, vv := range v {
			out[k] = deepCopy(vv)
		}
		return out
	case []Config:
		out := make([]Config, len(v))
		for i, vv := range v {
			out[i] = deepCopy(vv)
		}
		return out
	default:
		return v
	}
}
