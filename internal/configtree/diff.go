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

// Diff returns a minimal Config describing how b differs from a. It returns
// nil when there is no difference at all (diff(x, x) is always nil).
//
//   - null -> null: no diff.
//   - stuff -> null: diff is explicit null.
//   - null -> stuff, or a type change: diff is a deep copy of b.
//   - unequal scalars: diff is b.
//   - Maps: recurse over keys of b only (diff ignores removals); only keys
//     that changed or are new are included.
//   - Arrays: recurse over indices of b; indices unchanged from a emit the
//     "__default__" sentinel so the positional layout is preserved.
func Diff(a, b Config) Config {
	result, _ := diff(a, b)
	return result
}

// diff returns (the diff value, whether there is a difference at all).
func diff(a, b Config) (Config, bool) {
	if a == nil && b == nil {
		return nil, false
	}
	if b == nil {
		return nil, true
	}
	if a == nil {
		return deepCopy(b), true
	}

	if bMap, ok := asMap(b); ok {
		aMap, ok := asMap(a)
		if !ok {
			return deepCopy(b), true
		}
		out := make(map[string]Config, len(bMap))
		changed := false
		for k, bv := range bMap {
			d, has := diff(aMap[k], bv)
			if has {
				out[k] = d
				changed = true
			}
		}
		if !changed {
			return nil, false
		}
		return out, true
	}

	if bArr, ok := asArray(b); ok {
		aArr, ok := asArray(a)
		if !ok {
			return deepCopy(b), true
		}
		out := make([]Config, len(bArr))
		changed := false
		for i, bv := range bArr {
			var av Config
			if i < len(aArr) {
				av = aArr[i]
			}
			d, has := diff(av, bv)
			if has {
				out[i] = d
				changed = true
			} else {
				out[i] = DefaultSentinel
			}
		}
		if !changed {
			return nil, false
		}
		return out, true
	}

	// b is a scalar. Any type change (a was a Map or Array) is a diff.
	if _, ok := asMap(a); ok {
		return deepCopy(b), true
	}
	if _, ok := asArray(a); ok {
		return deepCopy(b), true
	}
	if a == b {
		return nil, false
	}
	return deepCopy(b), true
}
