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

// Merge recursively merges source into target and returns the result.
// Neither target nor source is mutated. The result may share subtrees with
// target: values of target that source does not touch are not copied, and a
// "__default__" source returns target itself.
//
//   - source == nil: target becomes null (explicit erasure).
//   - source == "__default__": target is left unchanged (placeholder).
//   - source is a scalar: target is replaced with a deep copy of source.
//   - source is a Map: each key of source is recursively merged into target[key].
//   - source is an Array: each index of source is recursively merged into
//     target[index], positionally, never concatenated; the result's length
//     is the longer of the two, so a shorter source leaves target's
//     trailing elements untouched instead of truncating them away.
func Merge(target, source Config) Config {
	if source == nil {
		return nil
	}
	if isDefaultSentinel(source) {
		return target
	}

	if srcMap, ok := asMap(source); ok {
		tgtMap, _ := asMap(target)
		result := make(map[string]Config, len(srcMap))
		for k, v := range tgtMap {
			result[k] = v
		}
		for k, sv := range srcMap {
			result[k] = Merge(result[k], sv)
		}
		return result
	}

	if srcArr, ok := asArray(source); ok {
		tgtArr, _ := asArray(target)
		size := len(srcArr)
		if len(tgtArr) > size {
			size = len(tgtArr)
		}
		result := make([]Config, size)
		for i := 0; i < size; i++ {
			var tv Config
			if i < len(tgtArr) {
				tv = tgtArr[i]
			}
			if i < len(srcArr) {
				result[i] = Merge(tv, srcArr[i])
			} else {
				result[i] = deepCopy(tv)
			}
		}
		return result
	}

	// Scalar.
	return deepCopy(source)
}

// makeMerged iterates entries in insertion order and merges every non-null
// entry matching tier (or every entry if matchAll is true) into a fresh
// target, returning the merged result.
func makeMerged(entries []*entry, tier Tier, matchAll bool) Config {
	var result Config
	for _, e := range entries {
		if e.config == nil {
			continue
		}
		if !matchAll && e.tier != tier {
			continue
		}
		result = Merge(result, e.config)
	}
	return result
}
