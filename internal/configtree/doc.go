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

// Package configtree implements a layered configuration manager over
// recursively typed config trees (maps, arrays, and scalars). It maintains
// an ordered stack of raw documents tagged by tier, merges them
// deterministically into a single effective view, diffs against that view,
// validates against a shape schema, and notifies listeners on mutation.
//
// Unlike internal/config (a fixed Go struct decoded from a single YAML
// document), configtree operates on arbitrary JSON/YAML trees layered from
// multiple sources, the way a build tool or editor settings system merges
// defaults, user, and system tiers.
package configtree
