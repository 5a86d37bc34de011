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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a single configuration document from disk. Files ending in
// ".json" are parsed as JSON (per spec §6); every other extension (including
// the reserved ".config" directory-include extension) is parsed as YAML,
// which is a superset of JSON and decodes into the identical map[string]any /
// []any / scalar shape.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &Error{
				Type:    ErrorTypeFileNotFound,
				Message: "config file not found",
				Detail:  map[string]string{"path": path},
				Cause:   err,
			}
		}
		return nil, &Error{
			Type:    ErrorTypeInvalidDoc,
			Message: "failed to read config file",
			Detail:  map[string]string{"path": path},
			Cause:   err,
		}
	}

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, &Error{
				Type:    ErrorTypeInvalidDoc,
				Message: "invalid JSON document",
				Detail:  map[string]string{"path": path},
				Cause:   err,
			}
		}
		return jsonNormalize(cfg), nil
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &Error{
			Type:    ErrorTypeInvalidDoc,
			Message: "invalid YAML document",
			Detail:  map[string]string{"path": path},
			Cause:   err,
		}
	}
	return cfg, nil
}

// jsonNormalize converts the map[string]interface{} produced by
// encoding/json (already compatible with Config) through unchanged; it
// exists as the single seam where a future stricter JSON scalar mapping
// (distinguishing int64/uint64/float64) would be introduced.
func jsonNormalize(cfg Config) Config {
	return cfg
}

// resolveIncludes resolves cfg's "__include__" array (if present), adding
// each included document at tier Default before returning cfg with the
// include directive stripped. seen tracks the set of paths already being
// resolved in the current call chain so cycles are rejected.
func (m *Manager) resolveIncludes(cfg Config, seen map[string]bool) (Config, error) {
	cfgMap, ok := asMap(cfg)
	if !ok {
		return cfg, nil
	}
	rawIncludes, ok := cfgMap[IncludeKey]
	if !ok {
		return cfg, nil
	}

	includes, ok := asArray(rawIncludes)
	if !ok {
		return nil, &Error{
			Type:    ErrorTypeInvalidInclude,
			Message: "__include__ must be an array of strings",
		}
	}

	for _, raw := range includes {
		ref, ok := raw.(string)
		if !ok {
			return nil, &Error{
				Type:    ErrorTypeInvalidInclude,
				Message: "__include__ entries must be strings",
			}
		}
		if err := m.resolveOneInclude(ref, seen); err != nil {
			return nil, err
		}
	}

	stripped := make(map[string]Config, len(cfgMap)-1)
	for k, v := range cfgMap {
		if k == IncludeKey {
			continue
		}
		stripped[k] = v
	}
	return stripped, nil
}

// resolveOneInclude loads ref (a file or directory path) and adds its
// contents at tier Default, recursively resolving its own includes.
func (m *Manager) resolveOneInclude(ref string, seen map[string]bool) error {
	path := strings.TrimPrefix(ref, "file://")
	if strings.Contains(path, "://") {
		return &Error{
			Type:    ErrorTypeInvalidInclude,
			Message: "unsupported include scheme (only local file paths are supported)",
			Detail:  map[string]string{"ref": ref},
		}
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return &Error{
			Type:    ErrorTypeInvalidInclude,
			Message: "could not resolve include path",
			Detail:  map[string]string{"path": path},
			Cause:   err,
		}
	}

	if seen[absPath] {
		return &Error{
			Type:    ErrorTypeInvalidInclude,
			Message: "cyclic __include__ graph detected",
			Detail:  map[string]string{"path": absPath},
		}
	}
	nextSeen := make(map[string]bool, len(seen)+1)
	for k := range seen {
		nextSeen[k] = true
	}
	nextSeen[absPath] = true

	info, err := os.Stat(absPath)
	if err != nil {
		return &Error{
			Type:    ErrorTypeFileNotFound,
			Message: "include path does not exist",
			Detail:  map[string]string{"path": absPath},
			Cause:   err,
		}
	}

	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(absPath)
		if err != nil {
			return &Error{
				Type:    ErrorTypeInvalidInclude,
				Message: "failed to list include directory",
				Detail:  map[string]string{"path": absPath},
				Cause:   err,
			}
		}
		for _, de := range entries {
			if de.IsDir() || !strings.HasSuffix(de.Name(), ".config") {
				continue
			}
			files = append(files, filepath.Join(absPath, de.Name()))
		}
		sort.Strings(files)
	} else {
		files = []string{absPath}
	}

	for _, f := range files {
		doc, err := LoadFile(f)
		if err != nil {
			return err
		}
		if _, err := m.addLocked(doc, TierDefault, nextSeen); err != nil {
			return fmt.Errorf("including %s: %w", f, err)
		}
	}
	return nil
}
