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
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchFile_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watched.json")
	if err := os.WriteFile(path, []byte(`{"v": 1}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	m := NewManager()
	id, err := m.Add(map[string]Config{"v": float64(1)}, TierDefault)
	if err != nil {
		t.Fatalf("Add error: %v", err)
	}

	w, err := WatchFile(m, id, path, nil, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("WatchFile error: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte(`{"v": 2}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := m.Get(id)
		if err == nil {
			if gotMap, ok := got.(map[string]Config); ok {
				if v, ok := gotMap["v"].(float64); ok && v == 2 {
					return
				}
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("watched config was never reloaded")
}

func TestWatchFile_MissingFileErrors(t *testing.T) {
	m := NewManager()
	id, _ := m.Add(map[string]Config{}, TierDefault)
	_, err := WatchFile(m, id, filepath.Join(t.TempDir(), "missing.json"), nil, 0)
	if err == nil {
		t.Fatalf("WatchFile() = nil, want error for missing file")
	}
}
