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
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DirWatcher reloads a single config entry from disk whenever a watched file
// changes, debouncing bursts of filesystem events the same way
// internal/mcp.Watcher debounces MCP server source changes.
type DirWatcher struct {
	manager *Manager
	id      ConfigID
	path    string
	fs      *fsnotify.Watcher
	logger  *slog.Logger
	debounce time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending *time.Timer
}

// WatchFile begins watching path for changes and reloads it into the entry
// identified by id on every change, after debounce of quiescence (200ms when
// debounce is zero or negative).
// The returned DirWatcher must be stopped with Close.
func WatchFile(m *Manager, id ConfigID, path string, logger *slog.Logger, debounce time.Duration) (*DirWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &Error{
			Type:    ErrorTypeInvalidDoc,
			Message: "failed to create file watcher",
			Cause:   err,
		}
	}
	if err := fsWatcher.Add(path); err != nil {
		_ = fsWatcher.Close()
		return nil, &Error{
			Type:    ErrorTypeFileNotFound,
			Message: "failed to watch config file",
			Detail:  map[string]string{"path": path},
			Cause:   err,
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &DirWatcher{
		manager:  m,
		id:       id,
		path:     path,
		fs:       fsWatcher,
		logger:   logger,
		debounce: debounce,
		ctx:      ctx,
		cancel:   cancel,
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *DirWatcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, w.suffix()) {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("configtree: watcher error", "path", w.path, "error", err)
		}
	}
}

func (w *DirWatcher) suffix() string {
	return w.path
}

func (w *DirWatcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.debounce, w.reload)
}

func (w *DirWatcher) reload() {
	doc, err := LoadFile(w.path)
	if err != nil {
		w.logger.Warn("configtree: reload failed", "path", w.path, "error", err)
		return
	}
	if err := w.manager.Set(w.id, doc); err != nil {
		w.logger.Warn("configtree: reload set failed", "path", w.path, "error", err)
		return
	}
	w.logger.Debug("configtree: reloaded", "path", w.path, "config_id", int(w.id))
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *DirWatcher) Close() error {
	w.cancel()
	err := w.fs.Close()
	w.wg.Wait()
	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.mu.Unlock()
	return err
}
