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
	"log/slog"
	"sync"
)

// ConfigID is a stable, non-reusable handle for a registered config entry.
type ConfigID int

// entry pairs a raw Config document with its Tier. A nil config marks a
// removed slot; ids are never reused.
type entry struct {
	id     ConfigID
	tier   Tier
	config Config
}

// Manager maintains an ordered stack of raw configs and a cached merged view.
// All mutating operations acquire an exclusive lock around the entry list and
// the merged-view recomputation; GetMerged and Get take a brief read lock to
// copy a stable reference. Listeners fire after the lock is released.
type Manager struct {
	mu       sync.RWMutex
	entries  []*entry
	nextID   ConfigID
	merged   Config
	listenMu sync.Mutex
	nextLID  listenerID
	listenrs map[listenerID]ConfigChangeListener
	logger   *slog.Logger
}

// Option configures a new Manager.
type Option func(*Manager)

// WithLogger attaches a structured logger; defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates an empty ConfigManager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		listenrs: make(map[listenerID]ConfigChangeListener),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add resolves any __include__ directive in cfg (adding each included
// document first, at tier Default, recursively), then appends cfg itself
// to the list under tier. It returns the new entry's stable ConfigID.
func (m *Manager) Add(cfg Config, tier Tier) (ConfigID, error) {
	if err := tier.Validate(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	oldMerged := m.merged
	id, err := m.addLocked(cfg, tier, map[string]bool{})
	if err != nil {
		m.mu.Unlock()
		return 0, err
	}
	m.updateLocked()
	newMerged := m.merged
	listeners := m.snapshotListeners()
	m.mu.Unlock()

	m.notify(listeners, ChangeEvent{Kind: ChangeAdded, ID: id, Diff: Diff(oldMerged, newMerged)})
	return id, nil
}

// addLocked appends cfg (after resolving includes) and returns its id. It
// must be called with mu held for writing. seen tracks resolved include
// paths in the current resolution chain to detect cycles.
func (m *Manager) addLocked(cfg Config, tier Tier, seen map[string]bool) (ConfigID, error) {
	resolved, err := m.resolveIncludes(cfg, seen)
	if err != nil {
		return 0, err
	}

	id := m.nextID
	m.nextID++
	m.entries = append(m.entries, &entry{id: id, tier: tier, config: resolved})
	m.logger.Debug("configtree: entry added", "config_id", int(id), "tier", string(tier))
	return id, nil
}

// Remove nullifies the slot at id. ids remain stable for the process
// lifetime and are never reused.
func (m *Manager) Remove(id ConfigID) error {
	m.mu.Lock()
	e, err := m.findLocked(id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	e.config = nil
	m.updateLocked()
	newMerged := m.merged
	listeners := m.snapshotListeners()
	m.mu.Unlock()

	_ = newMerged // Removed notifications carry no diff per spec §4.1.
	m.notify(listeners, ChangeEvent{Kind: ChangeRemoved, ID: id})
	return nil
}

// Set replaces the raw config stored at id, preserving its tier.
func (m *Manager) Set(id ConfigID, cfg Config) error {
	m.mu.Lock()
	e, err := m.findLocked(id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	oldMerged := m.merged
	resolved, err := m.resolveIncludes(cfg, map[string]bool{})
	if err != nil {
		m.mu.Unlock()
		return err
	}
	e.config = resolved
	m.updateLocked()
	newMerged := m.merged
	listeners := m.snapshotListeners()
	m.mu.Unlock()

	m.notify(listeners, ChangeEvent{Kind: ChangeSet, ID: id, Diff: Diff(oldMerged, newMerged)})
	return nil
}

// Get returns the raw Config stored at id.
func (m *Manager) Get(id ConfigID) (Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, err := m.findLocked(id)
	if err != nil {
		return nil, err
	}
	return e.config, nil
}

// GetMerged returns the current effective merged view.
func (m *Manager) GetMerged() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.merged
}

// GetChanges diffs the effective merged view against makeMerged(tier),
// yielding what higher tiers added on top of that tier.
func (m *Manager) GetChanges(tier Tier) (Config, error) {
	if err := tier.Validate(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	base := makeMerged(m.entries, tier, false)
	return Diff(base, m.merged), nil
}

// Clear removes every entry and notifies listeners with a Cleared event.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.entries = nil
	m.merged = nil
	listeners := m.snapshotListeners()
	m.mu.Unlock()

	m.notify(listeners, ChangeEvent{Kind: ChangeCleared})
}

// updateLocked recomputes the cached merged view. Must be called with mu held.
func (m *Manager) updateLocked() {
	m.merged = makeMerged(m.entries, "", true)
}

func (m *Manager) findLocked(id ConfigID) (*entry, error) {
	for _, e := range m.entries {
		if e.id == id && e.config != nil {
			return e, nil
		}
	}
	return nil, &Error{
		Type:    ErrorTypeInvalidID,
		Message: fmt.Sprintf("no config entry with id %d", int(id)),
		Detail:  map[string]string{"id": fmt.Sprintf("%d", int(id))},
	}
}

// AddListener registers l and returns a function that unregisters it. The
// returned function is idempotent.
func (m *Manager) AddListener(l ConfigChangeListener) (unsubscribe func()) {
	m.listenMu.Lock()
	id := m.nextLID
	m.nextLID++
	m.listenrs[id] = l
	m.listenMu.Unlock()

	return func() {
		m.listenMu.Lock()
		delete(m.listenrs, id)
		m.listenMu.Unlock()
	}
}

func (m *Manager) snapshotListeners() []ConfigChangeListener {
	m.listenMu.Lock()
	defer m.listenMu.Unlock()
	out := make([]ConfigChangeListener, 0, len(m.listenrs))
	for _, l := range m.listenrs {
		out = append(out, l)
	}
	return out
}

func (m *Manager) notify(listeners []ConfigChangeListener, event ChangeEvent) {
	for _, l := range listeners {
		l.OnConfigChange(event)
	}
}
