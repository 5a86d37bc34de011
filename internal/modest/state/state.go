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

// Package state holds the process-wide named-value store that Operation
// guards read and StateMutators write, plus the cooperative interrupt-flag
// machinery shared by every waiting primitive in the runtime core.
package state

import "sync"

// State is a process-wide named-value store holding booleans, 32-bit signed
// integers, and strings, keyed by short identifiers. It is exposed through
// two narrower views: Mutable (read-write, used by StateMutators) and
// Immutable (read-only, used by OperationGuards).
type State struct {
	mu     sync.RWMutex
	bools  map[string]bool
	ints   map[string]int32
	strs   map[string]string
}

// New creates an empty State.
func New() *State {
	return &State{
		bools: make(map[string]bool),
		ints:  make(map[string]int32),
		strs:  make(map[string]string),
	}
}

// Mutable returns a view that may set values under the exclusive lock.
func (s *State) Mutable() *MutableState {
	return &MutableState{s: s}
}

// Immutable returns a read-only view. Reads still acquire the lock for
// coherence but never mutate.
func (s *State) Immutable() *ImmutableState {
	return &ImmutableState{s: s}
}

// Lock acquires the exclusive lock directly; used by callers (the Operation
// Engine) that must hold the lock across a mutator call and the subsequent
// read a guard performs, per spec §4.3's pre/post-execute hook timing.
func (s *State) Lock() {
	s.mu.Lock()
}

// Unlock releases the exclusive lock acquired by Lock.
func (s *State) Unlock() {
	s.mu.Unlock()
}

// RLock acquires the shared lock for guard evaluation.
func (s *State) RLock() {
	s.mu.RLock()
}

// RUnlock releases the shared lock acquired by RLock.
func (s *State) RUnlock() {
	s.mu.RUnlock()
}

// MutableState is the read-write view of State used by StateMutator hooks.
type MutableState struct {
	s *State
}

// SetBool sets a boolean value. Must be called with the State's exclusive
// lock already held (i.e. from within a StateMutator hook).
func (m *MutableState) SetBool(key string, v bool) {
	m.s.bools[key] = v
}

// SetInt32 sets an int32 value. Must be called with the exclusive lock held.
func (m *MutableState) SetInt32(key string, v int32) {
	m.s.ints[key] = v
}

// SetString sets a string value. Must be called with the exclusive lock held.
func (m *MutableState) SetString(key string, v string) {
	m.s.strs[key] = v
}

// GetBool reads a boolean value; mutators may also read their own state.
func (m *MutableState) GetBool(key string) bool {
	return m.s.bools[key]
}

// GetInt32 reads an int32 value.
func (m *MutableState) GetInt32(key string) int32 {
	return m.s.ints[key]
}

// GetString reads a string value.
func (m *MutableState) GetString(key string) string {
	return m.s.strs[key]
}

// ImmutableState is the read-only view of State used by OperationGuard
// predicates. It acquires the State's read lock for each access so guard
// evaluation observes a coherent snapshot even though it never mutates.
type ImmutableState struct {
	s *State
}

// GetBool reads a boolean value under the read lock.
func (i *ImmutableState) GetBool(key string) bool {
	i.s.mu.RLock()
	defer i.s.mu.RUnlock()
	return i.s.bools[key]
}

// GetInt32 reads an int32 value under the read lock.
func (i *ImmutableState) GetInt32(key string) int32 {
	i.s.mu.RLock()
	defer i.s.mu.RUnlock()
	return i.s.ints[key]
}

// GetString reads a string value under the read lock.
func (i *ImmutableState) GetString(key string) string {
	i.s.mu.RLock()
	defer i.s.mu.RUnlock()
	return i.s.strs[key]
}
