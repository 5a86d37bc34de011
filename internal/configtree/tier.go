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
	"sync"
)

// Tier is the priority band of a config layer. The spec only requires that
// tiers form a total order fixed at registration; the three well-known tiers
// are predeclared and additional tiers may be registered by name.
type Tier string

// Well-known tiers, lowest precedence first. Precedence does not affect
// merging: makeMerged merges in insertion order regardless of tier, and
// GetChanges selects entries whose tier matches exactly.
const (
	TierDefault Tier = "default"
	TierUser    Tier = "user"
	TierSystem  Tier = "system"
)

var (
	tierMu    sync.Mutex
	tierOrder = []Tier{TierDefault, TierUser, TierSystem}
)

// RegisterTier appends a new tier to the end of the total order. It is a
// no-op if the tier is already registered.
func RegisterTier(t Tier) {
	tierMu.Lock()
	defer tierMu.Unlock()
	for _, existing := range tierOrder {
		if existing == t {
			return
		}
	}
	tierOrder = append(tierOrder, t)
}

// KnownTiers returns the currently registered tiers in precedence order.
func KnownTiers() []Tier {
	tierMu.Lock()
	defer tierMu.Unlock()
	out := make([]Tier, len(tierOrder))
	copy(out, tierOrder)
	return out
}

// Rank returns t's position in the total order and whether it is registered.
func (t Tier) Rank() (int, bool) {
	tierMu.Lock()
	defer tierMu.Unlock()
	for i, existing := range tierOrder {
		if existing == t {
			return i, true
		}
	}
	return -1, false
}

// Validate returns an error if t has not been registered.
func (t Tier) Validate() error {
	if _, ok := t.Rank(); !ok {
		return &Error{
			Type:    ErrorTypeUnknownTier,
			Message: fmt.Sprintf("unknown tier %q", string(t)),
			Detail:  map[string]string{"tier": string(t)},
		}
	}
	return nil
}
