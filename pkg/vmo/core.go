// Copyright 2026 The VMCore Authors.
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

package vmo

import (
	"fmt"
	"sync"
)

// Core holds the state shared by all Object implementations: the object
// lock, the generation counter and the list of mappings. Implementations
// embed it.
type Core struct {
	mu sync.Mutex

	// gen is bumped on every page-state change. Guarded by mu.
	gen uint64

	// mappings is every MappingView currently mapping this object, in
	// registration order. Guarded by mu.
	mappings []MappingView
}

// Lock acquires the object lock.
func (c *Core) Lock() { c.mu.Lock() }

// Unlock releases the object lock.
func (c *Core) Unlock() { c.mu.Unlock() }

// AddMappingLocked implements Object.AddMappingLocked.
func (c *Core) AddMappingLocked(v MappingView) {
	for _, m := range c.mappings {
		if m == v {
			panic(fmt.Sprintf("vmo: mapping %v registered twice", v))
		}
	}
	c.mappings = append(c.mappings, v)
}

// RemoveMappingLocked implements Object.RemoveMappingLocked.
func (c *Core) RemoveMappingLocked(v MappingView) {
	for i, m := range c.mappings {
		if m == v {
			c.mappings = append(c.mappings[:i], c.mappings[i+1:]...)
			return
		}
	}
	panic(fmt.Sprintf("vmo: mapping %v not registered", v))
}

// NumMappingsLocked returns the number of registered mappings.
func (c *Core) NumMappingsLocked() int {
	return len(c.mappings)
}

// NumMappings returns the number of registered mappings.
func (c *Core) NumMappings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.mappings)
}

// GenerationCountLocked implements Object.GenerationCountLocked.
func (c *Core) GenerationCountLocked() uint64 {
	return c.gen
}

// bumpGenerationLocked records a page-state change.
func (c *Core) bumpGenerationLocked() {
	c.gen++
}

// unmapRangeLocked tells every registered mapping to drop hardware mappings
// of the given range. The walk continues past errors so that every mapping
// observes the change; the first error is returned.
func (c *Core) unmapRangeLocked(offset, length uint64) error {
	var first error
	for _, m := range c.mappings {
		if err := m.UnmapObjectRangeLocked(offset, length); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// removeWriteRangeLocked tells every registered mapping to strip write
// permission over the given range.
func (c *Core) removeWriteRangeLocked(offset, length uint64) error {
	var first error
	for _, m := range c.mappings {
		if err := m.RemoveWriteObjectRangeLocked(offset, length); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// harvestAccessedRangeLocked asks every registered mapping to harvest
// hardware accessed bits over the given range.
func (c *Core) harvestAccessedRangeLocked(offset, length uint64, cb func(offset uint64) bool) error {
	var first error
	for _, m := range c.mappings {
		if err := m.HarvestAccessedObjectRangeLocked(offset, length, cb); err != nil && first == nil {
			first = err
		}
	}
	return first
}
