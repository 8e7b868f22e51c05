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

package vm

import (
	"sync/atomic"
)

// Subsystem-wide counters.
var (
	attributionQueries atomic.Uint64
	attributionHits    atomic.Uint64
	attributionMisses  atomic.Uint64
	mappingsMerged     atomic.Uint64
)

// Stats is a snapshot of the subsystem counters.
type Stats struct {
	// AttributionQueries counts AllocatedPages calls against alive
	// mappings of paged objects.
	AttributionQueries uint64

	// AttributionHits counts queries answered from the attribution cache.
	AttributionHits uint64

	// AttributionMisses counts queries that recomputed attribution.
	AttributionMisses uint64

	// MappingsMerged counts mappings absorbed by neighbor merges.
	MappingsMerged uint64
}

// ReadStats returns a snapshot of the subsystem counters.
func ReadStats() Stats {
	return Stats{
		AttributionQueries: attributionQueries.Load(),
		AttributionHits:    attributionHits.Load(),
		AttributionMisses:  attributionMisses.Load(),
		MappingsMerged:     mappingsMerged.Load(),
	}
}

// attributionCache memoizes the page count charged to a mapping, keyed by
// the generation pair that was current when it was computed. A bump of
// either generation invalidates it.
type attributionCache struct {
	valid      bool
	mappingGen uint64
	objectGen  uint64
	pageCount  uint64
}

// AllocatedPages returns the number of committed object pages charged to
// the mapping, consulting the attribution cache. Dead and NotReady mappings
// attribute nothing. Non-paged objects are always recomputed; their pages
// are not owned by the object and the count is cheap.
func (m *Mapping) AllocatedPages() uint64 {
	m.as.mu.Lock()
	defer m.as.mu.Unlock()
	return m.allocatedPagesLocked()
}

// Preconditions: as.mu must be locked.
func (m *Mapping) allocatedPagesLocked() uint64 {
	if m.state != lifecycleAlive {
		return 0
	}
	m.object.Lock()
	defer m.object.Unlock()

	if !m.object.Paged() {
		return m.object.AttributedPagesLocked(m.objectOffset, m.size)
	}

	attributionQueries.Add(1)
	objectGen := m.object.GenerationCountLocked()
	if c := m.cachedAttribution; c.valid && c.mappingGen == m.genCount && c.objectGen == objectGen {
		attributionHits.Add(1)
		return c.pageCount
	}
	attributionMisses.Add(1)
	count := m.object.AttributedPagesLocked(m.objectOffset, m.size)
	m.cachedAttribution = attributionCache{
		valid:      true,
		mappingGen: m.genCount,
		objectGen:  objectGen,
		pageCount:  count,
	}
	return count
}
