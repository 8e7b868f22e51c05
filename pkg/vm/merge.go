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

// MarkMergeable flags m as a merge candidate and immediately attempts to
// coalesce it with both neighbors. The resident mapping is never marked.
func (m *Mapping) MarkMergeable() {
	m.as.mu.Lock()
	defer m.as.mu.Unlock()
	if m.state != lifecycleAlive || m.as.resident == m {
		return
	}
	m.mergeable = true
	m.tryMergeNeighborsLocked()
}

// TryMergeNeighbors attempts to coalesce m with adjacent compatible
// mappings without changing any hardware state.
func (m *Mapping) TryMergeNeighbors() {
	m.as.mu.Lock()
	defer m.as.mu.Unlock()
	if m.state != lifecycleAlive {
		return
	}
	m.tryMergeNeighborsLocked()
}

// tryMergeNeighborsLocked merges m with its right neighbor, then hands the
// left neighbor the same chance at the (possibly grown) m.
//
// Preconditions: as.mu must be locked. m.state is Alive.
func (m *Mapping) tryMergeNeighborsLocked() {
	m.tryMergeRightNeighborLocked()
	if m.base > 0 {
		if left := m.as.findRegionLocked(m.base - 1); left != nil {
			left.tryMergeRightNeighborLocked()
		}
	}
}

// tryMergeRightNeighborLocked absorbs the mapping immediately above m when
// the two form one uniform run: same object, same permission ceiling,
// touching virtual addresses, touching object offsets, identical flags,
// both Alive and both mergeable. The merge rewrites bookkeeping only; the
// combined hardware translations are already exactly right.
//
// Preconditions: as.mu must be locked. m.state is Alive.
func (m *Mapping) tryMergeRightNeighborLocked() {
	end, ok := m.base.AddLength(m.size)
	if !ok {
		return
	}
	right := m.as.findRegionLocked(end)
	if right == nil || right.base != end {
		return
	}
	if !m.mergeable || !right.mergeable {
		return
	}
	if m.object != right.object {
		return
	}
	// The survivor's ceiling would govern the absorbed range; merging
	// across different ceilings could let Protect escalate past one.
	if m.maxPerms != right.maxPerms {
		return
	}

	m.object.Lock()
	if right.objectOffset != m.objectOffset+m.size || right.flags != m.flags {
		m.object.Unlock()
		return
	}

	// Absorb right into m.
	m.setSizeLocked(m.size + right.size)
	m.cachedAttribution = attributionCache{}
	right.setSizeLocked(0)
	m.object.RemoveMappingLocked(right)
	right.cachedAttribution = attributionCache{}
	m.object.Unlock()

	right.object = nil
	m.as.removeRegionLocked(right)
	if m.as.lastFault == right {
		m.as.lastFault = nil
	}
	right.state = lifecycleDead
	mappingsMerged.Add(1)
}
