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
	"fmt"

	"vmcore.dev/vmcore/pkg/errors/vmerr"
	"vmcore.dev/vmcore/pkg/hostarch"
	"vmcore.dev/vmcore/pkg/vmo"
)

type lifecycleState int

const (
	lifecycleNotReady lifecycleState = iota
	lifecycleAlive
	lifecycleDead
)

func (s lifecycleState) String() string {
	switch s {
	case lifecycleNotReady:
		return "NotReady"
	case lifecycleAlive:
		return "Alive"
	case lifecycleDead:
		return "Dead"
	default:
		return fmt.Sprintf("lifecycleState(%d)", int(s))
	}
}

// Mapping is a run of virtual pages mapping a contiguous range of a memory
// object with uniform hardware flags.
//
// Field guards follow the two-level lock order described in the package doc:
//
//   - state, mergeable: guarded by as.mu.
//   - genCount, currentlyFaulting, cachedAttribution: guarded by the
//     object lock.
//   - base, size, objectOffset, flags: written under both locks, so
//     holders of either lock may read them.
//   - as, object, maxPerms: immutable while Alive (object is cleared on
//     death, under as.mu).
type Mapping struct {
	as       *AddressSpace
	object   vmo.Object
	maxPerms hostarch.AccessType

	base hostarch.Addr
	size uint64

	state     lifecycleState
	mergeable bool

	objectOffset uint64
	flags        hostarch.MMUFlags

	// currentlyFaulting suppresses unmap callbacks that the object issues
	// while this mapping is itself mid-fault against it.
	currentlyFaulting bool

	// genCount counts observable changes to the mapped range.
	genCount uint64

	cachedAttribution attributionCache
}

var _ vmo.MappingView = (*Mapping)(nil)

// Activate registers the mapping with its object and inserts it into the
// region tree, transitioning NotReady to Alive.
func (m *Mapping) Activate() error {
	m.as.mu.Lock()
	defer m.as.mu.Unlock()
	if m.state != lifecycleNotReady {
		return vmerr.ErrBadState
	}
	m.object.Lock()
	m.activateLocked()
	m.object.Unlock()
	return nil
}

// activateLocked transitions m to Alive.
//
// Preconditions: as.mu and the object lock must be locked. m.state is
// NotReady.
func (m *Mapping) activateLocked() {
	if checkInvariants && m.state != lifecycleNotReady {
		panic(fmt.Sprintf("activating mapping in state %v", m.state))
	}
	m.state = lifecycleAlive
	m.object.AddMappingLocked(m)
	m.as.insertRegionLocked(m)
}

// Destroy unmaps the whole range, deregisters from the object, and marks the
// mapping Dead. The resident mapping refuses destruction until teardown.
func (m *Mapping) Destroy() error {
	m.as.mu.Lock()
	defer m.as.mu.Unlock()
	return m.destroyLocked()
}

// Preconditions: as.mu must be locked.
func (m *Mapping) destroyLocked() error {
	if m.state != lifecycleAlive {
		return vmerr.ErrBadState
	}
	if m.as.resident == m && !m.as.tearingDown {
		return vmerr.ErrAccessDenied
	}
	if m.as.lastFault == m {
		m.as.lastFault = nil
	}
	if err := m.unmapLocked(m.base, m.size); err != nil {
		return err
	}
	obj := m.object
	obj.Lock()
	obj.RemoveMappingLocked(m)
	m.cachedAttribution = attributionCache{}
	obj.Unlock()
	m.object = nil
	m.as.removeRegionLocked(m)
	m.state = lifecycleDead
	return nil
}

// Unmap removes [base, base+size) from hardware and from the mapping,
// splitting it if the range is interior. size is rounded up to whole pages.
// Unmapping the entire range destroys the mapping.
func (m *Mapping) Unmap(base hostarch.Addr, size uint64) error {
	if !base.IsPageAligned() {
		return vmerr.ErrInvalidArgs
	}
	size, ok := roundUpSize(size)
	if !ok {
		return vmerr.ErrOutOfRange
	}
	m.as.mu.Lock()
	defer m.as.mu.Unlock()
	if m.state != lifecycleAlive {
		return vmerr.ErrBadState
	}
	if size == 0 || !m.containsRangeLocked(base, size) {
		return vmerr.ErrInvalidArgs
	}
	if base == m.base && size == m.size {
		return m.destroyLocked()
	}
	return m.unmapLocked(base, size)
}

// unmapLocked removes [base, base+size) from hardware and shrinks or splits
// the mapping accordingly. A whole-range unmap leaves the mapping Alive with
// size zero; only destroyLocked does that.
//
// Preconditions: as.mu must be locked. The range is page-aligned, non-empty
// unless the mapping itself is empty, and contained in the mapping.
func (m *Mapping) unmapLocked(base hostarch.Addr, size uint64) error {
	if checkInvariants {
		if !base.IsPageAligned() || size%hostarch.PageSize != 0 {
			panic(fmt.Sprintf("unaligned unmap [%#x, +%#x)", base, size))
		}
		if !m.containsRangeLocked(base, size) {
			panic(fmt.Sprintf("unmap [%#x, +%#x) outside %v", base, size, m))
		}
	}
	if m.as.tearingDown && (base != m.base || size != m.size) {
		panic("partial unmap during teardown")
	}
	if size == 0 {
		return nil
	}
	m.object.Lock()
	defer m.object.Unlock()
	numPages := int(size / hostarch.PageSize)

	if base == m.base || base+hostarch.Addr(size) == m.base+hostarch.Addr(m.size) {
		// Trim from one end.
		if err := m.as.arch.Unmap(base, numPages); err != nil {
			return err
		}
		if base == m.base && size != m.size {
			// The base is the region tree key.
			m.as.removeRegionLocked(m)
			m.base += hostarch.Addr(size)
			m.objectOffset += size
			m.as.insertRegionLocked(m)
		}
		m.setSizeLocked(m.size - size)
		return nil
	}

	// Interior range: split off the pages above it.
	holeEnd := base + hostarch.Addr(size)
	right := m.newSiblingLocked(holeEnd, uint64(m.base+hostarch.Addr(m.size)-holeEnd), m.objectOffset+uint64(holeEnd-m.base), m.flags)
	if err := m.as.arch.Unmap(base, numPages); err != nil {
		return err
	}
	m.setSizeLocked(uint64(base - m.base))
	right.activateLocked()
	return nil
}

// newSiblingLocked returns a NotReady mapping over the same object, marked
// mergeable so that an exact inverse operation can coalesce it back.
//
// Preconditions: as.mu and the object lock must be locked.
func (m *Mapping) newSiblingLocked(base hostarch.Addr, size uint64, objectOffset uint64, flags hostarch.MMUFlags) *Mapping {
	return &Mapping{
		as:           m.as,
		object:       m.object,
		maxPerms:     m.maxPerms,
		base:         base,
		size:         size,
		objectOffset: objectOffset,
		flags:        flags,
		state:        lifecycleNotReady,
		mergeable:    true,
	}
}

// setSizeLocked records a size change, invalidating cached state derived
// from the mapped range.
//
// Preconditions: as.mu and the object lock must be locked.
func (m *Mapping) setSizeLocked(size uint64) {
	m.size = size
	m.genCount++
}

// containsRangeLocked reports whether [base, base+size) lies within the
// mapping.
//
// Preconditions: as.mu must be locked.
func (m *Mapping) containsRangeLocked(base hostarch.Addr, size uint64) bool {
	if base < m.base {
		return false
	}
	off := uint64(base - m.base)
	return off+size >= off && off+size <= m.size
}

// Base returns the first mapped address.
func (m *Mapping) Base() hostarch.Addr {
	m.as.mu.Lock()
	defer m.as.mu.Unlock()
	return m.base
}

// Size returns the mapped length in bytes.
func (m *Mapping) Size() uint64 {
	m.as.mu.Lock()
	defer m.as.mu.Unlock()
	return m.size
}

// Flags returns the current hardware flags.
func (m *Mapping) Flags() hostarch.MMUFlags {
	m.object.Lock()
	defer m.object.Unlock()
	return m.flags
}

// ObjectOffset returns the object offset mapped at Base.
func (m *Mapping) ObjectOffset() uint64 {
	m.object.Lock()
	defer m.object.Unlock()
	return m.objectOffset
}

// Alive reports whether the mapping is in the Alive state.
func (m *Mapping) Alive() bool {
	m.as.mu.Lock()
	defer m.as.mu.Unlock()
	return m.state == lifecycleAlive
}

// String formats the mapping for diagnostics. It reads fields without
// locking and is best-effort under concurrency.
func (m *Mapping) String() string {
	return fmt.Sprintf("mapping [%#x, %#x) object+%#x flags %v state %v", m.base, m.base+hostarch.Addr(m.size), m.objectOffset, m.flags, m.state)
}

// roundUpSize rounds size up to a whole number of pages, reporting overflow.
func roundUpSize(size uint64) (uint64, bool) {
	rounded := (size + hostarch.PageSize - 1) &^ (hostarch.PageSize - 1)
	return rounded, rounded >= size
}
