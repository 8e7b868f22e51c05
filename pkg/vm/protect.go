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
	"vmcore.dev/vmcore/pkg/errors/vmerr"
	"vmcore.dev/vmcore/pkg/hostarch"
)

// Protect changes the hardware permissions of [base, base+size) to the
// permission bits of flags, preserving the mapping's cache-policy bits.
// size is rounded up to whole pages. If the range is a strict subrange the
// mapping splits, spawning mergeable siblings for the split-off pieces.
//
// flags must not carry cache-policy bits and must stay within the
// mapping's permission ceiling.
func (m *Mapping) Protect(base hostarch.Addr, size uint64, flags hostarch.MMUFlags) error {
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
	return m.protectLocked(base, size, flags)
}

// Preconditions: as.mu must be locked. The range is page-aligned, non-empty,
// and contained in the mapping.
func (m *Mapping) protectLocked(base hostarch.Addr, size uint64, flags hostarch.MMUFlags) error {
	if flags&hostarch.MMUCacheMask != 0 {
		return vmerr.ErrInvalidArgs
	}
	if !m.maxPerms.SupersetOf(flags.AccessType()) {
		return vmerr.ErrAccessDenied
	}
	m.object.Lock()
	defer m.object.Unlock()

	// Cache policy rides along unchanged.
	flags |= m.flags & hostarch.MMUCacheMask
	if flags == m.flags {
		return nil
	}

	end := m.base + hostarch.Addr(m.size)
	rangeEnd := base + hostarch.Addr(size)
	switch {
	case base == m.base && size == m.size:
		// Whole range.
		if err := m.protectOrUnmapLocked(base, size, flags); err != nil {
			return err
		}
		m.flags = flags
		m.genCount++
		return nil

	case base == m.base:
		// Head of the range; the tail splits off with the old flags.
		tail := m.newSiblingLocked(rangeEnd, uint64(end-rangeEnd), m.objectOffset+size, m.flags)
		if err := m.protectOrUnmapLocked(base, size, flags); err != nil {
			return err
		}
		m.flags = flags
		m.setSizeLocked(size)
		tail.activateLocked()
		return nil

	case rangeEnd == end:
		// Tail of the range; it splits off with the new flags.
		tail := m.newSiblingLocked(base, size, m.objectOffset+uint64(base-m.base), flags)
		if err := m.protectOrUnmapLocked(base, size, flags); err != nil {
			return err
		}
		m.setSizeLocked(uint64(base - m.base))
		tail.activateLocked()
		return nil

	default:
		// Interior range: split into three, keeping the head.
		centerOffset := m.objectOffset + uint64(base-m.base)
		center := m.newSiblingLocked(base, size, centerOffset, flags)
		tail := m.newSiblingLocked(rangeEnd, uint64(end-rangeEnd), centerOffset+size, m.flags)
		if err := m.protectOrUnmapLocked(base, size, flags); err != nil {
			return err
		}
		m.setSizeLocked(uint64(base - m.base))
		center.activateLocked()
		tail.activateLocked()
		return nil
	}
}

// protectOrUnmapLocked applies flags to hardware over [base, base+size).
// Flags granting no access unmap the range instead, so no present entry
// ever carries a permission-less protection.
//
// Preconditions: as.mu and the object lock must be locked.
func (m *Mapping) protectOrUnmapLocked(base hostarch.Addr, size uint64, flags hostarch.MMUFlags) error {
	numPages := int(size / hostarch.PageSize)
	if flags.Accessible() {
		return m.as.arch.Protect(base, numPages, flags)
	}
	return m.as.arch.Unmap(base, numPages)
}
