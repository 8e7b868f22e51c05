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

	"vmcore.dev/vmcore/pkg/hostarch"
)

// Object-driven callbacks. The object invokes these on every registered
// mapping while holding only its own lock, so they may touch only
// object-lock-guarded fields and the hardware layer, never as.mu.

// objectRangeToAddrRangeLocked translates an object range to the virtual
// addresses mapping it, intersected with the mapping's own window. Reports
// false when the intersection is empty.
//
// Preconditions: the object lock must be locked. offset and length are
// page-aligned.
func (m *Mapping) objectRangeToAddrRangeLocked(offset, length uint64) (hostarch.AddrRange, bool) {
	if checkInvariants {
		if offset%hostarch.PageSize != 0 || length%hostarch.PageSize != 0 {
			panic(fmt.Sprintf("unaligned object range [%#x, +%#x)", offset, length))
		}
	}
	if length == 0 {
		return hostarch.AddrRange{}, false
	}
	mine := hostarch.ObjectRange{Start: m.objectOffset, End: m.objectOffset + m.size}
	isect := mine.Intersect(hostarch.ObjectRange{Start: offset, End: offset + length})
	if isect.Length() == 0 {
		return hostarch.AddrRange{}, false
	}
	base, ok := m.base.AddLength(isect.Start - m.objectOffset)
	if !ok {
		panic(fmt.Sprintf("object range [%#x, +%#x) translation overflows in %v", offset, length, m))
	}
	ar := hostarch.AddrRange{Start: base, End: base + hostarch.Addr(isect.Length())}
	if window := (hostarch.AddrRange{Start: m.base, End: m.base + hostarch.Addr(m.size)}); ar.End < ar.Start || !window.IsSupersetOf(ar) {
		panic(fmt.Sprintf("translated range %v escapes %v", ar, m))
	}
	return ar, true
}

// UnmapObjectRangeLocked removes hardware translations for the mapped
// portion of the given object range. Called by the object when page contents
// are replaced or released. If this mapping is itself mid-fault against the
// object, the fault path installs the final translation and the unmap is
// skipped.
func (m *Mapping) UnmapObjectRangeLocked(offset, length uint64) error {
	if checkInvariants && m.state == lifecycleDead {
		panic("callback against dead mapping")
	}
	if m.currentlyFaulting {
		return nil
	}
	ar, ok := m.objectRangeToAddrRangeLocked(offset, length)
	if !ok {
		return nil
	}
	return m.as.arch.Unmap(ar.Start, int(ar.Length()/hostarch.PageSize))
}

// RemoveWriteObjectRangeLocked downgrades hardware translations for the
// mapped portion of the given object range to read-only, without changing
// the mapping's flags. A later write fault restores write access through
// the object. Mappings that never had write access are untouched.
func (m *Mapping) RemoveWriteObjectRangeLocked(offset, length uint64) error {
	if checkInvariants && m.state == lifecycleDead {
		panic("callback against dead mapping")
	}
	if !m.maxPerms.Write || m.flags&hostarch.MMUWrite == 0 {
		return nil
	}
	ar, ok := m.objectRangeToAddrRangeLocked(offset, length)
	if !ok {
		return nil
	}
	flags := m.flags &^ hostarch.MMUWrite
	numPages := int(ar.Length() / hostarch.PageSize)
	if flags.Accessible() {
		return m.as.arch.Protect(ar.Start, numPages, flags)
	}
	return m.as.arch.Unmap(ar.Start, numPages)
}

// HarvestAccessedObjectRangeLocked reads and clears hardware accessed bits
// over the mapped portion of the given object range, reporting each accessed
// page to cb by object offset. cb returning false stops the walk.
func (m *Mapping) HarvestAccessedObjectRangeLocked(offset, length uint64, cb func(objectOffset uint64) bool) error {
	if checkInvariants && m.state == lifecycleDead {
		panic("callback against dead mapping")
	}
	ar, ok := m.objectRangeToAddrRangeLocked(offset, length)
	if !ok {
		return nil
	}
	return m.as.arch.HarvestAccessed(ar.Start, int(ar.Length()/hostarch.PageSize), func(va hostarch.Addr, pa uintptr) bool {
		return cb(m.objectOffset + uint64(va-m.base))
	})
}
