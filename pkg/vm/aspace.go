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
	"sync"

	"github.com/google/btree"

	"vmcore.dev/vmcore/pkg/errors/vmerr"
	"vmcore.dev/vmcore/pkg/hostarch"
	"vmcore.dev/vmcore/pkg/vmo"
)

// regionTreeDegree is the btree degree of the region tree.
const regionTreeDegree = 8

// AddressSpace owns the ordered collection of sibling mappings within one
// address space, the outer lock guarding its shape, and the hardware
// page tables.
type AddressSpace struct {
	// mu is the outer lock of the subsystem.
	mu sync.Mutex

	arch ArchAddressSpace

	// regions holds alive mappings keyed by base address. Guarded by mu.
	regions *btree.BTreeG[*Mapping]

	// lastFault caches the most recently faulted mapping. Guarded by mu.
	lastFault *Mapping

	// resident is the mapping that must never be removed before teardown
	// begins, if any. Guarded by mu.
	resident *Mapping

	// tearingDown is set once teardown begins; from then on mappings may
	// only be unmapped whole. Guarded by mu.
	tearingDown bool
}

// NewAddressSpace returns an empty AddressSpace over the given hardware
// page tables.
func NewAddressSpace(arch ArchAddressSpace) *AddressSpace {
	return &AddressSpace{
		arch: arch,
		regions: btree.NewG(regionTreeDegree, func(a, b *Mapping) bool {
			return a.base < b.base
		}),
	}
}

// NewMapping returns a new mapping of [base, base+size) to [objectOffset,
// objectOffset+size) of object, in the NotReady state. Placement within the
// address space is the caller's concern; the mapping joins the region tree
// on Activate.
//
// flags carries the initial hardware permission and cache bits; maxPerms is
// the policy ceiling that Protect may never escalate beyond.
func (as *AddressSpace) NewMapping(object vmo.Object, base hostarch.Addr, size uint64, objectOffset uint64, flags hostarch.MMUFlags, maxPerms hostarch.AccessType) (*Mapping, error) {
	if object == nil {
		return nil, vmerr.ErrInvalidArgs
	}
	if size == 0 || size%hostarch.PageSize != 0 || !base.IsPageAligned() || objectOffset%hostarch.PageSize != 0 {
		return nil, vmerr.ErrInvalidArgs
	}
	if _, ok := base.AddLength(size); !ok {
		return nil, vmerr.ErrInvalidArgs
	}
	if objectOffset+size < objectOffset {
		return nil, vmerr.ErrInvalidArgs
	}
	if !maxPerms.SupersetOf(flags.AccessType()) {
		return nil, vmerr.ErrAccessDenied
	}
	return &Mapping{
		as:           as,
		object:       object,
		maxPerms:     maxPerms,
		base:         base,
		size:         size,
		objectOffset: objectOffset,
		flags:        flags,
		state:        lifecycleNotReady,
	}, nil
}

// findRegionLocked returns the alive mapping containing va, or nil.
//
// Preconditions: as.mu must be locked.
func (as *AddressSpace) findRegionLocked(va hostarch.Addr) *Mapping {
	var found *Mapping
	as.regions.DescendLessOrEqual(&Mapping{base: va}, func(m *Mapping) bool {
		found = m
		return false
	})
	if found == nil || uint64(va-found.base) >= found.size {
		return nil
	}
	return found
}

// FindRegion returns the mapping containing va, or nil.
func (as *AddressSpace) FindRegion(va hostarch.Addr) *Mapping {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.findRegionLocked(va)
}

// insertRegionLocked adds m to the region tree.
//
// Preconditions: as.mu must be locked. m does not overlap any tree member.
func (as *AddressSpace) insertRegionLocked(m *Mapping) {
	if checkInvariants {
		if prev := as.findRegionLocked(m.base); prev != nil {
			panic(fmt.Sprintf("mapping %v overlaps %v", m, prev))
		}
		as.regions.AscendGreaterOrEqual(&Mapping{base: m.base}, func(next *Mapping) bool {
			if uint64(next.base-m.base) < m.size {
				panic(fmt.Sprintf("mapping %v overlaps %v", m, next))
			}
			return false
		})
	}
	if _, dup := as.regions.ReplaceOrInsert(m); dup {
		panic(fmt.Sprintf("mapping %v already in region tree", m))
	}
}

// removeRegionLocked removes m from the region tree.
//
// Preconditions: as.mu must be locked. m is a tree member.
func (as *AddressSpace) removeRegionLocked(m *Mapping) {
	if _, ok := as.regions.Delete(m); !ok {
		panic(fmt.Sprintf("mapping %v not in region tree", m))
	}
}

// PageFault resolves a fault at va, routing it to the containing mapping.
// It fails with vmerr.ErrNotFound if nothing is mapped at va.
func (as *AddressSpace) PageFault(va hostarch.Addr, opts FaultOpts) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	m := as.lastFault
	if m == nil || m.state != lifecycleAlive || uint64(va-m.base) >= m.size {
		m = as.findRegionLocked(va)
		if m == nil {
			return vmerr.ErrNotFound
		}
		as.lastFault = m
	}
	return m.pageFaultLocked(va, opts)
}

// SetResident designates m as the permanently-resident mapping: Destroy and
// whole-range Unmap refuse it until teardown, and it never merges.
func (as *AddressSpace) SetResident(m *Mapping) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	if m.as != as {
		return vmerr.ErrInvalidArgs
	}
	if m.state != lifecycleAlive {
		return vmerr.ErrBadState
	}
	m.mergeable = false
	as.resident = m
	return nil
}

// DestroyAll begins teardown and destroys every mapping, including the
// resident one.
func (as *AddressSpace) DestroyAll() error {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.tearingDown = true
	var ms []*Mapping
	as.regions.Ascend(func(m *Mapping) bool {
		ms = append(ms, m)
		return true
	})
	for _, m := range ms {
		if err := m.destroyLocked(); err != nil {
			return err
		}
	}
	return nil
}

// RegionInfo describes one mapping in a Regions snapshot.
type RegionInfo struct {
	Range        hostarch.AddrRange
	ObjectOffset uint64
	Flags        hostarch.MMUFlags
	Mergeable    bool
}

// Regions returns a snapshot of all mappings in ascending base order.
func (as *AddressSpace) Regions() []RegionInfo {
	as.mu.Lock()
	defer as.mu.Unlock()
	var ris []RegionInfo
	as.regions.Ascend(func(m *Mapping) bool {
		m.object.Lock()
		ris = append(ris, RegionInfo{
			Range:        hostarch.AddrRange{Start: m.base, End: m.base + hostarch.Addr(m.size)},
			ObjectOffset: m.objectOffset,
			Flags:        m.flags,
			Mergeable:    m.mergeable,
		})
		m.object.Unlock()
		return true
	})
	return ris
}
