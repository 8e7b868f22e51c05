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

// Package ptables implements a software 4-level page table providing the
// hardware address space contract consumed by package vm: batched map,
// protect, unmap, query, accessed-bit harvesting and page-table boundary
// computation.
//
// PageTables is internally synchronized; callers may invoke it under
// whichever higher-level locks they hold.
package ptables

import (
	"fmt"
	"sync"

	"vmcore.dev/vmcore/pkg/errors/vmerr"
	"vmcore.dev/vmcore/pkg/hostarch"
)

const (
	entriesPerTable = 512
	tableBits       = 9

	// numLevels is the depth of the table hierarchy. Level 0 is the root;
	// level numLevels-1 holds leaf PTEs, each leaf table spanning
	// hostarch.HugePageSize of address space.
	numLevels = 4
)

// levelShift returns the address shift of the given level's index field.
func levelShift(level int) uint {
	return uint(hostarch.PageShift + tableBits*(numLevels-1-level))
}

// levelIndex returns the table index of addr at the given level.
func levelIndex(addr hostarch.Addr, level int) int {
	return int(addr>>levelShift(level)) & (entriesPerTable - 1)
}

// addrEnd returns the next boundary of the given span covering addr, or end
// if that comes earlier. span must be a power of two.
func addrEnd(addr, end hostarch.Addr, span hostarch.Addr) hostarch.Addr {
	next := (addr + span) &^ (span - 1)
	if next < addr || next > end {
		return end
	}
	return next
}

// node is a single table in the hierarchy. Leaf tables use entries; interior
// tables use children. live counts valid entries or present children, and
// drives freeing of empty tables on unmap.
type node struct {
	entries  [entriesPerTable]PTE
	children [entriesPerTable]*node
	live     int
}

// PageTables is a software page table hierarchy.
type PageTables struct {
	mu     sync.Mutex
	root   *node
	mapped uint64
}

// New returns an empty PageTables.
func New() *PageTables {
	return &PageTables{root: &node{}}
}

// walkRange visits every leaf PTE in [start, end). If alloc is true, missing
// tables are allocated and invalid entries are visited; otherwise missing
// tables are skipped and only entries of existing tables are visited (the
// visitor still checks validity itself). Tables emptied by the visitor are
// freed. The visitor returns false to stop the walk early.
func (p *PageTables) walkRange(n *node, level int, start, end hostarch.Addr, alloc bool, visit func(va hostarch.Addr, pte *PTE) bool) bool {
	span := hostarch.Addr(1) << levelShift(level)
	for addr := start; addr < end; {
		next := addrEnd(addr, end, span)
		idx := levelIndex(addr, level)
		if level == numLevels-1 {
			pte := &n.entries[idx]
			if !pte.Valid() && !alloc {
				addr = next
				continue
			}
			wasValid := pte.Valid()
			cont := visit(addr, pte)
			if pte.Valid() != wasValid {
				if pte.Valid() {
					n.live++
				} else {
					n.live--
				}
			}
			if !cont {
				return false
			}
			addr = next
			continue
		}
		child := n.children[idx]
		if child == nil {
			if !alloc {
				addr = next
				continue
			}
			child = &node{}
			n.children[idx] = child
			n.live++
		}
		cont := p.walkRange(child, level+1, addr, next, alloc, visit)
		if child.live == 0 {
			n.children[idx] = nil
			n.live--
		}
		if !cont {
			return false
		}
		addr = next
	}
	return true
}

// checkRange panics on arguments that no correct caller can produce.
func checkRange(va hostarch.Addr, numPages int) hostarch.Addr {
	if !va.IsPageAligned() || numPages <= 0 {
		panic(fmt.Sprintf("ptables: invalid range va %#x pages %d", uintptr(va), numPages))
	}
	end, ok := va.AddLength(uint64(numPages) * hostarch.PageSize)
	if !ok {
		panic(fmt.Sprintf("ptables: range va %#x pages %d wraps", uintptr(va), numPages))
	}
	return end
}

// Map installs frames at consecutive pages starting at va. existing selects
// the behavior on an already-present entry: ExistingEntryError fails the
// call with vmerr.ErrBadState, ExistingEntrySkip leaves the entry in place.
// The returned count includes skipped entries.
//
// Preconditions: va is page-aligned. len(frames) > 0. flags retains at least
// one of read/write/execute.
func (p *PageTables) Map(va hostarch.Addr, frames []uintptr, flags hostarch.MMUFlags, existing hostarch.ExistingEntryAction) (int, error) {
	end := checkRange(va, len(frames))
	if !flags.Accessible() {
		panic(fmt.Sprintf("ptables.Map: permission-less flags %v", flags))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var (
		i      int
		mapped int
		err    error
	)
	p.walkRange(p.root, 0, va, end, true, func(addr hostarch.Addr, pte *PTE) bool {
		pa := frames[i]
		i++
		if pte.Valid() {
			if existing == hostarch.ExistingEntryError {
				err = vmerr.ErrBadState
				return false
			}
			mapped++
			return true
		}
		pte.set(pa, flags)
		p.mapped++
		mapped++
		return true
	})
	return mapped, err
}

// Protect rewrites the permissions of every present entry in the range.
// Absent entries are skipped; they will pick up the new permissions when
// next installed.
func (p *PageTables) Protect(va hostarch.Addr, numPages int, flags hostarch.MMUFlags) error {
	end := checkRange(va, numPages)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.walkRange(p.root, 0, va, end, false, func(addr hostarch.Addr, pte *PTE) bool {
		if pte.Valid() {
			pte.setFlags(flags)
		}
		return true
	})
	return nil
}

// Unmap removes every present entry in the range, freeing page tables that
// become empty.
func (p *PageTables) Unmap(va hostarch.Addr, numPages int) error {
	end := checkRange(va, numPages)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.walkRange(p.root, 0, va, end, false, func(addr hostarch.Addr, pte *PTE) bool {
		if pte.Valid() {
			pte.clear()
			p.mapped--
		}
		return true
	})
	return nil
}

// Query returns the frame and flags mapped at va, or vmerr.ErrNotFound if
// nothing is mapped there.
func (p *PageTables) Query(va hostarch.Addr) (uintptr, hostarch.MMUFlags, error) {
	checkRange(va, 1)
	p.mu.Lock()
	defer p.mu.Unlock()
	var (
		pa    uintptr
		flags hostarch.MMUFlags
		found bool
	)
	p.walkRange(p.root, 0, va, va+hostarch.PageSize, false, func(addr hostarch.Addr, pte *PTE) bool {
		if pte.Valid() {
			pa = pte.Address()
			flags = pte.Flags()
			found = true
		}
		return false
	})
	if !found {
		return 0, 0, vmerr.ErrNotFound
	}
	return pa, flags, nil
}

// HarvestAccessed reports, and clears, the accessed bit of every present
// entry in the range. The callback receives the entry's virtual address and
// frame; returning false stops the harvest. The accessed bit is cleared
// regardless of the callback's return value for entries it was invoked on.
func (p *PageTables) HarvestAccessed(va hostarch.Addr, numPages int, cb func(va hostarch.Addr, pa uintptr) bool) error {
	end := checkRange(va, numPages)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.walkRange(p.root, 0, va, end, false, func(addr hostarch.Addr, pte *PTE) bool {
		if !pte.Valid() || !pte.Accessed() {
			return true
		}
		cont := cb(addr, pte.Address())
		pte.clearAccessed()
		return cont
	})
	return nil
}

// NextBoundary returns the first leaf-table boundary strictly above va. The
// range [va, NextBoundary(va)) is contained in a single leaf table, so a
// batched install within it forces at most one table allocation.
func (p *PageTables) NextBoundary(va hostarch.Addr) hostarch.Addr {
	return va.HugeRoundDown() + hostarch.HugePageSize
}

// MappedPages returns the number of present leaf entries.
func (p *PageTables) MappedPages() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mapped
}
