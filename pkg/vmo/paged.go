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

	"vmcore.dev/vmcore/pkg/errors/vmerr"
	"vmcore.dev/vmcore/pkg/hostarch"
	"vmcore.dev/vmcore/pkg/physmem"
)

// PagedObject is an anonymous memory object. Pages are committed lazily:
// reads of uncommitted pages are backed by the shared zero frame, writes and
// soft faults commit frames from the allocator. Committing or decommitting a
// page invalidates stale hardware mappings through the registered
// MappingViews.
type PagedObject struct {
	Core

	size  uint64
	alloc *physmem.Allocator

	// pages maps committed offsets to frames. Guarded by the object lock.
	pages map[uint64]uintptr
}

// NewPaged returns a PagedObject of the given size backed by alloc.
func NewPaged(alloc *physmem.Allocator, size uint64) (*PagedObject, error) {
	if size == 0 || size%hostarch.PageSize != 0 {
		return nil, vmerr.ErrInvalidArgs
	}
	return &PagedObject{
		size:  size,
		alloc: alloc,
		pages: make(map[uint64]uintptr),
	}, nil
}

// Paged implements Object.Paged.
func (o *PagedObject) Paged() bool { return true }

// Size implements Object.Size.
func (o *PagedObject) Size() uint64 { return o.size }

// LookupPagesLocked implements Object.LookupPagesLocked.
func (o *PagedObject) LookupPagesLocked(offset uint64, opts LookupOpts, maxPages int) (LookupResult, error) {
	if checkLookupArgs(offset, maxPages) {
		panic(fmt.Sprintf("vmo: invalid lookup offset %#x maxPages %d", offset, maxPages))
	}
	if offset >= o.size {
		return LookupResult{}, vmerr.ErrOutOfRange
	}
	if n := int((o.size - offset) / hostarch.PageSize); maxPages > n {
		maxPages = n
	}
	if maxPages > MaxLookupPages {
		maxPages = MaxLookupPages
	}

	commit := opts.Soft || opts.Access.Write

	var res LookupResult
	for i := 0; i < maxPages; i++ {
		off := offset + uint64(i)*hostarch.PageSize
		frame, committed := o.pages[off]
		writable := committed
		if !committed {
			if opts.Existing {
				break
			}
			if commit {
				// Only the first page is committed; later absent
				// pages end the run and wait for their own fault.
				if i > 0 {
					break
				}
				var err error
				frame, err = o.commitLocked(off)
				if err != nil {
					return LookupResult{}, err
				}
				writable = true
			} else {
				frame = physmem.ZeroFrame()
			}
		}
		if i == 0 {
			res.Writable = writable
		} else if writable != res.Writable {
			// Runs of mixed writability are split rather than
			// reported with a single flag.
			break
		}
		res.Frames[i] = frame
		res.NumFrames++
	}
	if res.NumFrames == 0 {
		return LookupResult{}, vmerr.ErrNotFound
	}
	return res, nil
}

// commitLocked allocates a frame for the page at off. Committing replaces
// any zero-frame translations other mappings may have installed, so stale
// hardware mappings of the page are dropped before the commit is visible.
func (o *PagedObject) commitLocked(off uint64) (uintptr, error) {
	frame, err := o.alloc.Allocate()
	if err != nil {
		return 0, err
	}
	o.pages[off] = frame
	o.bumpGenerationLocked()
	if err := o.unmapRangeLocked(off, hostarch.PageSize); err != nil {
		// A mapping may still hold a stale translation; the commit must
		// not stand.
		delete(o.pages, off)
		o.alloc.Free(frame)
		return 0, err
	}
	return frame, nil
}

// AttributedPagesLocked implements Object.AttributedPagesLocked.
func (o *PagedObject) AttributedPagesLocked(offset, length uint64) uint64 {
	var n uint64
	for off := range o.pages {
		if off >= offset && off-offset < length {
			n++
		}
	}
	return n
}

// DecommitRange implements Object.DecommitRange.
func (o *PagedObject) DecommitRange(offset, length uint64) error {
	if offset%hostarch.PageSize != 0 || length%hostarch.PageSize != 0 {
		return vmerr.ErrInvalidArgs
	}
	end := offset + length
	if end < offset || end > o.size {
		return vmerr.ErrOutOfRange
	}
	if length == 0 {
		return nil
	}

	o.Lock()
	defer o.Unlock()
	changed := false
	for off := offset; off < end; off += hostarch.PageSize {
		if frame, ok := o.pages[off]; ok {
			o.alloc.Free(frame)
			delete(o.pages, off)
			changed = true
		}
	}
	if changed {
		o.bumpGenerationLocked()
	}
	return o.unmapRangeLocked(offset, length)
}

// RemoveWriteRange strips write permission from every hardware mapping of
// [offset, offset+length), forcing the next write to fault. This is the
// hook used to begin write tracking over a range.
func (o *PagedObject) RemoveWriteRange(offset, length uint64) error {
	o.Lock()
	defer o.Unlock()
	return o.removeWriteRangeLocked(offset, length)
}

// HarvestAccessed reports and clears hardware accessed bits over [offset,
// offset+length) across every mapping, invoking cb with the object offset
// of each accessed page.
func (o *PagedObject) HarvestAccessed(offset, length uint64, cb func(offset uint64) bool) error {
	o.Lock()
	defer o.Unlock()
	return o.harvestAccessedRangeLocked(offset, length, cb)
}

// CommittedPages returns the number of committed pages in the object.
func (o *PagedObject) CommittedPages() uint64 {
	o.Lock()
	defer o.Unlock()
	return uint64(len(o.pages))
}

func checkLookupArgs(offset uint64, maxPages int) bool {
	return offset%hostarch.PageSize != 0 || maxPages <= 0
}
