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

// Package vmo defines semantics for memory objects: reference-counted
// backing stores for pages, shared across mappings.
//
// An Object's lock is the inner lock of the subsystem (see package vm for
// the lock order). Methods with the Locked suffix require it; Object
// implementations must use a single lock instance for all of them, which
// embedding Core provides.
package vmo

import (
	"vmcore.dev/vmcore/pkg/hostarch"
)

// MaxLookupPages is the maximum batch returned by a single page lookup.
const MaxLookupPages = 16

// LookupOpts controls Object.LookupPagesLocked.
type LookupOpts struct {
	// Access is the access type of the fault triggering the lookup. A
	// write access commits pages as needed; a read access may be satisfied
	// by the zero frame.
	Access hostarch.AccessType

	// Soft forces pages to be committed even for read access.
	Soft bool

	// Existing restricts the lookup to already-committed pages: no
	// allocation is performed and no zero frame is returned. A lookup
	// whose first page is absent fails with vmerr.ErrNotFound.
	Existing bool
}

// LookupResult is a run of frames backing consecutive object pages.
type LookupResult struct {
	// Frames holds the frames; only Frames[:NumFrames] is valid.
	Frames [MaxLookupPages]uintptr

	// NumFrames is the number of valid frames, at least 1 on success.
	NumFrames int

	// Writable is true if the backing pages may be written through a
	// mapping. It applies to the whole run; a lookup stops early rather
	// than return a run of mixed writability.
	Writable bool
}

// MappingView is the per-mapping callback surface an Object uses to
// propagate page-state changes to everything mapping the affected range.
// All methods are invoked with only the object lock held, and must not
// acquire any outer lock.
type MappingView interface {
	// UnmapObjectRangeLocked removes hardware mappings for the given
	// object range, where it intersects the view.
	UnmapObjectRangeLocked(offset, length uint64) error

	// RemoveWriteObjectRangeLocked strips write permission from hardware
	// mappings of the given object range, where it intersects the view.
	RemoveWriteObjectRangeLocked(offset, length uint64) error

	// HarvestAccessedObjectRangeLocked reports and clears hardware
	// accessed bits for the given object range, invoking cb with the
	// object offset of each accessed page until it returns false.
	HarvestAccessedObjectRangeLocked(offset, length uint64, cb func(offset uint64) bool) error
}

// Object is a memory object.
//
// All offsets and lengths passed to Object methods are page-aligned, and
// Locked methods require the object lock.
type Object interface {
	// Lock and Unlock acquire and release the object lock.
	Lock()
	Unlock()

	// AddMappingLocked registers a mapping of this object.
	AddMappingLocked(v MappingView)

	// RemoveMappingLocked unregisters a mapping previously registered with
	// AddMappingLocked.
	RemoveMappingLocked(v MappingView)

	// LookupPagesLocked returns, and faults in as opts requires, up to
	// maxPages frames backing the object starting at offset.
	LookupPagesLocked(offset uint64, opts LookupOpts, maxPages int) (LookupResult, error)

	// AttributedPagesLocked returns the number of committed pages in
	// [offset, offset+length) charged to this object.
	AttributedPagesLocked(offset, length uint64) uint64

	// GenerationCountLocked returns a counter bumped on every page-state
	// change.
	GenerationCountLocked() uint64

	// Paged returns true if the object supports generation-count-based
	// attribution caching.
	Paged() bool

	// Size returns the object's size in bytes. It is immutable.
	Size() uint64

	// DecommitRange releases committed pages in [offset, offset+length),
	// notifying every registered mapping. It acquires the object lock
	// itself.
	DecommitRange(offset, length uint64) error
}
