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

// Package vm implements the virtual-memory mapping subsystem: mappings of
// virtual address ranges to memory objects, and the operations that mediate
// page-table mutation, page faults, protection changes, unmapping and
// opportunistic merging for those ranges.
//
// Lock order:
//
//	AddressSpace.mu (outer)
//		vmo.Object lock (inner)
//
// Mapping.base, Mapping.size and Mapping.state are guarded by the outer
// lock; Mapping.objectOffset, Mapping.flags, the generation counter and the
// attribution cache are guarded by the inner lock. Fields written under both
// locks (size, flags, objectOffset on an alive mapping) may be read under
// either. Object-driven callbacks (the vmo.MappingView methods) run holding
// only the inner lock and therefore never touch base, size or tree
// membership, only hardware page-table state.
package vm

import "vmcore.dev/vmcore/pkg/hostarch"

// checkInvariants enables expensive precondition checking on internal
// entry points.
const checkInvariants = true

// FaultOpts describes a page fault.
type FaultOpts struct {
	// Access is the access type that caused the fault.
	Access hostarch.AccessType

	// User is true if the fault was taken from user mode.
	User bool

	// Soft is true for software-initiated faults, which force pages to be
	// committed rather than backed by the zero frame.
	Soft bool
}

// ArchAddressSpace is the hardware page-table driver consumed by this
// package. Implementations are internally synchronized; all calls made here
// additionally hold at least one of the subsystem locks.
type ArchAddressSpace interface {
	// Map installs frames at consecutive pages starting at va and returns
	// the number of pages now mapped, including any skipped under
	// ExistingEntrySkip.
	Map(va hostarch.Addr, frames []uintptr, flags hostarch.MMUFlags, existing hostarch.ExistingEntryAction) (int, error)

	// Protect rewrites the permissions of present entries in the range.
	Protect(va hostarch.Addr, numPages int, flags hostarch.MMUFlags) error

	// Unmap removes present entries in the range.
	Unmap(va hostarch.Addr, numPages int) error

	// Query returns the frame and flags mapped at va, or vmerr.ErrNotFound.
	Query(va hostarch.Addr) (uintptr, hostarch.MMUFlags, error)

	// HarvestAccessed reports and clears accessed bits over the range,
	// invoking cb per accessed page until it returns false.
	HarvestAccessed(va hostarch.Addr, numPages int, cb func(va hostarch.Addr, pa uintptr) bool) error

	// NextBoundary returns the first page-table leaf boundary strictly
	// above va; mapping within [va, NextBoundary(va)) forces at most one
	// table allocation.
	NextBoundary(va hostarch.Addr) hostarch.Addr
}
