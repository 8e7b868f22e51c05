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

// Package physmem provides the physical frame namespace backing memory
// objects: a frame allocator and the global zero frame.
//
// Frames are identified by physical address only; no backing storage is
// attached. Physical address 0 is never a valid frame, so it can be used as
// a sentinel.
package physmem

import (
	"fmt"
	"sync"

	"vmcore.dev/vmcore/pkg/errors/vmerr"
	"vmcore.dev/vmcore/pkg/hostarch"
)

const (
	// zeroFrameAddr is the fixed physical address of the global zero frame.
	// It sits below allocBase so the allocator can never hand it out.
	zeroFrameAddr uintptr = 0x1000

	// allocBase is the lowest physical address the allocator hands out.
	allocBase uintptr = 0x100000
)

// ZeroFrame returns the physical address of the global zero frame: a single
// page of zeroes shared read-only across all lazily-allocated reads. It must
// never be mapped writable.
func ZeroFrame() uintptr {
	return zeroFrameAddr
}

// IsZeroFrame returns true if pa is the global zero frame.
func IsZeroFrame(pa uintptr) bool {
	return pa == zeroFrameAddr
}

// Allocator hands out page frames. The zero value is not usable; use New.
type Allocator struct {
	mu sync.Mutex

	// limit is the maximum number of live frames; 0 means unlimited.
	limit uint64

	// next is the next never-allocated frame address.
	next uintptr

	// free holds freed frames for reuse.
	free []uintptr

	// allocated is the current number of live frames.
	allocated uint64
}

// New returns an Allocator that allows at most limit live frames; limit == 0
// means unlimited.
func New(limit uint64) *Allocator {
	return &Allocator{
		limit: limit,
		next:  allocBase,
	}
}

// Allocate returns a new frame. It fails with vmerr.ErrNoMemory once the
// allocator's limit is reached.
func (a *Allocator) Allocate() (uintptr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.limit != 0 && a.allocated >= a.limit {
		return 0, vmerr.ErrNoMemory
	}
	var pa uintptr
	if n := len(a.free); n > 0 {
		pa = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		pa = a.next
		a.next += hostarch.PageSize
	}
	a.allocated++
	return pa, nil
}

// Free returns a frame to the allocator.
//
// Preconditions: pa was returned by a previous Allocate and not yet freed.
func (a *Allocator) Free(pa uintptr) {
	if IsZeroFrame(pa) || pa < allocBase || pa%hostarch.PageSize != 0 {
		panic(fmt.Sprintf("physmem.Free(%#x): not an allocated frame", pa))
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.allocated == 0 {
		panic(fmt.Sprintf("physmem.Free(%#x): no live frames", pa))
	}
	a.allocated--
	a.free = append(a.free, pa)
}

// AllocatedFrames returns the current number of live frames.
func (a *Allocator) AllocatedFrames() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocated
}
