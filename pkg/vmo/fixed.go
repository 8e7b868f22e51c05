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
)

// FixedObject is a memory object over a fixed, contiguous physical range,
// as used for device memory. All pages exist from construction; nothing is
// committed lazily and nothing can be decommitted. FixedObject does not
// support generation-count attribution caching.
type FixedObject struct {
	Core

	base uintptr
	size uint64
}

// NewFixed returns a FixedObject covering [base, base+size).
func NewFixed(base uintptr, size uint64) (*FixedObject, error) {
	if size == 0 || size%hostarch.PageSize != 0 || base%hostarch.PageSize != 0 {
		return nil, vmerr.ErrInvalidArgs
	}
	if base+uintptr(size) < base {
		return nil, vmerr.ErrInvalidArgs
	}
	return &FixedObject{base: base, size: size}, nil
}

// Paged implements Object.Paged.
func (o *FixedObject) Paged() bool { return false }

// Size implements Object.Size.
func (o *FixedObject) Size() uint64 { return o.size }

// LookupPagesLocked implements Object.LookupPagesLocked.
func (o *FixedObject) LookupPagesLocked(offset uint64, opts LookupOpts, maxPages int) (LookupResult, error) {
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
	res := LookupResult{Writable: true}
	for i := 0; i < maxPages; i++ {
		res.Frames[i] = o.base + uintptr(offset) + uintptr(i)*hostarch.PageSize
		res.NumFrames++
	}
	return res, nil
}

// AttributedPagesLocked implements Object.AttributedPagesLocked. Every page
// in range is charged: fixed ranges are committed by construction.
func (o *FixedObject) AttributedPagesLocked(offset, length uint64) uint64 {
	r := hostarch.ObjectRange{Start: 0, End: o.size}
	return r.Intersect(hostarch.ObjectRange{Start: offset, End: offset + length}).Length() / hostarch.PageSize
}

// DecommitRange implements Object.DecommitRange. Fixed physical ranges
// cannot be decommitted.
func (o *FixedObject) DecommitRange(offset, length uint64) error {
	return vmerr.ErrBadState
}
