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

package hostarch

import "fmt"

// AddrRange is a range of virtual addresses [Start, End).
type AddrRange struct {
	Start Addr
	End   Addr
}

// WellFormed returns true if r.Start <= r.End. All other methods on an
// AddrRange require that the AddrRange is well-formed.
func (r AddrRange) WellFormed() bool {
	return r.Start <= r.End
}

// Length returns the length of the range.
func (r AddrRange) Length() uint64 {
	return uint64(r.End - r.Start)
}

// Contains returns true if r contains x.
func (r AddrRange) Contains(x Addr) bool {
	return r.Start <= x && x < r.End
}

// Overlaps returns true if r and r2 overlap.
func (r AddrRange) Overlaps(r2 AddrRange) bool {
	return r.Start < r2.End && r2.Start < r.End
}

// IsSupersetOf returns true if r is a superset of r2; that is, the range r2
// is contained within r.
func (r AddrRange) IsSupersetOf(r2 AddrRange) bool {
	return r.Start <= r2.Start && r.End >= r2.End
}

// Intersect returns the range formed by the intersection of r and r2. If r
// and r2 do not overlap, the returned range is empty.
func (r AddrRange) Intersect(r2 AddrRange) AddrRange {
	if r.Start < r2.Start {
		r.Start = r2.Start
	}
	if r.End > r2.End {
		r.End = r2.End
	}
	if r.End < r.Start {
		r.End = r.Start
	}
	return r
}

// IsPageAligned returns true if r.Start and r.End are page-aligned.
func (r AddrRange) IsPageAligned() bool {
	return r.Start.IsPageAligned() && r.End.IsPageAligned()
}

// String implements fmt.Stringer.String.
func (r AddrRange) String() string {
	return fmt.Sprintf("[%#x, %#x)", uintptr(r.Start), uintptr(r.End))
}

// ObjectRange is a range of uint64 offsets [Start, End) into a memory
// object.
type ObjectRange struct {
	Start uint64
	End   uint64
}

// WellFormed returns true if r.Start <= r.End.
func (r ObjectRange) WellFormed() bool {
	return r.Start <= r.End
}

// Length returns the length of the range.
func (r ObjectRange) Length() uint64 {
	return r.End - r.Start
}

// Contains returns true if r contains x.
func (r ObjectRange) Contains(x uint64) bool {
	return r.Start <= x && x < r.End
}

// IsSupersetOf returns true if r is a superset of r2.
func (r ObjectRange) IsSupersetOf(r2 ObjectRange) bool {
	return r.Start <= r2.Start && r.End >= r2.End
}

// Intersect returns the range formed by the intersection of r and r2. If r
// and r2 do not overlap, the returned range is empty.
func (r ObjectRange) Intersect(r2 ObjectRange) ObjectRange {
	if r.Start < r2.Start {
		r.Start = r2.Start
	}
	if r.End > r2.End {
		r.End = r2.End
	}
	if r.End < r.Start {
		r.End = r.Start
	}
	return r
}

// String implements fmt.Stringer.String.
func (r ObjectRange) String() string {
	return fmt.Sprintf("[%#x, %#x)", r.Start, r.End)
}
