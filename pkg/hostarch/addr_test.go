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

import (
	"testing"
)

func TestAddrAddLength(t *testing.T) {
	for _, tc := range []struct {
		addr   Addr
		length uint64
		want   Addr
		ok     bool
	}{
		{0x1000, 0x1000, 0x2000, true},
		{0x1000, 0, 0x1000, true},
		{^Addr(0), 1, 0, false},
		// A range ending exactly at the top of the address space wraps
		// to zero and is rejected.
		{^Addr(0) - 0xfff, 0x1000, 0, false},
	} {
		got, ok := tc.addr.AddLength(tc.length)
		if ok != tc.ok || (ok && got != tc.want) {
			t.Errorf("AddLength(%#x, %#x): got %#x, %t; want %#x, %t", tc.addr, tc.length, got, ok, tc.want, tc.ok)
		}
	}
}

func TestAddrRounding(t *testing.T) {
	if got := Addr(0x1fff).RoundDown(); got != 0x1000 {
		t.Errorf("RoundDown: got %#x, want 0x1000", got)
	}
	got, ok := Addr(0x1001).RoundUp()
	if !ok || got != 0x2000 {
		t.Errorf("RoundUp: got %#x, %t; want 0x2000, true", got, ok)
	}
	if _, ok := (^Addr(0)).RoundUp(); ok {
		t.Error("RoundUp at the top of the address space did not overflow")
	}
	if got := Addr(0x3fffff).HugeRoundDown(); got != 0x200000 {
		t.Errorf("HugeRoundDown: got %#x, want 0x200000", got)
	}
	if !Addr(0x2000).IsPageAligned() || Addr(0x2001).IsPageAligned() {
		t.Error("IsPageAligned misclassified")
	}
}

func TestAddrRangeIntersect(t *testing.T) {
	a := AddrRange{Start: 0x1000, End: 0x4000}
	for _, tc := range []struct {
		b, want AddrRange
	}{
		{AddrRange{0x0, 0x2000}, AddrRange{0x1000, 0x2000}},
		{AddrRange{0x2000, 0x3000}, AddrRange{0x2000, 0x3000}},
		{AddrRange{0x3000, 0x8000}, AddrRange{0x3000, 0x4000}},
		{AddrRange{0x8000, 0x9000}, AddrRange{0x8000, 0x8000}},
	} {
		if got := a.Intersect(tc.b); got.Length() != tc.want.Length() || (got.Length() != 0 && got != tc.want) {
			t.Errorf("Intersect(%v, %v): got %v, want %v", a, tc.b, got, tc.want)
		}
	}
}

func TestObjectRange(t *testing.T) {
	r := ObjectRange{Start: 0x1000, End: 0x4000}
	if r.Length() != 0x3000 {
		t.Errorf("Length: got %#x, want 0x3000", r.Length())
	}
	if !r.Contains(0x1000) || r.Contains(0x4000) {
		t.Error("Contains misclassified endpoints")
	}
	if got := r.Intersect(ObjectRange{Start: 0x3000, End: 0x9000}); got.Length() != 0x1000 {
		t.Errorf("Intersect: got %v", got)
	}
	if !(ObjectRange{Start: 0x1000, End: 0x2000}).WellFormed() {
		t.Error("well-formed range misclassified")
	}
	if (ObjectRange{Start: 0x2000, End: 0x1000}).WellFormed() {
		t.Error("inverted range classified well-formed")
	}
}

func TestAccessType(t *testing.T) {
	if got := ReadWrite.String(); got != "rw-" {
		t.Errorf("ReadWrite.String(): got %q, want \"rw-\"", got)
	}
	if !AnyAccess.SupersetOf(ReadExecute) {
		t.Error("AnyAccess not a superset of ReadExecute")
	}
	if ReadExecute.SupersetOf(ReadWrite) {
		t.Error("ReadExecute claims superset of ReadWrite")
	}
	if NoAccess.Any() {
		t.Error("NoAccess.Any() is true")
	}
	if got := ReadWrite.Intersect(ReadExecute); got != Read {
		t.Errorf("Intersect: got %v, want %v", got, Read)
	}
	if got := Read.Union(Execute); got != ReadExecute {
		t.Errorf("Union: got %v, want %v", got, ReadExecute)
	}
}

func TestMMUFlags(t *testing.T) {
	f := MMUFlagsFrom(ReadWrite)
	if f.AccessType() != ReadWrite {
		t.Errorf("AccessType round trip: got %v", f.AccessType())
	}
	if !f.Accessible() {
		t.Error("rw flags not accessible")
	}
	if MMUFlags(0).Accessible() {
		t.Error("empty flags accessible")
	}
	if (MMUUser).Accessible() {
		t.Error("user-only flags accessible")
	}

	f = f.WithMemoryType(MemoryTypeUncached)
	if f.MemoryType() != MemoryTypeUncached {
		t.Errorf("MemoryType: got %v, want %v", f.MemoryType(), MemoryTypeUncached)
	}
	if f.AccessType() != ReadWrite {
		t.Errorf("AccessType after WithMemoryType: got %v", f.AccessType())
	}
	if f.Permissions()&MMUCacheMask != 0 {
		t.Error("Permissions retained cache bits")
	}
}
