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

package vm_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"vmcore.dev/vmcore/pkg/errors/vmerr"
	"vmcore.dev/vmcore/pkg/hostarch"
	"vmcore.dev/vmcore/pkg/physmem"
	"vmcore.dev/vmcore/pkg/ptables"
	"vmcore.dev/vmcore/pkg/vm"
	"vmcore.dev/vmcore/pkg/vmo"
)

const pageSize = hostarch.PageSize

var (
	rwFlags = hostarch.MMUFlagsFrom(hostarch.ReadWrite)
	roFlags = hostarch.MMUFlagsFrom(hostarch.Read)
)

type testEnv struct {
	pt    *ptables.PageTables
	alloc *physmem.Allocator
	as    *vm.AddressSpace
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	pt := ptables.New()
	return &testEnv{
		pt:    pt,
		alloc: physmem.New(0),
		as:    vm.NewAddressSpace(pt),
	}
}

func (e *testEnv) newPagedObject(t *testing.T, pages uint64) *vmo.PagedObject {
	t.Helper()
	obj, err := vmo.NewPaged(e.alloc, pages*pageSize)
	if err != nil {
		t.Fatalf("NewPaged(%d pages): %v", pages, err)
	}
	return obj
}

// mustMap creates and activates a mapping of object at base.
func (e *testEnv) mustMap(t *testing.T, object vmo.Object, base hostarch.Addr, size, objectOffset uint64, flags hostarch.MMUFlags, maxPerms hostarch.AccessType) *vm.Mapping {
	t.Helper()
	m, err := e.as.NewMapping(object, base, size, objectOffset, flags, maxPerms)
	if err != nil {
		t.Fatalf("NewMapping(%#x, %#x): %v", base, size, err)
	}
	if err := m.Activate(); err != nil {
		t.Fatalf("Activate(%v): %v", m, err)
	}
	return m
}

func TestMappingLifecycle(t *testing.T) {
	e := newTestEnv(t)
	obj := e.newPagedObject(t, 4)

	m, err := e.as.NewMapping(obj, 0x400000, 4*pageSize, 0, rwFlags, hostarch.ReadWrite)
	if err != nil {
		t.Fatalf("NewMapping: %v", err)
	}
	if m.Alive() {
		t.Error("new mapping is already alive")
	}
	if got := e.as.FindRegion(0x400000); got != nil {
		t.Errorf("FindRegion before Activate: got %v, want nil", got)
	}

	if err := m.Activate(); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if !m.Alive() {
		t.Error("mapping not alive after Activate")
	}
	if err := m.Activate(); err != vmerr.ErrBadState {
		t.Errorf("second Activate: got %v, want %v", err, vmerr.ErrBadState)
	}
	if got := e.as.FindRegion(0x400000 + 3*pageSize); got != m {
		t.Errorf("FindRegion(last page): got %v, want %v", got, m)
	}
	if got := e.as.FindRegion(0x400000 + 4*pageSize); got != nil {
		t.Errorf("FindRegion(end): got %v, want nil", got)
	}
	if obj.NumMappings() != 1 {
		t.Errorf("object has %d mappings, want 1", obj.NumMappings())
	}

	if err := m.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if m.Alive() {
		t.Error("mapping alive after Destroy")
	}
	if got := e.as.FindRegion(0x400000); got != nil {
		t.Errorf("FindRegion after Destroy: got %v, want nil", got)
	}
	if obj.NumMappings() != 0 {
		t.Errorf("object has %d mappings after Destroy, want 0", obj.NumMappings())
	}
	if err := m.Destroy(); err != vmerr.ErrBadState {
		t.Errorf("second Destroy: got %v, want %v", err, vmerr.ErrBadState)
	}
}

func TestNewMappingValidation(t *testing.T) {
	e := newTestEnv(t)
	obj := e.newPagedObject(t, 4)

	for _, tc := range []struct {
		name     string
		base     hostarch.Addr
		size     uint64
		offset   uint64
		flags    hostarch.MMUFlags
		maxPerms hostarch.AccessType
		want     error
	}{
		{"unaligned base", 0x400001, pageSize, 0, rwFlags, hostarch.ReadWrite, vmerr.ErrInvalidArgs},
		{"zero size", 0x400000, 0, 0, rwFlags, hostarch.ReadWrite, vmerr.ErrInvalidArgs},
		{"unaligned size", 0x400000, pageSize + 1, 0, rwFlags, hostarch.ReadWrite, vmerr.ErrInvalidArgs},
		{"unaligned offset", 0x400000, pageSize, 123, rwFlags, hostarch.ReadWrite, vmerr.ErrInvalidArgs},
		{"end overflows", ^hostarch.Addr(0) - pageSize + 1, 2 * pageSize, 0, rwFlags, hostarch.ReadWrite, vmerr.ErrInvalidArgs},
		{"flags exceed ceiling", 0x400000, pageSize, 0, rwFlags, hostarch.Read, vmerr.ErrAccessDenied},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := e.as.NewMapping(obj, tc.base, tc.size, tc.offset, tc.flags, tc.maxPerms); err != tc.want {
				t.Errorf("NewMapping: got %v, want %v", err, tc.want)
			}
		})
	}
}

// regions returns the current snapshot, failing the test when the regions do
// not tile their convex hull with contiguous object offsets per object run.
func regions(t *testing.T, as *vm.AddressSpace) []vm.RegionInfo {
	t.Helper()
	ris := as.Regions()
	for i := 1; i < len(ris); i++ {
		prev, cur := ris[i-1], ris[i]
		if cur.Range.Start < prev.Range.End {
			t.Fatalf("regions overlap: %v then %v", prev, cur)
		}
	}
	return ris
}

func TestProtectSplitsAndMergesBack(t *testing.T) {
	e := newTestEnv(t)
	obj := e.newPagedObject(t, 3)
	const base = hostarch.Addr(0x400000)
	m := e.mustMap(t, obj, base, 3*pageSize, 0, rwFlags, hostarch.ReadWrite)

	// Protect the middle page read-only: [rw][ro][rw].
	if err := m.Protect(base+pageSize, pageSize, roFlags); err != nil {
		t.Fatalf("Protect(middle): %v", err)
	}
	want := []vm.RegionInfo{
		{Range: hostarch.AddrRange{Start: base, End: base + pageSize}, ObjectOffset: 0, Flags: rwFlags, Mergeable: false},
		{Range: hostarch.AddrRange{Start: base + pageSize, End: base + 2*pageSize}, ObjectOffset: pageSize, Flags: roFlags, Mergeable: true},
		{Range: hostarch.AddrRange{Start: base + 2*pageSize, End: base + 3*pageSize}, ObjectOffset: 2 * pageSize, Flags: rwFlags, Mergeable: true},
	}
	if diff := cmp.Diff(want, regions(t, e.as)); diff != "" {
		t.Fatalf("regions after interior Protect (-want +got):\n%s", diff)
	}

	// Restore the middle page. The two mergeable siblings coalesce; the
	// head does not until it is marked too.
	mid := e.as.FindRegion(base + pageSize)
	if mid == nil || mid == m {
		t.Fatalf("FindRegion(middle): got %v", mid)
	}
	if err := mid.Protect(base+pageSize, pageSize, rwFlags); err != nil {
		t.Fatalf("Protect(middle, rw): %v", err)
	}
	mid.TryMergeNeighbors()
	if got := regions(t, e.as); len(got) != 2 {
		t.Fatalf("regions after sibling merge: got %d, want 2:\n%+v", len(got), got)
	}

	merged := vm.ReadStats().MappingsMerged
	m.MarkMergeable()
	if got := vm.ReadStats().MappingsMerged; got == merged {
		t.Error("MarkMergeable did not merge")
	}
	want = []vm.RegionInfo{
		{Range: hostarch.AddrRange{Start: base, End: base + 3*pageSize}, ObjectOffset: 0, Flags: rwFlags, Mergeable: true},
	}
	if diff := cmp.Diff(want, regions(t, e.as)); diff != "" {
		t.Fatalf("regions after full merge (-want +got):\n%s", diff)
	}
	if got := m.Size(); got != 3*pageSize {
		t.Errorf("merged size: got %#x, want %#x", got, 3*pageSize)
	}
	if obj.NumMappings() != 1 {
		t.Errorf("object has %d mappings after merge, want 1", obj.NumMappings())
	}
}

func TestProtectEdges(t *testing.T) {
	const base = hostarch.Addr(0x400000)

	t.Run("whole", func(t *testing.T) {
		e := newTestEnv(t)
		m := e.mustMap(t, e.newPagedObject(t, 2), base, 2*pageSize, 0, rwFlags, hostarch.ReadWrite)
		if err := m.Protect(base, 2*pageSize, roFlags); err != nil {
			t.Fatalf("Protect: %v", err)
		}
		if got := regions(t, e.as); len(got) != 1 || got[0].Flags != roFlags {
			t.Errorf("regions: %+v", got)
		}
		if got := m.Flags(); got != roFlags {
			t.Errorf("Flags: got %v, want %v", got, roFlags)
		}
	})

	t.Run("head", func(t *testing.T) {
		e := newTestEnv(t)
		m := e.mustMap(t, e.newPagedObject(t, 3), base, 3*pageSize, 0, rwFlags, hostarch.ReadWrite)
		if err := m.Protect(base, pageSize, roFlags); err != nil {
			t.Fatalf("Protect: %v", err)
		}
		got := regions(t, e.as)
		if len(got) != 2 || got[0].Flags != roFlags || got[1].Flags != rwFlags {
			t.Fatalf("regions: %+v", got)
		}
		if got[1].ObjectOffset != pageSize || !got[1].Mergeable {
			t.Errorf("tail sibling: %+v", got[1])
		}
		if m.Size() != pageSize {
			t.Errorf("head size: got %#x, want %#x", m.Size(), pageSize)
		}
	})

	t.Run("tail", func(t *testing.T) {
		e := newTestEnv(t)
		m := e.mustMap(t, e.newPagedObject(t, 3), base, 3*pageSize, 0, rwFlags, hostarch.ReadWrite)
		if err := m.Protect(base+2*pageSize, pageSize, roFlags); err != nil {
			t.Fatalf("Protect: %v", err)
		}
		got := regions(t, e.as)
		if len(got) != 2 || got[0].Flags != rwFlags || got[1].Flags != roFlags {
			t.Fatalf("regions: %+v", got)
		}
		if m.Size() != 2*pageSize {
			t.Errorf("head size: got %#x, want %#x", m.Size(), 2*pageSize)
		}
	})

	t.Run("noop", func(t *testing.T) {
		e := newTestEnv(t)
		m := e.mustMap(t, e.newPagedObject(t, 3), base, 3*pageSize, 0, rwFlags, hostarch.ReadWrite)
		if err := m.Protect(base+pageSize, pageSize, hostarch.MMUFlagsFrom(hostarch.ReadWrite)); err != nil {
			t.Fatalf("Protect: %v", err)
		}
		if got := regions(t, e.as); len(got) != 1 {
			t.Errorf("no-op Protect split the mapping: %+v", got)
		}
	})
}

func TestProtectValidation(t *testing.T) {
	e := newTestEnv(t)
	const base = hostarch.Addr(0x400000)
	m := e.mustMap(t, e.newPagedObject(t, 2), base, 2*pageSize, 0, roFlags, hostarch.Read)

	if err := m.Protect(base+1, pageSize, roFlags); err != vmerr.ErrInvalidArgs {
		t.Errorf("unaligned base: got %v, want %v", err, vmerr.ErrInvalidArgs)
	}
	if err := m.Protect(base, 3*pageSize, roFlags); err != vmerr.ErrInvalidArgs {
		t.Errorf("out of range: got %v, want %v", err, vmerr.ErrInvalidArgs)
	}
	if err := m.Protect(base, 0, roFlags); err != vmerr.ErrInvalidArgs {
		t.Errorf("zero size: got %v, want %v", err, vmerr.ErrInvalidArgs)
	}
	if err := m.Protect(base, pageSize, roFlags.WithMemoryType(hostarch.MemoryTypeUncached)); err != vmerr.ErrInvalidArgs {
		t.Errorf("cache bits: got %v, want %v", err, vmerr.ErrInvalidArgs)
	}
	if err := m.Protect(base, pageSize, rwFlags); err != vmerr.ErrAccessDenied {
		t.Errorf("exceeding ceiling: got %v, want %v", err, vmerr.ErrAccessDenied)
	}
	if got := regions(t, e.as); len(got) != 1 {
		t.Errorf("failed Protects split the mapping: %+v", got)
	}
}

func TestProtectNoAccessUnmapsHardware(t *testing.T) {
	e := newTestEnv(t)
	const base = hostarch.Addr(0x400000)
	m := e.mustMap(t, e.newPagedObject(t, 1), base, pageSize, 0, rwFlags, hostarch.ReadWrite)

	if err := e.as.PageFault(base, vm.FaultOpts{Access: hostarch.Write}); err != nil {
		t.Fatalf("PageFault: %v", err)
	}
	if _, _, err := e.pt.Query(base); err != nil {
		t.Fatalf("Query after fault: %v", err)
	}

	// No permission bits left: the entry must be gone, not present with an
	// empty protection.
	if err := m.Protect(base, pageSize, 0); err != nil {
		t.Fatalf("Protect(none): %v", err)
	}
	if _, _, err := e.pt.Query(base); err != vmerr.ErrNotFound {
		t.Errorf("Query after no-access Protect: got %v, want %v", err, vmerr.ErrNotFound)
	}

	// Restoring access does not eagerly remap; the next fault does.
	if err := m.Protect(base, pageSize, rwFlags); err != nil {
		t.Fatalf("Protect(rw): %v", err)
	}
	if _, _, err := e.pt.Query(base); err != vmerr.ErrNotFound {
		t.Errorf("Query after restore: got %v, want %v", err, vmerr.ErrNotFound)
	}
	if err := e.as.PageFault(base, vm.FaultOpts{Access: hostarch.Write}); err != nil {
		t.Fatalf("PageFault after restore: %v", err)
	}
	if _, _, err := e.pt.Query(base); err != nil {
		t.Errorf("Query after refault: %v", err)
	}
}

func TestUnmapSplits(t *testing.T) {
	e := newTestEnv(t)
	obj := e.newPagedObject(t, 4)
	const base = hostarch.Addr(0x400000)
	m := e.mustMap(t, obj, base, 4*pageSize, 0, rwFlags, hostarch.ReadWrite)
	if err := m.MapRange(0, 4*pageSize, true); err != nil {
		t.Fatalf("MapRange: %v", err)
	}

	// Punch out the middle two pages.
	if err := m.Unmap(base+pageSize, 2*pageSize); err != nil {
		t.Fatalf("Unmap(middle): %v", err)
	}
	want := []vm.RegionInfo{
		{Range: hostarch.AddrRange{Start: base, End: base + pageSize}, ObjectOffset: 0, Flags: rwFlags, Mergeable: false},
		{Range: hostarch.AddrRange{Start: base + 3*pageSize, End: base + 4*pageSize}, ObjectOffset: 3 * pageSize, Flags: rwFlags, Mergeable: true},
	}
	if diff := cmp.Diff(want, regions(t, e.as)); diff != "" {
		t.Fatalf("regions after interior Unmap (-want +got):\n%s", diff)
	}
	for i, wantErr := range []error{nil, vmerr.ErrNotFound, vmerr.ErrNotFound, nil} {
		if _, _, err := e.pt.Query(base + hostarch.Addr(i)*pageSize); err != wantErr {
			t.Errorf("Query(page %d): got %v, want %v", i, err, wantErr)
		}
	}

	// The object pages stay committed; only translations are gone.
	if got := obj.CommittedPages(); got != 4 {
		t.Errorf("CommittedPages: got %d, want 4", got)
	}

	// Unmapping a whole mapping destroys it.
	tail := e.as.FindRegion(base + 3*pageSize)
	if err := tail.Unmap(base+3*pageSize, pageSize); err != nil {
		t.Fatalf("Unmap(tail): %v", err)
	}
	if tail.Alive() {
		t.Error("tail alive after whole-range Unmap")
	}
	if got := regions(t, e.as); len(got) != 1 {
		t.Errorf("regions after tail Unmap: %+v", got)
	}
}

func TestUnmapTrimsLeft(t *testing.T) {
	e := newTestEnv(t)
	const base = hostarch.Addr(0x400000)
	m := e.mustMap(t, e.newPagedObject(t, 3), base, 3*pageSize, 0, rwFlags, hostarch.ReadWrite)

	if err := m.Unmap(base, pageSize); err != nil {
		t.Fatalf("Unmap(head): %v", err)
	}
	if got := m.Base(); got != base+pageSize {
		t.Errorf("Base after left trim: got %#x, want %#x", got, base+pageSize)
	}
	if got := m.ObjectOffset(); got != pageSize {
		t.Errorf("ObjectOffset after left trim: got %#x, want %#x", got, pageSize)
	}
	// The region tree must have been re-keyed.
	if got := e.as.FindRegion(base + pageSize); got != m {
		t.Errorf("FindRegion after left trim: got %v, want %v", got, m)
	}
	if got := e.as.FindRegion(base); got != nil {
		t.Errorf("FindRegion(trimmed page): got %v, want nil", got)
	}
}

func TestMergeStrictness(t *testing.T) {
	const base = hostarch.Addr(0x400000)

	t.Run("non-contiguous object offsets", func(t *testing.T) {
		e := newTestEnv(t)
		obj := e.newPagedObject(t, 8)
		m1 := e.mustMap(t, obj, base, pageSize, 0, rwFlags, hostarch.ReadWrite)
		e.mustMap(t, obj, base+pageSize, pageSize, 3*pageSize, rwFlags, hostarch.ReadWrite)
		m1.MarkMergeable()
		e.as.FindRegion(base + pageSize).MarkMergeable()
		if got := regions(t, e.as); len(got) != 2 {
			t.Errorf("mappings with non-contiguous offsets merged: %+v", got)
		}
	})

	t.Run("different flags", func(t *testing.T) {
		e := newTestEnv(t)
		obj := e.newPagedObject(t, 2)
		m1 := e.mustMap(t, obj, base, pageSize, 0, rwFlags, hostarch.ReadWrite)
		e.mustMap(t, obj, base+pageSize, pageSize, pageSize, roFlags, hostarch.ReadWrite)
		m1.MarkMergeable()
		e.as.FindRegion(base + pageSize).MarkMergeable()
		if got := regions(t, e.as); len(got) != 2 {
			t.Errorf("mappings with different flags merged: %+v", got)
		}
	})

	t.Run("different objects", func(t *testing.T) {
		e := newTestEnv(t)
		m1 := e.mustMap(t, e.newPagedObject(t, 1), base, pageSize, 0, rwFlags, hostarch.ReadWrite)
		e.mustMap(t, e.newPagedObject(t, 1), base+pageSize, pageSize, 0, rwFlags, hostarch.ReadWrite)
		m1.MarkMergeable()
		e.as.FindRegion(base + pageSize).MarkMergeable()
		if got := regions(t, e.as); len(got) != 2 {
			t.Errorf("mappings of different objects merged: %+v", got)
		}
	})

	t.Run("not adjacent", func(t *testing.T) {
		e := newTestEnv(t)
		obj := e.newPagedObject(t, 8)
		m1 := e.mustMap(t, obj, base, pageSize, 0, rwFlags, hostarch.ReadWrite)
		e.mustMap(t, obj, base+2*pageSize, pageSize, pageSize, rwFlags, hostarch.ReadWrite)
		m1.MarkMergeable()
		e.as.FindRegion(base + 2*pageSize).MarkMergeable()
		if got := regions(t, e.as); len(got) != 2 {
			t.Errorf("non-adjacent mappings merged: %+v", got)
		}
	})

	t.Run("different permission ceilings", func(t *testing.T) {
		e := newTestEnv(t)
		obj := e.newPagedObject(t, 2)
		m1 := e.mustMap(t, obj, base, pageSize, 0, roFlags, hostarch.ReadWrite)
		e.mustMap(t, obj, base+pageSize, pageSize, pageSize, roFlags, hostarch.Read)
		m1.MarkMergeable()
		m2 := e.as.FindRegion(base + pageSize)
		m2.MarkMergeable()
		if got := regions(t, e.as); len(got) != 2 {
			t.Fatalf("mappings with different permission ceilings merged: %+v", got)
		}
		// The read-only ceiling still binds its page: an escalation
		// through the left mapping is out of range, and through the
		// right one denied.
		if err := m1.Protect(base, 2*pageSize, rwFlags); err != vmerr.ErrInvalidArgs {
			t.Errorf("Protect spanning both mappings: got %v, want %v", err, vmerr.ErrInvalidArgs)
		}
		if err := m2.Protect(base+pageSize, pageSize, rwFlags); err != vmerr.ErrAccessDenied {
			t.Errorf("Protect past the ceiling: got %v, want %v", err, vmerr.ErrAccessDenied)
		}
	})

	t.Run("one side not mergeable", func(t *testing.T) {
		e := newTestEnv(t)
		obj := e.newPagedObject(t, 2)
		m1 := e.mustMap(t, obj, base, pageSize, 0, rwFlags, hostarch.ReadWrite)
		e.mustMap(t, obj, base+pageSize, pageSize, pageSize, rwFlags, hostarch.ReadWrite)
		m1.MarkMergeable()
		m1.TryMergeNeighbors()
		if got := regions(t, e.as); len(got) != 2 {
			t.Errorf("merged with non-mergeable neighbor: %+v", got)
		}
	})
}

func TestMergeKeepsHardwareState(t *testing.T) {
	e := newTestEnv(t)
	obj := e.newPagedObject(t, 2)
	const base = hostarch.Addr(0x400000)
	m1 := e.mustMap(t, obj, base, pageSize, 0, rwFlags, hostarch.ReadWrite)
	m2 := e.mustMap(t, obj, base+pageSize, pageSize, pageSize, rwFlags, hostarch.ReadWrite)
	if err := m1.MapRange(0, pageSize, true); err != nil {
		t.Fatalf("MapRange(m1): %v", err)
	}
	if err := m2.MapRange(0, pageSize, true); err != nil {
		t.Fatalf("MapRange(m2): %v", err)
	}
	pa0, _, _ := e.pt.Query(base)
	pa1, _, _ := e.pt.Query(base + pageSize)

	m1.MarkMergeable()
	m2.MarkMergeable()
	if got := regions(t, e.as); len(got) != 1 {
		t.Fatalf("regions after merge: %+v", got)
	}
	if m2.Alive() {
		t.Error("absorbed mapping still alive")
	}

	// Merging is pure bookkeeping; the translations must be untouched.
	if pa, _, err := e.pt.Query(base); err != nil || pa != pa0 {
		t.Errorf("Query(page 0) after merge: %#x, %v; want %#x, nil", pa, err, pa0)
	}
	if pa, _, err := e.pt.Query(base + pageSize); err != nil || pa != pa1 {
		t.Errorf("Query(page 1) after merge: %#x, %v; want %#x, nil", pa, err, pa1)
	}
}

func TestResidentMapping(t *testing.T) {
	e := newTestEnv(t)
	const base = hostarch.Addr(0x7fff00000000)
	m := e.mustMap(t, e.newPagedObject(t, 2), base, 2*pageSize, 0, roFlags, hostarch.ReadExecute)
	if err := e.as.SetResident(m); err != nil {
		t.Fatalf("SetResident: %v", err)
	}

	if err := m.Destroy(); err != vmerr.ErrAccessDenied {
		t.Errorf("Destroy(resident): got %v, want %v", err, vmerr.ErrAccessDenied)
	}
	if err := m.Unmap(base, 2*pageSize); err != vmerr.ErrAccessDenied {
		t.Errorf("Unmap(resident, whole): got %v, want %v", err, vmerr.ErrAccessDenied)
	}
	if !m.Alive() {
		t.Fatal("resident mapping died")
	}

	m.MarkMergeable()
	if got := regions(t, e.as); len(got) != 1 || got[0].Mergeable {
		t.Errorf("resident mapping became mergeable: %+v", got)
	}

	// Teardown overrides residency.
	if err := e.as.DestroyAll(); err != nil {
		t.Fatalf("DestroyAll: %v", err)
	}
	if m.Alive() {
		t.Error("resident mapping alive after DestroyAll")
	}
	if got := regions(t, e.as); len(got) != 0 {
		t.Errorf("regions after DestroyAll: %+v", got)
	}
}

func TestAttributionCache(t *testing.T) {
	e := newTestEnv(t)
	obj := e.newPagedObject(t, 4)
	const base = hostarch.Addr(0x400000)
	m := e.mustMap(t, obj, base, 4*pageSize, 0, rwFlags, hostarch.ReadWrite)

	delta := func(f func()) (queries, hits, misses uint64) {
		before := vm.ReadStats()
		f()
		after := vm.ReadStats()
		return after.AttributionQueries - before.AttributionQueries,
			after.AttributionHits - before.AttributionHits,
			after.AttributionMisses - before.AttributionMisses
	}

	var got uint64
	if q, h, ms := delta(func() { got = m.AllocatedPages() }); q != 1 || h != 0 || ms != 1 {
		t.Errorf("first query: queries=%d hits=%d misses=%d, want 1/0/1", q, h, ms)
	}
	if got != 0 {
		t.Errorf("AllocatedPages on untouched object: got %d, want 0", got)
	}

	// Unchanged generations hit the cache.
	if q, h, ms := delta(func() { got = m.AllocatedPages() }); q != 1 || h != 1 || ms != 0 {
		t.Errorf("repeat query: queries=%d hits=%d misses=%d, want 1/1/0", q, h, ms)
	}

	// A fault commits a page, bumping both generations.
	if err := e.as.PageFault(base, vm.FaultOpts{Access: hostarch.Write}); err != nil {
		t.Fatalf("PageFault: %v", err)
	}
	if q, h, ms := delta(func() { got = m.AllocatedPages() }); q != 1 || h != 0 || ms != 1 {
		t.Errorf("query after fault: queries=%d hits=%d misses=%d, want 1/0/1", q, h, ms)
	}
	if got != 1 {
		t.Errorf("AllocatedPages after one commit: got %d, want 1", got)
	}

	// A commit through another mapping of the same object invalidates via
	// the object generation.
	m2 := e.mustMap(t, obj, 0x800000, pageSize, pageSize, rwFlags, hostarch.ReadWrite)
	if err := m2.MapRange(0, pageSize, true); err != nil {
		t.Fatalf("MapRange(m2): %v", err)
	}
	if q, h, ms := delta(func() { got = m.AllocatedPages() }); q != 1 || h != 0 || ms != 1 {
		t.Errorf("query after foreign commit: queries=%d hits=%d misses=%d, want 1/0/1", q, h, ms)
	}
	if got != 2 {
		t.Errorf("AllocatedPages after two commits: got %d, want 2", got)
	}
}

func TestAttributionWindow(t *testing.T) {
	e := newTestEnv(t)
	obj := e.newPagedObject(t, 8)
	const base = hostarch.Addr(0x400000)

	// Map only the middle half of the object and commit everything.
	full := e.mustMap(t, obj, 0x800000, 8*pageSize, 0, rwFlags, hostarch.ReadWrite)
	if err := full.MapRange(0, 8*pageSize, true); err != nil {
		t.Fatalf("MapRange: %v", err)
	}
	m := e.mustMap(t, obj, base, 4*pageSize, 2*pageSize, rwFlags, hostarch.ReadWrite)
	if got := m.AllocatedPages(); got != 4 {
		t.Errorf("AllocatedPages(window): got %d, want 4", got)
	}
	if got := full.AllocatedPages(); got != 8 {
		t.Errorf("AllocatedPages(full): got %d, want 8", got)
	}
}

func TestFixedObjectMapping(t *testing.T) {
	e := newTestEnv(t)
	obj, err := vmo.NewFixed(0x80000000, 4*pageSize)
	if err != nil {
		t.Fatalf("NewFixed: %v", err)
	}
	const base = hostarch.Addr(0x400000)
	m := e.mustMap(t, obj, base, 4*pageSize, 0, rwFlags, hostarch.ReadWrite)

	if err := e.as.PageFault(base+pageSize, vm.FaultOpts{Access: hostarch.Read}); err != nil {
		t.Fatalf("PageFault: %v", err)
	}
	pa, _, err := e.pt.Query(base + pageSize)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if want := uintptr(0x80000000 + pageSize); pa != want {
		t.Errorf("Query: got %#x, want %#x", pa, want)
	}

	// Physical mappings attribute their whole window and never cache.
	before := vm.ReadStats()
	if got := m.AllocatedPages(); got != 4 {
		t.Errorf("AllocatedPages: got %d, want 4", got)
	}
	if after := vm.ReadStats(); after.AttributionQueries != before.AttributionQueries {
		t.Error("fixed object consulted the attribution cache")
	}

	if err := m.DecommitRange(0, pageSize); err != vmerr.ErrBadState {
		t.Errorf("DecommitRange on fixed object: got %v, want %v", err, vmerr.ErrBadState)
	}
}
