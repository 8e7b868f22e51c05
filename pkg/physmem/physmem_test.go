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

package physmem

import (
	"testing"

	"vmcore.dev/vmcore/pkg/errors/vmerr"
	"vmcore.dev/vmcore/pkg/hostarch"
)

func TestAllocateFree(t *testing.T) {
	a := New(0)
	pa1, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	pa2, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if pa1 == pa2 {
		t.Errorf("Allocate returned %#x twice", pa1)
	}
	for _, pa := range []uintptr{pa1, pa2} {
		if pa%hostarch.PageSize != 0 {
			t.Errorf("frame %#x not page-aligned", pa)
		}
		if IsZeroFrame(pa) {
			t.Errorf("allocator handed out the zero frame %#x", pa)
		}
	}
	if got := a.AllocatedFrames(); got != 2 {
		t.Errorf("AllocatedFrames: got %d, want 2", got)
	}

	a.Free(pa1)
	if got := a.AllocatedFrames(); got != 1 {
		t.Errorf("AllocatedFrames after Free: got %d, want 1", got)
	}
	// Freed frames are recycled.
	pa3, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate after Free: %v", err)
	}
	if pa3 != pa1 {
		t.Errorf("Allocate after Free: got %#x, want recycled %#x", pa3, pa1)
	}
}

func TestAllocateLimit(t *testing.T) {
	a := New(2)
	pa1, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if _, err := a.Allocate(); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if _, err := a.Allocate(); err != vmerr.ErrNoMemory {
		t.Errorf("Allocate over limit: got %v, want %v", err, vmerr.ErrNoMemory)
	}
	a.Free(pa1)
	if _, err := a.Allocate(); err != nil {
		t.Errorf("Allocate after Free: %v", err)
	}
}

func TestFreeBadFrame(t *testing.T) {
	a := New(0)
	if _, err := a.Allocate(); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	for _, tc := range []struct {
		name string
		pa   uintptr
	}{
		{"zero frame", ZeroFrame()},
		{"unaligned", 0x100001},
	} {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("Free(%#x) did not panic", tc.pa)
				}
			}()
			a.Free(tc.pa)
		})
	}
}

func TestZeroFrame(t *testing.T) {
	if !IsZeroFrame(ZeroFrame()) {
		t.Error("IsZeroFrame(ZeroFrame()) is false")
	}
	if IsZeroFrame(ZeroFrame() + hostarch.PageSize) {
		t.Error("IsZeroFrame true for a non-zero frame")
	}
}
