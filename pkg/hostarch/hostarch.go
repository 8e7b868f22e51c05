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

// Package hostarch defines address types and architectural constants shared
// by the virtual memory subsystem: addresses, address ranges, access types,
// hardware mapping flags and page geometry.
package hostarch

// Page geometry. All mappings operate on 4k pages; the huge page size is the
// span of a single last-level page table and bounds fault batching.
const (
	// PageShift is log2(PageSize).
	PageShift = 12

	// PageSize is the system page size.
	PageSize = 1 << PageShift

	// HugePageShift is log2(HugePageSize).
	HugePageShift = 21

	// HugePageSize is the size of the address range covered by a single
	// last-level page table.
	HugePageSize = 1 << HugePageShift
)
