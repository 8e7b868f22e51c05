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

// MMUFlags encodes the permission and cache-policy bits of a hardware
// mapping. Permission bits occupy the low byte; the cache policy (a
// MemoryType) occupies the byte above it. The two groups never mix: mapping
// operations change permissions and carry the cache policy through
// unchanged.
type MMUFlags uint32

const (
	// MMURead permits read access.
	MMURead MMUFlags = 1 << iota

	// MMUWrite permits write access.
	MMUWrite

	// MMUExecute permits instruction fetch.
	MMUExecute

	// MMUUser permits access from user mode.
	MMUUser
)

const (
	// MMUPermMask covers all permission bits.
	MMUPermMask = MMURead | MMUWrite | MMUExecute | MMUUser

	// MMUAccessMask covers the permission bits that make a mapping worth
	// installing at all. A mapping with none of these is represented as
	// simply absent from the page table.
	MMUAccessMask = MMURead | MMUWrite | MMUExecute

	// mmuCacheShift is the bit position of the cache-policy field.
	mmuCacheShift = 8

	// MMUCacheMask covers the cache-policy field.
	MMUCacheMask MMUFlags = 0xff << mmuCacheShift
)

// MMUFlagsFrom builds permission flags from an AccessType.
func MMUFlagsFrom(at AccessType) MMUFlags {
	var f MMUFlags
	if at.Read {
		f |= MMURead
	}
	if at.Write {
		f |= MMUWrite
	}
	if at.Execute {
		f |= MMUExecute
	}
	return f
}

// WithMemoryType returns f with the cache-policy field set to mt.
func (f MMUFlags) WithMemoryType(mt MemoryType) MMUFlags {
	return (f &^ MMUCacheMask) | (MMUFlags(mt) << mmuCacheShift)
}

// MemoryType returns the cache policy encoded in f.
func (f MMUFlags) MemoryType() MemoryType {
	return MemoryType((f & MMUCacheMask) >> mmuCacheShift)
}

// Permissions returns only the permission bits of f.
func (f MMUFlags) Permissions() MMUFlags {
	return f & MMUPermMask
}

// AccessType returns the AccessType equivalent of f's permission bits.
func (f MMUFlags) AccessType() AccessType {
	return AccessType{
		Read:    f&MMURead != 0,
		Write:   f&MMUWrite != 0,
		Execute: f&MMUExecute != 0,
	}
}

// Accessible returns true if f retains any read, write or execute
// permission.
func (f MMUFlags) Accessible() bool {
	return f&MMUAccessMask != 0
}

// String implements fmt.Stringer.String.
func (f MMUFlags) String() string {
	s := f.AccessType().String()
	if f&MMUUser != 0 {
		s += "u"
	}
	return fmt.Sprintf("%s/%s", s, f.MemoryType().ShortString())
}

// ExistingEntryAction selects the behavior of a hardware Map call that
// encounters an already-present entry.
type ExistingEntryAction int

const (
	// ExistingEntryError fails the Map call on an existing entry.
	ExistingEntryError ExistingEntryAction = iota

	// ExistingEntrySkip leaves an existing entry in place and continues.
	ExistingEntrySkip
)
