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

package ptables

import (
	"vmcore.dev/vmcore/pkg/hostarch"
)

// PTE is a single page table entry, encoded x86-style: permission and status
// bits in the low byte, the cache policy in the software-available bits
// 9-10, execute-disable at bit 63, and the frame address in between.
type PTE uint64

const (
	ptePresent  PTE = 1 << 0
	pteWritable PTE = 1 << 1
	pteUser     PTE = 1 << 2
	pteAccessed PTE = 1 << 5
	pteDirty    PTE = 1 << 6
	pteNoExec   PTE = 1 << 63

	pteCacheShift     = 9
	pteCacheMask  PTE = 3 << pteCacheShift

	pteAddrMask PTE = 0x000ffffffffff000
)

// Valid returns true iff this entry is present.
func (p PTE) Valid() bool {
	return p&ptePresent != 0
}

// Address returns the frame address in this entry.
func (p PTE) Address() uintptr {
	return uintptr(p & pteAddrMask)
}

// Flags returns the mapping flags encoded in this entry.
func (p PTE) Flags() hostarch.MMUFlags {
	// Present entries are always readable; a permission-less mapping is
	// never installed.
	f := hostarch.MMURead
	if p&pteWritable != 0 {
		f |= hostarch.MMUWrite
	}
	if p&pteUser != 0 {
		f |= hostarch.MMUUser
	}
	if p&pteNoExec == 0 {
		f |= hostarch.MMUExecute
	}
	return f.WithMemoryType(hostarch.MemoryType((p & pteCacheMask) >> pteCacheShift))
}

// Accessed returns true iff the accessed bit is set.
func (p PTE) Accessed() bool {
	return p&pteAccessed != 0
}

// set installs pa with the given flags. The accessed bit is set as if the
// installing access had been performed by hardware; the dirty bit is set for
// writable installs.
func (p *PTE) set(pa uintptr, flags hostarch.MMUFlags) {
	v := PTE(pa)&pteAddrMask | ptePresent | pteAccessed | pteNoExec
	if flags&hostarch.MMUWrite != 0 {
		v |= pteWritable | pteDirty
	}
	if flags&hostarch.MMUUser != 0 {
		v |= pteUser
	}
	if flags&hostarch.MMUExecute != 0 {
		v &^= pteNoExec
	}
	v |= PTE(flags.MemoryType()) << pteCacheShift
	*p = v
}

// setFlags rewrites the permission bits of a present entry, preserving the
// frame address, cache policy and status bits.
func (p *PTE) setFlags(flags hostarch.MMUFlags) {
	v := *p &^ (pteWritable | pteUser)
	v |= pteNoExec
	if flags&hostarch.MMUWrite != 0 {
		v |= pteWritable
	}
	if flags&hostarch.MMUUser != 0 {
		v |= pteUser
	}
	if flags&hostarch.MMUExecute != 0 {
		v &^= pteNoExec
	}
	*p = v
}

// clear makes the entry non-present.
func (p *PTE) clear() {
	*p = 0
}

// clearAccessed clears the accessed bit.
func (p *PTE) clearAccessed() {
	*p &^= pteAccessed
}
