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

package vm

import (
	"fmt"
	"time"

	"vmcore.dev/vmcore/pkg/errors/vmerr"
	"vmcore.dev/vmcore/pkg/hostarch"
	"vmcore.dev/vmcore/pkg/log"
	"vmcore.dev/vmcore/pkg/physmem"
	"vmcore.dev/vmcore/pkg/vmo"
)

// faultWarnLog rate-limits warnings about hardware mapping failures on the
// fault path, which can repeat at fault frequency under memory pressure.
var faultWarnLog = log.BasicRateLimitedLogger(30 * time.Second)

// pageFaultLocked resolves a fault at va against this mapping.
//
// Preconditions: as.mu must be locked. va lies within the mapping.
func (m *Mapping) pageFaultLocked(va hostarch.Addr, opts FaultOpts) error {
	va = va.RoundDown()
	if checkInvariants {
		if m.state != lifecycleAlive {
			panic(fmt.Sprintf("fault against mapping in state %v", m.state))
		}
		if uint64(va-m.base) >= m.size {
			panic(fmt.Sprintf("fault at %#x outside %v", va, m))
		}
	}

	// Permission checks against the current flags. Writers of flags hold
	// both locks, so as.mu alone suffices to read them.
	switch {
	case opts.Access.Write && m.flags&hostarch.MMUWrite == 0,
		opts.Access.Execute && m.flags&hostarch.MMUExecute == 0,
		opts.Access.Read && m.flags&hostarch.MMURead == 0,
		opts.User && m.flags&hostarch.MMUUser == 0:
		return vmerr.ErrAccessDenied
	}

	m.object.Lock()
	defer m.object.Unlock()

	if m.currentlyFaulting {
		panic(fmt.Sprintf("recursive fault against %v", m))
	}
	m.currentlyFaulting = true
	defer func() {
		m.currentlyFaulting = false
	}()

	objectOffset := m.objectOffset + uint64(va-m.base)

	// Bound the lookup window by the next page-table boundary and the end
	// of the mapping, so a single hardware call suffices for the result.
	windowEnd := m.base + hostarch.Addr(m.size)
	if boundary := m.as.arch.NextBoundary(va); boundary < windowEnd {
		windowEnd = boundary
	}
	maxPages := int(uint64(windowEnd-va) / hostarch.PageSize)
	if maxPages > vmo.MaxLookupPages {
		maxPages = vmo.MaxLookupPages
	}

	res, err := m.object.LookupPagesLocked(objectOffset, vmo.LookupOpts{
		Access: opts.Access,
		Soft:   opts.Soft,
	}, maxPages)
	if err != nil {
		log.Debugf("page fault at %#x: lookup at object offset %#x failed: %v", va, objectOffset, err)
		return err
	}

	flags := m.flags
	if !opts.Access.Write && !res.Writable {
		// The object did not grant write; map read-only so a later write
		// faults and copies or commits.
		flags &^= hostarch.MMUWrite
	}
	assertNoWritableZeroFrame(flags, res.Frames[:res.NumFrames])

	if pa, _, qerr := m.as.arch.Query(va); qerr == nil {
		if pa == res.Frames[0] {
			// Same frame, likely stale permissions. Upgrade in place.
			if err := m.as.arch.Protect(va, 1, flags); err != nil {
				faultWarnLog.Warningf("page fault at %#x: protect failed: %v", va, err)
				return vmerr.ErrNoMemory
			}
			m.genCount++
			return nil
		}
		// The frame moved under us; replace the translation.
		if err := m.as.arch.Unmap(va, 1); err != nil {
			faultWarnLog.Warningf("page fault at %#x: unmap of stale frame failed: %v", va, err)
			return vmerr.ErrNoMemory
		}
	}
	if _, err := m.as.arch.Map(va, res.Frames[:res.NumFrames], flags, hostarch.ExistingEntrySkip); err != nil {
		faultWarnLog.Warningf("page fault at %#x: map of %d frames failed: %v", va, res.NumFrames, err)
		return vmerr.ErrNoMemory
	}
	m.genCount++
	return nil
}

// assertNoWritableZeroFrame panics if frames would be installed writable
// while containing the shared zero frame. Writes through such a translation
// would corrupt every zero page in the system.
func assertNoWritableZeroFrame(flags hostarch.MMUFlags, frames []uintptr) {
	if flags&hostarch.MMUWrite == 0 {
		return
	}
	for _, pa := range frames {
		if physmem.IsZeroFrame(pa) {
			panic(fmt.Sprintf("installing zero frame %#x writable", pa))
		}
	}
}

// MapRange populates hardware translations for [offset, offset+length) of
// the mapping eagerly, without waiting for faults. With commit set, absent
// object pages are committed first and any failure aborts; without it, only
// already-committed pages are mapped and absent ones are skipped. length is
// rounded up to whole pages.
func (m *Mapping) MapRange(offset, length uint64, commit bool) error {
	m.as.mu.Lock()
	defer m.as.mu.Unlock()

	length, ok := roundUpSize(length)
	if !ok {
		return vmerr.ErrOutOfRange
	}
	if m.state != lifecycleAlive {
		return vmerr.ErrBadState
	}
	if length == 0 || offset%hostarch.PageSize != 0 || !m.containsRangeLocked(m.base+hostarch.Addr(offset), length) {
		return vmerr.ErrInvalidArgs
	}

	opts := vmo.LookupOpts{Access: hostarch.Read, Existing: true}
	if commit {
		opts = vmo.LookupOpts{Access: hostarch.Write, Soft: true}
	}

	m.object.Lock()
	defer m.object.Unlock()

	if m.currentlyFaulting {
		panic(fmt.Sprintf("MapRange reentered fault against %v", m))
	}
	m.currentlyFaulting = true
	defer func() {
		m.currentlyFaulting = false
	}()

	c := m.newCoalescerLocked(m.base + hostarch.Addr(offset))
	defer c.assertDrained()

	for o := offset; o < offset+length; {
		want := int((offset + length - o) / hostarch.PageSize)
		if want > vmo.MaxLookupPages {
			want = vmo.MaxLookupPages
		}
		res, err := m.object.LookupPagesLocked(m.objectOffset+o, opts, want)
		if err != nil {
			if commit {
				c.abort()
				return err
			}
			// Nothing committed here; skip the page.
			o += hostarch.PageSize
			continue
		}
		va := m.base + hostarch.Addr(o)
		for i := 0; i < res.NumFrames; i++ {
			if err := c.append(va, res.Frames[i]); err != nil {
				return err
			}
			va += hostarch.PageSize
			o += hostarch.PageSize
		}
	}
	if err := c.flush(); err != nil {
		return err
	}
	m.genCount++
	return nil
}

// DecommitRange releases the object pages backing [offset, offset+length) of
// the mapping. The object broadcasts the resulting unmaps to every mapping
// under its own lock.
func (m *Mapping) DecommitRange(offset, length uint64) error {
	m.as.mu.Lock()
	defer m.as.mu.Unlock()
	if m.state != lifecycleAlive {
		return vmerr.ErrBadState
	}
	if offset+length < offset || offset+length > m.size {
		return vmerr.ErrOutOfRange
	}
	return m.object.DecommitRange(m.objectOffset+offset, length)
}
