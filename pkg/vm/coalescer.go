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

	"vmcore.dev/vmcore/pkg/errors/vmerr"
	"vmcore.dev/vmcore/pkg/hostarch"
)

// coalescerCapacity is the number of frames batched per hardware map call.
const coalescerCapacity = 16

// mappingCoalescer batches virtually and physically sequential frames into
// single hardware map calls. A coalescer must be drained with flush or abort
// before it goes out of scope.
type mappingCoalescer struct {
	m       *Mapping
	base    hostarch.Addr
	frames  [coalescerCapacity]uintptr
	count   int
	aborted bool
}

// newCoalescerLocked returns a coalescer starting at base.
//
// Preconditions: as.mu and the object lock must be locked, and stay locked
// for the coalescer's lifetime.
func (m *Mapping) newCoalescerLocked(base hostarch.Addr) *mappingCoalescer {
	return &mappingCoalescer{m: m, base: base}
}

// append adds one frame at va, flushing first if the batch is full or va
// does not extend it contiguously.
func (c *mappingCoalescer) append(va hostarch.Addr, pa uintptr) error {
	if checkInvariants && c.aborted {
		panic("append to aborted coalescer")
	}
	if c.count == coalescerCapacity || (c.count > 0 && va != c.base+hostarch.Addr(uint64(c.count)*hostarch.PageSize)) {
		if err := c.flush(); err != nil {
			return err
		}
	}
	if c.count == 0 {
		c.base = va
	}
	c.frames[c.count] = pa
	c.count++
	return nil
}

// flush maps the batched frames and resets the batch. Hardware entries that
// already exist are left in place. On hardware failure the coalescer aborts
// and the error is returned.
func (c *mappingCoalescer) flush() error {
	if c.count == 0 {
		return nil
	}
	flags := c.m.flags
	assertNoWritableZeroFrame(flags, c.frames[:c.count])
	if flags.Accessible() {
		if _, err := c.m.as.arch.Map(c.base, c.frames[:c.count], flags, hostarch.ExistingEntrySkip); err != nil {
			faultWarnLog.Warningf("failed to map %d frames at %#x: %v", c.count, c.base, err)
			c.abort()
			return vmerr.ErrNoMemory
		}
	}
	c.base += hostarch.Addr(uint64(c.count) * hostarch.PageSize)
	c.count = 0
	return nil
}

// abort discards any batched frames. The coalescer accepts no more.
func (c *mappingCoalescer) abort() {
	c.count = 0
	c.aborted = true
}

// assertDrained panics if the coalescer still holds frames that were neither
// flushed nor aborted. Intended for defer.
func (c *mappingCoalescer) assertDrained() {
	if c.count != 0 && !c.aborted {
		panic(fmt.Sprintf("coalescer dropped %d frames at %#x", c.count, c.base))
	}
}
