// Copyright 2025 The Ozmem Authors.
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

// Package karch defines kernel address types and page arithmetic shared by
// the physical frame allocator, the virtual region tree, and the bootstrap
// sequencer.
package karch

import "fmt"

const (
	// PageShift is log2(PageSize).
	PageShift = 12

	// PageSize is the size in bytes of a page frame.
	PageSize = 1 << PageShift
)

// Vaddr is a virtual address.
type Vaddr uint64

// RoundDown returns the address rounded down to the nearest page boundary.
func (v Vaddr) RoundDown() Vaddr {
	return v & ^Vaddr(PageSize-1)
}

// RoundUp returns the address rounded up to the nearest page boundary. ok is
// true iff rounding up did not wrap around.
func (v Vaddr) RoundUp() (addr Vaddr, ok bool) {
	addr = Vaddr(v + PageSize - 1).RoundDown()
	ok = addr >= v
	return
}

// MustRoundUp is equivalent to RoundUp, but panics if rounding up wraps
// around.
func (v Vaddr) MustRoundUp() Vaddr {
	addr, ok := v.RoundUp()
	if !ok {
		panic(fmt.Sprintf("karch.Vaddr(%#x).RoundUp() wraps", uint64(v)))
	}
	return addr
}

// PageOffset returns the offset of v into the page containing it.
func (v Vaddr) PageOffset() uint64 {
	return uint64(v & Vaddr(PageSize-1))
}

// IsPageAligned returns true if v.PageOffset() == 0.
func (v Vaddr) IsPageAligned() bool {
	return v.PageOffset() == 0
}

// AddLength returns v+length. ok is true iff the addition did not overflow.
func (v Vaddr) AddLength(length uint64) (end Vaddr, ok bool) {
	end = v + Vaddr(length)
	ok = end >= v
	return
}

// ToRange returns [v, v+length). ok is true iff the end does not overflow.
func (v Vaddr) ToRange(length uint64) (VaddrRange, bool) {
	end, ok := v.AddLength(length)
	return VaddrRange{v, end}, ok
}

// Paddr is a physical address.
type Paddr uint64

// RoundDown returns the address rounded down to the nearest page boundary.
func (p Paddr) RoundDown() Paddr {
	return p & ^Paddr(PageSize-1)
}

// RoundUp returns the address rounded up to the nearest page boundary. ok is
// true iff rounding up did not wrap around.
func (p Paddr) RoundUp() (addr Paddr, ok bool) {
	addr = Paddr(p + PageSize - 1).RoundDown()
	ok = addr >= p
	return
}

// PageOffset returns the offset of p into the page containing it.
func (p Paddr) PageOffset() uint64 {
	return uint64(p & Paddr(PageSize-1))
}

// IsPageAligned returns true if p.PageOffset() == 0.
func (p Paddr) IsPageAligned() bool {
	return p.PageOffset() == 0
}
