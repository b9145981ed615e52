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

// Package pframe implements the physical page-frame allocator.
//
// Frames are tracked in a flat per-arena array indexed by page number, with
// the free list threaded through the array by index. Kernel-owned frames are
// wired exactly once during bootstrap and never returned.
package pframe

import (
	"ozmem.dev/ozmem/pkg/karch"
)

// Frame is a physical page frame number.
type Frame uint64

// FrameForAddress returns the frame containing pa.
func FrameForAddress(pa karch.Paddr) Frame {
	return Frame(pa >> karch.PageShift)
}

// Address returns the physical address of the first byte of f.
func (f Frame) Address() karch.Paddr {
	return karch.Paddr(f) << karch.PageShift
}

// FrameList is an ordered batch of frames, used to claim, wire and account
// for pages as a unit.
type FrameList []Frame

// State is the ownership state of a frame.
type State uint8

const (
	// Free frames are available for allocation.
	Free State = iota

	// Allocated frames are claimed but may still change owner.
	Allocated

	// Wired frames belong to the kernel itself and are never reclaimed.
	Wired
)

// String implements fmt.Stringer.String.
func (s State) String() string {
	switch s {
	case Free:
		return "free"
	case Allocated:
		return "allocated"
	case Wired:
		return "wired"
	default:
		return "unknown"
	}
}

// nilIndex terminates free-list links.
const nilIndex = int64(-1)

// frameInfo is the per-frame record. prev/next are global frame-table
// indices threading the free list, giving O(1) unlink without embedded
// pointers.
type frameInfo struct {
	state State
	prev  int64
	next  int64
}

// Arena describes one contiguous range of physical memory handed to the
// allocator at construction, as discovered from firmware tables by the
// (external) platform layer.
type Arena struct {
	Base  karch.Paddr
	Pages uint64
}

// Range returns the physical address range covered by a.
func (a Arena) Range() karch.PaddrRange {
	return karch.PaddrRange{Start: a.Base, End: a.Base + karch.Paddr(a.Pages<<karch.PageShift)}
}

// arena is the internal form of Arena; start is the global index of the
// arena's first frame in the frame table.
type arena struct {
	base  karch.Paddr
	pages uint64
	start int64
}
