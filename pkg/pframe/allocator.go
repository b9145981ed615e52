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

package pframe

import (
	"sort"

	"ozmem.dev/ozmem/pkg/fatal"
	"ozmem.dev/ozmem/pkg/karch"
	"ozmem.dev/ozmem/pkg/sync"
)

// Allocator tracks the ownership state of every physical page frame in its
// arenas. It is safe for concurrent use; it remains a live service after
// bootstrap.
type Allocator struct {
	mu sync.Mutex

	// arenas is sorted by base and non-overlapping.
	arenas []arena

	// frames holds one record per frame across all arenas, in arena order.
	frames []frameInfo

	// freeHead is the global index of the first free frame, or nilIndex.
	freeHead int64

	freeCount  uint64
	wiredCount uint64

	// physmap, if non-nil, backs frame content access via View.
	physmap *Physmap
}

// NewAllocator constructs an allocator over the given arenas, all frames
// free. Arena bounds are rounded inward to whole pages; arenas must not
// overlap. physmap may be nil if frame content is never accessed.
func NewAllocator(arenas []Arena, physmap *Physmap) (*Allocator, error) {
	a := &Allocator{
		freeHead: nilIndex,
		physmap:  physmap,
	}

	rounded := make([]Arena, 0, len(arenas))
	for _, ar := range arenas {
		// Round inward to whole pages: a partial leading or trailing page is
		// not usable memory.
		base, ok := ar.Base.RoundUp()
		if !ok {
			return nil, fatal.Newf("pframe.NewAllocator", fatal.ErrOverflow, "arena base %#x", uint64(ar.Base))
		}
		end := (ar.Base + karch.Paddr(ar.Pages<<karch.PageShift)).RoundDown()
		if end <= base {
			continue
		}
		rounded = append(rounded, Arena{Base: base, Pages: uint64(end-base) >> karch.PageShift})
	}
	sort.Slice(rounded, func(i, j int) bool { return rounded[i].Base < rounded[j].Base })

	var start int64
	for i, ar := range rounded {
		if i > 0 && rounded[i-1].Range().Overlaps(ar.Range()) {
			return nil, fatal.Newf("pframe.NewAllocator", fatal.ErrOverlap, "arenas %v and %v", rounded[i-1].Range(), ar.Range())
		}
		a.arenas = append(a.arenas, arena{base: ar.Base, pages: ar.Pages, start: start})
		start += int64(ar.Pages)
	}

	a.frames = make([]frameInfo, start)
	// Thread the free list through the table in address order.
	for i := int64(len(a.frames)) - 1; i >= 0; i-- {
		a.frames[i] = frameInfo{state: Free, prev: nilIndex, next: a.freeHead}
		if a.freeHead != nilIndex {
			a.frames[a.freeHead].prev = i
		}
		a.freeHead = i
	}
	a.freeCount = uint64(len(a.frames))
	return a, nil
}

// indexOf returns the frame-table index for pa, or false if pa is not
// covered by any arena. Callers must hold a.mu.
func (a *Allocator) indexOf(pa karch.Paddr) (int64, bool) {
	for i := range a.arenas {
		ar := &a.arenas[i]
		if pa >= ar.base && pa < ar.base+karch.Paddr(ar.pages<<karch.PageShift) {
			return ar.start + int64((pa-ar.base)>>karch.PageShift), true
		}
	}
	return 0, false
}

// frameOf is the inverse of indexOf. Callers must hold a.mu.
func (a *Allocator) frameOf(idx int64) Frame {
	for i := range a.arenas {
		ar := &a.arenas[i]
		if idx >= ar.start && idx < ar.start+int64(ar.pages) {
			return FrameForAddress(ar.base) + Frame(idx-ar.start)
		}
	}
	panic("pframe: frame index outside all arenas")
}

// unlinkFree removes the frame at idx from the free list in O(1). Callers
// must hold a.mu and the frame must be Free.
func (a *Allocator) unlinkFree(idx int64) {
	fi := &a.frames[idx]
	if fi.prev != nilIndex {
		a.frames[fi.prev].next = fi.next
	} else {
		a.freeHead = fi.next
	}
	if fi.next != nilIndex {
		a.frames[fi.next].prev = fi.prev
	}
	fi.prev, fi.next = nilIndex, nilIndex
	a.freeCount--
}

// AllocateRange claims the specific physical range [base, base+pages pages),
// which must be entirely free. It exists to reconcile bookkeeping with the
// early boot allocator: ranges that allocator consumed are re-claimed here
// before anything else can take them. base is rounded down to a page
// boundary first.
//
// A non-free page in the range is a boot-sequencing bug; the call fails with
// a violation and mutates nothing.
func (a *Allocator) AllocateRange(base karch.Paddr, pages uint64) (FrameList, error) {
	const op = "pframe.AllocateRange"
	base = base.RoundDown()

	a.mu.Lock()
	defer a.mu.Unlock()

	// Validate the whole range before touching any frame.
	idxs := make([]int64, 0, pages)
	for i := uint64(0); i < pages; i++ {
		pa := base + karch.Paddr(i<<karch.PageShift)
		idx, ok := a.indexOf(pa)
		if !ok {
			return nil, fatal.Newf(op, fatal.ErrOutOfRange, "page %#x outside all arenas", uint64(pa))
		}
		if s := a.frames[idx].state; s != Free {
			return nil, fatal.Newf(op, fatal.ErrBadState, "page %#x is %v, want free", uint64(pa), s)
		}
		idxs = append(idxs, idx)
	}

	fl := make(FrameList, 0, pages)
	for _, idx := range idxs {
		a.unlinkFree(idx)
		a.frames[idx].state = Allocated
		fl = append(fl, a.frameOf(idx))
	}
	return fl, nil
}

// AllocatePages claims count arbitrary free frames. For single-page requests
// the returned address is the page's physical address; for larger requests
// it is the address of the first frame in the list.
func (a *Allocator) AllocatePages(count uint64) (FrameList, karch.Paddr, error) {
	const op = "pframe.AllocatePages"

	a.mu.Lock()
	defer a.mu.Unlock()

	if count > a.freeCount {
		return nil, 0, fatal.Newf(op, fatal.ErrExhausted, "want %d pages, %d free", count, a.freeCount)
	}
	fl := make(FrameList, 0, count)
	for i := uint64(0); i < count; i++ {
		idx := a.freeHead
		a.unlinkFree(idx)
		a.frames[idx].state = Allocated
		fl = append(fl, a.frameOf(idx))
	}
	var pa karch.Paddr
	if len(fl) > 0 {
		pa = fl[0].Address()
	}
	return fl, pa, nil
}

// MarkWired transitions every frame in fl from Allocated to Wired. Wired is
// terminal: these frames belong to the kernel image for the lifetime of the
// system. A frame in any other state fails the whole call without mutating
// any frame.
func (a *Allocator) MarkWired(fl FrameList) error {
	const op = "pframe.MarkWired"

	a.mu.Lock()
	defer a.mu.Unlock()

	idxs := make([]int64, 0, len(fl))
	for _, f := range fl {
		idx, ok := a.indexOf(f.Address())
		if !ok {
			return fatal.Newf(op, fatal.ErrOutOfRange, "frame %#x outside all arenas", uint64(f.Address()))
		}
		if s := a.frames[idx].state; s != Allocated {
			return fatal.Newf(op, fatal.ErrBadState, "frame %#x is %v, want allocated", uint64(f.Address()), s)
		}
		idxs = append(idxs, idx)
	}
	for _, idx := range idxs {
		a.frames[idx].state = Wired
	}
	a.wiredCount += uint64(len(idxs))
	return nil
}

// FrameState returns the state of the frame containing pa, and whether pa is
// covered by any arena.
func (a *Allocator) FrameState(pa karch.Paddr) (State, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx, ok := a.indexOf(pa.RoundDown())
	if !ok {
		return 0, false
	}
	return a.frames[idx].state, true
}

// TotalFrames returns the number of frames across all arenas.
func (a *Allocator) TotalFrames() uint64 {
	return uint64(len(a.frames))
}

// FreeFrames returns the number of frames currently free.
func (a *Allocator) FreeFrames() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.freeCount
}

// WiredFrames returns the number of frames wired so far.
func (a *Allocator) WiredFrames() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.wiredCount
}

// Arenas returns the physical ranges managed by the allocator.
func (a *Allocator) Arenas() []karch.PaddrRange {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]karch.PaddrRange, 0, len(a.arenas))
	for _, ar := range a.arenas {
		out = append(out, Arena{Base: ar.base, Pages: ar.pages}.Range())
	}
	return out
}

// View returns the physmap window onto [pa, pa+length). It requires a
// physmap backing and that the range lie within it.
func (a *Allocator) View(pa karch.Paddr, length uint64) ([]byte, error) {
	if a.physmap == nil {
		return nil, fatal.Newf("pframe.View", fatal.ErrBadState, "allocator has no physmap backing")
	}
	return a.physmap.view(pa, length)
}

// Physmap returns the allocator's physmap backing, or nil.
func (a *Allocator) Physmap() *Physmap {
	return a.physmap
}
