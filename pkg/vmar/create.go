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

package vmar

import (
	"ozmem.dev/ozmem/pkg/fatal"
	"ozmem.dev/ozmem/pkg/karch"
	"ozmem.dev/ozmem/pkg/pframe"
)

// Opts specifies a child region to create.
type Opts struct {
	// Name labels the region in layout dumps.
	Name string

	// Length is the region's length in bytes; it must be a positive multiple
	// of the page size.
	Length uint64

	// Perms are the region's permission flags.
	Perms karch.AccessType

	// Fixed requests placement at exactly Base. Otherwise the implementation
	// places the region in the first sufficient gap.
	Fixed bool

	// Base is the requested base address; meaningful only if Fixed.
	Base karch.Vaddr
}

// CreateSubregion carves a new interior child out of r. With opts.Fixed the
// span [opts.Base, opts.Base+opts.Length) must be page-aligned, inside r and
// disjoint from every existing child; otherwise a base is chosen
// automatically. The call mutates nothing on failure.
func (r *Region) CreateSubregion(opts Opts) (*Region, error) {
	return r.insertChild("vmar.CreateSubregion", Subregion, opts, nil)
}

// Reserve claims a child span with no backing: nothing else can be placed
// there, but the range stays unmapped. Placement rules match
// CreateSubregion.
func (r *Region) Reserve(opts Opts) (*Region, error) {
	return r.insertChild("vmar.Reserve", Reservation, opts, nil)
}

// CreateMapping attaches a child span backed by frames, which must cover
// exactly opts.Length bytes. Placement rules match CreateSubregion.
func (r *Region) CreateMapping(opts Opts, frames pframe.FrameList) (*Region, error) {
	if uint64(len(frames))<<karch.PageShift != opts.Length {
		return nil, fatal.Newf("vmar.CreateMapping", fatal.ErrMisaligned,
			"%d frames do not cover length %#x", len(frames), opts.Length)
	}
	return r.insertChild("vmar.CreateMapping", Mapping, opts, frames)
}

// insertChild validates opts against r and links a new child in. All checks
// complete before any mutation, so a failed call is a no-op.
func (r *Region) insertChild(op string, kind Kind, opts Opts, frames pframe.FrameList) (*Region, error) {
	if r.kind == Reservation || r.kind == Mapping {
		return nil, fatal.Newf(op, fatal.ErrBadState, "%v region %q cannot have children", r.kind, r.name)
	}
	if opts.Length == 0 || opts.Length%karch.PageSize != 0 {
		return nil, fatal.Newf(op, fatal.ErrMisaligned, "length %#x", opts.Length)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var span karch.VaddrRange
	if opts.Fixed {
		if !opts.Base.IsPageAligned() {
			return nil, fatal.Newf(op, fatal.ErrMisaligned, "base %#x", uint64(opts.Base))
		}
		var ok bool
		span, ok = opts.Base.ToRange(opts.Length)
		if !ok {
			return nil, fatal.Newf(op, fatal.ErrOverflow, "base %#x length %#x", uint64(opts.Base), opts.Length)
		}
		if !r.span.IsSupersetOf(span) {
			return nil, fatal.Newf(op, fatal.ErrOutOfRange, "span %v outside parent %v", span, r.span)
		}
		if sib := r.overlapLocked(span); sib != nil {
			return nil, fatal.Newf(op, fatal.ErrOverlap, "span %v overlaps sibling %q %v", span, sib.name, sib.span)
		}
	} else {
		base, ok := r.findGapLocked(opts.Length)
		if !ok {
			return nil, fatal.Newf(op, fatal.ErrExhausted, "no gap of %#x bytes in %q", opts.Length, r.name)
		}
		span = karch.VaddrRange{Start: base, End: base + karch.Vaddr(opts.Length)}
	}

	child := &Region{
		kind:   kind,
		name:   opts.Name,
		span:   span,
		perms:  opts.Perms,
		parent: r,
		frames: frames,
	}
	if kind == Subregion {
		child.children = btreeNew()
	}
	r.children.ReplaceOrInsert(child)
	return child, nil
}

// overlapLocked returns a child of r whose span intersects span, or nil.
// Children are ordered by base, so only the nearest neighbor on each side
// needs an exact interval comparison.
func (r *Region) overlapLocked(span karch.VaddrRange) *Region {
	key := &Region{span: karch.VaddrRange{Start: span.Start}}
	var hit *Region
	r.children.DescendLessOrEqual(key, func(c *Region) bool {
		if c.span.End > span.Start {
			hit = c
		}
		return false
	})
	if hit != nil {
		return hit
	}
	r.children.AscendGreaterOrEqual(key, func(c *Region) bool {
		if c.span.Start < span.End {
			hit = c
		}
		return false
	})
	return hit
}

// findGapLocked returns the base of the first gap in r that fits length
// bytes. Every child span is page-aligned, so the gap base is too.
func (r *Region) findGapLocked(length uint64) (karch.Vaddr, bool) {
	prev := r.span.Start
	var base karch.Vaddr
	found := false
	r.children.Ascend(func(c *Region) bool {
		if uint64(c.span.Start-prev) >= length {
			base, found = prev, true
			return false
		}
		prev = c.span.End
		return true
	})
	if !found && uint64(r.span.End-prev) >= length {
		base, found = prev, true
	}
	return base, found
}
