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

// Package vmar implements the hierarchical virtual-address-region tree.
//
// A Region owns a span of virtual address space. Subregions subdivide it,
// reservations claim spans that stay unmapped (guard space, windows populated
// by direct page-table writes), and mappings attach page frames. Siblings
// never overlap and children never escape their parent's span; the kernel
// regions built at boot are never destroyed.
package vmar

import (
	"github.com/google/btree"

	"ozmem.dev/ozmem/pkg/fatal"
	"ozmem.dev/ozmem/pkg/karch"
	"ozmem.dev/ozmem/pkg/pframe"
	"ozmem.dev/ozmem/pkg/sync"
)

// Kind distinguishes the roles a Region can play in the tree.
type Kind uint8

const (
	// Root is the region covering an entire address space. There is exactly
	// one per tree and it has no parent.
	Root Kind = iota

	// Subregion is an interior node carved out of its parent.
	Subregion

	// Reservation is a leaf span that is owned but intentionally unmapped.
	Reservation

	// Mapping is a leaf span backed by page frames.
	Mapping
)

// String implements fmt.Stringer.String.
func (k Kind) String() string {
	switch k {
	case Root:
		return "root"
	case Subregion:
		return "subregion"
	case Reservation:
		return "reservation"
	case Mapping:
		return "mapping"
	default:
		return "unknown"
	}
}

// childDegree is the branching factor of the per-region child tree.
const childDegree = 8

// Region is a node in the address-region tree. All fields except children
// are fixed at creation; a Region is never moved, resized or reparented.
type Region struct {
	kind   Kind
	name   string
	span   karch.VaddrRange
	perms  karch.AccessType
	parent *Region

	// frames backs Mapping regions; nil otherwise.
	frames pframe.FrameList

	// mu guards children. Mutations under one parent serialize; independent
	// subtrees may be mutated concurrently.
	mu       sync.Mutex
	children *btree.BTreeG[*Region]
}

// byBase orders siblings by span start for the child tree.
func byBase(a, b *Region) bool {
	return a.span.Start < b.span.Start
}

func btreeNew() *btree.BTreeG[*Region] {
	return btree.NewG(childDegree, byBase)
}

// NewRoot returns the root region of a new address space covering
// [base, base+length).
func NewRoot(name string, base karch.Vaddr, length uint64) (*Region, error) {
	const op = "vmar.NewRoot"
	if length == 0 || length%karch.PageSize != 0 || !base.IsPageAligned() {
		return nil, fatal.Newf(op, fatal.ErrMisaligned, "base %#x length %#x", uint64(base), length)
	}
	span, ok := base.ToRange(length)
	if !ok {
		return nil, fatal.Newf(op, fatal.ErrOverflow, "base %#x length %#x", uint64(base), length)
	}
	return &Region{
		kind:     Root,
		name:     name,
		span:     span,
		perms:    karch.ReadWrite,
		children: btreeNew(),
	}, nil
}

// Kind returns the region's kind.
func (r *Region) Kind() Kind { return r.kind }

// Name returns the region's name.
func (r *Region) Name() string { return r.name }

// Span returns the half-open address range owned by the region.
func (r *Region) Span() karch.VaddrRange { return r.span }

// Base returns the region's first address.
func (r *Region) Base() karch.Vaddr { return r.span.Start }

// Length returns the region's length in bytes.
func (r *Region) Length() uint64 { return r.span.Length() }

// Perms returns the region's permission flags.
func (r *Region) Perms() karch.AccessType { return r.perms }

// Parent returns the region's parent, or nil for the root.
func (r *Region) Parent() *Region { return r.parent }

// Frames returns the page frames backing a Mapping region, or nil.
func (r *Region) Frames() pframe.FrameList { return r.frames }

// Children returns a snapshot of the region's children in address order.
func (r *Region) Children() []*Region {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.children == nil {
		return nil
	}
	out := make([]*Region, 0, r.children.Len())
	r.children.Ascend(func(c *Region) bool {
		out = append(out, c)
		return true
	})
	return out
}

// Find returns the child whose span contains v, or nil.
func (r *Region) Find(v karch.Vaddr) *Region {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.children == nil {
		return nil
	}
	var found *Region
	r.children.DescendLessOrEqual(&Region{span: karch.VaddrRange{Start: v}}, func(c *Region) bool {
		if c.span.Contains(v) {
			found = c
		}
		return false
	})
	return found
}

// FindDeepest returns the most deeply nested region containing v, starting
// from r, or nil if v is outside r.
func (r *Region) FindDeepest(v karch.Vaddr) *Region {
	if !r.span.Contains(v) {
		return nil
	}
	cur := r
	for {
		c := cur.Find(v)
		if c == nil {
			return cur
		}
		cur = c
	}
}
