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
	"ozmem.dev/ozmem/pkg/fatal"
	"ozmem.dev/ozmem/pkg/karch"
)

// Physmap is the direct physical-memory window: a linear byte view covering
// [base, base+len(mem)) in physical address space. Hosted builds back it
// with a shared memory file so that page protection is real; tests may back
// it with an ordinary slice.
type Physmap struct {
	base karch.Paddr
	mem  []byte

	// fd is the backing memory file, or -1 for slice-backed windows.
	fd int
}

// NewPhysmapSlice returns a Physmap backed by an ordinary heap slice. It
// supports content access but not page protection.
func NewPhysmapSlice(base karch.Paddr, size uint64) *Physmap {
	return &Physmap{
		base: base.RoundDown(),
		mem:  make([]byte, size),
		fd:   -1,
	}
}

// Base returns the first physical address covered by the window.
func (pm *Physmap) Base() karch.Paddr {
	return pm.base
}

// Size returns the length of the window in bytes.
func (pm *Physmap) Size() uint64 {
	return uint64(len(pm.mem))
}

// Range returns the physical address range covered by the window.
func (pm *Physmap) Range() karch.PaddrRange {
	return karch.PaddrRange{Start: pm.base, End: pm.base + karch.Paddr(len(pm.mem))}
}

// view returns the subslice of the window covering [pa, pa+length).
func (pm *Physmap) view(pa karch.Paddr, length uint64) ([]byte, error) {
	if pa < pm.base {
		return nil, fatal.Newf("pframe.View", fatal.ErrOutOfRange, "address %#x below physmap base %#x", uint64(pa), uint64(pm.base))
	}
	off := uint64(pa - pm.base)
	if off+length < off || off+length > uint64(len(pm.mem)) {
		return nil, fatal.Newf("pframe.View", fatal.ErrOutOfRange, "range [%#x, +%#x) beyond physmap end", uint64(pa), length)
	}
	return pm.mem[off : off+length : off+length], nil
}
