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

package karch

import "fmt"

// VaddrRange is a half-open range of virtual addresses, [Start, End).
type VaddrRange struct {
	Start Vaddr
	End   Vaddr
}

// String implements fmt.Stringer.String.
func (vr VaddrRange) String() string {
	return fmt.Sprintf("[%#x, %#x)", uint64(vr.Start), uint64(vr.End))
}

// Length returns the length of the range.
func (vr VaddrRange) Length() uint64 {
	return uint64(vr.End - vr.Start)
}

// WellFormed returns true if vr.Start <= vr.End. All other methods of
// VaddrRange require that vr is well-formed.
func (vr VaddrRange) WellFormed() bool {
	return vr.Start <= vr.End
}

// Contains returns true if v lies within vr.
func (vr VaddrRange) Contains(v Vaddr) bool {
	return vr.Start <= v && v < vr.End
}

// Overlaps returns true if vr and other intersect.
func (vr VaddrRange) Overlaps(other VaddrRange) bool {
	return vr.Start < other.End && other.Start < vr.End
}

// IsSupersetOf returns true if vr fully contains other.
func (vr VaddrRange) IsSupersetOf(other VaddrRange) bool {
	return vr.Start <= other.Start && other.End <= vr.End
}

// PaddrRange is a half-open range of physical addresses, [Start, End).
type PaddrRange struct {
	Start Paddr
	End   Paddr
}

// String implements fmt.Stringer.String.
func (pr PaddrRange) String() string {
	return fmt.Sprintf("[%#x, %#x)", uint64(pr.Start), uint64(pr.End))
}

// Length returns the length of the range.
func (pr PaddrRange) Length() uint64 {
	return uint64(pr.End - pr.Start)
}

// Contains returns true if p lies within pr.
func (pr PaddrRange) Contains(p Paddr) bool {
	return pr.Start <= p && p < pr.End
}

// Overlaps returns true if pr and other intersect.
func (pr PaddrRange) Overlaps(other PaddrRange) bool {
	return pr.Start < other.End && other.Start < pr.End
}

// IsSupersetOf returns true if pr fully contains other.
func (pr PaddrRange) IsSupersetOf(other PaddrRange) bool {
	return pr.Start <= other.Start && other.End <= pr.End
}
