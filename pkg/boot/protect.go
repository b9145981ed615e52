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

package boot

import (
	"ozmem.dev/ozmem/pkg/pframe"
)

// PhysmapProtector strips access to the parts of the direct-mapping window
// that are not backed by genuine RAM, so MMIO-shadowed or absent physical
// ranges reachable through the window cannot be treated as ordinary memory.
// Implementations are per-architecture; the bootstrap sequence itself is
// architecture-independent.
type PhysmapProtector interface {
	ProtectNonArena(alloc *pframe.Allocator) error
}

// NopProtector is a PhysmapProtector that does nothing, for configurations
// and tests with no backing window to protect.
type NopProtector struct{}

// ProtectNonArena implements PhysmapProtector.ProtectNonArena.
func (NopProtector) ProtectNonArena(*pframe.Allocator) error {
	return nil
}
