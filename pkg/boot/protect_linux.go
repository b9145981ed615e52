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
	"fmt"

	"ozmem.dev/ozmem/pkg/karch"
	"ozmem.dev/ozmem/pkg/pframe"
)

// HostProtector applies real page protection to the hosted physmap window:
// every page of the window that no arena covers loses all access.
type HostProtector struct{}

// ProtectNonArena implements PhysmapProtector.ProtectNonArena.
func (HostProtector) ProtectNonArena(alloc *pframe.Allocator) error {
	pm := alloc.Physmap()
	if pm == nil {
		return fmt.Errorf("allocator has no physmap window")
	}
	window := pm.Range()
	cursor := window.Start
	for _, ar := range alloc.Arenas() {
		if ar.End <= window.Start || ar.Start >= window.End {
			continue
		}
		if ar.Start > cursor {
			if err := pm.Protect(cursor, uint64(ar.Start-cursor), karch.NoAccess); err != nil {
				return err
			}
		}
		if ar.End > cursor {
			cursor = ar.End
		}
	}
	if cursor < window.End {
		if err := pm.Protect(cursor, uint64(window.End-cursor), karch.NoAccess); err != nil {
			return err
		}
	}
	return nil
}
