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
	"fmt"

	"golang.org/x/sys/unix"

	"ozmem.dev/ozmem/pkg/karch"
	"ozmem.dev/ozmem/pkg/memutil"
)

// NewHostPhysmap returns a Physmap backed by a shared memory file, so that
// Protect can apply real page protection to slices of simulated physical
// memory.
func NewHostPhysmap(base karch.Paddr, size uint64) (*Physmap, error) {
	fd, err := memutil.CreateMemFD("ozmem-physmap", size)
	if err != nil {
		return nil, err
	}
	mem, err := memutil.MapShared(fd, size)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &Physmap{base: base.RoundDown(), mem: mem, fd: fd}, nil
}

// Protect sets the host page protection of [pa, pa+length), which must be
// page-aligned and inside the window. access maps onto PROT_READ/WRITE; the
// window is never executable.
func (pm *Physmap) Protect(pa karch.Paddr, length uint64, access karch.AccessType) error {
	if pm.fd < 0 {
		return fmt.Errorf("physmap is not host-backed")
	}
	b, err := pm.view(pa, length)
	if err != nil {
		return err
	}
	prot := unix.PROT_NONE
	if access.Read {
		prot |= unix.PROT_READ
	}
	if access.Write {
		prot |= unix.PROT_WRITE
	}
	return memutil.Protect(b, prot)
}

// Close releases the backing mapping and file.
func (pm *Physmap) Close() error {
	if pm.fd < 0 {
		return nil
	}
	if err := memutil.Unmap(pm.mem); err != nil {
		return err
	}
	pm.mem = nil
	return unix.Close(pm.fd)
}
