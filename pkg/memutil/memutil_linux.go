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

// Package memutil provides the shared memory file that stands in for
// physical RAM when the subsystem runs hosted: page frames are offsets into
// the file, and the mapped slice is the direct physical-memory window.
package memutil

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// CreateMemFD creates an anonymous memory file of the given size and returns
// its file descriptor.
func CreateMemFD(name string, size uint64) (int, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return -1, fmt.Errorf("memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("ftruncate: %w", err)
	}
	return fd, nil
}

// MapShared maps size bytes of fd read-write shared and returns the mapping
// as a slice.
func MapShared(fd int, size uint64) ([]byte, error) {
	m, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return m, nil
}

// Unmap unmaps a mapping returned by MapShared.
func Unmap(m []byte) error {
	return unix.Munmap(m)
}

// Protect changes the protection of a page-aligned subslice of a mapping.
// prot is a unix.PROT_* bitmask.
func Protect(m []byte, prot int) error {
	return unix.Mprotect(m, prot)
}
