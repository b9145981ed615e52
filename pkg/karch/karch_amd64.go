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

//go:build amd64
// +build amd64

package karch

const (
	// KernelSpaceBase is the lowest canonical upper-half address; the root
	// kernel region spans [KernelSpaceBase, KernelSpaceBase+KernelSpaceSize).
	KernelSpaceBase Vaddr = 0xffff_8000_0000_0000

	// KernelSpaceSize is the span of the root kernel region: the whole upper
	// half, less one page so that the exclusive end stays representable.
	KernelSpaceSize uint64 = 1<<47 - PageSize

	// DefaultPhysmapBase is where the direct physical-memory mapping window
	// is placed unless the boot configuration overrides it.
	DefaultPhysmapBase Vaddr = 0xffff_9000_0000_0000

	// DefaultPhysmapSize covers 64 GiB of physical address space, enough for
	// every arena this subsystem is asked to manage.
	DefaultPhysmapSize uint64 = 1 << 36

	// DefaultKernelImageBase is the link-time base of the kernel image.
	DefaultKernelImageBase Vaddr = 0xffff_ffff_8010_0000
)
