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

package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"ozmem.dev/ozmem/pkg/boot"
	"ozmem.dev/ozmem/pkg/karch"
	"ozmem.dev/ozmem/pkg/pframe"
)

// machineConfig is the synthetic machine the boot command runs against.
type machineConfig struct {
	arenas []pframe.Arena
	boot   boot.Config
}

// physmapSpan returns the physical range the simulated physmap window must
// back: from the lowest arena base to the highest arena end.
func (mc *machineConfig) physmapSpan() karch.PaddrRange {
	span := mc.arenas[0].Range()
	for _, a := range mc.arenas[1:] {
		r := a.Range()
		if r.Start < span.Start {
			span.Start = r.Start
		}
		if r.End > span.End {
			span.End = r.End
		}
	}
	return span
}

// machineTOML is the on-disk form of machineConfig.
type machineTOML struct {
	Arena []struct {
		Base  uint64 `toml:"base"`
		Pages uint64 `toml:"pages"`
	} `toml:"arena"`
	BootAlloc struct {
		Start uint64 `toml:"start"`
		End   uint64 `toml:"end"`
	} `toml:"boot_alloc"`
	Physmap struct {
		Base uint64 `toml:"base"`
		Size uint64 `toml:"size"`
	} `toml:"physmap"`
	Segment []struct {
		Name  string `toml:"name"`
		Start uint64 `toml:"start"`
		End   uint64 `toml:"end"`
		Perms string `toml:"perms"`
	} `toml:"segment"`
}

// defaultMachineConfig describes a 16 MiB machine with a conventional
// four-segment kernel image at the arch link base.
func defaultMachineConfig() *machineConfig {
	const arenaBase = karch.Paddr(1 << 20) // leave low memory alone
	const arenaPages = 4096
	img := karch.DefaultKernelImageBase
	return &machineConfig{
		arenas: []pframe.Arena{{Base: arenaBase, Pages: arenaPages}},
		boot: boot.Config{
			// The early boot allocator bump-allocated the first 16 pages.
			BootAlloc: karch.PaddrRange{Start: arenaBase, End: arenaBase + 16*karch.PageSize},
			Segments: []boot.Segment{
				{Name: "code", Start: img, End: img + 0x200000, Perms: karch.ReadExecute},
				{Name: "rodata", Start: img + 0x200000, End: img + 0x280000, Perms: karch.Read},
				{Name: "data", Start: img + 0x280000, End: img + 0x2c0000, Perms: karch.ReadWrite},
				{Name: "bss", Start: img + 0x2c0000, End: img + 0x300000, Perms: karch.ReadWrite},
			},
			PhysmapBase: karch.DefaultPhysmapBase,
			PhysmapSize: karch.DefaultPhysmapSize,
		},
	}
}

// loadMachineConfig reads a TOML machine description, or returns the
// built-in default when path is empty.
func loadMachineConfig(path string) (*machineConfig, error) {
	if path == "" {
		return defaultMachineConfig(), nil
	}
	var mt machineTOML
	if _, err := toml.DecodeFile(path, &mt); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(mt.Arena) == 0 {
		return nil, fmt.Errorf("%s: no arenas defined", path)
	}
	if len(mt.Segment) == 0 {
		return nil, fmt.Errorf("%s: no kernel segments defined", path)
	}

	mc := &machineConfig{}
	for _, a := range mt.Arena {
		mc.arenas = append(mc.arenas, pframe.Arena{Base: karch.Paddr(a.Base), Pages: a.Pages})
	}
	mc.boot = boot.Config{
		BootAlloc:   karch.PaddrRange{Start: karch.Paddr(mt.BootAlloc.Start), End: karch.Paddr(mt.BootAlloc.End)},
		PhysmapBase: karch.Vaddr(mt.Physmap.Base),
		PhysmapSize: mt.Physmap.Size,
	}
	for _, s := range mt.Segment {
		perms, err := parsePerms(s.Perms)
		if err != nil {
			return nil, fmt.Errorf("%s: segment %q: %w", path, s.Name, err)
		}
		mc.boot.Segments = append(mc.boot.Segments, boot.Segment{
			Name:  s.Name,
			Start: karch.Vaddr(s.Start),
			End:   karch.Vaddr(s.End),
			Perms: perms,
		})
	}
	return mc, nil
}

// parsePerms parses an "rwx"-style permission string; dashes are ignored, so
// both "r-x" and "rx" are accepted.
func parsePerms(s string) (karch.AccessType, error) {
	var a karch.AccessType
	for _, c := range strings.ToLower(s) {
		switch c {
		case 'r':
			a.Read = true
		case 'w':
			a.Write = true
		case 'x':
			a.Execute = true
		case '-':
		default:
			return a, fmt.Errorf("bad permission character %q", c)
		}
	}
	return a, nil
}
