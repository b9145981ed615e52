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
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"ozmem.dev/ozmem/pkg/boot"
	"ozmem.dev/ozmem/pkg/entropy"
	"ozmem.dev/ozmem/pkg/karch"
	"ozmem.dev/ozmem/pkg/pframe"
	"ozmem.dev/ozmem/pkg/vmar"
)

// Boot implements subcommands.Command for the "boot" command.
type Boot struct {
	configPath string
	host       bool
}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "run the memory bootstrap sequence and dump the resulting layout"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot [flags]`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Boot) SetFlags(f *flag.FlagSet) {
	f.StringVar(&b.configPath, "config", "", "TOML machine description; built-in defaults if empty")
	f.BoolVar(&b.host, "host", false, "back simulated physical memory with a shared memory file and apply real page protection")
}

// Execute implements subcommands.Command.Execute.
func (b *Boot) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	mc, err := loadMachineConfig(b.configPath)
	if err != nil {
		logrus.WithError(err).Error("loading configuration")
		return subcommands.ExitFailure
	}

	var pm *pframe.Physmap
	var prot boot.PhysmapProtector = boot.NopProtector{}
	if b.host {
		pm, err = pframe.NewHostPhysmap(mc.physmapSpan().Start, mc.physmapSpan().Length())
		if err != nil {
			logrus.WithError(err).Error("creating host physmap")
			return subcommands.ExitFailure
		}
		defer pm.Close()
		prot = boot.HostProtector{}
	} else {
		pm = pframe.NewPhysmapSlice(mc.physmapSpan().Start, mc.physmapSpan().Length())
	}

	alloc, err := pframe.NewAllocator(mc.arenas, pm)
	if err != nil {
		logrus.WithError(err).Error("creating frame allocator")
		return subcommands.ExitFailure
	}
	root, err := vmar.NewRoot("kernel", karch.KernelSpaceBase, karch.KernelSpaceSize)
	if err != nil {
		logrus.WithError(err).Error("creating root region")
		return subcommands.ExitFailure
	}

	pool := entropy.NewPool(nil)
	seed := make([]byte, entropy.MinEntropyBytes)
	if _, err := unix.Getrandom(seed, 0); err != nil {
		logrus.WithError(err).Error("gathering host entropy")
		return subcommands.ExitFailure
	}
	if err := pool.AddEntropy(seed); err != nil {
		logrus.WithError(err).Error("seeding entropy pool")
		return subcommands.ExitFailure
	}

	// Run halts the process itself on any violation.
	l := boot.Run(mc.boot, alloc, root, pool, prot)

	logrus.WithFields(logrus.Fields{
		"wired": alloc.WiredFrames(),
		"free":  alloc.FreeFrames(),
		"pad":   l.PadPages,
	}).Info("bootstrap complete")
	if err := root.DumpLayout(os.Stdout); err != nil {
		logrus.WithError(err).Error("dumping layout")
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
