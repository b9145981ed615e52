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

// Package boot builds the kernel's permanent address-space layout, exactly
// once per boot.
//
// The sequence is fixed: reconcile the early boot allocator's bookkeeping,
// establish the shared zero page, reserve the kernel image segment by
// segment under one subregion, reserve the physmap window, pad the layout
// with a random number of guard pages, and finally strip access to
// non-arena ranges reachable through the physmap. Each step's postcondition
// is the next step's precondition, and every failure is a violation: a
// partially constructed kernel address space is not safe to continue from.
package boot

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"ozmem.dev/ozmem/pkg/entropy"
	"ozmem.dev/ozmem/pkg/fatal"
	"ozmem.dev/ozmem/pkg/karch"
	"ozmem.dev/ozmem/pkg/pframe"
	"ozmem.dev/ozmem/pkg/vmar"
)

// MaxPadPages bounds the random padding inserted after the kernel image: a
// single drawn byte taken modulo this value. Coarse by design; this
// randomizes boot-time layout, not per-allocation placement.
const MaxPadPages = 16

var log = logrus.WithField("component", "boot")

// Segment describes one loaded program segment of the kernel image, from the
// compiled-in region descriptor table.
type Segment struct {
	// Name labels the segment (code, rodata, data, bss).
	Name string

	// Start and End bound the segment; they are rounded outward to page
	// boundaries before reservation.
	Start karch.Vaddr
	End   karch.Vaddr

	// Perms are the segment's required permissions.
	Perms karch.AccessType
}

// Config carries the compiled-in inputs to the bootstrap sequence. It is
// passed explicitly rather than read from globals so tests can substitute
// alternate descriptor tables.
type Config struct {
	// BootAlloc is the physical range the early boot allocator consumed
	// before this subsystem existed; empty if none.
	BootAlloc karch.PaddrRange

	// Segments is the kernel image descriptor table, in link order.
	Segments []Segment

	// PhysmapBase and PhysmapSize place the direct physical-memory mapping
	// window.
	PhysmapBase karch.Vaddr
	PhysmapSize uint64
}

// Layout records the regions and pages established by bootstrap. It is
// immutable once Init returns.
type Layout struct {
	// ZeroPage is the canonical all-zero page; every later mapping of it
	// must be read-only.
	ZeroPage pframe.Frame

	// KernelImage is the subregion spanning all kernel segments, including
	// inter-segment gaps, so nothing can ever be placed inside the image's
	// footprint.
	KernelImage *vmar.Region

	// Segments are the per-segment reservations under KernelImage, in link
	// order.
	Segments []*vmar.Region

	// PhysmapWindow is the reservation for the direct-mapping window.
	PhysmapWindow *vmar.Region

	// Pad is the randomized guard reservation after the kernel image, or
	// nil if the draw came up zero.
	Pad *vmar.Region

	// PadPages is the number of guard pages drawn.
	PadPages uint64
}

// EarlyInit runs the first bootstrap phase, before the root address space
// exists: it reconciles the early boot allocator's consumption with the
// frame allocator and establishes the zero page.
func EarlyInit(alloc *pframe.Allocator, cfg Config) (*Layout, error) {
	if n := cfg.BootAlloc.Length(); n > 0 {
		pages := (n + karch.PageSize - 1) >> karch.PageShift
		log.WithFields(logrus.Fields{
			"range": cfg.BootAlloc.String(),
			"pages": pages,
		}).Info("reconciling early boot allocator")
		fl, err := alloc.AllocateRange(cfg.BootAlloc.Start, pages)
		if err != nil {
			return nil, err
		}
		if err := alloc.MarkWired(fl); err != nil {
			return nil, err
		}
	}

	fl, pa, err := alloc.AllocatePages(1)
	if err != nil {
		return nil, err
	}
	if err := alloc.MarkWired(fl); err != nil {
		return nil, err
	}
	// The zero page's content is written through the physmap window; the
	// arch layer guarantees that window is usable before bootstrap runs.
	b, err := alloc.View(pa, karch.PageSize)
	if err != nil {
		return nil, err
	}
	clear(b)
	log.WithField("paddr", fmt.Sprintf("%#x", uint64(pa))).Info("zero page established")

	return &Layout{ZeroPage: fl[0]}, nil
}

// Init runs the second bootstrap phase against the root region: kernel image
// reservations, the physmap window, randomized padding and physmap
// protection. EarlyInit must have succeeded first.
func Init(l *Layout, root *vmar.Region, alloc *pframe.Allocator, pool *entropy.Pool, prot PhysmapProtector, cfg Config) error {
	const op = "boot.Init"

	if l.KernelImage != nil {
		return fatal.Newf(op, fatal.ErrBadState, "bootstrap already ran")
	}
	if len(cfg.Segments) == 0 {
		return fatal.Newf(op, fatal.ErrBadState, "empty segment table")
	}
	for i := 1; i < len(cfg.Segments); i++ {
		if cfg.Segments[i].Start < cfg.Segments[i-1].End {
			return fatal.Newf(op, fatal.ErrBadState, "segment table not in link order at %q", cfg.Segments[i].Name)
		}
	}

	// One parent spans from the first segment's base to the last segment's
	// end, gaps included.
	imgStart := cfg.Segments[0].Start.RoundDown()
	imgEnd, ok := cfg.Segments[len(cfg.Segments)-1].End.RoundUp()
	if !ok {
		return fatal.Newf(op, fatal.ErrOverflow, "segment end %#x", uint64(cfg.Segments[len(cfg.Segments)-1].End))
	}
	img, err := root.CreateSubregion(vmar.Opts{
		Name:   "kernel-image",
		Base:   imgStart,
		Length: uint64(imgEnd - imgStart),
		Fixed:  true,
		Perms:  karch.ReadWrite,
	})
	if err != nil {
		return err
	}
	l.KernelImage = img
	log.WithField("span", img.Span().String()).Info("kernel image subregion created")

	for _, seg := range cfg.Segments {
		start := seg.Start.RoundDown()
		end, ok := seg.End.RoundUp()
		if !ok {
			return fatal.Newf(op, fatal.ErrOverflow, "segment %q end %#x", seg.Name, uint64(seg.End))
		}
		res, err := img.Reserve(vmar.Opts{
			Name:   "kernel." + seg.Name,
			Base:   start,
			Length: uint64(end - start),
			Fixed:  true,
			Perms:  seg.Perms,
		})
		if err != nil {
			return err
		}
		l.Segments = append(l.Segments, res)
		log.WithFields(logrus.Fields{
			"segment": seg.Name,
			"span":    res.Span().String(),
			"perms":   seg.Perms.String(),
		}).Info("kernel segment reserved")
	}

	win, err := root.Reserve(vmar.Opts{
		Name:   "physmap",
		Base:   cfg.PhysmapBase,
		Length: cfg.PhysmapSize,
		Fixed:  true,
		Perms:  karch.ReadWrite,
	})
	if err != nil {
		return err
	}
	l.PhysmapWindow = win
	log.WithField("span", win.Span().String()).Info("physmap window reserved")

	// A single byte of entropy, modulo a small bound, sizes the guard
	// reservation after the image.
	var raw [1]byte
	if err := pool.Draw(raw[:]); err != nil {
		return err
	}
	l.PadPages = uint64(raw[0]) % MaxPadPages
	if l.PadPages > 0 {
		pad, err := root.Reserve(vmar.Opts{
			Name:   "aslr-pad",
			Base:   img.Span().End,
			Length: l.PadPages << karch.PageShift,
			Fixed:  true,
			Perms:  karch.NoAccess,
		})
		if err != nil {
			return err
		}
		l.Pad = pad
	}
	log.WithField("pages", l.PadPages).Info("layout padding drawn")

	if err := prot.ProtectNonArena(alloc); err != nil {
		return fatal.New(op, err)
	}
	log.Info("non-arena physmap ranges protected")
	return nil
}

// MapZeroPage maps the shared zero page read-only at a new leaf under
// parent. The backing physical page is shared by every such mapping, so a
// writable mapping is an invariant violation, not an option.
func (l *Layout) MapZeroPage(parent *vmar.Region, opts vmar.Opts) (*vmar.Region, error) {
	if opts.Perms.Write {
		return nil, fatal.Newf("boot.MapZeroPage", fatal.ErrBadState, "zero page mappings must be read-only")
	}
	opts.Perms = karch.Read
	opts.Length = karch.PageSize
	return parent.CreateMapping(opts, pframe.FrameList{l.ZeroPage})
}

// Run executes both bootstrap phases and applies the single top-level
// policy: any violation halts the process. Tests drive EarlyInit and Init
// directly instead and observe violations as error values.
func Run(cfg Config, alloc *pframe.Allocator, root *vmar.Region, pool *entropy.Pool, prot PhysmapProtector) *Layout {
	l, err := EarlyInit(alloc, cfg)
	if err != nil {
		log.WithError(err).Fatal("early memory bootstrap failed")
	}
	if err := Init(l, root, alloc, pool, prot, cfg); err != nil {
		log.WithError(err).Fatal("memory bootstrap failed")
	}
	return l
}
