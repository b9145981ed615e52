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
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"ozmem.dev/ozmem/pkg/entropy"
	"ozmem.dev/ozmem/pkg/fatal"
	"ozmem.dev/ozmem/pkg/karch"
	"ozmem.dev/ozmem/pkg/pframe"
	"ozmem.dev/ozmem/pkg/vmar"
)

const page = karch.PageSize

// testConfig mirrors a small linked kernel: four segments with a gap between
// rodata and data, an early boot allocator that consumed two pages, and a
// physmap window away from the image.
func testConfig() Config {
	return Config{
		BootAlloc: karch.PaddrRange{Start: 0x2000, End: 0x4000},
		Segments: []Segment{
			{Name: "code", Start: 0x1000, End: 0x3000, Perms: karch.ReadExecute},
			{Name: "rodata", Start: 0x3000, End: 0x3800, Perms: karch.Read},
			{Name: "data", Start: 0x4000, End: 0x5000, Perms: karch.ReadWrite},
			{Name: "bss", Start: 0x5000, End: 0x6000, Perms: karch.ReadWrite},
		},
		PhysmapBase: 0x40000,
		PhysmapSize: 0x10000,
	}
}

func testEnv(t *testing.T) (*pframe.Allocator, *vmar.Region, *entropy.Pool) {
	t.Helper()
	pm := pframe.NewPhysmapSlice(0, 128*page)
	alloc, err := pframe.NewAllocator([]pframe.Arena{{Base: 0, Pages: 128}}, pm)
	if err != nil {
		t.Fatalf("NewAllocator got err %v want nil", err)
	}
	root, err := vmar.NewRoot("kernel", 0, 1<<20)
	if err != nil {
		t.Fatalf("NewRoot got err %v want nil", err)
	}
	pool := entropy.NewPool([]byte("boot test"))
	if err := pool.AddEntropy(make([]byte, entropy.MinEntropyBytes)); err != nil {
		t.Fatalf("AddEntropy got err %v want nil", err)
	}
	return alloc, root, pool
}

func mustBoot(t *testing.T, cfg Config) (*Layout, *pframe.Allocator, *vmar.Region) {
	t.Helper()
	alloc, root, pool := testEnv(t)
	l, err := EarlyInit(alloc, cfg)
	if err != nil {
		t.Fatalf("EarlyInit got err %v want nil", err)
	}
	if err := Init(l, root, alloc, pool, NopProtector{}, cfg); err != nil {
		t.Fatalf("Init got err %v want nil", err)
	}
	return l, alloc, root
}

func TestEarlyInitReconcilesBootAllocator(t *testing.T) {
	cfg := testConfig()
	alloc, _, _ := testEnv(t)
	if _, err := EarlyInit(alloc, cfg); err != nil {
		t.Fatalf("EarlyInit got err %v want nil", err)
	}
	for pa := cfg.BootAlloc.Start; pa < cfg.BootAlloc.End; pa += page {
		if s, ok := alloc.FrameState(pa); !ok || s != pframe.Wired {
			t.Errorf("boot-consumed page %#x state = %v, want wired", uint64(pa), s)
		}
	}
	// Zero page plus two boot pages.
	if got, want := alloc.WiredFrames(), uint64(3); got != want {
		t.Errorf("WiredFrames got %d want %d", got, want)
	}

	// Running the early phase again re-claims wired pages and must abort.
	if _, err := EarlyInit(alloc, cfg); !errors.Is(err, fatal.ErrBadState) {
		t.Errorf("second EarlyInit got err %v want %v", err, fatal.ErrBadState)
	}
}

func TestZeroPageSharing(t *testing.T) {
	cfg := testConfig()
	l, alloc, root := mustBoot(t, cfg)

	// The backing page reads as zero through the physmap window.
	b, err := alloc.View(l.ZeroPage.Address(), page)
	if err != nil {
		t.Fatalf("View got err %v want nil", err)
	}
	if !bytes.Equal(b, make([]byte, page)) {
		t.Error("zero page contains non-zero bytes")
	}

	// Two read-only mappings at different addresses share the frame.
	m1, err := l.MapZeroPage(root, vmar.Opts{Name: "zero1", Base: 0x20000, Fixed: true})
	if err != nil {
		t.Fatalf("MapZeroPage got err %v want nil", err)
	}
	m2, err := l.MapZeroPage(root, vmar.Opts{Name: "zero2", Base: 0x30000, Fixed: true})
	if err != nil {
		t.Fatalf("MapZeroPage got err %v want nil", err)
	}
	if diff := cmp.Diff(m1.Frames(), m2.Frames()); diff != "" {
		t.Errorf("zero page mappings disagree on backing frame (-m1 +m2):\n%s", diff)
	}
	for _, m := range []*vmar.Region{m1, m2} {
		if m.Perms().Write {
			t.Errorf("mapping %q is writable", m.Name())
		}
		content, err := alloc.View(m.Frames()[0].Address(), page)
		if err != nil {
			t.Fatalf("View got err %v want nil", err)
		}
		if !bytes.Equal(content, make([]byte, page)) {
			t.Errorf("mapping %q does not read all-zero", m.Name())
		}
	}

	// There is no writable path to the shared page.
	if _, err := l.MapZeroPage(root, vmar.Opts{Name: "evil", Base: 0x31000, Fixed: true, Perms: karch.ReadWrite}); !errors.Is(err, fatal.ErrBadState) {
		t.Errorf("writable MapZeroPage got err %v want %v", err, fatal.ErrBadState)
	}
}

func TestKernelImageReservation(t *testing.T) {
	cfg := testConfig()
	l, _, _ := mustBoot(t, cfg)

	// The parent spans first segment base to last segment end, gap included.
	if got, want := l.KernelImage.Span(), (karch.VaddrRange{Start: 0x1000, End: 0x6000}); got != want {
		t.Errorf("kernel image span got %v want %v", got, want)
	}
	if got := len(l.Segments); got != 4 {
		t.Fatalf("got %d segment reservations, want 4", got)
	}
	for _, test := range []struct {
		name  string
		span  karch.VaddrRange
		perms karch.AccessType
	}{
		{"kernel.code", karch.VaddrRange{Start: 0x1000, End: 0x3000}, karch.ReadExecute},
		{"kernel.rodata", karch.VaddrRange{Start: 0x3000, End: 0x4000}, karch.Read},
		{"kernel.data", karch.VaddrRange{Start: 0x4000, End: 0x5000}, karch.ReadWrite},
		{"kernel.bss", karch.VaddrRange{Start: 0x5000, End: 0x6000}, karch.ReadWrite},
	} {
		var got *vmar.Region
		for _, s := range l.Segments {
			if s.Name() == test.name {
				got = s
			}
		}
		if got == nil {
			t.Errorf("segment %q not reserved", test.name)
			continue
		}
		if got.Span() != test.span {
			t.Errorf("segment %q span got %v want %v", test.name, got.Span(), test.span)
		}
		if got.Perms() != test.perms {
			t.Errorf("segment %q perms got %v want %v", test.name, got.Perms(), test.perms)
		}
		if got.Kind() != vmar.Reservation {
			t.Errorf("segment %q kind got %v want reservation", test.name, got.Kind())
		}
	}
	for i, a := range l.Segments {
		for _, b := range l.Segments[i+1:] {
			if a.Span().Overlaps(b.Span()) {
				t.Errorf("segments %q and %q overlap", a.Name(), b.Name())
			}
		}
	}
}

func TestImageFootprintIsClosed(t *testing.T) {
	cfg := testConfig()
	l, _, root := mustBoot(t, cfg)

	// The image parent rejects outside placements anywhere in its span,
	// including ranges that fall in inter-segment gaps.
	if _, err := root.Reserve(vmar.Opts{Name: "intruder", Base: 0x2000, Length: page, Fixed: true}); !errors.Is(err, fatal.ErrOverlap) {
		t.Errorf("reservation inside image footprint got err %v want %v", err, fatal.ErrOverlap)
	}
	_ = l
}

func TestPhysmapWindowReserved(t *testing.T) {
	cfg := testConfig()
	l, _, _ := mustBoot(t, cfg)
	want := karch.VaddrRange{Start: cfg.PhysmapBase, End: cfg.PhysmapBase + karch.Vaddr(cfg.PhysmapSize)}
	if got := l.PhysmapWindow.Span(); got != want {
		t.Errorf("physmap window got %v want %v", got, want)
	}
	if l.PhysmapWindow.Kind() != vmar.Reservation {
		t.Errorf("physmap window kind got %v want reservation", l.PhysmapWindow.Kind())
	}
}

func TestPadWithinBound(t *testing.T) {
	cfg := testConfig()
	// Sixteen boots against pools advancing through a fixed entropy stream.
	pool := entropy.NewPool([]byte("fixed aslr seed"))
	if err := pool.AddEntropy(make([]byte, entropy.MinEntropyBytes)); err != nil {
		t.Fatalf("AddEntropy got err %v want nil", err)
	}
	for i := 0; i < 16; i++ {
		pm := pframe.NewPhysmapSlice(0, 128*page)
		alloc, err := pframe.NewAllocator([]pframe.Arena{{Base: 0, Pages: 128}}, pm)
		if err != nil {
			t.Fatalf("NewAllocator got err %v want nil", err)
		}
		root, err := vmar.NewRoot("kernel", 0, 1<<20)
		if err != nil {
			t.Fatalf("NewRoot got err %v want nil", err)
		}
		l, err := EarlyInit(alloc, cfg)
		if err != nil {
			t.Fatalf("EarlyInit got err %v want nil", err)
		}
		if err := Init(l, root, alloc, pool, NopProtector{}, cfg); err != nil {
			t.Fatalf("Init got err %v want nil", err)
		}
		if l.PadPages >= MaxPadPages {
			t.Fatalf("boot %d drew %d pad pages, want < %d", i, l.PadPages, MaxPadPages)
		}
		if l.PadPages == 0 {
			if l.Pad != nil {
				t.Errorf("boot %d has a pad region for zero pages", i)
			}
			continue
		}
		if l.Pad == nil {
			t.Fatalf("boot %d drew %d pad pages but reserved nothing", i, l.PadPages)
		}
		if got, want := l.Pad.Base(), l.KernelImage.Span().End; got != want {
			t.Errorf("boot %d pad base %#x, want image end %#x", i, uint64(got), uint64(want))
		}
		if got, want := l.Pad.Length(), l.PadPages<<karch.PageShift; got != want {
			t.Errorf("boot %d pad length %#x want %#x", i, got, want)
		}
		if l.Pad.Perms().Any() {
			t.Errorf("boot %d pad region has access %v, want none", i, l.Pad.Perms())
		}
	}
}

func TestInitValidatesInputs(t *testing.T) {
	cfg := testConfig()
	alloc, root, pool := testEnv(t)
	l, err := EarlyInit(alloc, cfg)
	if err != nil {
		t.Fatalf("EarlyInit got err %v want nil", err)
	}

	empty := cfg
	empty.Segments = nil
	if err := Init(l, root, alloc, pool, NopProtector{}, empty); !errors.Is(err, fatal.ErrBadState) {
		t.Errorf("Init with empty segment table got err %v want %v", err, fatal.ErrBadState)
	}

	shuffled := cfg
	shuffled.Segments = []Segment{cfg.Segments[2], cfg.Segments[0], cfg.Segments[1], cfg.Segments[3]}
	if err := Init(l, root, alloc, pool, NopProtector{}, shuffled); !errors.Is(err, fatal.ErrBadState) {
		t.Errorf("Init with out-of-order segments got err %v want %v", err, fatal.ErrBadState)
	}

	if err := Init(l, root, alloc, pool, NopProtector{}, cfg); err != nil {
		t.Fatalf("Init got err %v want nil", err)
	}
	if err := Init(l, root, alloc, pool, NopProtector{}, cfg); !errors.Is(err, fatal.ErrBadState) {
		t.Errorf("second Init got err %v want %v", err, fatal.ErrBadState)
	}
}

func TestInitBlocksUntilEntropyArrives(t *testing.T) {
	cfg := testConfig()
	alloc, root, _ := testEnv(t)
	unseeded := entropy.NewPool(nil)
	l, err := EarlyInit(alloc, cfg)
	if err != nil {
		t.Fatalf("EarlyInit got err %v want nil", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- Init(l, root, alloc, unseeded, NopProtector{}, cfg)
	}()
	// Platform entropy arrives while Init is waiting on its draw.
	if err := unseeded.AddEntropy(make([]byte, entropy.MinEntropyBytes)); err != nil {
		t.Fatalf("AddEntropy got err %v want nil", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Init got err %v want nil", err)
	}
}
