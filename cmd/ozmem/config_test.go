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
	"os"
	"path/filepath"
	"testing"

	"ozmem.dev/ozmem/pkg/karch"
)

func TestParsePerms(t *testing.T) {
	for _, test := range []struct {
		in      string
		want    karch.AccessType
		wantErr bool
	}{
		{"r-x", karch.ReadExecute, false},
		{"rx", karch.ReadExecute, false},
		{"rw-", karch.ReadWrite, false},
		{"---", karch.NoAccess, false},
		{"", karch.NoAccess, false},
		{"rq", karch.AccessType{}, true},
	} {
		got, err := parsePerms(test.in)
		if (err != nil) != test.wantErr {
			t.Errorf("parsePerms(%q) err = %v, wantErr %t", test.in, err, test.wantErr)
			continue
		}
		if err == nil && got != test.want {
			t.Errorf("parsePerms(%q) = %v, want %v", test.in, got, test.want)
		}
	}
}

func TestLoadMachineConfig(t *testing.T) {
	const doc = `
[[arena]]
base = 0x100000
pages = 256

[boot_alloc]
start = 0x100000
end = 0x104000

[physmap]
base = 0xffff900000000000
size = 0x40000000

[[segment]]
name = "code"
start = 0xffffffff80100000
end = 0xffffffff80180000
perms = "r-x"

[[segment]]
name = "data"
start = 0xffffffff80180000
end = 0xffffffff801c0000
perms = "rw-"
`
	path := filepath.Join(t.TempDir(), "machine.toml")
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("WriteFile got err %v want nil", err)
	}
	mc, err := loadMachineConfig(path)
	if err != nil {
		t.Fatalf("loadMachineConfig got err %v want nil", err)
	}
	if len(mc.arenas) != 1 || mc.arenas[0].Pages != 256 {
		t.Errorf("arenas = %+v, want one 256-page arena", mc.arenas)
	}
	if got, want := mc.boot.BootAlloc.Length(), uint64(0x4000); got != want {
		t.Errorf("boot alloc length got %#x want %#x", got, want)
	}
	if len(mc.boot.Segments) != 2 || mc.boot.Segments[1].Perms != karch.ReadWrite {
		t.Errorf("segments = %+v, want code/data with data rw-", mc.boot.Segments)
	}
	if got, want := mc.physmapSpan(), (karch.PaddrRange{Start: 0x100000, End: 0x100000 + 256*karch.PageSize}); got != want {
		t.Errorf("physmapSpan got %v want %v", got, want)
	}
}

func TestDefaultMachineConfigBoots(t *testing.T) {
	mc := defaultMachineConfig()
	if len(mc.boot.Segments) == 0 || len(mc.arenas) == 0 {
		t.Fatal("default config is incomplete")
	}
	for i := 1; i < len(mc.boot.Segments); i++ {
		if mc.boot.Segments[i].Start < mc.boot.Segments[i-1].End {
			t.Errorf("default segments out of link order at %q", mc.boot.Segments[i].Name)
		}
	}
	if !mc.physmapSpan().IsSupersetOf(mc.boot.BootAlloc) {
		t.Error("default boot-alloc range outside the backed physical span")
	}
}
