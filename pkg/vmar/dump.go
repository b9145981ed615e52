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

package vmar

import (
	"fmt"
	"io"
	"strings"
)

// Walk visits r and every descendant in address order, passing the nesting
// depth relative to r.
func (r *Region) Walk(fn func(region *Region, depth int)) {
	r.walk(fn, 0)
}

func (r *Region) walk(fn func(*Region, int), depth int) {
	fn(r, depth)
	for _, c := range r.Children() {
		c.walk(fn, depth+1)
	}
}

// DumpLayout writes a /proc/[pid]/maps-style rendering of the tree rooted at
// r, one line per region, indented by depth.
func (r *Region) DumpLayout(w io.Writer) error {
	var err error
	r.Walk(func(region *Region, depth int) {
		if err != nil {
			return
		}
		_, err = fmt.Fprintf(w, "%s%016x-%016x %s %-11s %s\n",
			strings.Repeat("  ", depth),
			uint64(region.span.Start), uint64(region.span.End),
			region.perms, region.kind, region.name)
	})
	return err
}
