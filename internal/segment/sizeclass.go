// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package segment implements the native memory segment allocator: a
// fixed-budget, size-classed slab allocator backed by anonymous mmap
// regions, with physical memory released (via MADV_DONTNEED or the
// platform equivalent) only under budget pressure and never eagerly.
package segment

import "fmt"

// SizeClass identifies one of the seven fixed slab sizes the allocator
// serves. It is not user-overridable (see Config.validate).
type SizeClass int

const (
	Class4K SizeClass = iota
	Class8K
	Class16K
	Class32K
	Class64K
	Class128K
	Class256K
	numClasses
)

// classSizes holds the byte size of each SizeClass, in ascending order.
var classSizes = [numClasses]int{
	Class4K:   4 << 10,
	Class8K:   8 << 10,
	Class16K:  16 << 10,
	Class32K:  32 << 10,
	Class64K:  64 << 10,
	Class128K: 128 << 10,
	Class256K: 256 << 10,
}

// Bytes returns the slab size in bytes for c.
func (c SizeClass) Bytes() int { return classSizes[c] }

func (c SizeClass) String() string {
	if c < 0 || c >= numClasses {
		return fmt.Sprintf("SizeClass(%d)", int(c))
	}
	return fmt.Sprintf("%dK", classSizes[c]>>10)
}

// LargestClass is the largest size class served by the allocator; the
// physical budget must be a positive multiple of its size.
const LargestClass = Class256K

// ClassForSize returns the smallest size class whose Bytes() is >= n, and
// false if n exceeds the largest size class.
func ClassForSize(n int) (SizeClass, bool) {
	for c := SizeClass(0); c < numClasses; c++ {
		if classSizes[c] >= n {
			return c, true
		}
	}
	return 0, false
}
