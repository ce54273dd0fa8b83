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

package segment

import "sync/atomic"

const (
	minRegionBytes = 1 << 20 // 1 MiB
	maxRegionBytes = 8 << 20 // 8 MiB
	targetSlices   = 32
)

// region is one mmap'd block sliced into equal-sized segments for a
// single size class. Regions are never unmapped except at Allocator
// shutdown: a Segment handle obtained while the region was mapped remains
// a valid (if possibly physically-absent) address for the process
// lifetime, so a cached Segment can never become a dangling pointer.
type region struct {
	mem          []byte
	class        SizeClass
	totalSlices  int32
	unusedSlices atomic.Int32
	// reclaimed marks that this region's physical backing has already
	// been handed back to the OS via decommitRegion; cleared the moment
	// any one of its slices is popped back out of the free list, so a
	// later full-release cycle can be reclaimed again.
	reclaimed atomic.Bool
}

// slicesForRegion picks a slice count targeting ~32 slices per region,
// with the resulting region size clamped to [1 MiB, 8 MiB].
func slicesForRegion(sliceSize int) int {
	n := targetSlices
	if n*sliceSize < minRegionBytes {
		n = minRegionBytes / sliceSize
	}
	if n*sliceSize > maxRegionBytes {
		n = maxRegionBytes / sliceSize
	}
	if n < 1 {
		n = 1
	}
	return n
}

func regionBytes(class SizeClass) int64 {
	return int64(slicesForRegion(class.Bytes()) * class.Bytes())
}

// newRegion maps a fresh region for class and slices it into segments,
// returning the region and the list of Segment handles carved from it.
func newRegion(class SizeClass) (*region, []*Segment, error) {
	sliceSize := class.Bytes()
	n := slicesForRegion(sliceSize)
	mem, err := mapRegion(n * sliceSize)
	if err != nil {
		return nil, nil, err
	}
	r := &region{
		mem:         mem,
		class:       class,
		totalSlices: int32(n),
	}
	r.unusedSlices.Store(int32(n))
	segs := make([]*Segment, n)
	for i := 0; i < n; i++ {
		segs[i] = &Segment{
			mem:    mem[i*sliceSize : (i+1)*sliceSize : (i+1)*sliceSize],
			class:  class,
			region: r,
		}
	}
	return r, segs, nil
}
