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

//go:build segfence

package segment

const guardPageBytes = 4096

// mapRegion maps the region's bytes plus one trailing guard page that is
// immediately protected against all access. Any write that walks off the
// end of the last slot in a region (a slot-bounds bug the kind C2's
// getRecord/putRecord checks exist to prevent) faults instead of silently
// corrupting whatever mapping happens to follow in the address space.
//
// This is the per-region generalization of the teacher's vmfence.go,
// which guards the tail of a single fixed-size VM arena; here every
// region gets its own trailing guard since there are many regions of
// varying size rather than one.
func mapRegion(size int) ([]byte, error) {
	mem, err := mapAnon(size + guardPageBytes)
	if err != nil {
		return nil, err
	}
	if err := protectNone(mem[size:]); err != nil {
		return nil, err
	}
	return mem[:size:size], nil
}
