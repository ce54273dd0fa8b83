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

//go:build linux || darwin

package segment

import "golang.org/x/sys/unix"

// linux/darwin region backing: anonymous, private mmap; physical release
// via MADV_DONTNEED, which drops the backing pages but leaves the virtual
// mapping intact (see the package doc and §9 of the design notes).

func mapAnon(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
}

func decommitRegion(mem []byte) error {
	return unix.Madvise(mem, unix.MADV_DONTNEED)
}

func unmapRegion(mem []byte) error {
	return unix.Munmap(mem)
}

func protectNone(mem []byte) error {
	return unix.Mprotect(mem, unix.PROT_NONE)
}
